// Package fixture fills a fresh store with random partitions and rows for
// exercising the checksum transform.
package fixture

import (
	"fmt"
	"math/rand/v2"

	"dbcs/internal/logging"
	"dbcs/internal/store"
	boltstore "dbcs/internal/store/bolt"
)

var logger = logging.For("fixture")

const alphabet = "1234567890_qwertyuiopasdfghjklzxcvbnmQWERTYUIOPASDFGHJKLZXCVBNM"

// Options bounds the shape of a generated store.
type Options struct {
	MinPartitions, MaxPartitions int
	MinRows, MaxRows             int
	NameLen, KeyLen, ValueLen    int
}

func DefaultOptions() Options {
	return Options{
		MinPartitions: 1, MaxPartitions: 5,
		MinRows: 5, MaxRows: 25,
		NameLen: 5, KeyLen: 5, ValueLen: 10,
	}
}

// Summary maps each partition to the number of rows it holds.
type Summary map[string]int

// Generate destroys any store at dir and creates one with a random number
// of named partitions, filling the default partition and each named one.
func Generate(dir string, storeOpts boltstore.Options, opts Options, rng *rand.Rand) (Summary, error) {
	st, err := boltstore.CreateFresh(dir, storeOpts)
	if err != nil {
		return nil, err
	}
	defer st.Close()

	parts, err := fillPartitions(st, opts, rng)
	if err != nil {
		return nil, err
	}
	def, _ := st.Partition(store.DefaultPartition)

	summary := Summary{}
	for _, p := range append([]store.Partition{def}, parts...) {
		n, err := fillRows(st, p, opts, rng)
		if err != nil {
			return nil, err
		}
		summary[p.Name()] = n
	}
	return summary, nil
}

func fillPartitions(st store.Store, opts Options, rng *rand.Rand) ([]store.Partition, error) {
	count := between(rng, opts.MinPartitions, opts.MaxPartitions)
	parts := make([]store.Partition, 0, count)
	for len(parts) < count {
		name := RandomString(rng, opts.NameLen)
		if _, exists := st.Partition(name); exists {
			continue
		}
		p, err := st.CreatePartition(name)
		if err != nil {
			return nil, fmt.Errorf("fixture: %w", err)
		}
		parts = append(parts, p)
	}
	return parts, nil
}

// fillRows writes a random number of rows to p and returns how many
// distinct keys it holds afterwards.
func fillRows(st store.Store, p store.Partition, opts Options, rng *rand.Rand) (int, error) {
	logger.Debug("fill partition", "partition", p.Name())
	count := between(rng, opts.MinRows, opts.MaxRows)
	keys := map[string]bool{}
	for i := 0; i < count; i++ {
		key := RandomString(rng, opts.KeyLen)
		value := RandomString(rng, opts.ValueLen)
		if err := st.Insert(p, []byte(key), []byte(value)); err != nil {
			return 0, fmt.Errorf("fixture: %w", err)
		}
		keys[key] = true
		logger.Debug("insert", "partition", p.Name(), "key", key, "value", value)
	}
	return len(keys), nil
}

func between(rng *rand.Rand, lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + rng.IntN(hi-lo+1)
}

// RandomString returns n characters drawn from the fixture alphabet.
func RandomString(rng *rand.Rand, n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[rng.IntN(len(alphabet))]
	}
	return string(b)
}
