package checksum

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"dbcs/internal/store"
	boltstore "dbcs/internal/store/bolt"
)

type storeModel map[string]map[string]string

// newStore builds a store in a temp dir populated from model.
func newStore(t *testing.T, model storeModel) (*boltstore.Store, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "store")
	st, err := boltstore.CreateFresh(dir, boltstore.Options{NoSync: true})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	for name, rows := range model {
		p, ok := st.Partition(name)
		if !ok {
			if p, err = st.CreatePartition(name); err != nil {
				t.Fatal(err)
			}
		}
		for k, v := range rows {
			if err := st.Insert(p, []byte(k), []byte(v)); err != nil {
				t.Fatal(err)
			}
		}
	}
	return st, dir
}

// reopen opens the store in dir again after its creator closed it.
func reopen(t *testing.T, dir string) *boltstore.Store {
	t.Helper()
	names, err := boltstore.ListPartitions(dir, boltstore.Options{})
	if err != nil {
		t.Fatal(err)
	}
	st, err := boltstore.Open(dir, names, boltstore.Options{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func dump(t *testing.T, st store.Store) storeModel {
	t.Helper()
	out := storeModel{}
	for _, p := range st.Partitions() {
		rows, err := st.Snapshot(p)
		if err != nil {
			t.Fatalf("snapshot %s: %v", p.Name(), err)
		}
		m := map[string]string{}
		for k, v := range rows {
			m[k] = string(v)
		}
		out[p.Name()] = m
	}
	return out
}

// digests returns model with every value replaced by its Digest.
func digests(model storeModel) storeModel {
	out := storeModel{}
	for name, rows := range model {
		m := map[string]string{}
		for k, v := range rows {
			m[k] = Digest([]byte(k), []byte(v))
		}
		out[name] = m
	}
	return out
}

func generated(partitions, rows int) storeModel {
	model := storeModel{store.DefaultPartition: {}}
	for p := 0; p < partitions; p++ {
		name := fmt.Sprintf("part-%d", p)
		model[name] = map[string]string{}
		for r := 0; r < rows; r++ {
			model[name][fmt.Sprintf("k%02d", r)] = fmt.Sprintf("v%d-%d", p, r)
		}
	}
	return model
}

var errInjected = errors.New("injected failure")

// faultyStore wraps a store to inject write and scan failures and to
// observe how many puts run at once.
type faultyStore struct {
	store.Store
	failKey  string
	scanFail string
	delay    time.Duration
	// openFail makes the n-th Snapshot call (1-based) fail outright.
	openFail int

	snapshots   atomic.Int64

	puts        atomic.Int64
	inflight    atomic.Int64
	maxInflight atomic.Int64
}

func (f *faultyStore) Put(p store.Partition, key, value []byte) error {
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		m := f.maxInflight.Load()
		if n <= m || f.maxInflight.CompareAndSwap(m, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.failKey != "" && string(key) == f.failKey {
		return fmt.Errorf("%w: %w", store.ErrWriteFailed, errInjected)
	}
	f.puts.Add(1)
	return f.Store.Put(p, key, value)
}

func (f *faultyStore) Snapshot(p store.Partition) (store.Snapshot, error) {
	if n := f.snapshots.Add(1); f.openFail > 0 && int(n) == f.openFail {
		return nil, fmt.Errorf("reading %s: %w", p.Name(), errInjected)
	}
	rows, err := f.Store.Snapshot(p)
	if err == nil && p.Name() == f.scanFail {
		return rows, fmt.Errorf("%w: %w", store.ErrScanFailed, errInjected)
	}
	return rows, err
}
