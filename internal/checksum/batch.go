package checksum

import "dbcs/internal/store"

// Row is one key/value pair taken from a snapshot.
type Row struct {
	Key   []byte
	Value []byte
}

// Batch is a run of rows from a single partition, hashed as one unit of work.
type Batch []Row

// Batches splits s into batches of size rows, walking the snapshot in map
// order. Every row lands in exactly one batch; only the last batch may be
// short. Which rows share a batch is unspecified and changes between calls.
func Batches(s store.Snapshot, size int) []Batch {
	if size < 1 {
		panic("checksum: batch size must be positive")
	}
	if len(s) == 0 {
		return nil
	}

	batches := make([]Batch, 0, (len(s)+size-1)/size)
	current := make(Batch, 0, size)
	counter := 0
	for k, v := range s {
		current = append(current, Row{Key: []byte(k), Value: v})
		counter++
		if counter%size == 0 {
			batches = append(batches, current)
			current = make(Batch, 0, size)
		}
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}
