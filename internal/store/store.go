package store

import "errors"

// DefaultPartition is the partition every store carries, whether or not
// it was named when the store was opened.
const DefaultPartition = "default"

var (
	ErrStoreUnreadable = errors.New("store unreadable")
	ErrStoreOpenFailed = errors.New("store open failed")
	ErrScanFailed      = errors.New("partition scan failed")
	ErrWriteFailed     = errors.New("write failed")
	ErrNoSuchPartition = errors.New("partition does not exist")
	ErrNoSuchKey       = errors.New("key does not exist")
	ErrClosed          = errors.New("store closed")
)

// Partition is a handle to a named partition of an open Store.
// Handles are owned by the Store that produced them and stay valid until
// that Store is closed.
type Partition interface {
	Name() string
}

// Snapshot is a point-in-time copy of every row in one partition.
// Iteration order is whatever the map yields and must not be relied on.
type Snapshot map[string][]byte

// Store is an abstract partitioned key-value storage interface.
// The implementation uses bbolt, with one top-level bucket per partition.
type Store interface {
	// Partitions returns the handles resolved when the store was opened,
	// plus any created since.
	Partitions() []Partition
	Partition(name string) (Partition, bool)
	// Snapshot scans the partition from its first key. On ErrScanFailed the
	// rows collected before the failure are returned alongside the error.
	Snapshot(p Partition) (Snapshot, error)
	// Put overwrites an existing key. It never creates one.
	Put(p Partition, key, value []byte) error
	// Insert writes a key whether or not it exists.
	Insert(p Partition, key, value []byte) error
	CreatePartition(name string) (Partition, error)
	Close() error
}
