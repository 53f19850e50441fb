package bolt

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"dbcs/internal/logging"
	"dbcs/internal/store"

	bolt "go.etcd.io/bbolt"
)

var logger = logging.For("store")

// Options tunes how the data file inside a store directory is opened.
type Options struct {
	File    string
	Timeout time.Duration
	NoSync  bool
	Mode    os.FileMode
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		File:    "store.db",
		Timeout: time.Second,
		Mode:    0600,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.File == "" {
		o.File = d.File
	}
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	if o.Mode == 0 {
		o.Mode = d.Mode
	}
	return o
}

func (o Options) dataFile(dir string) string {
	return filepath.Join(dir, o.File)
}

// Partition implements store.Partition. It is a plain value naming a
// top-level bucket.
type Partition struct {
	name string
}

func (p Partition) Name() string { return p.name }

// Store implements store.Store using bbolt (embedded B+ tree).
type Store struct {
	db   *bolt.DB
	path string

	mu         sync.RWMutex
	partitions []store.Partition
	closed     bool
}

var _ store.Store = (*Store)(nil)

// ListPartitions inspects the store in dir without opening it for writing
// and returns its partition names in key order.
func ListPartitions(dir string, opts Options) ([]string, error) {
	opts = opts.withDefaults()
	path := opts.dataFile(dir)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", store.ErrStoreUnreadable, dir, err)
	}

	db, err := bolt.Open(path, opts.Mode, &bolt.Options{ReadOnly: true, Timeout: opts.Timeout})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", store.ErrStoreUnreadable, dir, err)
	}
	defer db.Close()

	var names []string
	err = db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			names = append(names, string(name))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: listing partitions: %v", store.ErrStoreUnreadable, err)
	}
	logger.Debug("listed partitions", "path", dir, "partitions", names)
	return names, nil
}

// Open opens the store in dir for reading and writing and resolves a handle
// for every name in names plus the default partition. The returned Store
// owns the database until Close.
func Open(dir string, names []string, opts Options) (*Store, error) {
	opts = opts.withDefaults()
	db, err := bolt.Open(opts.dataFile(dir), opts.Mode, &bolt.Options{Timeout: opts.Timeout, NoSync: opts.NoSync})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", store.ErrStoreOpenFailed, dir, err)
	}

	s := &Store{db: db, path: dir}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(store.DefaultPartition)); err != nil {
			return fmt.Errorf("creating default partition: %w", err)
		}
		seen := map[string]bool{}
		for _, name := range append([]string{store.DefaultPartition}, names...) {
			if seen[name] {
				continue
			}
			seen[name] = true
			if tx.Bucket([]byte(name)) == nil {
				return fmt.Errorf("%w: %q", store.ErrNoSuchPartition, name)
			}
			s.partitions = append(s.partitions, Partition{name: name})
			logger.Debug("got partition", "partition", name)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", store.ErrStoreOpenFailed, err)
	}
	return s, nil
}

// CreateFresh destroys any store in dir and creates an empty one holding
// only the default partition.
func CreateFresh(dir string, opts Options) (*Store, error) {
	if _, err := os.Stat(dir); err == nil {
		if err := os.RemoveAll(dir); err != nil {
			return nil, fmt.Errorf("removing existing store: %w", err)
		}
		logger.Info("removed existing store", "path", dir)
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating store dir: %w", err)
	}
	return Open(dir, nil, opts)
}

// Path returns the store directory.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) Partitions() []store.Partition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.Partition, len(s.partitions))
	copy(out, s.partitions)
	return out
}

func (s *Store) Partition(name string) (store.Partition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.partitions {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}

func (s *Store) Snapshot(p store.Partition) (store.Snapshot, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	rows := make(store.Snapshot)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(p.Name()))
		if b == nil {
			return fmt.Errorf("%w: %w: %q", store.ErrScanFailed, store.ErrNoSuchPartition, p.Name())
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if v == nil {
				return fmt.Errorf("%w: nested bucket %q in partition %q", store.ErrScanFailed, k, p.Name())
			}
			val := make([]byte, len(v))
			copy(val, v)
			rows[string(k)] = val
		}
		return nil
	})
	logger.Debug("scanned partition", "partition", p.Name(), "rows", len(rows))
	return rows, err
}

func (s *Store) Put(p store.Partition, key, value []byte) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(p.Name()))
		if b == nil {
			return fmt.Errorf("%w: %q", store.ErrNoSuchPartition, p.Name())
		}
		if b.Get(key) == nil {
			return fmt.Errorf("%w: %q", store.ErrNoSuchKey, key)
		}
		return b.Put(key, value)
	})
	if err != nil {
		return fmt.Errorf("%w: partition %q: %w", store.ErrWriteFailed, p.Name(), err)
	}
	return nil
}

func (s *Store) Insert(p store.Partition, key, value []byte) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(p.Name()))
		if b == nil {
			return fmt.Errorf("%w: %q", store.ErrNoSuchPartition, p.Name())
		}
		return b.Put(key, value)
	})
	if err != nil {
		return fmt.Errorf("%w: partition %q: %w", store.ErrWriteFailed, p.Name(), err)
	}
	return nil
}

func (s *Store) CreatePartition(name string) (store.Partition, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucket([]byte(name))
		return err
	})
	if err != nil {
		if errors.Is(err, bolt.ErrBucketExists) {
			return nil, fmt.Errorf("partition %q already exists: %w", name, err)
		}
		return nil, fmt.Errorf("creating partition %q: %w", name, err)
	}
	p := Partition{name: name}
	s.mu.Lock()
	s.partitions = append(s.partitions, p)
	s.mu.Unlock()
	logger.Info("created partition", "partition", name)
	return p, nil
}

// Close releases the database. It is safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return store.ErrClosed
	}
	return nil
}
