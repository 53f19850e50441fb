package checksum

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"

	"dbcs/internal/logging"
	"dbcs/internal/store"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

var logger = logging.For("checksum")

// Options controls how much hashing runs at once and how rows are grouped.
type Options struct {
	Workers   int
	BatchSize int
}

// DefaultOptions returns one worker per CPU and batches of 4 rows.
func DefaultOptions() Options {
	return Options{Workers: runtime.NumCPU(), BatchSize: 4}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Workers < 1 {
		o.Workers = d.Workers
	}
	if o.BatchSize < 1 {
		o.BatchSize = d.BatchSize
	}
	return o
}

// Dispatcher runs batches against a shared store on a fixed number of
// worker slots. Submit never blocks; Wait is the only barrier. A
// Dispatcher is single-use: once Wait returns it accepts no more work.
//
// The first write failure cancels the group. Batches that have not started
// are skipped and running batches stop before their next row. Rows already
// written stay written.
type Dispatcher struct {
	st     store.Store
	opts   Options
	parent context.Context
	ctx    context.Context
	group  *errgroup.Group
	slots  *semaphore.Weighted

	submitted atomic.Int64
	completed atomic.Int64
	hashed    atomic.Int64
}

// New returns a Dispatcher writing to st. Canceling ctx stops scheduling
// the same way a write failure does.
func New(ctx context.Context, st store.Store, opts Options) *Dispatcher {
	opts = opts.withDefaults()
	group, gctx := errgroup.WithContext(ctx)
	return &Dispatcher{
		st:     st,
		opts:   opts,
		parent: ctx,
		ctx:    gctx,
		group:  group,
		slots:  semaphore.NewWeighted(int64(opts.Workers)),
	}
}

// Options returns the effective options.
func (d *Dispatcher) Options() Options {
	return d.opts
}

// Stopped reports whether a fatal error or cancellation has been observed.
// Callers should stop submitting once it returns true.
func (d *Dispatcher) Stopped() bool {
	return d.ctx.Err() != nil
}

// Submit schedules b for partition p. It reports false, without scheduling,
// when the dispatcher has already stopped.
func (d *Dispatcher) Submit(p store.Partition, b Batch) bool {
	if d.Stopped() {
		return false
	}
	d.submitted.Add(1)
	d.group.Go(func() error {
		if err := d.slots.Acquire(d.ctx, 1); err != nil {
			logger.Debug("skipped batch", "partition", p.Name(), "rows", len(b))
			return nil
		}
		defer d.slots.Release(1)
		done, err := d.hash(p, b)
		if done {
			d.completed.Add(1)
		}
		return err
	})
	return true
}

// hash writes the digest of every row in b, in order. It reports whether
// the whole batch was written.
func (d *Dispatcher) hash(p store.Partition, b Batch) (bool, error) {
	for _, row := range b {
		if d.ctx.Err() != nil {
			return false, nil
		}
		sum := Digest(row.Key, row.Value)
		if err := d.st.Put(p, row.Key, []byte(sum)); err != nil {
			logger.Error("write failed", "partition", p.Name(), "key", string(row.Key), "err", err)
			return false, fmt.Errorf("hashing %q in partition %q: %w", row.Key, p.Name(), err)
		}
		d.hashed.Add(1)
		logger.Info("hashed row", "partition", p.Name(), "key", string(row.Key))
		logger.Debug("put", "partition", p.Name(), "key", string(row.Key), "digest", sum)
	}
	return true, nil
}

// Stats counts the work a Dispatcher has seen so far.
type Stats struct {
	Submitted int
	Completed int
	Hashed    int
}

// Wait blocks until every submitted batch has finished or been skipped and
// returns the first fatal error. If the parent context was canceled and no
// write failed, the context's error is returned.
func (d *Dispatcher) Wait() (Stats, error) {
	err := d.group.Wait()
	if err == nil {
		err = d.parent.Err()
	}
	return d.Stats(), err
}

func (d *Dispatcher) Stats() Stats {
	return Stats{
		Submitted: int(d.submitted.Load()),
		Completed: int(d.completed.Load()),
		Hashed:    int(d.hashed.Load()),
	}
}
