package checksum

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dbcs/internal/store"
	boltstore "dbcs/internal/store/bolt"
)

// Report summarizes a transform.
type Report struct {
	Partitions int
	Rows       int
	Batches    int
	Hashed     int
	ScanErrors int
	Elapsed    time.Duration
}

// Run lists the partitions of the store in dir, opens it and replaces every
// value with its Digest. The store is closed on every return path.
func Run(ctx context.Context, dir string, storeOpts boltstore.Options, opts Options) (Report, error) {
	names, err := boltstore.ListPartitions(dir, storeOpts)
	if err != nil {
		return Report{}, err
	}
	st, err := boltstore.Open(dir, names, storeOpts)
	if err != nil {
		return Report{}, err
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			logger.Error("closing store", "path", dir, "err", cerr)
		}
	}()
	return Transform(ctx, st, opts)
}

// Transform snapshots every partition of st, submits its batches to one
// shared Dispatcher and waits once for all of them. A failed scan is
// logged and the rows read before the failure are still hashed.
func Transform(ctx context.Context, st store.Store, opts Options) (Report, error) {
	start := time.Now()
	d := New(ctx, st, opts)
	opts = d.Options()

	var report Report
	for _, p := range st.Partitions() {
		if d.Stopped() {
			logger.Warn("stopping before partition", "partition", p.Name())
			break
		}
		logger.Debug("rewrite partition", "partition", p.Name())
		rows, err := st.Snapshot(p)
		if err != nil {
			if !errors.Is(err, store.ErrScanFailed) {
				_, waitErr := d.Wait()
				return report, errors.Join(fmt.Errorf("snapshot %q: %w", p.Name(), err), waitErr)
			}
			report.ScanErrors++
			logger.Error("scan failed", "partition", p.Name(), "rows", len(rows), "err", err)
		}
		report.Partitions++
		report.Rows += len(rows)

		for _, b := range Batches(rows, opts.BatchSize) {
			if !d.Submit(p, b) {
				break
			}
			report.Batches++
		}
	}

	stats, err := d.Wait()
	report.Hashed = stats.Hashed
	report.Elapsed = time.Since(start)
	if err != nil {
		logger.Error("transform failed", "hashed", report.Hashed, "rows", report.Rows, "err", err)
		return report, err
	}
	logger.Info("transform complete",
		"partitions", report.Partitions,
		"rows", report.Rows,
		"batches", report.Batches,
		"scan_errors", report.ScanErrors,
		"elapsed", report.Elapsed)
	return report, nil
}
