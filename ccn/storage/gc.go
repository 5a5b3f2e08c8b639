package storage

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/aleph-im/go-aleph/async"
	"github.com/aleph-im/go-aleph/ccn/db/iface"
)

// GCConfig options for the garbage collector.
type GCConfig struct {
	DB       iface.NoHeadAccessDatabase
	Storage  *Service
	Interval time.Duration
}

// Collector reclaims stored files whose pins are gone and whose grace
// period expired. It never decides what to delete: the STORE and FORGET
// handlers and the balance reconciler schedule deletions, the collector
// only executes the ones that came due.
type Collector struct {
	cfg    *GCConfig
	ctx    context.Context
	cancel context.CancelFunc
}

// NewCollector initializes the garbage collector service.
func NewCollector(ctx context.Context, cfg *GCConfig) *Collector {
	ctx, cancel := context.WithCancel(ctx)
	return &Collector{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the periodic collection loop.
func (c *Collector) Start() {
	async.RunEvery(c.ctx, c.cfg.Interval, func() {
		if err := c.Collect(c.ctx); err != nil {
			log.WithError(err).Error("Garbage collection run failed")
		}
	})
}

// Stop halts the collection loop.
func (c *Collector) Stop() error {
	c.cancel()
	return nil
}

// Status always returns nil: a failed run is retried on the next tick.
func (c *Collector) Status() error {
	return nil
}

// Collect runs one collection pass. Safe to invoke concurrently with the
// message pipeline: a file re-pinned between the listing and the delete is
// skipped by the re-check inside the delete transaction.
func (c *Collector) Collect(ctx context.Context) error {
	due, err := c.cfg.DB.FilesPendingDeletion(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	var reclaimed uint64
	for _, f := range due {
		hash := f.Hash
		deleted := false
		if err := c.cfg.DB.Update(ctx, func(txn iface.Txn) error {
			current, err := txn.File(hash)
			if err != nil {
				return nil
			}
			if !current.PendingDeletion() || current.DeleteAt.After(time.Now().UTC()) {
				// Re-pinned or re-scheduled while we were collecting.
				return nil
			}
			deleted = true
			return txn.DeleteFile(hash)
		}); err != nil {
			return err
		}
		if !deleted {
			continue
		}
		if err := c.cfg.Storage.Unpin(ctx, f.Engine, hash); err != nil {
			log.WithError(err).WithField("hash", hash).Warn("Could not unpin file")
		}
		if err := c.cfg.Storage.Delete(hash); err != nil {
			log.WithError(err).WithField("hash", hash).Warn("Could not delete object")
		}
		reclaimed += f.Size
	}
	if len(due) > 0 {
		log.WithFields(map[string]interface{}{
			"files":     len(due),
			"reclaimed": humanize.Bytes(reclaimed),
		}).Info("Garbage collection pass complete")
	}
	return nil
}
