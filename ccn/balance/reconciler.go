// Package balance reconciles per-address storage usage against token
// balances. Addresses over their allowance get their least recently used
// files scheduled for deletion; the garbage collector does the deleting.
package balance

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"github.com/aleph-im/go-aleph/async"
	"github.com/aleph-im/go-aleph/ccn/db/iface"
	"github.com/aleph-im/go-aleph/config/params"
)

// Config options for the balance reconciler.
type Config struct {
	DB     iface.NoHeadAccessDatabase
	Params *params.CCNChainConfig
}

// Reconciler periodically walks storage usage per owner and schedules the
// overage for deletion.
type Reconciler struct {
	cfg    *Config
	ctx    context.Context
	cancel context.CancelFunc
}

// NewReconciler initializes the reconciler service.
func NewReconciler(ctx context.Context, cfg *Config) *Reconciler {
	if cfg.Params == nil {
		cfg.Params = params.CCNConfig()
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Reconciler{cfg: cfg, ctx: ctx, cancel: cancel}
}

// Start launches the periodic reconciliation loop.
func (r *Reconciler) Start() {
	async.RunEvery(r.ctx, r.cfg.Params.BalanceInterval, func() {
		if err := r.Reconcile(r.ctx); err != nil {
			log.WithError(err).Error("Balance reconciliation failed")
		}
	})
}

// Stop halts the loop.
func (r *Reconciler) Stop() error {
	r.cancel()
	return nil
}

// Status always returns nil: a failed pass is retried on the next tick.
func (r *Reconciler) Status() error {
	return nil
}

// Allowance returns the storage budget of an address holding the given
// token balance.
func (r *Reconciler) Allowance(balance float64) uint64 {
	if balance <= 0 {
		return r.cfg.Params.FreeStorageBytes
	}
	return r.cfg.Params.FreeStorageBytes + uint64(balance*float64(r.cfg.Params.StorageBytesPerToken))
}

// Reconcile runs one pass over every owner with pinned files.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	usage, err := r.cfg.DB.OwnerUsage(ctx)
	if err != nil {
		return err
	}
	for owner, used := range usage {
		balance, err := r.cfg.DB.TotalBalance(ctx, owner)
		if err != nil {
			return err
		}
		allowance := r.Allowance(balance)
		if used <= allowance {
			continue
		}
		if err := r.scheduleOverage(ctx, owner, used-allowance); err != nil {
			return err
		}
	}
	return nil
}

// scheduleOverage marks the owner's least recently used files for deletion
// until the overage is covered. Files already scheduled or pinned as
// permanent are skipped; freshly pinned files keep the normal grace so an
// address topping up its balance in time loses nothing.
func (r *Reconciler) scheduleOverage(ctx context.Context, owner string, overage uint64) error {
	files, err := r.cfg.DB.OwnerFilesByLastAccess(ctx, owner)
	if err != nil {
		return err
	}
	deleteAt := time.Now().UTC().Add(r.cfg.Params.FileGracePeriod)
	var scheduled uint64
	err = r.cfg.DB.Update(ctx, func(txn iface.Txn) error {
		for _, candidate := range files {
			if scheduled >= overage {
				break
			}
			f, err := txn.File(candidate.Hash)
			if err != nil {
				if errors.Is(err, iface.ErrNotFound) {
					continue
				}
				return err
			}
			if f.Permanent || !f.DeleteAt.IsZero() {
				continue
			}
			f.DeleteAt = deleteAt
			if err := txn.SaveFile(f); err != nil {
				return err
			}
			scheduled += f.Size
		}
		return nil
	})
	if err != nil {
		return err
	}
	if scheduled > 0 {
		log.WithFields(map[string]interface{}{
			"owner":     owner,
			"overage":   humanize.Bytes(overage),
			"scheduled": humanize.Bytes(scheduled),
		}).Info("Scheduled overage for deletion")
	}
	return nil
}
