package kv

import (
	"context"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/aleph-im/go-aleph/ccn/db/iface"
	"github.com/aleph-im/go-aleph/ccn/types"
)

func pendingTxKey(chain types.Chain, txHash string) []byte {
	return compositeKey([]byte(chain), []byte(txHash))
}

// SavePendingTx upserts a pending tx keyed on (chain, tx hash). Re-indexing
// the same tx after a reorg re-scan is therefore idempotent.
func (s *Store) SavePendingTx(_ context.Context, ptx *types.PendingTx) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		key := pendingTxKey(ptx.Context.Chain, ptx.Context.TxHash)
		bkt := tx.Bucket(pendingTxsBucket)
		if existing := bkt.Get(key); existing != nil {
			// Keep the retry bookkeeping of the existing row.
			prev := &types.PendingTx{}
			if err := decode(existing, prev); err != nil {
				return err
			}
			ptx.Retries = prev.Retries
			ptx.NextAttempt = prev.NextAttempt
		}
		enc, err := encode(ptx)
		if err != nil {
			return err
		}
		return bkt.Put(key, enc)
	})
}

// HasPendingTx checks for the existence of a pending tx.
func (s *Store) HasPendingTx(_ context.Context, chain types.Chain, txHash string) (bool, error) {
	var exists bool
	err := s.db.View(func(tx *bolt.Tx) error {
		exists = tx.Bucket(pendingTxsBucket).Get(pendingTxKey(chain, txHash)) != nil
		return nil
	})
	return exists, err
}

// ClaimPendingTxs returns up to limit due pending txs.
func (s *Store) ClaimPendingTxs(_ context.Context, now time.Time, limit int) ([]*types.PendingTx, error) {
	var due []*types.PendingTx
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(pendingTxsBucket).Cursor()
		for k, v := c.First(); k != nil && len(due) < limit; k, v = c.Next() {
			ptx := &types.PendingTx{}
			if err := decode(v, ptx); err != nil {
				return err
			}
			if ptx.NextAttempt.After(now) {
				continue
			}
			due = append(due, ptx)
		}
		return nil
	})
	return due, err
}

// SetPendingTxRetry bumps the retry counter and reschedules the tx.
func (s *Store) SetPendingTxRetry(_ context.Context, ptx *types.PendingTx, next time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		ptx.Retries++
		ptx.NextAttempt = next
		enc, err := encode(ptx)
		if err != nil {
			return err
		}
		return tx.Bucket(pendingTxsBucket).Put(pendingTxKey(ptx.Context.Chain, ptx.Context.TxHash), enc)
	})
}

// DeletePendingTx removes a consumed pending tx.
func (s *Store) DeletePendingTx(ctx context.Context, chain types.Chain, txHash string) error {
	return s.Update(ctx, func(txn iface.Txn) error {
		return txn.DeletePendingTx(chain, txHash)
	})
}

// RejectPendingTx moves a pending tx into the rejected table with a reason.
func (s *Store) RejectPendingTx(_ context.Context, ptx *types.PendingTx, reason string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		rejected := &types.RejectedTx{
			Context:    ptx.Context,
			Reason:     reason,
			RejectedAt: time.Now().UTC(),
		}
		enc, err := encode(rejected)
		if err != nil {
			return err
		}
		key := pendingTxKey(ptx.Context.Chain, ptx.Context.TxHash)
		if err := tx.Bucket(rejectedTxsBucket).Put(key, enc); err != nil {
			return err
		}
		return tx.Bucket(pendingTxsBucket).Delete(key)
	})
}

// CountPendingTxs returns the pending tx queue depth.
func (s *Store) CountPendingTxs(_ context.Context) (int, error) {
	var count int
	err := s.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(pendingTxsBucket).Stats().KeyN
		return nil
	})
	return count, err
}
