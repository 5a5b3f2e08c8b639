package kv

import (
	"bytes"
	"context"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/aleph-im/go-aleph/ccn/db/iface"
	"github.com/aleph-im/go-aleph/ccn/types"
)

// SavePendingMessage appends a row to the pending message queue, assigning
// its sequence number. Rows with the same item hash may coexist: an on-chain
// arrival of an already-pending message still has to merge its confirmation.
func (s *Store) SavePendingMessage(ctx context.Context, pm *types.PendingMessage) error {
	return s.Update(ctx, func(txn iface.Txn) error {
		return txn.SavePendingMessage(pm)
	})
}

// HasPendingMessage checks whether any pending row carries the item hash.
func (s *Store) HasPendingMessage(_ context.Context, itemHash string) (bool, error) {
	var exists bool
	err := s.db.View(func(tx *bolt.Tx) error {
		prefix := append([]byte(itemHash), sep)
		c := tx.Bucket(pendingMessageHashIndexBucket).Cursor()
		k, _ := c.Seek(prefix)
		exists = k != nil && bytes.HasPrefix(k, prefix)
		return nil
	})
	return exists, err
}

// CountPendingMessages returns the pending message queue depth.
func (s *Store) CountPendingMessages(_ context.Context) (int, error) {
	var count int
	err := s.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(pendingMessagesBucket).Stats().KeyN
		return nil
	})
	return count, err
}

// ClaimPendingMessages selects up to limit due rows and stamps their claim,
// all in one writable transaction. Bolt serializes writers, so two workers
// can never claim the same row; an expired claim (crashed worker) makes the
// row eligible again.
func (s *Store) ClaimPendingMessages(_ context.Context, now time.Time, limit int, claimUntil time.Time) ([]*types.PendingMessage, error) {
	var claimed []*types.PendingMessage
	err := s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(pendingMessagesBucket)
		c := bkt.Cursor()
		for k, v := c.First(); k != nil && len(claimed) < limit; k, v = c.Next() {
			pm := &types.PendingMessage{}
			if err := decode(v, pm); err != nil {
				return err
			}
			if pm.NextAttempt.After(now) || pm.ClaimedUntil.After(now) {
				continue
			}
			pm.ClaimedUntil = claimUntil
			enc, err := encode(pm)
			if err != nil {
				return err
			}
			if err := bkt.Put(k, enc); err != nil {
				return err
			}
			claimed = append(claimed, pm)
		}
		return nil
	})
	return claimed, err
}

// ReleasePendingMessage reschedules a claimed row for a later attempt.
func (s *Store) ReleasePendingMessage(_ context.Context, seq uint64, retries uint32, nextAttempt time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(pendingMessagesBucket)
		seqKey := uint64Key(seq)
		enc := bkt.Get(seqKey)
		if enc == nil {
			return iface.ErrNotFound
		}
		pm := &types.PendingMessage{}
		if err := decode(enc, pm); err != nil {
			return err
		}
		pm.Retries = retries
		pm.NextAttempt = nextAttempt
		pm.ClaimedUntil = time.Time{}
		out, err := encode(pm)
		if err != nil {
			return err
		}
		return bkt.Put(seqKey, out)
	})
}

// DeletePendingMessage retires a pending row outside of a processing
// transaction (duplicate suppression, rejected rows).
func (s *Store) DeletePendingMessage(ctx context.Context, seq uint64) error {
	return s.Update(ctx, func(txn iface.Txn) error {
		return txn.DeletePendingMessage(seq)
	})
}

// RejectPendingMessage demotes a pending row into the rejected table with a
// reason and removes it from the live queue.
func (s *Store) RejectPendingMessage(_ context.Context, pm *types.PendingMessage, reason string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		rejected := &types.RejectedMessage{
			ItemHash:   pm.ItemHash,
			Payload:    &pm.Message,
			Reason:     reason,
			RejectedAt: time.Now().UTC(),
		}
		enc, err := encode(rejected)
		if err != nil {
			return err
		}
		if err := tx.Bucket(rejectedMessagesBucket).Put([]byte(pm.ItemHash), enc); err != nil {
			return err
		}
		seqKey := uint64Key(pm.Seq)
		idxKey := compositeKey([]byte(pm.ItemHash), seqKey)
		if err := tx.Bucket(pendingMessageHashIndexBucket).Delete(idxKey); err != nil {
			return err
		}
		return tx.Bucket(pendingMessagesBucket).Delete(seqKey)
	})
}

// RejectedMessage retrieves a rejected message row by item hash.
func (s *Store) RejectedMessage(_ context.Context, itemHash string) (*types.RejectedMessage, error) {
	rec := &types.RejectedMessage{}
	err := s.db.View(func(tx *bolt.Tx) error {
		enc := tx.Bucket(rejectedMessagesBucket).Get([]byte(itemHash))
		if enc == nil {
			return iface.ErrNotFound
		}
		return decode(enc, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}
