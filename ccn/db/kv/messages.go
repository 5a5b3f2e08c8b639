package kv

import (
	"context"

	bolt "go.etcd.io/bbolt"

	"github.com/aleph-im/go-aleph/ccn/db/iface"
	"github.com/aleph-im/go-aleph/ccn/types"
)

// Message retrieves a confirmed message by item hash, through the LRU cache.
func (s *Store) Message(ctx context.Context, itemHash string) (*types.MessageRecord, error) {
	if cached, ok := s.messageCache.Get(itemHash); ok {
		return cached.(*types.MessageRecord), nil
	}
	var rec *types.MessageRecord
	err := s.View(ctx, func(txn iface.Txn) error {
		var err error
		rec, err = txn.Message(itemHash)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.messageCache.Add(itemHash, rec)
	return rec, nil
}

// HasMessage checks for the existence of a confirmed message.
func (s *Store) HasMessage(_ context.Context, itemHash string) (bool, error) {
	if s.messageCache.Contains(itemHash) {
		return true, nil
	}
	var exists bool
	err := s.db.View(func(tx *bolt.Tx) error {
		exists = tx.Bucket(messagesBucket).Get([]byte(itemHash)) != nil
		return nil
	})
	return exists, err
}

// CountMessages returns the number of confirmed messages.
func (s *Store) CountMessages(_ context.Context) (int, error) {
	var count int
	err := s.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(messagesBucket).Stats().KeyN
		return nil
	})
	return count, err
}
