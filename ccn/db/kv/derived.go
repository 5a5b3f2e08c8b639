package kv

import (
	"context"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/aleph-im/go-aleph/ccn/db/iface"
	"github.com/aleph-im/go-aleph/ccn/types"
)

// Aggregate retrieves the materialised view of (owner, key).
func (s *Store) Aggregate(ctx context.Context, owner, key string) (*types.Aggregate, error) {
	var agg *types.Aggregate
	err := s.View(ctx, func(txn iface.Txn) error {
		var err error
		agg, err = txn.Aggregate(owner, key)
		return err
	})
	return agg, err
}

// PostView resolves the visible content of a post: the original or the
// amendment with the highest content time, item hash breaking ties.
func (s *Store) PostView(ctx context.Context, itemHash string) (*types.Post, error) {
	var view *types.Post
	err := s.View(ctx, func(txn iface.Txn) error {
		original, err := txn.Post(itemHash)
		if err != nil {
			return err
		}
		amendments, err := txn.Amendments(itemHash)
		if err != nil {
			return err
		}
		latest := original
		for _, amend := range amendments {
			if amend.Time > latest.Time || (amend.Time == latest.Time && amend.ItemHash > latest.ItemHash) {
				latest = amend
			}
		}
		view = &types.Post{
			ItemHash: original.ItemHash,
			Owner:    original.Owner,
			Type:     original.Type,
			Channel:  original.Channel,
			Time:     latest.Time,
			Content:  latest.Content,
		}
		return nil
	})
	return view, err
}

// File retrieves a stored file row.
func (s *Store) File(ctx context.Context, hash string) (*types.StoredFile, error) {
	var f *types.StoredFile
	err := s.View(ctx, func(txn iface.Txn) error {
		var err error
		f, err = txn.File(hash)
		return err
	})
	return f, err
}

// FilesPendingDeletion lists unpinned files whose grace period expired.
func (s *Store) FilesPendingDeletion(_ context.Context, now time.Time) ([]*types.StoredFile, error) {
	var files []*types.StoredFile
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(filesBucket).ForEach(func(_, v []byte) error {
			f := &types.StoredFile{}
			if err := decode(v, f); err != nil {
				return err
			}
			if f.PendingDeletion() && !f.DeleteAt.After(now) {
				files = append(files, f)
			}
			return nil
		})
	})
	return files, err
}

// OwnerUsage sums the stored bytes pinned per address.
func (s *Store) OwnerUsage(_ context.Context) (map[string]uint64, error) {
	usage := make(map[string]uint64)
	err := s.db.View(func(tx *bolt.Tx) error {
		files := tx.Bucket(filesBucket)
		return tx.Bucket(filePinsBucket).ForEach(func(_, v []byte) error {
			pin := &types.FilePin{}
			if err := decode(v, pin); err != nil {
				return err
			}
			enc := files.Get([]byte(pin.FileHash))
			if enc == nil {
				return nil
			}
			f := &types.StoredFile{}
			if err := decode(enc, f); err != nil {
				return err
			}
			usage[pin.Owner] += f.Size
			return nil
		})
	})
	return usage, err
}

// OwnerFilesByLastAccess lists the files pinned by an address, least
// recently accessed first.
func (s *Store) OwnerFilesByLastAccess(_ context.Context, owner string) ([]*types.StoredFile, error) {
	seen := make(map[string]bool)
	var files []*types.StoredFile
	err := s.db.View(func(tx *bolt.Tx) error {
		fileBkt := tx.Bucket(filesBucket)
		return tx.Bucket(filePinsBucket).ForEach(func(_, v []byte) error {
			pin := &types.FilePin{}
			if err := decode(v, pin); err != nil {
				return err
			}
			if pin.Owner != owner || seen[pin.FileHash] {
				return nil
			}
			seen[pin.FileHash] = true
			enc := fileBkt.Get([]byte(pin.FileHash))
			if enc == nil {
				return nil
			}
			f := &types.StoredFile{}
			if err := decode(enc, f); err != nil {
				return err
			}
			files = append(files, f)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].LastAccess.Before(files[j].LastAccess)
	})
	return files, nil
}

// TotalBalance sums the balances of an address across chains and tokens.
func (s *Store) TotalBalance(_ context.Context, address string) (float64, error) {
	var total float64
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(balancesBucket).ForEach(func(_, v []byte) error {
			b := &types.Balance{}
			if err := decode(v, b); err != nil {
				return err
			}
			if b.Address == address {
				total += b.Amount
			}
			return nil
		})
	})
	return total, err
}

// Program retrieves a program descriptor.
func (s *Store) Program(ctx context.Context, itemHash string) (*types.Program, error) {
	var p *types.Program
	err := s.View(ctx, func(txn iface.Txn) error {
		var err error
		p, err = txn.Program(itemHash)
		return err
	})
	return p, err
}

// ChainCursor retrieves the resume point of a chain indexer.
func (s *Store) ChainCursor(_ context.Context, chain types.Chain) (*types.ChainCursor, error) {
	cursor := &types.ChainCursor{}
	err := s.db.View(func(tx *bolt.Tx) error {
		enc := tx.Bucket(chainCursorsBucket).Get([]byte(chain))
		if enc == nil {
			return iface.ErrNotFound
		}
		return decode(enc, cursor)
	})
	if err != nil {
		return nil, err
	}
	return cursor, nil
}

// SaveChainCursor persists the resume point of a chain indexer.
func (s *Store) SaveChainCursor(_ context.Context, cursor *types.ChainCursor) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		cursor.UpdatedAt = time.Now().UTC()
		enc, err := encode(cursor)
		if err != nil {
			return err
		}
		return tx.Bucket(chainCursorsBucket).Put([]byte(cursor.Chain), enc)
	})
}
