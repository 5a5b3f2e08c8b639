// Package iface defines the interface of the node database, its
// transaction-scoped accessors and the errors shared by implementations.
package iface

import (
	"context"
	"io"
	"time"

	"github.com/aleph-im/go-aleph/ccn/types"
)

// Txn groups the accessors available inside one database transaction.
// Message handlers mutate derived tables through a Txn so that promoting a
// pending message and applying its side effects commit atomically.
type Txn interface {
	// Confirmed messages.
	Message(itemHash string) (*types.MessageRecord, error)
	HasMessage(itemHash string) bool
	SaveMessage(rec *types.MessageRecord) error
	AddConfirmation(itemHash string, c types.Confirmation) error
	SetMessageForgotten(itemHash, forgottenBy string) error

	// Aggregates.
	Aggregate(owner, key string) (*types.Aggregate, error)
	SaveAggregate(agg *types.Aggregate) error
	DeleteAggregate(owner, key string) error
	SaveAggregateElement(el *types.AggregateElement) error
	DeleteAggregateElement(el *types.AggregateElement) error
	// AggregateElements returns every element of (owner, key) ordered by
	// content time ascending, item hash ascending on ties.
	AggregateElements(owner, key string) ([]*types.AggregateElement, error)

	// Posts.
	Post(itemHash string) (*types.Post, error)
	SavePost(p *types.Post) error
	DeletePost(itemHash string) error
	Amendments(ref string) ([]*types.Post, error)

	// Stored files.
	File(hash string) (*types.StoredFile, error)
	SaveFile(f *types.StoredFile) error
	DeleteFile(hash string) error
	FilePin(fileHash, messageHash string) (*types.FilePin, error)
	SaveFilePin(p *types.FilePin) error
	DeleteFilePin(fileHash, messageHash string) error
	FileTag(tag string) (*types.FileTag, error)
	SaveFileTag(tag *types.FileTag) error
	DeleteFileTag(tag string) error

	// Balances.
	Balance(chain types.Chain, address, token string) (*types.Balance, error)
	SaveBalance(b *types.Balance) error

	// Programs.
	Program(itemHash string) (*types.Program, error)
	SaveProgram(p *types.Program) error
	DeleteProgram(itemHash string) error

	// Pending queue rows, for fan-out and retirement inside the same
	// transaction as the derived effects.
	SavePendingMessage(pm *types.PendingMessage) error
	DeletePendingMessage(seq uint64) error
	DeletePendingTx(chain types.Chain, txHash string) error
}

// NoHeadAccessDatabase is the read/write surface of the node database
// without pending queue claim semantics.
type NoHeadAccessDatabase interface {
	io.Closer

	DatabasePath() string
	ClearDB() error

	// Update runs fn inside a single writable transaction; View inside a
	// read-only one.
	Update(ctx context.Context, fn func(txn Txn) error) error
	View(ctx context.Context, fn func(txn Txn) error) error

	// Confirmed messages, read side.
	Message(ctx context.Context, itemHash string) (*types.MessageRecord, error)
	HasMessage(ctx context.Context, itemHash string) (bool, error)
	CountMessages(ctx context.Context) (int, error)

	// Derived tables, read side.
	Aggregate(ctx context.Context, owner, key string) (*types.Aggregate, error)
	// PostView resolves the visible content of a post after amendments.
	PostView(ctx context.Context, itemHash string) (*types.Post, error)
	File(ctx context.Context, hash string) (*types.StoredFile, error)
	FilesPendingDeletion(ctx context.Context, now time.Time) ([]*types.StoredFile, error)
	OwnerUsage(ctx context.Context) (map[string]uint64, error)
	OwnerFilesByLastAccess(ctx context.Context, owner string) ([]*types.StoredFile, error)
	TotalBalance(ctx context.Context, address string) (float64, error)
	Program(ctx context.Context, itemHash string) (*types.Program, error)

	// Chain cursors, single writer per chain.
	ChainCursor(ctx context.Context, chain types.Chain) (*types.ChainCursor, error)
	SaveChainCursor(ctx context.Context, cursor *types.ChainCursor) error
}

// Database is the full interface of the node database, including the
// durable pending work queues.
type Database interface {
	NoHeadAccessDatabase

	// Pending txs, keyed on (chain, tx hash). Save is an idempotent upsert.
	SavePendingTx(ctx context.Context, tx *types.PendingTx) error
	HasPendingTx(ctx context.Context, chain types.Chain, txHash string) (bool, error)
	ClaimPendingTxs(ctx context.Context, now time.Time, limit int) ([]*types.PendingTx, error)
	SetPendingTxRetry(ctx context.Context, tx *types.PendingTx, next time.Time) error
	DeletePendingTx(ctx context.Context, chain types.Chain, txHash string) error
	RejectPendingTx(ctx context.Context, tx *types.PendingTx, reason string) error
	CountPendingTxs(ctx context.Context) (int, error)

	// Pending messages. Save assigns a monotonically increasing sequence
	// number; duplicates by item hash are allowed so that on-chain arrivals
	// can merge their confirmations later.
	SavePendingMessage(ctx context.Context, pm *types.PendingMessage) error
	HasPendingMessage(ctx context.Context, itemHash string) (bool, error)
	CountPendingMessages(ctx context.Context) (int, error)
	// ClaimPendingMessages atomically selects up to limit rows whose next
	// attempt is due and whose claim expired, and stamps their claim.
	ClaimPendingMessages(ctx context.Context, now time.Time, limit int, claimUntil time.Time) ([]*types.PendingMessage, error)
	ReleasePendingMessage(ctx context.Context, seq uint64, retries uint32, nextAttempt time.Time) error
	DeletePendingMessage(ctx context.Context, seq uint64) error
	RejectPendingMessage(ctx context.Context, pm *types.PendingMessage, reason string) error
	RejectedMessage(ctx context.Context, itemHash string) (*types.RejectedMessage, error)
}
