// Package handlers defines the effect of each message type on the derived
// tables: AGGREGATE, POST, STORE, FORGET and PROGRAM. A handler runs inside
// the database transaction that promotes the pending message, so its
// mutations commit atomically with the message row; each handler also
// defines the reverse of its effect, applied when a FORGET targets one of
// its messages.
package handlers

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/aleph-im/go-aleph/ccn/db/iface"
	"github.com/aleph-im/go-aleph/ccn/storage"
	"github.com/aleph-im/go-aleph/ccn/types"
)

// ErrRetry marks an effect whose preconditions are not met yet, e.g. a POST
// amending an original still in flight. The pending row is retried with
// backoff.
var ErrRetry = errors.New("message preconditions not met")

// ErrReject marks message content that can never be applied. The pending
// row is rejected permanently.
var ErrReject = errors.New("invalid message content")

// Handler applies one message type to the derived tables.
type Handler interface {
	// Process applies the message effects inside txn.
	Process(ctx context.Context, txn iface.Txn, rec *types.MessageRecord) error
	// Forget reverses the effects of a previously processed message.
	Forget(ctx context.Context, txn iface.Txn, rec *types.MessageRecord) error
}

// Config options shared by the handlers.
type Config struct {
	Storage                   *storage.Service
	FileGracePeriod           time.Duration
	TrustedBalancePostSenders []string
}

// Registry maps message types to their handlers.
type Registry struct {
	handlers map[types.MessageType]Handler
}

// NewRegistry wires the five message type handlers.
func NewRegistry(cfg *Config) *Registry {
	r := &Registry{handlers: make(map[types.MessageType]Handler)}
	r.handlers[types.AggregateType] = &AggregateHandler{}
	r.handlers[types.PostType] = &PostHandler{trustedBalanceSenders: cfg.TrustedBalancePostSenders}
	r.handlers[types.StoreType] = &StoreHandler{
		storage:     cfg.Storage,
		gracePeriod: cfg.FileGracePeriod,
	}
	r.handlers[types.ForgetType] = &ForgetHandler{registry: r}
	r.handlers[types.ProgramType] = &ProgramHandler{}
	return r
}

// Get returns the handler of a message type.
func (r *Registry) Get(t types.MessageType) (Handler, error) {
	h, ok := r.handlers[t]
	if !ok {
		return nil, errors.Wrapf(ErrReject, "no handler for message type %s", t)
	}
	return h, nil
}
