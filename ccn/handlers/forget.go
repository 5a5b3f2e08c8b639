package handlers

import (
	"context"

	"github.com/pkg/errors"

	"github.com/aleph-im/go-aleph/ccn/db/iface"
	"github.com/aleph-im/go-aleph/ccn/types"
)

// ForgetHandler tombstones prior messages: the target content is nulled,
// the row kept with a pointer to the FORGET, and the side effects of the
// target's handler are reversed.
type ForgetHandler struct {
	registry *Registry
}

// Process applies the FORGET to every target hash and aggregate key.
// Targets still in flight trigger a retry so a FORGET arriving before its
// target eventually lands. Already-forgotten targets and FORGET targets
// are silent no-ops.
func (h *ForgetHandler) Process(ctx context.Context, txn iface.Txn, rec *types.MessageRecord) error {
	content, err := types.ParseForgetContent(rec.Content)
	if err != nil {
		return errors.Wrap(ErrReject, err.Error())
	}
	for _, hash := range content.Hashes {
		if err := h.forgetMessage(ctx, txn, rec, content, hash); err != nil {
			return err
		}
	}
	for _, key := range content.Aggregates {
		if err := h.forgetAggregate(txn, rec, content.Address, key); err != nil {
			return err
		}
	}
	return nil
}

// Forget of a FORGET is rejected at validation time; nothing to reverse.
func (h *ForgetHandler) Forget(_ context.Context, _ iface.Txn, _ *types.MessageRecord) error {
	return nil
}

func (h *ForgetHandler) forgetMessage(ctx context.Context, txn iface.Txn, rec *types.MessageRecord, content *types.ForgetContent, hash string) error {
	target, err := txn.Message(hash)
	if err != nil {
		if errors.Is(err, iface.ErrNotFound) {
			return errors.Wrapf(ErrRetry, "forget target %s not processed yet", hash)
		}
		return err
	}
	if target.Type == types.ForgetType {
		log.WithFields(map[string]interface{}{
			"forget": rec.ItemHash,
			"target": hash,
		}).Warn("FORGET cannot target a FORGET, skipping")
		return nil
	}
	if target.Forgotten() {
		return nil
	}

	targetOwner := target.Sender
	if owner, err := types.ContentAddress(target.Content); err == nil {
		targetOwner = owner
	}
	if targetOwner != content.Address {
		authorized, err := IsAuthorized(txn, targetOwner, content.Address, AuthorizationScope{
			Type:    target.Type,
			Chain:   target.Chain,
			Channel: target.Channel,
		})
		if err != nil {
			return err
		}
		if !authorized {
			return errors.Wrapf(ErrReject, "unauthorized forget of %s", hash)
		}
	}

	handler, err := h.registry.Get(target.Type)
	if err != nil {
		return err
	}
	if err := handler.Forget(ctx, txn, target); err != nil {
		return err
	}
	return txn.SetMessageForgotten(hash, rec.ItemHash)
}

// forgetAggregate drops every element of (owner, key) and the materialised
// view, tombstoning the source messages.
func (h *ForgetHandler) forgetAggregate(txn iface.Txn, rec *types.MessageRecord, owner, key string) error {
	elements, err := txn.AggregateElements(owner, key)
	if err != nil {
		return err
	}
	for _, el := range elements {
		if err := txn.DeleteAggregateElement(el); err != nil {
			return err
		}
		if err := txn.SetMessageForgotten(el.ItemHash, rec.ItemHash); err != nil && !errors.Is(err, iface.ErrNotFound) {
			return err
		}
	}
	return txn.DeleteAggregate(owner, key)
}
