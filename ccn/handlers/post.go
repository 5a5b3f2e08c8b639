package handlers

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/aleph-im/go-aleph/ccn/db/iface"
	"github.com/aleph-im/go-aleph/ccn/types"
)

// The post type trusted senders use to push balance snapshots.
const balancesUpdatePostType = "balances-update"

// PostHandler stores POST messages. Amendments reference their original;
// the visible content of a post is resolved at read time as the
// amendment with the highest content time.
type PostHandler struct {
	trustedBalanceSenders []string
}

// Process inserts the post row. An amendment whose original is not stored
// yet is retried: the original may still be in flight.
func (h *PostHandler) Process(_ context.Context, txn iface.Txn, rec *types.MessageRecord) error {
	content, err := types.ParsePostContent(rec.Content)
	if err != nil {
		return errors.Wrap(ErrReject, err.Error())
	}
	if content.Ref != "" {
		if content.Ref == rec.ItemHash {
			return errors.Wrap(ErrReject, "post cannot amend itself")
		}
		target, err := txn.Post(content.Ref)
		if err != nil {
			if errors.Is(err, iface.ErrNotFound) {
				return errors.Wrapf(ErrRetry, "amended post %s not processed yet", content.Ref)
			}
			return err
		}
		if target.Ref != "" {
			return errors.Wrapf(ErrReject, "post %s cannot amend amendment %s", rec.ItemHash, content.Ref)
		}
	}
	if err := txn.SavePost(&types.Post{
		ItemHash: rec.ItemHash,
		Ref:      content.Ref,
		Owner:    content.Address,
		Type:     content.Type,
		Time:     content.Time,
		Channel:  rec.Channel,
		Content:  content.Content,
	}); err != nil {
		return err
	}
	if content.Type == balancesUpdatePostType && h.isTrustedSender(rec.Sender) {
		return h.applyBalances(txn, content)
	}
	return nil
}

// Forget removes the post row. Amendments of a forgotten original stay
// stored but become unreachable, the original being gone.
func (h *PostHandler) Forget(_ context.Context, txn iface.Txn, rec *types.MessageRecord) error {
	return txn.DeletePost(rec.ItemHash)
}

func (h *PostHandler) isTrustedSender(sender string) bool {
	for _, trusted := range h.trustedBalanceSenders {
		if trusted == sender {
			return true
		}
	}
	return false
}

type balancesUpdate struct {
	Chain    types.Chain        `json:"chain"`
	Height   uint64             `json:"height"`
	Token    string             `json:"token,omitempty"`
	Balances map[string]float64 `json:"balances"`
}

// applyBalances upserts the balance snapshot carried by a trusted
// balances-update post. Stale snapshots (height at or below the stored one)
// are ignored.
func (h *PostHandler) applyBalances(txn iface.Txn, content *types.PostContent) error {
	var update balancesUpdate
	if err := json.Unmarshal(content.Content, &update); err != nil {
		return errors.Wrap(ErrReject, "malformed balances update")
	}
	for address, amount := range update.Balances {
		existing, err := txn.Balance(update.Chain, address, update.Token)
		if err != nil && !errors.Is(err, iface.ErrNotFound) {
			return err
		}
		if existing != nil && existing.Height >= update.Height {
			continue
		}
		if err := txn.SaveBalance(&types.Balance{
			Address:    address,
			Chain:      update.Chain,
			Token:      update.Token,
			Amount:     amount,
			Height:     update.Height,
			LastUpdate: time.Now().UTC(),
		}); err != nil {
			return err
		}
	}
	return nil
}
