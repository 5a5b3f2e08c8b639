package handlers

import (
	"context"

	"github.com/pkg/errors"

	"github.com/aleph-im/go-aleph/ccn/db/iface"
	"github.com/aleph-im/go-aleph/ccn/types"
)

// AggregateHandler folds AGGREGATE messages into a materialised document
// per (owner, key). The raw elements are kept so the view can be replayed
// when one of them is forgotten.
type AggregateHandler struct{}

// Process stores the element and updates the view. A revision at or after
// the current last revision merges directly into the view; an out-of-order
// arrival triggers a full re-fold so the result stays order-independent.
func (h *AggregateHandler) Process(_ context.Context, txn iface.Txn, rec *types.MessageRecord) error {
	content, err := types.ParseAggregateContent(rec.Content)
	if err != nil {
		return errors.Wrap(ErrReject, err.Error())
	}
	element := &types.AggregateElement{
		ItemHash: rec.ItemHash,
		Owner:    content.Address,
		Key:      content.Key,
		Time:     content.Time,
		Content:  content.Content,
	}
	if err := txn.SaveAggregateElement(element); err != nil {
		return err
	}

	view, err := txn.Aggregate(content.Address, content.Key)
	if err != nil && !errors.Is(err, iface.ErrNotFound) {
		return err
	}
	if view != nil && afterLastRevision(element, view) {
		var current, patch map[string]interface{}
		if err := json.Unmarshal(view.Content, &current); err != nil {
			return err
		}
		if err := json.Unmarshal(element.Content, &patch); err != nil {
			return errors.Wrap(ErrReject, "aggregate content is not an object")
		}
		merged, err := json.Marshal(deepMerge(current, patch))
		if err != nil {
			return err
		}
		view.Content = merged
		view.LastRevisionTime = element.Time
		view.LastRevisionHash = element.ItemHash
		return txn.SaveAggregate(view)
	}
	return h.refold(txn, content.Address, content.Key)
}

// Forget removes the element and replays the remaining ones.
func (h *AggregateHandler) Forget(_ context.Context, txn iface.Txn, rec *types.MessageRecord) error {
	content, err := types.ParseAggregateContent(rec.Content)
	if err != nil {
		// The element was validated when processed; nothing to reverse.
		return nil
	}
	if err := txn.DeleteAggregateElement(&types.AggregateElement{
		ItemHash: rec.ItemHash,
		Owner:    content.Address,
		Key:      content.Key,
		Time:     content.Time,
	}); err != nil {
		return err
	}
	return h.refold(txn, content.Address, content.Key)
}

// refold rebuilds the materialised view of (owner, key) from scratch.
func (h *AggregateHandler) refold(txn iface.Txn, owner, key string) error {
	elements, err := txn.AggregateElements(owner, key)
	if err != nil {
		return err
	}
	if len(elements) == 0 {
		return txn.DeleteAggregate(owner, key)
	}
	merged, err := foldElements(elements)
	if err != nil {
		return errors.Wrap(ErrReject, err.Error())
	}
	last := elements[len(elements)-1]
	return txn.SaveAggregate(&types.Aggregate{
		Owner:            owner,
		Key:              key,
		Content:          merged,
		CreationTime:     elements[0].Time,
		LastRevisionTime: last.Time,
		LastRevisionHash: last.ItemHash,
	})
}

// afterLastRevision reports whether the element sorts after the view's last
// applied revision in fold order.
func afterLastRevision(el *types.AggregateElement, view *types.Aggregate) bool {
	if el.Time != view.LastRevisionTime {
		return el.Time > view.LastRevisionTime
	}
	return el.ItemHash > view.LastRevisionHash
}
