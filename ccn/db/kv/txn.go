package kv

import (
	"bytes"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/aleph-im/go-aleph/ccn/db/iface"
	"github.com/aleph-im/go-aleph/ccn/types"
)

// txn implements iface.Txn on top of a single bolt transaction.
type txn struct {
	tx    *bolt.Tx
	store *Store
}

// Message retrieves a confirmed message by item hash.
func (t *txn) Message(itemHash string) (*types.MessageRecord, error) {
	enc := t.tx.Bucket(messagesBucket).Get([]byte(itemHash))
	if enc == nil {
		return nil, iface.ErrNotFound
	}
	rec := &types.MessageRecord{}
	if err := decode(enc, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// HasMessage checks for the existence of a confirmed message.
func (t *txn) HasMessage(itemHash string) bool {
	return t.tx.Bucket(messagesBucket).Get([]byte(itemHash)) != nil
}

// SaveMessage persists a confirmed message row.
func (t *txn) SaveMessage(rec *types.MessageRecord) error {
	enc, err := encode(rec)
	if err != nil {
		return err
	}
	t.store.messageCache.Remove(rec.ItemHash)
	return t.tx.Bucket(messagesBucket).Put([]byte(rec.ItemHash), enc)
}

// AddConfirmation merges an on-chain confirmation into an existing message.
// Adding a confirmation that is already present is a no-op.
func (t *txn) AddConfirmation(itemHash string, c types.Confirmation) error {
	rec, err := t.Message(itemHash)
	if err != nil {
		return err
	}
	if rec.HasConfirmation(c) {
		return nil
	}
	rec.Confirmations = append(rec.Confirmations, c)
	return t.SaveMessage(rec)
}

// SetMessageForgotten tombstones a message: the content is nulled and the
// row kept with a pointer to the FORGET that removed it.
func (t *txn) SetMessageForgotten(itemHash, forgottenBy string) error {
	rec, err := t.Message(itemHash)
	if err != nil {
		return err
	}
	rec.Content = nil
	rec.ForgottenBy = forgottenBy
	return t.SaveMessage(rec)
}

func aggregateKey(owner, key string) []byte {
	return compositeKey([]byte(owner), []byte(key))
}

// Aggregate retrieves the materialised view of (owner, key).
func (t *txn) Aggregate(owner, key string) (*types.Aggregate, error) {
	enc := t.tx.Bucket(aggregatesBucket).Get(aggregateKey(owner, key))
	if enc == nil {
		return nil, iface.ErrNotFound
	}
	agg := &types.Aggregate{}
	if err := decode(enc, agg); err != nil {
		return nil, err
	}
	return agg, nil
}

// SaveAggregate persists the materialised view of (owner, key).
func (t *txn) SaveAggregate(agg *types.Aggregate) error {
	enc, err := encode(agg)
	if err != nil {
		return err
	}
	return t.tx.Bucket(aggregatesBucket).Put(aggregateKey(agg.Owner, agg.Key), enc)
}

// DeleteAggregate removes the materialised view of (owner, key).
func (t *txn) DeleteAggregate(owner, key string) error {
	return t.tx.Bucket(aggregatesBucket).Delete(aggregateKey(owner, key))
}

func aggregateElementKey(el *types.AggregateElement) []byte {
	return compositeKey(
		[]byte(el.Owner),
		[]byte(el.Key),
		append(timeKey(el.Time), []byte(el.ItemHash)...),
	)
}

// SaveAggregateElement persists one raw aggregate revision.
func (t *txn) SaveAggregateElement(el *types.AggregateElement) error {
	enc, err := encode(el)
	if err != nil {
		return err
	}
	return t.tx.Bucket(aggregateElementsBucket).Put(aggregateElementKey(el), enc)
}

// DeleteAggregateElement removes one raw aggregate revision.
func (t *txn) DeleteAggregateElement(el *types.AggregateElement) error {
	return t.tx.Bucket(aggregateElementsBucket).Delete(aggregateElementKey(el))
}

// AggregateElements returns the elements of (owner, key) in fold order:
// content time ascending, item hash ascending on equal times. The key
// layout guarantees that order for free.
func (t *txn) AggregateElements(owner, key string) ([]*types.AggregateElement, error) {
	prefix := append(aggregateKey(owner, key), sep)
	var elements []*types.AggregateElement
	c := t.tx.Bucket(aggregateElementsBucket).Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		el := &types.AggregateElement{}
		if err := decode(v, el); err != nil {
			return nil, err
		}
		elements = append(elements, el)
	}
	return elements, nil
}

// Post retrieves a raw post row by item hash.
func (t *txn) Post(itemHash string) (*types.Post, error) {
	enc := t.tx.Bucket(postsBucket).Get([]byte(itemHash))
	if enc == nil {
		return nil, iface.ErrNotFound
	}
	p := &types.Post{}
	if err := decode(enc, p); err != nil {
		return nil, err
	}
	return p, nil
}

// SavePost persists a post row and, for amendments, its ref index entry.
func (t *txn) SavePost(p *types.Post) error {
	enc, err := encode(p)
	if err != nil {
		return err
	}
	if err := t.tx.Bucket(postsBucket).Put([]byte(p.ItemHash), enc); err != nil {
		return err
	}
	if p.Ref != "" {
		idxKey := compositeKey([]byte(p.Ref), []byte(p.ItemHash))
		return t.tx.Bucket(postAmendIndexBucket).Put(idxKey, []byte{})
	}
	return nil
}

// DeletePost removes a post row and its amend index entry if any.
func (t *txn) DeletePost(itemHash string) error {
	p, err := t.Post(itemHash)
	if err != nil {
		if errors.Is(err, iface.ErrNotFound) {
			return nil
		}
		return err
	}
	if p.Ref != "" {
		idxKey := compositeKey([]byte(p.Ref), []byte(p.ItemHash))
		if err := t.tx.Bucket(postAmendIndexBucket).Delete(idxKey); err != nil {
			return err
		}
	}
	return t.tx.Bucket(postsBucket).Delete([]byte(itemHash))
}

// Amendments returns every post amending ref.
func (t *txn) Amendments(ref string) ([]*types.Post, error) {
	prefix := append([]byte(ref), sep)
	var posts []*types.Post
	c := t.tx.Bucket(postAmendIndexBucket).Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		itemHash := string(k[len(prefix):])
		p, err := t.Post(itemHash)
		if err != nil {
			if errors.Is(err, iface.ErrNotFound) {
				continue
			}
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, nil
}

// File retrieves a stored file row by content hash.
func (t *txn) File(hash string) (*types.StoredFile, error) {
	enc := t.tx.Bucket(filesBucket).Get([]byte(hash))
	if enc == nil {
		return nil, iface.ErrNotFound
	}
	f := &types.StoredFile{}
	if err := decode(enc, f); err != nil {
		return nil, err
	}
	return f, nil
}

// SaveFile persists a stored file row.
func (t *txn) SaveFile(f *types.StoredFile) error {
	enc, err := encode(f)
	if err != nil {
		return err
	}
	return t.tx.Bucket(filesBucket).Put([]byte(f.Hash), enc)
}

// DeleteFile removes a stored file row.
func (t *txn) DeleteFile(hash string) error {
	return t.tx.Bucket(filesBucket).Delete([]byte(hash))
}

func filePinKey(fileHash, messageHash string) []byte {
	return compositeKey([]byte(fileHash), []byte(messageHash))
}

// FilePin retrieves the pin row of (file, message).
func (t *txn) FilePin(fileHash, messageHash string) (*types.FilePin, error) {
	enc := t.tx.Bucket(filePinsBucket).Get(filePinKey(fileHash, messageHash))
	if enc == nil {
		return nil, iface.ErrNotFound
	}
	p := &types.FilePin{}
	if err := decode(enc, p); err != nil {
		return nil, err
	}
	return p, nil
}

// SaveFilePin persists the pin row of (file, message).
func (t *txn) SaveFilePin(p *types.FilePin) error {
	enc, err := encode(p)
	if err != nil {
		return err
	}
	return t.tx.Bucket(filePinsBucket).Put(filePinKey(p.FileHash, p.MessageHash), enc)
}

// DeleteFilePin removes the pin row of (file, message).
func (t *txn) DeleteFilePin(fileHash, messageHash string) error {
	return t.tx.Bucket(filePinsBucket).Delete(filePinKey(fileHash, messageHash))
}

// FileTag retrieves a file tag row.
func (t *txn) FileTag(tag string) (*types.FileTag, error) {
	enc := t.tx.Bucket(fileTagsBucket).Get([]byte(tag))
	if enc == nil {
		return nil, iface.ErrNotFound
	}
	ft := &types.FileTag{}
	if err := decode(enc, ft); err != nil {
		return nil, err
	}
	return ft, nil
}

// SaveFileTag points a tag at a file hash.
func (t *txn) SaveFileTag(ft *types.FileTag) error {
	enc, err := encode(ft)
	if err != nil {
		return err
	}
	return t.tx.Bucket(fileTagsBucket).Put([]byte(ft.Tag), enc)
}

// DeleteFileTag removes a tag.
func (t *txn) DeleteFileTag(tag string) error {
	return t.tx.Bucket(fileTagsBucket).Delete([]byte(tag))
}

func balanceKey(chain types.Chain, address, token string) []byte {
	return compositeKey([]byte(chain), []byte(address), []byte(token))
}

// Balance retrieves the balance of (chain, address, token).
func (t *txn) Balance(chain types.Chain, address, token string) (*types.Balance, error) {
	enc := t.tx.Bucket(balancesBucket).Get(balanceKey(chain, address, token))
	if enc == nil {
		return nil, iface.ErrNotFound
	}
	b := &types.Balance{}
	if err := decode(enc, b); err != nil {
		return nil, err
	}
	return b, nil
}

// SaveBalance persists the balance of (chain, address, token).
func (t *txn) SaveBalance(b *types.Balance) error {
	enc, err := encode(b)
	if err != nil {
		return err
	}
	return t.tx.Bucket(balancesBucket).Put(balanceKey(b.Chain, b.Address, b.Token), enc)
}

// Program retrieves a program descriptor by item hash.
func (t *txn) Program(itemHash string) (*types.Program, error) {
	enc := t.tx.Bucket(programsBucket).Get([]byte(itemHash))
	if enc == nil {
		return nil, iface.ErrNotFound
	}
	p := &types.Program{}
	if err := decode(enc, p); err != nil {
		return nil, err
	}
	return p, nil
}

// SaveProgram persists a program descriptor.
func (t *txn) SaveProgram(p *types.Program) error {
	enc, err := encode(p)
	if err != nil {
		return err
	}
	return t.tx.Bucket(programsBucket).Put([]byte(p.ItemHash), enc)
}

// DeleteProgram removes a program descriptor.
func (t *txn) DeleteProgram(itemHash string) error {
	return t.tx.Bucket(programsBucket).Delete([]byte(itemHash))
}

// SavePendingMessage appends a row to the pending message queue, assigning
// its sequence number.
func (t *txn) SavePendingMessage(pm *types.PendingMessage) error {
	bkt := t.tx.Bucket(pendingMessagesBucket)
	seq, err := bkt.NextSequence()
	if err != nil {
		return err
	}
	pm.Seq = seq
	enc, err := encode(pm)
	if err != nil {
		return err
	}
	seqKey := uint64Key(seq)
	if err := bkt.Put(seqKey, enc); err != nil {
		return err
	}
	idxKey := compositeKey([]byte(pm.ItemHash), seqKey)
	return t.tx.Bucket(pendingMessageHashIndexBucket).Put(idxKey, []byte{})
}

// DeletePendingTx removes a consumed pending tx row.
func (t *txn) DeletePendingTx(chain types.Chain, txHash string) error {
	return t.tx.Bucket(pendingTxsBucket).Delete(pendingTxKey(chain, txHash))
}

// DeletePendingMessage retires a pending queue row and its hash index entry.
func (t *txn) DeletePendingMessage(seq uint64) error {
	bkt := t.tx.Bucket(pendingMessagesBucket)
	seqKey := uint64Key(seq)
	enc := bkt.Get(seqKey)
	if enc == nil {
		return nil
	}
	pm := &types.PendingMessage{}
	if err := decode(enc, pm); err != nil {
		return err
	}
	idxKey := compositeKey([]byte(pm.ItemHash), seqKey)
	if err := t.tx.Bucket(pendingMessageHashIndexBucket).Delete(idxKey); err != nil {
		return err
	}
	return bkt.Delete(seqKey)
}
