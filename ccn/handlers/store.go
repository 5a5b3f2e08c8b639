package handlers

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/aleph-im/go-aleph/ccn/db/iface"
	"github.com/aleph-im/go-aleph/ccn/storage"
	"github.com/aleph-im/go-aleph/ccn/types"
)

// StoreHandler pins content-addressed files. Every confirmed STORE holds
// one pin on its file; the file is scheduled for deletion once the last
// pin is forgotten.
type StoreHandler struct {
	storage     *storage.Service
	gracePeriod time.Duration
}

// Process registers the pin, cancels any scheduled deletion, pins IPFS
// content on the daemon and updates the file tag when the STORE carries a
// ref.
func (h *StoreHandler) Process(ctx context.Context, txn iface.Txn, rec *types.MessageRecord) error {
	content, err := types.ParseStoreContent(rec.Content)
	if err != nil {
		return errors.Wrap(ErrReject, err.Error())
	}
	engine := types.EngineLocal
	if content.ItemType == types.ItemIPFS {
		engine = types.EngineIPFS
	}

	if _, err := txn.FilePin(content.ItemHash, rec.ItemHash); err == nil {
		// Replay of an already-applied STORE.
		return nil
	} else if !errors.Is(err, iface.ErrNotFound) {
		return err
	}

	file, err := txn.File(content.ItemHash)
	if errors.Is(err, iface.ErrNotFound) {
		file = &types.StoredFile{
			Hash:   content.ItemHash,
			Engine: engine,
		}
		if size, err := h.storage.Size(content.ItemHash); err == nil {
			file.Size = size
		}
	} else if err != nil {
		return err
	}
	file.PinCount++
	file.DeleteAt = time.Time{}
	file.LastAccess = time.Now().UTC()
	if err := txn.SaveFile(file); err != nil {
		return err
	}
	if err := txn.SaveFilePin(&types.FilePin{
		FileHash:    content.ItemHash,
		MessageHash: rec.ItemHash,
		Owner:       content.Address,
		Ref:         content.Ref,
		Time:        content.Time,
	}); err != nil {
		return err
	}
	if err := h.updateTag(txn, content); err != nil {
		return err
	}
	if err := h.storage.Pin(ctx, engine, content.ItemHash); err != nil {
		return errors.Wrapf(err, "could not pin %s", content.ItemHash)
	}
	return nil
}

// Forget drops the pin and, when it was the last one, schedules the file
// for deletion after the grace period.
func (h *StoreHandler) Forget(_ context.Context, txn iface.Txn, rec *types.MessageRecord) error {
	content, err := types.ParseStoreContent(rec.Content)
	if err != nil {
		return nil
	}
	if _, err := txn.FilePin(content.ItemHash, rec.ItemHash); err != nil {
		if errors.Is(err, iface.ErrNotFound) {
			return nil
		}
		return err
	}
	if err := txn.DeleteFilePin(content.ItemHash, rec.ItemHash); err != nil {
		return err
	}
	file, err := txn.File(content.ItemHash)
	if err != nil {
		if errors.Is(err, iface.ErrNotFound) {
			return nil
		}
		return err
	}
	if file.PinCount > 0 {
		file.PinCount--
	}
	if file.PinCount == 0 {
		file.DeleteAt = time.Now().UTC().Add(h.gracePeriod)
	}
	if err := txn.SaveFile(file); err != nil {
		return err
	}
	return h.dropTag(txn, content)
}

// fileTagName builds the tag a STORE ref names: hash-like refs stand on
// their own, other refs are scoped by owner.
func fileTagName(owner, ref string) string {
	if _, err := types.ItemTypeFromHash(ref); err == nil {
		return ref
	}
	return owner + "/" + ref
}

// updateTag points the ref tag at this file if the STORE is the latest one
// by content time, whatever order the messages arrived in.
func (h *StoreHandler) updateTag(txn iface.Txn, content *types.StoreContent) error {
	if content.Ref == "" {
		return nil
	}
	tag := fileTagName(content.Address, content.Ref)
	existing, err := txn.FileTag(tag)
	if err != nil && !errors.Is(err, iface.ErrNotFound) {
		return err
	}
	if existing != nil && existing.Time > content.Time {
		return nil
	}
	return txn.SaveFileTag(&types.FileTag{
		Tag:      tag,
		FileHash: content.ItemHash,
		Owner:    content.Address,
		Time:     content.Time,
	})
}

// dropTag removes the ref tag if it still points at this file.
func (h *StoreHandler) dropTag(txn iface.Txn, content *types.StoreContent) error {
	if content.Ref == "" {
		return nil
	}
	tag := fileTagName(content.Address, content.Ref)
	existing, err := txn.FileTag(tag)
	if err != nil {
		if errors.Is(err, iface.ErrNotFound) {
			return nil
		}
		return err
	}
	if existing.FileHash != content.ItemHash {
		return nil
	}
	return txn.DeleteFileTag(tag)
}
