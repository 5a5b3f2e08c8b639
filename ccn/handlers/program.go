package handlers

import (
	"context"

	"github.com/pkg/errors"

	"github.com/aleph-im/go-aleph/ccn/db/iface"
	"github.com/aleph-im/go-aleph/ccn/types"
)

// ProgramHandler persists PROGRAM descriptors. Execution belongs to an
// external runtime consuming the program table.
type ProgramHandler struct{}

// Process stores the descriptor.
func (h *ProgramHandler) Process(_ context.Context, txn iface.Txn, rec *types.MessageRecord) error {
	content, err := types.ParseProgramContent(rec.Content)
	if err != nil {
		return errors.Wrap(ErrReject, err.Error())
	}
	return txn.SaveProgram(&types.Program{
		ItemHash: rec.ItemHash,
		Owner:    content.Address,
		Time:     content.Time,
		Content:  content,
	})
}

// Forget removes the descriptor.
func (h *ProgramHandler) Forget(_ context.Context, txn iface.Txn, rec *types.MessageRecord) error {
	return txn.DeleteProgram(rec.ItemHash)
}
