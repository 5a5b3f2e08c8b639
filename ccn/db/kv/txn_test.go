package kv

import (
	"context"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/aleph-im/go-aleph/ccn/db/iface"
	"github.com/aleph-im/go-aleph/ccn/types"
	"github.com/aleph-im/go-aleph/testing/assert"
	"github.com/aleph-im/go-aleph/testing/require"
)

func TestTxn_SaveMessage_RoundTrip(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	rec := &types.MessageRecord{
		ItemHash: "deadbeef",
		Sender:   "0xa1b2",
		Chain:    types.ChainETH,
		Type:     types.PostType,
		Time:     1650000000,
		ItemType: types.ItemInline,
		Content:  jsoniter.RawMessage(`{"type":"blog","content":{"body":"hello"}}`),
	}
	require.NoError(t, db.Update(ctx, func(txn iface.Txn) error {
		return txn.SaveMessage(rec)
	}))

	got, err := db.Message(ctx, "deadbeef")
	require.NoError(t, err)
	assert.DeepEqual(t, rec, got)

	exists, err := db.HasMessage(ctx, "deadbeef")
	require.NoError(t, err)
	assert.Equal(t, true, exists)

	_, err = db.Message(ctx, "missing")
	require.ErrorIs(t, err, iface.ErrNotFound)
}

func TestTxn_AddConfirmation_Idempotent(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	require.NoError(t, db.Update(ctx, func(txn iface.Txn) error {
		return txn.SaveMessage(&types.MessageRecord{ItemHash: "msg1", Type: types.PostType})
	}))

	conf := types.Confirmation{Chain: types.ChainETH, Height: 50, TxHash: "0xaa"}
	require.NoError(t, db.Update(ctx, func(txn iface.Txn) error {
		if err := txn.AddConfirmation("msg1", conf); err != nil {
			return err
		}
		// Replaying the same confirmation must not duplicate it.
		return txn.AddConfirmation("msg1", conf)
	}))

	got, err := db.Message(ctx, "msg1")
	require.NoError(t, err)
	assert.Equal(t, 1, len(got.Confirmations))
	assert.Equal(t, true, got.HasConfirmation(conf))
}

func TestTxn_SetMessageForgotten_NullsContent(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	require.NoError(t, db.Update(ctx, func(txn iface.Txn) error {
		return txn.SaveMessage(&types.MessageRecord{
			ItemHash: "victim",
			Type:     types.PostType,
			Content:  jsoniter.RawMessage(`{"secret":1}`),
		})
	}))
	require.NoError(t, db.Update(ctx, func(txn iface.Txn) error {
		return txn.SetMessageForgotten("victim", "forgethash")
	}))

	got, err := db.Message(ctx, "victim")
	require.NoError(t, err)
	assert.Equal(t, true, got.Forgotten())
	assert.Equal(t, "forgethash", got.ForgottenBy)
	assert.Equal(t, 0, len(got.Content), "Forgotten content should be nulled")
}

func TestTxn_AggregateElements_FoldOrder(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	// Inserted out of order on purpose: the element key layout must yield
	// time ascending, item hash ascending on equal times.
	elements := []*types.AggregateElement{
		{ItemHash: "h3", Owner: "0xowner", Key: "profile", Time: 30, Content: jsoniter.RawMessage(`{"c":3}`)},
		{ItemHash: "h1", Owner: "0xowner", Key: "profile", Time: 10, Content: jsoniter.RawMessage(`{"a":1}`)},
		{ItemHash: "h2b", Owner: "0xowner", Key: "profile", Time: 20, Content: jsoniter.RawMessage(`{"b":2}`)},
		{ItemHash: "h2a", Owner: "0xowner", Key: "profile", Time: 20, Content: jsoniter.RawMessage(`{"b":1}`)},
	}
	require.NoError(t, db.Update(ctx, func(txn iface.Txn) error {
		for _, el := range elements {
			if err := txn.SaveAggregateElement(el); err != nil {
				return err
			}
		}
		return nil
	}))

	require.NoError(t, db.View(ctx, func(txn iface.Txn) error {
		got, err := txn.AggregateElements("0xowner", "profile")
		require.NoError(t, err)
		require.Equal(t, 4, len(got))
		assert.Equal(t, "h1", got[0].ItemHash)
		assert.Equal(t, "h2a", got[1].ItemHash, "Equal times break ties on item hash")
		assert.Equal(t, "h2b", got[2].ItemHash)
		assert.Equal(t, "h3", got[3].ItemHash)
		return nil
	}))
}

func TestTxn_AggregateElements_KeyIsolation(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	require.NoError(t, db.Update(ctx, func(txn iface.Txn) error {
		if err := txn.SaveAggregateElement(&types.AggregateElement{
			ItemHash: "h1", Owner: "0xowner", Key: "a", Time: 10,
		}); err != nil {
			return err
		}
		return txn.SaveAggregateElement(&types.AggregateElement{
			ItemHash: "h2", Owner: "0xowner", Key: "ab", Time: 10,
		})
	}))

	require.NoError(t, db.View(ctx, func(txn iface.Txn) error {
		got, err := txn.AggregateElements("0xowner", "a")
		require.NoError(t, err)
		require.Equal(t, 1, len(got), "Key prefix must not leak into other keys")
		assert.Equal(t, "h1", got[0].ItemHash)
		return nil
	}))
}

func TestStore_PostView_LatestAmendmentWins(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	require.NoError(t, db.Update(ctx, func(txn iface.Txn) error {
		posts := []*types.Post{
			{ItemHash: "orig", Owner: "0xowner", Type: "blog", Time: 10, Content: jsoniter.RawMessage(`{"v":1}`)},
			{ItemHash: "amend1", Ref: "orig", Owner: "0xowner", Type: "amend", Time: 20, Content: jsoniter.RawMessage(`{"v":2}`)},
			{ItemHash: "amend2", Ref: "orig", Owner: "0xowner", Type: "amend", Time: 30, Content: jsoniter.RawMessage(`{"v":3}`)},
		}
		for _, p := range posts {
			if err := txn.SavePost(p); err != nil {
				return err
			}
		}
		return nil
	}))

	view, err := db.PostView(ctx, "orig")
	require.NoError(t, err)
	assert.Equal(t, "orig", view.ItemHash, "View keeps the original identity")
	assert.Equal(t, float64(30), view.Time)
	assert.DeepEqual(t, jsoniter.RawMessage(`{"v":3}`), view.Content)
}

func TestTxn_DeletePost_RemovesAmendIndex(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	require.NoError(t, db.Update(ctx, func(txn iface.Txn) error {
		if err := txn.SavePost(&types.Post{ItemHash: "orig", Owner: "0xowner", Time: 10}); err != nil {
			return err
		}
		return txn.SavePost(&types.Post{ItemHash: "amend", Ref: "orig", Owner: "0xowner", Time: 20})
	}))
	require.NoError(t, db.Update(ctx, func(txn iface.Txn) error {
		return txn.DeletePost("amend")
	}))

	require.NoError(t, db.View(ctx, func(txn iface.Txn) error {
		amendments, err := txn.Amendments("orig")
		require.NoError(t, err)
		assert.Equal(t, 0, len(amendments))
		return nil
	}))
}

func TestStore_FilesPendingDeletion(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, db.Update(ctx, func(txn iface.Txn) error {
		files := []*types.StoredFile{
			{Hash: "due", Engine: types.EngineLocal, Size: 10, DeleteAt: now.Add(-time.Hour)},
			{Hash: "lapsed", Engine: types.EngineLocal, Size: 10, PinCount: 1, DeleteAt: now.Add(-time.Hour)},
			{Hash: "notdue", Engine: types.EngineLocal, Size: 10, DeleteAt: now.Add(time.Hour)},
			{Hash: "permanent", Engine: types.EngineIPFS, Size: 10, Permanent: true, DeleteAt: now.Add(-time.Hour)},
		}
		for _, f := range files {
			if err := txn.SaveFile(f); err != nil {
				return err
			}
		}
		return nil
	}))

	due, err := db.FilesPendingDeletion(ctx, now)
	require.NoError(t, err)
	require.Equal(t, 2, len(due))
	assert.Equal(t, "due", due[0].Hash)
	assert.Equal(t, "lapsed", due[1].Hash, "A lapsed schedule overrides live pins")
}

func TestStore_OwnerUsage_SumsPinnedBytes(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	require.NoError(t, db.Update(ctx, func(txn iface.Txn) error {
		if err := txn.SaveFile(&types.StoredFile{Hash: "f1", Size: 100, PinCount: 2}); err != nil {
			return err
		}
		if err := txn.SaveFile(&types.StoredFile{Hash: "f2", Size: 50, PinCount: 1}); err != nil {
			return err
		}
		pins := []*types.FilePin{
			{FileHash: "f1", MessageHash: "m1", Owner: "0xalice"},
			{FileHash: "f1", MessageHash: "m2", Owner: "0xbob"},
			{FileHash: "f2", MessageHash: "m3", Owner: "0xalice"},
		}
		for _, p := range pins {
			if err := txn.SaveFilePin(p); err != nil {
				return err
			}
		}
		return nil
	}))

	usage, err := db.OwnerUsage(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(150), usage["0xalice"])
	assert.Equal(t, uint64(100), usage["0xbob"])
}

func TestStore_OwnerFilesByLastAccess_Order(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, db.Update(ctx, func(txn iface.Txn) error {
		if err := txn.SaveFile(&types.StoredFile{Hash: "old", Size: 1, LastAccess: now.Add(-2 * time.Hour)}); err != nil {
			return err
		}
		if err := txn.SaveFile(&types.StoredFile{Hash: "fresh", Size: 1, LastAccess: now}); err != nil {
			return err
		}
		if err := txn.SaveFilePin(&types.FilePin{FileHash: "old", MessageHash: "m1", Owner: "0xalice"}); err != nil {
			return err
		}
		return txn.SaveFilePin(&types.FilePin{FileHash: "fresh", MessageHash: "m2", Owner: "0xalice"})
	}))

	files, err := db.OwnerFilesByLastAccess(ctx, "0xalice")
	require.NoError(t, err)
	require.Equal(t, 2, len(files))
	assert.Equal(t, "old", files[0].Hash, "Least recently accessed file comes first")
}

func TestTxn_FileTags(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	require.NoError(t, db.Update(ctx, func(txn iface.Txn) error {
		if err := txn.SaveFile(&types.StoredFile{Hash: "f1", Size: 1}); err != nil {
			return err
		}
		return txn.SaveFileTag(&types.FileTag{
			Tag:      "0xowner/website",
			FileHash: "f1",
			Owner:    "0xowner",
			Time:     100,
		})
	}))

	require.NoError(t, db.View(ctx, func(txn iface.Txn) error {
		ft, err := txn.FileTag("0xowner/website")
		require.NoError(t, err)
		assert.Equal(t, "f1", ft.FileHash)
		assert.Equal(t, float64(100), ft.Time)
		return nil
	}))

	require.NoError(t, db.Update(ctx, func(txn iface.Txn) error {
		return txn.DeleteFileTag("0xowner/website")
	}))
	require.NoError(t, db.View(ctx, func(txn iface.Txn) error {
		_, err := txn.FileTag("0xowner/website")
		require.ErrorIs(t, err, iface.ErrNotFound)
		return nil
	}))
}

func TestStore_TotalBalance_AcrossChains(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	require.NoError(t, db.Update(ctx, func(txn iface.Txn) error {
		balances := []*types.Balance{
			{Address: "0xalice", Chain: types.ChainETH, Amount: 10},
			{Address: "0xalice", Chain: types.ChainSOL, Amount: 5},
			{Address: "0xbob", Chain: types.ChainETH, Amount: 99},
		}
		for _, b := range balances {
			if err := txn.SaveBalance(b); err != nil {
				return err
			}
		}
		return nil
	}))

	total, err := db.TotalBalance(ctx, "0xalice")
	require.NoError(t, err)
	assert.Equal(t, float64(15), total)
}

func TestStore_ChainCursor_RoundTrip(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	_, err := db.ChainCursor(ctx, types.ChainETH)
	require.ErrorIs(t, err, iface.ErrNotFound)

	require.NoError(t, db.SaveChainCursor(ctx, &types.ChainCursor{
		Chain:      types.ChainETH,
		LastHeight: 1234,
	}))
	cursor, err := db.ChainCursor(ctx, types.ChainETH)
	require.NoError(t, err)
	assert.Equal(t, uint64(1234), cursor.LastHeight)
}
