package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/aleph-im/go-aleph/ccn/types"
	"github.com/aleph-im/go-aleph/testing/assert"
	"github.com/aleph-im/go-aleph/testing/require"
)

// A well-formed CIDv0, used as the off-chain chaindata reference.
const testCID = "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"

func pendingTx(txHash string, protocol, content string) *types.PendingTx {
	return &types.PendingTx{
		Context: types.TxContext{
			Chain:     types.ChainETH,
			TxHash:    txHash,
			Height:    1337,
			Time:      100,
			Publisher: "0xpublisher",
		},
		Protocol: protocol,
		Version:  1,
		Content:  jsoniter.RawMessage(content),
	}
}

func envelopeJSON(sender, content string) string {
	return fmt.Sprintf(
		`{"chain":"ETH","sender":%q,"type":"AGGREGATE","channel":"TEST","time":100,`+
			`"item_type":"inline","item_hash":%q,"item_content":%q,"signature":"0xsig"}`,
		sender, types.SHA256Hex([]byte(content)), content)
}

func TestTxProcessor_FanOut(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	batch := "[" +
		envelopeJSON("0xa", aggregateJSON("0xa", "k1", 100, `{"v":1}`)) + "," +
		envelopeJSON("0xb", aggregateJSON("0xb", "k2", 100, `{"v":2}`)) +
		"]"
	ptx := pendingTx("0xtx1", "aleph", batch)
	require.NoError(t, env.db.SavePendingTx(ctx, ptx))
	require.NoError(t, env.txs.Pass(ctx))

	// The tx retires atomically with the fan-out.
	has, err := env.db.HasPendingTx(ctx, types.ChainETH, "0xtx1")
	require.NoError(t, err)
	assert.Equal(t, false, has)

	now := time.Now().UTC()
	claimed, err := env.db.ClaimPendingMessages(ctx, now, 10, now)
	require.NoError(t, err)
	require.Equal(t, 2, len(claimed))
	for _, pm := range claimed {
		assert.Equal(t, types.OriginOnChain, pm.Origin)
		assert.Equal(t, true, pm.CheckMessage)
		require.NotNil(t, pm.Confirmation)
		assert.Equal(t, uint64(1337), pm.Confirmation.Height)
		assert.Equal(t, "0xtx1", pm.Confirmation.TxHash)
	}
}

func TestTxProcessor_ParallelPass(t *testing.T) {
	env := setupEnv(t)
	env.cfg.Params.TxWorkers = 4
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		content := aggregateJSON("0xa", fmt.Sprintf("k%d", i), 100, `{"v":1}`)
		batch := "[" + envelopeJSON("0xa", content) + "]"
		require.NoError(t, env.db.SavePendingTx(ctx, pendingTx(fmt.Sprintf("0xtx%d", i), "aleph", batch)))
	}
	require.NoError(t, env.txs.Pass(ctx))

	depth, err := env.db.CountPendingTxs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
	depth, err = env.db.CountPendingMessages(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, depth)
}

func TestTxProcessor_MalformedRejected(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	ptx := pendingTx("0xtx1", "aleph", `"not a message array"`)
	require.NoError(t, env.db.SavePendingTx(ctx, ptx))
	require.NoError(t, env.txs.Pass(ctx))

	has, err := env.db.HasPendingTx(ctx, types.ChainETH, "0xtx1")
	require.NoError(t, err)
	assert.Equal(t, false, has)
	depth, err := env.db.CountPendingMessages(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
}

func TestTxProcessor_UnfetchableOffchainRetries(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	// The referenced object is nowhere to be found: transient, kept queued.
	ptx := pendingTx("0xtx1", "aleph-offchain", fmt.Sprintf("%q", testCID))
	require.NoError(t, env.db.SavePendingTx(ctx, ptx))
	require.NoError(t, env.txs.Pass(ctx))

	has, err := env.db.HasPendingTx(ctx, types.ChainETH, "0xtx1")
	require.NoError(t, err)
	assert.Equal(t, true, has)
}

func TestTxProcessor_OffchainPinnedPermanently(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	inner := "[" + envelopeJSON("0xa", aggregateJSON("0xa", "k", 100, `{"v":1}`)) + "]"
	payload := fmt.Sprintf(`{"protocol":"aleph","version":1,"content":%s}`, inner)
	require.NoError(t, env.local.PutWithHash(testCID, []byte(payload)))

	ptx := pendingTx("0xtx1", "aleph-offchain", fmt.Sprintf("%q", testCID))
	require.NoError(t, env.db.SavePendingTx(ctx, ptx))
	require.NoError(t, env.txs.Pass(ctx))

	depth, err := env.db.CountPendingMessages(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)

	// The chaindata object itself is pinned forever.
	f, err := env.db.File(ctx, testCID)
	require.NoError(t, err)
	assert.Equal(t, true, f.Permanent)
	assert.Equal(t, types.EngineIPFS, f.Engine)
	assert.Equal(t, uint64(len(payload)), f.Size)
}

func TestTxProcessor_Backpressure(t *testing.T) {
	env := setupEnv(t)
	env.cfg.Params.PendingHighWatermark = 0
	ctx := context.Background()

	pm := inlinePending("0xa", types.AggregateType, aggregateJSON("0xa", "k", 100, `{}`), types.OriginP2P)
	require.NoError(t, env.db.SavePendingMessage(ctx, pm))

	ptx := pendingTx("0xtx1", "aleph", "[]")
	require.NoError(t, env.db.SavePendingTx(ctx, ptx))
	require.NoError(t, env.txs.Pass(ctx))

	// Above the watermark the pass is a no-op; the tx waits its turn.
	has, err := env.db.HasPendingTx(ctx, types.ChainETH, "0xtx1")
	require.NoError(t, err)
	assert.Equal(t, true, has)
}

func TestTxProcessor_EndToEnd(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	content := aggregateJSON("0xa", "k", 100, `{"v":1}`)
	itemHash := types.SHA256Hex([]byte(content))

	// The envelope first arrives over p2p, unsigned checks skipped.
	require.NoError(t, env.db.SavePendingMessage(ctx, inlinePending("0xa", types.AggregateType, content, types.OriginP2P)))
	env.drain(t)

	// The same envelope then arrives inside an on-chain batch. Signature
	// verification is skipped for duplicates, the confirmation still lands.
	batch := "[" + envelopeJSON("0xa", content) + "]"
	require.NoError(t, env.db.SavePendingTx(ctx, pendingTx("0xtx9", "aleph", batch)))
	require.NoError(t, env.txs.Pass(ctx))
	env.drain(t)

	rec, err := env.db.Message(ctx, itemHash)
	require.NoError(t, err)
	require.Equal(t, 1, len(rec.Confirmations))
	assert.Equal(t, "0xtx9", rec.Confirmations[0].TxHash)

	depth, err := env.db.CountPendingMessages(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
	depth, err = env.db.CountPendingTxs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
}
