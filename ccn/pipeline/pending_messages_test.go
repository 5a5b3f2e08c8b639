package pipeline

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/aleph-im/go-aleph/ccn/db/kv"
	"github.com/aleph-im/go-aleph/ccn/handlers"
	"github.com/aleph-im/go-aleph/ccn/storage"
	"github.com/aleph-im/go-aleph/ccn/types"
	"github.com/aleph-im/go-aleph/config/params"
	"github.com/aleph-im/go-aleph/testing/assert"
	"github.com/aleph-im/go-aleph/testing/require"
)

type testEnv struct {
	db      *kv.Store
	local   *storage.LocalStore
	storage *storage.Service
	cfg     *Config
	proc    *MessageProcessor
	txs     *TxProcessor
}

func setupEnv(t *testing.T) *testEnv {
	ctx := context.Background()
	db, err := kv.NewKVStore(ctx, t.TempDir(), &kv.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })

	local, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	svc := storage.NewService(&storage.Config{Local: local, FetchTimeout: time.Second})

	cfg := &Config{
		DB:      db,
		Storage: svc,
		Handlers: handlers.NewRegistry(&handlers.Config{
			Storage:         svc,
			FileGracePeriod: time.Hour,
		}),
		Params: params.MinimalTestConfig(),
	}
	return &testEnv{
		db:      db,
		local:   local,
		storage: svc,
		cfg:     cfg,
		proc:    NewMessageProcessor(ctx, cfg),
		txs:     NewTxProcessor(ctx, cfg),
	}
}

// inlinePending builds a pending message carrying its content inline, with
// the item hash derived from the content the way senders compute it.
func inlinePending(sender string, msgType types.MessageType, content string, origin types.Origin) *types.PendingMessage {
	return &types.PendingMessage{
		Message: types.Message{
			Chain:       types.ChainETH,
			Sender:      sender,
			Type:        msgType,
			Channel:     "TEST",
			Time:        100,
			ItemType:    types.ItemInline,
			ItemHash:    types.SHA256Hex([]byte(content)),
			ItemContent: content,
		},
		Origin: origin,
	}
}

func aggregateJSON(owner, key string, ts float64, content string) string {
	return fmt.Sprintf(`{"address":%q,"key":%q,"time":%v,"content":%s}`, owner, key, ts, content)
}

// drain runs batches until the due part of the queue is empty.
func (env *testEnv) drain(t *testing.T) {
	for i := 0; i < 10; i++ {
		n, err := env.proc.ProcessBatch(context.Background())
		require.NoError(t, err)
		if n == 0 {
			return
		}
	}
	t.Fatal("pending message queue did not drain")
}

func TestMessageProcessor_InlineAggregate(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	pm := inlinePending("0xa", types.AggregateType, aggregateJSON("0xa", "profile", 100, `{"name":"x"}`), types.OriginP2P)
	require.NoError(t, env.db.SavePendingMessage(ctx, pm))
	env.drain(t)

	rec, err := env.db.Message(ctx, pm.ItemHash)
	require.NoError(t, err)
	assert.Equal(t, types.AggregateType, rec.Type)
	assert.Equal(t, "0xa", rec.Sender)
	assert.Equal(t, uint64(len(pm.ItemContent)), rec.Size)

	agg, err := env.db.Aggregate(ctx, "0xa", "profile")
	require.NoError(t, err)
	assert.Equal(t, pm.ItemHash, agg.LastRevisionHash)

	depth, err := env.db.CountPendingMessages(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
}

func TestMessageProcessor_CrossSourceDedup(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	content := aggregateJSON("0xa", "profile", 100, `{"name":"x"}`)
	first := inlinePending("0xa", types.AggregateType, content, types.OriginP2P)
	require.NoError(t, env.db.SavePendingMessage(ctx, first))
	env.drain(t)

	// The same envelope later shows up inside an on-chain batch.
	second := inlinePending("0xa", types.AggregateType, content, types.OriginOnChain)
	second.Confirmation = &types.Confirmation{Chain: types.ChainETH, Height: 1337, TxHash: "0xtx"}
	require.NoError(t, env.db.SavePendingMessage(ctx, second))
	env.drain(t)

	rec, err := env.db.Message(ctx, first.ItemHash)
	require.NoError(t, err)
	require.Equal(t, 1, len(rec.Confirmations), "On-chain copy merges its confirmation")
	assert.Equal(t, uint64(1337), rec.Confirmations[0].Height)

	// The aggregate was applied exactly once.
	agg, err := env.db.Aggregate(ctx, "0xa", "profile")
	require.NoError(t, err)
	assert.Equal(t, first.ItemHash, agg.LastRevisionHash)
	assert.Equal(t, agg.CreationTime, agg.LastRevisionTime)

	depth, err := env.db.CountPendingMessages(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
}

func TestMessageProcessor_HashMismatchRejected(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	pm := inlinePending("0xa", types.AggregateType, aggregateJSON("0xa", "k", 100, `{}`), types.OriginP2P)
	pm.ItemHash = strings.Repeat("a", 64)
	require.NoError(t, env.db.SavePendingMessage(ctx, pm))
	env.drain(t)

	rejected, err := env.db.RejectedMessage(ctx, pm.ItemHash)
	require.NoError(t, err)
	assert.Equal(t, true, strings.Contains(rejected.Reason, "does not hash"))

	depth, err := env.db.CountPendingMessages(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
}

func TestMessageProcessor_BadSignatureRejected(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	pm := inlinePending("0xa", types.AggregateType, aggregateJSON("0xa", "k", 100, `{}`), types.OriginOnChain)
	pm.CheckMessage = true
	pm.Signature = "garbage"
	require.NoError(t, env.db.SavePendingMessage(ctx, pm))
	env.drain(t)

	_, err := env.db.RejectedMessage(ctx, pm.ItemHash)
	require.NoError(t, err)
	has, err := env.db.HasMessage(ctx, pm.ItemHash)
	require.NoError(t, err)
	assert.Equal(t, false, has)
}

func TestMessageProcessor_UnauthorizedSenderRejected(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	// 0xb publishes under 0xa's address without a delegation.
	pm := inlinePending("0xb", types.AggregateType, aggregateJSON("0xa", "k", 100, `{"v":1}`), types.OriginP2P)
	require.NoError(t, env.db.SavePendingMessage(ctx, pm))
	env.drain(t)

	rejected, err := env.db.RejectedMessage(ctx, pm.ItemHash)
	require.NoError(t, err)
	assert.Equal(t, true, strings.Contains(rejected.Reason, "not authorized"))
	_, err = env.db.Aggregate(ctx, "0xa", "k")
	assert.NotNil(t, err)
}

func TestMessageProcessor_DelegatedSenderAccepted(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	security := aggregateJSON("0xa", "security", 50,
		`{"authorizations":[{"address":"0xb","types":["AGGREGATE"],"aggregate_keys":["k"]}]}`)
	require.NoError(t, env.db.SavePendingMessage(ctx, inlinePending("0xa", types.AggregateType, security, types.OriginP2P)))
	env.drain(t)

	pm := inlinePending("0xb", types.AggregateType, aggregateJSON("0xa", "k", 100, `{"v":1}`), types.OriginP2P)
	require.NoError(t, env.db.SavePendingMessage(ctx, pm))
	env.drain(t)

	_, err := env.db.Aggregate(ctx, "0xa", "k")
	require.NoError(t, err)
}

func TestMessageProcessor_RetryThenReject(t *testing.T) {
	env := setupEnv(t)
	env.cfg.Params.MaxRetries = 1
	ctx := context.Background()

	// A POST amending an original this node never receives.
	amend := fmt.Sprintf(`{"address":"0xa","type":"blog","ref":%q,"time":100,"content":{"v":2}}`,
		strings.Repeat("b", 64))
	pm := inlinePending("0xa", types.PostType, amend, types.OriginP2P)
	require.NoError(t, env.db.SavePendingMessage(ctx, pm))

	// First attempt reschedules with backoff.
	_, err := env.proc.ProcessBatch(ctx)
	require.NoError(t, err)
	depth, err := env.db.CountPendingMessages(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, depth)

	// Second attempt exceeds the retry budget.
	time.Sleep(env.cfg.Params.RetryBackoffCap + 10*time.Millisecond)
	_, err = env.proc.ProcessBatch(ctx)
	require.NoError(t, err)

	rejected, err := env.db.RejectedMessage(ctx, pm.ItemHash)
	require.NoError(t, err)
	assert.Equal(t, true, strings.Contains(rejected.Reason, "too many retries"))
	depth, err = env.db.CountPendingMessages(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
}

func TestMessageProcessor_CorruptedStorageContentRejected(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	content := aggregateJSON("0xa", "k", 100, `{"v":1}`)
	hash := types.SHA256Hex([]byte(content))
	require.NoError(t, env.local.PutWithHash(hash, []byte("tampered bytes")))

	pm := inlinePending("0xa", types.AggregateType, "", types.OriginP2P)
	pm.ItemType = types.ItemStorage
	pm.ItemHash = hash
	require.NoError(t, env.db.SavePendingMessage(ctx, pm))
	env.drain(t)

	// Permanent: retrying cannot make the bytes match their digest.
	rejected, err := env.db.RejectedMessage(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, true, strings.Contains(rejected.Reason, "does not match its hash"))
}

func TestMessageProcessor_StorageContentTracked(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	content := aggregateJSON("0xa", "big", 100, `{"v":1}`)
	hash, err := env.storage.Put([]byte(content))
	require.NoError(t, err)

	pm := inlinePending("0xa", types.AggregateType, "", types.OriginP2P)
	pm.ItemType = types.ItemStorage
	pm.ItemHash = hash
	require.NoError(t, env.db.SavePendingMessage(ctx, pm))
	env.drain(t)

	rec, err := env.db.Message(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, uint64(len(content)), rec.Size)

	// The fetched payload got a grace-period file row, unpinned for now.
	f, err := env.db.File(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), f.PinCount)
	assert.Equal(t, false, f.DeleteAt.IsZero())
}

func TestMessageProcessor_MissingStorageContentRetries(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	pm := inlinePending("0xa", types.AggregateType, "", types.OriginP2P)
	pm.ItemType = types.ItemStorage
	pm.ItemHash = strings.Repeat("c", 64)
	require.NoError(t, env.db.SavePendingMessage(ctx, pm))

	_, err := env.proc.ProcessBatch(ctx)
	require.NoError(t, err)

	// Unfetchable content is transient: the row stays queued for later.
	depth, err := env.db.CountPendingMessages(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
	_, err = env.db.RejectedMessage(ctx, pm.ItemHash)
	assert.NotNil(t, err)
}

func TestBackoffDelay(t *testing.T) {
	base := 5 * time.Second
	max := time.Hour
	assert.Equal(t, 10*time.Second, backoffDelay(base, max, 1))
	assert.Equal(t, 40*time.Second, backoffDelay(base, max, 3))
	assert.Equal(t, max, backoffDelay(base, max, 15))
	assert.Equal(t, max, backoffDelay(base, max, 63), "Shift overflow falls back to the cap")
}
