package handlers

import (
	"context"
	"fmt"
	"testing"

	logTest "github.com/sirupsen/logrus/hooks/test"

	"github.com/aleph-im/go-aleph/ccn/db/iface"
	"github.com/aleph-im/go-aleph/ccn/types"
	"github.com/aleph-im/go-aleph/testing/assert"
	"github.com/aleph-im/go-aleph/testing/require"
	"github.com/aleph-im/go-aleph/testing/util"
)

func forgetRecord(itemHash, owner string, time float64, hashes ...string) *types.MessageRecord {
	quoted := ""
	for i, h := range hashes {
		if i > 0 {
			quoted += ","
		}
		quoted += fmt.Sprintf("%q", h)
	}
	payload := fmt.Sprintf(`{"address":%q,"hashes":[%s],"time":%v}`, owner, quoted, time)
	return record(itemHash, owner, types.ForgetType, payload)
}

func TestForgetHandler_StoreForgetRoundTrip(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	require.NoError(t, env.process(t, storeRecord("s1", "0xa", testFileHash, "", 100)))
	require.NoError(t, env.process(t, forgetRecord("f1", "0xa", 200, "s1")))

	// The target is tombstoned and its pin released.
	target, err := env.db.Message(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, true, target.Forgotten())
	assert.Equal(t, "f1", target.ForgottenBy)
	assert.Equal(t, 0, len(target.Content))

	file, err := env.db.File(ctx, testFileHash)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), file.PinCount)
	assert.Equal(t, true, file.PendingDeletion())
}

func TestForgetHandler_AggregateInvolution(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	require.NoError(t, env.process(t, aggregateRecord("h1", "0xa", "profile", 100, `{"name":"x"}`)))
	require.NoError(t, env.process(t, aggregateRecord("h2", "0xa", "profile", 200, `{"name":"y"}`)))
	require.NoError(t, env.process(t, forgetRecord("f1", "0xa", 300, "h2")))

	// Derived state equals the state before h2 was applied.
	assert.DeepEqual(t, map[string]interface{}{"name": "x"}, env.aggregateContent(t, "0xa", "profile"))
	target, err := env.db.Message(ctx, "h2")
	require.NoError(t, err)
	assert.Equal(t, true, target.Forgotten())
}

func TestForgetHandler_InflightTargetRetries(t *testing.T) {
	env := setupEnv(t)
	err := env.process(t, forgetRecord("f1", "0xa", 300, "missing"))
	require.ErrorIs(t, err, ErrRetry)
}

func TestForgetHandler_AlreadyForgottenIsNoop(t *testing.T) {
	env := setupEnv(t)

	require.NoError(t, env.process(t, aggregateRecord("h1", "0xa", "k", 100, `{"v":1}`)))
	require.NoError(t, env.process(t, forgetRecord("f1", "0xa", 200, "h1")))
	require.NoError(t, env.process(t, forgetRecord("f2", "0xa", 300, "h1")))

	target, err := env.db.Message(context.Background(), "h1")
	require.NoError(t, err)
	assert.Equal(t, "f1", target.ForgottenBy, "First forget keeps ownership of the tombstone")
}

func TestForgetHandler_CannotForgetForget(t *testing.T) {
	hook := logTest.NewGlobal()
	env := setupEnv(t)

	require.NoError(t, env.process(t, aggregateRecord("h1", "0xa", "k", 100, `{"v":1}`)))
	require.NoError(t, env.process(t, forgetRecord("f1", "0xa", 200, "h1")))
	require.NoError(t, env.process(t, forgetRecord("f2", "0xa", 300, "f1")))

	forget, err := env.db.Message(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, false, forget.Forgotten())
	util.AssertLogsContain(t, hook, "FORGET cannot target a FORGET")
}

func TestForgetHandler_UnauthorizedSenderRejected(t *testing.T) {
	env := setupEnv(t)

	require.NoError(t, env.process(t, aggregateRecord("h1", "0xa", "k", 100, `{"v":1}`)))
	// 0xb tries to forget 0xa's message without delegation.
	err := env.process(t, forgetRecord("f1", "0xb", 200, "h1"))
	require.ErrorIs(t, err, ErrReject)

	target, err := env.db.Message(context.Background(), "h1")
	require.NoError(t, err)
	assert.Equal(t, false, target.Forgotten())
}

func TestForgetHandler_DelegatedForgetAllowed(t *testing.T) {
	env := setupEnv(t)

	require.NoError(t, env.process(t, aggregateRecord("h1", "0xa", "k", 100, `{"v":1}`)))
	// 0xa delegates FORGET to 0xb through its security aggregate.
	security := `{"address":"0xa","key":"security","time":150,` +
		`"content":{"authorizations":[{"address":"0xb","types":["FORGET","AGGREGATE"]}]}}`
	require.NoError(t, env.process(t, record("sec1", "0xa", types.AggregateType, security)))

	require.NoError(t, env.process(t, forgetRecord("f1", "0xb", 200, "h1")))
	target, err := env.db.Message(context.Background(), "h1")
	require.NoError(t, err)
	assert.Equal(t, true, target.Forgotten())
}

func TestForgetHandler_WholeAggregate(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	require.NoError(t, env.process(t, aggregateRecord("h1", "0xa", "profile", 100, `{"name":"x"}`)))
	require.NoError(t, env.process(t, aggregateRecord("h2", "0xa", "profile", 200, `{"name":"y"}`)))

	payload := `{"address":"0xa","hashes":[],"aggregates":["profile"],"time":300}`
	require.NoError(t, env.process(t, record("f1", "0xa", types.ForgetType, payload)))

	_, err := env.db.Aggregate(ctx, "0xa", "profile")
	require.ErrorIs(t, err, iface.ErrNotFound)
	for _, hash := range []string{"h1", "h2"} {
		target, err := env.db.Message(ctx, hash)
		require.NoError(t, err)
		assert.Equal(t, true, target.Forgotten())
	}
}
