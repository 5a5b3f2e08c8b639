package handlers

import (
	"context"
	"fmt"
	"testing"

	"github.com/aleph-im/go-aleph/ccn/db/iface"
	"github.com/aleph-im/go-aleph/ccn/types"
	"github.com/aleph-im/go-aleph/testing/assert"
	"github.com/aleph-im/go-aleph/testing/require"
)

func aggregateRecord(itemHash, owner, key string, time float64, content string) *types.MessageRecord {
	payload := fmt.Sprintf(`{"address":%q,"key":%q,"time":%v,"content":%s}`, owner, key, time, content)
	return record(itemHash, owner, types.AggregateType, payload)
}

func (env *testEnv) aggregateContent(t *testing.T, owner, key string) map[string]interface{} {
	agg, err := env.db.Aggregate(context.Background(), owner, key)
	require.NoError(t, err)
	var content map[string]interface{}
	require.NoError(t, json.Unmarshal(agg.Content, &content))
	return content
}

func TestAggregateHandler_SequentialMerge(t *testing.T) {
	env := setupEnv(t)

	require.NoError(t, env.process(t, aggregateRecord("h1", "0xa", "profile", 100, `{"name":"x"}`)))
	assert.DeepEqual(t, map[string]interface{}{"name": "x"}, env.aggregateContent(t, "0xa", "profile"))

	require.NoError(t, env.process(t, aggregateRecord("h2", "0xa", "profile", 200, `{"name":"y","age":3}`)))
	assert.DeepEqual(t,
		map[string]interface{}{"name": "y", "age": float64(3)},
		env.aggregateContent(t, "0xa", "profile"))

	// A late arrival with an earlier time must not shadow the newer value:
	// the null removal at t=150 is re-asserted by the t=200 revision.
	require.NoError(t, env.process(t, aggregateRecord("h3", "0xa", "profile", 150, `{"age":null}`)))
	assert.DeepEqual(t,
		map[string]interface{}{"name": "y", "age": float64(3)},
		env.aggregateContent(t, "0xa", "profile"))
}

func TestAggregateHandler_OrderIndependence(t *testing.T) {
	revisions := [][2]string{
		{"h1", `{"name":"x"}`},
		{"h2", `{"name":"y","age":3}`},
		{"h3", `{"age":null}`},
	}
	times := map[string]float64{"h1": 100, "h2": 200, "h3": 150}
	permutations := [][]int{
		{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0},
	}
	for _, perm := range permutations {
		t.Run(fmt.Sprintf("order_%v", perm), func(t *testing.T) {
			env := setupEnv(t)
			for _, i := range perm {
				hash, content := revisions[i][0], revisions[i][1]
				require.NoError(t, env.process(t, aggregateRecord(hash, "0xa", "profile", times[hash], content)))
			}
			assert.DeepEqual(t,
				map[string]interface{}{"name": "y", "age": float64(3)},
				env.aggregateContent(t, "0xa", "profile"))
		})
	}
}

func TestAggregateHandler_EqualTimesTieBreakOnHash(t *testing.T) {
	// Same content time: the element with the higher item hash wins the
	// conflicting key, in either processing order.
	for _, order := range [][2]string{{"ha", "hb"}, {"hb", "ha"}} {
		env := setupEnv(t)
		contents := map[string]string{"ha": `{"v":"a"}`, "hb": `{"v":"b"}`}
		for _, hash := range order {
			require.NoError(t, env.process(t, aggregateRecord(hash, "0xa", "k", 100, contents[hash])))
		}
		assert.DeepEqual(t, map[string]interface{}{"v": "b"}, env.aggregateContent(t, "0xa", "k"))
	}
}

func TestAggregateHandler_ForgetReplaysView(t *testing.T) {
	env := setupEnv(t)

	require.NoError(t, env.process(t, aggregateRecord("h1", "0xa", "profile", 100, `{"name":"x"}`)))
	require.NoError(t, env.process(t, aggregateRecord("h2", "0xa", "profile", 200, `{"name":"y"}`)))

	h, err := env.registry.Get(types.AggregateType)
	require.NoError(t, err)
	rec, err := env.db.Message(context.Background(), "h2")
	require.NoError(t, err)
	require.NoError(t, env.db.Update(context.Background(), func(txn iface.Txn) error {
		return h.Forget(context.Background(), txn, rec)
	}))

	assert.DeepEqual(t, map[string]interface{}{"name": "x"}, env.aggregateContent(t, "0xa", "profile"))
}

func TestAggregateHandler_ForgetLastElementDropsView(t *testing.T) {
	env := setupEnv(t)
	require.NoError(t, env.process(t, aggregateRecord("h1", "0xa", "solo", 100, `{"name":"x"}`)))

	h, err := env.registry.Get(types.AggregateType)
	require.NoError(t, err)
	rec, err := env.db.Message(context.Background(), "h1")
	require.NoError(t, err)
	require.NoError(t, env.db.Update(context.Background(), func(txn iface.Txn) error {
		return h.Forget(context.Background(), txn, rec)
	}))

	_, err = env.db.Aggregate(context.Background(), "0xa", "solo")
	require.ErrorIs(t, err, iface.ErrNotFound)
}

func TestAggregateHandler_RejectsMalformedContent(t *testing.T) {
	env := setupEnv(t)
	err := env.process(t, record("bad", "0xa", types.AggregateType, `{"no":"key"}`))
	require.ErrorIs(t, err, ErrReject)
}
