package handlers

import (
	"context"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/aleph-im/go-aleph/ccn/db/iface"
	"github.com/aleph-im/go-aleph/ccn/db/kv"
	"github.com/aleph-im/go-aleph/ccn/storage"
	"github.com/aleph-im/go-aleph/ccn/types"
	"github.com/aleph-im/go-aleph/testing/require"
)

// testEnv bundles a database, a local-only storage service and a handler
// registry over them.
type testEnv struct {
	db       *kv.Store
	storage  *storage.Service
	registry *Registry
}

func setupEnv(t *testing.T) *testEnv {
	db, err := kv.NewKVStore(context.Background(), t.TempDir(), &kv.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })

	local, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	svc := storage.NewService(&storage.Config{Local: local, FetchTimeout: time.Second})

	return &testEnv{
		db:      db,
		storage: svc,
		registry: NewRegistry(&Config{
			Storage:                   svc,
			FileGracePeriod:           time.Hour,
			TrustedBalancePostSenders: []string{"0xtrusted"},
		}),
	}
}

// record builds a confirmed message record carrying content.
func record(itemHash, sender string, msgType types.MessageType, content string) *types.MessageRecord {
	return &types.MessageRecord{
		ItemHash: itemHash,
		Sender:   sender,
		Chain:    types.ChainETH,
		Type:     msgType,
		Channel:  "TEST",
		ItemType: types.ItemInline,
		Content:  jsoniter.RawMessage(content),
	}
}

// process runs the handler of rec inside one transaction and saves the
// message row, the way the pipeline does.
func (env *testEnv) process(t *testing.T, rec *types.MessageRecord) error {
	h, err := env.registry.Get(rec.Type)
	require.NoError(t, err)
	return env.db.Update(context.Background(), func(txn iface.Txn) error {
		if err := h.Process(context.Background(), txn, rec); err != nil {
			return err
		}
		return txn.SaveMessage(rec)
	})
}
