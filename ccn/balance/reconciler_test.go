package balance

import (
	"context"
	"testing"
	"time"

	"github.com/aleph-im/go-aleph/ccn/db/iface"
	"github.com/aleph-im/go-aleph/ccn/db/kv"
	"github.com/aleph-im/go-aleph/ccn/types"
	"github.com/aleph-im/go-aleph/config/params"
	"github.com/aleph-im/go-aleph/testing/assert"
	"github.com/aleph-im/go-aleph/testing/require"
)

func setupReconciler(t *testing.T) (*Reconciler, *kv.Store) {
	ctx := context.Background()
	db, err := kv.NewKVStore(ctx, t.TempDir(), &kv.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })

	cfg := params.MinimalTestConfig()
	cfg.FreeStorageBytes = 100
	cfg.StorageBytesPerToken = 10
	cfg.FileGracePeriod = time.Hour
	return NewReconciler(ctx, &Config{DB: db, Params: cfg}), db
}

func seedFile(t *testing.T, db *kv.Store, owner, hash string, size uint64, lastAccess time.Time) {
	require.NoError(t, db.Update(context.Background(), func(txn iface.Txn) error {
		if err := txn.SaveFile(&types.StoredFile{
			Hash:       hash,
			Engine:     types.EngineLocal,
			Size:       size,
			PinCount:   1,
			LastAccess: lastAccess,
		}); err != nil {
			return err
		}
		return txn.SaveFilePin(&types.FilePin{FileHash: hash, MessageHash: "m-" + hash, Owner: owner})
	}))
}

func TestReconciler_SchedulesLRUOverage(t *testing.T) {
	r, db := setupReconciler(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// 160 bytes used against a 100 byte free allowance: the oldest file
	// covers the 60 byte overage on its own.
	seedFile(t, db, "0xa", "old", 80, now.Add(-2*time.Hour))
	seedFile(t, db, "0xa", "recent", 80, now.Add(-time.Minute))

	require.NoError(t, r.Reconcile(ctx))

	old, err := db.File(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, true, old.PendingDeletion())
	assert.Equal(t, true, old.DeleteAt.After(now), "The grace period still applies")

	recent, err := db.File(ctx, "recent")
	require.NoError(t, err)
	assert.Equal(t, false, recent.PendingDeletion())
}

func TestReconciler_BalanceExtendsAllowance(t *testing.T) {
	r, db := setupReconciler(t)
	ctx := context.Background()
	now := time.Now().UTC()

	seedFile(t, db, "0xa", "f1", 80, now.Add(-2*time.Hour))
	seedFile(t, db, "0xa", "f2", 80, now.Add(-time.Minute))

	// 6 tokens at 10 bytes each lift the allowance to 160.
	require.NoError(t, db.Update(ctx, func(txn iface.Txn) error {
		return txn.SaveBalance(&types.Balance{Address: "0xa", Chain: types.ChainETH, Amount: 6})
	}))

	require.NoError(t, r.Reconcile(ctx))
	for _, hash := range []string{"f1", "f2"} {
		f, err := db.File(ctx, hash)
		require.NoError(t, err)
		assert.Equal(t, false, f.PendingDeletion())
	}
}

func TestReconciler_SkipsPermanentAndScheduled(t *testing.T) {
	r, db := setupReconciler(t)
	ctx := context.Background()
	now := time.Now().UTC()

	seedFile(t, db, "0xa", "lru", 200, now.Add(-3*time.Hour))
	require.NoError(t, db.Update(ctx, func(txn iface.Txn) error {
		f, err := txn.File("lru")
		if err != nil {
			return err
		}
		f.Permanent = true
		return txn.SaveFile(f)
	}))
	seedFile(t, db, "0xa", "next", 200, now.Add(-time.Hour))

	require.NoError(t, r.Reconcile(ctx))

	lru, err := db.File(ctx, "lru")
	require.NoError(t, err)
	assert.Equal(t, true, lru.DeleteAt.IsZero(), "Permanent files are never scheduled")
	next, err := db.File(ctx, "next")
	require.NoError(t, err)
	assert.Equal(t, true, next.PendingDeletion())
}

func TestReconciler_Allowance(t *testing.T) {
	r, _ := setupReconciler(t)
	assert.Equal(t, uint64(100), r.Allowance(0))
	assert.Equal(t, uint64(100), r.Allowance(-5))
	assert.Equal(t, uint64(150), r.Allowance(5))
}
