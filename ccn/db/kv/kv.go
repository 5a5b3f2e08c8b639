// Package kv defines a bolt-db, key-value store implementation of the
// node database interface.
package kv

import (
	"context"
	"os"
	"path"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	prombolt "github.com/prysmaticlabs/prombbolt"
	"github.com/prometheus/client_golang/prometheus"
	bolt "go.etcd.io/bbolt"

	"github.com/aleph-im/go-aleph/ccn/db/iface"
)

const (
	databaseFileName = "ccn.db"
	boltAllocSize    = 8 * 1024 * 1024
	messageCacheSize = 4096
)

// Config for the bolt store.
type Config struct {
	InitialMMapSize int
}

// Store defines an implementation of the node Database interface using
// BoltDB as the underlying persistent kv-store.
type Store struct {
	db           *bolt.DB
	databasePath string
	messageCache *lru.Cache
}

// NewKVStore initializes a new bolt kv-store at the directory path specified,
// creates the kv-buckets based on the schema, and stores an open connection
// db object as a property of the Store struct.
func NewKVStore(_ context.Context, dirPath string, config *Config) (*Store, error) {
	hasDir, err := fileExists(dirPath)
	if err != nil {
		return nil, err
	}
	if !hasDir {
		if err := os.MkdirAll(dirPath, 0700); err != nil {
			return nil, err
		}
	}
	datafile := path.Join(dirPath, databaseFileName)
	boltDB, err := bolt.Open(
		datafile,
		0600,
		&bolt.Options{
			Timeout:         1 * time.Second,
			InitialMmapSize: config.InitialMMapSize,
		},
	)
	if err != nil {
		if errors.Is(err, bolt.ErrTimeout) {
			return nil, errors.New("cannot obtain database lock, database may be in use by another process")
		}
		return nil, err
	}
	boltDB.AllocSize = boltAllocSize

	cache, err := lru.New(messageCacheSize)
	if err != nil {
		return nil, err
	}
	kv := &Store{
		db:           boltDB,
		databasePath: dirPath,
		messageCache: cache,
	}

	if err := kv.db.Update(func(tx *bolt.Tx) error {
		return createBuckets(
			tx,
			pendingTxsBucket,
			pendingMessagesBucket,
			messagesBucket,
			rejectedMessagesBucket,
			rejectedTxsBucket,
			aggregatesBucket,
			aggregateElementsBucket,
			postsBucket,
			filesBucket,
			filePinsBucket,
			fileTagsBucket,
			balancesBucket,
			programsBucket,
			chainCursorsBucket,
			// Indices buckets.
			pendingMessageHashIndexBucket,
			postAmendIndexBucket,
		)
	}); err != nil {
		return nil, err
	}
	err = prometheus.Register(createBoltCollector(kv.db))
	return kv, err
}

// ClearDB removes the previously stored database in the data directory.
func (s *Store) ClearDB() error {
	if _, err := os.Stat(s.databasePath); os.IsNotExist(err) {
		return nil
	}
	prometheus.Unregister(createBoltCollector(s.db))
	return os.Remove(path.Join(s.databasePath, databaseFileName))
}

// Close closes the underlying BoltDB database.
func (s *Store) Close() error {
	prometheus.Unregister(createBoltCollector(s.db))
	return s.db.Close()
}

// DatabasePath at which this database writes files.
func (s *Store) DatabasePath() string {
	return s.databasePath
}

// Update runs fn inside a single writable transaction. Bolt serializes
// writers, so everything fn does commits atomically or not at all.
func (s *Store) Update(_ context.Context, fn func(txn iface.Txn) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(&txn{tx: tx, store: s})
	})
}

// View runs fn inside a read-only transaction.
func (s *Store) View(_ context.Context, fn func(txn iface.Txn) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return fn(&txn{tx: tx, store: s})
	})
}

func createBuckets(tx *bolt.Tx, buckets ...[]byte) error {
	for _, bucket := range buckets {
		if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
			return err
		}
	}
	return nil
}

// createBoltCollector returns a prometheus collector specifically configured for boltdb.
func createBoltCollector(db *bolt.DB) prometheus.Collector {
	return prombolt.New("boltDB", db)
}

func fileExists(filename string) (bool, error) {
	info, err := os.Stat(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info != nil, nil
}
