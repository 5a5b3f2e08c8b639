// Package db defines the ability to create a new database for the node.
package db

import (
	"context"

	"github.com/aleph-im/go-aleph/ccn/db/kv"
)

// NewDB initializes a new database in the data directory.
func NewDB(ctx context.Context, dirPath string, config *kv.Config) (Database, error) {
	return kv.NewKVStore(ctx, dirPath, config)
}
