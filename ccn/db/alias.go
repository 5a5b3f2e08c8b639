package db

import "github.com/aleph-im/go-aleph/ccn/db/iface"

// Database defines the necessary methods for the node's backing storage.
type Database = iface.Database

// NoHeadAccessDatabase is the database surface without claim semantics.
type NoHeadAccessDatabase = iface.NoHeadAccessDatabase

// Txn groups the accessors available inside one database transaction.
type Txn = iface.Txn

// ErrNotFound wraps the implementation's not-found sentinel.
var ErrNotFound = iface.ErrNotFound
