package types

import (
	"time"

	jsoniter "github.com/json-iterator/go"
)

// AggregateElement is one raw AGGREGATE revision, kept for replays.
type AggregateElement struct {
	ItemHash string              `json:"item_hash"`
	Owner    string              `json:"owner"`
	Key      string              `json:"key"`
	Time     float64             `json:"time"`
	Content  jsoniter.RawMessage `json:"content"`
}

// Aggregate is the materialised view of all elements of an (owner, key).
type Aggregate struct {
	Owner            string              `json:"owner"`
	Key              string              `json:"key"`
	Content          jsoniter.RawMessage `json:"content"`
	CreationTime     float64             `json:"creation_time"`
	LastRevisionTime float64             `json:"last_revision_time"`
	LastRevisionHash string              `json:"last_revision_hash"`
}

// Post is a POST message row. Ref is empty for originals.
type Post struct {
	ItemHash string              `json:"item_hash"`
	Ref      string              `json:"ref,omitempty"`
	Owner    string              `json:"owner"`
	Type     string              `json:"type"`
	Time     float64             `json:"time"`
	Channel  string              `json:"channel,omitempty"`
	Content  jsoniter.RawMessage `json:"content"`
}

// StorageEngine says which backend holds the bytes of a stored file.
type StorageEngine string

// Storage engines.
const (
	EngineLocal StorageEngine = "local"
	EngineIPFS  StorageEngine = "ipfs"
)

// StoredFile is the pin-counted index entry of a content-addressed file.
type StoredFile struct {
	Hash       string        `json:"hash"`
	Engine     StorageEngine `json:"engine"`
	Size       uint64        `json:"size"`
	PinCount   uint64        `json:"pin_count"`
	DeleteAt   time.Time     `json:"delete_at,omitempty"`
	LastAccess time.Time     `json:"last_access,omitempty"`
	Permanent  bool          `json:"permanent,omitempty"`
}

// PendingDeletion reports whether the file is scheduled for deletion. The
// schedule alone decides: pinning a file clears DeleteAt, and the balance
// reconciler sets it on still-pinned files whose payment lapsed.
func (f *StoredFile) PendingDeletion() bool {
	return !f.Permanent && !f.DeleteAt.IsZero()
}

// FilePin ties a confirmed STORE message to the file it pins.
type FilePin struct {
	FileHash    string  `json:"file_hash"`
	MessageHash string  `json:"message_hash"`
	Owner       string  `json:"owner"`
	Ref         string  `json:"ref,omitempty"`
	Time        float64 `json:"time"`
}

// FileTag names a file by a stable reference. The latest STORE by content
// time owns the tag, whatever order its message arrived in.
type FileTag struct {
	Tag      string  `json:"tag"`
	FileHash string  `json:"file_hash"`
	Owner    string  `json:"owner"`
	Time     float64 `json:"time"`
}

// Balance is the token balance of an address on one chain.
type Balance struct {
	Address    string    `json:"address"`
	Chain      Chain     `json:"chain"`
	Token      string    `json:"token,omitempty"`
	Amount     float64   `json:"amount"`
	Height     uint64    `json:"height"`
	LastUpdate time.Time `json:"last_update"`
}

// ChainCursor is the resume point of a chain indexer.
type ChainCursor struct {
	Chain      Chain     `json:"chain"`
	LastHeight uint64    `json:"last_height"`
	LastTxHash string    `json:"last_tx_hash,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Program is a persisted PROGRAM descriptor, indexed by trigger kind.
type Program struct {
	ItemHash string          `json:"item_hash"`
	Owner    string          `json:"owner"`
	Time     float64         `json:"time"`
	Content  *ProgramContent `json:"content"`
}

// RejectedMessage preserves a permanently rejected pending message with the
// rejection reason for post-mortems.
type RejectedMessage struct {
	ItemHash   string    `json:"item_hash"`
	Payload    *Message  `json:"payload"`
	Reason     string    `json:"reason"`
	RejectedAt time.Time `json:"rejected_at"`
}

// RejectedTx preserves a dropped pending tx with the drop reason.
type RejectedTx struct {
	Context    TxContext `json:"context"`
	Reason     string    `json:"reason"`
	RejectedAt time.Time `json:"rejected_at"`
}
