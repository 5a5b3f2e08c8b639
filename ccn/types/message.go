// Package types holds the message envelope and derived record types shared
// by every stage of the ingestion pipeline.
package types

import (
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Chain identifies the network a message was signed for.
type Chain string

// Supported chains.
const (
	ChainETH   Chain = "ETH"
	ChainBNB   Chain = "BNB"
	ChainNULS2 Chain = "NULS2"
	ChainTEZOS Chain = "TEZOS"
	ChainCSDK  Chain = "CSDK"
	ChainSOL   Chain = "SOL"
	ChainDOT   Chain = "DOT"
)

// MessageType is the kind of a message, driving its content handler.
type MessageType string

// Message types.
const (
	AggregateType MessageType = "AGGREGATE"
	PostType      MessageType = "POST"
	StoreType     MessageType = "STORE"
	ForgetType    MessageType = "FORGET"
	ProgramType   MessageType = "PROGRAM"
)

// MessageTypes lists every supported message type.
var MessageTypes = []MessageType{AggregateType, PostType, StoreType, ForgetType, ProgramType}

// ItemType describes where the content of a message lives.
type ItemType string

// Item types.
const (
	ItemInline  ItemType = "inline"
	ItemStorage ItemType = "storage"
	ItemIPFS    ItemType = "ipfs"
)

// Origin is the source a pending message arrived from.
type Origin string

// Message origins.
const (
	OriginP2P     Origin = "p2p"
	OriginHTTP    Origin = "http"
	OriginOnChain Origin = "onchain"
)

// Confirmation is the proof that a message was ordered on chain.
type Confirmation struct {
	Chain  Chain  `json:"chain"`
	Height uint64 `json:"height"`
	TxHash string `json:"hash"`
}

// Message is the signed wire envelope exchanged between nodes.
type Message struct {
	Chain       Chain       `json:"chain"`
	Sender      string      `json:"sender"`
	Type        MessageType `json:"type"`
	Channel     string      `json:"channel"`
	Time        float64     `json:"time"`
	ItemType    ItemType    `json:"item_type"`
	ItemHash    string      `json:"item_hash"`
	ItemContent string      `json:"item_content,omitempty"`
	Signature   string      `json:"signature"`
}

// UnmarshalMessage decodes a wire envelope.
func UnmarshalMessage(data []byte) (*Message, error) {
	msg := &Message{}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, errors.Wrap(err, "could not decode message envelope")
	}
	return msg, nil
}

// Marshal encodes the envelope back to its wire form.
func (m *Message) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// VerificationBuffer returns the byte string covered by the message
// signature: the canonical encoding of {sender, chain, type, item_hash}
// with sorted keys and no whitespace.
func (m *Message) VerificationBuffer() []byte {
	return []byte(fmt.Sprintf(
		`{"chain":%q,"item_hash":%q,"sender":%q,"type":%q}`,
		m.Chain, m.ItemHash, m.Sender, m.Type,
	))
}

// ContentTime converts the float timestamp of the envelope to a time.Time.
func (m *Message) ContentTime() time.Time {
	return TimestampToTime(m.Time)
}

// TimestampToTime converts a float seconds-since-epoch timestamp.
func TimestampToTime(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec).UTC()
}

// PendingMessage is a durable pending queue row: the envelope plus the
// bookkeeping the pipeline needs to fetch, retry and confirm it.
type PendingMessage struct {
	Message

	Seq          uint64        `json:"seq"`
	Origin       Origin        `json:"origin"`
	Confirmation *Confirmation `json:"confirmation,omitempty"`
	Retries      uint32        `json:"retries"`
	NextAttempt  time.Time     `json:"next_attempt"`
	ClaimedUntil time.Time     `json:"claimed_until,omitempty"`
	CheckMessage bool          `json:"check_message"`
}

// MessageRecord is a confirmed message as stored in the message table.
type MessageRecord struct {
	ItemHash      string              `json:"item_hash"`
	Sender        string              `json:"sender"`
	Chain         Chain               `json:"chain"`
	Type          MessageType         `json:"type"`
	Channel       string              `json:"channel"`
	Time          float64             `json:"time"`
	ItemType      ItemType            `json:"item_type"`
	Content       jsoniter.RawMessage `json:"content,omitempty"`
	Size          uint64              `json:"size"`
	Confirmations []Confirmation      `json:"confirmations,omitempty"`
	ForgottenBy   string              `json:"forgotten_by,omitempty"`
	Signature     string              `json:"signature,omitempty"`
}

// HasConfirmation reports whether the record already carries the given
// on-chain confirmation.
func (r *MessageRecord) HasConfirmation(c Confirmation) bool {
	for _, existing := range r.Confirmations {
		if existing == c {
			return true
		}
	}
	return false
}

// Forgotten reports whether the message content was tombstoned by a FORGET.
func (r *MessageRecord) Forgotten() bool {
	return r.ForgottenBy != ""
}

// PendingTx is a durable pending_tx row produced by a chain indexer.
type PendingTx struct {
	Context     TxContext           `json:"context"`
	Protocol    string              `json:"protocol"`
	Version     int                 `json:"version"`
	Content     jsoniter.RawMessage `json:"content"`
	Retries     uint32              `json:"retries"`
	NextAttempt time.Time           `json:"next_attempt"`
}

// TxContext identifies the on-chain transaction a batch of messages came from.
type TxContext struct {
	Chain     Chain   `json:"chain"`
	TxHash    string  `json:"tx_hash"`
	Height    uint64  `json:"height"`
	TxIndex   uint64  `json:"tx_index"`
	Time      float64 `json:"time"`
	Publisher string  `json:"publisher"`
}

// Confirmation derives the message confirmation carried by this tx.
func (c *TxContext) Confirmation() *Confirmation {
	return &Confirmation{Chain: c.Chain, Height: c.Height, TxHash: c.TxHash}
}
