package types

import (
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

// AggregateContent is the payload of an AGGREGATE message.
type AggregateContent struct {
	Address string              `json:"address"`
	Key     string              `json:"key"`
	Time    float64             `json:"time"`
	Content jsoniter.RawMessage `json:"content"`
}

// PostContent is the payload of a POST message. A non-empty Ref makes the
// post an amendment of the referenced original.
type PostContent struct {
	Address string              `json:"address"`
	Type    string              `json:"type"`
	Ref     string              `json:"ref,omitempty"`
	Time    float64             `json:"time"`
	Content jsoniter.RawMessage `json:"content"`
}

// StoreContent is the payload of a STORE message pinning a file.
type StoreContent struct {
	Address  string   `json:"address"`
	ItemType ItemType `json:"item_type"`
	ItemHash string   `json:"item_hash"`
	Ref      string   `json:"ref,omitempty"`
	Time     float64  `json:"time"`
}

// ForgetContent is the payload of a FORGET message tombstoning prior
// messages or whole aggregates.
type ForgetContent struct {
	Address    string   `json:"address"`
	Hashes     []string `json:"hashes"`
	Aggregates []string `json:"aggregates,omitempty"`
	Reason     string   `json:"reason,omitempty"`
	Time       float64  `json:"time"`
}

// ProgramTriggers describes what fires a program.
type ProgramTriggers struct {
	HTTP       bool                `json:"http"`
	Persistent bool                `json:"persistent,omitempty"`
	Message    jsoniter.RawMessage `json:"message,omitempty"`
	Cron       string              `json:"cron,omitempty"`
}

// ProgramContent is the payload of a PROGRAM message. Only the descriptor is
// persisted; execution is delegated to an external runtime.
type ProgramContent struct {
	Address string              `json:"address"`
	Time    float64             `json:"time"`
	On      ProgramTriggers     `json:"on"`
	Code    jsoniter.RawMessage `json:"code,omitempty"`
	Runtime jsoniter.RawMessage `json:"runtime,omitempty"`
	Data    jsoniter.RawMessage `json:"data,omitempty"`
	Volumes jsoniter.RawMessage `json:"volumes,omitempty"`
}

// baseContent is the part shared by every message content.
type baseContent struct {
	Address string  `json:"address"`
	Time    float64 `json:"time"`
}

// ContentAddress extracts the address field of a raw message content.
func ContentAddress(content []byte) (string, error) {
	var base baseContent
	if err := json.Unmarshal(content, &base); err != nil {
		return "", errors.Wrap(err, "could not decode message content")
	}
	if base.Address == "" {
		return "", errors.New("message content has no address")
	}
	return base.Address, nil
}

// ParseAggregateContent decodes and checks an AGGREGATE payload.
func ParseAggregateContent(content []byte) (*AggregateContent, error) {
	c := &AggregateContent{}
	if err := json.Unmarshal(content, c); err != nil {
		return nil, errors.Wrap(err, "could not decode aggregate content")
	}
	if c.Address == "" || c.Key == "" {
		return nil, errors.New("aggregate content requires address and key")
	}
	return c, nil
}

// ParsePostContent decodes and checks a POST payload.
func ParsePostContent(content []byte) (*PostContent, error) {
	c := &PostContent{}
	if err := json.Unmarshal(content, c); err != nil {
		return nil, errors.Wrap(err, "could not decode post content")
	}
	if c.Address == "" || c.Type == "" {
		return nil, errors.New("post content requires address and type")
	}
	return c, nil
}

// ParseStoreContent decodes and checks a STORE payload.
func ParseStoreContent(content []byte) (*StoreContent, error) {
	c := &StoreContent{}
	if err := json.Unmarshal(content, c); err != nil {
		return nil, errors.Wrap(err, "could not decode store content")
	}
	if c.Address == "" || c.ItemHash == "" {
		return nil, errors.New("store content requires address and item_hash")
	}
	if c.ItemType != ItemStorage && c.ItemType != ItemIPFS {
		return nil, errors.Errorf("invalid store item type: %s", c.ItemType)
	}
	return c, nil
}

// ParseForgetContent decodes and checks a FORGET payload.
func ParseForgetContent(content []byte) (*ForgetContent, error) {
	c := &ForgetContent{}
	if err := json.Unmarshal(content, c); err != nil {
		return nil, errors.Wrap(err, "could not decode forget content")
	}
	if c.Address == "" {
		return nil, errors.New("forget content requires address")
	}
	if len(c.Hashes) == 0 && len(c.Aggregates) == 0 {
		return nil, errors.New("forget content has no target")
	}
	return c, nil
}

// ParseProgramContent decodes and checks a PROGRAM payload.
func ParseProgramContent(content []byte) (*ProgramContent, error) {
	c := &ProgramContent{}
	if err := json.Unmarshal(content, c); err != nil {
		return nil, errors.Wrap(err, "could not decode program content")
	}
	if c.Address == "" {
		return nil, errors.New("program content requires address")
	}
	return c, nil
}
