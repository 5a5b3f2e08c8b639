// Package chains projects the on-chain log of batched aleph transactions
// into the pending tx queue and unpacks their payloads into pending
// messages. One indexer runs per enabled chain; all of them share the
// chaindata envelope format.
package chains

import (
	"context"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/aleph-im/go-aleph/ccn/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Chaindata protocols.
const (
	// ProtocolAleph carries the message envelopes inline.
	ProtocolAleph = "aleph"
	// ProtocolAlephOffchain carries a CID pointing at a stored object of
	// the inline shape.
	ProtocolAlephOffchain = "aleph-offchain"
)

// ErrMalformedChainData marks an on-chain payload that can never be
// unpacked. Always a hard drop.
var ErrMalformedChainData = errors.New("malformed chaindata payload")

type chainDataEnvelope struct {
	Protocol string              `json:"protocol"`
	Version  int                 `json:"version"`
	Content  jsoniter.RawMessage `json:"content"`
}

// DecodePayload parses the outer chaindata envelope published on chain.
func DecodePayload(raw []byte) (protocol string, version int, content jsoniter.RawMessage, err error) {
	var env chainDataEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", 0, nil, errors.Wrap(ErrMalformedChainData, err.Error())
	}
	switch env.Protocol {
	case ProtocolAleph, ProtocolAlephOffchain:
	default:
		return "", 0, nil, errors.Wrapf(ErrMalformedChainData, "unknown protocol %q", env.Protocol)
	}
	if len(env.Content) == 0 {
		return "", 0, nil, errors.Wrap(ErrMalformedChainData, "empty content")
	}
	return env.Protocol, env.Version, env.Content, nil
}

// ContentFetcher fetches a stored object by hash. Implemented by the
// storage service.
type ContentFetcher interface {
	Get(ctx context.Context, itemType types.ItemType, hash string) ([]byte, error)
}

// UnpackMessages expands a pending tx into the pending messages it carries,
// each stamped with the tx confirmation. For the off-chain protocol the
// referenced object is fetched first; offchainRef is then its CID, which
// the caller pins permanently. A fetch failure is transient; anything
// unparseable wraps ErrMalformedChainData and is permanent.
func UnpackMessages(ctx context.Context, ptx *types.PendingTx, fetcher ContentFetcher) (msgs []*types.PendingMessage, offchainRef string, err error) {
	content := []byte(ptx.Content)
	if ptx.Protocol == ProtocolAlephOffchain {
		var ref string
		if err := json.Unmarshal(content, &ref); err != nil {
			return nil, "", errors.Wrap(ErrMalformedChainData, "off-chain content is not a string ref")
		}
		if _, err := types.ItemTypeFromHash(ref); err != nil {
			return nil, "", errors.Wrap(ErrMalformedChainData, err.Error())
		}
		fetched, err := fetcher.Get(ctx, types.ItemIPFS, ref)
		if err != nil {
			return nil, "", errors.Wrapf(err, "could not fetch off-chain chaindata %s", ref)
		}
		_, _, inner, err := DecodePayload(fetched)
		if err != nil {
			return nil, "", err
		}
		content = []byte(inner)
		offchainRef = ref
	}

	var envelopes []types.Message
	if err := json.Unmarshal(content, &envelopes); err != nil {
		return nil, "", errors.Wrap(ErrMalformedChainData, "content is not a message array")
	}
	confirmation := ptx.Context.Confirmation()
	for i := range envelopes {
		msgs = append(msgs, &types.PendingMessage{
			Message:      envelopes[i],
			Origin:       types.OriginOnChain,
			Confirmation: confirmation,
			CheckMessage: true,
		})
	}
	return msgs, offchainRef, nil
}
