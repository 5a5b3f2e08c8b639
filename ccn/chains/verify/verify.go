// Package verify implements per-chain signature verification of message
// envelopes. The signature always covers the canonical encoding of
// {sender, chain, type, item_hash}; what differs per chain is the curve,
// the signature serialization and the address derivation.
package verify

import (
	"github.com/pkg/errors"

	"github.com/aleph-im/go-aleph/ccn/types"
)

// ErrInvalidSignature marks a signature that does not verify against the
// sender address. Always a permanent rejection.
var ErrInvalidSignature = errors.New("invalid message signature")

// ErrUnsupportedChain marks an envelope for a chain the node cannot verify.
var ErrUnsupportedChain = errors.New("unsupported chain")

// Verifier checks that the signature of an envelope was produced by its
// sender.
type Verifier interface {
	Verify(m *types.Message) error
}

var verifiers = map[types.Chain]Verifier{
	types.ChainETH:   &evmVerifier{},
	types.ChainBNB:   &evmVerifier{},
	types.ChainNULS2: &nuls2Verifier{},
	types.ChainSOL:   &solanaVerifier{},
	types.ChainDOT:   &substrateVerifier{},
	types.ChainTEZOS: &tezosVerifier{},
	types.ChainCSDK:  &cosmosVerifier{},
}

// CheckSignature dispatches the envelope to the verifier of its chain.
func CheckSignature(m *types.Message) error {
	v, ok := verifiers[m.Chain]
	if !ok {
		return errors.Wrapf(ErrUnsupportedChain, "%s", m.Chain)
	}
	return v.Verify(m)
}
