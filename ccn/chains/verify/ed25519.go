package verify

import (
	"crypto/ed25519"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	jsoniter "github.com/json-iterator/go"
	"github.com/mr-tron/base58"
	"github.com/pkg/errors"

	"github.com/aleph-im/go-aleph/ccn/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// solanaVerifier checks SOL signatures: the signature field is a JSON
// object {signature, publicKey} of base58 strings, the sender being the
// base58 ed25519 public key itself.
type solanaVerifier struct{}

type solanaSignature struct {
	Signature string `json:"signature"`
	PublicKey string `json:"publicKey"`
}

func (*solanaVerifier) Verify(m *types.Message) error {
	var sig solanaSignature
	if err := json.Unmarshal([]byte(m.Signature), &sig); err != nil {
		return errors.Wrap(ErrInvalidSignature, "signature is not a JSON object")
	}
	if sig.PublicKey != m.Sender {
		return errors.Wrap(ErrInvalidSignature, "signature public key differs from sender")
	}
	pub, err := base58.Decode(m.Sender)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return errors.Wrap(ErrInvalidSignature, "sender is not an ed25519 public key")
	}
	raw, err := base58.Decode(sig.Signature)
	if err != nil || len(raw) != ed25519.SignatureSize {
		return errors.Wrap(ErrInvalidSignature, "malformed base58 signature")
	}
	if !ed25519.Verify(pub, m.VerificationBuffer(), raw) {
		return errors.Wrap(ErrInvalidSignature, "ed25519 verification failed")
	}
	return nil
}

// substrateVerifier checks DOT signatures: ed25519 over the buffer wrapped
// in <Bytes> markers, the sender being an ss58-encoded public key and the
// signature 0x-prefixed hex.
type substrateVerifier struct{}

func (*substrateVerifier) Verify(m *types.Message) error {
	pub, err := ss58Decode(m.Sender)
	if err != nil {
		return errors.Wrap(ErrInvalidSignature, err.Error())
	}
	raw, err := hexutil.Decode(m.Signature)
	if err != nil || len(raw) != ed25519.SignatureSize {
		return errors.Wrap(ErrInvalidSignature, "malformed hex signature")
	}
	wrapped := fmt.Sprintf("<Bytes>%s</Bytes>", m.VerificationBuffer())
	if !ed25519.Verify(pub, []byte(wrapped), raw) {
		return errors.Wrap(ErrInvalidSignature, "ed25519 verification failed")
	}
	return nil
}

// ss58Decode extracts the 32-byte public key of a simple (one-byte network
// prefix) ss58 address.
func ss58Decode(address string) (ed25519.PublicKey, error) {
	raw, err := base58.Decode(address)
	if err != nil {
		return nil, errors.New("sender is not base58")
	}
	// 1 prefix byte, 32 key bytes, 2 checksum bytes.
	if len(raw) != 35 {
		return nil, errors.New("unexpected ss58 payload length")
	}
	return raw[1:33], nil
}
