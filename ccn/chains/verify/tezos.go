package verify

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"

	"github.com/aleph-im/go-aleph/ccn/types"
)

// Tezos base58check prefixes.
var (
	tezosEdpkPrefix  = []byte{13, 15, 37, 217}
	tezosEdsigPrefix = []byte{9, 245, 205, 134, 18}
	tezosTz1Prefix   = []byte{6, 161, 159}
)

// tezosVerifier checks TEZOS signatures: the signature field is a JSON
// object {publicKey, signature} with base58check edpk/edsig encodings. The
// signed digest is the 32-byte blake2b of the buffer, and the sender tz1
// address must match the blake2b-160 hash of the public key.
type tezosVerifier struct{}

type tezosSignature struct {
	PublicKey string `json:"publicKey"`
	Signature string `json:"signature"`
}

func (*tezosVerifier) Verify(m *types.Message) error {
	var sig tezosSignature
	if err := json.Unmarshal([]byte(m.Signature), &sig); err != nil {
		return errors.Wrap(ErrInvalidSignature, "signature is not a JSON object")
	}
	pub, err := base58CheckDecode(sig.PublicKey, tezosEdpkPrefix)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return errors.Wrap(ErrInvalidSignature, "malformed edpk public key")
	}
	raw, err := base58CheckDecode(sig.Signature, tezosEdsigPrefix)
	if err != nil || len(raw) != ed25519.SignatureSize {
		return errors.Wrap(ErrInvalidSignature, "malformed edsig signature")
	}
	digest := blake2b.Sum256(m.VerificationBuffer())
	if !ed25519.Verify(pub, digest[:], raw) {
		return errors.Wrap(ErrInvalidSignature, "ed25519 verification failed")
	}
	if tezosAddress(pub) != m.Sender {
		return errors.Wrap(ErrInvalidSignature, "public key does not hash to sender")
	}
	return nil
}

// tezosAddress derives the tz1 address of an ed25519 public key.
func tezosAddress(pub []byte) string {
	hash, _ := blake2b.New(20, nil)
	hash.Write(pub)
	return base58CheckEncode(hash.Sum(nil), tezosTz1Prefix)
}

func base58CheckEncode(payload, prefix []byte) string {
	data := append(append([]byte{}, prefix...), payload...)
	first := sha256.Sum256(data)
	second := sha256.Sum256(first[:])
	return base58.Encode(append(data, second[:4]...))
}

func base58CheckDecode(encoded string, prefix []byte) ([]byte, error) {
	raw, err := base58.Decode(encoded)
	if err != nil {
		return nil, errors.New("not base58")
	}
	if len(raw) < len(prefix)+4 {
		return nil, errors.New("base58check payload too short")
	}
	data, checksum := raw[:len(raw)-4], raw[len(raw)-4:]
	first := sha256.Sum256(data)
	second := sha256.Sum256(first[:])
	if !bytes.Equal(second[:4], checksum) {
		return nil, errors.New("bad base58check checksum")
	}
	if !bytes.HasPrefix(data, prefix) {
		return nil, errors.New("unexpected base58check prefix")
	}
	return data[len(prefix):], nil
}
