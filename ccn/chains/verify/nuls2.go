package verify

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"golang.org/x/crypto/ripemd160"

	"github.com/aleph-im/go-aleph/ccn/types"
)

const (
	nuls2ChainID     = 1
	nuls2AddressType = 1
	nuls2Prefix      = "NULS"
)

// nuls2Verifier checks NULS2 signatures: the signature field is the hex
// serialization of the signer public key and a DER secp256k1 signature,
// each prefixed by a length byte. The address is derived from the public
// key hash and checked against the sender.
type nuls2Verifier struct{}

func (*nuls2Verifier) Verify(m *types.Message) error {
	raw, err := hex.DecodeString(m.Signature)
	if err != nil {
		return errors.Wrap(ErrInvalidSignature, "signature is not hex")
	}
	if len(raw) < 2 {
		return errors.Wrap(ErrInvalidSignature, "signature too short")
	}
	pubLen := int(raw[0])
	if len(raw) < 1+pubLen+1 {
		return errors.Wrap(ErrInvalidSignature, "truncated public key")
	}
	pub := raw[1 : 1+pubLen]
	sigLen := int(raw[1+pubLen])
	der := raw[2+pubLen:]
	if len(der) != sigLen {
		return errors.Wrap(ErrInvalidSignature, "truncated signature")
	}
	r, s, err := parseDERSignature(der)
	if err != nil {
		return errors.Wrap(ErrInvalidSignature, err.Error())
	}
	digest := sha256.Sum256(m.VerificationBuffer())
	if !crypto.VerifySignature(pub, digest[:], append(r, s...)) {
		return errors.Wrap(ErrInvalidSignature, "secp256k1 verification failed")
	}
	if addr := nuls2Address(pub); addr != m.Sender {
		return errors.Wrapf(ErrInvalidSignature, "derived %s, sender %s", addr, m.Sender)
	}
	return nil
}

// nuls2Address derives the NULS2 address string of a public key:
// prefix + separator + base58(chainID || type || ripemd160(sha256(pub)) || xor).
func nuls2Address(pub []byte) string {
	sum := sha256.Sum256(pub)
	h := ripemd160.New()
	h.Write(sum[:])

	addr := make([]byte, 3, 24)
	binary.LittleEndian.PutUint16(addr, nuls2ChainID)
	addr[2] = nuls2AddressType
	addr = h.Sum(addr)

	var xor byte
	for _, b := range addr {
		xor ^= b
	}
	separator := string(rune(len(nuls2Prefix) + 96))
	return nuls2Prefix + separator + base58.Encode(append(addr, xor))
}

// parseDERSignature extracts the 32-byte r and s scalars of a DER-encoded
// ECDSA signature.
func parseDERSignature(der []byte) (r, s []byte, err error) {
	if len(der) < 8 || der[0] != 0x30 {
		return nil, nil, errors.New("malformed DER signature")
	}
	rest := der[2:]
	r, rest, err = parseDERInt(rest)
	if err != nil {
		return nil, nil, err
	}
	s, _, err = parseDERInt(rest)
	if err != nil {
		return nil, nil, err
	}
	return r, s, nil
}

func parseDERInt(data []byte) (value, rest []byte, err error) {
	if len(data) < 2 || data[0] != 0x02 {
		return nil, nil, errors.New("malformed DER integer")
	}
	length := int(data[1])
	if len(data) < 2+length {
		return nil, nil, errors.New("truncated DER integer")
	}
	value = data[2 : 2+length]
	for len(value) > 1 && value[0] == 0x00 {
		value = value[1:]
	}
	if len(value) > 32 {
		return nil, nil, errors.New("DER integer too large")
	}
	padded := make([]byte, 32)
	copy(padded[32-len(value):], value)
	return padded, data[2+length:], nil
}
