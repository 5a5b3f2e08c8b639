package verify

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"golang.org/x/crypto/ripemd160"

	"github.com/aleph-im/go-aleph/ccn/types"
)

// cosmosVerifier checks CSDK signatures following ADR-036 arbitrary message
// signing: the signature field is a JSON object carrying the base64
// secp256k1 signature and the base64 compressed public key; the signed
// document is the canonical MsgSignData envelope over the base64 buffer.
type cosmosVerifier struct{}

type cosmosSignature struct {
	Signature string `json:"signature"`
	PubKey    struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	} `json:"pub_key"`
}

// adr036SignDoc builds the canonical (sorted keys, no whitespace) ADR-036
// sign document for the given signer and data.
func adr036SignDoc(signer string, data []byte) []byte {
	encoded := base64.StdEncoding.EncodeToString(data)
	return []byte(fmt.Sprintf(
		`{"account_number":"0","chain_id":"","fee":{"amount":[],"gas":"0"},"memo":"",`+
			`"msgs":[{"type":"sign/MsgSignData","value":{"data":"%s","signer":"%s"}}],"sequence":"0"}`,
		encoded, signer,
	))
}

func (*cosmosVerifier) Verify(m *types.Message) error {
	var sig cosmosSignature
	if err := json.Unmarshal([]byte(m.Signature), &sig); err != nil {
		return errors.Wrap(ErrInvalidSignature, "signature is not a JSON object")
	}
	pub, err := base64.StdEncoding.DecodeString(sig.PubKey.Value)
	if err != nil || len(pub) != 33 {
		return errors.Wrap(ErrInvalidSignature, "malformed compressed public key")
	}
	raw, err := base64.StdEncoding.DecodeString(sig.Signature)
	if err != nil || len(raw) != 64 {
		return errors.Wrap(ErrInvalidSignature, "malformed base64 signature")
	}
	digest := sha256.Sum256(adr036SignDoc(m.Sender, m.VerificationBuffer()))
	if !crypto.VerifySignature(pub, digest[:], raw) {
		return errors.Wrap(ErrInvalidSignature, "secp256k1 verification failed")
	}
	hrp := m.Sender
	if i := strings.LastIndex(m.Sender, "1"); i > 0 {
		hrp = m.Sender[:i]
	}
	addr, err := cosmosAddress(pub, hrp)
	if err != nil {
		return errors.Wrap(ErrInvalidSignature, err.Error())
	}
	if addr != m.Sender {
		return errors.Wrapf(ErrInvalidSignature, "derived %s, sender %s", addr, m.Sender)
	}
	return nil
}

// cosmosAddress derives the bech32 account address of a compressed
// secp256k1 public key.
func cosmosAddress(pub []byte, hrp string) (string, error) {
	sum := sha256.Sum256(pub)
	h := ripemd160.New()
	h.Write(sum[:])
	converted, err := bech32.ConvertBits(h.Sum(nil), 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode(hrp, converted)
}
