package verify

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"github.com/aleph-im/go-aleph/ccn/types"
)

// evmVerifier covers the Ethereum-family chains (ETH, BNB). Signatures are
// EIP-191 personal-sign over the verification buffer; the sender is the
// 0x-prefixed address recovered from the signature.
type evmVerifier struct{}

func personalSignHash(data []byte) []byte {
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(data), data)
	return crypto.Keccak256([]byte(prefixed))
}

func (*evmVerifier) Verify(m *types.Message) error {
	sig, err := hexutil.Decode(m.Signature)
	if err != nil {
		return errors.Wrap(ErrInvalidSignature, "signature is not 0x-prefixed hex")
	}
	if len(sig) != crypto.SignatureLength {
		return errors.Wrapf(ErrInvalidSignature, "signature length %d", len(sig))
	}
	// Wallets emit V as 27/28, Ecrecover expects 0/1.
	recovery := make([]byte, crypto.SignatureLength)
	copy(recovery, sig)
	if recovery[crypto.RecoveryIDOffset] >= 27 {
		recovery[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(personalSignHash(m.VerificationBuffer()), recovery)
	if err != nil {
		return errors.Wrap(ErrInvalidSignature, err.Error())
	}
	recovered := crypto.PubkeyToAddress(*pub)
	if !strings.EqualFold(recovered.Hex(), m.Sender) {
		return errors.Wrapf(ErrInvalidSignature, "recovered %s, sender %s", recovered.Hex(), m.Sender)
	}
	return nil
}
