package types

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
)

// ErrUnknownHash marks an item hash that is neither a sha256 hex digest nor
// an IPFS CID.
var ErrUnknownHash = errors.New("unknown hash format")

// SHA256Hex returns the lowercase hex sha256 digest of content.
func SHA256Hex(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// ItemTypeFromHash classifies an item hash by its format: CIDv0 ("Qm...",
// base58), CIDv1 ("bafy...") or a 64-char sha256 hex digest.
// See https://docs.ipfs.io/concepts/content-addressing/#identifier-formats.
func ItemTypeFromHash(itemHash string) (ItemType, error) {
	switch {
	case len(itemHash) >= 44 && len(itemHash) <= 46 && itemHash[:2] == "Qm":
		if _, err := base58.Decode(itemHash); err != nil {
			return "", errors.Wrapf(ErrUnknownHash, "invalid CIDv0 %q", itemHash)
		}
		return ItemIPFS, nil
	case len(itemHash) == 59 && itemHash[:4] == "bafy":
		return ItemIPFS, nil
	case len(itemHash) == 64:
		if _, err := hex.DecodeString(itemHash); err != nil {
			return "", errors.Wrapf(ErrUnknownHash, "invalid sha256 digest %q", itemHash)
		}
		return ItemStorage, nil
	default:
		return "", errors.Wrapf(ErrUnknownHash, "%q", itemHash)
	}
}
