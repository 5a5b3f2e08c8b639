package pipeline

import (
	"time"

	"github.com/pkg/errors"

	"github.com/aleph-im/go-aleph/ccn/chains"
	"github.com/aleph-im/go-aleph/ccn/chains/verify"
	"github.com/aleph-im/go-aleph/ccn/handlers"
	"github.com/aleph-im/go-aleph/ccn/storage"
	"github.com/aleph-im/go-aleph/ccn/types"
)

// ErrInvalidContent marks message content that does not match its item hash
// or exceeds the inline size limit. Always a permanent rejection.
var ErrInvalidContent = errors.New("invalid message item content")

// permanent reports whether err can never succeed on retry. Everything else
// is treated as transient: unreachable storage, an original still in flight,
// a database hiccup.
func permanent(err error) bool {
	return errors.Is(err, handlers.ErrReject) ||
		errors.Is(err, verify.ErrInvalidSignature) ||
		errors.Is(err, verify.ErrUnsupportedChain) ||
		errors.Is(err, chains.ErrMalformedChainData) ||
		errors.Is(err, types.ErrUnknownHash) ||
		errors.Is(err, storage.ErrHashMismatch) ||
		errors.Is(err, ErrInvalidContent)
}

// backoffDelay returns the exponential retry delay for the given attempt,
// capped at max.
func backoffDelay(base, max time.Duration, retries uint32) time.Duration {
	if retries > 20 {
		return max
	}
	delay := base << retries
	if delay > max || delay <= 0 {
		return max
	}
	return delay
}
