package storage

import "github.com/pkg/errors"

// ErrNotFound is returned when no backend holds the requested content.
var ErrNotFound = errors.New("content not found")

// ErrHashMismatch is returned when fetched bytes do not hash to the
// requested address.
var ErrHashMismatch = errors.New("content does not match its hash")
