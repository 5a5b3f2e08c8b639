package iface

import "github.com/pkg/errors"

// ErrNotFound is returned by accessors when the requested row does not exist.
var ErrNotFound = errors.New("not found in db")
