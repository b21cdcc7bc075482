// Copyright 2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package hostio

import (
	"errors"
	"fmt"
)

// Failure classes for fatal host call errors. A fatal error means the
// replay can no longer be trusted to produce the right end state, so the
// session must abort rather than report a result.
var (
	ErrGlobalOutOfBounds  = errors.New("global out of bounds")
	ErrMissingMessage     = errors.New("missing inbox message")
	ErrMessageTooFar      = errors.New("message too far")
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrMissingPreimage    = errors.New("missing preimage")
	ErrBadOffset          = errors.New("bad offset")
	ErrBootstrapIO        = errors.New("bootstrap io failure")
)

// EscapeError aborts the current session. The message is the full
// diagnostic shown to the operator, and the kind is one of the failure
// classes above, recoverable via errors.Is.
type EscapeError struct {
	kind    error
	message string
}

func (e *EscapeError) Error() string {
	return e.message
}

func (e *EscapeError) Unwrap() error {
	return e.kind
}

func escapef(kind error, format string, args ...interface{}) error {
	return &EscapeError{kind: kind, message: fmt.Sprintf(format, args...)}
}
