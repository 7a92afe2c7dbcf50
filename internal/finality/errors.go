package finality

import (
	"errors"
	"fmt"
)

var (
	// ErrBadSignature means a vote is signed by a non-member or its signature
	// does not verify.
	ErrBadSignature = errors.New("bad signature")
	// ErrUnknownAuthoritySet means the proof is for a set other than the
	// active one, or an authority change is pending below its target.
	ErrUnknownAuthoritySet = errors.New("unknown authority set")
	// ErrInsufficientWeight means the valid votes do not exceed the quorum.
	ErrInsufficientWeight = errors.New("insufficient weight")
	// ErrUnknownTarget means a voted header is not in the header store.
	ErrUnknownTarget = errors.New("unknown target")
	// ErrStale means the proof is for an already finalized height or a
	// superseded round.
	ErrStale = errors.New("stale")
)

// Error is returned by the tracker for rejected proofs and votes. Kind is one
// of the sentinel errors above.
type Error struct {
	Kind   error
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("finality: %v: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Kind }

func newError(kind error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}
