package consensus

import (
	"errors"
	"fmt"
)

var (
	// ErrBadSeal means the seal is missing or not a valid signature of the
	// expected author over the header.
	ErrBadSeal = errors.New("bad seal")
	// ErrSlotInPast means the slot or view does not advance past the parent's.
	ErrSlotInPast = errors.New("slot in past")
	// ErrSlotInFuture means the slot is too far ahead of the local clock.
	ErrSlotInFuture = errors.New("slot in future")
	// ErrUnknownAuthor means no authority is entitled to produce the header.
	ErrUnknownAuthor = errors.New("unknown author")
	// ErrMalformedDigest means a digest item is missing, duplicated or cannot
	// be decoded.
	ErrMalformedDigest = errors.New("malformed digest")
)

// Error is returned by Verifier.VerifyHeader. Kind is one of the sentinel
// errors above and is matched with errors.Is.
type Error struct {
	Kind   error
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid header: %v: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Kind }

func newError(kind error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}
