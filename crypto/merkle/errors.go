package merkle

import (
	"errors"
	"fmt"
)

var (
	// ErrRootMismatch means no proof node hashes to the trusted root.
	ErrRootMismatch = errors.New("root mismatch")
	// ErrMalformedNode means a proof node could not be decoded, is not in
	// canonical form, or is not reachable from the root.
	ErrMalformedNode = errors.New("malformed node")
	// ErrKeyNotCovered means the proof stops before reaching the key.
	ErrKeyNotCovered = errors.New("key not covered by proof")
)

// ProofError is returned by VerifyProof. Err is one of ErrRootMismatch,
// ErrMalformedNode or ErrKeyNotCovered.
type ProofError struct {
	Err    error
	Reason string
}

func (e *ProofError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("invalid proof: %v", e.Err)
	}
	return fmt.Sprintf("invalid proof: %v: %s", e.Err, e.Reason)
}

func (e *ProofError) Unwrap() error { return e.Err }

func proofErr(kind error, format string, args ...interface{}) *ProofError {
	return &ProofError{Err: kind, Reason: fmt.Sprintf(format, args...)}
}
