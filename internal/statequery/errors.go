package statequery

import (
	"errors"
	"fmt"
)

var (
	// ErrNoPeers means no peer has reached the queried header.
	ErrNoPeers = errors.New("no peer has the queried block")
	// ErrEmptyKey is returned for queries without a key.
	ErrEmptyKey = errors.New("empty key")
)

// ErrQueryFailed is returned when every attempt failed. LastErr is the error
// of the last attempt.
type ErrQueryFailed struct {
	Attempts int
	LastErr  error
}

func (e ErrQueryFailed) Error() string {
	return fmt.Sprintf("state query failed after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e ErrQueryFailed) Unwrap() error { return e.LastErr }
