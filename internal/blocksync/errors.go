package blocksync

import (
	"errors"
	"fmt"

	"github.com/josepot/smoldot/types"
)

var (
	// ErrMalformedPayload means a response could not be decoded or its
	// headers do not link.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrUnexpectedResponse means a response does not answer its request.
	ErrUnexpectedResponse = errors.New("unexpected response")
	// ErrUnknownRequest means the request id is not in flight: it was never
	// issued, already answered, timed out or made obsolete.
	ErrUnknownRequest = errors.New("unknown request")
	// ErrRequestTimeout is reported for requests cancelled by the timeout.
	ErrRequestTimeout = errors.New("request timed out")
	// ErrBadBlock means a header is, or descends from, a header that failed
	// verification.
	ErrBadBlock = errors.New("known bad block")
	// ErrUnknownPeer means the peer was never added or was removed.
	ErrUnknownPeer = errors.New("unknown peer")
)

// SyncError reports a problem with data received from a peer.
type SyncError struct {
	Peer types.PeerID
	Err  error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("peer %s: %v", e.Peer, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

func syncErr(peer types.PeerID, kind error, format string, args ...interface{}) *SyncError {
	return &SyncError{Peer: peer, Err: fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))}
}
