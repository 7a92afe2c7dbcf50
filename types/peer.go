package types

import (
	"errors"
	"fmt"
	"regexp"
)

// MaxPeerIDLen bounds the length of a peer id.
const MaxPeerIDLen = 128

var peerIDRe = regexp.MustCompile(`^[A-Za-z0-9._:\-]+$`)

// PeerID identifies a remote peer. It is opaque to the sync engine.
type PeerID string

// Validate checks that the id is non-empty, bounded and printable.
func (id PeerID) Validate() error {
	switch {
	case len(id) == 0:
		return errors.New("empty peer id")
	case len(id) > MaxPeerIDLen:
		return fmt.Errorf("peer id is %d bytes, max %d", len(id), MaxPeerIDLen)
	case !peerIDRe.MatchString(string(id)):
		return fmt.Errorf("invalid peer id %q", string(id))
	}
	return nil
}
