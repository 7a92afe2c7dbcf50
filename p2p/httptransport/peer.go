package httptransport

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/josepot/smoldot/types"
)

// Peer is a full node reachable over HTTP.
type Peer struct {
	ID  types.PeerID
	URL string
}

// ParsePeer parses an "id@http://host:port" address.
func ParsePeer(s string) (Peer, error) {
	s = strings.TrimSpace(s)
	parts := strings.SplitN(s, "@", 2)
	if len(parts) != 2 {
		return Peer{}, fmt.Errorf("peer address %q must have the form id@url", s)
	}
	p := Peer{ID: types.PeerID(parts[0]), URL: strings.TrimRight(parts[1], "/")}
	if err := p.Validate(); err != nil {
		return Peer{}, err
	}
	return p, nil
}

// ParsePeers parses every address of list.
func ParsePeers(list []string) ([]Peer, error) {
	peers := make([]Peer, 0, len(list))
	seen := make(map[types.PeerID]bool, len(list))
	for _, s := range list {
		p, err := ParsePeer(s)
		if err != nil {
			return nil, err
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("duplicate peer id %q", p.ID)
		}
		seen[p.ID] = true
		peers = append(peers, p)
	}
	return peers, nil
}

// Validate checks the id and the URL scheme.
func (p Peer) Validate() error {
	if err := p.ID.Validate(); err != nil {
		return err
	}
	u, err := url.Parse(p.URL)
	if err != nil {
		return fmt.Errorf("peer %s: %w", p.ID, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("peer %s: unsupported scheme %q", p.ID, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("peer %s: missing host", p.ID)
	}
	return nil
}

func (p Peer) String() string {
	return fmt.Sprintf("%s@%s", p.ID, p.URL)
}

func (p Peer) requestURL() string {
	return p.URL + RequestPath
}

func (p Peer) announceURL() string {
	switch {
	case strings.HasPrefix(p.URL, "https://"):
		return "wss://" + strings.TrimPrefix(p.URL, "https://") + AnnouncePath
	default:
		return "ws://" + strings.TrimPrefix(p.URL, "http://") + AnnouncePath
	}
}
