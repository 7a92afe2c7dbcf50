package httptransport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"sync"

	"github.com/josepot/smoldot/libs/log"
	"github.com/josepot/smoldot/types"
)

var (
	ErrUnknownPeer      = errors.New("unknown peer")
	ErrResponseTooLarge = errors.New("response too large")
)

// StatusError is returned when a peer answers with a status other than 200.
type StatusError struct {
	Peer    types.PeerID
	Code    int
	Message string
}

func (e StatusError) Error() string {
	return fmt.Sprintf("peer %s answered %d: %s", e.Peer, e.Code, e.Message)
}

// Client sends requests to peers. It implements blocksync.Transport.
type Client struct {
	logger log.Logger
	cfg    Config
	http   *http.Client

	mtx   sync.RWMutex
	peers map[types.PeerID]Peer
}

func NewClient(logger log.Logger, cfg Config, peers ...Peer) *Client {
	c := &Client{
		logger: logger,
		cfg:    cfg,
		http: &http.Client{
			Transport: &http.Transport{
				Proxy:       http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{Timeout: cfg.DialTimeout}).DialContext,
			},
		},
		peers: make(map[types.PeerID]Peer, len(peers)),
	}
	for _, p := range peers {
		c.peers[p.ID] = p
	}
	return c
}

// AddPeer makes p reachable by id, replacing any peer with the same id.
func (c *Client) AddPeer(p Peer) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.peers[p.ID] = p
}

// Peers returns the known peers ordered by id.
func (c *Client) Peers() []Peer {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	out := make([]Peer, 0, len(c.peers))
	for _, p := range c.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *Client) peer(id types.PeerID) (Peer, bool) {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	p, ok := c.peers[id]
	return p, ok
}

// Request posts req to the peer and returns the response body.
func (c *Client) Request(ctx context.Context, id types.PeerID, req *types.Request) ([]byte, error) {
	p, ok := c.peer(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPeer, id)
	}
	if err := req.ValidateBasic(); err != nil {
		return nil, err
	}

	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.requestURL(), bytes.NewReader(req.Bytes()))
	if err != nil {
		return nil, err
	}
	hreq.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.http.Do(hreq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", id, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := string(bytes.TrimSpace(body))
		if len(msg) > 256 {
			msg = msg[:256]
		}
		return nil, StatusError{Peer: id, Code: resp.StatusCode, Message: msg}
	}
	if int64(len(body)) > c.cfg.MaxResponseBytes {
		return nil, fmt.Errorf("%w: peer %s sent more than %d bytes", ErrResponseTooLarge, id, c.cfg.MaxResponseBytes)
	}
	c.logger.Debug("peer response", "peer", id, "request", req.String(), "bytes", len(body))
	return body, nil
}
