package httptransport

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josepot/smoldot/internal/blocksync"
	"github.com/josepot/smoldot/internal/finality"
	"github.com/josepot/smoldot/internal/test/factory"
	"github.com/josepot/smoldot/libs/log"
	"github.com/josepot/smoldot/types"
)

func testConfig() Config {
	return Config{
		DialTimeout:       time.Second,
		ReconnectInterval: 50 * time.Millisecond,
		MaxResponseBytes:  1 << 20,
	}
}

func testChain(t *testing.T) (*factory.Keyring, []*types.Header) {
	kr := factory.NewKeyring(3)
	genesis := factory.Genesis()
	chain := append([]*types.Header{genesis}, kr.AuraChain(t, genesis, 1, 5, kr.AuthoritySet(0))...)
	return kr, chain
}

func TestParsePeer(t *testing.T) {
	testCases := []struct {
		addr  string
		peer  Peer
		valid bool
	}{
		{"alice@http://127.0.0.1:30333", Peer{ID: "alice", URL: "http://127.0.0.1:30333"}, true},
		{" bob@https://node.example.org/ ", Peer{ID: "bob", URL: "https://node.example.org"}, true},
		{"http://127.0.0.1:30333", Peer{}, false},
		{"@http://127.0.0.1:30333", Peer{}, false},
		{"alice@ftp://127.0.0.1", Peer{}, false},
		{"alice@http://", Peer{}, false},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.addr, func(t *testing.T) {
			p, err := ParsePeer(tc.addr)
			if !tc.valid {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.peer, p)
		})
	}

	_, err := ParsePeers([]string{"a@http://x:1", "a@http://y:2"})
	assert.Error(t, err, "duplicate ids")

	p, err := ParsePeer("alice@https://node.example.org")
	require.NoError(t, err)
	assert.Equal(t, "wss://node.example.org/announce", p.announceURL())
}

func TestMessageEncoding(t *testing.T) {
	kr, chain := testChain(t)
	j := kr.Justification(t, chain[2], 1, 0, 0, 1, 2)
	vote := &types.CommitVote{Round: 3, SetID: 0, Precommit: kr.Precommit(t, 1, chain[3], 3, 0)}

	for _, m := range []*Message{NewBlockAnnounce(chain[4]), NewJustificationMessage(j), NewCommitVoteMessage(vote)} {
		got, err := DecodeMessage(m.Bytes())
		require.NoError(t, err, m.Kind.String())
		assert.Equal(t, m.Kind, got.Kind)
		assert.Equal(t, m.Bytes(), got.Bytes())
	}

	_, err := DecodeMessage([]byte{9, 0})
	assert.ErrorIs(t, err, types.ErrMalformedEncoding)
	_, err = DecodeMessage(nil)
	assert.ErrorIs(t, err, types.ErrMalformedEncoding)
}

func TestClientRequest(t *testing.T) {
	_, chain := testChain(t)
	ts := httptest.NewServer(NewServer(log.NewNopLogger(), factory.NewPeer(chain)))
	defer ts.Close()

	client := NewClient(log.NewNopLogger(), testConfig(), Peer{ID: "full", URL: ts.URL})
	ctx := context.Background()

	bz, err := client.Request(ctx, "full", types.NewHeadersRequestByNumber(2, 3, false, false))
	require.NoError(t, err)
	resp, err := types.DecodeHeadersResponse(bz)
	require.NoError(t, err)
	require.Len(t, resp.Blocks, 3)
	for i, b := range resp.Blocks {
		assert.Equal(t, chain[2+i].Hash(), b.Header.Hash())
	}

	_, err = client.Request(ctx, "stranger", types.NewJustificationRequest(chain[1].Hash()))
	assert.ErrorIs(t, err, ErrUnknownPeer)

	_, err = client.Request(ctx, "full", types.NewJustificationRequest(chain[1].Hash()))
	var statusErr StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, 404, statusErr.Code)

	small := testConfig()
	small.MaxResponseBytes = 16
	client = NewClient(log.NewNopLogger(), small, Peer{ID: "full", URL: ts.URL})
	_, err = client.Request(ctx, "full", types.NewHeadersRequestByNumber(0, 6, false, false))
	assert.ErrorIs(t, err, ErrResponseTooLarge)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = client.Request(cctx, "full", types.NewHeadersRequestByNumber(0, 1, false, false))
	assert.ErrorIs(t, err, context.Canceled)
}

type handlerCall struct {
	method string
	peer   types.PeerID
	number uint64
}

type recordingHandler struct {
	mtx   sync.Mutex
	calls []handlerCall
}

func (h *recordingHandler) record(c handlerCall) {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	h.calls = append(h.calls, c)
}

func (h *recordingHandler) has(method string, number uint64) bool {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	for _, c := range h.calls {
		if c.method == method && c.number == number {
			return true
		}
	}
	return false
}

func (h *recordingHandler) AddPeer(id types.PeerID, number uint64, _ types.Hash) error {
	h.record(handlerCall{"AddPeer", id, number})
	return nil
}

func (h *recordingHandler) RemovePeer(id types.PeerID) {
	h.record(handlerCall{"RemovePeer", id, 0})
}

func (h *recordingHandler) SubmitPeerAnnouncement(id types.PeerID, hdr *types.Header) (blocksync.AnnounceOutcome, error) {
	h.record(handlerCall{"SubmitPeerAnnouncement", id, hdr.Number})
	return blocksync.Imported, nil
}

func (h *recordingHandler) SubmitJustification(id types.PeerID, j *types.Justification) (*finality.Finalization, error) {
	h.record(handlerCall{"SubmitJustification", id, j.TargetNumber})
	return nil, nil
}

func (h *recordingHandler) SubmitCommitVote(
	id types.PeerID,
	round, _ uint64,
	_ types.SignedPrecommit,
) (*finality.Finalization, error) {
	h.record(handlerCall{"SubmitCommitVote", id, round})
	return nil, errors.New("ignored")
}

func TestAnnouncerDeliversGossip(t *testing.T) {
	defer leaktest.CheckTimeout(t, 10*time.Second)()

	kr, chain := testChain(t)
	srv := NewServer(log.NewNopLogger(), factory.NewPeer(chain))
	ts := httptest.NewServer(srv)
	defer ts.Close()
	srv.Broadcast(NewBlockAnnounce(chain[3]))

	handler := &recordingHandler{}
	a := NewAnnouncer(log.NewNopLogger(), testConfig(), handler, Peer{ID: "full", URL: ts.URL})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))

	waitFor := func(method string, number uint64) {
		t.Helper()
		require.Eventually(t, func() bool { return handler.has(method, number) },
			5*time.Second, 10*time.Millisecond, "%s %d", method, number)
	}
	waitFor("AddPeer", 3)
	waitFor("SubmitPeerAnnouncement", 3)
	require.Eventually(t, func() bool { return srv.NumConns() == 1 }, 5*time.Second, 10*time.Millisecond)

	srv.Broadcast(NewBlockAnnounce(chain[5]))
	srv.Broadcast(NewJustificationMessage(kr.Justification(t, chain[4], 1, 0, 0, 1, 2)))
	srv.Broadcast(NewCommitVoteMessage(&types.CommitVote{Round: 7, Precommit: kr.Precommit(t, 0, chain[5], 7, 0)}))
	waitFor("SubmitPeerAnnouncement", 5)
	waitFor("SubmitJustification", 4)
	waitFor("SubmitCommitVote", 7)

	srv.Close()
	waitFor("RemovePeer", 0)

	// The announcer reconnects and learns the latest best block.
	require.Eventually(t, func() bool { return srv.NumConns() == 1 }, 5*time.Second, 10*time.Millisecond)
	waitFor("AddPeer", 5)

	a.Stop()
	require.Eventually(t, func() bool { return srv.NumConns() == 0 }, 5*time.Second, 10*time.Millisecond)
}
