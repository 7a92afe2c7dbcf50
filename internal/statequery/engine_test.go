package statequery_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/josepot/smoldot/crypto/merkle"
	"github.com/josepot/smoldot/internal/blocksync"
	"github.com/josepot/smoldot/internal/blocksync/mocks"
	"github.com/josepot/smoldot/internal/statequery"
	"github.com/josepot/smoldot/libs/log"
	"github.com/josepot/smoldot/types"
)

type fakeChain struct {
	best, finalized *types.Header
	peers           []blocksync.PeerInfo

	mtx     sync.Mutex
	reports map[types.PeerID][]bool
}

func (c *fakeChain) BestHead() *types.Header      { return c.best }
func (c *fakeChain) FinalizedHead() *types.Header { return c.finalized }

func (c *fakeChain) PeersAtLeast(number uint64) []blocksync.PeerInfo {
	var out []blocksync.PeerInfo
	for _, p := range c.peers {
		if p.BestNumber >= number {
			out = append(out, p)
		}
	}
	return out
}

func (c *fakeChain) ReportPeer(peerID types.PeerID, ok bool) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.reports[peerID] = append(c.reports[peerID], ok)
}

func newTrie() *merkle.Trie {
	trie := merkle.NewTrie()
	trie.Set([]byte("balance/alice"), []byte{0x01, 0x00})
	trie.Set([]byte("balance/bob"), []byte{0x02})
	trie.Set([]byte("code"), []byte("wasm"))
	return trie
}

func newFakeChain(finRoot, bestRoot types.Hash, peers ...blocksync.PeerInfo) *fakeChain {
	return &fakeChain{
		finalized: &types.Header{Number: 10, StateRoot: finRoot},
		best:      &types.Header{Number: 12, StateRoot: bestRoot},
		peers:     peers,
		reports:   make(map[types.PeerID][]bool),
	}
}

func proofFor(trie *merkle.Trie, key []byte) []byte {
	return types.StateProof(trie.Prove(key)).Bytes()
}

func newEngine(t *testing.T, chain statequery.Chain, transport blocksync.Transport) *statequery.Engine {
	t.Helper()
	cfg := statequery.DefaultConfig()
	cfg.RequestTimeout = time.Second
	e, err := statequery.NewEngine(log.NewNopLogger(), cfg, chain, transport)
	require.NoError(t, err)
	return e
}

func TestQueryStateFinalized(t *testing.T) {
	trie := newTrie()
	chain := newFakeChain(trie.Root(), types.Hash{}, blocksync.PeerInfo{ID: "p1", BestNumber: 10})
	key := []byte("balance/alice")

	transport := &mocks.Transport{}
	transport.On("Request", mock.Anything, types.PeerID("p1"), mock.MatchedBy(func(req *types.Request) bool {
		return req.Kind == types.RequestStateProof && req.BlockHash == chain.finalized.Hash()
	})).Return(proofFor(trie, key), nil)

	res, err := newEngine(t, chain, transport).QueryState(context.Background(), key, statequery.Finalized)
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, []byte{0x01, 0x00}, res.Value)
	assert.Equal(t, chain.finalized, res.Header)
	assert.Equal(t, types.PeerID("p1"), res.Peer)
	assert.Equal(t, []bool{true}, chain.reports["p1"])
	transport.AssertExpectations(t)
}

func TestQueryStateProvesAbsence(t *testing.T) {
	trie := newTrie()
	chain := newFakeChain(types.Hash{}, trie.Root(), blocksync.PeerInfo{ID: "p1", BestNumber: 12})
	key := []byte("balance/carol")

	transport := &mocks.Transport{}
	transport.On("Request", mock.Anything, types.PeerID("p1"), mock.Anything).Return(proofFor(trie, key), nil)

	res, err := newEngine(t, chain, transport).QueryState(context.Background(), key, statequery.Best)
	require.NoError(t, err)
	assert.False(t, res.Found)
	assert.Nil(t, res.Value)
	assert.Equal(t, chain.best, res.Header)
}

func TestQueryStateRetriesAnotherPeer(t *testing.T) {
	trie := newTrie()
	other := merkle.NewTrie()
	other.Set([]byte("balance/alice"), []byte{0xff})
	key := []byte("balance/alice")

	chain := newFakeChain(trie.Root(), types.Hash{},
		blocksync.PeerInfo{ID: "liar", BestNumber: 20},
		blocksync.PeerInfo{ID: "honest", BestNumber: 20},
	)
	transport := &mocks.Transport{}
	transport.On("Request", mock.Anything, types.PeerID("liar"), mock.Anything).Return(proofFor(other, key), nil)
	transport.On("Request", mock.Anything, types.PeerID("honest"), mock.Anything).Return(proofFor(trie, key), nil)

	res, err := newEngine(t, chain, transport).QueryState(context.Background(), key, statequery.Finalized)
	require.NoError(t, err)
	assert.Equal(t, types.PeerID("honest"), res.Peer)
	assert.Equal(t, []byte{0x01, 0x00}, res.Value)
	assert.Equal(t, []bool{false}, chain.reports["liar"])
	assert.Equal(t, []bool{true}, chain.reports["honest"])
}

func TestQueryStateFailures(t *testing.T) {
	trie := newTrie()
	key := []byte("code")

	t.Run("no peers", func(t *testing.T) {
		chain := newFakeChain(trie.Root(), trie.Root(), blocksync.PeerInfo{ID: "p1", BestNumber: 9})
		_, err := newEngine(t, chain, &mocks.Transport{}).QueryState(context.Background(), key, statequery.Finalized)
		assert.ErrorIs(t, err, statequery.ErrNoPeers)
	})

	t.Run("empty key", func(t *testing.T) {
		chain := newFakeChain(trie.Root(), trie.Root())
		_, err := newEngine(t, chain, &mocks.Transport{}).QueryState(context.Background(), nil, statequery.Finalized)
		assert.ErrorIs(t, err, statequery.ErrEmptyKey)
	})

	t.Run("wrong root", func(t *testing.T) {
		chain := newFakeChain(types.HashBytes([]byte("other root")), types.Hash{},
			blocksync.PeerInfo{ID: "p1", BestNumber: 10})
		transport := &mocks.Transport{}
		transport.On("Request", mock.Anything, mock.Anything, mock.Anything).Return(proofFor(trie, key), nil)

		_, err := newEngine(t, chain, transport).QueryState(context.Background(), key, statequery.Finalized)
		var qerr statequery.ErrQueryFailed
		require.ErrorAs(t, err, &qerr)
		assert.Equal(t, 1, qerr.Attempts)
		assert.ErrorIs(t, err, merkle.ErrRootMismatch)
		assert.Equal(t, []bool{false}, chain.reports["p1"])
	})

	t.Run("attempts are bounded", func(t *testing.T) {
		var peers []blocksync.PeerInfo
		for _, id := range []types.PeerID{"a", "b", "c", "d", "e"} {
			peers = append(peers, blocksync.PeerInfo{ID: id, BestNumber: 10})
		}
		chain := newFakeChain(trie.Root(), types.Hash{}, peers...)
		transport := &mocks.Transport{}
		transport.On("Request", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("unreachable"))

		_, err := newEngine(t, chain, transport).QueryState(context.Background(), key, statequery.Finalized)
		var qerr statequery.ErrQueryFailed
		require.ErrorAs(t, err, &qerr)
		assert.Equal(t, statequery.DefaultConfig().MaxAttempts, qerr.Attempts)
		transport.AssertNumberOfCalls(t, "Request", statequery.DefaultConfig().MaxAttempts)
		assert.Empty(t, chain.reports["d"])
	})

	t.Run("malformed payload", func(t *testing.T) {
		chain := newFakeChain(trie.Root(), types.Hash{}, blocksync.PeerInfo{ID: "p1", BestNumber: 10})
		transport := &mocks.Transport{}
		transport.On("Request", mock.Anything, mock.Anything, mock.Anything).Return([]byte{0xff, 0xff}, nil)

		_, err := newEngine(t, chain, transport).QueryState(context.Background(), key, statequery.Finalized)
		assert.Error(t, err)
		assert.Equal(t, []bool{false}, chain.reports["p1"])
	})
}

func TestQueryStateCancelled(t *testing.T) {
	trie := newTrie()
	chain := newFakeChain(trie.Root(), types.Hash{},
		blocksync.PeerInfo{ID: "p1", BestNumber: 10},
		blocksync.PeerInfo{ID: "p2", BestNumber: 10},
	)
	ctx, cancel := context.WithCancel(context.Background())

	transport := &mocks.Transport{}
	transport.On("Request", mock.Anything, types.PeerID("p1"), mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(nil, context.Canceled)

	_, err := newEngine(t, chain, transport).QueryState(ctx, []byte("code"), statequery.Finalized)
	assert.ErrorIs(t, err, context.Canceled)
	transport.AssertNumberOfCalls(t, "Request", 1)
	assert.Empty(t, chain.reports, "a cancelled query blames nobody")
}

func TestParseRootChoice(t *testing.T) {
	for in, want := range map[string]statequery.RootChoice{
		"":          statequery.Finalized,
		"finalized": statequery.Finalized,
		"best":      statequery.Best,
	} {
		got, err := statequery.ParseRootChoice(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		if in != "" {
			assert.Equal(t, in, got.String())
		}
	}
	_, err := statequery.ParseRootChoice("latest")
	assert.Error(t, err)
}
