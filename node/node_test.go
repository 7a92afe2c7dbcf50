package node

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	dbm "github.com/tendermint/tm-db"

	"github.com/josepot/smoldot/config"
	"github.com/josepot/smoldot/crypto/merkle"
	"github.com/josepot/smoldot/internal/checkpoint"
	"github.com/josepot/smoldot/internal/statequery"
	"github.com/josepot/smoldot/internal/test/factory"
	"github.com/josepot/smoldot/libs/log"
	"github.com/josepot/smoldot/p2p/httptransport"
	"github.com/josepot/smoldot/rpc/coretypes"
	rpctypes "github.com/josepot/smoldot/rpc/jsonrpc/types"
	"github.com/josepot/smoldot/types"
)

type fullNode struct {
	kr      *factory.Keyring
	genesis *types.Header
	chain   []*types.Header
	peer    *factory.Peer
	srv     *httptransport.Server
	ts      *httptest.Server
}

// newFullNode serves a chain of n blocks whose genesis state holds a few
// balances.
func newFullNode(t *testing.T, n int) *fullNode {
	t.Helper()
	trie := merkle.NewTrie()
	trie.Set([]byte("balance/alice"), []byte{0x01, 0x00})
	trie.Set([]byte("balance/bob"), []byte{0x02})

	fn := &fullNode{kr: factory.NewKeyring(3)}
	fn.genesis = &types.Header{
		StateRoot:      trie.Root(),
		ExtrinsicsRoot: types.HashBytes([]byte("genesis extrinsics")),
	}
	fn.chain = append([]*types.Header{fn.genesis},
		fn.kr.AuraChain(t, fn.genesis, 1, n, fn.kr.AuthoritySet(0))...)
	fn.peer = factory.NewPeer(fn.chain)
	fn.peer.AddState(trie)

	fn.srv = httptransport.NewServer(log.NewNopLogger(), fn.peer)
	fn.srv.Broadcast(httptransport.NewBlockAnnounce(fn.chain[n]))
	fn.ts = httptest.NewServer(fn.srv)
	t.Cleanup(func() {
		fn.srv.Close()
		fn.ts.Close()
	})
	return fn
}

func (fn *fullNode) chainSpec() *types.ChainSpec {
	return &types.ChainSpec{
		ChainID: "lightnode_test",
		Consensus: types.ConsensusSpec{
			Engine:         types.EngineAura,
			SlotDuration:   "6s",
			MaxFutureSlots: 2,
			Quorum:         "2/3",
		},
		Genesis: types.GenesisSpec{
			StateRoot:      fn.genesis.StateRoot,
			ExtrinsicsRoot: fn.genesis.ExtrinsicsRoot,
			Authorities:    fn.kr.Authorities(),
		},
	}
}

func testConfig(t *testing.T, fn *fullNode) *config.Config {
	t.Helper()
	cfg, err := config.ResetTestRoot(t.TempDir(), t.Name())
	require.NoError(t, err)
	require.NoError(t, fn.chainSpec().SaveAs(cfg.ChainSpecFile()))
	cfg.P2P.Peers = "full@" + fn.ts.URL
	cfg.Sync.JustificationPeriod = 16
	return cfg
}

func startNode(t *testing.T, cfg *config.Config, opts ...Option) *Node {
	t.Helper()
	n, err := New(cfg, log.TestingLogger(), opts...)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, n.Start(ctx))
	t.Cleanup(n.Stop)
	return n
}

func TestNodeStartsFromGenesis(t *testing.T) {
	fn := newFullNode(t, 4)
	cfg := testConfig(t, fn)
	cfg.P2P.Peers = ""

	n := startNode(t, cfg)
	assert.Equal(t, fn.genesis.Hash(), n.GetBestHead().Hash())
	assert.Equal(t, fn.genesis.Hash(), n.GetFinalizedHead().Hash())
	assert.Equal(t, "lightnode_test", n.ChainSpec().ChainID)
	require.NotNil(t, n.RPCAddr())

	n.Stop()
	assert.Nil(t, n.RPCAddr())
}

func TestNodeSyncsAndFinalizes(t *testing.T) {
	fn := newFullNode(t, 20)
	fn.peer.AddJustification(fn.kr.Justification(t, fn.chain[16], 1, 0, 0, 1, 2))

	cfg := testConfig(t, fn)
	cfg.DBBackend = string(dbm.GoLevelDBBackend)
	n := startNode(t, cfg)

	require.Eventually(t, func() bool {
		return n.GetBestHead().Hash() == fn.chain[20].Hash()
	}, 10*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return n.GetFinalizedHead().Number == 16
	}, 10*time.Second, 10*time.Millisecond)
	n.Stop()

	// The finalized head was checkpointed and is trusted on restart.
	cfg.P2P.Peers = ""
	restarted, err := New(cfg, log.TestingLogger())
	require.NoError(t, err)
	assert.Equal(t, fn.chain[16].Hash(), restarted.GetFinalizedHead().Hash())
	assert.Equal(t, fn.chain[16].Hash(), restarted.GetBestHead().Hash())
	restarted.checkpoints.Close()
}

func TestNodeQueriesState(t *testing.T) {
	fn := newFullNode(t, 4)
	cfg := testConfig(t, fn)
	n := startNode(t, cfg)

	require.Eventually(t, func() bool {
		return len(n.Syncer().Peers()) == 1
	}, 10*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := n.QueryState(ctx, []byte("balance/alice"), statequery.Finalized)
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, []byte{0x01, 0x00}, res.Value)
	assert.Equal(t, types.PeerID("full"), res.Peer)

	// The same query over JSON-RPC.
	req, err := rpctypes.ParamsToRequest(rpctypes.JSONRPCIntID(1), "query_state",
		map[string]interface{}{"key": "62616C616E63652F626F62", "root": "finalized"})
	require.NoError(t, err)
	body, err := json.Marshal(req)
	require.NoError(t, err)
	httpResp, err := http.Post("http://"+n.RPCAddr().String(), "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer httpResp.Body.Close()

	var resp rpctypes.RPCResponse
	require.NoError(t, json.NewDecoder(httpResp.Body).Decode(&resp))
	require.Nil(t, resp.Error)
	var result coretypes.ResultQueryState
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	assert.True(t, result.Found)
	assert.Equal(t, []byte{0x02}, []byte(result.Value))
	assert.Equal(t, uint64(0), result.Block.Number)
}

func TestNodeUsesFileCheckpoints(t *testing.T) {
	fn := newFullNode(t, 4)
	cfg := testConfig(t, fn)
	cfg.CheckpointBackend = config.CheckpointBackendFile
	cfg.P2P.Peers = ""

	set := fn.kr.AuthoritySet(0)
	require.NoError(t, checkpoint.NewFileStore(cfg.CheckpointFilePath()).SaveCheckpoint(fn.chain[3], set))

	n, err := New(cfg, log.TestingLogger())
	require.NoError(t, err)
	assert.Equal(t, fn.chain[3].Hash(), n.GetFinalizedHead().Hash())
}

func TestNodeRejectsCorruptCheckpoint(t *testing.T) {
	fn := newFullNode(t, 1)
	cfg := testConfig(t, fn)
	cfg.CheckpointBackend = config.CheckpointBackendFile
	require.NoError(t, os.WriteFile(cfg.CheckpointFilePath(), []byte("garbage"), 0600))

	_, err := New(cfg, log.TestingLogger())
	var perr *checkpoint.PersistenceError
	assert.ErrorAs(t, err, &perr)
}

func TestNodeRejectsMissingChainSpec(t *testing.T) {
	cfg, err := config.ResetTestRoot(t.TempDir(), t.Name())
	require.NoError(t, err)
	require.NoError(t, os.Remove(cfg.ChainSpecFile()))

	_, err = New(cfg, log.TestingLogger())
	assert.Error(t, err)
}
