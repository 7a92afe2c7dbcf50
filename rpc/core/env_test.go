package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josepot/smoldot/config"
	"github.com/josepot/smoldot/internal/blocksync"
	"github.com/josepot/smoldot/internal/statequery"
	"github.com/josepot/smoldot/internal/test/factory"
	"github.com/josepot/smoldot/libs/log"
	"github.com/josepot/smoldot/rpc/coretypes"
	rpctypes "github.com/josepot/smoldot/rpc/jsonrpc/types"
	"github.com/josepot/smoldot/types"
)

type fakeChain struct {
	best, finalized *types.Header
	set             *types.AuthoritySet
	peers           []blocksync.PeerInfo
}

func (c *fakeChain) BestHead() *types.Header          { return c.best }
func (c *fakeChain) FinalizedHead() *types.Header     { return c.finalized }
func (c *fakeChain) Authorities() *types.AuthoritySet { return c.set }
func (c *fakeChain) Status() blocksync.Status         { return blocksync.Syncing }
func (c *fakeChain) Peers() []blocksync.PeerInfo      { return c.peers }

type fakeQuerier struct {
	mtx    sync.Mutex
	key    []byte
	choice statequery.RootChoice
	res    *statequery.Result
	err    error
	block  bool
}

func (q *fakeQuerier) QueryState(ctx context.Context, key []byte, choice statequery.RootChoice) (*statequery.Result, error) {
	q.mtx.Lock()
	q.key, q.choice = key, choice
	res, err, block := q.res, q.err, q.block
	q.mtx.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return res, err
}

func testEnv(t *testing.T) (*Environment, *fakeChain, *fakeQuerier) {
	kr := factory.NewKeyring(3)
	set := kr.AuthoritySet(4)
	genesis := factory.Genesis()
	chain := kr.AuraChain(t, genesis, 1, 3, set)

	fc := &fakeChain{
		best:      chain[2],
		finalized: chain[0],
		set:       set,
		peers: []blocksync.PeerInfo{
			{ID: "alice", BestNumber: 3, BestHash: chain[2].Hash(), Priority: 64},
			{ID: "bob", BestNumber: 2, BestHash: chain[1].Hash(), Priority: 8, InFlight: 1},
		},
	}
	fq := &fakeQuerier{res: &statequery.Result{Header: chain[0], Value: []byte("42"), Found: true, Peer: "alice"}}

	cfg := config.TestRPCConfig()
	cfg.TimeoutQuery = 100 * time.Millisecond
	env := &Environment{
		Chain:      fc,
		StateQuery: fq,
		ChainID:    "test-chain",
		Moniker:    "tester",
		Config:     *cfg,
		Logger:     log.NewNopLogger(),
	}
	return env, fc, fq
}

func call(t *testing.T, h http.Handler, method string, params interface{}, result interface{}) *rpctypes.RPCError {
	t.Helper()
	req, err := rpctypes.ParamsToRequest(rpctypes.JSONRPCIntID(1), method, params)
	require.NoError(t, err)
	body, err := json.Marshal(req)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp rpctypes.RPCResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	if resp.Error != nil {
		return resp.Error
	}
	require.NoError(t, json.Unmarshal(resp.Result, result))
	return nil
}

func TestHeads(t *testing.T) {
	env, fc, _ := testEnv(t)
	h := NewServer(env).Handler()

	var best coretypes.ResultHeader
	require.Nil(t, call(t, h, "best_head", nil, &best))
	assert.Equal(t, fc.best.Hash(), best.Hash)
	assert.EqualValues(t, 3, best.Number)
	decoded, err := types.DecodeHeader(best.Encoded)
	require.NoError(t, err)
	assert.Equal(t, fc.best.Hash(), decoded.Hash())

	var fin coretypes.ResultHeader
	require.Nil(t, call(t, h, "finalized_head", []interface{}{}, &fin))
	assert.Equal(t, fc.finalized.Hash(), fin.Hash)
	assert.Equal(t, fc.finalized.ParentHash, fin.ParentHash)
}

func TestStatusAndPeers(t *testing.T) {
	env, fc, _ := testEnv(t)
	h := NewServer(env).Handler()

	var status coretypes.ResultStatus
	require.Nil(t, call(t, h, "status", nil, &status))
	assert.Equal(t, "test-chain", status.ChainID)
	assert.Equal(t, "tester", status.Moniker)
	assert.Equal(t, "Syncing", status.SyncStatus)
	assert.EqualValues(t, 4, status.AuthoritySetID)
	assert.Equal(t, 2, status.NumPeers)
	assert.Equal(t, fc.best.Hash(), status.BestHead.Hash)
	assert.Equal(t, fc.finalized.Hash(), status.FinalizedHead.Hash)

	var peers coretypes.ResultPeers
	require.Nil(t, call(t, h, "peers", nil, &peers))
	require.Len(t, peers.Peers, 2)
	assert.Equal(t, coretypes.Peer{
		ID: "bob", BestNumber: 2, BestHash: fc.peers[1].BestHash, Priority: 8, InFlight: 1,
	}, peers.Peers[1])
}

func TestQueryState(t *testing.T) {
	env, fc, fq := testEnv(t)
	h := NewServer(env).Handler()

	var res coretypes.ResultQueryState
	require.Nil(t, call(t, h, "query_state", map[string]string{"key": "62616C", "root": "best"}, &res))
	assert.Equal(t, []byte("bal"), fq.key)
	assert.Equal(t, statequery.Best, fq.choice)
	assert.Equal(t, []byte("42"), []byte(res.Value))
	assert.True(t, res.Found)
	assert.Equal(t, types.PeerID("alice"), res.Peer)
	assert.Equal(t, fc.finalized.Hash(), res.Block.Hash)

	require.Nil(t, call(t, h, "query_state", []string{"62616C"}, &res))
	assert.Equal(t, statequery.Finalized, fq.choice, "finalized by default")

	rpcErr := call(t, h, "query_state", map[string]string{"key": "62616C", "root": "latest"}, &res)
	require.NotNil(t, rpcErr)
	assert.Equal(t, int(rpctypes.CodeInvalidParams), rpcErr.Code)

	rpcErr = call(t, h, "query_state", map[string]string{"key": ""}, &res)
	require.NotNil(t, rpcErr)
	assert.Equal(t, int(rpctypes.CodeInvalidParams), rpcErr.Code)

	fq.mtx.Lock()
	fq.err = statequery.ErrQueryFailed{Attempts: 3, LastErr: errors.New("root mismatch")}
	fq.mtx.Unlock()
	rpcErr = call(t, h, "query_state", map[string]string{"key": "62616C"}, &res)
	require.NotNil(t, rpcErr)
	assert.Equal(t, int(rpctypes.CodeServerError), rpcErr.Code)
	assert.Contains(t, rpcErr.Data, "root mismatch")

	fq.mtx.Lock()
	fq.block = true
	fq.mtx.Unlock()
	rpcErr = call(t, h, "query_state", map[string]string{"key": "62616C"}, &res)
	require.NotNil(t, rpcErr)
	assert.Contains(t, rpcErr.Data, "timed out")
}

func TestServer(t *testing.T) {
	defer leaktest.CheckTimeout(t, 10*time.Second)()

	env, fc, _ := testEnv(t)
	env.Config.CORSAllowedOrigins = []string{"*"}
	srv := NewServer(env)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, srv.Start(ctx))

	addr := srv.Addr().String()
	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	hreq, err := http.NewRequest(http.MethodPost, "http://"+addr,
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"best_head"}`))
	require.NoError(t, err)
	hreq.Header.Set("Origin", "http://example.org")
	resp, err := client.Do(hreq)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	var rpcResp rpctypes.RPCResponse
	require.NoError(t, json.Unmarshal(body, &rpcResp))
	var best coretypes.ResultHeader
	require.NoError(t, json.Unmarshal(rpcResp.Result, &best))
	assert.Equal(t, fc.best.Hash(), best.Hash)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/websocket", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.WriteJSON(rpctypes.NewRPCRequest(rpctypes.JSONRPCStringID("ws"), "finalized_head", nil)))
	var wsResp rpctypes.RPCResponse
	require.NoError(t, conn.ReadJSON(&wsResp))
	var fin coretypes.ResultHeader
	require.NoError(t, json.Unmarshal(wsResp.Result, &fin))
	assert.Equal(t, fc.finalized.Hash(), fin.Hash)

	srv.Stop()
	_, _, err = conn.ReadMessage()
	assert.Error(t, err, "stopping the server closes websockets")
}
