package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/josepot/smoldot/libs/log"
	rpctypes "github.com/josepot/smoldot/rpc/jsonrpc/types"
)

// WebSocket handler

const (
	defaultWSWriteWait = 10 * time.Second
	defaultWSReadLimit = 1 << 20
)

// WebsocketManager provides a WS handler for incoming connections and passes
// a map of functions along with any additional params to new connections.
// NOTE: The websocket path is defined externally, in rpc/core.
type WebsocketManager struct {
	websocket.Upgrader

	funcMap   map[string]*RPCFunc
	logger    log.Logger
	readLimit int64
	writeWait time.Duration

	mtx   sync.Mutex
	conns map[*websocket.Conn]context.CancelFunc
	wg    sync.WaitGroup
}

// NewWebsocketManager returns a new WebsocketManager that passes a map of
// functions to new connections.
func NewWebsocketManager(logger log.Logger, funcMap map[string]*RPCFunc, options ...func(*WebsocketManager)) *WebsocketManager {
	wm := &WebsocketManager{
		funcMap: funcMap,
		Upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:    logger,
		readLimit: defaultWSReadLimit,
		writeWait: defaultWSWriteWait,
		conns:     make(map[*websocket.Conn]context.CancelFunc),
	}
	for _, option := range options {
		option(wm)
	}
	return wm
}

// ReadLimit sets the maximum size for reading message.
// It should only be used in the constructor - not Goroutine-safe.
func ReadLimit(readLimit int64) func(*WebsocketManager) {
	return func(wm *WebsocketManager) {
		wm.readLimit = readLimit
	}
}

// WriteWait sets the amount of time to wait before a websocket write times out.
// It should only be used in the constructor - not Goroutine-safe.
func WriteWait(writeWait time.Duration) func(*WebsocketManager) {
	return func(wm *WebsocketManager) {
		wm.writeWait = writeWait
	}
}

// WebsocketHandler upgrades the request/response (via http.Hijack) and serves
// JSON-RPC requests on the connection until it closes.
func (wm *WebsocketManager) WebsocketHandler(w http.ResponseWriter, r *http.Request) {
	wsConn, err := wm.Upgrade(w, r, nil)
	if err != nil {
		wm.logger.Error("Failed to upgrade connection", "err", err)
		return
	}
	wsConn.SetReadLimit(wm.readLimit)

	ctx, cancel := context.WithCancel(context.Background())
	wm.mtx.Lock()
	wm.conns[wsConn] = cancel
	wm.wg.Add(1)
	wm.mtx.Unlock()

	defer func() {
		wm.mtx.Lock()
		delete(wm.conns, wsConn)
		wm.mtx.Unlock()
		cancel()
		wsConn.Close()
		wm.wg.Done()
	}()

	remote := wsConn.RemoteAddr().String()
	wm.logger.Debug("New websocket connection", "remote", remote)
	wm.serve(ctx, wsConn)
	wm.logger.Debug("Websocket connection closed", "remote", remote)
}

func (wm *WebsocketManager) serve(ctx context.Context, conn *websocket.Conn) {
	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if typ != websocket.TextMessage {
			continue
		}

		var resp rpctypes.RPCResponse
		var req rpctypes.RPCRequest
		if err := json.Unmarshal(data, &req); err != nil {
			resp = rpctypes.RPCRequest{}.MakeErrorf(rpctypes.CodeParseError, "decoding request: %v", err)
		} else if req.IsNotification() {
			wm.logger.Debug("Ignoring websocket notification", "req", req.String())
			continue
		} else {
			resp = callFunc(ctx, wm.funcMap, req)
		}

		if err := conn.SetWriteDeadline(time.Now().Add(wm.writeWait)); err != nil {
			return
		}
		if err := conn.WriteJSON(resp); err != nil {
			wm.logger.Debug("Failed to write websocket response", "err", err)
			return
		}
	}
}

// CloseAll closes every open connection and waits for their handlers to
// return.
func (wm *WebsocketManager) CloseAll() {
	wm.mtx.Lock()
	for conn, cancel := range wm.conns {
		cancel()
		conn.Close()
	}
	wm.mtx.Unlock()
	wm.wg.Wait()
}
