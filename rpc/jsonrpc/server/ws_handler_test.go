package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josepot/smoldot/libs/log"
	rpctypes "github.com/josepot/smoldot/rpc/jsonrpc/types"
)

func TestWebsocketManager(t *testing.T) {
	defer leaktest.CheckTimeout(t, 10*time.Second)()

	wm := NewWebsocketManager(log.NewNopLogger(), testFuncMap(), ReadLimit(4096), WriteWait(time.Second))
	mux := http.NewServeMux()
	mux.HandleFunc("/websocket", wm.WebsocketHandler)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/websocket"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	req, err := rpctypes.ParamsToRequest(rpctypes.JSONRPCIntID(3), "echo", echoArgs{Value: "ws", Times: 2})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(req))

	var resp rpctypes.RPCResponse
	require.NoError(t, conn.ReadJSON(&resp))
	require.Nil(t, resp.Error)
	assert.Equal(t, rpctypes.JSONRPCIntID(3), resp.ID)
	assert.JSONEq(t, `"wsws"`, string(resp.Result))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","id":4,"method":"nope"}`)))
	require.NoError(t, conn.ReadJSON(&resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, int(rpctypes.CodeMethodNotFound), resp.Error.Code)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	require.NoError(t, conn.ReadJSON(&resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, int(rpctypes.CodeParseError), resp.Error.Code)

	wm.CloseAll()
	_, _, err = conn.ReadMessage()
	assert.Error(t, err, "server closed the connection")
}
