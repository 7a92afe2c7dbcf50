package httptransport

import (
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/josepot/smoldot/libs/log"
	"github.com/josepot/smoldot/types"
)

const (
	maxRequestBytes = 1 << 20
	writeWait       = 5 * time.Second
)

// Backend answers peer requests.
type Backend interface {
	HandleRequest(req *types.Request) ([]byte, error)
}

// Server is the full node side of the transport: it answers requests from a
// Backend and pushes broadcast messages to every announce websocket.
type Server struct {
	logger   log.Logger
	backend  Backend
	upgrader websocket.Upgrader
	mux      *http.ServeMux

	mtx   sync.Mutex
	best  *Message
	conns map[*websocket.Conn]struct{}
}

func NewServer(logger log.Logger, backend Backend) *Server {
	s := &Server{
		logger:  logger,
		backend: backend,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		mux:   http.NewServeMux(),
		conns: make(map[*websocket.Conn]struct{}),
	}
	s.mux.HandleFunc(RequestPath, s.handleRequest)
	s.mux.HandleFunc(AnnouncePath, s.handleAnnounce)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Broadcast sends m to every connected peer. A block announcement also
// becomes the first message of future connections.
func (s *Server) Broadcast(m *Message) {
	bz := m.Bytes()
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if m.Kind == BlockAnnounce {
		s.best = m
	}
	for conn := range s.conns {
		if err := s.write(conn, bz); err != nil {
			s.logger.Debug("dropping announce connection", "remote", conn.RemoteAddr().String(), "err", err)
			conn.Close()
			delete(s.conns, conn)
		}
	}
}

// NumConns returns the number of open announce websockets.
func (s *Server) NumConns() int {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return len(s.conns)
}

// Close drops every announce websocket.
func (s *Server) Close() {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	for conn := range s.conns {
		conn.Close()
		delete(s.conns, conn)
	}
}

func (s *Server) write(conn *websocket.Conn, bz []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.BinaryMessage, bz)
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req, err := types.DecodeRequest(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	resp, err := s.backend.HandleRequest(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(resp)
}

func (s *Server) handleAnnounce(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("failed to upgrade announce connection", "err", err)
		return
	}

	s.mtx.Lock()
	if s.best != nil {
		if err := s.write(conn, s.best.Bytes()); err != nil {
			s.mtx.Unlock()
			conn.Close()
			return
		}
	}
	s.conns[conn] = struct{}{}
	s.mtx.Unlock()

	// Peers never send anything; reading only notices the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	s.mtx.Lock()
	delete(s.conns, conn)
	s.mtx.Unlock()
	conn.Close()
}
