package core

import (
	"context"
	"net"
	"net/http"

	"github.com/rs/cors"

	"github.com/josepot/smoldot/config"
	"github.com/josepot/smoldot/internal/blocksync"
	"github.com/josepot/smoldot/internal/statequery"
	"github.com/josepot/smoldot/libs/log"
	"github.com/josepot/smoldot/libs/service"
	rpcserver "github.com/josepot/smoldot/rpc/jsonrpc/server"
	"github.com/josepot/smoldot/types"
)

// Chain is the part of the syncer the RPC methods read.
type Chain interface {
	BestHead() *types.Header
	FinalizedHead() *types.Header
	Authorities() *types.AuthoritySet
	Status() blocksync.Status
	Peers() []blocksync.PeerInfo
}

var _ Chain = (*blocksync.Syncer)(nil)

// StateQuerier fetches verified storage values.
type StateQuerier interface {
	QueryState(ctx context.Context, key []byte, choice statequery.RootChoice) (*statequery.Result, error)
}

var _ StateQuerier = (*statequery.Engine)(nil)

// Environment contains the objects and interfaces used by the RPC methods.
type Environment struct {
	Chain      Chain
	StateQuery StateQuerier

	ChainID string
	Moniker string
	Config  config.RPCConfig
	Logger  log.Logger
}

// Server serves the Environment's methods.
type Server struct {
	service.BaseService

	env      *Environment
	logger   log.Logger
	listener net.Listener
	wm       *rpcserver.WebsocketManager
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewServer returns a server for env. It listens once started.
func NewServer(env *Environment) *Server {
	s := &Server{env: env, logger: env.Logger}
	s.BaseService = *service.NewBaseService(env.Logger, "RPCServer", s)
	return s
}

// Handler returns the http handler serving every route, wrapped for CORS
// when origins are configured.
func (s *Server) Handler() http.Handler {
	routes := s.env.GetRoutes()
	mux := http.NewServeMux()

	s.wm = rpcserver.NewWebsocketManager(s.logger, routes,
		rpcserver.ReadLimit(s.env.Config.MaxBodyBytes))
	mux.HandleFunc("/websocket", s.wm.WebsocketHandler)
	rpcserver.RegisterRPCFuncs(mux, routes, s.logger)

	var handler http.Handler = mux
	if s.env.Config.IsCorsEnabled() {
		corsMiddleware := cors.New(cors.Options{
			AllowedOrigins: s.env.Config.CORSAllowedOrigins,
			AllowedMethods: s.env.Config.CORSAllowedMethods,
			AllowedHeaders: s.env.Config.CORSAllowedHeaders,
		})
		handler = corsMiddleware.Handler(mux)
	}
	return handler
}

// OnStart listens on the configured address and serves until stopped.
func (s *Server) OnStart(ctx context.Context) error {
	cfg := rpcserver.DefaultConfig()
	cfg.MaxBodyBytes = s.env.Config.MaxBodyBytes
	cfg.MaxHeaderBytes = s.env.Config.MaxHeaderBytes
	// The query timeout must not be cut short by the write timeout.
	if cfg.WriteTimeout <= s.env.Config.TimeoutQuery {
		cfg.WriteTimeout = s.env.Config.TimeoutQuery + cfg.WriteTimeout
	}

	listener, err := rpcserver.Listen(s.env.Config.ListenAddress, s.env.Config.MaxOpenConnections)
	if err != nil {
		return err
	}
	s.listener = listener
	handler := s.Handler()

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		if err := rpcserver.Serve(ctx, listener, handler, s.logger, cfg); err != nil {
			s.logger.Error("error serving RPC", "err", err)
		}
		s.wm.CloseAll()
	}()
	return nil
}

// OnStop shuts the HTTP server down and closes every websocket.
func (s *Server) OnStop() {
	s.cancel()
	<-s.done
}

// Addr returns the address the server listens on.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}
