package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/josepot/smoldot/config"
	"github.com/josepot/smoldot/internal/blocksync"
	"github.com/josepot/smoldot/internal/checkpoint"
	"github.com/josepot/smoldot/internal/consensus"
	"github.com/josepot/smoldot/internal/finality"
	"github.com/josepot/smoldot/internal/statequery"
	"github.com/josepot/smoldot/internal/store"
	"github.com/josepot/smoldot/libs/log"
	"github.com/josepot/smoldot/libs/service"
	"github.com/josepot/smoldot/p2p/httptransport"
	rpccore "github.com/josepot/smoldot/rpc/core"
	rpcserver "github.com/josepot/smoldot/rpc/jsonrpc/server"
	"github.com/josepot/smoldot/types"
)

// Node is the light node: it follows the chain described by the chain spec,
// keeps its finalized head checkpointed and serves verified state over RPC.
type Node struct {
	service.BaseService

	config *config.Config
	logger log.Logger
	spec   *types.ChainSpec

	checkpoints checkpoint.Store
	syncer      *blocksync.Syncer
	client      *httptransport.Client
	announcer   *httptransport.Announcer
	queries     *statequery.Engine
	rpcServer   *rpccore.Server

	prometheusSrv *http.Server
	cancel        context.CancelFunc
}

// Option sets a parameter for the node.
type Option func(*options)

type options struct {
	dbProvider config.DBProvider
	transport  blocksync.Transport
}

// WithDBProvider overrides the provider of the checkpoint database.
func WithDBProvider(p config.DBProvider) Option {
	return func(o *options) { o.dbProvider = p }
}

// WithTransport makes the node send requests through t instead of HTTP.
func WithTransport(t blocksync.Transport) Option {
	return func(o *options) { o.transport = t }
}

// New returns a node for cfg. It fails if the chain spec cannot be read or
// the stored checkpoint cannot be loaded.
func New(cfg *config.Config, logger log.Logger, opts ...Option) (*Node, error) {
	o := options{dbProvider: config.DefaultDBProvider}
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	spec, err := types.ChainSpecFromFile(cfg.ChainSpecFile())
	if err != nil {
		return nil, err
	}
	consensusCfg, err := consensus.ConfigFromChainSpec(spec)
	if err != nil {
		return nil, fmt.Errorf("consensus config: %w", err)
	}
	verifier, err := consensus.New(consensusCfg)
	if err != nil {
		return nil, err
	}

	checkpoints, err := OpenCheckpointStore(cfg, o.dbProvider)
	if err != nil {
		return nil, err
	}
	trusted, set, err := loadTrustedState(checkpoints, spec, logger)
	if err != nil {
		_ = checkpoints.Close()
		return nil, err
	}

	n, err := makeNode(cfg, logger, spec, verifier, checkpoints, trusted, set, o)
	if err != nil {
		_ = checkpoints.Close()
		return nil, err
	}
	return n, nil
}

func makeNode(
	cfg *config.Config,
	logger log.Logger,
	spec *types.ChainSpec,
	verifier *consensus.Verifier,
	checkpoints checkpoint.Store,
	trusted *types.Header,
	set *types.AuthoritySet,
	o options,
) (*Node, error) {
	syncMetrics, queryMetrics := defaultMetrics(cfg.Instrumentation, spec.ChainID)

	hs := store.NewHeaderStore(trusted, store.BlockInfo{})
	tracker := finality.NewTracker(logger.With("module", "finality"), hs, set, verifier.Quorum(),
		finality.WithCheckpointSink(checkpoints))

	peers, err := httptransport.ParsePeers(cfg.P2P.PeerList())
	if err != nil {
		return nil, fmt.Errorf("p2p.peers: %w", err)
	}
	p2pCfg := transportConfig(cfg.P2P)
	client := httptransport.NewClient(logger.With("module", "p2p"), p2pCfg, peers...)
	transport := o.transport
	if transport == nil {
		transport = client
	}

	syncer, err := blocksync.NewSyncer(logger.With("module", "sync"), syncConfig(cfg.Sync),
		verifier, hs, tracker, transport, blocksync.WithMetrics(syncMetrics))
	if err != nil {
		return nil, err
	}
	announcer := httptransport.NewAnnouncer(logger.With("module", "p2p"), p2pCfg, syncer, peers...)

	queries, err := statequery.NewEngine(logger.With("module", "statequery"), statequery.Config{
		MaxAttempts:    cfg.StateQuery.MaxAttempts,
		RequestTimeout: cfg.StateQuery.RequestTimeout,
	}, syncer, transport, statequery.WithMetrics(queryMetrics))
	if err != nil {
		return nil, err
	}

	n := &Node{
		config:      cfg,
		logger:      logger,
		spec:        spec,
		checkpoints: checkpoints,
		syncer:      syncer,
		client:      client,
		announcer:   announcer,
		queries:     queries,
	}
	if cfg.RPC.ListenAddress != "" {
		n.rpcServer = rpccore.NewServer(&rpccore.Environment{
			Chain:      syncer,
			StateQuery: queries,
			ChainID:    spec.ChainID,
			Moniker:    cfg.Moniker,
			Config:     *cfg.RPC,
			Logger:     logger.With("module", "rpc"),
		})
	}
	n.BaseService = *service.NewBaseService(logger, "Node", n)

	logger.Info("light node created",
		"chain", spec.ChainID,
		"trusted", trusted.Number,
		"hash", trusted.Hash().Short(),
		"set", set.SetID,
		"peers", len(peers),
	)
	return n, nil
}

// OnStart starts the syncer, the announcement streams and the RPC server.
// Services already started are stopped if a later one fails.
func (n *Node) OnStart(ctx context.Context) error {
	ctx, n.cancel = context.WithCancel(ctx)
	if err := n.startServices(ctx); err != nil {
		n.cancel()
		return err
	}
	return nil
}

func (n *Node) startServices(ctx context.Context) error {
	if n.config.Instrumentation.Prometheus && n.config.Instrumentation.PrometheusListenAddr != "" {
		srv, err := n.startPrometheusServer(ctx)
		if err != nil {
			return err
		}
		n.prometheusSrv = srv
	}
	if err := n.syncer.Start(ctx); err != nil {
		return err
	}
	if err := n.announcer.Start(ctx); err != nil {
		return err
	}
	if n.rpcServer != nil {
		if err := n.rpcServer.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// OnStop stops every service and closes the checkpoint store.
func (n *Node) OnStop() {
	n.logger.Info("Stopping Node")

	if n.rpcServer != nil {
		n.rpcServer.Stop()
	}
	n.announcer.Stop()
	n.syncer.Stop()
	n.cancel()

	if n.prometheusSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := n.prometheusSrv.Shutdown(ctx); err != nil {
			n.logger.Error("Prometheus HTTP server Shutdown", "err", err)
		}
	}
	if err := n.checkpoints.Close(); err != nil {
		n.logger.Error("problem closing checkpoint store", "err", err)
	}
}

// startPrometheusServer serves the registered metrics under /metrics until
// ctx ends.
func (n *Node) startPrometheusServer(ctx context.Context) (*http.Server, error) {
	cfg := n.config.Instrumentation
	listener, err := rpcserver.Listen("tcp://"+cfg.PrometheusListenAddr, cfg.MaxOpenConnections)
	if err != nil {
		return nil, fmt.Errorf("prometheus listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.InstrumentMetricHandler(
		prometheus.DefaultRegisterer, promhttp.HandlerFor(
			prometheus.DefaultGatherer,
			promhttp.HandlerOpts{MaxRequestsInFlight: cfg.MaxOpenConnections},
		),
	))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			n.logger.Error("Prometheus HTTP server ListenAndServe", "err", err)
		}
	}()
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()
	return srv, nil
}

// GetBestHead returns the head of the best chain.
func (n *Node) GetBestHead() *types.Header { return n.syncer.BestHead() }

// GetFinalizedHead returns the latest finalized header.
func (n *Node) GetFinalizedHead() *types.Header { return n.syncer.FinalizedHead() }

// QueryState returns the verified value stored under key at the chosen head.
func (n *Node) QueryState(ctx context.Context, key []byte, choice statequery.RootChoice) (*statequery.Result, error) {
	return n.queries.QueryState(ctx, key, choice)
}

// ChainSpec returns the chain spec the node follows.
func (n *Node) ChainSpec() *types.ChainSpec { return n.spec }

// Config returns the node's configuration.
func (n *Node) Config() *config.Config { return n.config }

// Syncer returns the header syncer.
func (n *Node) Syncer() *blocksync.Syncer { return n.syncer }

// RPCAddr returns the address the RPC server listens on, or nil when RPC is
// disabled or the node is not running.
func (n *Node) RPCAddr() net.Addr {
	if n.rpcServer == nil || !n.rpcServer.IsRunning() {
		return nil
	}
	return n.rpcServer.Addr()
}
