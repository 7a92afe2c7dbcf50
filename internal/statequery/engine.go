// Package statequery reads storage values from untrusted peers. Every value
// is checked with a Merkle proof against the state root of a header the
// light client has verified.
package statequery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/josepot/smoldot/crypto/merkle"
	"github.com/josepot/smoldot/internal/blocksync"
	"github.com/josepot/smoldot/libs/log"
	"github.com/josepot/smoldot/types"
)

// RootChoice selects the header whose state root a query is verified
// against.
type RootChoice int

const (
	// Finalized queries the state of the finalized head.
	Finalized RootChoice = iota
	// Best queries the state of the best head.
	Best
)

func (c RootChoice) String() string {
	switch c {
	case Finalized:
		return "finalized"
	case Best:
		return "best"
	default:
		return fmt.Sprintf("RootChoice(%d)", int(c))
	}
}

// ParseRootChoice parses "finalized" or "best". The empty string is
// "finalized".
func ParseRootChoice(s string) (RootChoice, error) {
	switch s {
	case "", "finalized":
		return Finalized, nil
	case "best":
		return Best, nil
	default:
		return 0, fmt.Errorf("unknown root %q (want finalized or best)", s)
	}
}

// Chain is the part of the syncer a query needs.
type Chain interface {
	BestHead() *types.Header
	FinalizedHead() *types.Header
	PeersAtLeast(number uint64) []blocksync.PeerInfo
	ReportPeer(peerID types.PeerID, ok bool)
}

var _ Chain = (*blocksync.Syncer)(nil)

// Config holds the tunables of the Engine.
type Config struct {
	// Number of peers asked before giving up.
	MaxAttempts int
	// Timeout of a single proof request.
	RequestTimeout time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		RequestTimeout: 10 * time.Second,
	}
}

// ValidateBasic performs basic validation.
func (c Config) ValidateBasic() error {
	if c.MaxAttempts <= 0 {
		return errors.New("max_attempts must be positive")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("request_timeout must be positive")
	}
	return nil
}

// Result is a verified storage value.
type Result struct {
	// Header is the header whose state root the value was verified against.
	Header *types.Header
	Value  []byte
	// Found is false if the proof shows key has no value.
	Found bool
	// Peer served the proof.
	Peer types.PeerID
}

// Option sets an optional parameter on the Engine.
type Option func(*Engine)

// WithMetrics sets the metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(e *Engine) { e.metrics = metrics }
}

// Engine answers state queries. It keeps no state between queries and is
// safe for concurrent use.
type Engine struct {
	logger    log.Logger
	cfg       Config
	chain     Chain
	transport blocksync.Transport
	metrics   *Metrics
}

// NewEngine returns an engine asking chain's peers through transport.
func NewEngine(
	logger log.Logger,
	cfg Config,
	chain Chain,
	transport blocksync.Transport,
	opts ...Option,
) (*Engine, error) {
	if err := cfg.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("invalid state query config: %w", err)
	}
	e := &Engine{
		logger:    logger,
		cfg:       cfg,
		chain:     chain,
		transport: transport,
		metrics:   NopMetrics(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// QueryState returns the value stored under key at the chosen head. Peers
// that reached the head are asked in priority order; a peer whose proof does
// not verify is reported and the next one asked, up to MaxAttempts.
func (e *Engine) QueryState(ctx context.Context, key []byte, choice RootChoice) (*Result, error) {
	if len(key) == 0 {
		return nil, ErrEmptyKey
	}
	var h *types.Header
	switch choice {
	case Finalized:
		h = e.chain.FinalizedHead()
	case Best:
		h = e.chain.BestHead()
	default:
		return nil, fmt.Errorf("unknown root choice %v", choice)
	}

	start := time.Now()
	res, err := e.query(ctx, h, key)
	e.metrics.QueryDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		e.metrics.Queries.With("outcome", "error").Add(1)
		return nil, err
	}
	e.metrics.Queries.With("outcome", "ok").Add(1)
	return res, nil
}

func (e *Engine) query(ctx context.Context, h *types.Header, key []byte) (*Result, error) {
	peers := e.chain.PeersAtLeast(h.Number)
	if len(peers) == 0 {
		return nil, ErrNoPeers
	}
	if len(peers) > e.cfg.MaxAttempts {
		peers = peers[:e.cfg.MaxAttempts]
	}

	req := types.NewStateProofRequest(h.Hash(), key)
	var lastErr error
	for _, p := range peers {
		value, found, err := e.ask(ctx, p.ID, req, key, h.StateRoot)
		if err == nil {
			e.chain.ReportPeer(p.ID, true)
			return &Result{Header: h, Value: value, Found: found, Peer: p.ID}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		var perr *merkle.ProofError
		if errors.As(err, &perr) {
			e.metrics.InvalidProofs.Add(1)
		}
		e.logger.Info("state proof request failed",
			"peer", p.ID, "height", h.Number, "key", fmt.Sprintf("%X", key), "err", err)
		e.chain.ReportPeer(p.ID, false)
		lastErr = err
	}
	return nil, ErrQueryFailed{Attempts: len(peers), LastErr: lastErr}
}

func (e *Engine) ask(
	ctx context.Context,
	peerID types.PeerID,
	req *types.Request,
	key []byte,
	root types.Hash,
) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()

	payload, err := e.transport.Request(ctx, peerID, req)
	if err != nil {
		return nil, false, err
	}
	proof, err := types.DecodeStateProof(payload)
	if err != nil {
		return nil, false, err
	}
	return merkle.VerifyProof(key, proof, root)
}
