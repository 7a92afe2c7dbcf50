package node

import (
	"errors"
	"fmt"

	"github.com/josepot/smoldot/config"
	"github.com/josepot/smoldot/internal/blocksync"
	"github.com/josepot/smoldot/internal/checkpoint"
	"github.com/josepot/smoldot/internal/statequery"
	"github.com/josepot/smoldot/libs/log"
	"github.com/josepot/smoldot/p2p/httptransport"
	"github.com/josepot/smoldot/types"
)

// OpenCheckpointStore opens the checkpoint store selected by
// checkpoint-backend.
func OpenCheckpointStore(cfg *config.Config, dbProvider config.DBProvider) (checkpoint.Store, error) {
	switch cfg.CheckpointBackend {
	case config.CheckpointBackendFile:
		return checkpoint.NewFileStore(cfg.CheckpointFilePath()), nil
	default:
		db, err := dbProvider(&config.DBContext{ID: "checkpoint", Config: cfg})
		if err != nil {
			return nil, &checkpoint.PersistenceError{Op: "open", Err: err}
		}
		return checkpoint.NewDBStore(db), nil
	}
}

// loadTrustedState returns the stored checkpoint, or the genesis header and
// authority set when nothing was stored yet.
func loadTrustedState(
	cps checkpoint.Store,
	spec *types.ChainSpec,
	logger log.Logger,
) (*types.Header, *types.AuthoritySet, error) {
	h, set, err := cps.Load()
	switch {
	case errors.Is(err, checkpoint.ErrNoCheckpoint):
		logger.Info("no checkpoint found, starting from genesis")
		return spec.GenesisHeader(), spec.GenesisAuthoritySet(), nil
	case err != nil:
		return nil, nil, fmt.Errorf("loading checkpoint: %w", err)
	}
	logger.Info("resuming from checkpoint", "height", h.Number, "hash", h.Hash().Short(), "set", set.SetID)
	return h, set, nil
}

// defaultMetrics returns Prometheus metrics labelled with the chain id when
// enabled, and no-op metrics otherwise.
func defaultMetrics(cfg *config.InstrumentationConfig, chainID string) (*blocksync.Metrics, *statequery.Metrics) {
	if cfg.Prometheus {
		return blocksync.PrometheusMetrics(cfg.Namespace, "chain_id", chainID),
			statequery.PrometheusMetrics(cfg.Namespace, "chain_id", chainID)
	}
	return blocksync.NopMetrics(), statequery.NopMetrics()
}

func syncConfig(cfg *config.SyncConfig) blocksync.Config {
	return blocksync.Config{
		MaxRequestsPerPeer:   cfg.MaxRequestsPerPeer,
		MaxInFlight:          cfg.MaxInFlight,
		RequestTimeout:       cfg.RequestTimeout,
		TickInterval:         cfg.TickInterval,
		DownloadAhead:        cfg.DownloadAhead,
		MaxHeadersPerRequest: cfg.MaxHeadersPerRequest,
		MaxDisjointHeaders:   cfg.MaxDisjointHeaders,
		BadBlockCacheSize:    cfg.BadBlockCacheSize,
		JustificationPeriod:  cfg.JustificationPeriod,
		NearHeadDistance:     cfg.NearHeadDistance,
		StallTimeout:         cfg.StallTimeout,
	}
}

func transportConfig(cfg *config.P2PConfig) httptransport.Config {
	return httptransport.Config{
		DialTimeout:       cfg.DialTimeout,
		ReconnectInterval: cfg.ReconnectInterval,
		MaxResponseBytes:  cfg.MaxResponseBytes,
	}
}
