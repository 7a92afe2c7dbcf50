package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/josepot/smoldot/internal/statequery"
	"github.com/josepot/smoldot/rpc/coretypes"
	rpctypes "github.com/josepot/smoldot/rpc/jsonrpc/types"
	"github.com/josepot/smoldot/version"
)

// BestHead returns the tip of the heaviest known fork.
func (env *Environment) BestHead(ctx context.Context) (*coretypes.ResultHeader, error) {
	return coretypes.NewResultHeader(env.Chain.BestHead()), nil
}

// FinalizedHead returns the latest finalized header.
func (env *Environment) FinalizedHead(ctx context.Context) (*coretypes.ResultHeader, error) {
	return coretypes.NewResultHeader(env.Chain.FinalizedHead()), nil
}

// QueryState fetches the value of a storage key from a peer and verifies it
// against the state root of the finalized (default) or best head.
func (env *Environment) QueryState(ctx context.Context, args *coretypes.RequestQueryState) (*coretypes.ResultQueryState, error) {
	choice, err := statequery.ParseRootChoice(args.Root)
	if err != nil {
		return nil, rpctypes.WithCode(rpctypes.CodeInvalidParams, err)
	}
	if len(args.Key) == 0 {
		return nil, rpctypes.WithCode(rpctypes.CodeInvalidParams, statequery.ErrEmptyKey)
	}

	if env.Config.TimeoutQuery > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, env.Config.TimeoutQuery)
		defer cancel()
	}

	res, err := env.StateQuery.QueryState(ctx, args.Key, choice)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("query timed out after %v", env.Config.TimeoutQuery)
		}
		return nil, err
	}
	return &coretypes.ResultQueryState{
		Key:   args.Key,
		Value: res.Value,
		Found: res.Found,
		Block: coretypes.NewResultHeader(res.Header),
		Peer:  res.Peer,
	}, nil
}

// Status summarizes the sync progress.
func (env *Environment) Status(ctx context.Context) (*coretypes.ResultStatus, error) {
	return &coretypes.ResultStatus{
		ChainID:        env.ChainID,
		Moniker:        env.Moniker,
		Version:        version.Version,
		SyncStatus:     env.Chain.Status().String(),
		BestHead:       coretypes.NewResultHeader(env.Chain.BestHead()),
		FinalizedHead:  coretypes.NewResultHeader(env.Chain.FinalizedHead()),
		AuthoritySetID: env.Chain.Authorities().SetID,
		NumPeers:       len(env.Chain.Peers()),
	}, nil
}

// Peers lists the peers known to the syncer.
func (env *Environment) Peers(ctx context.Context) (*coretypes.ResultPeers, error) {
	infos := env.Chain.Peers()
	peers := make([]coretypes.Peer, len(infos))
	for i, p := range infos {
		peers[i] = coretypes.Peer{
			ID:         p.ID,
			BestNumber: p.BestNumber,
			BestHash:   p.BestHash,
			Priority:   p.Priority,
			InFlight:   p.InFlight,
		}
	}
	return &coretypes.ResultPeers{Peers: peers}, nil
}
