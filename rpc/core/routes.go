package core

import (
	rpc "github.com/josepot/smoldot/rpc/jsonrpc/server"
)

// RoutesMap maps method names to their handlers.
type RoutesMap map[string]*rpc.RPCFunc

// GetRoutes returns every method served by env.
func (env *Environment) GetRoutes() RoutesMap {
	return RoutesMap{
		"best_head":      rpc.NewRPCFunc(env.BestHead),
		"finalized_head": rpc.NewRPCFunc(env.FinalizedHead),
		"query_state":    rpc.NewRPCFunc(env.QueryState),
		"status":         rpc.NewRPCFunc(env.Status),
		"peers":          rpc.NewRPCFunc(env.Peers),
	}
}
