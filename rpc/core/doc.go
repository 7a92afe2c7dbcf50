/*
Package core serves the light node's JSON-RPC methods.

Every method is available as a JSON-RPC 2.0 call, over HTTP POST on / and over
the websocket at /websocket:

	best_head       the tip of the heaviest known fork
	finalized_head  the latest finalized header
	query_state     {"key": hex, "root": "finalized" | "best"}: a storage value
	                verified against the chosen header's state root
	status          chain id, sync status and both heads
	peers           the peers known to the syncer

Parameters may be passed by name or by position.
*/
package core
