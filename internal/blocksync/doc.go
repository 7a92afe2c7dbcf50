/*
Package blocksync implements the sync orchestrator of the light client.

The Syncer learns about chains from peer announcements and from the headers
it requests, verifies every header with the consensus verifier before storing
it, and hands finality proofs to the finality tracker. It tracks two heads:
the best head, the tip of the heaviest verified fork, and the finalized head.

Requests are issued from a single loop. Each one runs as a task calling the
Transport; its outcome comes back through HandleResponse or
HandleRequestFailure. All shared state is guarded by one mutex, held only
while state is read or updated, never across network calls.

Headers whose parent is unknown are kept in a bounded cache and an ancestry
search is scheduled for them. Headers that failed verification are remembered
so they are never verified twice. Peers that fail or misbehave are
deprioritized, never banned: once every peer is at the lowest priority, all
priorities are reset.
*/
package blocksync
