package coretypes

import (
	"github.com/josepot/smoldot/libs/bytes"
	"github.com/josepot/smoldot/types"
)

// ResultHeader describes a header of the chain.
type ResultHeader struct {
	Hash           types.Hash     `json:"hash"`
	Number         uint64         `json:"number"`
	ParentHash     types.Hash     `json:"parent_hash"`
	StateRoot      types.Hash     `json:"state_root"`
	ExtrinsicsRoot types.Hash     `json:"extrinsics_root"`
	Encoded        bytes.HexBytes `json:"encoded"`
}

// NewResultHeader describes h.
func NewResultHeader(h *types.Header) *ResultHeader {
	return &ResultHeader{
		Hash:           h.Hash(),
		Number:         h.Number,
		ParentHash:     h.ParentHash,
		StateRoot:      h.StateRoot,
		ExtrinsicsRoot: h.ExtrinsicsRoot,
		Encoded:        h.Bytes(),
	}
}

// RequestQueryState holds the parameters of query_state. Key is hex (or
// base64) encoded; Root is "finalized" (the default) or "best".
type RequestQueryState struct {
	Key  bytes.HexBytes `json:"key"`
	Root string         `json:"root"`
}

// ResultQueryState is a verified storage value.
type ResultQueryState struct {
	Key   bytes.HexBytes `json:"key"`
	Value bytes.HexBytes `json:"value"`
	// Found is false when the proof shows the key has no value.
	Found bool `json:"found"`
	// Block is the header whose state root the value was verified against.
	Block *ResultHeader `json:"block"`
	Peer  types.PeerID  `json:"peer"`
}

// ResultStatus summarizes the node.
type ResultStatus struct {
	ChainID        string        `json:"chain_id"`
	Moniker        string        `json:"moniker"`
	Version        string        `json:"version"`
	SyncStatus     string        `json:"sync_status"`
	BestHead       *ResultHeader `json:"best_head"`
	FinalizedHead  *ResultHeader `json:"finalized_head"`
	AuthoritySetID uint64        `json:"authority_set_id"`
	NumPeers       int           `json:"num_peers"`
}

// Peer describes a peer known to the syncer.
type Peer struct {
	ID         types.PeerID `json:"id"`
	BestNumber uint64       `json:"best_number"`
	BestHash   types.Hash   `json:"best_hash"`
	Priority   uint         `json:"priority"`
	InFlight   int          `json:"in_flight"`
}

// ResultPeers lists the known peers.
type ResultPeers struct {
	Peers []Peer `json:"peers"`
}
