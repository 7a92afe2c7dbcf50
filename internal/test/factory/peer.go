package factory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/josepot/smoldot/crypto/merkle"
	"github.com/josepot/smoldot/types"
)

// Peer answers requests for a fixed chain the way a full node would.
type Peer struct {
	mtx            sync.Mutex
	byHash         map[types.Hash]*types.Header
	byNumber       map[uint64]*types.Header
	justifications map[types.Hash]*types.Justification
	states         map[types.Hash]*merkle.Trie
}

// NewPeer returns a peer serving chain, which must be a single branch.
func NewPeer(chain []*types.Header) *Peer {
	p := &Peer{
		byHash:         make(map[types.Hash]*types.Header),
		byNumber:       make(map[uint64]*types.Header),
		justifications: make(map[types.Hash]*types.Justification),
		states:         make(map[types.Hash]*merkle.Trie),
	}
	for _, h := range chain {
		p.byHash[h.Hash()] = h
		p.byNumber[h.Number] = h
	}
	return p
}

// AddJustification makes the peer serve j for its target.
func (p *Peer) AddJustification(j *types.Justification) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	p.justifications[j.TargetHash] = j
}

// AddState makes the peer serve proofs from trie for headers whose state
// root is the trie's root.
func (p *Peer) AddState(trie *merkle.Trie) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	p.states[trie.Root()] = trie
}

// Request implements blocksync.Transport.
func (p *Peer) Request(ctx context.Context, _ types.PeerID, req *types.Request) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.HandleRequest(req)
}

// HandleRequest returns the encoded response to req.
func (p *Peer) HandleRequest(req *types.Request) ([]byte, error) {
	if err := req.ValidateBasic(); err != nil {
		return nil, err
	}
	p.mtx.Lock()
	defer p.mtx.Unlock()

	switch req.Kind {
	case types.RequestHeaders:
		h := p.byNumber[req.StartNumber]
		if !req.StartHash.IsZero() {
			h = p.byHash[req.StartHash]
		}
		resp := &types.HeadersResponse{}
		for i := uint64(0); i < req.Count && h != nil; i++ {
			b := types.BlockData{Header: h}
			if req.WithJustifications {
				b.Justification = p.justifications[h.Hash()]
			}
			resp.Blocks = append(resp.Blocks, b)
			if req.Descending {
				h = p.byHash[h.ParentHash]
			} else {
				h = p.byNumber[h.Number+1]
			}
		}
		if len(resp.Blocks) == 0 {
			return nil, errors.New("unknown block")
		}
		return resp.Bytes(), nil

	case types.RequestJustification:
		j, ok := p.justifications[req.BlockHash]
		if !ok {
			return nil, fmt.Errorf("no justification for %v", req.BlockHash.Short())
		}
		return j.Bytes(), nil

	case types.RequestStateProof:
		h, ok := p.byHash[req.BlockHash]
		if !ok {
			return nil, fmt.Errorf("unknown block %v", req.BlockHash.Short())
		}
		trie, ok := p.states[h.StateRoot]
		if !ok {
			return nil, fmt.Errorf("no state for block %v", req.BlockHash.Short())
		}
		if len(req.Keys) != 1 {
			return nil, errors.New("proofs cover a single key")
		}
		return types.StateProof(trie.Prove(req.Keys[0])).Bytes(), nil
	}
	return nil, fmt.Errorf("unsupported request %v", req.Kind)
}
