package blocksync

import (
	"sort"

	"github.com/mroth/weightedrand"

	"github.com/josepot/smoldot/types"
)

const (
	maxPriority  = 64
	minPriority  = 1
	rewardAmount = 4
)

// PeerInfo describes a peer known to the Syncer.
type PeerInfo struct {
	ID         types.PeerID
	BestNumber uint64
	BestHash   types.Hash
	// Priority is the peer's weight when choosing who to send a request to.
	Priority uint
	InFlight int
}

type peer struct {
	id         types.PeerID
	bestNumber uint64
	bestHash   types.Hash
	priority   uint
	inFlight   int
}

func (p *peer) info() PeerInfo {
	return PeerInfo{
		ID:         p.id,
		BestNumber: p.bestNumber,
		BestHash:   p.bestHash,
		Priority:   p.priority,
		InFlight:   p.inFlight,
	}
}

// peerSet tracks peers and chooses among them, weighted by priority. A peer
// that fails a request loses half its priority; one that answers gains a
// little back. Peers are never banned: when every peer is at the lowest
// priority, all of them are reset.
type peerSet struct {
	peers map[types.PeerID]*peer
}

func newPeerSet() *peerSet {
	return &peerSet{peers: make(map[types.PeerID]*peer)}
}

// upsert adds a peer or raises its best block. It reports whether the peer is
// new.
func (ps *peerSet) upsert(id types.PeerID, number uint64, hash types.Hash) bool {
	p, ok := ps.peers[id]
	if !ok {
		ps.peers[id] = &peer{id: id, bestNumber: number, bestHash: hash, priority: maxPriority}
		return true
	}
	if number >= p.bestNumber {
		p.bestNumber, p.bestHash = number, hash
	}
	return false
}

func (ps *peerSet) remove(id types.PeerID) bool {
	if _, ok := ps.peers[id]; !ok {
		return false
	}
	delete(ps.peers, id)
	return true
}

func (ps *peerSet) get(id types.PeerID) (*peer, bool) {
	p, ok := ps.peers[id]
	return p, ok
}

func (ps *peerSet) len() int { return len(ps.peers) }

// penalize halves the peer's priority. It reports whether priorities were
// reset because every peer reached the minimum.
func (ps *peerSet) penalize(id types.PeerID) (reset bool) {
	p, ok := ps.peers[id]
	if !ok {
		return false
	}
	p.priority /= 2
	if p.priority < minPriority {
		p.priority = minPriority
	}
	for _, other := range ps.peers {
		if other.priority > minPriority {
			return false
		}
	}
	for _, other := range ps.peers {
		other.priority = maxPriority
	}
	return true
}

func (ps *peerSet) reward(id types.PeerID) {
	p, ok := ps.peers[id]
	if !ok {
		return
	}
	p.priority += rewardAmount
	if p.priority > maxPriority {
		p.priority = maxPriority
	}
}

// pick chooses a peer among those accepted by ok, avoiding avoid unless it is
// the only candidate.
func (ps *peerSet) pick(ok func(*peer) bool, avoid types.PeerID) (*peer, bool) {
	var (
		choices  []weightedrand.Choice
		fallback *peer
	)
	for _, p := range ps.sorted() {
		if !ok(p) {
			continue
		}
		if p.id == avoid {
			fallback = p
			continue
		}
		choices = append(choices, weightedrand.NewChoice(p, p.priority))
	}
	if len(choices) == 0 {
		return fallback, fallback != nil
	}
	chooser, err := weightedrand.NewChooser(choices...)
	if err != nil {
		return fallback, fallback != nil
	}
	return chooser.Pick().(*peer), true
}

func (ps *peerSet) maxBest() uint64 {
	var max uint64
	for _, p := range ps.peers {
		if p.bestNumber > max {
			max = p.bestNumber
		}
	}
	return max
}

// sorted returns the peers ordered by id.
func (ps *peerSet) sorted() []*peer {
	out := make([]*peer, 0, len(ps.peers))
	for _, p := range ps.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func sortByPriority(peers []PeerInfo) {
	sort.SliceStable(peers, func(i, j int) bool {
		if peers[i].Priority != peers[j].Priority {
			return peers[i].Priority > peers[j].Priority
		}
		return peers[i].ID < peers[j].ID
	})
}
