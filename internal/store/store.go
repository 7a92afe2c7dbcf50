package store

import (
	"errors"
	"fmt"

	"github.com/josepot/smoldot/types"
)

var (
	// ErrHeaderNotFound is returned when a hash is not in the store.
	ErrHeaderNotFound = errors.New("header not found")
	// ErrNotDescendant is returned when finalizing a header that does not
	// descend from the finalized head.
	ErrNotDescendant = errors.New("header does not descend from the finalized head")
)

// InsertResult is the outcome of HeaderStore.Insert.
type InsertResult int

const (
	Accepted InsertResult = iota
	DuplicateIgnored
	OrphanRejected
)

func (r InsertResult) String() string {
	switch r {
	case Accepted:
		return "Accepted"
	case DuplicateIgnored:
		return "DuplicateIgnored"
	case OrphanRejected:
		return "OrphanRejected"
	default:
		return fmt.Sprintf("InsertResult(%d)", int(r))
	}
}

// BlockInfo is what verification learned about a header.
type BlockInfo struct {
	// Weight is the cumulative fork weight up to and including the header.
	Weight uint64
	// Slot is the slot (Aura) or view (rounds) the header was produced in.
	Slot uint64
	// StagedChange is the authority change the header schedules, applied
	// once the header is finalized.
	StagedChange *types.ScheduledChange
	// Justification is the proof that finalized the header, if any.
	Justification *types.Justification
}

const noIndex = -1

type node struct {
	header   *types.Header
	hash     types.Hash
	info     BlockInfo
	parent   int
	children []int
}

// HeaderStore is a tree of headers rooted at the lowest retained finalized
// header (the base). Nodes live in an arena and refer to each other by index;
// freed slots are reused.
//
// Every header in the store is the base or has its parent in the store.
// Headers between the base and the finalized head form a single chain.
//
// HeaderStore is not safe for concurrent use; the owner serializes access.
type HeaderStore struct {
	nodes     []node
	free      []int
	index     map[types.Hash]int
	base      int
	finalized int
}

// NewHeaderStore returns a store holding a single trusted header, which is
// both the base and the finalized head.
func NewHeaderStore(trusted *types.Header, info BlockInfo) *HeaderStore {
	hs := &HeaderStore{index: make(map[types.Hash]int)}
	idx := hs.alloc(node{header: trusted, hash: trusted.Hash(), info: info, parent: noIndex})
	hs.base, hs.finalized = idx, idx
	return hs
}

func (hs *HeaderStore) alloc(n node) int {
	var idx int
	if l := len(hs.free); l > 0 {
		idx = hs.free[l-1]
		hs.free = hs.free[:l-1]
		hs.nodes[idx] = n
	} else {
		idx = len(hs.nodes)
		hs.nodes = append(hs.nodes, n)
	}
	hs.index[n.hash] = idx
	return idx
}

func (hs *HeaderStore) release(idx int) types.Hash {
	h := hs.nodes[idx].hash
	delete(hs.index, h)
	hs.nodes[idx] = node{}
	hs.free = append(hs.free, idx)
	return h
}

// Insert adds a verified header whose parent is parentRef.
//
// It returns OrphanRejected if parentRef does not match the header's declared
// parent, if the parent is not in the store, if the numbers do not link, or if
// the parent is strictly below the finalized head (the header could never be
// finalized).
func (hs *HeaderStore) Insert(h *types.Header, parentRef types.Hash, info BlockInfo) InsertResult {
	hash := h.Hash()
	if _, ok := hs.index[hash]; ok {
		return DuplicateIgnored
	}
	if parentRef != h.ParentHash {
		return OrphanRejected
	}
	pidx, ok := hs.index[parentRef]
	if !ok {
		return OrphanRejected
	}
	parent := &hs.nodes[pidx]
	if parent.header.Number+1 != h.Number {
		return OrphanRejected
	}
	if parent.header.Number < hs.nodes[hs.finalized].header.Number {
		return OrphanRejected
	}

	idx := hs.alloc(node{header: h, hash: hash, info: info, parent: pidx})
	hs.nodes[pidx].children = append(hs.nodes[pidx].children, idx)
	return Accepted
}

// Ancestry returns up to depth headers starting with hash itself and followed
// by its ancestors, nearest first. It returns nil if hash is unknown.
func (hs *HeaderStore) Ancestry(hash types.Hash, depth int) []*types.Header {
	idx, ok := hs.index[hash]
	if !ok || depth <= 0 {
		return nil
	}
	out := make([]*types.Header, 0, depth)
	for idx != noIndex && len(out) < depth {
		out = append(out, hs.nodes[idx].header)
		idx = hs.nodes[idx].parent
	}
	return out
}

// FinalizeResult describes the effect of HeaderStore.Finalize.
type FinalizeResult struct {
	// Finalized holds the newly finalized headers in ascending order, the new
	// finalized head last.
	Finalized []*types.Header
	// Pruned holds the hashes of every removed header.
	Pruned []types.Hash
}

// Finalize makes hash the finalized head. Every header that is neither an
// ancestor nor a descendant of hash is removed; nothing else is.
func (hs *HeaderStore) Finalize(hash types.Hash) (FinalizeResult, error) {
	target, ok := hs.index[hash]
	if !ok {
		return FinalizeResult{}, ErrHeaderNotFound
	}
	path, ok := hs.pathFromFinalized(target)
	if !ok {
		return FinalizeResult{}, ErrNotDescendant
	}

	var res FinalizeResult
	prev := hs.finalized
	for _, idx := range path {
		for _, child := range hs.nodes[prev].children {
			if child != idx {
				res.Pruned = hs.removeSubtree(child, res.Pruned)
			}
		}
		hs.nodes[prev].children = []int{idx}
		res.Finalized = append(res.Finalized, hs.nodes[idx].header)
		prev = idx
	}
	hs.finalized = target
	return res, nil
}

// pathFromFinalized returns the indexes strictly after the finalized head up
// to and including idx, ascending.
func (hs *HeaderStore) pathFromFinalized(idx int) ([]int, bool) {
	finNumber := hs.nodes[hs.finalized].header.Number
	var path []int
	for idx != hs.finalized {
		if idx == noIndex || hs.nodes[idx].header.Number <= finNumber {
			return nil, false
		}
		path = append(path, idx)
		idx = hs.nodes[idx].parent
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, true
}

func (hs *HeaderStore) removeSubtree(root int, removed []types.Hash) []types.Hash {
	stack := []int{root}
	for len(stack) > 0 {
		idx := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		stack = append(stack, hs.nodes[idx].children...)
		removed = append(removed, hs.release(idx))
	}
	return removed
}

// PruneBelow removes the finalized ancestry below height. The finalized head
// is never removed: height is capped at its number. It returns the removed
// hashes, lowest first.
func (hs *HeaderStore) PruneBelow(height uint64) []types.Hash {
	if fin := hs.nodes[hs.finalized].header.Number; height > fin {
		height = fin
	}
	newBase := hs.finalized
	for hs.nodes[newBase].header.Number > height {
		newBase = hs.nodes[newBase].parent
	}
	if newBase == hs.base {
		return nil
	}

	var removed []types.Hash
	for idx := hs.base; idx != newBase; {
		next := hs.nodes[idx].children[0]
		removed = append(removed, hs.release(idx))
		idx = next
	}
	hs.nodes[newBase].parent = noIndex
	hs.base = newBase
	return removed
}

// PathFromFinalized returns the headers strictly after the finalized head up
// to and including hash, ascending. ok is false if hash is not a descendant
// of the finalized head.
func (hs *HeaderStore) PathFromFinalized(hash types.Hash) (headers []*types.Header, ok bool) {
	idx, found := hs.index[hash]
	if !found {
		return nil, false
	}
	path, ok := hs.pathFromFinalized(idx)
	if !ok {
		return nil, false
	}
	headers = make([]*types.Header, len(path))
	for i, p := range path {
		headers[i] = hs.nodes[p].header
	}
	return headers, true
}

// IsDescendant reports whether desc is anc or one of its descendants.
func (hs *HeaderStore) IsDescendant(desc, anc types.Hash) bool {
	didx, ok := hs.index[desc]
	if !ok {
		return false
	}
	aidx, ok := hs.index[anc]
	if !ok {
		return false
	}
	ancNumber := hs.nodes[aidx].header.Number
	for didx != noIndex && hs.nodes[didx].header.Number >= ancNumber {
		if didx == aidx {
			return true
		}
		didx = hs.nodes[didx].parent
	}
	return false
}

// NonFinalizedAncestryOrder returns the hashes of every header above the
// finalized head, each parent before its children.
func (hs *HeaderStore) NonFinalizedAncestryOrder() []types.Hash {
	var out []types.Hash
	queue := append([]int(nil), hs.nodes[hs.finalized].children...)
	for len(queue) > 0 {
		idx := queue[0]
		queue = queue[1:]
		out = append(out, hs.nodes[idx].hash)
		queue = append(queue, hs.nodes[idx].children...)
	}
	return out
}

// Leaves returns the hashes of the headers without children.
func (hs *HeaderStore) Leaves() []types.Hash {
	var out []types.Hash
	for idx := range hs.nodes {
		n := &hs.nodes[idx]
		if n.header != nil && len(n.children) == 0 {
			out = append(out, n.hash)
		}
	}
	return out
}

func (hs *HeaderStore) Get(hash types.Hash) (*types.Header, bool) {
	idx, ok := hs.index[hash]
	if !ok {
		return nil, false
	}
	return hs.nodes[idx].header, true
}

func (hs *HeaderStore) Contains(hash types.Hash) bool {
	_, ok := hs.index[hash]
	return ok
}

func (hs *HeaderStore) Info(hash types.Hash) (BlockInfo, bool) {
	idx, ok := hs.index[hash]
	if !ok {
		return BlockInfo{}, false
	}
	return hs.nodes[idx].info, true
}

// SetJustification attaches the proof that finalized hash.
func (hs *HeaderStore) SetJustification(hash types.Hash, j *types.Justification) error {
	idx, ok := hs.index[hash]
	if !ok {
		return ErrHeaderNotFound
	}
	hs.nodes[idx].info.Justification = j
	return nil
}

// Children returns the hashes of the direct children of hash.
func (hs *HeaderStore) Children(hash types.Hash) []types.Hash {
	idx, ok := hs.index[hash]
	if !ok {
		return nil
	}
	out := make([]types.Hash, len(hs.nodes[idx].children))
	for i, c := range hs.nodes[idx].children {
		out[i] = hs.nodes[c].hash
	}
	return out
}

// Finalized returns the finalized head.
func (hs *HeaderStore) Finalized() *types.Header {
	return hs.nodes[hs.finalized].header
}

// FinalizedInfo returns the info of the finalized head.
func (hs *HeaderStore) FinalizedInfo() BlockInfo {
	return hs.nodes[hs.finalized].info
}

// Base returns the lowest retained header.
func (hs *HeaderStore) Base() *types.Header {
	return hs.nodes[hs.base].header
}

// Len returns the number of headers in the store.
func (hs *HeaderStore) Len() int {
	return len(hs.index)
}

// NonFinalizedLen returns the number of headers above the finalized head.
func (hs *HeaderStore) NonFinalizedLen() int {
	return len(hs.index) - int(hs.nodes[hs.finalized].header.Number-hs.nodes[hs.base].header.Number) - 1
}
