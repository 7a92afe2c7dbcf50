package merkle

import (
	"bytes"
	"sort"

	"github.com/josepot/smoldot/types"
)

// Trie is an in-memory base-16 Patricia trie builder. It computes state roots
// and produces proofs accepted by VerifyProof. Not safe for concurrent use.
type Trie struct {
	entries map[string][]byte
	root    *builtNode
}

type builtNode struct {
	node
	enc      []byte
	hash     types.Hash
	childPtr [16]*builtNode
}

type entry struct {
	nibbles []byte
	value   []byte
}

func NewTrie() *Trie {
	return &Trie{entries: make(map[string][]byte)}
}

// Set stores value under key, replacing any previous value.
func (t *Trie) Set(key, value []byte) {
	t.entries[string(key)] = copyBytes(value)
	t.root = nil
}

// Remove deletes key.
func (t *Trie) Remove(key []byte) {
	delete(t.entries, string(key))
	t.root = nil
}

// Get returns the value stored under key.
func (t *Trie) Get(key []byte) ([]byte, bool) {
	v, ok := t.entries[string(key)]
	return v, ok
}

func (t *Trie) Len() int { return len(t.entries) }

// Root returns the state root.
func (t *Trie) Root() types.Hash {
	return t.build().hash
}

// Prove returns the nodes on the path from the root towards key. The proof
// shows either the value under key or its absence.
func (t *Trie) Prove(key []byte) [][]byte {
	var (
		proof   [][]byte
		nibbles = keyToNibbles(key)
		n       = t.build()
	)
	for {
		proof = append(proof, n.enc)
		if n.kind == kindEmpty || n.kind == kindLeaf {
			return proof
		}
		rest := nibbles
		if !hasPrefix(rest, n.partial) || len(rest) == len(n.partial) {
			return proof
		}
		child := n.childPtr[rest[len(n.partial)]]
		if child == nil {
			return proof
		}
		nibbles = rest[len(n.partial)+1:]
		n = child
	}
}

func (t *Trie) build() *builtNode {
	if t.root != nil {
		return t.root
	}
	entries := make([]entry, 0, len(t.entries))
	for k, v := range t.entries {
		entries = append(entries, entry{nibbles: keyToNibbles([]byte(k)), value: v})
	}
	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].nibbles, entries[j].nibbles) < 0
	})
	t.root = buildNode(entries, 0)
	return t.root
}

// buildNode builds the subtrie of sorted entries that share their first depth
// nibbles.
func buildNode(entries []entry, depth int) *builtNode {
	switch len(entries) {
	case 0:
		return seal(&builtNode{node: node{kind: kindEmpty}})
	case 1:
		e := entries[0]
		return seal(&builtNode{node: node{
			kind:    kindLeaf,
			partial: copyBytes(e.nibbles[depth:]),
			value:   e.value,
		}})
	}

	end := depth + commonPrefixLen(entries, depth)
	bn := &builtNode{node: node{
		kind:    kindBranch,
		partial: copyBytes(entries[0].nibbles[depth:end]),
	}}
	rest := entries
	// Sorted order puts a key equal to the common prefix first.
	if len(entries[0].nibbles) == end {
		bn.kind = kindBranchWithValue
		bn.value = entries[0].value
		rest = entries[1:]
	}
	for i := 0; i < len(rest); {
		nibble := rest[i].nibbles[end]
		j := i
		for j < len(rest) && rest[j].nibbles[end] == nibble {
			j++
		}
		child := buildNode(rest[i:j], end+1)
		bn.childPtr[nibble] = child
		bn.children[nibble] = child.hash
		bn.bitmap |= 1 << nibble
		i = j
	}
	return seal(bn)
}

func seal(bn *builtNode) *builtNode {
	bn.enc = bn.encode()
	bn.hash = types.HashBytes(bn.enc)
	return bn
}

func commonPrefixLen(entries []entry, depth int) int {
	first := entries[0].nibbles[depth:]
	n := len(first)
	for _, e := range entries[1:] {
		other := e.nibbles[depth:]
		i := 0
		for i < n && i < len(other) && first[i] == other[i] {
			i++
		}
		n = i
	}
	return n
}
