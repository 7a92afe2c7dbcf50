package merkle

import (
	"github.com/josepot/smoldot/types"
)

// VerifyProof checks a state proof for key against a trusted state root.
//
// On success it returns the value stored under key, or found == false if the
// proof shows that the trie holds no value for key. Every node of the proof
// must be used by the walk from the root to the key; proofs carrying extra
// nodes are rejected. Errors are always *ProofError.
func VerifyProof(key []byte, proof [][]byte, root types.Hash) (value []byte, found bool, err error) {
	nodes := make(map[types.Hash][]byte, len(proof))
	for i, enc := range proof {
		h := types.HashBytes(enc)
		if _, dup := nodes[h]; dup {
			return nil, false, proofErr(ErrMalformedNode, "duplicate node #%d", i)
		}
		nodes[h] = enc
	}

	enc, ok := nodes[root]
	if !ok {
		return nil, false, proofErr(ErrRootMismatch, "no node hashes to %v", root)
	}

	var (
		nibbles = keyToNibbles(key)
		pos     = 0
		used    = 0
		current = root
	)
	for {
		used++
		n, err := decodeNode(enc)
		if err != nil {
			return nil, false, proofErr(ErrMalformedNode, "node %v: %v", current.Short(), err)
		}
		if n.kind == kindEmpty && current != root {
			return nil, false, proofErr(ErrMalformedNode, "empty node %v below the root", current.Short())
		}

		var (
			next     types.Hash
			descend  bool
			rest     = nibbles[pos:]
			matching = hasPrefix(rest, n.partial)
		)
		switch n.kind {
		case kindEmpty:
		case kindLeaf:
			if matching && len(rest) == len(n.partial) {
				value, found = copyBytes(n.value), true
			}
		case kindBranch, kindBranchWithValue:
			if !matching {
				break
			}
			if len(rest) == len(n.partial) {
				if n.kind == kindBranchWithValue {
					value, found = copyBytes(n.value), true
				}
				break
			}
			nibble := rest[len(n.partial)]
			if n.hasChild(nibble) {
				next, descend = n.children[nibble], true
				pos += len(n.partial) + 1
			}
		}

		if !descend {
			break
		}
		enc, ok = nodes[next]
		if !ok {
			if used < len(nodes) {
				return nil, false, proofErr(ErrMalformedNode, "%d nodes unreachable from the root", len(nodes)-used)
			}
			return nil, false, proofErr(ErrKeyNotCovered, "missing node %v", next.Short())
		}
		current = next
	}

	if used != len(nodes) {
		return nil, false, proofErr(ErrMalformedNode, "%d nodes unreachable from the root", len(nodes)-used)
	}
	return value, found, nil
}

func copyBytes(bz []byte) []byte {
	out := make([]byte, len(bz))
	copy(out, bz)
	return out
}
