package merkle

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/josepot/smoldot/types"
)

// Trie nodes are encoded as
//
//	kind (1 byte)
//	partial key: nibble count (uvarint) + nibbles packed two per byte, high first
//	leaf:   value (length prefixed)
//	branch: child bitmap (2 bytes, big endian) + one 32-byte hash per set bit
//	        + value (length prefixed) if kind is branchWithValue
//
// The empty node is the single byte kindEmpty and only appears as the root of
// an empty trie. Children are always referenced by hash.
type nodeKind byte

const (
	kindEmpty nodeKind = iota
	kindLeaf
	kindBranch
	kindBranchWithValue
)

const maxPartialNibbles = 2 * types.MaxItemSize

type node struct {
	kind     nodeKind
	partial  []byte // nibbles
	bitmap   uint16
	children [16]types.Hash
	value    []byte
}

func (n *node) hasChild(nibble byte) bool {
	return n.bitmap&(1<<nibble) != 0
}

func (n *node) encode() []byte {
	enc := types.NewEncoder()
	enc.Byte(byte(n.kind))
	if n.kind == kindEmpty {
		return enc.Bytes()
	}

	enc.Uvarint(uint64(len(n.partial)))
	enc.Fixed(packNibbles(n.partial))

	switch n.kind {
	case kindLeaf:
		enc.ByteSlice(n.value)
	case kindBranch, kindBranchWithValue:
		enc.Fixed([]byte{byte(n.bitmap >> 8), byte(n.bitmap)})
		for i := byte(0); i < 16; i++ {
			if n.hasChild(i) {
				enc.Hash(n.children[i])
			}
		}
		if n.kind == kindBranchWithValue {
			enc.ByteSlice(n.value)
		}
	}
	return enc.Bytes()
}

// decodeNode decodes a node and rejects anything a canonical trie would not
// produce.
func decodeNode(bz []byte) (*node, error) {
	dec := types.NewDecoder(bz)
	n := &node{kind: nodeKind(dec.Byte())}
	if err := dec.Err(); err != nil {
		return nil, err
	}

	switch n.kind {
	case kindEmpty:
		return n, dec.Finish()
	case kindLeaf, kindBranch, kindBranchWithValue:
	default:
		return nil, fmt.Errorf("unknown node kind %d", n.kind)
	}

	count := dec.Length(maxPartialNibbles)
	packed := dec.Fixed((count + 1) / 2)
	if err := dec.Err(); err != nil {
		return nil, err
	}
	if count%2 == 1 && packed[len(packed)-1]&0x0f != 0 {
		return nil, errors.New("non-zero padding nibble")
	}
	n.partial = unpackNibbles(packed, count)

	switch n.kind {
	case kindLeaf:
		n.value = dec.ByteSlice()
	case kindBranch, kindBranchWithValue:
		bm := dec.Fixed(2)
		if dec.Err() != nil {
			break
		}
		n.bitmap = uint16(bm[0])<<8 | uint16(bm[1])
		for i := byte(0); i < 16; i++ {
			if n.hasChild(i) {
				n.children[i] = dec.Hash()
			}
		}
		if n.kind == kindBranchWithValue {
			n.value = dec.ByteSlice()
		}
	}
	if err := dec.Finish(); err != nil {
		return nil, err
	}

	children := bits.OnesCount16(n.bitmap)
	if n.kind == kindBranch && children < 2 {
		return nil, fmt.Errorf("branch without value has %d children", children)
	}
	if n.kind == kindBranchWithValue && children < 1 {
		return nil, errors.New("branch with value has no children")
	}
	return n, nil
}

func keyToNibbles(key []byte) []byte {
	nibbles := make([]byte, 0, len(key)*2)
	for _, b := range key {
		nibbles = append(nibbles, b>>4, b&0x0f)
	}
	return nibbles
}

func packNibbles(nibbles []byte) []byte {
	packed := make([]byte, (len(nibbles)+1)/2)
	for i, nib := range nibbles {
		if i%2 == 0 {
			packed[i/2] = nib << 4
		} else {
			packed[i/2] |= nib
		}
	}
	return packed
}

func unpackNibbles(packed []byte, count int) []byte {
	nibbles := make([]byte, count)
	for i := range nibbles {
		if i%2 == 0 {
			nibbles[i] = packed[i/2] >> 4
		} else {
			nibbles[i] = packed[i/2] & 0x0f
		}
	}
	return nibbles
}

func hasPrefix(nibbles, prefix []byte) bool {
	if len(prefix) > len(nibbles) {
		return false
	}
	for i := range prefix {
		if nibbles[i] != prefix[i] {
			return false
		}
	}
	return true
}
