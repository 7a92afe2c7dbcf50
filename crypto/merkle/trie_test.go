package merkle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josepot/smoldot/types"
)

func TestEmptyTrie(t *testing.T) {
	tr := NewTrie()
	assert.Equal(t, types.HashBytes([]byte{byte(kindEmpty)}), tr.Root())

	proof := tr.Prove([]byte("anything"))
	require.Len(t, proof, 1)
	value, found, err := VerifyProof([]byte("anything"), proof, tr.Root())
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, value)
}

func TestTrieAbsenceAtMissingChild(t *testing.T) {
	tr := NewTrie()
	tr.Set([]byte("a"), []byte("1"))
	tr.Set([]byte("b"), []byte("2"))

	proof := tr.Prove([]byte("c"))
	require.Len(t, proof, 1, "absence is proven by the root branch alone")
	_, found, err := VerifyProof([]byte("c"), proof, tr.Root())
	require.NoError(t, err)
	assert.False(t, found)

	value, found, err := VerifyProof([]byte("b"), tr.Prove([]byte("b")), tr.Root())
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("2"), value)
}

func TestTrieValueInBranch(t *testing.T) {
	tr := deepTrie()
	for key, want := range map[string]string{"a": "1", "ab": "2", "abc": "3"} {
		value, found, err := VerifyProof([]byte(key), tr.Prove([]byte(key)), tr.Root())
		require.NoError(t, err, key)
		assert.True(t, found, key)
		assert.Equal(t, []byte(want), value, key)
	}

	_, found, err := VerifyProof([]byte("abcd"), tr.Prove([]byte("abcd")), tr.Root())
	require.NoError(t, err)
	assert.False(t, found)
}

func TestTrieSetAndRemove(t *testing.T) {
	tr := NewTrie()
	tr.Set([]byte("a"), []byte("1"))
	before := tr.Root()

	tr.Set([]byte("b"), []byte("2"))
	assert.NotEqual(t, before, tr.Root())
	assert.Equal(t, 2, tr.Len())

	tr.Remove([]byte("b"))
	assert.Equal(t, before, tr.Root())

	tr.Set([]byte("a"), []byte("changed"))
	assert.NotEqual(t, before, tr.Root())
	v, ok := tr.Get([]byte("a"))
	assert.True(t, ok)
	assert.Equal(t, []byte("changed"), v)
}

func TestNodeEncodingRoundTrip(t *testing.T) {
	n := &node{kind: kindBranchWithValue, partial: []byte{1, 2, 3}, value: []byte("v")}
	n.bitmap = 1<<3 | 1<<15
	n.children[3] = types.HashBytes([]byte("x"))
	n.children[15] = types.HashBytes([]byte("y"))

	decoded, err := decodeNode(n.encode())
	require.NoError(t, err)
	assert.Equal(t, n, decoded)
}
