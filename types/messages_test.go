package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestEncoding(t *testing.T) {
	hash := HashBytes([]byte("block"))
	testCases := []*Request{
		NewHeadersRequestByHash(hash, 64, true, false),
		NewHeadersRequestByNumber(100, 1, false, true),
		NewJustificationRequest(hash),
		NewStateProofRequest(hash, []byte("a"), []byte("bc")),
	}
	for _, req := range testCases {
		req := req
		t.Run(req.Kind.String(), func(t *testing.T) {
			decoded, err := DecodeRequest(req.Bytes())
			require.NoError(t, err)
			assert.Equal(t, req, decoded)
			assert.Equal(t, req.Key(), decoded.Key())
		})
	}
}

func TestRequestValidateBasic(t *testing.T) {
	testCases := map[string]*Request{
		"zero count":          NewHeadersRequestByNumber(1, 0, false, false),
		"too many":            NewHeadersRequestByNumber(1, MaxHeadersPerRequest+1, false, false),
		"justification":       NewJustificationRequest(Hash{}),
		"state proof no hash": NewStateProofRequest(Hash{}, []byte("a")),
		"state proof no keys": NewStateProofRequest(HashBytes(nil)),
		"unknown":             {Kind: RequestKind(42)},
	}
	for name, req := range testCases {
		assert.Error(t, req.ValidateBasic(), name)
	}

	_, err := DecodeRequest([]byte{42})
	assert.ErrorIs(t, err, ErrMalformedEncoding)
}

func TestRequestKeyDistinguishesDetails(t *testing.T) {
	a := NewHeadersRequestByNumber(10, 5, true, false)
	b := NewHeadersRequestByNumber(10, 5, true, true)
	c := NewHeadersRequestByNumber(10, 5, true, false)
	assert.NotEqual(t, a.Key(), b.Key())
	assert.Equal(t, a.Key(), c.Key())
}

func TestHeadersResponseEncoding(t *testing.T) {
	h1 := makeTestHeader()
	h2 := makeTestHeader()
	h2.Number++
	h2.ParentHash = h1.Hash()

	resp := &HeadersResponse{Blocks: []BlockData{
		{Header: h1},
		{Header: h2, Justification: &Justification{
			TargetHash:   h2.Hash(),
			TargetNumber: h2.Number,
			Precommits:   []SignedPrecommit{{Precommit: Precommit{TargetHash: h2.Hash(), TargetNumber: h2.Number}}},
		}},
	}}
	decoded, err := DecodeHeadersResponse(resp.Bytes())
	require.NoError(t, err)
	assert.Equal(t, resp, decoded)

	_, err = DecodeHeadersResponse([]byte{1})
	assert.ErrorIs(t, err, ErrMalformedEncoding)
}

func TestStateProofEncoding(t *testing.T) {
	proof := StateProof{[]byte{1, 2}, []byte{}, []byte{3}}
	decoded, err := DecodeStateProof(proof.Bytes())
	require.NoError(t, err)
	assert.Equal(t, proof, decoded)

	_, err = DecodeStateProof([]byte{2, 1})
	assert.ErrorIs(t, err, ErrMalformedEncoding)
}
