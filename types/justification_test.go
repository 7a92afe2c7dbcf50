package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josepot/smoldot/crypto/ed25519"
)

func signPrecommit(t *testing.T, key ed25519.PrivKey, p Precommit, round, setID uint64) SignedPrecommit {
	t.Helper()
	sig, err := key.Sign(PrecommitSignBytes(p, round, setID))
	require.NoError(t, err)
	sp := SignedPrecommit{Precommit: p}
	copy(sp.Signature[:], sig)
	copy(sp.AuthorityID[:], key.PubKey().Bytes())
	return sp
}

func TestSignedPrecommitVerifySignature(t *testing.T) {
	key := ed25519.GenPrivKey()
	p := Precommit{TargetHash: HashBytes([]byte("b")), TargetNumber: 10}
	sp := signPrecommit(t, key, p, 3, 1)

	assert.True(t, sp.VerifySignature(3, 1))
	assert.False(t, sp.VerifySignature(4, 1), "other round")
	assert.False(t, sp.VerifySignature(3, 2), "other set")

	tampered := sp
	tampered.TargetNumber++
	assert.False(t, tampered.VerifySignature(3, 1))
}

func TestJustificationEncoding(t *testing.T) {
	key := ed25519.GenPrivKey()
	target := HashBytes([]byte("target"))
	j := &Justification{
		Round:        2,
		SetID:        5,
		TargetHash:   target,
		TargetNumber: 100,
		Precommits: []SignedPrecommit{
			signPrecommit(t, key, Precommit{TargetHash: target, TargetNumber: 100}, 2, 5),
		},
	}
	require.NoError(t, j.ValidateBasic())

	decoded, err := DecodeJustification(j.Bytes())
	require.NoError(t, err)
	assert.Equal(t, j, decoded)
	assert.True(t, decoded.Precommits[0].VerifySignature(2, 5))

	_, err = DecodeJustification(append(j.Bytes(), 1))
	assert.ErrorIs(t, err, ErrMalformedEncoding)
}

func TestJustificationValidateBasic(t *testing.T) {
	assert.Error(t, (*Justification)(nil).ValidateBasic())
	assert.Error(t, (&Justification{}).ValidateBasic())

	j := &Justification{
		TargetNumber: 10,
		Precommits:   []SignedPrecommit{{Precommit: Precommit{TargetNumber: 9}}},
	}
	assert.Error(t, j.ValidateBasic())
}

func TestCommitVoteEncoding(t *testing.T) {
	key := ed25519.GenPrivKey()
	v := &CommitVote{
		Round:     1,
		SetID:     0,
		Precommit: signPrecommit(t, key, Precommit{TargetNumber: 1}, 1, 0),
	}
	decoded, err := DecodeCommitVote(v.Bytes())
	require.NoError(t, err)
	assert.Equal(t, v, decoded)
}
