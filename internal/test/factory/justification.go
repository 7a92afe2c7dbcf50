package factory

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/josepot/smoldot/types"
)

// Precommit returns a precommit for target signed by the i-th key.
func (kr *Keyring) Precommit(t testing.TB, i int, target *types.Header, round, setID uint64) types.SignedPrecommit {
	t.Helper()
	p := types.Precommit{TargetHash: target.Hash(), TargetNumber: target.Number}
	sig, err := kr.Keys[i].Sign(types.PrecommitSignBytes(p, round, setID))
	require.NoError(t, err)

	sp := types.SignedPrecommit{Precommit: p, AuthorityID: kr.ID(i)}
	copy(sp.Signature[:], sig)
	return sp
}

// Justification returns a justification for target with precommits of the
// given signers, indexes into the keyring.
func (kr *Keyring) Justification(
	t testing.TB,
	target *types.Header,
	round, setID uint64,
	signers ...int,
) *types.Justification {
	t.Helper()
	j := &types.Justification{
		Round:        round,
		SetID:        setID,
		TargetHash:   target.Hash(),
		TargetNumber: target.Number,
	}
	for _, i := range signers {
		j.Precommits = append(j.Precommits, kr.Precommit(t, i, target, round, setID))
	}
	return j
}
