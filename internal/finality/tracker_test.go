package finality_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/josepot/smoldot/internal/finality"
	"github.com/josepot/smoldot/internal/store"
	"github.com/josepot/smoldot/internal/test/factory"
	"github.com/josepot/smoldot/libs/log"
	tmmath "github.com/josepot/smoldot/libs/math"
	"github.com/josepot/smoldot/types"
)

type recordingSink struct {
	headers []*types.Header
	sets    []*types.AuthoritySet
	err     error
}

func (s *recordingSink) SaveCheckpoint(h *types.Header, set *types.AuthoritySet) error {
	s.headers = append(s.headers, h)
	s.sets = append(s.sets, set)
	return s.err
}

type fixture struct {
	kr      *factory.Keyring
	set     *types.AuthoritySet
	genesis *types.Header
	hs      *store.HeaderStore
	tracker *finality.Tracker
	sink    *recordingSink
}

func newFixture(t testing.TB, weights ...uint64) *fixture {
	f := &fixture{
		kr:      factory.NewKeyring(len(weights)),
		genesis: factory.Genesis(),
		sink:    &recordingSink{},
	}
	f.set = f.kr.AuthoritySet(0, weights...)
	f.hs = store.NewHeaderStore(f.genesis, store.BlockInfo{})
	f.tracker = finality.NewTracker(log.NewNopLogger(), f.hs, f.set, tmmath.TwoThirds,
		finality.WithCheckpointSink(f.sink))
	return f
}

func (f *fixture) insert(t testing.TB, headers ...*types.Header) {
	t.Helper()
	for _, h := range headers {
		parent, ok := f.hs.Info(h.ParentHash)
		require.True(t, ok)
		var change *types.ScheduledChange
		if items := h.ConsensusItems(types.FinalityEngineID); len(items) == 1 {
			c, err := types.DecodeScheduledChange(items[0])
			require.NoError(t, err)
			change = &c
		}
		res := f.hs.Insert(h, h.ParentHash, store.BlockInfo{Weight: parent.Weight + 1, StagedChange: change})
		require.Equal(t, store.Accepted, res)
	}
}

func (f *fixture) chain(t testing.TB, parent *types.Header, firstSlot uint64, n int) []*types.Header {
	t.Helper()
	headers := f.kr.AuraChain(t, parent, firstSlot, n, f.set)
	f.insert(t, headers...)
	return headers
}

func TestJustificationAboveQuorumFinalizesAndPrunesSiblings(t *testing.T) {
	f := newFixture(t, 35, 35, 30)
	chain := f.chain(t, f.genesis, 1, 99)
	a := chain[98]
	require.EqualValues(t, 99, a.Number)

	b := f.kr.AuraChild(t, a, 100, f.set)
	sibling := f.kr.AuraChild(t, a, 101, f.set)
	f.insert(t, b, sibling)

	j := f.kr.Justification(t, b, 1, 0, 0, 1)
	fin, err := f.tracker.ImportJustification(j)
	require.NoError(t, err)

	assert.Equal(t, b, f.tracker.Finalized())
	assert.Equal(t, b, f.hs.Finalized())
	assert.Equal(t, b, fin.Head())
	assert.Len(t, fin.Finalized, 100)
	assert.Equal(t, []types.Hash{sibling.Hash()}, fin.Pruned)
	assert.False(t, f.hs.Contains(sibling.Hash()))
	assert.Nil(t, fin.AuthoritySet)

	info, ok := f.hs.Info(b.Hash())
	require.True(t, ok)
	assert.Equal(t, j, info.Justification)

	require.Len(t, f.sink.headers, 1)
	assert.Equal(t, b, f.sink.headers[0])
	assert.True(t, f.set.Equal(f.sink.sets[0]))
}

func TestTwoOfThreeEqualWeightsIsNotAQuorum(t *testing.T) {
	f := newFixture(t, 1, 1, 1)
	b := f.chain(t, f.genesis, 1, 1)[0]

	_, err := f.tracker.ImportJustification(f.kr.Justification(t, b, 1, 0, 0, 1))
	assert.ErrorIs(t, err, finality.ErrInsufficientWeight)
	assert.Equal(t, f.genesis, f.tracker.Finalized())

	_, err = f.tracker.ImportJustification(f.kr.Justification(t, b, 1, 0, 0, 1, 2))
	require.NoError(t, err)
	assert.Equal(t, b, f.tracker.Finalized())
}

func TestJustificationErrors(t *testing.T) {
	f := newFixture(t, 1, 1, 1)
	chain := f.chain(t, f.genesis, 1, 3)
	b := chain[1]
	outsider := factory.NewKeyringWithOffset(1, 50)

	badSig := f.kr.Justification(t, b, 1, 0, 0, 1, 2)
	badSig.Precommits[2].Signature[0] ^= 1

	nonMember := f.kr.Justification(t, b, 1, 0, 0, 1)
	nonMember.Precommits = append(nonMember.Precommits, outsider.Precommit(t, 0, b, 1, 0))

	wrongRound := f.kr.Justification(t, b, 1, 0, 0, 1, 2)
	wrongRound.Round = 2

	unknown := f.kr.AuraChild(t, b, 10, f.set)

	ancestorVote := f.kr.Justification(t, b, 1, 0, 0, 1)
	ancestorVote.Precommits = append(ancestorVote.Precommits, f.kr.Precommit(t, 2, chain[0], 1, 0))

	testCases := []struct {
		name string
		j    *types.Justification
		want error
	}{
		{"nil", nil, finality.ErrInsufficientWeight},
		{"no precommits", &types.Justification{TargetHash: b.Hash(), TargetNumber: b.Number}, finality.ErrInsufficientWeight},
		{"bad signature", badSig, finality.ErrBadSignature},
		{"non member", nonMember, finality.ErrBadSignature},
		{"signed for another round", wrongRound, finality.ErrBadSignature},
		{"future set", f.kr.Justification(t, b, 1, 1, 0, 1, 2), finality.ErrUnknownAuthoritySet},
		{"unknown target", f.kr.Justification(t, unknown, 1, 0, 0, 1, 2), finality.ErrUnknownTarget},
		{"vote below target", ancestorVote, finality.ErrUnknownTarget},
		{"genesis", f.kr.Justification(t, f.genesis, 1, 0, 0, 1, 2), finality.ErrStale},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			err := f.tracker.VerifyJustification(tc.j)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
			var ferr *finality.Error
			assert.True(t, errors.As(err, &ferr))
		})
	}
	assert.Equal(t, f.genesis, f.tracker.Finalized())
}

func TestJustificationAcceptsVotesForDescendants(t *testing.T) {
	f := newFixture(t, 1, 1, 1)
	chain := f.chain(t, f.genesis, 1, 3)

	j := f.kr.Justification(t, chain[0], 1, 0, 0, 1)
	j.Precommits = append(j.Precommits, f.kr.Precommit(t, 2, chain[2], 1, 0))
	fin, err := f.tracker.ImportJustification(j)
	require.NoError(t, err)
	assert.Equal(t, chain[0], fin.Head())
}

func TestStaleAfterApply(t *testing.T) {
	f := newFixture(t, 1, 1, 1)
	chain := f.chain(t, f.genesis, 1, 3)

	_, err := f.tracker.ImportJustification(f.kr.Justification(t, chain[1], 5, 0, 0, 1, 2))
	require.NoError(t, err)
	assert.Equal(t, finality.Verified, f.tracker.RoundState(0, 5))
	assert.Equal(t, finality.Superseded, f.tracker.RoundState(0, 4))
	assert.Equal(t, finality.Collecting, f.tracker.RoundState(0, 6))

	_, err = f.tracker.ImportJustification(f.kr.Justification(t, chain[0], 6, 0, 0, 1, 2))
	assert.ErrorIs(t, err, finality.ErrStale, "already finalized height")

	_, err = f.tracker.ImportJustification(f.kr.Justification(t, chain[2], 5, 0, 0, 1, 2))
	assert.ErrorIs(t, err, finality.ErrStale, "round already applied")

	_, err = f.tracker.ImportJustification(f.kr.Justification(t, chain[2], 6, 0, 0, 1, 2))
	require.NoError(t, err)
	assert.Equal(t, chain[2], f.tracker.Finalized())
	assert.Equal(t, finality.Verified, f.tracker.RoundState(0, 6))
	assert.Equal(t, finality.Superseded, f.tracker.RoundState(0, 5))
}

func TestEquivocationIsExcludedAndRecorded(t *testing.T) {
	f := newFixture(t, 1, 1, 1, 1)
	chain := f.chain(t, f.genesis, 1, 2)

	// Signer 2 votes for both chain[0] and chain[1] in the same round: only
	// signers 0 and 1 count, 2 of 4.
	j := f.kr.Justification(t, chain[0], 1, 0, 0, 1, 2)
	j.Precommits = append(j.Precommits, f.kr.Precommit(t, 2, chain[1], 1, 0))
	_, err := f.tracker.ImportJustification(j)
	assert.ErrorIs(t, err, finality.ErrInsufficientWeight)

	eqs := f.tracker.Equivocations()
	require.Len(t, eqs, 1)
	assert.Equal(t, f.kr.ID(2), eqs[0].Authority)
	assert.EqualValues(t, 1, eqs[0].Round)
	assert.Equal(t, chain[0].Hash(), eqs[0].First.TargetHash)
	assert.Equal(t, chain[1].Hash(), eqs[0].Second.TargetHash)

	// A repeated identical vote counts once.
	_, err = f.tracker.ImportJustification(f.kr.Justification(t, chain[0], 2, 0, 0, 1, 1, 1))
	assert.ErrorIs(t, err, finality.ErrInsufficientWeight)
	assert.Len(t, f.tracker.Equivocations(), 1)

	_, err = f.tracker.ImportJustification(f.kr.Justification(t, chain[0], 3, 0, 0, 1, 3))
	require.NoError(t, err)
}

func TestVerifyJustificationDoesNotRecordEquivocations(t *testing.T) {
	f := newFixture(t, 1, 1, 1, 1)
	chain := f.chain(t, f.genesis, 1, 2)

	j := f.kr.Justification(t, chain[0], 1, 0, 0, 1, 2)
	j.Precommits = append(j.Precommits, f.kr.Precommit(t, 2, chain[1], 1, 0))

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, f.tracker.VerifyJustification(j), finality.ErrInsufficientWeight)
	}
	assert.Empty(t, f.tracker.Equivocations())

	// Importing the same justification twice records the equivocation once.
	for i := 0; i < 2; i++ {
		_, err := f.tracker.ImportJustification(j)
		assert.ErrorIs(t, err, finality.ErrInsufficientWeight)
	}
	assert.Len(t, f.tracker.Equivocations(), 1)
	assert.Equal(t, finality.Collecting, f.tracker.RoundState(0, 1))
}

func TestAuthorityChange(t *testing.T) {
	f := newFixture(t, 1, 1, 1)
	next := factory.NewKeyringWithOffset(2, 20)

	a1 := f.chain(t, f.genesis, 1, 1)[0]
	changing := f.kr.AuraChild(t, a1, 2, f.set, factory.Change(next.Authorities()))
	f.insert(t, changing)
	// Headers after the change are still produced by the old set until it is
	// finalized.
	after := f.kr.AuraChild(t, changing, 3, f.set)
	f.insert(t, after)

	_, err := f.tracker.ImportJustification(f.kr.Justification(t, after, 1, 0, 0, 1, 2))
	assert.ErrorIs(t, err, finality.ErrUnknownAuthoritySet)

	fin, err := f.tracker.ImportJustification(f.kr.Justification(t, changing, 1, 0, 0, 1, 2))
	require.NoError(t, err)
	require.NotNil(t, fin.AuthoritySet)
	assert.EqualValues(t, 1, fin.AuthoritySet.SetID)
	assert.Equal(t, next.Authorities(), fin.AuthoritySet.Authorities)
	assert.Equal(t, fin.AuthoritySet, f.tracker.Authorities())
	assert.Equal(t, finality.Superseded, f.tracker.RoundState(0, 9))
	assert.EqualValues(t, 1, f.sink.sets[0].SetID)

	_, err = f.tracker.ImportJustification(f.kr.Justification(t, after, 2, 0, 0, 1, 2))
	assert.ErrorIs(t, err, finality.ErrStale, "old set")

	_, err = f.tracker.ImportJustification(next.Justification(t, after, 1, 1, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, after, f.tracker.Finalized())
}

func TestAddVote(t *testing.T) {
	f := newFixture(t, 1, 1, 1, 1, 1)
	chain := f.chain(t, f.genesis, 1, 2)
	fork := f.kr.AuraChild(t, chain[0], 5, f.set)
	f.insert(t, fork)

	// Votes for two different children of chain[0]: 4 of 5 together finalize
	// their common ancestor.
	for i, target := range []*types.Header{chain[1], chain[1], fork} {
		fin, err := f.tracker.AddVote(1, 0, f.kr.Precommit(t, i, target, 1, 0))
		require.NoError(t, err)
		assert.Nil(t, fin)
	}
	assert.Equal(t, finality.Collecting, f.tracker.RoundState(0, 1))

	fin, err := f.tracker.AddVote(1, 0, f.kr.Precommit(t, 3, fork, 1, 0))
	require.NoError(t, err)
	require.NotNil(t, fin)
	assert.Equal(t, chain[0], fin.Head())
	assert.Len(t, fin.Justification.Precommits, 4)
	assert.Equal(t, finality.Verified, f.tracker.RoundState(0, 1))

	_, err = f.tracker.AddVote(1, 0, f.kr.Precommit(t, 0, chain[1], 1, 0))
	assert.ErrorIs(t, err, finality.ErrStale)
}

func TestAddVoteErrors(t *testing.T) {
	f := newFixture(t, 1, 1, 1)
	b := f.chain(t, f.genesis, 1, 1)[0]
	unknown := f.kr.AuraChild(t, b, 4, f.set)

	_, err := f.tracker.AddVote(1, 1, f.kr.Precommit(t, 0, b, 1, 1))
	assert.ErrorIs(t, err, finality.ErrUnknownAuthoritySet)

	bad := f.kr.Precommit(t, 0, b, 1, 0)
	bad.Signature[3] ^= 1
	_, err = f.tracker.AddVote(1, 0, bad)
	assert.ErrorIs(t, err, finality.ErrBadSignature)

	_, err = f.tracker.AddVote(1, 0, f.kr.Precommit(t, 0, unknown, 1, 0))
	assert.ErrorIs(t, err, finality.ErrUnknownTarget)

	_, err = f.tracker.AddVote(1, 0, f.kr.Precommit(t, 0, f.genesis, 1, 0))
	assert.ErrorIs(t, err, finality.ErrStale)
}

func TestAcceptedJustificationsExceedQuorum(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 6).Draw(rt, "n").(int)
		weights := make([]uint64, n)
		var total uint64
		for i := range weights {
			weights[i] = rapid.Uint64Range(1, 10).Draw(rt, "weight").(uint64)
			total += weights[i]
		}
		f := newFixture(t, weights...)
		b := f.chain(t, f.genesis, 1, 1)[0]

		var (
			signers []int
			signed  uint64
		)
		for i := 0; i < n; i++ {
			if rapid.Bool().Draw(rt, "signs").(bool) {
				signers = append(signers, i)
				signed += weights[i]
			}
		}

		_, err := f.tracker.ImportJustification(f.kr.Justification(t, b, 1, 0, signers...))
		if 3*signed > 2*total {
			if err != nil {
				rt.Fatalf("weight %d of %d rejected: %v", signed, total, err)
			}
			return
		}
		if !errors.Is(err, finality.ErrInsufficientWeight) {
			rt.Fatalf("weight %d of %d: got %v", signed, total, err)
		}
	})
}

func TestCheckpointSinkErrorDoesNotUndoFinality(t *testing.T) {
	f := newFixture(t, 1)
	f.sink.err = errors.New("disk full")
	b := f.chain(t, f.genesis, 1, 1)[0]

	_, err := f.tracker.ImportJustification(f.kr.Justification(t, b, 1, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, b, f.tracker.Finalized())
	assert.Len(t, f.sink.headers, 1)
}
