package finality

import (
	"fmt"

	"github.com/josepot/smoldot/types"
)

// RoundState is the state of a voting round.
type RoundState int

const (
	// Collecting rounds accumulate votes.
	Collecting RoundState = iota
	// Verified rounds reached quorum and produced an accepted proof.
	Verified
	// Superseded rounds are moot: a round at or after them was applied.
	Superseded
)

func (s RoundState) String() string {
	switch s {
	case Collecting:
		return "Collecting"
	case Verified:
		return "Verified"
	case Superseded:
		return "Superseded"
	default:
		return fmt.Sprintf("RoundState(%d)", int(s))
	}
}

type roundKey struct {
	setID uint64
	round uint64
}

// Equivocation is two conflicting votes by one authority in one round.
type Equivocation struct {
	SetID     uint64
	Round     uint64
	Authority types.AuthorityID
	First     types.SignedPrecommit
	Second    types.SignedPrecommit
}

type round struct {
	state        RoundState
	votes        map[types.AuthorityID]types.SignedPrecommit
	order        []types.AuthorityID
	equivocators map[types.AuthorityID]struct{}
}

func newRound() *round {
	return &round{
		state:        Collecting,
		votes:        make(map[types.AuthorityID]types.SignedPrecommit),
		equivocators: make(map[types.AuthorityID]struct{}),
	}
}

// add records a vote. It returns the earlier conflicting vote if the signer
// equivocated.
func (r *round) add(vote types.SignedPrecommit) (conflict *types.SignedPrecommit) {
	id := vote.AuthorityID
	if _, ok := r.equivocators[id]; ok {
		return nil
	}
	prev, ok := r.votes[id]
	if !ok {
		r.votes[id] = vote
		r.order = append(r.order, id)
		return nil
	}
	if prev.Precommit == vote.Precommit {
		return nil
	}
	r.equivocators[id] = struct{}{}
	return &prev
}

// honestVotes returns the votes of non-equivocating signers in arrival order.
func (r *round) honestVotes() []types.SignedPrecommit {
	out := make([]types.SignedPrecommit, 0, len(r.order))
	for _, id := range r.order {
		if _, bad := r.equivocators[id]; bad {
			continue
		}
		out = append(out, r.votes[id])
	}
	return out
}
