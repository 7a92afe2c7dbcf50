package finality

import (
	"fmt"
	"sort"

	"github.com/josepot/smoldot/internal/store"
	"github.com/josepot/smoldot/libs/log"
	tmmath "github.com/josepot/smoldot/libs/math"
	"github.com/josepot/smoldot/types"
)

const (
	defaultMaxRounds        = 16
	defaultMaxEquivocations = 256
)

// CheckpointSink persists the finalized head and the authority set active
// after it.
type CheckpointSink interface {
	SaveCheckpoint(h *types.Header, set *types.AuthoritySet) error
}

// State is the finalized head together with the authority set active after
// it. Only the tracker's apply step replaces it.
type State struct {
	Finalized   *types.Header
	Authorities *types.AuthoritySet
}

// Finalization describes an applied finality proof.
type Finalization struct {
	Justification *types.Justification
	// Finalized holds the newly finalized headers, ascending.
	Finalized []*types.Header
	// Pruned holds the hashes of the headers removed from the store.
	Pruned []types.Hash
	// AuthoritySet is the new active set, or nil if it did not change.
	AuthoritySet *types.AuthoritySet
}

// Head returns the new finalized head.
func (f *Finalization) Head() *types.Header {
	return f.Finalized[len(f.Finalized)-1]
}

// Option sets an optional parameter on the Tracker.
type Option func(*Tracker)

// WithCheckpointSink makes the tracker emit a checkpoint after each
// finalization.
func WithCheckpointSink(sink CheckpointSink) Option {
	return func(t *Tracker) { t.sink = sink }
}

// WithMaxRounds bounds the number of rounds collecting votes at once.
func WithMaxRounds(n int) Option {
	return func(t *Tracker) { t.maxRounds = n }
}

// Tracker verifies finality proofs and individual commit votes against the
// active authority set, and applies them: the header store is finalized and
// pruned, scheduled authority changes take effect and a checkpoint is
// emitted.
//
// Tracker is not safe for concurrent use; it shares the header store with its
// owner, which serializes access to both.
type Tracker struct {
	logger log.Logger
	store  *store.HeaderStore
	quorum tmmath.Fraction
	sink   CheckpointSink

	state State

	rounds       map[roundKey]*round
	maxRounds    int
	applied      bool
	appliedRound uint64

	equivocations []Equivocation
}

// NewTracker returns a tracker whose finalized head is the store's and whose
// active set is set.
func NewTracker(
	logger log.Logger,
	hs *store.HeaderStore,
	set *types.AuthoritySet,
	quorum tmmath.Fraction,
	opts ...Option,
) *Tracker {
	t := &Tracker{
		logger:    logger,
		store:     hs,
		quorum:    quorum,
		state:     State{Finalized: hs.Finalized(), Authorities: set},
		rounds:    make(map[roundKey]*round),
		maxRounds: defaultMaxRounds,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// State returns the finalized head and the active authority set.
func (t *Tracker) State() State { return t.state }

func (t *Tracker) Finalized() *types.Header { return t.state.Finalized }

func (t *Tracker) Authorities() *types.AuthoritySet { return t.state.Authorities }

// RoundState returns the state of a round of the given set. The last applied
// round is Verified; earlier rounds of the set, and every round of a retired
// set, are Superseded.
func (t *Tracker) RoundState(setID, roundNum uint64) RoundState {
	if setID < t.state.Authorities.SetID {
		return Superseded
	}
	if setID == t.state.Authorities.SetID && t.applied {
		switch {
		case roundNum == t.appliedRound:
			return Verified
		case roundNum < t.appliedRound:
			return Superseded
		}
	}
	if r, ok := t.rounds[roundKey{setID, roundNum}]; ok {
		return r.state
	}
	return Collecting
}

// Equivocations returns the equivocations observed so far, oldest first.
func (t *Tracker) Equivocations() []Equivocation {
	return append([]Equivocation(nil), t.equivocations...)
}

// VerifyJustification checks j against the active authority set without
// applying it.
func (t *Tracker) VerifyJustification(j *types.Justification) error {
	_, _, err := t.verify(j)
	return err
}

// ImportJustification verifies j and, if it is valid, applies it.
// Equivocations found in j are recorded even when j is rejected.
func (t *Tracker) ImportJustification(j *types.Justification) (*Finalization, error) {
	_, eqs, err := t.verify(j)
	for _, e := range eqs {
		t.recordEquivocation(e)
	}
	if err != nil {
		return nil, err
	}
	return t.apply(j)
}

// AddVote accumulates a single commit vote. Once the votes of a round exceed
// the quorum for some header, a justification is built from them and applied;
// the resulting finalization is returned. A nil finalization with a nil error
// means the vote was counted but no quorum was reached yet.
func (t *Tracker) AddVote(roundNum, setID uint64, vote types.SignedPrecommit) (*Finalization, error) {
	if err := t.checkSet(setID, roundNum); err != nil {
		return nil, err
	}
	if vote.TargetNumber <= t.state.Finalized.Number {
		return nil, newError(ErrStale, "vote for #%d, finalized #%d", vote.TargetNumber, t.state.Finalized.Number)
	}
	if err := t.checkVote(vote, roundNum, setID); err != nil {
		return nil, err
	}
	if h, ok := t.store.Get(vote.TargetHash); !ok || h.Number != vote.TargetNumber {
		return nil, newError(ErrUnknownTarget, "vote for unknown header %v", vote.TargetHash.Short())
	}

	key := roundKey{setID, roundNum}
	r, ok := t.rounds[key]
	if !ok {
		if len(t.rounds) >= t.maxRounds {
			t.evictLowestRound()
		}
		r = newRound()
		t.rounds[key] = r
	}
	if conflict := r.add(vote); conflict != nil {
		t.recordEquivocation(newEquivocation(setID, roundNum, *conflict, vote))
	}

	for _, j := range t.candidates(r, roundNum, setID) {
		if _, _, err := t.verify(j); err != nil {
			continue
		}
		r.state = Verified
		return t.apply(j)
	}
	return nil, nil
}

func (t *Tracker) checkSet(setID, roundNum uint64) error {
	active := t.state.Authorities.SetID
	switch {
	case setID < active:
		return newError(ErrStale, "set %d, active set %d", setID, active)
	case setID > active:
		return newError(ErrUnknownAuthoritySet, "set %d, active set %d", setID, active)
	}
	if t.applied && roundNum <= t.appliedRound {
		return newError(ErrStale, "round %d of set %d is not after applied round %d", roundNum, setID, t.appliedRound)
	}
	return nil
}

func (t *Tracker) checkVote(vote types.SignedPrecommit, roundNum, setID uint64) error {
	if t.state.Authorities.IndexOf(vote.AuthorityID) < 0 {
		return newError(ErrBadSignature, "%v is not in set %d", vote.AuthorityID, setID)
	}
	if !vote.VerifySignature(roundNum, setID) {
		return newError(ErrBadSignature, "invalid signature by %v", vote.AuthorityID)
	}
	return nil
}

// verify checks j without changing the tracker. It also returns the
// equivocations found among the precommits of j.
func (t *Tracker) verify(j *types.Justification) ([]*types.Header, []Equivocation, error) {
	if j == nil || len(j.Precommits) == 0 {
		return nil, nil, newError(ErrInsufficientWeight, "no precommits")
	}
	if err := t.checkSet(j.SetID, j.Round); err != nil {
		return nil, nil, err
	}
	fin := t.state.Finalized
	if j.TargetNumber <= fin.Number {
		return nil, nil, newError(ErrStale, "target #%d, finalized #%d", j.TargetNumber, fin.Number)
	}

	target, ok := t.store.Get(j.TargetHash)
	if !ok || target.Number != j.TargetNumber {
		return nil, nil, newError(ErrUnknownTarget, "target %v #%d", j.TargetHash.Short(), j.TargetNumber)
	}
	path, ok := t.store.PathFromFinalized(j.TargetHash)
	if !ok {
		return nil, nil, newError(ErrUnknownTarget, "target %v does not descend from the finalized head", j.TargetHash.Short())
	}
	for _, h := range path[:len(path)-1] {
		if info, _ := t.store.Info(h.Hash()); info.StagedChange != nil {
			return nil, nil, newError(ErrUnknownAuthoritySet,
				"authority change at #%d is not finalized yet", h.Number)
		}
	}

	var eqs []Equivocation
	tally := newRound()
	for _, p := range j.Precommits {
		if err := t.checkVote(p, j.Round, j.SetID); err != nil {
			return nil, nil, err
		}
		if p.TargetHash == j.TargetHash {
			if p.TargetNumber != j.TargetNumber {
				return nil, nil, newError(ErrUnknownTarget, "precommit number #%d for target #%d", p.TargetNumber, j.TargetNumber)
			}
		} else {
			h, ok := t.store.Get(p.TargetHash)
			if !ok || h.Number != p.TargetNumber || !t.store.IsDescendant(p.TargetHash, j.TargetHash) {
				return nil, nil, newError(ErrUnknownTarget, "precommit for %v is not a known descendant of the target",
					p.TargetHash.Short())
			}
		}
		if conflict := tally.add(p); conflict != nil {
			eqs = append(eqs, newEquivocation(j.SetID, j.Round, *conflict, p))
		}
	}

	set := t.state.Authorities
	var weight uint64
	for _, p := range tally.honestVotes() {
		weight += set.Authorities[set.IndexOf(p.AuthorityID)].Weight
	}
	if !t.quorum.Exceeds(weight, set.TotalWeight()) {
		return nil, eqs, newError(ErrInsufficientWeight, "weight %d of %d does not exceed %v",
			weight, set.TotalWeight(), t.quorum)
	}
	return path, eqs, nil
}

// candidates returns justifications that the honest votes of r could form,
// highest target first. A vote supports every ancestor of its target.
func (t *Tracker) candidates(r *round, roundNum, setID uint64) []*types.Justification {
	votes := r.honestVotes()
	seen := make(map[types.Hash]*types.Header)
	for _, v := range votes {
		path, ok := t.store.PathFromFinalized(v.TargetHash)
		if !ok {
			continue
		}
		for _, h := range path {
			seen[h.Hash()] = h
		}
	}
	headers := make([]*types.Header, 0, len(seen))
	for _, h := range seen {
		headers = append(headers, h)
	}
	sort.Slice(headers, func(i, j int) bool {
		if headers[i].Number != headers[j].Number {
			return headers[i].Number > headers[j].Number
		}
		return headers[i].Hash().Less(headers[j].Hash())
	})

	set := t.state.Authorities
	total := set.TotalWeight()
	var out []*types.Justification
	for _, h := range headers {
		hash := h.Hash()
		j := &types.Justification{Round: roundNum, SetID: setID, TargetHash: hash, TargetNumber: h.Number}
		var weight uint64
		for _, v := range votes {
			if t.store.IsDescendant(v.TargetHash, hash) {
				j.Precommits = append(j.Precommits, v)
				weight += set.Authorities[set.IndexOf(v.AuthorityID)].Weight
			}
		}
		if t.quorum.Exceeds(weight, total) {
			out = append(out, j)
		}
	}
	return out
}

func (t *Tracker) apply(j *types.Justification) (*Finalization, error) {
	res, err := t.store.Finalize(j.TargetHash)
	if err != nil {
		return nil, fmt.Errorf("finalizing %v: %w", j.TargetHash.Short(), err)
	}
	if err := t.store.SetJustification(j.TargetHash, j); err != nil {
		return nil, err
	}

	f := &Finalization{Justification: j, Finalized: res.Finalized, Pruned: res.Pruned}
	set := t.state.Authorities
	for _, h := range res.Finalized {
		if info, _ := t.store.Info(h.Hash()); info.StagedChange != nil {
			set = set.Next(info.StagedChange.Authorities)
			f.AuthoritySet = set
		}
	}

	if f.AuthoritySet != nil {
		t.rounds = make(map[roundKey]*round)
		t.applied, t.appliedRound = false, 0
	} else {
		for key := range t.rounds {
			if key.round <= j.Round {
				delete(t.rounds, key)
			}
		}
		t.applied, t.appliedRound = true, j.Round
	}
	t.state = State{Finalized: f.Head(), Authorities: set}

	t.logger.Info("finalized header",
		"height", f.Head().Number,
		"hash", f.Head().Hash().Short(),
		"round", j.Round,
		"set_id", set.SetID,
		"pruned", len(f.Pruned))

	if t.sink != nil {
		if err := t.sink.SaveCheckpoint(t.state.Finalized, t.state.Authorities); err != nil {
			t.logger.Error("failed to save checkpoint", "height", f.Head().Number, "err", err)
		}
	}
	return f, nil
}

func newEquivocation(setID, roundNum uint64, first, second types.SignedPrecommit) Equivocation {
	return Equivocation{
		SetID:     setID,
		Round:     roundNum,
		Authority: first.AuthorityID,
		First:     first,
		Second:    second,
	}
}

// recordEquivocation keeps at most one equivocation per authority and round.
func (t *Tracker) recordEquivocation(e Equivocation) {
	for _, seen := range t.equivocations {
		if seen.SetID == e.SetID && seen.Round == e.Round && seen.Authority == e.Authority {
			return
		}
	}
	t.logger.Info("equivocation", "authority", e.Authority.String(), "set_id", e.SetID, "round", e.Round)
	if len(t.equivocations) >= defaultMaxEquivocations {
		t.equivocations = t.equivocations[1:]
	}
	t.equivocations = append(t.equivocations, e)
}

func (t *Tracker) evictLowestRound() {
	var (
		lowest roundKey
		found  bool
	)
	for key := range t.rounds {
		if !found || key.setID < lowest.setID || (key.setID == lowest.setID && key.round < lowest.round) {
			lowest, found = key, true
		}
	}
	if found {
		delete(t.rounds, lowest)
	}
}
