package consensus

import (
	"fmt"
	"time"

	tmmath "github.com/josepot/smoldot/libs/math"
	"github.com/josepot/smoldot/types"
)

// Context is the chain state a header is verified against.
type Context struct {
	// Authorities is the set active at the header's parent.
	Authorities *types.AuthoritySet
	// Now is the local time. The zero value disables clock checks.
	Now time.Time
}

// AdvanceInfo is what a successfully verified header contributes to its fork.
type AdvanceInfo struct {
	// Slot is the Aura slot or the rounds view.
	Slot uint64
	// Round is the round within the view. Always 0 for Aura.
	Round uint64
	// Weight is the header's own contribution to the fork weight.
	Weight uint64
	Author types.AuthorityID
	// StagedChange is the authority change scheduled by the header. It is not
	// applied until the header is finalized.
	StagedChange *types.ScheduledChange
}

// engine is implemented by each supported consensus engine.
type engine interface {
	verify(h, parent *types.Header, ctx Context) (*AdvanceInfo, error)
	id() types.EngineID
}

// Verifier checks headers against a consensus engine. It holds no chain
// state and is safe for concurrent use.
type Verifier struct {
	cfg    Config
	engine engine
}

// New builds the verifier for cfg.
func New(cfg Config) (*Verifier, error) {
	if err := cfg.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("invalid consensus config: %w", err)
	}
	v := &Verifier{cfg: cfg}
	switch c := cfg.(type) {
	case AuraConfig:
		v.engine = &aura{cfg: c}
	case RoundsConfig:
		v.engine = &rounds{cfg: c}
	default:
		return nil, fmt.Errorf("unsupported consensus config %T", cfg)
	}
	return v, nil
}

// VerifyHeader checks h, a child of parent, and returns what it adds to its
// fork. Errors are always *Error.
func (v *Verifier) VerifyHeader(h, parent *types.Header, ctx Context) (*AdvanceInfo, error) {
	if err := h.ValidateDigest(); err != nil {
		return nil, newError(ErrMalformedDigest, "%v", err)
	}
	if ctx.Authorities == nil || len(ctx.Authorities.Authorities) == 0 {
		return nil, newError(ErrUnknownAuthor, "no active authority set")
	}
	info, err := v.engine.verify(h, parent, ctx)
	if err != nil {
		return nil, err
	}
	info.StagedChange, err = stagedChange(h)
	if err != nil {
		return nil, err
	}
	return info, nil
}

// Quorum is the fraction of authority weight a justification must exceed.
func (v *Verifier) Quorum() tmmath.Fraction { return v.cfg.FinalityQuorum() }

// EngineID returns the digest engine id of the configured engine.
func (v *Verifier) EngineID() types.EngineID { return v.engine.id() }

func (v *Verifier) String() string {
	return fmt.Sprintf("Verifier{%v}", v.engine.id())
}

//-----------------------------------------------------------------------------

type aura struct {
	cfg AuraConfig
}

func (a *aura) id() types.EngineID { return types.AuraEngineID }

func (a *aura) verify(h, parent *types.Header, ctx Context) (*AdvanceInfo, error) {
	data, ok := h.PreRuntime(types.AuraEngineID)
	if !ok {
		return nil, newError(ErrMalformedDigest, "missing aura pre-runtime item")
	}
	slot, err := decodeAuraSlot(data)
	if err != nil {
		return nil, newError(ErrMalformedDigest, "aura slot: %v", err)
	}

	if parentData, ok := parent.PreRuntime(types.AuraEngineID); ok {
		parentSlot, err := decodeAuraSlot(parentData)
		if err != nil {
			return nil, newError(ErrMalformedDigest, "parent aura slot: %v", err)
		}
		if slot <= parentSlot {
			return nil, newError(ErrSlotInPast, "slot %d, parent slot %d", slot, parentSlot)
		}
	}

	if !ctx.Now.IsZero() {
		current := a.slotAt(ctx.Now)
		if slot > current+a.cfg.MaxFutureSlots {
			return nil, newError(ErrSlotInFuture, "slot %d, current slot %d, tolerance %d",
				slot, current, a.cfg.MaxFutureSlots)
		}
	}

	set := ctx.Authorities
	author := set.Authorities[slot%uint64(len(set.Authorities))].ID
	if err := checkSeal(h, types.AuraEngineID, author); err != nil {
		return nil, err
	}
	return &AdvanceInfo{Slot: slot, Weight: 1, Author: author}, nil
}

func (a *aura) slotAt(t time.Time) uint64 {
	if t.UnixNano() <= 0 {
		return 0
	}
	return uint64(t.UnixNano()) / uint64(a.cfg.SlotDuration)
}

//-----------------------------------------------------------------------------

const (
	// A header produced in the first round of its view carries twice the
	// weight of one produced after a round change.
	firstRoundWeight = 2
	laterRoundWeight = 1
)

type rounds struct {
	cfg RoundsConfig
}

func (r *rounds) id() types.EngineID { return types.RoundsEngineID }

func (r *rounds) verify(h, parent *types.Header, ctx Context) (*AdvanceInfo, error) {
	data, ok := h.PreRuntime(types.RoundsEngineID)
	if !ok {
		return nil, newError(ErrMalformedDigest, "missing rounds pre-runtime item")
	}
	view, round, err := decodeRoundsView(data)
	if err != nil {
		return nil, newError(ErrMalformedDigest, "rounds view: %v", err)
	}

	if parentData, ok := parent.PreRuntime(types.RoundsEngineID); ok {
		parentView, _, err := decodeRoundsView(parentData)
		if err != nil {
			return nil, newError(ErrMalformedDigest, "parent rounds view: %v", err)
		}
		if view <= parentView {
			return nil, newError(ErrSlotInPast, "view %d, parent view %d", view, parentView)
		}
	}

	author, ok := Proposer(ctx.Authorities, view)
	if !ok {
		return nil, newError(ErrUnknownAuthor, "no proposer for view %d", view)
	}
	if err := checkSeal(h, types.RoundsEngineID, author); err != nil {
		return nil, err
	}

	weight := uint64(laterRoundWeight)
	if round == 0 {
		weight = firstRoundWeight
	}
	return &AdvanceInfo{Slot: view, Round: round, Weight: weight, Author: author}, nil
}

// Proposer returns the proposer of view: weighted round-robin over the set,
// position view mod total weight.
func Proposer(set *types.AuthoritySet, view uint64) (types.AuthorityID, bool) {
	total := set.TotalWeight()
	if total == 0 {
		return types.AuthorityID{}, false
	}
	pos := view % total
	var cum uint64
	for _, a := range set.Authorities {
		cum += a.Weight
		if pos < cum {
			return a.ID, true
		}
	}
	return types.AuthorityID{}, false
}
