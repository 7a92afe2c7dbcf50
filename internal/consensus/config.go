package consensus

import (
	"errors"
	"fmt"
	"time"

	tmmath "github.com/josepot/smoldot/libs/math"
	"github.com/josepot/smoldot/types"
)

// Config selects and parameterizes a consensus engine. The set of
// implementations is closed: AuraConfig and RoundsConfig.
type Config interface {
	// FinalityQuorum is the fraction of authority weight a justification
	// must exceed.
	FinalityQuorum() tmmath.Fraction
	ValidateBasic() error

	isConfig()
}

// AuraConfig configures slot based block production: the author of slot s is
// authority s mod n.
type AuraConfig struct {
	SlotDuration   time.Duration
	MaxFutureSlots uint64
	Quorum         tmmath.Fraction
}

func (AuraConfig) isConfig() {}

func (c AuraConfig) FinalityQuorum() tmmath.Fraction { return c.Quorum }

func (c AuraConfig) ValidateBasic() error {
	if c.SlotDuration <= 0 {
		return errors.New("slot duration must be positive")
	}
	return c.Quorum.ValidateBasic()
}

// RoundsConfig configures view/round based block production: the proposer of
// a view is picked by weighted round-robin over the authority set.
type RoundsConfig struct {
	Quorum tmmath.Fraction
}

func (RoundsConfig) isConfig() {}

func (c RoundsConfig) FinalityQuorum() tmmath.Fraction { return c.Quorum }

func (c RoundsConfig) ValidateBasic() error {
	return c.Quorum.ValidateBasic()
}

// ConfigFromChainSpec builds the engine configuration declared by a chain
// spec.
func ConfigFromChainSpec(spec *types.ChainSpec) (Config, error) {
	quorum, err := spec.Consensus.QuorumFraction()
	if err != nil {
		return nil, fmt.Errorf("quorum: %w", err)
	}
	switch spec.Consensus.Engine {
	case types.EngineAura:
		d, err := spec.Consensus.SlotDurationValue()
		if err != nil {
			return nil, fmt.Errorf("slot duration: %w", err)
		}
		return AuraConfig{SlotDuration: d, MaxFutureSlots: spec.Consensus.MaxFutureSlots, Quorum: quorum}, nil
	case types.EngineRounds:
		return RoundsConfig{Quorum: quorum}, nil
	default:
		return nil, fmt.Errorf("unknown consensus engine %q", spec.Consensus.Engine)
	}
}
