package types

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/creachadair/atomicfile"

	tmmath "github.com/josepot/smoldot/libs/math"
)

const (
	// MaxChainIDLen is a maximum length of the chain ID.
	MaxChainIDLen = 50

	EngineAura   = "aura"
	EngineRounds = "rounds"

	DefaultSlotDuration   = 6 * time.Second
	DefaultMaxFutureSlots = 2
)

// ChainSpec defines the chain a light node follows: its consensus engine and
// the trusted genesis header and authority set.
type ChainSpec struct {
	ChainID   string        `toml:"chain_id"`
	Consensus ConsensusSpec `toml:"consensus"`
	Genesis   GenesisSpec   `toml:"genesis"`
}

// ConsensusSpec holds the parameters of the consensus engine.
type ConsensusSpec struct {
	// Engine is either "aura" (slot based) or "rounds" (view/round based).
	Engine string `toml:"engine"`
	// SlotDuration is a duration string such as "6s". Aura only.
	SlotDuration string `toml:"slot_duration"`
	// MaxFutureSlots is how far ahead of the local clock a slot may be. Aura only.
	MaxFutureSlots uint64 `toml:"max_future_slots"`
	// Quorum is the fraction of authority weight a justification must exceed,
	// e.g. "2/3".
	Quorum string `toml:"quorum"`
}

// GenesisSpec describes the genesis header and its authority set.
type GenesisSpec struct {
	StateRoot      Hash        `toml:"state_root"`
	ExtrinsicsRoot Hash        `toml:"extrinsics_root"`
	Authorities    []Authority `toml:"authorities"`
}

// ChainSpecFromFile reads and validates a chain spec.
func ChainSpecFromFile(file string) (*ChainSpec, error) {
	spec := &ChainSpec{}
	if _, err := toml.DecodeFile(file, spec); err != nil {
		return nil, fmt.Errorf("failed to load chain spec %q: %w", file, err)
	}
	if err := spec.ValidateAndComplete(); err != nil {
		return nil, fmt.Errorf("invalid chain spec %q: %w", file, err)
	}
	return spec, nil
}

// ChainSpecFromTOML parses and validates a chain spec.
func ChainSpecFromTOML(data string) (*ChainSpec, error) {
	spec := &ChainSpec{}
	if _, err := toml.Decode(data, spec); err != nil {
		return nil, fmt.Errorf("failed to decode chain spec: %w", err)
	}
	if err := spec.ValidateAndComplete(); err != nil {
		return nil, err
	}
	return spec, nil
}

// SaveAs atomically writes the chain spec to file.
func (spec *ChainSpec) SaveAs(file string) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(spec); err != nil {
		return fmt.Errorf("encoding chain spec: %w", err)
	}
	_, err := atomicfile.WriteAll(file, &buf, 0644)
	return err
}

// ValidateAndComplete checks that all necessary fields are present and fills
// in defaults for optional fields left empty.
func (spec *ChainSpec) ValidateAndComplete() error {
	if spec.ChainID == "" {
		return errors.New("chain spec must include non-empty chain_id")
	}
	if len(spec.ChainID) > MaxChainIDLen {
		return fmt.Errorf("chain_id in chain spec is too long (max: %d)", MaxChainIDLen)
	}

	c := &spec.Consensus
	if c.Engine == "" {
		c.Engine = EngineAura
	}
	if c.Quorum == "" {
		c.Quorum = tmmath.TwoThirds.String()
	}
	if _, err := c.QuorumFraction(); err != nil {
		return fmt.Errorf("consensus.quorum: %w", err)
	}
	switch c.Engine {
	case EngineAura:
		if c.SlotDuration == "" {
			c.SlotDuration = DefaultSlotDuration.String()
		}
		if c.MaxFutureSlots == 0 {
			c.MaxFutureSlots = DefaultMaxFutureSlots
		}
		d, err := c.SlotDurationValue()
		if err != nil {
			return fmt.Errorf("consensus.slot_duration: %w", err)
		}
		if d <= 0 {
			return errors.New("consensus.slot_duration must be positive")
		}
	case EngineRounds:
	default:
		return fmt.Errorf("unknown consensus engine %q", c.Engine)
	}

	if err := spec.GenesisAuthoritySet().ValidateBasic(); err != nil {
		return fmt.Errorf("genesis authorities: %w", err)
	}
	return nil
}

// SlotDurationValue parses SlotDuration.
func (c ConsensusSpec) SlotDurationValue() (time.Duration, error) {
	return time.ParseDuration(c.SlotDuration)
}

// QuorumFraction parses Quorum.
func (c ConsensusSpec) QuorumFraction() (tmmath.Fraction, error) {
	return tmmath.ParseFraction(c.Quorum)
}

// GenesisHeader returns the trusted genesis header.
func (spec *ChainSpec) GenesisHeader() *Header {
	return &Header{
		Number:         0,
		StateRoot:      spec.Genesis.StateRoot,
		ExtrinsicsRoot: spec.Genesis.ExtrinsicsRoot,
	}
}

// GenesisAuthoritySet returns set 0.
func (spec *ChainSpec) GenesisAuthoritySet() *AuthoritySet {
	return &AuthoritySet{
		SetID:       0,
		Authorities: append([]Authority(nil), spec.Genesis.Authorities...),
	}
}
