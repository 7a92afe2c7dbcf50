package types

import (
	"errors"
	"fmt"
)

// EngineID is the four byte tag that names the consensus engine a digest item
// belongs to.
type EngineID [4]byte

var (
	AuraEngineID     = EngineID{'a', 'u', 'r', 'a'}
	RoundsEngineID   = EngineID{'r', 'n', 'd', 's'}
	FinalityEngineID = EngineID{'F', 'R', 'N', 'K'}
)

func (id EngineID) String() string { return string(id[:]) }

// DigestKind tags a digest item.
type DigestKind byte

const (
	// DigestPreRuntime carries engine inputs such as the slot or view.
	DigestPreRuntime DigestKind = iota + 1
	// DigestConsensus carries engine messages such as authority changes.
	DigestConsensus
	// DigestSeal carries the author's signature; it must be the last item.
	DigestSeal
	// DigestOther is opaque to the light client.
	DigestOther
)

func (k DigestKind) String() string {
	switch k {
	case DigestPreRuntime:
		return "PreRuntime"
	case DigestConsensus:
		return "Consensus"
	case DigestSeal:
		return "Seal"
	case DigestOther:
		return "Other"
	default:
		return fmt.Sprintf("DigestKind(%d)", byte(k))
	}
}

const (
	// MaxDigestItems bounds the number of digest items in a header.
	MaxDigestItems = 64
)

// DigestItem is one engine-specific entry of a header digest.
type DigestItem struct {
	Kind   DigestKind
	Engine EngineID
	Data   []byte
}

// Header is a block header. Headers are immutable once constructed: nothing in
// this module mutates a Header after it was decoded or built, and callers that
// need to modify one must Copy it first.
type Header struct {
	ParentHash     Hash
	Number         uint64
	StateRoot      Hash
	ExtrinsicsRoot Hash
	Digest         []DigestItem
}

// Hash is the identity of the header: BLAKE2b-256 of its canonical encoding,
// seal included.
func (h *Header) Hash() Hash {
	return HashBytes(h.Bytes())
}

// SigningHash is the hash the author's seal signs: the header hash computed
// without the trailing seal item.
func (h *Header) SigningHash() Hash {
	if _, ok := h.Seal(); !ok {
		return h.Hash()
	}
	unsealed := *h
	unsealed.Digest = h.Digest[:len(h.Digest)-1]
	return unsealed.Hash()
}

// Bytes returns the canonical encoding of the header.
func (h *Header) Bytes() []byte {
	enc := NewEncoder()
	h.encode(enc)
	return enc.Bytes()
}

func (h *Header) encode(enc *Encoder) {
	enc.Hash(h.ParentHash)
	enc.Uvarint(h.Number)
	enc.Hash(h.StateRoot)
	enc.Hash(h.ExtrinsicsRoot)
	enc.Uvarint(uint64(len(h.Digest)))
	for _, item := range h.Digest {
		enc.Byte(byte(item.Kind))
		enc.Fixed(item.Engine[:])
		enc.ByteSlice(item.Data)
	}
}

// DecodeHeader decodes a header produced by Header.Bytes.
func DecodeHeader(bz []byte) (*Header, error) {
	dec := NewDecoder(bz)
	h := decodeHeader(dec)
	if err := dec.Finish(); err != nil {
		return nil, fmt.Errorf("decoding header: %w", err)
	}
	return h, nil
}

func decodeHeader(dec *Decoder) *Header {
	h := &Header{
		ParentHash:     dec.Hash(),
		Number:         dec.Uvarint(),
		StateRoot:      dec.Hash(),
		ExtrinsicsRoot: dec.Hash(),
	}
	n := dec.Length(MaxDigestItems)
	if n > 0 {
		h.Digest = make([]DigestItem, 0, n)
	}
	for i := 0; i < n && dec.Err() == nil; i++ {
		kind := DigestKind(dec.Byte())
		if kind < DigestPreRuntime || kind > DigestOther {
			dec.fail("unknown digest kind %d", kind)
			break
		}
		var engine EngineID
		copy(engine[:], dec.Fixed(len(engine)))
		h.Digest = append(h.Digest, DigestItem{Kind: kind, Engine: engine, Data: dec.ByteSlice()})
	}
	if dec.Err() != nil {
		return nil
	}
	return h
}

// Copy returns a deep copy of the header.
func (h *Header) Copy() *Header {
	if h == nil {
		return nil
	}
	cp := *h
	if h.Digest != nil {
		cp.Digest = make([]DigestItem, len(h.Digest))
		for i, item := range h.Digest {
			cp.Digest[i] = DigestItem{Kind: item.Kind, Engine: item.Engine, Data: append([]byte(nil), item.Data...)}
		}
	}
	return &cp
}

// Seal returns the trailing seal item, if any.
func (h *Header) Seal() (DigestItem, bool) {
	if len(h.Digest) == 0 {
		return DigestItem{}, false
	}
	last := h.Digest[len(h.Digest)-1]
	return last, last.Kind == DigestSeal
}

// PreRuntime returns the data of the pre-runtime item of the given engine.
func (h *Header) PreRuntime(engine EngineID) ([]byte, bool) {
	for _, item := range h.Digest {
		if item.Kind == DigestPreRuntime && item.Engine == engine {
			return item.Data, true
		}
	}
	return nil, false
}

// ConsensusItems returns the data of every consensus item of the given engine
// in digest order.
func (h *Header) ConsensusItems(engine EngineID) [][]byte {
	var out [][]byte
	for _, item := range h.Digest {
		if item.Kind == DigestConsensus && item.Engine == engine {
			out = append(out, item.Data)
		}
	}
	return out
}

// ValidateDigest checks the structural rules every engine relies on: at most
// one seal and only in last position, at most one pre-runtime item per engine.
func (h *Header) ValidateDigest() error {
	preRuntime := make(map[EngineID]struct{})
	for i, item := range h.Digest {
		switch item.Kind {
		case DigestSeal:
			if i != len(h.Digest)-1 {
				return errors.New("seal is not the last digest item")
			}
		case DigestPreRuntime:
			if _, ok := preRuntime[item.Engine]; ok {
				return fmt.Errorf("duplicate pre-runtime item for engine %v", item.Engine)
			}
			preRuntime[item.Engine] = struct{}{}
		case DigestConsensus, DigestOther:
		default:
			return fmt.Errorf("unknown digest kind %v", item.Kind)
		}
	}
	return nil
}

func (h *Header) String() string {
	if h == nil {
		return "nil-Header"
	}
	return fmt.Sprintf("Header{#%d %v parent=%v}", h.Number, h.Hash().Short(), h.ParentHash.Short())
}
