package types

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/josepot/smoldot/crypto/ed25519"
	tmmath "github.com/josepot/smoldot/libs/math"
)

// MaxAuthorities bounds the size of an authority set on the wire.
const MaxAuthorities = 1 << 12

// AuthorityID is an ed25519 public key.
type AuthorityID [ed25519.PubKeySize]byte

func (id AuthorityID) PubKey() ed25519.PubKey {
	return ed25519.PubKey(id[:])
}

func (id AuthorityID) String() string {
	return fmt.Sprintf("%X", id[:6])
}

func (id AuthorityID) MarshalText() ([]byte, error) {
	return []byte(fmt.Sprintf("%X", id[:])), nil
}

func (id *AuthorityID) UnmarshalText(text []byte) error {
	h, err := HashFromHex(string(text))
	if err != nil {
		return fmt.Errorf("invalid authority id: %w", err)
	}
	copy(id[:], h[:])
	return nil
}

// Authority is a voting member of an authority set.
type Authority struct {
	ID     AuthorityID `toml:"pub_key" json:"pub_key"`
	Weight uint64      `toml:"weight" json:"weight"`
}

// AuthoritySet is the ordered, weighted set of authorities entitled to produce
// blocks and vote on finality for a contiguous range of heights. SetID
// increases by one with every applied change.
type AuthoritySet struct {
	SetID       uint64      `json:"set_id"`
	Authorities []Authority `json:"authorities"`
}

// NewAuthoritySet builds a set and validates it.
func NewAuthoritySet(setID uint64, authorities []Authority) (*AuthoritySet, error) {
	set := &AuthoritySet{SetID: setID, Authorities: authorities}
	if err := set.ValidateBasic(); err != nil {
		return nil, err
	}
	return set, nil
}

// ValidateBasic checks the set is non-empty, has no duplicate keys, no zero
// weights and a total weight that fits in a uint64.
func (s *AuthoritySet) ValidateBasic() error {
	if s == nil || len(s.Authorities) == 0 {
		return errors.New("authority set is empty")
	}
	if len(s.Authorities) > MaxAuthorities {
		return fmt.Errorf("authority set too large: %d > %d", len(s.Authorities), MaxAuthorities)
	}
	seen := make(map[AuthorityID]struct{}, len(s.Authorities))
	var total uint64
	for i, a := range s.Authorities {
		if a.Weight == 0 {
			return fmt.Errorf("authority #%d (%v) has zero weight", i, a.ID)
		}
		if _, ok := seen[a.ID]; ok {
			return fmt.Errorf("duplicate authority %v", a.ID)
		}
		seen[a.ID] = struct{}{}
		var overflow bool
		if total, overflow = tmmath.SafeAddUint64(total, a.Weight); overflow {
			return errors.New("total authority weight overflows")
		}
	}
	return nil
}

// Size returns the number of authorities.
func (s *AuthoritySet) Size() int { return len(s.Authorities) }

// TotalWeight sums the weights of the set.
func (s *AuthoritySet) TotalWeight() uint64 {
	var total uint64
	for _, a := range s.Authorities {
		total += a.Weight
	}
	return total
}

// IndexOf returns the index of id in the set or -1.
func (s *AuthoritySet) IndexOf(id AuthorityID) int {
	for i, a := range s.Authorities {
		if bytes.Equal(a.ID[:], id[:]) {
			return i
		}
	}
	return -1
}

// Copy returns a deep copy.
func (s *AuthoritySet) Copy() *AuthoritySet {
	if s == nil {
		return nil
	}
	return &AuthoritySet{
		SetID:       s.SetID,
		Authorities: append([]Authority(nil), s.Authorities...),
	}
}

// Next returns the set that replaces s once a change to authorities is
// applied.
func (s *AuthoritySet) Next(authorities []Authority) *AuthoritySet {
	return &AuthoritySet{SetID: s.SetID + 1, Authorities: append([]Authority(nil), authorities...)}
}

// Equal reports whether both sets have the same id, members, order and
// weights.
func (s *AuthoritySet) Equal(o *AuthoritySet) bool {
	if s == nil || o == nil {
		return s == o
	}
	if s.SetID != o.SetID || len(s.Authorities) != len(o.Authorities) {
		return false
	}
	for i := range s.Authorities {
		if s.Authorities[i] != o.Authorities[i] {
			return false
		}
	}
	return true
}

func (s *AuthoritySet) String() string {
	if s == nil {
		return "nil-AuthoritySet"
	}
	return fmt.Sprintf("AuthoritySet{id=%d size=%d weight=%d}", s.SetID, len(s.Authorities), s.TotalWeight())
}

// Bytes returns the canonical encoding of the set.
func (s *AuthoritySet) Bytes() []byte {
	enc := NewEncoder()
	s.encode(enc)
	return enc.Bytes()
}

func (s *AuthoritySet) encode(enc *Encoder) {
	enc.Uvarint(s.SetID)
	encodeAuthorityList(enc, s.Authorities)
}

// DecodeAuthoritySet decodes the output of AuthoritySet.Bytes.
func DecodeAuthoritySet(bz []byte) (*AuthoritySet, error) {
	dec := NewDecoder(bz)
	s := decodeAuthoritySet(dec)
	if err := dec.Finish(); err != nil {
		return nil, fmt.Errorf("decoding authority set: %w", err)
	}
	return s, nil
}

func decodeAuthoritySet(dec *Decoder) *AuthoritySet {
	s := &AuthoritySet{SetID: dec.Uvarint()}
	s.Authorities = decodeAuthorityList(dec)
	if dec.Err() != nil {
		return nil
	}
	return s
}

func encodeAuthorityList(enc *Encoder, list []Authority) {
	enc.Uvarint(uint64(len(list)))
	for _, a := range list {
		enc.Fixed(a.ID[:])
		enc.Uvarint(a.Weight)
	}
}

func decodeAuthorityList(dec *Decoder) []Authority {
	n := dec.Length(MaxAuthorities)
	list := make([]Authority, 0, n)
	for i := 0; i < n && dec.Err() == nil; i++ {
		var a Authority
		copy(a.ID[:], dec.Fixed(len(a.ID)))
		a.Weight = dec.Uvarint()
		list = append(list, a)
	}
	return list
}

// ScheduledChange is the payload of a finality-engine consensus digest item
// announcing the next authority set. It is applied when the header carrying
// it is finalized.
type ScheduledChange struct {
	Authorities []Authority
}

// Bytes encodes the change as digest item data.
func (c ScheduledChange) Bytes() []byte {
	enc := NewEncoder()
	encodeAuthorityList(enc, c.Authorities)
	return enc.Bytes()
}

// DigestItem wraps the change into a consensus digest item.
func (c ScheduledChange) DigestItem() DigestItem {
	return DigestItem{Kind: DigestConsensus, Engine: FinalityEngineID, Data: c.Bytes()}
}

// DecodeScheduledChange decodes a change and validates the resulting set.
func DecodeScheduledChange(bz []byte) (ScheduledChange, error) {
	dec := NewDecoder(bz)
	list := decodeAuthorityList(dec)
	if err := dec.Finish(); err != nil {
		return ScheduledChange{}, fmt.Errorf("decoding scheduled change: %w", err)
	}
	if err := (&AuthoritySet{Authorities: list}).ValidateBasic(); err != nil {
		return ScheduledChange{}, fmt.Errorf("invalid scheduled change: %w", err)
	}
	return ScheduledChange{Authorities: list}, nil
}
