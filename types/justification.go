package types

import (
	"errors"
	"fmt"

	"github.com/josepot/smoldot/crypto/ed25519"
)

// MaxPrecommits bounds the number of precommits in a decoded justification.
const MaxPrecommits = MaxAuthorities * 2

// precommitDomain prefixes every signed precommit so a vote signature can never
// be replayed as a seal.
var precommitDomain = []byte("FRNK")

// Precommit is a finality vote for a block.
type Precommit struct {
	TargetHash   Hash
	TargetNumber uint64
}

// SignedPrecommit is a precommit together with the signer and its signature.
type SignedPrecommit struct {
	Precommit
	Signature   [ed25519.SignatureSize]byte
	AuthorityID AuthorityID
}

// PrecommitSignBytes returns the message an authority signs to precommit for
// a target in the given round of the given set.
func PrecommitSignBytes(p Precommit, round, setID uint64) []byte {
	enc := NewEncoder()
	enc.Fixed(precommitDomain)
	enc.Hash(p.TargetHash)
	enc.Uvarint(p.TargetNumber)
	enc.Uvarint(round)
	enc.Uvarint(setID)
	return enc.Bytes()
}

// VerifySignature checks the precommit signature for round and setID.
func (sp *SignedPrecommit) VerifySignature(round, setID uint64) bool {
	msg := PrecommitSignBytes(sp.Precommit, round, setID)
	return sp.AuthorityID.PubKey().VerifySignature(msg, sp.Signature[:])
}

func (sp *SignedPrecommit) String() string {
	return fmt.Sprintf("Precommit{%v #%d by %v}", sp.TargetHash.Short(), sp.TargetNumber, sp.AuthorityID)
}

// Justification proves that a block is final: a set of precommits from the
// authority set SetID in a single round, whose weight exceeds the quorum.
type Justification struct {
	Round        uint64
	SetID        uint64
	TargetHash   Hash
	TargetNumber uint64
	Precommits   []SignedPrecommit
}

// ValidateBasic performs stateless checks.
func (j *Justification) ValidateBasic() error {
	if j == nil {
		return errors.New("nil justification")
	}
	if len(j.Precommits) == 0 {
		return errors.New("justification has no precommits")
	}
	for i, p := range j.Precommits {
		if p.TargetNumber < j.TargetNumber {
			return fmt.Errorf("precommit #%d targets #%d below justification target #%d",
				i, p.TargetNumber, j.TargetNumber)
		}
	}
	return nil
}

// Bytes returns the canonical encoding.
func (j *Justification) Bytes() []byte {
	enc := NewEncoder()
	j.encode(enc)
	return enc.Bytes()
}

func (j *Justification) encode(enc *Encoder) {
	enc.Uvarint(j.Round)
	enc.Uvarint(j.SetID)
	enc.Hash(j.TargetHash)
	enc.Uvarint(j.TargetNumber)
	enc.Uvarint(uint64(len(j.Precommits)))
	for _, p := range j.Precommits {
		encodeSignedPrecommit(enc, p)
	}
}

func encodeSignedPrecommit(enc *Encoder, p SignedPrecommit) {
	enc.Hash(p.TargetHash)
	enc.Uvarint(p.TargetNumber)
	enc.Fixed(p.Signature[:])
	enc.Fixed(p.AuthorityID[:])
}

func decodeSignedPrecommit(dec *Decoder) SignedPrecommit {
	var p SignedPrecommit
	p.TargetHash = dec.Hash()
	p.TargetNumber = dec.Uvarint()
	copy(p.Signature[:], dec.Fixed(len(p.Signature)))
	copy(p.AuthorityID[:], dec.Fixed(len(p.AuthorityID)))
	return p
}

// DecodeJustification decodes the output of Justification.Bytes.
func DecodeJustification(bz []byte) (*Justification, error) {
	dec := NewDecoder(bz)
	j := decodeJustification(dec)
	if err := dec.Finish(); err != nil {
		return nil, fmt.Errorf("decoding justification: %w", err)
	}
	return j, nil
}

func decodeJustification(dec *Decoder) *Justification {
	j := &Justification{
		Round:        dec.Uvarint(),
		SetID:        dec.Uvarint(),
		TargetHash:   dec.Hash(),
		TargetNumber: dec.Uvarint(),
	}
	n := dec.Length(MaxPrecommits)
	j.Precommits = make([]SignedPrecommit, 0, n)
	for i := 0; i < n && dec.Err() == nil; i++ {
		j.Precommits = append(j.Precommits, decodeSignedPrecommit(dec))
	}
	if dec.Err() != nil {
		return nil
	}
	return j
}

func (j *Justification) String() string {
	if j == nil {
		return "nil-Justification"
	}
	return fmt.Sprintf("Justification{set=%d round=%d target=%v #%d votes=%d}",
		j.SetID, j.Round, j.TargetHash.Short(), j.TargetNumber, len(j.Precommits))
}

// CommitVote is a single precommit gossiped outside a justification.
type CommitVote struct {
	Round     uint64
	SetID     uint64
	Precommit SignedPrecommit
}

func (v *CommitVote) Bytes() []byte {
	enc := NewEncoder()
	enc.Uvarint(v.Round)
	enc.Uvarint(v.SetID)
	encodeSignedPrecommit(enc, v.Precommit)
	return enc.Bytes()
}

// DecodeCommitVote decodes the output of CommitVote.Bytes.
func DecodeCommitVote(bz []byte) (*CommitVote, error) {
	dec := NewDecoder(bz)
	v := &CommitVote{Round: dec.Uvarint(), SetID: dec.Uvarint()}
	v.Precommit = decodeSignedPrecommit(dec)
	if err := dec.Finish(); err != nil {
		return nil, fmt.Errorf("decoding commit vote: %w", err)
	}
	return v, nil
}
