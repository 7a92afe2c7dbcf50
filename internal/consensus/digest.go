package consensus

import (
	"fmt"

	"github.com/josepot/smoldot/crypto/ed25519"
	"github.com/josepot/smoldot/types"
)

// AuraPreDigest returns the pre-runtime item announcing slot.
func AuraPreDigest(slot uint64) types.DigestItem {
	enc := types.NewEncoder()
	enc.Uvarint(slot)
	return types.DigestItem{Kind: types.DigestPreRuntime, Engine: types.AuraEngineID, Data: enc.Bytes()}
}

// RoundsPreDigest returns the pre-runtime item announcing view and round.
func RoundsPreDigest(view, round uint64) types.DigestItem {
	enc := types.NewEncoder()
	enc.Uvarint(view)
	enc.Uvarint(round)
	return types.DigestItem{Kind: types.DigestPreRuntime, Engine: types.RoundsEngineID, Data: enc.Bytes()}
}

func decodeAuraSlot(data []byte) (uint64, error) {
	dec := types.NewDecoder(data)
	slot := dec.Uvarint()
	return slot, dec.Finish()
}

func decodeRoundsView(data []byte) (view, round uint64, err error) {
	dec := types.NewDecoder(data)
	view, round = dec.Uvarint(), dec.Uvarint()
	return view, round, dec.Finish()
}

// Seal returns a copy of h, with any existing seal replaced by a seal of the
// given engine signed by key.
func Seal(h *types.Header, engine types.EngineID, key ed25519.PrivKey) (*types.Header, error) {
	sealed := h.Copy()
	if _, ok := sealed.Seal(); ok {
		sealed.Digest = sealed.Digest[:len(sealed.Digest)-1]
	}
	msg := sealed.Hash()
	sig, err := key.Sign(msg[:])
	if err != nil {
		return nil, fmt.Errorf("signing header: %w", err)
	}
	sealed.Digest = append(sealed.Digest, types.DigestItem{Kind: types.DigestSeal, Engine: engine, Data: sig})
	return sealed, nil
}

// stagedChange decodes the authority change scheduled by h, if any.
func stagedChange(h *types.Header) (*types.ScheduledChange, error) {
	items := h.ConsensusItems(types.FinalityEngineID)
	switch len(items) {
	case 0:
		return nil, nil
	case 1:
		change, err := types.DecodeScheduledChange(items[0])
		if err != nil {
			return nil, newError(ErrMalformedDigest, "%v", err)
		}
		return &change, nil
	default:
		return nil, newError(ErrMalformedDigest, "%d authority changes in one header", len(items))
	}
}

// checkSeal verifies the trailing seal of h against author.
func checkSeal(h *types.Header, engine types.EngineID, author types.AuthorityID) error {
	seal, ok := h.Seal()
	if !ok {
		return newError(ErrBadSeal, "header is not sealed")
	}
	if seal.Engine != engine {
		return newError(ErrBadSeal, "seal of engine %v, expected %v", seal.Engine, engine)
	}
	if len(seal.Data) != ed25519.SignatureSize {
		return newError(ErrBadSeal, "seal has %d bytes", len(seal.Data))
	}
	msg := h.SigningHash()
	if !author.PubKey().VerifySignature(msg[:], seal.Data) {
		return newError(ErrBadSeal, "signature does not match author %v", author)
	}
	return nil
}
