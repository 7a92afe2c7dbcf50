package factory

import (
	"encoding/binary"
	"testing"

	"github.com/josepot/smoldot/crypto/ed25519"
	"github.com/josepot/smoldot/types"
)

// Keyring holds deterministic authority keys.
type Keyring struct {
	Keys []ed25519.PrivKey
	byID map[types.AuthorityID]ed25519.PrivKey
}

// NewKeyring derives n keys from fixed seeds, so authority ids are stable
// across runs.
func NewKeyring(n int) *Keyring {
	return NewKeyringWithOffset(n, 0)
}

// NewKeyringWithOffset derives n keys from seeds starting at offset; keyrings
// with disjoint ranges never share a key.
func NewKeyringWithOffset(n, offset int) *Keyring {
	kr := &Keyring{byID: make(map[types.AuthorityID]ed25519.PrivKey, n)}
	for i := 0; i < n; i++ {
		seed := make([]byte, ed25519.SeedSize)
		binary.BigEndian.PutUint64(seed[ed25519.SeedSize-8:], uint64(offset+i+1))
		key := ed25519.GenPrivKeyFromSeed(seed)
		kr.Keys = append(kr.Keys, key)
		kr.byID[AuthorityID(key)] = key
	}
	return kr
}

// AuthorityID returns the authority id of key.
func AuthorityID(key ed25519.PrivKey) types.AuthorityID {
	var id types.AuthorityID
	copy(id[:], key.PubKey().Bytes())
	return id
}

// ID returns the authority id of the i-th key.
func (kr *Keyring) ID(i int) types.AuthorityID {
	return AuthorityID(kr.Keys[i])
}

// Key returns the key of an authority.
func (kr *Keyring) Key(t testing.TB, id types.AuthorityID) ed25519.PrivKey {
	t.Helper()
	key, ok := kr.byID[id]
	if !ok {
		t.Fatalf("no key for authority %v", id)
	}
	return key
}

// Authorities returns every key as an authority, with weights in order. Keys
// without a weight get weight 1.
func (kr *Keyring) Authorities(weights ...uint64) []types.Authority {
	out := make([]types.Authority, len(kr.Keys))
	for i := range kr.Keys {
		w := uint64(1)
		if i < len(weights) {
			w = weights[i]
		}
		out[i] = types.Authority{ID: kr.ID(i), Weight: w}
	}
	return out
}

// AuthoritySet returns every key as set setID.
func (kr *Keyring) AuthoritySet(setID uint64, weights ...uint64) *types.AuthoritySet {
	return &types.AuthoritySet{SetID: setID, Authorities: kr.Authorities(weights...)}
}
