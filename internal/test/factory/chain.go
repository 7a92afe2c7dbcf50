package factory

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/josepot/smoldot/internal/consensus"
	"github.com/josepot/smoldot/types"
)

// Genesis returns a genesis header with a fixed state root.
func Genesis() *types.Header {
	return &types.Header{
		StateRoot:      types.HashBytes([]byte("genesis state")),
		ExtrinsicsRoot: types.HashBytes([]byte("genesis extrinsics")),
	}
}

// Salt returns an opaque digest item that makes otherwise identical headers
// differ.
func Salt(n uint64) types.DigestItem {
	data := make([]byte, 8)
	binary.BigEndian.PutUint64(data, n)
	return types.DigestItem{Kind: types.DigestOther, Engine: types.EngineID{'s', 'a', 'l', 't'}, Data: data}
}

// Change returns the digest item scheduling authorities as the next set.
func Change(authorities []types.Authority) types.DigestItem {
	return types.ScheduledChange{Authorities: authorities}.DigestItem()
}

func child(parent *types.Header, pre types.DigestItem, extra []types.DigestItem) *types.Header {
	h := &types.Header{
		ParentHash:     parent.Hash(),
		Number:         parent.Number + 1,
		StateRoot:      types.HashBytes(append(parent.StateRoot.Bytes(), pre.Data...)),
		ExtrinsicsRoot: parent.ExtrinsicsRoot,
	}
	h.Digest = append([]types.DigestItem{pre}, extra...)
	return h
}

// AuraChild returns a child of parent produced in slot and sealed by the
// slot's author in set.
func (kr *Keyring) AuraChild(
	t testing.TB,
	parent *types.Header,
	slot uint64,
	set *types.AuthoritySet,
	extra ...types.DigestItem,
) *types.Header {
	t.Helper()
	h := child(parent, consensus.AuraPreDigest(slot), extra)
	author := set.Authorities[slot%uint64(len(set.Authorities))].ID
	sealed, err := consensus.Seal(h, types.AuraEngineID, kr.Key(t, author))
	require.NoError(t, err)
	return sealed
}

// AuraChain returns n headers on top of parent, one per slot starting at
// firstSlot.
func (kr *Keyring) AuraChain(
	t testing.TB,
	parent *types.Header,
	firstSlot uint64,
	n int,
	set *types.AuthoritySet,
) []*types.Header {
	t.Helper()
	chain := make([]*types.Header, 0, n)
	for i := 0; i < n; i++ {
		h := kr.AuraChild(t, parent, firstSlot+uint64(i), set)
		chain = append(chain, h)
		parent = h
	}
	return chain
}

// RoundsChild returns a child of parent produced in view and round and sealed
// by the view's proposer.
func (kr *Keyring) RoundsChild(
	t testing.TB,
	parent *types.Header,
	view, round uint64,
	set *types.AuthoritySet,
	extra ...types.DigestItem,
) *types.Header {
	t.Helper()
	h := child(parent, consensus.RoundsPreDigest(view, round), extra)
	author, ok := consensus.Proposer(set, view)
	require.True(t, ok)
	sealed, err := consensus.Seal(h, types.RoundsEngineID, kr.Key(t, author))
	require.NoError(t, err)
	return sealed
}
