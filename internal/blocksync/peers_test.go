package blocksync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josepot/smoldot/types"
)

func TestPeerSetPenalizeResetsWhenAllAtMinimum(t *testing.T) {
	ps := newPeerSet()
	require.True(t, ps.upsert("a", 10, types.Hash{}))
	require.True(t, ps.upsert("b", 10, types.Hash{}))
	require.False(t, ps.upsert("b", 12, types.Hash{1}))

	for i := 0; i < 10; i++ {
		assert.False(t, ps.penalize("a"))
	}
	a, _ := ps.get("a")
	assert.EqualValues(t, minPriority, a.priority)

	reset := false
	for i := 0; i < 10 && !reset; i++ {
		reset = ps.penalize("b")
	}
	require.True(t, reset)
	for _, p := range ps.sorted() {
		assert.EqualValues(t, maxPriority, p.priority, p.id)
	}

	assert.False(t, ps.penalize("unknown"))
}

func TestPeerSetUpsertNeverLowersBest(t *testing.T) {
	ps := newPeerSet()
	ps.upsert("a", 10, types.Hash{1})
	ps.upsert("a", 5, types.Hash{2})

	a, _ := ps.get("a")
	assert.EqualValues(t, 10, a.bestNumber)
	assert.Equal(t, types.Hash{1}, a.bestHash)
	assert.EqualValues(t, 10, ps.maxBest())
}

func TestPeerSetReward(t *testing.T) {
	ps := newPeerSet()
	ps.upsert("a", 1, types.Hash{})
	ps.upsert("b", 1, types.Hash{})

	ps.penalize("a")
	a, _ := ps.get("a")
	assert.EqualValues(t, maxPriority/2, a.priority)

	ps.reward("a")
	assert.EqualValues(t, maxPriority/2+rewardAmount, a.priority)

	for i := 0; i < 100; i++ {
		ps.reward("a")
	}
	assert.EqualValues(t, maxPriority, a.priority)
}

func TestPeerSetPick(t *testing.T) {
	ps := newPeerSet()
	ps.upsert("a", 10, types.Hash{})
	ps.upsert("b", 20, types.Hash{})
	all := func(*peer) bool { return true }

	for i := 0; i < 20; i++ {
		p, ok := ps.pick(all, "a")
		require.True(t, ok)
		assert.Equal(t, types.PeerID("b"), p.id)
	}

	onlyA := func(p *peer) bool { return p.id == "a" }
	p, ok := ps.pick(onlyA, "a")
	require.True(t, ok, "the avoided peer is used when it is the only candidate")
	assert.Equal(t, types.PeerID("a"), p.id)

	tall := func(p *peer) bool { return p.bestNumber >= 15 }
	p, ok = ps.pick(tall, "")
	require.True(t, ok)
	assert.Equal(t, types.PeerID("b"), p.id)

	_, ok = ps.pick(func(*peer) bool { return false }, "")
	assert.False(t, ok)

	require.True(t, ps.remove("b"))
	require.False(t, ps.remove("b"))
	assert.EqualValues(t, 10, ps.maxBest())
}

func TestSortByPriority(t *testing.T) {
	peers := []PeerInfo{
		{ID: "c", Priority: 1},
		{ID: "b", Priority: 8},
		{ID: "a", Priority: 8},
	}
	sortByPriority(peers)
	assert.Equal(t, []types.PeerID{"a", "b", "c"}, []types.PeerID{peers[0].ID, peers[1].ID, peers[2].ID})
}
