package consensus

import (
	"testing"

	"github.com/mosaicnetworks/memorychain/src/chain"
	"github.com/mosaicnetworks/memorychain/src/peers"
	"github.com/stretchr/testify/assert"
)

func TestQuorumPolicy(t *testing.T) {
	p := DefaultQuorumPolicy()
	assert.NoError(t, p.Validate())

	assert.False(t, p.Reached(0, 0))
	assert.False(t, p.Reached(2, 4))
	assert.True(t, p.Reached(3, 4))
	assert.True(t, p.Reached(1, 1))

	for n := 1; n < 10; n++ {
		assert.Equal(t, n/2+1, p.Needed(n), "n=%d", n)
	}

	p.Threshold = 2.0 / 3
	assert.NoError(t, p.Validate())
	assert.False(t, p.Reached(2, 3))
	assert.True(t, p.Reached(3, 4))

	assert.Error(t, QuorumPolicy{Threshold: 0.4, Denominator: OnlineOnly}.Validate())
	assert.Error(t, QuorumPolicy{Threshold: 1, Denominator: OnlineOnly}.Validate())
	assert.Error(t, QuorumPolicy{Threshold: 0.5, Denominator: "some"}.Validate())
}

func TestTallyIgnoresNonVoters(t *testing.T) {
	votes := map[string]Vote{
		"A": {NodeID: "A", Decision: chain.Approve},
		"B": {NodeID: "B", Decision: chain.Reject},
		"Z": {NodeID: "Z", Decision: chain.Approve},
	}
	tl := newTally(votes, []string{"A", "B", "C"})
	assert.Equal(t, 3, tl.voters)
	assert.Equal(t, 1, tl.approvals)
	assert.Equal(t, 1, tl.rejects)
	assert.Len(t, tl.counted, 2)
}

func TestAssignment(t *testing.T) {
	candidates := []peers.Node{
		{ID: "C", Reputation: 0.5},
		{ID: "A", Reputation: 0.5},
		{ID: "B", Reputation: 0.5},
	}
	p := chain.Payload{}

	rr := RoundRobin{}
	assert.Equal(t, "A", rr.Assign(0, p, candidates))
	assert.Equal(t, "B", rr.Assign(1, p, candidates))
	assert.Equal(t, "C", rr.Assign(2, p, candidates))
	assert.Equal(t, "A", rr.Assign(3, p, candidates))
	assert.Equal(t, "", rr.Assign(0, p, nil))

	rw := ReputationWeighted{}
	for i := 0; i < 20; i++ {
		assert.Equal(t, rw.Assign(i, p, candidates), rw.Assign(i, p, candidates))
	}

	// a zero reputation node is never picked
	weighted := []peers.Node{
		{ID: "A", Reputation: 0},
		{ID: "B", Reputation: 1},
	}
	for i := 0; i < 20; i++ {
		assert.Equal(t, "B", rw.Assign(i, p, weighted))
	}

	fixed := AssignFunc(func(int, chain.Payload, []peers.Node) string { return "X" })
	assert.Equal(t, "X", fixed.Assign(0, p, candidates))

	assert.IsType(t, ReputationWeighted{}, NewAssignmentStrategy("reputation"))
	assert.IsType(t, RoundRobin{}, NewAssignmentStrategy("round-robin"))
}
