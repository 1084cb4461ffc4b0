package task

import (
	"testing"
	"time"

	"github.com/mosaicnetworks/memorychain/src/chain"
	"github.com/mosaicnetworks/memorychain/src/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type builder struct {
	t     *testing.T
	m     *Manager
	index int
}

func newBuilder(t *testing.T) *builder {
	return &builder{
		t: t,
		m: NewManager(DefaultMaxBoosts, common.NewTestEntry(t, common.TestLogLevel)),
	}
}

func (b *builder) block(p chain.Payload, proposer string) *chain.Block {
	blk := chain.NewBlock(b.index, int64(b.index+1)*int64(time.Second), p, "", proposer, "R")
	b.index++
	return blk
}

func (b *builder) apply(p chain.Payload, proposer string) (Task, error) {
	t, _, err := b.m.Apply(b.block(p, proposer))
	return t, err
}

func (b *builder) must(p chain.Payload, proposer string) Task {
	t, err := b.apply(p, proposer)
	require.NoError(b.t, err)
	return t
}

func record(action chain.TaskAction, id string) *chain.TaskRecord {
	return &chain.TaskRecord{Action: action, TaskID: id}
}

func create(id string) chain.Payload {
	r := record(chain.TaskCreate, id)
	r.Description = "summarise the notes"
	r.DifficultyHint = chain.Medium
	return chain.NewTaskPayload(r)
}

func difficulty(id string, d chain.Difficulty) chain.Payload {
	r := record(chain.TaskDifficulty, id)
	r.Difficulty = d
	r.DifficultyVotes = map[string]chain.Difficulty{"A": d, "B": d}
	return chain.NewTaskPayload(r)
}

func claim(id, node string) chain.Payload {
	r := record(chain.TaskClaim, id)
	r.NodeID = node
	return chain.NewTaskPayload(r)
}

func solution(id, node, ref string) chain.Payload {
	r := record(chain.TaskSolution, id)
	r.NodeID = node
	r.SolutionRef = ref
	return chain.NewTaskPayload(r)
}

func solutionVote(id string, index int, accepted bool, votes map[string]chain.Decision) chain.Payload {
	return chain.NewSolutionVotePayload(chain.NewSolutionVote(id, index, accepted, votes))
}

func TestLifecycle(t *testing.T) {
	b := newBuilder(t)

	b.m.Track("t1", "summarise the notes", "A", chain.Medium)
	tk, err := b.m.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, Proposed, tk.State)

	tk = b.must(create("t1"), "A")
	assert.Equal(t, OpenForDifficultyVote, tk.State)
	assert.Equal(t, "R", tk.ResponsibleNodeID)
	assert.Equal(t, "A", tk.Creator)

	assert.Equal(t, ErrTaskNotClaimable, b.m.CheckClaim("t1", "B"))
	_, err = b.apply(claim("t1", "B"), "B")
	assert.Equal(t, ErrTaskNotClaimable, err)

	tk = b.must(difficulty("t1", chain.Hard), "R")
	assert.Equal(t, Claimable, tk.State)
	assert.Equal(t, chain.Hard, tk.ResolvedDifficulty)

	// difficulty is immutable once resolved
	_, err = b.apply(difficulty("t1", chain.Easy), "R")
	assert.Equal(t, ErrDifficultyResolved, err)

	// solution before claim
	_, err = b.apply(solution("t1", "B", "ref-b"), "B")
	assert.Equal(t, ErrNotClaimant, err)

	tk = b.must(claim("t1", "B"), "B")
	assert.Equal(t, InProgress, tk.State)
	assert.Equal(t, []string{"B"}, tk.Claims)

	// claims are non-exclusive and duplicates are idempotent
	b.must(claim("t1", "C"), "C")
	tk = b.must(claim("t1", "B"), "B")
	assert.Equal(t, []string{"B", "C"}, tk.Claims)

	tk = b.must(solution("t1", "B", "ref-b"), "B")
	assert.Equal(t, SolutionPending, tk.State)
	tk = b.must(solution("t1", "C", "ref-c"), "C")
	assert.Equal(t, []int{0, 1}, tk.PendingSolutions())

	// claims are still accepted while solutions are pending
	assert.NoError(t, b.m.CheckClaim("t1", "D"))

	votes := map[string]chain.Decision{"A": chain.Approve, "B": chain.Approve, "C": chain.Approve, "D": chain.Reject}
	tk = b.must(solutionVote("t1", 1, true, votes), "R")
	assert.Equal(t, Completed, tk.State)
	assert.Equal(t, "C", tk.Winner)
	assert.Equal(t, Accepted, tk.Solutions[1].Status)
	assert.Equal(t, Superseded, tk.Solutions[0].Status)
	assert.Equal(t, 3, tk.Solutions[1].Approvals)
	assert.Equal(t, 1, tk.Solutions[1].Rejections)

	// completed is terminal
	_, err = b.apply(solutionVote("t1", 0, true, votes), "R")
	assert.Equal(t, ErrTaskCompleted, err)
	_, err = b.apply(claim("t1", "D"), "D")
	assert.Equal(t, ErrTaskNotClaimable, err)
	assert.Equal(t, ErrTaskCompleted, b.m.CheckSolution("t1", "B"))

	// reward
	reward := chain.NewTransactionPayload(&chain.Transaction{From: chain.IssuanceAccount, To: "B", Amount: 1, Reason: chain.RewardTx, TaskID: "t1"})
	_, err = b.apply(reward, "R")
	assert.Error(t, err, "reward must go to the winner")

	reward.Transaction.To = "C"
	tk = b.must(reward, "R")
	assert.True(t, tk.Rewarded)
	_, err = b.apply(reward, "R")
	assert.Equal(t, ErrAlreadyRewarded, err)
}

func TestReopen(t *testing.T) {
	b := newBuilder(t)
	b.must(create("t1"), "A")
	b.must(difficulty("t1", chain.Easy), "R")
	b.must(claim("t1", "B"), "B")
	b.must(solution("t1", "B", "ref-1"), "B")
	b.must(solution("t1", "B", "ref-2"), "B")

	no := map[string]chain.Decision{"A": chain.Reject, "C": chain.Reject}

	tk := b.must(solutionVote("t1", 0, false, no), "R")
	assert.Equal(t, SolutionPending, tk.State, "solution 1 is still pending")
	assert.Equal(t, Refused, tk.Solutions[0].Status)

	// the same solution cannot be voted twice
	_, err := b.apply(solutionVote("t1", 0, false, no), "R")
	assert.Equal(t, ErrSolutionNotPending, err)

	tk = b.must(solutionVote("t1", 1, false, no), "R")
	assert.Equal(t, Reopened, tk.State)
	assert.Equal(t, []string{"B"}, tk.Claims)

	// reopened behaves as claimable
	assert.NoError(t, b.m.CheckClaim("t1", "C"))
	tk = b.must(claim("t1", "C"), "C")
	assert.Equal(t, InProgress, tk.State)

	tk = b.must(solution("t1", "C", "ref-3"), "C")
	assert.Equal(t, SolutionPending, tk.State)
}

func TestUnknownTask(t *testing.T) {
	b := newBuilder(t)
	_, err := b.apply(claim("nope", "B"), "B")
	assert.Equal(t, ErrTaskNotFound, err)
	_, err = b.m.Get("nope")
	assert.Equal(t, ErrTaskNotFound, err)
	assert.Equal(t, ErrTaskNotFound, b.m.CheckClaim("nope", "B"))

	b.must(create("t1"), "A")
	_, err = b.apply(create("t1"), "A")
	assert.Equal(t, ErrTaskExists, err)
}

func TestNonTaskBlocks(t *testing.T) {
	b := newBuilder(t)
	_, ok, err := b.m.Apply(b.block(chain.NewMemoryPayload(chain.NewMemory("s", "c", nil, nil)), "A"))
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestBoost(t *testing.T) {
	b := newBuilder(t)
	b.must(create("t1"), "A")
	tk := b.must(difficulty("t1", chain.Easy), "R")

	since := time.Unix(0, tk.ClaimableSince)
	assert.Empty(t, b.m.Boostable(since.Add(time.Minute), time.Hour))
	boostable := b.m.Boostable(since.Add(2*time.Hour), time.Hour)
	require.Len(t, boostable, 1)
	assert.Equal(t, "t1", boostable[0].ID)

	boost := chain.NewTaskPayload(&chain.TaskRecord{Action: chain.TaskBoost, TaskID: "t1", Multiplier: 1.5})
	for i := 0; i < DefaultMaxBoosts; i++ {
		b.must(boost, "R")
	}
	tk, _ = b.m.Get("t1")
	assert.InDelta(t, 3.375, tk.RewardMultiplier, 1e-9)
	assert.Equal(t, DefaultMaxBoosts, tk.Boosts)

	_, err := b.apply(boost, "R")
	assert.Equal(t, ErrBoostLimit, err)
	assert.Empty(t, b.m.Boostable(time.Now().Add(24*time.Hour), time.Hour))

	// claimed tasks are not boosted
	b.must(create("t2"), "A")
	b.must(difficulty("t2", chain.Easy), "R")
	b.must(claim("t2", "B"), "B")
	assert.Empty(t, b.m.Boostable(time.Now().Add(24*time.Hour), time.Hour))
	_, err = b.apply(chain.NewTaskPayload(&chain.TaskRecord{Action: chain.TaskBoost, TaskID: "t2", Multiplier: 2}), "R")
	assert.Equal(t, ErrBoostLimit, err)

	// boosts stop once the product would exceed the reward multiplier cap
	b.must(create("t3"), "A")
	b.must(difficulty("t3", chain.Expert), "R")
	big := chain.NewTaskPayload(&chain.TaskRecord{Action: chain.TaskBoost, TaskID: "t3", Multiplier: chain.MaxBoostMultiplier})
	b.must(big, "R")
	b.must(big, "R")
	_, err = b.apply(big, "R")
	assert.Equal(t, ErrBoostLimit, err)
	tk, _ = b.m.Get("t3")
	assert.InDelta(t, chain.MaxRewardMultiplier, tk.RewardMultiplier, 1e-9)
}

func TestReplay(t *testing.T) {
	b := newBuilder(t)
	blocks := []*chain.Block{
		b.block(create("t1"), "A"),
		b.block(difficulty("t1", chain.Medium), "R"),
		b.block(claim("t1", "B"), "B"),
	}
	for _, blk := range blocks {
		_, _, err := b.m.Apply(blk)
		require.NoError(t, err)
	}
	before, _ := b.m.Get("t1")

	b.m.Track("t9", "pending", "A", "")
	b.m.Reset()
	_, err := b.m.Get("t1")
	assert.Equal(t, ErrTaskNotFound, err)
	_, err = b.m.Get("t9")
	assert.NoError(t, err, "proposed tasks survive a reset")

	for _, blk := range blocks {
		_, _, err := b.m.Apply(blk)
		require.NoError(t, err)
	}
	after, _ := b.m.Get("t1")
	assert.Equal(t, before, after)

	assert.Len(t, b.m.InState(InProgress), 1)
	assert.Len(t, b.m.List(), 2)
}
