package wallet

import (
	"testing"

	"github.com/mosaicnetworks/memorychain/src/chain"
	"github.com/mosaicnetworks/memorychain/src/common"
	"github.com/mosaicnetworks/memorychain/src/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completedTask(d chain.Difficulty, approvals, rejections int, multiplier float64) task.Task {
	return task.Task{
		ID:                 "t1",
		State:              task.Completed,
		ResolvedDifficulty: d,
		RewardMultiplier:   multiplier,
		Winner:             "B",
		WinningSolution:    0,
		Solutions: []task.Solution{
			{NodeID: "B", Status: task.Accepted, Approvals: approvals, Rejections: rejections},
		},
	}
}

func TestComputeReward(t *testing.T) {
	cases := []struct {
		task   task.Task
		reward int64
	}{
		{completedTask(chain.Easy, 4, 0, 1), 100},
		{completedTask(chain.Medium, 4, 0, 1), 250},
		{completedTask(chain.Hard, 4, 0, 1), 500},
		{completedTask(chain.Expert, 4, 0, 1), 1000},
		{completedTask(chain.Hard, 3, 1, 1), 375},
		// quality is clamped at one half
		{completedTask(chain.Hard, 1, 9, 1), 250},
		{completedTask(chain.Medium, 2, 1, 1.5), 250},
		{completedTask(chain.Easy, 1, 0, 0), 100},
	}

	for i, c := range cases {
		r, err := ComputeReward(c.task)
		require.NoError(t, err, "case %d", i)
		assert.Equal(t, c.reward, r, "case %d", i)
	}

	_, err := ComputeReward(task.Task{State: task.SolutionPending})
	assert.Equal(t, ErrTaskNotCompleted, err)
}

func TestQualityFactor(t *testing.T) {
	assert.Equal(t, 1.0, QualityFactor(0, 0))
	assert.Equal(t, 1.0, QualityFactor(3, 0))
	assert.Equal(t, 0.75, QualityFactor(3, 1))
	assert.Equal(t, 0.5, QualityFactor(1, 3))
}

func block(i int, tx *chain.Transaction) *chain.Block {
	return chain.NewBlock(i, int64(i), chain.NewTransactionPayload(tx), "", tx.From, "")
}

func TestLedger(t *testing.T) {
	l := NewLedger(common.NewTestEntry(t, common.TestLogLevel))

	reward, err := l.Distribute(completedTask(chain.Hard, 4, 0, 1), 10)
	require.NoError(t, err)
	assert.Equal(t, chain.IssuanceAccount, reward.From)
	assert.Equal(t, "B", reward.To)
	assert.Equal(t, int64(500), reward.Amount)
	assert.NoError(t, reward.Validate())

	ok, err := l.Apply(block(0, reward))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(500), l.Balance("B"))
	assert.Equal(t, int64(500), l.Minted())

	_, err = l.Transfer("C", "B", 1, 11)
	assert.Equal(t, ErrInsufficientBalance, err)
	_, err = l.Transfer("B", "C", 0, 11)
	assert.Equal(t, ErrInvalidAmount, err)

	tx, err := l.Transfer("B", "C", 200, 11)
	require.NoError(t, err)
	require.NoError(t, l.Validate(block(1, tx)))
	_, err = l.Apply(block(1, tx))
	require.NoError(t, err)

	assert.Equal(t, int64(300), l.Balance("B"))
	assert.Equal(t, int64(200), l.Balance("C"))
	assert.Equal(t, int64(500), l.Minted())

	// overdraft is refused at commit time too
	big := &chain.Transaction{From: "C", To: "B", Amount: 201, Reason: chain.TransferTx}
	assert.Equal(t, ErrInsufficientBalance, l.Validate(block(2, big)))
	_, err = l.Apply(block(2, big))
	assert.Equal(t, ErrInsufficientBalance, err)

	assert.Len(t, l.History("B"), 2)
	assert.Len(t, l.History("C"), 1)
	assert.Len(t, l.History(""), 2)
	assert.Equal(t, 1, l.History("C")[0].BlockIndex)
	assert.Equal(t, []string{"B", "C"}, l.Accounts())

	// sum of balances equals the minted amount
	var sum int64
	for _, v := range l.Balances() {
		sum += v
	}
	assert.Equal(t, l.Minted(), sum)

	l.Reset()
	assert.Equal(t, int64(0), l.Balance("B"))
	assert.Equal(t, int64(0), l.Minted())
	assert.Empty(t, l.History(""))
}

func TestApplyIgnoresOtherPayloads(t *testing.T) {
	l := NewLedger(nil)
	b := chain.NewBlock(0, 0, chain.NewMemoryPayload(chain.NewMemory("s", "c", nil, nil)), "", "A", "")
	ok, err := l.Apply(b)
	assert.NoError(t, err)
	assert.False(t, ok)
}
