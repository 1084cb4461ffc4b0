package chain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPayloadValidate(t *testing.T) {
	cases := []struct {
		name    string
		payload Payload
		ok      bool
	}{
		{"memory", NewMemoryPayload(NewMemory("s", "c", nil, nil)), true},
		{"empty memory", NewMemoryPayload(NewMemory("s", "", nil, nil)), false},
		{"no variant", Payload{Type: MemoryPayload}, false},
		{"wrong tag", Payload{Type: TaskPayload, Memory: NewMemory("s", "c", nil, nil)}, false},
		{"two variants", Payload{Type: MemoryPayload, Memory: NewMemory("s", "c", nil, nil), Task: &TaskRecord{}}, false},
		{"task create", NewTaskPayload(&TaskRecord{Action: TaskCreate, TaskID: "t", Description: "d", DifficultyHint: Hard}), true},
		{"task bad hint", NewTaskPayload(&TaskRecord{Action: TaskCreate, TaskID: "t", Description: "d", DifficultyHint: "trivial"}), false},
		{"task difficulty", NewTaskPayload(&TaskRecord{Action: TaskDifficulty, TaskID: "t", Difficulty: Easy}), true},
		{"task claim no node", NewTaskPayload(&TaskRecord{Action: TaskClaim, TaskID: "t"}), false},
		{"task solution", NewTaskPayload(&TaskRecord{Action: TaskSolution, TaskID: "t", NodeID: "B", SolutionRef: "ref"}), true},
		{"task boost", NewTaskPayload(&TaskRecord{Action: TaskBoost, TaskID: "t", Multiplier: 1.5}), true},
		{"task boost down", NewTaskPayload(&TaskRecord{Action: TaskBoost, TaskID: "t", Multiplier: 0.5}), false},
		{"task boost max", NewTaskPayload(&TaskRecord{Action: TaskBoost, TaskID: "t", Multiplier: MaxBoostMultiplier}), true},
		{"task boost huge", NewTaskPayload(&TaskRecord{Action: TaskBoost, TaskID: "t", Multiplier: 1e300}), false},
		{"task unknown", NewTaskPayload(&TaskRecord{Action: "delete", TaskID: "t"}), false},
		{"reward", NewTransactionPayload(&Transaction{From: IssuanceAccount, To: "B", Amount: 5, Reason: RewardTx, TaskID: "t"}), true},
		{"reward not minted", NewTransactionPayload(&Transaction{From: "A", To: "B", Amount: 5, Reason: RewardTx, TaskID: "t"}), false},
		{"transfer", NewTransactionPayload(&Transaction{From: "A", To: "B", Amount: 5, Reason: TransferTx}), true},
		{"transfer zero", NewTransactionPayload(&Transaction{From: "A", To: "B", Amount: 0, Reason: TransferTx}), false},
		{"transfer self", NewTransactionPayload(&Transaction{From: "A", To: "A", Amount: 3, Reason: TransferTx}), false},
		{"solution vote", NewSolutionVotePayload(NewSolutionVote("t", 0, true, map[string]Decision{"A": Approve})), true},
		{"solution vote bad totals", NewSolutionVotePayload(&SolutionVote{TaskID: "t", Votes: map[string]Decision{"A": Approve}}), false},
	}

	for _, c := range cases {
		err := c.payload.Validate()
		if c.ok {
			assert.NoError(t, err, c.name)
		} else {
			assert.Error(t, err, c.name)
		}
	}
}

func TestNewMemoryDefaults(t *testing.T) {
	m := NewMemory("", "hello", map[string]string{"From": "agent"}, []string{"seen"})
	assert.Equal(t, "Untitled", m.Subject())
	assert.NotEmpty(t, m.Headers["Date"])
	assert.Equal(t, "agent", m.Headers["From"])

	m = NewMemory("Groceries", "milk", map[string]string{"Subject": "ignored"}, nil)
	assert.Equal(t, "Groceries", m.Subject())
}

func TestParseDifficulty(t *testing.T) {
	d, err := ParseDifficulty("expert")
	assert.NoError(t, err)
	assert.Equal(t, Expert, d)

	_, err = ParseDifficulty("impossible")
	assert.Error(t, err)
}

func TestDecided(t *testing.T) {
	mem := NewBlock(0, 0, NewMemoryPayload(NewMemory("s", "c", nil, nil)), GenesisHash, "A", "A")
	assert.Equal(t, string(Approve), mem.Decided())

	level := NewBlock(0, 0, NewTaskPayload(&TaskRecord{Action: TaskDifficulty, TaskID: "t", Difficulty: Hard}), GenesisHash, "A", "A")
	assert.Equal(t, string(Hard), level.Decided())

	refused := NewBlock(0, 0, NewSolutionVotePayload(NewSolutionVote("t", 0, false, map[string]Decision{"A": Reject})), GenesisHash, "A", "A")
	assert.Equal(t, string(Reject), refused.Decided())
}

func TestEndorsementsAreHashed(t *testing.T) {
	b := NewBlock(0, 0, NewMemoryPayload(NewMemory("s", "c", nil, nil)), GenesisHash, "A", "A")
	assert.NoError(t, b.Seal())
	bare := b.Hash

	b.Endorse("p1", []Endorsement{{NodeID: "A", Decision: Approve}})
	assert.NoError(t, b.Seal())
	assert.NotEqual(t, bare, b.Hash)

	b.Body.Endorsements[0].Decision = Reject
	hash, err := b.ComputeHash()
	assert.NoError(t, err)
	assert.NotEqual(t, b.Hash, hash, "changing a recorded vote must change the hash")
}
