package chain

import (
	"fmt"
	"time"
)

// IssuanceAccount is the pseudo-account rewards are minted from.
const IssuanceAccount = "network"

const (
	// MaxBoostMultiplier bounds the multiplier of a single boost.
	MaxBoostMultiplier = 10.0
	// MaxRewardMultiplier bounds the product of the boosts of a task.
	MaxRewardMultiplier = 100.0
)

// PayloadType tags the variant carried by a Payload.
type PayloadType string

const (
	MemoryPayload       PayloadType = "memory"
	TaskPayload         PayloadType = "task"
	TransactionPayload  PayloadType = "transaction"
	SolutionVotePayload PayloadType = "solution_vote"
)

// Decision is a yes/no vote.
type Decision string

const (
	Approve Decision = "approve"
	Reject  Decision = "reject"
)

// Valid ...
func (d Decision) Valid() bool {
	return d == Approve || d == Reject
}

// Difficulty is the resolved level of a task.
type Difficulty string

const (
	Easy   Difficulty = "easy"
	Medium Difficulty = "medium"
	Hard   Difficulty = "hard"
	Expert Difficulty = "expert"
)

// DifficultyLevels returns the levels in ascending order.
func DifficultyLevels() []Difficulty {
	return []Difficulty{Easy, Medium, Hard, Expert}
}

// Valid ...
func (d Difficulty) Valid() bool {
	switch d {
	case Easy, Medium, Hard, Expert:
		return true
	}
	return false
}

// ParseDifficulty accepts the lowercase level names.
func ParseDifficulty(s string) (Difficulty, error) {
	d := Difficulty(s)
	if !d.Valid() {
		return "", fmt.Errorf("unknown difficulty %q", s)
	}
	return d, nil
}

/*******************************************************************************
Memory
*******************************************************************************/

// Memory is a note shared with the network. Headers always carry a Subject and
// a Date.
type Memory struct {
	Headers map[string]string
	Content string
	Flags   []string
}

// NewMemory creates a Memory with the default headers filled in.
func NewMemory(subject, content string, headers map[string]string, flags []string) *Memory {
	h := make(map[string]string, len(headers)+2)
	for k, v := range headers {
		h[k] = v
	}
	if subject != "" {
		h["Subject"] = subject
	}
	if _, ok := h["Subject"]; !ok {
		h["Subject"] = "Untitled"
	}
	if _, ok := h["Date"]; !ok {
		h["Date"] = time.Now().UTC().Format(time.RFC1123Z)
	}
	return &Memory{
		Headers: h,
		Content: content,
		Flags:   flags,
	}
}

// Subject returns the Subject header.
func (m *Memory) Subject() string {
	return m.Headers["Subject"]
}

// Validate ...
func (m *Memory) Validate() error {
	if m.Content == "" {
		return fmt.Errorf("memory content is empty")
	}
	if m.Headers["Subject"] == "" {
		return fmt.Errorf("memory has no Subject header")
	}
	return nil
}

/*******************************************************************************
Task records
*******************************************************************************/

// TaskAction distinguishes the task records stored on the chain.
type TaskAction string

const (
	TaskCreate     TaskAction = "create"
	TaskDifficulty TaskAction = "difficulty"
	TaskClaim      TaskAction = "claim"
	TaskSolution   TaskAction = "solution"
	TaskBoost      TaskAction = "boost"
)

// TaskRecord is one step in the life of a task. Which fields are set depends
// on Action.
type TaskRecord struct {
	Action          TaskAction
	TaskID          string
	Description     string                `json:",omitempty"`
	DifficultyHint  Difficulty            `json:",omitempty"`
	Difficulty      Difficulty            `json:",omitempty"`
	DifficultyVotes map[string]Difficulty `json:",omitempty"`
	NodeID          string                `json:",omitempty"`
	SolutionRef     string                `json:",omitempty"`
	Multiplier      float64               `json:",omitempty"`
}

// Validate checks the fields required by the action.
func (r *TaskRecord) Validate() error {
	if r.TaskID == "" {
		return fmt.Errorf("task record without task id")
	}
	switch r.Action {
	case TaskCreate:
		if r.Description == "" {
			return fmt.Errorf("task %s: empty description", r.TaskID)
		}
		if r.DifficultyHint != "" && !r.DifficultyHint.Valid() {
			return fmt.Errorf("task %s: invalid difficulty hint %q", r.TaskID, r.DifficultyHint)
		}
	case TaskDifficulty:
		if !r.Difficulty.Valid() {
			return fmt.Errorf("task %s: invalid difficulty %q", r.TaskID, r.Difficulty)
		}
	case TaskClaim:
		if r.NodeID == "" {
			return fmt.Errorf("task %s: claim without node", r.TaskID)
		}
	case TaskSolution:
		if r.NodeID == "" {
			return fmt.Errorf("task %s: solution without node", r.TaskID)
		}
		if r.SolutionRef == "" {
			return fmt.Errorf("task %s: empty solution reference", r.TaskID)
		}
	case TaskBoost:
		if !(r.Multiplier > 1 && r.Multiplier <= MaxBoostMultiplier) {
			return fmt.Errorf("task %s: boost multiplier must be in (1, %v], got %v",
				r.TaskID, MaxBoostMultiplier, r.Multiplier)
		}
	default:
		return fmt.Errorf("task %s: unknown action %q", r.TaskID, r.Action)
	}
	return nil
}

/*******************************************************************************
Transactions
*******************************************************************************/

// TxReason says why tokens moved.
type TxReason string

const (
	RewardTx   TxReason = "reward"
	TransferTx TxReason = "transfer"
)

// Transaction moves Amount tokens between two accounts.
type Transaction struct {
	From      string
	To        string
	Amount    int64
	Reason    TxReason
	TaskID    string `json:",omitempty"`
	Timestamp int64
}

// Validate ...
func (t *Transaction) Validate() error {
	if t.From == "" || t.To == "" {
		return fmt.Errorf("transaction needs both accounts")
	}
	if t.Amount <= 0 {
		return fmt.Errorf("transaction amount must be positive, got %d", t.Amount)
	}
	switch t.Reason {
	case RewardTx:
		if t.From != IssuanceAccount {
			return fmt.Errorf("reward must be issued by %s", IssuanceAccount)
		}
		if t.TaskID == "" {
			return fmt.Errorf("reward without task id")
		}
	case TransferTx:
		if t.From == IssuanceAccount || t.To == IssuanceAccount {
			return fmt.Errorf("transfers cannot involve %s", IssuanceAccount)
		}
		if t.From == t.To {
			return fmt.Errorf("transfer to self")
		}
	default:
		return fmt.Errorf("unknown transaction reason %q", t.Reason)
	}
	return nil
}

/*******************************************************************************
Solution votes
*******************************************************************************/

// SolutionVote records the tally that accepted or rejected one solution.
type SolutionVote struct {
	TaskID        string
	SolutionIndex int
	Accepted      bool
	Votes         map[string]Decision
	Approvals     int
	Rejections    int
}

// NewSolutionVote counts the votes and fills in the totals.
func NewSolutionVote(taskID string, index int, accepted bool, votes map[string]Decision) *SolutionVote {
	sv := &SolutionVote{
		TaskID:        taskID,
		SolutionIndex: index,
		Accepted:      accepted,
		Votes:         votes,
	}
	for _, d := range votes {
		if d == Approve {
			sv.Approvals++
		} else {
			sv.Rejections++
		}
	}
	return sv
}

// Validate ...
func (sv *SolutionVote) Validate() error {
	if sv.TaskID == "" {
		return fmt.Errorf("solution vote without task id")
	}
	if sv.SolutionIndex < 0 {
		return fmt.Errorf("negative solution index %d", sv.SolutionIndex)
	}
	approvals, rejections := 0, 0
	for n, d := range sv.Votes {
		switch d {
		case Approve:
			approvals++
		case Reject:
			rejections++
		default:
			return fmt.Errorf("invalid decision %q from %s", d, n)
		}
	}
	if approvals != sv.Approvals || rejections != sv.Rejections {
		return fmt.Errorf("solution vote totals do not match the recorded votes")
	}
	if sv.Accepted && approvals == 0 {
		return fmt.Errorf("accepted solution without approvals")
	}
	return nil
}

/*******************************************************************************
Payload
*******************************************************************************/

// Payload is the content of a block. Exactly one of the variant fields is set
// and it matches Type.
type Payload struct {
	Type         PayloadType
	Memory       *Memory       `json:",omitempty"`
	Task         *TaskRecord   `json:",omitempty"`
	Transaction  *Transaction  `json:",omitempty"`
	SolutionVote *SolutionVote `json:",omitempty"`
}

// NewMemoryPayload ...
func NewMemoryPayload(m *Memory) Payload {
	return Payload{Type: MemoryPayload, Memory: m}
}

// NewTaskPayload ...
func NewTaskPayload(r *TaskRecord) Payload {
	return Payload{Type: TaskPayload, Task: r}
}

// NewTransactionPayload ...
func NewTransactionPayload(t *Transaction) Payload {
	return Payload{Type: TransactionPayload, Transaction: t}
}

// NewSolutionVotePayload ...
func NewSolutionVotePayload(sv *SolutionVote) Payload {
	return Payload{Type: SolutionVotePayload, SolutionVote: sv}
}

// Validate checks the tag against the variants and dispatches to the variant
// validation.
func (p *Payload) Validate() error {
	set := 0
	if p.Memory != nil {
		set++
	}
	if p.Task != nil {
		set++
	}
	if p.Transaction != nil {
		set++
	}
	if p.SolutionVote != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("payload must carry exactly one variant, got %d", set)
	}

	switch p.Type {
	case MemoryPayload:
		if p.Memory == nil {
			return fmt.Errorf("payload tagged %s carries another variant", p.Type)
		}
		return p.Memory.Validate()
	case TaskPayload:
		if p.Task == nil {
			return fmt.Errorf("payload tagged %s carries another variant", p.Type)
		}
		return p.Task.Validate()
	case TransactionPayload:
		if p.Transaction == nil {
			return fmt.Errorf("payload tagged %s carries another variant", p.Type)
		}
		return p.Transaction.Validate()
	case SolutionVotePayload:
		if p.SolutionVote == nil {
			return fmt.Errorf("payload tagged %s carries another variant", p.Type)
		}
		return p.SolutionVote.Validate()
	default:
		return fmt.Errorf("unknown payload type %q", p.Type)
	}
}

// Describe returns a short human readable summary, used in logs.
func (p *Payload) Describe() string {
	switch p.Type {
	case MemoryPayload:
		if p.Memory != nil {
			return fmt.Sprintf("memory(%s)", p.Memory.Subject())
		}
	case TaskPayload:
		if p.Task != nil {
			return fmt.Sprintf("task(%s %s)", p.Task.Action, p.Task.TaskID)
		}
	case TransactionPayload:
		if p.Transaction != nil {
			return fmt.Sprintf("tx(%s %s->%s %d)", p.Transaction.Reason, p.Transaction.From, p.Transaction.To, p.Transaction.Amount)
		}
	case SolutionVotePayload:
		if p.SolutionVote != nil {
			return fmt.Sprintf("solution_vote(%s #%d %v)", p.SolutionVote.TaskID, p.SolutionVote.SolutionIndex, p.SolutionVote.Accepted)
		}
	}
	return string(p.Type)
}
