package task

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mosaicnetworks/memorychain/src/chain"
	"github.com/sirupsen/logrus"
)

// DefaultMaxBoosts bounds how many times the reward of an unclaimed task can
// be boosted.
const DefaultMaxBoosts = 3

// Manager holds the state of every task. Chain tasks are only changed by
// Apply, so replaying the chain from an empty manager rebuilds them.
type Manager struct {
	sync.RWMutex

	tasks    map[string]*Task
	proposed map[string]*Task

	maxBoosts int
	logger    *logrus.Entry
}

// NewManager ...
func NewManager(maxBoosts int, logger *logrus.Entry) *Manager {
	if maxBoosts < 0 {
		maxBoosts = DefaultMaxBoosts
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}
	return &Manager{
		tasks:     make(map[string]*Task),
		proposed:  make(map[string]*Task),
		maxBoosts: maxBoosts,
		logger:    logger,
	}
}

// Track records a task whose creation proposal is in flight.
func (m *Manager) Track(id, description, creator string, hint chain.Difficulty) {
	m.Lock()
	defer m.Unlock()
	if _, ok := m.tasks[id]; ok {
		return
	}
	m.proposed[id] = newTask(id, description, creator, hint)
}

// Drop forgets a proposed task whose creation proposal did not pass.
func (m *Manager) Drop(id string) {
	m.Lock()
	defer m.Unlock()
	delete(m.proposed, id)
}

// Get returns a copy of the task, including proposed ones.
func (m *Manager) Get(id string) (Task, error) {
	m.RLock()
	defer m.RUnlock()
	if t, ok := m.tasks[id]; ok {
		return t.Copy(), nil
	}
	if t, ok := m.proposed[id]; ok {
		return t.Copy(), nil
	}
	return Task{}, ErrTaskNotFound
}

// List returns every task, proposed ones included, sorted by id.
func (m *Manager) List() []Task {
	m.RLock()
	defer m.RUnlock()
	res := make([]Task, 0, len(m.tasks)+len(m.proposed))
	for _, t := range m.tasks {
		res = append(res, t.Copy())
	}
	for id, t := range m.proposed {
		if _, ok := m.tasks[id]; !ok {
			res = append(res, t.Copy())
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// Len returns the number of tasks on the chain.
func (m *Manager) Len() int {
	m.RLock()
	defer m.RUnlock()
	return len(m.tasks)
}

// Reset forgets every chain task. Proposed tasks are kept.
func (m *Manager) Reset() {
	m.Lock()
	defer m.Unlock()
	m.tasks = make(map[string]*Task)
}

// CheckClaim tells whether a claim by nodeID would be accepted now. A
// duplicate claim is accepted and has no effect.
func (m *Manager) CheckClaim(taskID, nodeID string) error {
	m.RLock()
	defer m.RUnlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	if !t.AcceptsClaims() {
		return ErrTaskNotClaimable
	}
	return nil
}

// CheckSolution tells whether nodeID can submit a solution now.
func (m *Manager) CheckSolution(taskID, nodeID string) error {
	m.RLock()
	defer m.RUnlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	return checkSolution(t, nodeID)
}

func checkSolution(t *Task, nodeID string) error {
	if !t.HasClaim(nodeID) {
		return ErrNotClaimant
	}
	switch t.State {
	case InProgress, SolutionPending, Reopened:
		return nil
	case Completed:
		return ErrTaskCompleted
	}
	return ErrInvalidTransition
}

// Validate checks that the block is a valid transition for the task it
// refers to. Blocks that do not concern tasks are valid.
func (m *Manager) Validate(block *chain.Block) error {
	m.RLock()
	defer m.RUnlock()

	p := block.Payload()
	switch p.Type {
	case chain.TaskPayload:
		return m.validateRecord(p.Task)
	case chain.SolutionVotePayload:
		return m.validateSolutionVote(p.SolutionVote)
	case chain.TransactionPayload:
		if p.Transaction.Reason == chain.RewardTx {
			return m.validateReward(p.Transaction)
		}
	}
	return nil
}

func (m *Manager) validateRecord(r *chain.TaskRecord) error {
	t, exists := m.tasks[r.TaskID]

	if r.Action == chain.TaskCreate {
		if exists {
			return ErrTaskExists
		}
		return nil
	}

	if !exists {
		return ErrTaskNotFound
	}

	switch r.Action {
	case chain.TaskDifficulty:
		if t.ResolvedDifficulty != "" {
			return ErrDifficultyResolved
		}
		if t.State != OpenForDifficultyVote {
			return ErrInvalidTransition
		}
	case chain.TaskClaim:
		if !t.AcceptsClaims() {
			return ErrTaskNotClaimable
		}
	case chain.TaskSolution:
		return checkSolution(t, r.NodeID)
	case chain.TaskBoost:
		if (t.State != Claimable && t.State != Reopened) || len(t.Claims) > 0 {
			return ErrBoostLimit
		}
		if t.Boosts >= m.maxBoosts {
			return ErrBoostLimit
		}
		if t.RewardMultiplier*r.Multiplier > chain.MaxRewardMultiplier {
			return ErrBoostLimit
		}
	}
	return nil
}

func (m *Manager) validateSolutionVote(sv *chain.SolutionVote) error {
	t, ok := m.tasks[sv.TaskID]
	if !ok {
		return ErrTaskNotFound
	}
	if t.State == Completed {
		return ErrTaskCompleted
	}
	if sv.SolutionIndex >= len(t.Solutions) {
		return fmt.Errorf("task %s has no solution %d", sv.TaskID, sv.SolutionIndex)
	}
	if t.Solutions[sv.SolutionIndex].Status != Pending {
		return ErrSolutionNotPending
	}
	return nil
}

func (m *Manager) validateReward(tx *chain.Transaction) error {
	t, ok := m.tasks[tx.TaskID]
	if !ok {
		return ErrTaskNotFound
	}
	if t.State != Completed {
		return ErrInvalidTransition
	}
	if t.Rewarded {
		return ErrAlreadyRewarded
	}
	if tx.To != t.Winner {
		return fmt.Errorf("reward of task %s must go to %s, not %s", t.ID, t.Winner, tx.To)
	}
	return nil
}

// Apply applies a validated block and returns the new state of the task it
// concerns. ok is false for blocks that do not concern tasks.
func (m *Manager) Apply(block *chain.Block) (Task, bool, error) {
	if err := m.Validate(block); err != nil {
		return Task{}, false, err
	}

	m.Lock()
	defer m.Unlock()

	ts := block.Timestamp()
	p := block.Payload()

	var task *Task
	switch p.Type {
	case chain.TaskPayload:
		task = m.applyRecord(block, p.Task)
	case chain.SolutionVotePayload:
		task = m.applySolutionVote(p.SolutionVote, ts)
	case chain.TransactionPayload:
		if p.Transaction.Reason != chain.RewardTx {
			return Task{}, false, nil
		}
		task = m.tasks[p.Transaction.TaskID]
		task.Rewarded = true
	default:
		return Task{}, false, nil
	}

	task.UpdatedAt = ts

	m.logger.WithFields(logrus.Fields{
		"task":  task.ID,
		"state": task.State,
		"index": block.Index(),
	}).Debug("Task updated")

	return task.Copy(), true, nil
}

func (m *Manager) applyRecord(block *chain.Block, r *chain.TaskRecord) *Task {
	ts := block.Timestamp()

	if r.Action == chain.TaskCreate {
		t := newTask(r.TaskID, r.Description, block.Body.ProposerNodeID, r.DifficultyHint)
		t.State = OpenForDifficultyVote
		t.ResponsibleNodeID = block.Body.ResponsibleNodeID
		t.CreatedAt = ts
		m.tasks[r.TaskID] = t
		delete(m.proposed, r.TaskID)
		return t
	}

	t := m.tasks[r.TaskID]

	switch r.Action {
	case chain.TaskDifficulty:
		t.ResolvedDifficulty = r.Difficulty
		t.DifficultyVotes = r.DifficultyVotes
		t.State = Claimable
		t.ClaimableSince = ts
	case chain.TaskClaim:
		t.addClaim(r.NodeID)
		if t.State == Claimable || t.State == Reopened {
			t.State = InProgress
		}
	case chain.TaskSolution:
		t.Solutions = append(t.Solutions, Solution{
			NodeID:      r.NodeID,
			SolutionRef: r.SolutionRef,
			SubmittedAt: ts,
			BlockIndex:  block.Index(),
			Status:      Pending,
		})
		t.State = SolutionPending
	case chain.TaskBoost:
		t.RewardMultiplier *= r.Multiplier
		t.Boosts++
		t.ClaimableSince = ts
	}

	return t
}

func (m *Manager) applySolutionVote(sv *chain.SolutionVote, ts int64) *Task {
	t := m.tasks[sv.TaskID]

	votes := make(map[string]chain.Decision, len(sv.Votes))
	for k, v := range sv.Votes {
		votes[k] = v
	}
	t.SolutionVotes[sv.SolutionIndex] = votes

	s := &t.Solutions[sv.SolutionIndex]
	s.Approvals = sv.Approvals
	s.Rejections = sv.Rejections

	if sv.Accepted {
		s.Status = Accepted
		for i := range t.Solutions {
			if t.Solutions[i].Status == Pending {
				t.Solutions[i].Status = Superseded
			}
		}
		t.State = Completed
		t.Winner = s.NodeID
		t.WinningSolution = sv.SolutionIndex
		return t
	}

	s.Status = Refused
	if len(t.PendingSolutions()) == 0 {
		t.State = Reopened
		t.ClaimableSince = ts
	}
	return t
}

// Boostable returns the tasks that are claimable with no claim since longer
// than timeout, and can still be boosted.
func (m *Manager) Boostable(now time.Time, timeout time.Duration) []Task {
	m.RLock()
	defer m.RUnlock()

	res := []Task{}
	for _, t := range m.tasks {
		if t.State != Claimable && t.State != Reopened {
			continue
		}
		if len(t.Claims) > 0 || t.Boosts >= m.maxBoosts {
			continue
		}
		if now.Sub(time.Unix(0, t.ClaimableSince)) > timeout {
			res = append(res, t.Copy())
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// InState returns the chain tasks in the given state, sorted by id.
func (m *Manager) InState(s State) []Task {
	m.RLock()
	defer m.RUnlock()
	res := []Task{}
	for _, t := range m.tasks {
		if t.State == s {
			res = append(res, t.Copy())
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}
