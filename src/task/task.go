package task

import (
	"sort"

	"github.com/mosaicnetworks/memorychain/src/chain"
)

// State is the lifecycle state of a task.
type State string

const (
	// Proposed: the creation block is still being voted on.
	Proposed              State = "proposed"
	OpenForDifficultyVote State = "open_for_difficulty_vote"
	Claimable             State = "claimable"
	InProgress            State = "in_progress"
	SolutionPending       State = "solution_pending"
	Completed             State = "completed"
	// Reopened: every pending solution was rejected. Behaves as Claimable.
	Reopened State = "reopened"
)

// SolutionStatus ...
type SolutionStatus string

const (
	Pending    SolutionStatus = "pending"
	Accepted   SolutionStatus = "accepted"
	Refused    SolutionStatus = "rejected"
	Superseded SolutionStatus = "superseded"
)

// Solution is a solution submitted by a claimant.
type Solution struct {
	NodeID      string
	SolutionRef string
	SubmittedAt int64
	BlockIndex  int
	Status      SolutionStatus
	Approvals   int
	Rejections  int
}

// Task is the state of a task derived from the chain.
type Task struct {
	ID                 string
	Description        string
	Creator            string
	DifficultyHint     chain.Difficulty
	DifficultyVotes    map[string]chain.Difficulty
	ResolvedDifficulty chain.Difficulty
	Claims             []string
	Solutions          []Solution
	SolutionVotes      map[int]map[string]chain.Decision
	State              State
	ResponsibleNodeID  string
	RewardMultiplier   float64
	Boosts             int
	Winner             string
	WinningSolution    int
	Rewarded           bool
	CreatedAt          int64
	ClaimableSince     int64
	UpdatedAt          int64
}

func newTask(id, description, creator string, hint chain.Difficulty) *Task {
	return &Task{
		ID:               id,
		Description:      description,
		Creator:          creator,
		DifficultyHint:   hint,
		Claims:           []string{},
		Solutions:        []Solution{},
		SolutionVotes:    make(map[int]map[string]chain.Decision),
		State:            Proposed,
		RewardMultiplier: 1,
		WinningSolution:  -1,
	}
}

// AcceptsClaims reports whether nodes can claim the task in its current state.
func (t *Task) AcceptsClaims() bool {
	switch t.State {
	case Claimable, InProgress, SolutionPending, Reopened:
		return true
	}
	return false
}

// HasClaim ...
func (t *Task) HasClaim(nodeID string) bool {
	i := sort.SearchStrings(t.Claims, nodeID)
	return i < len(t.Claims) && t.Claims[i] == nodeID
}

func (t *Task) addClaim(nodeID string) bool {
	if t.HasClaim(nodeID) {
		return false
	}
	t.Claims = append(t.Claims, nodeID)
	sort.Strings(t.Claims)
	return true
}

// PendingSolutions returns the indexes of the solutions still being voted on.
func (t *Task) PendingSolutions() []int {
	res := []int{}
	for i, s := range t.Solutions {
		if s.Status == Pending {
			res = append(res, i)
		}
	}
	return res
}

// Winning returns the accepted solution of a completed task.
func (t *Task) Winning() (Solution, bool) {
	if t.WinningSolution < 0 || t.WinningSolution >= len(t.Solutions) {
		return Solution{}, false
	}
	return t.Solutions[t.WinningSolution], true
}

// Copy returns a deep copy.
func (t *Task) Copy() Task {
	c := *t
	c.Claims = append([]string{}, t.Claims...)
	c.Solutions = append([]Solution{}, t.Solutions...)
	if t.DifficultyVotes != nil {
		c.DifficultyVotes = make(map[string]chain.Difficulty, len(t.DifficultyVotes))
		for k, v := range t.DifficultyVotes {
			c.DifficultyVotes[k] = v
		}
	}
	c.SolutionVotes = make(map[int]map[string]chain.Decision, len(t.SolutionVotes))
	for i, votes := range t.SolutionVotes {
		m := make(map[string]chain.Decision, len(votes))
		for k, v := range votes {
			m[k] = v
		}
		c.SolutionVotes[i] = m
	}
	return c
}
