package task

import "errors"

var (
	ErrTaskNotFound       = errors.New("task not found")
	ErrTaskExists         = errors.New("task already exists")
	ErrTaskNotClaimable   = errors.New("task is not claimable")
	ErrNotClaimant        = errors.New("node has not claimed the task")
	ErrTaskCompleted      = errors.New("task is already completed")
	ErrInvalidTransition  = errors.New("invalid task transition")
	ErrDifficultyResolved = errors.New("task difficulty is already resolved")
	ErrSolutionNotPending = errors.New("solution is not pending")
	ErrBoostLimit         = errors.New("task cannot be boosted")
	ErrAlreadyRewarded    = errors.New("task reward already distributed")
)
