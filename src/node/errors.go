package node

import "errors"

var (
	// ErrForeignAccount is returned when a node tries to spend from an account
	// other than its own.
	ErrForeignAccount = errors.New("transfers must be paid from the account of the proposer")
	// ErrRewardMismatch is returned for a reward whose amount differs from the
	// computed reward of the task.
	ErrRewardMismatch = errors.New("reward amount does not match the task")
	// ErrNotFinalized is returned by operations that wait for a proposal which
	// closed without being committed.
	ErrNotFinalized = errors.New("proposal was not finalized")
	// ErrInvalidNodeID is returned when a node registers with an ID that does
	// not match its public key.
	ErrInvalidNodeID = errors.New("node ID does not match public key")

	errBusy = errors.New("node is busy")
)
