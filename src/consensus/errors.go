package consensus

import "errors"

var (
	// ErrUnknownProposal is returned for votes or withdrawals on a proposal
	// that is not open on this node.
	ErrUnknownProposal = errors.New("unknown proposal")
	// ErrProposalClosed is returned when the proposal was already decided,
	// expired or withdrawn.
	ErrProposalClosed = errors.New("proposal is closed")
	// ErrUnknownVoter is returned for votes from a node that is not in the
	// registry.
	ErrUnknownVoter = errors.New("unknown voter")
	// ErrInvalidSignature is returned when a vote signature does not match the
	// public key registered by the voter.
	ErrInvalidSignature = errors.New("invalid vote signature")
	// ErrInvalidDecision ...
	ErrInvalidDecision = errors.New("invalid decision")
	// ErrInvalidChoice ...
	ErrInvalidChoice = errors.New("invalid choice")
	// ErrNotProposer is returned when someone other than the proposer tries to
	// withdraw a proposal.
	ErrNotProposer = errors.New("only the proposer can withdraw a proposal")
	// ErrNoQuorum is returned for blocks whose recorded votes do not decide
	// them.
	ErrNoQuorum = errors.New("votes do not reach the quorum")
	// ErrEngineShutdown ...
	ErrEngineShutdown = errors.New("consensus engine is shut down")
)
