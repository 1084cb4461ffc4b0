package consensus

import (
	"time"

	"github.com/mosaicnetworks/memorychain/src/chain"
)

// BallotKind distinguishes approve/reject ballots from multiple choice ballots.
type BallotKind string

const (
	Approval BallotKind = "approval"
	Choice   BallotKind = "choice"
)

// ProposalInfo is the public, immutable description of a proposal. It is what
// travels between nodes.
type ProposalInfo struct {
	ID      string
	Kind    BallotKind
	Choices []string `json:",omitempty"`
	// Block is the candidate block. Its index, previous hash, responsible node
	// and hash are only set at finalization.
	Block     chain.Block
	Owner     string
	CreatedAt time.Time
	Deadline  time.Time
}

// Proposer ...
func (pi *ProposalInfo) Proposer() string {
	return pi.Block.Body.ProposerNodeID
}

// Payload ...
func (pi *ProposalInfo) Payload() chain.Payload {
	return pi.Block.Body.Payload
}

// Status is the final state of a proposal.
type Status string

const (
	Finalized Status = "finalized"
	Rejected  Status = "rejected"
	Expired   Status = "expired"
	Withdrawn Status = "withdrawn"
	Failed    Status = "failed"
)

// Outcome describes how a proposal was closed.
type Outcome struct {
	ProposalID string
	Kind       BallotKind
	Status     Status
	// Block is the committed block when Status is Finalized.
	Block *chain.Block `json:",omitempty"`
	// Choice is the winning choice of a choice ballot.
	Choice string `json:",omitempty"`
	// Votes are the votes that were counted.
	Votes map[string]Vote `json:",omitempty"`
	Error string          `json:",omitempty"`
}

// Result is handed to a SealFunc when a derived ballot is decided.
type Result struct {
	Approved bool
	Choice   string
	Votes    map[string]Vote
}

// SealFunc builds the payload of a derived ballot from the votes that decided
// it.
type SealFunc func(res Result) (chain.Payload, error)

// OpenSpec describes a proposal opened locally by every node, such as the
// difficulty ballot of a task. Its id must be derived from chain data so that
// all nodes agree on it.
type OpenSpec struct {
	ID      string
	Kind    BallotKind
	Choices []string
	// Payload is the payload to commit. It is ignored when Seal is set.
	Payload   chain.Payload
	Proposer  string
	Owner     string
	Timestamp int64
	Seal      SealFunc
	// SealOnReject commits the sealed payload when the quorum rejects,
	// instead of closing the proposal as rejected.
	SealOnReject bool
}

type voteRequest struct {
	vote Vote
	resp chan error
}

type withdrawRequest struct {
	nodeID string
	resp   chan error
}

// proposal is the private state of an open proposal. votes is only touched by
// the goroutine running the proposal.
type proposal struct {
	info         ProposalInfo
	owned        bool
	seal         SealFunc
	sealOnReject bool

	votes map[string]Vote

	voteCh     chan voteRequest
	withdrawCh chan withdrawRequest
	closeCh    chan Outcome
	doneCh     chan struct{}
}

func newProposal(info ProposalInfo, owned bool) *proposal {
	return &proposal{
		info:       info,
		owned:      owned,
		votes:      make(map[string]Vote),
		voteCh:     make(chan voteRequest),
		withdrawCh: make(chan withdrawRequest),
		closeCh:    make(chan Outcome, 1),
		doneCh:     make(chan struct{}),
	}
}

// checkVote validates the content of a vote against the ballot.
func (p *proposal) checkVote(v Vote) error {
	switch p.info.Kind {
	case Choice:
		for _, c := range p.info.Choices {
			if c == v.Choice {
				return nil
			}
		}
		return ErrInvalidChoice
	default:
		if v.Choice != "" || !v.Decision.Valid() {
			return ErrInvalidDecision
		}
		return nil
	}
}
