package net

import (
	"github.com/mosaicnetworks/memorychain/src/chain"
	"github.com/mosaicnetworks/memorychain/src/consensus"
	"github.com/mosaicnetworks/memorychain/src/peers"
)

// JoinRequest is sent by a node that wants to enter the network.
type JoinRequest struct {
	Node peers.Node
}

// JoinResponse returns the registry of the contacted node.
type JoinResponse struct {
	FromID      string
	Accepted    bool
	Nodes       []peers.Node
	ChainLength int
}

// HeartbeatRequest announces that a node is alive, together with its activity
// and the state of its chain.
type HeartbeatRequest struct {
	FromID      string
	Address     string
	Activity    peers.Activity
	ChainLength int
	HeadHash    string
}

// HeartbeatResponse carries the chain state of the receiver. Reregister is set
// when the receiver considers the sender offline or does not know it.
type HeartbeatResponse struct {
	FromID      string
	ChainLength int
	HeadHash    string
	Reregister  bool
}

// ProposalRequest relays a new proposal.
type ProposalRequest struct {
	FromID   string
	Proposal consensus.ProposalInfo
}

// VoteRequest relays a vote to the node that owns the proposal.
type VoteRequest struct {
	FromID string
	Vote   consensus.Vote
}

// CommitRequest relays a committed block. The block carries the votes that
// decided it.
type CommitRequest struct {
	FromID string
	Block  chain.Block
}

// WithdrawRequest relays the withdrawal of a proposal by its proposer.
type WithdrawRequest struct {
	FromID     string
	Withdrawal consensus.Withdrawal
}

// ChainRequest asks for the blocks of a node, starting at index From.
type ChainRequest struct {
	FromID string
	From   int
}

// ChainResponse returns the requested blocks.
type ChainResponse struct {
	FromID string
	Length int
	Blocks []*chain.Block
}

// AckResponse answers the one-way relay commands.
type AckResponse struct {
	FromID  string
	Success bool
}
