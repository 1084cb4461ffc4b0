package service

import (
	"github.com/mosaicnetworks/memorychain/src/chain"
	"github.com/mosaicnetworks/memorychain/src/consensus"
	"github.com/mosaicnetworks/memorychain/src/peers"
)

// An empty NodeID in a request stands for the node serving the request.

type memoryRequest struct {
	Subject string            `json:"subject"`
	Content string            `json:"content"`
	Headers map[string]string `json:"headers,omitempty"`
	Flags   []string          `json:"flags,omitempty"`
}

type taskRequest struct {
	Description string           `json:"description"`
	Difficulty  chain.Difficulty `json:"difficulty"`
}

type voteRequest struct {
	ProposalID string         `json:"proposal_id"`
	NodeID     string         `json:"node_id"`
	Decision   chain.Decision `json:"decision"`
}

type difficultyRequest struct {
	TaskID     string           `json:"task_id"`
	NodeID     string           `json:"node_id"`
	Difficulty chain.Difficulty `json:"difficulty"`
}

type claimRequest struct {
	TaskID string `json:"task_id"`
	NodeID string `json:"node_id"`
}

type solutionRequest struct {
	TaskID string `json:"task_id"`
	NodeID string `json:"node_id"`
	Ref    string `json:"ref"`
}

type solutionVoteRequest struct {
	TaskID   string         `json:"task_id"`
	Index    int            `json:"index"`
	NodeID   string         `json:"node_id"`
	Decision chain.Decision `json:"decision"`
}

type transferRequest struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount int64  `json:"amount"`
}

type withdrawRequest struct {
	ProposalID string `json:"proposal_id"`
	NodeID     string `json:"node_id"`
}

type registerRequest struct {
	ID           string   `json:"id"`
	Address      string   `json:"address"`
	Capabilities []string `json:"capabilities,omitempty"`
	PubKey       string   `json:"pub_key"`
}

type heartbeatRequest struct {
	NodeID string `json:"node_id"`
}

type statusRequest struct {
	NodeID        string              `json:"node_id"`
	State         peers.ActivityState `json:"state"`
	AIModel       string              `json:"ai_model,omitempty"`
	Load          float64             `json:"load,omitempty"`
	CurrentTaskID string              `json:"current_task_id,omitempty"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type proposalIDResponse struct {
	ProposalID string `json:"proposal_id"`
}

type solutionResponse struct {
	TaskID string `json:"task_id"`
	Index  int    `json:"index"`
}

type balanceResponse struct {
	NodeID  string `json:"node_id"`
	Balance int64  `json:"balance"`
}

type proposalResponse struct {
	Open     bool                    `json:"open"`
	Proposal *consensus.ProposalInfo `json:"proposal,omitempty"`
	Outcome  *consensus.Outcome      `json:"outcome,omitempty"`
}
