package node

import (
	"context"
	"time"

	"github.com/mosaicnetworks/memorychain/src/chain"
	"github.com/mosaicnetworks/memorychain/src/consensus"
	"github.com/mosaicnetworks/memorychain/src/peers"
	"github.com/mosaicnetworks/memorychain/src/task"
	"github.com/mosaicnetworks/memorychain/src/wallet"
	"github.com/pkg/errors"
)

/*******************************************************************************
Proposals
*******************************************************************************/

// SubmitMemory proposes a memory block and returns the id of the proposal.
func (n *Node) SubmitMemory(mem *chain.Memory) (string, error) {
	info, err := n.core.Propose(chain.NewMemoryPayload(mem))
	if err != nil {
		return "", err
	}
	return info.ID, nil
}

// SubmitTask proposes a new task. The returned proposal id is also the id of
// the task once it is committed.
func (n *Node) SubmitTask(description string, hint chain.Difficulty) (string, error) {
	info, err := n.core.ProposeTask(description, hint)
	if err != nil {
		return "", err
	}
	return info.ID, nil
}

// Vote casts an approve or reject vote on a proposal.
func (n *Node) Vote(proposalID, nodeID string, decision chain.Decision) error {
	if !decision.Valid() {
		return errors.Errorf("invalid decision %q", decision)
	}
	return n.castVote(consensus.Vote{
		ProposalID: proposalID,
		NodeID:     n.voter(nodeID),
		Decision:   decision,
	})
}

// VoteDifficulty casts a vote on the difficulty ballot of a task.
func (n *Node) VoteDifficulty(taskID, nodeID string, level chain.Difficulty) error {
	if !level.Valid() {
		return errors.Errorf("invalid difficulty %q", level)
	}
	return n.castVote(consensus.Vote{
		ProposalID: DifficultyProposalID(taskID),
		NodeID:     n.voter(nodeID),
		Choice:     string(level),
	})
}

// ClaimTask proposes that nodeID claims the task.
func (n *Node) ClaimTask(taskID, nodeID string) (string, error) {
	nodeID = n.voter(nodeID)
	if !n.registry.Known(nodeID) {
		return "", peers.ErrUnknownNode
	}
	if err := n.core.tasks.CheckClaim(taskID, nodeID); err != nil {
		return "", err
	}

	info, err := n.core.Propose(chain.NewTaskPayload(&chain.TaskRecord{
		Action: chain.TaskClaim,
		TaskID: taskID,
		NodeID: nodeID,
	}))
	if err != nil {
		return "", err
	}
	return info.ID, nil
}

// SubmitSolution proposes a solution and waits for it to be committed. It
// returns the index of the solution within the task.
func (n *Node) SubmitSolution(ctx context.Context, taskID, nodeID, ref string) (int, error) {
	nodeID = n.voter(nodeID)
	if err := n.core.tasks.CheckSolution(taskID, nodeID); err != nil {
		return -1, err
	}

	info, err := n.core.Propose(chain.NewTaskPayload(&chain.TaskRecord{
		Action:      chain.TaskSolution,
		TaskID:      taskID,
		NodeID:      nodeID,
		SolutionRef: ref,
	}))
	if err != nil {
		return -1, err
	}

	o, err := n.core.engine.Await(ctx, info.ID)
	if err != nil {
		return -1, err
	}
	if o.Status != consensus.Finalized || o.Block == nil {
		return -1, errors.Wrapf(ErrNotFinalized, "solution %s %s", info.ID, o.Status)
	}

	t, err := n.core.tasks.Get(taskID)
	if err != nil {
		return -1, err
	}
	for i, s := range t.Solutions {
		if s.BlockIndex == o.Block.Index() {
			return i, nil
		}
	}
	return -1, errors.Wrapf(ErrNotFinalized, "solution %s not found in task %s", info.ID, taskID)
}

// VoteSolution casts a vote on one solution of a task.
func (n *Node) VoteSolution(taskID string, index int, nodeID string, decision chain.Decision) error {
	return n.Vote(SolutionProposalID(taskID, index), nodeID, decision)
}

// Transfer proposes to move tokens from this node's account.
func (n *Node) Transfer(from, to string, amount int64) (string, error) {
	if from == "" {
		from = n.validator.ID()
	}
	if from != n.validator.ID() {
		return "", ErrForeignAccount
	}

	tx, err := n.core.wallet.Transfer(from, to, amount, time.Now().UnixNano())
	if err != nil {
		return "", err
	}

	info, err := n.core.Propose(chain.NewTransactionPayload(tx))
	if err != nil {
		return "", err
	}
	return info.ID, nil
}

// Withdraw cancels an open proposal. Only its proposer can withdraw it, and
// the withdrawal is signed when this node is the proposer.
func (n *Node) Withdraw(proposalID, nodeID string) error {
	w := consensus.Withdrawal{
		ProposalID: proposalID,
		NodeID:     n.voter(nodeID),
		Timestamp:  time.Now().UnixNano(),
	}
	if w.NodeID == n.validator.ID() {
		if err := n.validator.SignWithdrawal(&w); err != nil {
			return err
		}
	}

	if err := n.core.engine.Withdraw(w); err != nil {
		return err
	}
	n.broadcastWithdraw(w)
	return nil
}

// voter defaults an empty node id to this node.
func (n *Node) voter(nodeID string) string {
	if nodeID == "" {
		return n.validator.ID()
	}
	return nodeID
}

/*******************************************************************************
Queries
*******************************************************************************/

// GetChain returns every block of the chain.
func (n *Node) GetChain() []*chain.Block {
	return n.core.chain.Blocks()
}

// GetBlock returns the block at index.
func (n *Node) GetBlock(index int) (*chain.Block, error) {
	return n.core.chain.Block(index)
}

// GetTask ...
func (n *Node) GetTask(taskID string) (task.Task, error) {
	return n.core.tasks.Get(taskID)
}

// GetTasks returns every task, optionally restricted to one state.
func (n *Node) GetTasks(state task.State) []task.Task {
	if state != "" {
		return n.core.tasks.InState(state)
	}
	return n.core.tasks.List()
}

// GetBalance ...
func (n *Node) GetBalance(nodeID string) int64 {
	return n.core.wallet.Balance(n.voter(nodeID))
}

// GetHistory returns the transactions that touched an account.
func (n *Node) GetHistory(nodeID string) []wallet.Entry {
	return n.core.wallet.History(n.voter(nodeID))
}

// GetProposals returns the open proposals.
func (n *Node) GetProposals() []consensus.ProposalInfo {
	return n.core.engine.Active()
}

// GetProposal returns an open proposal, or the outcome of a closed one.
func (n *Node) GetProposal(id string) (consensus.ProposalInfo, consensus.Outcome, bool) {
	if info, ok := n.core.engine.Get(id); ok {
		return info, consensus.Outcome{}, true
	}
	o, ok := n.core.engine.Outcome(id)
	return consensus.ProposalInfo{}, o, ok
}

/*******************************************************************************
Registry
*******************************************************************************/

// RegisterNode adds a node to the registry, or brings it back online.
func (n *Node) RegisterNode(id, address string, capabilities []string, pubKeyHex string) error {
	if err := checkIdentity(id, pubKeyHex); err != nil {
		return err
	}
	n.registry.Register(id, address, capabilities, pubKeyHex)
	return n.registry.Save()
}

// Heartbeat records a heartbeat of a node.
func (n *Node) Heartbeat(nodeID string) error {
	return n.registry.Heartbeat(n.voter(nodeID))
}

// UpdateStatus stores the activity reported by a node. The activity of this
// node travels with its next heartbeats.
func (n *Node) UpdateStatus(nodeID string, activity peers.Activity) error {
	return n.registry.UpdateActivity(n.voter(nodeID), activity)
}

// GetNetworkStatus ...
func (n *Node) GetNetworkStatus() peers.NetworkStatus {
	return n.registry.NetworkStatus()
}

// GetNode ...
func (n *Node) GetNode(id string) (peers.Node, bool) {
	return n.registry.Get(id)
}
