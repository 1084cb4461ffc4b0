package node

import (
	"fmt"
	"time"

	"github.com/mosaicnetworks/memorychain/src/chain"
	"github.com/mosaicnetworks/memorychain/src/consensus"
	"github.com/mosaicnetworks/memorychain/src/crypto/keys"
	"github.com/mosaicnetworks/memorychain/src/net"
	"github.com/mosaicnetworks/memorychain/src/peers"
	"github.com/sirupsen/logrus"
)

func (n *Node) requestJoin(target string) (net.JoinResponse, error) {
	self, _ := n.registry.Get(n.validator.ID())

	args := net.JoinRequest{
		Node: *peers.NewNode(n.validator.ID(),
			n.trans.AdvertiseAddr(),
			n.conf.Capabilities,
			n.validator.PublicKeyHex()),
	}
	args.Node.Activity = self.Activity

	var out net.JoinResponse

	err := n.trans.Join(target, &args, &out)

	return out, err
}

func (n *Node) requestHeartbeat(target string) (net.HeartbeatResponse, error) {
	self, _ := n.registry.Get(n.validator.ID())
	length, head := n.core.Head()

	args := net.HeartbeatRequest{
		FromID:      n.validator.ID(),
		Address:     n.trans.AdvertiseAddr(),
		Activity:    self.Activity,
		ChainLength: length,
		HeadHash:    head,
	}

	var out net.HeartbeatResponse

	err := n.trans.Heartbeat(target, &args, &out)

	return out, err
}

func (n *Node) requestChain(target string, from int) (net.ChainResponse, error) {
	args := net.ChainRequest{
		FromID: n.validator.ID(),
		From:   from,
	}

	var out net.ChainResponse

	err := n.trans.Chain(target, &args, &out)

	return out, err
}

func (n *Node) processRPC(rpc net.RPC) {
	switch cmd := rpc.Command.(type) {
	case *net.JoinRequest:
		n.processJoinRequest(rpc, cmd)
	case *net.HeartbeatRequest:
		n.processHeartbeatRequest(rpc, cmd)
	case *net.ProposalRequest:
		n.processProposalRequest(rpc, cmd)
	case *net.VoteRequest:
		n.processVoteRequest(rpc, cmd)
	case *net.CommitRequest:
		n.processCommitRequest(rpc, cmd)
	case *net.WithdrawRequest:
		n.processWithdrawRequest(rpc, cmd)
	case *net.ChainRequest:
		n.processChainRequest(rpc, cmd)
	default:
		n.logger.WithField("cmd", rpc.Command).Error("Unexpected RPC command")
		rpc.Respond(nil, fmt.Errorf("unexpected command"))
	}
}

func (n *Node) ack(success bool) *net.AckResponse {
	return &net.AckResponse{
		FromID:  n.validator.ID(),
		Success: success,
	}
}

// checkIdentity verifies that a node ID is derived from the public key it
// comes with.
func checkIdentity(id, pubKeyHex string) error {
	pub, err := keys.ParsePublicKeyHex(pubKeyHex)
	if err != nil {
		return err
	}
	if keys.PublicKeyID(pub) != id {
		return ErrInvalidNodeID
	}
	return nil
}

func (n *Node) processJoinRequest(rpc net.RPC, cmd *net.JoinRequest) {
	n.logger.WithFields(logrus.Fields{
		"node":    cmd.Node.ID,
		"address": cmd.Node.Address,
	}).Debug("process JoinRequest")

	resp := &net.JoinResponse{
		FromID: n.validator.ID(),
	}

	if err := checkIdentity(cmd.Node.ID, cmd.Node.PubKeyHex); err != nil {
		n.logger.WithError(err).WithField("node", cmd.Node.ID).Warn("Refusing JoinRequest")
		rpc.Respond(resp, nil)
		return
	}

	n.registry.Register(cmd.Node.ID,
		cmd.Node.Address,
		cmd.Node.Capabilities,
		cmd.Node.PubKeyHex)

	if cmd.Node.Activity.State.Valid() {
		n.registry.UpdateActivity(cmd.Node.ID, cmd.Node.Activity)
	}

	length, _ := n.core.Head()

	resp.Accepted = true
	resp.Nodes = n.registry.Nodes()
	resp.ChainLength = length

	n.logger.WithFields(logrus.Fields{
		"nodes":        len(resp.Nodes),
		"chain_length": resp.ChainLength,
	}).Debug("Responding to JoinRequest")

	rpc.Respond(resp, nil)
}

func (n *Node) processHeartbeatRequest(rpc net.RPC, cmd *net.HeartbeatRequest) {
	length, head := n.core.Head()

	resp := &net.HeartbeatResponse{
		FromID:      n.validator.ID(),
		ChainLength: length,
		HeadHash:    head,
	}

	if err := n.registry.Heartbeat(cmd.FromID); err != nil {
		n.logger.WithFields(logrus.Fields{
			"from_id": cmd.FromID,
			"error":   err,
		}).Debug("Heartbeat from unregistered node")
		resp.Reregister = true
		rpc.Respond(resp, nil)
		return
	}

	if cmd.Activity.State.Valid() {
		if err := n.registry.UpdateActivity(cmd.FromID, cmd.Activity); err != nil {
			n.logger.WithError(err).Debug("UpdateActivity")
		}
	}

	if cmd.ChainLength > length {
		if p, ok := n.registry.Get(cmd.FromID); ok {
			n.requestSync(p)
		}
	}

	rpc.Respond(resp, nil)
}

func (n *Node) processProposalRequest(rpc net.RPC, cmd *net.ProposalRequest) {
	n.touch(cmd.FromID)

	info := cmd.Proposal

	if n.gossip.Seen(proposalMessageID(info.ID)) {
		rpc.Respond(n.ack(true), nil)
		return
	}

	n.logger.WithFields(logrus.Fields{
		"from_id":  cmd.FromID,
		"proposal": info.ID,
		"owner":    info.Owner,
		"payload":  info.Block.Body.Payload.Describe(),
	}).Debug("process ProposalRequest")

	if err := n.core.engine.Track(info); err != nil {
		n.logger.WithError(err).WithField("proposal", info.ID).Debug("Tracking proposal")
		rpc.Respond(n.ack(false), nil)
		return
	}

	rpc.Respond(n.ack(true), nil)

	n.relayProposal(info)
}

func (n *Node) processVoteRequest(rpc net.RPC, cmd *net.VoteRequest) {
	n.touch(cmd.FromID)

	v := cmd.Vote

	if n.gossip.Seen(voteMessageID(v)) {
		rpc.Respond(n.ack(true), nil)
		return
	}

	success := true
	switch err := n.core.engine.CastVote(v); err {
	case nil:
	case consensus.ErrUnknownProposal:
		n.core.engine.Defer(v)
	default:
		n.logger.WithFields(logrus.Fields{
			"proposal": v.ProposalID,
			"voter":    v.NodeID,
			"error":    err,
		}).Debug("Refused vote")
		success = false
	}

	rpc.Respond(n.ack(success), nil)

	if success {
		n.broadcastVote(v)
	}
}

func (n *Node) processCommitRequest(rpc net.RPC, cmd *net.CommitRequest) {
	n.touch(cmd.FromID)

	block := cmd.Block

	if n.gossip.Seen(commitMessageID(&block)) || n.core.HasBlock(&block) {
		rpc.Respond(n.ack(true), nil)
		return
	}

	n.logger.WithFields(logrus.Fields{
		"from_id":  cmd.FromID,
		"index":    block.Index(),
		"proposal": block.Body.ProposalID,
	}).Debug("process CommitRequest")

	start := time.Now()
	err := n.core.engine.CommitRemote(&block)
	n.logger.WithField("duration", time.Since(start).Nanoseconds()).Debug("CommitRemote()")

	if err != nil {
		if length, _ := n.core.Head(); chain.IsStale(err) && block.Index() >= length {
			if p, ok := n.registry.Get(cmd.FromID); ok {
				n.requestSync(p)
			}
		}
		n.logger.WithError(err).WithField("index", block.Index()).Debug("Refused commit")
		rpc.Respond(n.ack(false), nil)
		return
	}

	rpc.Respond(n.ack(true), nil)

	n.relayCommit(block)
}

func (n *Node) processWithdrawRequest(rpc net.RPC, cmd *net.WithdrawRequest) {
	n.touch(cmd.FromID)

	if n.gossip.Seen("withdraw/" + cmd.Withdrawal.ProposalID) {
		rpc.Respond(n.ack(true), nil)
		return
	}

	err := n.core.engine.Withdraw(cmd.Withdrawal)
	if err != nil {
		n.logger.WithFields(logrus.Fields{
			"proposal": cmd.Withdrawal.ProposalID,
			"error":    err,
		}).Debug("Withdraw")
	}

	rpc.Respond(n.ack(err == nil), nil)

	if err == nil {
		n.broadcastWithdraw(cmd.Withdrawal)
	}
}

func (n *Node) processChainRequest(rpc net.RPC, cmd *net.ChainRequest) {
	n.touch(cmd.FromID)

	blocks := n.core.chain.Blocks()

	resp := &net.ChainResponse{
		FromID: n.validator.ID(),
		Length: len(blocks),
	}

	if cmd.From >= 0 && cmd.From < len(blocks) {
		resp.Blocks = blocks[cmd.From:]
	}

	n.logger.WithFields(logrus.Fields{
		"from_id": cmd.FromID,
		"from":    cmd.From,
		"blocks":  len(resp.Blocks),
	}).Debug("Responding to ChainRequest")

	rpc.Respond(resp, nil)
}
