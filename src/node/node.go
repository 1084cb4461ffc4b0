package node

import (
	"os"
	"os/signal"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/mosaicnetworks/memorychain/src/chain"
	"github.com/mosaicnetworks/memorychain/src/consensus"
	"github.com/mosaicnetworks/memorychain/src/gossip"
	"github.com/mosaicnetworks/memorychain/src/net"
	"github.com/mosaicnetworks/memorychain/src/node/state"
	"github.com/mosaicnetworks/memorychain/src/peers"
	"github.com/mosaicnetworks/memorychain/src/proxy"
	"github.com/sirupsen/logrus"
)

// Node defines a memorychain node
type Node struct {
	// The node runs a state machine, see the state package.
	state.Manager

	conf   *Config
	logger *logrus.Entry

	validator *Validator

	core     *Core
	registry *peers.Registry
	gossip   *gossip.Gossiper

	trans net.Transport
	netCh <-chan net.RPC

	proxy    proxy.AppProxy
	submitCh chan chain.Payload

	sigintCh     chan os.Signal
	shutdownCh   chan struct{}
	shutdownOnce sync.Once

	controlTimer *ControlTimer

	// syncCh carries the node to catch up from, while gossiping.
	syncCh     chan peers.Node
	syncTarget peers.Node
	syncLock   sync.Mutex

	start        time.Time
	ticks        int
	syncRequests int64
	syncErrors   int64
}

// exchangeEvery is the number of ticks between two registry exchanges with a
// random peer.
const exchangeEvery = 10

// NewNode is a factory method that returns a Node instance. The registry must
// have been created with the ID of the validator.
func NewNode(conf *Config,
	validator *Validator,
	registry *peers.Registry,
	store chain.Store,
	trans net.Transport,
	proxy proxy.AppProxy,
) (*Node, error) {
	logger := conf.Logger.WithField("this_id", validator.ID())

	core, err := NewCore(conf, validator, registry, store, proxy, logger)
	if err != nil {
		return nil, err
	}

	gossipConf := gossip.DefaultConfig()
	gossipConf.MaxAttempts = conf.GossipAttempts
	g := gossip.NewGossiper(validator.ID(), registry, gossipConf, logger.WithField("component", "gossip"))

	//Prepare sigintCh to relay SIGINT system calls
	sigintCh := make(chan os.Signal, 1)
	signal.Notify(sigintCh, os.Interrupt, syscall.SIGINT)

	node := &Node{
		conf:         conf,
		logger:       logger,
		validator:    validator,
		core:         core,
		registry:     registry,
		gossip:       g,
		trans:        trans,
		netCh:        trans.Consumer(),
		proxy:        proxy,
		sigintCh:     sigintCh,
		shutdownCh:   make(chan struct{}),
		controlTimer: NewRandomControlTimer(),
		syncCh:       make(chan peers.Node, 1),
	}

	if proxy != nil {
		node.submitCh = proxy.SubmitCh()
	}

	core.engine.SetBroadcaster(node)
	core.engine.OnProposal(node.onProposal)
	core.engine.OnOutcome(node.onOutcome)
	g.OnUnreachable(func(id string) {
		if registry.Miss(id) {
			node.logger.WithField("node", id).Debug("Unreachable node went offline")
		}
	})

	return node, nil
}

// Init registers the node in its own registry, starts the transport and
// decides whether the node must join a network first.
func (n *Node) Init() error {
	n.registry.Register(n.validator.ID(),
		n.trans.AdvertiseAddr(),
		n.conf.Capabilities,
		n.validator.PublicKeyHex())

	go n.trans.Listen()

	n.core.Reconcile()

	if len(n.joinTargets()) > 0 {
		n.logger.Debug("Bootstrap nodes known => Joining")
		n.setState(state.Joining)
	} else {
		n.logger.Debug("No bootstrap nodes => Gossiping")
		n.setState(state.Gossiping)
	}

	return nil
}

func (n *Node) setState(s state.State) {
	n.SetState(s)
	if n.proxy != nil {
		if err := n.proxy.OnStateChanged(s); err != nil {
			n.logger.WithError(err).Debug("OnStateChanged")
		}
	}
}

// RunAsync calls Run as a separate thread
func (n *Node) RunAsync() {
	n.logger.Debug("runasync")
	go n.Run()
}

// Run invokes the main loop of the node
func (n *Node) Run() {
	n.start = time.Now()

	//The ControlTimer paces heartbeats, and with them liveness tracking,
	//boosts and the re-opening of expired ballots.
	go n.controlTimer.Run(n.conf.HeartbeatTimeout)

	//Execute some background work regardless of the state of the node.
	go n.doBackgroundWork()

	//Execute Node State Machine
	for {
		//Run different routines depending on node state
		state := n.GetState()

		n.logger.WithField("state", state.String()).Debug("Run loop")

		switch state {
		case Joining:
			n.join()
		case Gossiping:
			n.gossiping()
		case CatchingUp:
			n.catchUp()
		case Shutdown:
			return
		}
	}
}

// aliases to keep the state machine readable
const (
	Joining    = state.Joining
	Gossiping  = state.Gossiping
	CatchingUp = state.CatchingUp
	Shutdown   = state.Shutdown
)

func (n *Node) doBackgroundWork() {
	for {
		select {
		case rpc := <-n.netCh:
			r := rpc
			if !n.GoFunc(func() { n.processRPC(r) }) {
				r.Respond(nil, errBusy)
			}
		case p := <-n.submitCh:
			payload := p
			n.GoFunc(func() { n.submit(payload) })
		case <-n.shutdownCh:
			return
		case <-n.sigintCh:
			n.logger.Debug("Reacting to SIGINT - SHUTDOWN")
			n.Shutdown()
			return
		}
	}
}

// gossiping is the normal state: heartbeats on every tick, until a longer
// chain is noticed.
func (n *Node) gossiping() {
	n.logger.Debug("GOSSIPING")

	for {
		select {
		case <-n.controlTimer.tickCh:
			n.tick()
		case peer := <-n.syncCh:
			n.setSyncTarget(peer)
			n.setState(CatchingUp)
			return
		case <-n.shutdownCh:
			return
		}
	}
}

// tick runs the periodic work of the node.
func (n *Node) tick() {
	if offline := n.registry.Tick(); len(offline) > 0 {
		n.logger.WithField("nodes", offline).Info("Nodes went offline")
	}

	n.sendHeartbeats()

	n.ticks++
	if n.ticks%exchangeEvery == 0 {
		n.exchangeRegistry()
	}

	if n.conf.BoostTimeout > 0 {
		n.core.ProposeBoosts(time.Now(), n.conf.BoostTimeout, n.conf.BoostMultiplier)
	}

	n.core.Reconcile()

	if err := n.registry.Save(); err != nil {
		n.logger.WithError(err).Error("Saving registry")
	}

	n.logStats()
}

func (n *Node) sendHeartbeats() {
	for _, p := range n.registry.Nodes() {
		if p.ID == n.validator.ID() || p.Address == "" {
			continue
		}
		peer := p
		n.GoFunc(func() { n.heartbeat(peer) })
	}
}

func (n *Node) heartbeat(peer peers.Node) {
	resp, err := n.requestHeartbeat(peer.Address)
	if err != nil {
		n.logger.WithFields(logrus.Fields{
			"node":  peer.ID,
			"error": err,
		}).Debug("requestHeartbeat()")
		return
	}

	n.touch(resp.FromID)

	if resp.Reregister {
		n.logger.WithField("node", peer.ID).Debug("Asked to register again")
		if err := n.joinWith(peer.Address); err != nil {
			n.logger.WithError(err).Debug("Registering again")
		}
	}

	if length, _ := n.core.Head(); resp.ChainLength > length {
		n.requestSync(peer)
	}
}

// exchangeRegistry registers again with a random online peer and learns the
// nodes it knows, so that nodes which joined through different bootstrap
// nodes end up knowing each other.
func (n *Node) exchangeRegistry() {
	peer, ok := n.gossip.RandomPeer()
	if !ok {
		return
	}
	n.GoFunc(func() {
		if err := n.joinWith(peer.Address); err != nil {
			n.logger.WithError(err).WithField("node", peer.ID).Debug("Registry exchange")
		}
	})
}

// requestSync asks the gossiping loop to catch up from peer. Requests made
// while a catch-up is pending are dropped.
func (n *Node) requestSync(peer peers.Node) {
	select {
	case n.syncCh <- peer:
	default:
	}
}

func (n *Node) setSyncTarget(peer peers.Node) {
	n.syncLock.Lock()
	defer n.syncLock.Unlock()
	n.syncTarget = peer
}

func (n *Node) getSyncTarget() peers.Node {
	n.syncLock.Lock()
	defer n.syncLock.Unlock()
	return n.syncTarget
}

// catchUp enacts "CatchingUp"
func (n *Node) catchUp() {
	n.logger.Debug("CATCHING-UP")

	peer := n.getSyncTarget()

	atomic.AddInt64(&n.syncRequests, 1)
	if err := n.fetchChain(peer); err != nil {
		atomic.AddInt64(&n.syncErrors, 1)
		n.logger.WithFields(logrus.Fields{
			"node":  peer.ID,
			"error": err,
		}).Error("Catching up")
	}

	if n.GetState() != Shutdown {
		n.setState(Gossiping)
	}
}

// fetchChain retrieves the blocks we miss from peer. When they extend our
// chain they are committed one by one; otherwise the whole remote chain is
// fetched and adopted if it is longer.
func (n *Node) fetchChain(peer peers.Node) error {
	length, head := n.core.Head()

	start := time.Now()
	resp, err := n.requestChain(peer.Address, length)
	n.logger.WithField("duration", time.Since(start).Nanoseconds()).Debug("requestChain()")
	if err != nil {
		return err
	}

	if resp.Length <= length {
		return nil
	}

	if len(resp.Blocks) > 0 &&
		resp.Blocks[0].Index() == length &&
		resp.Blocks[0].PreviousHash() == head {

		committed, err := n.core.Extend(resp.Blocks)
		n.logger.WithFields(logrus.Fields{
			"from_id":   resp.FromID,
			"committed": committed,
			"length":    resp.Length,
		}).Debug("Extended chain")
		if err == nil {
			return nil
		}
		n.logger.WithError(err).Debug("Extending chain failed, fetching whole chain")
	}

	full, err := n.requestChain(peer.Address, 0)
	if err != nil {
		return err
	}

	replaced, err := n.core.Sync(full.Blocks)
	if err != nil {
		return err
	}

	n.logger.WithFields(logrus.Fields{
		"from_id":  full.FromID,
		"length":   full.Length,
		"replaced": replaced,
	}).Info("Synced chain")

	return nil
}

// joinTargets returns the addresses to join through: the configured bootstrap
// nodes, or else the nodes remembered from a previous run.
func (n *Node) joinTargets() []string {
	if len(n.conf.Bootstrap) > 0 {
		res := []string{}
		for _, addr := range n.conf.Bootstrap {
			if addr != n.trans.AdvertiseAddr() {
				res = append(res, addr)
			}
		}
		return res
	}

	res := []string{}
	for _, p := range n.registry.Nodes() {
		if p.ID != n.validator.ID() && p.Address != "" {
			res = append(res, p.Address)
		}
	}
	return res
}

// join registers with the first bootstrap node that answers, and learns the
// nodes it knows.
func (n *Node) join() {
	n.logger.Debug("JOINING")

	attempts := n.conf.JoinAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		for _, addr := range n.joinTargets() {
			resp, err := n.requestJoin(addr)
			if err != nil {
				n.logger.WithFields(logrus.Fields{
					"target": addr,
					"error":  err,
				}).Warn("Cannot join")
				continue
			}

			if !resp.Accepted {
				n.logger.WithField("target", addr).Warn("JoinRequest refused")
				continue
			}

			n.learn(resp)

			if length, _ := n.core.Head(); resp.ChainLength > length {
				if p, ok := n.registry.Get(resp.FromID); ok {
					n.setSyncTarget(p)
					n.setState(CatchingUp)
					return
				}
			}

			n.setState(Gossiping)
			return
		}

		select {
		case <-time.After(n.conf.HeartbeatTimeout):
		case <-n.shutdownCh:
			return
		}
	}

	n.logger.Warn("No bootstrap node answered, gossiping alone")
	n.setState(Gossiping)
}

// joinWith registers with a single node, outside of the Joining state.
func (n *Node) joinWith(addr string) error {
	resp, err := n.requestJoin(addr)
	if err != nil {
		return err
	}
	if resp.Accepted {
		n.learn(resp)
	}
	return nil
}

func (n *Node) learn(resp net.JoinResponse) {
	n.logger.WithFields(logrus.Fields{
		"from_id":      resp.FromID,
		"nodes":        len(resp.Nodes),
		"chain_length": resp.ChainLength,
	}).Debug("JoinResponse")

	for _, p := range resp.Nodes {
		if p.ID == n.validator.ID() {
			continue
		}
		n.registry.Learn(p)
	}
	n.touch(resp.FromID)
}

// touch records that a message was received from a node.
func (n *Node) touch(id string) {
	if id == "" || id == n.validator.ID() {
		return
	}
	if err := n.registry.Heartbeat(id); err != nil {
		n.logger.WithFields(logrus.Fields{
			"node":  id,
			"error": err,
		}).Debug("Heartbeat")
	}
}

// submit proposes a payload submitted by the application.
func (n *Node) submit(payload chain.Payload) {
	var err error
	if r := payload.Task; r != nil && r.Action == chain.TaskCreate {
		_, err = n.SubmitTask(r.Description, r.DifficultyHint)
	} else {
		_, err = n.core.Propose(payload)
	}
	if err != nil {
		n.logger.WithError(err).WithField("payload", payload.Describe()).Error("Submitting payload")
	}
}

/*******************************************************************************
Broadcasting
*******************************************************************************/

// BroadcastProposal implements the consensus Broadcaster interface.
func (n *Node) BroadcastProposal(info consensus.ProposalInfo) {
	n.relayProposal(info)
}

func (n *Node) relayProposal(info consensus.ProposalInfo) {
	req := net.ProposalRequest{
		FromID:   n.validator.ID(),
		Proposal: info,
	}
	n.gossip.Broadcast(proposalMessageID(info.ID), func(p peers.Node) error {
		var out net.AckResponse
		return n.trans.Proposal(p.Address, &req, &out)
	})
}

// BroadcastCommit implements the consensus Broadcaster interface.
func (n *Node) BroadcastCommit(block *chain.Block) {
	n.relayCommit(*block)
}

func (n *Node) relayCommit(block chain.Block) {
	req := net.CommitRequest{
		FromID: n.validator.ID(),
		Block:  block,
	}
	n.gossip.Broadcast(commitMessageID(&block), func(p peers.Node) error {
		var out net.AckResponse
		return n.trans.Commit(p.Address, &req, &out)
	})
}

func (n *Node) broadcastVote(v consensus.Vote) {
	req := net.VoteRequest{
		FromID: n.validator.ID(),
		Vote:   v,
	}
	n.gossip.Broadcast(voteMessageID(v), func(p peers.Node) error {
		var out net.AckResponse
		return n.trans.Vote(p.Address, &req, &out)
	})
}

func (n *Node) broadcastWithdraw(w consensus.Withdrawal) {
	req := net.WithdrawRequest{
		FromID:     n.validator.ID(),
		Withdrawal: w,
	}
	n.gossip.Broadcast("withdraw/"+w.ProposalID, func(p peers.Node) error {
		var out net.AckResponse
		return n.trans.Withdraw(p.Address, &req, &out)
	})
}

func proposalMessageID(id string) string {
	return "proposal/" + id
}

func commitMessageID(b *chain.Block) string {
	return "commit/" + b.Hash
}

func voteMessageID(v consensus.Vote) string {
	return "vote/" + v.ProposalID + "/" + v.NodeID + "/" + strconv.FormatInt(v.Timestamp, 10)
}

/*******************************************************************************
Proposal listeners
*******************************************************************************/

// onProposal is called by the engine whenever a proposal opens on this node,
// sometimes while a block is being committed. It must not wait for the
// engine.
func (n *Node) onProposal(info consensus.ProposalInfo) {
	payload := info.Payload()

	if r := payload.Task; r != nil && r.Action == chain.TaskCreate && info.Owner != n.validator.ID() {
		n.core.tasks.Track(info.ID, r.Description, info.Proposer(), r.DifficultyHint)
	}

	v, ok := n.autoVote(info)
	if !ok {
		return
	}

	n.GoFunc(func() {
		if err := n.castVote(v); err != nil {
			n.logger.WithError(err).WithField("proposal", v.ProposalID).Debug("Automatic vote")
		}
	})
}

// autoVote decides the vote this node casts without being asked. Rewards and
// boosts follow from the chain, so they are always checked and voted on.
func (n *Node) autoVote(info consensus.ProposalInfo) (consensus.Vote, bool) {
	payload := info.Payload()

	v := consensus.Vote{
		ProposalID: info.ID,
		NodeID:     n.validator.ID(),
		Timestamp:  time.Now().UnixNano(),
	}

	mechanical := (payload.Transaction != nil && payload.Transaction.Reason == chain.RewardTx) ||
		(payload.Task != nil && payload.Task.Action == chain.TaskBoost)

	if !mechanical && !n.conf.AutoVote {
		return v, false
	}

	switch {
	case info.Kind == consensus.Choice:
		// the placeholder payload of a difficulty ballot carries the hint
		if payload.Task == nil {
			return v, false
		}
		v.Choice = string(payload.Task.Difficulty)
	case payload.Type == chain.SolutionVotePayload:
		v.Decision = chain.Approve
	default:
		v.Decision = chain.Approve
		if err := n.core.Check(payload, info.Proposer()); err != nil {
			v.Decision = chain.Reject
		}
	}

	return v, true
}

// onOutcome forgets proposed tasks whose creation did not pass.
func (n *Node) onOutcome(o consensus.Outcome) {
	if o.Status != consensus.Finalized {
		n.core.tasks.Drop(o.ProposalID)
	}
	n.logger.WithFields(logrus.Fields{
		"proposal": o.ProposalID,
		"status":   o.Status,
	}).Debug("Outcome")
}

// castVote signs the vote when it is ours, records it locally and sends it to
// the other nodes.
func (n *Node) castVote(v consensus.Vote) error {
	if v.Timestamp == 0 {
		v.Timestamp = time.Now().UnixNano()
	}
	if v.NodeID == n.validator.ID() {
		if err := n.validator.SignVote(&v); err != nil {
			return err
		}
	}

	switch err := n.core.engine.CastVote(v); err {
	case nil:
	case consensus.ErrUnknownProposal:
		n.core.engine.Defer(v)
	default:
		return err
	}

	n.broadcastVote(v)
	return nil
}

/*******************************************************************************
Shutdown and stats
*******************************************************************************/

// Shutdown shuts down the node
func (n *Node) Shutdown() {
	n.shutdownOnce.Do(func() {
		n.logger.Debug("Shutdown")

		//Exit any non-shutdown state immediately
		n.setState(Shutdown)

		//Stop and wait for concurrent operations
		close(n.shutdownCh)

		n.WaitRoutines()

		n.controlTimer.Shutdown()

		n.gossip.Shutdown()

		//transport and store should only be closed once all concurrent
		//operations are finished otherwise they will panic trying to use
		//closed objects
		n.trans.Close()

		if err := n.registry.Save(); err != nil {
			n.logger.WithError(err).Error("Saving registry")
		}

		if err := n.core.Close(); err != nil {
			n.logger.WithError(err).Error("Closing store")
		}

		signal.Stop(n.sigintCh)
	})
}

// GetStats returns stats
func (n *Node) GetStats() map[string]string {
	length, head := n.core.Head()
	ns := n.registry.NetworkStatus()
	es := n.core.engine.Stats()

	s := map[string]string{
		"id":             n.validator.ID(),
		"moniker":        n.validator.Moniker,
		"state":          n.GetState().String(),
		"chain_length":   strconv.Itoa(length),
		"head_hash":      head,
		"num_nodes":      strconv.Itoa(ns.Total),
		"online_nodes":   strconv.Itoa(ns.Online),
		"tasks":          strconv.Itoa(n.core.tasks.Len()),
		"minted":         strconv.FormatInt(n.core.wallet.Minted(), 10),
		"open_proposals": strconv.Itoa(es["open_proposals"]),
		"orphan_votes":   strconv.Itoa(es["orphan_votes"]),
		"finalized":      strconv.Itoa(es[string(consensus.Finalized)]),
		"rejected":       strconv.Itoa(es[string(consensus.Rejected)]),
		"expired":        strconv.Itoa(es[string(consensus.Expired)]),
		"withdrawn":      strconv.Itoa(es[string(consensus.Withdrawn)]),
		"failed":         strconv.Itoa(es[string(consensus.Failed)]),
		"sync_rate":      strconv.FormatFloat(n.SyncRate(), 'f', 2, 64),
		"uptime":         time.Since(n.start).Truncate(time.Second).String(),
	}
	return s
}

func (n *Node) logStats() {
	stats := n.GetStats()

	n.logger.WithFields(logrus.Fields{
		"state":          stats["state"],
		"chain_length":   stats["chain_length"],
		"online_nodes":   stats["online_nodes"],
		"num_nodes":      stats["num_nodes"],
		"open_proposals": stats["open_proposals"],
		"tasks":          stats["tasks"],
		"minted":         stats["minted"],
	}).Debug("Stats")
}

// SyncRate returns the share of catch-ups that succeeded
func (n *Node) SyncRate() float64 {
	requests := atomic.LoadInt64(&n.syncRequests)
	errors := atomic.LoadInt64(&n.syncErrors)

	var syncErrorRate float64
	if requests != 0 {
		syncErrorRate = float64(errors) / float64(requests)
	}

	return 1 - syncErrorRate
}

// ID returns the ID of this node
func (n *Node) ID() string {
	return n.validator.ID()
}
