package consensus

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mosaicnetworks/memorychain/src/chain"
	"github.com/mosaicnetworks/memorychain/src/peers"
	"github.com/sirupsen/logrus"
)

// Electorate is the view of the node registry used by the engine.
type Electorate interface {
	Known(id string) bool
	// Voters returns the ids of the nodes that count in a quorum.
	Voters(onlineOnly bool) []string
	// Candidates returns the nodes eligible for assignment.
	Candidates() []peers.Node
	// PubKey returns the registered public key of a node, or "".
	PubKey(id string) string
}

// Committer appends decided blocks to the chain.
type Committer interface {
	// Head returns the next free index and the hash of the last block.
	Head() (int, string)
	// Commit validates, appends and applies the block.
	Commit(block *chain.Block, cert Certificate) error
}

// Broadcaster sends proposals and committed blocks to the other nodes.
type Broadcaster interface {
	BroadcastProposal(info ProposalInfo)
	BroadcastCommit(block *chain.Block)
}

// Config ...
type Config struct {
	SelfID          string
	ProposalTimeout time.Duration
	// RecheckInterval is the period at which open proposals re-evaluate their
	// quorum without new votes, since the electorate changes over time.
	RecheckInterval time.Duration
	Policy          QuorumPolicy
	Assignment      AssignmentStrategy
	// MaxRetarget bounds how many times a proposal whose index was taken
	// moves to the next index.
	MaxRetarget int
	HistorySize int
	MaxOrphans  int
}

// DefaultConfig ...
func DefaultConfig(selfID string) Config {
	return Config{
		SelfID:          selfID,
		ProposalTimeout: 30 * time.Second,
		RecheckInterval: time.Second,
		Policy:          DefaultQuorumPolicy(),
		Assignment:      RoundRobin{},
		MaxRetarget:     3,
		HistorySize:     1024,
		MaxOrphans:      1024,
	}
}

// Engine runs the proposals of a node.
type Engine struct {
	conf        Config
	electorate  Electorate
	committer   Committer
	broadcaster Broadcaster

	// commitLock serializes appends to the chain
	commitLock sync.Mutex

	mu           sync.RWMutex
	proposals    map[string]*proposal
	history      map[string]Outcome
	historyOrder []string
	orphans      map[string][]Vote
	orphanCount  int
	waiters      map[string][]chan Outcome

	listenerLock      sync.RWMutex
	outcomeListeners  []func(Outcome)
	proposalListeners []func(ProposalInfo)

	wg         sync.WaitGroup
	shutdownCh chan struct{}
	shutdown   sync.Once

	now    func() time.Time
	logger *logrus.Entry
}

// NewEngine creates an engine. The broadcaster may be nil.
func NewEngine(conf Config,
	electorate Electorate,
	committer Committer,
	broadcaster Broadcaster,
	logger *logrus.Entry) (*Engine, error) {

	def := DefaultConfig(conf.SelfID)
	if conf.ProposalTimeout <= 0 {
		conf.ProposalTimeout = def.ProposalTimeout
	}
	if conf.RecheckInterval <= 0 {
		conf.RecheckInterval = def.RecheckInterval
	}
	if conf.Policy.Threshold == 0 && conf.Policy.Denominator == "" {
		conf.Policy = def.Policy
	}
	if err := conf.Policy.Validate(); err != nil {
		return nil, err
	}
	if conf.Assignment == nil {
		conf.Assignment = def.Assignment
	}
	if conf.MaxRetarget < 0 {
		conf.MaxRetarget = 0
	}
	if conf.HistorySize <= 0 {
		conf.HistorySize = def.HistorySize
	}
	if conf.MaxOrphans <= 0 {
		conf.MaxOrphans = def.MaxOrphans
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}

	return &Engine{
		conf:        conf,
		electorate:  electorate,
		committer:   committer,
		broadcaster: broadcaster,
		proposals:   make(map[string]*proposal),
		history:     make(map[string]Outcome),
		orphans:     make(map[string][]Vote),
		waiters:     make(map[string][]chan Outcome),
		shutdownCh:  make(chan struct{}),
		now:         time.Now,
		logger:      logger,
	}, nil
}

// Policy returns the quorum policy in use.
func (e *Engine) Policy() QuorumPolicy {
	return e.conf.Policy
}

// SetBroadcaster ...
func (e *Engine) SetBroadcaster(b Broadcaster) {
	e.broadcaster = b
}

// OnOutcome registers a function called whenever a proposal closes. It is
// called from the goroutine of the proposal and must not block.
func (e *Engine) OnOutcome(f func(Outcome)) {
	e.listenerLock.Lock()
	defer e.listenerLock.Unlock()
	e.outcomeListeners = append(e.outcomeListeners, f)
}

// OnProposal registers a function called whenever a proposal opens on this
// node.
func (e *Engine) OnProposal(f func(ProposalInfo)) {
	e.listenerLock.Lock()
	defer e.listenerLock.Unlock()
	e.proposalListeners = append(e.proposalListeners, f)
}

/*******************************************************************************
Opening proposals
*******************************************************************************/

// Propose opens a proposal for a payload submitted by proposer, and hands it to
// the broadcaster. The proposal is owned by the proposer.
func (e *Engine) Propose(payload chain.Payload, proposer string) (ProposalInfo, error) {
	return e.ProposeWithID(uuid.New().String(), payload, proposer)
}

// ProposeWithID is Propose with a proposal id chosen by the caller, for
// payloads that refer to their own proposal.
func (e *Engine) ProposeWithID(id string, payload chain.Payload, proposer string) (ProposalInfo, error) {
	if err := payload.Validate(); err != nil {
		return ProposalInfo{}, err
	}

	e.mu.RLock()
	_, active := e.proposals[id]
	_, closed := e.history[id]
	e.mu.RUnlock()
	if active || closed {
		return ProposalInfo{}, fmt.Errorf("proposal %s already exists", id)
	}

	info, err := e.open(OpenSpec{
		ID:        id,
		Kind:      Approval,
		Payload:   payload,
		Proposer:  proposer,
		Owner:     proposer,
		Timestamp: e.now().UnixNano(),
	})
	if err != nil {
		return ProposalInfo{}, err
	}

	if e.broadcaster != nil {
		e.broadcaster.BroadcastProposal(info)
	}

	return info, nil
}

// Open opens a derived proposal. Opening a proposal that is already open
// returns it unchanged; re-opening a proposal that expired, failed or was
// rejected starts a fresh ballot.
func (e *Engine) Open(spec OpenSpec) (ProposalInfo, error) {
	if spec.ID == "" {
		return ProposalInfo{}, fmt.Errorf("derived proposal without id")
	}
	if spec.Kind == Choice && len(spec.Choices) == 0 {
		return ProposalInfo{}, fmt.Errorf("choice ballot %s without choices", spec.ID)
	}
	if spec.Timestamp == 0 {
		spec.Timestamp = e.now().UnixNano()
	}
	return e.open(spec)
}

// Track follows a proposal owned by another node. Votes are counted but the
// proposal is only closed by the commit of its owner, a reject quorum, or its
// deadline.
func (e *Engine) Track(info ProposalInfo) error {
	if info.Owner == e.conf.SelfID {
		return nil
	}
	payload := info.Payload()
	if err := payload.Validate(); err != nil {
		return err
	}

	e.mu.RLock()
	_, active := e.proposals[info.ID]
	_, closed := e.history[info.ID]
	e.mu.RUnlock()
	if active || closed {
		return nil
	}

	if info.Deadline.IsZero() {
		info.Deadline = e.now().Add(e.conf.ProposalTimeout)
	}

	_, err := e.start(newProposal(info, false))
	return err
}

func (e *Engine) open(spec OpenSpec) (ProposalInfo, error) {
	e.mu.RLock()
	if p, ok := e.proposals[spec.ID]; ok {
		e.mu.RUnlock()
		return p.info, nil
	}
	o, closed := e.history[spec.ID]
	e.mu.RUnlock()
	if closed && o.Status == Finalized {
		return ProposalInfo{}, ErrProposalClosed
	}

	now := e.now()
	info := ProposalInfo{
		ID:        spec.ID,
		Kind:      spec.Kind,
		Choices:   spec.Choices,
		Block:     *chain.NewBlock(-1, spec.Timestamp, spec.Payload, "", spec.Proposer, ""),
		Owner:     spec.Owner,
		CreatedAt: now,
		Deadline:  now.Add(e.conf.ProposalTimeout),
	}

	p := newProposal(info, spec.Owner == e.conf.SelfID)
	p.seal = spec.Seal
	p.sealOnReject = spec.SealOnReject

	return e.start(p)
}

// start registers the proposal, loads the votes that arrived before it, and
// runs it. When a proposal with the same id is already open, that one is
// returned instead.
func (e *Engine) start(p *proposal) (ProposalInfo, error) {
	select {
	case <-e.shutdownCh:
		return ProposalInfo{}, ErrEngineShutdown
	default:
	}

	e.mu.Lock()
	if existing, ok := e.proposals[p.info.ID]; ok {
		e.mu.Unlock()
		return existing.info, nil
	}
	delete(e.history, p.info.ID)
	e.proposals[p.info.ID] = p
	orphans := e.orphans[p.info.ID]
	delete(e.orphans, p.info.ID)
	e.orphanCount -= len(orphans)
	e.wg.Add(1)
	e.mu.Unlock()

	for _, v := range orphans {
		if err := e.checkVoter(v); err != nil {
			continue
		}
		if err := p.checkVote(v); err != nil {
			continue
		}
		p.votes[v.NodeID] = v
	}

	e.logger.WithFields(logrus.Fields{
		"proposal": p.info.ID,
		"kind":     p.info.Kind,
		"owner":    p.info.Owner,
		"payload":  p.info.Block.Body.Payload.Describe(),
		"orphans":  len(orphans),
	}).Debug("Proposal opened")

	go e.run(p)

	e.listenerLock.RLock()
	listeners := e.proposalListeners
	e.listenerLock.RUnlock()
	for _, l := range listeners {
		l(p.info)
	}

	return p.info, nil
}

/*******************************************************************************
Voting
*******************************************************************************/

func (e *Engine) checkVoter(v Vote) error {
	if !e.electorate.Known(v.NodeID) {
		return ErrUnknownVoter
	}
	if pub := e.electorate.PubKey(v.NodeID); pub != "" {
		ok, err := v.Verify(pub)
		if err != nil || !ok {
			return ErrInvalidSignature
		}
	}
	return nil
}

// CastVote records a vote. It returns once the vote is recorded and the quorum
// re-evaluated. A later vote from the same node replaces the earlier one.
func (e *Engine) CastVote(v Vote) error {
	if err := e.checkVoter(v); err != nil {
		return err
	}

	e.mu.RLock()
	p, ok := e.proposals[v.ProposalID]
	_, closed := e.history[v.ProposalID]
	e.mu.RUnlock()

	if !ok {
		if closed {
			return ErrProposalClosed
		}
		return ErrUnknownProposal
	}

	if err := p.checkVote(v); err != nil {
		return err
	}

	req := voteRequest{
		vote: v,
		resp: make(chan error, 1),
	}

	select {
	case p.voteCh <- req:
	case <-p.doneCh:
		return ErrProposalClosed
	case <-e.shutdownCh:
		return ErrEngineShutdown
	}

	return <-req.resp
}

// Defer keeps a vote for a proposal this node has not heard of yet. It is
// applied when the proposal is tracked or opened.
func (e *Engine) Defer(v Vote) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, closed := e.history[v.ProposalID]; closed {
		return
	}
	if e.orphanCount >= e.conf.MaxOrphans {
		e.logger.WithField("proposal", v.ProposalID).Debug("Dropping orphan vote")
		return
	}
	e.orphans[v.ProposalID] = append(e.orphans[v.ProposalID], v)
	e.orphanCount++
}

// Withdraw closes a proposal on behalf of its proposer. The withdrawal must be
// signed by the proposer when its key is registered. Votes in flight are
// discarded.
func (e *Engine) Withdraw(w Withdrawal) error {
	if pub := e.electorate.PubKey(w.NodeID); pub != "" {
		if ok, err := w.Verify(pub); err != nil || !ok {
			return ErrInvalidSignature
		}
	}

	e.mu.RLock()
	p, ok := e.proposals[w.ProposalID]
	_, closed := e.history[w.ProposalID]
	e.mu.RUnlock()

	if !ok {
		if closed {
			return ErrProposalClosed
		}
		return ErrUnknownProposal
	}

	req := withdrawRequest{
		nodeID: w.NodeID,
		resp:   make(chan error, 1),
	}

	select {
	case p.withdrawCh <- req:
	case <-p.doneCh:
		return ErrProposalClosed
	case <-e.shutdownCh:
		return ErrEngineShutdown
	}

	return <-req.resp
}

/*******************************************************************************
Proposal routine
*******************************************************************************/

func (e *Engine) run(p *proposal) {
	defer e.wg.Done()

	deadline := time.NewTimer(p.info.Deadline.Sub(e.now()))
	defer deadline.Stop()

	recheck := time.NewTicker(e.conf.RecheckInterval)
	defer recheck.Stop()

	if len(p.votes) > 0 && e.evaluate(p) {
		return
	}

	for {
		select {
		case req := <-p.voteCh:
			p.votes[req.vote.NodeID] = req.vote
			done := e.evaluate(p)
			req.resp <- nil
			if done {
				return
			}
		case req := <-p.withdrawCh:
			if req.nodeID != p.info.Proposer() {
				req.resp <- ErrNotProposer
				continue
			}
			e.close(p, Outcome{Status: Withdrawn})
			req.resp <- nil
			return
		case o := <-p.closeCh:
			e.close(p, o)
			return
		case <-recheck.C:
			if e.evaluate(p) {
				return
			}
		case <-deadline.C:
			if e.evaluate(p) {
				return
			}
			e.close(p, Outcome{Status: Expired, Votes: p.votes})
			return
		case <-e.shutdownCh:
			return
		}
	}
}

// evaluate tallies the votes of the current voters and closes the proposal
// when it is decided. It reports whether the proposal was closed.
func (e *Engine) evaluate(p *proposal) bool {
	policy := e.conf.Policy
	voters := e.electorate.Voters(policy.OnlineOnly())
	t := newTally(p.votes, voters)

	if p.info.Kind == Choice {
		c, ok := t.winner(policy)
		if !ok || !p.owned {
			return false
		}
		return e.finalize(p, Result{Approved: true, Choice: c, Votes: t.counted})
	}

	switch {
	case policy.Reached(t.approvals, t.voters):
		if !p.owned {
			return false
		}
		return e.finalize(p, Result{Approved: true, Votes: t.counted})
	case policy.Reached(t.rejects, t.voters):
		if p.sealOnReject {
			if !p.owned {
				return false
			}
			return e.finalize(p, Result{Approved: false, Votes: t.counted})
		}
		e.close(p, Outcome{Status: Rejected, Votes: t.counted})
		return true
	}

	return false
}

// finalize seals the payload, commits the block and closes the proposal. It
// always closes the proposal.
func (e *Engine) finalize(p *proposal, res Result) bool {
	payload := p.info.Payload()
	if p.seal != nil {
		var err error
		payload, err = p.seal(res)
		if err != nil {
			e.close(p, Outcome{Status: Failed, Votes: res.Votes, Error: err.Error()})
			return true
		}
	}

	cert := NewCertificate(p.info.ID, res.Votes)

	block, err := e.commit(p, payload, cert)
	if err != nil {
		e.close(p, Outcome{Status: Failed, Votes: res.Votes, Error: err.Error()})
		return true
	}

	e.close(p, Outcome{
		Status: Finalized,
		Block:  block,
		Choice: res.Choice,
		Votes:  res.Votes,
	})

	if e.broadcaster != nil {
		e.broadcaster.BroadcastCommit(block)
	}

	return true
}

// commit assigns the block to the next free index, records the certificate in
// it, and commits it. A block that lost its index to a concurrent commit is
// re-targeted to the next one, with the same payload.
func (e *Engine) commit(p *proposal, payload chain.Payload, cert Certificate) (*chain.Block, error) {
	e.commitLock.Lock()
	defer e.commitLock.Unlock()

	var err error
	for attempt := 0; attempt <= e.conf.MaxRetarget; attempt++ {
		index, prevHash := e.committer.Head()

		responsible := e.conf.Assignment.Assign(index, payload, e.electorate.Candidates())

		block := chain.NewBlock(index,
			p.info.Block.Timestamp(),
			payload,
			prevHash,
			p.info.Proposer(),
			responsible)
		block.Endorse(cert.ProposalID, cert.Endorsements())

		if err = block.Seal(); err != nil {
			return nil, err
		}

		err = e.committer.Commit(block, cert)
		if err == nil {
			return block, nil
		}

		if !chain.IsStale(err) {
			return nil, err
		}

		e.logger.WithFields(logrus.Fields{
			"proposal": p.info.ID,
			"index":    index,
			"attempt":  attempt + 1,
		}).Debug("Index taken, re-targeting proposal")
	}

	return nil, err
}

// CommitRemote appends a block finalized by another node, after checking that
// the votes recorded in it reach the quorum, and closes the matching proposal.
func (e *Engine) CommitRemote(block *chain.Block) error {
	if err := e.VerifyCertificate(block); err != nil {
		return err
	}

	cert := CertificateOf(block)

	e.commitLock.Lock()
	err := e.committer.Commit(block, cert)
	e.commitLock.Unlock()
	if err != nil {
		return err
	}

	votes, _ := cert.votes()

	o := Outcome{
		ProposalID: cert.ProposalID,
		Status:     Finalized,
		Block:      block,
		Votes:      votes,
	}

	e.mu.RLock()
	p, ok := e.proposals[cert.ProposalID]
	e.mu.RUnlock()

	if ok {
		o.Kind = p.info.Kind
		if p.info.Kind == Choice {
			o.Choice = block.Decided()
		}
		select {
		case <-p.doneCh:
		default:
			select {
			case p.closeCh <- o:
				return nil
			default:
			}
		}
	}

	e.record(o, nil)
	return nil
}

// WithCommitLock runs f while no block can be committed, for operations that
// replace the whole chain.
func (e *Engine) WithCommitLock(f func() error) error {
	e.commitLock.Lock()
	defer e.commitLock.Unlock()
	return f()
}

/*******************************************************************************
Closing
*******************************************************************************/

// close removes the proposal from the open set, records the outcome and
// notifies waiters and listeners.
func (e *Engine) close(p *proposal, o Outcome) {
	o.ProposalID = p.info.ID
	o.Kind = p.info.Kind

	fields := logrus.Fields{
		"proposal": o.ProposalID,
		"status":   o.Status,
		"votes":    len(o.Votes),
	}
	if o.Block != nil {
		fields["index"] = o.Block.Index()
	}
	if o.Error != "" {
		fields["error"] = o.Error
	}
	e.logger.WithFields(fields).Debug("Proposal closed")

	e.record(o, p)
}

// record stores the outcome, removes the proposal from the open set when p is
// not nil, and notifies waiters and listeners.
func (e *Engine) record(o Outcome, p *proposal) {
	e.mu.Lock()
	if p != nil {
		delete(e.proposals, p.info.ID)
		close(p.doneCh)
	}
	if _, ok := e.history[o.ProposalID]; !ok {
		e.historyOrder = append(e.historyOrder, o.ProposalID)
	}
	e.history[o.ProposalID] = o
	for len(e.historyOrder) > e.conf.HistorySize {
		oldest := e.historyOrder[0]
		e.historyOrder = e.historyOrder[1:]
		delete(e.history, oldest)
	}
	waiters := e.waiters[o.ProposalID]
	delete(e.waiters, o.ProposalID)
	e.mu.Unlock()

	for _, w := range waiters {
		w <- o
	}

	e.listenerLock.RLock()
	listeners := e.outcomeListeners
	e.listenerLock.RUnlock()
	for _, l := range listeners {
		l(o)
	}
}

/*******************************************************************************
Queries
*******************************************************************************/

// Await blocks until the proposal is closed or ctx is done.
func (e *Engine) Await(ctx context.Context, id string) (Outcome, error) {
	e.mu.Lock()
	if o, ok := e.history[id]; ok {
		e.mu.Unlock()
		return o, nil
	}
	if _, ok := e.proposals[id]; !ok {
		e.mu.Unlock()
		return Outcome{}, ErrUnknownProposal
	}
	ch := make(chan Outcome, 1)
	e.waiters[id] = append(e.waiters[id], ch)
	e.mu.Unlock()

	select {
	case o := <-ch:
		return o, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	case <-e.shutdownCh:
		return Outcome{}, ErrEngineShutdown
	}
}

// Get returns an open proposal.
func (e *Engine) Get(id string) (ProposalInfo, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.proposals[id]
	if !ok {
		return ProposalInfo{}, false
	}
	return p.info, true
}

// IsOpen ...
func (e *Engine) IsOpen(id string) bool {
	_, ok := e.Get(id)
	return ok
}

// Outcome returns the outcome of a recently closed proposal.
func (e *Engine) Outcome(id string) (Outcome, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	o, ok := e.history[id]
	return o, ok
}

// Active returns the open proposals sorted by creation time.
func (e *Engine) Active() []ProposalInfo {
	e.mu.RLock()
	res := make([]ProposalInfo, 0, len(e.proposals))
	for _, p := range e.proposals {
		res = append(res, p.info)
	}
	e.mu.RUnlock()

	sort.Slice(res, func(i, j int) bool {
		if res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].ID < res[j].ID
		}
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})
	return res
}

// Stats returns counters for monitoring.
func (e *Engine) Stats() map[string]int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stats := map[string]int{
		"open_proposals": len(e.proposals),
		"orphan_votes":   e.orphanCount,
	}
	for _, o := range e.history {
		stats[string(o.Status)]++
	}
	return stats
}

// Shutdown stops every proposal routine.
func (e *Engine) Shutdown() {
	e.shutdown.Do(func() {
		close(e.shutdownCh)
	})
	e.wg.Wait()
}
