package node

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mosaicnetworks/memorychain/src/chain"
	"github.com/mosaicnetworks/memorychain/src/consensus"
	"github.com/mosaicnetworks/memorychain/src/peers"
	"github.com/mosaicnetworks/memorychain/src/proxy"
	"github.com/mosaicnetworks/memorychain/src/task"
	"github.com/mosaicnetworks/memorychain/src/wallet"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DifficultyProposalID is the id of the difficulty ballot of a task.
func DifficultyProposalID(taskID string) string {
	return "difficulty/" + taskID
}

// SolutionProposalID is the id of the ballot on one solution of a task.
func SolutionProposalID(taskID string, index int) string {
	return fmt.Sprintf("solution/%s/%d", taskID, index)
}

// RewardProposalID is the id of the reward issuance of a task.
func RewardProposalID(taskID string) string {
	return "reward/" + taskID
}

func boostProposalID(taskID string, boosts int) string {
	return fmt.Sprintf("boost/%s/%d", taskID, boosts)
}

// Core is the core Node object. It owns the chain and the state derived from
// it, and is the only writer of both.
type Core struct {

	// validator is a wrapper around the private-key controlling this node.
	validator *Validator

	// registry is the set of known nodes. It is also the electorate of the
	// consensus engine.
	registry *peers.Registry

	// chain is the canonical record. tasks and wallet are rebuilt from it.
	chain  *chain.Chain
	tasks  *task.Manager
	wallet *wallet.Ledger

	// engine runs the proposals. Its commit lock serializes Commit, Sync and
	// Extend.
	engine *consensus.Engine

	// proxy is told of every committed block. It may be nil.
	proxy proxy.AppProxy

	// reputationStep is the reputation a voter gains when its recorded vote
	// agrees with the block, and loses otherwise.
	reputationStep float64
	maxBoosts      int

	logger *logrus.Entry
}

// NewCore is a factory method that returns a new Core object. The chain held
// by the store is replayed to rebuild tasks and balances.
func NewCore(
	conf *Config,
	validator *Validator,
	registry *peers.Registry,
	store chain.Store,
	proxy proxy.AppProxy,
	logger *logrus.Entry) (*Core, error) {

	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}

	c, err := chain.NewChain(store, logger.WithField("component", "chain"))
	if err != nil {
		return nil, errors.Wrap(err, "loading chain")
	}

	core := &Core{
		validator: validator,
		registry:  registry,
		chain:     c,
		tasks:     task.NewManager(conf.MaxBoosts, logger.WithField("component", "tasks")),
		wallet:    wallet.NewLedger(logger.WithField("component", "wallet")),
		proxy:     proxy,
		logger:    logger,

		reputationStep: conf.ReputationStep,
		maxBoosts:      conf.MaxBoosts,
	}

	if err := core.replay(); err != nil {
		return nil, err
	}

	engine, err := consensus.NewEngine(conf.EngineConfig(validator.ID()),
		registry,
		core,
		nil,
		logger.WithField("component", "consensus"))
	if err != nil {
		return nil, err
	}
	core.engine = engine

	return core, nil
}

// Head implements the consensus Committer interface.
func (c *Core) Head() (int, string) {
	return c.chain.Head()
}

// Commit implements the consensus Committer interface. It validates the block
// against the chain, the tasks and the balances, appends it, applies it, hands
// it to the application, and opens the proposals that follow from it. The
// caller holds the engine's commit lock.
func (c *Core) Commit(block *chain.Block, cert consensus.Certificate) error {
	index, head := c.chain.Head()
	if block.Index() != index {
		return chain.NewChainErr(chain.IndexMismatch,
			block.Index(),
			fmt.Sprintf("next index is %d", index))
	}
	if block.PreviousHash() != head {
		return chain.NewChainErr(chain.PreviousHashMismatch,
			block.Index(),
			"block does not extend the head")
	}

	if err := c.validate(block); err != nil {
		c.logger.WithFields(logrus.Fields{
			"index":    block.Index(),
			"proposal": cert.ProposalID,
			"payload":  block.Body.Payload.Describe(),
			"error":    err,
		}).Warn("Rejected proposal")
		return err
	}

	if err := c.chain.Append(block); err != nil {
		return err
	}

	c.logger.WithFields(logrus.Fields{
		"index":    block.Index(),
		"proposal": cert.ProposalID,
		"votes":    len(cert.Votes),
		"payload":  block.Body.Payload.Describe(),
	}).Info("Commit")

	t, isTask := c.apply(block)

	if c.proxy != nil {
		if err := c.proxy.CommitBlock(*block); err != nil {
			c.logger.WithError(err).Error("Commit response")
		}
	}

	if isTask {
		c.derive(t)
	}

	return nil
}

// validate checks a block that sits at the head against the derived state.
func (c *Core) validate(block *chain.Block) error {
	return validateBlock(block, c.tasks, c.wallet)
}

// validateBlock checks a block against the tasks and balances derived from
// the blocks before it.
func validateBlock(block *chain.Block, tasks *task.Manager, ledger *wallet.Ledger) error {
	p := block.Payload()
	if err := p.Validate(); err != nil {
		return err
	}
	if err := tasks.Validate(block); err != nil {
		return err
	}
	if err := ledger.Validate(block); err != nil {
		return err
	}

	tx := p.Transaction
	if tx == nil {
		return nil
	}
	switch tx.Reason {
	case chain.TransferTx:
		if tx.From != block.Body.ProposerNodeID {
			return ErrForeignAccount
		}
	case chain.RewardTx:
		t, err := tasks.Get(tx.TaskID)
		if err != nil {
			return err
		}
		amount, err := wallet.ComputeReward(t)
		if err != nil {
			return err
		}
		if amount != tx.Amount {
			return ErrRewardMismatch
		}
	}
	return nil
}

func (c *Core) apply(block *chain.Block) (task.Task, bool) {
	t, ok, err := c.tasks.Apply(block)
	if err != nil {
		c.logger.WithError(err).WithField("index", block.Index()).Error("Applying block to tasks")
	}
	if _, err := c.wallet.Apply(block); err != nil {
		c.logger.WithError(err).WithField("index", block.Index()).Error("Applying block to wallet")
	}
	c.rate(block)
	return t, ok
}

// rate moves the reputation of every voter recorded in the block towards or
// away from the value the block stands for.
func (c *Core) rate(block *chain.Block) {
	decided := block.Decided()
	for _, e := range block.Body.Endorsements {
		delta := -c.reputationStep
		if e.Value() == decided {
			delta = c.reputationStep
		}
		c.registry.AdjustReputation(e.NodeID, delta)
	}
}

// Check tells whether a payload proposed now by proposer would be accepted.
// It is used before proposing and to decide automatic votes.
func (c *Core) Check(payload chain.Payload, proposer string) error {
	if err := payload.Validate(); err != nil {
		return err
	}
	if r := payload.Task; r != nil && r.NodeID != "" && !c.registry.Known(r.NodeID) {
		return peers.ErrUnknownNode
	}
	index, head := c.chain.Head()
	return c.validate(chain.NewBlock(index, time.Now().UnixNano(), payload, head, proposer, ""))
}

// replay rebuilds tasks, balances and reputations from the chain. No block may
// be committed meanwhile.
func (c *Core) replay() error {
	c.tasks.Reset()
	c.wallet.Reset()
	c.registry.ResetReputation()

	for _, b := range c.chain.Blocks() {
		if _, _, err := c.tasks.Apply(b); err != nil {
			return errors.Wrapf(err, "replaying block %d", b.Index())
		}
		if _, err := c.wallet.Apply(b); err != nil {
			return errors.Wrapf(err, "replaying block %d", b.Index())
		}
		c.rate(b)
	}

	c.logger.WithFields(logrus.Fields{
		"blocks": c.chain.Len(),
		"tasks":  c.tasks.Len(),
		"minted": c.wallet.Minted(),
	}).Debug("Replayed chain")

	return nil
}

// checkCandidate runs a remote chain through the checks every commit goes
// through, on a state of its own, before it may replace ours.
func (c *Core) checkCandidate(blocks []*chain.Block) error {
	if i, err := chain.ValidateChain(blocks); err != nil {
		return errors.Wrapf(err, "block %d", i)
	}

	tasks := task.NewManager(c.maxBoosts, c.logger.WithField("component", "candidate"))
	ledger := wallet.NewLedger(c.logger.WithField("component", "candidate"))

	for _, b := range blocks {
		if err := c.engine.CheckEndorsements(b); err != nil {
			return errors.Wrapf(err, "block %d", b.Index())
		}
		if err := validateBlock(b, tasks, ledger); err != nil {
			return errors.Wrapf(err, "block %d", b.Index())
		}
		if _, _, err := tasks.Apply(b); err != nil {
			return errors.Wrapf(err, "block %d", b.Index())
		}
		if _, err := ledger.Apply(b); err != nil {
			return errors.Wrapf(err, "block %d", b.Index())
		}
	}
	return nil
}

// Sync adopts a remote chain if it is longer than ours and valid, then
// rebuilds the derived state and resets the application. It reports whether
// the chain was replaced.
func (c *Core) Sync(remote []*chain.Block) (bool, error) {
	replaced := false

	err := c.engine.WithCommitLock(func() error {
		if len(remote) <= c.chain.Len() {
			return nil
		}
		if err := c.checkCandidate(remote); err != nil {
			c.logger.WithFields(logrus.Fields{
				"remote_length": len(remote),
				"error":         err,
			}).Warn("Refusing remote chain")
			return err
		}

		var err error
		replaced, err = c.chain.ResolveFork(remote)
		if err != nil || !replaced {
			return err
		}

		if err := c.replay(); err != nil {
			return err
		}

		if c.proxy != nil {
			if err := c.proxy.Reset(c.chain.Blocks()); err != nil {
				c.logger.WithError(err).Error("Resetting application")
			}
		}
		return nil
	})

	if replaced && err == nil {
		c.Reconcile()
	}

	return replaced, err
}

// Extend commits blocks that continue our chain, one by one, as if they had
// been received from their owners. The electorate that decided them is gone,
// so their recorded votes are checked with CheckEndorsements rather than
// against the current quorum. It returns the number of blocks committed.
func (c *Core) Extend(blocks []*chain.Block) (int, error) {
	n := 0
	err := c.engine.WithCommitLock(func() error {
		for _, b := range blocks {
			if err := c.engine.CheckEndorsements(b); err != nil {
				return errors.Wrapf(err, "block %d", b.Index())
			}
			if err := c.Commit(b, consensus.CertificateOf(b)); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}

/*******************************************************************************
Derived proposals
*******************************************************************************/

// Reconcile opens the derived proposals that the current task states call for
// and that are not open. Ballots that expired are started again.
func (c *Core) Reconcile() {
	for _, t := range c.tasks.List() {
		c.derive(t)
	}
}

func (c *Core) derive(t task.Task) {
	switch t.State {
	case task.OpenForDifficultyVote:
		c.openDifficultyBallot(t)
	case task.SolutionPending:
		for _, i := range t.PendingSolutions() {
			c.openSolutionBallot(t, i)
		}
	case task.Completed:
		if !t.Rewarded {
			c.openReward(t)
		}
	}
}

// Owner returns the node that finalizes the derived proposals of a task: its
// responsible node while online, otherwise the online node with the lowest ID.
func (c *Core) Owner(t task.Task) string {
	if n, ok := c.registry.Get(t.ResponsibleNodeID); ok && n.Eligible() {
		return n.ID
	}
	if online := c.registry.Online(); len(online) > 0 {
		return online[0].ID
	}
	return c.validator.ID()
}

func (c *Core) open(spec consensus.OpenSpec) {
	if _, err := c.engine.Open(spec); err != nil && err != consensus.ErrProposalClosed {
		c.logger.WithError(err).WithField("proposal", spec.ID).Debug("Opening derived proposal")
	}
}

func (c *Core) openDifficultyBallot(t task.Task) {
	levels := chain.DifficultyLevels()
	choices := make([]string, len(levels))
	for i, l := range levels {
		choices[i] = string(l)
	}

	hint := t.DifficultyHint
	if hint == "" {
		hint = chain.Medium
	}

	owner := c.Owner(t)
	c.open(consensus.OpenSpec{
		ID:      DifficultyProposalID(t.ID),
		Kind:    consensus.Choice,
		Choices: choices,
		Payload: chain.NewTaskPayload(&chain.TaskRecord{
			Action:     chain.TaskDifficulty,
			TaskID:     t.ID,
			Difficulty: hint,
		}),
		Proposer: owner,
		Owner:    owner,
		Seal:     difficultySeal(t.ID),
	})
}

func (c *Core) openSolutionBallot(t task.Task, index int) {
	owner := c.Owner(t)
	c.open(consensus.OpenSpec{
		ID:   SolutionProposalID(t.ID, index),
		Kind: consensus.Approval,
		Payload: chain.NewSolutionVotePayload(
			chain.NewSolutionVote(t.ID, index, false, map[string]chain.Decision{})),
		Proposer:     owner,
		Owner:        owner,
		Seal:         solutionSeal(t.ID, index),
		SealOnReject: true,
	})
}

func (c *Core) openReward(t task.Task) {
	tx, err := c.wallet.Distribute(t, time.Now().UnixNano())
	if err != nil {
		c.logger.WithError(err).WithField("task", t.ID).Error("Computing reward")
		return
	}

	owner := c.Owner(t)
	c.open(consensus.OpenSpec{
		ID:       RewardProposalID(t.ID),
		Kind:     consensus.Approval,
		Payload:  chain.NewTransactionPayload(tx),
		Proposer: owner,
		Owner:    owner,
	})
}

func difficultySeal(taskID string) consensus.SealFunc {
	return func(res consensus.Result) (chain.Payload, error) {
		votes := make(map[string]chain.Difficulty, len(res.Votes))
		for id, v := range res.Votes {
			votes[id] = chain.Difficulty(v.Choice)
		}
		d, err := chain.ParseDifficulty(res.Choice)
		if err != nil {
			return chain.Payload{}, err
		}
		return chain.NewTaskPayload(&chain.TaskRecord{
			Action:          chain.TaskDifficulty,
			TaskID:          taskID,
			Difficulty:      d,
			DifficultyVotes: votes,
		}), nil
	}
}

func solutionSeal(taskID string, index int) consensus.SealFunc {
	return func(res consensus.Result) (chain.Payload, error) {
		decisions := make(map[string]chain.Decision, len(res.Votes))
		for id, v := range res.Votes {
			decisions[id] = v.Decision
		}
		return chain.NewSolutionVotePayload(
			chain.NewSolutionVote(taskID, index, res.Approved, decisions)), nil
	}
}

/*******************************************************************************
Proposing
*******************************************************************************/

// Propose checks a payload and opens a proposal for it, owned by this node.
func (c *Core) Propose(payload chain.Payload) (consensus.ProposalInfo, error) {
	if err := c.Check(payload, c.validator.ID()); err != nil {
		return consensus.ProposalInfo{}, err
	}
	return c.engine.Propose(payload, c.validator.ID())
}

// ProposeTask opens the creation proposal of a task. The id of the task is the
// id of the proposal; the task is tracked as proposed until the outcome.
func (c *Core) ProposeTask(description string, hint chain.Difficulty) (consensus.ProposalInfo, error) {
	self := c.validator.ID()
	id := uuid.New().String()

	payload := chain.NewTaskPayload(&chain.TaskRecord{
		Action:         chain.TaskCreate,
		TaskID:         id,
		Description:    description,
		DifficultyHint: hint,
	})
	if err := c.Check(payload, self); err != nil {
		return consensus.ProposalInfo{}, err
	}

	c.tasks.Track(id, description, self, hint)

	info, err := c.engine.ProposeWithID(id, payload, self)
	if err != nil {
		c.tasks.Drop(id)
		return consensus.ProposalInfo{}, err
	}
	return info, nil
}

// ProposeBoosts proposes a boost for every task this node owns that stayed
// claimable without claims for longer than timeout.
func (c *Core) ProposeBoosts(now time.Time, timeout time.Duration, multiplier float64) int {
	count := 0
	for _, t := range c.tasks.Boostable(now, timeout) {
		if c.Owner(t) != c.validator.ID() {
			continue
		}
		id := boostProposalID(t.ID, t.Boosts)
		if c.engine.IsOpen(id) {
			continue
		}
		payload := chain.NewTaskPayload(&chain.TaskRecord{
			Action:     chain.TaskBoost,
			TaskID:     t.ID,
			Multiplier: multiplier,
		})
		if _, err := c.engine.ProposeWithID(id, payload, c.validator.ID()); err != nil {
			c.logger.WithError(err).WithField("task", t.ID).Debug("Proposing boost")
			continue
		}
		count++
	}
	return count
}

/*******************************************************************************
Accessors
*******************************************************************************/

// HasBlock reports whether the chain holds this very block.
func (c *Core) HasBlock(b *chain.Block) bool {
	local, err := c.chain.Block(b.Index())
	return err == nil && local.Hash == b.Hash
}

// Chain ...
func (c *Core) Chain() *chain.Chain {
	return c.chain
}

// Tasks ...
func (c *Core) Tasks() *task.Manager {
	return c.tasks
}

// Wallet ...
func (c *Core) Wallet() *wallet.Ledger {
	return c.wallet
}

// Engine ...
func (c *Core) Engine() *consensus.Engine {
	return c.engine
}

// Close stops the engine and closes the chain store.
func (c *Core) Close() error {
	c.engine.Shutdown()
	return c.chain.Close()
}
