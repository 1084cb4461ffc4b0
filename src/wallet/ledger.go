package wallet

import (
	"errors"
	"sort"
	"sync"

	"github.com/mosaicnetworks/memorychain/src/chain"
	"github.com/mosaicnetworks/memorychain/src/task"
	"github.com/sirupsen/logrus"
)

var (
	// ErrTaskNotCompleted is returned when computing the reward of a task that
	// has no accepted solution.
	ErrTaskNotCompleted = errors.New("task is not completed")
	// ErrInsufficientBalance ...
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrInvalidAmount ...
	ErrInvalidAmount = errors.New("amount must be positive")
)

// Entry is a transaction as seen in the history of an account.
type Entry struct {
	chain.Transaction
	BlockIndex int
}

// Ledger holds balances and the transaction history. It is derived from the
// chain and rebuilt by replay.
type Ledger struct {
	sync.RWMutex

	balances map[string]int64
	history  []Entry
	minted   int64

	logger *logrus.Entry
}

// NewLedger ...
func NewLedger(logger *logrus.Entry) *Ledger {
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}
	return &Ledger{
		balances: make(map[string]int64),
		logger:   logger,
	}
}

// Balance returns the balance of an account. Unknown accounts have a zero
// balance.
func (l *Ledger) Balance(nodeID string) int64 {
	l.RLock()
	defer l.RUnlock()
	return l.balances[nodeID]
}

// Balances returns a copy of every non-zero balance.
func (l *Ledger) Balances() map[string]int64 {
	l.RLock()
	defer l.RUnlock()
	res := make(map[string]int64, len(l.balances))
	for k, v := range l.balances {
		res[k] = v
	}
	return res
}

// Minted returns the total amount issued through rewards.
func (l *Ledger) Minted() int64 {
	l.RLock()
	defer l.RUnlock()
	return l.minted
}

// History returns the transactions involving nodeID, oldest first. An empty
// nodeID returns every transaction.
func (l *Ledger) History(nodeID string) []Entry {
	l.RLock()
	defer l.RUnlock()
	res := []Entry{}
	for _, e := range l.history {
		if nodeID == "" || e.From == nodeID || e.To == nodeID {
			res = append(res, e)
		}
	}
	return res
}

// CheckTransfer tells whether from can pay amount now.
func (l *Ledger) CheckTransfer(from string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if l.Balance(from) < amount {
		return ErrInsufficientBalance
	}
	return nil
}

// Transfer builds a transfer transaction after checking the balance of the
// payer. The transaction still has to be committed.
func (l *Ledger) Transfer(from, to string, amount int64, ts int64) (*chain.Transaction, error) {
	if err := l.CheckTransfer(from, amount); err != nil {
		return nil, err
	}
	tx := &chain.Transaction{
		From:      from,
		To:        to,
		Amount:    amount,
		Reason:    chain.TransferTx,
		Timestamp: ts,
	}
	if err := tx.Validate(); err != nil {
		return nil, err
	}
	return tx, nil
}

// Distribute builds the reward transaction of a completed task, paid by the
// issuance account to the winner.
func (l *Ledger) Distribute(t task.Task, ts int64) (*chain.Transaction, error) {
	amount, err := ComputeReward(t)
	if err != nil {
		return nil, err
	}
	return &chain.Transaction{
		From:      chain.IssuanceAccount,
		To:        t.Winner,
		Amount:    amount,
		Reason:    chain.RewardTx,
		TaskID:    t.ID,
		Timestamp: ts,
	}, nil
}

// Validate checks a transaction block against the balances. Blocks that are
// not transactions are valid.
func (l *Ledger) Validate(block *chain.Block) error {
	tx := block.Payload().Transaction
	if tx == nil || tx.Reason != chain.TransferTx {
		return nil
	}
	if l.Balance(tx.From) < tx.Amount {
		return ErrInsufficientBalance
	}
	return nil
}

// Apply applies a transaction block. It reports whether the block was a
// transaction.
func (l *Ledger) Apply(block *chain.Block) (bool, error) {
	tx := block.Payload().Transaction
	if tx == nil {
		return false, nil
	}

	l.Lock()
	defer l.Unlock()

	switch tx.Reason {
	case chain.RewardTx:
		l.minted += tx.Amount
	case chain.TransferTx:
		if l.balances[tx.From] < tx.Amount {
			return false, ErrInsufficientBalance
		}
		l.balances[tx.From] -= tx.Amount
	}
	l.balances[tx.To] += tx.Amount

	l.history = append(l.history, Entry{Transaction: *tx, BlockIndex: block.Index()})

	l.logger.WithFields(logrus.Fields{
		"reason": tx.Reason,
		"from":   tx.From,
		"to":     tx.To,
		"amount": tx.Amount,
	}).Debug("Applied transaction")

	return true, nil
}

// Reset forgets every balance and transaction.
func (l *Ledger) Reset() {
	l.Lock()
	defer l.Unlock()
	l.balances = make(map[string]int64)
	l.history = nil
	l.minted = 0
}

// Accounts returns the accounts with a non-zero balance, sorted.
func (l *Ledger) Accounts() []string {
	l.RLock()
	defer l.RUnlock()
	res := []string{}
	for k, v := range l.balances {
		if v != 0 {
			res = append(res, k)
		}
	}
	sort.Strings(res)
	return res
}
