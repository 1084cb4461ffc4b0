package chain

import (
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	cm "github.com/mosaicnetworks/memorychain/src/common"
	"github.com/sirupsen/logrus"
)

// Chain is the ordered list of accepted blocks. Writes (Append, ResolveFork)
// are serialized; reads are served from an immutable snapshot and never wait
// for a writer.
type Chain struct {
	store Store

	writeLock sync.Mutex
	snapshot  atomic.Value // []*Block

	logger *logrus.Entry
}

// NewChain loads the blocks already in the store and checks them. A store
// holding an invalid chain is an error.
func NewChain(store Store, logger *logrus.Entry) (*Chain, error) {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	blocks, err := store.Blocks()
	if err != nil {
		return nil, err
	}

	if i, err := ValidateChain(blocks); err != nil {
		return nil, fmt.Errorf("stored chain invalid at block %d: %v", i, err)
	}

	c := &Chain{
		store:  store,
		logger: logger,
	}
	c.snapshot.Store(blocks)

	return c, nil
}

func (c *Chain) blocks() []*Block {
	return c.snapshot.Load().([]*Block)
}

// Blocks returns the current chain. The slice and the blocks must not be
// modified.
func (c *Chain) Blocks() []*Block {
	return c.blocks()
}

// Len returns the number of blocks, which is also the next free index.
func (c *Chain) Len() int {
	return len(c.blocks())
}

// Block returns the block at index i.
func (c *Chain) Block(i int) (*Block, error) {
	bs := c.blocks()
	if i < 0 || i >= len(bs) {
		return nil, cm.NewStoreErr("Block", cm.KeyNotFound, strconv.Itoa(i))
	}
	return bs[i], nil
}

// Head returns the next free index and the hash new blocks must point to.
func (c *Chain) Head() (int, string) {
	bs := c.blocks()
	if len(bs) == 0 {
		return 0, GenesisHash
	}
	return len(bs), bs[len(bs)-1].Hash
}

// Append checks the block against the head and, when it fits, persists it and
// advances the head. Refused blocks never occupy a slot.
func (c *Chain) Append(block *Block) error {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()

	bs := c.blocks()

	prevHash := GenesisHash
	if len(bs) > 0 {
		prevHash = bs[len(bs)-1].Hash
	}

	if err := checkBlock(block, len(bs), prevHash); err != nil {
		c.logger.WithFields(logrus.Fields{
			"index":    block.Index(),
			"expected": len(bs),
			"payload":  block.Body.Payload.Describe(),
			"error":    err,
		}).Warn("Rejected block")
		return err
	}

	if err := c.store.SetBlock(block); err != nil {
		return err
	}

	// Snapshots taken earlier have a shorter length, so growing the shared
	// backing array is invisible to them.
	c.snapshot.Store(append(bs, block))

	c.logger.WithFields(logrus.Fields{
		"index":       block.Index(),
		"hash":        block.Hash,
		"proposer":    block.Body.ProposerNodeID,
		"responsible": block.Body.ResponsibleNodeID,
		"payload":     block.Body.Payload.Describe(),
	}).Debug("Appended block")

	return nil
}

// ResolveFork replaces the local chain with remote when remote is strictly
// longer and valid. It reports whether a replacement happened; the caller is
// then responsible for rebuilding every state derived from the chain.
func (c *Chain) ResolveFork(remote []*Block) (bool, error) {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()

	local := c.blocks()
	if len(remote) <= len(local) {
		return false, nil
	}

	if i, err := ValidateChain(remote); err != nil {
		c.logger.WithFields(logrus.Fields{
			"remote_length": len(remote),
			"invalid_index": i,
			"error":         err,
		}).Warn("Refusing invalid remote chain")
		return false, err
	}

	replacement := make([]*Block, len(remote))
	copy(replacement, remote)

	if err := c.store.Replace(replacement); err != nil {
		return false, err
	}

	c.snapshot.Store(replacement)

	c.logger.WithFields(logrus.Fields{
		"local_length":  len(local),
		"remote_length": len(remote),
	}).Info("Replaced local chain with longer remote chain")

	return true, nil
}

// Close closes the underlying store.
func (c *Chain) Close() error {
	return c.store.Close()
}

// ValidateChain walks blocks from the first one, checking index contiguity,
// hash links, hashes and payloads. It returns the index of the first invalid
// block, or -1 when the whole chain is valid.
func ValidateChain(blocks []*Block) (int, error) {
	prevHash := GenesisHash
	for i, b := range blocks {
		if b == nil {
			return i, NewChainErr(InvalidPayload, i, "nil block")
		}
		if err := checkBlock(b, i, prevHash); err != nil {
			return i, err
		}
		prevHash = b.Hash
	}
	return -1, nil
}

// checkBlock verifies that block can sit at index after a block hashed
// prevHash.
func checkBlock(block *Block, index int, prevHash string) error {
	if block.Index() != index {
		return NewChainErr(IndexMismatch, block.Index(),
			fmt.Sprintf("expected index %d", index))
	}

	if block.PreviousHash() != prevHash {
		return NewChainErr(PreviousHashMismatch, block.Index(),
			fmt.Sprintf("expected previous hash %s, got %s", prevHash, block.PreviousHash()))
	}

	hash, err := block.ComputeHash()
	if err != nil {
		return NewChainErr(HashMismatch, block.Index(), err.Error())
	}
	if hash != block.Hash {
		return NewChainErr(HashMismatch, block.Index(),
			fmt.Sprintf("computed %s, got %s", hash, block.Hash))
	}

	payload := block.Payload()
	if err := payload.Validate(); err != nil {
		return NewChainErr(InvalidPayload, block.Index(), err.Error())
	}

	if tx := payload.Transaction; tx != nil && tx.Reason == TransferTx &&
		tx.From != block.Body.ProposerNodeID {
		return NewChainErr(InvalidPayload, block.Index(),
			"transfer not proposed by the paying account")
	}

	return nil
}
