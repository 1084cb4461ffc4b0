package chain

import (
	"strconv"
	"sync"

	cm "github.com/mosaicnetworks/memorychain/src/common"
)

// InmemStore keeps blocks in memory. It is used in tests and when no data
// directory is configured.
type InmemStore struct {
	sync.RWMutex
	blocks []*Block
	closed bool
}

// NewInmemStore ...
func NewInmemStore() *InmemStore {
	return &InmemStore{}
}

// Blocks implements the Store interface.
func (s *InmemStore) Blocks() ([]*Block, error) {
	s.RLock()
	defer s.RUnlock()
	if s.closed {
		return nil, cm.NewStoreErr("InmemStore", cm.Closed, "")
	}
	res := make([]*Block, len(s.blocks))
	copy(res, s.blocks)
	return res, nil
}

// GetBlock implements the Store interface.
func (s *InmemStore) GetBlock(index int) (*Block, error) {
	s.RLock()
	defer s.RUnlock()
	if index < 0 || index >= len(s.blocks) {
		return nil, cm.NewStoreErr("Block", cm.KeyNotFound, strconv.Itoa(index))
	}
	return s.blocks[index], nil
}

// SetBlock implements the Store interface.
func (s *InmemStore) SetBlock(block *Block) error {
	s.Lock()
	defer s.Unlock()
	if s.closed {
		return cm.NewStoreErr("InmemStore", cm.Closed, "")
	}
	switch {
	case block.Index() > len(s.blocks):
		return cm.NewStoreErr("Block", cm.SkippedIndex, strconv.Itoa(block.Index()))
	case block.Index() < len(s.blocks):
		return cm.NewStoreErr("Block", cm.PassedIndex, strconv.Itoa(block.Index()))
	}
	s.blocks = append(s.blocks, block)
	return nil
}

// Replace implements the Store interface.
func (s *InmemStore) Replace(blocks []*Block) error {
	s.Lock()
	defer s.Unlock()
	if s.closed {
		return cm.NewStoreErr("InmemStore", cm.Closed, "")
	}
	s.blocks = make([]*Block, len(blocks))
	copy(s.blocks, blocks)
	return nil
}

// Len implements the Store interface.
func (s *InmemStore) Len() int {
	s.RLock()
	defer s.RUnlock()
	return len(s.blocks)
}

// Close implements the Store interface.
func (s *InmemStore) Close() error {
	s.Lock()
	defer s.Unlock()
	s.closed = true
	return nil
}

// StorePath implements the Store interface.
func (s *InmemStore) StorePath() string {
	return ""
}
