package chain

import (
	"fmt"
	"os"
	"strconv"

	"github.com/dgraph-io/badger"
	cm "github.com/mosaicnetworks/memorychain/src/common"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	blockPrefix = "block"
	headKey     = "head"
)

// BadgerStore persists blocks in a badger database. Values are msgpack
// encoded. The head key holds the number of blocks, so blocks beyond it are
// ignored when a replacement was interrupted.
type BadgerStore struct {
	db   *badger.DB
	path string
	len  int
}

// NewBadgerStore opens, or creates, the database in path and reads the current
// chain length.
// Badger's own messages are routed to logger.
func NewBadgerStore(path string, logger *logrus.Entry) (*BadgerStore, error) {
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(path)
	opts.SyncWrites = false
	if logger != nil {
		opts.Logger = logger.WithField("component", "badger")
	}
	handle, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "opening badger database in %s", path)
	}

	store := &BadgerStore{
		db:   handle,
		path: path,
	}

	l, err := store.dbGetHead()
	if err != nil {
		if !cm.IsStore(err, cm.KeyNotFound) {
			handle.Close()
			return nil, err
		}
		l = 0
	}
	store.len = l

	return store, nil
}

//==============================================================================
//Keys

func blockKey(index int) []byte {
	return []byte(fmt.Sprintf("%s_%09d", blockPrefix, index))
}

//==============================================================================
//Implement the Store interface

// Blocks implements the Store interface.
func (s *BadgerStore) Blocks() ([]*Block, error) {
	res := make([]*Block, 0, s.len)
	for i := 0; i < s.len; i++ {
		b, err := s.dbGetBlock(i)
		if err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, nil
}

// GetBlock implements the Store interface.
func (s *BadgerStore) GetBlock(index int) (*Block, error) {
	if index < 0 || index >= s.len {
		return nil, cm.NewStoreErr("Block", cm.KeyNotFound, strconv.Itoa(index))
	}
	return s.dbGetBlock(index)
}

// SetBlock implements the Store interface.
func (s *BadgerStore) SetBlock(block *Block) error {
	switch {
	case block.Index() > s.len:
		return cm.NewStoreErr("Block", cm.SkippedIndex, strconv.Itoa(block.Index()))
	case block.Index() < s.len:
		return cm.NewStoreErr("Block", cm.PassedIndex, strconv.Itoa(block.Index()))
	}

	if err := s.dbSetBlocks([]*Block{block}, block.Index()+1); err != nil {
		return err
	}
	s.len = block.Index() + 1
	return nil
}

// Replace implements the Store interface. Blocks are written first and the
// head last, so an interrupted replacement leaves the previous head in place.
func (s *BadgerStore) Replace(blocks []*Block) error {
	if err := s.dbSetBlocks(blocks, -1); err != nil {
		return err
	}
	if err := s.dbSetHead(len(blocks)); err != nil {
		return err
	}
	s.len = len(blocks)
	return nil
}

// Len implements the Store interface.
func (s *BadgerStore) Len() int {
	return s.len
}

// Close implements the Store interface.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// StorePath implements the Store interface.
func (s *BadgerStore) StorePath() string {
	return s.path
}

//==============================================================================
//DB Methods

func (s *BadgerStore) dbGetHead() (int, error) {
	var l int
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(headKey))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return msgpack.Unmarshal(val, &l)
		})
	})
	if err != nil {
		return 0, mapError(err, "Head", headKey)
	}
	return l, nil
}

func (s *BadgerStore) dbSetHead(l int) error {
	val, err := msgpack.Marshal(l)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(headKey), val)
	})
}

func (s *BadgerStore) dbGetBlock(index int) (*Block, error) {
	var blockBytes []byte
	key := blockKey(index)
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		blockBytes, err = item.ValueCopy(nil)
		return err
	})

	if err != nil {
		return nil, mapError(err, "Block", string(key))
	}

	block := new(Block)
	if err := block.Unmarshal(blockBytes); err != nil {
		return nil, err
	}

	return block, nil
}

// dbSetBlocks writes the blocks, one transaction per block. When head is not
// negative it is written in the transaction of the last block.
func (s *BadgerStore) dbSetBlocks(blocks []*Block, head int) error {
	for i, block := range blocks {
		tx := s.db.NewTransaction(true)

		val, err := block.Marshal()
		if err != nil {
			tx.Discard()
			return err
		}

		//insert [index] => [block bytes]
		if err := tx.Set(blockKey(block.Index()), val); err != nil {
			tx.Discard()
			return err
		}

		if head >= 0 && i == len(blocks)-1 {
			hv, err := msgpack.Marshal(head)
			if err != nil {
				tx.Discard()
				return err
			}
			if err := tx.Set([]byte(headKey), hv); err != nil {
				tx.Discard()
				return err
			}
		}

		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

//++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++

func isDBKeyNotFound(err error) bool {
	return err == badger.ErrKeyNotFound
}

func mapError(err error, name, key string) error {
	if err != nil {
		if isDBKeyNotFound(err) {
			return cm.NewStoreErr(name, cm.KeyNotFound, key)
		}
	}
	return err
}
