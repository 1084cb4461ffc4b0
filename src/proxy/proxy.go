package proxy

import (
	"github.com/mosaicnetworks/memorychain/src/chain"
	"github.com/mosaicnetworks/memorychain/src/node/state"
)

// AppProxy is the node's view of the application.
type AppProxy interface {
	// SubmitCh is the channel through which the application submits payloads
	// to be proposed by the node.
	SubmitCh() chan chain.Payload

	// CommitBlock delivers a committed block to the application.
	CommitBlock(block chain.Block) error

	// Reset replaces everything the application was told so far with a new
	// chain, after the node adopted a longer fork.
	Reset(blocks []*chain.Block) error

	// OnStateChanged notifies the application of node state transitions.
	OnStateChanged(state state.State) error
}
