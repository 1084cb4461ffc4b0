package proxy

import (
	"github.com/mosaicnetworks/memorychain/src/chain"
	"github.com/mosaicnetworks/memorychain/src/node/state"
)

// ProxyHandler encapsulates callbacks to be called by the InmemProxy. This is
// the true contact surface between memorychain and the application, such as a
// local note store indexing committed memories.
type ProxyHandler interface {
	// CommitHandler is called when a block is committed to the chain.
	CommitHandler(block chain.Block) error

	// ResetHandler is called with the full chain when the node replaced its
	// chain with a longer fork.
	ResetHandler(blocks []*chain.Block) error

	// StateChangeHandler is called when the node enters a new state.
	StateChangeHandler(state.State) error
}
