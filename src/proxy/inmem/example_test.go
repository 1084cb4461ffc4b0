package inmem

import (
	"fmt"

	"github.com/mosaicnetworks/memorychain/src/chain"
	"github.com/mosaicnetworks/memorychain/src/node/state"
)

// ExampleHandler implements the ProxyHandler interface. This is where an
// application would normally register callbacks that the node calls through
// the InmemProxy. ExampleHandler keeps the subjects of the committed memories,
// in chain order, and the state of the node.
type ExampleHandler struct {
	subjects []string
	state    state.State
}

// CommitHandler is called for every committed block. Blocks arrive in chain
// order, and every node receives the same blocks. Only memories are of
// interest here; tasks and transactions are skipped.
func (h *ExampleHandler) CommitHandler(block chain.Block) error {
	if m := block.Payload().Memory; m != nil {
		h.subjects = append(h.subjects, m.Subject())
	}
	return nil
}

// ResetHandler is called when the node adopted a longer fork. The application
// must forget what it indexed and replay the new chain.
func (h *ExampleHandler) ResetHandler(blocks []*chain.Block) error {
	h.subjects = h.subjects[:0]
	for _, b := range blocks {
		if err := h.CommitHandler(*b); err != nil {
			return err
		}
	}
	return nil
}

// StateChangeHandler is called when the node enters a new state (Joining,
// Gossiping, etc.).
func (h *ExampleHandler) StateChangeHandler(state state.State) error {
	h.state = state
	return nil
}

func Example() {
	// An application implements the ProxyHandler interface and wraps it in an
	// InmemProxy, which is then passed to the node.
	handler := &ExampleHandler{}
	proxy := NewInmemProxy(handler, nil)

	// The node calls CommitBlock for every committed block.
	memory := chain.NewMemory("groceries", "milk, eggs", nil, nil)
	block := chain.NewBlock(0, 0, chain.NewMemoryPayload(memory), chain.GenesisHash, "N1", "N1")
	proxy.CommitBlock(*block)

	fmt.Println(handler.subjects)
	// Output: [groceries]
}
