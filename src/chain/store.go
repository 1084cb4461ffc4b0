package chain

// Store persists the blocks of a chain. Implementations are not required to
// validate blocks; Chain does that before calling them.
type Store interface {
	// Blocks returns every stored block in index order.
	Blocks() ([]*Block, error)
	GetBlock(index int) (*Block, error)
	// SetBlock stores the block at the next free index.
	SetBlock(block *Block) error
	// Replace swaps the whole content of the store.
	Replace(blocks []*Block) error
	Len() int
	Close() error
	StorePath() string
}
