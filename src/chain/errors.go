package chain

import "fmt"

// ChainErrType enumerates the reasons a block is refused.
type ChainErrType uint32

const (
	// IndexMismatch: the block does not sit at the next free index
	IndexMismatch ChainErrType = iota
	// PreviousHashMismatch: the block does not point at the current head
	PreviousHashMismatch
	// HashMismatch: the stored hash is not the hash of the body
	HashMismatch
	// InvalidPayload: the payload failed validation
	InvalidPayload
)

// ChainErr is returned when a block cannot be appended.
type ChainErr struct {
	Type   ChainErrType
	Index  int
	Detail string
}

// NewChainErr ...
func NewChainErr(t ChainErrType, index int, detail string) ChainErr {
	return ChainErr{
		Type:   t,
		Index:  index,
		Detail: detail,
	}
}

func (e ChainErr) Error() string {
	m := ""
	switch e.Type {
	case IndexMismatch:
		m = "Index Mismatch"
	case PreviousHashMismatch:
		m = "Previous Hash Mismatch"
	case HashMismatch:
		m = "Hash Mismatch"
	case InvalidPayload:
		m = "Invalid Payload"
	}

	return fmt.Sprintf("Block %d, %s: %s", e.Index, m, e.Detail)
}

// IsChainErr checks that an error is of type ChainErr and that its type
// matches t.
func IsChainErr(err error, t ChainErrType) bool {
	cErr, ok := err.(ChainErr)
	return ok && cErr.Type == t
}

// IsStale reports whether the block lost a race for its index. Stale blocks
// can be re-targeted to the next index.
func IsStale(err error) bool {
	return IsChainErr(err, IndexMismatch) || IsChainErr(err, PreviousHashMismatch)
}
