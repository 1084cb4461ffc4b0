package common

import "fmt"

// StoreErrType enumerates the failure modes of the block and registry stores.
type StoreErrType uint32

const (
	// KeyNotFound is returned when an item is not in the store.
	KeyNotFound StoreErrType = iota
	// TooLate is returned when an item was evicted from a bounded cache.
	TooLate
	// SkippedIndex is returned when inserting beyond the next free index.
	SkippedIndex
	// PassedIndex is returned when inserting at an index already filled.
	PassedIndex
	// Empty is returned when querying the head of an empty store.
	Empty
	// KeyAlreadyExists is returned when inserting a duplicate key.
	KeyAlreadyExists
	// Closed is returned when using a store after Close.
	Closed
)

// StoreErr is a typed store error carrying the data type and key involved.
type StoreErr struct {
	dataType string
	errType  StoreErrType
	key      string
}

// NewStoreErr creates a StoreErr.
func NewStoreErr(dataType string, errType StoreErrType, key string) StoreErr {
	return StoreErr{
		dataType: dataType,
		errType:  errType,
		key:      key,
	}
}

// Error implements the error interface.
func (e StoreErr) Error() string {
	m := ""
	switch e.errType {
	case KeyNotFound:
		m = "Not Found"
	case TooLate:
		m = "Too Late"
	case SkippedIndex:
		m = "Skipped Index"
	case PassedIndex:
		m = "Passed Index"
	case Empty:
		m = "Empty"
	case KeyAlreadyExists:
		m = "Key Already Exists"
	case Closed:
		m = "Closed"
	}

	return fmt.Sprintf("%s, %s, %s", e.dataType, e.key, m)
}

// IsStore checks that an error is of type StoreErr and that its code matches
// the provided StoreErrType.
func IsStore(err error, t StoreErrType) bool {
	storeErr, ok := err.(StoreErr)
	return ok && storeErr.errType == t
}
