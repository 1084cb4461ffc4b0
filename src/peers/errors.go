package peers

import "errors"

var (
	// ErrUnknownNode is returned for operations on a node that never
	// registered.
	ErrUnknownNode = errors.New("unknown node")
	// ErrNodeOffline is returned by Heartbeat for a node marked offline. The
	// node has to register again.
	ErrNodeOffline = errors.New("node is offline, register again")
	// ErrInvalidActivity ...
	ErrInvalidActivity = errors.New("invalid activity state")
)
