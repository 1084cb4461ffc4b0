package state

import (
	"sync"
	"sync/atomic"
)

// State captures the state of a memorychain node: Joining, Gossiping,
// CatchingUp or Shutdown.
type State uint32

const (
	// Joining is the state in which a node registers with the bootstrap nodes
	// and learns the registry from them.
	Joining State = iota

	// Gossiping is the normal state: the node relays proposals, votes and
	// commits, and sends heartbeats.
	Gossiping

	// CatchingUp is the state in which a node fetches a longer chain from
	// another node and rebuilds its derived state from it.
	CatchingUp

	// Shutdown is the state in which a node stops responding to external
	// events and closes its transport.
	Shutdown
)

// WGLIMIT is the maximum number of goroutines that can be launched through
// Manager.GoFunc
const WGLIMIT = 64

// String returns the string representation of a State
func (s State) String() string {
	switch s {
	case Joining:
		return "Joining"
	case Gossiping:
		return "Gossiping"
	case CatchingUp:
		return "CatchingUp"
	case Shutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

// Manager wraps a State with get and set methods. It is also used to limit the
// number of goroutines launched by the node, and to wait for all of them to
// complete.
type Manager struct {
	state   State
	wg      sync.WaitGroup
	wgCount int32
}

// GetState returns the current state.
func (b *Manager) GetState() State {
	stateAddr := (*uint32)(&b.state)
	return State(atomic.LoadUint32(stateAddr))
}

// SetState sets the state.
func (b *Manager) SetState(s State) {
	stateAddr := (*uint32)(&b.state)
	atomic.StoreUint32(stateAddr, uint32(s))
}

// GoFunc launches a goroutine for a given function, if there are currently
// less than WGLIMIT running, and reports whether it did. It increments the
// waitgroup.
func (b *Manager) GoFunc(f func()) bool {
	if atomic.AddInt32(&b.wgCount, 1) > WGLIMIT {
		atomic.AddInt32(&b.wgCount, -1)
		return false
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer atomic.AddInt32(&b.wgCount, -1)
		f()
	}()
	return true
}

// WaitRoutines waits for all the goroutines in the waitgroup.
func (b *Manager) WaitRoutines() {
	b.wg.Wait()
}
