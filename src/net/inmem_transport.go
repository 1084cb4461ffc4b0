package net

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// NewInmemAddr returns a new in-memory addr with a random UUID as the ID.
func NewInmemAddr() string {
	return uuid.New().String()
}

// InmemTransport implements the Transport interface, to allow memorychain
// nodes to be tested in-memory without going over a network.
type InmemTransport struct {
	sync.RWMutex
	consumerCh chan RPC
	localAddr  string
	peers      map[string]*InmemTransport
	timeout    time.Duration
}

// NewInmemTransport is used to initialize a new transport and generates a
// random local address if none is specified.
func NewInmemTransport(addr string) (string, *InmemTransport) {
	if addr == "" {
		addr = NewInmemAddr()
	}
	trans := &InmemTransport{
		consumerCh: make(chan RPC, 64),
		localAddr:  addr,
		peers:      make(map[string]*InmemTransport),
		timeout:    time.Second,
	}
	return addr, trans
}

// SetTimeout changes how long a request waits for its response.
func (i *InmemTransport) SetTimeout(timeout time.Duration) {
	i.Lock()
	defer i.Unlock()
	i.timeout = timeout
}

// Consumer implements the Transport interface.
func (i *InmemTransport) Consumer() <-chan RPC {
	return i.consumerCh
}

// LocalAddr implements the Transport interface.
func (i *InmemTransport) LocalAddr() string {
	return i.localAddr
}

// AdvertiseAddr implements the Transport interface.
func (i *InmemTransport) AdvertiseAddr() string {
	return i.localAddr
}

// Join implements the Transport interface.
func (i *InmemTransport) Join(target string, args *JoinRequest, resp *JoinResponse) error {
	rpcResp, err := i.makeRPC(target, args)
	if err != nil {
		return err
	}
	*resp = *rpcResp.Response.(*JoinResponse)
	return nil
}

// Heartbeat implements the Transport interface.
func (i *InmemTransport) Heartbeat(target string, args *HeartbeatRequest, resp *HeartbeatResponse) error {
	rpcResp, err := i.makeRPC(target, args)
	if err != nil {
		return err
	}
	*resp = *rpcResp.Response.(*HeartbeatResponse)
	return nil
}

// Proposal implements the Transport interface.
func (i *InmemTransport) Proposal(target string, args *ProposalRequest, resp *AckResponse) error {
	return i.ack(target, args, resp)
}

// Vote implements the Transport interface.
func (i *InmemTransport) Vote(target string, args *VoteRequest, resp *AckResponse) error {
	return i.ack(target, args, resp)
}

// Commit implements the Transport interface.
func (i *InmemTransport) Commit(target string, args *CommitRequest, resp *AckResponse) error {
	return i.ack(target, args, resp)
}

// Withdraw implements the Transport interface.
func (i *InmemTransport) Withdraw(target string, args *WithdrawRequest, resp *AckResponse) error {
	return i.ack(target, args, resp)
}

// Chain implements the Transport interface.
func (i *InmemTransport) Chain(target string, args *ChainRequest, resp *ChainResponse) error {
	rpcResp, err := i.makeRPC(target, args)
	if err != nil {
		return err
	}
	*resp = *rpcResp.Response.(*ChainResponse)
	return nil
}

func (i *InmemTransport) ack(target string, args interface{}, resp *AckResponse) error {
	rpcResp, err := i.makeRPC(target, args)
	if err != nil {
		return err
	}
	*resp = *rpcResp.Response.(*AckResponse)
	return nil
}

func (i *InmemTransport) makeRPC(target string, args interface{}) (rpcResp RPCResponse, err error) {
	i.RLock()
	peer, ok := i.peers[target]
	timeout := i.timeout
	i.RUnlock()

	if !ok {
		err = fmt.Errorf("failed to connect to peer: %v", target)
		return
	}

	// The buffered channel lets a late responder finish after a timeout.
	respCh := make(chan RPCResponse, 1)
	select {
	case peer.consumerCh <- RPC{Command: args, RespChan: respCh}:
	case <-time.After(timeout):
		err = fmt.Errorf("peer %v is not consuming", target)
		return
	}

	select {
	case rpcResp = <-respCh:
		if rpcResp.Error != nil {
			err = rpcResp.Error
		}
	case <-time.After(timeout):
		err = fmt.Errorf("command timed out")
	}
	return
}

// Connect is used to connect this transport to another transport for a given
// peer name. This allows for local routing.
func (i *InmemTransport) Connect(peer string, t Transport) {
	trans := t.(*InmemTransport)
	i.Lock()
	defer i.Unlock()
	i.peers[peer] = trans
}

// Disconnect is used to remove the ability to route to a given peer.
func (i *InmemTransport) Disconnect(peer string) {
	i.Lock()
	defer i.Unlock()
	delete(i.peers, peer)
}

// DisconnectAll is used to remove all routes to peers.
func (i *InmemTransport) DisconnectAll() {
	i.Lock()
	defer i.Unlock()
	i.peers = make(map[string]*InmemTransport)
}

// Close is used to permanently disable the transport.
func (i *InmemTransport) Close() error {
	i.DisconnectAll()
	return nil
}

// Listen is a no-op; in-memory transports need no deferred initialisation.
func (i *InmemTransport) Listen() {
}
