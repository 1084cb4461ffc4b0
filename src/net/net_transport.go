package net

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"
)

/*******************************************************************************
MOST OF THIS IS TAKEN FROM HASHICORP RAFT
*******************************************************************************/

const (
	rpcJoin uint8 = iota
	rpcHeartbeat
	rpcProposal
	rpcVote
	rpcCommit
	rpcWithdraw
	rpcChain
)

const (
	// we need this high buffer size for compatibility with WebRTC
	bufSize = math.MaxUint16

	// wireTag makes the wire format follow the json field names and omitempty
	// options of the command types.
	wireTag = "json"
)

var (
	// ErrTransportShutdown is returned when operations on a transport are
	// invoked after it's been terminated.
	ErrTransportShutdown = errors.New("transport shutdown")
)

// StreamLayer provides the connections a NetworkTransport runs on: TCP
// sockets or WebRTC datachannels.
type StreamLayer interface {
	net.Listener

	// Dial opens an outgoing connection to an advertised address.
	Dial(address string, timeout time.Duration) (net.Conn, error)

	// AdvertiseAddr is the address other nodes dial to reach this one.
	AdvertiseAddr() string
}

/*
NetworkTransport provides a network based transport that can be used to
communicate with memorychain nodes on remote machines. It requires an
underlying stream layer to provide a stream abstraction, which can be simple
TCP, WebRTC, etc.

Each RPC request is framed by sending a byte that indicates the message type,
followed by the msgpack encoded request. The response is an error string
followed by the response object, both msgpack encoded.
*/
type NetworkTransport struct {
	logger *logrus.Entry

	connPool     map[string][]*netConn
	connPoolLock sync.Mutex
	maxPool      int

	consumeCh chan RPC

	shutdown     bool
	shutdownCh   chan struct{}
	shutdownLock sync.Mutex

	stream StreamLayer

	timeout     time.Duration
	joinTimeout time.Duration
}

type netConn struct {
	target string
	conn   net.Conn
	r      *bufio.Reader
	w      *bufio.Writer
	dec    *msgpack.Decoder
	enc    *msgpack.Encoder
}

// Release closes the underlying connection
func (n *netConn) Release() error {
	return n.conn.Close()
}

func newEncoder(w io.Writer) *msgpack.Encoder {
	enc := msgpack.NewEncoder(w)
	enc.SetCustomStructTag(wireTag)
	return enc
}

func newDecoder(r io.Reader) *msgpack.Decoder {
	dec := msgpack.NewDecoder(r)
	dec.SetCustomStructTag(wireTag)
	return dec
}

// NewNetworkTransport creates a new network transport with the given stream
// layer. The maxPool controls how many connections we will pool (per target).
// The timeout is used to apply I/O deadlines; joinTimeout applies to the
// larger Join and Chain exchanges.
func NewNetworkTransport(
	stream StreamLayer,
	maxPool int,
	timeout time.Duration,
	joinTimeout time.Duration,
	logger *logrus.Entry,
) *NetworkTransport {

	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	trans := &NetworkTransport{
		connPool:    make(map[string][]*netConn),
		consumeCh:   make(chan RPC),
		logger:      logger,
		maxPool:     maxPool,
		shutdownCh:  make(chan struct{}),
		stream:      stream,
		timeout:     timeout,
		joinTimeout: joinTimeout,
	}

	return trans
}

// Close is used to stop the network transport.
func (n *NetworkTransport) Close() error {
	n.shutdownLock.Lock()
	defer n.shutdownLock.Unlock()

	if !n.shutdown {
		close(n.shutdownCh)
		n.stream.Close()

		n.connPoolLock.Lock()
		for _, conns := range n.connPool {
			for _, c := range conns {
				c.Release()
			}
		}
		n.connPool = make(map[string][]*netConn)
		n.connPoolLock.Unlock()

		n.shutdown = true
	}
	return nil
}

// Consumer implements the Transport interface.
func (n *NetworkTransport) Consumer() <-chan RPC {
	return n.consumeCh
}

// LocalAddr implements the Transport interface.
func (n *NetworkTransport) LocalAddr() string {
	addr := n.stream.Addr()

	if addr != nil {
		return addr.String()
	}

	return n.stream.AdvertiseAddr()
}

// AdvertiseAddr implements the Transport interface.
func (n *NetworkTransport) AdvertiseAddr() string {
	return n.stream.AdvertiseAddr()
}

// IsShutdown is used to check if the transport is shutdown.
func (n *NetworkTransport) IsShutdown() bool {
	select {
	case <-n.shutdownCh:
		return true
	default:
		return false
	}
}

// getPooledConn is used to grab a pooled connection.
func (n *NetworkTransport) getPooledConn(target string) *netConn {
	n.connPoolLock.Lock()
	defer n.connPoolLock.Unlock()

	conns, ok := n.connPool[target]
	if !ok || len(conns) == 0 {
		return nil
	}

	var conn *netConn
	num := len(conns)
	conn, conns[num-1] = conns[num-1], nil
	n.connPool[target] = conns[:num-1]
	return conn
}

// getConn is used to get a connection from the pool.
func (n *NetworkTransport) getConn(target string, timeout time.Duration) (*netConn, error) {
	if n.IsShutdown() {
		return nil, ErrTransportShutdown
	}

	// Check for a pooled conn
	if conn := n.getPooledConn(target); conn != nil {
		return conn, nil
	}

	// Dial a new connection
	conn, err := n.stream.Dial(target, timeout)
	if err != nil {
		return nil, err
	}

	netConn := &netConn{
		target: target,
		conn:   conn,
		r:      bufio.NewReaderSize(conn, bufSize),
		w:      bufio.NewWriterSize(conn, bufSize),
	}
	netConn.dec = newDecoder(netConn.r)
	netConn.enc = newEncoder(netConn.w)

	return netConn, nil
}

// returnConn returns a connection back to the pool.
func (n *NetworkTransport) returnConn(conn *netConn) {
	n.connPoolLock.Lock()
	defer n.connPoolLock.Unlock()

	key := conn.target
	conns := n.connPool[key]

	if !n.IsShutdown() && len(conns) < n.maxPool {
		n.connPool[key] = append(conns, conn)
	} else {
		conn.Release()
	}
}

// Join implements the Transport interface.
func (n *NetworkTransport) Join(target string, args *JoinRequest, resp *JoinResponse) error {
	return n.genericRPC(target, rpcJoin, n.joinTimeout, args, resp)
}

// Heartbeat implements the Transport interface.
func (n *NetworkTransport) Heartbeat(target string, args *HeartbeatRequest, resp *HeartbeatResponse) error {
	return n.genericRPC(target, rpcHeartbeat, n.timeout, args, resp)
}

// Proposal implements the Transport interface.
func (n *NetworkTransport) Proposal(target string, args *ProposalRequest, resp *AckResponse) error {
	return n.genericRPC(target, rpcProposal, n.timeout, args, resp)
}

// Vote implements the Transport interface.
func (n *NetworkTransport) Vote(target string, args *VoteRequest, resp *AckResponse) error {
	return n.genericRPC(target, rpcVote, n.timeout, args, resp)
}

// Commit implements the Transport interface.
func (n *NetworkTransport) Commit(target string, args *CommitRequest, resp *AckResponse) error {
	return n.genericRPC(target, rpcCommit, n.timeout, args, resp)
}

// Withdraw implements the Transport interface.
func (n *NetworkTransport) Withdraw(target string, args *WithdrawRequest, resp *AckResponse) error {
	return n.genericRPC(target, rpcWithdraw, n.timeout, args, resp)
}

// Chain implements the Transport interface.
func (n *NetworkTransport) Chain(target string, args *ChainRequest, resp *ChainResponse) error {
	return n.genericRPC(target, rpcChain, n.joinTimeout, args, resp)
}

// genericRPC handles a simple request/response RPC.
func (n *NetworkTransport) genericRPC(target string, rpcType uint8, timeout time.Duration, args interface{}, resp interface{}) error {
	conn, err := n.getConn(target, timeout)
	if err != nil {
		return err
	}

	if timeout > 0 {
		conn.conn.SetDeadline(time.Now().Add(timeout))
	}

	if err = sendRPC(conn, rpcType, args); err != nil {
		return err
	}

	canReturn, err := decodeResponse(conn, resp)
	if canReturn {
		n.returnConn(conn)
	}

	return err
}

// sendRPC is used to encode and send the RPC.
func sendRPC(conn *netConn, rpcType uint8, args interface{}) error {
	if err := conn.w.WriteByte(rpcType); err != nil {
		conn.Release()
		return err
	}

	if err := conn.enc.Encode(args); err != nil {
		conn.Release()
		return err
	}

	if err := conn.w.Flush(); err != nil {
		conn.Release()
		return err
	}
	return nil
}

// decodeResponse is used to decode an RPC response and reports whether the
// connection can be reused.
func decodeResponse(conn *netConn, resp interface{}) (bool, error) {
	var rpcError string
	if err := conn.dec.Decode(&rpcError); err != nil {
		conn.Release()
		return false, err
	}

	if err := conn.dec.Decode(resp); err != nil {
		conn.Release()
		return false, err
	}

	if rpcError != "" {
		return true, errors.New(rpcError)
	}
	return true, nil
}

// Listen opens the stream and handles incoming connections.
func (n *NetworkTransport) Listen() {
	for {
		conn, err := n.stream.Accept()
		if err != nil {
			if n.IsShutdown() {
				return
			}
			n.logger.WithField("error", err).Error("Failed to accept connection")
			continue
		}
		n.logger.WithFields(logrus.Fields{
			"node": conn.LocalAddr(),
			"from": conn.RemoteAddr(),
		}).Debug("accepted connection")

		go n.handleConn(conn)
	}
}

// handleConn is used to handle an inbound connection for its lifespan.
func (n *NetworkTransport) handleConn(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReaderSize(conn, bufSize)
	w := bufio.NewWriterSize(conn, bufSize)
	dec := newDecoder(r)
	enc := newEncoder(w)

	for {
		if err := n.handleCommand(r, dec, enc); err != nil {
			if err == ErrTransportShutdown {
				n.logger.WithField("error", err).Debug("Dropping incoming command")
			} else if err != io.EOF {
				n.logger.WithField("error", err).Error("Failed to decode incoming command")
			}
			return
		}
		if err := w.Flush(); err != nil {
			n.logger.WithField("error", err).Error("Failed to flush response")
			return
		}
	}
}

// decodeCommand allocates the request matching an rpc type and decodes it.
func decodeCommand(rpcType uint8, dec *msgpack.Decoder) (interface{}, error) {
	var cmd interface{}
	switch rpcType {
	case rpcJoin:
		cmd = &JoinRequest{}
	case rpcHeartbeat:
		cmd = &HeartbeatRequest{}
	case rpcProposal:
		cmd = &ProposalRequest{}
	case rpcVote:
		cmd = &VoteRequest{}
	case rpcCommit:
		cmd = &CommitRequest{}
	case rpcWithdraw:
		cmd = &WithdrawRequest{}
	case rpcChain:
		cmd = &ChainRequest{}
	default:
		return nil, fmt.Errorf("unknown rpc type %d", rpcType)
	}
	if err := dec.Decode(cmd); err != nil {
		return nil, err
	}
	return cmd, nil
}

// handleCommand is used to decode and dispatch a single command.
func (n *NetworkTransport) handleCommand(r *bufio.Reader, dec *msgpack.Decoder, enc *msgpack.Encoder) error {
	rpcType, err := r.ReadByte()
	if err != nil {
		return err
	}

	cmd, err := decodeCommand(rpcType, dec)
	if err != nil {
		return err
	}

	respCh := make(chan RPCResponse, 1)
	rpc := RPC{
		Command:  cmd,
		RespChan: respCh,
	}

	select {
	case n.consumeCh <- rpc:
	case <-n.shutdownCh:
		return ErrTransportShutdown
	}

	select {
	case resp := <-respCh:
		respErr := ""
		if resp.Error != nil {
			respErr = resp.Error.Error()
		}
		if err := enc.Encode(respErr); err != nil {
			return err
		}

		if err := enc.Encode(resp.Response); err != nil {
			return err
		}
	case <-n.shutdownCh:
		return ErrTransportShutdown
	}

	return nil
}
