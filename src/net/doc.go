// Package net implements the transports memorychain nodes use to talk to each
// other.
//
// A Transport sends typed requests (JoinRequest, HeartbeatRequest,
// ProposalRequest, VoteRequest, CommitRequest, WithdrawRequest, ChainRequest)
// and delivers incoming ones as RPC objects on its Consumer channel. There are
// three implementations:
//
// - Inmem: in-memory transport used for tests and simulations
//
// - TCP: communicating over plain TCP
//
// - WebRTC: using WebRTC data channels
//
// The TCP and WebRTC transports share the NetworkTransport, which frames each
// request with a type byte followed by its msgpack encoding, and pools
// outgoing connections per target.
//
// # TCP
//
// The TCP transport is suitable when nodes are in the same local network, or
// when they can accept inbound connections. It uses the BindAddr and
// AdvertiseAddr configuration values; AdvertiseAddr is the reachable address
// other nodes are told about.
//
// # WebRTC
//
// The WebRTC transport addresses NAT traversal, at the cost of a signaling
// server through which peers exchange connection information (see package
// signal/wamp). Nodes are then addressed by ID rather than IP:PORT, and the
// SignalAddr and SignalRealm configuration values replace BindAddr. Only the
// signaling goes through the server; all RPCs travel on direct data channels.
package net
