// Package wamp implements a WebRTC signaling system using RPC over WebSockets.
//
// This package contains a WAMP server that relays RPC requests between
// connected clients, and a client which implements the Signal interface, and
// which can be used to instantiate a WebRTCStreamLayer. Every client registers
// a procedure named after its node ID; offers are calls to that procedure.
//
// When a cert.pem file is present in the data directory of a node, the client
// trusts it when connecting to the server, so the server certificate may be
// self-signed. Otherwise it relies on the platform trusted certificates. The
// server runs without TLS when no certificate and key are configured, which is
// only meant for local networks and tests.
package wamp

const (
	// ErrProcessingOffer indicates that the client who received the offer ran
	// into an error while processing it.
	ErrProcessingOffer = "io.memorychain.processing_offer"
)
