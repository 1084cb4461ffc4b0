// Package signal defines how WebRTC peers exchange the session descriptions
// they need before a direct link can be established.
package signal

import "github.com/pion/webrtc/v2"

// Signal defines an interface for systems to exchange SDP offers and answers
// to establish WebRTC PeerConnections.
type Signal interface {
	// ID returns the identifier other nodes use to reach this end of a
	// connection. It is the advertised address of a WebRTC transport.
	ID() string

	// Listen is called to listen for incoming SDP offers, and forward them to
	// the Consumer channel.
	Listen() error

	// Consumer is the channel through which incoming SDP offers are passed to
	// the WebRTCStreamLayer. SDP offers are wrapped around a promise object
	// which offers a response mechanism.
	Consumer() <-chan OfferPromise

	// Offer sends an SDP offer and waits for an answer.
	Offer(target string, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error)

	// Close disconnects from the signaling system.
	Close() error
}
