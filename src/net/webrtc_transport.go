package net

import (
	"time"

	"github.com/mosaicnetworks/memorychain/src/net/signal"
	webrtc "github.com/pion/webrtc/v2"
	"github.com/sirupsen/logrus"
)

// NewWebRTCTransport returns a NetworkTransport that is built on top of a
// WebRTC StreamLayer. The signal is a mechanism for peers to exchange
// connection information prior to establishing a direct p2p link. Addresses
// of a WebRTC transport are the IDs nodes use with the signal.
func NewWebRTCTransport(
	signal signal.Signal,
	iceServers []webrtc.ICEServer,
	maxPool int,
	timeout time.Duration,
	joinTimeout time.Duration,
	logger *logrus.Entry,
) (*NetworkTransport, error) {

	stream := NewWebRTCStreamLayer(signal, iceServers, logger)

	go func() {
		if err := stream.listen(); err != nil {
			logger.WithError(err).Error("WebRTC stream stopped listening")
		}
	}()

	return NewNetworkTransport(stream, maxPool, timeout, joinTimeout, logger), nil
}
