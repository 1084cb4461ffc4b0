package net

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/mosaicnetworks/memorychain/src/net/signal"
	"github.com/pion/datachannel"
	webrtc "github.com/pion/webrtc/v2"
	"github.com/sirupsen/logrus"
)

var errStreamClosed = errors.New("webrtc stream closed")

// WebRTCStreamLayer implements the StreamLayer interface for WebRTC
type WebRTCStreamLayer struct {
	sync.Mutex
	peerConnections        map[string]*webrtc.PeerConnection
	dataChannels           []datachannel.ReadWriteCloser
	iceServers             []webrtc.ICEServer
	signal                 signal.Signal
	incomingConnAggregator chan net.Conn
	closeCh                chan struct{}
	closeOnce              sync.Once
	logger                 *logrus.Entry
}

// NewWebRTCStreamLayer instantiates a new WebRTCStreamLayer. Call listen to
// start answering offers.
func NewWebRTCStreamLayer(signal signal.Signal, iceServers []webrtc.ICEServer, logger *logrus.Entry) *WebRTCStreamLayer {
	return &WebRTCStreamLayer{
		peerConnections:        make(map[string]*webrtc.PeerConnection),
		iceServers:             iceServers,
		signal:                 signal,
		incomingConnAggregator: make(chan net.Conn),
		closeCh:                make(chan struct{}),
		logger:                 logger,
	}
}

// listen receives SDP offers from the Signal, creates corresponding
// PeerConnections and responds. The DataChannels of these PeerConnections are
// piped into the connection aggregator.
func (w *WebRTCStreamLayer) listen() error {
	if err := w.signal.Listen(); err != nil {
		return err
	}

	consumer := w.signal.Consumer()

	for {
		select {
		case offerPromise := <-consumer:
			w.logger.WithField("from", offerPromise.From).Debug("Processing offer")

			answer, err := w.answer(offerPromise)
			if err != nil {
				w.logger.WithError(err).Error("Failed to answer offer")
			}
			offerPromise.Respond(answer, err)
		case <-w.closeCh:
			return nil
		}
	}
}

func (w *WebRTCStreamLayer) answer(offerPromise signal.OfferPromise) (*webrtc.SessionDescription, error) {
	peerConnection, err := w.newPeerConnection(w.incomingConnAggregator, offerPromise.From, false)
	if err != nil {
		return nil, err
	}

	if err := peerConnection.SetRemoteDescription(offerPromise.Offer); err != nil {
		peerConnection.Close()
		return nil, err
	}

	answer, err := peerConnection.CreateAnswer(nil)
	if err != nil {
		peerConnection.Close()
		return nil, err
	}

	// Sets the LocalDescription, and starts our UDP listeners
	if err := peerConnection.SetLocalDescription(answer); err != nil {
		peerConnection.Close()
		return nil, err
	}

	w.setPeerConnection(offerPromise.From, peerConnection)

	return &answer, nil
}

func (w *WebRTCStreamLayer) setPeerConnection(id string, pc *webrtc.PeerConnection) {
	w.Lock()
	defer w.Unlock()
	if old, ok := w.peerConnections[id]; ok {
		old.Close()
	}
	w.peerConnections[id] = pc
}

// newPeerConnection creates a PeerConnection and pipes corresponding
// DataChannel connections into the provided channel. Set createDataChannel
// when making the offer; the answering side binds to OnDataChannel instead.
func (w *WebRTCStreamLayer) newPeerConnection(connCh chan net.Conn, remote string, createDataChannel bool) (*webrtc.PeerConnection, error) {
	s := webrtc.SettingEngine{}
	s.DetachDataChannels()

	api := webrtc.NewAPI(webrtc.WithSettingEngine(s))

	config := webrtc.Configuration{
		ICEServers: w.iceServers,
	}

	peerConnection, err := api.NewPeerConnection(config)
	if err != nil {
		return nil, err
	}

	peerConnection.OnICEConnectionStateChange(func(connectionState webrtc.ICEConnectionState) {
		w.logger.WithField("state", connectionState.String()).Debug("ICE Connection State has changed")
	})

	if createDataChannel {
		dataChannel, err := peerConnection.CreateDataChannel("data", nil)
		if err != nil {
			peerConnection.Close()
			return nil, err
		}

		w.pipeDataChannel(dataChannel, connCh, remote)
	} else {
		peerConnection.OnDataChannel(func(d *webrtc.DataChannel) {
			w.pipeDataChannel(d, connCh, remote)
		})
	}

	return peerConnection, nil
}

func (w *WebRTCStreamLayer) pipeDataChannel(dataChannel *webrtc.DataChannel, connCh chan net.Conn, remote string) {
	dataChannel.OnOpen(func() {
		raw, err := dataChannel.Detach()
		if err != nil {
			w.logger.WithError(err).Error("Error detaching DataChannel")
			return
		}

		w.Lock()
		w.dataChannels = append(w.dataChannels, raw)
		w.Unlock()

		select {
		case connCh <- NewWebRTCConn(raw, w.signal.ID(), remote):
		case <-w.closeCh:
			raw.Close()
		}
	})
}

// Dial implements the StreamLayer interface. It creates a PeerConnection with
// the target, exchanges SDP through the signal, and returns a net.Conn
// wrapping the detached DataChannel once it is open.
func (w *WebRTCStreamLayer) Dial(target string, timeout time.Duration) (net.Conn, error) {
	// The DataChannel's OnOpen callback delivers the connection here. The
	// buffer lets the callback complete after a timeout.
	connCh := make(chan net.Conn, 1)

	pc, err := w.newPeerConnection(connCh, target, true)
	if err != nil {
		return nil, err
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		pc.Close()
		return nil, err
	}

	if err := pc.SetLocalDescription(offer); err != nil {
		pc.Close()
		return nil, err
	}

	answer, err := w.signal.Offer(target, offer)
	if err != nil {
		pc.Close()
		return nil, err
	}

	if answer == nil {
		pc.Close()
		return nil, fmt.Errorf("No answer")
	}

	if err := pc.SetRemoteDescription(*answer); err != nil {
		pc.Close()
		return nil, err
	}

	w.setPeerConnection(target, pc)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil, fmt.Errorf("Dial timeout")
	case conn := <-connCh:
		return conn, nil
	case <-w.closeCh:
		return nil, errStreamClosed
	}
}

// Accept consumes the incoming connection aggregator fed by the listen
// routine. It aggregates the connections from all DataChannels formed with
// PeerConnections.
func (w *WebRTCStreamLayer) Accept() (net.Conn, error) {
	select {
	case conn := <-w.incomingConnAggregator:
		return conn, nil
	case <-w.closeCh:
		return nil, errStreamClosed
	}
}

// Close implements the net.Listener interface. It closes the Signal and all
// the PeerConnections.
func (w *WebRTCStreamLayer) Close() error {
	w.closeOnce.Do(func() {
		close(w.closeCh)

		w.signal.Close()

		w.Lock()
		defer w.Unlock()

		for _, dc := range w.dataChannels {
			dc.Close()
		}

		for _, pc := range w.peerConnections {
			pc.Close()
		}
	})
	return nil
}

// Addr implements the net.Listener interface. The address is the ID under
// which the signal reaches this node.
func (w *WebRTCStreamLayer) Addr() net.Addr {
	return signalAddr(w.signal.ID())
}

// AdvertiseAddr implements the StreamLayer interface. Peers reach us through
// the signal, by ID.
func (w *WebRTCStreamLayer) AdvertiseAddr() string {
	return w.signal.ID()
}
