package net

import (
	"net"
	"time"

	"github.com/pion/datachannel"
)

// signalAddr is the address of a WebRTC endpoint: the ID it is known by on the
// signaling server.
type signalAddr string

// Network implements net.Addr
func (a signalAddr) Network() string { return "webrtc" }

// String implements net.Addr
func (a signalAddr) String() string { return string(a) }

// WebRTCConn implements net.Conn around a detached webrtc datachannel.
// Deadlines are not supported by datachannels and are ignored; the
// NetworkTransport bounds RPCs with its own timeouts.
type WebRTCConn struct {
	dataChannel datachannel.ReadWriteCloser
	local       signalAddr
	remote      signalAddr
}

// NewWebRTCConn wraps a datachannel between the local and remote signal IDs.
func NewWebRTCConn(dataChannel datachannel.ReadWriteCloser, local, remote string) *WebRTCConn {
	return &WebRTCConn{
		dataChannel: dataChannel,
		local:       signalAddr(local),
		remote:      signalAddr(remote),
	}
}

func (c *WebRTCConn) Read(p []byte) (int, error) {
	return c.dataChannel.Read(p)
}

func (c *WebRTCConn) Write(p []byte) (int, error) {
	return c.dataChannel.Write(p)
}

// Close closes the datachannel. The PeerConnection is closed by the stream
// layer.
func (c *WebRTCConn) Close() error {
	return c.dataChannel.Close()
}

// LocalAddr returns the signal ID of this node.
func (c *WebRTCConn) LocalAddr() net.Addr {
	return c.local
}

// RemoteAddr returns the signal ID of the peer.
func (c *WebRTCConn) RemoteAddr() net.Addr {
	return c.remote
}

func (c *WebRTCConn) SetDeadline(t time.Time) error      { return nil }
func (c *WebRTCConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *WebRTCConn) SetWriteDeadline(t time.Time) error { return nil }
