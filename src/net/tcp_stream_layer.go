package net

import (
	"net"
	"time"
)

// keepAlivePeriod keeps pooled connections from being silently dropped by
// NATs and firewalls between heartbeats.
const keepAlivePeriod = 30 * time.Second

// TCPStreamLayer implements StreamLayer interface for plain TCP.
type TCPStreamLayer struct {
	advertise string
	listener  *net.TCPListener
}

// Dial implements the StreamLayer interface.
func (t *TCPStreamLayer) Dial(address string, timeout time.Duration) (net.Conn, error) {
	dialer := net.Dialer{
		Timeout:   timeout,
		KeepAlive: keepAlivePeriod,
	}
	return dialer.Dial("tcp", address)
}

// Accept implements the net.Listener interface. Accepted connections use TCP
// keep-alives with the same period as outgoing ones.
func (t *TCPStreamLayer) Accept() (net.Conn, error) {
	conn, err := t.listener.AcceptTCP()
	if err != nil {
		return nil, err
	}
	conn.SetKeepAlive(true)
	conn.SetKeepAlivePeriod(keepAlivePeriod)
	return conn, nil
}

// Close implements the net.Listener interface.
func (t *TCPStreamLayer) Close() error {
	return t.listener.Close()
}

// Addr implements the net.Listener interface.
func (t *TCPStreamLayer) Addr() net.Addr {
	return t.listener.Addr()
}

// AdvertiseAddr implements the StreamLayer interface. It falls back to the
// bound address when no advertise address was given.
func (t *TCPStreamLayer) AdvertiseAddr() string {
	if t.advertise != "" {
		return t.advertise
	}
	return t.listener.Addr().String()
}
