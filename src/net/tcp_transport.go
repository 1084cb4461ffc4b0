package net

import (
	"errors"
	"net"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	errNotAdvertisable = errors.New("local bind address is not advertisable")
	errNotTCP          = errors.New("local address is not a TCP address")
)

// NewTCPTransport returns a NetworkTransport over TCP. advertise is the
// address other nodes dial; when empty, the bound address is advertised and
// must not be unspecified (0.0.0.0 or ::).
func NewTCPTransport(
	bindAddr string,
	advertise string,
	maxPool int,
	timeout time.Duration,
	joinTimeout time.Duration,
	logger *logrus.Entry,
) (*NetworkTransport, error) {
	list, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return nil, err
	}

	if err := checkAdvertise(advertise, list.Addr()); err != nil {
		list.Close()
		return nil, err
	}

	stream := &TCPStreamLayer{
		advertise: advertise,
		listener:  list.(*net.TCPListener),
	}

	return NewNetworkTransport(stream, maxPool, timeout, joinTimeout, logger), nil
}

func checkAdvertise(advertise string, bound net.Addr) error {
	addr := bound
	if advertise != "" {
		resolved, err := net.ResolveTCPAddr("tcp", advertise)
		if err != nil {
			return err
		}
		addr = resolved
	}

	tcpAddr, ok := addr.(*net.TCPAddr)
	switch {
	case !ok:
		return errNotTCP
	case tcpAddr.IP.IsUnspecified():
		return errNotAdvertisable
	}
	return nil
}
