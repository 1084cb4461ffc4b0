package net

import (
	"errors"
	"testing"
	"time"

	"github.com/mosaicnetworks/memorychain/src/common"
	"github.com/mosaicnetworks/memorychain/src/net/signal"
	webrtc "github.com/pion/webrtc/v2"
)

// refusingSignal answers nothing and fails every offer.
type refusingSignal struct {
	id       string
	consumer chan signal.OfferPromise
	closed   bool
}

func (s *refusingSignal) ID() string    { return s.id }
func (s *refusingSignal) Listen() error { return nil }
func (s *refusingSignal) Close() error  { s.closed = true; return nil }
func (s *refusingSignal) Consumer() <-chan signal.OfferPromise {
	return s.consumer
}
func (s *refusingSignal) Offer(target string, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	return nil, errors.New("refused")
}

func TestWebRTCStreamLayer(t *testing.T) {
	sig := &refusingSignal{id: "alice", consumer: make(chan signal.OfferPromise)}

	stream := NewWebRTCStreamLayer(sig, nil, common.NewTestEntry(t, common.TestLogLevel))

	done := make(chan error, 1)
	go func() {
		done <- stream.listen()
	}()

	if stream.AdvertiseAddr() != "alice" {
		t.Fatalf("AdvertiseAddr should be alice, not %s", stream.AdvertiseAddr())
	}
	if addr := stream.Addr(); addr.Network() != "webrtc" || addr.String() != "alice" {
		t.Fatalf("Addr should be webrtc/alice, not %s/%s", addr.Network(), addr.String())
	}

	if _, err := stream.Dial("bob", time.Second); err == nil {
		t.Fatal("Dial should fail when the offer is refused")
	}

	stream.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("listen should return after Close")
	}

	if !sig.closed {
		t.Fatal("signal should be closed")
	}

	if _, err := stream.Accept(); err != errStreamClosed {
		t.Fatalf("expected errStreamClosed, got %v", err)
	}
}
