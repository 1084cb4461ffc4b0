package signal

import (
	"github.com/pion/webrtc/v2"
)

// OfferPromiseResponse is the object returned through an OfferPromise. It
// wraps an SDP answer and a potential error.
type OfferPromiseResponse struct {
	Answer *webrtc.SessionDescription
	Error  error
}

// OfferPromise carries an SDP offer, the identifier of its originator, and a
// channel to answer it asynchronously.
type OfferPromise struct {
	From     string
	Offer    webrtc.SessionDescription
	RespChan chan<- OfferPromiseResponse
}

// NewOfferPromise returns a promise and the buffered channel its answer will
// be delivered on.
func NewOfferPromise(from string, offer webrtc.SessionDescription) (OfferPromise, <-chan OfferPromiseResponse) {
	respCh := make(chan OfferPromiseResponse, 1)
	return OfferPromise{
		From:     from,
		Offer:    offer,
		RespChan: respCh,
	}, respCh
}

// Respond is used to respond with an SDP answer, and/or an error.
func (p *OfferPromise) Respond(answer *webrtc.SessionDescription, err error) {
	p.RespChan <- OfferPromiseResponse{answer, err}
}
