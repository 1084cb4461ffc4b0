package wamp

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"strings"
	"time"

	"github.com/gammazero/nexus/v3/client"
	"github.com/gammazero/nexus/v3/wamp"
	"github.com/jpillora/backoff"
	"github.com/mosaicnetworks/memorychain/src/net/signal"
	"github.com/pion/webrtc/v2"
	"github.com/sirupsen/logrus"
)

const connectAttempts = 5

// Client implements the Signal interface. It sends and receives SDP offers
// through a WAMP server using WebSockets.
type Client struct {
	id        string
	routerURL string
	config    client.Config
	client    *client.Client
	consumer  chan signal.OfferPromise
	logger    *logrus.Entry
}

// NewClient instantiates a new Client, and opens a connection to the WAMP
// signaling server. The server address may carry a ws:// or wss:// scheme;
// wss is assumed otherwise.
func NewClient(
	server string,
	realm string,
	id string,
	caFile string,
	insecureSkipVerify bool,
	responseTimeout time.Duration,
	logger *logrus.Entry,
) (*Client, error) {

	cfg := client.Config{
		Realm:           realm,
		ResponseTimeout: responseTimeout,
		Logger:          logger,
	}

	tlscfg, err := tlsConfig(caFile, insecureSkipVerify, logger)
	if err != nil {
		return nil, err
	}
	cfg.TlsCfg = tlscfg

	routerURL := server
	if !strings.Contains(server, "://") {
		routerURL = fmt.Sprintf("wss://%s", server)
	}

	res := &Client{
		id:        id,
		routerURL: routerURL,
		config:    cfg,
		consumer:  make(chan signal.OfferPromise),
		logger:    logger,
	}

	if err := res.Connect(); err != nil {
		return nil, err
	}

	return res, nil
}

func tlsConfig(caFile string, insecureSkipVerify bool, logger *logrus.Entry) (*tls.Config, error) {
	tlscfg := &tls.Config{}

	if insecureSkipVerify {
		logger.Debug("Skip Verify. Accepting any certificate provided by signal server.")
		tlscfg.InsecureSkipVerify = true
		return tlscfg, nil
	}

	if caFile == "" {
		return tlscfg, nil
	}

	if _, err := os.Stat(caFile); os.IsNotExist(err) {
		logger.Debug("No certificate file found. Relying on platform trusted certificates.")
		return tlscfg, nil
	}

	certPEM, err := ioutil.ReadFile(caFile)
	if err != nil {
		return nil, err
	}

	roots := x509.NewCertPool()
	if !roots.AppendCertsFromPEM(certPEM) {
		return nil, errors.New("Failed to import certificate to trust")
	}
	tlscfg.RootCAs = roots

	// Use the CN of the trusted cert as server name so that the certificate
	// validates even if the CN does not match the DNS name.
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, errors.New("Failed to decode certificate to trust")
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, err
	}

	logger.Debugf("Trusting certificate %s with CN: %s", caFile, cert.Subject.CommonName)
	tlscfg.ServerName = cert.Subject.CommonName

	return tlscfg, nil
}

// Connect creates a new WAMP client connected to the router. It does nothing
// if the client is already connected. Failed attempts are retried with
// backoff.
func (c *Client) Connect() error {
	if c.client != nil && c.client.Connected() {
		return nil
	}

	b := &backoff.Backoff{
		Min:    50 * time.Millisecond,
		Max:    time.Second,
		Factor: 2,
	}

	var err error
	for attempt := 0; attempt < connectAttempts; attempt++ {
		var cli *client.Client
		cli, err = client.ConnectNet(context.Background(), c.routerURL, c.config)
		if err == nil {
			c.client = cli
			return nil
		}
		c.logger.WithFields(logrus.Fields{
			"url":     c.routerURL,
			"attempt": attempt + 1,
			"error":   err,
		}).Debug("Failed to connect to signal server")
		time.Sleep(b.Duration())
	}

	return err
}

// ID implements the Signal interface. It returns the node ID identifying this
// client.
func (c *Client) ID() string {
	return c.id
}

// Listen implements the Signal interface. It registers a callback within the
// WAMP router. The callback forwards offers to the consumer channel. The
// callback is identified by the client's ID.
func (c *Client) Listen() error {
	if err := c.client.Register(c.ID(), c.callHandler, nil); err != nil {
		c.logger.WithError(err).Error("Failed to register procedure")
		return err
	}
	c.logger.Debug("Registered procedure with router")
	return nil
}

// Offer implements the Signal interface. It sends an offer and waits for an
// answer.
func (c *Client) Offer(target string, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	raw, err := json.Marshal(offer)
	if err != nil {
		return nil, err
	}

	callArgs := wamp.List{
		c.id,
		string(raw),
	}

	ctx, cancel := context.WithTimeout(
		context.Background(),
		c.config.ResponseTimeout,
	)
	defer cancel()

	result, err := c.client.Call(ctx, target, nil, callArgs, nil, nil)
	if err != nil {
		c.logger.WithError(err).Debug("Offer failed")
		return nil, err
	}

	if len(result.Arguments) == 0 {
		return nil, errors.New("empty answer")
	}

	sdp, ok := wamp.AsString(result.Arguments[0])
	if !ok {
		return nil, errors.New("answer is not a string")
	}

	answer := webrtc.SessionDescription{}
	if err := json.Unmarshal([]byte(sdp), &answer); err != nil {
		return nil, err
	}

	return &answer, nil
}

// Consumer implements the Signal interface. It returns the channel through
// which incoming WebRTC offers are received.
func (c *Client) Consumer() <-chan signal.OfferPromise {
	return c.consumer
}

// Close implements the Signal interface. It closes the connection to the WAMP
// server.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	c.client.Unregister(c.ID())
	return c.client.Close()
}

// callHandler is called when an offer is received from the signaling server.
func (c *Client) callHandler(ctx context.Context, inv *wamp.Invocation) client.InvokeResult {
	if len(inv.Arguments) != 2 {
		return errResult(
			fmt.Sprintf("Invocation should contain 2 arguments, not %d", len(inv.Arguments)))
	}

	from, ok := wamp.AsString(inv.Arguments[0])
	if !ok {
		return errResult("Error reading invocation first argument")
	}

	sdp, ok := wamp.AsString(inv.Arguments[1])
	if !ok {
		return errResult("Error reading invocation second argument")
	}

	offer := webrtc.SessionDescription{}
	if err := json.Unmarshal([]byte(sdp), &offer); err != nil {
		return errResult(fmt.Sprintf("Error parsing invocation SDP: %v", err))
	}

	promise, respCh := signal.NewOfferPromise(from, offer)

	timer := time.NewTimer(c.config.ResponseTimeout)
	defer timer.Stop()

	select {
	case c.consumer <- promise:
	case <-timer.C:
		return errResult("Callee not consuming offers")
	}

	select {
	case <-timer.C:
		return errResult("Callee TIMEOUT")
	case resp := <-respCh:
		if resp.Error != nil {
			return errResult(resp.Error.Error())
		}

		raw, err := json.Marshal(resp.Answer)
		if err != nil {
			return errResult(fmt.Sprintf("Error parsing answer: %v", err))
		}

		return client.InvokeResult{
			Args: wamp.List{string(raw)},
		}
	}
}

func errResult(msg string) client.InvokeResult {
	return client.InvokeResult{
		Err:  ErrProcessingOffer,
		Args: wamp.List{msg},
	}
}
