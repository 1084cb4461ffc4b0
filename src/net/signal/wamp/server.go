package wamp

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"

	"github.com/gammazero/nexus/v3/router"
	"github.com/gammazero/nexus/v3/wamp"
	"github.com/sirupsen/logrus"
)

// Server implements a WAMP server through which connected clients can make RPC
// requests to one-another. It is the server side of our WAMP signaling system
// for WebRTC connections.
type Server struct {
	address    string
	router     router.Router
	httpServer *http.Server
	tls        bool
	logger     *logrus.Entry
}

// NewServer instantiates a new Server which can be run at a specified address.
// TLS is enabled when certFile and keyFile are both set.
func NewServer(address string,
	realm string,
	certFile string,
	keyFile string,
	logger *logrus.Entry) (*Server, error) {

	routerConfig := &router.Config{
		RealmConfigs: []*router.RealmConfig{
			{
				URI:           wamp.URI(realm),
				AnonymousAuth: true,
			},
		},
	}

	nxr, err := router.NewRouter(routerConfig, logger)
	if err != nil {
		return nil, err
	}

	wss := router.NewWebsocketServer(nxr)

	httpServer := &http.Server{
		Handler: wss,
		Addr:    address,
	}

	useTLS := certFile != "" && keyFile != ""
	if useTLS {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			nxr.Close()
			return nil, fmt.Errorf("error loading X509 key pair: %s", err)
		}
		httpServer.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
		}
	}

	return &Server{
		address:    address,
		router:     nxr,
		httpServer: httpServer,
		tls:        useTLS,
		logger:     logger,
	}, nil
}

// Run starts the WAMP websocket server. It blocks until the server is shut
// down.
func (s *Server) Run() error {
	var err error
	if s.tls {
		// Certificates are already loaded in the TLSConfig.
		err = s.httpServer.ListenAndServeTLS("", "")
	} else {
		err = s.httpServer.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		s.logger.WithError(err).Error("Run")
		return err
	}
	return nil
}

// Shutdown stops the websocket server, and the wamp router
func (s *Server) Shutdown() {
	defer s.router.Close()

	if err := s.httpServer.Shutdown(context.Background()); err != nil {
		s.logger.WithError(err).Error("Shutting down http server")
	}
}

// Addr returns the address of the server
func (s *Server) Addr() string {
	return s.address
}

// URL returns the websocket URL clients use to reach the server.
func (s *Server) URL() string {
	if s.tls {
		return fmt.Sprintf("wss://%s", s.address)
	}
	return fmt.Sprintf("ws://%s", s.address)
}
