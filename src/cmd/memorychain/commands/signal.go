package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/mosaicnetworks/memorychain/src/config"
	"github.com/mosaicnetworks/memorychain/src/net/signal/wamp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

var (
	signalAddr     = config.DefaultSignalAddr
	signalRealm    = config.DefaultSignalRealm
	signalCertFile string
	signalKeyFile  string
	signalLogLevel = "info"
)

// NewSignalCmd returns the command that runs a WebRTC signaling server, used
// by nodes started with --webrtc.
func NewSignalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signal",
		Short: "WebRTC signaling server using WebSockets",
		RunE:  runSignal,
	}

	cmd.Flags().StringVar(&signalAddr, "address", signalAddr, "Listen IP:Port for the signaling server")
	cmd.Flags().StringVar(&signalRealm, "realm", signalRealm, "Administrative routing domain within the signaling server")
	cmd.Flags().StringVar(&signalCertFile, "cert-file", signalCertFile, "File containing the TLS certificate")
	cmd.Flags().StringVar(&signalKeyFile, "key-file", signalKeyFile, "File containing the certificate's private key")
	cmd.Flags().StringVar(&signalLogLevel, "log", signalLogLevel, "debug, info, warn, error, fatal, panic")

	return cmd
}

// runSignal starts the WAMP server and waits for a SIGINT or SIGTERM
func runSignal(cmd *cobra.Command, args []string) error {
	logger := logrus.New()
	logger.Level = config.LogLevel(signalLogLevel)
	logger.Formatter = new(prefixed.TextFormatter)

	entry := logger.WithField("prefix", "signal")

	server, err := wamp.NewServer(signalAddr,
		signalRealm,
		signalCertFile,
		signalKeyFile,
		entry)
	if err != nil {
		return err
	}

	go func() {
		if err := server.Run(); err != nil {
			entry.WithError(err).Error("Signaling server stopped")
		}
	}()

	entry.WithFields(logrus.Fields{
		"address": server.Addr(),
		"realm":   signalRealm,
	}).Info("Signaling server running")

	//Prepare sigCh to relay SIGINT and SIGTERM system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	<-sigCh

	server.Shutdown()

	return nil
}
