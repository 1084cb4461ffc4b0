// Package config defines the configuration for a memorychain node.
//
// Regardless of how a node is started, directly from Go code or as a
// standalone process from the command line, it uses the Config object defined
// in this package to store and forward configuration options. On top of these
// options, a node relies on a data directory, defined by Config.DataDir, where
// it expects to find a few additional files:
//
//	priv_key        // the hex-encoded private key (cf. memorychain keygen).
//	nodes.json      // the registry, written by the node and reloaded on restart.
//	seeds.yaml      // (optional) nodes to contact when joining the network.
//	cert.pem        // (optional) an x509 certificate for the WebRTC signaling server.
//	memorychain.toml // (optional) configuration read by the CLI.
package config
