package config

import (
	"crypto/ecdsa"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/mosaicnetworks/memorychain/src/common"
	"github.com/mosaicnetworks/memorychain/src/proxy"
	webrtc "github.com/pion/webrtc/v2"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// Default filenames.
const (
	// DefaultKeyfile is the default name of the file containing the node's
	// private key
	DefaultKeyfile = "priv_key"

	// DefaultBadgerFile is the default name of the folder containing the Badger
	// database
	DefaultBadgerFile = "badger_db"

	// DefaultCertFile is the default name of the file containing the TLS
	// certificate for connecting to the signaling server.
	DefaultCertFile = "cert.pem"
)

// Default configuration values.
const (
	DefaultLogLevel         = "debug"
	DefaultBindAddr         = "127.0.0.1:1337"
	DefaultServiceAddr      = "127.0.0.1:8000"
	DefaultRateLimit        = 50.0
	DefaultRateBurst        = 100
	DefaultHeartbeatTimeout = 1000 * time.Millisecond
	DefaultTCPTimeout       = 1000 * time.Millisecond
	DefaultJoinTimeout      = 10000 * time.Millisecond
	DefaultJoinAttempts     = 5
	DefaultProposalTimeout  = 30 * time.Second
	DefaultMaxPool          = 2
	DefaultStore            = false
	DefaultQuorum           = 0.5
	DefaultAssignment       = "round-robin"
	DefaultReputationStep   = 0.01
	DefaultBoostTimeout     = 10 * time.Minute
	DefaultBoostMultiplier  = 1.5
	DefaultMaxBoosts        = 3
	DefaultOfflineThreshold = 3
	DefaultGossipAttempts   = 5
	DefaultWebRTC           = false
	DefaultSignalAddr       = "127.0.0.1:2443"
	DefaultSignalRealm      = "main"
	DefaultSignalSkipVerify = false
	DefaultICEAddress       = "stun:stun.l.google.com:19302"
	DefaultICEUsername      = ""
	DefaultICEPassword      = ""
)

// Config contains all the configuration properties of a memorychain node.
type Config struct {
	// DataDir is the top-level directory containing the configuration and
	// data of the node
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// LogFile, when set, receives a copy of every log entry.
	LogFile string `mapstructure:"log-file"`

	// BindAddr is the local address:port where this node talks to other nodes.
	BindAddr string `mapstructure:"listen"`

	// AdvertiseAddr is used to change the address that we advertise to other
	// nodes.
	AdvertiseAddr string `mapstructure:"advertise"`

	// NoService disables the HTTP API service.
	NoService bool `mapstructure:"no-service"`

	// ServiceAddr is the address:port of the HTTP service.
	ServiceAddr string `mapstructure:"service-listen"`

	// RateLimit is the number of requests per second accepted by the HTTP
	// service, with bursts of up to RateBurst requests. Zero disables the
	// limit.
	RateLimit float64 `mapstructure:"rate-limit"`
	RateBurst int     `mapstructure:"rate-burst"`

	// HeartbeatTimeout is the period of the control timer. Every tick sends
	// heartbeats and checks the registry.
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat"`

	// TCPTimeout is the timeout of RPC connections. It also applies to WebRTC
	// connections.
	TCPTimeout time.Duration `mapstructure:"timeout"`

	// JoinTimeout is the timeout of Join Requests
	JoinTimeout time.Duration `mapstructure:"join_timeout"`

	// JoinAttempts is the number of rounds of join requests before the node
	// starts on its own.
	JoinAttempts int `mapstructure:"join-attempts"`

	// ProposalTimeout is how long a proposal stays open for votes.
	ProposalTimeout time.Duration `mapstructure:"proposal-timeout"`

	// MaxPool controls how many connections are pooled per target.
	MaxPool int `mapstructure:"max-pool"`

	// Store activates persistant storage.
	Store bool `mapstructure:"store"`

	// DatabaseDir is the directory containing database files.
	DatabaseDir string `mapstructure:"db"`

	// Moniker defines the friendly name of this node
	Moniker string `mapstructure:"moniker"`

	// Bootstrap lists the addresses of the nodes to join at startup, on top
	// of the ones found in seeds.yaml.
	Bootstrap []string `mapstructure:"bootstrap"`

	// Capabilities are opaque descriptors advertised to other nodes.
	Capabilities []string `mapstructure:"capabilities"`

	// Quorum is the fraction of voters that must agree, strictly exceeded.
	Quorum float64 `mapstructure:"quorum"`

	// CountOffline makes offline nodes count in the quorum denominator.
	CountOffline bool `mapstructure:"count-offline"`

	// Assignment names the strategy choosing the node responsible for a
	// proposal: round-robin, random, or reputation.
	Assignment string `mapstructure:"assignment"`

	// ReputationStep is the reputation gained or lost per decided vote.
	ReputationStep float64 `mapstructure:"reputation-step"`

	// BoostTimeout is how long a claimable task waits before its reward is
	// boosted. Zero disables boosts.
	BoostTimeout    time.Duration `mapstructure:"boost-timeout"`
	BoostMultiplier float64       `mapstructure:"boost-multiplier"`
	MaxBoosts       int           `mapstructure:"max-boosts"`

	// OfflineThreshold is the number of missed heartbeats after which a node
	// is marked offline.
	OfflineThreshold int `mapstructure:"offline-threshold"`

	// GossipAttempts is the number of times a broadcast is attempted per
	// peer.
	GossipAttempts int `mapstructure:"gossip-attempts"`

	// AutoVote makes the node vote on every proposal it hears of.
	AutoVote bool `mapstructure:"auto-vote"`

	// WebRTC determines whether to use a WebRTC transport. WebRTC enables
	// peers to connect directly even with multiple layers of NAT between them.
	// It relies on a signaling server whose address is specified by
	// SignalAddr. When WebRTC is enabled, BindAddr and AdvertiseAddr are
	// ignored.
	WebRTC bool `mapstructure:"webrtc"`

	// SignalAddr is the IP:PORT of the WebRTC signaling server. The connection
	// is over secured web-sockets, wss, and it possible to include a
	// self-signed certificated in a file called cert.pem in the datadir.
	SignalAddr string `mapstructure:"signal-addr"`

	// SignalRealm is an administrative domain within the WebRTC signaling
	// server. WebRTC signaling messages are only routed within a Realm.
	SignalRealm string `mapstructure:"signal-realm"`

	// SignalSkipVerify controls whether the signal client verifies the server's
	// certificate chain and host name. This should be used only for testing.
	SignalSkipVerify bool `mapstructure:"signal-skip-verify"`

	// ICE address is the URI of a server providing services for ICE, such as
	// STUN and TURN.
	ICEAddress string `mapstructure:"ice-addr"`

	// ICEUsername is the username that will be used to authenticate with the
	// ICE server defined in ICEAddress.
	ICEUsername string `mapstructure:"ice-username"`

	// ICEPassword is the password that will be used to authenticate with the
	// ICE server defined in ICEAddress.
	ICEPassword string `mapstructure:"ice-password"`

	// Proxy is the application proxy that receives committed blocks.
	Proxy proxy.AppProxy `mapstructure:"-"`

	// Key is the private key of the node.
	Key *ecdsa.PrivateKey `mapstructure:"-"`

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:          DefaultDataDir(),
		LogLevel:         DefaultLogLevel,
		BindAddr:         DefaultBindAddr,
		ServiceAddr:      DefaultServiceAddr,
		RateLimit:        DefaultRateLimit,
		RateBurst:        DefaultRateBurst,
		HeartbeatTimeout: DefaultHeartbeatTimeout,
		TCPTimeout:       DefaultTCPTimeout,
		JoinTimeout:      DefaultJoinTimeout,
		JoinAttempts:     DefaultJoinAttempts,
		ProposalTimeout:  DefaultProposalTimeout,
		MaxPool:          DefaultMaxPool,
		Store:            DefaultStore,
		DatabaseDir:      DefaultDatabaseDir(),
		Quorum:           DefaultQuorum,
		Assignment:       DefaultAssignment,
		ReputationStep:   DefaultReputationStep,
		BoostTimeout:     DefaultBoostTimeout,
		BoostMultiplier:  DefaultBoostMultiplier,
		MaxBoosts:        DefaultMaxBoosts,
		OfflineThreshold: DefaultOfflineThreshold,
		GossipAttempts:   DefaultGossipAttempts,
		WebRTC:           DefaultWebRTC,
		SignalAddr:       DefaultSignalAddr,
		SignalRealm:      DefaultSignalRealm,
		SignalSkipVerify: DefaultSignalSkipVerify,
		ICEAddress:       DefaultICEAddress,
		ICEUsername:      DefaultICEUsername,
		ICEPassword:      DefaultICEPassword,
	}

	return config
}

// NewTestConfig returns a config object with default values and a special
// logger for debugging tests.
func NewTestConfig(t testing.TB, level logrus.Level) *Config {
	config := NewDefaultConfig()
	config.logger = common.NewTestLogger(t, level)
	return config
}

// SetDataDir sets the top-level directory, and updates the database
// directory if it is currently set to the default value. If the database
// directory is not currently the default, it means the user has explicitely set
// it to something else, so avoid changing it again here.
func (c *Config) SetDataDir(dataDir string) {
	c.DataDir = dataDir
	if c.DatabaseDir == DefaultDatabaseDir() {
		c.DatabaseDir = filepath.Join(dataDir, DefaultBadgerFile)
	}
}

// Keyfile returns the full path of the file containing the private key.
func (c *Config) Keyfile() string {
	return filepath.Join(c.DataDir, DefaultKeyfile)
}

// CertFile returns the full path of the file containing the signal-server TLS
// certificate.
func (c *Config) CertFile() string {
	return filepath.Join(c.DataDir, DefaultCertFile)
}

// ICEServers returns a list of ICE servers used by the WebRTCStreamLayer to
// connect to peers. The list contains a single item which is based on the
// configuration passed through the config object.
func (c *Config) ICEServers() []webrtc.ICEServer {
	return []webrtc.ICEServer{
		{
			URLs:           []string{c.ICEAddress},
			Username:       c.ICEUsername,
			Credential:     c.ICEPassword,
			CredentialType: webrtc.ICECredentialTypePassword,
		},
	}
}

// Logger returns a formatted logrus Entry, with prefix set to "memorychain".
// When LogFile is set, entries of every level are also written to that file.
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)

		if c.LogFile != "" {
			pathMap := lfshook.PathMap{}
			for _, l := range logrus.AllLevels {
				pathMap[l] = c.LogFile
			}
			c.logger.Hooks.Add(lfshook.NewHook(
				pathMap,
				&logrus.TextFormatter{},
			))
		}
	}
	return c.logger.WithField("prefix", "memorychain")
}

// DefaultDatabaseDir returns the default path for the badger database files.
func DefaultDatabaseDir() string {
	return filepath.Join(DefaultDataDir(), DefaultBadgerFile)
}

// DefaultDataDir return the default directory name for top-level memorychain
// config based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".MemoryChain")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "MemoryChain")
		} else {
			return filepath.Join(home, ".memorychain")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
