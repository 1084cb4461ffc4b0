package commands

import (
	"github.com/mosaicnetworks/memorychain/src/memorychain"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// NewRunCmd returns the command that starts a memorychain node
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run node",
		PreRunE: loadConfig,
		RunE:    runMemoryChain,
	}
	AddRunFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runMemoryChain(cmd *cobra.Command, args []string) error {
	engine := memorychain.NewMemoryChain(_config)

	if err := engine.Init(); err != nil {
		_config.Logger().Error("Cannot initialize engine:", err)
		return err
	}

	engine.Run()

	return nil
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

// AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {

	cmd.Flags().String("datadir", _config.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", _config.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("log-file", _config.LogFile, "Also write logs to this file")
	cmd.Flags().String("moniker", _config.Moniker, "Optional name")

	// Network
	cmd.Flags().StringP("listen", "l", _config.BindAddr, "Listen IP:Port for memorychain node")
	cmd.Flags().StringP("advertise", "a", _config.AdvertiseAddr, "Advertise IP:Port for memorychain node")
	cmd.Flags().DurationP("timeout", "t", _config.TCPTimeout, "TCP Timeout")
	cmd.Flags().DurationP("join_timeout", "j", _config.JoinTimeout, "Join Timeout")
	cmd.Flags().Int("join-attempts", _config.JoinAttempts, "Rounds of join requests before starting alone")
	cmd.Flags().Int("max-pool", _config.MaxPool, "Connection pool size max")
	cmd.Flags().StringSlice("bootstrap", _config.Bootstrap, "Addresses of nodes to join")
	cmd.Flags().StringSlice("capabilities", _config.Capabilities, "Capabilities advertised to other nodes")

	// WebRTC
	cmd.Flags().Bool("webrtc", _config.WebRTC, "Use WebRTC transport")
	cmd.Flags().String("signal-addr", _config.SignalAddr, "IP:Port of WebRTC signaling server")
	cmd.Flags().String("signal-realm", _config.SignalRealm, "WebRTC signaling realm")
	cmd.Flags().Bool("signal-skip-verify", _config.SignalSkipVerify, "Accept any certificate from the signaling server")
	cmd.Flags().String("ice-addr", _config.ICEAddress, "URL of ICE server")
	cmd.Flags().String("ice-username", _config.ICEUsername, "ICE server username")
	cmd.Flags().String("ice-password", _config.ICEPassword, "ICE server password")

	// Service
	cmd.Flags().Bool("no-service", _config.NoService, "Disable HTTP service")
	cmd.Flags().StringP("service-listen", "s", _config.ServiceAddr, "Listen IP:Port for HTTP service")
	cmd.Flags().Float64("rate-limit", _config.RateLimit, "Requests per second accepted by the HTTP service, 0 to disable")
	cmd.Flags().Int("rate-burst", _config.RateBurst, "Burst of requests accepted by the HTTP service")

	// Store
	cmd.Flags().Bool("store", _config.Store, "Use badgerDB instead of in-mem DB")
	cmd.Flags().String("db", _config.DatabaseDir, "Dabatabase directory")

	// Node configuration
	cmd.Flags().Duration("heartbeat", _config.HeartbeatTimeout, "Time between heartbeats")
	cmd.Flags().Int("offline-threshold", _config.OfflineThreshold, "Missed heartbeats before a node is marked offline")
	cmd.Flags().Int("gossip-attempts", _config.GossipAttempts, "Broadcast attempts per peer")

	// Consensus
	cmd.Flags().Duration("proposal-timeout", _config.ProposalTimeout, "Time a proposal stays open for votes")
	cmd.Flags().Float64("quorum", _config.Quorum, "Fraction of voters to exceed")
	cmd.Flags().Bool("count-offline", _config.CountOffline, "Count offline nodes in the quorum")
	cmd.Flags().String("assignment", _config.Assignment, "round-robin, random, reputation")
	cmd.Flags().Float64("reputation-step", _config.ReputationStep, "Reputation change per decided vote")
	cmd.Flags().Bool("auto-vote", _config.AutoVote, "Vote on every proposal according to local validation")

	// Tasks
	cmd.Flags().Duration("boost-timeout", _config.BoostTimeout, "Time before the reward of an unclaimed task is boosted, 0 to disable")
	cmd.Flags().Float64("boost-multiplier", _config.BoostMultiplier, "Reward multiplier per boost")
	cmd.Flags().Int("max-boosts", _config.MaxBoosts, "Maximum number of boosts per task")
}

func loadConfig(cmd *cobra.Command, args []string) error {

	err := bindFlagsLoadViper(cmd)
	if err != nil {
		return err
	}

	// If --datadir was explicitely set, but not --db, this will update the
	// default database dir to be inside the new datadir
	_config.SetDataDir(_config.DataDir)

	logFields := logrus.Fields{
		"DataDir":          _config.DataDir,
		"BindAddr":         _config.BindAddr,
		"AdvertiseAddr":    _config.AdvertiseAddr,
		"ServiceAddr":      _config.ServiceAddr,
		"NoService":        _config.NoService,
		"MaxPool":          _config.MaxPool,
		"Store":            _config.Store,
		"LogLevel":         _config.LogLevel,
		"Moniker":          _config.Moniker,
		"Bootstrap":        _config.Bootstrap,
		"HeartbeatTimeout": _config.HeartbeatTimeout,
		"TCPTimeout":       _config.TCPTimeout,
		"JoinTimeout":      _config.JoinTimeout,
		"ProposalTimeout":  _config.ProposalTimeout,
		"Quorum":           _config.Quorum,
		"Assignment":       _config.Assignment,
		"AutoVote":         _config.AutoVote,
		"WebRTC":           _config.WebRTC,
	}

	if _config.Store {
		logFields["DatabaseDir"] = _config.DatabaseDir
	}

	if _config.WebRTC {
		logFields["SignalAddr"] = _config.SignalAddr
		logFields["SignalRealm"] = _config.SignalRealm
		logFields["ICEAddress"] = _config.ICEAddress
	}

	_config.Logger().WithFields(logFields).Debug("RUN")

	return nil
}

// Bind all flags and read the config into viper
func bindFlagsLoadViper(cmd *cobra.Command) error {
	// Register flags with viper. Include flags from this command and all other
	// persistent flags from the parent
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	// look for config file in [datadir]/memorychain.toml (.json, .yaml also work)
	viper.SetConfigName("memorychain")   // name of config file (without extension)
	viper.AddConfigPath(_config.DataDir) // search root directory

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		_config.Logger().Debugf("Using config file: %s", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		_config.Logger().Debugf("No config file found in: %s", _config.DataDir)
	} else {
		return err
	}

	// second unmarshal to read from config file
	return viper.Unmarshal(_config)
}
