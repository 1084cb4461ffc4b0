package node

import (
	"testing"
	"time"

	"github.com/mosaicnetworks/memorychain/src/common"
	"github.com/mosaicnetworks/memorychain/src/consensus"
	"github.com/mosaicnetworks/memorychain/src/task"
	"github.com/sirupsen/logrus"
)

// Config contains the configuration of a Node
type Config struct {
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat"`
	TCPTimeout       time.Duration `mapstructure:"timeout"`
	JoinTimeout      time.Duration `mapstructure:"join_timeout"`
	JoinAttempts     int           `mapstructure:"join_attempts"`
	ProposalTimeout  time.Duration `mapstructure:"proposal_timeout"`

	// Quorum is the fraction of voters that must agree, strictly exceeded.
	Quorum float64 `mapstructure:"quorum"`
	// CountOffline makes offline nodes count in the quorum denominator.
	CountOffline   bool    `mapstructure:"count_offline"`
	Assignment     string  `mapstructure:"assignment"`
	ReputationStep float64 `mapstructure:"reputation_step"`

	BoostTimeout    time.Duration `mapstructure:"boost_timeout"`
	BoostMultiplier float64       `mapstructure:"boost_multiplier"`
	MaxBoosts       int           `mapstructure:"max_boosts"`

	OfflineThreshold int `mapstructure:"offline_threshold"`
	GossipAttempts   int `mapstructure:"gossip_attempts"`

	// AutoVote makes the node vote on every proposal it hears of, according to
	// its own validation. Reward and boost proposals are always voted on.
	AutoVote bool `mapstructure:"auto_vote"`

	Bootstrap    []string `mapstructure:"bootstrap"`
	Capabilities []string `mapstructure:"capabilities"`

	// Assigner overrides the strategy named by Assignment.
	Assigner consensus.AssignmentStrategy `mapstructure:"-"`

	Logger *logrus.Logger `mapstructure:"-"`
}

// NewConfig creates a Config with the timeouts given and default values
// elsewhere.
func NewConfig(heartbeat time.Duration,
	timeout time.Duration,
	joinTimeout time.Duration,
	proposalTimeout time.Duration,
	logger *logrus.Logger) *Config {

	conf := DefaultConfig()
	conf.HeartbeatTimeout = heartbeat
	conf.TCPTimeout = timeout
	conf.JoinTimeout = joinTimeout
	conf.ProposalTimeout = proposalTimeout
	conf.Logger = logger

	return conf
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	logger := logrus.New()
	logger.Level = logrus.DebugLevel

	return &Config{
		HeartbeatTimeout: 1000 * time.Millisecond,
		TCPTimeout:       1000 * time.Millisecond,
		JoinTimeout:      10000 * time.Millisecond,
		JoinAttempts:     5,
		ProposalTimeout:  30 * time.Second,
		Quorum:           consensus.DefaultThreshold,
		Assignment:       "round-robin",
		ReputationStep:   0.01,
		BoostTimeout:     10 * time.Minute,
		BoostMultiplier:  1.5,
		MaxBoosts:        task.DefaultMaxBoosts,
		OfflineThreshold: 3,
		GossipAttempts:   5,
		Logger:           logger,
	}
}

// TestConfig returns a Config with short timeouts, logging through t.
func TestConfig(t testing.TB) *Config {
	config := DefaultConfig()
	config.HeartbeatTimeout = 50 * time.Millisecond
	config.ProposalTimeout = 2 * time.Second
	config.Logger = common.NewTestLogger(t, common.TestLogLevel)
	return config
}

// QuorumPolicy returns the quorum policy described by the configuration.
func (c *Config) QuorumPolicy() consensus.QuorumPolicy {
	p := consensus.DefaultQuorumPolicy()
	if c.Quorum != 0 {
		p.Threshold = c.Quorum
	}
	if c.CountOffline {
		p.Denominator = consensus.AllRegistered
	}
	return p
}

// AssignmentStrategy returns Assigner when set, or the strategy named by
// Assignment.
func (c *Config) AssignmentStrategy() consensus.AssignmentStrategy {
	if c.Assigner != nil {
		return c.Assigner
	}
	return consensus.NewAssignmentStrategy(c.Assignment)
}

// EngineConfig builds the configuration of the consensus engine.
func (c *Config) EngineConfig(selfID string) consensus.Config {
	ec := consensus.DefaultConfig(selfID)
	if c.ProposalTimeout > 0 {
		ec.ProposalTimeout = c.ProposalTimeout
	}
	ec.Policy = c.QuorumPolicy()
	ec.Assignment = c.AssignmentStrategy()
	return ec
}
