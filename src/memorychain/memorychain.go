package memorychain

import (
	"os"

	"github.com/mosaicnetworks/memorychain/src/chain"
	"github.com/mosaicnetworks/memorychain/src/config"
	"github.com/mosaicnetworks/memorychain/src/crypto/keys"
	"github.com/mosaicnetworks/memorychain/src/net"
	"github.com/mosaicnetworks/memorychain/src/net/signal/wamp"
	"github.com/mosaicnetworks/memorychain/src/node"
	"github.com/mosaicnetworks/memorychain/src/peers"
	"github.com/mosaicnetworks/memorychain/src/service"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// MemoryChain is a struct containing the key parts of a memorychain node.
type MemoryChain struct {
	Config    *config.Config
	Node      *node.Node
	Transport net.Transport
	Store     chain.Store
	Registry  *peers.Registry
	Service   *service.Service
	validator *node.Validator
	bootstrap []string
	logger    *logrus.Entry
}

// NewMemoryChain is a factory method to produce a MemoryChain instance. Init
// must be called before Run.
func NewMemoryChain(c *config.Config) *MemoryChain {
	engine := &MemoryChain{
		Config: c,
		logger: c.Logger(),
	}

	return engine
}

// Init initialises the node based on its configuration. It reads or creates
// the key, loads the registry and the seeds from the data directory, opens
// the store, creates the transport, the node, and the service.
func (m *MemoryChain) Init() error {
	m.logger.Debug("validateConfig")
	if err := m.validateConfig(); err != nil {
		m.logger.WithError(err).Error("memorychain.go:Init() validateConfig")
		return err
	}

	m.logger.Debug("initKey")
	if err := m.initKey(); err != nil {
		m.logger.WithError(err).Error("memorychain.go:Init() initKey")
		return err
	}

	m.logger.Debug("initRegistry")
	if err := m.initRegistry(); err != nil {
		m.logger.WithError(err).Error("memorychain.go:Init() initRegistry")
		return err
	}

	m.logger.Debug("initStore")
	if err := m.initStore(); err != nil {
		m.logger.WithError(err).Error("memorychain.go:Init() initStore")
		return err
	}

	m.logger.Debug("initTransport")
	if err := m.initTransport(); err != nil {
		m.logger.WithError(err).Error("memorychain.go:Init() initTransport")
		return err
	}

	m.logger.Debug("initNode")
	if err := m.initNode(); err != nil {
		m.logger.WithError(err).Error("memorychain.go:Init() initNode")
		return err
	}

	m.logger.Debug("initService")
	if err := m.initService(); err != nil {
		m.logger.WithError(err).Error("memorychain.go:Init() initService")
		return err
	}

	return nil
}

// Run starts the node and the service. It blocks until the node shuts down.
func (m *MemoryChain) Run() {
	if m.Service != nil {
		go m.Service.Serve()
	}

	m.Node.Run()
}

func (m *MemoryChain) validateConfig() error {
	if m.Config.DataDir == "" {
		return errors.New("no data directory")
	}

	if err := os.MkdirAll(m.Config.DataDir, 0700); err != nil {
		return errors.Wrap(err, "creating data directory")
	}

	if m.Config.Quorum < 0.5 || m.Config.Quorum >= 1 {
		return errors.Errorf("quorum must be in [0.5,1), not %v", m.Config.Quorum)
	}

	if m.Config.BoostMultiplier <= 1 || m.Config.BoostMultiplier > chain.MaxBoostMultiplier {
		return errors.Errorf("boost multiplier must be in (1,%v], not %v",
			chain.MaxBoostMultiplier, m.Config.BoostMultiplier)
	}

	if m.Config.WebRTC {
		m.logger.Debug("WebRTC enabled, listen and advertise addresses are ignored")
	}

	m.logger.WithFields(logrus.Fields{
		"datadir":          m.Config.DataDir,
		"store":            m.Config.Store,
		"db":               m.Config.DatabaseDir,
		"listen":           m.Config.BindAddr,
		"service-listen":   m.Config.ServiceAddr,
		"heartbeat":        m.Config.HeartbeatTimeout,
		"proposal-timeout": m.Config.ProposalTimeout,
		"quorum":           m.Config.Quorum,
		"assignment":       m.Config.Assignment,
		"webrtc":           m.Config.WebRTC,
		"moniker":          m.Config.Moniker,
	}).Debug("Config")

	return nil
}

func (m *MemoryChain) initKey() error {
	if m.Config.Key == nil {
		simpleKeyfile := keys.NewSimpleKeyfile(m.Config.Keyfile())

		key, created, err := simpleKeyfile.ReadOrGenerate()
		if err != nil {
			return errors.Wrap(err, "reading key")
		}

		if created {
			m.logger.WithField("keyfile", m.Config.Keyfile()).Info("Created a new key")
		}

		m.Config.Key = key
	}

	m.validator = node.NewValidator(m.Config.Key, m.Config.Moniker)

	m.logger.WithFields(logrus.Fields{
		"id":      m.validator.ID(),
		"pub_key": m.validator.PublicKeyHex(),
	}).Debug("Validator")

	return nil
}

// initRegistry loads the nodes remembered from previous runs and the seed
// list. Seed addresses are joined at startup together with the configured
// bootstrap addresses.
func (m *MemoryChain) initRegistry() error {
	m.Registry = peers.NewRegistry(m.validator.ID(),
		m.Config.OfflineThreshold,
		m.logger)

	store := peers.NewJSONRegistry(m.Config.DataDir)
	if err := m.Registry.WithStore(store); err != nil {
		return errors.Wrapf(err, "loading %s", store.Path())
	}

	seeds, err := peers.LoadSeeds(peers.SeedsPath(m.Config.DataDir))
	if err != nil {
		return errors.Wrap(err, "loading seeds")
	}

	m.bootstrap = append([]string{}, m.Config.Bootstrap...)
	for _, s := range seeds {
		m.bootstrap = append(m.bootstrap, s.Address)
	}

	m.logger.WithFields(logrus.Fields{
		"known":     m.Registry.Len(),
		"seeds":     len(seeds),
		"bootstrap": m.bootstrap,
	}).Debug("Registry")

	return nil
}

func (m *MemoryChain) initStore() error {
	if !m.Config.Store {
		m.Store = chain.NewInmemStore()

		m.logger.Debug("created new in-mem store")

		return nil
	}

	m.logger.WithField("path", m.Config.DatabaseDir).Debug("Attempting to load or create database")

	store, err := chain.NewBadgerStore(m.Config.DatabaseDir, m.logger)
	if err != nil {
		return errors.Wrap(err, "opening badger store")
	}

	m.logger.WithField("blocks", store.Len()).Debug("loaded badger store")

	m.Store = store

	return nil
}

func (m *MemoryChain) initTransport() error {
	if m.Config.WebRTC {
		signal, err := wamp.NewClient(
			m.Config.SignalAddr,
			m.Config.SignalRealm,
			m.validator.ID(),
			m.Config.CertFile(),
			m.Config.SignalSkipVerify,
			m.Config.TCPTimeout,
			m.logger.WithField("component", "webrtc-signal"),
		)
		if err != nil {
			return errors.Wrap(err, "connecting to signaling server")
		}

		webRTCTransport, err := net.NewWebRTCTransport(
			signal,
			m.Config.ICEServers(),
			m.Config.MaxPool,
			m.Config.TCPTimeout,
			m.Config.JoinTimeout,
			m.logger.WithField("component", "webrtc-transport"),
		)
		if err != nil {
			return err
		}

		m.Transport = webRTCTransport
	} else {
		tcpTransport, err := net.NewTCPTransport(
			m.Config.BindAddr,
			m.Config.AdvertiseAddr,
			m.Config.MaxPool,
			m.Config.TCPTimeout,
			m.Config.JoinTimeout,
			m.logger.WithField("component", "tcp-transport"),
		)
		if err != nil {
			return err
		}

		m.Transport = tcpTransport
	}

	return nil
}

// nodeConfig translates the configuration into the configuration of the node.
func (m *MemoryChain) nodeConfig() *node.Config {
	conf := node.NewConfig(m.Config.HeartbeatTimeout,
		m.Config.TCPTimeout,
		m.Config.JoinTimeout,
		m.Config.ProposalTimeout,
		m.logger.Logger)

	conf.JoinAttempts = m.Config.JoinAttempts
	conf.Quorum = m.Config.Quorum
	conf.CountOffline = m.Config.CountOffline
	conf.Assignment = m.Config.Assignment
	conf.ReputationStep = m.Config.ReputationStep
	conf.BoostTimeout = m.Config.BoostTimeout
	conf.BoostMultiplier = m.Config.BoostMultiplier
	conf.MaxBoosts = m.Config.MaxBoosts
	conf.OfflineThreshold = m.Config.OfflineThreshold
	conf.GossipAttempts = m.Config.GossipAttempts
	conf.AutoVote = m.Config.AutoVote
	conf.Bootstrap = m.bootstrap
	conf.Capabilities = m.Config.Capabilities

	return conf
}

func (m *MemoryChain) initNode() error {
	n, err := node.NewNode(
		m.nodeConfig(),
		m.validator,
		m.Registry,
		m.Store,
		m.Transport,
		m.Config.Proxy,
	)
	if err != nil {
		return errors.Wrap(err, "creating node")
	}

	if err := n.Init(); err != nil {
		return errors.Wrap(err, "failed to initialize node")
	}

	m.Node = n

	return nil
}

func (m *MemoryChain) initService() error {
	if !m.Config.NoService {
		m.Service = service.NewService(m.Config.ServiceAddr,
			m.Node,
			m.Config.RateLimit,
			m.Config.RateBurst,
			m.logger.WithField("component", "service"))
	}
	return nil
}
