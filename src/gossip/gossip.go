package gossip

import (
	"math/rand"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/mosaicnetworks/memorychain/src/peers"
	"github.com/sirupsen/logrus"
)

// PeerSource provides the nodes to broadcast to.
type PeerSource interface {
	Online() []peers.Node
}

// SendFunc delivers one message to one peer.
type SendFunc func(peer peers.Node) error

// Config tunes delivery and deduplication.
type Config struct {
	// MaxAttempts is the number of delivery attempts per peer.
	MaxAttempts int
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
	// MaxInflight bounds the number of concurrent deliveries.
	MaxInflight int
	// DedupCapacity is the number of ids each bloom filter holds before
	// rotation.
	DedupCapacity uint
	FalsePositive float64
}

// DefaultConfig ...
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   4,
		MinBackoff:    100 * time.Millisecond,
		MaxBackoff:    2 * time.Second,
		MaxInflight:   64,
		DedupCapacity: 10000,
		FalsePositive: 0.001,
	}
}

// Gossiper broadcasts messages to the online peers of a node.
type Gossiper struct {
	selfID string
	peers  PeerSource
	conf   Config

	seen *dedup

	unreachableLock sync.RWMutex
	unreachable     func(id string)

	sem        chan struct{}
	wg         sync.WaitGroup
	shutdownCh chan struct{}
	shutdown   sync.Once

	rand     *rand.Rand
	randLock sync.Mutex

	logger *logrus.Entry
}

// NewGossiper ...
func NewGossiper(selfID string, source PeerSource, conf Config, logger *logrus.Entry) *Gossiper {
	def := DefaultConfig()
	if conf.MaxAttempts < 1 {
		conf.MaxAttempts = def.MaxAttempts
	}
	if conf.MinBackoff <= 0 {
		conf.MinBackoff = def.MinBackoff
	}
	if conf.MaxBackoff < conf.MinBackoff {
		conf.MaxBackoff = conf.MinBackoff
	}
	if conf.MaxInflight < 1 {
		conf.MaxInflight = def.MaxInflight
	}
	if conf.DedupCapacity == 0 {
		conf.DedupCapacity = def.DedupCapacity
	}
	if conf.FalsePositive <= 0 {
		conf.FalsePositive = def.FalsePositive
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}

	return &Gossiper{
		selfID:     selfID,
		peers:      source,
		conf:       conf,
		seen:       newDedup(conf.DedupCapacity, conf.FalsePositive),
		sem:        make(chan struct{}, conf.MaxInflight),
		shutdownCh: make(chan struct{}),
		rand:       rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:     logger,
	}
}

// OnUnreachable sets the hook called with the id of a peer that failed every
// delivery attempt.
func (g *Gossiper) OnUnreachable(f func(id string)) {
	g.unreachableLock.Lock()
	defer g.unreachableLock.Unlock()
	g.unreachable = f
}

// Seen reports whether the message id was already seen, and remembers it.
// Relays should only forward messages for which Seen returns false.
func (g *Gossiper) Seen(id string) bool {
	return g.seen.testAndAdd(id)
}

// Known reports whether the message id was seen, without remembering it.
func (g *Gossiper) Known(id string) bool {
	return g.seen.test(id)
}

// Broadcast sends the message identified by id to every online peer except
// self, in the background. It returns the number of peers targeted. The id is
// remembered so the message is not relayed back.
func (g *Gossiper) Broadcast(id string, send SendFunc) int {
	g.seen.testAndAdd(id)

	targets := 0
	for _, p := range g.peers.Online() {
		if p.ID == g.selfID {
			continue
		}
		targets++
		peer := p
		g.wg.Add(1)
		go g.deliver(id, peer, send)
	}
	return targets
}

// SendTo delivers a message to a single peer in the background, with the same
// retry policy as Broadcast.
func (g *Gossiper) SendTo(id string, peer peers.Node, send SendFunc) {
	g.wg.Add(1)
	go g.deliver(id, peer, send)
}

func (g *Gossiper) deliver(id string, peer peers.Node, send SendFunc) {
	defer g.wg.Done()

	select {
	case g.sem <- struct{}{}:
	case <-g.shutdownCh:
		return
	}
	defer func() { <-g.sem }()

	b := &backoff.Backoff{
		Min:    g.conf.MinBackoff,
		Max:    g.conf.MaxBackoff,
		Factor: 2,
		Jitter: true,
	}

	var err error
	for attempt := 1; attempt <= g.conf.MaxAttempts; attempt++ {
		if err = send(peer); err == nil {
			return
		}

		if attempt == g.conf.MaxAttempts {
			break
		}

		d := b.Duration()
		g.logger.WithFields(logrus.Fields{
			"message": id,
			"peer":    peer.ID,
			"attempt": attempt,
			"retry":   d,
			"error":   err,
		}).Debug("Delivery failed")

		select {
		case <-time.After(d):
		case <-g.shutdownCh:
			return
		}
	}

	g.logger.WithFields(logrus.Fields{
		"message": id,
		"peer":    peer.ID,
		"error":   err,
	}).Warn("Peer unreachable")

	g.unreachableLock.RLock()
	hook := g.unreachable
	g.unreachableLock.RUnlock()
	if hook != nil {
		hook(peer.ID)
	}
}

// RandomPeer picks an online peer other than self, for anti-entropy.
func (g *Gossiper) RandomPeer() (peers.Node, bool) {
	_, others := peers.ExcludeNode(g.peers.Online(), g.selfID)
	if len(others) == 0 {
		return peers.Node{}, false
	}
	g.randLock.Lock()
	i := g.rand.Intn(len(others))
	g.randLock.Unlock()
	return others[i], true
}

// Wait blocks until every pending delivery is done.
func (g *Gossiper) Wait() {
	g.wg.Wait()
}

// Shutdown abandons pending retries and waits for running deliveries.
func (g *Gossiper) Shutdown() {
	g.shutdown.Do(func() {
		close(g.shutdownCh)
	})
	g.wg.Wait()
}
