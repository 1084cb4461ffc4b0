package peers

import (
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultMissedHeartbeats is the number of consecutive heartbeat periods a
// node may miss before it is marked offline.
const DefaultMissedHeartbeats = 3

// Registry keeps track of the nodes of the network. It is safe for concurrent
// use.
type Registry struct {
	sync.RWMutex

	selfID    string
	threshold int
	nodes     map[string]*Node

	// scores holds the reputation derived from the chain, including for
	// nodes that are not registered yet.
	scores map[string]float64

	store *JSONRegistry
	now   func() time.Time

	logger *logrus.Entry
}

// NewRegistry creates an empty registry. selfID is never marked offline by
// Tick. A threshold lower than 1 selects DefaultMissedHeartbeats.
func NewRegistry(selfID string, threshold int, logger *logrus.Entry) *Registry {
	if threshold < 1 {
		threshold = DefaultMissedHeartbeats
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}
	return &Registry{
		selfID:    selfID,
		threshold: threshold,
		nodes:     make(map[string]*Node),
		scores:    make(map[string]float64),
		now:       time.Now,
		logger:    logger,
	}
}

// WithStore attaches a JSON file store and loads the nodes it already holds.
// Loaded nodes start in the unknown status until they are heard from again,
// except for self.
func (r *Registry) WithStore(store *JSONRegistry) error {
	nodes, err := store.Nodes()
	if err != nil {
		return err
	}

	r.Lock()
	defer r.Unlock()

	r.store = store
	for _, n := range nodes {
		nc := n
		if nc.ID != r.selfID {
			nc.Status = Unknown
		}
		nc.MissedHeartbeats = 0
		if rep, ok := r.scores[nc.ID]; ok {
			nc.Reputation = rep
		}
		r.nodes[nc.ID] = &nc
	}
	return nil
}

// SelfID ...
func (r *Registry) SelfID() string {
	return r.selfID
}

// Register adds a node or refreshes an existing one. Registering again updates
// the address, capabilities and public key, keeps the reputation, and brings
// the node back online.
func (r *Registry) Register(id, address string, capabilities []string, pubKeyHex string) Node {
	r.Lock()
	defer r.Unlock()

	n, ok := r.nodes[id]
	if !ok {
		n = NewNode(id, address, capabilities, pubKeyHex)
		if rep, ok := r.scores[id]; ok {
			n.Reputation = rep
		}
		r.nodes[id] = n
		r.logger.WithFields(logrus.Fields{
			"node":    id,
			"address": address,
		}).Info("Registered new node")
	} else {
		if address != "" {
			n.Address = address
		}
		if capabilities != nil {
			n.Capabilities = capabilities
		}
		if pubKeyHex != "" {
			n.PubKeyHex = pubKeyHex
		}
		if n.Status != Online {
			r.logger.WithField("node", id).Info("Node back online")
		}
		n.Status = Online
	}

	n.MissedHeartbeats = 0
	n.LastSeen = r.now()

	return n.copy()
}

// Learn records a node heard of through another node. Unknown nodes are added
// with the unknown status; nothing changes for known nodes except a missing
// address or public key.
func (r *Registry) Learn(node Node) {
	if node.ID == "" {
		return
	}

	r.Lock()
	defer r.Unlock()

	if n, ok := r.nodes[node.ID]; ok {
		if n.Address == "" {
			n.Address = node.Address
		}
		if n.PubKeyHex == "" {
			n.PubKeyHex = node.PubKeyHex
		}
		return
	}

	n := NewNode(node.ID, node.Address, node.Capabilities, node.PubKeyHex)
	n.Status = Unknown
	if rep, ok := r.scores[node.ID]; ok {
		n.Reputation = rep
	}
	r.nodes[node.ID] = n
}

// Heartbeat notes that a message was received from the node. Unknown-status
// nodes come online; offline nodes have their counter reset but stay offline
// and get ErrNodeOffline.
func (r *Registry) Heartbeat(id string) error {
	r.Lock()
	defer r.Unlock()

	n, ok := r.nodes[id]
	if !ok {
		return ErrUnknownNode
	}

	n.MissedHeartbeats = 0
	n.LastSeen = r.now()

	switch n.Status {
	case Offline:
		return ErrNodeOffline
	case Unknown:
		n.Status = Online
	}

	return nil
}

// MarkOffline flags the node as offline. It stays in the registry.
func (r *Registry) MarkOffline(id string) error {
	r.Lock()
	defer r.Unlock()

	n, ok := r.nodes[id]
	if !ok {
		return ErrUnknownNode
	}
	r.markOffline(n)
	return nil
}

func (r *Registry) markOffline(n *Node) {
	if n.Status == Offline {
		return
	}
	n.Status = Offline
	r.logger.WithFields(logrus.Fields{
		"node":   n.ID,
		"missed": n.MissedHeartbeats,
	}).Info("Node marked offline")
}

// Tick is called once per heartbeat period. Every node other than self misses
// one more heartbeat; nodes reaching the threshold go offline. It returns the
// ids of the nodes that went offline.
func (r *Registry) Tick() []string {
	r.Lock()
	defer r.Unlock()

	offline := []string{}
	for _, n := range r.nodes {
		if n.ID == r.selfID || n.Status == Offline {
			continue
		}
		n.MissedHeartbeats++
		if n.MissedHeartbeats >= r.threshold {
			r.markOffline(n)
			offline = append(offline, n.ID)
		}
	}
	sort.Strings(offline)
	return offline
}

// Miss counts a failed delivery to the node like a missed heartbeat. It
// reports whether the node went offline.
func (r *Registry) Miss(id string) bool {
	r.Lock()
	defer r.Unlock()

	n, ok := r.nodes[id]
	if !ok || n.ID == r.selfID || n.Status == Offline {
		return false
	}
	n.MissedHeartbeats++
	if n.MissedHeartbeats >= r.threshold {
		r.markOffline(n)
		return true
	}
	return false
}

// AdjustReputation adds delta to the reputation of the node, clamped to
// [0, 1], and returns the new value. The reputation of a node that is not
// registered yet is kept until it registers or is learned.
func (r *Registry) AdjustReputation(id string, delta float64) float64 {
	r.Lock()
	defer r.Unlock()

	rep, ok := r.scores[id]
	if !ok {
		rep = DefaultReputation
	}
	if n, ok := r.nodes[id]; ok {
		rep = n.Reputation
	}

	rep += delta
	if rep < 0 {
		rep = 0
	}
	if rep > 1 {
		rep = 1
	}

	r.scores[id] = rep
	if n, ok := r.nodes[id]; ok {
		n.Reputation = rep
	}

	return rep
}

// ResetReputation brings every node back to DefaultReputation, before the
// reputation is derived again from the chain.
func (r *Registry) ResetReputation() {
	r.Lock()
	defer r.Unlock()

	r.scores = make(map[string]float64)
	for _, n := range r.nodes {
		n.Reputation = DefaultReputation
	}
}

// UpdateActivity stores the activity reported by the node.
func (r *Registry) UpdateActivity(id string, activity Activity) error {
	if !activity.State.Valid() {
		return ErrInvalidActivity
	}

	r.Lock()
	defer r.Unlock()

	n, ok := r.nodes[id]
	if !ok {
		return ErrUnknownNode
	}

	if activity.UpdatedAt.IsZero() {
		activity.UpdatedAt = r.now()
	}
	n.Activity = activity

	return nil
}

// Get returns a copy of the node.
func (r *Registry) Get(id string) (Node, bool) {
	r.RLock()
	defer r.RUnlock()

	n, ok := r.nodes[id]
	if !ok {
		return Node{}, false
	}
	return n.copy(), true
}

// Nodes returns copies of every node, sorted by id.
func (r *Registry) Nodes() []Node {
	r.RLock()
	defer r.RUnlock()

	res := make([]Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		res = append(res, n.copy())
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// Online returns the online nodes sorted by id.
func (r *Registry) Online() []Node {
	r.RLock()
	defer r.RUnlock()

	res := []Node{}
	for _, n := range r.nodes {
		if n.Eligible() {
			res = append(res, n.copy())
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// Len returns the number of registered nodes.
func (r *Registry) Len() int {
	r.RLock()
	defer r.RUnlock()
	return len(r.nodes)
}

// Known implements the consensus Electorate interface.
func (r *Registry) Known(id string) bool {
	r.RLock()
	defer r.RUnlock()
	_, ok := r.nodes[id]
	return ok
}

// Voters implements the consensus Electorate interface. It returns the ids of
// the nodes that count in a quorum, sorted.
func (r *Registry) Voters(onlineOnly bool) []string {
	r.RLock()
	defer r.RUnlock()

	res := []string{}
	for _, n := range r.nodes {
		if onlineOnly && !n.Eligible() {
			continue
		}
		res = append(res, n.ID)
	}
	sort.Strings(res)
	return res
}

// Candidates implements the consensus Electorate interface. It returns the
// nodes eligible for assignment.
func (r *Registry) Candidates() []Node {
	return r.Online()
}

// PubKey implements the consensus Electorate interface.
func (r *Registry) PubKey(id string) string {
	r.RLock()
	defer r.RUnlock()
	if n, ok := r.nodes[id]; ok {
		return n.PubKeyHex
	}
	return ""
}

// Save writes the registry to its JSON store, if any.
func (r *Registry) Save() error {
	if r.store == nil {
		return nil
	}
	return r.store.Write(r.Nodes())
}
