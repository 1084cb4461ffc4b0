package peers

import "time"

// DefaultReputation is the reputation of a newly registered node.
const DefaultReputation = 0.5

// Status is the liveness of a node as seen by the local registry.
type Status string

const (
	Online  Status = "online"
	Offline Status = "offline"
	Unknown Status = "unknown"
)

// ActivityState is what a node reports it is busy with.
type ActivityState string

const (
	Idle             ActivityState = "idle"
	Busy             ActivityState = "busy"
	WorkingOnTask    ActivityState = "working_on_task"
	SolutionProposed ActivityState = "solution_proposed"
	TaskCompleted    ActivityState = "task_completed"
)

// Valid ...
func (s ActivityState) Valid() bool {
	switch s {
	case Idle, Busy, WorkingOnTask, SolutionProposed, TaskCompleted:
		return true
	}
	return false
}

// Activity is the self-reported status of a node, carried on heartbeats.
type Activity struct {
	State         ActivityState
	AIModel       string  `json:",omitempty"`
	Load          float64 `json:",omitempty"`
	CurrentTaskID string  `json:",omitempty"`
	UpdatedAt     time.Time
}

// Node is an entry of the registry.
type Node struct {
	ID               string
	Address          string
	PubKeyHex        string `json:",omitempty"`
	Capabilities     []string
	Reputation       float64
	Status           Status
	MissedHeartbeats int
	LastSeen         time.Time
	Activity         Activity
}

// NewNode creates an online node with the default reputation.
func NewNode(id, address string, capabilities []string, pubKeyHex string) *Node {
	return &Node{
		ID:           id,
		Address:      address,
		PubKeyHex:    pubKeyHex,
		Capabilities: capabilities,
		Reputation:   DefaultReputation,
		Status:       Online,
		Activity: Activity{
			State: Idle,
		},
	}
}

// Eligible reports whether the node can be assigned tasks and counted in
// online-only quorums.
func (n *Node) Eligible() bool {
	return n.Status == Online
}

func (n *Node) copy() Node {
	c := *n
	if n.Capabilities != nil {
		c.Capabilities = append([]string{}, n.Capabilities...)
	}
	return c
}

// ExcludeNode removes the node with the given id from a list of nodes, and
// returns its former position (-1 when absent).
func ExcludeNode(nodes []Node, id string) (int, []Node) {
	index := -1
	others := make([]Node, 0, len(nodes))
	for i, n := range nodes {
		if n.ID != id {
			others = append(others, n)
		} else {
			index = i
		}
	}
	return index, others
}
