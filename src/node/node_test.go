package node

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/mosaicnetworks/memorychain/src/chain"
	"github.com/mosaicnetworks/memorychain/src/common"
	"github.com/mosaicnetworks/memorychain/src/consensus"
	"github.com/mosaicnetworks/memorychain/src/crypto/keys"
	"github.com/mosaicnetworks/memorychain/src/net"
	"github.com/mosaicnetworks/memorychain/src/node/state"
	"github.com/mosaicnetworks/memorychain/src/peers"
	"github.com/mosaicnetworks/memorychain/src/task"
)

// initNodes starts n nodes over connected in-memory transports. The first
// node starts alone; the others join through it.
func initNodes(t *testing.T, n int) []*Node {
	return initNodesWith(t, n, nil)
}

func initNodesWith(t *testing.T, n int, tweak func(*Config)) []*Node {
	addrs := make([]string, n)
	transports := make([]*net.InmemTransport, n)
	for i := 0; i < n; i++ {
		addrs[i], transports[i] = net.NewInmemTransport("")
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i != j {
				transports[i].Connect(addrs[j], transports[j])
			}
		}
	}

	nodes := make([]*Node, n)
	for i := 0; i < n; i++ {
		key, err := keys.GenerateECDSAKey()
		if err != nil {
			t.Fatal(err)
		}
		validator := NewValidator(key, fmt.Sprintf("node%d", i))

		conf := TestConfig(t)
		conf.ProposalTimeout = 5 * time.Second
		conf.BoostTimeout = 0
		conf.AutoVote = true
		if i > 0 {
			conf.Bootstrap = []string{addrs[0]}
		}
		if tweak != nil {
			tweak(conf)
		}

		registry := peers.NewRegistry(validator.ID(),
			20,
			common.NewTestEntry(t, common.TestLogLevel))

		node, err := NewNode(conf,
			validator,
			registry,
			chain.NewInmemStore(),
			transports[i],
			nil)
		if err != nil {
			t.Fatal(err)
		}
		if err := node.Init(); err != nil {
			t.Fatal(err)
		}
		node.RunAsync()

		nodes[i] = node
	}

	return nodes
}

func shutdownNodes(nodes []*Node) {
	for _, n := range nodes {
		n.Shutdown()
	}
}

// waitFor polls cond until it holds or timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

// waitForNetwork waits until every node knows every other node as online.
func waitForNetwork(t *testing.T, nodes []*Node) {
	waitFor(t, 5*time.Second, "registries to converge", func() bool {
		for _, n := range nodes {
			if len(n.registry.Online()) != len(nodes) {
				return false
			}
			if n.GetState() != state.Gossiping {
				return false
			}
		}
		return true
	})
}

func waitForLength(t *testing.T, nodes []*Node, length int) {
	waitFor(t, 10*time.Second, fmt.Sprintf("chains of length %d", length), func() bool {
		for _, n := range nodes {
			if l, _ := n.core.Head(); l < length {
				return false
			}
		}
		return true
	})
}

func checkChains(t *testing.T, nodes []*Node) {
	reference := nodes[0].GetChain()
	for i, n := range nodes[1:] {
		c := n.GetChain()
		if len(c) != len(reference) {
			t.Fatalf("node %d has %d blocks, node 0 has %d", i+1, len(c), len(reference))
		}
		for j := range c {
			if c[j].Hash != reference[j].Hash {
				t.Fatalf("block %d of node %d differs from node 0", j, i+1)
			}
		}
	}
}

func TestJoin(t *testing.T) {
	nodes := initNodes(t, 3)
	defer shutdownNodes(nodes)

	waitForNetwork(t, nodes)

	for i, n := range nodes {
		for _, other := range nodes {
			p, ok := n.GetNode(other.ID())
			if !ok {
				t.Fatalf("node %d does not know %s", i, other.ID())
			}
			if p.PubKeyHex != other.validator.PublicKeyHex() {
				t.Fatalf("node %d has the wrong public key for %s", i, other.ID())
			}
		}
	}
}

func TestSubmitMemory(t *testing.T) {
	nodes := initNodes(t, 3)
	defer shutdownNodes(nodes)

	waitForNetwork(t, nodes)

	memory := chain.NewMemory("groceries", "milk, eggs", nil, []string{"seen"})
	id, err := nodes[1].SubmitMemory(memory)
	if err != nil {
		t.Fatal(err)
	}

	o, err := nodes[1].core.engine.Await(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if o.Block == nil {
		t.Fatalf("memory proposal should be finalized, not %s", o.Status)
	}

	waitForLength(t, nodes, 1)
	checkChains(t, nodes)

	b, err := nodes[2].GetBlock(0)
	if err != nil {
		t.Fatal(err)
	}
	if m := b.Payload().Memory; m == nil || m.Subject() != "groceries" {
		t.Fatalf("block 0 should hold the groceries memory")
	}
	if b.Body.ProposerNodeID != nodes[1].ID() {
		t.Fatalf("block 0 should be proposed by %s, not %s", nodes[1].ID(), b.Body.ProposerNodeID)
	}
}

func TestWithdrawAcrossNodes(t *testing.T) {
	nodes := initNodesWith(t, 3, func(c *Config) {
		c.AutoVote = false
	})
	defer shutdownNodes(nodes)

	waitForNetwork(t, nodes)

	id, err := nodes[1].SubmitMemory(chain.NewMemory("groceries", "milk", nil, nil))
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, 5*time.Second, "proposal to reach every node", func() bool {
		for _, n := range nodes {
			if !n.core.engine.IsOpen(id) {
				return false
			}
		}
		return true
	})

	// node 2 cannot sign for node 1
	if err := nodes[2].Withdraw(id, nodes[1].ID()); err != consensus.ErrInvalidSignature {
		t.Fatalf("withdrawal on behalf of another node should return ErrInvalidSignature, not %v", err)
	}
	if !nodes[0].core.engine.IsOpen(id) {
		t.Fatalf("proposal should still be open")
	}

	if err := nodes[1].Withdraw(id, ""); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 5*time.Second, "withdrawal to reach every node", func() bool {
		for _, n := range nodes {
			if o, ok := n.core.engine.Outcome(id); !ok || o.Status != consensus.Withdrawn {
				return false
			}
		}
		return true
	})
}

func TestTaskRewardAcrossNodes(t *testing.T) {
	nodes := initNodes(t, 3)
	defer shutdownNodes(nodes)

	waitForNetwork(t, nodes)

	taskID, err := nodes[0].SubmitTask("index the archive", chain.Hard)
	if err != nil {
		t.Fatal(err)
	}

	// creation, then difficulty, decided by the automatic votes
	waitFor(t, 10*time.Second, "task to become claimable", func() bool {
		for _, n := range nodes {
			tk, err := n.GetTask(taskID)
			if err != nil || tk.State != task.Claimable {
				return false
			}
		}
		return true
	})

	worker := nodes[2]

	if _, err := worker.ClaimTask(taskID, ""); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 10*time.Second, "claim", func() bool {
		tk, err := worker.GetTask(taskID)
		return err == nil && tk.State == task.InProgress
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	index, err := worker.SubmitSolution(ctx, taskID, "", "archive/index.db")
	if err != nil {
		t.Fatal(err)
	}
	if index != 0 {
		t.Fatalf("solution index should be 0, not %d", index)
	}

	// solution vote, then reward
	waitFor(t, 10*time.Second, "reward", func() bool {
		for _, n := range nodes {
			if n.GetBalance(worker.ID()) != 500 {
				return false
			}
		}
		return true
	})

	checkChains(t, nodes)

	tk, err := nodes[1].GetTask(taskID)
	if err != nil {
		t.Fatal(err)
	}
	if tk.Winner != worker.ID() || !tk.Rewarded {
		t.Fatalf("task should be won by %s and rewarded: %+v", worker.ID(), tk)
	}

	history := nodes[0].GetHistory(worker.ID())
	if len(history) != 1 {
		t.Fatalf("history of %s should hold 1 entry, not %d", worker.ID(), len(history))
	}
}

func TestCatchUp(t *testing.T) {
	nodes := initNodes(t, 2)
	defer shutdownNodes(nodes)

	waitForNetwork(t, nodes)

	for i := 0; i < 3; i++ {
		m := chain.NewMemory(fmt.Sprintf("note %d", i), "content", nil, nil)
		if _, err := nodes[0].SubmitMemory(m); err != nil {
			t.Fatal(err)
		}
		waitForLength(t, nodes, i+1)
	}

	// a late node joins and fetches the chain
	addr, trans := net.NewInmemTransport("")
	for _, n := range nodes {
		other := n.trans.(*net.InmemTransport)
		other.Connect(addr, trans)
		trans.Connect(other.LocalAddr(), other)
	}

	key, err := keys.GenerateECDSAKey()
	if err != nil {
		t.Fatal(err)
	}
	validator := NewValidator(key, "late")

	conf := TestConfig(t)
	conf.BoostTimeout = 0
	conf.Bootstrap = []string{nodes[0].trans.LocalAddr()}

	late, err := NewNode(conf,
		validator,
		peers.NewRegistry(validator.ID(), 20, common.NewTestEntry(t, common.TestLogLevel)),
		chain.NewInmemStore(),
		trans,
		nil)
	if err != nil {
		t.Fatal(err)
	}
	late.Init()
	late.RunAsync()
	defer late.Shutdown()

	all := append(nodes, late)
	waitForLength(t, all, 3)
	checkChains(t, all)
}
