package gossip

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mosaicnetworks/memorychain/src/common"
	"github.com/mosaicnetworks/memorychain/src/peers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticPeers []peers.Node

func (s staticPeers) Online() []peers.Node {
	return s
}

func nodes(ids ...string) staticPeers {
	res := staticPeers{}
	for _, id := range ids {
		res = append(res, peers.Node{ID: id, Status: peers.Online})
	}
	return res
}

func testConfig() Config {
	c := DefaultConfig()
	c.MinBackoff = time.Millisecond
	c.MaxBackoff = 5 * time.Millisecond
	c.MaxAttempts = 3
	return c
}

func TestBroadcastSkipsSelf(t *testing.T) {
	g := NewGossiper("A", nodes("A", "B", "C"), testConfig(), common.NewTestEntry(t, common.TestLogLevel))

	var l sync.Mutex
	got := map[string]int{}

	n := g.Broadcast("m1", func(p peers.Node) error {
		l.Lock()
		defer l.Unlock()
		got[p.ID]++
		return nil
	})
	g.Wait()

	assert.Equal(t, 2, n)
	assert.Equal(t, map[string]int{"B": 1, "C": 1}, got)
	assert.True(t, g.Known("m1"))
}

func TestBroadcastRetriesThenReportsUnreachable(t *testing.T) {
	g := NewGossiper("A", nodes("A", "B", "C"), testConfig(), common.NewTestEntry(t, common.TestLogLevel))

	var l sync.Mutex
	attempts := map[string]int{}
	unreachable := []string{}

	g.OnUnreachable(func(id string) {
		l.Lock()
		defer l.Unlock()
		unreachable = append(unreachable, id)
	})

	g.Broadcast("m1", func(p peers.Node) error {
		l.Lock()
		defer l.Unlock()
		attempts[p.ID]++
		switch p.ID {
		case "B":
			return errors.New("connection refused")
		case "C":
			if attempts[p.ID] < 2 {
				return errors.New("timeout")
			}
		}
		return nil
	})
	g.Wait()

	assert.Equal(t, 3, attempts["B"])
	assert.Equal(t, 2, attempts["C"])
	assert.Equal(t, []string{"B"}, unreachable)
}

func TestSeen(t *testing.T) {
	g := NewGossiper("A", nodes("A"), testConfig(), nil)

	assert.False(t, g.Seen("x"))
	assert.True(t, g.Seen("x"))
	assert.False(t, g.Seen("y"))
}

func TestDedupRotation(t *testing.T) {
	d := newDedup(10, 0.0001)

	for i := 0; i < 10; i++ {
		require.False(t, d.testAndAdd(fmt.Sprintf("id-%d", i)))
	}
	// the first generation moved to the previous filter and is still known
	assert.True(t, d.test("id-0"))

	for i := 10; i < 20; i++ {
		d.testAndAdd(fmt.Sprintf("id-%d", i))
	}
	// after a second rotation the first generation is forgotten
	assert.True(t, d.test("id-15"))
	assert.False(t, d.test("id-0"))
}

func TestRandomPeer(t *testing.T) {
	g := NewGossiper("A", nodes("A"), testConfig(), nil)
	_, ok := g.RandomPeer()
	assert.False(t, ok)

	g = NewGossiper("A", nodes("A", "B"), testConfig(), nil)
	for i := 0; i < 10; i++ {
		p, ok := g.RandomPeer()
		require.True(t, ok)
		assert.Equal(t, "B", p.ID)
	}
}

func TestShutdownAbandonsRetries(t *testing.T) {
	c := testConfig()
	c.MinBackoff = time.Hour
	c.MaxBackoff = time.Hour
	g := NewGossiper("A", nodes("A", "B"), c, nil)

	g.Broadcast("m", func(peers.Node) error { return errors.New("down") })

	done := make(chan struct{})
	go func() {
		g.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Shutdown should not wait for the backoff")
	}
}
