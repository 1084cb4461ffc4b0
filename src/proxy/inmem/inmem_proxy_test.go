package inmem

import (
	"reflect"
	"testing"
	"time"

	"github.com/mosaicnetworks/memorychain/src/chain"
	"github.com/mosaicnetworks/memorychain/src/common"
	"github.com/mosaicnetworks/memorychain/src/node/state"
	"github.com/sirupsen/logrus"
)

type TestProxy struct {
	*InmemProxy
	committed []int
	resets    int
	state     state.State
	logger    *logrus.Entry
}

func (p *TestProxy) CommitHandler(block chain.Block) error {
	p.logger.Debug("CommitBlock")
	p.committed = append(p.committed, block.Index())
	return nil
}

func (p *TestProxy) ResetHandler(blocks []*chain.Block) error {
	p.logger.Debug("Reset")
	p.resets++
	p.committed = p.committed[:0]
	for _, b := range blocks {
		p.committed = append(p.committed, b.Index())
	}
	return nil
}

func (p *TestProxy) StateChangeHandler(s state.State) error {
	p.state = s
	return nil
}

func NewTestProxy(t *testing.T) *TestProxy {
	logger := common.NewTestEntry(t, common.TestLogLevel)

	proxy := &TestProxy{
		logger: logger,
	}

	proxy.InmemProxy = NewInmemProxy(proxy, logger)

	return proxy
}

func TestInmemProxyAppSide(t *testing.T) {
	proxy := NewTestProxy(t)

	if err := proxy.SubmitMemory("subject", "the test memory", nil); err != nil {
		t.Fatal(err)
	}

	select {
	case p := <-proxy.SubmitCh():
		if p.Type != chain.MemoryPayload || p.Memory.Content != "the test memory" {
			t.Fatalf("payload mismatch: %#v", p)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("timeout")
	}

	// Invalid payloads are refused before reaching the node.
	if err := proxy.SubmitMemory("subject", "", nil); err == nil {
		t.Fatal("empty memory should be refused")
	}
}

func TestInmemProxyNodeSide(t *testing.T) {
	proxy := NewTestProxy(t)

	var blocks []*chain.Block
	prev := chain.GenesisHash
	for i := 0; i < 3; i++ {
		m := chain.NewMemory("s", "c", nil, nil)
		b := chain.NewBlock(i, int64(i), chain.NewMemoryPayload(m), prev, "N1", "N1")
		if err := b.Seal(); err != nil {
			t.Fatal(err)
		}
		prev = b.Hash
		blocks = append(blocks, b)
	}

	for _, b := range blocks[:2] {
		if err := proxy.CommitBlock(*b); err != nil {
			t.Fatal(err)
		}
	}

	if !reflect.DeepEqual(proxy.committed, []int{0, 1}) {
		t.Fatalf("committed should be [0 1], not %v", proxy.committed)
	}

	if err := proxy.Reset(blocks); err != nil {
		t.Fatal(err)
	}

	if proxy.resets != 1 || !reflect.DeepEqual(proxy.committed, []int{0, 1, 2}) {
		t.Fatalf("reset should replay 3 blocks, got %v", proxy.committed)
	}

	if err := proxy.OnStateChanged(state.Gossiping); err != nil {
		t.Fatal(err)
	}
	if proxy.state != state.Gossiping {
		t.Fatalf("state should be Gossiping, not %v", proxy.state)
	}
}
