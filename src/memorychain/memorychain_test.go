package memorychain

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/mosaicnetworks/memorychain/src/chain"
	"github.com/mosaicnetworks/memorychain/src/common"
	"github.com/mosaicnetworks/memorychain/src/config"
	"github.com/mosaicnetworks/memorychain/src/peers"
)

func newTestConfig(t *testing.T, dir string) *config.Config {
	conf := config.NewTestConfig(t, common.TestLogLevel)
	conf.SetDataDir(dir)
	conf.BindAddr = "127.0.0.1:0"
	conf.NoService = true
	conf.BoostTimeout = 0
	return conf
}

func TestInitStore(t *testing.T) {
	dir, err := ioutil.TempDir("", "memorychain")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	conf := newTestConfig(t, dir)
	conf.Store = true

	mc := NewMemoryChain(conf)
	if err := mc.Init(); err != nil {
		t.Fatal(err)
	}

	if _, ok := mc.Store.(*chain.BadgerStore); !ok {
		t.Fatalf("Store should be a BadgerStore, not %T", mc.Store)
	}
	if _, err := os.Stat(filepath.Join(dir, config.DefaultKeyfile)); err != nil {
		t.Fatalf("key should be written to the data directory: %v", err)
	}
	if mc.Service != nil {
		t.Fatalf("service should be disabled")
	}

	id := mc.Node.ID()
	mc.Node.Shutdown()

	// a restarted node reads the same key and remembers itself
	conf2 := newTestConfig(t, dir)
	conf2.Store = true

	mc2 := NewMemoryChain(conf2)
	if err := mc2.Init(); err != nil {
		t.Fatal(err)
	}
	defer mc2.Node.Shutdown()

	if mc2.Node.ID() != id {
		t.Fatalf("restarted node should keep id %s, not %s", id, mc2.Node.ID())
	}
	if _, ok := mc2.Registry.Get(id); !ok {
		t.Fatalf("registry should be reloaded from %s", peers.NewJSONRegistry(dir).Path())
	}
}

func TestInitSeeds(t *testing.T) {
	dir, err := ioutil.TempDir("", "memorychain")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	seeds := []peers.Seed{
		{Address: "127.0.0.1:1"},
	}
	if err := peers.WriteSeeds(peers.SeedsPath(dir), seeds); err != nil {
		t.Fatal(err)
	}

	conf := newTestConfig(t, dir)
	conf.Bootstrap = []string{"127.0.0.1:2"}
	conf.JoinAttempts = 1

	mc := NewMemoryChain(conf)
	if err := mc.Init(); err != nil {
		t.Fatal(err)
	}
	defer mc.Node.Shutdown()

	if len(mc.bootstrap) != 2 ||
		mc.bootstrap[0] != "127.0.0.1:2" ||
		mc.bootstrap[1] != "127.0.0.1:1" {
		t.Fatalf("bootstrap should hold the configured address then the seed: %v", mc.bootstrap)
	}
}

func TestInitInvalidQuorum(t *testing.T) {
	dir, err := ioutil.TempDir("", "memorychain")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	conf := newTestConfig(t, dir)
	conf.Quorum = 1

	if err := NewMemoryChain(conf).Init(); err == nil {
		t.Fatalf("a quorum of 1 should be refused")
	}
}

func TestInitInvalidBoostMultiplier(t *testing.T) {
	dir, err := ioutil.TempDir("", "memorychain")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	for _, m := range []float64{1, chain.MaxBoostMultiplier * 2} {
		conf := newTestConfig(t, dir)
		conf.BoostMultiplier = m

		if err := NewMemoryChain(conf).Init(); err == nil {
			t.Fatalf("a boost multiplier of %v should be refused", m)
		}
	}
}
