package commands

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mosaicnetworks/memorychain/src/crypto/keys"
)

func TestKeygen(t *testing.T) {
	dir, err := ioutil.TempDir("", "memorychain-keygen")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	privKeyFile = filepath.Join(dir, "keys", "priv_key")
	pubKeyFile = filepath.Join(dir, "keys", "key.pub")

	if err := keygen(nil, nil); err != nil {
		t.Fatal(err)
	}

	key, err := keys.NewSimpleKeyfile(privKeyFile).ReadKey()
	if err != nil {
		t.Fatal(err)
	}

	pub, err := ioutil.ReadFile(pubKeyFile)
	if err != nil {
		t.Fatal(err)
	}
	if string(pub) != keys.PublicKeyHex(&key.PublicKey) {
		t.Fatalf("public key file does not match the private key")
	}

	if err := keygen(nil, nil); err == nil {
		t.Fatalf("keygen should refuse to overwrite an existing key")
	}
}

func TestLoadConfig(t *testing.T) {
	dir, err := ioutil.TempDir("", "memorychain-config")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	toml := `
quorum = 0.6
assignment = "reputation"
proposal-timeout = "45s"
bootstrap = ["10.0.0.1:1337", "10.0.0.2:1337"]
`
	if err := ioutil.WriteFile(filepath.Join(dir, "memorychain.toml"), []byte(toml), 0600); err != nil {
		t.Fatal(err)
	}

	cmd := NewRunCmd()
	if err := cmd.Flags().Set("datadir", dir); err != nil {
		t.Fatal(err)
	}
	if err := cmd.Flags().Set("moniker", "alice"); err != nil {
		t.Fatal(err)
	}

	if err := loadConfig(cmd, nil); err != nil {
		t.Fatal(err)
	}

	if _config.DataDir != dir {
		t.Fatalf("DataDir should be %s, not %s", dir, _config.DataDir)
	}
	if _config.DatabaseDir != filepath.Join(dir, "badger_db") {
		t.Fatalf("DatabaseDir should follow DataDir, not %s", _config.DatabaseDir)
	}
	if _config.Moniker != "alice" {
		t.Fatalf("Moniker should be read from flags, not %s", _config.Moniker)
	}
	if _config.Quorum != 0.6 {
		t.Fatalf("Quorum should be read from the config file, not %v", _config.Quorum)
	}
	if _config.Assignment != "reputation" {
		t.Fatalf("Assignment should be read from the config file, not %s", _config.Assignment)
	}
	if _config.ProposalTimeout != 45*time.Second {
		t.Fatalf("ProposalTimeout should be 45s, not %v", _config.ProposalTimeout)
	}
	if len(_config.Bootstrap) != 2 {
		t.Fatalf("Bootstrap should hold 2 addresses, not %v", _config.Bootstrap)
	}
}
