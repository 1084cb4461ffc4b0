package commands

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/mosaicnetworks/memorychain/src/config"
	"github.com/mosaicnetworks/memorychain/src/crypto/keys"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	privKeyFile = filepath.Join(_config.DataDir, config.DefaultKeyfile)
	pubKeyFile  = filepath.Join(_config.DataDir, "key.pub")
)

// NewKeygenCmd returns the command that creates the key of a node. The node
// ID is derived from the public key.
func NewKeygenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Create the key pair of a node",
		RunE:  keygen,
	}

	cmd.Flags().StringVar(&privKeyFile, "priv", privKeyFile, "Output file of the private key")
	cmd.Flags().StringVar(&pubKeyFile, "pub", pubKeyFile, "Output file of the public key")

	return cmd
}

func keygen(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(privKeyFile); err == nil {
		return errors.Errorf("refusing to overwrite %s", privKeyFile)
	}

	key, err := keys.GenerateECDSAKey()
	if err != nil {
		return errors.Wrap(err, "generating key")
	}

	for _, dir := range []string{filepath.Dir(privKeyFile), filepath.Dir(pubKeyFile)} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return errors.Wrapf(err, "creating %s", dir)
		}
	}

	if err := keys.NewSimpleKeyfile(privKeyFile).WriteKey(key); err != nil {
		return errors.Wrap(err, "writing private key")
	}

	pub := keys.PublicKeyHex(&key.PublicKey)
	if err := ioutil.WriteFile(pubKeyFile, []byte(pub), 0600); err != nil {
		return errors.Wrap(err, "writing public key")
	}

	fmt.Printf("private key: %s\n", privKeyFile)
	fmt.Printf("public key:  %s\n", pubKeyFile)
	fmt.Printf("node id:     %s\n", keys.PublicKeyID(&key.PublicKey))

	return nil
}
