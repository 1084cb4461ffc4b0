package keys

import (
	"crypto/ecdsa"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// KeyReaderWriter loads and stores the private key of a node.
type KeyReaderWriter interface {
	ReadKey() (*ecdsa.PrivateKey, error)
	WriteKey(*ecdsa.PrivateKey) error
}

// SimpleKeyfile keeps the key as a plain hex string in a file readable by its
// owner only.
type SimpleKeyfile struct {
	mu   sync.Mutex
	path string
}

// NewSimpleKeyfile returns a SimpleKeyfile backed by the given path.
func NewSimpleKeyfile(path string) *SimpleKeyfile {
	return &SimpleKeyfile{path: path}
}

// CheckFileInfo returns the os.Stat error when the file is missing, and an
// error when group or other users have any permission on it.
func (k *SimpleKeyfile) CheckFileInfo() error {
	info, err := os.Stat(k.path)
	if err != nil {
		return err
	}

	if perm := info.Mode().Perm(); perm&0077 != 0 {
		return fmt.Errorf("%s is accessible by group or others (%o)", k.path, perm)
	}

	return nil
}

// ReadKey implements KeyReaderWriter.
func (k *SimpleKeyfile) ReadKey() (*ecdsa.PrivateKey, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.CheckFileInfo(); err != nil {
		return nil, err
	}

	raw, err := ioutil.ReadFile(k.path)
	if err != nil {
		return nil, err
	}

	return ParsePrivateKeyHex(strings.TrimSpace(string(raw)))
}

// WriteKey implements KeyReaderWriter. Missing directories are created.
func (k *SimpleKeyfile) WriteKey(key *ecdsa.PrivateKey) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(k.path), 0700); err != nil {
		return err
	}

	return ioutil.WriteFile(k.path, []byte(PrivateKeyHex(key)), 0600)
}

// ReadOrGenerate returns the stored key, or generates and stores one when the
// file does not exist. The boolean reports a new key.
func (k *SimpleKeyfile) ReadOrGenerate() (*ecdsa.PrivateKey, bool, error) {
	key, err := k.ReadKey()
	switch {
	case err == nil:
		return key, false, nil
	case !os.IsNotExist(err):
		return nil, false, err
	}

	if key, err = GenerateECDSAKey(); err != nil {
		return nil, false, err
	}

	if err := k.WriteKey(key); err != nil {
		return nil, false, err
	}

	return key, true, nil
}
