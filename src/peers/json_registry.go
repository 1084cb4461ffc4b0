package peers

import (
	"bytes"
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"
)

const jsonRegistryPath = "nodes.json"

// JSONRegistry provides registry persistence on disk in the form of a JSON
// file.
type JSONRegistry struct {
	l    sync.Mutex
	path string
}

// NewJSONRegistry creates a JSONRegistry with reference to a base directory
// where the JSON file resides.
func NewJSONRegistry(base string) *JSONRegistry {
	return &JSONRegistry{
		path: filepath.Join(base, jsonRegistryPath),
	}
}

// Path ...
func (j *JSONRegistry) Path() string {
	return j.path
}

// Nodes parses the underlying JSON file. A missing or empty file yields no
// nodes and no error.
func (j *JSONRegistry) Nodes() ([]Node, error) {
	j.l.Lock()
	defer j.l.Unlock()

	// Read the file
	buf, err := ioutil.ReadFile(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	// Check for no nodes
	if len(bytes.TrimSpace(buf)) == 0 {
		return nil, nil
	}

	// Decode the nodes
	var nodes []Node
	dec := json.NewDecoder(bytes.NewReader(buf))
	if err := dec.Decode(&nodes); err != nil {
		return nil, err
	}

	return nodes, nil
}

// Write persists the nodes to the JSON file.
func (j *JSONRegistry) Write(nodes []Node) error {
	j.l.Lock()
	defer j.l.Unlock()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(nodes); err != nil {
		return err
	}

	// Write out as JSON, then rename into place
	tmp := j.path + ".tmp"
	if err := ioutil.WriteFile(tmp, buf.Bytes(), 0600); err != nil {
		return err
	}
	return os.Rename(tmp, j.path)
}
