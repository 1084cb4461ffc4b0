package peers

import (
	"io/ioutil"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const seedsPath = "seeds.yaml"

// Seed is a node contacted when joining the network. The id is optional; it is
// learned from the join response when missing.
type Seed struct {
	ID      string `yaml:"id,omitempty"`
	Address string `yaml:"address"`
}

type seedFile struct {
	Seeds []Seed `yaml:"seeds"`
}

// SeedsPath returns the location of the seed list in a data directory.
func SeedsPath(base string) string {
	return filepath.Join(base, seedsPath)
}

// LoadSeeds reads a seeds.yaml file of the form
//
//	seeds:
//	  - id: N1A2B3C4D
//	    address: 10.0.0.1:1337
//	  - address: 10.0.0.2:1337
//
// A missing file yields no seeds.
func LoadSeeds(path string) ([]Seed, error) {
	buf, err := ioutil.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var f seedFile
	if err := yaml.Unmarshal(buf, &f); err != nil {
		return nil, err
	}

	res := []Seed{}
	for _, s := range f.Seeds {
		if s.Address != "" {
			res = append(res, s)
		}
	}
	return res, nil
}

// WriteSeeds writes the seed list in the format read by LoadSeeds.
func WriteSeeds(path string, seeds []Seed) error {
	buf, err := yaml.Marshal(seedFile{Seeds: seeds})
	if err != nil {
		return err
	}
	return ioutil.WriteFile(path, buf, 0644)
}
