package params

import (
	"io/ioutil"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// chainConfigFile mirrors the yaml layout of a chain endpoints file.
type chainConfigFile struct {
	Chains []ChainConfig `yaml:"chains"`
}

// LoadChainConfigFile replaces the configured chain indexers with the
// content of a yaml file.
func LoadChainConfigFile(path string) error {
	b, err := ioutil.ReadFile(path) // #nosec G304
	if err != nil {
		return errors.Wrap(err, "could not read chain config file")
	}
	var f chainConfigFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return errors.Wrap(err, "could not parse chain config file")
	}
	c := CCNConfig()
	c.Chains = f.Chains
	OverrideCCNConfig(c)
	return nil
}
