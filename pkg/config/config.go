package config

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Configuration defaults. Intervals and timeouts are in milliseconds.
const (
	// DefaultMasterPort is the port the master listens on when the config
	// carries none.
	DefaultMasterPort uint16 = 3224
	// DefaultPairInterval is the delay between pairing attempts while a
	// queue side is empty.
	DefaultPairInterval int64 = 100
	// DefaultDialTimeout bounds dials and single protocol reads.
	DefaultDialTimeout int64 = 5000
	// DefaultRetryInterval is the worker's pause before re-dialing an
	// unreachable master.
	DefaultRetryInterval int64 = 400
)

const userAgentFormat = "/TIMEFUSE-GO:%s/"

// Version is the version of the node, set at build time.
var Version string

// Config top level struct representing the config
// for the node.
type Config struct {
	MasterConfiguration      MasterConfiguration      `yaml:"MasterConfiguration"`
	WorkerConfiguration      WorkerConfiguration      `yaml:"WorkerConfiguration"`
	ApplicationConfiguration ApplicationConfiguration `yaml:"ApplicationConfiguration"`
}

// GenerateUserAgent creates user agent string based on build time environment.
func (c Config) GenerateUserAgent() string {
	return fmt.Sprintf(userAgentFormat, Version)
}

// Default returns the compiled-in configuration.
func Default() Config {
	return Config{
		MasterConfiguration: MasterConfiguration{
			Port:         DefaultMasterPort,
			PairInterval: DefaultPairInterval,
			DialTimeout:  DefaultDialTimeout,
		},
		WorkerConfiguration: WorkerConfiguration{
			MasterAddress: "localhost",
			MasterPort:    DefaultMasterPort,
			DialTimeout:   DefaultDialTimeout,
			RetryInterval: DefaultRetryInterval,
		},
	}
}

// Load attempts to load the config from the given
// path. Absent values fall back to the defaults.
func Load(path string) (Config, error) {
	configPath := fmt.Sprintf("%s/timefuse.yml", path)
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return Config{}, errors.Wrap(err, "Unable to load config")
	}

	configData, err := os.ReadFile(configPath)
	if err != nil {
		return Config{}, errors.Wrap(err, "Unable to read config")
	}

	config := Default()

	err = yaml.Unmarshal(configData, &config)
	if err != nil {
		return Config{}, errors.Wrap(err, "Problem unmarshaling config data")
	}

	return config, nil
}
