// Package config loads the optional YAML configuration files for the
// ringfab binaries. Command-line flags always win over file values; the
// file only supplies defaults for flags the operator did not set.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Node is the compute node's file configuration.
type Node struct {
	// Registry is the registry's host:port.
	Registry string `yaml:"registry"`

	// Host overrides the advertised hostname. Empty means os.Hostname.
	Host string `yaml:"host"`

	// Debug switches on development logging.
	Debug bool `yaml:"debug"`
}

// Registry is the registry's file configuration.
type Registry struct {
	// Listen is the bind address, e.g. ":5555".
	Listen string `yaml:"listen"`

	// PoolSize is the worker pool size setup-overlay uses when the
	// operator omits the argument. Zero means no default.
	PoolSize int `yaml:"poolSize"`

	// Debug switches on development logging.
	Debug bool `yaml:"debug"`
}

// LoadNode reads a node configuration file. An empty path returns the
// zero value without error so the flag defaults apply; a path naming a
// file that does not exist is an error.
func LoadNode(path string) (Node, error) {
	var cfg Node
	err := load(path, &cfg)
	return cfg, err
}

// LoadRegistry reads a registry configuration file. An empty path
// returns the zero value without error so the flag defaults apply; a
// path naming a file that does not exist is an error.
func LoadRegistry(path string) (Registry, error) {
	var cfg Registry
	err := load(path, &cfg)
	return cfg, err
}

func load(path string, out any) error {
	if path == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}
