// Package config loads the node's YAML runtime configuration, in the
// same style as sptp/client/config.go's ReadConfig: defaults are set
// on the struct before unmarshalling, so a missing key keeps its
// default rather than zeroing out.
package config

import (
	"fmt"
	"os"
	"time"

	yaml "gopkg.in/yaml.v2"

	"github.com/dronenet/repsvr/replicator"
)

// Config holds the runtime-tunable knobs of a replication node. A CLI
// flag that is set explicitly (see cmd/repsvr) takes precedence over
// the value loaded here. ReconnectDelay and LogLevel are parsed but not
// applied: the wire package's reconnect delay is a fixed 5s, and log
// verbosity comes from the -v flag.
type Config struct {
	TimeMult       float64       `yaml:"time_mult"`
	ReplInterval   time.Duration `yaml:"repl_interval"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	ReferenceNode  uint32        `yaml:"reference_node"`
	SkewWindow     int64         `yaml:"skew_window"`
	LogLevel       string        `yaml:"log_level"`
}

// Default returns a 20s adjusted-time broadcast cadence, a 5s reconnect
// delay, node 1 as the elected reference, and a 7s skew match window.
func Default() Config {
	return Config{
		TimeMult:       1.0,
		ReplInterval:   20 * time.Second,
		ReconnectDelay: 5 * time.Second,
		ReferenceNode:  1,
		SkewWindow:     replicator.DefaultMatchWindow,
		LogLevel:       "info",
	}
}

// Load reads a YAML runtime config from path, starting from Default()
// so any key the file omits keeps its default value.
func Load(path string) (Config, error) {
	c := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return c, nil
}
