// Package config loads and validates the relay configuration document.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	// ErrMissing indicates the config document never appeared within the wait budget.
	ErrMissing = errors.New("config document missing")

	// ErrMalformed indicates the document parsed but required keys are absent or invalid.
	ErrMalformed = errors.New("config document malformed")
)

const (
	// DefaultWait bounds how long Load waits for the document to appear.
	DefaultWait = 30 * time.Second

	waitPollInterval = time.Second
)

// Bindings holds the two service channels and an optional inner-side interface hint.
type Bindings struct {
	Status    string `yaml:"status"`
	Data      string `yaml:"data"`
	Interface string `yaml:"interface"`
}

// Relay holds forwarding options.
type Relay struct {
	Enabled                *bool  `yaml:"enabled"`
	AttemptDirectoryLookup bool   `yaml:"attempt_directory_lookup"`
	TTLIncrement           int    `yaml:"ttl_increment"`
	HostInterface          string `yaml:"host_interface"`
	ContainerNetwork       string `yaml:"container_network"`
}

// Publisher selects the name-publishing target.
type Publisher struct {
	Mode    string `yaml:"mode"`
	Command string `yaml:"command"`
}

// Config is the parsed configuration document.
type Config struct {
	Bindings     Bindings  `yaml:"bindings"`
	Relay        Relay     `yaml:"relay"`
	Publisher    Publisher `yaml:"publisher"`
	StatusListen string    `yaml:"status_listen"`
}

// RelayEnabled reports whether forwarding should be configured (default true).
func (c *Config) RelayEnabled() bool {
	return c.Relay.Enabled == nil || *c.Relay.Enabled
}

// Load waits up to maxWait for the document at path to exist, then parses and
// validates it. A zero maxWait uses DefaultWait.
func Load(path string, maxWait time.Duration) (*Config, error) {
	if maxWait <= 0 {
		maxWait = DefaultWait
	}

	deadline := time.Now().Add(maxWait)
	for {
		if _, err := os.Stat(path); err == nil {
			break
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s not found after %s", ErrMissing, path, maxWait)
		}
		time.Sleep(waitPollInterval)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissing, err)
	}
	return Parse(content)
}

// Parse parses YAML content into a Config with defaults applied and validated.
func Parse(content []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	SetDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults fills unset fields with their documented defaults.
func SetDefaults(cfg *Config) {
	if cfg.Relay.TTLIncrement == 0 {
		cfg.Relay.TTLIncrement = 1
	}
	if cfg.Relay.HostInterface == "" {
		cfg.Relay.HostInterface = "auto"
	}
	if cfg.Relay.ContainerNetwork == "" {
		cfg.Relay.ContainerNetwork = "radiolan"
	}
	if cfg.Publisher.Mode == "" {
		cfg.Publisher.Mode = "mdns"
	}
	if cfg.Publisher.Command == "" {
		cfg.Publisher.Command = "avahi-publish-address"
	}
}

// Validate checks the required keys and value ranges.
func Validate(cfg *Config) error {
	if cfg.Bindings.Status == "" && cfg.Bindings.Data == "" {
		return fmt.Errorf("%w: bindings section is required", ErrMalformed)
	}
	if cfg.Bindings.Status == "" {
		return fmt.Errorf("%w: bindings.status is required", ErrMalformed)
	}
	if cfg.Bindings.Data == "" {
		return fmt.Errorf("%w: bindings.data is required", ErrMalformed)
	}
	if cfg.Relay.TTLIncrement < 1 || cfg.Relay.TTLIncrement > 255 {
		return fmt.Errorf("%w: relay.ttl_increment must be 1..255, got %d", ErrMalformed, cfg.Relay.TTLIncrement)
	}
	switch cfg.Publisher.Mode {
	case "mdns", "exec":
	default:
		return fmt.Errorf("%w: publisher.mode must be \"mdns\" or \"exec\", got %q", ErrMalformed, cfg.Publisher.Mode)
	}
	return nil
}
