package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// UserAgentWrapper is a string that the user agent string is wrapped into.
	UserAgentWrapper = "/"
	// UserAgentPrefix is a prefix used to generate the user agent string.
	UserAgentPrefix = "MERIDIAN:"
	// UserAgentFormat is a formatted string used to generate the user agent string.
	UserAgentFormat = UserAgentWrapper + UserAgentPrefix + "%s" + UserAgentWrapper
)

// Version is the node version, set at build time via -ldflags.
var Version string

// Config is the top-level configuration for a node (§6 Configuration).
type Config struct {
	Testnet bool   `yaml:"Testnet"`
	P2P     P2P    `yaml:"P2P"`
	Logger  Logger `yaml:"Logger"`
}

// GenerateUserAgent builds the node's user-agent string from its version.
func (c Config) GenerateUserAgent() string {
	return fmt.Sprintf(UserAgentFormat, Version)
}

// LoadFile reads and validates a YAML config file. Unknown keys are
// rejected so a typo'd option fails fast instead of silently no-op'ing.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("unable to read config: %w", err)
	}
	cfg := Config{
		P2P: P2P{
			MinOutboundPeers: 8,
			MaxPeers:         40,
			PingInterval:     30 * time.Second,
			PingTimeout:      10 * time.Second,
		},
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}
	if err := cfg.Logger.Validate(); err != nil {
		return Config{}, err
	}
	if cfg.P2P.ListenPort == 0 {
		return Config{}, fmt.Errorf("config: P2P.ListenPort is required")
	}
	return cfg, nil
}
