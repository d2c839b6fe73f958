// Package config reads a node's static YAML configuration, the
// generalized descendant of the teacher's flat node.Config
// (internal/node/server.go's Listen/Peers JSON struct).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/wopr-network/wopr-core/internal/ratelimit"
)

// NodeConfig is a single node's static configuration.
type NodeConfig struct {
	Listen       []string `yaml:"listen"`
	IdentitySeed string   `yaml:"identity_seed"`
	DataDir      string   `yaml:"data_dir"`

	InviteTTL time.Duration `yaml:"invite_ttl"`

	RateLimits map[string]RateLimitOverride `yaml:"rate_limits"`

	Bootstrap *BootstrapDirectoryConfig `yaml:"bootstrap"`

	Friend FriendConfig `yaml:"friend"`
}

// RateLimitOverride replaces one action's entry in ratelimit.Defaults.
type RateLimitOverride struct {
	PerMinute int           `yaml:"per_minute"`
	PerHour   int           `yaml:"per_hour"`
	Ban       time.Duration `yaml:"ban"`
}

// BootstrapDirectoryConfig points at an optional bootstrap-peer
// directory (internal/swarm.Directory) used to seed the DHT routing
// table. Token is left blank in node.yaml and sourced from the
// environment so it never sits in a checked-in config file.
type BootstrapDirectoryConfig struct {
	Addr     string `yaml:"addr"` // multiaddr of the directory peer
	Nickname string `yaml:"nickname"`
	Token    string `yaml:"-"`
}

// FriendConfig carries the auto-accept rules for internal/friend.
type FriendConfig struct {
	AutoAccept []string `yaml:"auto_accept"`
}

const bootstrapTokenEnvVar = "WOPR_BOOTSTRAP_TOKEN"

// Load reads a .env file (if present, for secrets like the bootstrap
// token) then the YAML config at path, applying defaults for anything
// left unset.
func Load(path string) (*NodeConfig, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg NodeConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()

	if cfg.Bootstrap != nil {
		cfg.Bootstrap.Token = os.Getenv(bootstrapTokenEnvVar)
	}

	return &cfg, nil
}

func (c *NodeConfig) applyDefaults() {
	if len(c.Listen) == 0 {
		c.Listen = []string{"/ip4/0.0.0.0/tcp/0"}
	}
	if c.InviteTTL == 0 {
		c.InviteTTL = time.Hour
	}
	if c.DataDir == "" {
		c.DataDir = "."
	}
	if c.IdentitySeed == "" {
		c.IdentitySeed = "node.key"
	}
}

// RateLimitTable merges c's overrides onto ratelimit.Defaults, so any
// action the config leaves unmentioned keeps spec.md §4.C's default.
func (c *NodeConfig) RateLimitTable() map[string]ratelimit.ActionLimits {
	out := make(map[string]ratelimit.ActionLimits, len(ratelimit.Defaults))
	for action, limits := range ratelimit.Defaults {
		out[action] = limits
	}
	for action, o := range c.RateLimits {
		out[action] = ratelimit.ActionLimits{PerMinute: o.PerMinute, PerHour: o.PerHour, Ban: o.Ban}
	}
	return out
}
