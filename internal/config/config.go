package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the settings for one chat session.
type Config struct {
	Room        string   `yaml:"room"`
	Nick        string   `yaml:"nick"`
	DataDir     string   `yaml:"data_dir"`
	ListenAddrs []string `yaml:"listen_addrs"`
	// Peers are multiaddrs dialed at startup in addition to mDNS discovery.
	Peers []string `yaml:"peers"`

	LogFile  string `yaml:"log_file"`
	LogLevel string `yaml:"log_level"`

	TUI bool `yaml:"tui"`
	QR  bool `yaml:"qr"`

	Store     StoreConfig     `yaml:"store"`
	Discovery DiscoveryConfig `yaml:"discovery"`
}

// StoreConfig tunes the retry and shutdown behaviour of the message store.
type StoreConfig struct {
	OpenRetryBackoff  time.Duration `yaml:"open_retry_backoff"`
	WriteRetryBackoff time.Duration `yaml:"write_retry_backoff"`
	ClosePoll         time.Duration `yaml:"close_poll"`
	CloseWait         time.Duration `yaml:"close_wait"` // 0 = wait until idle
}

type DiscoveryConfig struct {
	// TTL is how long a peer found over mDNS stays known without being
	// announced again.
	TTL time.Duration `yaml:"ttl"`
}

func Default() Config {
	return Config{
		DataDir: ".",
		ListenAddrs: []string{
			"/ip4/0.0.0.0/udp/0/quic-v1",
			"/ip4/0.0.0.0/tcp/0",
		},
		LogFile:  "locals-debug.log",
		LogLevel: "info",
		Store: StoreConfig{
			OpenRetryBackoff:  time.Second,
			WriteRetryBackoff: 100 * time.Millisecond,
			ClosePoll:         time.Second,
		},
		Discovery: DiscoveryConfig{
			TTL: 2 * time.Minute,
		},
	}
}

// Load reads a YAML file over the defaults and then applies LOCALS_*
// environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("LOCALS_ROOM"); v != "" {
		c.Room = v
	}
	if v := os.Getenv("LOCALS_NICK"); v != "" {
		c.Nick = v
	}
	if v := os.Getenv("LOCALS_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("LOCALS_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// Save writes the config as YAML.
func (c Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// Normalize lower-cases and trims the room and nick.
func (c *Config) Normalize() {
	c.Room = strings.ToLower(strings.TrimSpace(c.Room))
	c.Nick = strings.ToLower(strings.TrimSpace(c.Nick))
}

func (c Config) Validate() error {
	if c.Room == "" {
		return fmt.Errorf("room name is required")
	}
	if c.Nick == "" {
		return fmt.Errorf("username is required")
	}
	for _, field := range []struct{ name, value string }{{"room", c.Room}, {"username", c.Nick}} {
		if strings.Contains(field.value, "*@") {
			return fmt.Errorf("%s must not contain %q", field.name, "*@")
		}
		if strings.ContainsAny(field.value, `/\`) {
			return fmt.Errorf("%s must not contain path separators", field.name)
		}
	}
	if len(c.ListenAddrs) == 0 {
		return fmt.Errorf("at least one listen address is required")
	}
	return nil
}
