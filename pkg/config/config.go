// Package config loads and validates the on-disk node configuration:
// transport selection, identity/data-dir layout, and the optional
// persistence backends (spec.md §6 CLI surface, SPEC_FULL.md ambient
// stack). Grounded on the teacher's client/daemon/config.go struct
// shape (nested sub-configs, YAML tags) and pkg/config/config.go's
// LoadConfig/defaults/validate idiom, re-keyed to the chat node's
// domain.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete node configuration.
type Config struct {
	Node      NodeConfig      `yaml:"node"`
	Transport TransportConfig `yaml:"transport"`
	Identity  IdentityConfig  `yaml:"identity"`
	Redis     RedisConfig     `yaml:"redis,omitempty"`
	Postgres  PostgresConfig  `yaml:"postgres,omitempty"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// NodeConfig holds the bootstrap flags from `umbra start` (spec.md §6).
type NodeConfig struct {
	Port     int    `yaml:"port"`
	Connect  string `yaml:"connect,omitempty"`
	Topic    string `yaml:"topic"`
	Username string `yaml:"username"`
	DataDir  string `yaml:"data_dir"`
}

// TransportConfig selects and tunes the Transport implementation
// (pkg/transport): direct QUIC mesh, or a relayed WebSocket fallback
// for NAT'd peers.
type TransportConfig struct {
	Mode              string        `yaml:"mode"` // "quic" or "relay"
	RelayURL          string        `yaml:"relay_url,omitempty"`
	HandshakeDeadline time.Duration `yaml:"handshake_deadline"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
}

// IdentityConfig controls where the password-derived ZK identity and
// its cached proving/verifying keys live on disk (spec.md §6).
type IdentityConfig struct {
	IdentityFile string `yaml:"identity_file"`
	KeysFile     string `yaml:"keys_file"`
}

// RedisConfig configures the optional peer-directory cache
// (pkg/persistence).
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// PostgresConfig configures the optional chat-history log
// (pkg/persistence).
type PostgresConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
}

// LoggingConfig controls the structured logger (pkg/logging).
type LoggingConfig struct {
	Level      string `yaml:"level"`
	OutputFile string `yaml:"output_file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// LoadConfig reads and validates a YAML config file, filling in
// defaults for anything unset.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: invalid: %w", err)
	}
	return &cfg, nil
}

// LoadOrCreate loads path if it exists, otherwise writes a generated
// default config (keyed by dataDir) and returns it.
func LoadOrCreate(path, dataDir string) (*Config, error) {
	if _, err := os.Stat(path); err == nil {
		return LoadConfig(path)
	}

	cfg := GenerateDefault(dataDir)
	if err := WriteConfigFile(cfg, path); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) setDefaults() {
	if c.Node.Port == 0 {
		c.Node.Port = 7470
	}
	if c.Node.Topic == "" {
		c.Node.Topic = "umbra-general"
	}
	if c.Node.DataDir == "" {
		c.Node.DataDir = "."
	}
	if c.Transport.Mode == "" {
		c.Transport.Mode = "quic"
	}
	if c.Transport.HandshakeDeadline == 0 {
		c.Transport.HandshakeDeadline = 30 * time.Second
	}
	if c.Transport.IdleTimeout == 0 {
		c.Transport.IdleTimeout = 60 * time.Second
	}
	if c.Transport.ReconnectInterval == 0 {
		c.Transport.ReconnectInterval = 5 * time.Second
	}
	if c.Identity.IdentityFile == "" {
		c.Identity.IdentityFile = filepath.Join(c.Node.DataDir, "umbra_identity.bin")
	}
	if c.Identity.KeysFile == "" {
		c.Identity.KeysFile = filepath.Join(c.Node.DataDir, "umbra_keys.bin")
	}
	if c.Redis.TTL == 0 {
		c.Redis.TTL = time.Hour
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = 50
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 3
	}
}

func (c *Config) validate() error {
	if c.Node.Port < 0 || c.Node.Port > 65535 {
		return fmt.Errorf("node.port out of range: %d", c.Node.Port)
	}
	switch c.Transport.Mode {
	case "quic", "relay":
	default:
		return fmt.Errorf("transport.mode must be \"quic\" or \"relay\", got %q", c.Transport.Mode)
	}
	if c.Transport.Mode == "relay" && c.Transport.RelayURL == "" {
		return fmt.Errorf("transport.relay_url required when transport.mode is \"relay\"")
	}
	return nil
}

// GenerateDefault returns a Config with sane defaults for a fresh
// node rooted at dataDir.
func GenerateDefault(dataDir string) *Config {
	cfg := &Config{Node: NodeConfig{DataDir: dataDir}}
	cfg.setDefaults()
	return cfg
}

// WriteConfigFile serializes cfg as YAML to path, creating path's parent
// directory first if needed.
func WriteConfigFile(cfg *Config, path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: mkdir %s: %w", dir, err)
		}
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}
