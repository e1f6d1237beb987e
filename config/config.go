// Package config loads the server configuration from defaults, an optional
// YAML file and BOOKTRACKER_* environment variables, in that order.
package config

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "BOOKTRACKER_"

// Config is the root configuration structure.
type Config struct {
	Addr     string         `yaml:"addr"`
	LogLevel string         `yaml:"log_level"`
	Workers  int            `yaml:"workers"`
	CORS     CORSConfig     `yaml:"cors"`
	Stream   StreamConfig   `yaml:"stream"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// StreamConfig tunes the live mutation streams.
type StreamConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	BufferSize        int           `yaml:"buffer_size"`
}

// SnapshotConfig enables on-disk persistence of the store. An empty Path
// keeps everything in memory. With Key set the snapshot is sealed.
type SnapshotConfig struct {
	Path  string `yaml:"path"`
	KeyID string `yaml:"key_id"`
	// Key is 32 bytes, base64url encoded without padding.
	Key string `yaml:"key"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Addr:     ":8080",
		LogLevel: "info",
		Workers:  64,
		CORS: CORSConfig{
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Stream: StreamConfig{
			HeartbeatInterval: 15 * time.Second,
			BufferSize:        256,
		},
	}
}

// Load builds the configuration. path may be empty, in which case only
// defaults and the environment apply.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("configuration file not found: %s", path)
			}
			return nil, fmt.Errorf("failed to read configuration file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("invalid YAML syntax in configuration file: %w", err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		v, ok := lookup(EnvPrefix + name)
		return strings.TrimSpace(v), ok
	}
	if v, ok := get("ADDR"); ok {
		c.Addr = v
	}
	if v, ok := get("LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	if v, ok := get("CORS_ORIGINS"); ok {
		c.CORS.AllowedOrigins = splitList(v)
	}
	if v, ok := get("SNAPSHOT_PATH"); ok {
		c.Snapshot.Path = v
	}
	if v, ok := get("SNAPSHOT_KEY_ID"); ok {
		c.Snapshot.KeyID = v
	}
	if v, ok := get("SNAPSHOT_KEY"); ok {
		c.Snapshot.Key = v
	}
	if v, ok := get("HEARTBEAT_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sHEARTBEAT_INTERVAL: %w", EnvPrefix, err)
		}
		c.Stream.HeartbeatInterval = d
	}
	for name, dst := range map[string]*int{"BUFFER_SIZE": &c.Stream.BufferSize, "WORKERS": &c.Workers} {
		v, ok := get(name)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = n
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string
	if c.Addr == "" {
		errs = append(errs, "addr is required")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Workers <= 0 {
		errs = append(errs, fmt.Sprintf("invalid workers %d: must be positive", c.Workers))
	}
	if c.Stream.BufferSize <= 0 {
		errs = append(errs, fmt.Sprintf("invalid stream buffer_size %d: must be positive", c.Stream.BufferSize))
	}
	if c.Stream.HeartbeatInterval <= 0 {
		errs = append(errs, fmt.Sprintf("invalid stream heartbeat_interval %s: must be positive", c.Stream.HeartbeatInterval))
	}
	if c.Snapshot.Key != "" {
		if c.Snapshot.Path == "" {
			errs = append(errs, "snapshot key is set but snapshot path is empty")
		}
		if c.Snapshot.KeyID == "" {
			errs = append(errs, "snapshot key_id is required when a key is set")
		}
		if _, err := c.Snapshot.DecodeKey(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// DecodeKey returns the raw sealing key, or nil when none is configured.
func (s SnapshotConfig) DecodeKey() ([]byte, error) {
	if s.Key == "" {
		return nil, nil
	}
	key, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(s.Key, "="))
	if err != nil {
		return nil, fmt.Errorf("snapshot key is not base64url: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("snapshot key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

// ParseLevel maps debug, info, warn and error onto slog levels.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log_level %q: must be debug, info, warn or error", s)
	}
	return l, nil
}
