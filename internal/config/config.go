package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.chatsync/config.toml.
type Config struct {
	DefaultInstance string       `toml:"default_instance"`
	Server          ServerConfig `toml:"server"`
	Client          ClientConfig `toml:"client"`
}

// ServerConfig configures syncd.
type ServerConfig struct {
	Host              string   `toml:"host"`
	Port              int      `toml:"port"`
	HeartbeatInterval Duration `toml:"heartbeat_interval"`
	EmitMinDelay      Duration `toml:"emit_min_delay"`
	EmitMaxDelay      Duration `toml:"emit_max_delay"`
	ChatCount         int      `toml:"chat_count"`
}

// ClientConfig configures syncclient.
type ClientConfig struct {
	URL            string   `toml:"url"`
	APIURL         string   `toml:"api_url"`
	PingInterval   Duration `toml:"ping_interval"`
	RepairInterval Duration `toml:"repair_interval"`
	PageSize       int      `toml:"page_size"`
}

// Duration is a time.Duration written as "10s" in TOML.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills every unset field.
func (c *Config) ApplyDefaults() {
	if c.DefaultInstance == "" {
		c.DefaultInstance = "main"
	}

	s := &c.Server
	if s.Host == "" {
		s.Host = "127.0.0.1"
	}
	if s.Port == 0 {
		s.Port = 8080
	}
	if s.HeartbeatInterval.Duration <= 0 {
		s.HeartbeatInterval.Duration = 10 * time.Second
	}
	if s.EmitMinDelay.Duration <= 0 {
		s.EmitMinDelay.Duration = time.Second
	}
	if s.EmitMaxDelay.Duration <= 0 {
		s.EmitMaxDelay.Duration = 3 * time.Second
	}
	if s.ChatCount <= 0 {
		s.ChatCount = 200
	}

	cl := &c.Client
	if cl.URL == "" {
		cl.URL = "ws://127.0.0.1:8080/ws"
	}
	if cl.APIURL == "" {
		cl.APIURL = "http://127.0.0.1:8080"
	}
	if cl.PingInterval.Duration <= 0 {
		cl.PingInterval.Duration = 10 * time.Second
	}
	if cl.RepairInterval.Duration <= 0 {
		cl.RepairInterval.Duration = 30 * time.Second
	}
	if cl.PageSize <= 0 {
		cl.PageSize = 50
	}
}

// Load reads config from the given path. Returns nil and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields Default().
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
