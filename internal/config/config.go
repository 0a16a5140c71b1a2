package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/parley-chat/parley/internal/journal"
)

type Config struct {
	Server ServerConfig `toml:"server"`
	Client ClientConfig `toml:"client"`
}

type ServerConfig struct {
	Listen                  string `toml:"listen"`
	JournalPath             string `toml:"journal_path"`
	MetricsListen           string `toml:"metrics_listen"`
	ReadTimeoutMillis       int    `toml:"read_timeout_ms"`
	HeartbeatTimeoutSeconds int    `toml:"heartbeat_timeout_seconds"`
	SweepIntervalMillis     int    `toml:"sweep_interval_ms"`
}

type ClientConfig struct {
	Server                   string `toml:"server"`
	HeartbeatIntervalSeconds int    `toml:"heartbeat_interval_seconds"`
	ReadTimeoutMillis        int    `toml:"read_timeout_ms"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:                  "127.0.0.1:8080",
			JournalPath:             journal.DefaultPath,
			ReadTimeoutMillis:       200,
			HeartbeatTimeoutSeconds: 20,
			SweepIntervalMillis:     1000,
		},
		Client: ClientConfig{
			Server:                   "127.0.0.1:8080",
			HeartbeatIntervalSeconds: 10,
			ReadTimeoutMillis:        5000,
		},
	}
}

func Load() (*Config, error) {
	path, err := DefaultPath()
	if err != nil {
		return Default(), nil
	}
	return LoadFrom(path)
}

func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	return cfg, nil
}

func DefaultPath() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "parley", "config.toml"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: determine home directory: %w", err)
	}
	return filepath.Join(home, ".config", "parley", "config.toml"), nil
}
