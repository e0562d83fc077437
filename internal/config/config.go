package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.chatdesk/config.toml.
type Config struct {
	DefaultProfile string   `toml:"default_profile"`
	CompanyID      string   `toml:"company_id"`
	API            API      `toml:"api"`
	Realtime       Realtime `toml:"realtime"`
}

// API holds the REST gateway settings.
type API struct {
	BaseURL string `toml:"base_url"`
	Token   string `toml:"token"`
}

// Realtime holds the websocket link settings. Both fields may be empty,
// in which case the console runs on REST state alone.
type Realtime struct {
	Endpoint string `toml:"endpoint"`
	Key      string `toml:"key"`
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
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
