package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.chatd/config.toml.
type Config struct {
	DefaultSession string    `toml:"default_session"`
	Identity       Identity  `toml:"identity"`
	Remote         Remote    `toml:"remote"`
	Bootstrap      Bootstrap `toml:"bootstrap"`
}

// Identity holds the signed-in user's identity as resolved by the auth
// collaborator. The daemon never validates credentials itself.
type Identity struct {
	UserID string `toml:"user_id"`
	Role   string `toml:"role"` // "creator" or "fan"
}

// Remote selects the remote store backend for ephemeral signals.
type Remote struct {
	Backend   string `toml:"backend"` // "memory" or "redis"
	RedisAddr string `toml:"redis_addr"`
}

// Bootstrap describes the conversations every account is joined to on first
// start.
type Bootstrap struct {
	CreatorID            string   `toml:"creator_id"`
	DefaultConversations []string `toml:"default_conversations"`
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
