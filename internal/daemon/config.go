// Package daemon manages the Fern daemon lifecycle and configuration.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config holds all daemon configuration.
type Config struct {
	Node      NodeConfig      `toml:"node"`
	API       APIConfig       `toml:"api"`
	Storage   StorageConfig   `toml:"storage"`
	Logging   LoggingConfig   `toml:"logging"`
	Bootstrap BootstrapConfig `toml:"bootstrap"`
}

// NodeConfig identifies this node and its overlay identity.
type NodeConfig struct {
	SecretKeyPath string `toml:"secret_key_path"`
}

// APIConfig controls the HTTP control API server.
type APIConfig struct {
	Host        string   `toml:"host"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// StorageConfig controls the catalog/capability data directory.
type StorageConfig struct {
	HostDataPath string `toml:"host_data_path"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level     string `toml:"level"`
	File      string `toml:"file"`
	MaxSizeMB int    `toml:"max_size_mb"`
	MaxFiles  int    `toml:"max_files"`
}

// BootstrapConfig seeds the overlay's initial peer set.
type BootstrapConfig struct {
	Peers []string `toml:"peers"`
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	homeDir := fernHome()
	return Config{
		Node: NodeConfig{
			SecretKeyPath: filepath.Join(homeDir, "secret.key"),
		},
		API: APIConfig{
			Host:        "127.0.0.1",
			Port:        3000,
			CORSOrigins: []string{"*"},
		},
		Storage: StorageConfig{
			HostDataPath: homeDir,
		},
		Logging: LoggingConfig{
			Level:     "info",
			File:      filepath.Join(homeDir, "fern.log"),
			MaxSizeMB: 50,
			MaxFiles:  5,
		},
		Bootstrap: BootstrapConfig{
			Peers: nil,
		},
	}
}

// LoadConfig reads config from $FERN_HOME/config.toml, falling back to
// defaults when no file is present.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	path := filepath.Join(fernHome(), "config.toml")

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes the config to $FERN_HOME/config.toml.
func SaveConfig(cfg Config) error {
	path := filepath.Join(fernHome(), "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(cfg)
}

// fernHome returns the Fern data directory.
func fernHome() string {
	if env := os.Getenv("FERN_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".fern")
}

// FernHome is exported for use by other packages.
func FernHome() string {
	return fernHome()
}
