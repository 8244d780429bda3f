package app

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// EnvConfigPath overrides the config file location.
	EnvConfigPath = "IB_CONFIG_PATH"
	// EnvHome overrides the directory holding the database, images, keys and logs.
	EnvHome = "IB_HOME"
)

// Defaults are the paths used before a config file has been read.
type Defaults struct {
	ConfigPath string
	BaseDir    string
	LogDir     string
}

// GetDefaults resolves the default paths. Environment variables win over the
// XDG locations ~/.config/ib.toml and ~/.local/share/ib.
func GetDefaults() (*Defaults, error) {
	configPath, err := envOrHome(EnvConfigPath, ".config", "ib.toml")
	if err != nil {
		return nil, err
	}
	baseDir, err := envOrHome(EnvHome, ".local", "share", "ib")
	if err != nil {
		return nil, err
	}
	return &Defaults{
		ConfigPath: configPath,
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
	}, nil
}

func envOrHome(env string, elem ...string) (string, error) {
	if path := os.Getenv(env); path != "" {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(append([]string{homeDir}, elem...)...), nil
}
