package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - KIN_CONFIG_PATH: config file location (default: ~/.config/kin.toml)
//   - KIN_HOME: base directory for kin data (default: ~/.local/share/kin)
func GetDefaults() (map[string]string, error) {
	configPath, err := envOrHome("KIN_CONFIG_PATH", ".config", "kin.toml")
	if err != nil {
		return nil, err
	}

	baseDir, err := envOrHome("KIN_HOME", ".local", "share", "kin")
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}

// envOrHome returns the value of env if set, otherwise the given path under
// the user's home directory.
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
