package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// ConfigPathEnv names an explicit config file.
const ConfigPathEnv = "QUERN_CONFIG"

// DiscoverConfigPath finds the config file by checking standard locations.
// Priority order: $QUERN_CONFIG, ~/.config/quern/config.yaml, ./config.yaml.
func DiscoverConfigPath() (string, error) {
	if p := os.Getenv(ConfigPathEnv); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfig := filepath.Join(homeDir, ".config", "quern", "config.yaml")
		if fileExists(userConfig) {
			return userConfig, nil
		}
	}

	if fileExists("./config.yaml") {
		return "./config.yaml", nil
	}

	return "", fmt.Errorf("no config found (checked: $%s, ~/.config/quern/config.yaml, ./config.yaml)", ConfigPathEnv)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
