package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// ConfigFileName is the config file looked up in the working directory.
const ConfigFileName = "amber.toml"

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - AMBER_CONFIG: config file location (default: ./amber.toml)
//
// The project root defaults to the directory holding the config file.
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path":  configPath,
		"project_root": filepath.Dir(configPath),
	}, nil
}

// getConfigPath returns the absolute config file path, checking AMBER_CONFIG
// first, then falling back to amber.toml in the working directory.
func getConfigPath() (string, error) {
	path := os.Getenv("AMBER_CONFIG")
	if path == "" {
		path = ConfigFileName
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving config path: %w", err)
	}
	return abs, nil
}
