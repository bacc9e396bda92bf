package appconfig

import (
	"os"
	"path/filepath"
)

// GatewrightPath returns the root directory for gatewright data.
// It uses $GATEWRIGHT_PATH if set, otherwise defaults to ~/.gatewright.
func GatewrightPath() string {
	if v := os.Getenv("GATEWRIGHT_PATH"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".gatewright")
	}
	return filepath.Join(home, ".gatewright")
}

// ConfigPath returns the path to the gatewright config file.
func ConfigPath() string {
	return filepath.Join(GatewrightPath(), "config.jsonc")
}

// GateConfigPath returns the default path to the Gate's YAML document.
func GateConfigPath() string {
	return filepath.Join(GatewrightPath(), "gate.yaml")
}
