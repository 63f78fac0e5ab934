package settings

import (
	"os"
	"path/filepath"
	"strings"
)

// DefaultConfigDir returns ~/.config/bridgeconnector.
func DefaultConfigDir() (string, error) {
	if override := strings.TrimSpace(os.Getenv("BRIDGE_CONFIG_DIR")); override != "" {
		return override, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "bridgeconnector"), nil
}
