package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"bridgeconnector/internal/settings"
)

type Config struct {
	Workspace       string
	ConfigDir       string
	LogLevel        string
	BodyReadTimeout time.Duration
	ShutdownGrace   time.Duration
}

func LoadConfig() Config {
	workspace := strings.TrimSpace(os.Getenv("BRIDGE_WORKSPACE"))
	if workspace == "" {
		if wd, err := os.Getwd(); err == nil {
			workspace = wd
		} else {
			workspace = "."
		}
	}
	if abs, err := filepath.Abs(workspace); err == nil {
		workspace = abs
	}

	configDir, err := settings.DefaultConfigDir()
	if err != nil {
		configDir = filepath.Clean(".bridgeconnector")
	}

	level := strings.ToLower(strings.TrimSpace(os.Getenv("BRIDGE_LOG_LEVEL")))

	bodyTimeout := atoiOrDefault(os.Getenv("BRIDGE_BODY_TIMEOUT_SECONDS"), 30)
	grace := atoiOrDefault(os.Getenv("BRIDGE_SHUTDOWN_GRACE_SECONDS"), 3)

	return Config{
		Workspace:       workspace,
		ConfigDir:       configDir,
		LogLevel:        level,
		BodyReadTimeout: time.Duration(bodyTimeout) * time.Second,
		ShutdownGrace:   time.Duration(grace) * time.Second,
	}
}

// HistoryDBPath is where the optional command history database lives.
func (c Config) HistoryDBPath() string {
	return filepath.Join(c.ConfigDir, "history.db")
}

func atoiOrDefault(v string, fallback int) int {
	v = strings.TrimSpace(v)
	n := 0
	for i := 0; i < len(v); i++ {
		if v[i] < '0' || v[i] > '9' {
			return fallback
		}
		n = n*10 + int(v[i]-'0')
	}
	if n == 0 {
		return fallback
	}
	return n
}
