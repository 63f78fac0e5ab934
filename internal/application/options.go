package application

import (
	"io"
	"time"
)

// StartOptions defines startup options for the bridge runtime.
type StartOptions struct {
	Workspace string
	ConfigDir string
	// HistoryDBPath defaults to <ConfigDir>/history.db.
	HistoryDBPath string
	// Port overrides both settings.toml and the workspace .env when non-zero.
	Port int
	// LogLevel overrides log_level from settings.toml when set.
	LogLevel  string
	LogWriter io.Writer
	Version   string
	// Panel forces the companion panel server on regardless of settings.
	Panel           bool
	BodyReadTimeout time.Duration
	ShutdownGrace   time.Duration
	Hooks           Hooks
}
