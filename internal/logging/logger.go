package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

type Options struct {
	Level     string
	Writer    io.Writer
	Component string
	// LevelVar, when set, receives the parsed level and stays adjustable after
	// construction (settings reloads change it in place).
	LevelVar *slog.LevelVar
}

func NewLogger(opts Options) *slog.Logger {
	writer := opts.Writer
	if writer == nil {
		writer = os.Stderr
	}
	var level slog.Leveler = ParseLevel(opts.Level)
	if opts.LevelVar != nil {
		opts.LevelVar.Set(ParseLevel(opts.Level))
		level = opts.LevelVar
	}
	h := slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: level})
	lg := slog.New(h)
	if strings.TrimSpace(opts.Component) != "" {
		lg = lg.With("component", strings.TrimSpace(opts.Component))
	}
	return lg
}

// ResolveLevel returns the first non-empty level name, or "info".
func ResolveLevel(candidates ...string) string {
	for _, c := range candidates {
		if c = strings.TrimSpace(c); c != "" {
			return strings.ToLower(c)
		}
	}
	return "info"
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
