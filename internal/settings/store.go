package settings

import (
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

const settingsTOMLFileName = "settings.toml"

type HistorySettings struct {
	Enabled bool `toml:"enabled"`
}

type PanelSettings struct {
	Enabled bool `toml:"enabled"`
}

type Settings struct {
	// Port overrides BRIDGE_PORT from the workspace .env when non-zero.
	Port     int             `toml:"port"`
	Enable   bool            `toml:"enable"`
	LogLevel string          `toml:"log_level"`
	History  HistorySettings `toml:"history"`
	Panel    PanelSettings   `toml:"panel"`
}

func Defaults() Settings {
	return Settings{Enable: true, LogLevel: "info"}
}

type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) Path() string {
	return filepath.Join(s.dir, settingsTOMLFileName)
}

// LoadOrInit reads settings.toml, writing the defaults on first use.
// Keys missing from an existing file keep their default values.
func (s *Store) LoadOrInit() (Settings, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return Settings{}, err
	}

	path := s.Path()
	if b, err := os.ReadFile(path); err == nil {
		cfg := Defaults()
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return Settings{}, err
		}
		return normalize(cfg), nil
	} else if !os.IsNotExist(err) {
		return Settings{}, err
	}

	cfg := Defaults()
	if err := writeTOMLAtomically(path, cfg); err != nil {
		return Settings{}, err
	}
	return cfg, nil
}

func (s *Store) Save(cfg Settings) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	return writeTOMLAtomically(s.Path(), normalize(cfg))
}

func normalize(cfg Settings) Settings {
	if cfg.Port < 0 || cfg.Port > 65535 {
		cfg.Port = 0
	}
	level := strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	switch level {
	case "debug", "info", "warn", "error":
	case "warning":
		level = "warn"
	default:
		level = "info"
	}
	cfg.LogLevel = level
	return cfg
}

func writeTOMLAtomically(path string, v any) error {
	b, err := toml.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
