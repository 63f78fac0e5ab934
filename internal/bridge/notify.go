package bridge

import "log/slog"

type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Notifier receives user-facing notices about the bridge lifecycle.
type Notifier interface {
	Notify(level Level, message string)
}

type NotifierFunc func(level Level, message string)

func (f NotifierFunc) Notify(level Level, message string) { f(level, message) }

func LogNotifier(lg *slog.Logger) Notifier {
	if lg == nil {
		lg = slog.Default()
	}
	return NotifierFunc(func(level Level, message string) {
		switch level {
		case LevelError:
			lg.Error(message)
		case LevelWarn:
			lg.Warn(message)
		default:
			lg.Info(message)
		}
	})
}

func MultiNotifier(ns ...Notifier) Notifier {
	out := make([]Notifier, 0, len(ns))
	for _, n := range ns {
		if n != nil {
			out = append(out, n)
		}
	}
	return NotifierFunc(func(level Level, message string) {
		for _, n := range out {
			n.Notify(level, message)
		}
	})
}
