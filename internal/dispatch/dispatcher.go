package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"bridgeconnector/internal/alias"
)

// Executor is the editor's command-execution capability. Calls may block on user
// interaction for as long as the context allows.
type Executor interface {
	ExecuteCommand(ctx context.Context, command string, args []any) (any, error)
	ShowMessage(ctx context.Context, severity Severity, message string, actions []any) (any, error)
	ShowOpenDialog(ctx context.Context, options map[string]any) (any, error)
}

// Result is the success body of a dispatched command.
type Result struct {
	Success   bool   `json:"success"`
	Command   string `json:"command"`
	Result    any    `json:"result"`
	Timestamp string `json:"timestamp"`
}

// ExecutionError wraps a failure reported by the Executor.
type ExecutionError struct {
	Command string
	Err     error
}

func (e *ExecutionError) Error() string {
	if e.Err == nil {
		return "command execution failed"
	}
	return e.Err.Error()
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Record describes one executed command for observers such as the history log.
type Record struct {
	Command     string
	RequestedAs string
	Success     bool
	Error       string
	Duration    time.Duration
	At          time.Time
}

type Recorder interface {
	Record(ctx context.Context, rec Record)
}

type Dispatcher struct {
	exec     Executor
	logger   *slog.Logger
	recorder Recorder
	now      func() time.Time
}

type Option func(*Dispatcher)

func WithLogger(lg *slog.Logger) Option {
	return func(d *Dispatcher) {
		if lg != nil {
			d.logger = lg
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) { d.recorder = r }
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

func New(exec Executor, opts ...Option) *Dispatcher {
	d := &Dispatcher{exec: exec, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch resolves the envelope's command and runs it exactly once.
// A non-nil error is always an *ExecutionError.
func (d *Dispatcher) Dispatch(ctx context.Context, env Envelope) (Result, error) {
	canonical := alias.Resolve(env.Command)
	if canonical != env.Command {
		d.logger.Info("command alias resolved", "requested", env.Command, "command", canonical)
	}
	d.logger.Debug("executing command", "command", canonical, "args", len(env.Args))

	if d.exec == nil {
		return Result{}, &ExecutionError{Command: canonical, Err: errors.New("command executor is not configured")}
	}

	started := d.now()
	result, err := d.execute(ctx, canonical, env.Args)
	d.record(ctx, env.Command, canonical, started, err)
	if err != nil {
		d.logger.Warn("command execution failed", "command", canonical, "err", err)
		return Result{}, &ExecutionError{Command: canonical, Err: err}
	}
	return Result{
		Success:   true,
		Command:   canonical,
		Result:    result,
		Timestamp: Timestamp(d.now()),
	}, nil
}

func (d *Dispatcher) execute(ctx context.Context, canonical string, args []any) (any, error) {
	switch kind := Classify(canonical); kind {
	case InfoMessage, WarningMessage, ErrorMessage:
		severity, fallback := kind.severity()
		text, actions := messageArgs(args, fallback)
		return d.exec.ShowMessage(ctx, severity, text, actions)
	case OpenDialog:
		return d.exec.ShowOpenDialog(ctx, dialogOptions(args))
	default:
		return d.exec.ExecuteCommand(ctx, canonical, args)
	}
}

func (d *Dispatcher) record(ctx context.Context, requested, canonical string, started time.Time, err error) {
	if d.recorder == nil {
		return
	}
	rec := Record{
		Command:     canonical,
		RequestedAs: requested,
		Success:     err == nil,
		Duration:    d.now().Sub(started),
		At:          started,
	}
	if err != nil {
		rec.Error = err.Error()
	}
	d.recorder.Record(ctx, rec)
}

// Timestamp formats t the way every bridge response carries it.
func Timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}
