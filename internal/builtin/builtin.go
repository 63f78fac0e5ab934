package builtin

import (
	"context"
	"errors"

	"bridgeconnector/internal/alias"
	"bridgeconnector/internal/dispatch"
)

var errNoEditor = errors.New("no editor connected")

// Executor answers bridge-local commands itself and forwards everything else.
type Executor struct {
	next    dispatch.Executor
	version string
}

func New(next dispatch.Executor, version string) *Executor {
	if version == "" {
		version = "dev"
	}
	return &Executor{next: next, version: version}
}

func (e *Executor) ExecuteCommand(ctx context.Context, command string, args []any) (any, error) {
	switch command {
	case alias.BridgePing:
		return "pong", nil
	case alias.BridgeVersion:
		return e.version, nil
	}
	if e.next == nil {
		return nil, errNoEditor
	}
	return e.next.ExecuteCommand(ctx, command, args)
}

func (e *Executor) ShowMessage(ctx context.Context, severity dispatch.Severity, message string, actions []any) (any, error) {
	if e.next == nil {
		return nil, errNoEditor
	}
	return e.next.ShowMessage(ctx, severity, message, actions)
}

func (e *Executor) ShowOpenDialog(ctx context.Context, options map[string]any) (any, error) {
	if e.next == nil {
		return nil, errNoEditor
	}
	return e.next.ShowOpenDialog(ctx, options)
}

// Commands lists the command names handled without an editor.
func Commands() []string {
	return []string{alias.BridgePing, alias.BridgeVersion}
}
