package application

import (
	"context"

	"bridgeconnector/internal/bridge"
)

// Hooks lets callers observe the runtime without reaching into it.
type Hooks struct {
	Notifier       bridge.Notifier
	OnBridgeStatus func(running bool)
}

func (a *Application) setRunHook(fn func(context.Context) error) {
	if a == nil {
		return
	}
	a.runFn = fn
}

func (a *Application) setShutdownHook(fn func(context.Context) error) {
	if a == nil {
		return
	}
	a.shutdownFn = fn
}
