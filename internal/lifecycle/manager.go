package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
)

type job struct {
	name string
	run  func(context.Context) error
}

// Manager runs long-lived jobs until the context ends or one of them fails,
// then runs the shutdown jobs in registration order. Reload jobs run between,
// whenever a reload signal arrives or Reload is called.
type Manager struct {
	logger *slog.Logger

	mu            sync.Mutex
	runJobs       []job
	shutdownJobs  []job
	reloadJobs    []job
	reloadSignals []os.Signal
	reloadCh      chan struct{}
}

type Option func(*Manager)

func WithLogger(lg *slog.Logger) Option {
	return func(m *Manager) {
		if lg != nil {
			m.logger = lg
		}
	}
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{logger: slog.Default(), reloadCh: make(chan struct{}, 1)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) AddRun(name string, fn func(context.Context) error) {
	m.add(&m.runJobs, name, fn)
}

func (m *Manager) AddShutdown(name string, fn func(context.Context) error) {
	m.add(&m.shutdownJobs, name, fn)
}

func (m *Manager) AddReload(name string, fn func(context.Context) error) {
	m.add(&m.reloadJobs, name, fn)
}

func (m *Manager) add(dst *[]job, name string, fn func(context.Context) error) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	*dst = append(*dst, job{name: name, run: fn})
	m.mu.Unlock()
}

// ReloadOn makes the given signals trigger the reload jobs.
func (m *Manager) ReloadOn(sig ...os.Signal) {
	m.mu.Lock()
	m.reloadSignals = append(m.reloadSignals, sig...)
	m.mu.Unlock()
}

// Reload requests one run of the reload jobs. Requests made while a reload is
// already queued collapse into it.
func (m *Manager) Reload() {
	select {
	case m.reloadCh <- struct{}{}:
	default:
	}
}

func (m *Manager) StartAndWait(parent context.Context, sig ...os.Signal) error {
	ctx := parent
	stopSignal := func() {}
	if len(sig) > 0 {
		var stop context.CancelFunc
		ctx, stop = signal.NotifyContext(parent, sig...)
		stopSignal = stop
	}
	defer stopSignal()

	runCtx, cancelRuns := context.WithCancel(ctx)
	defer cancelRuns()

	runJobs, shutdownJobs, reloadJobs, reloadSignals := m.snapshot()

	errCh := make(chan error, len(runJobs))
	var wg sync.WaitGroup
	for _, j := range runJobs {
		j := j
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := j.run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- err
				cancelRuns()
			}
		}()
	}

	doneCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(doneCh)
	}()

	reloadDone := make(chan struct{})
	go func() {
		defer close(reloadDone)
		m.reloadLoop(runCtx, reloadJobs, reloadSignals)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		cancelRuns()
	case err := <-errCh:
		runErr = err
		cancelRuns()
	case <-doneCh:
		cancelRuns()
	}

	<-doneCh
	<-reloadDone

	var shutdownErr error
	for _, j := range shutdownJobs {
		if err := j.run(context.Background()); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Warn("shutdown job failed", "job", j.name, "err", err)
			shutdownErr = errors.Join(shutdownErr, err)
		}
	}
	return errors.Join(runErr, shutdownErr)
}

func (m *Manager) reloadLoop(ctx context.Context, jobs []job, sigs []os.Signal) {
	var sigCh chan os.Signal
	if len(sigs) > 0 {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, sigs...)
		defer signal.Stop(sigCh)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-sigCh:
			m.logger.Info("reload signal received", "signal", s.String())
		case <-m.reloadCh:
		}
		for _, j := range jobs {
			if err := j.run(ctx); err != nil {
				m.logger.Warn("reload job failed", "job", j.name, "err", err)
			}
		}
	}
}

func (m *Manager) snapshot() (runJobs, shutdownJobs, reloadJobs []job, reloadSignals []os.Signal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]job(nil), m.runJobs...),
		append([]job(nil), m.shutdownJobs...),
		append([]job(nil), m.reloadJobs...),
		append([]os.Signal(nil), m.reloadSignals...)
}
