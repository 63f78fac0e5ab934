package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"gorm.io/gorm"

	"bridgeconnector/internal/bridge"
	"bridgeconnector/internal/builtin"
	"bridgeconnector/internal/db"
	"bridgeconnector/internal/dispatch"
	"bridgeconnector/internal/editorlink"
	"bridgeconnector/internal/envfile"
	"bridgeconnector/internal/history"
	"bridgeconnector/internal/lifecycle"
	"bridgeconnector/internal/logging"
	"bridgeconnector/internal/panel"
	"bridgeconnector/internal/settings"
)

type Application struct {
	opts     StartOptions
	logger   *slog.Logger
	levelVar *slog.LevelVar

	settingsStore *settings.Store
	mu            sync.Mutex
	settings      settings.Settings

	link     *editorlink.Link
	notifier bridge.Notifier
	bridge   *bridge.Server
	history *history.Store
	gdb     *gorm.DB
	dbOnce  sync.Once
	mgr     *lifecycle.Manager

	runFn      func(context.Context) error
	shutdownFn func(context.Context) error
}

// StartApplication wires the bridge runtime. Nothing listens until Run.
func StartApplication(_ context.Context, opts StartOptions) (*Application, error) {
	opts.Workspace = strings.TrimSpace(opts.Workspace)
	if opts.Workspace == "" {
		return nil, errors.New("workspace is required")
	}
	opts.ConfigDir = strings.TrimSpace(opts.ConfigDir)
	if opts.ConfigDir == "" {
		return nil, errors.New("config dir is required")
	}
	if strings.TrimSpace(opts.HistoryDBPath) == "" {
		opts.HistoryDBPath = filepath.Join(opts.ConfigDir, "history.db")
	}

	store := settings.NewStore(opts.ConfigDir)
	cfg, err := store.LoadOrInit()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	levelVar := new(slog.LevelVar)
	lg := logging.NewLogger(logging.Options{
		Level:     logging.ResolveLevel(opts.LogLevel, cfg.LogLevel),
		Writer:    opts.LogWriter,
		Component: "bridgeconnector",
		LevelVar:  levelVar,
	})

	app := &Application{
		opts:          opts,
		logger:        lg,
		levelVar:      levelVar,
		settingsStore: store,
		settings:      cfg,
		link:          editorlink.New(lg),
	}

	dispatchOpts := []dispatch.Option{dispatch.WithLogger(lg)}
	if cfg.History.Enabled {
		gdb, err := db.Open(opts.HistoryDBPath)
		if err != nil {
			return nil, fmt.Errorf("open history db: %w", err)
		}
		hs, err := history.NewStore(gdb, lg)
		if err != nil {
			_ = db.Close(gdb)
			return nil, err
		}
		app.gdb = gdb
		app.history = hs
		dispatchOpts = append(dispatchOpts, dispatch.WithRecorder(hs))
	}
	dispatcher := dispatch.New(builtin.New(app.link, opts.Version), dispatchOpts...)

	notifiers := []bridge.Notifier{bridge.LogNotifier(lg), app.link}
	if opts.Hooks.Notifier != nil {
		notifiers = append(notifiers, opts.Hooks.Notifier)
	}
	app.notifier = bridge.MultiNotifier(notifiers...)
	app.bridge = bridge.NewServer(bridge.Options{
		Config:          bridge.ConfigProviderFunc(app.bridgeSettings),
		Dispatcher:      dispatcher,
		EditorLink:      app.link,
		Notifier:        app.notifier,
		OnStatusChange:  app.onBridgeStatus,
		Logger:          lg,
		Version:         opts.Version,
		BodyReadTimeout: opts.BodyReadTimeout,
		ShutdownGrace:   opts.ShutdownGrace,
	})

	if values, err := envfile.Read(opts.Workspace); err == nil {
		app.publishPanelConfig(values)
	} else {
		lg.Warn("read workspace .env failed", "err", err)
	}

	mgr := lifecycle.NewManager(lifecycle.WithLogger(lg.With("module", "lifecycle")))
	mgr.AddRun("bridge", app.runBridge)
	mgr.AddRun("env-watcher", app.sideJob("Workspace .env watcher", func(ctx context.Context) error {
		return envfile.Watch(ctx, opts.Workspace, lg, app.publishPanelConfig)
	}))
	if opts.Panel || cfg.Panel.Enabled {
		mgr.AddRun("panel", app.sideJob("Main panel", app.runPanel))
	}
	mgr.AddReload("settings", app.reloadSettings)
	mgr.AddReload("restart-bridge", app.restartBridge)
	mgr.ReloadOn(syscall.SIGHUP)
	mgr.AddShutdown("bridge-stop", func(context.Context) error {
		return app.bridge.Stop()
	})
	mgr.AddShutdown("close-history-db", func(context.Context) error {
		return app.closeHistory()
	})
	app.mgr = mgr

	app.setRunHook(func(ctx context.Context) error {
		return mgr.StartAndWait(ctx)
	})
	app.setShutdownHook(func(context.Context) error {
		return errors.Join(app.bridge.Stop(), app.closeHistory())
	})
	return app, nil
}

// bridgeSettings is read on every start so restarts pick up .env edits.
func (a *Application) bridgeSettings() (bridge.Settings, error) {
	values, err := envfile.Read(a.opts.Workspace)
	if err != nil {
		return bridge.Settings{}, err
	}
	port := values.BridgePortOrDefault()
	if p := a.Settings().Port; p > 0 {
		port = p
	}
	if a.opts.Port > 0 {
		port = a.opts.Port
	}
	return bridge.Settings{
		Host:   values.BridgeHostOrDefault(),
		Port:   port,
		Secret: values.APIKey,
	}, nil
}

func (a *Application) runBridge(ctx context.Context) error {
	if a.Settings().Enable {
		// Start failures are reported by the server itself; a reload retries.
		if err := a.bridge.Start(ctx); errors.Is(err, bridge.ErrInstanceActive) {
			return err
		}
	} else {
		a.logger.Info("bridge auto-start disabled in settings")
	}
	<-ctx.Done()
	return nil
}

// sideJob reports a failure of an auxiliary job and keeps running, so the
// bridge outlives it.
func (a *Application) sideJob(name string, run func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		err := run(ctx)
		if err == nil || ctx.Err() != nil {
			return nil
		}
		a.logger.Error("auxiliary job failed", "job", name, "err", err)
		a.notifier.Notify(bridge.LevelError, name+" failed: "+err.Error())
		<-ctx.Done()
		return nil
	}
}

func (a *Application) runPanel(ctx context.Context) error {
	values, err := envfile.Read(a.opts.Workspace)
	if err != nil {
		return err
	}
	port := values.MainPanelPortOrDefault()
	if err := panel.Run(ctx, a.opts.Workspace, port, a.logger.With("module", "panel")); err != nil {
		return fmt.Errorf("serve on port %d: %w", port, err)
	}
	return nil
}

func (a *Application) reloadSettings(context.Context) error {
	cfg, err := a.settingsStore.LoadOrInit()
	if err != nil {
		return err
	}
	a.mu.Lock()
	prev := a.settings
	a.settings = cfg
	a.mu.Unlock()

	a.levelVar.Set(logging.ParseLevel(logging.ResolveLevel(a.opts.LogLevel, cfg.LogLevel)))
	if prev.History.Enabled != cfg.History.Enabled || prev.Panel.Enabled != cfg.Panel.Enabled {
		a.logger.Warn("history and panel settings take effect on the next launch")
	}
	return nil
}

func (a *Application) restartBridge(ctx context.Context) error {
	if err := a.bridge.Stop(); err != nil {
		a.logger.Warn("bridge stop during restart failed", "err", err)
	}
	if !a.Settings().Enable {
		return nil
	}
	return a.bridge.Start(ctx)
}

func (a *Application) publishPanelConfig(values envfile.Values) {
	url := values.ForwardablePanelURL()
	if url == "" {
		return
	}
	a.link.PublishPanelConfig(url, values.PanelTitleOrDefault())
}

func (a *Application) onBridgeStatus(running bool) {
	a.link.PublishStatus(running)
	if a.opts.Hooks.OnBridgeStatus != nil {
		a.opts.Hooks.OnBridgeStatus(running)
	}
}

func (a *Application) closeHistory() error {
	var err error
	a.dbOnce.Do(func() {
		err = db.Close(a.gdb)
	})
	return err
}

func (a *Application) Settings() settings.Settings {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.settings
}

func (a *Application) Logger() *slog.Logger {
	if a == nil {
		return slog.Default()
	}
	return a.logger
}

func (a *Application) Bridge() *bridge.Server {
	if a == nil {
		return nil
	}
	return a.bridge
}

// History is nil unless history is enabled in settings.
func (a *Application) History() *history.Store {
	if a == nil {
		return nil
	}
	return a.history
}

// Reload re-reads settings and restarts the bridge, as SIGHUP does.
func (a *Application) Reload() {
	if a == nil || a.mgr == nil {
		return
	}
	a.mgr.Reload()
}

func (a *Application) Run(ctx context.Context) error {
	if a == nil || a.runFn == nil {
		return nil
	}
	return a.runFn(ctx)
}

func (a *Application) Shutdown(ctx context.Context) error {
	if a == nil || a.shutdownFn == nil {
		return nil
	}
	return a.shutdownFn(ctx)
}
