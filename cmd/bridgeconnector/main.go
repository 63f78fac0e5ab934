package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"bridgeconnector/internal/application"
	"bridgeconnector/internal/command"
	"bridgeconnector/internal/config"
	"bridgeconnector/internal/envfile"
	"bridgeconnector/internal/logging"
	"bridgeconnector/internal/panel"
)

var version = "dev"
var buildTime = "unknown"

var startApplication = application.StartApplication

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := command.BuildApp(command.Deps{
		LoadConfig: config.LoadConfig,
		RunServe:   runServe,
		RunPanel:   runPanel,
	})
	app.Version = version + " (" + buildTime + ")"

	if err := app.RunContext(rootCtx, os.Args); err != nil {
		logging.NewLogger(logging.Options{Level: "error", Writer: os.Stderr, Component: "bridgeconnector"}).Error("bridgeconnector failed", "err", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context, cfg config.Config, opts command.ServeOptions) error {
	app, err := startApplication(ctx, application.StartOptions{
		Workspace:       cfg.Workspace,
		ConfigDir:       cfg.ConfigDir,
		HistoryDBPath:   cfg.HistoryDBPath(),
		Port:            opts.Port,
		LogLevel:        cfg.LogLevel,
		LogWriter:       os.Stderr,
		Version:         version,
		Panel:           opts.Panel,
		BodyReadTimeout: cfg.BodyReadTimeout,
		ShutdownGrace:   cfg.ShutdownGrace,
	})
	if err != nil {
		return err
	}
	app.Logger().Info("bridgeconnector starting", "version", version, "workspace", cfg.Workspace)
	return app.Run(ctx)
}

func runPanel(ctx context.Context, cfg config.Config, port int) error {
	lg := logging.NewLogger(logging.Options{
		Level:     logging.ResolveLevel(cfg.LogLevel),
		Writer:    os.Stderr,
		Component: "bridgeconnector",
	})
	if port <= 0 {
		values, err := envfile.Read(cfg.Workspace)
		if err != nil {
			return err
		}
		port = values.MainPanelPortOrDefault()
	}
	return panel.Run(ctx, cfg.Workspace, port, lg.With("module", "panel"))
}
