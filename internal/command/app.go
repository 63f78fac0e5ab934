package command

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"bridgeconnector/internal/config"
)

type ServeOptions struct {
	Port  int
	Panel bool
}

type Deps struct {
	LoadConfig func() config.Config
	RunServe   func(context.Context, config.Config, ServeOptions) error
	RunPanel   func(context.Context, config.Config, int) error
	NewAPIKey  func() string
	Stdout     io.Writer
}

func BuildApp(deps Deps) *cli.App {
	return &cli.App{
		Name:  "bridgeconnector",
		Usage: "local HTTP bridge that triggers editor commands",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "workspace", Aliases: []string{"w"}, Usage: "workspace directory holding .env", EnvVars: []string{"BRIDGE_WORKSPACE"}},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error", EnvVars: []string{"BRIDGE_LOG_LEVEL"}},
		},
		Action: func(ctx *cli.Context) error {
			return runServe(ctx.Context, deps, loadConfig(ctx, deps), ServeOptions{})
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "run the bridge until interrupted; SIGHUP restarts it",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "port", Usage: "override the bridge port"},
					&cli.BoolFlag{Name: "panel", Usage: "also serve the companion panel"},
				},
				Action: func(ctx *cli.Context) error {
					return runServe(ctx.Context, deps, loadConfig(ctx, deps), ServeOptions{
						Port:  ctx.Int("port"),
						Panel: ctx.Bool("panel"),
					})
				},
			},
			{
				Name:  "panel",
				Usage: "serve only the companion panel",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "port", Usage: "override MAIN_PANEL_PORT"},
				},
				Action: func(ctx *cli.Context) error {
					if deps.RunPanel == nil {
						return errors.New("panel runner is not configured")
					}
					return deps.RunPanel(ctx.Context, loadConfig(ctx, deps), ctx.Int("port"))
				},
			},
			{
				Name:  "init",
				Usage: "write a workspace .env with a fresh API key",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "force", Usage: "overwrite an existing .env"},
					&cli.BoolFlag{Name: "panel-assets", Usage: "copy the default panel into main-panel/public"},
				},
				Action: func(ctx *cli.Context) error {
					return runInit(stdout(deps), loadConfig(ctx, deps), newAPIKey(deps), ctx.Bool("force"), ctx.Bool("panel-assets"))
				},
			},
			{
				Name:      "send",
				Usage:     "post a command to the running bridge",
				ArgsUsage: "<command> [json-args]",
				Action: func(ctx *cli.Context) error {
					if ctx.NArg() < 1 || ctx.NArg() > 2 {
						return cli.Exit("usage: bridgeconnector send <command> [json-args]", 2)
					}
					return runSend(ctx.Context, stdout(deps), loadConfig(ctx, deps), ctx.Args().Get(0), ctx.Args().Get(1))
				},
			},
			{
				Name:  "status",
				Usage: "query the bridge health endpoint",
				Action: func(ctx *cli.Context) error {
					return runStatus(ctx.Context, stdout(deps), loadConfig(ctx, deps))
				},
			},
			{
				Name:  "history",
				Usage: "inspect the command history log",
				Subcommands: []*cli.Command{
					{
						Name:  "list",
						Usage: "show the most recent commands",
						Flags: []cli.Flag{
							&cli.IntFlag{Name: "limit", Value: 20, Usage: "number of entries"},
						},
						Action: func(ctx *cli.Context) error {
							return runHistoryList(stdout(deps), loadConfig(ctx, deps), ctx.Int("limit"))
						},
					},
					{
						Name:  "clear",
						Usage: "delete all recorded commands",
						Action: func(ctx *cli.Context) error {
							return runHistoryClear(stdout(deps), loadConfig(ctx, deps))
						},
					},
				},
			},
			{
				Name:  "aliases",
				Usage: "list command aliases and their canonical names",
				Action: func(*cli.Context) error {
					return runAliases(stdout(deps))
				},
			},
		},
	}
}

func loadConfig(ctx *cli.Context, deps Deps) config.Config {
	var cfg config.Config
	if deps.LoadConfig != nil {
		cfg = deps.LoadConfig()
	} else {
		cfg = config.LoadConfig()
	}
	if ws := strings.TrimSpace(ctx.String("workspace")); ws != "" {
		if abs, err := filepath.Abs(ws); err == nil {
			ws = abs
		}
		cfg.Workspace = ws
	}
	if lvl := strings.TrimSpace(ctx.String("log-level")); lvl != "" {
		cfg.LogLevel = strings.ToLower(lvl)
	}
	return cfg
}

func runServe(ctx context.Context, deps Deps, cfg config.Config, opts ServeOptions) error {
	if deps.RunServe == nil {
		return errors.New("serve runner is not configured")
	}
	return deps.RunServe(ctx, cfg, opts)
}

func stdout(deps Deps) io.Writer {
	if deps.Stdout != nil {
		return deps.Stdout
	}
	return os.Stdout
}

func newAPIKey(deps Deps) string {
	if deps.NewAPIKey != nil {
		return deps.NewAPIKey()
	}
	return uuid.NewString()
}

func exitError(msg string) error {
	return cli.Exit(msg, 1)
}
