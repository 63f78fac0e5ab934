package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"bridgeconnector/internal/alias"
	"bridgeconnector/internal/client"
	"bridgeconnector/internal/config"
	"bridgeconnector/internal/db"
	"bridgeconnector/internal/envfile"
	"bridgeconnector/internal/history"
	"bridgeconnector/internal/panel"
	"bridgeconnector/internal/settings"
)

func runInit(out io.Writer, cfg config.Config, apiKey string, force, panelAssets bool) error {
	if err := envfile.WriteTemplate(cfg.Workspace, apiKey, force); err != nil {
		if errors.Is(err, envfile.ErrExists) {
			return exitError(fmt.Sprintf("%s already exists; use --force to overwrite", envfile.Path(cfg.Workspace)))
		}
		return err
	}
	fmt.Fprintf(out, "wrote %s\n", envfile.Path(cfg.Workspace))

	if panelAssets {
		dir := panel.PublicDir(cfg.Workspace)
		if _, err := os.Stat(dir); err == nil {
			fmt.Fprintf(out, "kept existing %s\n", dir)
			return nil
		}
		if err := os.CopyFS(dir, panel.AssetsFS()); err != nil {
			return fmt.Errorf("copy panel assets: %w", err)
		}
		fmt.Fprintf(out, "wrote %s\n", dir)
	}
	return nil
}

// bridgeClient targets the bridge described by the workspace .env and settings.
func bridgeClient(cfg config.Config) (*client.Client, error) {
	values, err := envfile.Read(cfg.Workspace)
	if err != nil {
		return nil, err
	}
	if values.APIKey == "" {
		return nil, exitError(envfile.KeyAPIKey + " is not set in " + envfile.Path(cfg.Workspace))
	}
	port := values.BridgePortOrDefault()
	st, err := settings.NewStore(cfg.ConfigDir).LoadOrInit()
	if err != nil {
		return nil, err
	}
	if st.Port > 0 {
		port = st.Port
	}
	base := client.BaseURL(values.BridgeProtocolOrDefault(), values.BridgeHostOrDefault(), port)
	return client.NewClient(base, values.APIKey), nil
}

func runSend(ctx context.Context, out io.Writer, cfg config.Config, command, rawArgs string) error {
	var args any
	if rawArgs != "" {
		if !json.Valid([]byte(rawArgs)) {
			return exitError("json-args is not valid JSON")
		}
		args = json.RawMessage(rawArgs)
	}
	c, err := bridgeClient(cfg)
	if err != nil {
		return err
	}
	res, err := c.Execute(ctx, command, args)
	if err != nil {
		return err
	}
	b, err := json.MarshalIndent(res.Result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s -> %s\n", res.Command, b)
	return nil
}

func runStatus(ctx context.Context, out io.Writer, cfg config.Config) error {
	c, err := bridgeClient(cfg)
	if err != nil {
		return err
	}
	h, err := c.Health(ctx)
	if err != nil {
		return fmt.Errorf("bridge is not reachable: %w", err)
	}
	uptime := (time.Duration(h.Uptime) * time.Second).String()
	fmt.Fprintf(out, "status=%s version=%s uptime=%s\n", h.Status, h.Version, uptime)
	return nil
}

func openHistory(cfg config.Config) (*history.Store, func() error, error) {
	gdb, err := db.Open(cfg.HistoryDBPath())
	if err != nil {
		return nil, nil, err
	}
	hs, err := history.NewStore(gdb, nil)
	if err != nil {
		_ = db.Close(gdb)
		return nil, nil, err
	}
	return hs, func() error { return db.Close(gdb) }, nil
}

func runHistoryList(out io.Writer, cfg config.Config, limit int) error {
	hs, closeDB, err := openHistory(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeDB() }()

	entries, err := hs.List(limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "no commands recorded")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tCOMMAND\tREQUESTED AS\tOK\tDURATION\tERROR")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\t%s\n",
			e.ExecutedAt.Format(time.RFC3339), e.Command, e.RequestedAs, e.Success, e.Duration, e.Error)
	}
	return tw.Flush()
}

func runHistoryClear(out io.Writer, cfg config.Config) error {
	hs, closeDB, err := openHistory(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeDB() }()
	if err := hs.Clear(); err != nil {
		return err
	}
	fmt.Fprintln(out, "history cleared")
	return nil
}

func runAliases(out io.Writer) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ALIAS\tCOMMAND")
	for _, e := range alias.Known() {
		fmt.Fprintf(tw, "%s\t%s\n", e.Alias, e.Canonical)
	}
	return tw.Flush()
}
