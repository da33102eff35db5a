package cmd

import (
	"context"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/apexsec/apex/internal/api"
	"github.com/apexsec/apex/internal/detect"
	"github.com/apexsec/apex/internal/importer"
	"github.com/apexsec/apex/internal/notify"
	"github.com/apexsec/apex/internal/ratelimit"
	"github.com/apexsec/apex/internal/scanner"
	"github.com/apexsec/apex/internal/scheduler"
	"github.com/apexsec/apex/internal/scope"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the auditor daemon: scheduler, HTTP API, and event stream",
	Long: `Run the continuous audit loop together with the local HTTP API.

The scheduler probes pending and stale assets on every tick; the API serves
the inventory, bulk import, triage actions, and a websocket event stream at
/ws for live UI updates.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "API listen address (overrides config)")
	serveCmd.Flags().Bool("no-api", false, "run the scheduler only, without the HTTP API")
}

func runServe(cmd *cobra.Command, args []string) error {
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.API.Addr = addr
	}
	if noAPI, _ := cmd.Flags().GetBool("no-api"); noAPI {
		cfg.API.Enabled = false
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gate := ratelimit.NewGate(cfg.Scanner.RateLimitMs)
	if value, ok, err := store.GetSetting(ctx, api.SettingRateLimitMs); err == nil && ok {
		if ms, err := strconv.Atoi(value); err == nil && ms > 0 {
			gate.SetInterval(ms)
		}
	}

	hub := notify.NewHub(log)
	scans := scanner.NewService(cfg.Scanner, gate, detect.NewEngine(), log)
	monitor := scheduler.NewMonitor(cfg.Monitor, store, scans, scope.NewGuard(), hub, log)
	imp := importer.New(store, hub, cfg.Monitor.RecentScanSkip, log)
	server := api.NewServer(cfg.API, store, imp, monitor, gate, hub, log)

	color.Cyan("Apex daemon starting\n")
	if cfg.API.Enabled {
		color.White("API:        http://localhost%s/api\n", cfg.API.Addr)
		color.White("Events:     ws://localhost%s/ws\n", cfg.API.Addr)
	}
	color.White("Database:   %s (%s)\n", cfg.Database.DSN, cfg.Database.Driver)
	color.White("Rate gate:  %s between probes\n\n", gate.Interval())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := monitor.Run(gctx)
		if err == context.Canceled {
			return nil
		}
		return err
	})
	if cfg.API.Enabled {
		g.Go(func() error {
			return server.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	color.Green("Shutdown complete\n")
	return nil
}
