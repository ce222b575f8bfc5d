// Agrisync keeps an offline copy of the agricultural price catalog and the
// machinery rental listings, reconciled against a remote MongoDB database.
//
// Usage:
//
//	agrisync init [--config <path>]             # interactive first-run wizard
//	agrisync daemon [--config <path>]           # keep the cache fresh
//	agrisync sync-once [--config <path>]        # refresh every collection then exit
//	agrisync list catalog|listings [flags]      # print cached records
//	agrisync deactivate <listing-id>            # soft-delete one listing
//	agrisync prune [--config <path>]            # run the retention sweep
//	agrisync status [--config <path>]           # show cache and config state
//	agrisync version                            # print version
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/tarimpazar/agrisync/internal/config"
	"github.com/tarimpazar/agrisync/internal/remote"
	"github.com/tarimpazar/agrisync/internal/remote/mongodb"
	"github.com/tarimpazar/agrisync/internal/setup"
	syncp "github.com/tarimpazar/agrisync/internal/sync"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

// run dispatches to the subcommand named by the first argument.
func run() error {
	if len(os.Args) < 2 {
		return printUsage()
	}

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "init":
		return runInit(args)
	case "daemon":
		return runDaemon(args)
	case "sync-once":
		return runSyncOnce(args)
	case "list":
		return runList(args)
	case "deactivate":
		return runDeactivate(args)
	case "prune":
		return runPrune(args)
	case "status":
		return runStatus(args)
	case "version":
		fmt.Println("agrisync", version)
		return nil
	case "-h", "--help", "help":
		return printUsage()
	}
	return fmt.Errorf("unknown command %q, run 'agrisync' for usage", cmd)
}

// printUsage shows help and suggests init if no config exists.
func printUsage() error {
	cfgPath, _ := config.DefaultPath()
	_, cfgErr := os.Stat(cfgPath)

	fmt.Fprintln(os.Stderr, "agrisync: offline cache for prices and rental listings")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  agrisync init                        Interactive first-run wizard")
	fmt.Fprintln(os.Stderr, "  agrisync daemon                      Keep the cache fresh in the background")
	fmt.Fprintln(os.Stderr, "  agrisync sync-once                   Refresh every collection then exit")
	fmt.Fprintln(os.Stderr, "  agrisync list catalog|listings       Print cached records (see --help)")
	fmt.Fprintln(os.Stderr, "  agrisync deactivate <listing-id>     Soft-delete one of your listings")
	fmt.Fprintln(os.Stderr, "  agrisync prune                       Drop records past their retention")
	fmt.Fprintln(os.Stderr, "  agrisync status                      Show cache and config state")
	fmt.Fprintln(os.Stderr, "  agrisync version                     Print version")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Every command accepts --config <path> and --verbose.")

	if cfgErr != nil {
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "No config file found. Run 'agrisync init' to get started.")
	}

	os.Exit(1)
	return nil // unreachable
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
}

// --- Subcommands -------------------------------------------------------------

// runInit launches the interactive setup wizard.
func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	g := addGlobalFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	logLevel := slog.LevelWarn
	if g.verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	ctx, stop := signalContext()
	defer stop()

	connect := func(ctx context.Context, uri, database string, timeout time.Duration) (setup.Remote, error) {
		c, err := mongodb.Connect(ctx, uri, database, timeout, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	wiz := setup.NewWizard(os.Stdin, os.Stdout, logger, connect)
	return wiz.Run(ctx, g.cfgPath)
}

// runDaemon warms empty caches and then runs the sync engine until
// interrupted.
func runDaemon(args []string) error {
	fs := flag.NewFlagSet("daemon", flag.ExitOnError)
	g := addGlobalFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	a, err := openApp(ctx, *g, appOptions{telemetry: true, notify: true})
	if err != nil {
		return err
	}
	defer a.Close()

	warmup := syncp.NewWarmup(a.reconcilers(), a.logger, os.Stdout)
	if _, err := warmup.Run(ctx); err != nil {
		// An empty cache is not fatal: the engine keeps retrying on its
		// refresh interval.
		a.logger.Error("cache warmup incomplete", "error", err)
	}

	engine := syncp.NewEngine(a.reconcilers(), a.feeds(), syncp.EngineConfig{
		RefreshInterval: a.cfg.RefreshInterval,
		PruneInterval:   a.cfg.MaintenanceInterval,
	}, a.logger)

	a.logger.Info("daemon starting",
		"refresh_interval", a.cfg.RefreshInterval,
		"maintenance_interval", a.cfg.MaintenanceInterval,
		"change_feeds", len(a.feeds()),
	)
	if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("sync engine: %w", err)
	}
	a.logger.Info("shutdown complete")
	return nil
}

// runSyncOnce refreshes every collection once.
func runSyncOnce(args []string) error {
	fs := flag.NewFlagSet("sync-once", flag.ExitOnError)
	g := addGlobalFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	a, err := openApp(ctx, *g, appOptions{telemetry: true})
	if err != nil {
		return err
	}
	defer a.Close()

	engine := syncp.NewEngine(a.reconcilers(), nil, syncp.EngineConfig{}, a.logger)
	stats, err := engine.RefreshAll(ctx)
	for _, name := range sortedKeys(stats) {
		st := stats[name]
		a.logger.Info("sync complete",
			"collection", name,
			"fetched", st.Fetched,
			"upserted", st.Upserted,
			"unchanged", st.Unchanged,
			"skipped", st.Skipped,
		)
	}
	if err != nil {
		reason, detail := syncp.Explain(err)
		return fmt.Errorf("refresh failed (%s): %s", reason, detail)
	}
	return nil
}

// runDeactivate soft-deletes one listing remotely and in the cache.
func runDeactivate(args []string) error {
	fs := flag.NewFlagSet("deactivate", flag.ExitOnError)
	g := addGlobalFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: agrisync deactivate [flags] <listing-id>")
	}
	id := fs.Arg(0)

	ctx, stop := signalContext()
	defer stop()

	a, err := openApp(ctx, *g, appOptions{notify: true})
	if err != nil {
		return err
	}
	defer a.Close()

	l, err := a.listings.Deactivate(ctx, id)
	if err != nil {
		if remote.IsNotFound(err) {
			return fmt.Errorf("listing %s does not exist", id)
		}
		reason, detail := syncp.Explain(err)
		return fmt.Errorf("deactivating listing %s (%s): %s", id, reason, detail)
	}
	fmt.Printf("✓ Listing %q deactivated at %s\n", l.Title, l.LastUpdated.Format(time.RFC3339))
	return nil
}

// runPrune runs the retention sweep once.
func runPrune(args []string) error {
	fs := flag.NewFlagSet("prune", flag.ExitOnError)
	g := addGlobalFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	a, err := openApp(ctx, *g, appOptions{localOnly: true})
	if err != nil {
		return err
	}
	defer a.Close()

	engine := syncp.NewEngine(a.reconcilers(), nil, syncp.EngineConfig{}, a.logger)
	removed, err := engine.Prune(ctx)
	for _, name := range sortedKeys(removed) {
		fmt.Printf("  %-14s %d removed\n", name, removed[name])
	}
	return err
}

// runStatus prints the configuration and the state of every cached
// collection.
func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	g := addGlobalFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Println("agrisync status")
	fmt.Println("───────────────")

	cfg, err := config.Load(g.cfgPath)
	if err != nil {
		if _, statErr := os.Stat(g.cfgPath); statErr != nil {
			fmt.Printf("  Config:    not found (%s)\n", g.cfgPath)
			fmt.Println("  Run 'agrisync init' to create one.")
			return nil
		}
		fmt.Printf("  Config:    %s (invalid: %v)\n", g.cfgPath, err)
		return nil
	}
	fmt.Printf("  Config:    %s ✓\n", g.cfgPath)
	fmt.Printf("  Database:  %s\n", cfg.Remote.Database)
	fmt.Printf("  Collation: %s\n", cfg.Collation)

	ctx, stop := signalContext()
	defer stop()

	a, err := openApp(ctx, *g, appOptions{localOnly: true})
	if err != nil {
		return err
	}
	defer a.Close()

	if info, err := os.Stat(a.dbPath); err == nil {
		fmt.Printf("  Cache DB:  %s (%s)\n", a.dbPath, humanSize(info.Size()))
	}
	fmt.Println("")

	engine := syncp.NewEngine(a.reconcilers(), nil, syncp.EngineConfig{}, a.logger)
	statuses, err := engine.Statuses(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  COLLECTION\tRECORDS\tLAST SYNC\tFRESHNESS\tLAST CHANGE")
	for _, st := range statuses {
		fmt.Fprintf(tw, "  %s\t%d\t%s\t%s\t%s\n",
			st.Collection, st.Count, formatTime(st.LastSyncAt), st.Decision, formatTime(st.LastModified))
	}
	return tw.Flush()
}

// --- Helpers -----------------------------------------------------------------

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04")
}

// humanSize returns a human-readable file size string.
func humanSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
