package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/tarimpazar/agrisync/internal/config"
	"github.com/tarimpazar/agrisync/internal/model"
	"github.com/tarimpazar/agrisync/internal/notify"
	"github.com/tarimpazar/agrisync/internal/query"
	"github.com/tarimpazar/agrisync/internal/remote"
	"github.com/tarimpazar/agrisync/internal/remote/mongodb"
	"github.com/tarimpazar/agrisync/internal/store"
	syncp "github.com/tarimpazar/agrisync/internal/sync"
	"github.com/tarimpazar/agrisync/internal/telemetry"
)

type globalFlags struct {
	cfgPath string
	verbose bool
}

func addGlobalFlags(fs *flag.FlagSet) *globalFlags {
	g := &globalFlags{}
	defaultCfg, _ := config.DefaultPath()
	fs.StringVar(&g.cfgPath, "config", defaultCfg, "path to config.yaml")
	fs.BoolVar(&g.verbose, "verbose", false, "enable debug logging")
	return g
}

// appOptions selects which outer dependencies a command needs.
type appOptions struct {
	// telemetry enables OTLP export when the config has a telemetry block.
	telemetry bool
	// notify connects to RabbitMQ when the config has a notify block.
	notify bool
	// localOnly skips the remote connection; refreshes fail as offline.
	localOnly bool
}

// app is everything a command needs, wired from the config file.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	dbPath string
	db     *store.DB

	mongo    *mongodb.Client  // nil when offline
	notifier *notify.RabbitMQ // nil when not configured

	engine   *query.Engine
	catalog  *syncp.Repository[model.CatalogItem]
	listings *syncp.ListingRepository

	closers []func()
}

// openApp loads the config, opens the cache and connects the remote. A
// remote that cannot be reached is not fatal: the repositories fall back to
// an offline source and serve the cache.
func openApp(ctx context.Context, g globalFlags, opts appOptions) (*app, error) {
	cfg, err := config.Load(g.cfgPath)
	if err != nil {
		return nil, fmt.Errorf("loading config from %q: %w", g.cfgPath, err)
	}
	a := &app{cfg: cfg}

	// --- Logger & telemetry --------------------------------------------------

	level := cfg.Level()
	if g.verbose {
		level = slog.LevelDebug
	}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})

	var telErr error
	if opts.telemetry && cfg.Telemetry != nil {
		shutdownTel, err := telemetry.Setup(ctx, telemetry.Config{
			OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
			Insecure:       cfg.Telemetry.Insecure,
			ServiceName:    cfg.Telemetry.ServiceName,
			ServiceVersion: version,
			Headers:        cfg.Telemetry.Headers,
		})
		if err != nil {
			telErr = err
		} else {
			handler = telemetry.Bridge(handler)
			a.closers = append(a.closers, func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTel(flushCtx); err != nil {
					a.logger.Error("telemetry shutdown error", "error", err)
				}
			})
		}
	}
	a.logger = slog.New(handler)
	slog.SetDefault(a.logger)
	if telErr != nil {
		a.logger.Error("telemetry setup failed, continuing without telemetry", "error", telErr)
	} else if opts.telemetry && cfg.Telemetry != nil {
		a.logger.Info("telemetry enabled", "endpoint", cfg.Telemetry.OTLPEndpoint)
	}

	// --- Cache DB ------------------------------------------------------------

	if a.dbPath, err = cfg.DBPath(); err != nil {
		a.Close()
		return nil, err
	}
	if a.dbPath == "" {
		if a.dbPath, err = store.DefaultDBPath(); err != nil {
			a.Close()
			return nil, fmt.Errorf("resolving cache DB path: %w", err)
		}
	}
	if a.db, err = store.Open(a.dbPath, cfg.Language()); err != nil {
		a.Close()
		return nil, fmt.Errorf("opening cache DB at %q: %w", a.dbPath, err)
	}
	a.logger.Debug("cache DB opened", "path", a.dbPath)

	// --- Remote --------------------------------------------------------------

	var (
		catalogSrc  remote.Source[model.CatalogItem]
		listingsSrc remote.Source[model.Listing]
	)
	if opts.localOnly {
		offline := &remote.Fault{Kind: remote.Unreachable, Op: "connect", Detail: "remote disabled for this command"}
		catalogSrc = remote.Offline[model.CatalogItem]{Err: offline}
		listingsSrc = remote.Offline[model.Listing]{Err: offline}
	} else if client, err := mongodb.Connect(ctx, cfg.Remote.URI, cfg.Remote.Database, cfg.Remote.Timeout, a.logger); err != nil {
		a.logger.Warn("remote unavailable, serving the local cache", "error", err)
		catalogSrc = remote.Offline[model.CatalogItem]{Err: err}
		listingsSrc = remote.Offline[model.Listing]{Err: err}
	} else {
		a.mongo = client
		catalogSrc = mongodb.Catalog(client)
		listingsSrc = mongodb.Listings(client)
	}

	// --- Notifications (optional) --------------------------------------------

	var announce syncp.Announcer
	if opts.notify && cfg.Notify != nil {
		n, err := notify.NewRabbitMQ(notify.Config{
			URL:        cfg.Notify.URL,
			Exchange:   cfg.Notify.Exchange,
			RoutingKey: cfg.Notify.RoutingKey,
			QueueName:  cfg.Notify.Queue,
		}, a.logger)
		if err != nil {
			a.logger.Error("notifications disabled", "error", err)
		} else {
			a.notifier = n
			announce = n
		}
	}

	// --- Repositories --------------------------------------------------------

	a.engine = query.NewEngine(cfg.Language())
	a.catalog = syncp.NewCatalogRepository(a.db.Catalog(), catalogSrc, a.engine, syncp.Options{
		Policy:  cfg.Collections.Catalog.Policy(),
		Timeout: 4 * cfg.Remote.Timeout,
		Logger:  a.logger,
	})
	a.listings = syncp.NewListingRepository(a.db.Listings(), listingsSrc, a.engine, announce, syncp.Options{
		Policy:  cfg.Collections.Listings.Policy(),
		Timeout: 4 * cfg.Remote.Timeout,
		Logger:  a.logger,
	})
	return a, nil
}

// reconcilers returns the repositories in display order.
func (a *app) reconcilers() []syncp.Reconciler {
	return []syncp.Reconciler{a.catalog, a.listings}
}

// feeds returns the configured change feeds.
func (a *app) feeds() []syncp.ChangeFeed {
	var feeds []syncp.ChangeFeed
	if a.mongo != nil && a.cfg.Remote.ChangeStreams {
		feeds = append(feeds, a.mongo.Watcher(model.CollectionCatalog, model.CollectionListings))
	}
	if a.notifier != nil {
		feeds = append(feeds, a.notifier)
	}
	return feeds
}

// Close waits briefly for in-flight refreshes and releases every resource
// in reverse order of acquisition.
func (a *app) Close() {
	if a.catalog != nil {
		waitCtx, cancel := context.WithTimeout(context.Background(), 4*a.cfg.Remote.Timeout)
		_ = a.catalog.Wait(waitCtx)
		_ = a.listings.Wait(waitCtx)
		cancel()
	}
	if a.notifier != nil {
		if err := a.notifier.Close(); err != nil {
			a.logger.Error("closing rabbitmq", "error", err)
		}
	}
	if a.mongo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.mongo.Disconnect(ctx); err != nil {
			a.logger.Error("disconnecting from MongoDB", "error", err)
		}
		cancel()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error("closing cache DB", "error", err)
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
