package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tarimpazar/agrisync/internal/freshness"
)

// Reconciler is the part of a Repository the Engine drives.
// Implemented by [Repository] and [ListingRepository].
type Reconciler interface {
	Name() string
	RefreshNow(ctx context.Context) (Stats, error)
	RefreshIfNeeded(ctx context.Context) freshness.Decision
	ClearExpiredCache(ctx context.Context) (int64, error)
	Status(ctx context.Context) (Status, error)
}

// EngineConfig holds the Engine's loop intervals.
type EngineConfig struct {
	// RefreshInterval is how often the freshness policy is re-checked.
	RefreshInterval time.Duration
	// PruneInterval is how often the retention sweep runs.
	PruneInterval time.Duration
}

// Engine runs the daemon: a periodic freshness check per collection, the
// retention sweep and refreshes triggered by change feeds. Create one with
// [NewEngine] and start it with [Engine.Run].
type Engine struct {
	repos  []Reconciler
	byName map[string]Reconciler
	feeds  []ChangeFeed
	cfg    EngineConfig
	log    *slog.Logger
}

// NewEngine creates an Engine over repos. feeds may be empty, in which case
// the engine runs polling-only.
func NewEngine(repos []Reconciler, feeds []ChangeFeed, cfg EngineConfig, logger *slog.Logger) *Engine {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 5 * time.Minute
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = time.Hour
	}
	byName := make(map[string]Reconciler, len(repos))
	for _, r := range repos {
		byName[r.Name()] = r
	}
	return &Engine{repos: repos, byName: byName, feeds: feeds, cfg: cfg, log: logger}
}

// RefreshAll refreshes every collection concurrently, regardless of
// freshness. The returned map holds the stats of each collection that
// committed; the error joins every failure.
func (e *Engine) RefreshAll(ctx context.Context) (map[string]Stats, error) {
	stats := make([]Stats, len(e.repos))
	errs := make([]error, len(e.repos))

	var g errgroup.Group
	for i, r := range e.repos {
		g.Go(func() error {
			stats[i], errs[i] = r.RefreshNow(ctx)
			if errs[i] != nil {
				errs[i] = fmt.Errorf("%s: %w", r.Name(), errs[i])
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]Stats, len(e.repos))
	for i, r := range e.repos {
		if errs[i] == nil {
			out[r.Name()] = stats[i]
		}
	}
	return out, errors.Join(errs...)
}

// Prune runs the retention sweep on every collection and returns how many
// records each lost.
func (e *Engine) Prune(ctx context.Context) (map[string]int64, error) {
	out := make(map[string]int64, len(e.repos))
	var errs []error
	for _, r := range e.repos {
		n, err := r.ClearExpiredCache(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out[r.Name()] = n
	}
	return out, errors.Join(errs...)
}

// Statuses returns the Status of every collection in registration order.
func (e *Engine) Statuses(ctx context.Context) ([]Status, error) {
	out := make([]Status, 0, len(e.repos))
	for _, r := range e.repos {
		st, err := r.Status(ctx)
		if err != nil {
			return out, fmt.Errorf("status of %s: %w", r.Name(), err)
		}
		out = append(out, st)
	}
	return out, nil
}

// Run starts the loops and blocks until ctx is cancelled. A change feed that
// fails is logged and the engine keeps polling.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return e.refreshLoop(ctx) })
	g.Go(func() error { return e.pruneLoop(ctx) })
	for _, f := range e.feeds {
		g.Go(func() error {
			err := f.Watch(ctx, func(collection string) { e.onChange(ctx, collection) })
			if err != nil && ctx.Err() == nil {
				e.log.Error("change feed ended unexpectedly", "error", err)
			}
			return nil
		})
	}

	err := g.Wait()
	e.log.Info("sync engine shutting down")
	return err
}

func (e *Engine) refreshLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.RefreshInterval)
	defer ticker.Stop()

	// Run an immediate first pass.
	e.checkAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.checkAll(ctx)
		}
	}
}

func (e *Engine) checkAll(ctx context.Context) {
	for _, r := range e.repos {
		d := r.RefreshIfNeeded(ctx)
		e.log.Debug("freshness check", "collection", r.Name(), "decision", d)
	}
}

func (e *Engine) pruneLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := e.Prune(ctx); err != nil {
				e.log.Error("retention sweep failed", "error", err)
			}
		}
	}
}

func (e *Engine) onChange(ctx context.Context, collection string) {
	r, ok := e.byName[collection]
	if !ok {
		e.log.Debug("change for unknown collection", "collection", collection)
		return
	}
	e.log.Info("change feed triggered refresh", "collection", collection)
	go func() {
		if _, err := r.RefreshNow(ctx); err != nil && ctx.Err() == nil {
			e.log.Error("feed-triggered refresh failed", "collection", collection, "error", err)
		}
	}()
}
