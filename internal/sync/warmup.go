package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/tarimpazar/agrisync/internal/remote"
)

// Warmup hydrates collections whose cache is still empty, typically on the
// first start of a fresh installation. Unlike the regular refresh it retries
// while the remote is unreachable, so a flaky first connection does not leave
// the user with nothing to browse.
type Warmup struct {
	repos       []Reconciler
	maxAttempts int
	log         *slog.Logger
	writer      io.Writer // for summary output (os.Stdout in production)
}

// NewWarmup creates a Warmup over repos. writer receives a human-readable
// summary; it may be io.Discard.
func NewWarmup(repos []Reconciler, logger *slog.Logger, writer io.Writer) *Warmup {
	return &Warmup{
		repos:       repos,
		maxAttempts: defaultMaxAttempts,
		log:         logger,
		writer:      writer,
	}
}

// warmResult is what Run did for one collection.
type warmResult struct {
	name    string
	skipped bool
	stats   Stats
	err     error
}

// Run refreshes every empty collection. It returns true if at least one
// collection was hydrated. Collections that already hold data are left to
// the normal freshness policy.
func (w *Warmup) Run(ctx context.Context) (bool, error) {
	var (
		results []warmResult
		errs    []error
		ran     bool
	)
	for _, r := range w.repos {
		st, err := r.Status(ctx)
		if err != nil {
			return false, fmt.Errorf("checking %s cache: %w", r.Name(), err)
		}
		if st.Count > 0 {
			w.log.Debug("cache is not empty, skipping warmup", "collection", r.Name(), "count", st.Count)
			results = append(results, warmResult{name: r.Name(), skipped: true})
			continue
		}

		w.log.Info("empty cache detected, starting warmup", "collection", r.Name())
		res := warmResult{name: r.Name()}
		res.err = Retry(ctx, w.maxAttempts, func() error {
			var err error
			res.stats, err = r.RefreshNow(ctx)
			if err != nil && remote.KindOf(err) != remote.Unreachable {
				return Permanent(err)
			}
			return err
		})
		if res.err != nil {
			errs = append(errs, fmt.Errorf("warming %s: %w", r.Name(), res.err))
		} else {
			ran = true
		}
		results = append(results, res)
	}

	w.printSummary(results)
	return ran, errors.Join(errs...)
}

// printSummary writes a human-readable summary of the warmup.
func (w *Warmup) printSummary(results []warmResult) {
	_, _ = fmt.Fprintf(w.writer, "\n--- Cache Warmup Summary ---\n\n")
	for _, r := range results {
		switch {
		case r.skipped:
			_, _ = fmt.Fprintf(w.writer, "  %-14s already cached\n", r.name)
		case r.err != nil:
			reason, _ := Explain(r.err)
			_, _ = fmt.Fprintf(w.writer, "  %-14s failed (%s)\n", r.name, reason)
		default:
			_, _ = fmt.Fprintf(w.writer, "  %-14s %d fetched, %d cached, %d skipped\n",
				r.name, r.stats.Fetched, r.stats.Upserted+r.stats.Unchanged, r.stats.Skipped)
		}
	}
	_, _ = fmt.Fprintln(w.writer)
}
