package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/tarimpazar/agrisync/internal/freshness"
	"github.com/tarimpazar/agrisync/internal/query"
	"github.com/tarimpazar/agrisync/internal/remote"
	"github.com/tarimpazar/agrisync/internal/store"
)

const (
	otelScope       = "agrisync/sync"
	spanRefresh     = "sync.refresh"
	attrCollection  = "sync.collection"
	metricRefreshes = "agrisync.sync.refreshes"
	metricFetched   = "agrisync.sync.items.fetched"
	metricUpserted  = "agrisync.sync.items.upserted"
	metricSkipped   = "agrisync.sync.items.skipped"
	metricErrors    = "agrisync.sync.errors"

	defaultTimeout = 30 * time.Second
)

// State is the reconciliation state of a collection.
type State int

const (
	Idle State = iota
	Refreshing
)

func (s State) String() string {
	if s == Refreshing {
		return "refreshing"
	}
	return "idle"
}

// Outcome is how the most recent refresh ended.
type Outcome int

const (
	NeverRefreshed Outcome = iota
	Committed
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Committed:
		return "committed"
	case Failed:
		return "failed"
	default:
		return "never"
	}
}

// Stats counts what a single refresh did.
type Stats struct {
	Fetched   int
	Upserted  int
	Unchanged int
	Skipped   int
}

// Filter selects and orders the items an observer sees.
type Filter[T any] struct {
	Text  string
	Order query.Order
	// Match, when set, keeps only the items it returns true for.
	Match func(T) bool
}

// Update is one emission of [Repository.Observe].
type Update[T any] struct {
	Items []T
	// Err is a storage fault from reading the snapshot, or the remote fault
	// of a forced refresh that could not complete.
	Err error
	// Degraded marks data served from an expired cache.
	Degraded bool
}

// Status is a point-in-time summary of a collection.
type Status struct {
	Collection   string
	State        State
	LastOutcome  Outcome
	LastError    error
	LastStats    Stats
	LastSyncAt   time.Time
	Decision     freshness.Decision
	Count        int
	LastModified time.Time
}

// Options configures a Repository.
type Options struct {
	Policy freshness.Policy
	// Timeout bounds one whole refresh (fetch and commit). Zero means 30s.
	Timeout time.Duration
	// Now overrides the clock; nil means time.Now.
	Now    func() time.Time
	Logger *slog.Logger
}

// flight is one in-progress refresh. Callers arriving while it runs wait on
// done instead of starting another fetch.
type flight struct {
	done   chan struct{}
	joined int
	stats  Stats
	err    error
}

// Repository reconciles one collection between the local store and the
// remote source. Create one with [NewRepository].
type Repository[T Entity] struct {
	local   LocalStore[T]
	remote  remote.Source[T]
	engine  *query.Engine
	policy  freshness.Policy
	timeout time.Duration
	now     func() time.Time
	log     *slog.Logger

	// primed is set once the first Expired observer has paid for a
	// synchronous refresh.
	primed atomic.Bool

	mu        gosync.Mutex
	inflight  *flight
	outcome   Outcome
	lastErr   error
	lastStats Stats

	tracer     trace.Tracer
	cntRefresh metric.Int64Counter
	cntFetched metric.Int64Counter
	cntUpsert  metric.Int64Counter
	cntSkipped metric.Int64Counter
	cntErrors  metric.Int64Counter
}

// NewRepository creates a Repository over local and src.
func NewRepository[T Entity](local LocalStore[T], src remote.Source[T], engine *query.Engine, opts Options) *Repository[T] {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("collection", local.Name())
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	tracer := otel.Tracer(otelScope)
	meter := otel.Meter(otelScope)

	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	return &Repository[T]{
		local:   local,
		remote:  src,
		engine:  engine,
		policy:  opts.Policy,
		timeout: opts.Timeout,
		now:     opts.Now,
		log:     logger,

		tracer:     tracer,
		cntRefresh: mustCounter(metricRefreshes, "Number of remote refreshes"),
		cntFetched: mustCounter(metricFetched, "Number of documents fetched from the remote"),
		cntUpsert:  mustCounter(metricUpserted, "Number of records written to the local cache"),
		cntSkipped: mustCounter(metricSkipped, "Number of remote documents skipped"),
		cntErrors:  mustCounter(metricErrors, "Number of failed refreshes"),
	}
}

// Name returns the collection name.
func (r *Repository[T]) Name() string { return r.local.Name() }

// Policy returns the freshness policy.
func (r *Repository[T]) Policy() freshness.Policy { return r.policy }

// Decide evaluates the freshness policy against the stored sync state. A
// sync state that cannot be read counts as Expired.
func (r *Repository[T]) Decide(ctx context.Context) (freshness.Decision, time.Time) {
	st, err := r.local.SyncState(ctx)
	if err != nil {
		r.log.Warn("reading sync state", "error", err)
		return freshness.Expired, time.Time{}
	}
	return r.policy.Decide(st.LastSyncAt, r.now()), st.LastSyncAt
}

// Observe returns a live view of the collection filtered by f. The first
// value is the current local snapshot; a new value follows every committed
// write. Depending on the freshness decision it also refreshes the cache:
//
//   - Fresh: no refresh.
//   - Stale: background refresh; failures are only logged.
//   - Expired: the first observer waits for a refresh and receives its
//     fault (if any) alongside the cached snapshot; later observers get a
//     background refresh.
//
// The channel is closed when ctx is done.
func (r *Repository[T]) Observe(ctx context.Context, f Filter[T]) <-chan Update[T] {
	out := make(chan Update[T], 1)
	go r.observe(ctx, f, out)
	return out
}

func (r *Repository[T]) observe(ctx context.Context, f Filter[T], out chan<- Update[T]) {
	defer close(out)

	var pending error
	decision, _ := r.Decide(ctx)
	r.log.Debug("observe", "decision", decision)
	switch decision {
	case freshness.Stale:
		r.refreshInBackground(ctx)
	case freshness.Expired:
		if r.primed.CompareAndSwap(false, true) {
			if _, err := r.RefreshNow(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				pending = err
			}
		} else {
			r.refreshInBackground(ctx)
		}
	}

	snaps := r.local.Subscribe(ctx)
	for {
		var snap store.Snapshot[T]
		var ok bool
		select {
		case <-ctx.Done():
			return
		case snap, ok = <-snaps:
			if !ok {
				return
			}
		}

		u := Update[T]{Items: r.apply(snap.Items, f), Err: snap.Err}
		switch {
		case pending == nil:
		case u.Err == nil:
			u.Err = pending
		default:
			// Keep the priming refresh's remote fault next to the storage fault.
			u.Err = errors.Join(u.Err, pending)
		}
		pending = nil
		if d, _ := r.Decide(ctx); d == freshness.Expired {
			u.Degraded = true
		}

		select {
		case <-ctx.Done():
			return
		case out <- u:
		}
	}
}

func (r *Repository[T]) apply(items []T, f Filter[T]) []T {
	if f.Match != nil {
		kept := make([]T, 0, len(items))
		for _, it := range items {
			if f.Match(it) {
				kept = append(kept, it)
			}
		}
		items = kept
	}
	return query.Apply(r.engine, items, query.Options{Text: f.Text, Order: f.Order})
}

// RefreshNow fetches the whole collection and commits it, regardless of
// freshness. A call made while a refresh is in flight waits for that
// refresh instead of starting another. If ctx is done first RefreshNow
// returns ctx.Err(), but the refresh itself runs on and still commits.
func (r *Repository[T]) RefreshNow(ctx context.Context) (Stats, error) {
	fl, leader := r.begin()
	if leader {
		go r.run(context.WithoutCancel(ctx), fl)
	}
	select {
	case <-fl.done:
		return fl.stats, fl.err
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
}

// RefreshIfNeeded starts a background refresh unless the cache is Fresh and
// returns the decision it acted on.
func (r *Repository[T]) RefreshIfNeeded(ctx context.Context) freshness.Decision {
	d, _ := r.Decide(ctx)
	if d != freshness.Fresh {
		r.refreshInBackground(ctx)
	}
	return d
}

func (r *Repository[T]) refreshInBackground(ctx context.Context) {
	fl, leader := r.begin()
	if !leader {
		return
	}
	go func() {
		r.run(context.WithoutCancel(ctx), fl)
		if fl.err != nil {
			r.log.Warn("background refresh failed, serving cached data", "error", fl.err)
		}
	}()
}

// Wait blocks until the in-flight refresh, if any, has finished or ctx is
// done. Short-lived processes call it before closing the store so a
// background refresh is not cut off mid-commit.
func (r *Repository[T]) Wait(ctx context.Context) error {
	r.mu.Lock()
	fl := r.inflight
	r.mu.Unlock()
	if fl == nil {
		return nil
	}
	select {
	case <-fl.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// begin moves Idle to Refreshing. It returns the in-flight refresh and
// whether the caller must run it.
func (r *Repository[T]) begin() (*flight, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inflight != nil {
		r.inflight.joined++
		return r.inflight, false
	}
	fl := &flight{done: make(chan struct{})}
	r.inflight = fl
	return fl, true
}

// run executes the refresh for fl and folds the result back to Idle.
func (r *Repository[T]) run(ctx context.Context, fl *flight) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	stats, err := r.refresh(ctx)

	r.mu.Lock()
	fl.stats, fl.err = stats, err
	r.inflight = nil
	r.lastStats, r.lastErr = stats, err
	if err != nil {
		r.outcome = Failed
	} else {
		r.outcome = Committed
	}
	r.mu.Unlock()
	close(fl.done)
}

func (r *Repository[T]) refresh(ctx context.Context) (Stats, error) {
	ctx, span := r.tracer.Start(ctx, spanRefresh, trace.WithAttributes(attribute.String(attrCollection, r.Name())))
	defer span.End()

	r.cntRefresh.Add(ctx, 1)
	stats, err := r.fetchAndCommit(ctx)

	span.SetAttributes(
		attribute.Int("sync.fetched", stats.Fetched),
		attribute.Int("sync.upserted", stats.Upserted),
		attribute.Int("sync.unchanged", stats.Unchanged),
		attribute.Int("sync.skipped", stats.Skipped),
	)
	if stats.Fetched > 0 {
		r.cntFetched.Add(ctx, int64(stats.Fetched))
	}
	if stats.Upserted > 0 {
		r.cntUpsert.Add(ctx, int64(stats.Upserted))
	}
	if stats.Skipped > 0 {
		r.cntSkipped.Add(ctx, int64(stats.Skipped))
	}
	if err != nil {
		r.cntErrors.Add(ctx, 1)
		span.RecordError(err)
		r.log.Warn("refresh failed", "error", err)
		return stats, err
	}

	r.log.Info("refresh committed",
		"fetched", stats.Fetched,
		"upserted", stats.Upserted,
		"unchanged", stats.Unchanged,
		"skipped", stats.Skipped,
	)
	return stats, nil
}

func (r *Repository[T]) fetchAndCommit(ctx context.Context) (Stats, error) {
	var stats Stats
	docs, err := r.remote.FetchAll(ctx)
	if err != nil {
		return stats, asRemote("fetch all "+r.Name(), err)
	}
	stats.Fetched = len(docs)

	valid := r.validOnly(docs)
	stats.Skipped = len(docs) - len(valid)

	res, err := r.local.CommitSync(ctx, valid, r.now())
	if err != nil {
		return stats, fmt.Errorf("committing %s: %w", r.Name(), err)
	}
	stats.Upserted = res.Written
	stats.Unchanged = res.Unchanged
	stats.Skipped += res.Rejected
	return stats, nil
}

func (r *Repository[T]) validOnly(docs []T) []T {
	valid := make([]T, 0, len(docs))
	for _, d := range docs {
		if err := d.Validate(); err != nil {
			r.log.Warn("skipping invalid remote document", "id", d.Key(), "error", err)
			continue
		}
		valid = append(valid, d)
	}
	return valid
}

// asRemote makes sure err carries a remote fault. A deadline without one is
// Unreachable.
func asRemote(op string, err error) error {
	if err == nil || remote.IsFault(err) {
		return err
	}
	kind := remote.Unknown
	if errors.Is(err, context.DeadlineExceeded) {
		kind = remote.Unreachable
	}
	return &remote.Fault{Kind: kind, Op: op, Err: err}
}

// ClearExpiredCache runs the retention sweep and returns the number of
// records removed.
func (r *Repository[T]) ClearExpiredCache(ctx context.Context) (int64, error) {
	cutoff := r.policy.Cutoff(r.now())
	n, err := r.local.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("retention sweep of %s: %w", r.Name(), err)
	}
	if n > 0 {
		r.log.Info("retention sweep", "pruned", n, "cutoff", cutoff)
	}
	return n, nil
}

// Search returns the current snapshot filtered by text, in default order.
func (r *Repository[T]) Search(ctx context.Context, text string) ([]T, error) {
	items, err := r.local.All(ctx)
	if err != nil {
		return nil, err
	}
	return query.Search(r.engine, items, text), nil
}

// SortBy returns the current snapshot in the given order.
func (r *Repository[T]) SortBy(ctx context.Context, order query.Order) ([]T, error) {
	items, err := r.local.All(ctx)
	if err != nil {
		return nil, err
	}
	return query.Sort(r.engine, items, order), nil
}

// Query returns the current snapshot filtered and ordered by f.
func (r *Repository[T]) Query(ctx context.Context, f Filter[T]) ([]T, error) {
	items, err := r.local.All(ctx)
	if err != nil {
		return nil, err
	}
	return r.apply(items, f), nil
}

// Get returns the record with the given id. A record missing locally is
// fetched once from the remote and cached. A record that exists nowhere
// yields (nil, nil).
func (r *Repository[T]) Get(ctx context.Context, id string) (*T, error) {
	item, err := r.local.GetByID(ctx, id)
	if err != nil || item != nil {
		return item, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	doc, err := r.remote.FetchByID(ctx, id)
	if remote.IsNotFound(err) {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, asRemote("fetch by id "+r.Name(), err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	if _, err := r.local.UpsertOne(ctx, doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Status reports the collection's reconciliation state.
func (r *Repository[T]) Status(ctx context.Context) (Status, error) {
	r.mu.Lock()
	st := Status{
		Collection:  r.Name(),
		State:       Idle,
		LastOutcome: r.outcome,
		LastError:   r.lastErr,
		LastStats:   r.lastStats,
	}
	if r.inflight != nil {
		st.State = Refreshing
	}
	r.mu.Unlock()

	var err error
	st.Decision, st.LastSyncAt = r.Decide(ctx)
	if st.Count, err = r.local.Count(ctx); err != nil {
		return st, err
	}
	if st.LastModified, err = r.local.LastModified(ctx); err != nil {
		return st, err
	}
	return st, nil
}

// waiters returns how many callers joined the in-flight refresh.
func (r *Repository[T]) waiters() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inflight == nil {
		return 0
	}
	return r.inflight.joined
}
