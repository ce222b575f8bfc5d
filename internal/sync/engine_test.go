package sync

import (
	"bytes"
	"context"
	"errors"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/tarimpazar/agrisync/internal/freshness"
	"github.com/tarimpazar/agrisync/internal/remote"
	"github.com/tarimpazar/agrisync/internal/sync/mocks"
)

// fakeReconciler records calls and returns scripted results.
type fakeReconciler struct {
	name     string
	count    int
	decision freshness.Decision

	mu        gosync.Mutex
	refreshes int
	checks    int
	prunes    int
	errs      []error // consumed one per RefreshNow
}

func (f *fakeReconciler) Name() string { return f.name }

func (f *fakeReconciler) RefreshNow(context.Context) (Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return Stats{}, err
		}
	}
	f.count = 2
	return Stats{Fetched: 2, Upserted: 2}, nil
}

func (f *fakeReconciler) RefreshIfNeeded(context.Context) freshness.Decision {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks++
	return f.decision
}

func (f *fakeReconciler) ClearExpiredCache(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prunes++
	return 3, nil
}

func (f *fakeReconciler) Status(context.Context) (Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Status{Collection: f.name, Count: f.count, Decision: f.decision}, nil
}

func (f *fakeReconciler) calls() (refreshes, checks, prunes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshes, f.checks, f.prunes
}

func TestEngine_RefreshAll(t *testing.T) {
	catalog := &fakeReconciler{name: "catalog_items"}
	listings := &fakeReconciler{name: "listings", errs: []error{&remote.Fault{Kind: remote.Unreachable, Op: "fetch all"}}}
	e := NewEngine([]Reconciler{catalog, listings}, nil, EngineConfig{}, testLogger)

	stats, err := e.RefreshAll(context.Background())

	require.Error(t, err)
	assert.Equal(t, remote.Unreachable, remote.KindOf(err))
	assert.Contains(t, err.Error(), "listings")
	assert.Equal(t, map[string]Stats{"catalog_items": {Fetched: 2, Upserted: 2}}, stats)
}

func TestEngine_Prune(t *testing.T) {
	a := &fakeReconciler{name: "catalog_items"}
	b := &fakeReconciler{name: "listings"}
	e := NewEngine([]Reconciler{a, b}, nil, EngineConfig{}, testLogger)

	pruned, err := e.Prune(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"catalog_items": 3, "listings": 3}, pruned)
}

func TestEngine_Statuses(t *testing.T) {
	a := &fakeReconciler{name: "catalog_items", decision: freshness.Stale}
	e := NewEngine([]Reconciler{a}, nil, EngineConfig{}, testLogger)

	sts, err := e.Statuses(context.Background())
	require.NoError(t, err)
	require.Len(t, sts, 1)
	assert.Equal(t, freshness.Stale, sts[0].Decision)
}

func TestEngine_Run(t *testing.T) {
	ctrl := gomock.NewController(t)
	catalog := &fakeReconciler{name: "catalog_items", decision: freshness.Fresh}
	listings := &fakeReconciler{name: "listings", decision: freshness.Fresh}

	feed := mocks.NewMockChangeFeed(ctrl)
	feed.EXPECT().Watch(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, onChange func(string)) error {
		onChange("listings")
		onChange("unknown")
		<-ctx.Done()
		return nil
	})
	broken := mocks.NewMockChangeFeed(ctrl)
	broken.EXPECT().Watch(gomock.Any(), gomock.Any()).Return(errors.New("amqp: connection closed"))

	e := NewEngine([]Reconciler{catalog, listings}, []ChangeFeed{feed, broken}, EngineConfig{
		RefreshInterval: 20 * time.Millisecond,
		PruneInterval:   20 * time.Millisecond,
	}, testLogger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	assert.Eventually(t, func() bool {
		lr, lc, lp := listings.calls()
		_, cc, cp := catalog.calls()
		return lr >= 1 && lc >= 2 && cc >= 2 && lp >= 1 && cp >= 1
	}, 5*time.Second, 10*time.Millisecond, "engine should check, prune and react to the feed")

	cr, _, _ := catalog.calls()
	assert.Zero(t, cr, "fresh collections are not refreshed without a change")

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestWarmup_Run(t *testing.T) {
	cached := &fakeReconciler{name: "catalog_items", count: 5}
	empty := &fakeReconciler{name: "listings", errs: []error{&remote.Fault{Kind: remote.Unreachable, Op: "fetch all"}}}

	var out bytes.Buffer
	w := NewWarmup([]Reconciler{cached, empty}, testLogger, &out)
	ran, err := w.Run(context.Background())

	require.NoError(t, err)
	assert.True(t, ran)
	r, _, _ := cached.calls()
	assert.Zero(t, r, "non-empty cache is left alone")
	r, _, _ = empty.calls()
	assert.Equal(t, 2, r, "unreachable is retried")
	assert.Contains(t, out.String(), "already cached")
	assert.Contains(t, out.String(), "2 fetched, 2 cached")
}

func TestWarmup_DoesNotRetryAuthFailures(t *testing.T) {
	empty := &fakeReconciler{name: "listings", errs: []error{&remote.Fault{Kind: remote.Unauthenticated, Op: "fetch all"}}}

	var out bytes.Buffer
	ran, err := NewWarmup([]Reconciler{empty}, testLogger, &out).Run(context.Background())

	assert.False(t, ran)
	assert.Equal(t, remote.Unauthenticated, remote.KindOf(err))
	r, _, _ := empty.calls()
	assert.Equal(t, 1, r)
	assert.Contains(t, out.String(), "failed (sign_in)")
}
