// Package sync implements the reconciling repositories of agrisync. A
// repository serves the local SQLite snapshot of one collection as a live
// view, consults the freshness policy on every read and refreshes the cache
// from the remote document store when it is stale or explicitly asked to.
//
// The package contains three main components:
//
//   - [Repository] is the per-collection reconciler with its
//     Idle/Refreshing state machine and single-flight refresh gate.
//   - [ListingRepository] adds write-through operations for listings.
//   - [Engine] runs the daemon loops: periodic freshness checks, the
//     retention sweep and change-feed triggered refreshes.
package sync

//go:generate mockgen -source=../remote/remote.go -destination=mocks/source.go -package=mocks
//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks -exclude_interfaces=Entity,LocalStore,ListingStore

import (
	"context"
	"time"

	"github.com/tarimpazar/agrisync/internal/model"
	"github.com/tarimpazar/agrisync/internal/query"
	"github.com/tarimpazar/agrisync/internal/store"
)

// Entity is a record a Repository can reconcile.
type Entity interface {
	query.Record
	Validate() error
}

// LocalStore is the cached copy of one collection.
// Implemented by [store.CatalogStore] and [store.ListingStore].
type LocalStore[T any] interface {
	Name() string
	Subscribe(ctx context.Context) <-chan store.Snapshot[T]
	All(ctx context.Context) ([]T, error)
	GetByID(ctx context.Context, id string) (*T, error)
	UpsertOne(ctx context.Context, item T) (store.CommitResult, error)
	UpsertMany(ctx context.Context, items []T) (store.CommitResult, error)
	CommitSync(ctx context.Context, items []T, syncedAt time.Time) (store.CommitResult, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	SyncState(ctx context.Context) (store.SyncState, error)
	Count(ctx context.Context) (int, error)
	LastModified(ctx context.Context) (time.Time, error)
}

// ListingStore adds the listing-only operations.
// Implemented by [store.ListingStore].
type ListingStore interface {
	LocalStore[model.Listing]
	GetByOwner(ctx context.Context, userID string) ([]model.Listing, error)
	SoftDeactivate(ctx context.Context, id string, at time.Time) (*model.Listing, error)
}

// Announcer tells other devices that a record changed.
// Implemented by [notify.RabbitMQ].
type Announcer interface {
	Announce(ctx context.Context, collection, id, action string) error
}

// ChangeFeed signals remote changes by collection name until ctx is done.
// Implemented by [mongodb.Watcher] and [notify.RabbitMQ].
type ChangeFeed interface {
	Watch(ctx context.Context, onChange func(collection string)) error
}
