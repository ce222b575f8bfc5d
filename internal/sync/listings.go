package sync

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/tarimpazar/agrisync/internal/model"
	"github.com/tarimpazar/agrisync/internal/notify"
	"github.com/tarimpazar/agrisync/internal/query"
	"github.com/tarimpazar/agrisync/internal/remote"
)

// ListingRepository is the listing Repository plus the write-through
// operations of the listing owner: save and deactivate.
type ListingRepository struct {
	*Repository[model.Listing]
	store    ListingStore
	announce Announcer
}

// NewListingRepository creates a ListingRepository. announce may be nil.
func NewListingRepository(local ListingStore, src remote.Source[model.Listing], engine *query.Engine, announce Announcer, opts Options) *ListingRepository {
	return &ListingRepository{
		Repository: NewRepository[model.Listing](local, src, engine, opts),
		store:      local,
		announce:   announce,
	}
}

// NewCatalogRepository creates the read-only catalog Repository. Prices are
// authored remotely; nothing in agrisync writes catalog items except a
// refresh.
func NewCatalogRepository(local LocalStore[model.CatalogItem], src remote.Source[model.CatalogItem], engine *query.Engine, opts Options) *Repository[model.CatalogItem] {
	return NewRepository[model.CatalogItem](local, src, engine, opts)
}

// Save pushes l to the remote and then caches the remote's copy, which it
// returns. A listing without an id
// gets a new UUID; CreatedAt is stamped when zero and LastUpdated always. On
// a remote fault nothing is written locally.
func (r *ListingRepository) Save(ctx context.Context, l model.Listing) (model.Listing, error) {
	now := r.now().UTC()
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	l.LastUpdated = now
	if err := l.Validate(); err != nil {
		return model.Listing{}, err
	}

	stored, err := r.push(ctx, l)
	if err != nil {
		return model.Listing{}, err
	}
	if _, err := r.store.UpsertOne(ctx, stored); err != nil {
		return model.Listing{}, fmt.Errorf("caching listing %s: %w", stored.ID, err)
	}
	r.notify(ctx, stored.ID, notify.ActionUpsert)
	return stored, nil
}

// Deactivate soft-deletes the listing: it stays in both stores with
// IsActive=false and a fresh LastUpdated, which starts its retention window.
func (r *ListingRepository) Deactivate(ctx context.Context, id string) (model.Listing, error) {
	current, err := r.Get(ctx, id)
	if err != nil {
		return model.Listing{}, err
	}
	if current == nil {
		return model.Listing{}, &remote.Fault{Kind: remote.NotFound, Op: "deactivate listing", Detail: id}
	}

	l := *current
	l.IsActive = false
	if now := r.now().UTC(); now.After(l.LastUpdated) {
		l.LastUpdated = now
	}
	stored, err := r.push(ctx, l)
	if err != nil {
		return model.Listing{}, err
	}
	if _, err := r.store.SoftDeactivate(ctx, id, stored.LastUpdated); err != nil {
		return model.Listing{}, fmt.Errorf("deactivating cached listing %s: %w", id, err)
	}
	r.notify(ctx, id, notify.ActionDeactivate)
	return stored, nil
}

// ByOwner returns the cached listings of ownerID, newest first. With
// refresh set it first merges the owner's remote listings into the cache
// (replace-by-id, nothing is deleted). A remote fault is returned together
// with the cached listings.
func (r *ListingRepository) ByOwner(ctx context.Context, ownerID string, refresh bool) ([]model.Listing, error) {
	var fault error
	if refresh {
		fault = r.mergeOwner(ctx, ownerID)
	}
	items, err := r.store.GetByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return items, fault
}

func (r *ListingRepository) mergeOwner(ctx context.Context, ownerID string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	docs, err := r.remote.FetchByOwner(ctx, ownerID)
	if err != nil {
		err = asRemote("fetch listings by owner", err)
		r.log.Warn("owner refresh failed, serving cached listings", "owner", ownerID, "error", err)
		return err
	}
	valid := r.validOnly(docs)
	if _, err := r.store.UpsertMany(ctx, valid); err != nil {
		return fmt.Errorf("caching owner listings: %w", err)
	}
	return nil
}

// push writes l remotely and returns the remote's copy, which is what gets
// cached. A copy that no longer validates is a remote fault.
func (r *ListingRepository) push(ctx context.Context, l model.Listing) (model.Listing, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	stored, err := r.remote.Push(ctx, l)
	if err != nil {
		return model.Listing{}, asRemote("push listing", err)
	}
	if err := stored.Validate(); err != nil {
		return model.Listing{}, &remote.Fault{Kind: remote.Unknown, Op: "push listing", Detail: err.Error()}
	}
	return stored, nil
}

func (r *ListingRepository) notify(ctx context.Context, id, action string) {
	if r.announce == nil {
		return
	}
	if err := r.announce.Announce(ctx, r.Name(), id, action); err != nil {
		r.log.Warn("announcing change", "id", id, "action", action, "error", err)
	}
}
