package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/tarimpazar/agrisync/internal/model"
)

const listingColumns = "id, user_id, title, description, machine_type, location, price, media_json, is_active, created_at, last_updated"

type listingRow struct {
	ID          string  `db:"id"`
	UserID      string  `db:"user_id"`
	Title       string  `db:"title"`
	Description string  `db:"description"`
	MachineType string  `db:"machine_type"`
	Location    string  `db:"location"`
	Price       float64 `db:"price"`
	MediaJSON   string  `db:"media_json"`
	IsActive    bool    `db:"is_active"`
	CreatedAt   int64   `db:"created_at"`
	LastUpdated int64   `db:"last_updated"`
}

// ListingStore caches rental listings. An upsert never moves a listing
// backwards in time: a row whose last_updated is older than the stored one is
// rejected.
type ListingStore struct {
	*collection[model.Listing, listingRow]
}

func newListingStore(db *DB) *ListingStore {
	return &ListingStore{newCollection(db, tableDef[model.Listing, listingRow]{
		table:      model.CollectionListings,
		columns:    listingColumns,
		orderBy:    "created_at DESC, id",
		searchCols: []string{"title", "description", "machine_type", "location"},
		upsert: `
			INSERT INTO listings
			    (id, user_id, title, description, machine_type, location, price,
			     media_json, is_active, content_hash, created_at, last_updated)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
			    user_id      = excluded.user_id,
			    title        = excluded.title,
			    description  = excluded.description,
			    machine_type = excluded.machine_type,
			    location     = excluded.location,
			    price        = excluded.price,
			    media_json   = excluded.media_json,
			    is_active    = excluded.is_active,
			    content_hash = excluded.content_hash,
			    created_at   = excluded.created_at,
			    last_updated = excluded.last_updated
			WHERE excluded.last_updated >= listings.last_updated`,
		toArgs:  listingArgs,
		fromRow: listingFromRow,
		clone: func(l model.Listing) model.Listing {
			l.Media = cloneStrings(l.Media)
			return l
		},
	})}
}

func listingArgs(l model.Listing) ([]any, error) {
	media := l.Media
	if media == nil {
		media = []string{}
	}
	b, err := json.Marshal(media)
	if err != nil {
		return nil, err
	}
	return []any{
		l.ID, l.UserID, l.Title, l.Description, l.MachineType, l.Location, l.Price,
		string(b), boolInt(l.IsActive), l.ContentHash(), toMillis(l.CreatedAt), toMillis(l.LastUpdated),
	}, nil
}

func listingFromRow(r listingRow) (model.Listing, error) {
	var media []string
	if r.MediaJSON != "" {
		if err := json.Unmarshal([]byte(r.MediaJSON), &media); err != nil {
			return model.Listing{}, fmt.Errorf("decoding media of listing %q: %w", r.ID, err)
		}
	}
	return model.Listing{
		ID:          r.ID,
		UserID:      r.UserID,
		Title:       r.Title,
		Description: r.Description,
		MachineType: r.MachineType,
		Location:    r.Location,
		Price:       r.Price,
		Media:       media,
		IsActive:    r.IsActive,
		CreatedAt:   fromMillis(r.CreatedAt),
		LastUpdated: fromMillis(r.LastUpdated),
	}, nil
}

// GetByOwner returns every listing posted by userID, newest first.
func (s *ListingStore) GetByOwner(ctx context.Context, userID string) ([]model.Listing, error) {
	items, err := s.selectWhere(ctx, "user_id = ?", userID)
	return items, wrap("select listings by owner", err)
}

// Active returns the listings that have not been deactivated.
func (s *ListingStore) Active(ctx context.Context) ([]model.Listing, error) {
	items, err := s.selectWhere(ctx, "is_active = 1")
	return items, wrap("select active listings", err)
}

// SoftDeactivate marks the listing inactive and stamps its last_updated with
// at, which starts its retention window. It returns the updated listing, or
// (nil, nil) if no listing has that id.
func (s *ListingStore) SoftDeactivate(ctx context.Context, id string, at time.Time) (*model.Listing, error) {
	var out *model.Listing
	err := s.write(ctx, "deactivate listing", func(tx *sqlx.Tx) error {
		var row listingRow
		err := tx.GetContext(ctx, &row, "SELECT "+listingColumns+" FROM listings WHERE id = ?", id)
		if isNoRows(err) {
			return nil
		}
		if err != nil {
			return err
		}
		l, err := listingFromRow(row)
		if err != nil {
			return err
		}
		l.IsActive = false
		if at.After(l.LastUpdated) {
			l.LastUpdated = at
		}
		args, err := listingArgs(l)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.def.upsert, args...); err != nil {
			return err
		}
		out = &l
		return nil
	})
	return out, err
}
