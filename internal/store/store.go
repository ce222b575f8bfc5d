// Package store manages the SQLite database that caches the remote
// collections on the device.
//
// Only this package may open or query the database. All other packages receive
// a [*DB] (or one of its collection stores) and call its methods. Every
// committed write is followed by a fresh [Snapshot] on the collection's live
// feed, so observers never poll.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"golang.org/x/text/language"

	"github.com/tarimpazar/agrisync/internal/query"
)

// collationName is the SQL collation that orders text by the cache's
// language, e.g. "name COLLATE locale".
const collationName = "locale"

var (
	driversMu sync.Mutex
	drivers   = map[string]bool{}
)

// registerDriver registers a sqlite3 driver for engine's language and returns
// its name. Every connection gets fold() and the locale collation, both backed
// by engine, so SQL and in-memory search and ordering agree. sql.Register
// panics on duplicates, hence one driver per language.
func registerDriver(engine *query.Engine) string {
	name := "sqlite3_agrisync_" + engine.Language().String()

	driversMu.Lock()
	defer driversMu.Unlock()
	if drivers[name] {
		return name
	}
	sql.Register(name, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			if err := conn.RegisterFunc("fold", engine.Fold, true); err != nil {
				return err
			}
			return conn.RegisterCollation(collationName, engine.Compare)
		},
	})
	sqlx.BindDriver(name, sqlx.QUESTION)
	drivers[name] = true
	return name
}

const schema = `
CREATE TABLE IF NOT EXISTS catalog_items (
    id              TEXT    PRIMARY KEY,
    name            TEXT    NOT NULL,
    category        TEXT    NOT NULL,
    product_type    TEXT    NOT NULL DEFAULT '',
    product_variety TEXT    NOT NULL DEFAULT '',
    unit            TEXT    NOT NULL DEFAULT '',
    price           REAL    NOT NULL CHECK (price >= 0),
    content_hash    TEXT    NOT NULL DEFAULT '',
    last_updated    INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_catalog_last_updated ON catalog_items (last_updated);

CREATE TABLE IF NOT EXISTS listings (
    id           TEXT    PRIMARY KEY,
    user_id      TEXT    NOT NULL,
    title        TEXT    NOT NULL,
    description  TEXT    NOT NULL DEFAULT '',
    machine_type TEXT    NOT NULL DEFAULT '',
    location     TEXT    NOT NULL DEFAULT '',
    price        REAL    NOT NULL CHECK (price >= 0),
    media_json   TEXT    NOT NULL DEFAULT '[]',
    is_active    INTEGER NOT NULL DEFAULT 1,
    content_hash TEXT    NOT NULL DEFAULT '',
    created_at   INTEGER NOT NULL DEFAULT 0,
    last_updated INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_listings_user_id      ON listings (user_id);
CREATE INDEX IF NOT EXISTS idx_listings_last_updated ON listings (last_updated);

CREATE TABLE IF NOT EXISTS sync_state (
    collection   TEXT    PRIMARY KEY,
    last_sync_at INTEGER NOT NULL DEFAULT 0,
    total_synced INTEGER NOT NULL DEFAULT 0
);
`

// DB is the SQLite-backed local cache.
type DB struct {
	db     *sqlx.DB
	engine *query.Engine
	// mu serialises writes together with the snapshot publish that follows
	// them, so feeds observe commits in commit order.
	mu sync.Mutex

	catalog  *CatalogStore
	listings *ListingStore
}

// DefaultDBPath returns the default path for the cache database:
// ~/.local/share/agrisync/cache.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "agrisync", "cache.db"), nil
}

// Open opens (or creates) the SQLite database at path, applies the schema, and
// configures WAL mode for better concurrent read performance. tag selects the
// language used by Search and by the default ordering of text columns.
func Open(path string, tag language.Tag) (*DB, error) {
	engine := query.NewEngine(tag)
	driverName := registerDriver(engine)

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	db, err := sqlx.Open(driverName, path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}

	// Single writer to avoid SQLITE_BUSY under WAL.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	s := &DB{db: db, engine: engine}
	s.catalog = newCatalogStore(s)
	s.listings = newListingStore(s)
	return s, nil
}

// Close closes the live feeds and releases the database connection.
func (s *DB) Close() error {
	s.catalog.feed.Close()
	s.listings.feed.Close()
	return s.db.Close()
}

// Catalog returns the catalog item collection.
func (s *DB) Catalog() *CatalogStore { return s.catalog }

// Listings returns the listing collection.
func (s *DB) Listings() *ListingStore { return s.listings }

func migrate(db *sqlx.DB) error {
	_, err := db.Exec(schema)
	return err
}

// SyncState records the last successful sync of one collection.
type SyncState struct {
	Collection  string    `json:"collection"`
	LastSyncAt  time.Time `json:"last_sync_at"`
	TotalSynced int64     `json:"total_synced"`
}

type syncStateRow struct {
	Collection  string `db:"collection"`
	LastSyncAt  int64  `db:"last_sync_at"`
	TotalSynced int64  `db:"total_synced"`
}

// syncState returns the sync state for collection. A collection that was
// never synced yields a state with a zero LastSyncAt and no error.
func (s *DB) syncState(ctx context.Context, collection string) (SyncState, error) {
	var row syncStateRow
	err := s.db.GetContext(ctx, &row,
		`SELECT collection, last_sync_at, total_synced FROM sync_state WHERE collection = ?`, collection)
	if errors.Is(err, sql.ErrNoRows) {
		return SyncState{Collection: collection}, nil
	}
	if err != nil {
		return SyncState{}, wrap("get sync state", err)
	}
	return SyncState{
		Collection:  row.Collection,
		LastSyncAt:  fromMillis(row.LastSyncAt),
		TotalSynced: row.TotalSynced,
	}, nil
}

func updateSyncState(ctx context.Context, tx *sqlx.Tx, collection string, at time.Time, n int) error {
	const q = `
		INSERT INTO sync_state (collection, last_sync_at, total_synced)
		VALUES (?, ?, ?)
		ON CONFLICT(collection) DO UPDATE SET
		    last_sync_at = excluded.last_sync_at,
		    total_synced = sync_state.total_synced + excluded.total_synced`
	_, err := tx.ExecContext(ctx, q, collection, toMillis(at), n)
	return err
}

func resetSyncState(ctx context.Context, tx *sqlx.Tx, collection string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM sync_state WHERE collection = ?`, collection)
	return err
}

// inTx runs fn in a transaction, rolling back on error.
func (s *DB) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// --- helpers -----------------------------------------------------------------

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
