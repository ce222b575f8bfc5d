package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/tarimpazar/agrisync/internal/live"
)

// Snapshot is one emission of a collection's live feed: the full collection
// in its default order. Err is non-nil when re-reading the table failed; Items
// is then empty.
type Snapshot[T any] struct {
	Items []T
	Err   error
}

// CommitResult counts what a batch upsert did to each row.
type CommitResult struct {
	// Written rows were inserted or had their content replaced.
	Written int
	// Unchanged rows already held identical content; only their
	// timestamps were rewritten.
	Unchanged int
	// Rejected rows were older than the stored copy and left untouched.
	Rejected int
}

// Total is the number of rows that were accepted.
func (r CommitResult) Total() int { return r.Written + r.Unchanged }

type entity interface {
	Key() string
	ContentHash() string
	Validate() error
}

// tableDef describes how one entity type maps onto its table.
type tableDef[T entity, R any] struct {
	table      string
	columns    string
	orderBy    string
	searchCols []string
	upsert     string
	toArgs     func(T) ([]any, error)
	fromRow    func(R) (T, error)
	clone      func(T) T
}

// collection implements the operations shared by every cached collection.
type collection[T entity, R any] struct {
	db   *DB
	def  tableDef[T, R]
	feed *live.Feed[Snapshot[T]]

	loaded bool // guarded by db.mu
}

func newCollection[T entity, R any](db *DB, def tableDef[T, R]) *collection[T, R] {
	clone := func(s Snapshot[T]) Snapshot[T] {
		out := Snapshot[T]{Err: s.Err, Items: make([]T, len(s.Items))}
		for i, it := range s.Items {
			if def.clone != nil {
				it = def.clone(it)
			}
			out.Items[i] = it
		}
		return out
	}
	return &collection[T, R]{db: db, def: def, feed: live.NewFeed(clone)}
}

// Name returns the collection (table) name.
func (c *collection[T, R]) Name() string { return c.def.table }

func (c *collection[T, R]) selectWhere(ctx context.Context, where string, args ...any) ([]T, error) {
	q := "SELECT " + c.def.columns + " FROM " + c.def.table
	if where != "" {
		q += " WHERE " + where
	}
	q += " ORDER BY " + c.def.orderBy

	var rows []R
	if err := c.db.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		item, err := c.def.fromRow(r)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

// All returns every record in the collection's default order.
func (c *collection[T, R]) All(ctx context.Context) ([]T, error) {
	items, err := c.selectWhere(ctx, "")
	return items, wrap("select "+c.def.table, err)
}

// GetByID returns the record with the given id, or (nil, nil) if no such
// record exists.
func (c *collection[T, R]) GetByID(ctx context.Context, id string) (*T, error) {
	items, err := c.selectWhere(ctx, "id = ?", id)
	if err != nil {
		return nil, wrap("get "+c.def.table, err)
	}
	if len(items) == 0 {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	return &items[0], nil
}

// Search returns the records whose searchable columns contain text, ignoring
// case by the cache's language. Blank text returns everything.
func (c *collection[T, R]) Search(ctx context.Context, text string) ([]T, error) {
	needle := c.db.engine.Fold(strings.TrimSpace(text))
	if needle == "" {
		return c.All(ctx)
	}
	conds := make([]string, len(c.def.searchCols))
	args := make([]any, len(c.def.searchCols))
	for i, col := range c.def.searchCols {
		conds[i] = "instr(fold(" + col + "), ?) > 0"
		args[i] = needle
	}
	items, err := c.selectWhere(ctx, strings.Join(conds, " OR "), args...)
	return items, wrap("search "+c.def.table, err)
}

// Count returns the number of cached records.
func (c *collection[T, R]) Count(ctx context.Context) (int, error) {
	var n int
	err := c.db.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM "+c.def.table)
	return n, wrap("count "+c.def.table, err)
}

// LastModified returns the newest last_updated in the collection, or the zero
// time when it is empty.
func (c *collection[T, R]) LastModified(ctx context.Context) (time.Time, error) {
	var ms int64
	err := c.db.db.GetContext(ctx, &ms, "SELECT COALESCE(MAX(last_updated), 0) FROM "+c.def.table)
	if err != nil {
		return time.Time{}, wrap("last modified "+c.def.table, err)
	}
	return fromMillis(ms), nil
}

// SyncState returns when the collection was last synced successfully.
func (c *collection[T, R]) SyncState(ctx context.Context) (SyncState, error) {
	return c.db.syncState(ctx, c.def.table)
}

// UpsertOne inserts item or replaces the stored record with the same id.
func (c *collection[T, R]) UpsertOne(ctx context.Context, item T) (CommitResult, error) {
	return c.UpsertMany(ctx, []T{item})
}

// UpsertMany upserts items in a single transaction. Either every row is
// applied or none is.
func (c *collection[T, R]) UpsertMany(ctx context.Context, items []T) (CommitResult, error) {
	var res CommitResult
	err := c.write(ctx, "upsert "+c.def.table, func(tx *sqlx.Tx) error {
		var err error
		res, err = c.upsertAll(ctx, tx, items)
		return err
	})
	return res, err
}

// CommitSync upserts the result of a remote fetch and records syncedAt as
// the collection's last sync time, atomically.
func (c *collection[T, R]) CommitSync(ctx context.Context, items []T, syncedAt time.Time) (CommitResult, error) {
	var res CommitResult
	err := c.write(ctx, "commit sync "+c.def.table, func(tx *sqlx.Tx) error {
		var err error
		if res, err = c.upsertAll(ctx, tx, items); err != nil {
			return err
		}
		return updateSyncState(ctx, tx, c.def.table, syncedAt, res.Total())
	})
	return res, err
}

// DeleteByID removes the record with the given id and reports whether it
// existed.
func (c *collection[T, R]) DeleteByID(ctx context.Context, id string) (bool, error) {
	var n int64
	err := c.write(ctx, "delete "+c.def.table, func(tx *sqlx.Tx) error {
		r, err := tx.ExecContext(ctx, "DELETE FROM "+c.def.table+" WHERE id = ?", id)
		if err != nil {
			return err
		}
		n, err = r.RowsAffected()
		return err
	})
	return n > 0, err
}

// DeleteOlderThan removes every record whose last_updated precedes cutoff,
// active or not, and returns how many were removed. A zero cutoff removes
// nothing.
func (c *collection[T, R]) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	if cutoff.IsZero() {
		return 0, nil
	}
	var n int64
	err := c.write(ctx, "retention "+c.def.table, func(tx *sqlx.Tx) error {
		r, err := tx.ExecContext(ctx, "DELETE FROM "+c.def.table+" WHERE last_updated < ?", toMillis(cutoff))
		if err != nil {
			return err
		}
		n, err = r.RowsAffected()
		return err
	})
	return n, err
}

// ClearAll removes every record and forgets the collection's sync state, so
// the next observer treats the cache as expired.
func (c *collection[T, R]) ClearAll(ctx context.Context) (int64, error) {
	var n int64
	err := c.write(ctx, "clear "+c.def.table, func(tx *sqlx.Tx) error {
		r, err := tx.ExecContext(ctx, "DELETE FROM "+c.def.table)
		if err != nil {
			return err
		}
		if n, err = r.RowsAffected(); err != nil {
			return err
		}
		return resetSyncState(ctx, tx, c.def.table)
	})
	return n, err
}

// Subscribe returns a channel that yields the current snapshot immediately
// and a new one after every committed write. It is closed when ctx is done
// or the database is closed.
func (c *collection[T, R]) Subscribe(ctx context.Context) <-chan Snapshot[T] {
	c.db.mu.Lock()
	if !c.loaded {
		c.publishLocked(ctx)
	}
	c.db.mu.Unlock()
	return c.feed.Subscribe(ctx)
}

// write runs fn in a transaction and publishes a fresh snapshot once the
// transaction has committed.
func (c *collection[T, R]) write(ctx context.Context, op string, fn func(*sqlx.Tx) error) error {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	if err := c.db.inTx(ctx, fn); err != nil {
		return wrap(op, err)
	}
	c.publishLocked(context.WithoutCancel(ctx))
	return nil
}

// publishLocked must be called with db.mu held.
func (c *collection[T, R]) publishLocked(ctx context.Context) {
	items, err := c.selectWhere(ctx, "")
	if err != nil {
		c.feed.Publish(Snapshot[T]{Items: []T{}, Err: wrap("reload "+c.def.table, err)})
		return
	}
	c.loaded = true
	c.feed.Publish(Snapshot[T]{Items: items})
}

func (c *collection[T, R]) upsertAll(ctx context.Context, tx *sqlx.Tx, items []T) (CommitResult, error) {
	var res CommitResult
	if len(items) == 0 {
		return res, nil
	}

	prev, err := c.hashes(ctx, tx)
	if err != nil {
		return res, err
	}

	stmt, err := tx.PreparexContext(ctx, c.def.upsert)
	if err != nil {
		return res, fmt.Errorf("preparing upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, item := range items {
		if err := item.Validate(); err != nil {
			return res, fmt.Errorf("%s %q: %w", c.def.table, item.Key(), err)
		}
		args, err := c.def.toArgs(item)
		if err != nil {
			return res, fmt.Errorf("encoding %s %q: %w", c.def.table, item.Key(), err)
		}
		r, err := stmt.ExecContext(ctx, args...)
		if err != nil {
			return res, fmt.Errorf("upserting %s %q: %w", c.def.table, item.Key(), err)
		}
		n, err := r.RowsAffected()
		if err != nil {
			return res, err
		}
		switch h, seen := prev[item.Key()]; {
		case n == 0:
			res.Rejected++
		case seen && h == item.ContentHash():
			res.Unchanged++
		default:
			res.Written++
		}
		prev[item.Key()] = item.ContentHash()
	}
	return res, nil
}

func (c *collection[T, R]) hashes(ctx context.Context, tx *sqlx.Tx) (map[string]string, error) {
	rows, err := tx.QueryxContext(ctx, "SELECT id, content_hash FROM "+c.def.table)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]string)
	for rows.Next() {
		var id, h string
		if err := rows.Scan(&id, &h); err != nil {
			return nil, err
		}
		out[id] = h
	}
	return out, rows.Err()
}

// isNoRows reports whether err is sql.ErrNoRows.
func isNoRows(err error) bool { return errors.Is(err, sql.ErrNoRows) }

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return slices.Clone(s)
}
