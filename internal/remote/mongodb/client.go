// Package mongodb implements [remote.Source] on top of a MongoDB database.
// Each call is a single attempt bounded by the client's timeout; driver
// errors are mapped onto [remote.Fault] kinds.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/tarimpazar/agrisync/internal/remote"
)

// Server error codes that map onto fault kinds.
const (
	codeUnauthorized         = 13
	codeAuthenticationFailed = 18
)

// DefaultTimeout bounds every remote call when no timeout is configured.
const DefaultTimeout = 8 * time.Second

// Client is a connected MongoDB database handle.
type Client struct {
	client  *mongo.Client
	db      *mongo.Database
	timeout time.Duration
	logger  *slog.Logger
}

// Connect dials uri, selects database and verifies the connection with a
// ping. timeout bounds the connect and every later call; zero means
// [DefaultTimeout].
func Connect(ctx context.Context, uri, database string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	opts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(timeout).
		SetServerSelectionTimeout(timeout).
		SetAppName("agrisync")

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, classify("connect", err)
	}
	c := &Client{client: client, db: client.Database(database), timeout: timeout, logger: logger}
	if err := c.Ping(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	logger.Info("connected to MongoDB", "database", database)
	return c, nil
}

// Ping checks that the primary is reachable.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return classify("ping", c.client.Ping(ctx, readpref.Primary()))
}

// Disconnect closes every pooled connection.
func (c *Client) Disconnect(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

// CollectionCounts returns the estimated document count of every collection
// in the database.
func (c *Client) CollectionCounts(ctx context.Context) (map[string]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	names, err := c.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, classify("list collections", err)
	}
	out := make(map[string]int64, len(names))
	for _, name := range names {
		n, err := c.db.Collection(name).EstimatedDocumentCount(ctx)
		if err != nil {
			return nil, classify(opName("count", name), err)
		}
		out[name] = n
	}
	return out, nil
}

// Timeout returns the per-call timeout.
func (c *Client) Timeout() time.Duration { return c.timeout }

// classify maps a driver error onto a [remote.Fault]. nil stays nil.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if remote.IsFault(err) {
		return err
	}
	f := &remote.Fault{Kind: remote.Unknown, Op: op, Err: err}

	var se mongo.ServerError
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		f.Kind = remote.NotFound
	case errors.Is(err, context.DeadlineExceeded), mongo.IsTimeout(err), mongo.IsNetworkError(err):
		f.Kind = remote.Unreachable
	case errors.As(err, &se) && se.HasErrorCode(codeUnauthorized):
		f.Kind = remote.PermissionDenied
	case errors.As(err, &se) && se.HasErrorCode(codeAuthenticationFailed):
		f.Kind = remote.Unauthenticated
	case strings.Contains(strings.ToLower(err.Error()), "authentication failed"):
		// Handshake auth failures surface as connection errors without a code.
		f.Kind = remote.Unauthenticated
	case errors.Is(err, mongo.ErrClientDisconnected):
		f.Kind = remote.Unreachable
	}
	return f
}

func opName(verb, collection string) string {
	return fmt.Sprintf("%s %s", verb, collection)
}
