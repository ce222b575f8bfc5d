package mongodb

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tarimpazar/agrisync/internal/model"
	"github.com/tarimpazar/agrisync/internal/remote"
)

// Document is a record addressed by its _id.
type Document interface {
	Key() string
}

// Collection is a [remote.Source] backed by one Mongo collection. Documents
// are decoded through T's bson tags.
type Collection[T Document] struct {
	coll       *mongo.Collection
	name       string
	ownerField string
	c          *Client
}

var _ remote.Source[model.Listing] = (*Collection[model.Listing])(nil)

// NewCollection returns a source over the named collection. ownerField is
// the document field FetchByOwner filters on; empty disables it.
func NewCollection[T Document](c *Client, name, ownerField string) *Collection[T] {
	return &Collection[T]{coll: c.db.Collection(name), name: name, ownerField: ownerField, c: c}
}

// Catalog returns the catalog item source.
func Catalog(c *Client) *Collection[model.CatalogItem] {
	return NewCollection[model.CatalogItem](c, model.CollectionCatalog, "")
}

// Listings returns the listing source. Listings are owned through user_id.
func Listings(c *Client) *Collection[model.Listing] {
	return NewCollection[model.Listing](c, model.CollectionListings, "user_id")
}

// FetchAll returns every document in the collection.
func (s *Collection[T]) FetchAll(ctx context.Context) ([]T, error) {
	return s.find(ctx, opName("fetch all", s.name), bson.D{})
}

// FetchByID returns the document with the given id. A missing document is a
// NotFound fault.
func (s *Collection[T]) FetchByID(ctx context.Context, id string) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, s.c.timeout)
	defer cancel()

	var out T
	err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&out)
	if err != nil {
		var zero T
		return zero, classify(opName("fetch by id", s.name), err)
	}
	return out, nil
}

// FetchByOwner returns the documents whose owner field equals ownerID.
func (s *Collection[T]) FetchByOwner(ctx context.Context, ownerID string) ([]T, error) {
	op := opName("fetch by owner", s.name)
	if s.ownerField == "" {
		return nil, &remote.Fault{Kind: remote.Unknown, Op: op, Detail: "collection has no owner field"}
	}
	return s.find(ctx, op, bson.D{{Key: s.ownerField, Value: ownerID}})
}

// Push replaces the document with item's id, inserting it if absent, and
// returns the document as stored.
func (s *Collection[T]) Push(ctx context.Context, item T) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, s.c.timeout)
	defer cancel()

	var out T
	err := s.coll.FindOneAndReplace(ctx,
		bson.D{{Key: "_id", Value: item.Key()}},
		item,
		options.FindOneAndReplace().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&out)
	if err != nil {
		var zero T
		return zero, classify(opName("push", s.name), err)
	}
	return out, nil
}

func (s *Collection[T]) find(ctx context.Context, op string, filter bson.D) ([]T, error) {
	ctx, cancel := context.WithTimeout(ctx, s.c.timeout)
	defer cancel()

	cur, err := s.coll.Find(ctx, filter)
	if err != nil {
		return nil, classify(op, err)
	}
	out := []T{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, classify(op, err)
	}
	return out, nil
}
