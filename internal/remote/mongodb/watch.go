package mongodb

import (
	"context"
	"slices"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Watcher turns Mongo change streams into per-collection change signals.
// Change streams require a replica set or sharded cluster.
type Watcher struct {
	c           *Client
	collections []string
}

// Watcher returns a Watcher for the named collections.
func (c *Client) Watcher(collections ...string) *Watcher {
	return &Watcher{c: c, collections: slices.Clone(collections)}
}

type changeEvent struct {
	OperationType string `bson:"operationType"`
	NS            struct {
		Coll string `bson:"coll"`
	} `bson:"ns"`
}

// Watch blocks until ctx is done, calling onChange with the collection name
// of every insert, update, replace or delete. It returns nil when ctx is
// cancelled and a fault when the stream breaks.
func (w *Watcher) Watch(ctx context.Context, onChange func(collection string)) error {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{
			{Key: "ns.coll", Value: bson.D{{Key: "$in", Value: w.collections}}},
			{Key: "operationType", Value: bson.D{{Key: "$in", Value: bson.A{"insert", "update", "replace", "delete"}}}},
		}}},
	}
	cs, err := w.c.db.Watch(ctx, pipeline, options.ChangeStream().SetMaxAwaitTime(w.c.timeout))
	if err != nil {
		return classify("watch", err)
	}
	defer func() { _ = cs.Close(context.WithoutCancel(ctx)) }()

	w.c.logger.Info("watching change streams", "collections", w.collections)
	for cs.Next(ctx) {
		var ev changeEvent
		if err := cs.Decode(&ev); err != nil {
			w.c.logger.Warn("undecodable change event", "error", err)
			continue
		}
		onChange(ev.NS.Coll)
	}
	if ctx.Err() != nil {
		return nil
	}
	return classify("watch", cs.Err())
}
