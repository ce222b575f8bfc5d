//go:build integration

package mongodb

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	tcmongo "github.com/testcontainers/testcontainers-go/modules/mongodb"

	"github.com/tarimpazar/agrisync/internal/model"
	"github.com/tarimpazar/agrisync/internal/remote"
)

type MongoIntegrationSuite struct {
	suite.Suite
	ctx       context.Context
	container *tcmongo.MongoDBContainer
	client    *Client
}

func (s *MongoIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	container, err := tcmongo.Run(s.ctx, "mongo:7")
	s.Require().NoError(err)
	s.container = container

	uri, err := container.ConnectionString(s.ctx)
	s.Require().NoError(err)

	s.client, err = Connect(s.ctx, uri, "agrisync_test", 10*time.Second, logger)
	s.Require().NoError(err)
}

func (s *MongoIntegrationSuite) TearDownSuite() {
	if s.client != nil {
		_ = s.client.Disconnect(s.ctx)
	}
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func TestMongoIntegrationSuite(t *testing.T) {
	suite.Run(t, new(MongoIntegrationSuite))
}

func (s *MongoIntegrationSuite) TestCatalog_PushAndFetch() {
	src := Catalog(s.client)
	now := time.Now().UTC().Truncate(time.Millisecond)

	item := model.CatalogItem{
		ID: "tom1", Name: "Domates", Category: model.CategoryVegetable,
		Unit: "kg", Price: 12.50, LastUpdated: now,
	}
	stored, err := src.Push(s.ctx, item)
	s.Require().NoError(err)
	s.Equal("Domates", stored.Name)

	item.Price = 15.00
	stored, err = src.Push(s.ctx, item)
	s.Require().NoError(err, "push replaces by id")
	s.Equal(15.00, stored.Price, "push returns the stored document")

	all, err := src.FetchAll(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(all, 1)
	s.Equal(15.00, all[0].Price)
	s.True(all[0].LastUpdated.Equal(now))

	got, err := src.FetchByID(s.ctx, "tom1")
	s.Require().NoError(err)
	s.Equal("Domates", got.Name)
}

func (s *MongoIntegrationSuite) TestFetchByID_NotFound() {
	_, err := Catalog(s.client).FetchByID(s.ctx, "missing")
	s.Require().Error(err)
	s.Equal(remote.NotFound, remote.KindOf(err))
}

func (s *MongoIntegrationSuite) TestListings_FetchByOwner() {
	src := Listings(s.client)
	now := time.Now().UTC().Truncate(time.Millisecond)
	for _, l := range []model.Listing{
		{ID: "l1", UserID: "u1", Title: "Traktör", IsActive: true, CreatedAt: now, LastUpdated: now},
		{ID: "l2", UserID: "u2", Title: "Pulluk", IsActive: true, CreatedAt: now, LastUpdated: now},
		{ID: "l3", UserID: "u1", Title: "Römork", Media: []string{"a.jpg"}, CreatedAt: now, LastUpdated: now},
	} {
		_, err := src.Push(s.ctx, l)
		s.Require().NoError(err)
	}

	mine, err := src.FetchByOwner(s.ctx, "u1")
	s.Require().NoError(err)
	s.Len(mine, 2)

	_, err = Catalog(s.client).FetchByOwner(s.ctx, "u1")
	s.Error(err, "catalog has no owner")
}

func (s *MongoIntegrationSuite) TestTimeoutMapsToUnreachable() {
	ctx, cancel := context.WithTimeout(s.ctx, time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	_, err := Catalog(s.client).FetchAll(ctx)
	s.Require().Error(err)
	s.Equal(remote.Unreachable, remote.KindOf(err))
}

func (s *MongoIntegrationSuite) TestCollectionCounts() {
	src := Catalog(s.client)
	_, err := src.Push(s.ctx, model.CatalogItem{
		ID: "pep1", Name: "Biber", Category: model.CategoryVegetable, Price: 20,
	})
	s.Require().NoError(err)

	counts, err := s.client.CollectionCounts(s.ctx)
	s.Require().NoError(err)
	s.Contains(counts, model.CollectionCatalog)
	s.Positive(counts[model.CollectionCatalog])
}
