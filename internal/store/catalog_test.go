package store

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/tarimpazar/agrisync/internal/model"
)

func TestCatalog_UpsertAndGetByID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.Catalog().UpsertOne(ctx, tomato(12.5)); err != nil {
		t.Fatalf("UpsertOne: %v", err)
	}

	got, err := s.Catalog().GetByID(ctx, "tom1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got == nil {
		t.Fatal("GetByID returned nil, want item")
	}
	if got.Name != "Domates" || got.Category != model.CategoryVegetable {
		t.Errorf("got %+v", got)
	}
	if !got.LastUpdated.Equal(t0) {
		t.Errorf("LastUpdated = %v, want %v", got.LastUpdated, t0)
	}
}

func TestCatalog_GetByID_NotFound(t *testing.T) {
	s := openTestStore(t)
	got, err := s.Catalog().GetByID(context.Background(), "does-not-exist")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing item, got %+v", got)
	}
}

// Upserting a record with an existing id replaces it: afterwards exactly one
// record with that id exists and it equals the last one written.
func TestCatalog_UpsertReplaces(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.Catalog().UpsertOne(ctx, tomato(12.50)); err != nil {
		t.Fatalf("initial UpsertOne: %v", err)
	}
	updated := tomato(15.00)
	updated.LastUpdated = t0.Add(time.Hour)
	res, err := s.Catalog().UpsertOne(ctx, updated)
	if err != nil {
		t.Fatalf("update UpsertOne: %v", err)
	}
	if res.Written != 1 {
		t.Errorf("Written = %d, want 1", res.Written)
	}

	all, err := s.Catalog().All(ctx)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 item after update, got %d", len(all))
	}
	if all[0].Price != 15.00 {
		t.Errorf("Price = %v, want 15.00", all[0].Price)
	}
	if !all[0].LastUpdated.Equal(updated.LastUpdated) {
		t.Errorf("LastUpdated = %v, want %v", all[0].LastUpdated, updated.LastUpdated)
	}
}

func TestCatalog_UpsertManyCountsUnchanged(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	pepper := model.CatalogItem{ID: "pep1", Name: "Biber", Category: model.CategoryVegetable, Price: 20, LastUpdated: t0}
	if _, err := s.Catalog().UpsertMany(ctx, []model.CatalogItem{tomato(12.5), pepper}); err != nil {
		t.Fatalf("UpsertMany: %v", err)
	}

	again := tomato(12.5)
	again.LastUpdated = t0.Add(time.Minute)
	pepper.Price = 22
	res, err := s.Catalog().UpsertMany(ctx, []model.CatalogItem{again, pepper})
	if err != nil {
		t.Fatalf("second UpsertMany: %v", err)
	}
	if res.Written != 1 || res.Unchanged != 1 || res.Rejected != 0 {
		t.Errorf("result = %+v, want 1 written 1 unchanged", res)
	}

	got, _ := s.Catalog().GetByID(ctx, "tom1")
	if !got.LastUpdated.Equal(again.LastUpdated) {
		t.Error("unchanged content should still refresh last_updated")
	}
}

func TestCatalog_DefaultOrderAndSearch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	items := []model.CatalogItem{
		{ID: "z1", Name: "Zeytin", Category: model.CategoryFruit, ProductVariety: "Gemlik", Price: 90, LastUpdated: t0},
		{ID: "d1", Name: "Domates", Category: model.CategoryVegetable, ProductVariety: "Salkım", Price: 12.5, LastUpdated: t0},
		{ID: "m1", Name: "Motorin", Category: model.CategoryFuel, Price: 43.1, LastUpdated: t0},
	}
	if _, err := s.Catalog().UpsertMany(ctx, items); err != nil {
		t.Fatalf("UpsertMany: %v", err)
	}

	all, err := s.Catalog().All(ctx)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 3 || all[0].ID != "d1" || all[1].ID != "m1" || all[2].ID != "z1" {
		t.Errorf("default order = %v, want by name", ids(all))
	}

	for q, want := range map[string]int{"": 3, "DOMA": 1, "salkım": 1, "GEML": 1, "t": 3, "patates": 0} {
		got, err := s.Catalog().Search(ctx, q)
		if err != nil {
			t.Fatalf("Search(%q): %v", q, err)
		}
		if len(got) != want {
			t.Errorf("Search(%q) returned %d items, want %d", q, len(got), want)
		}
	}

	fuel, err := s.Catalog().ByCategory(ctx, model.CategoryFuel)
	if err != nil {
		t.Fatalf("ByCategory: %v", err)
	}
	if len(fuel) != 1 || fuel[0].ID != "m1" {
		t.Errorf("ByCategory(fuel) = %v", ids(fuel))
	}
}

// The default order follows the cache language: Ç sorts between C and D in
// Turkish, not after Z as raw UTF-8 bytes would put it.
func TestCatalog_DefaultOrderUsesCollation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	items := []model.CatalogItem{
		{ID: "z1", Name: "Zeytin", Category: model.CategoryFruit, Price: 90, LastUpdated: t0},
		{ID: "c2", Name: "Çilek", Category: model.CategoryFruit, Price: 45.5, LastUpdated: t0},
		{ID: "d1", Name: "Domates", Category: model.CategoryVegetable, Price: 12.5, LastUpdated: t0},
		{ID: "c1", Name: "Ceviz", Category: model.CategoryFruit, Price: 120, LastUpdated: t0},
	}
	if _, err := s.Catalog().UpsertMany(ctx, items); err != nil {
		t.Fatalf("UpsertMany: %v", err)
	}

	all, err := s.Catalog().All(ctx)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if got, want := ids(all), []string{"c1", "c2", "d1", "z1"}; !slices.Equal(got, want) {
		t.Errorf("default order = %v, want %v", got, want)
	}

	hits, err := s.Catalog().Search(ctx, "ÇİL")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "c2" {
		t.Errorf("Search(ÇİL) = %v, want [c2]", ids(hits))
	}
}

func TestCatalog_LastModified(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	lm, err := s.Catalog().LastModified(ctx)
	if err != nil {
		t.Fatalf("LastModified: %v", err)
	}
	if !lm.IsZero() {
		t.Errorf("LastModified of empty table = %v, want zero", lm)
	}

	later := tomato(1)
	later.ID = "tom2"
	later.LastUpdated = t0.Add(48 * time.Hour)
	if _, err := s.Catalog().UpsertMany(ctx, []model.CatalogItem{tomato(1), later}); err != nil {
		t.Fatalf("UpsertMany: %v", err)
	}
	lm, _ = s.Catalog().LastModified(ctx)
	if !lm.Equal(later.LastUpdated) {
		t.Errorf("LastModified = %v, want %v", lm, later.LastUpdated)
	}
}

func TestTimestampRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Stored with millisecond precision.
	ts := time.Date(2026, 2, 17, 14, 30, 0, 123456789, time.UTC)
	item := tomato(3)
	item.LastUpdated = ts
	if _, err := s.Catalog().UpsertOne(ctx, item); err != nil {
		t.Fatalf("UpsertOne: %v", err)
	}

	got, err := s.Catalog().GetByID(ctx, "tom1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if want := ts.Truncate(time.Millisecond); !got.LastUpdated.Equal(want) {
		t.Errorf("LastUpdated = %v, want %v", got.LastUpdated, want)
	}
}

func ids[T interface{ Key() string }](items []T) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Key()
	}
	return out
}
