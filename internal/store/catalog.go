package store

import (
	"context"

	"github.com/tarimpazar/agrisync/internal/model"
)

type catalogRow struct {
	ID             string  `db:"id"`
	Name           string  `db:"name"`
	Category       string  `db:"category"`
	ProductType    string  `db:"product_type"`
	ProductVariety string  `db:"product_variety"`
	Unit           string  `db:"unit"`
	Price          float64 `db:"price"`
	LastUpdated    int64   `db:"last_updated"`
}

// CatalogStore caches catalog items. Upserts always replace the stored
// record: prices are authored remotely and the latest fetch wins.
type CatalogStore struct {
	*collection[model.CatalogItem, catalogRow]
}

func newCatalogStore(db *DB) *CatalogStore {
	return &CatalogStore{newCollection(db, tableDef[model.CatalogItem, catalogRow]{
		table:      model.CollectionCatalog,
		columns:    "id, name, category, product_type, product_variety, unit, price, last_updated",
		orderBy:    "name COLLATE " + collationName + ", id",
		searchCols: []string{"name", "product_type", "product_variety"},
		upsert: `
			INSERT INTO catalog_items
			    (id, name, category, product_type, product_variety, unit, price, content_hash, last_updated)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
			    name            = excluded.name,
			    category        = excluded.category,
			    product_type    = excluded.product_type,
			    product_variety = excluded.product_variety,
			    unit            = excluded.unit,
			    price           = excluded.price,
			    content_hash    = excluded.content_hash,
			    last_updated    = excluded.last_updated`,
		toArgs: func(c model.CatalogItem) ([]any, error) {
			return []any{
				c.ID, c.Name, string(c.Category), c.ProductType, c.ProductVariety,
				c.Unit, c.Price, c.ContentHash(), toMillis(c.LastUpdated),
			}, nil
		},
		fromRow: func(r catalogRow) (model.CatalogItem, error) {
			return model.CatalogItem{
				ID:             r.ID,
				Name:           r.Name,
				Category:       model.Category(r.Category),
				ProductType:    r.ProductType,
				ProductVariety: r.ProductVariety,
				Unit:           r.Unit,
				Price:          r.Price,
				LastUpdated:    fromMillis(r.LastUpdated),
			}, nil
		},
	})}
}

// ByCategory returns the items of category cat in default order.
func (s *CatalogStore) ByCategory(ctx context.Context, cat model.Category) ([]model.CatalogItem, error) {
	items, err := s.selectWhere(ctx, "category = ?", string(cat))
	return items, wrap("select catalog_items by category", err)
}
