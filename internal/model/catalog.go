package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// CatalogItem is a priced commodity (produce, fuel, ...). Prices are
// authored remotely; the local copy is only ever replaced by a sync.
type CatalogItem struct {
	ID             string    `bson:"_id" json:"id"`
	Name           string    `bson:"name" json:"name"`
	Category       Category  `bson:"category" json:"category"`
	ProductType    string    `bson:"product_type" json:"product_type"`
	ProductVariety string    `bson:"product_variety" json:"product_variety"`
	Unit           string    `bson:"unit" json:"unit"`
	Price          float64   `bson:"price" json:"price"`
	LastUpdated    time.Time `bson:"last_updated" json:"last_updated"`
}

func (c CatalogItem) Key() string { return c.ID }
func (c CatalogItem) DisplayName() string { return c.Name }
func (c CatalogItem) PriceAmount() float64 { return c.Price }
func (c CatalogItem) Modified() time.Time { return c.LastUpdated }
func (c CatalogItem) SearchFields() []string {
	return []string{c.Name, c.ProductType, c.ProductVariety}
}

// Validate checks the invariants a catalog item must hold before it may be
// stored.
func (c CatalogItem) Validate() error {
	if err := required("id", c.ID); err != nil {
		return err
	}
	if err := required("name", c.Name); err != nil {
		return err
	}
	if !c.Category.Valid() {
		return &ValidationError{Field: "category", Reason: fmt.Sprintf("unknown category %q", c.Category)}
	}
	return checkPrice(c.Price)
}

// ContentHash returns a SHA-256 hex digest of the fields a user can see.
// LastUpdated is excluded: a re-published document with identical content
// hashes the same.
func (c CatalogItem) ContentHash() string {
	h := sha256.New()
	_, _ = fmt.Fprintf(h, "%s|%s|%s|%s|%s|%s|%.4f",
		c.ID, c.Name, c.Category, c.ProductType, c.ProductVariety, c.Unit, c.Price)
	return hex.EncodeToString(h.Sum(nil))
}

// InCategory returns a predicate matching items of category c. The empty
// category matches everything.
func InCategory(c Category) func(CatalogItem) bool {
	return func(item CatalogItem) bool {
		return c == "" || item.Category == c
	}
}
