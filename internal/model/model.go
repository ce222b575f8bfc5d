// Package model defines the entities shared by the local store, the remote
// adapters and the reconciling repositories.
//
// Both entity types are replaced wholesale on every write (replace-by-id);
// nothing in this package mutates a record field by field.
package model

import (
	"fmt"
	"math"
	"strings"
)

// Collection names. They double as SQLite table names, Mongo collection
// names and the keys of the per-collection sync state.
const (
	CollectionCatalog  = "catalog_items"
	CollectionListings = "listings"
)

// Category classifies a catalog item.
type Category string

const (
	CategoryVegetable Category = "produce-vegetable"
	CategoryFruit     Category = "produce-fruit"
	CategoryFuel      Category = "fuel"
	CategoryOther     Category = "other"
)

// Categories lists every known category in display order.
var Categories = []Category{CategoryVegetable, CategoryFruit, CategoryFuel, CategoryOther}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryVegetable, CategoryFruit, CategoryFuel, CategoryOther:
		return true
	default:
		return false
	}
}

// ParseCategory maps user input (case-insensitive) to a Category.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", &ValidationError{Field: "category", Reason: fmt.Sprintf("unknown category %q", s)}
	}
	return c, nil
}

// ValidationError reports a record field that violates an entity invariant.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid field %s: %s", e.Field, e.Reason)
}

func checkPrice(p float64) error {
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return &ValidationError{Field: "price", Reason: "not a finite number"}
	}
	if p < 0 {
		return &ValidationError{Field: "price", Reason: fmt.Sprintf("%v is negative", p)}
	}
	return nil
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{Field: field, Reason: "must not be empty"}
	}
	return nil
}
