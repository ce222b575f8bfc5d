// Package query filters and orders in-memory snapshots of entities.
//
// Every function is a pure transform: the input slice is never modified and
// the result is a new slice. Orderings are strict total orders (ties are
// broken by identifier) so the same snapshot always iterates the same way.
package query

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Record is what the engine needs to know about an entity.
type Record interface {
	Key() string
	DisplayName() string
	PriceAmount() float64
	SearchFields() []string
}

// Order selects the ordering applied after filtering.
type Order int

const (
	// OrderNone keeps the snapshot order (the store's default ordering).
	OrderNone Order = iota
	// OrderName sorts alphabetically using the engine's collation.
	OrderName
	// OrderPriceAsc sorts by ascending price.
	OrderPriceAsc
	// OrderPriceDesc sorts by descending price.
	OrderPriceDesc
)

// String returns the CLI spelling of the order.
func (o Order) String() string {
	switch o {
	case OrderName:
		return "name"
	case OrderPriceAsc:
		return "price-asc"
	case OrderPriceDesc:
		return "price-desc"
	default:
		return "none"
	}
}

// ParseOrder is the inverse of [Order.String]. The empty string is OrderNone.
func ParseOrder(s string) (Order, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return OrderNone, nil
	case "name":
		return OrderName, nil
	case "price-asc":
		return OrderPriceAsc, nil
	case "price-desc":
		return OrderPriceDesc, nil
	}
	return OrderNone, fmt.Errorf("unknown sort order %q (want name, price-asc or price-desc)", s)
}

// Options combines a text filter with an ordering.
type Options struct {
	Text  string
	Order Order
}

// Engine holds the language rules used for alphabetic ordering and
// case-insensitive matching. It is safe for concurrent use.
type Engine struct {
	mu    sync.Mutex // collate.Collator and cases.Caser are not safe for concurrent use
	col   *collate.Collator
	lower cases.Caser
	tag   language.Tag
}

// NewEngine creates an Engine for tag (e.g. language.Turkish).
func NewEngine(tag language.Tag) *Engine {
	return &Engine{col: collate.New(tag), lower: cases.Lower(tag), tag: tag}
}

// Language returns the engine's language.
func (e *Engine) Language() language.Tag { return e.tag }

// Compare orders a and b by the engine's collation. The store registers it
// as an SQL collation so the default ordering agrees with OrderName.
func (e *Engine) Compare(a, b string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.col.CompareString(a, b)
}

// Fold lowercases s by the rules of the engine's language: under Turkish,
// "IŞIK" folds to "ışık" and "İzmir" to "izmir". The store's SQL fold()
// function is this method, so SQL and in-memory search agree.
func (e *Engine) Fold(s string) string {
	e.mu.Lock()
	out := e.lower.String(s)
	e.mu.Unlock()
	// Outside Turkic languages İ lowers to i plus a combining dot above.
	return strings.ReplaceAll(out, "i\u0307", "i")
}

// Search keeps the records whose search fields contain text, ignoring case
// by the engine's language. Blank text returns a copy of items unchanged.
func Search[T Record](e *Engine, items []T, text string) []T {
	needle := e.Fold(strings.TrimSpace(text))
	if needle == "" {
		return slices.Clone(items)
	}
	out := make([]T, 0, len(items))
	for _, it := range items {
		for _, f := range it.SearchFields() {
			if strings.Contains(e.Fold(f), needle) {
				out = append(out, it)
				break
			}
		}
	}
	return out
}

// Sort returns a copy of items in the given order.
func Sort[T Record](e *Engine, items []T, order Order) []T {
	out := slices.Clone(items)
	switch order {
	case OrderName:
		slices.SortFunc(out, func(a, b T) int {
			if c := e.Compare(a.DisplayName(), b.DisplayName()); c != 0 {
				return c
			}
			return strings.Compare(a.Key(), b.Key())
		})
	case OrderPriceAsc:
		slices.SortFunc(out, func(a, b T) int {
			if c := cmp.Compare(a.PriceAmount(), b.PriceAmount()); c != 0 {
				return c
			}
			return strings.Compare(a.Key(), b.Key())
		})
	case OrderPriceDesc:
		slices.SortFunc(out, func(a, b T) int {
			if c := cmp.Compare(b.PriceAmount(), a.PriceAmount()); c != 0 {
				return c
			}
			return strings.Compare(a.Key(), b.Key())
		})
	}
	return out
}

// Apply filters items by opts.Text and then orders them by opts.Order.
func Apply[T Record](e *Engine, items []T, opts Options) []T {
	return Sort(e, Search(e, items, opts.Text), opts.Order)
}
