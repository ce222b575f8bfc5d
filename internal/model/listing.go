package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Listing is a rentable machine posting. IsActive=false marks a soft
// deactivation; the record stays until the retention sweep removes it.
type Listing struct {
	ID          string    `bson:"_id" json:"id"`
	UserID      string    `bson:"user_id" json:"user_id"`
	Title       string    `bson:"title" json:"title"`
	Description string    `bson:"description" json:"description"`
	MachineType string    `bson:"machine_type" json:"machine_type"`
	Location    string    `bson:"location" json:"location"`
	Price       float64   `bson:"price" json:"price"`
	Media       []string  `bson:"media" json:"media"`
	IsActive    bool      `bson:"is_active" json:"is_active"`
	CreatedAt   time.Time `bson:"created_at" json:"created_at"`
	LastUpdated time.Time `bson:"last_updated" json:"last_updated"`
}

func (l Listing) Key() string { return l.ID }
func (l Listing) DisplayName() string { return l.Title }
func (l Listing) PriceAmount() float64 { return l.Price }
func (l Listing) Modified() time.Time { return l.LastUpdated }
func (l Listing) SearchFields() []string {
	return []string{l.Title, l.Description, l.MachineType, l.Location}
}

// Validate checks the invariants a listing must hold before it may be stored.
func (l Listing) Validate() error {
	if err := required("id", l.ID); err != nil {
		return err
	}
	if err := required("user_id", l.UserID); err != nil {
		return err
	}
	if err := required("title", l.Title); err != nil {
		return err
	}
	if !l.CreatedAt.IsZero() && l.LastUpdated.Before(l.CreatedAt) {
		return &ValidationError{Field: "last_updated", Reason: "precedes created_at"}
	}
	return checkPrice(l.Price)
}

// ContentHash returns a SHA-256 hex digest of the user-visible fields,
// including the active flag. Timestamps are excluded.
func (l Listing) ContentHash() string {
	h := sha256.New()
	_, _ = fmt.Fprintf(h, "%s|%s|%s|%s|%s|%s|%.4f|%t|",
		l.ID, l.UserID, l.Title, l.Description, l.MachineType, l.Location, l.Price, l.IsActive)
	h.Write([]byte(strings.Join(l.Media, "\x00")))
	return hex.EncodeToString(h.Sum(nil))
}

// ActiveOnly matches listings that have not been deactivated.
func ActiveOnly(l Listing) bool { return l.IsActive }

// InLocation returns a predicate matching listings in city (case-insensitive).
// The empty city matches everything.
func InLocation(city string) func(Listing) bool {
	return func(l Listing) bool {
		return city == "" || strings.EqualFold(strings.TrimSpace(l.Location), strings.TrimSpace(city))
	}
}
