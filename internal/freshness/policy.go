// Package freshness classifies cached collections by the age of their last
// successful sync.
package freshness

import "time"

// Decision is the outcome of [Decide].
type Decision int

const (
	// Fresh caches are served as-is.
	Fresh Decision = iota
	// Stale caches are served immediately while a background refresh runs.
	Stale
	// Expired caches must be refreshed before they are trusted.
	Expired
)

func (d Decision) String() string {
	switch d {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	case Expired:
		return "expired"
	}
	return "unknown"
}

// Decide classifies a cache last synced at lastSyncAt.
//
//	age <  maxAge            Fresh
//	maxAge <= age < 2*maxAge Stale
//	age >= 2*maxAge          Expired
//
// A zero lastSyncAt (never synced) or a non-positive maxAge is Expired. A
// lastSyncAt in the future (clock skew) is treated as age zero.
func Decide(lastSyncAt, now time.Time, maxAge time.Duration) Decision {
	if lastSyncAt.IsZero() || maxAge <= 0 {
		return Expired
	}
	age := now.Sub(lastSyncAt)
	if age < 0 {
		age = 0
	}
	switch {
	case age < maxAge:
		return Fresh
	case age < 2*maxAge:
		return Stale
	default:
		return Expired
	}
}

// Policy bundles the freshness window and the retention window of one
// collection.
type Policy struct {
	MaxAge    time.Duration
	Retention time.Duration
}

// Decide applies [Decide] with the policy's MaxAge.
func (p Policy) Decide(lastSyncAt, now time.Time) Decision {
	return Decide(lastSyncAt, now, p.MaxAge)
}

// Cutoff returns the instant before which records fall out of retention.
// A zero Retention disables the sweep and returns the zero time.
func (p Policy) Cutoff(now time.Time) time.Time {
	if p.Retention <= 0 {
		return time.Time{}
	}
	return now.Add(-p.Retention)
}

// Days converts a retention period in days to a duration.
func Days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}
