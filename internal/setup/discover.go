package setup

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/tarimpazar/agrisync/internal/model"
)

// Remote is the part of a database connection the wizard needs.
type Remote interface {
	CollectionCounts(ctx context.Context) (map[string]int64, error)
	Disconnect(ctx context.Context) error
}

// Connector dials the remote database. Production code passes a wrapper
// around mongodb.Connect; tests pass a fake.
type Connector func(ctx context.Context, uri, database string, timeout time.Duration) (Remote, error)

// CollectionInfo describes one remote collection found during setup.
type CollectionInfo struct {
	Name  string
	Count int64
	// Required is true for the collections agrisync syncs.
	Required bool
	// Missing is true when a required collection does not exist yet.
	Missing bool
}

// DiscoverCollections lists the collections of the remote database with
// their estimated sizes. Required collections come first; a required
// collection the database lacks is reported with Missing set.
func DiscoverCollections(ctx context.Context, r Remote) ([]CollectionInfo, error) {
	counts, err := r.CollectionCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing collections: %w", err)
	}

	required := []string{model.CollectionCatalog, model.CollectionListings}
	out := make([]CollectionInfo, 0, len(counts)+len(required))
	seen := make(map[string]bool, len(required))
	for _, name := range required {
		n, ok := counts[name]
		out = append(out, CollectionInfo{Name: name, Count: n, Required: true, Missing: !ok})
		seen[name] = true
	}

	var rest []string
	for name := range counts {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	for _, name := range rest {
		out = append(out, CollectionInfo{Name: name, Count: counts[name]})
	}
	return out, nil
}
