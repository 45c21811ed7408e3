package activity

import (
	"context"

	"github.com/matthewbaird/canalworks/internal/types"
)

// Store is the interface for reading and writing activity entries.
// Entries are kept outside the relational schema; one domain event fans out
// to one entry per referenced entity.
type Store interface {
	// WriteEntries writes one or more activity entries (one event → many entries).
	WriteEntries(ctx context.Context, entries []types.ActivityEntry) error

	// QueryByEntity returns activity entries for a specific entity.
	QueryByEntity(ctx context.Context, entityType, entityID string, opts QueryOptions) (entries []types.ActivityEntry, nextCursor string, totalCount int, err error)

	// Search performs a case-insensitive search across activity summaries.
	Search(ctx context.Context, query string, opts SearchOptions) (entries []types.ActivityEntry, totalCount int, err error)
}

// Weights, most severe first.
const (
	WeightCritical = "critical"
	WeightMajor    = "major"
	WeightMinor    = "minor"
	WeightInfo     = "info"
)

// weightOrder maps weights to numeric severity (lower = more severe).
var weightOrder = map[string]int{
	WeightCritical: 1,
	WeightMajor:    2,
	WeightMinor:    3,
	WeightInfo:     4,
}

func weightSeverity(weight string) int {
	if s, ok := weightOrder[weight]; ok {
		return s
	}
	return len(weightOrder) + 1
}

// IsAtLeastWeight returns true if actual is at least as severe as minimum.
func IsAtLeastWeight(actual, minimum string) bool {
	return weightSeverity(actual) <= weightSeverity(minimum)
}
