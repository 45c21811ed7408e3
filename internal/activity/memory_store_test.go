package activity

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/matthewbaird/canalworks/internal/types"
)

func testEntry(entityType, entityID, category, weight, summary string, daysAgo int) types.ActivityEntry {
	return types.ActivityEntry{
		EventID:           "test-" + summary,
		EventType:         "test_event",
		OccurredAt:        time.Now().AddDate(0, 0, -daysAgo),
		IndexedEntityType: entityType,
		IndexedEntityID:   entityID,
		EntityRole:        "subject",
		Summary:           summary,
		Category:          category,
		Weight:            weight,
	}
}

func TestMemoryStore_WriteAndQuery(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	entries := []types.ActivityEntry{
		testEntry("work_package", "1", "work", "major", "Work package created", 10),
		testEntry("work_package", "1", "beneficiary", "minor", "Beneficiary recorded", 5),
		testEntry("work_package", "2", "work", "major", "Work package created", 10),
	}

	if err := store.WriteEntries(ctx, entries); err != nil {
		t.Fatalf("WriteEntries: %v", err)
	}
	if store.Len() != 3 {
		t.Errorf("Len = %d, want 3", store.Len())
	}

	results, _, total, err := store.QueryByEntity(ctx, "work_package", "1", DefaultQueryOptions())
	if err != nil {
		t.Fatalf("QueryByEntity: %v", err)
	}
	if total != 2 {
		t.Errorf("total = %d, want 2", total)
	}
	if len(results) != 2 || results[0].Summary != "Beneficiary recorded" {
		t.Errorf("expected newest entry first, got %+v", results)
	}
}

func TestMemoryStore_QueryByEntity_FilterCategory(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	store.WriteEntries(ctx, []types.ActivityEntry{
		testEntry("work_package", "1", "work", "major", "Created", 10),
		testEntry("work_package", "1", "village", "minor", "Villages", 5),
	})

	opts := DefaultQueryOptions()
	opts.Categories = []string{"village"}
	results, _, total, err := store.QueryByEntity(ctx, "work_package", "1", opts)
	if err != nil {
		t.Fatalf("QueryByEntity: %v", err)
	}
	if total != 1 || len(results) != 1 {
		t.Fatalf("total = %d, results = %d, want 1", total, len(results))
	}
	if results[0].Category != "village" {
		t.Errorf("category = %q, want village", results[0].Category)
	}
}

func TestMemoryStore_QueryByEntity_TimeWindow(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	store.WriteEntries(ctx, []types.ActivityEntry{
		testEntry("work_package", "1", "work", "info", "Recent", 5),
		testEntry("work_package", "1", "work", "info", "Old", 200),
	})

	since := time.Now().AddDate(0, 0, -30)
	opts := DefaultQueryOptions()
	opts.Since = &since
	results, _, total, err := store.QueryByEntity(ctx, "work_package", "1", opts)
	if err != nil {
		t.Fatalf("QueryByEntity: %v", err)
	}
	if total != 1 || len(results) != 1 || results[0].Summary != "Recent" {
		t.Errorf("expected only 'Recent' entry, got %+v", results)
	}
}

func TestMemoryStore_QueryByEntity_MinWeight(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	store.WriteEntries(ctx, []types.ActivityEntry{
		testEntry("work_package", "1", "submission", "info", "Info level", 5),
		testEntry("work_package", "1", "submission", "critical", "Critical level", 5),
	})

	opts := DefaultQueryOptions()
	opts.MinWeight = WeightMajor
	results, _, total, err := store.QueryByEntity(ctx, "work_package", "1", opts)
	if err != nil {
		t.Fatalf("QueryByEntity: %v", err)
	}
	if total != 1 || len(results) != 1 || results[0].Weight != WeightCritical {
		t.Errorf("expected only the critical entry, got %+v", results)
	}
}

func TestMemoryStore_QueryByEntity_Cursor(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	for i := 1; i <= 3; i++ {
		store.WriteEntries(ctx, []types.ActivityEntry{
			testEntry("work_package", "1", "work", "info", "entry", i),
		})
	}

	opts := DefaultQueryOptions()
	opts.Limit = 2
	page, cursor, total, err := store.QueryByEntity(ctx, "work_package", "1", opts)
	if err != nil {
		t.Fatalf("QueryByEntity: %v", err)
	}
	if total != 3 || len(page) != 2 || cursor == "" {
		t.Fatalf("first page: total=%d len=%d cursor=%q", total, len(page), cursor)
	}

	opts.Cursor = cursor
	page, cursor, _, err = store.QueryByEntity(ctx, "work_package", "1", opts)
	if err != nil {
		t.Fatalf("QueryByEntity: %v", err)
	}
	if len(page) != 1 || cursor != "" {
		t.Errorf("second page: len=%d cursor=%q", len(page), cursor)
	}
}

func TestMemoryStore_Search(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	store.WriteEntries(ctx, []types.ActivityEntry{
		testEntry("work_package", "1", "submission", "major", "Submission failed at villages", 5),
		testEntry("work_package", "1", "work", "major", "Work package created", 10),
		testEntry("village", "7", "submission", "major", "Submission failed at villages", 3),
	})

	results, total, err := store.Search(ctx, "FAILED", DefaultSearchOptions())
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if total != 2 || len(results) != 2 {
		t.Errorf("total = %d, results = %d, want 2", total, len(results))
	}

	opts := DefaultSearchOptions()
	opts.EntityType = "village"
	results, total, err = store.Search(ctx, "failed", opts)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if total != 1 || results[0].IndexedEntityType != "village" {
		t.Errorf("expected only the village entry")
	}
}

func TestMemoryStore_EmptyStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	results, _, total, err := store.QueryByEntity(ctx, "work_package", "nobody", DefaultQueryOptions())
	if err != nil {
		t.Fatalf("QueryByEntity: %v", err)
	}
	if total != 0 || len(results) != 0 {
		t.Errorf("expected empty results from empty store")
	}
}

func TestIsAtLeastWeight(t *testing.T) {
	if !IsAtLeastWeight(WeightCritical, WeightMajor) {
		t.Error("critical should be at least major")
	}
	if !IsAtLeastWeight(WeightMinor, WeightMinor) {
		t.Error("minor should be at least minor")
	}
	if IsAtLeastWeight(WeightInfo, WeightMinor) {
		t.Error("info should not be at least minor")
	}
	if IsAtLeastWeight("unknown", WeightInfo) {
		t.Error("unknown weights rank below info")
	}
}

func TestMemoryStore_MaxEntriesDropsOldest(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(WithMaxEntries(3))

	for i, name := range []string{"a", "b", "c", "d", "e"} {
		store.WriteEntries(ctx, []types.ActivityEntry{
			testEntry("work_package", "1", "work", "info", name, 10-i),
		})
	}
	if store.Len() != 3 {
		t.Fatalf("Len = %d, want 3", store.Len())
	}

	results, _, total, err := store.QueryByEntity(ctx, "work_package", "1", DefaultQueryOptions())
	if err != nil {
		t.Fatalf("QueryByEntity: %v", err)
	}
	var got []string
	for _, e := range results {
		got = append(got, e.Summary)
	}
	if total != 3 || strings.Join(got, ",") != "e,d,c" {
		t.Errorf("kept %v, want [e d c]", got)
	}
}

func TestMemoryStore_RetentionWindow(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(WithRetention(48 * time.Hour))
	now := time.Now()
	store.now = func() time.Time { return now }

	store.WriteEntries(ctx, []types.ActivityEntry{
		testEntry("work_package", "1", "work", "info", "Fresh", 1),
		testEntry("work_package", "1", "work", "info", "Stale", 3),
	})
	opts := DefaultQueryOptions()
	results, _, total, err := store.QueryByEntity(ctx, "work_package", "1", opts)
	if err != nil {
		t.Fatalf("QueryByEntity: %v", err)
	}
	if total != 1 || results[0].Summary != "Fresh" {
		t.Errorf("expected only the fresh entry, got %+v", results)
	}

	// The next write past the prune interval drops what aged out.
	now = now.Add(2 * pruneEvery)
	store.WriteEntries(ctx, []types.ActivityEntry{
		testEntry("work_package", "2", "work", "info", "Later", 0),
	})
	if store.Len() != 2 {
		t.Errorf("Len = %d, want 2 after pruning", store.Len())
	}
	if _, total, _ := store.Search(ctx, "stale", DefaultSearchOptions()); total != 0 {
		t.Errorf("stale entry still searchable")
	}
}
