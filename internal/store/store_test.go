package store

import (
	"context"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	apperrors "github.com/matthewbaird/canalworks/internal/errors"
	"github.com/matthewbaird/canalworks/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := "file:" + name + "?mode=memory&cache=shared&_pragma=foreign_keys(1)"
	ctx := context.Background()
	s, err := Open(ctx, dsn, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(ctx))
	return s
}

type chainIDs struct {
	zone, circle, division        int64
	component, subcomponent, item int64
}

func seedChains(t *testing.T, s *Store) chainIDs {
	t.Helper()
	ctx := context.Background()
	add := func(level types.Level, name string, parent *int64) int64 {
		id, err := s.AddNode(ctx, level, name, parent, types.Audit{Source: "system"})
		require.NoError(t, err)
		return id
	}
	var c chainIDs
	c.zone = add(types.LevelZone, "North", nil)
	c.circle = add(types.LevelCircle, "Circle 1", &c.zone)
	c.division = add(types.LevelDivision, "Division A", &c.circle)
	c.component = add(types.LevelComponent, "Irrigation", nil)
	c.subcomponent = add(types.LevelSubcomponent, "Canals", &c.component)
	c.item = add(types.LevelWorkItem, "Lining", &c.subcomponent)
	return c
}

func testWork(c chainIDs, name string) types.Work {
	return types.Work{
		Name:                name,
		PackageNumber:       "PKG-1",
		Cost:                250000,
		TargetKm:            decimal.RequireFromString("12.5"),
		WorkPeriodMonths:    36,
		AreaUnderIrrigation: decimal.RequireFromString("300.25"),
		AwardStatus:         types.AwardStatusAwarded,
		ZoneID:              c.zone,
		CircleID:            c.circle,
		DivisionID:          c.division,
		ComponentID:         c.component,
		SubcomponentID:      c.subcomponent,
		WorkItemID:          c.item,
		Audit:               types.Audit{CreatedBy: "alice"},
	}
}

func testComponent() types.CostComponent {
	return types.CostComponent{
		Name:           "Earthwork",
		Unit:           "m3",
		TotalQty:       decimal.RequireFromString("100"),
		MilestoneCount: 3,
		Milestones: []decimal.NullDecimal{
			{Decimal: decimal.RequireFromString("33.33"), Valid: true},
			{Decimal: decimal.RequireFromString("33.33"), Valid: true},
			{Decimal: decimal.RequireFromString("33.34"), Valid: true},
		},
	}
}

func TestOptions_FiltersByParent(t *testing.T) {
	s := openTestStore(t)
	c := seedChains(t, s)
	ctx := context.Background()

	south, err := s.AddNode(ctx, types.LevelZone, "South", nil, types.Audit{})
	require.NoError(t, err)
	_, err = s.AddNode(ctx, types.LevelCircle, "Circle 9", &south, types.Audit{})
	require.NoError(t, err)

	zones, err := s.Options(ctx, types.LevelZone, nil)
	require.NoError(t, err)
	require.Len(t, zones, 2)
	assert.Equal(t, "North", zones[0].Name)
	assert.Nil(t, zones[0].ParentID)

	circles, err := s.Options(ctx, types.LevelCircle, &c.zone)
	require.NoError(t, err)
	require.Len(t, circles, 1)
	assert.Equal(t, "Circle 1", circles[0].Name)
	assert.Equal(t, c.zone, *circles[0].ParentID)

	n, err := s.CountNodes(ctx, types.LevelCircle)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestAddNode_ParentRules(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.AddNode(ctx, types.LevelCircle, "Orphan", nil, types.Audit{})
	assert.Equal(t, apperrors.CodeInvalidArgument, apperrors.CodeOf(err))

	missing := int64(999)
	_, err = s.AddNode(ctx, types.LevelCircle, "Dangling", &missing, types.Audit{})
	assert.Equal(t, apperrors.CodeConstraintForeignKey, apperrors.CodeOf(err))

	_, err = s.Options(ctx, types.Level("basin"), nil)
	assert.Equal(t, apperrors.CodeInvalidArgument, apperrors.CodeOf(err))
}

func TestCreateWork_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	c := seedChains(t, s)
	ctx := context.Background()

	id, err := s.CreateWork(ctx, testWork(c, "Canal A"))
	require.NoError(t, err)
	require.NoError(t, s.CreateBeneficiary(ctx, id, types.Beneficiary{
		TotalPopulation: 1000, Female: 490, Male: 510, Youth: 290, GovernmentStakeholders: 10,
	}))
	require.NoError(t, s.CreateVillages(ctx, id, []types.Village{
		{Name: "Rampur", District: "D", Block: "B", Panchayat: "P", CensusPopulation: 100, Male: 51, Female: 49},
		{Name: "Sitapur", District: "D", Block: "B", Panchayat: "P", CensusPopulation: 10, Male: 5, Female: 5},
	}))
	require.NoError(t, s.CreateComponents(ctx, id, []types.CostComponent{testComponent()}))

	pkg, err := s.GetWorkPackage(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Canal A", pkg.Work.Name)
	assert.True(t, pkg.Work.TargetKm.Equal(decimal.RequireFromString("12.5")))
	assert.Equal(t, "alice", pkg.Work.CreatedBy)
	assert.Equal(t, "user", pkg.Work.Source)
	assert.False(t, pkg.Work.CreatedAt.IsZero())

	require.NotNil(t, pkg.Beneficiary)
	assert.Equal(t, int64(990), pkg.Beneficiary.Eligible, "eligible derived when omitted")
	require.Len(t, pkg.Villages, 2)
	assert.Equal(t, "Rampur", pkg.Villages[0].Name)

	require.Len(t, pkg.Components, 1)
	comp := pkg.Components[0]
	require.Len(t, comp.Milestones, 3)
	sum := decimal.Zero
	for _, m := range comp.Milestones {
		require.True(t, m.Valid)
		sum = sum.Add(m.Decimal)
	}
	assert.True(t, sum.Equal(comp.TotalQty))

	months, err := s.WorkPeriod(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 36, months)
}

func TestCreateWork_DuplicateNameIgnoresCaseAndSpace(t *testing.T) {
	s := openTestStore(t)
	c := seedChains(t, s)
	ctx := context.Background()

	_, err := s.CreateWork(ctx, testWork(c, "Canal A"))
	require.NoError(t, err)
	_, err = s.CreateWork(ctx, testWork(c, "  canal a "))
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeConstraintDuplicate, apperrors.CodeOf(err))
	assert.Contains(t, err.Error(), "canal a")

	names, err := s.WorkNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Canal A"}, names)
}

func TestCreateWork_UnknownHierarchyNode(t *testing.T) {
	s := openTestStore(t)
	c := seedChains(t, s)
	w := testWork(c, "Canal B")
	w.DivisionID = 404

	_, err := s.CreateWork(context.Background(), w)
	assert.Equal(t, apperrors.CodeConstraintForeignKey, apperrors.CodeOf(err))
}

func TestDependents_RequireWork(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.CreateBeneficiary(ctx, 77, types.Beneficiary{TotalPopulation: 1})
	assert.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(err))
	err = s.CreateVillages(ctx, 77, []types.Village{{Name: "X"}})
	assert.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(err))
	err = s.CreateComponents(ctx, 77, []types.CostComponent{testComponent()})
	assert.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(err))
}

func TestCreateBeneficiary_OnlyOnce(t *testing.T) {
	s := openTestStore(t)
	c := seedChains(t, s)
	ctx := context.Background()
	id, err := s.CreateWork(ctx, testWork(c, "Canal A"))
	require.NoError(t, err)

	b := types.Beneficiary{TotalPopulation: 10, Female: 5, Male: 5}
	require.NoError(t, s.CreateBeneficiary(ctx, id, b))
	err = s.CreateBeneficiary(ctx, id, b)
	assert.Equal(t, apperrors.CodeConstraintDuplicate, apperrors.CodeOf(err))
}

func TestDeleteWork_Cascades(t *testing.T) {
	s := openTestStore(t)
	c := seedChains(t, s)
	ctx := context.Background()
	id, err := s.CreateWork(ctx, testWork(c, "Canal A"))
	require.NoError(t, err)
	require.NoError(t, s.CreateBeneficiary(ctx, id, types.Beneficiary{TotalPopulation: 10, Female: 5, Male: 5}))
	require.NoError(t, s.CreateComponents(ctx, id, []types.CostComponent{testComponent()}))

	w, err := s.GetWork(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Canal A", w.Name)

	require.NoError(t, s.DeleteWork(ctx, id))
	_, err = s.GetWorkPackage(ctx, id)
	assert.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(err))
	_, err = s.GetWork(ctx, id)
	assert.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(err))

	n, err := s.count(ctx, tableCostItems, nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	err = s.DeleteWork(ctx, id)
	assert.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(err))

	// The name is free again.
	_, err = s.CreateWork(ctx, testWork(c, "Canal A"))
	assert.NoError(t, err)
}

func TestCreateAggregate_AllOrNothing(t *testing.T) {
	s := openTestStore(t)
	c := seedChains(t, s)
	ctx := context.Background()

	pkg := types.WorkPackage{
		Work:        testWork(c, "Canal A"),
		Beneficiary: &types.Beneficiary{TotalPopulation: 10, Female: 5, Male: 5},
		Villages:    []types.Village{{Name: "Rampur", CensusPopulation: 2, Male: 1, Female: 1}},
		Components:  []types.CostComponent{testComponent()},
	}
	id, err := s.CreateAggregate(ctx, pkg)
	require.NoError(t, err)
	got, err := s.GetWorkPackage(ctx, id)
	require.NoError(t, err)
	assert.Len(t, got.Villages, 1)
	assert.Len(t, got.Components, 1)

	// A failing second package leaves nothing behind.
	bad := pkg
	bad.Work = testWork(c, "Canal B")
	bad.Work.WorkItemID = 404
	_, err = s.CreateAggregate(ctx, bad)
	require.Error(t, err)

	works, total, err := s.ListWorkPackages(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, works, 1)
}

func TestListWorkPackages_SearchAndPage(t *testing.T) {
	s := openTestStore(t)
	c := seedChains(t, s)
	ctx := context.Background()
	for _, name := range []string{"Canal A", "Canal B", "Drain C"} {
		_, err := s.CreateWork(ctx, testWork(c, name))
		require.NoError(t, err)
	}

	works, total, err := s.ListWorkPackages(ctx, ListOptions{Query: "CANAL"})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, works, 2)

	works, total, err = s.ListWorkPackages(ctx, ListOptions{Limit: 1, Offset: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, works, 1)
	assert.Equal(t, "Drain C", works[0].Name)
}
