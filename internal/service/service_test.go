package service

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/matthewbaird/canalworks/internal/activity"
	apperrors "github.com/matthewbaird/canalworks/internal/errors"
	"github.com/matthewbaird/canalworks/internal/event"
	"github.com/matthewbaird/canalworks/internal/rules"
	"github.com/matthewbaird/canalworks/internal/store"
	"github.com/matthewbaird/canalworks/internal/types"
)

type fixture struct {
	svc      *Service
	store    *store.Store
	activity *activity.MemoryStore
	ids      map[types.Level]int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	st, err := store.Open(ctx, "file:svc_"+name+"?mode=memory&cache=shared&_pragma=foreign_keys(1)", zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(ctx))

	ids := map[types.Level]int64{}
	for _, chain := range [][]types.Level{
		{types.LevelZone, types.LevelCircle, types.LevelDivision},
		{types.LevelComponent, types.LevelSubcomponent, types.LevelWorkItem},
	} {
		var parent *int64
		for _, level := range chain {
			id, err := st.AddNode(ctx, level, "Node "+string(level), parent, types.Audit{})
			require.NoError(t, err)
			ids[level] = id
			parent = &id
		}
	}
	// A second zone whose circle must not be accepted under the first.
	other, err := st.AddNode(ctx, types.LevelZone, "Other", nil, types.Audit{})
	require.NoError(t, err)
	ids["other_circle"], err = st.AddNode(ctx, types.LevelCircle, "Other circle", &other, types.Audit{})
	require.NoError(t, err)

	acts := activity.NewMemoryStore()
	svc := New(st, rules.MustDefault(), event.NewActivityRecorder(acts), zaptest.NewLogger(t))
	return &fixture{svc: svc, store: st, activity: acts, ids: ids}
}

func (f *fixture) work(name string, months int) types.Work {
	return types.Work{
		Name:                name,
		PackageNumber:       "PKG-1",
		Cost:                1200,
		TargetKm:            decimal.RequireFromString("12.5"),
		WorkPeriodMonths:    months,
		AreaUnderIrrigation: decimal.RequireFromString("340.25"),
		AwardStatus:         types.AwardStatusAwarded,
		ZoneID:              f.ids[types.LevelZone],
		CircleID:            f.ids[types.LevelCircle],
		DivisionID:          f.ids[types.LevelDivision],
		ComponentID:         f.ids[types.LevelComponent],
		SubcomponentID:      f.ids[types.LevelSubcomponent],
		WorkItemID:          f.ids[types.LevelWorkItem],
		Audit:               types.Audit{CreatedBy: "alice"},
	}
}

func milestones(vals ...string) []decimal.NullDecimal {
	out := make([]decimal.NullDecimal, len(vals))
	for i, v := range vals {
		out[i] = decimal.NullDecimal{Decimal: decimal.RequireFromString(v), Valid: true}
	}
	return out
}

func workActivity(t *testing.T, f *fixture, id int64) []types.ActivityEntry {
	t.Helper()
	entries, _, _, err := f.activity.QueryByEntity(context.Background(), "work_package", strconv.FormatInt(id, 10), activity.DefaultQueryOptions())
	require.NoError(t, err)
	return entries
}

func TestCreateWork_RecordsEvent(t *testing.T) {
	f := newFixture(t)
	id, err := f.svc.CreateWork(context.Background(), f.work("Canal A", 36))
	require.NoError(t, err)

	entries := workActivity(t, f, id)
	require.Len(t, entries, 1)
	assert.Equal(t, event.TypeWorkPackageCreated, entries[0].EventType)
}

func TestCreateWork_RevalidatesPayload(t *testing.T) {
	f := newFixture(t)
	w := f.work("Canal #1", 36)
	w.Cost = 0

	_, err := f.svc.CreateWork(context.Background(), w)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeValidationFailed, apperrors.CodeOf(err))

	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Contains(t, appErr.Metadata, "work.work_name")
	assert.Contains(t, appErr.Metadata, "work.cost")
	assert.Zero(t, f.activity.Len())
}

func TestCreateWork_RejectsForeignChild(t *testing.T) {
	f := newFixture(t)
	w := f.work("Canal A", 36)
	w.CircleID = f.ids["other_circle"]

	_, err := f.svc.CreateWork(context.Background(), w)
	assert.Equal(t, apperrors.CodeInvalidArgument, apperrors.CodeOf(err))
	assert.Contains(t, err.Error(), "does not belong to the selected zone")
}

func TestCreateBeneficiary_SplitMustAddUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.svc.CreateWork(ctx, f.work("Canal A", 36))
	require.NoError(t, err)

	err = f.svc.CreateBeneficiary(ctx, id, types.Beneficiary{TotalPopulation: 1000, Female: 490, Male: 500, Youth: 290})
	assert.Equal(t, apperrors.CodeValidationFailed, apperrors.CodeOf(err))

	require.NoError(t, f.svc.CreateBeneficiary(ctx, id, types.Beneficiary{TotalPopulation: 1000, Female: 490, Male: 510, Youth: 290}))
	assert.Len(t, workActivity(t, f, id), 2)
}

func TestCreateVillages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.svc.CreateWork(ctx, f.work("Canal A", 36))
	require.NoError(t, err)

	err = f.svc.CreateVillages(ctx, id, nil)
	assert.Equal(t, apperrors.CodeInvalidArgument, apperrors.CodeOf(err))

	bad := []types.Village{{Name: "Rampur", District: "Nashik", Block: "Igatpuri", Panchayat: "Rampur", CensusPopulation: 200, Male: 100, Female: 98}}
	err = f.svc.CreateVillages(ctx, id, bad)
	assert.Equal(t, apperrors.CodeValidationFailed, apperrors.CodeOf(err))

	bad[0].Male = 102
	require.NoError(t, f.svc.CreateVillages(ctx, id, bad))
}

func TestCreateComponents_UsesStoredWorkPeriod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.svc.CreateWork(ctx, f.work("Canal A", 24))
	require.NoError(t, err)

	three := types.CostComponent{
		Name: "Earthwork", Unit: "cum", TotalQty: decimal.NewFromInt(100),
		MilestoneCount: 3, Milestones: milestones("33.33", "33.33", "33.34"),
	}
	err = f.svc.CreateComponents(ctx, id, []types.CostComponent{three})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeValidationFailed, apperrors.CodeOf(err))
	assert.Contains(t, err.Error(), "Milestone count must be 2")

	two := three
	two.MilestoneCount = 2
	two.Milestones = milestones("50", "50")
	require.NoError(t, f.svc.CreateComponents(ctx, id, []types.CostComponent{two}))

	err = f.svc.CreateComponents(ctx, 999, []types.CostComponent{two})
	assert.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(err))
}

func TestCreateAggregate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pkg := types.WorkPackage{
		Work:        f.work("Canal A", 12),
		Beneficiary: &types.Beneficiary{TotalPopulation: 100, Female: 49, Male: 51, Youth: 29},
		Components: []types.CostComponent{{
			Name: "Lining", Unit: "sqm", TotalQty: decimal.NewFromInt(10),
			MilestoneCount: 1, Milestones: milestones("10"),
		}},
	}
	id, err := f.svc.CreateAggregate(ctx, pkg)
	require.NoError(t, err)

	got, err := f.svc.GetWorkPackage(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Beneficiary.CreatedBy, "dependents inherit the work's actor")
	assert.Len(t, workActivity(t, f, id), 3)

	_, err = f.svc.CreateAggregate(ctx, pkg)
	assert.Equal(t, apperrors.CodeConstraintDuplicate, apperrors.CodeOf(err))
}

func TestActor_StampsAudit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	gw := f.svc.As(types.Audit{CreatedBy: "session:bob", Source: "user"})

	w := f.work("Canal A", 36)
	w.Audit = types.Audit{}
	id, err := gw.CreateWork(ctx, w)
	require.NoError(t, err)
	require.NoError(t, gw.CreateVillages(ctx, id, []types.Village{
		{Name: "Rampur", District: "Nashik", Block: "Igatpuri", Panchayat: "Rampur", CensusPopulation: 2, Male: 1, Female: 1},
	}))

	got, err := f.svc.GetWorkPackage(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "session:bob", got.Work.CreatedBy)
	assert.Equal(t, "session:bob", got.Villages[0].CreatedBy)

	require.NoError(t, gw.DeleteWork(ctx, id))
	_, err = f.svc.GetWorkPackage(ctx, id)
	assert.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(err))
}

func TestDeleteWork_RecordsEventWithName(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.svc.CreateWork(ctx, f.work("Canal A", 36))
	require.NoError(t, err)

	require.NoError(t, f.svc.As(types.Audit{CreatedBy: "session:bob"}).DeleteWork(ctx, id))

	var deleted *types.ActivityEntry
	for _, e := range workActivity(t, f, id) {
		if e.EventType == event.TypeWorkPackageDeleted {
			deleted = &e
		}
	}
	require.NotNil(t, deleted, "work_package_deleted recorded")
	var p event.WorkPackageDeletedPayload
	require.NoError(t, json.Unmarshal(deleted.Payload, &p))
	assert.Equal(t, "Canal A", p.Name)
	assert.Equal(t, "session:bob", p.Actor)

	// A second delete finds nothing and records nothing.
	err = f.svc.DeleteWork(ctx, id)
	assert.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(err))
	assert.Len(t, workActivity(t, f, id), 2)
}

func TestOptions_RequiresParentBelowRoot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Options(ctx, types.LevelCircle, nil)
	assert.Equal(t, apperrors.CodeInvalidArgument, apperrors.CodeOf(err))

	zone := f.ids[types.LevelZone]
	opts, err := f.svc.Options(ctx, types.LevelCircle, &zone)
	require.NoError(t, err)
	require.Len(t, opts, 1)
	assert.Equal(t, f.ids[types.LevelCircle], opts[0].ID)
}
