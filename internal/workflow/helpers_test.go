package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/matthewbaird/canalworks/internal/dupguard"
	"github.com/matthewbaird/canalworks/internal/rules"
	"github.com/matthewbaird/canalworks/internal/types"
)

func newReducer(rollback Rollback, names ...string) *Reducer {
	return NewReducer(rules.MustDefault(), dupguard.New(names...), rollback)
}

func validForm() types.Form {
	f := types.NewForm()
	f.Work = types.Record{
		types.FieldWorkName:            "Canal A",
		types.FieldPackageNumber:       "PKG-01",
		types.FieldCost:                "1200",
		types.FieldTargetKm:            "12.5",
		types.FieldWorkPeriodMonths:    "36",
		types.FieldAreaUnderIrrigation: "340.25",
		types.FieldAwardStatus:         types.AwardStatusAwarded,
		types.FieldZoneID:              "1",
		types.FieldCircleID:            "10",
		types.FieldDivisionID:          "100",
		types.FieldComponentID:         "5",
		types.FieldSubcomponentID:      "50",
		types.FieldWorkItemID:          "500",
	}
	f.Beneficiary = types.Record{
		types.FieldTotalPopulation: "1000",
		types.FieldFemale:          "490",
		types.FieldMale:            "510",
		types.FieldYouth:           "290",
	}
	f.Villages = []types.Record{{
		types.FieldVillageName:      "Rampur",
		types.FieldDistrict:         "Nashik",
		types.FieldBlock:            "Igatpuri",
		types.FieldPanchayat:        "Rampur",
		types.FieldCensusPopulation: "200",
		types.FieldMale:             "102",
		types.FieldFemale:           "98",
	}}
	f.Components = []types.Record{{
		types.FieldComponentName:  "Earthwork",
		types.FieldUnit:           "cum",
		types.FieldTotalQty:       "100",
		types.FieldMilestoneCount: "3",
		types.FieldMilestone(1):   "33.33",
		types.FieldMilestone(2):   "33.33",
		types.FieldMilestone(3):   "33.34",
	}}
	return f
}

// fakeGateway keeps created packages in memory and fails chosen steps.
type fakeGateway struct {
	mu     sync.Mutex
	nextID int64
	works  map[int64]*types.WorkPackage
	fail   map[Phase]error
	calls  []Phase
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{nextID: 42, works: map[int64]*types.WorkPackage{}, fail: map[Phase]error{}}
}

func (g *fakeGateway) record(step Phase) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, step)
	return g.fail[step]
}

func (g *fakeGateway) CreateWork(_ context.Context, w types.Work) (int64, error) {
	if err := g.record(PhaseCreatingWork); err != nil {
		return 0, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.nextID
	g.nextID++
	w.ID = id
	g.works[id] = &types.WorkPackage{Work: w}
	return id, nil
}

func (g *fakeGateway) CreateBeneficiary(_ context.Context, workID int64, b types.Beneficiary) error {
	if err := g.record(PhaseCreatingBeneficiary); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.works[workID].Beneficiary = &b
	return nil
}

func (g *fakeGateway) CreateVillages(_ context.Context, workID int64, villages []types.Village) error {
	if err := g.record(PhaseCreatingVillages); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.works[workID].Villages = villages
	return nil
}

func (g *fakeGateway) CreateComponents(_ context.Context, workID int64, components []types.CostComponent) error {
	if err := g.record(PhaseCreatingComponents); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.works[workID].Components = components
	return nil
}

func (g *fakeGateway) DeleteWork(_ context.Context, workID int64) error {
	if err := g.record(PhaseCompensating); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.works, workID)
	return nil
}

func (g *fakeGateway) get(id int64) (*types.WorkPackage, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	w, ok := g.works[id]
	return w, ok
}

type recordingObserver struct {
	steps    []Phase
	finished []State
}

func (r *recordingObserver) StepFinished(step Phase, _ int64, _ time.Duration, _ error) {
	r.steps = append(r.steps, step)
}

func (r *recordingObserver) SubmissionFinished(s State) {
	r.finished = append(r.finished, s)
}

type staticLoader map[types.Level][]types.Option

func (l staticLoader) Options(_ context.Context, level types.Level, parentID *int64) ([]types.Option, error) {
	var out []types.Option
	for _, o := range l[level] {
		if parentID == nil || (o.ParentID != nil && *o.ParentID == *parentID) {
			out = append(out, o)
		}
	}
	return out, nil
}
