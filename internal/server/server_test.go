package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/matthewbaird/canalworks/internal/activity"
	"github.com/matthewbaird/canalworks/internal/config"
	apperrors "github.com/matthewbaird/canalworks/internal/errors"
	"github.com/matthewbaird/canalworks/internal/event"
	"github.com/matthewbaird/canalworks/internal/eventbus"
	"github.com/matthewbaird/canalworks/internal/rules"
	"github.com/matthewbaird/canalworks/internal/seed"
	"github.com/matthewbaird/canalworks/internal/store"
	"github.com/matthewbaird/canalworks/internal/types"
	"github.com/matthewbaird/canalworks/internal/workflow"
)

func newServer(t *testing.T) *Server {
	t.Helper()
	ctx := context.Background()
	logger := zaptest.NewLogger(t)
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	st, err := store.Open(ctx, "file:srv_"+name+"?mode=memory&cache=shared&_pragma=foreign_keys(1)", logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(ctx))
	_, err = seed.Hierarchies(ctx, st, seed.Default(), logger)
	require.NoError(t, err)

	return New(Config{
		App: config.Config{
			RollbackPolicy:     config.RollbackCompensate,
			EventBuffer:        16,
			SessionIdleTimeout: time.Minute,
			SessionMaxAge:      time.Hour,
		},
		Store:  st,
		Rules:  rules.MustDefault(),
		Logger: logger,
	})
}

func firstOption(t *testing.T, base string, level types.Level, parent int64) int64 {
	t.Helper()
	url := base + "/v1/options/" + string(level)
	if parent != 0 {
		url += "?parent_id=" + strconv.FormatInt(parent, 10)
	}
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Options []types.Option `json:"options"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotEmpty(t, out.Options)
	return out.Options[0].ID
}

func TestServer_HealthAndMetrics(t *testing.T) {
	s := newServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "canalworks_http_requests_total")
	assert.Contains(t, string(body), `route="/healthz"`)
}

func TestServer_CreatedWorkReachesGuard(t *testing.T) {
	s := newServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.bus.Start(ctx)
	defer s.bus.Stop()

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	zone := firstOption(t, srv.URL, types.LevelZone, 0)
	circle := firstOption(t, srv.URL, types.LevelCircle, zone)
	division := firstOption(t, srv.URL, types.LevelDivision, circle)
	component := firstOption(t, srv.URL, types.LevelComponent, 0)
	sub := firstOption(t, srv.URL, types.LevelSubcomponent, component)
	item := firstOption(t, srv.URL, types.LevelWorkItem, sub)

	body, err := json.Marshal(map[string]any{
		"name": "Canal A", "package_number": "PKG-1", "cost": 1200,
		"target_km": "12.5", "work_period_months": 12, "area_under_irrigation": "340.25",
		"award_status": types.AwardStatusAwarded,
		"zone_id": zone, "circle_id": circle, "division_id": division,
		"component_id": component, "subcomponent_id": sub, "work_item_id": item,
	})
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/works", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("X-Actor", "alice")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		ID int64 `json:"id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))

	require.Eventually(t, func() bool { return s.guard.Check(" canal a") != nil }, time.Second, 5*time.Millisecond)

	entries, _, total, err := s.activity.QueryByEntity(ctx, "work_package",
		strconv.FormatInt(created.ID, 10), activity.DefaultQueryOptions())
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "work_package_created", entries[0].EventType)
}

// flakyGateway fails the first beneficiary write and passes everything
// else through.
type flakyGateway struct {
	workflow.Gateway
	failed atomic.Bool
}

func (g *flakyGateway) CreateBeneficiary(ctx context.Context, workID int64, b types.Beneficiary) error {
	if g.failed.CompareAndSwap(false, true) {
		return apperrors.New(apperrors.CodeTransport, "connection reset by peer")
	}
	return g.Gateway.CreateBeneficiary(ctx, workID, b)
}

func TestServer_CompensatedNameCanBeRetried(t *testing.T) {
	s := newServer(t)
	deleted := make(chan struct{}, 1)
	s.bus.Subscribe("test", eventbus.HandlerFunc(func(_ context.Context, evt event.DomainEvent) error {
		if evt.EventType == event.TypeWorkPackageDeleted {
			deleted <- struct{}{}
		}
		return nil
	}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.bus.Start(ctx)
	defer s.bus.Stop()

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	id := func(v int64) string { return strconv.FormatInt(v, 10) }
	zone := firstOption(t, srv.URL, types.LevelZone, 0)
	circle := firstOption(t, srv.URL, types.LevelCircle, zone)
	component := firstOption(t, srv.URL, types.LevelComponent, 0)
	sub := firstOption(t, srv.URL, types.LevelSubcomponent, component)

	f := types.NewForm()
	f.Work = types.Record{
		types.FieldWorkName:            "Canal R",
		types.FieldPackageNumber:       "PKG-R",
		types.FieldCost:                "1500",
		types.FieldTargetKm:            "3.5",
		types.FieldWorkPeriodMonths:    "12",
		types.FieldAreaUnderIrrigation: "80",
		types.FieldAwardStatus:         types.AwardStatusAwarded,
		types.FieldZoneID:              id(zone),
		types.FieldCircleID:            id(circle),
		types.FieldDivisionID:          id(firstOption(t, srv.URL, types.LevelDivision, circle)),
		types.FieldComponentID:         id(component),
		types.FieldSubcomponentID:      id(sub),
		types.FieldWorkItemID:          id(firstOption(t, srv.URL, types.LevelWorkItem, sub)),
	}
	f.Beneficiary = types.Record{
		types.FieldTotalPopulation: "1000",
		types.FieldFemale:          "490",
		types.FieldMale:            "510",
		types.FieldYouth:           "290",
	}

	gw := &flakyGateway{Gateway: s.svc.As(types.Audit{CreatedBy: "erin", Source: "user"})}
	orch := workflow.NewOrchestrator(s.reducer, gw, s.svc, zaptest.NewLogger(t))

	first := orch.Submit(ctx, f)
	require.Equal(t, workflow.PhaseFailed, first.Phase)
	require.NotNil(t, first.Failure)
	assert.True(t, first.Failure.Compensated)
	assert.Equal(t, apperrors.CodeTransport, first.Failure.Code)

	select {
	case <-deleted:
	case <-time.After(2 * time.Second):
		t.Fatal("work_package_deleted was not published")
	}
	assert.NoError(t, s.guard.Check("Canal R"))

	second := orch.Submit(ctx, f)
	require.Equal(t, workflow.PhaseSucceeded, second.Phase, "%+v", second.Failure)
	pkg, err := s.svc.GetWorkPackage(ctx, second.WorkID)
	require.NoError(t, err)
	assert.Equal(t, "Canal R", pkg.Work.Name)
	require.NotNil(t, pkg.Beneficiary)
}

func TestServer_RunStopsOnCancel(t *testing.T) {
	s := newServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
