// Package service is the server side of the work package write calls. Every
// payload is re-checked with the rule engine and the hierarchy before it is
// written, and every successful write is recorded as a domain event.
//
// Service satisfies workflow.Gateway and hierarchy.Loader, so in-process
// form sessions persist through exactly the code the HTTP endpoints use.
package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	apperrors "github.com/matthewbaird/canalworks/internal/errors"
	"github.com/matthewbaird/canalworks/internal/event"
	"github.com/matthewbaird/canalworks/internal/form"
	"github.com/matthewbaird/canalworks/internal/hierarchy"
	"github.com/matthewbaird/canalworks/internal/rules"
	"github.com/matthewbaird/canalworks/internal/store"
	"github.com/matthewbaird/canalworks/internal/types"
	"github.com/matthewbaird/canalworks/internal/validation"
)

// Store is the persistence the service writes through.
type Store interface {
	hierarchy.Loader
	CreateWork(ctx context.Context, w types.Work) (int64, error)
	CreateBeneficiary(ctx context.Context, workID int64, b types.Beneficiary) error
	CreateVillages(ctx context.Context, workID int64, villages []types.Village) error
	CreateComponents(ctx context.Context, workID int64, components []types.CostComponent) error
	CreateAggregate(ctx context.Context, pkg types.WorkPackage) (int64, error)
	DeleteWork(ctx context.Context, workID int64) error
	GetWork(ctx context.Context, id int64) (types.Work, error)
	GetWorkPackage(ctx context.Context, id int64) (types.WorkPackage, error)
	ListWorkPackages(ctx context.Context, opts store.ListOptions) ([]types.Work, int, error)
	WorkNames(ctx context.Context) ([]string, error)
	WorkPeriod(ctx context.Context, workID int64) (int, error)
}

// Service validates and persists work packages.
type Service struct {
	store     Store
	validator *validation.Engine
	resolver  *hierarchy.Resolver
	recorder  event.Recorder
	logger    *zap.Logger
}

// New creates a Service. recorder may be nil.
func New(st Store, r *rules.Rules, recorder event.Recorder, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:     st,
		validator: validation.New(r),
		resolver:  hierarchy.NewResolver(st),
		recorder:  recorder,
		logger:    logger,
	}
}

// record is best-effort: a failed event write never fails the request.
func (s *Service) record(ctx context.Context, evt event.DomainEvent, audit types.Audit) {
	if s.recorder == nil {
		return
	}
	if audit.CorrelationID != nil {
		evt = evt.WithCorrelation(*audit.CorrelationID)
	}
	if err := s.recorder.Record(ctx, evt); err != nil {
		s.logger.Error("event recording failed", zap.String("event", evt.EventType), zap.Error(err))
	}
}

// ---------------------------------------------------------------------------
// Writes
// ---------------------------------------------------------------------------

// CreateWork validates and inserts the root work record.
func (s *Service) CreateWork(ctx context.Context, w types.Work) (int64, error) {
	rec := form.WorkRecord(w)
	if errs := s.validator.ValidateWork(rec); len(errs) > 0 {
		return 0, validation.Result{Work: errs}.Err()
	}
	if err := s.resolver.Verify(ctx, rec); err != nil {
		return 0, err
	}
	id, err := s.store.CreateWork(ctx, w)
	if err != nil {
		return 0, err
	}
	s.record(ctx, event.NewWorkPackageCreated(createdPayload(id, w, false)), w.Audit)
	return id, nil
}

func createdPayload(id int64, w types.Work, aggregate bool) event.WorkPackageCreatedPayload {
	return event.WorkPackageCreatedPayload{
		WorkID:           id,
		Name:             w.Name,
		PackageNumber:    w.PackageNumber,
		WorkPeriodMonths: w.WorkPeriodMonths,
		ZoneID:           w.ZoneID,
		DivisionID:       w.DivisionID,
		WorkItemID:       w.WorkItemID,
		Actor:            w.CreatedBy,
		Aggregate:        aggregate,
	}
}

// CreateBeneficiary validates and records the beneficiary split of workID.
func (s *Service) CreateBeneficiary(ctx context.Context, workID int64, b types.Beneficiary) error {
	if errs := s.validator.ValidateBeneficiary(form.BeneficiaryRecord(b)); len(errs) > 0 {
		return validation.Result{Beneficiary: errs}.Err()
	}
	if err := s.store.CreateBeneficiary(ctx, workID, b); err != nil {
		return err
	}
	s.record(ctx, event.NewBeneficiaryRecorded(beneficiaryPayload(workID, b)), b.Audit)
	return nil
}

func beneficiaryPayload(workID int64, b types.Beneficiary) event.BeneficiaryRecordedPayload {
	return event.BeneficiaryRecordedPayload{
		WorkID:          workID,
		TotalPopulation: b.TotalPopulation,
		Female:          b.Female,
		Male:            b.Male,
		Eligible:        b.Eligible,
	}
}

// CreateVillages validates and inserts the villages of workID.
func (s *Service) CreateVillages(ctx context.Context, workID int64, villages []types.Village) error {
	if len(villages) == 0 {
		return apperrors.New(apperrors.CodeInvalidArgument, "at least one village is required")
	}
	recs := make([]types.Record, len(villages))
	for i, v := range villages {
		recs[i] = form.VillageRecord(v)
	}
	if res := (validation.Result{Villages: s.validator.ValidateVillages(recs)}); !res.OK() {
		return res.Err()
	}
	if err := s.store.CreateVillages(ctx, workID, villages); err != nil {
		return err
	}
	s.record(ctx, event.NewVillagesRecorded(villagesPayload(workID, villages)), villages[0].Audit)
	return nil
}

func villagesPayload(workID int64, villages []types.Village) event.RowsRecordedPayload {
	p := event.RowsRecordedPayload{WorkID: workID, Count: len(villages)}
	for _, v := range villages {
		p.Names = append(p.Names, v.Name)
	}
	return p
}

// CreateComponents validates the components of workID against the work's
// period and inserts them.
func (s *Service) CreateComponents(ctx context.Context, workID int64, components []types.CostComponent) error {
	if len(components) == 0 {
		return apperrors.New(apperrors.CodeInvalidArgument, "at least one cost component is required")
	}
	months, err := s.store.WorkPeriod(ctx, workID)
	if err != nil {
		return err
	}
	recs := make([]types.Record, len(components))
	for i, c := range components {
		recs[i] = form.ComponentRecord(c)
	}
	if res := (validation.Result{Components: s.validator.ValidateComponents(months, recs)}); !res.OK() {
		return res.Err()
	}
	if err := s.store.CreateComponents(ctx, workID, components); err != nil {
		return err
	}
	s.record(ctx, event.NewComponentsRecorded(componentsPayload(workID, components)), components[0].Audit)
	return nil
}

func componentsPayload(workID int64, components []types.CostComponent) event.RowsRecordedPayload {
	p := event.RowsRecordedPayload{WorkID: workID, Count: len(components)}
	for _, c := range components {
		p.Names = append(p.Names, c.Name)
	}
	return p
}

// CreateAggregate validates the whole package and writes it in one
// transaction.
func (s *Service) CreateAggregate(ctx context.Context, pkg types.WorkPackage) (int64, error) {
	f := form.FromPackage(pkg)
	if err := s.validator.Validate(f).Err(); err != nil {
		return 0, err
	}
	if err := s.resolver.Verify(ctx, f.Work); err != nil {
		return 0, err
	}
	// Dependents carry the work's audit identity.
	audit := pkg.Work.Audit
	if pkg.Beneficiary != nil {
		pkg.Beneficiary.Audit = audit
	}
	for i := range pkg.Villages {
		pkg.Villages[i].Audit = audit
	}
	for i := range pkg.Components {
		pkg.Components[i].Audit = audit
	}

	id, err := s.store.CreateAggregate(ctx, pkg)
	if err != nil {
		return 0, err
	}
	s.record(ctx, event.NewWorkPackageCreated(createdPayload(id, pkg.Work, true)), audit)
	if pkg.Beneficiary != nil {
		s.record(ctx, event.NewBeneficiaryRecorded(beneficiaryPayload(id, *pkg.Beneficiary)), audit)
	}
	if len(pkg.Villages) > 0 {
		s.record(ctx, event.NewVillagesRecorded(villagesPayload(id, pkg.Villages)), audit)
	}
	if len(pkg.Components) > 0 {
		s.record(ctx, event.NewComponentsRecorded(componentsPayload(id, pkg.Components)), audit)
	}
	return id, nil
}

// DeleteWork removes a work and everything it owns. It is the compensating
// action of a failed submission.
func (s *Service) DeleteWork(ctx context.Context, workID int64) error {
	return s.deleteWork(ctx, workID, types.Audit{})
}

// deleteWork records work_package_deleted so the name becomes free again
// for every holder of a duplicate guard.
func (s *Service) deleteWork(ctx context.Context, workID int64, audit types.Audit) error {
	w, err := s.store.GetWork(ctx, workID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteWork(ctx, workID); err != nil {
		return err
	}
	s.logger.Info("work package deleted", zap.Int64("work_id", workID), zap.String("name", w.Name))
	s.record(ctx, event.NewWorkPackageDeleted(event.WorkPackageDeletedPayload{
		WorkID: workID,
		Name:   w.Name,
		Actor:  audit.CreatedBy,
	}), audit)
	return nil
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

// Options lists the nodes of level under parentID.
func (s *Service) Options(ctx context.Context, level types.Level, parentID *int64) ([]types.Option, error) {
	if _, hasParent := level.Parent(); hasParent && parentID == nil {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, fmt.Sprintf("parent_id is required for %s", level))
	}
	return s.store.Options(ctx, level, parentID)
}

func (s *Service) GetWorkPackage(ctx context.Context, id int64) (types.WorkPackage, error) {
	return s.store.GetWorkPackage(ctx, id)
}

func (s *Service) ListWorkPackages(ctx context.Context, opts store.ListOptions) ([]types.Work, int, error) {
	return s.store.ListWorkPackages(ctx, opts)
}

func (s *Service) WorkNames(ctx context.Context) ([]string, error) {
	return s.store.WorkNames(ctx)
}

// As returns a gateway that writes through s with audit stamped on every
// entity. Form sessions use it to attribute their writes.
func (s *Service) As(audit types.Audit) *Actor {
	return &Actor{svc: s, audit: audit}
}

// Actor is a Service bound to one audit identity.
type Actor struct {
	svc   *Service
	audit types.Audit
}

func (a *Actor) CreateWork(ctx context.Context, w types.Work) (int64, error) {
	w.Audit = a.audit
	return a.svc.CreateWork(ctx, w)
}

func (a *Actor) CreateBeneficiary(ctx context.Context, workID int64, b types.Beneficiary) error {
	b.Audit = a.audit
	return a.svc.CreateBeneficiary(ctx, workID, b)
}

func (a *Actor) CreateVillages(ctx context.Context, workID int64, villages []types.Village) error {
	out := make([]types.Village, len(villages))
	for i, v := range villages {
		v.Audit = a.audit
		out[i] = v
	}
	return a.svc.CreateVillages(ctx, workID, out)
}

func (a *Actor) CreateComponents(ctx context.Context, workID int64, components []types.CostComponent) error {
	out := make([]types.CostComponent, len(components))
	for i, c := range components {
		c.Audit = a.audit
		out[i] = c
	}
	return a.svc.CreateComponents(ctx, workID, out)
}

func (a *Actor) DeleteWork(ctx context.Context, workID int64) error {
	return a.svc.deleteWork(ctx, workID, a.audit)
}

func (a *Actor) Options(ctx context.Context, level types.Level, parentID *int64) ([]types.Option, error) {
	return a.svc.Options(ctx, level, parentID)
}
