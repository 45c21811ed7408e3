package workflow

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/matthewbaird/canalworks/internal/hierarchy"
	"github.com/matthewbaird/canalworks/internal/types"
)

// Gateway is the write side a submission persists through: the four
// creation calls and the compensating delete.
type Gateway interface {
	CreateWork(ctx context.Context, w types.Work) (int64, error)
	CreateBeneficiary(ctx context.Context, workID int64, b types.Beneficiary) error
	CreateVillages(ctx context.Context, workID int64, villages []types.Village) error
	CreateComponents(ctx context.Context, workID int64, components []types.CostComponent) error
	DeleteWork(ctx context.Context, workID int64) error
}

// Observer is told about every gateway step and every finished submission.
type Observer interface {
	StepFinished(step Phase, workID int64, elapsed time.Duration, err error)
	SubmissionFinished(s State)
}

// Orchestrator runs the effects produced by a Reducer. Gateway calls are
// made strictly one at a time; each outcome is fed back to the reducer
// before the next call starts.
type Orchestrator struct {
	reducer   *Reducer
	gateway   Gateway
	loader    hierarchy.Loader
	logger    *zap.Logger
	observers []Observer
}

// NewOrchestrator creates an Orchestrator. loader may be nil when no
// options need loading (batch submission).
func NewOrchestrator(reducer *Reducer, gateway Gateway, loader hierarchy.Loader, logger *zap.Logger, observers ...Observer) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		reducer:   reducer,
		gateway:   gateway,
		loader:    loader,
		logger:    logger,
		observers: observers,
	}
}

// Reducer returns the reducer the orchestrator drives.
func (o *Orchestrator) Reducer() *Reducer { return o.reducer }

// Submit validates f and, when it passes, persists it. The returned state
// is settled: succeeded or failed.
func (o *Orchestrator) Submit(ctx context.Context, f types.Form) State {
	return o.Dispatch(ctx, NewState(f), SubmitRequested{}, nil)
}

// Dispatch applies ev to s and runs every effect that follows until the
// state settles. onState, when non-nil, receives each intermediate state.
//
// Cancelling ctx fails the step in flight; the compensating delete still
// runs with cancellation detached so a saga is never left half-undone.
func (o *Orchestrator) Dispatch(ctx context.Context, s State, ev Event, onState func(State)) State {
	queue := []Event{ev}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]

		prev := s.Phase
		var effects []Effect
		s, effects = o.reducer.Reduce(s, next)
		if onState != nil {
			onState(s)
		}
		if o.finished(prev, next, s) {
			o.settle(s)
		}
		for _, eff := range effects {
			if out := o.run(ctx, eff); out != nil {
				queue = append(queue, out)
			}
		}
	}
	return s
}

func (o *Orchestrator) finished(prev Phase, ev Event, s State) bool {
	if s.Phase != PhaseSucceeded && s.Phase != PhaseFailed {
		return false
	}
	if prev.InFlight() {
		return true
	}
	_, submit := ev.(SubmitRequested)
	return submit && prev != PhaseSucceeded
}

func (o *Orchestrator) settle(s State) {
	fields := []zap.Field{
		zap.String("phase", string(s.Phase)),
		zap.Int64("work_id", s.WorkID),
	}
	if s.Failure != nil {
		fields = append(fields,
			zap.String("step", string(s.Failure.Step)),
			zap.String("code", string(s.Failure.Code)),
			zap.Bool("persisted", s.Failure.Persisted),
			zap.Bool("compensated", s.Failure.Compensated),
		)
		o.logger.Warn("submission failed", fields...)
	} else {
		o.logger.Info("submission succeeded", fields...)
		if o.reducer.guard != nil {
			o.reducer.guard.Add(s.Form.Work.Get(types.FieldWorkName))
		}
	}
	for _, obs := range o.observers {
		obs.SubmissionFinished(s)
	}
}

// run performs one effect and returns the event describing its outcome.
func (o *Orchestrator) run(ctx context.Context, eff Effect) Event {
	if e, ok := eff.(LoadOptions); ok {
		if o.loader == nil {
			return nil
		}
		parent := e.ParentID
		opts, err := o.loader.Options(ctx, e.Level, &parent)
		if err != nil {
			o.logger.Warn("loading options failed", zap.String("level", string(e.Level)), zap.Error(err))
		}
		return OptionsLoaded{Level: e.Level, ParentID: e.ParentID, Options: opts, Err: err}
	}

	step := stepOf(eff)
	start := time.Now()
	var (
		workID int64
		err    error
	)
	switch e := eff.(type) {
	case CreateWork:
		workID, err = o.gateway.CreateWork(ctx, e.Work)
	case CreateBeneficiary:
		workID = e.WorkID
		err = o.gateway.CreateBeneficiary(ctx, e.WorkID, e.Beneficiary)
	case CreateVillages:
		workID = e.WorkID
		err = o.gateway.CreateVillages(ctx, e.WorkID, e.Villages)
	case CreateComponents:
		workID = e.WorkID
		err = o.gateway.CreateComponents(ctx, e.WorkID, e.Components)
	case DeleteWork:
		workID = e.WorkID
		err = o.gateway.DeleteWork(context.WithoutCancel(ctx), e.WorkID)
	default:
		return nil
	}
	elapsed := time.Since(start)

	o.logger.Debug("submission step",
		zap.String("step", string(step)),
		zap.Int64("work_id", workID),
		zap.Duration("elapsed", elapsed),
		zap.Error(err),
	)
	for _, obs := range o.observers {
		obs.StepFinished(step, workID, elapsed, err)
	}
	if err != nil {
		return StepFailed{Step: step, Err: err}
	}
	return StepSucceeded{Step: step, WorkID: workID}
}
