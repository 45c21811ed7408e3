package event

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/matthewbaird/canalworks/internal/workflow"
)

// SubmissionRecorder records the outcome of failed submissions. Successful
// writes are recorded by the write endpoints themselves.
type SubmissionRecorder struct {
	rec    Recorder
	logger *zap.Logger
}

// NewSubmissionRecorder returns a workflow.Observer writing through rec.
func NewSubmissionRecorder(rec Recorder, logger *zap.Logger) *SubmissionRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SubmissionRecorder{rec: rec, logger: logger}
}

func (r *SubmissionRecorder) StepFinished(workflow.Phase, int64, time.Duration, error) {}

// SubmissionFinished records submission_failed, and submission_compensated
// when the saga removed the work again. Failures caught before any write
// are not recorded.
func (r *SubmissionRecorder) SubmissionFinished(s workflow.State) {
	f := s.Failure
	if s.Phase != workflow.PhaseFailed || f == nil || f.Code.ClientSide() {
		return
	}
	p := SubmissionOutcomePayload{
		WorkID:            f.WorkID,
		Step:              string(f.Step),
		Code:              string(f.Code),
		Message:           f.Message,
		Persisted:         f.Persisted,
		CompensationError: f.CompensationError,
	}
	ctx := context.Background()
	r.record(ctx, NewSubmissionFailed(p))
	if f.Compensated {
		r.record(ctx, NewSubmissionCompensated(p))
	}
}

func (r *SubmissionRecorder) record(ctx context.Context, evt DomainEvent) {
	if err := r.rec.Record(ctx, evt); err != nil {
		r.logger.Error("recording submission outcome", zap.String("event", evt.EventType), zap.Error(err))
	}
}
