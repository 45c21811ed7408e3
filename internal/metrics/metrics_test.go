package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	apperrors "github.com/matthewbaird/canalworks/internal/errors"
	"github.com/matthewbaird/canalworks/internal/event"
	"github.com/matthewbaird/canalworks/internal/workflow"
)

func TestOutcome(t *testing.T) {
	failed := func(f workflow.Failure) workflow.State {
		return workflow.State{Phase: workflow.PhaseFailed, Failure: &f}
	}
	tests := []struct {
		name  string
		state workflow.State
		want  string
	}{
		{"succeeded", workflow.State{Phase: workflow.PhaseSucceeded}, OutcomeSucceeded},
		{"validation", failed(workflow.Failure{Code: apperrors.CodeValidationFailed}), OutcomeRejected},
		{"duplicate", failed(workflow.Failure{Code: apperrors.CodeDuplicateName}), OutcomeRejected},
		{"partial", failed(workflow.Failure{Code: apperrors.CodeTransport, Persisted: true}), OutcomePartial},
		{"compensated", failed(workflow.Failure{Code: apperrors.CodeTransport, Compensated: true}), OutcomeCompensated},
		{"work rejected", failed(workflow.Failure{Code: apperrors.CodeConstraintDuplicate}), OutcomeFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Outcome(tt.state))
		})
	}
}

func TestObserver_CountsSteps(t *testing.T) {
	okBefore := testutil.ToFloat64(StepsTotal.WithLabelValues("creating_work", "ok"))
	failBefore := testutil.ToFloat64(StepsTotal.WithLabelValues("creating_villages", "TRANSPORT"))

	var o Observer
	o.StepFinished(workflow.PhaseCreatingWork, 1, 5*time.Millisecond, nil)
	o.StepFinished(workflow.PhaseCreatingVillages, 1, time.Millisecond, apperrors.New(apperrors.CodeTransport, "down"))

	assert.Equal(t, okBefore+1, testutil.ToFloat64(StepsTotal.WithLabelValues("creating_work", "ok")))
	assert.Equal(t, failBefore+1, testutil.ToFloat64(StepsTotal.WithLabelValues("creating_villages", "TRANSPORT")))

	before := testutil.ToFloat64(SubmissionsTotal.WithLabelValues(OutcomeSucceeded))
	o.SubmissionFinished(workflow.State{Phase: workflow.PhaseSucceeded})
	assert.Equal(t, before+1, testutil.ToFloat64(SubmissionsTotal.WithLabelValues(OutcomeSucceeded)))
}

func TestEventConsumer(t *testing.T) {
	before := testutil.ToFloat64(EventsTotal.WithLabelValues(event.TypeVillagesRecorded, "minor"))
	err := EventConsumer{}.HandleEvent(context.Background(), event.NewVillagesRecorded(event.RowsRecordedPayload{WorkID: 1, Count: 1}))
	assert.NoError(t, err)
	assert.Equal(t, before+1, testutil.ToFloat64(EventsTotal.WithLabelValues(event.TypeVillagesRecorded, "minor")))
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", statusClass(201))
	assert.Equal(t, "4xx", statusClass(409))
	assert.Equal(t, "5xx", statusClass(502))
}
