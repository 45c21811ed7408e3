// Package metrics provides Prometheus metrics for submissions, the write
// endpoints and form sessions.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	apperrors "github.com/matthewbaird/canalworks/internal/errors"
	"github.com/matthewbaird/canalworks/internal/event"
	"github.com/matthewbaird/canalworks/internal/workflow"
)

var (
	// Submission metrics
	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canalworks_submissions_total",
			Help: "Finished work package submissions by outcome",
		},
		[]string{"outcome"},
	)

	StepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canalworks_submission_steps_total",
			Help: "Gateway steps run by submissions",
		},
		[]string{"step", "code"},
	)

	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "canalworks_submission_step_duration_seconds",
			Help:    "Duration of each gateway step",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"step"},
	)

	// Domain event metrics
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canalworks_events_total",
			Help: "Domain events published on the event bus",
		},
		[]string{"type", "weight"},
	)

	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canalworks_http_requests_total",
			Help: "HTTP requests by route and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "canalworks_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Session metrics
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "canalworks_form_sessions_active",
			Help: "Open form editing sessions",
		},
	)
)

// Outcome labels for SubmissionsTotal.
const (
	OutcomeSucceeded   = "succeeded"
	OutcomeRejected    = "rejected"
	OutcomeFailed      = "failed"
	OutcomeCompensated = "compensated"
	OutcomePartial     = "partial"
)

// Outcome classifies a settled submission.
func Outcome(s workflow.State) string {
	if s.Phase == workflow.PhaseSucceeded {
		return OutcomeSucceeded
	}
	f := s.Failure
	switch {
	case f == nil:
		return OutcomeFailed
	case f.Code.ClientSide():
		return OutcomeRejected
	case f.Persisted:
		return OutcomePartial
	case f.Compensated:
		return OutcomeCompensated
	}
	return OutcomeFailed
}

// Observer records submission metrics. It implements workflow.Observer.
type Observer struct{}

func (Observer) StepFinished(step workflow.Phase, _ int64, elapsed time.Duration, err error) {
	code := "ok"
	if err != nil {
		code = string(apperrors.CodeOf(err))
	}
	StepsTotal.WithLabelValues(string(step), code).Inc()
	StepDuration.WithLabelValues(string(step)).Observe(elapsed.Seconds())
}

func (Observer) SubmissionFinished(s workflow.State) {
	SubmissionsTotal.WithLabelValues(Outcome(s)).Inc()
}

// EventConsumer counts domain events. It is subscribed to the event bus.
type EventConsumer struct{}

func (EventConsumer) HandleEvent(_ context.Context, evt event.DomainEvent) error {
	EventsTotal.WithLabelValues(evt.EventType, evt.Weight).Inc()
	return nil
}

// ObserveRequest records one HTTP request.
func ObserveRequest(method, route string, status int, elapsed time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, statusClass(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	}
	return "2xx"
}
