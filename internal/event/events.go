package event

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/matthewbaird/canalworks/internal/types"
)

// DomainEvent carries the canonical shape of every domain event.
type DomainEvent struct {
	ID               string
	EventType        string
	OccurredAt       time.Time
	AffectedEntities []types.SourceRef
	Summary          string
	Category         string // "work", "beneficiary", "village", "component", "submission"
	Weight           string // "critical", "major", "minor", "info"
	CorrelationID    string
	Payload          json.RawMessage
}

// Event types.
const (
	TypeWorkPackageCreated    = "work_package_created"
	TypeWorkPackageDeleted    = "work_package_deleted"
	TypeBeneficiaryRecorded   = "beneficiary_recorded"
	TypeVillagesRecorded      = "villages_recorded"
	TypeComponentsRecorded    = "components_recorded"
	TypeSubmissionFailed      = "submission_failed"
	TypeSubmissionCompensated = "submission_compensated"
)

func newID() string { return uuid.New().String() }

func mustJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

func ref(entityType string, id int64, role string) types.SourceRef {
	return types.SourceRef{EntityType: entityType, EntityID: strconv.FormatInt(id, 10), Role: role}
}

func workRef(id int64) types.SourceRef { return ref("work_package", id, "subject") }

// ── Work package events ─────────────────────────────────────────────────────

// WorkPackageCreatedPayload carries event-specific data for WorkPackageCreated.
type WorkPackageCreatedPayload struct {
	WorkID           int64  `json:"work_id"`
	Name             string `json:"name"`
	PackageNumber    string `json:"package_number"`
	WorkPeriodMonths int    `json:"work_period_months"`
	ZoneID           int64  `json:"zone_id"`
	DivisionID       int64  `json:"division_id"`
	WorkItemID       int64  `json:"work_item_id"`
	Actor            string `json:"actor"`
	Aggregate        bool   `json:"aggregate,omitempty"`
}

func NewWorkPackageCreated(p WorkPackageCreatedPayload) DomainEvent {
	return DomainEvent{
		ID:         newID(),
		EventType:  TypeWorkPackageCreated,
		OccurredAt: time.Now(),
		AffectedEntities: []types.SourceRef{
			workRef(p.WorkID),
			ref("zone", p.ZoneID, "context"),
			ref("division", p.DivisionID, "context"),
			ref("work_item", p.WorkItemID, "related"),
		},
		Summary:  fmt.Sprintf("Work package %q created", p.Name),
		Category: "work",
		Weight:   "major",
		Payload:  mustJSON(p),
	}
}

// WorkPackageDeletedPayload carries event-specific data for WorkPackageDeleted.
type WorkPackageDeletedPayload struct {
	WorkID int64  `json:"work_id"`
	Name   string `json:"name"`
	Actor  string `json:"actor,omitempty"`
}

// NewWorkPackageDeleted reports a work removed with everything it owned,
// either by a saga's compensation or an explicit delete.
func NewWorkPackageDeleted(p WorkPackageDeletedPayload) DomainEvent {
	return DomainEvent{
		ID:               newID(),
		EventType:        TypeWorkPackageDeleted,
		OccurredAt:       time.Now(),
		AffectedEntities: []types.SourceRef{workRef(p.WorkID)},
		Summary:          fmt.Sprintf("Work package %q deleted", p.Name),
		Category:         "work",
		Weight:           "major",
		Payload:          mustJSON(p),
	}
}

// BeneficiaryRecordedPayload carries event-specific data for BeneficiaryRecorded.
type BeneficiaryRecordedPayload struct {
	WorkID          int64 `json:"work_id"`
	TotalPopulation int64 `json:"total_population"`
	Female          int64 `json:"female"`
	Male            int64 `json:"male"`
	Eligible        int64 `json:"eligible"`
}

func NewBeneficiaryRecorded(p BeneficiaryRecordedPayload) DomainEvent {
	return DomainEvent{
		ID:               newID(),
		EventType:        TypeBeneficiaryRecorded,
		OccurredAt:       time.Now(),
		AffectedEntities: []types.SourceRef{workRef(p.WorkID)},
		Summary:          fmt.Sprintf("Beneficiaries recorded for work package %d (population %d)", p.WorkID, p.TotalPopulation),
		Category:         "beneficiary",
		Weight:           "minor",
		Payload:          mustJSON(p),
	}
}

// RowsRecordedPayload carries event-specific data for the repeated-row
// events.
type RowsRecordedPayload struct {
	WorkID int64    `json:"work_id"`
	Count  int      `json:"count"`
	Names  []string `json:"names"`
}

func NewVillagesRecorded(p RowsRecordedPayload) DomainEvent {
	return DomainEvent{
		ID:               newID(),
		EventType:        TypeVillagesRecorded,
		OccurredAt:       time.Now(),
		AffectedEntities: []types.SourceRef{workRef(p.WorkID)},
		Summary:          fmt.Sprintf("%d village(s) recorded for work package %d", p.Count, p.WorkID),
		Category:         "village",
		Weight:           "minor",
		Payload:          mustJSON(p),
	}
}

func NewComponentsRecorded(p RowsRecordedPayload) DomainEvent {
	return DomainEvent{
		ID:               newID(),
		EventType:        TypeComponentsRecorded,
		OccurredAt:       time.Now(),
		AffectedEntities: []types.SourceRef{workRef(p.WorkID)},
		Summary:          fmt.Sprintf("%d cost component(s) recorded for work package %d", p.Count, p.WorkID),
		Category:         "component",
		Weight:           "minor",
		Payload:          mustJSON(p),
	}
}

// ── Submission events ───────────────────────────────────────────────────────

// SubmissionOutcomePayload carries event-specific data for the submission
// failure events.
type SubmissionOutcomePayload struct {
	WorkID            int64  `json:"work_id,omitempty"`
	Step              string `json:"step"`
	Code              string `json:"code"`
	Message           string `json:"message"`
	Persisted         bool   `json:"persisted"`
	CompensationError string `json:"compensation_error,omitempty"`
}

func submissionRefs(workID int64) []types.SourceRef {
	if workID == 0 {
		return []types.SourceRef{{EntityType: "submission", EntityID: "unsaved", Role: "subject"}}
	}
	return []types.SourceRef{workRef(workID)}
}

// NewSubmissionFailed reports a submission that stopped at p.Step. A
// persisted work is a partial write and weighs critical.
func NewSubmissionFailed(p SubmissionOutcomePayload) DomainEvent {
	weight := "major"
	summary := fmt.Sprintf("Submission failed while %s: %s", p.Step, p.Message)
	if p.Persisted {
		weight = "critical"
		summary = fmt.Sprintf("Work package %d saved without its remaining details (failed while %s)", p.WorkID, p.Step)
	}
	return DomainEvent{
		ID:               newID(),
		EventType:        TypeSubmissionFailed,
		OccurredAt:       time.Now(),
		AffectedEntities: submissionRefs(p.WorkID),
		Summary:          summary,
		Category:         "submission",
		Weight:           weight,
		Payload:          mustJSON(p),
	}
}

func NewSubmissionCompensated(p SubmissionOutcomePayload) DomainEvent {
	return DomainEvent{
		ID:               newID(),
		EventType:        TypeSubmissionCompensated,
		OccurredAt:       time.Now(),
		AffectedEntities: submissionRefs(p.WorkID),
		Summary:          fmt.Sprintf("Work package %d removed after failure while %s", p.WorkID, p.Step),
		Category:         "submission",
		Weight:           "major",
		Payload:          mustJSON(p),
	}
}

// WithCorrelation returns evt tagged with a correlation id.
func (evt DomainEvent) WithCorrelation(id string) DomainEvent {
	evt.CorrelationID = id
	return evt
}
