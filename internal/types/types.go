// Package types provides the Go structs shared by the store, the HTTP layer and
// the creation workflow. Quantities use decimal.Decimal so that milestone sums
// reconcile exactly at two decimal places.
package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MaxMilestones is the largest number of delivery milestones a cost component
// can carry.
const MaxMilestones = 3

// Audit carries who/where metadata written alongside every entity.
type Audit struct {
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	CreatedBy     string    `json:"created_by"`
	UpdatedBy     string    `json:"updated_by"`
	Source        string    `json:"source"` // "user", "import", "system", "migration"
	CorrelationID *string   `json:"correlation_id,omitempty"`
}

// Stamp fills the audit fields for a fresh insert.
func (a *Audit) Stamp(now time.Time) {
	if a.CreatedBy == "" {
		a.CreatedBy = "system"
	}
	if a.UpdatedBy == "" {
		a.UpdatedBy = a.CreatedBy
	}
	if a.Source == "" {
		a.Source = "user"
	}
	a.CreatedAt = now
	a.UpdatedAt = now
}

// ─── Hierarchy ────────────────────────────────────────────────────────────────

// Level names one tier of the location or catalog hierarchy.
type Level string

const (
	LevelZone         Level = "zone"
	LevelCircle       Level = "circle"
	LevelDivision     Level = "division"
	LevelComponent    Level = "component"
	LevelSubcomponent Level = "subcomponent"
	LevelWorkItem     Level = "work_item"
)

var levelParents = map[Level]Level{
	LevelCircle:       LevelZone,
	LevelDivision:     LevelCircle,
	LevelSubcomponent: LevelComponent,
	LevelWorkItem:     LevelSubcomponent,
}

// Levels lists every level in hierarchy order.
var Levels = []Level{LevelZone, LevelCircle, LevelDivision, LevelComponent, LevelSubcomponent, LevelWorkItem}

// ParseLevel validates a level name.
func ParseLevel(s string) (Level, error) {
	for _, l := range Levels {
		if string(l) == s {
			return l, nil
		}
	}
	return "", fmt.Errorf("unknown hierarchy level %q", s)
}

// Parent returns the level above l. Root levels report ok=false.
func (l Level) Parent() (Level, bool) {
	p, ok := levelParents[l]
	return p, ok
}

// Option is one selectable node of a hierarchy level (LocationNode / CatalogNode).
type Option struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	ParentID *int64 `json:"parent_id,omitempty"`
}

// ─── Work package aggregate ───────────────────────────────────────────────────

// Award statuses accepted for a work package.
const (
	AwardStatusAwarded    = "awarded"
	AwardStatusNotAwarded = "not_awarded"
)

// Work is the root record of a work package.
type Work struct {
	ID                  int64           `json:"id,omitempty"`
	Name                string          `json:"name"`
	PackageNumber       string          `json:"package_number"`
	Cost                int64           `json:"cost"`
	TargetKm            decimal.Decimal `json:"target_km"`
	WorkPeriodMonths    int             `json:"work_period_months"`
	AreaUnderIrrigation decimal.Decimal `json:"area_under_irrigation"`
	AwardStatus         string          `json:"award_status"`
	ZoneID              int64           `json:"zone_id"`
	CircleID            int64           `json:"circle_id"`
	DivisionID          int64           `json:"division_id"`
	ComponentID         int64           `json:"component_id"`
	SubcomponentID      int64           `json:"subcomponent_id"`
	WorkItemID          int64           `json:"work_item_id"`
	Audit
}

// Beneficiary holds the demographic split of the population a work serves.
// Invariant: Female + Male == TotalPopulation, Youth <= TotalPopulation.
type Beneficiary struct {
	ID                     int64 `json:"id,omitempty"`
	WorkID                 int64 `json:"work_id,omitempty"`
	TotalPopulation        int64 `json:"total_population"`
	Female                 int64 `json:"female"`
	Male                   int64 `json:"male"`
	Youth                  int64 `json:"youth"`
	GovernmentStakeholders int64 `json:"government_stakeholders"`
	Eligible               int64 `json:"eligible"`
	Audit
}

// Village is one village covered by a work. Female + Male == CensusPopulation.
type Village struct {
	ID               int64  `json:"id,omitempty"`
	WorkID           int64  `json:"work_id,omitempty"`
	Name             string `json:"name"`
	District         string `json:"district"`
	Block            string `json:"block"`
	Panchayat        string `json:"panchayat"`
	CensusPopulation int64  `json:"census_population"`
	Male             int64  `json:"male"`
	Female           int64  `json:"female"`
	Audit
}

// CostComponent is a billable line item whose total quantity is delivered
// across MilestoneCount milestones.
type CostComponent struct {
	ID             int64                 `json:"id,omitempty"`
	WorkID         int64                 `json:"work_id,omitempty"`
	Name           string                `json:"name"`
	Unit           string                `json:"unit"`
	TotalQty       decimal.Decimal       `json:"total_qty"`
	MilestoneCount int                   `json:"milestone_count"`
	Milestones     []decimal.NullDecimal `json:"milestones"`
	Audit
}

// WorkPackage is the full aggregate: the work and everything it owns.
type WorkPackage struct {
	Work        Work            `json:"work"`
	Beneficiary *Beneficiary    `json:"beneficiary,omitempty"`
	Villages    []Village       `json:"villages"`
	Components  []CostComponent `json:"components"`
}

// ─── Form records ─────────────────────────────────────────────────────────────

// Record is the raw, user-entered state of one form section or repeated row.
// Keys are field names from the rule table.
type Record map[string]string

// Get returns the field value or "" when absent.
func (r Record) Get(field string) string {
	if r == nil {
		return ""
	}
	return r[field]
}

// Blank reports whether every field in the record is empty.
func (r Record) Blank() bool {
	for _, v := range r {
		if v != "" {
			return false
		}
	}
	return true
}

// Clone returns a copy of r.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Form is the full editing state of a work package creation form.
type Form struct {
	Work        Record   `json:"work"`
	Beneficiary Record   `json:"beneficiary"`
	Villages    []Record `json:"villages"`
	Components  []Record `json:"components"`
}

// NewForm returns an empty form with initialised sections.
func NewForm() Form {
	return Form{Work: Record{}, Beneficiary: Record{}}
}

// Clone deep-copies the form.
func (f Form) Clone() Form {
	out := Form{
		Work:        f.Work.Clone(),
		Beneficiary: f.Beneficiary.Clone(),
		Villages:    make([]Record, len(f.Villages)),
		Components:  make([]Record, len(f.Components)),
	}
	for i, v := range f.Villages {
		out.Villages[i] = v.Clone()
	}
	for i, c := range f.Components {
		out.Components[i] = c.Clone()
	}
	return out
}

// ─── Activity ─────────────────────────────────────────────────────────────────
// ActivityEntry is not a table of its own; entries are kept by activity.Store.

// SourceRef identifies an entity referenced by a domain event.
type SourceRef struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	Role       string `json:"role"` // "subject", "target", "related", "context"
}

// ActivityEntry is a secondary index entry over the domain event log,
// keyed by a referenced entity. One event produces multiple entries.
type ActivityEntry struct {
	EventID           string          `json:"event_id"`
	EventType         string          `json:"event_type"`
	OccurredAt        time.Time       `json:"occurred_at"`
	IndexedEntityType string          `json:"indexed_entity_type"`
	IndexedEntityID   string          `json:"indexed_entity_id"`
	EntityRole        string          `json:"entity_role"`
	SourceRefs        []SourceRef     `json:"source_refs"`
	Summary           string          `json:"summary"`
	Category          string          `json:"category"` // "work", "beneficiary", "village", "component", "submission"
	Weight            string          `json:"weight"`   // "critical", "major", "minor", "info"
	Payload           json.RawMessage `json:"payload"`
}
