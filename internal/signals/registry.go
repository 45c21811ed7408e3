// Package signals classifies recorded activity and rolls it up into a
// health summary per work package: how its submissions went and whether a
// pattern of failures needs attention.
package signals

// Registration classifies one event type, optionally narrowed by a payload
// condition.
type Registration struct {
	ID              string
	EventType       string
	Condition       string // "field == value", "field > N", ...
	Polarity        string // "positive", "negative", "neutral"
	Description     string
	EscalationRules []EscalationRule
}

// Required is one category requirement of a cross-category rule.
type Required struct {
	Category string `json:"category"`
	Polarity string `json:"polarity,omitempty"`
	MinCount int    `json:"min_count"`
}

// EscalationRule raises a pattern of entries to a heavier weight.
type EscalationRule struct {
	ID                   string     `json:"id"`
	Description          string     `json:"description"`
	TriggerType          string     `json:"trigger_type"` // "count" or "cross_category"
	SignalCategory       string     `json:"signal_category,omitempty"`
	SignalPolarity       string     `json:"signal_polarity,omitempty"`
	SignalWeight         string     `json:"signal_weight,omitempty"`
	Count                int        `json:"count,omitempty"`
	RequiredCategories   []Required `json:"required_categories,omitempty"`
	WithinDays           int        `json:"within_days"`
	EscalatedWeight      string     `json:"escalated_weight"`
	EscalatedDescription string     `json:"escalated_description"`
	RecommendedAction    string     `json:"recommended_action"`
}

// Polarities.
const (
	PolarityPositive = "positive"
	PolarityNegative = "negative"
	PolarityNeutral  = "neutral"
)

// Registry holds every registration. Conditional registrations win over
// the unconditional one for the same event type.
var Registry = []Registration{
	{
		ID:          "work_created",
		EventType:   "work_package_created",
		Polarity:    PolarityPositive,
		Description: "Work package created",
	},
	{
		ID:          "work_deleted",
		EventType:   "work_package_deleted",
		Polarity:    PolarityNeutral,
		Description: "Work package deleted",
	},
	{
		ID:          "beneficiary_recorded",
		EventType:   "beneficiary_recorded",
		Polarity:    PolarityPositive,
		Description: "Beneficiary demographics recorded",
	},
	{
		ID:          "villages_recorded",
		EventType:   "villages_recorded",
		Polarity:    PolarityPositive,
		Description: "Villages recorded",
	},
	{
		ID:          "components_recorded",
		EventType:   "components_recorded",
		Polarity:    PolarityPositive,
		Description: "Cost components recorded",
	},
	{
		ID:          "submission_partial",
		EventType:   "submission_failed",
		Condition:   "persisted == true",
		Polarity:    PolarityNegative,
		Description: "Work saved without its remaining details",
		EscalationRules: []EscalationRule{
			{
				ID:                   "partial_repeated",
				Description:          "Repeated partial writes",
				TriggerType:          "count",
				SignalCategory:       "submission",
				SignalWeight:         "critical",
				Count:                2,
				WithinDays:           7,
				EscalatedWeight:      "critical",
				EscalatedDescription: "Two or more submissions left a work without its dependents this week.",
				RecommendedAction:    "Complete or delete the partial work packages and check ROLLBACK_POLICY.",
			},
		},
	},
	{
		ID:          "submission_failed",
		EventType:   "submission_failed",
		Polarity:    PolarityNegative,
		Description: "Submission failed",
	},
	{
		ID:          "submission_compensated",
		EventType:   "submission_compensated",
		Polarity:    PolarityNegative,
		Description: "Created work removed after a failed step",
		EscalationRules: []EscalationRule{
			{
				ID:                   "compensation_repeated",
				Description:          "Repeated rollbacks",
				TriggerType:          "count",
				SignalCategory:       "submission",
				SignalPolarity:       PolarityNegative,
				Count:                3,
				WithinDays:           1,
				EscalatedWeight:      "major",
				EscalatedDescription: "Three or more failed submissions in a day.",
				RecommendedAction:    "Check the dependent-record constraints and the gateway logs for the correlation ids.",
			},
		},
	},
}

// crossCategory holds rules that span categories.
var crossCategory = []EscalationRule{
	{
		ID:          "created_then_failed",
		Description: "A work that exists also has failed submissions against it",
		TriggerType: "cross_category",
		RequiredCategories: []Required{
			{Category: "work", Polarity: PolarityPositive, MinCount: 1},
			{Category: "submission", Polarity: PolarityNegative, MinCount: 1},
		},
		WithinDays:           30,
		EscalatedWeight:      "major",
		EscalatedDescription: "The work was created but a later step failed.",
		RecommendedAction:    "Review the work's details for missing beneficiaries, villages or components.",
	},
}

var byEventType map[string][]Registration

func init() {
	byEventType = make(map[string][]Registration, len(Registry))
	for _, r := range Registry {
		byEventType[r.EventType] = append(byEventType[r.EventType], r)
	}
}

// Lookup returns the registrations for eventType.
func Lookup(eventType string) []Registration {
	return byEventType[eventType]
}
