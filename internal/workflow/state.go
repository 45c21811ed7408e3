// Package workflow drives the work package creation form: derived field
// updates, hierarchy clearing, submission gating and the multi-step
// persistence saga.
//
// All form logic lives in Reducer.Reduce, a pure function of (State, Event)
// returning the next State and the Effects to run. The Orchestrator runs
// those effects one at a time against a Gateway and feeds the outcomes back
// as events.
package workflow

import (
	"fmt"
	"slices"

	apperrors "github.com/matthewbaird/canalworks/internal/errors"
	"github.com/matthewbaird/canalworks/internal/types"
	"github.com/matthewbaird/canalworks/internal/validation"
)

// Phase is the orchestrator state.
type Phase string

const (
	PhaseIdle                Phase = "idle"
	PhaseValidating          Phase = "validating"
	PhaseCreatingWork        Phase = "creating_work"
	PhaseCreatingBeneficiary Phase = "creating_beneficiary"
	PhaseCreatingVillages    Phase = "creating_villages"
	PhaseCreatingComponents  Phase = "creating_components"
	PhaseCompensating        Phase = "compensating"
	PhaseSucceeded           Phase = "succeeded"
	PhaseFailed              Phase = "failed"
)

// InFlight reports whether a submission is running. Edits and new
// submissions are ignored while it is.
func (p Phase) InFlight() bool {
	switch p {
	case PhaseValidating, PhaseCreatingWork, PhaseCreatingBeneficiary,
		PhaseCreatingVillages, PhaseCreatingComponents, PhaseCompensating:
		return true
	}
	return false
}

// Form sections addressed by events.
const (
	SectionWork        = "work"
	SectionBeneficiary = "beneficiary"
	SectionVillages    = "villages"
	SectionComponents  = "components"
)

// Overrides tracks which derived fields the user typed in by hand. Manual
// values are kept when their inputs change; automatic ones are recomputed.
type Overrides struct {
	BeneficiaryFemale   bool   `json:"beneficiary_female"`
	VillageFemale       []bool `json:"village_female"`
	ComponentMilestones []bool `json:"component_milestones"`
}

func (o Overrides) clone() Overrides {
	return Overrides{
		BeneficiaryFemale:   o.BeneficiaryFemale,
		VillageFemale:       slices.Clone(o.VillageFemale),
		ComponentMilestones: slices.Clone(o.ComponentMilestones),
	}
}

// Failure describes why a submission ended in PhaseFailed.
type Failure struct {
	Step    Phase          `json:"step"`
	Code    apperrors.Code `json:"code"`
	Message string         `json:"message"`
	WorkID  int64          `json:"work_id,omitempty"`

	// Persisted is set when the work record remains without all of its
	// dependents.
	Persisted         bool   `json:"persisted"`
	Compensated       bool   `json:"compensated"`
	CompensationError string `json:"compensation_error,omitempty"`
}

// State is the full editing and submission state of one form.
type State struct {
	Form      types.Form                     `json:"form"`
	Overrides Overrides                      `json:"overrides"`
	Options   map[types.Level][]types.Option `json:"options"`
	Errors    validation.Result              `json:"errors"`
	Phase     Phase                          `json:"phase"`
	WorkID    int64                          `json:"work_id,omitempty"`
	Banner    string                         `json:"banner,omitempty"`
	Failure   *Failure                       `json:"failure,omitempty"`

	// Attempted is set after the first submit; from then on every edit
	// re-validates so messages clear as fields are fixed.
	Attempted bool `json:"attempted"`

	payload *types.WorkPackage
}

// NewState returns an idle state over f.
func NewState(f types.Form) State {
	f = f.Clone()
	if f.Work == nil {
		f.Work = types.Record{}
	}
	if f.Beneficiary == nil {
		f.Beneficiary = types.Record{}
	}
	return State{
		Form:    f,
		Phase:   PhaseIdle,
		Options: map[types.Level][]types.Option{},
		Overrides: Overrides{
			VillageFemale:       make([]bool, len(f.Villages)),
			ComponentMilestones: make([]bool, len(f.Components)),
		},
	}
}

// clone deep-copies the parts of s a reduction may mutate.
func (s State) clone() State {
	out := s
	out.Form = s.Form.Clone()
	out.Overrides = s.Overrides.clone()
	out.Options = make(map[types.Level][]types.Option, len(s.Options))
	for k, v := range s.Options {
		out.Options[k] = v
	}
	if s.Failure != nil {
		f := *s.Failure
		out.Failure = &f
	}
	return out
}

// Payload returns the typed aggregate parsed at submit time, or nil before
// a submission passed validation.
func (s State) Payload() *types.WorkPackage { return s.payload }

// Err returns the submission outcome as a typed error, or nil when the
// state is not failed.
func (s State) Err() error {
	if s.Phase != PhaseFailed || s.Failure == nil {
		return nil
	}
	f := s.Failure
	meta := map[string]string{"step": string(f.Step)}
	if f.WorkID != 0 {
		meta["work_id"] = fmt.Sprint(f.WorkID)
	}
	code := f.Code
	if f.Persisted {
		code = apperrors.CodePartialPersistence
		meta["cause"] = string(f.Code)
	}
	return apperrors.WithMetadata(code, f.Message, meta)
}
