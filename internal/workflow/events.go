package workflow

import "github.com/matthewbaird/canalworks/internal/types"

// Event is an input to Reducer.Reduce.
type Event interface{ event() }

// FieldChanged is a user edit of one field. Row is the index for the
// villages and components sections and ignored otherwise.
type FieldChanged struct {
	Section string
	Row     int
	Field   string
	Value   string
}

// AncestorCleared blanks a hierarchy field and everything below it.
type AncestorCleared struct {
	Field string
}

// RowAdded appends a blank village or component row.
type RowAdded struct {
	Section string
}

// RowRemoved deletes a village or component row.
type RowRemoved struct {
	Section string
	Row     int
}

// OptionsLoaded delivers the options requested by a LoadOptions effect.
type OptionsLoaded struct {
	Level    types.Level
	ParentID int64
	Options  []types.Option
	Err      error
}

// SubmitRequested starts a submission.
type SubmitRequested struct{}

// StepSucceeded reports a completed gateway call. WorkID is set by the
// CreateWork step.
type StepSucceeded struct {
	Step   Phase
	WorkID int64
}

// StepFailed reports a rejected gateway call.
type StepFailed struct {
	Step Phase
	Err  error
}

// Reset discards the form and starts over.
type Reset struct{}

func (FieldChanged) event()    {}
func (AncestorCleared) event() {}
func (RowAdded) event()        {}
func (RowRemoved) event()      {}
func (OptionsLoaded) event()   {}
func (SubmitRequested) event() {}
func (StepSucceeded) event()   {}
func (StepFailed) event()      {}
func (Reset) event()           {}

// Effect is work the Orchestrator performs on behalf of the reducer.
type Effect interface{ effect() }

// LoadOptions fetches the options of Level under ParentID.
type LoadOptions struct {
	Level    types.Level
	ParentID int64
}

// CreateWork persists the work record.
type CreateWork struct {
	Work types.Work
}

// CreateBeneficiary persists the beneficiary split of WorkID.
type CreateBeneficiary struct {
	WorkID      int64
	Beneficiary types.Beneficiary
}

// CreateVillages persists the villages of WorkID.
type CreateVillages struct {
	WorkID   int64
	Villages []types.Village
}

// CreateComponents persists the cost components of WorkID.
type CreateComponents struct {
	WorkID     int64
	Components []types.CostComponent
}

// DeleteWork removes WorkID and its dependents. It is the compensating
// action of the saga.
type DeleteWork struct {
	WorkID int64
}

func (LoadOptions) effect()       {}
func (CreateWork) effect()        {}
func (CreateBeneficiary) effect() {}
func (CreateVillages) effect()    {}
func (CreateComponents) effect()  {}
func (DeleteWork) effect()        {}

// stepOf maps a persistence effect to the phase it runs in.
func stepOf(e Effect) Phase {
	switch e.(type) {
	case CreateWork:
		return PhaseCreatingWork
	case CreateBeneficiary:
		return PhaseCreatingBeneficiary
	case CreateVillages:
		return PhaseCreatingVillages
	case CreateComponents:
		return PhaseCreatingComponents
	case DeleteWork:
		return PhaseCompensating
	}
	return ""
}
