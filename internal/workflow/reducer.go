package workflow

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/matthewbaird/canalworks/internal/demographics"
	"github.com/matthewbaird/canalworks/internal/dupguard"
	apperrors "github.com/matthewbaird/canalworks/internal/errors"
	"github.com/matthewbaird/canalworks/internal/form"
	"github.com/matthewbaird/canalworks/internal/hierarchy"
	"github.com/matthewbaird/canalworks/internal/quantity"
	"github.com/matthewbaird/canalworks/internal/rules"
	"github.com/matthewbaird/canalworks/internal/types"
	"github.com/matthewbaird/canalworks/internal/validation"
)

// Rollback selects what happens when a dependent step fails after the work
// record was created.
type Rollback string

const (
	// RollbackCompensate deletes the work record (and anything created so
	// far) before reporting the failure.
	RollbackCompensate Rollback = "compensate"
	// RollbackNone leaves the work record in place without its remaining
	// dependents.
	RollbackNone Rollback = "none"
)

// dependentSteps is the creation order after the work record.
var dependentSteps = []Phase{PhaseCreatingBeneficiary, PhaseCreatingVillages, PhaseCreatingComponents}

// Reducer holds the rule engines the form logic consults. It keeps no
// per-form state.
type Reducer struct {
	validator *validation.Engine
	calc      *demographics.Calculator
	qty       *quantity.Engine
	guard     *dupguard.Guard
	rollback  Rollback
}

// NewReducer creates a Reducer. guard may be nil to skip the duplicate
// name pre-check.
func NewReducer(r *rules.Rules, guard *dupguard.Guard, rollback Rollback) *Reducer {
	if rollback == "" {
		rollback = RollbackCompensate
	}
	return &Reducer{
		validator: validation.New(r),
		calc:      demographics.New(r.Demographics),
		qty:       quantity.New(r),
		guard:     guard,
		rollback:  rollback,
	}
}

// Rollback returns the configured rollback policy.
func (r *Reducer) Rollback() Rollback { return r.rollback }

// Reduce applies ev to s. s is never modified; the returned state is a
// fresh copy. Edits are ignored while a submission is in flight and after
// it succeeded.
func (r *Reducer) Reduce(s State, ev Event) (State, []Effect) {
	switch ev := ev.(type) {
	case Reset:
		return NewState(types.NewForm()), nil
	case SubmitRequested:
		if s.Phase.InFlight() || s.Phase == PhaseSucceeded {
			return s, nil
		}
		return r.submit(s.clone())
	case StepSucceeded:
		if ev.Step != s.Phase {
			return s, nil
		}
		return r.stepSucceeded(s.clone(), ev)
	case StepFailed:
		if ev.Step != s.Phase {
			return s, nil
		}
		return r.stepFailed(s.clone(), ev)
	case OptionsLoaded:
		return r.optionsLoaded(s.clone(), ev), nil
	}

	if s.Phase.InFlight() || s.Phase == PhaseSucceeded {
		return s, nil
	}
	s = s.clone()
	s.Errors = s.Errors.Clone()
	if s.Phase == PhaseFailed {
		s.Phase = PhaseIdle
	}

	var effects []Effect
	switch ev := ev.(type) {
	case FieldChanged:
		effects = r.fieldChanged(&s, ev)
	case AncestorCleared:
		r.ancestorCleared(&s, ev.Field)
	case RowAdded:
		r.rowAdded(&s, ev.Section)
	case RowRemoved:
		r.rowRemoved(&s, ev)
	default:
		return s, nil
	}

	if s.Attempted {
		hierErrs := s.Errors.Work
		s.Errors = r.validator.Validate(s.Form)
		// Keep hierarchy selection errors raised during this edit.
		for f, msg := range hierErrs {
			if hierarchy.IsField(f) && s.Form.Work.Get(f) != "" {
				if _, ok := s.Errors.Work[f]; !ok {
					s.Errors.Work = s.Errors.Work.With(f, msg)
				}
			}
		}
	}
	return s, effects
}

// ---------------------------------------------------------------------------
// Edits
// ---------------------------------------------------------------------------

func (r *Reducer) fieldChanged(s *State, ev FieldChanged) []Effect {
	switch ev.Section {
	case SectionWork:
		return r.workChanged(s, ev.Field, ev.Value)
	case SectionBeneficiary:
		r.beneficiaryChanged(s, ev.Field, ev.Value)
	case SectionVillages:
		if ev.Row >= 0 && ev.Row < len(s.Form.Villages) {
			r.villageChanged(s, ev.Row, ev.Field, ev.Value)
		}
	case SectionComponents:
		if ev.Row >= 0 && ev.Row < len(s.Form.Components) {
			r.componentChanged(s, ev.Row, ev.Field, ev.Value)
		}
	}
	return nil
}

func (r *Reducer) workChanged(s *State, field, value string) []Effect {
	if !hierarchy.IsField(field) {
		s.Form.Work[field] = value
		if field == types.FieldWorkPeriodMonths {
			r.applyWorkPeriod(s)
		}
		return nil
	}

	if strings.TrimSpace(value) == "" {
		r.ancestorCleared(s, field)
		return nil
	}
	chain, k, _ := hierarchy.Lookup(field)
	dropOptions(s, chain, k)
	ch, err := hierarchy.Select(s.Form.Work, field, value)
	if err != nil {
		s.Form.Work[field] = value
		chain.Clear(s.Form.Work, k)
		s.Errors.Work = s.Errors.Work.With(field, fmt.Sprintf("Select a valid %s", chain.Levels[k]))
		return nil
	}
	delete(s.Errors.Work, field)
	if ch.Child == "" {
		return nil
	}
	return []Effect{LoadOptions{Level: ch.Child, ParentID: ch.ParentID}}
}

func (r *Reducer) ancestorCleared(s *State, field string) {
	chain, k, ok := hierarchy.Lookup(field)
	if !ok {
		return
	}
	s.Form.Work[field] = ""
	chain.Clear(s.Form.Work, k)
	dropOptions(s, chain, k)
}

// dropOptions forgets the loaded options of every level below k.
func dropOptions(s *State, chain hierarchy.Chain, k int) {
	for i := k + 1; i < len(chain.Levels); i++ {
		delete(s.Options, chain.Levels[i])
	}
}

func (r *Reducer) optionsLoaded(s State, ev OptionsLoaded) State {
	if parent, ok := ev.Level.Parent(); ok {
		field, _ := hierarchy.FieldOf(parent)
		if s.Form.Work.Get(field) != strconv.FormatInt(ev.ParentID, 10) {
			// The parent changed while the options were loading.
			return s
		}
	}
	if ev.Err != nil {
		delete(s.Options, ev.Level)
		s.Banner = fmt.Sprintf("Could not load %s options: %s", ev.Level, apperrors.BannerFor(ev.Err))
		return s
	}
	s.Options[ev.Level] = ev.Options
	return s
}

// applyWorkPeriod forces every component's milestone count to the count the
// new period allows and discards milestones beyond it. Rows whose
// milestones were never typed by hand are redistributed from their total.
func (r *Reducer) applyWorkPeriod(s *State) {
	count := r.milestoneCount(s.Form.Work)
	for i, row := range s.Form.Components {
		row[types.FieldMilestoneCount] = strconv.Itoa(count)
		for m := count + 1; m <= types.MaxMilestones; m++ {
			delete(row, types.FieldMilestone(m))
		}
		if !at(s.Overrides.ComponentMilestones, i) {
			r.distribute(row, count)
		}
	}
}

func (r *Reducer) milestoneCount(work types.Record) int {
	months, ok := form.Int(work.Get(types.FieldWorkPeriodMonths))
	if !ok || months < 0 {
		return 0
	}
	return r.qty.MilestoneCount(int(months))
}

// distribute fills the first count milestones of row from its total when
// the total is a valid quantity. A share that rounds to zero is left blank
// since milestones must be positive; the residual still lands on a filled
// milestone so the sum matches the total.
func (r *Reducer) distribute(row types.Record, count int) {
	if count == 0 {
		return
	}
	raw := row.Get(types.FieldTotalQty)
	if validation.CheckField(r.validator.Rules().Component[types.FieldTotalQty], raw) != "" || strings.TrimSpace(raw) == "" {
		return
	}
	total, _ := form.Decimal(raw)
	for i, part := range quantity.Distribute(total, count) {
		if part.IsZero() {
			row[types.FieldMilestone(i+1)] = ""
			continue
		}
		row[types.FieldMilestone(i+1)] = part.StringFixed(quantity.Places)
	}
}

func (r *Reducer) beneficiaryChanged(s *State, field, value string) {
	rec := s.Form.Beneficiary
	rec[field] = value
	switch field {
	case types.FieldFemale:
		s.Overrides.BeneficiaryFemale = strings.TrimSpace(value) != ""
	case types.FieldTotalPopulation, types.FieldGovernmentStakeholders:
	default:
		return
	}

	total, ok := form.Int(rec.Get(types.FieldTotalPopulation))
	if !ok || total < 0 {
		return
	}
	female, ok := manualCount(rec, types.FieldFemale, s.Overrides.BeneficiaryFemale)
	if !ok {
		return
	}
	split := r.calc.Split(total, female)
	rec[types.FieldFemale] = strconv.FormatInt(split.Female, 10)
	rec[types.FieldMale] = strconv.FormatInt(split.Male, 10)
	rec[types.FieldYouth] = strconv.FormatInt(split.Youth, 10)

	govt, _ := form.Int(rec.Get(types.FieldGovernmentStakeholders))
	rec[types.FieldEligible] = strconv.FormatInt(demographics.Eligible(total, govt), 10)
}

func (r *Reducer) villageChanged(s *State, i int, field, value string) {
	rec := s.Form.Villages[i]
	rec[field] = value
	switch field {
	case types.FieldFemale:
		setAt(&s.Overrides.VillageFemale, i, strings.TrimSpace(value) != "")
	case types.FieldCensusPopulation:
	default:
		return
	}

	census, ok := form.Int(rec.Get(types.FieldCensusPopulation))
	if !ok || census < 0 {
		return
	}
	female, ok := manualCount(rec, types.FieldFemale, at(s.Overrides.VillageFemale, i))
	if !ok {
		return
	}
	split := r.calc.Split(census, female)
	rec[types.FieldFemale] = strconv.FormatInt(split.Female, 10)
	rec[types.FieldMale] = strconv.FormatInt(split.Male, 10)
}

// manualCount returns the hand-entered value of field when manual is set.
// ok is false when a manual value does not parse.
func manualCount(rec types.Record, field string, manual bool) (*int64, bool) {
	if !manual {
		return nil, true
	}
	n, ok := form.Int(rec.Get(field))
	if !ok {
		return nil, false
	}
	return &n, true
}

func (r *Reducer) componentChanged(s *State, i int, field, value string) {
	if field == types.FieldMilestoneCount {
		// Derived from the work period.
		return
	}
	rec := s.Form.Components[i]
	rec[field] = value

	switch {
	case field == types.FieldTotalQty:
		setAt(&s.Overrides.ComponentMilestones, i, false)
		n, _ := form.Int(rec.Get(types.FieldMilestoneCount))
		r.distribute(rec, int(n))
	case strings.HasPrefix(field, "milestone_"):
		setAt(&s.Overrides.ComponentMilestones, i, true)
	}
}

func (r *Reducer) rowAdded(s *State, section string) {
	switch section {
	case SectionVillages:
		s.Form.Villages = append(s.Form.Villages, types.Record{})
		s.Overrides.VillageFemale = append(s.Overrides.VillageFemale, false)
	case SectionComponents:
		count := r.milestoneCount(s.Form.Work)
		s.Form.Components = append(s.Form.Components, types.Record{
			types.FieldMilestoneCount: strconv.Itoa(count),
		})
		s.Overrides.ComponentMilestones = append(s.Overrides.ComponentMilestones, false)
	}
}

func (r *Reducer) rowRemoved(s *State, ev RowRemoved) {
	switch ev.Section {
	case SectionVillages:
		if ev.Row < 0 || ev.Row >= len(s.Form.Villages) {
			return
		}
		s.Form.Villages = slices.Delete(s.Form.Villages, ev.Row, ev.Row+1)
		s.Overrides.VillageFemale = deleteAt(s.Overrides.VillageFemale, ev.Row)
		s.Errors.Villages = deleteAt(s.Errors.Villages, ev.Row)
	case SectionComponents:
		if ev.Row < 0 || ev.Row >= len(s.Form.Components) {
			return
		}
		s.Form.Components = slices.Delete(s.Form.Components, ev.Row, ev.Row+1)
		s.Overrides.ComponentMilestones = deleteAt(s.Overrides.ComponentMilestones, ev.Row)
		s.Errors.Components = deleteAt(s.Errors.Components, ev.Row)
	}
}

func at(flags []bool, i int) bool {
	return i >= 0 && i < len(flags) && flags[i]
}

// setAt sets flags[i], growing the slice when rows were added without a
// matching flag.
func setAt(flags *[]bool, i int, v bool) {
	for len(*flags) <= i {
		*flags = append(*flags, false)
	}
	(*flags)[i] = v
}

func deleteAt[T any](s []T, i int) []T {
	if i < 0 || i >= len(s) {
		return s
	}
	return slices.Delete(s, i, i+1)
}

// ---------------------------------------------------------------------------
// Submission
// ---------------------------------------------------------------------------

// Preflight runs the checks a submit makes before anything is sent: field
// validation, then the duplicate-name guard. A non-nil error carries
// VALIDATION_FAILED or DUPLICATE_NAME, and the result holds the field
// messages to show.
func (r *Reducer) Preflight(f types.Form) (validation.Result, error) {
	res := r.validator.Validate(f)
	if !res.OK() {
		return res, res.Err()
	}
	if r.guard != nil {
		if err := r.guard.Check(f.Work.Get(types.FieldWorkName)); err != nil {
			res.Work = res.Work.With(types.FieldWorkName, err.Error())
			return res, err
		}
	}
	return res, nil
}

func (r *Reducer) submit(s State) (State, []Effect) {
	s.Attempted = true
	s.Phase = PhaseValidating
	s.Failure = nil
	s.Banner = ""
	s.WorkID = 0
	s.payload = nil

	var err error
	if s.Errors, err = r.Preflight(s.Form); err != nil {
		return r.fail(s, PhaseValidating, err, false), nil
	}
	pkg, err := form.Package(s.Form)
	if err != nil {
		return r.fail(s, PhaseValidating, apperrors.Wrap(apperrors.CodeInternal, "building payload", err), false), nil
	}
	s.payload = &pkg
	s.Phase = PhaseCreatingWork
	return s, []Effect{CreateWork{Work: pkg.Work}}
}

func (r *Reducer) stepSucceeded(s State, ev StepSucceeded) (State, []Effect) {
	switch ev.Step {
	case PhaseCreatingWork:
		s.WorkID = ev.WorkID
		return r.advance(s, -1)
	case PhaseCompensating:
		s.Phase = PhaseFailed
		if s.Failure != nil {
			s.Failure.Compensated = true
			s.Failure.Persisted = false
		}
		return s, nil
	default:
		return r.advance(s, slices.Index(dependentSteps, ev.Step))
	}
}

// advance moves to the first dependent step after index done that has
// data, or to PhaseSucceeded when none is left.
func (r *Reducer) advance(s State, done int) (State, []Effect) {
	for _, step := range dependentSteps[done+1:] {
		if eff := r.effectFor(s, step); eff != nil {
			s.Phase = step
			return s, []Effect{eff}
		}
	}
	s.Phase = PhaseSucceeded
	s.Banner = ""
	return s, nil
}

func (r *Reducer) effectFor(s State, step Phase) Effect {
	pkg := s.payload
	if pkg == nil {
		return nil
	}
	switch step {
	case PhaseCreatingBeneficiary:
		if pkg.Beneficiary != nil {
			return CreateBeneficiary{WorkID: s.WorkID, Beneficiary: *pkg.Beneficiary}
		}
	case PhaseCreatingVillages:
		if len(pkg.Villages) > 0 {
			return CreateVillages{WorkID: s.WorkID, Villages: pkg.Villages}
		}
	case PhaseCreatingComponents:
		if len(pkg.Components) > 0 {
			return CreateComponents{WorkID: s.WorkID, Components: pkg.Components}
		}
	}
	return nil
}

func (r *Reducer) stepFailed(s State, ev StepFailed) (State, []Effect) {
	switch ev.Step {
	case PhaseCreatingWork:
		return r.fail(s, ev.Step, ev.Err, false), nil
	case PhaseCompensating:
		s.Phase = PhaseFailed
		if s.Failure != nil {
			s.Failure.Persisted = true
			s.Failure.CompensationError = errText(ev.Err)
		}
		s.Banner = apperrors.Banner(apperrors.CodePartialPersistence)
		return s, nil
	}

	if r.rollback == RollbackNone {
		return r.fail(s, ev.Step, ev.Err, true), nil
	}
	s = r.fail(s, ev.Step, ev.Err, false)
	s.Phase = PhaseCompensating
	return s, []Effect{DeleteWork{WorkID: s.WorkID}}
}

func (r *Reducer) fail(s State, step Phase, err error, persisted bool) State {
	code := apperrors.CodeOf(err)
	s.Phase = PhaseFailed
	s.Failure = &Failure{
		Step:      step,
		Code:      code,
		Message:   errText(err),
		WorkID:    s.WorkID,
		Persisted: persisted,
	}
	if persisted {
		s.Banner = apperrors.Banner(apperrors.CodePartialPersistence)
	} else {
		s.Banner = apperrors.Banner(code)
	}
	return s
}

func errText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
