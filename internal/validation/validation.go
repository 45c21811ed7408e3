// Package validation evaluates the declarative field rules and the
// cross-field rules for a work package form.
//
// Results are field-scoped: one map for the work section, one for the
// beneficiary section, and one map per village and component row so each
// message can be shown against the row that caused it.
package validation

import (
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	apperrors "github.com/matthewbaird/canalworks/internal/errors"
	"github.com/matthewbaird/canalworks/internal/form"
	"github.com/matthewbaird/canalworks/internal/quantity"
	"github.com/matthewbaird/canalworks/internal/rules"
	"github.com/matthewbaird/canalworks/internal/types"
)

// FieldErrors maps a field name to its message. A nil map means no errors.
type FieldErrors map[string]string

// set records msg for field unless the field already has an error; the
// first failure per field wins.
func (fe *FieldErrors) set(field, msg string) {
	if *fe == nil {
		*fe = FieldErrors{}
	}
	if _, ok := (*fe)[field]; !ok {
		(*fe)[field] = msg
	}
}

func (fe FieldErrors) has(field string) bool {
	_, ok := fe[field]
	return ok
}

// Result is the outcome of validating a whole form. Villages and Components
// are index-aligned with the form's rows.
type Result struct {
	Work        FieldErrors   `json:"work,omitempty"`
	Beneficiary FieldErrors   `json:"beneficiary,omitempty"`
	Villages    []FieldErrors `json:"villages,omitempty"`
	Components  []FieldErrors `json:"components,omitempty"`
}

// Clone deep-copies r.
func (r Result) Clone() Result {
	out := Result{
		Work:        maps.Clone(r.Work),
		Beneficiary: maps.Clone(r.Beneficiary),
	}
	if r.Villages != nil {
		out.Villages = make([]FieldErrors, len(r.Villages))
		for i, fe := range r.Villages {
			out.Villages[i] = maps.Clone(fe)
		}
	}
	if r.Components != nil {
		out.Components = make([]FieldErrors, len(r.Components))
		for i, fe := range r.Components {
			out.Components[i] = maps.Clone(fe)
		}
	}
	return out
}

// With returns a copy of fe with field set to msg.
func (fe FieldErrors) With(field, msg string) FieldErrors {
	out := maps.Clone(fe)
	if out == nil {
		out = FieldErrors{}
	}
	out[field] = msg
	return out
}

// OK reports whether every section passed.
func (r Result) OK() bool {
	if len(r.Work) > 0 || len(r.Beneficiary) > 0 {
		return false
	}
	for _, fe := range r.Villages {
		if len(fe) > 0 {
			return false
		}
	}
	for _, fe := range r.Components {
		if len(fe) > 0 {
			return false
		}
	}
	return true
}

// Count is the number of field messages in r.
func (r Result) Count() int {
	n := len(r.Work) + len(r.Beneficiary)
	for _, fe := range r.Villages {
		n += len(fe)
	}
	for _, fe := range r.Components {
		n += len(fe)
	}
	return n
}

// Messages flattens r into human-readable lines, section by section.
func (r Result) Messages() []string {
	var out []string
	add := func(prefix string, fe FieldErrors) {
		keys := make([]string, 0, len(fe))
		for k := range fe {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			out = append(out, prefix+fe[k])
		}
	}
	add("", r.Work)
	add("Beneficiary: ", r.Beneficiary)
	for i, fe := range r.Villages {
		add(fmt.Sprintf("Village %d: ", i+1), fe)
	}
	for i, fe := range r.Components {
		add(fmt.Sprintf("Component %d: ", i+1), fe)
	}
	return out
}

// Err converts a failing result into a VALIDATION_FAILED error. It returns
// nil when r is OK.
func (r Result) Err() error {
	if r.OK() {
		return nil
	}
	msgs := r.Messages()
	meta := r.Fields()
	meta["count"] = fmt.Sprint(len(msgs))
	return apperrors.WithMetadata(apperrors.CodeValidationFailed, strings.Join(msgs, "; "), meta)
}

// Fields flattens r into dotted keys: "work.cost", "beneficiary.male",
// "villages.0.female", "components.2.milestone_1".
func (r Result) Fields() map[string]string {
	out := map[string]string{}
	add := func(prefix string, fe FieldErrors) {
		for k, v := range fe {
			out[prefix+k] = v
		}
	}
	add("work.", r.Work)
	add("beneficiary.", r.Beneficiary)
	for i, fe := range r.Villages {
		add(fmt.Sprintf("villages.%d.", i), fe)
	}
	for i, fe := range r.Components {
		add(fmt.Sprintf("components.%d.", i), fe)
	}
	return out
}

// Engine checks forms against a rule table.
type Engine struct {
	rules *rules.Rules
	qty   *quantity.Engine
}

// New creates an Engine.
func New(r *rules.Rules) *Engine {
	return &Engine{rules: r, qty: quantity.New(r)}
}

// Rules returns the rule table the engine checks against.
func (e *Engine) Rules() *rules.Rules { return e.rules }

// Validate checks every section of f. The beneficiary section is optional
// and only checked when something was entered; blank repeated rows are
// ignored.
func (e *Engine) Validate(f types.Form) Result {
	var res Result
	res.Work = e.ValidateWork(f.Work)
	if !f.Beneficiary.Blank() {
		res.Beneficiary = e.ValidateBeneficiary(f.Beneficiary)
	}
	res.Villages = e.ValidateVillages(f.Villages)

	months, ok := form.Int(f.Work.Get(types.FieldWorkPeriodMonths))
	if !ok || res.Work.has(types.FieldWorkPeriodMonths) {
		months = -1
	}
	res.Components = e.ValidateComponents(int(months), f.Components)
	return res
}

// ValidatePackage checks a typed aggregate, as received by the write
// endpoints.
func (e *Engine) ValidatePackage(pkg types.WorkPackage) Result {
	return e.Validate(form.FromPackage(pkg))
}

// ValidateWork checks the work section.
func (e *Engine) ValidateWork(rec types.Record) FieldErrors {
	return e.section(e.rules.Work, rec)
}

// ValidateBeneficiary checks the beneficiary section, including the split
// invariants female+male == total and youth <= total.
func (e *Engine) ValidateBeneficiary(rec types.Record) FieldErrors {
	errs := e.section(e.rules.Beneficiary, rec)
	total, ok := e.count(errs, rec, types.FieldTotalPopulation)
	if !ok {
		return errs
	}
	female, fok := e.count(errs, rec, types.FieldFemale)
	male, mok := e.count(errs, rec, types.FieldMale)
	if fok && female > total {
		errs.set(types.FieldFemale, "Female cannot exceed total population")
	} else if fok && mok && female+male != total {
		errs.set(types.FieldMale, fmt.Sprintf("Male and female must add up to the total population of %d", total))
	}
	if youth, ok := e.count(errs, rec, types.FieldYouth); ok && youth > total {
		errs.set(types.FieldYouth, "Youth cannot exceed total population")
	}
	govt, gok := e.count(errs, rec, types.FieldGovernmentStakeholders)
	if gok && govt > total {
		errs.set(types.FieldGovernmentStakeholders, "Government stakeholders cannot exceed total population")
	}
	if eligible, ok := e.count(errs, rec, types.FieldEligible); ok && !errs.has(types.FieldGovernmentStakeholders) {
		if want := max(total-govt, 0); eligible != want {
			errs.set(types.FieldEligible, fmt.Sprintf("Eligible beneficiaries must be %d", want))
		}
	}
	return errs
}

// ValidateVillages checks each village row. Rows that are entirely blank
// produce no errors.
func (e *Engine) ValidateVillages(rows []types.Record) []FieldErrors {
	out := make([]FieldErrors, len(rows))
	for i, rec := range rows {
		if rec.Blank() {
			continue
		}
		errs := e.section(e.rules.Village, rec)
		census, ok := e.count(errs, rec, types.FieldCensusPopulation)
		if ok {
			female, fok := e.count(errs, rec, types.FieldFemale)
			male, mok := e.count(errs, rec, types.FieldMale)
			if fok && female > census {
				errs.set(types.FieldFemale, "Female cannot exceed census population")
			} else if fok && mok && female+male != census {
				errs.set(types.FieldMale, fmt.Sprintf("Male and female must add up to the census population of %d", census))
			}
		}
		out[i] = errs
	}
	return out
}

// ValidateComponents checks each component row against the work period.
// months < 0 means the period is unknown or invalid; the milestone count is
// then taken from the row as entered.
func (e *Engine) ValidateComponents(months int, rows []types.Record) []FieldErrors {
	out := make([]FieldErrors, len(rows))
	for i, rec := range rows {
		if rec.Blank() {
			continue
		}
		out[i] = e.component(months, rec)
	}
	return out
}

func (e *Engine) component(months int, rec types.Record) FieldErrors {
	errs := e.section(e.rules.Component, rec)

	count := -1
	if months >= 0 {
		count = e.qty.MilestoneCount(months)
		if n, ok := form.Int(rec.Get(types.FieldMilestoneCount)); ok && int(n) != count && !errs.has(types.FieldMilestoneCount) {
			errs.set(types.FieldMilestoneCount,
				fmt.Sprintf("Milestone count must be %d for a %d-month work period", count, months))
		}
	} else if n, ok := form.Int(rec.Get(types.FieldMilestoneCount)); ok && !errs.has(types.FieldMilestoneCount) {
		count = int(n)
	}
	if count < 0 {
		return errs
	}

	for i := count + 1; i <= types.MaxMilestones; i++ {
		field := types.FieldMilestone(i)
		if strings.TrimSpace(rec.Get(field)) != "" {
			errs.set(field, fmt.Sprintf("Milestone %d is not used for this work period", i))
		}
	}
	if count == 0 || errs.has(types.FieldTotalQty) {
		return errs
	}

	total, _ := form.Decimal(rec.Get(types.FieldTotalQty))
	milestones := make([]decimal.NullDecimal, count)
	for i := range count {
		field := types.FieldMilestone(i + 1)
		if errs.has(field) {
			return errs
		}
		if d, ok := form.Decimal(rec.Get(field)); ok {
			milestones[i] = decimal.NullDecimal{Decimal: d, Valid: true}
		}
	}
	for _, issue := range e.qty.Reconcile(total, milestones) {
		errs.set(issue.Field, issue.Message)
	}
	return errs
}

// count returns the parsed value of an integer field that passed its field
// rule.
func (e *Engine) count(errs FieldErrors, rec types.Record, field string) (int64, bool) {
	if errs.has(field) {
		return 0, false
	}
	return form.Int(rec.Get(field))
}

func (e *Engine) section(sec rules.Section, rec types.Record) FieldErrors {
	var errs FieldErrors
	for _, field := range sec.Fields() {
		if msg := CheckField(sec[field], rec.Get(field)); msg != "" {
			errs.set(field, msg)
		}
	}
	for field := range rec {
		if _, known := sec[field]; !known && rec[field] != "" {
			errs.set(field, fmt.Sprintf("Unknown field %q", field))
		}
	}
	return errs
}

// ---------------------------------------------------------------------------
// Single field rules
// ---------------------------------------------------------------------------

var (
	integerRe = regexp.MustCompile(`^-?[0-9]+$`)
	decimalRe = regexp.MustCompile(`^-?[0-9]+(\.[0-9]+)?$`)
)

// CheckField applies one field rule to a raw value and returns the message
// for the first failed check, or "" when the value passes.
func CheckField(rule *rules.FieldRule, raw string) string {
	v := strings.TrimSpace(raw)
	if v == "" {
		if rule.Required {
			if rule.Kind == rules.KindID || rule.Kind == rules.KindEnum {
				return fmt.Sprintf("Select a %s", strings.ToLower(rule.Label))
			}
			return fmt.Sprintf("%s is required", rule.Label)
		}
		return ""
	}

	switch rule.Kind {
	case rules.KindText:
		if rule.MaxLen > 0 && utf8.RuneCountInString(v) > rule.MaxLen {
			return fmt.Sprintf("%s cannot be longer than %d characters", rule.Label, rule.MaxLen)
		}
		if !rule.Match(v) {
			if rule.Allowed != "" {
				return fmt.Sprintf("%s may only contain %s", rule.Label, rule.Allowed)
			}
			return fmt.Sprintf("%s contains invalid characters", rule.Label)
		}

	case rules.KindInteger:
		if !integerRe.MatchString(v) {
			return fmt.Sprintf("%s must be a whole number", rule.Label)
		}
		digits := strings.TrimLeft(strings.TrimPrefix(v, "-"), "0")
		if rule.MaxDigits > 0 && len(digits) > rule.MaxDigits {
			return fmt.Sprintf("%s cannot exceed %d digits", rule.Label, rule.MaxDigits)
		}
		n, ok := form.Int(v)
		if !ok {
			return fmt.Sprintf("%s must be a whole number", rule.Label)
		}
		if msg := sign(rule, n < 0, n == 0); msg != "" {
			return msg
		}
		if rule.Max != nil && n > *rule.Max {
			return fmt.Sprintf("%s cannot exceed %d", rule.Label, *rule.Max)
		}

	case rules.KindDecimal:
		if !decimalRe.MatchString(v) {
			return fmt.Sprintf("%s must be a number", rule.Label)
		}
		intPart, frac, _ := strings.Cut(strings.TrimPrefix(v, "-"), ".")
		intPart = strings.TrimLeft(intPart, "0")
		if len(frac) > rule.MaxDecimals {
			if rule.MaxDecimals == 0 {
				return fmt.Sprintf("%s must be a whole number", rule.Label)
			}
			return fmt.Sprintf("%s allows at most %d decimal places", rule.Label, rule.MaxDecimals)
		}
		if rule.MaxDigits > 0 && len(intPart)+len(frac) > rule.MaxDigits {
			return fmt.Sprintf("%s cannot exceed %d digits", rule.Label, rule.MaxDigits)
		}
		d, ok := form.Decimal(v)
		if !ok {
			return fmt.Sprintf("%s must be a number", rule.Label)
		}
		if msg := sign(rule, d.IsNegative(), d.IsZero()); msg != "" {
			return msg
		}
		if rule.Max != nil && d.GreaterThan(decimal.NewFromInt(*rule.Max)) {
			return fmt.Sprintf("%s cannot exceed %d", rule.Label, *rule.Max)
		}

	case rules.KindEnum:
		if !slices.Contains(rule.Values, v) {
			return fmt.Sprintf("%s must be one of %s", rule.Label, strings.Join(rule.Values, ", "))
		}

	case rules.KindID:
		n, ok := form.Int(v)
		if !ok || n <= 0 {
			return fmt.Sprintf("Select a valid %s", strings.ToLower(rule.Label))
		}
	}
	return ""
}

func sign(rule *rules.FieldRule, negative, zero bool) string {
	switch {
	case rule.Positive && (negative || zero):
		return fmt.Sprintf("%s must be greater than zero", rule.Label)
	case negative:
		return fmt.Sprintf("%s cannot be negative", rule.Label)
	}
	return ""
}
