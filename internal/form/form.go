// Package form converts between raw form records, as typed by a user, and the
// typed work package entities the store and gateway exchange.
//
// Parsing assumes the record already passed validation; it still returns an
// error instead of guessing when a value does not parse.
package form

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/matthewbaird/canalworks/internal/types"
)

// Int parses a trimmed whole number. Blank values report ok=false.
func Int(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Decimal parses a trimmed decimal. Blank values report ok=false.
func Decimal(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

type parser struct {
	rec types.Record
	err error
}

func (p *parser) int(field string) int64 {
	v := p.rec.Get(field)
	n, ok := Int(v)
	if !ok && p.err == nil {
		p.err = fmt.Errorf("field %s: %q is not a whole number", field, v)
	}
	return n
}

// optInt parses an optional integer; blank is zero.
func (p *parser) optInt(field string) int64 {
	if strings.TrimSpace(p.rec.Get(field)) == "" {
		return 0
	}
	return p.int(field)
}

func (p *parser) dec(field string) decimal.Decimal {
	v := p.rec.Get(field)
	d, ok := Decimal(v)
	if !ok && p.err == nil {
		p.err = fmt.Errorf("field %s: %q is not a number", field, v)
	}
	return d
}

func (p *parser) text(field string) string {
	return strings.TrimSpace(p.rec.Get(field))
}

// Work parses the work section.
func Work(rec types.Record) (types.Work, error) {
	p := parser{rec: rec}
	w := types.Work{
		Name:                p.text(types.FieldWorkName),
		PackageNumber:       p.text(types.FieldPackageNumber),
		Cost:                p.int(types.FieldCost),
		TargetKm:            p.dec(types.FieldTargetKm),
		WorkPeriodMonths:    int(p.int(types.FieldWorkPeriodMonths)),
		AreaUnderIrrigation: p.dec(types.FieldAreaUnderIrrigation),
		AwardStatus:         p.text(types.FieldAwardStatus),
		ZoneID:              p.int(types.FieldZoneID),
		CircleID:            p.int(types.FieldCircleID),
		DivisionID:          p.int(types.FieldDivisionID),
		ComponentID:         p.int(types.FieldComponentID),
		SubcomponentID:      p.int(types.FieldSubcomponentID),
		WorkItemID:          p.int(types.FieldWorkItemID),
	}
	return w, p.err
}

// Beneficiary parses the beneficiary section.
func Beneficiary(rec types.Record) (types.Beneficiary, error) {
	p := parser{rec: rec}
	b := types.Beneficiary{
		TotalPopulation:        p.int(types.FieldTotalPopulation),
		Female:                 p.int(types.FieldFemale),
		Male:                   p.int(types.FieldMale),
		Youth:                  p.int(types.FieldYouth),
		GovernmentStakeholders: p.optInt(types.FieldGovernmentStakeholders),
		Eligible:               p.optInt(types.FieldEligible),
	}
	return b, p.err
}

// Village parses one village row.
func Village(rec types.Record) (types.Village, error) {
	p := parser{rec: rec}
	v := types.Village{
		Name:             p.text(types.FieldVillageName),
		District:         p.text(types.FieldDistrict),
		Block:            p.text(types.FieldBlock),
		Panchayat:        p.text(types.FieldPanchayat),
		CensusPopulation: p.int(types.FieldCensusPopulation),
		Male:             p.int(types.FieldMale),
		Female:           p.int(types.FieldFemale),
	}
	return v, p.err
}

// Component parses one cost component row. Milestones beyond the row's
// count are dropped.
func Component(rec types.Record) (types.CostComponent, error) {
	p := parser{rec: rec}
	c := types.CostComponent{
		Name:           p.text(types.FieldComponentName),
		Unit:           p.text(types.FieldUnit),
		TotalQty:       p.dec(types.FieldTotalQty),
		MilestoneCount: int(p.optInt(types.FieldMilestoneCount)),
	}
	if c.MilestoneCount < 0 || c.MilestoneCount > types.MaxMilestones {
		return c, fmt.Errorf("field %s: %d is out of range", types.FieldMilestoneCount, c.MilestoneCount)
	}
	c.Milestones = make([]decimal.NullDecimal, c.MilestoneCount)
	for i := range c.MilestoneCount {
		field := types.FieldMilestone(i + 1)
		if strings.TrimSpace(rec.Get(field)) == "" {
			continue
		}
		c.Milestones[i] = decimal.NullDecimal{Decimal: p.dec(field), Valid: true}
	}
	return c, p.err
}

// Package parses the whole form. A blank beneficiary section yields a nil
// Beneficiary and blank repeated rows are skipped.
func Package(f types.Form) (types.WorkPackage, error) {
	var pkg types.WorkPackage
	w, err := Work(f.Work)
	if err != nil {
		return pkg, fmt.Errorf("work: %w", err)
	}
	pkg.Work = w

	if !f.Beneficiary.Blank() {
		b, err := Beneficiary(f.Beneficiary)
		if err != nil {
			return pkg, fmt.Errorf("beneficiary: %w", err)
		}
		pkg.Beneficiary = &b
	}
	for i, rec := range f.Villages {
		if rec.Blank() {
			continue
		}
		v, err := Village(rec)
		if err != nil {
			return pkg, fmt.Errorf("village %d: %w", i+1, err)
		}
		pkg.Villages = append(pkg.Villages, v)
	}
	for i, rec := range f.Components {
		if rec.Blank() {
			continue
		}
		c, err := Component(rec)
		if err != nil {
			return pkg, fmt.Errorf("component %d: %w", i+1, err)
		}
		pkg.Components = append(pkg.Components, c)
	}
	return pkg, nil
}

// ---------------------------------------------------------------------------
// Typed entities back to records
// ---------------------------------------------------------------------------

func itoa(n int64) string { return strconv.FormatInt(n, 10) }

func id(n int64) string {
	if n == 0 {
		return ""
	}
	return itoa(n)
}

// WorkRecord renders w as a form record.
func WorkRecord(w types.Work) types.Record {
	return types.Record{
		types.FieldWorkName:            w.Name,
		types.FieldPackageNumber:       w.PackageNumber,
		types.FieldCost:                itoa(w.Cost),
		types.FieldTargetKm:            w.TargetKm.String(),
		types.FieldWorkPeriodMonths:    strconv.Itoa(w.WorkPeriodMonths),
		types.FieldAreaUnderIrrigation: w.AreaUnderIrrigation.String(),
		types.FieldAwardStatus:         w.AwardStatus,
		types.FieldZoneID:              id(w.ZoneID),
		types.FieldCircleID:            id(w.CircleID),
		types.FieldDivisionID:          id(w.DivisionID),
		types.FieldComponentID:         id(w.ComponentID),
		types.FieldSubcomponentID:      id(w.SubcomponentID),
		types.FieldWorkItemID:          id(w.WorkItemID),
	}
}

// BeneficiaryRecord renders b as a form record.
func BeneficiaryRecord(b types.Beneficiary) types.Record {
	return types.Record{
		types.FieldTotalPopulation:        itoa(b.TotalPopulation),
		types.FieldFemale:                 itoa(b.Female),
		types.FieldMale:                   itoa(b.Male),
		types.FieldYouth:                  itoa(b.Youth),
		types.FieldGovernmentStakeholders: itoa(b.GovernmentStakeholders),
		types.FieldEligible:               id(b.Eligible),
	}
}

// VillageRecord renders v as a form record.
func VillageRecord(v types.Village) types.Record {
	return types.Record{
		types.FieldVillageName:      v.Name,
		types.FieldDistrict:         v.District,
		types.FieldBlock:            v.Block,
		types.FieldPanchayat:        v.Panchayat,
		types.FieldCensusPopulation: itoa(v.CensusPopulation),
		types.FieldMale:             itoa(v.Male),
		types.FieldFemale:           itoa(v.Female),
	}
}

// ComponentRecord renders c as a form record.
func ComponentRecord(c types.CostComponent) types.Record {
	rec := types.Record{
		types.FieldComponentName:  c.Name,
		types.FieldUnit:           c.Unit,
		types.FieldTotalQty:       c.TotalQty.String(),
		types.FieldMilestoneCount: strconv.Itoa(c.MilestoneCount),
	}
	for i, m := range c.Milestones {
		if i >= types.MaxMilestones {
			break
		}
		if m.Valid {
			rec[types.FieldMilestone(i+1)] = m.Decimal.String()
		}
	}
	return rec
}

// FromPackage renders a typed aggregate as a form, so payloads arriving at
// the write endpoints can be checked by the same rules as the editor.
func FromPackage(pkg types.WorkPackage) types.Form {
	f := types.NewForm()
	f.Work = WorkRecord(pkg.Work)
	if pkg.Beneficiary != nil {
		f.Beneficiary = BeneficiaryRecord(*pkg.Beneficiary)
	}
	for _, v := range pkg.Villages {
		f.Villages = append(f.Villages, VillageRecord(v))
	}
	for _, c := range pkg.Components {
		f.Components = append(f.Components, ComponentRecord(c))
	}
	return f
}
