package store

import (
	"context"
	"fmt"
	"strings"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/shopspring/decimal"

	"github.com/matthewbaird/canalworks/internal/demographics"
	"github.com/matthewbaird/canalworks/internal/dupguard"
	apperrors "github.com/matthewbaird/canalworks/internal/errors"
	"github.com/matthewbaird/canalworks/internal/types"
)

var (
	workColumns = []string{
		"name", "package_number", "cost", "target_km", "work_period_months",
		"area_under_irrigation", "award_status",
		"zone_id", "circle_id", "division_id",
		"component_id", "subcomponent_id", "work_item_id",
	}
	beneficiaryColumns = []string{
		"work_id", "total_population", "female", "male", "youth",
		"government_stakeholders", "eligible",
	}
	villageColumns = []string{
		"work_id", "name", "district", "block", "panchayat",
		"census_population", "male", "female",
	}
	costColumns = func() []string {
		cols := []string{"work_id", "name", "unit", "total_qty", "milestone_count"}
		for i := 1; i <= types.MaxMilestones; i++ {
			cols = append(cols, types.FieldMilestone(i))
		}
		return cols
	}()
)

// selectColumns prefixes id and appends the audit columns.
func selectColumns(cols []string) []string {
	return withAudit(append([]string{"id"}, cols...)...)
}

// ListOptions filters and pages ListWorkPackages.
type ListOptions struct {
	Query  string
	Limit  int
	Offset int
}

// ---------------------------------------------------------------------------
// Writes
// ---------------------------------------------------------------------------

// CreateWork inserts the root work record and returns its id. Names are
// unique ignoring case and surrounding whitespace.
func (s *Store) CreateWork(ctx context.Context, w types.Work) (int64, error) {
	w.Audit.Stamp(s.now())
	return insertWork(ctx, s.drv, w)
}

// CreateBeneficiary records the beneficiary split of workID. A work has at
// most one beneficiary record.
func (s *Store) CreateBeneficiary(ctx context.Context, workID int64, b types.Beneficiary) error {
	b.Audit.Stamp(s.now())
	return s.withTx(ctx, func(tx dialect.Tx) error {
		if err := requireWork(ctx, tx, workID); err != nil {
			return err
		}
		return insertBeneficiary(ctx, tx, workID, b)
	})
}

// CreateVillages inserts every village of workID or none of them.
func (s *Store) CreateVillages(ctx context.Context, workID int64, villages []types.Village) error {
	now := s.now()
	for i := range villages {
		villages[i].Audit.Stamp(now)
	}
	return s.withTx(ctx, func(tx dialect.Tx) error {
		if err := requireWork(ctx, tx, workID); err != nil {
			return err
		}
		return insertVillages(ctx, tx, workID, villages)
	})
}

// CreateComponents inserts every cost component of workID or none of them.
func (s *Store) CreateComponents(ctx context.Context, workID int64, components []types.CostComponent) error {
	now := s.now()
	for i := range components {
		components[i].Audit.Stamp(now)
	}
	return s.withTx(ctx, func(tx dialect.Tx) error {
		if err := requireWork(ctx, tx, workID); err != nil {
			return err
		}
		return insertComponents(ctx, tx, workID, components)
	})
}

// CreateAggregate writes the whole package in one transaction.
func (s *Store) CreateAggregate(ctx context.Context, pkg types.WorkPackage) (int64, error) {
	now := s.now()
	pkg.Work.Audit.Stamp(now)
	if pkg.Beneficiary != nil {
		pkg.Beneficiary.Audit.Stamp(now)
	}
	for i := range pkg.Villages {
		pkg.Villages[i].Audit.Stamp(now)
	}
	for i := range pkg.Components {
		pkg.Components[i].Audit.Stamp(now)
	}

	var id int64
	err := s.withTx(ctx, func(tx dialect.Tx) error {
		var err error
		if id, err = insertWork(ctx, tx, pkg.Work); err != nil {
			return err
		}
		if pkg.Beneficiary != nil {
			if err := insertBeneficiary(ctx, tx, id, *pkg.Beneficiary); err != nil {
				return err
			}
		}
		if err := insertVillages(ctx, tx, id, pkg.Villages); err != nil {
			return err
		}
		return insertComponents(ctx, tx, id, pkg.Components)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// DeleteWork removes a work and, by cascade, everything it owns.
func (s *Store) DeleteWork(ctx context.Context, workID int64) error {
	query, args := builder().Delete(tableWorks).Where(entsql.EQ("id", workID)).Query()
	res, err := exec(ctx, s.drv, query, args)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapError(err)
	}
	if n == 0 {
		return workNotFound(workID)
	}
	return nil
}

func workNotFound(id int64) error {
	return apperrors.WithMetadata(apperrors.CodeNotFound,
		fmt.Sprintf("work package %d not found", id),
		map[string]string{"work_id": fmt.Sprint(id)})
}

func requireWork(ctx context.Context, q querier, id int64) error {
	b := builder()
	query, args := b.Select("id").From(b.Table(tableWorks)).Where(entsql.EQ("id", id)).Query()
	var rows entsql.Rows
	if err := q.Query(ctx, query, args, &rows); err != nil {
		return mapError(err)
	}
	defer rows.Close()
	if !rows.Next() {
		return workNotFound(id)
	}
	return nil
}

func insertWork(ctx context.Context, q querier, w types.Work) (int64, error) {
	query, args := builder().Insert(tableWorks).
		Columns(withAudit(append([]string{"name_key"}, workColumns...)...)...).
		Values(withAuditValues(w.Audit,
			dupguard.Normalize(w.Name),
			strings.TrimSpace(w.Name), w.PackageNumber, w.Cost, w.TargetKm, w.WorkPeriodMonths,
			w.AreaUnderIrrigation, w.AwardStatus,
			w.ZoneID, w.CircleID, w.DivisionID,
			w.ComponentID, w.SubcomponentID, w.WorkItemID,
		)...).
		Query()
	res, err := exec(ctx, q, query, args)
	if err != nil {
		if apperrors.CodeOf(err) == apperrors.CodeConstraintDuplicate {
			return 0, &apperrors.Error{
				Code:     apperrors.CodeConstraintDuplicate,
				Message:  fmt.Sprintf("a work named %q already exists", strings.TrimSpace(w.Name)),
				Metadata: map[string]string{"field": types.FieldWorkName},
				Cause:    err,
			}
		}
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, mapError(err)
	}
	return id, nil
}

func insertBeneficiary(ctx context.Context, q querier, workID int64, b types.Beneficiary) error {
	if b.Eligible == 0 {
		b.Eligible = demographics.Eligible(b.TotalPopulation, b.GovernmentStakeholders)
	}
	query, args := builder().Insert(tableBeneficiaries).
		Columns(withAudit(beneficiaryColumns...)...).
		Values(withAuditValues(b.Audit,
			workID, b.TotalPopulation, b.Female, b.Male, b.Youth,
			b.GovernmentStakeholders, b.Eligible,
		)...).
		Query()
	if _, err := exec(ctx, q, query, args); err != nil {
		if apperrors.CodeOf(err) == apperrors.CodeConstraintDuplicate {
			return apperrors.Wrap(apperrors.CodeConstraintDuplicate,
				fmt.Sprintf("work package %d already has a beneficiary record", workID), err)
		}
		return err
	}
	return nil
}

func insertVillages(ctx context.Context, q querier, workID int64, villages []types.Village) error {
	if len(villages) == 0 {
		return nil
	}
	ins := builder().Insert(tableVillages).Columns(withAudit(villageColumns...)...)
	for _, v := range villages {
		ins.Values(withAuditValues(v.Audit,
			workID, v.Name, v.District, v.Block, v.Panchayat,
			v.CensusPopulation, v.Male, v.Female,
		)...)
	}
	query, args := ins.Query()
	_, err := exec(ctx, q, query, args)
	return err
}

func insertComponents(ctx context.Context, q querier, workID int64, components []types.CostComponent) error {
	if len(components) == 0 {
		return nil
	}
	ins := builder().Insert(tableCostItems).Columns(withAudit(costColumns...)...)
	for _, c := range components {
		vals := []any{workID, c.Name, c.Unit, c.TotalQty, c.MilestoneCount}
		for i := 0; i < types.MaxMilestones; i++ {
			if i < len(c.Milestones) {
				vals = append(vals, c.Milestones[i])
			} else {
				vals = append(vals, decimal.NullDecimal{})
			}
		}
		ins.Values(withAuditValues(c.Audit, vals...)...)
	}
	query, args := ins.Query()
	_, err := exec(ctx, q, query, args)
	return err
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

// GetWork loads the work record alone.
func (s *Store) GetWork(ctx context.Context, id int64) (types.Work, error) {
	works, err := s.selectWorks(ctx, func(sel *entsql.Selector) { sel.Where(entsql.EQ("id", id)) })
	if err != nil {
		return types.Work{}, err
	}
	if len(works) == 0 {
		return types.Work{}, workNotFound(id)
	}
	return works[0], nil
}

// GetWorkPackage loads a work and everything it owns.
func (s *Store) GetWorkPackage(ctx context.Context, id int64) (types.WorkPackage, error) {
	works, err := s.selectWorks(ctx, func(sel *entsql.Selector) { sel.Where(entsql.EQ("id", id)) })
	if err != nil {
		return types.WorkPackage{}, err
	}
	if len(works) == 0 {
		return types.WorkPackage{}, workNotFound(id)
	}
	pkg := types.WorkPackage{Work: works[0], Villages: []types.Village{}, Components: []types.CostComponent{}}

	if pkg.Beneficiary, err = s.beneficiary(ctx, id); err != nil {
		return types.WorkPackage{}, err
	}
	if pkg.Villages, err = s.villages(ctx, id); err != nil {
		return types.WorkPackage{}, err
	}
	if pkg.Components, err = s.components(ctx, id); err != nil {
		return types.WorkPackage{}, err
	}
	return pkg, nil
}

// ListWorkPackages returns one page of works ordered by id, and the total
// number matching opts.Query.
func (s *Store) ListWorkPackages(ctx context.Context, opts ListOptions) ([]types.Work, int, error) {
	var where *entsql.Predicate
	if q := dupguard.Normalize(opts.Query); q != "" {
		where = entsql.Contains("name_key", q)
	}
	total, err := s.count(ctx, tableWorks, where)
	if err != nil {
		return nil, 0, err
	}
	works, err := s.selectWorks(ctx, func(sel *entsql.Selector) {
		if where != nil {
			sel.Where(where)
		}
		sel.OrderBy("id")
		if opts.Limit > 0 {
			sel.Limit(opts.Limit).Offset(opts.Offset)
		}
	})
	if err != nil {
		return nil, 0, err
	}
	return works, total, nil
}

// WorkNames returns the name of every stored work.
func (s *Store) WorkNames(ctx context.Context) ([]string, error) {
	b := builder()
	query, args := b.Select("name").From(b.Table(tableWorks)).Query()
	var rows entsql.Rows
	if err := s.drv.Query(ctx, query, args, &rows); err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, mapError(err)
		}
		names = append(names, n)
	}
	return names, mapError(rows.Err())
}

// WorkPeriod returns the work period of workID in months.
func (s *Store) WorkPeriod(ctx context.Context, workID int64) (int, error) {
	b := builder()
	query, args := b.Select("work_period_months").From(b.Table(tableWorks)).Where(entsql.EQ("id", workID)).Query()
	var rows entsql.Rows
	if err := s.drv.Query(ctx, query, args, &rows); err != nil {
		return 0, mapError(err)
	}
	defer rows.Close()
	if !rows.Next() {
		return 0, workNotFound(workID)
	}
	var months int
	if err := rows.Scan(&months); err != nil {
		return 0, mapError(err)
	}
	return months, nil
}

func (s *Store) selectWorks(ctx context.Context, shape func(*entsql.Selector)) ([]types.Work, error) {
	b := builder()
	sel := b.Select(selectColumns(workColumns)...).From(b.Table(tableWorks))
	shape(sel)
	query, args := sel.Query()

	var rows entsql.Rows
	if err := s.drv.Query(ctx, query, args, &rows); err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	out := []types.Work{}
	for rows.Next() {
		var w types.Work
		audit, finish := auditDest(&w.Audit)
		dest := append([]any{
			&w.ID, &w.Name, &w.PackageNumber, &w.Cost, &w.TargetKm, &w.WorkPeriodMonths,
			&w.AreaUnderIrrigation, &w.AwardStatus,
			&w.ZoneID, &w.CircleID, &w.DivisionID,
			&w.ComponentID, &w.SubcomponentID, &w.WorkItemID,
		}, audit...)
		if err := rows.Scan(dest...); err != nil {
			return nil, mapError(err)
		}
		finish()
		out = append(out, w)
	}
	return out, mapError(rows.Err())
}

func (s *Store) beneficiary(ctx context.Context, workID int64) (*types.Beneficiary, error) {
	b := builder()
	query, args := b.Select(selectColumns(beneficiaryColumns)...).
		From(b.Table(tableBeneficiaries)).
		Where(entsql.EQ("work_id", workID)).
		Query()
	var rows entsql.Rows
	if err := s.drv.Query(ctx, query, args, &rows); err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, mapError(rows.Err())
	}
	var ben types.Beneficiary
	audit, finish := auditDest(&ben.Audit)
	dest := append([]any{
		&ben.ID, &ben.WorkID, &ben.TotalPopulation, &ben.Female, &ben.Male, &ben.Youth,
		&ben.GovernmentStakeholders, &ben.Eligible,
	}, audit...)
	if err := rows.Scan(dest...); err != nil {
		return nil, mapError(err)
	}
	finish()
	return &ben, nil
}

func (s *Store) villages(ctx context.Context, workID int64) ([]types.Village, error) {
	b := builder()
	query, args := b.Select(selectColumns(villageColumns)...).
		From(b.Table(tableVillages)).
		Where(entsql.EQ("work_id", workID)).
		OrderBy("id").
		Query()
	var rows entsql.Rows
	if err := s.drv.Query(ctx, query, args, &rows); err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	out := []types.Village{}
	for rows.Next() {
		var v types.Village
		audit, finish := auditDest(&v.Audit)
		dest := append([]any{
			&v.ID, &v.WorkID, &v.Name, &v.District, &v.Block, &v.Panchayat,
			&v.CensusPopulation, &v.Male, &v.Female,
		}, audit...)
		if err := rows.Scan(dest...); err != nil {
			return nil, mapError(err)
		}
		finish()
		out = append(out, v)
	}
	return out, mapError(rows.Err())
}

func (s *Store) components(ctx context.Context, workID int64) ([]types.CostComponent, error) {
	b := builder()
	query, args := b.Select(selectColumns(costColumns)...).
		From(b.Table(tableCostItems)).
		Where(entsql.EQ("work_id", workID)).
		OrderBy("id").
		Query()
	var rows entsql.Rows
	if err := s.drv.Query(ctx, query, args, &rows); err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	out := []types.CostComponent{}
	for rows.Next() {
		var (
			c          types.CostComponent
			milestones = make([]decimal.NullDecimal, types.MaxMilestones)
		)
		dest := []any{&c.ID, &c.WorkID, &c.Name, &c.Unit, &c.TotalQty, &c.MilestoneCount}
		for i := range milestones {
			dest = append(dest, &milestones[i])
		}
		audit, finish := auditDest(&c.Audit)
		if err := rows.Scan(append(dest, audit...)...); err != nil {
			return nil, mapError(err)
		}
		finish()
		if c.MilestoneCount >= 0 && c.MilestoneCount <= types.MaxMilestones {
			c.Milestones = milestones[:c.MilestoneCount]
		}
		out = append(out, c)
	}
	return out, mapError(rows.Err())
}
