package store

import (
	"context"
	"fmt"

	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"

	entschema "github.com/matthewbaird/canalworks/ent/schema"
	"github.com/matthewbaird/canalworks/internal/types"
)

// Table names.
const (
	tableZones         = "zones"
	tableCircles       = "circles"
	tableDivisions     = "divisions"
	tableComponents    = "components"
	tableSubcomponents = "subcomponents"
	tableWorkItems     = "work_items"
	tableWorks         = "work_packages"
	tableBeneficiaries = "beneficiaries"
	tableVillages      = "villages"
	tableCostItems     = "cost_components"
)

// levelTables maps a hierarchy level to the table holding its nodes.
var levelTables = map[types.Level]string{
	types.LevelZone:         tableZones,
	types.LevelCircle:       tableCircles,
	types.LevelDivision:     tableDivisions,
	types.LevelComponent:    tableComponents,
	types.LevelSubcomponent: tableSubcomponents,
	types.LevelWorkItem:     tableWorkItems,
}

// auditColumns builds the audit columns from the AuditMixin descriptors.
func auditColumns() []*schema.Column {
	fields := entschema.AuditMixin{}.Fields()
	cols := make([]*schema.Column, 0, len(fields))
	for _, f := range fields {
		d := f.Descriptor()
		c := &schema.Column{Name: d.Name, Type: d.Info.Type, Nullable: d.Optional}
		for _, e := range d.Enums {
			c.Enums = append(c.Enums, e.V)
		}
		cols = append(cols, c)
	}
	return cols
}

func newTable(name string, cols ...*schema.Column) *schema.Table {
	all := []*schema.Column{{Name: "id", Type: field.TypeInt64, Increment: true}}
	all = append(all, cols...)
	all = append(all, auditColumns()...)
	return &schema.Table{Name: name, Columns: all, PrimaryKey: all[:1]}
}

func columnOf(t *schema.Table, name string) *schema.Column {
	for _, c := range t.Columns {
		if c.Name == name {
			return c
		}
	}
	panic(fmt.Sprintf("store: table %s has no column %s", t.Name, name))
}

func addForeignKey(child *schema.Table, col string, parent *schema.Table, onDelete schema.ReferenceOption) {
	child.ForeignKeys = append(child.ForeignKeys, &schema.ForeignKey{
		Symbol:     child.Name + "_" + col,
		Columns:    []*schema.Column{columnOf(child, col)},
		RefTable:   parent,
		RefColumns: parent.PrimaryKey,
		OnDelete:   onDelete,
	})
}

func str(name string, size int64) *schema.Column {
	return &schema.Column{Name: name, Type: field.TypeString, Size: size}
}

func i64(name string) *schema.Column {
	return &schema.Column{Name: name, Type: field.TypeInt64}
}

// Tables returns the full schema. Dependent rows cascade with their work
// package; hierarchy nodes cannot be removed while referenced.
func Tables() []*schema.Table {
	node := func(name string) *schema.Table {
		return newTable(name, str("name", 150), &schema.Column{Name: "parent_id", Type: field.TypeInt64, Nullable: true})
	}
	zones, circles, divisions := node(tableZones), node(tableCircles), node(tableDivisions)
	components, subcomponents, workItems := node(tableComponents), node(tableSubcomponents), node(tableWorkItems)
	addForeignKey(circles, "parent_id", zones, schema.Restrict)
	addForeignKey(divisions, "parent_id", circles, schema.Restrict)
	addForeignKey(subcomponents, "parent_id", components, schema.Restrict)
	addForeignKey(workItems, "parent_id", subcomponents, schema.Restrict)

	works := newTable(tableWorks,
		str("name", 150),
		&schema.Column{Name: "name_key", Type: field.TypeString, Size: 150, Unique: true},
		str("package_number", 50),
		i64("cost"),
		str("target_km", 16),
		&schema.Column{Name: "work_period_months", Type: field.TypeInt},
		str("area_under_irrigation", 16),
		&schema.Column{Name: "award_status", Type: field.TypeEnum, Enums: []string{types.AwardStatusAwarded, types.AwardStatusNotAwarded}},
		i64("zone_id"), i64("circle_id"), i64("division_id"),
		i64("component_id"), i64("subcomponent_id"), i64("work_item_id"),
	)
	addForeignKey(works, "zone_id", zones, schema.Restrict)
	addForeignKey(works, "circle_id", circles, schema.Restrict)
	addForeignKey(works, "division_id", divisions, schema.Restrict)
	addForeignKey(works, "component_id", components, schema.Restrict)
	addForeignKey(works, "subcomponent_id", subcomponents, schema.Restrict)
	addForeignKey(works, "work_item_id", workItems, schema.Restrict)

	beneficiaries := newTable(tableBeneficiaries,
		&schema.Column{Name: "work_id", Type: field.TypeInt64, Unique: true},
		i64("total_population"), i64("female"), i64("male"), i64("youth"),
		i64("government_stakeholders"), i64("eligible"),
	)
	addForeignKey(beneficiaries, "work_id", works, schema.Cascade)

	villages := newTable(tableVillages,
		i64("work_id"),
		str("name", 100), str("district", 100), str("block", 100), str("panchayat", 100),
		i64("census_population"), i64("male"), i64("female"),
	)
	addForeignKey(villages, "work_id", works, schema.Cascade)

	costCols := []*schema.Column{
		i64("work_id"),
		str("name", 150), str("unit", 20),
		str("total_qty", 16),
		{Name: "milestone_count", Type: field.TypeInt},
	}
	for i := 1; i <= types.MaxMilestones; i++ {
		costCols = append(costCols, &schema.Column{Name: types.FieldMilestone(i), Type: field.TypeString, Size: 16, Nullable: true})
	}
	costs := newTable(tableCostItems, costCols...)
	addForeignKey(costs, "work_id", works, schema.Cascade)

	return []*schema.Table{
		zones, circles, divisions,
		components, subcomponents, workItems,
		works, beneficiaries, villages, costs,
	}
}

// Migrate creates or updates every table.
func (s *Store) Migrate(ctx context.Context) error {
	m, err := schema.NewMigrate(s.drv)
	if err != nil {
		return fmt.Errorf("preparing migration: %w", err)
	}
	if err := m.Create(ctx, Tables()...); err != nil {
		return fmt.Errorf("running schema migration: %w", err)
	}
	return nil
}
