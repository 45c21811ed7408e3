package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	entschema "github.com/matthewbaird/canalworks/ent/schema"
	apperrors "github.com/matthewbaird/canalworks/internal/errors"
	"github.com/matthewbaird/canalworks/internal/types"
)

func levelTable(level types.Level) (string, error) {
	t, ok := levelTables[level]
	if !ok {
		return "", apperrors.New(apperrors.CodeInvalidArgument, fmt.Sprintf("unknown hierarchy level %q", level))
	}
	return t, nil
}

// Options lists the nodes of level ordered by name. A non-nil parentID
// restricts the list to that parent's children.
func (s *Store) Options(ctx context.Context, level types.Level, parentID *int64) ([]types.Option, error) {
	table, err := levelTable(level)
	if err != nil {
		return nil, err
	}
	b := builder()
	sel := b.Select("id", "name", "parent_id").From(b.Table(table)).OrderBy("name", "id")
	if parentID != nil {
		sel.Where(entsql.EQ("parent_id", *parentID))
	}
	query, args := sel.Query()

	var rows entsql.Rows
	if err := s.drv.Query(ctx, query, args, &rows); err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	out := []types.Option{}
	for rows.Next() {
		var (
			o      types.Option
			parent sql.NullInt64
		)
		if err := rows.Scan(&o.ID, &o.Name, &parent); err != nil {
			return nil, mapError(err)
		}
		if parent.Valid {
			p := parent.Int64
			o.ParentID = &p
		}
		out = append(out, o)
	}
	return out, mapError(rows.Err())
}

// AddNode inserts a hierarchy node. Root levels take no parent; every other
// level requires one.
func (s *Store) AddNode(ctx context.Context, level types.Level, name string, parentID *int64, audit types.Audit) (int64, error) {
	table, err := levelTable(level)
	if err != nil {
		return 0, err
	}
	if _, hasParent := level.Parent(); hasParent != (parentID != nil) {
		return 0, apperrors.New(apperrors.CodeInvalidArgument, fmt.Sprintf("%s nodes must %sname a parent", level, map[bool]string{true: "", false: "not "}[hasParent]))
	}
	audit.Stamp(s.now())

	var parent any
	if parentID != nil {
		parent = *parentID
	}
	query, args := builder().Insert(table).
		Columns(withAudit("name", "parent_id")...).
		Values(withAuditValues(audit, name, parent)...).
		Query()
	res, err := exec(ctx, s.drv, query, args)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// FindNode returns the id of the node of level called name under parentID.
func (s *Store) FindNode(ctx context.Context, level types.Level, name string, parentID *int64) (int64, bool, error) {
	opts, err := s.Options(ctx, level, parentID)
	if err != nil {
		return 0, false, err
	}
	for _, o := range opts {
		if o.Name == name {
			return o.ID, true, nil
		}
	}
	return 0, false, nil
}

// CountNodes returns the number of nodes of level.
func (s *Store) CountNodes(ctx context.Context, level types.Level) (int, error) {
	table, err := levelTable(level)
	if err != nil {
		return 0, err
	}
	return s.count(ctx, table, nil)
}

func (s *Store) count(ctx context.Context, table string, where *entsql.Predicate) (int, error) {
	b := builder()
	sel := b.Select(entsql.Count("*")).From(b.Table(table))
	if where != nil {
		sel.Where(where)
	}
	query, args := sel.Query()
	var rows entsql.Rows
	if err := s.drv.Query(ctx, query, args, &rows); err != nil {
		return 0, mapError(err)
	}
	defer rows.Close()
	var n int
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, mapError(err)
		}
	}
	return n, mapError(rows.Err())
}

// ---------------------------------------------------------------------------
// Audit columns
// ---------------------------------------------------------------------------

func withAudit(cols ...string) []string {
	return append(cols, entschema.AuditColumns()...)
}

func withAuditValues(a types.Audit, vals ...any) []any {
	return append(vals, a.CreatedAt, a.UpdatedAt, a.CreatedBy, a.UpdatedBy, a.Source, a.CorrelationID)
}

// auditDest returns scan targets for the audit columns and a func that
// copies them into a once scanning is done.
func auditDest(a *types.Audit) ([]any, func()) {
	var cid sql.NullString
	dest := []any{&a.CreatedAt, &a.UpdatedAt, &a.CreatedBy, &a.UpdatedBy, &a.Source, &cid}
	return dest, func() {
		if cid.Valid {
			v := cid.String
			a.CorrelationID = &v
		}
	}
}

func (s *Store) now() time.Time {
	if s.clock != nil {
		return s.clock()
	}
	return time.Now().UTC()
}
