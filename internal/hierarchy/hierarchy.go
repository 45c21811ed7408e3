// Package hierarchy resolves the dependent selections of the location chain
// (zone, circle, division) and the catalog chain (component, sub-component,
// work item).
//
// Selecting a value at level k clears every deeper level of the same chain,
// transitively, so a form never holds a child whose parent changed.
package hierarchy

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	apperrors "github.com/matthewbaird/canalworks/internal/errors"
	"github.com/matthewbaird/canalworks/internal/types"
)

// Chain is an ordered list of levels and the form fields holding their
// selections.
type Chain struct {
	Name   string
	Levels []types.Level
	Fields []string
}

var (
	// Location is zone -> circle -> division.
	Location = Chain{
		Name:   "location",
		Levels: []types.Level{types.LevelZone, types.LevelCircle, types.LevelDivision},
		Fields: []string{types.FieldZoneID, types.FieldCircleID, types.FieldDivisionID},
	}
	// Catalog is component -> sub-component -> work item.
	Catalog = Chain{
		Name:   "catalog",
		Levels: []types.Level{types.LevelComponent, types.LevelSubcomponent, types.LevelWorkItem},
		Fields: []string{types.FieldComponentID, types.FieldSubcomponentID, types.FieldWorkItemID},
	}

	// Chains lists every chain a work form carries.
	Chains = []Chain{Location, Catalog}
)

// Lookup finds the chain and index of a hierarchy field.
func Lookup(field string) (Chain, int, bool) {
	for _, c := range Chains {
		for i, f := range c.Fields {
			if f == field {
				return c, i, true
			}
		}
	}
	return Chain{}, 0, false
}

// FieldOf returns the form field that holds the selection of level.
func FieldOf(level types.Level) (string, bool) {
	for _, c := range Chains {
		for i, l := range c.Levels {
			if l == level {
				return c.Fields[i], true
			}
		}
	}
	return "", false
}

// IsField reports whether field is a hierarchy selection.
func IsField(field string) bool {
	_, _, ok := Lookup(field)
	return ok
}

// Clear blanks every level deeper than k and returns the fields that held a
// value. k = -1 clears the whole chain.
func (c Chain) Clear(rec types.Record, k int) []string {
	var cleared []string
	for i := k + 1; i < len(c.Fields); i++ {
		f := c.Fields[i]
		if rec[f] != "" {
			cleared = append(cleared, f)
		}
		rec[f] = ""
	}
	return cleared
}

// Change is the outcome of one selection.
type Change struct {
	Field   string
	Value   string
	Cleared []string

	// Child is the level whose options depend on the new value. It is empty
	// for the deepest level or when the value was cleared.
	Child    types.Level
	ParentID int64
}

// Select writes value at field and clears the deeper levels in one pass.
// Clearing a level clears every descendant.
func Select(rec types.Record, field, value string) (Change, error) {
	c, k, ok := Lookup(field)
	if !ok {
		return Change{}, fmt.Errorf("hierarchy: %q is not a hierarchy field", field)
	}
	value = strings.TrimSpace(value)
	ch := Change{Field: field, Value: value}
	if value != "" {
		id, err := strconv.ParseInt(value, 10, 64)
		if err != nil || id <= 0 {
			return Change{}, apperrors.New(apperrors.CodeInvalidArgument,
				fmt.Sprintf("hierarchy: %s must be a positive id, got %q", field, value))
		}
		value = strconv.FormatInt(id, 10)
		ch.Value = value
		if k+1 < len(c.Levels) {
			ch.Child = c.Levels[k+1]
			ch.ParentID = id
		}
	}
	rec[field] = value
	ch.Cleared = c.Clear(rec, k)
	return ch, nil
}

// Loader fetches the options of a level. parentID is nil for root levels.
type Loader interface {
	Options(ctx context.Context, level types.Level, parentID *int64) ([]types.Option, error)
}

// Resolver applies selections and loads the options of the level below.
type Resolver struct {
	loader Loader
}

// NewResolver creates a Resolver. loader may be nil, in which case no
// options are fetched.
func NewResolver(loader Loader) *Resolver {
	return &Resolver{loader: loader}
}

// OnLevelChange selects value at field, clears the deeper levels and
// returns the child level's options filtered by the new parent.
func (r *Resolver) OnLevelChange(ctx context.Context, rec types.Record, field, value string) (Change, []types.Option, error) {
	ch, err := Select(rec, field, value)
	if err != nil {
		return ch, nil, err
	}
	if r.loader == nil || ch.Child == "" {
		return ch, nil, nil
	}
	parent := ch.ParentID
	opts, err := r.loader.Options(ctx, ch.Child, &parent)
	if err != nil {
		return ch, nil, fmt.Errorf("loading %s options: %w", ch.Child, err)
	}
	return ch, opts, nil
}

// Roots loads the options of the first level of every chain.
func (r *Resolver) Roots(ctx context.Context) (map[types.Level][]types.Option, error) {
	out := make(map[types.Level][]types.Option, len(Chains))
	if r.loader == nil {
		return out, nil
	}
	for _, c := range Chains {
		opts, err := r.loader.Options(ctx, c.Levels[0], nil)
		if err != nil {
			return nil, fmt.Errorf("loading %s options: %w", c.Levels[0], err)
		}
		out[c.Levels[0]] = opts
	}
	return out, nil
}

// Verify checks that every selected value in rec is an option of its level
// under the selected parent. It returns an INVALID_ARGUMENT error naming the
// first stale field.
func (r *Resolver) Verify(ctx context.Context, rec types.Record) error {
	if r.loader == nil {
		return nil
	}
	for _, c := range Chains {
		var parent *int64
		for i, field := range c.Fields {
			raw := rec.Get(field)
			if raw == "" {
				break
			}
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return apperrors.New(apperrors.CodeInvalidArgument, fmt.Sprintf("%s is not an id", field))
			}
			opts, err := r.loader.Options(ctx, c.Levels[i], parent)
			if err != nil {
				return fmt.Errorf("loading %s options: %w", c.Levels[i], err)
			}
			if !contains(opts, id) {
				return apperrors.WithMetadata(apperrors.CodeInvalidArgument,
					fmt.Sprintf("%s %d does not belong to the selected %s", c.Levels[i], id, parentName(c, i)),
					map[string]string{"field": field})
			}
			parent = &id
		}
	}
	return nil
}

func contains(opts []types.Option, id int64) bool {
	for _, o := range opts {
		if o.ID == id {
			return true
		}
	}
	return false
}

func parentName(c Chain, i int) string {
	if i == 0 {
		return "root"
	}
	return string(c.Levels[i-1])
}
