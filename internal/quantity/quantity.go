// Package quantity distributes a cost component's total quantity across its
// milestones and reconciles entered milestone quantities against the total.
package quantity

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/matthewbaird/canalworks/internal/rules"
	"github.com/matthewbaird/canalworks/internal/types"
)

// Places is the number of decimal places quantities are kept at.
const Places = 2

// Issue is a reconciliation failure scoped to one field of a component row.
type Issue struct {
	Field   string
	Message string
}

// Engine applies the tolerance band and the work-period milestone plans from
// the rule table.
type Engine struct {
	rules    *rules.Rules
	relative decimal.Decimal
	absolute decimal.Decimal
	epsilon  decimal.Decimal
}

// New creates an Engine from the rule table.
func New(r *rules.Rules) *Engine {
	return &Engine{
		rules:    r,
		relative: decimal.NewFromFloat(r.Reconciliation.RelativeTolerance),
		absolute: decimal.NewFromFloat(r.Reconciliation.AbsoluteTolerance),
		epsilon:  decimal.NewFromFloat(r.Reconciliation.Epsilon),
	}
}

// MilestoneCount derives the milestone count from a work period in months.
func (e *Engine) MilestoneCount(months int) int {
	return e.rules.MilestoneCount(months)
}

// Distribute splits total evenly across n milestones at two decimal places.
// The last milestone takes the residual so the parts always sum to total
// exactly. n outside 1..3 yields no milestones.
func Distribute(total decimal.Decimal, n int) []decimal.Decimal {
	if n < 1 || n > types.MaxMilestones {
		return nil
	}
	parts := make([]decimal.Decimal, n)
	share := total.Div(decimal.NewFromInt(int64(n))).Round(Places)
	assigned := decimal.Zero
	for i := 0; i < n-1; i++ {
		parts[i] = share
		assigned = assigned.Add(share)
	}
	parts[n-1] = total.Sub(assigned)
	return parts
}

// Tolerance is the allowed absolute difference between the milestone sum and
// total: max(total * relative, absolute).
func (e *Engine) Tolerance(total decimal.Decimal) decimal.Decimal {
	return decimal.Max(total.Abs().Mul(e.relative), e.absolute)
}

// Reconcile checks populated milestones against total. No milestone may
// exceed total (beyond epsilon), and the sum of populated milestones must be
// within the tolerance band. Unpopulated milestones are ignored.
func (e *Engine) Reconcile(total decimal.Decimal, milestones []decimal.NullDecimal) []Issue {
	var issues []Issue
	limit := total.Add(e.epsilon)
	sum := decimal.Zero
	for i, m := range milestones {
		if !m.Valid {
			continue
		}
		if m.Decimal.GreaterThan(limit) {
			issues = append(issues, Issue{
				Field:   types.FieldMilestone(i + 1),
				Message: fmt.Sprintf("Milestone %d cannot exceed the total quantity of %s", i+1, total.StringFixed(Places)),
			})
		}
		sum = sum.Add(m.Decimal)
	}

	tol := e.Tolerance(total)
	if sum.Sub(total).Abs().GreaterThan(tol) {
		issues = append(issues, Issue{
			Field: types.FieldMilestones,
			Message: fmt.Sprintf("Milestone quantities add up to %s but the total is %s (allowed difference %s)",
				sum.StringFixed(Places), total.StringFixed(Places), tol.StringFixed(Places)),
		})
	}
	return issues
}
