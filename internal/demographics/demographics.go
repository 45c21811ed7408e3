// Package demographics derives the population split fields from an entered
// total.
package demographics

import (
	"math"

	"github.com/matthewbaird/canalworks/internal/rules"
)

// Split is the derived breakdown of a population total.
type Split struct {
	Total  int64 `json:"total"`
	Female int64 `json:"female"`
	Male   int64 `json:"male"`
	Youth  int64 `json:"youth"`
}

// Calculator applies the configured split ratios.
type Calculator struct {
	femaleRatio float64
	youthRatio  float64
}

// New creates a Calculator from the rule table constants.
func New(d rules.Demographics) *Calculator {
	return &Calculator{femaleRatio: d.FemaleRatio, youthRatio: d.YouthRatio}
}

// Split computes female, male and youth for total. A manually entered female
// count is kept but capped at total; otherwise female is estimated from the
// ratio. Youth is an independent estimate and is not subtracted from total.
// Negative inputs are treated as zero.
func (c *Calculator) Split(total int64, female *int64) Split {
	if total < 0 {
		total = 0
	}
	var f int64
	if female != nil {
		f = min(max(*female, 0), total)
	} else {
		f = round(float64(total) * c.femaleRatio)
	}
	return Split{
		Total:  total,
		Female: f,
		Male:   total - f,
		Youth:  round(float64(total) * c.youthRatio),
	}
}

// Eligible is the number of beneficiaries once government stakeholders are
// removed from the total.
func Eligible(total, governmentStakeholders int64) int64 {
	return max(total-governmentStakeholders, 0)
}

// round is round-half-away-from-zero, which is what math.Round does.
func round(x float64) int64 {
	return int64(math.Round(x))
}
