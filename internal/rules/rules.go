// Package rules loads the declarative field rule table and the fixed
// reconciliation and demographic constants from CUE.
//
// The table ships embedded (rules.cue). A deployment can replace it with
// its own file; the replacement must satisfy the same #Field schema.
package rules

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

//go:embed rules.cue
var defaultSource []byte

// Field kinds.
const (
	KindText    = "text"
	KindInteger = "integer"
	KindDecimal = "decimal"
	KindEnum    = "enum"
	KindID      = "id"
)

// FieldRule describes how one form field is checked.
type FieldRule struct {
	Label       string   `json:"label"`
	Kind        string   `json:"kind"`
	Required    bool     `json:"required"`
	Positive    bool     `json:"positive"`
	Pattern     string   `json:"pattern,omitempty"`
	Allowed     string   `json:"allowed,omitempty"`
	MaxLen      int      `json:"maxLen,omitempty"`
	MaxDigits   int      `json:"maxDigits,omitempty"`
	MaxDecimals int      `json:"maxDecimals,omitempty"`
	Max         *int64   `json:"max,omitempty"`
	Values      []string `json:"values,omitempty"`

	re *regexp.Regexp
}

// Match reports whether s satisfies the rule's character pattern. Rules
// without a pattern accept everything.
func (f *FieldRule) Match(s string) bool {
	if f.re == nil {
		return true
	}
	return f.re.MatchString(s)
}

// Section maps field names to their rules.
type Section map[string]*FieldRule

// Fields returns the section's field names in sorted order.
func (s Section) Fields() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reconciliation is the tolerance band for milestone sums.
type Reconciliation struct {
	RelativeTolerance float64 `json:"relativeTolerance"`
	AbsoluteTolerance float64 `json:"absoluteTolerance"`
	Epsilon           float64 `json:"epsilon"`
}

// Demographics holds the fixed split ratios.
type Demographics struct {
	FemaleRatio float64 `json:"femaleRatio"`
	YouthRatio  float64 `json:"youthRatio"`
}

// MilestonePlan maps a work period to the number of milestones it shows.
type MilestonePlan struct {
	Months int `json:"months"`
	Count  int `json:"count"`
}

// Rules is the decoded rule table.
type Rules struct {
	Work           Section         `json:"work"`
	Beneficiary    Section         `json:"beneficiary"`
	Village        Section         `json:"village"`
	Component      Section         `json:"component"`
	Reconciliation Reconciliation  `json:"reconciliation"`
	Demographics   Demographics    `json:"demographics"`
	Milestones     []MilestonePlan `json:"milestones"`
}

// Default returns the embedded rule table.
func Default() (*Rules, error) {
	return Parse(defaultSource, "rules.cue")
}

// MustDefault is Default for package initialisation and tests.
func MustDefault() *Rules {
	r, err := Default()
	if err != nil {
		panic(err)
	}
	return r
}

// Load reads a rule table from path, or returns the embedded one when path
// is empty.
func Load(path string) (*Rules, error) {
	if path == "" {
		return Default()
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules file: %w", err)
	}
	return Parse(src, path)
}

// Parse compiles CUE source into Rules.
func Parse(src []byte, filename string) (*Rules, error) {
	ctx := cuecontext.New()
	val := ctx.CompileBytes(src, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("compiling rules: %w", err)
	}
	if err := val.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("validating rules: %w", err)
	}

	var r Rules
	if err := val.Decode(&r); err != nil {
		return nil, fmt.Errorf("decoding rules: %w", err)
	}
	if err := r.compile(); err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *Rules) compile() error {
	sections := map[string]Section{
		"work":        r.Work,
		"beneficiary": r.Beneficiary,
		"village":     r.Village,
		"component":   r.Component,
	}
	for name, sec := range sections {
		if len(sec) == 0 {
			return fmt.Errorf("rules: section %q is empty", name)
		}
		for field, rule := range sec {
			if rule.Pattern == "" {
				continue
			}
			re, err := regexp.Compile(rule.Pattern)
			if err != nil {
				return fmt.Errorf("rules: %s.%s pattern: %w", name, field, err)
			}
			rule.re = re
		}
	}
	if r.Reconciliation.AbsoluteTolerance <= 0 {
		return fmt.Errorf("rules: reconciliation.absoluteTolerance must be positive")
	}
	if r.Demographics.FemaleRatio < 0 || r.Demographics.FemaleRatio > 1 {
		return fmt.Errorf("rules: demographics.femaleRatio must be within [0,1]")
	}
	return nil
}

// MilestoneCount returns how many milestones a work period shows. Periods
// without a plan show none.
func (r *Rules) MilestoneCount(months int) int {
	for _, p := range r.Milestones {
		if p.Months == months {
			return p.Count
		}
	}
	return 0
}
