package metrics

import (
	"sort"

	"github.com/arnavshah/bunk-planner-go/pkg/apperr"
	"github.com/arnavshah/bunk-planner-go/pkg/models"
)

// Delta is one metric in both scenarios
type Delta struct {
	Base   float64 `json:"base"`
	Other  float64 `json:"other"`
	Change float64 `json:"change"`
}

func delta(base, other float64) Delta {
	return Delta{Base: base, Other: other, Change: other - base}
}

// Diff compares two scored assignments of the same session
type Diff struct {
	BaseScenarioID  string `json:"base_scenario_id,omitempty"`
	OtherScenarioID string `json:"other_scenario_id,omitempty"`

	Assigned          Delta                        `json:"assigned"`
	Unassigned        Delta                        `json:"unassigned"`
	RequestsSatisfied Delta                        `json:"requests_satisfied"`
	SatisfactionRate  Delta                        `json:"satisfaction_rate"`
	ByType            map[models.RequestType]Delta `json:"by_type"`
	AvgOccupancy      Delta                        `json:"avg_occupancy"`
	GradeVariance     Delta                        `json:"grade_variance"`
	AgeVariance       Delta                        `json:"age_variance"`
	Violations        Delta                        `json:"violations"`

	// Requests satisfied only in other resolve conflicts; requests satisfied
	// only in base are conflicts other introduces.
	NewlySatisfied   []string `json:"newly_satisfied"`
	NewlyUnsatisfied []string `json:"newly_unsatisfied"`

	NewViolations      []apperr.Violation `json:"new_violations"`
	ResolvedViolations []apperr.Violation `json:"resolved_violations"`

	Moves []models.Move `json:"moves"`
}

// Compare diffs two metric sets. It has no side effects.
func Compare(base, other Metrics) Diff {
	d := Diff{
		Assigned:          delta(float64(base.Assigned), float64(other.Assigned)),
		Unassigned:        delta(float64(base.Unassigned), float64(other.Unassigned)),
		RequestsSatisfied: delta(float64(base.RequestsSatisfied), float64(other.RequestsSatisfied)),
		SatisfactionRate:  delta(base.SatisfactionRate, other.SatisfactionRate),
		ByType:            make(map[models.RequestType]Delta),
		AvgOccupancy:      delta(base.Occupancy.Avg, other.Occupancy.Avg),
		GradeVariance:     delta(base.GradeVariance, other.GradeVariance),
		AgeVariance:       delta(base.AgeVariance, other.AgeVariance),
		Violations:        delta(float64(len(base.Violations)), float64(len(other.Violations))),
	}
	for _, t := range []models.RequestType{models.TypeBunkWith, models.TypeNotBunkWith, models.TypeAgePreference} {
		b, o := base.Requests[t], other.Requests[t]
		if b.Total == 0 && o.Total == 0 {
			continue
		}
		d.ByType[t] = delta(float64(b.Satisfied), float64(o.Satisfied))
	}

	d.NewlySatisfied = minus(base.Unsatisfied, other.Unsatisfied)
	d.NewlyUnsatisfied = minus(other.Unsatisfied, base.Unsatisfied)
	d.NewViolations = minusViolations(other.Violations, base.Violations)
	d.ResolvedViolations = minusViolations(base.Violations, other.Violations)
	return d
}

// CompareScenarios scores both scenarios against snap and diffs them,
// including the camper moves from base to other.
func (e *Engine) CompareScenarios(snap *models.Snapshot, base, other *models.Scenario) Diff {
	d := Compare(
		e.Score(snap, base.Assignment, base.LockGroups),
		e.Score(snap, other.Assignment, other.LockGroups),
	)
	d.BaseScenarioID = base.ID
	d.OtherScenarioID = other.ID
	d.Moves = base.Assignment.Diff(other.Assignment)
	if d.Moves == nil {
		d.Moves = []models.Move{}
	}
	return d
}

// minus returns the sorted ids in a but not in b
func minus(a, b []string) []string {
	in := make(map[string]bool, len(b))
	for _, id := range b {
		in[id] = true
	}
	out := []string{}
	for _, id := range a {
		if !in[id] {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func minusViolations(a, b []apperr.Violation) []apperr.Violation {
	key := func(v apperr.Violation) string { return v.Constraint + "\x00" + v.Message }
	in := make(map[string]bool, len(b))
	for _, v := range b {
		in[key(v)] = true
	}
	out := []apperr.Violation{}
	for _, v := range a {
		if !in[key(v)] {
			out = append(out, v)
		}
	}
	return out
}
