// Package metrics scores assignments and compares scenarios.
package metrics

import (
	"fmt"
	"math"
	"sort"

	"github.com/arnavshah/bunk-planner-go/pkg/apperr"
	"github.com/arnavshah/bunk-planner-go/pkg/constraints"
	"github.com/arnavshah/bunk-planner-go/pkg/models"
)

// Spread summarizes a value across bunks
type Spread struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
}

// BunkStats describes one bunk's occupants
type BunkStats struct {
	BunkID        string  `json:"bunk_id"`
	Capacity      int     `json:"capacity"`
	Occupants     int     `json:"occupants"`
	GradeMin      int     `json:"grade_min"`
	GradeMax      int     `json:"grade_max"`
	AgeMin        float64 `json:"age_min"`
	AgeMax        float64 `json:"age_max"`
	GradeVariance float64 `json:"grade_variance"`
	AgeVariance   float64 `json:"age_variance"`
}

// RequestCounts tallies requests of one type
type RequestCounts struct {
	Total     int `json:"total"`
	Satisfied int `json:"satisfied"`
}

// Metrics is the score card of one assignment
type Metrics struct {
	SessionID    string `json:"session_id"`
	TotalCampers int    `json:"total_campers"`
	Assigned     int    `json:"assigned"`
	Unassigned   int    `json:"unassigned"`

	Requests          map[models.RequestType]RequestCounts `json:"requests"`
	RequestsTotal     int                                  `json:"requests_total"`
	RequestsSatisfied int                                  `json:"requests_satisfied"`
	SatisfactionRate  float64                              `json:"satisfaction_rate"`
	Unsatisfied       []string                             `json:"unsatisfied_requests"`

	Occupancy     Spread      `json:"occupancy"`
	GradeSpread   Spread      `json:"grade_spread"`
	AgeSpread     Spread      `json:"age_spread"`
	GradeVariance float64     `json:"grade_variance"`
	AgeVariance   float64     `json:"age_variance"`
	Bunks         []BunkStats `json:"bunks"`

	Violations []apperr.Violation `json:"violations"`
}

// Engine computes metrics. It is safe for concurrent use.
type Engine struct {
	minConfidence float64
	cache         *statCache
}

// NewEngine creates an engine that ignores requests below minConfidence
func NewEngine(minConfidence float64) *Engine {
	return &Engine{minConfidence: minConfidence, cache: newStatCache()}
}

// Invalidate drops memoized statistics for a bunk
func (e *Engine) Invalidate(bunkID string) {
	e.cache.invalidate(bunkID)
}

// Score evaluates an assignment against the snapshot it was made for.
// lockGroups are the scenario's own groups, layered over the snapshot's.
// Hard-constraint violations are reported, never corrected.
func (e *Engine) Score(snap *models.Snapshot, a *models.Assignment, lockGroups []models.LockGroup) Metrics {
	sid := snap.Session.ID
	met := Metrics{SessionID: sid, Requests: make(map[models.RequestType]RequestCounts)}

	campers := make(map[string]models.Camper)
	for _, c := range snap.Campers {
		if c.Enrolled && c.SessionID == sid {
			campers[c.ID] = c
		}
	}
	var bunks []models.Bunk
	bunkByID := make(map[string]models.Bunk)
	for _, b := range snap.Bunks {
		if b.SessionID == sid {
			bunks = append(bunks, b)
			bunkByID[b.ID] = b
		}
	}
	sort.Slice(bunks, func(i, j int) bool { return bunks[i].ID < bunks[j].ID })

	met.TotalCampers = len(campers)
	occupants := make(map[string][]models.Camper)
	for _, id := range a.Campers() {
		c, ok := campers[id]
		if !ok {
			continue
		}
		met.Assigned++
		bid := a.BunkOf(id)
		b, ok := bunkByID[bid]
		if !ok {
			met.Violations = append(met.Violations, apperr.Violation{
				Constraint: apperr.ConstraintEligibility,
				Message:    fmt.Sprintf("camper %s is in unknown bunk %s", id, bid),
				Entities:   []string{id, bid},
			})
			continue
		}
		if !models.CanOccupy(c, b, snap.Session) {
			met.Violations = append(met.Violations, apperr.Violation{
				Constraint: apperr.ConstraintEligibility,
				Message:    fmt.Sprintf("camper %s (%s) is not eligible for bunk %s", id, c.Gender, bid),
				Entities:   []string{id, bid},
			})
		}
		occupants[bid] = append(occupants[bid], c)
	}
	met.Unassigned = met.TotalCampers - met.Assigned

	e.bunkMetrics(&met, bunks, occupants)
	e.requestMetrics(&met, snap, campers, a)
	lockGroupViolations(&met, snap.LockGroups, lockGroups, campers, a)
	return met
}

func (e *Engine) bunkMetrics(met *Metrics, bunks []models.Bunk, occupants map[string][]models.Camper) {
	var occ, gspread, aspread []float64
	var gvar, avar float64
	for _, b := range bunks {
		list := occupants[b.ID]
		sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
		st := e.cache.get(b, list)
		met.Bunks = append(met.Bunks, st)
		occ = append(occ, float64(st.Occupants))
		if st.Occupants > st.Capacity {
			met.Violations = append(met.Violations, apperr.Violation{
				Constraint: apperr.ConstraintCapacity,
				Message:    fmt.Sprintf("bunk %s holds %d campers but has capacity %d", b.ID, st.Occupants, st.Capacity),
				Entities:   []string{b.ID},
				Amount:     st.Occupants - st.Capacity,
			})
		}
		if st.Occupants == 0 {
			continue
		}
		gspread = append(gspread, float64(st.GradeMax-st.GradeMin))
		aspread = append(aspread, st.AgeMax-st.AgeMin)
		gvar += st.GradeVariance
		avar += st.AgeVariance
	}
	met.Occupancy = spread(occ)
	met.GradeSpread = spread(gspread)
	met.AgeSpread = spread(aspread)
	if n := len(gspread); n > 0 {
		met.GradeVariance = gvar / float64(n)
		met.AgeVariance = avar / float64(n)
	}
}

func (e *Engine) requestMetrics(met *Metrics, snap *models.Snapshot, campers map[string]models.Camper, a *models.Assignment) {
	var active []models.Request
	for _, r := range snap.Requests {
		if r.Status != models.RequestResolved || r.Preference == nil || r.Confidence < e.minConfidence {
			continue
		}
		if _, ok := campers[r.RequesterID]; !ok {
			continue
		}
		if t := r.Target(); t != "" {
			if _, ok := campers[t]; !ok || t == r.RequesterID {
				continue
			}
		}
		active = append(active, r)
	}
	winners, _ := constraints.ResolveConflicts(active)

	met.Unsatisfied = []string{}
	for _, r := range winners {
		counts := met.Requests[r.Type()]
		counts.Total++
		met.RequestsTotal++
		if Satisfied(r, a, campers) {
			counts.Satisfied++
			met.RequestsSatisfied++
		} else {
			met.Unsatisfied = append(met.Unsatisfied, r.ID)
			if r.Locked {
				met.Violations = append(met.Violations, apperr.Violation{
					Constraint: apperr.ConstraintLockedRequest,
					Message:    fmt.Sprintf("locked request %s is not satisfied", r.ID),
					Entities:   []string{r.ID, r.RequesterID},
				})
			}
		}
		met.Requests[r.Type()] = counts
	}
	if met.RequestsTotal > 0 {
		met.SatisfactionRate = float64(met.RequestsSatisfied) / float64(met.RequestsTotal)
	}
}

// Satisfied reports whether an assignment honours a request. A not_bunk_with
// request holds whenever either camper is unassigned; an age preference
// needs an older or younger bunkmate by grade.
func Satisfied(r models.Request, a *models.Assignment, campers map[string]models.Camper) bool {
	rb := a.BunkOf(r.RequesterID)
	switch p := r.Preference.(type) {
	case models.BunkWith:
		return rb != "" && rb == a.BunkOf(p.Target)
	case models.NotBunkWith:
		tb := a.BunkOf(p.Target)
		return rb == "" || tb == "" || rb != tb
	case models.AgePreference:
		if rb == "" {
			return false
		}
		g := campers[r.RequesterID].Grade
		for _, id := range a.Occupants(rb) {
			if id == r.RequesterID {
				continue
			}
			other, ok := campers[id]
			if !ok {
				continue
			}
			if p.Direction == models.Older && other.Grade > g || p.Direction == models.Younger && other.Grade < g {
				return true
			}
		}
	}
	return false
}

func lockGroupViolations(met *Metrics, base, extra []models.LockGroup, campers map[string]models.Camper, a *models.Assignment) {
	for _, g := range models.MergeLockGroups(base, extra) {
		inSession := true
		for _, id := range g.Members {
			if _, ok := campers[id]; !ok {
				inSession = false
				break
			}
		}
		if !inSession || len(g.Members) == 0 {
			continue
		}
		if !CoLocated(a, g.Members) {
			met.Violations = append(met.Violations, apperr.Violation{
				Constraint: apperr.ConstraintLockGroup,
				Message:    fmt.Sprintf("lock group %s is not in one bunk", g.ID),
				Entities:   append([]string{g.ID}, g.Members...),
			})
		}
	}
}

// CoLocated reports whether every camper is assigned to the same bunk
func CoLocated(a *models.Assignment, camperIDs []string) bool {
	if len(camperIDs) == 0 {
		return true
	}
	b := a.BunkOf(camperIDs[0])
	if b == "" {
		return false
	}
	for _, id := range camperIDs[1:] {
		if a.BunkOf(id) != b {
			return false
		}
	}
	return true
}

func bunkStats(b models.Bunk, occupants []models.Camper) BunkStats {
	st := BunkStats{BunkID: b.ID, Capacity: b.Capacity, Occupants: len(occupants)}
	if len(occupants) == 0 {
		return st
	}
	grades := make([]float64, len(occupants))
	ages := make([]float64, len(occupants))
	st.GradeMin, st.GradeMax = occupants[0].Grade, occupants[0].Grade
	st.AgeMin, st.AgeMax = occupants[0].Age, occupants[0].Age
	for i, c := range occupants {
		grades[i] = float64(c.Grade)
		ages[i] = c.Age
		if c.Grade < st.GradeMin {
			st.GradeMin = c.Grade
		}
		if c.Grade > st.GradeMax {
			st.GradeMax = c.Grade
		}
		st.AgeMin = math.Min(st.AgeMin, c.Age)
		st.AgeMax = math.Max(st.AgeMax, c.Age)
	}
	st.GradeVariance = variance(grades)
	st.AgeVariance = variance(ages)
	return st
}

// variance is the population variance
func variance(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return sq / float64(len(values))
}

func spread(values []float64) Spread {
	if len(values) == 0 {
		return Spread{}
	}
	s := Spread{Min: values[0], Max: values[0]}
	var sum float64
	for _, v := range values {
		s.Min = math.Min(s.Min, v)
		s.Max = math.Max(s.Max, v)
		sum += v
	}
	s.Avg = sum / float64(len(values))
	return s
}
