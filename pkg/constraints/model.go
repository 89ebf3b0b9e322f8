// Package constraints turns a session snapshot into a solvable assignment model.
package constraints

import (
	"fmt"

	"github.com/arnavshah/bunk-planner-go/pkg/models"
)

// Weights are the fixed objective coefficients. Request satisfaction
// dominates cohesion, which dominates disruption from a warm start.
type Weights struct {
	Request    float64 `json:"request"`
	Cohesion   float64 `json:"cohesion"`
	Disruption float64 `json:"disruption"`
	Unassigned float64 `json:"unassigned"`
}

// DefaultWeights returns the standard coefficients
func DefaultWeights() Weights {
	return Weights{Request: 1000, Cohesion: 10, Disruption: 1, Unassigned: 1_000_000}
}

// Validate enforces Request > Cohesion > Disruption > 0
func (w Weights) Validate() error {
	if w.Disruption <= 0 {
		return fmt.Errorf("disruption weight must be positive, got %v", w.Disruption)
	}
	if w.Cohesion <= w.Disruption {
		return fmt.Errorf("cohesion weight %v must exceed disruption weight %v", w.Cohesion, w.Disruption)
	}
	if w.Request <= w.Cohesion {
		return fmt.Errorf("request weight %v must exceed cohesion weight %v", w.Request, w.Cohesion)
	}
	if w.Unassigned < w.Request*models.MaxPriority {
		return fmt.Errorf("unassigned weight %v must be at least %v", w.Unassigned, w.Request*models.MaxPriority)
	}
	return nil
}

// Term is one request participating in the objective or in a hard check
type Term struct {
	RequestID string
	Type      models.RequestType
	Requester int
	Target    int // camper index, -1 for age preferences
	Direction models.AgeDirection
	Priority  int
}

// Unit is a set of campers that must share a bunk: a lock group, a chain of
// locked bunk_with requests, or a single camper.
type Unit struct {
	ID       string
	Members  []int // camper indices, ascending
	Eligible []int // bunk indices, ascending
	Pinned   int   // bunk index, -1 when free
	Groups   []string
}

// Size is the number of campers in the unit
func (u Unit) Size() int { return len(u.Members) }

// Skip records a request or group excluded from the model and why
type Skip struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// Model is the solvable form of one session
type Model struct {
	Session models.Session
	Campers []models.Camper
	Bunks   []models.Bunk
	Weights Weights

	// Eligible lists bunk indices per camper.
	Eligible [][]int
	Units    []Unit
	UnitOf   []int

	// Terms are the soft request terms; AgeLocks and Separations are hard.
	Terms       []Term
	AgeLocks    []Term
	Separations [][2]int

	// Sink is set when campers may be left unassigned; Shortage is the
	// detected capacity deficit.
	Sink     bool
	Shortage int

	Skipped    []Skip
	Suppressed []Skip

	camperIndex map[string]int
	bunkIndex   map[string]int
}

// CamperIndex returns the index of a camper id
func (m *Model) CamperIndex(id string) (int, bool) {
	i, ok := m.camperIndex[id]
	return i, ok
}

// BunkIndex returns the index of a bunk id
func (m *Model) BunkIndex(id string) (int, bool) {
	i, ok := m.bunkIndex[id]
	return i, ok
}

// TermsByCamper indexes soft terms by every camper they reference
func (m *Model) TermsByCamper() [][]int {
	idx := make([][]int, len(m.Campers))
	for t, term := range m.Terms {
		idx[term.Requester] = append(idx[term.Requester], t)
		if term.Target >= 0 && term.Target != term.Requester {
			idx[term.Target] = append(idx[term.Target], t)
		}
	}
	return idx
}

// UpperBound is the best objective value any assignment could reach
func (m *Model) UpperBound() float64 {
	total := 0
	for _, t := range m.Terms {
		total += t.Priority
	}
	return m.Weights.Request * float64(total)
}
