package solver

import (
	"math"
	"sort"

	"github.com/arnavshah/bunk-planner-go/pkg/constraints"
	"github.com/arnavshah/bunk-planner-go/pkg/models"
)

const (
	unplaced = -1
	eps      = 1e-9
)

// objective orders candidate solutions: fewer hard violations first, then
// higher score. Without a warm start score carries the whole weighted
// objective. With one, score holds requests and the unassigned cost, and
// cohesion only breaks ties between placements that move equally few campers
// away from the warm start.
type objective struct {
	viol     int
	score    float64
	moved    int
	cohesion float64
}

func (a objective) better(b objective) bool {
	if a.viol != b.viol {
		return a.viol < b.viol
	}
	if math.Abs(a.score-b.score) > eps {
		return a.score > b.score
	}
	if a.moved != b.moved {
		return a.moved < b.moved
	}
	return a.cohesion > b.cohesion+eps
}

func (a objective) sub(b objective) objective {
	return objective{
		viol:     a.viol - b.viol,
		score:    a.score - b.score,
		moved:    a.moved - b.moved,
		cohesion: a.cohesion - b.cohesion,
	}
}

// improving reports whether a delta makes the solution strictly better
func (a objective) improving() bool {
	return a.better(objective{})
}

// state is a mutable placement of units into bunks. The sink, when the model
// allows it, is the extra bunk index len(Bunks).
type state struct {
	m        *constraints.Model
	sink     int
	unitBunk []int
	occ      [][]int
	load     []int
	warm     []int
	// tiered is set when the warm start places at least one camper
	tiered bool

	termsOf [][]int
	sepsOf  [][]int
	locksOf [][]int

	camperStamp []int
	termStamp   []int
	lockStamp   []int
	tick        int
}

func newState(m *constraints.Model, warm []int) *state {
	nb := len(m.Bunks)
	s := &state{
		m:           m,
		sink:        nb,
		unitBunk:    make([]int, len(m.Units)),
		occ:         make([][]int, nb+1),
		load:        make([]int, nb+1),
		warm:        warm,
		termsOf:     m.TermsByCamper(),
		sepsOf:      make([][]int, len(m.Units)),
		locksOf:     make([][]int, len(m.Campers)),
		camperStamp: make([]int, len(m.Campers)),
		termStamp:   make([]int, len(m.Terms)),
		lockStamp:   make([]int, len(m.AgeLocks)),
	}
	for i := range s.unitBunk {
		s.unitBunk[i] = unplaced
	}
	for _, b := range warm {
		if b != unplaced {
			s.tiered = true
			break
		}
	}
	for k, p := range m.Separations {
		s.sepsOf[p[0]] = append(s.sepsOf[p[0]], k)
		s.sepsOf[p[1]] = append(s.sepsOf[p[1]], k)
	}
	for k, t := range m.AgeLocks {
		s.locksOf[t.Requester] = append(s.locksOf[t.Requester], k)
	}
	return s
}

// warmIndex maps a warm-start assignment to bunk indices per camper
func warmIndex(m *constraints.Model, warm *models.Assignment) []int {
	idx := make([]int, len(m.Campers))
	for c, camper := range m.Campers {
		idx[c] = unplaced
		if warm == nil {
			continue
		}
		if j, ok := m.BunkIndex(warm.BunkOf(camper.ID)); ok {
			idx[c] = j
		}
	}
	return idx
}

// choices lists the bunks a unit may take, ascending, sink last
func choices(m *constraints.Model, u int) []int {
	unit := m.Units[u]
	if unit.Pinned >= 0 {
		return []int{unit.Pinned}
	}
	out := append([]int(nil), unit.Eligible...)
	if m.Sink {
		out = append(out, len(m.Bunks))
	}
	return out
}

func (s *state) capacity(b int) int {
	if b == s.sink {
		return math.MaxInt32
	}
	return s.m.Bunks[b].Capacity
}

func (s *state) fits(u, b int) bool {
	return s.load[b]+s.m.Units[u].Size() <= s.capacity(b)
}

func (s *state) place(u, b int) {
	s.unitBunk[u] = b
	for _, c := range s.m.Units[u].Members {
		s.occ[b] = insertSorted(s.occ[b], c)
	}
	s.load[b] += s.m.Units[u].Size()
}

func (s *state) remove(u int) {
	b := s.unitBunk[u]
	if b == unplaced {
		return
	}
	for _, c := range s.m.Units[u].Members {
		s.occ[b] = removeSorted(s.occ[b], c)
	}
	s.load[b] -= s.m.Units[u].Size()
	s.unitBunk[u] = unplaced
}

func (s *state) move(u, b int) {
	s.remove(u)
	s.place(u, b)
}

func (s *state) bunkOf(c int) int {
	return s.unitBunk[s.m.UnitOf[c]]
}

func (s *state) real(b int) bool {
	return b != unplaced && b != s.sink
}

func (s *state) satisfied(t constraints.Term) bool {
	rb := s.bunkOf(t.Requester)
	switch t.Type {
	case models.TypeBunkWith:
		return s.real(rb) && rb == s.bunkOf(t.Target)
	case models.TypeNotBunkWith:
		tb := s.bunkOf(t.Target)
		return !s.real(rb) || !s.real(tb) || rb != tb
	case models.TypeAgePreference:
		return s.ageMatch(t)
	}
	return false
}

func (s *state) ageMatch(t constraints.Term) bool {
	rb := s.bunkOf(t.Requester)
	if !s.real(rb) {
		return false
	}
	g := s.m.Campers[t.Requester].Grade
	for _, c := range s.occ[rb] {
		if c == t.Requester {
			continue
		}
		other := s.m.Campers[c].Grade
		if t.Direction == models.Older && other > g || t.Direction == models.Younger && other < g {
			return true
		}
	}
	return false
}

func (s *state) termValue(t constraints.Term) float64 {
	if s.satisfied(t) {
		return s.m.Weights.Request * float64(t.Priority)
	}
	return 0
}

// penalty is the cohesion cost of one bunk, or the unassigned cost of the sink
func (s *state) penalty(b int) float64 {
	occ := s.occ[b]
	if b == s.sink {
		return s.m.Weights.Unassigned * float64(len(occ))
	}
	if len(occ) < 2 {
		return 0
	}
	n := float64(len(occ))
	var sg, sa float64
	for _, c := range occ {
		sg += float64(s.m.Campers[c].Grade)
		sa += s.m.Campers[c].Age
	}
	mg, ma := sg/n, sa/n
	var vg, va float64
	for _, c := range occ {
		dg := float64(s.m.Campers[c].Grade) - mg
		da := s.m.Campers[c].Age - ma
		vg += dg * dg
		va += da * da
	}
	return s.m.Weights.Cohesion * (vg + va) / n
}

// charge subtracts the penalty of bunk b from o
func (s *state) charge(o *objective, b int) {
	p := s.penalty(b)
	if s.tiered && b != s.sink {
		o.cohesion -= p
		return
	}
	o.score -= p
}

// weighted is the reported score of o: the single weighted sum used to
// compare scenarios and re-solves.
func (s *state) weighted(o objective) float64 {
	return o.score + o.cohesion - s.m.Weights.Disruption*float64(o.moved)
}

func (s *state) disrupted(c int) bool {
	w := s.warm[c]
	b := s.bunkOf(c)
	return w != unplaced && b != unplaced && b != w
}

func (s *state) sepViolated(k int) bool {
	p := s.m.Separations[k]
	a, b := s.unitBunk[p[0]], s.unitBunk[p[1]]
	return s.real(a) && a == b
}

// full evaluates the complete objective
func (s *state) full() objective {
	var o objective
	for _, t := range s.m.Terms {
		o.score += s.termValue(t)
	}
	for b := range s.occ {
		s.charge(&o, b)
	}
	for c := range s.m.Campers {
		if s.disrupted(c) {
			o.moved++
		}
	}
	for k := range s.m.Separations {
		if s.sepViolated(k) {
			o.viol++
		}
	}
	for _, t := range s.m.AgeLocks {
		if !s.ageMatch(t) {
			o.viol++
		}
	}
	return o
}

// local evaluates the part of the objective that can change when the given
// units move between the given bunks.
func (s *state) local(bunks []int, units []int) objective {
	s.tick++
	var campers []int
	mark := func(c int) {
		if s.camperStamp[c] != s.tick {
			s.camperStamp[c] = s.tick
			campers = append(campers, c)
		}
	}
	for _, b := range bunks {
		for _, c := range s.occ[b] {
			mark(c)
		}
	}
	for _, u := range units {
		for _, c := range s.m.Units[u].Members {
			mark(c)
		}
	}
	sort.Ints(campers)

	var o objective
	for _, c := range campers {
		for _, t := range s.termsOf[c] {
			if s.termStamp[t] != s.tick {
				s.termStamp[t] = s.tick
				o.score += s.termValue(s.m.Terms[t])
			}
		}
		for _, k := range s.locksOf[c] {
			if s.lockStamp[k] != s.tick {
				s.lockStamp[k] = s.tick
				if !s.ageMatch(s.m.AgeLocks[k]) {
					o.viol++
				}
			}
		}
	}
	for _, b := range bunks {
		s.charge(&o, b)
	}
	for _, u := range units {
		for _, c := range s.m.Units[u].Members {
			if s.disrupted(c) {
				o.moved++
			}
		}
		for _, k := range s.sepsOf[u] {
			p := s.m.Separations[k]
			other := p[0]
			if other == u {
				other = p[1]
			}
			if containsInt(units, other) && other < u {
				continue
			}
			if s.sepViolated(k) {
				o.viol++
			}
		}
	}
	return o
}

// bound is an optimistic objective for a partial placement: undecided
// requests count as satisfied, cohesion as free and unplaced campers as
// unmoved.
func (s *state) bound() objective {
	var o objective
	for _, t := range s.m.Terms {
		full := s.m.Weights.Request * float64(t.Priority)
		rb := s.bunkOf(t.Requester)
		switch t.Type {
		case models.TypeAgePreference:
			if rb == unplaced || s.ageMatch(t) || s.real(rb) && s.load[rb] < s.capacity(rb) {
				o.score += full
			}
		default:
			if rb == unplaced || s.bunkOf(t.Target) == unplaced {
				o.score += full
			} else {
				o.score += s.termValue(t)
			}
		}
	}
	o.score -= s.penalty(s.sink)
	for c := range s.m.Campers {
		if s.disrupted(c) {
			o.moved++
		}
	}
	for k := range s.m.Separations {
		if s.sepViolated(k) {
			o.viol++
		}
	}
	for _, t := range s.m.AgeLocks {
		rb := s.bunkOf(t.Requester)
		if rb == unplaced || s.ageMatch(t) {
			continue
		}
		if !s.real(rb) || s.load[rb] >= s.capacity(rb) {
			o.viol++
		}
	}
	return o
}

func (s *state) satisfiedCount() int {
	n := 0
	for _, t := range s.m.Terms {
		if s.satisfied(t) {
			n++
		}
	}
	return n
}

func (s *state) snapshot() []int {
	return append([]int(nil), s.unitBunk...)
}

func (s *state) restore(unitBunk []int) {
	for u := range s.unitBunk {
		s.remove(u)
	}
	for u, b := range unitBunk {
		if b != unplaced {
			s.place(u, b)
		}
	}
}

func insertSorted(s []int, v int) []int {
	i := sort.SearchInts(s, v)
	s = append(s, 0)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}

func removeSorted(s []int, v int) []int {
	i := sort.SearchInts(s, v)
	if i < len(s) && s[i] == v {
		return append(s[:i], s[i+1:]...)
	}
	return s
}

func containsInt(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
