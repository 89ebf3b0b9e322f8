package solver

import (
	"sort"

	"github.com/arnavshah/bunk-planner-go/pkg/constraints"
)

// construct builds a starting placement: pinned units, then units that can
// keep their warm-start bunk, then a greedy pass over the rest. It returns
// false when some unit found no bunk with room.
func construct(s *state, free []int) bool {
	var rest []int
	for _, u := range free {
		if b, ok := warmBunk(s, u); ok && s.fits(u, b) {
			s.place(u, b)
			continue
		}
		rest = append(rest, u)
	}

	m := s.m
	sort.SliceStable(rest, func(i, j int) bool {
		a, b := m.Units[rest[i]], m.Units[rest[j]]
		if a.Size() != b.Size() {
			return a.Size() > b.Size()
		}
		if len(a.Eligible) != len(b.Eligible) {
			return len(a.Eligible) < len(b.Eligible)
		}
		return rest[i] < rest[j]
	})

	for _, u := range rest {
		best, found := unplaced, false
		var bestGain objective
		for _, b := range choices(m, u) {
			if !s.fits(u, b) {
				continue
			}
			before := s.local([]int{b}, []int{u})
			s.place(u, b)
			gain := s.local([]int{b}, []int{u}).sub(before)
			s.remove(u)
			if !found || gain.better(bestGain) {
				best, bestGain, found = b, gain, true
			}
		}
		if !found {
			return false
		}
		s.place(u, best)
	}
	return true
}

// warmBunk returns the bunk every member of u held in the warm start
func warmBunk(s *state, u int) (int, bool) {
	unit := s.m.Units[u]
	b := s.warm[unit.Members[0]]
	if b == unplaced {
		return unplaced, false
	}
	for _, c := range unit.Members[1:] {
		if s.warm[c] != b {
			return unplaced, false
		}
	}
	for _, e := range unit.Eligible {
		if e == b {
			return b, true
		}
	}
	return unplaced, false
}

// repack searches for any capacity-feasible placement of the free units,
// ignoring the objective. It reports whether one was found; when the limiter
// stops first nothing is proven.
func repack(s *state, free []int, lim *limiter) bool {
	for _, u := range free {
		s.remove(u)
	}
	order := append([]int(nil), free...)
	m := s.m
	sort.SliceStable(order, func(i, j int) bool {
		a, b := m.Units[order[i]], m.Units[order[j]]
		if a.Size() != b.Size() {
			return a.Size() > b.Size()
		}
		return order[i] < order[j]
	})
	return pack(s, order, 0, lim)
}

func pack(s *state, order []int, k int, lim *limiter) bool {
	if k == len(order) {
		return true
	}
	u := order[k]
	for _, b := range choices(s.m, u) {
		if !lim.step() {
			return false
		}
		if !s.fits(u, b) {
			continue
		}
		s.place(u, b)
		if pack(s, order, k+1, lim) {
			return true
		}
		s.remove(u)
		if lim.stopped() {
			return false
		}
	}
	return false
}

type moveKind int

const (
	relocate moveKind = iota
	swap
)

type candidate struct {
	kind  moveKind
	u, v  int
	to    int
	delta objective
}

// improve runs best-improvement local search with relocate and swap moves,
// scanned in canonical unit and bunk order, until no move improves the
// objective or the limiter stops.
func improve(s *state, free []int, lim *limiter) {
	for {
		var best *candidate
		consider := func(c candidate) {
			if c.delta.improving() && (best == nil || c.delta.better(best.delta)) {
				cc := c
				best = &cc
			}
		}

		for _, u := range free {
			from := s.unitBunk[u]
			for _, b := range choices(s.m, u) {
				if b == from || !s.fits(u, b) {
					continue
				}
				if !lim.step() {
					break
				}
				consider(candidate{kind: relocate, u: u, to: b, delta: relocateDelta(s, u, b)})
			}
			if lim.stopped() {
				break
			}
		}

		if !lim.stopped() {
		swaps:
			for i, u := range free {
				for _, v := range free[i+1:] {
					if !canSwap(s, u, v) {
						continue
					}
					if !lim.step() {
						break swaps
					}
					consider(candidate{kind: swap, u: u, v: v, delta: swapDelta(s, u, v)})
				}
			}
		}

		if best == nil {
			return
		}
		switch best.kind {
		case relocate:
			s.move(best.u, best.to)
		case swap:
			bu, bv := s.unitBunk[best.u], s.unitBunk[best.v]
			s.move(best.u, bv)
			s.move(best.v, bu)
		}
		if lim.stopped() {
			return
		}
	}
}

func relocateDelta(s *state, u, to int) objective {
	from := s.unitBunk[u]
	bunks := []int{from, to}
	units := []int{u}
	before := s.local(bunks, units)
	s.move(u, to)
	after := s.local(bunks, units)
	s.move(u, from)
	return after.sub(before)
}

func canSwap(s *state, u, v int) bool {
	bu, bv := s.unitBunk[u], s.unitBunk[v]
	if bu == bv {
		return false
	}
	if !allowed(s.m, u, bv) || !allowed(s.m, v, bu) {
		return false
	}
	su, sv := s.m.Units[u].Size(), s.m.Units[v].Size()
	return s.load[bu]-su+sv <= s.capacity(bu) && s.load[bv]-sv+su <= s.capacity(bv)
}

func swapDelta(s *state, u, v int) objective {
	bu, bv := s.unitBunk[u], s.unitBunk[v]
	bunks := []int{bu, bv}
	units := []int{u, v}
	before := s.local(bunks, units)
	s.move(u, bv)
	s.move(v, bu)
	after := s.local(bunks, units)
	s.move(u, bu)
	s.move(v, bv)
	return after.sub(before)
}

func allowed(m *constraints.Model, u, b int) bool {
	for _, c := range choices(m, u) {
		if c == b {
			return true
		}
	}
	return false
}
