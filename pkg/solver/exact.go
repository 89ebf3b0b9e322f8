package solver

import (
	"context"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arnavshah/bunk-planner-go/pkg/constraints"
)

// limiter enforces the iteration budget, the deadline and cancellation
type limiter struct {
	ctx       context.Context
	deadline  time.Time
	max       int
	n         int
	exhausted bool
	err       error
}

// step counts one iteration and reports whether the search may continue
func (l *limiter) step() bool {
	if l.exhausted || l.err != nil {
		return false
	}
	l.n++
	if l.max > 0 && l.n > l.max {
		l.exhausted = true
		return false
	}
	if l.n&0xff == 0 {
		if err := l.ctx.Err(); err != nil {
			l.err = err
			return false
		}
		if !l.deadline.IsZero() && time.Now().After(l.deadline) {
			l.exhausted = true
			return false
		}
	}
	return true
}

func (l *limiter) stopped() bool { return l.exhausted || l.err != nil }

// searchSpace estimates the number of complete placements of the free units
func searchSpace(m *constraints.Model, free []int) float64 {
	space := 1.0
	for _, u := range free {
		space *= float64(len(choices(m, u)))
		if space > math.MaxInt32 {
			return space
		}
	}
	return space
}

// branch is the outcome of one top-level subtree of the exact search
type branch struct {
	found    bool
	best     objective
	unitBunk []int
	complete bool
	nodes    int
	err      error
}

// exact runs branch and bound. The first free unit's choices are explored in
// parallel; each subtree keeps its own incumbent and the reduction picks the
// best by objective, then branch order, so the winner does not depend on
// scheduling.
func exact(ctx context.Context, m *constraints.Model, warm []int, free []int, budget Budget, deadline time.Time, workers int) (branch, error) {
	if len(free) == 0 {
		s := base(m, warm)
		return branch{found: true, best: s.full(), unitBunk: s.snapshot(), complete: true}, nil
	}

	first := choices(m, free[0])
	results := make([]branch, len(first))
	perBranch := 0
	if budget.MaxIterations > 0 {
		perBranch = (budget.MaxIterations + len(first) - 1) / len(first)
	}

	g, gctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, b := range first {
		g.Go(func() error {
			s := base(m, warm)
			if !s.fits(free[0], b) {
				results[i] = branch{complete: true}
				return nil
			}
			s.place(free[0], b)
			lim := &limiter{ctx: gctx, deadline: deadline, max: perBranch}
			r := &branch{}
			dfs(s, free, 1, lim, r)
			r.complete = !lim.stopped()
			r.nodes = lim.n
			r.err = lim.err
			results[i] = *r
			return lim.err
		})
	}
	if err := g.Wait(); err != nil {
		return branch{}, err
	}

	out := branch{complete: true}
	for _, r := range results {
		out.nodes += r.nodes
		out.complete = out.complete && r.complete
		if r.found && (!out.found || r.best.better(out.best)) {
			out.found = true
			out.best = r.best
			out.unitBunk = r.unitBunk
		}
	}
	return out, nil
}

func dfs(s *state, free []int, k int, lim *limiter, r *branch) {
	if k == len(free) {
		o := s.full()
		if !r.found || o.better(r.best) {
			r.found = true
			r.best = o
			r.unitBunk = s.snapshot()
		}
		return
	}
	u := free[k]
	for _, b := range choices(s.m, u) {
		if !lim.step() {
			return
		}
		if !s.fits(u, b) {
			continue
		}
		s.place(u, b)
		if !r.found || s.bound().better(r.best) {
			dfs(s, free, k+1, lim, r)
		}
		s.remove(u)
		if lim.stopped() {
			return
		}
	}
}

// base returns a state with every pinned unit placed
func base(m *constraints.Model, warm []int) *state {
	s := newState(m, warm)
	for u, unit := range m.Units {
		if unit.Pinned >= 0 {
			s.place(u, unit.Pinned)
		}
	}
	return s
}

// freeUnits lists unpinned units in canonical order
func freeUnits(m *constraints.Model) []int {
	var free []int
	for u, unit := range m.Units {
		if unit.Pinned < 0 {
			free = append(free, u)
		}
	}
	return free
}
