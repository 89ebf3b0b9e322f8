// Package solver searches for bunk assignments that satisfy every hard
// constraint of a model while maximizing the weighted request objective.
package solver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/arnavshah/bunk-planner-go/pkg/apperr"
	"github.com/arnavshah/bunk-planner-go/pkg/constraints"
	"github.com/arnavshah/bunk-planner-go/pkg/models"
)

// Status is the outcome class of a solve
type Status string

const (
	StatusOptimal    Status = "optimal"
	StatusFeasible   Status = "feasible"
	StatusInfeasible Status = "infeasible"
)

// Mode names the search strategy that produced a result
type Mode string

const (
	ModeExact Mode = "exact"
	ModeLocal Mode = "local"
)

// Budget caps a solve by wall time and by search iterations. Zero fields
// fall back to the solver defaults.
type Budget struct {
	TimeLimit     time.Duration `json:"time_limit"`
	MaxIterations int           `json:"max_iterations"`
}

// Options configures a Solver
type Options struct {
	DefaultBudget Budget
	// ExactLimit is the largest search space solved by exhaustive branch
	// and bound; bigger models use local search.
	ExactLimit int
	// Workers bounds parallel branch exploration.
	Workers int
	Logger  *zap.Logger
}

// DefaultOptions returns the standard solver settings
func DefaultOptions() Options {
	return Options{
		DefaultBudget: Budget{TimeLimit: 10 * time.Second, MaxIterations: 2_000_000},
		ExactLimit:    200_000,
		Workers:       4,
	}
}

// Result is the outcome of one solve
type Result struct {
	Status     Status              `json:"status"`
	Mode       Mode                `json:"mode"`
	Assignment *models.Assignment  `json:"assignment,omitempty"`
	Score      float64             `json:"score"`
	Gap        float64             `json:"gap"`
	Satisfied  int                 `json:"satisfied_requests"`
	Requests   int                 `json:"requests"`
	Moved      int                 `json:"moved"`
	// Shortage is how many campers the model could not seat when
	// unassigned campers are allowed.
	Shortage   int                 `json:"shortage,omitempty"`
	Violations []apperr.Violation  `json:"violations,omitempty"`
	Reason     string              `json:"reason,omitempty"`
	Proven     bool                `json:"proven"`
	Iterations int                 `json:"iterations"`
	Elapsed    time.Duration       `json:"elapsed"`
	Skipped    []constraints.Skip  `json:"skipped,omitempty"`
	Suppressed []constraints.Skip  `json:"suppressed,omitempty"`
}

// Infeasible converts a builder failure into an infeasible result
func Infeasible(err error) (Result, bool) {
	if !apperr.IsCode(err, apperr.CodeInfeasible) {
		return Result{}, false
	}
	var e *apperr.Error
	errors.As(err, &e)
	return Result{Status: StatusInfeasible, Violations: e.Violations, Reason: e.Message, Proven: true}, true
}

// Solver runs budgeted searches. It holds no per-solve state and is safe
// for concurrent use across sessions.
type Solver struct {
	opts   Options
	logger *zap.Logger
}

// New creates a solver
func New(opts Options) *Solver {
	def := DefaultOptions()
	if opts.DefaultBudget.TimeLimit <= 0 {
		opts.DefaultBudget.TimeLimit = def.DefaultBudget.TimeLimit
	}
	if opts.DefaultBudget.MaxIterations <= 0 {
		opts.DefaultBudget.MaxIterations = def.DefaultBudget.MaxIterations
	}
	if opts.ExactLimit <= 0 {
		opts.ExactLimit = def.ExactLimit
	}
	if opts.Workers <= 0 {
		opts.Workers = def.Workers
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Solver{opts: opts, logger: logger}
}

// Solve searches model for the best assignment. warm, when given, seeds the
// search; among placements with the same request score the one moving the
// fewest campers away from it wins, and cohesion only decides between equals.
// The reported score still charges the disruption weight per moved camper.
// Infeasibility is reported in the result; errors are reserved for
// cancellation (SOLVE_CANCELLED) and defects (INTERNAL).
func (s *Solver) Solve(ctx context.Context, m *constraints.Model, warm *models.Assignment, budget Budget) (Result, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return Result{}, apperr.Wrap(apperr.CodeSolveCancelled, err, "solve cancelled")
	}
	if budget.TimeLimit <= 0 {
		budget.TimeLimit = s.opts.DefaultBudget.TimeLimit
	}
	if budget.MaxIterations <= 0 {
		budget.MaxIterations = s.opts.DefaultBudget.MaxIterations
	}
	deadline := start.Add(budget.TimeLimit)
	warmIdx := warmIndex(m, warm)
	free := freeUnits(m)

	var (
		res Result
		err error
	)
	if space := searchSpace(m, free); space <= float64(s.opts.ExactLimit) {
		res, err = s.solveExact(ctx, m, warmIdx, free, budget, deadline)
	} else {
		res, err = s.solveLocal(ctx, m, warmIdx, free, budget, deadline)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Result{}, apperr.Wrap(apperr.CodeSolveCancelled, err, "solve cancelled")
		}
		return Result{}, err
	}

	res.Elapsed = time.Since(start)
	res.Requests = len(m.Terms)
	res.Shortage = m.Shortage
	res.Skipped = m.Skipped
	res.Suppressed = m.Suppressed
	if warm != nil && res.Assignment != nil {
		res.Moved = countMoved(warm, res.Assignment)
	}
	s.logger.Debug("solve finished",
		zap.String("session_id", m.Session.ID),
		zap.String("status", string(res.Status)),
		zap.String("mode", string(res.Mode)),
		zap.Float64("score", res.Score),
		zap.Int("iterations", res.Iterations),
		zap.Duration("elapsed", res.Elapsed),
	)
	return res, nil
}

func (s *Solver) solveExact(ctx context.Context, m *constraints.Model, warm []int, free []int, budget Budget, deadline time.Time) (Result, error) {
	out, err := exact(ctx, m, warm, free, budget, deadline, s.opts.Workers)
	if err != nil {
		return Result{}, err
	}
	if !out.found {
		if !out.complete {
			// Nothing found inside the budget; let local search try.
			res, err := s.solveLocal(ctx, m, warm, free, budget, deadline)
			res.Iterations += out.nodes
			return res, err
		}
		return Result{
			Status:     StatusInfeasible,
			Mode:       ModeExact,
			Violations: []apperr.Violation{packingViolation(m)},
			Reason:     "campers cannot be packed into eligible bunks",
			Proven:     true,
			Iterations: out.nodes,
		}, nil
	}

	st := base(m, warm)
	st.restore(out.unitBunk)
	res, err := s.finish(m, st, out.best, ModeExact, out.complete)
	res.Iterations = out.nodes
	return res, err
}

func (s *Solver) solveLocal(ctx context.Context, m *constraints.Model, warm []int, free []int, budget Budget, deadline time.Time) (Result, error) {
	lim := &limiter{ctx: ctx, deadline: deadline, max: budget.MaxIterations}
	st := base(m, warm)
	if !construct(st, free) {
		if !repack(st, free, lim) {
			if lim.err != nil {
				return Result{}, lim.err
			}
			return Result{
				Status:     StatusInfeasible,
				Mode:       ModeLocal,
				Violations: []apperr.Violation{packingViolation(m)},
				Reason:     "campers cannot be packed into eligible bunks",
				Proven:     !lim.exhausted,
				Iterations: lim.n,
			}, nil
		}
	}
	improve(st, free, lim)
	if lim.err != nil {
		return Result{}, lim.err
	}
	res, err := s.finish(m, st, st.full(), ModeLocal, false)
	res.Iterations = lim.n
	return res, err
}

// finish verifies the placement and turns it into a result
func (s *Solver) finish(m *constraints.Model, st *state, obj objective, mode Mode, proven bool) (Result, error) {
	if err := verify(st); err != nil {
		s.logger.Error("solver produced an invalid assignment",
			zap.String("session_id", m.Session.ID), zap.Error(err))
		return Result{}, err
	}

	score := st.weighted(obj)
	res := Result{Mode: mode, Score: score, Satisfied: st.satisfiedCount()}
	if obj.viol > 0 {
		res.Status = StatusInfeasible
		res.Violations = lockViolations(st)
		res.Reason = fmt.Sprintf("%d locked requests cannot be honoured", obj.viol)
		res.Proven = proven
		return res, nil
	}

	res.Assignment = toAssignment(st)
	upper := m.UpperBound()
	switch {
	case proven:
		res.Status = StatusOptimal
		res.Proven = true
	case score >= upper-eps:
		res.Status = StatusOptimal
		res.Proven = true
	default:
		res.Status = StatusFeasible
		res.Gap = upper - score
	}
	return res, nil
}

// verify re-checks every hard constraint. A failure is a defect in the search.
func verify(st *state) error {
	m := st.m
	for b := range m.Bunks {
		if st.load[b] > m.Bunks[b].Capacity {
			return apperr.New(apperr.CodeInternal, "bunk %s holds %d of %d", m.Bunks[b].ID, st.load[b], m.Bunks[b].Capacity)
		}
	}
	if !m.Sink && len(st.occ[st.sink]) > 0 {
		return apperr.New(apperr.CodeInternal, "campers left unassigned without a sink")
	}
	for u, unit := range m.Units {
		b := st.unitBunk[u]
		if b == unplaced {
			return apperr.New(apperr.CodeInternal, "unit %s was never placed", unit.ID)
		}
		if unit.Pinned >= 0 && b != unit.Pinned {
			return apperr.New(apperr.CodeInternal, "unit %s left its locked bunk", unit.ID)
		}
		if b != st.sink && !allowed(m, u, b) {
			return apperr.New(apperr.CodeInternal, "unit %s placed in ineligible bunk %s", unit.ID, m.Bunks[b].ID)
		}
		for _, c := range unit.Members {
			if st.bunkOf(c) != b {
				return apperr.New(apperr.CodeInternal, "unit %s was split", unit.ID)
			}
		}
	}
	return nil
}

func toAssignment(st *state) *models.Assignment {
	a := models.NewAssignment(st.m.Session.ID)
	for c, camper := range st.m.Campers {
		if b := st.bunkOf(c); st.real(b) {
			a.Set(camper.ID, st.m.Bunks[b].ID)
		}
	}
	return a
}

func lockViolations(st *state) []apperr.Violation {
	m := st.m
	var out []apperr.Violation
	for k, p := range m.Separations {
		if st.sepViolated(k) {
			ua, ub := m.Units[p[0]], m.Units[p[1]]
			out = append(out, apperr.Violation{
				Constraint: apperr.ConstraintLockedRequest,
				Message:    fmt.Sprintf("units %s and %s must be kept apart", ua.ID, ub.ID),
				Entities:   []string{ua.ID, ub.ID},
			})
		}
	}
	for _, t := range m.AgeLocks {
		if !st.ageMatch(t) {
			out = append(out, apperr.Violation{
				Constraint: apperr.ConstraintLockedRequest,
				Message:    fmt.Sprintf("locked age preference %s has no %s bunkmate", t.RequestID, t.Direction),
				Entities:   []string{t.RequestID, m.Campers[t.Requester].ID},
			})
		}
	}
	return out
}

func packingViolation(m *constraints.Model) apperr.Violation {
	ids := make([]string, 0, len(m.Bunks))
	for _, b := range m.Bunks {
		ids = append(ids, b.ID)
	}
	return apperr.Violation{
		Constraint: apperr.ConstraintCapacity,
		Message:    "campers and lock groups cannot be packed into the eligible bunks",
		Entities:   ids,
	}
}

func countMoved(warm, out *models.Assignment) int {
	n := 0
	for id, p := range warm.Placements {
		if p.BunkID != "" && out.BunkOf(id) != p.BunkID {
			n++
		}
	}
	return n
}
