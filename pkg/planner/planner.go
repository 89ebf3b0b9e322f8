// Package planner orchestrates solves: it pulls session snapshots, seeds the
// search from an existing scenario and stores the outcome as a new draft.
package planner

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/arnavshah/bunk-planner-go/pkg/apperr"
	"github.com/arnavshah/bunk-planner-go/pkg/constraints"
	"github.com/arnavshah/bunk-planner-go/pkg/metrics"
	"github.com/arnavshah/bunk-planner-go/pkg/models"
	"github.com/arnavshah/bunk-planner-go/pkg/scenario"
	"github.com/arnavshah/bunk-planner-go/pkg/solver"
	"github.com/arnavshah/bunk-planner-go/pkg/source"
)

// UsageRecorder accounts finished solves
type UsageRecorder interface {
	RecordSolve(ctx context.Context, sessionID string, campers, iterations int, infeasible bool) error
}

// Options configures a Planner
type Options struct {
	Build constraints.Options
	// Workers bounds SolveAll parallelism.
	Workers int
	Usage   UsageRecorder
	Logger  *zap.Logger
}

// SolveRequest asks for a new draft of one session
type SolveRequest struct {
	SessionID string `json:"session_id"`
	// ScenarioID names the warm start; empty uses the live scenario.
	ScenarioID string `json:"scenario_id,omitempty"`
	// InPlace stores the result back into the named draft instead of
	// creating a new one.
	InPlace bool          `json:"in_place,omitempty"`
	Name    string        `json:"name,omitempty"`
	Budget  solver.Budget `json:"budget"`
}

// SolveResult is a solver result plus the draft it produced
type SolveResult struct {
	solver.Result
	SessionID   string           `json:"session_id"`
	WarmStartID string           `json:"warm_start_id,omitempty"`
	Scenario    *models.Scenario `json:"scenario,omitempty"`
}

// Planner is safe for concurrent use. At most one solve per session is
// active; starting another cancels the stale one.
type Planner struct {
	snapshots source.Source
	manager   *scenario.Manager
	solver    *solver.Solver
	metrics   *metrics.Engine
	opts      Options
	logger    *zap.Logger

	mu     sync.Mutex
	active map[string]*run
}

type run struct {
	cancel context.CancelFunc
}

// New creates a planner
func New(snapshots source.Source, manager *scenario.Manager, s *solver.Solver, engine *metrics.Engine, opts Options) *Planner {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{
		snapshots: snapshots,
		manager:   manager,
		solver:    s,
		metrics:   engine,
		opts:      opts,
		logger:    logger,
		active:    make(map[string]*run),
	}
}

// begin registers a solve for the session, cancelling any previous one
func (p *Planner) begin(ctx context.Context, sessionID string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	r := &run{cancel: cancel}

	p.mu.Lock()
	if prev, ok := p.active[sessionID]; ok {
		prev.cancel()
		p.logger.Info("stale solve cancelled", zap.String("session_id", sessionID))
	}
	p.active[sessionID] = r
	p.mu.Unlock()

	return ctx, func() {
		p.mu.Lock()
		if p.active[sessionID] == r {
			delete(p.active, sessionID)
		}
		p.mu.Unlock()
		cancel()
	}
}

// Active reports whether a solve for the session is running
func (p *Planner) Active(sessionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.active[sessionID]
	return ok
}

// Snapshot returns the session's current upstream data
func (p *Planner) Snapshot(ctx context.Context, sessionID string) (*models.Snapshot, error) {
	return p.snapshots.Snapshot(ctx, sessionID)
}

// Solve runs one solve. Infeasibility is reported in the result; errors mean
// the solve could not run or was cancelled.
func (p *Planner) Solve(ctx context.Context, req SolveRequest) (*SolveResult, error) {
	if req.SessionID == "" {
		return nil, apperr.New(apperr.CodeInvalidInput, "session_id is required")
	}
	if req.InPlace && req.ScenarioID == "" {
		return nil, apperr.New(apperr.CodeInvalidInput, "in_place requires scenario_id")
	}
	ctx, done := p.begin(ctx, req.SessionID)
	defer done()

	snap, err := p.snapshots.Snapshot(ctx, req.SessionID)
	if err != nil {
		return nil, cancelled(ctx, err)
	}
	warm, err := p.warmStart(ctx, req)
	if err != nil {
		return nil, cancelled(ctx, err)
	}

	out := &SolveResult{SessionID: req.SessionID}
	var (
		in         constraints.Input
		warmAssign *models.Assignment
	)
	if warm != nil {
		out.WarmStartID = warm.ID
		in.Pins = warm.Assignment.Pins()
		in.LockGroups = warm.LockGroups
		warmAssign = warm.Assignment
	}

	model, err := constraints.Build(snap, in, p.opts.Build)
	if err != nil {
		res, ok := solver.Infeasible(err)
		if !ok {
			return nil, err
		}
		out.Result = res
		p.record(ctx, req.SessionID, len(snap.Campers), out)
		return out, nil
	}

	res, err := p.solver.Solve(ctx, model, warmAssign, req.Budget)
	if err != nil {
		return nil, err
	}
	out.Result = res
	p.record(ctx, req.SessionID, len(model.Campers), out)
	if res.Shortage > 0 {
		p.logger.Warn("session is short of beds",
			zap.String("session_id", req.SessionID), zap.Int("shortage", res.Shortage))
	}
	if res.Status == solver.StatusInfeasible {
		return out, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, cancelled(ctx, err)
	}

	seed := res.Assignment.Clone()
	for camperID, bunkID := range in.Pins {
		if seed.BunkOf(camperID) == bunkID {
			seed.Placements[camperID] = models.Placement{BunkID: bunkID, Locked: true}
		}
	}
	var sc *models.Scenario
	if req.InPlace {
		sc, err = p.manager.ReplaceAssignment(ctx, warm.ID, seed)
	} else {
		sc, err = p.manager.Create(ctx, scenario.CreateParams{
			SessionID:  req.SessionID,
			Name:       req.Name,
			Seed:       seed,
			LockGroups: in.LockGroups,
		})
	}
	if err != nil {
		return nil, err
	}
	met := p.metrics.Score(snap, sc.Assignment, sc.LockGroups)
	raw, err := json.Marshal(met)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "encode metrics")
	}
	if err := p.manager.SetMetrics(ctx, sc.ID, raw); err != nil {
		return nil, err
	}
	sc.Metrics = raw
	out.Scenario = sc

	p.logger.Info("solve stored",
		zap.String("session_id", req.SessionID),
		zap.String("scenario_id", sc.ID),
		zap.String("warm_start_id", out.WarmStartID),
		zap.String("status", string(res.Status)),
		zap.Float64("score", res.Score),
		zap.Int("moved", res.Moved),
	)
	return out, nil
}

// warmStart picks the named scenario, else the live one, else nothing
func (p *Planner) warmStart(ctx context.Context, req SolveRequest) (*models.Scenario, error) {
	if req.ScenarioID != "" {
		sc, err := p.manager.Get(ctx, req.ScenarioID)
		if err != nil {
			return nil, err
		}
		if sc.SessionID != req.SessionID {
			return nil, apperr.New(apperr.CodeInvalidInput, "scenario %s belongs to session %s", sc.ID, sc.SessionID)
		}
		if req.InPlace && sc.Status != models.StatusDraft {
			return nil, apperr.New(apperr.CodeInvalidInput, "scenario %s is %s; only drafts are re-solved in place", sc.ID, sc.Status)
		}
		return sc, nil
	}
	live, err := p.manager.Live(ctx, req.SessionID)
	if apperr.IsCode(err, apperr.CodeNotFound) {
		return nil, nil
	}
	return live, err
}

func (p *Planner) record(ctx context.Context, sessionID string, campers int, out *SolveResult) {
	if p.opts.Usage == nil {
		return
	}
	infeasible := out.Status == solver.StatusInfeasible
	if err := p.opts.Usage.RecordSolve(context.WithoutCancel(ctx), sessionID, campers, out.Iterations, infeasible); err != nil {
		p.logger.Warn("failed to record solve usage", zap.String("session_id", sessionID), zap.Error(err))
	}
}

// SolveAll solves several sessions in parallel. The first error cancels the
// remaining solves.
func (p *Planner) SolveAll(ctx context.Context, reqs []SolveRequest) ([]*SolveResult, error) {
	seen := make(map[string]bool, len(reqs))
	for _, r := range reqs {
		if seen[r.SessionID] {
			return nil, apperr.New(apperr.CodeInvalidInput, "session %s requested twice", r.SessionID)
		}
		seen[r.SessionID] = true
	}

	results := make([]*SolveResult, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Workers)
	for i, r := range reqs {
		g.Go(func() error {
			res, err := p.Solve(gctx, r)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Metrics scores a stored scenario against its session's current snapshot
func (p *Planner) Metrics(ctx context.Context, scenarioID string) (metrics.Metrics, error) {
	sc, err := p.manager.Get(ctx, scenarioID)
	if err != nil {
		return metrics.Metrics{}, err
	}
	snap, err := p.snapshots.Snapshot(ctx, sc.SessionID)
	if err != nil {
		return metrics.Metrics{}, err
	}
	return p.metrics.Score(snap, sc.Assignment, sc.LockGroups), nil
}

// Compare diffs two scenarios of the same session
func (p *Planner) Compare(ctx context.Context, baseID, otherID string) (metrics.Diff, error) {
	base, err := p.manager.Get(ctx, baseID)
	if err != nil {
		return metrics.Diff{}, err
	}
	other, err := p.manager.Get(ctx, otherID)
	if err != nil {
		return metrics.Diff{}, err
	}
	if base.SessionID != other.SessionID {
		return metrics.Diff{}, apperr.New(apperr.CodeInvalidInput,
			"scenarios %s and %s belong to different sessions", base.ID, other.ID)
	}
	snap, err := p.snapshots.Snapshot(ctx, base.SessionID)
	if err != nil {
		return metrics.Diff{}, err
	}
	return p.metrics.CompareScenarios(snap, base, other), nil
}

func cancelled(ctx context.Context, err error) error {
	if ctx.Err() == nil || apperr.IsCode(err, apperr.CodeSolveCancelled) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return apperr.Wrap(apperr.CodeSolveCancelled, err, "solve cancelled")
	}
	return err
}
