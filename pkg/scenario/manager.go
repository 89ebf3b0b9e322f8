// Package scenario owns mutable draft assignments between solves.
package scenario

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arnavshah/bunk-planner-go/pkg/apperr"
	"github.com/arnavshah/bunk-planner-go/pkg/metrics"
	"github.com/arnavshah/bunk-planner-go/pkg/models"
)

// Snapshots supplies the read-only session data edits are validated against
type Snapshots interface {
	Snapshot(ctx context.Context, sessionID string) (*models.Snapshot, error)
}

// Invalidator is told about bunks whose occupants changed
type Invalidator interface {
	Invalidate(bunkID string)
}

// CreateParams describes a new scenario
type CreateParams struct {
	SessionID string
	Name      string
	// Seed is copied into the new scenario; ignored when CopyFrom is set.
	Seed       *models.Assignment
	LockGroups []models.LockGroup
	// CopyFrom names a scenario of the same session to duplicate.
	CopyFrom string
}

// Manager serializes mutations per scenario. Mutations on different
// scenarios run independently; promotion also holds a per-session lock.
type Manager struct {
	store       Store
	snapshots   Snapshots
	invalidator Invalidator
	logger      *zap.Logger

	now   func() time.Time
	newID func() string

	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	sessions map[string]*sync.Mutex
}

// NewManager creates a manager. invalidator may be nil.
func NewManager(store Store, snapshots Snapshots, invalidator Invalidator, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:       store,
		snapshots:   snapshots,
		invalidator: invalidator,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
		locks:       make(map[string]*sync.Mutex),
		sessions:    make(map[string]*sync.Mutex),
	}
}

func (m *Manager) lockScenario(id string) func() {
	m.mu.Lock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	m.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (m *Manager) lockSession(id string) func() {
	m.mu.Lock()
	l, ok := m.sessions[id]
	if !ok {
		l = &sync.Mutex{}
		m.sessions[id] = l
	}
	m.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Create stores a new draft scenario
func (m *Manager) Create(ctx context.Context, p CreateParams) (*models.Scenario, error) {
	if p.SessionID == "" {
		return nil, apperr.New(apperr.CodeInvalidInput, "session_id is required")
	}
	snap, err := m.snapshots.Snapshot(ctx, p.SessionID)
	if err != nil {
		return nil, err
	}

	now := m.now()
	sc := &models.Scenario{
		ID:         m.newID(),
		SessionID:  p.SessionID,
		Name:       p.Name,
		Status:     models.StatusDraft,
		Assignment: p.Seed.Clone(),
		LockGroups: append([]models.LockGroup(nil), p.LockGroups...),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if p.CopyFrom != "" {
		src, err := m.store.Get(ctx, p.CopyFrom)
		if err != nil {
			return nil, err
		}
		if src.SessionID != p.SessionID {
			return nil, apperr.New(apperr.CodeInvalidInput, "scenario %s belongs to session %s", src.ID, src.SessionID)
		}
		copied := src.Clone()
		sc.Assignment = copied.Assignment
		sc.LockGroups = copied.LockGroups
		sc.SourceScenarioID = src.ID
	}
	if sc.Assignment == nil {
		sc.Assignment = models.NewAssignment(p.SessionID)
	}
	sc.Assignment.SessionID = p.SessionID
	if sc.Name == "" {
		sc.Name = "Scenario " + now.Format("2006-01-02 15:04")
	}
	for _, g := range sc.LockGroups {
		if err := g.Validate(); err != nil {
			return nil, apperr.Wrap(apperr.CodeInvalidInput, err, "lock group")
		}
	}

	reconcile(sc, snap)
	if err := m.store.Save(ctx, sc); err != nil {
		return nil, err
	}
	m.logger.Info("scenario created",
		zap.String("scenario_id", sc.ID),
		zap.String("session_id", sc.SessionID),
		zap.String("source_scenario_id", sc.SourceScenarioID),
	)
	return sc, nil
}

// Get loads a scenario
func (m *Manager) Get(ctx context.Context, id string) (*models.Scenario, error) {
	return m.store.Get(ctx, id)
}

// List returns a session's scenarios, oldest first
func (m *Manager) List(ctx context.Context, sessionID string) ([]*models.Scenario, error) {
	list, err := m.store.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	SortScenarios(list)
	return list, nil
}

// Live returns the session's implemented scenario, or NOT_FOUND
func (m *Manager) Live(ctx context.Context, sessionID string) (*models.Scenario, error) {
	list, err := m.store.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	for _, s := range list {
		if s.Status == models.StatusImplemented {
			return s, nil
		}
	}
	return nil, apperr.New(apperr.CodeNotFound, "session %s has no implemented scenario", sessionID)
}

// mutate runs fn on a copy of the scenario under its lock and saves the
// result only when fn succeeds.
func (m *Manager) mutate(ctx context.Context, id string, fn func(sc *models.Scenario, snap *models.Snapshot) error) (*models.Scenario, error) {
	unlock := m.lockScenario(id)
	defer unlock()

	sc, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sc.Status == models.StatusArchived {
		return nil, apperr.New(apperr.CodeInvalidTransition, "scenario %s is archived", id)
	}
	snap, err := m.snapshots.Snapshot(ctx, sc.SessionID)
	if err != nil {
		return nil, err
	}
	if sc.Assignment == nil {
		sc.Assignment = models.NewAssignment(sc.SessionID)
	}
	if err := fn(sc, snap); err != nil {
		return nil, err
	}
	reconcile(sc, snap)
	sc.Metrics = nil
	sc.UpdatedAt = m.now()
	if err := m.store.Save(ctx, sc); err != nil {
		return nil, err
	}
	return sc, nil
}

// Edit moves a camper to bunkID, or unassigns them when bunkID is empty. The
// target bunk must accept the camper and have room; on failure the scenario
// is unchanged. The camper's lock flag is kept.
func (m *Manager) Edit(ctx context.Context, id, camperID, bunkID string) (*models.Scenario, error) {
	var from string
	sc, err := m.mutate(ctx, id, func(sc *models.Scenario, snap *models.Snapshot) error {
		camper, ok := findCamper(snap, camperID)
		if !ok {
			return apperr.New(apperr.CodeNotFound, "camper %s is not enrolled in session %s", camperID, snap.Session.ID)
		}
		from = sc.Assignment.BunkOf(camperID)
		if bunkID == "" {
			delete(sc.Assignment.Placements, camperID)
			return nil
		}
		if from == bunkID {
			return nil
		}
		bunk, ok := findBunk(snap, bunkID)
		if !ok {
			return apperr.New(apperr.CodeNotFound, "bunk %s is not in session %s", bunkID, snap.Session.ID)
		}
		if !models.CanOccupy(camper, bunk, snap.Session) {
			return &apperr.Error{
				Code:    apperr.CodeIneligibleBunk,
				Message: fmt.Sprintf("bunk %s (%s) does not accept camper %s (%s)", bunk.ID, bunk.EffectiveEligibility(snap.Session), camper.ID, camper.Gender),
				Violations: []apperr.Violation{{
					Constraint: apperr.ConstraintEligibility,
					Message:    "gender eligibility",
					Entities:   []string{camper.ID, bunk.ID},
				}},
			}
		}
		if n := len(sc.Assignment.Occupants(bunk.ID)); n >= bunk.Capacity {
			return &apperr.Error{
				Code:    apperr.CodeCapacityExceeded,
				Message: fmt.Sprintf("bunk %s is full (%d of %d)", bunk.ID, n, bunk.Capacity),
				Violations: []apperr.Violation{{
					Constraint: apperr.ConstraintCapacity,
					Message:    "bunk full",
					Entities:   []string{bunk.ID},
					Amount:     n + 1 - bunk.Capacity,
				}},
			}
		}
		sc.Assignment.Set(camperID, bunkID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.invalidate(from, bunkID)
	m.logger.Debug("camper moved",
		zap.String("scenario_id", id),
		zap.String("camper_id", camperID),
		zap.String("from", from),
		zap.String("to", bunkID),
	)
	return sc, nil
}

// LockCamper pins a placed camper to their current bunk
func (m *Manager) LockCamper(ctx context.Context, id, camperID string) (*models.Scenario, error) {
	return m.setLocked(ctx, id, camperID, true)
}

// UnlockCamper releases a camper's pin
func (m *Manager) UnlockCamper(ctx context.Context, id, camperID string) (*models.Scenario, error) {
	return m.setLocked(ctx, id, camperID, false)
}

func (m *Manager) setLocked(ctx context.Context, id, camperID string, locked bool) (*models.Scenario, error) {
	return m.mutate(ctx, id, func(sc *models.Scenario, _ *models.Snapshot) error {
		p, ok := sc.Assignment.Placements[camperID]
		if !ok || p.BunkID == "" {
			if !locked {
				return nil
			}
			return apperr.New(apperr.CodeInvalidInput, "camper %s is not placed in scenario %s", camperID, sc.ID)
		}
		p.Locked = locked
		sc.Assignment.Placements[camperID] = p
		return nil
	})
}

// LockGroup adds or replaces a lock group. Campers are not moved; when the
// members are not co-located the scenario is flagged inconsistent.
func (m *Manager) LockGroup(ctx context.Context, id string, group models.LockGroup) (*models.Scenario, error) {
	if group.ID == "" {
		group.ID = m.newID()
	}
	return m.mutate(ctx, id, func(sc *models.Scenario, snap *models.Snapshot) error {
		group.SessionID = sc.SessionID
		if err := group.Validate(); err != nil {
			return apperr.Wrap(apperr.CodeInvalidInput, err, "lock group")
		}
		for _, member := range group.Members {
			if _, ok := findCamper(snap, member); !ok {
				return apperr.New(apperr.CodeInvalidInput, "camper %s is not enrolled in session %s", member, sc.SessionID)
			}
		}
		group.Members = append([]string(nil), group.Members...)
		sort.Strings(group.Members)
		if _, i, ok := sc.LockGroupByID(group.ID); ok {
			sc.LockGroups[i] = group
		} else {
			sc.LockGroups = append(sc.LockGroups, group)
		}
		return nil
	})
}

// Unlock removes a lock group
func (m *Manager) Unlock(ctx context.Context, id, groupID string) (*models.Scenario, error) {
	return m.mutate(ctx, id, func(sc *models.Scenario, _ *models.Snapshot) error {
		_, i, ok := sc.LockGroupByID(groupID)
		if !ok {
			return apperr.New(apperr.CodeNotFound, "lock group %s not found in scenario %s", groupID, sc.ID)
		}
		sc.LockGroups = append(sc.LockGroups[:i], sc.LockGroups[i+1:]...)
		return nil
	})
}

// Clear removes every placement that is not individually locked. Lock
// groups are kept.
func (m *Manager) Clear(ctx context.Context, id string) (*models.Scenario, error) {
	var touched []string
	sc, err := m.mutate(ctx, id, func(sc *models.Scenario, _ *models.Snapshot) error {
		for camperID, p := range sc.Assignment.Placements {
			if !p.Locked {
				touched = append(touched, p.BunkID)
				delete(sc.Assignment.Placements, camperID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.invalidate(touched...)
	return sc, nil
}

// ReplaceAssignment swaps in a new assignment, keeping the lock flags of
// campers still placed in their locked bunk.
func (m *Manager) ReplaceAssignment(ctx context.Context, id string, a *models.Assignment) (*models.Scenario, error) {
	return m.mutate(ctx, id, func(sc *models.Scenario, _ *models.Snapshot) error {
		next := a.Clone()
		if next == nil {
			next = models.NewAssignment(sc.SessionID)
		}
		next.SessionID = sc.SessionID
		for camperID, p := range sc.Assignment.Placements {
			if q, ok := next.Placements[camperID]; ok && p.Locked && q.BunkID == p.BunkID {
				q.Locked = true
				next.Placements[camperID] = q
			}
		}
		sc.Assignment = next
		return nil
	})
}

// SetMetrics caches computed metrics on the scenario without touching its
// assignment.
func (m *Manager) SetMetrics(ctx context.Context, id string, raw []byte) error {
	unlock := m.lockScenario(id)
	defer unlock()
	sc, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	sc.Metrics = append([]byte(nil), raw...)
	return m.store.Save(ctx, sc)
}

// Advance moves a scenario one workflow stage forward (draft, review,
// approved). Promotion to implemented goes through Promote.
func (m *Manager) Advance(ctx context.Context, id string) (*models.Scenario, error) {
	return m.transition(ctx, id, func(s models.ScenarioStatus) models.ScenarioStatus {
		if next := s.Next(); next != models.StatusArchived {
			return next
		}
		return ""
	}, false)
}

// Archive retires a scenario. Archiving twice is a no-op.
func (m *Manager) Archive(ctx context.Context, id string) (*models.Scenario, error) {
	return m.transition(ctx, id, func(models.ScenarioStatus) models.ScenarioStatus { return models.StatusArchived }, true)
}

func (m *Manager) transition(ctx context.Context, id string, next func(models.ScenarioStatus) models.ScenarioStatus, idempotent bool) (*models.Scenario, error) {
	unlock := m.lockScenario(id)
	defer unlock()

	sc, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	to := next(sc.Status)
	if idempotent && sc.Status == to {
		return sc, nil
	}
	if to == models.StatusImplemented {
		return nil, apperr.New(apperr.CodeInvalidTransition, "scenario %s must be promoted to become implemented", id)
	}
	if !models.CanTransition(sc.Status, to) {
		return nil, apperr.New(apperr.CodeInvalidTransition, "scenario %s cannot move from %s to %s", id, sc.Status, to)
	}
	sc.Status = to
	sc.UpdatedAt = m.now()
	if err := m.store.Save(ctx, sc); err != nil {
		return nil, err
	}
	return sc, nil
}

// Promote makes a scenario the session's live assignment and archives the
// previously implemented one. Promoting the live scenario again is a no-op.
func (m *Manager) Promote(ctx context.Context, id string) (*models.Scenario, error) {
	sc, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	unlockSession := m.lockSession(sc.SessionID)
	defer unlockSession()

	list, err := m.store.ListBySession(ctx, sc.SessionID)
	if err != nil {
		return nil, err
	}

	unlock := m.lockScenario(id)
	defer unlock()
	sc, err = m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sc.Status == models.StatusImplemented {
		return sc, nil
	}
	if !models.CanTransition(sc.Status, models.StatusImplemented) {
		return nil, apperr.New(apperr.CodeInvalidTransition, "scenario %s cannot be promoted from %s", id, sc.Status)
	}

	now := m.now()
	for _, prev := range list {
		if prev.ID == id || prev.Status != models.StatusImplemented {
			continue
		}
		if err := m.demote(ctx, prev.ID, now); err != nil {
			return nil, err
		}
	}

	sc.Status = models.StatusImplemented
	sc.UpdatedAt = now
	if err := m.store.Save(ctx, sc); err != nil {
		return nil, err
	}
	m.logger.Info("scenario promoted",
		zap.String("scenario_id", sc.ID),
		zap.String("session_id", sc.SessionID),
	)
	return sc, nil
}

func (m *Manager) demote(ctx context.Context, id string, now time.Time) error {
	unlock := m.lockScenario(id)
	defer unlock()
	prev, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	prev.Status = models.StatusArchived
	prev.UpdatedAt = now
	m.logger.Info("scenario demoted", zap.String("scenario_id", id))
	return m.store.Save(ctx, prev)
}

// Delete removes a scenario that is not live
func (m *Manager) Delete(ctx context.Context, id string) error {
	unlock := m.lockScenario(id)
	defer unlock()
	sc, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if sc.Status == models.StatusImplemented {
		return apperr.New(apperr.CodeInvalidTransition, "scenario %s is live and cannot be deleted", id)
	}
	return m.store.Delete(ctx, id)
}

func (m *Manager) invalidate(bunkIDs ...string) {
	if m.invalidator == nil {
		return
	}
	for _, id := range bunkIDs {
		if id != "" {
			m.invalidator.Invalidate(id)
		}
	}
}

// reconcile recomputes the inconsistent flag from the co-location of every
// lock group, snapshot-level and scenario-level, fully inside the session.
func reconcile(sc *models.Scenario, snap *models.Snapshot) {
	enrolled := make(map[string]bool)
	for _, c := range snap.Campers {
		if c.Enrolled && c.SessionID == snap.Session.ID {
			enrolled[c.ID] = true
		}
	}
	var bad []string
	for _, g := range models.MergeLockGroups(snap.LockGroups, sc.LockGroups) {
		inSession := true
		for _, id := range g.Members {
			inSession = inSession && enrolled[id]
		}
		if inSession && !metrics.CoLocated(sc.Assignment, g.Members) {
			bad = append(bad, g.ID)
		}
	}
	sort.Strings(bad)
	sc.InconsistentIDs = bad
	sc.Inconsistent = len(bad) > 0
}

func findCamper(snap *models.Snapshot, id string) (models.Camper, bool) {
	for _, c := range snap.Campers {
		if c.ID == id && c.Enrolled && c.SessionID == snap.Session.ID {
			return c, true
		}
	}
	return models.Camper{}, false
}

func findBunk(snap *models.Snapshot, id string) (models.Bunk, bool) {
	for _, b := range snap.Bunks {
		if b.ID == id && b.SessionID == snap.Session.ID {
			return b, true
		}
	}
	return models.Bunk{}, false
}
