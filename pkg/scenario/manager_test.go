package scenario

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arnavshah/bunk-planner-go/pkg/apperr"
	"github.com/arnavshah/bunk-planner-go/pkg/models"
)

type snapshots map[string]*models.Snapshot

func (s snapshots) Snapshot(_ context.Context, id string) (*models.Snapshot, error) {
	snap, ok := s[id]
	if !ok {
		return nil, apperr.New(apperr.CodeNotFound, "session %s not found", id)
	}
	return snap, nil
}

type invalidations struct {
	mu    sync.Mutex
	bunks []string
}

func (i *invalidations) Invalidate(id string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.bunks = append(i.bunks, id)
}

func testSnapshot() *models.Snapshot {
	c := func(id string, g models.Gender) models.Camper {
		return models.Camper{ID: id, SessionID: "s1", Grade: 5, Gender: g, Enrolled: true}
	}
	return &models.Snapshot{
		Session: models.Session{ID: "s1", Kind: models.SessionMain},
		Campers: []models.Camper{c("a", models.GenderMale), c("b", models.GenderMale), c("c", models.GenderMale), c("d", models.GenderFemale)},
		Bunks: []models.Bunk{
			{ID: "m1", SessionID: "s1", Eligibility: models.EligibilityMale, Capacity: 2},
			{ID: "m2", SessionID: "s1", Eligibility: models.EligibilityMale, Capacity: 2},
			{ID: "f1", SessionID: "s1", Eligibility: models.EligibilityFemale, Capacity: 2},
		},
	}
}

func newTestManager(t *testing.T) (*Manager, *invalidations) {
	t.Helper()
	inv := &invalidations{}
	m := NewManager(NewMemoryStore(), snapshots{"s1": testSnapshot()}, inv, nil)
	n := 0
	m.newID = func() string {
		n++
		return fmt.Sprintf("sc-%d", n)
	}
	return m, inv
}

func seed() *models.Assignment {
	a := models.NewAssignment("s1")
	a.Set("a", "m1")
	a.Set("b", "m1")
	a.Set("c", "m2")
	return a
}

func TestCreate(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	sc, err := m.Create(ctx, CreateParams{SessionID: "s1", Name: "first", Seed: seed()})
	require.NoError(t, err)
	assert.Equal(t, "sc-1", sc.ID)
	assert.Equal(t, models.StatusDraft, sc.Status)
	assert.Equal(t, "m1", sc.Assignment.BunkOf("a"))

	cp, err := m.Create(ctx, CreateParams{SessionID: "s1", CopyFrom: sc.ID})
	require.NoError(t, err)
	assert.Equal(t, sc.ID, cp.SourceScenarioID)
	assert.Equal(t, "m2", cp.Assignment.BunkOf("c"))
	assert.NotEmpty(t, cp.Name)

	list, err := m.List(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = m.Create(ctx, CreateParams{SessionID: "s1", CopyFrom: "missing"})
	assert.True(t, apperr.IsCode(err, apperr.CodeNotFound))
	_, err = m.Create(ctx, CreateParams{SessionID: "unknown"})
	assert.True(t, apperr.IsCode(err, apperr.CodeNotFound))
}

func TestEdit(t *testing.T) {
	ctx := context.Background()
	m, inv := newTestManager(t)
	sc, err := m.Create(ctx, CreateParams{SessionID: "s1", Seed: seed()})
	require.NoError(t, err)

	out, err := m.Edit(ctx, sc.ID, "a", "m2")
	require.NoError(t, err)
	assert.Equal(t, "m2", out.Assignment.BunkOf("a"))
	assert.Equal(t, []string{"m1", "m2"}, inv.bunks)

	out, err = m.Edit(ctx, sc.ID, "c", "")
	require.NoError(t, err)
	assert.Equal(t, "", out.Assignment.BunkOf("c"))
}

func TestEditIsAtomic(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	sc, err := m.Create(ctx, CreateParams{SessionID: "s1", Seed: seed()})
	require.NoError(t, err)

	_, err = m.Edit(ctx, sc.ID, "c", "m1")
	require.Error(t, err)
	assert.True(t, apperr.IsCode(err, apperr.CodeCapacityExceeded))
	require.Len(t, apperr.Violations(err), 1)

	_, err = m.Edit(ctx, sc.ID, "d", "m2")
	assert.True(t, apperr.IsCode(err, apperr.CodeIneligibleBunk))

	_, err = m.Edit(ctx, sc.ID, "a", "nowhere")
	assert.True(t, apperr.IsCode(err, apperr.CodeNotFound))

	got, err := m.Get(ctx, sc.ID)
	require.NoError(t, err)
	assert.Equal(t, seed().Placements, got.Assignment.Placements)
}

func TestEditKeepsLock(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	sc, err := m.Create(ctx, CreateParams{SessionID: "s1", Seed: seed()})
	require.NoError(t, err)

	_, err = m.LockCamper(ctx, sc.ID, "c")
	require.NoError(t, err)
	out, err := m.Edit(ctx, sc.ID, "c", "f1")
	assert.True(t, apperr.IsCode(err, apperr.CodeIneligibleBunk))
	assert.Nil(t, out)

	_, err = m.Edit(ctx, sc.ID, "a", "m2")
	require.NoError(t, err)
	out, err = m.Get(ctx, sc.ID)
	require.NoError(t, err)
	assert.True(t, out.Assignment.IsLocked("c"))

	out, err = m.UnlockCamper(ctx, sc.ID, "c")
	require.NoError(t, err)
	assert.False(t, out.Assignment.IsLocked("c"))

	_, err = m.LockCamper(ctx, sc.ID, "d")
	assert.True(t, apperr.IsCode(err, apperr.CodeInvalidInput))
}

func TestConcurrentEditsAreSerialized(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	sc, err := m.Create(ctx, CreateParams{SessionID: "s1"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i, id := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = m.Edit(ctx, sc.ID, id, "m1")
		}()
	}
	wg.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			assert.True(t, apperr.IsCode(err, apperr.CodeCapacityExceeded))
			failed++
		}
	}
	assert.Equal(t, 1, failed)
	got, err := m.Get(ctx, sc.ID)
	require.NoError(t, err)
	assert.Len(t, got.Assignment.Occupants("m1"), 2)
}

func TestLockGroupFlagsInconsistency(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	sc, err := m.Create(ctx, CreateParams{SessionID: "s1", Seed: seed()})
	require.NoError(t, err)

	out, err := m.LockGroup(ctx, sc.ID, models.LockGroup{ID: "g1", Members: []string{"c", "a"}, Color: "red"})
	require.NoError(t, err)
	assert.True(t, out.Inconsistent)
	assert.Equal(t, []string{"g1"}, out.InconsistentIDs)
	assert.Equal(t, []string{"a", "c"}, out.LockGroups[0].Members)
	assert.Equal(t, "m1", out.Assignment.BunkOf("a"), "locking does not move campers")

	_, err = m.Edit(ctx, sc.ID, "b", "m2")
	require.NoError(t, err)
	out, err = m.Edit(ctx, sc.ID, "c", "m1")
	require.NoError(t, err)
	assert.False(t, out.Inconsistent)

	_, err = m.LockGroup(ctx, sc.ID, models.LockGroup{ID: "g2", Members: []string{"a", "zz"}})
	assert.True(t, apperr.IsCode(err, apperr.CodeInvalidInput))

	out, err = m.Unlock(ctx, sc.ID, "g1")
	require.NoError(t, err)
	assert.Empty(t, out.LockGroups)
	_, err = m.Unlock(ctx, sc.ID, "g1")
	assert.True(t, apperr.IsCode(err, apperr.CodeNotFound))
}

func TestScenarioLockGroupOverridesSnapshotGroup(t *testing.T) {
	ctx := context.Background()
	snap := testSnapshot()
	snap.LockGroups = []models.LockGroup{{ID: "g1", SessionID: "s1", Members: []string{"b", "c"}}}
	m := NewManager(NewMemoryStore(), snapshots{"s1": snap}, nil, nil)

	sc, err := m.Create(ctx, CreateParams{SessionID: "s1", Seed: seed()})
	require.NoError(t, err)
	assert.Equal(t, []string{"g1"}, sc.InconsistentIDs)

	out, err := m.LockGroup(ctx, sc.ID, models.LockGroup{ID: "g1", Members: []string{"b", "a"}})
	require.NoError(t, err)
	assert.False(t, out.Inconsistent)
	assert.Empty(t, out.InconsistentIDs)
}

func TestClearKeepsLocks(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	sc, err := m.Create(ctx, CreateParams{SessionID: "s1", Seed: seed(),
		LockGroups: []models.LockGroup{{ID: "g1", SessionID: "s1", Members: []string{"a", "b"}}}})
	require.NoError(t, err)
	_, err = m.LockCamper(ctx, sc.ID, "a")
	require.NoError(t, err)

	out, err := m.Clear(ctx, sc.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, out.Assignment.Campers())
	assert.Len(t, out.LockGroups, 1)
	assert.True(t, out.Inconsistent)
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	sc, err := m.Create(ctx, CreateParams{SessionID: "s1"})
	require.NoError(t, err)

	out, err := m.Advance(ctx, sc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReview, out.Status)
	out, err = m.Advance(ctx, sc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, out.Status)
	_, err = m.Advance(ctx, sc.ID)
	assert.True(t, apperr.IsCode(err, apperr.CodeInvalidTransition))

	out, err = m.Archive(ctx, sc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusArchived, out.Status)
	_, err = m.Archive(ctx, sc.ID)
	require.NoError(t, err)

	_, err = m.Promote(ctx, sc.ID)
	assert.True(t, apperr.IsCode(err, apperr.CodeInvalidTransition))
	_, err = m.Edit(ctx, sc.ID, "a", "m1")
	assert.True(t, apperr.IsCode(err, apperr.CodeInvalidTransition))
}

func TestPromoteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	a, err := m.Create(ctx, CreateParams{SessionID: "s1", Seed: seed()})
	require.NoError(t, err)
	b, err := m.Create(ctx, CreateParams{SessionID: "s1"})
	require.NoError(t, err)

	_, err = m.Promote(ctx, b.ID)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = m.Promote(ctx, a.ID)
		require.NoError(t, err)
	}

	list, err := m.List(ctx, "s1")
	require.NoError(t, err)
	var implemented []string
	for _, s := range list {
		if s.Status == models.StatusImplemented {
			implemented = append(implemented, s.ID)
		}
	}
	assert.Equal(t, []string{a.ID}, implemented)

	live, err := m.Live(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, a.ID, live.ID)
	old, err := m.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusArchived, old.Status)

	assert.True(t, apperr.IsCode(m.Delete(ctx, a.ID), apperr.CodeInvalidTransition))
	require.NoError(t, m.Delete(ctx, b.ID))
}

func TestReplaceAssignmentKeepsPins(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	sc, err := m.Create(ctx, CreateParams{SessionID: "s1", Seed: seed()})
	require.NoError(t, err)
	_, err = m.LockCamper(ctx, sc.ID, "c")
	require.NoError(t, err)
	require.NoError(t, m.SetMetrics(ctx, sc.ID, []byte(`{"assigned":3}`)))

	next := models.NewAssignment("s1")
	next.Set("a", "m2")
	next.Set("c", "m2")
	out, err := m.ReplaceAssignment(ctx, sc.ID, next)
	require.NoError(t, err)
	assert.True(t, out.Assignment.IsLocked("c"))
	assert.False(t, out.Assignment.IsLocked("a"))
	assert.Empty(t, out.Metrics)
}
