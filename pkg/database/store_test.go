package database

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arnavshah/bunk-planner-go/pkg/apperr"
	"github.com/arnavshah/bunk-planner-go/pkg/models"
	"github.com/arnavshah/bunk-planner-go/pkg/scenario"
)

var _ scenario.Store = (*ScenarioStore)(nil)

func newTestStore(t *testing.T) *ScenarioStore {
	t.Helper()
	db, err := InitDB(Config{DataPath: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	return NewScenarioStore(db)
}

func testScenario(id string, created time.Time) *models.Scenario {
	a := models.NewAssignment("s1")
	a.Set("c1", "b1")
	a.Set("c2", "b1")
	a.Placements["c2"] = models.Placement{BunkID: "b1", Locked: true}
	return &models.Scenario{
		ID:         id,
		SessionID:  "s1",
		Name:       "Draft " + id,
		Status:     models.StatusDraft,
		Assignment: a,
		LockGroups: []models.LockGroup{
			{ID: "g2", SessionID: "s1", Members: []string{"c1", "c2"}, Color: "red"},
			{ID: "g1", SessionID: "s1", Members: []string{"c3", "c4"}, Label: "cousins"},
		},
		Inconsistent:    true,
		InconsistentIDs: []string{"g1"},
		Metrics:         json.RawMessage(`{"assigned":2}`),
		CreatedAt:       created,
		UpdatedAt:       created,
	}
}

func TestScenarioStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	created := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	sc := testScenario("a", created)

	require.NoError(t, store.Save(ctx, sc))
	got, err := store.Get(ctx, "a")
	require.NoError(t, err)

	assert.Equal(t, sc.Name, got.Name)
	assert.Equal(t, models.StatusDraft, got.Status)
	assert.Equal(t, sc.Assignment.Placements, got.Assignment.Placements)
	assert.Equal(t, sc.LockGroups, got.LockGroups)
	assert.True(t, got.Inconsistent)
	assert.Equal(t, []string{"g1"}, got.InconsistentIDs)
	assert.JSONEq(t, `{"assigned":2}`, string(got.Metrics))
	assert.True(t, created.Equal(got.CreatedAt))
}

func TestScenarioStoreUpsertReplacesGroups(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	sc := testScenario("a", time.Now().UTC())
	require.NoError(t, store.Save(ctx, sc))

	sc.Status = models.StatusReview
	sc.LockGroups = sc.LockGroups[:1]
	sc.Assignment.Set("c3", "b2")
	sc.Metrics = nil
	require.NoError(t, store.Save(ctx, sc))

	got, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, models.StatusReview, got.Status)
	require.Len(t, got.LockGroups, 1)
	assert.Equal(t, "g2", got.LockGroups[0].ID)
	assert.Equal(t, "b2", got.Assignment.BunkOf("c3"))
	assert.Empty(t, got.Metrics)
}

func TestScenarioStoreListAndDelete(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	base := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(ctx, testScenario("b", base.Add(time.Hour))))
	require.NoError(t, store.Save(ctx, testScenario("a", base)))
	other := testScenario("c", base)
	other.SessionID = "s2"
	require.NoError(t, store.Save(ctx, other))

	list, err := store.ListBySession(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, "b", list[1].ID)
	assert.Len(t, list[1].LockGroups, 2)

	require.NoError(t, store.Delete(ctx, "a"))
	_, err = store.Get(ctx, "a")
	assert.True(t, apperr.IsCode(err, apperr.CodeNotFound))
	assert.True(t, apperr.IsCode(store.Delete(ctx, "a"), apperr.CodeNotFound))

	list, err = store.ListBySession(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestScenarioStoreBacksManager(t *testing.T) {
	ctx := context.Background()
	snap := &models.Snapshot{
		Session: models.Session{ID: "s1", Kind: models.SessionMain},
		Campers: []models.Camper{
			{ID: "c1", SessionID: "s1", Gender: models.GenderFemale, Enrolled: true},
			{ID: "c2", SessionID: "s1", Gender: models.GenderFemale, Enrolled: true},
		},
		Bunks: []models.Bunk{{ID: "b1", SessionID: "s1", Eligibility: models.EligibilityFemale, Capacity: 2}},
	}
	m := scenario.NewManager(newTestStore(t), staticSnapshots{snap}, nil, nil)

	sc, err := m.Create(ctx, scenario.CreateParams{SessionID: "s1", Name: "db"})
	require.NoError(t, err)
	_, err = m.Edit(ctx, sc.ID, "c1", "b1")
	require.NoError(t, err)
	_, err = m.Promote(ctx, sc.ID)
	require.NoError(t, err)

	live, err := m.Live(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, sc.ID, live.ID)
	assert.Equal(t, "b1", live.Assignment.BunkOf("c1"))
}

type staticSnapshots struct{ snap *models.Snapshot }

func (s staticSnapshots) Snapshot(context.Context, string) (*models.Snapshot, error) {
	return s.snap, nil
}

func TestUsageStoreAccumulates(t *testing.T) {
	ctx := context.Background()
	db, err := InitDB(Config{DataPath: filepath.Join(t.TempDir(), "usage.db")})
	require.NoError(t, err)
	usage := NewUsageStore(db)
	day := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	usage.now = func() time.Time { return day }

	require.NoError(t, usage.RecordSolve(ctx, "s1", 40, 1200, false))
	require.NoError(t, usage.RecordSolve(ctx, "s1", 40, 800, true))
	day = day.Add(24 * time.Hour)
	require.NoError(t, usage.RecordSolve(ctx, "s1", 41, 100, false))
	require.NoError(t, usage.RecordSolve(ctx, "s2", 10, 5, false))

	history, err := usage.History(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "2026-07-02", history[0].Date)
	assert.Equal(t, 1, history[0].SolveCount)

	first := history[1]
	assert.Equal(t, "2026-07-01", first.Date)
	assert.Equal(t, 2, first.SolveCount)
	assert.Equal(t, 1, first.InfeasibleCount)
	assert.Equal(t, 80, first.TotalCampers)
	assert.Equal(t, int64(2000), first.TotalIterations)
}
