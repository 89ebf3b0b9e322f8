package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arnavshah/bunk-planner-go/pkg/apperr"
	"github.com/arnavshah/bunk-planner-go/pkg/models"
)

func fixture() *models.Snapshot {
	c := func(id string, grade int, g models.Gender) models.Camper {
		return models.Camper{ID: id, SessionID: "s1", Grade: grade, Age: float64(grade) + 5, Gender: g, Enrolled: true}
	}
	req := func(id, from string, p models.Preference, priority int) models.Request {
		return models.Request{ID: id, RequesterID: from, Preference: p, Priority: priority, Status: models.RequestResolved, Confidence: 1}
	}
	return &models.Snapshot{
		Session: models.Session{ID: "s1", Kind: models.SessionMain},
		Campers: []models.Camper{
			c("a", 4, models.GenderMale), c("b", 4, models.GenderMale), c("c", 6, models.GenderMale),
			c("d", 5, models.GenderFemale),
		},
		Bunks: []models.Bunk{
			{ID: "m1", SessionID: "s1", Eligibility: models.EligibilityMale, Capacity: 2},
			{ID: "m2", SessionID: "s1", Eligibility: models.EligibilityMale, Capacity: 2},
			{ID: "f1", SessionID: "s1", Eligibility: models.EligibilityFemale, Capacity: 2},
		},
		Requests: []models.Request{
			req("r1", "a", models.BunkWith{Target: "b"}, 5),
			req("r2", "c", models.AgePreference{Direction: models.Younger}, 2),
			req("r3", "a", models.NotBunkWith{Target: "c"}, 3),
		},
	}
}

func assign(pairs ...string) *models.Assignment {
	a := models.NewAssignment("s1")
	for i := 0; i+1 < len(pairs); i += 2 {
		a.Set(pairs[i], pairs[i+1])
	}
	return a
}

func TestScore(t *testing.T) {
	e := NewEngine(0)
	met := e.Score(fixture(), assign("a", "m1", "b", "m1", "c", "m2"), nil)

	assert.Equal(t, 4, met.TotalCampers)
	assert.Equal(t, 3, met.Assigned)
	assert.Equal(t, 1, met.Unassigned)
	assert.Equal(t, 3, met.RequestsTotal)
	assert.Equal(t, 2, met.RequestsSatisfied)
	assert.InDelta(t, 2.0/3, met.SatisfactionRate, 1e-9)
	assert.Equal(t, []string{"r2"}, met.Unsatisfied)
	assert.Equal(t, RequestCounts{Total: 1, Satisfied: 1}, met.Requests[models.TypeBunkWith])
	assert.Equal(t, RequestCounts{Total: 1, Satisfied: 0}, met.Requests[models.TypeAgePreference])
	assert.Empty(t, met.Violations)

	require.Len(t, met.Bunks, 3)
	assert.Equal(t, "f1", met.Bunks[0].BunkID)
	assert.Equal(t, Spread{Min: 0, Max: 2, Avg: 1}, met.Occupancy)
	assert.Equal(t, 0.0, met.GradeVariance)
}

func TestScoreReportsViolations(t *testing.T) {
	snap := fixture()
	snap.Requests[0].Locked = true
	groups := []models.LockGroup{{ID: "g1", SessionID: "s1", Members: []string{"a", "b"}}}

	met := NewEngine(0).Score(snap, assign("a", "m1", "b", "m2", "c", "m1", "d", "m1"), groups)

	var kinds []string
	for _, v := range met.Violations {
		kinds = append(kinds, v.Constraint)
	}
	assert.ElementsMatch(t, []string{
		apperr.ConstraintEligibility,
		apperr.ConstraintCapacity,
		apperr.ConstraintLockedRequest,
		apperr.ConstraintLockGroup,
	}, kinds)
}

func TestScoreIgnoresSuppressedAndLowConfidence(t *testing.T) {
	snap := fixture()
	snap.Requests[0].ConflictGroupID = "k"
	snap.Requests[2].ConflictGroupID = "k"
	snap.Requests[1].Confidence = 0.2

	met := NewEngine(0.5).Score(snap, assign("a", "m1", "b", "m1"), nil)
	assert.Equal(t, 1, met.RequestsTotal)
	assert.Equal(t, 1, met.Requests[models.TypeBunkWith].Total)
}

func TestSatisfied(t *testing.T) {
	snap := fixture()
	campers := snap.CamperByID()
	a := assign("a", "m1", "c", "m1")
	older := models.Request{RequesterID: "a", Preference: models.AgePreference{Direction: models.Older}}
	younger := models.Request{RequesterID: "a", Preference: models.AgePreference{Direction: models.Younger}}
	apart := models.Request{RequesterID: "a", Preference: models.NotBunkWith{Target: "d"}}

	assert.True(t, Satisfied(older, a, campers))
	assert.False(t, Satisfied(younger, a, campers))
	assert.True(t, Satisfied(apart, a, campers))
}

func TestStatCacheMemoizes(t *testing.T) {
	e := NewEngine(0)
	snap := fixture()
	a := assign("a", "m1", "b", "m1")

	e.Score(snap, a, nil)
	_, misses, size := e.cache.stats()
	assert.Equal(t, 3, misses)
	assert.Equal(t, 3, size)

	e.Score(snap, a, nil)
	hits, misses, _ := e.cache.stats()
	assert.Equal(t, 3, hits)
	assert.Equal(t, 3, misses)

	e.Invalidate("m1")
	_, _, size = e.cache.stats()
	assert.Equal(t, 2, size)

	a.Set("c", "m1")
	met := e.Score(snap, a, nil)
	assert.Equal(t, 3, met.Bunks[1].Occupants)
}

func TestFingerprintTracksCamperData(t *testing.T) {
	x := []models.Camper{{ID: "a", Grade: 4, Age: 9}}
	y := []models.Camper{{ID: "a", Grade: 5, Age: 9}}
	assert.NotEqual(t, fingerprint(x), fingerprint(y))
	assert.Equal(t, fingerprint(x), fingerprint([]models.Camper{{ID: "a", Grade: 4, Age: 9}}))
}

func TestCompare(t *testing.T) {
	e := NewEngine(0)
	snap := fixture()
	base := &models.Scenario{ID: "A", Assignment: assign("a", "m1", "b", "m2", "c", "m1")}
	other := &models.Scenario{ID: "B", Assignment: assign("a", "m1", "b", "m1", "c", "m2", "d", "f1")}

	d := e.CompareScenarios(snap, base, other)
	assert.Equal(t, "A", d.BaseScenarioID)
	assert.Equal(t, Delta{Base: 3, Other: 4, Change: 1}, d.Assigned)
	assert.Equal(t, []string{"r1", "r3"}, d.NewlySatisfied)
	assert.Equal(t, []string{"r2"}, d.NewlyUnsatisfied)
	assert.Equal(t, Delta{Base: 0, Other: 1, Change: 1}, d.ByType[models.TypeBunkWith])
	assert.Len(t, d.Moves, 3)
	assert.Empty(t, d.NewViolations)
}

func TestCompareViolations(t *testing.T) {
	base := Metrics{Violations: []apperr.Violation{{Constraint: apperr.ConstraintCapacity, Message: "full"}}}
	other := Metrics{Violations: []apperr.Violation{{Constraint: apperr.ConstraintLockGroup, Message: "split"}}}

	d := Compare(base, other)
	require.Len(t, d.NewViolations, 1)
	assert.Equal(t, apperr.ConstraintLockGroup, d.NewViolations[0].Constraint)
	require.Len(t, d.ResolvedViolations, 1)
	assert.Equal(t, apperr.ConstraintCapacity, d.ResolvedViolations[0].Constraint)
	assert.Zero(t, d.Violations.Change)
}
