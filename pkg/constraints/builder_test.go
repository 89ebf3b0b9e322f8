package constraints

import (
	"testing"

	"github.com/arnavshah/bunk-planner-go/pkg/apperr"
	"github.com/arnavshah/bunk-planner-go/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func camper(id string, grade int, g models.Gender) models.Camper {
	return models.Camper{ID: id, SessionID: "s1", Grade: grade, Age: float64(grade) + 5, Gender: g, Enrolled: true}
}

func bunk(id string, e models.Eligibility, capacity int) models.Bunk {
	return models.Bunk{ID: id, SessionID: "s1", Eligibility: e, Capacity: capacity}
}

func request(id, from, to string, typ models.RequestType, priority int) models.Request {
	r := models.Request{ID: id, RequesterID: from, Priority: priority, Status: models.RequestResolved, Confidence: 1}
	switch typ {
	case models.TypeBunkWith:
		r.Preference = models.BunkWith{Target: to}
	case models.TypeNotBunkWith:
		r.Preference = models.NotBunkWith{Target: to}
	}
	return r
}

func snapshot(campers []models.Camper, bunks []models.Bunk, reqs ...models.Request) *models.Snapshot {
	return &models.Snapshot{
		Session:  models.Session{ID: "s1", Kind: models.SessionMain},
		Campers:  campers,
		Bunks:    bunks,
		Requests: reqs,
	}
}

func requireViolation(t *testing.T, err error, constraint string) apperr.Violation {
	t.Helper()
	require.Error(t, err)
	require.True(t, apperr.IsCode(err, apperr.CodeInfeasible), "got %v", err)
	for _, v := range apperr.Violations(err) {
		if v.Constraint == constraint {
			return v
		}
	}
	t.Fatalf("no %s violation in %v", constraint, err)
	return apperr.Violation{}
}

func TestBuildThreeCampersOneBunk(t *testing.T) {
	age := request("r2", "c3", "", "", 2)
	age.Preference = models.AgePreference{Direction: models.Younger}
	snap := snapshot(
		[]models.Camper{camper("c1", 4, models.GenderMale), camper("c2", 4, models.GenderFemale), camper("c3", 7, models.GenderNonbinary)},
		[]models.Bunk{bunk("b1", models.EligibilityMixed, 3)},
		request("r1", "c1", "c2", models.TypeBunkWith, 5), age,
	)

	m, err := Build(snap, Input{}, Options{})
	require.NoError(t, err)
	assert.Len(t, m.Units, 3)
	require.Len(t, m.Terms, 2)
	assert.Equal(t, Term{RequestID: "r1", Type: models.TypeBunkWith, Requester: 0, Target: 1, Priority: 5}, m.Terms[0])
	assert.Equal(t, models.Younger, m.Terms[1].Direction)
	assert.Equal(t, -1, m.Terms[1].Target)
	assert.Equal(t, 7000.0, m.UpperBound())
	assert.False(t, m.Sink)
}

func TestBuildNonbinaryWithoutMixedBunk(t *testing.T) {
	snap := snapshot(
		[]models.Camper{camper("c1", 5, models.GenderNonbinary)},
		[]models.Bunk{bunk("b1", models.EligibilityMale, 1), bunk("b2", models.EligibilityFemale, 1)},
	)
	_, err := Build(snap, Input{}, Options{})
	v := requireViolation(t, err, apperr.ConstraintEligibility)
	assert.Equal(t, []string{"c1"}, v.Entities)
	assert.Contains(t, v.Message, "no eligible bunk")
}

func TestBuildLockGroupLargerThanBunk(t *testing.T) {
	snap := snapshot(
		[]models.Camper{camper("c1", 5, models.GenderMale), camper("c2", 5, models.GenderMale)},
		[]models.Bunk{bunk("b1", models.EligibilityMale, 1), bunk("b2", models.EligibilityMale, 1)},
	)
	group := models.LockGroup{ID: "g1", SessionID: "s1", Members: []string{"c1", "c2"}}
	_, err := Build(snap, Input{LockGroups: []models.LockGroup{group}}, Options{})
	v := requireViolation(t, err, apperr.ConstraintLockGroup)
	assert.Equal(t, 1, v.Amount)
	assert.Equal(t, []string{"c1", "c2"}, v.Entities)
}

func TestBuildLockGroupIncompatibleGenders(t *testing.T) {
	snap := snapshot(
		[]models.Camper{camper("c1", 5, models.GenderMale), camper("c2", 5, models.GenderFemale)},
		[]models.Bunk{bunk("b1", models.EligibilityMale, 4), bunk("b2", models.EligibilityFemale, 4)},
	)
	snap.LockGroups = []models.LockGroup{{ID: "g1", SessionID: "s1", Members: []string{"c1", "c2"}}}
	_, err := Build(snap, Input{}, Options{})
	v := requireViolation(t, err, apperr.ConstraintLockGroup)
	assert.Contains(t, v.Message, "incompatible gender eligibility")
}

func TestBuildLockGroupMergesUnit(t *testing.T) {
	snap := snapshot(
		[]models.Camper{camper("c1", 5, models.GenderMale), camper("c2", 5, models.GenderMale), camper("c3", 5, models.GenderMale)},
		[]models.Bunk{bunk("b1", models.EligibilityMale, 4)},
	)
	group := models.LockGroup{ID: "g1", SessionID: "s1", Members: []string{"c3", "c1"}}
	outside := models.LockGroup{ID: "g2", SessionID: "s1", Members: []string{"c2", "c9"}}
	m, err := Build(snap, Input{LockGroups: []models.LockGroup{group, outside}}, Options{})
	require.NoError(t, err)
	require.Len(t, m.Units, 2)
	assert.Equal(t, []int{0, 2}, m.Units[0].Members)
	assert.Equal(t, "g1", m.Units[0].ID)
	assert.Equal(t, m.UnitOf[0], m.UnitOf[2])
	assert.Contains(t, m.Skipped, Skip{ID: "g2", Reason: "lock group not fully in session"})
}

func TestBuildScenarioLockGroupReplacesSnapshotGroup(t *testing.T) {
	snap := snapshot(
		[]models.Camper{camper("c1", 5, models.GenderMale), camper("c2", 5, models.GenderMale), camper("c3", 5, models.GenderMale)},
		[]models.Bunk{bunk("b1", models.EligibilityMale, 2), bunk("b2", models.EligibilityMale, 2)},
	)
	snap.LockGroups = []models.LockGroup{{ID: "g1", SessionID: "s1", Members: []string{"c1", "c2"}}}
	edited := models.LockGroup{ID: "g1", SessionID: "s1", Members: []string{"c1", "c3"}}

	m, err := Build(snap, Input{LockGroups: []models.LockGroup{edited}}, Options{})
	require.NoError(t, err)
	assert.Equal(t, m.UnitOf[0], m.UnitOf[2])
	assert.NotEqual(t, m.UnitOf[0], m.UnitOf[1])
}

func TestBuildEmptyInput(t *testing.T) {
	_, err := Build(snapshot(nil, []models.Bunk{bunk("b1", models.EligibilityMixed, 2)}), Input{}, Options{})
	assert.True(t, apperr.IsCode(err, apperr.CodeEmptyInput))

	withdrawn := camper("c1", 4, models.GenderMale)
	withdrawn.Enrolled = false
	_, err = Build(snapshot([]models.Camper{withdrawn}, []models.Bunk{bunk("b1", models.EligibilityMixed, 2)}), Input{}, Options{})
	assert.True(t, apperr.IsCode(err, apperr.CodeEmptyInput))

	_, err = Build(snapshot([]models.Camper{camper("c1", 4, models.GenderMale)}, nil), Input{}, Options{})
	assert.True(t, apperr.IsCode(err, apperr.CodeEmptyInput))
}

func TestBuildCapacityExceeded(t *testing.T) {
	campers := []models.Camper{camper("c1", 5, models.GenderFemale), camper("c2", 5, models.GenderFemale), camper("c3", 5, models.GenderFemale), camper("c4", 5, models.GenderMale)}
	bunks := []models.Bunk{bunk("b1", models.EligibilityFemale, 1), bunk("b2", models.EligibilityMale, 3)}

	_, err := Build(snapshot(campers, bunks), Input{}, Options{})
	v := requireViolation(t, err, apperr.ConstraintCapacity)
	assert.Equal(t, 2, v.Amount, "total capacity fits but the female class does not")
	assert.Equal(t, "capacity exceeded by 2", v.Message)
	assert.Equal(t, []string{"b1"}, v.Entities)

	m, err := Build(snapshot(campers, bunks), Input{}, Options{AllowUnassigned: true})
	require.NoError(t, err)
	assert.True(t, m.Sink)
	assert.Equal(t, 2, m.Shortage)
}

func TestBuildConflictGroupKeepsHighestPriority(t *testing.T) {
	campers := []models.Camper{camper("c1", 5, models.GenderMale), camper("c2", 5, models.GenderMale), camper("c3", 5, models.GenderMale)}
	low := request("r1", "c1", "c2", models.TypeBunkWith, 2)
	low.ConflictGroupID = "household-7"
	high := request("r2", "c1", "c2", models.TypeNotBunkWith, 4)
	high.ConflictGroupID = "household-7"
	tie := request("r3", "c3", "c2", models.TypeBunkWith, 4)
	tie.ConflictGroupID = "src-2"
	tieWinner := request("r4", "c3", "c2", models.TypeNotBunkWith, 4)
	tieWinner.ConflictGroupID = "src-2"

	m, err := Build(snapshot(campers, []models.Bunk{bunk("b1", models.EligibilityMale, 3)}, low, high, tie, tieWinner), Input{}, Options{})
	require.NoError(t, err)
	ids := make([]string, 0, len(m.Terms))
	for _, term := range m.Terms {
		ids = append(ids, term.RequestID)
	}
	assert.Equal(t, []string{"r2", "r4"}, ids)
	require.Len(t, m.Suppressed, 2)
	assert.Equal(t, "r1", m.Suppressed[0].ID)
	assert.Equal(t, "r3", m.Suppressed[1].ID)
}

func TestBuildConflictGroupPrefersLocked(t *testing.T) {
	campers := []models.Camper{camper("c1", 5, models.GenderMale), camper("c2", 5, models.GenderMale)}
	locked := request("r1", "c1", "c2", models.TypeBunkWith, 1)
	locked.Locked = true
	locked.ConflictGroupID = "household-3"
	urgent := request("r2", "c1", "c2", models.TypeNotBunkWith, 5)
	urgent.ConflictGroupID = "household-3"

	m, err := Build(snapshot(campers, []models.Bunk{bunk("b1", models.EligibilityMale, 2)}, locked, urgent), Input{}, Options{})
	require.NoError(t, err)
	assert.Empty(t, m.Terms)
	require.Len(t, m.Suppressed, 1)
	assert.Equal(t, "r2", m.Suppressed[0].ID)
	require.Len(t, m.Units, 1)
	assert.Equal(t, []int{0, 1}, m.Units[0].Members)
}

func TestBuildSkipsUnusableRequests(t *testing.T) {
	campers := []models.Camper{camper("c1", 5, models.GenderMale), camper("c2", 5, models.GenderMale)}
	pending := request("r1", "c1", "c2", models.TypeBunkWith, 3)
	pending.Status = models.RequestPending
	declined := request("r2", "c1", "c2", models.TypeBunkWith, 3)
	declined.Status = models.RequestDeclined
	self := request("r3", "c1", "c1", models.TypeBunkWith, 3)
	missing := request("r4", "c1", "c9", models.TypeBunkWith, 3)
	unsure := request("r5", "c2", "c1", models.TypeBunkWith, 3)
	unsure.Confidence = 0.2

	m, err := Build(snapshot(campers, []models.Bunk{bunk("b1", models.EligibilityMale, 2)}, pending, declined, self, missing, unsure), Input{}, Options{MinConfidence: 0.5})
	require.NoError(t, err)
	assert.Empty(t, m.Terms)
	assert.Len(t, m.Skipped, 5)
	assert.Equal(t, Skip{ID: "r4", Reason: "target not in session"}, m.Skipped[3])
}

func TestBuildLockedRequestsBecomeHard(t *testing.T) {
	campers := []models.Camper{camper("c1", 5, models.GenderMale), camper("c2", 5, models.GenderMale), camper("c3", 5, models.GenderMale)}
	with := request("r1", "c1", "c2", models.TypeBunkWith, 3)
	with.Locked = true
	apart := request("r2", "c1", "c3", models.TypeNotBunkWith, 3)
	apart.Locked = true

	m, err := Build(snapshot(campers, []models.Bunk{bunk("b1", models.EligibilityMale, 2), bunk("b2", models.EligibilityMale, 2)}, with, apart), Input{}, Options{})
	require.NoError(t, err)
	assert.Empty(t, m.Terms)
	require.Len(t, m.Units, 2)
	assert.Equal(t, []int{0, 1}, m.Units[0].Members)
	assert.Equal(t, [][2]int{{0, 1}}, m.Separations)

	contradiction := request("r3", "c2", "c1", models.TypeNotBunkWith, 3)
	contradiction.Locked = true
	_, err = Build(snapshot(campers, []models.Bunk{bunk("b1", models.EligibilityMale, 3)}, with, contradiction), Input{}, Options{})
	requireViolation(t, err, apperr.ConstraintLockedRequest)
}

func TestBuildPins(t *testing.T) {
	campers := []models.Camper{camper("c1", 5, models.GenderMale), camper("c2", 5, models.GenderFemale)}
	bunks := []models.Bunk{bunk("b1", models.EligibilityMale, 1), bunk("b2", models.EligibilityFemale, 1)}

	m, err := Build(snapshot(campers, bunks), Input{Pins: map[string]string{"c1": "b1"}}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, m.Units[0].Pinned)
	assert.Equal(t, -1, m.Units[1].Pinned)

	_, err = Build(snapshot(campers, bunks), Input{Pins: map[string]string{"c1": "b2"}}, Options{})
	v := requireViolation(t, err, apperr.ConstraintPin)
	assert.Equal(t, []string{"c1", "b2"}, v.Entities)
}

func TestWeightsValidate(t *testing.T) {
	require.NoError(t, DefaultWeights().Validate())
	assert.Error(t, Weights{Request: 10, Cohesion: 10, Disruption: 1, Unassigned: 1e6}.Validate())
	assert.Error(t, Weights{Request: 100, Cohesion: 1, Disruption: 1, Unassigned: 1e6}.Validate())
	assert.Error(t, Weights{Request: 100, Cohesion: 10, Disruption: 0, Unassigned: 1e6}.Validate())
	assert.Error(t, Weights{Request: 100, Cohesion: 10, Disruption: 1, Unassigned: 10}.Validate())

	_, err := Build(snapshot([]models.Camper{camper("c1", 4, models.GenderMale)}, []models.Bunk{bunk("b1", models.EligibilityMale, 1)}),
		Input{}, Options{Weights: Weights{Request: 1, Cohesion: 2, Disruption: 3, Unassigned: 4}})
	assert.True(t, apperr.IsCode(err, apperr.CodeInvalidInput))
}
