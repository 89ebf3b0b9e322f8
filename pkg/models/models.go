package models

import (
	"fmt"
	"sort"
	"time"
)

// Gender is a camper's gender category
type Gender string

const (
	GenderMale      Gender = "male"
	GenderFemale    Gender = "female"
	GenderNonbinary Gender = "nonbinary"
)

// Valid reports whether g is a known gender category
func (g Gender) Valid() bool {
	switch g {
	case GenderMale, GenderFemale, GenderNonbinary:
		return true
	}
	return false
}

// Eligibility is the gender class a bunk accepts
type Eligibility string

const (
	EligibilityMale   Eligibility = "male"
	EligibilityFemale Eligibility = "female"
	EligibilityMixed  Eligibility = "mixed"
)

// Valid reports whether e is a known eligibility class
func (e Eligibility) Valid() bool {
	switch e {
	case EligibilityMale, EligibilityFemale, EligibilityMixed:
		return true
	}
	return false
}

// Accepts reports whether a bunk of this class can house a camper of gender g.
// Nonbinary campers are only accepted by mixed bunks.
func (e Eligibility) Accepts(g Gender) bool {
	switch e {
	case EligibilityMixed:
		return g.Valid()
	case EligibilityMale:
		return g == GenderMale
	case EligibilityFemale:
		return g == GenderFemale
	}
	return false
}

// SessionKind distinguishes main sessions from their sub-sessions
type SessionKind string

const (
	SessionMain      SessionKind = "main"
	SessionAllGender SessionKind = "all_gender"
	SessionEmbedded  SessionKind = "embedded"
)

// Session represents a time-bounded camp period
type Session struct {
	ID        string      `json:"id" yaml:"id"`
	Name      string      `json:"name" yaml:"name"`
	Kind      SessionKind `json:"kind" yaml:"kind"`
	ParentID  string      `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
	StartDate time.Time   `json:"start_date" yaml:"start_date"`
}

// Camper represents an enrolled child to be placed in a bunk
type Camper struct {
	ID            string     `json:"id" yaml:"id"`
	Name          string     `json:"name" yaml:"name"`
	SessionID     string     `json:"session_id" yaml:"session_id"`
	BirthDate     *time.Time `json:"birth_date,omitempty" yaml:"birth_date,omitempty"`
	Age           float64    `json:"age" yaml:"age"`
	Grade         int        `json:"grade" yaml:"grade"`
	Gender        Gender     `json:"gender" yaml:"gender"`
	HouseholdID   string     `json:"household_id,omitempty" yaml:"household_id,omitempty"`
	CurrentBunkID string     `json:"current_bunk_id,omitempty" yaml:"current_bunk_id,omitempty"`
	Enrolled      bool       `json:"enrolled" yaml:"enrolled"`
}

// Bunk represents a cabin with a fixed capacity
type Bunk struct {
	ID          string      `json:"id" yaml:"id"`
	Name        string      `json:"name" yaml:"name"`
	SessionID   string      `json:"session_id" yaml:"session_id"`
	Eligibility Eligibility `json:"eligibility" yaml:"eligibility"`
	Capacity    int         `json:"capacity" yaml:"capacity"`
}

// EffectiveEligibility returns the class the bunk accepts within session s.
// Bunks of an all-gender session are always mixed.
func (b Bunk) EffectiveEligibility(s Session) Eligibility {
	if s.Kind == SessionAllGender {
		return EligibilityMixed
	}
	return b.Eligibility
}

// CanOccupy reports whether camper c may be placed in bunk b during session s
func CanOccupy(c Camper, b Bunk, s Session) bool {
	if c.SessionID != b.SessionID {
		return false
	}
	return b.EffectiveEligibility(s).Accepts(c.Gender)
}

// AgeOn computes age in decimal years on the reference date
func AgeOn(birth, ref time.Time) float64 {
	if ref.Before(birth) {
		return 0
	}
	years := ref.Year() - birth.Year()
	anniversary := birth.AddDate(years, 0, 0)
	if anniversary.After(ref) {
		years--
		anniversary = birth.AddDate(years, 0, 0)
	}
	next := birth.AddDate(years+1, 0, 0)
	frac := ref.Sub(anniversary).Hours() / next.Sub(anniversary).Hours()
	return float64(years) + frac
}

// LockGroup is a staff-curated set of campers that must share one bunk
type LockGroup struct {
	ID        string   `json:"id" yaml:"id"`
	SessionID string   `json:"session_id" yaml:"session_id"`
	Members   []string `json:"members" yaml:"members"`
	Color     string   `json:"color,omitempty" yaml:"color,omitempty"`
	Label     string   `json:"label,omitempty" yaml:"label,omitempty"`
}

// Validate checks the group is usable
func (g LockGroup) Validate() error {
	if g.ID == "" {
		return fmt.Errorf("lock group id is required")
	}
	if len(g.Members) < 2 {
		return fmt.Errorf("lock group %s needs at least two members", g.ID)
	}
	seen := make(map[string]bool, len(g.Members))
	for _, m := range g.Members {
		if seen[m] {
			return fmt.Errorf("lock group %s lists camper %s twice", g.ID, m)
		}
		seen[m] = true
	}
	return nil
}

// MergeLockGroups combines snapshot-level and scenario-level lock groups,
// sorted by id. A scenario group replaces the snapshot group with its id.
func MergeLockGroups(snapshot, scenario []LockGroup) []LockGroup {
	byID := make(map[string]LockGroup, len(snapshot)+len(scenario))
	for _, g := range snapshot {
		if _, ok := byID[g.ID]; !ok {
			byID[g.ID] = g
		}
	}
	overridden := make(map[string]bool, len(scenario))
	for _, g := range scenario {
		if !overridden[g.ID] {
			overridden[g.ID] = true
			byID[g.ID] = g
		}
	}
	out := make([]LockGroup, 0, len(byID))
	for _, g := range byID {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
