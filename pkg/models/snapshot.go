package models

import (
	"time"

	"github.com/arnavshah/bunk-planner-go/pkg/apperr"
)

// Snapshot is the read-only view of one session pulled from upstream
type Snapshot struct {
	Session       Session     `json:"session"`
	ReferenceDate time.Time   `json:"reference_date"`
	Campers       []Camper    `json:"campers"`
	Bunks         []Bunk      `json:"bunks"`
	Requests      []Request   `json:"requests"`
	LockGroups    []LockGroup `json:"lock_groups"`
}

// Validate checks identity and value invariants of the snapshot
func (s *Snapshot) Validate() error {
	if s.Session.ID == "" {
		return apperr.New(apperr.CodeInvalidInput, "snapshot has no session id")
	}
	campers := make(map[string]bool, len(s.Campers))
	for _, c := range s.Campers {
		if c.ID == "" {
			return apperr.New(apperr.CodeInvalidInput, "camper without id")
		}
		if campers[c.ID] {
			return apperr.New(apperr.CodeInvalidInput, "duplicate camper id %s", c.ID)
		}
		if !c.Gender.Valid() {
			return apperr.New(apperr.CodeInvalidInput, "camper %s has unknown gender %q", c.ID, c.Gender)
		}
		campers[c.ID] = true
	}
	bunks := make(map[string]bool, len(s.Bunks))
	for _, b := range s.Bunks {
		if b.ID == "" {
			return apperr.New(apperr.CodeInvalidInput, "bunk without id")
		}
		if bunks[b.ID] {
			return apperr.New(apperr.CodeInvalidInput, "duplicate bunk id %s", b.ID)
		}
		if b.Capacity <= 0 {
			return apperr.New(apperr.CodeInvalidInput, "bunk %s has capacity %d", b.ID, b.Capacity)
		}
		if !b.Eligibility.Valid() {
			return apperr.New(apperr.CodeInvalidInput, "bunk %s has unknown eligibility %q", b.ID, b.Eligibility)
		}
		bunks[b.ID] = true
	}
	for _, g := range s.LockGroups {
		if err := g.Validate(); err != nil {
			return apperr.Wrap(apperr.CodeInvalidInput, err, "lock group")
		}
	}
	return nil
}

// FillAges computes decimal ages from birth dates relative to the reference date.
// Campers without a birth date keep their stored age.
func (s *Snapshot) FillAges() {
	ref := s.ReferenceDate
	if ref.IsZero() {
		ref = s.Session.StartDate
	}
	if ref.IsZero() {
		return
	}
	for i := range s.Campers {
		if s.Campers[i].BirthDate != nil {
			s.Campers[i].Age = AgeOn(*s.Campers[i].BirthDate, ref)
		}
	}
}

// CamperByID indexes campers by id
func (s *Snapshot) CamperByID() map[string]Camper {
	m := make(map[string]Camper, len(s.Campers))
	for _, c := range s.Campers {
		m[c.ID] = c
	}
	return m
}

// BunkByID indexes bunks by id
func (s *Snapshot) BunkByID() map[string]Bunk {
	m := make(map[string]Bunk, len(s.Bunks))
	for _, b := range s.Bunks {
		m[b.ID] = b
	}
	return m
}
