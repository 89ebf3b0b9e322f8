package models

import (
	"encoding/json"
	"time"
)

// ScenarioStatus is a scenario's lifecycle stage
type ScenarioStatus string

const (
	StatusDraft       ScenarioStatus = "draft"
	StatusReview      ScenarioStatus = "review"
	StatusApproved    ScenarioStatus = "approved"
	StatusImplemented ScenarioStatus = "implemented"
	StatusArchived    ScenarioStatus = "archived"
)

var statusOrder = []ScenarioStatus{StatusDraft, StatusReview, StatusApproved, StatusImplemented, StatusArchived}

// Next returns the following stage, or "" for archived
func (s ScenarioStatus) Next() ScenarioStatus {
	for i, st := range statusOrder {
		if st == s && i+1 < len(statusOrder) {
			return statusOrder[i+1]
		}
	}
	return ""
}

// Valid reports whether s is a known stage
func (s ScenarioStatus) Valid() bool {
	for _, st := range statusOrder {
		if st == s {
			return true
		}
	}
	return false
}

// CanTransition reports whether a scenario may move from one stage to another.
// Stages only move forward; any live stage may be archived and any
// pre-implementation stage may be promoted.
func CanTransition(from, to ScenarioStatus) bool {
	if from == StatusArchived {
		return false
	}
	switch to {
	case StatusArchived:
		return true
	case StatusImplemented:
		return from == StatusDraft || from == StatusReview || from == StatusApproved
	}
	return from.Next() == to
}

// Scenario is a named draft assignment for one session
type Scenario struct {
	ID               string          `json:"id"`
	SessionID        string          `json:"session_id"`
	Name             string          `json:"name"`
	Status           ScenarioStatus  `json:"status"`
	Assignment       *Assignment     `json:"assignment"`
	LockGroups       []LockGroup     `json:"lock_groups"`
	Inconsistent     bool            `json:"inconsistent"`
	InconsistentIDs  []string        `json:"inconsistent_lock_groups,omitempty"`
	Metrics          json.RawMessage `json:"metrics,omitempty"`
	SourceScenarioID string          `json:"source_scenario_id,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// LockGroupByID finds a lock group by id
func (s *Scenario) LockGroupByID(id string) (LockGroup, int, bool) {
	for i, g := range s.LockGroups {
		if g.ID == id {
			return g, i, true
		}
	}
	return LockGroup{}, -1, false
}

// Clone returns a deep copy
func (s *Scenario) Clone() *Scenario {
	out := *s
	out.Assignment = s.Assignment.Clone()
	out.LockGroups = make([]LockGroup, len(s.LockGroups))
	for i, g := range s.LockGroups {
		g.Members = append([]string(nil), g.Members...)
		out.LockGroups[i] = g
	}
	out.InconsistentIDs = append([]string(nil), s.InconsistentIDs...)
	out.Metrics = append(json.RawMessage(nil), s.Metrics...)
	return &out
}
