package models

import "sort"

// Placement is one camper's bunk within an assignment
type Placement struct {
	BunkID string `json:"bunk_id"`
	Locked bool   `json:"locked,omitempty"`
}

// Assignment maps campers to bunks for one session.
// Campers absent from Placements are unassigned.
type Assignment struct {
	SessionID  string               `json:"session_id"`
	Placements map[string]Placement `json:"placements"`
}

// NewAssignment returns an empty assignment for a session
func NewAssignment(sessionID string) *Assignment {
	return &Assignment{SessionID: sessionID, Placements: make(map[string]Placement)}
}

// BunkOf returns the camper's bunk, or "" when unassigned
func (a *Assignment) BunkOf(camperID string) string {
	if a == nil {
		return ""
	}
	return a.Placements[camperID].BunkID
}

// IsLocked reports whether the camper's placement is pinned by staff
func (a *Assignment) IsLocked(camperID string) bool {
	if a == nil {
		return false
	}
	p, ok := a.Placements[camperID]
	return ok && p.Locked
}

// Set places a camper, keeping any existing lock
func (a *Assignment) Set(camperID, bunkID string) {
	if a.Placements == nil {
		a.Placements = make(map[string]Placement)
	}
	p := a.Placements[camperID]
	p.BunkID = bunkID
	a.Placements[camperID] = p
}

// Occupants returns the sorted ids of campers in a bunk
func (a *Assignment) Occupants(bunkID string) []string {
	var ids []string
	if a == nil {
		return ids
	}
	for id, p := range a.Placements {
		if p.BunkID == bunkID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Counts returns the number of occupants per bunk
func (a *Assignment) Counts() map[string]int {
	counts := make(map[string]int)
	if a == nil {
		return counts
	}
	for _, p := range a.Placements {
		if p.BunkID != "" {
			counts[p.BunkID]++
		}
	}
	return counts
}

// Campers returns the sorted ids of placed campers
func (a *Assignment) Campers() []string {
	if a == nil {
		return nil
	}
	ids := make([]string, 0, len(a.Placements))
	for id, p := range a.Placements {
		if p.BunkID != "" {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Pins returns the locked placements as camper id to bunk id
func (a *Assignment) Pins() map[string]string {
	pins := make(map[string]string)
	if a == nil {
		return pins
	}
	for id, p := range a.Placements {
		if p.Locked && p.BunkID != "" {
			pins[id] = p.BunkID
		}
	}
	return pins
}

// Clone returns a deep copy
func (a *Assignment) Clone() *Assignment {
	if a == nil {
		return nil
	}
	out := &Assignment{SessionID: a.SessionID, Placements: make(map[string]Placement, len(a.Placements))}
	for id, p := range a.Placements {
		out.Placements[id] = p
	}
	return out
}

// Move is one camper's change of bunk between two assignments
type Move struct {
	CamperID string `json:"camper_id"`
	From     string `json:"from,omitempty"`
	To       string `json:"to,omitempty"`
}

// Diff lists campers whose bunk differs between a and other, sorted by camper id
func (a *Assignment) Diff(other *Assignment) []Move {
	ids := make(map[string]bool)
	if a != nil {
		for id := range a.Placements {
			ids[id] = true
		}
	}
	if other != nil {
		for id := range other.Placements {
			ids[id] = true
		}
	}
	var moves []Move
	for id := range ids {
		from, to := a.BunkOf(id), other.BunkOf(id)
		if from != to {
			moves = append(moves, Move{CamperID: id, From: from, To: to})
		}
	}
	sort.Slice(moves, func(i, j int) bool { return moves[i].CamperID < moves[j].CamperID })
	return moves
}
