// Package source pulls read-only session snapshots from upstream systems.
package source

import (
	"context"
	"sync"

	"github.com/arnavshah/bunk-planner-go/pkg/apperr"
	"github.com/arnavshah/bunk-planner-go/pkg/models"
)

// Source returns the snapshot of a session. Implementations never modify
// upstream data and return NOT_FOUND for unknown sessions.
type Source interface {
	Snapshot(ctx context.Context, sessionID string) (*models.Snapshot, error)
}

// Static serves snapshots held in memory
type Static struct {
	mu    sync.RWMutex
	snaps map[string]*models.Snapshot
}

// NewStatic creates a static source from the given snapshots
func NewStatic(snaps ...*models.Snapshot) *Static {
	s := &Static{snaps: make(map[string]*models.Snapshot)}
	for _, snap := range snaps {
		s.Put(snap)
	}
	return s
}

// Put adds or replaces a snapshot
func (s *Static) Put(snap *models.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[snap.Session.ID] = snap
}

func (s *Static) Snapshot(_ context.Context, sessionID string) (*models.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snaps[sessionID]
	if !ok {
		return nil, apperr.New(apperr.CodeNotFound, "session %s not found", sessionID)
	}
	return snap, nil
}
