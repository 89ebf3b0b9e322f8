package scenario

import (
	"context"
	"sort"
	"sync"

	"github.com/arnavshah/bunk-planner-go/pkg/apperr"
	"github.com/arnavshah/bunk-planner-go/pkg/models"
)

// Store persists scenarios. Get returns NOT_FOUND for unknown ids.
type Store interface {
	Save(ctx context.Context, s *models.Scenario) error
	Get(ctx context.Context, id string) (*models.Scenario, error)
	ListBySession(ctx context.Context, sessionID string) ([]*models.Scenario, error)
	Delete(ctx context.Context, id string) error
}

// MemoryStore keeps scenarios in process memory
type MemoryStore struct {
	mu        sync.RWMutex
	scenarios map[string]*models.Scenario
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{scenarios: make(map[string]*models.Scenario)}
}

func (m *MemoryStore) Save(ctx context.Context, s *models.Scenario) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scenarios[s.ID] = s.Clone()
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*models.Scenario, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.scenarios[id]
	if !ok {
		return nil, apperr.New(apperr.CodeNotFound, "scenario %s not found", id)
	}
	return s.Clone(), nil
}

func (m *MemoryStore) ListBySession(ctx context.Context, sessionID string) ([]*models.Scenario, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Scenario
	for _, s := range m.scenarios {
		if s.SessionID == sessionID {
			out = append(out, s.Clone())
		}
	}
	SortScenarios(out)
	return out, nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.scenarios[id]; !ok {
		return apperr.New(apperr.CodeNotFound, "scenario %s not found", id)
	}
	delete(m.scenarios, id)
	return nil
}

// SortScenarios orders scenarios by creation time, then id
func SortScenarios(list []*models.Scenario) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
}
