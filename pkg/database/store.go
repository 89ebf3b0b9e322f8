package database

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/arnavshah/bunk-planner-go/pkg/apperr"
	"github.com/arnavshah/bunk-planner-go/pkg/models"
)

// ScenarioRecord represents the scenarios table. Session, camper and bunk
// references are upstream ids.
type ScenarioRecord struct {
	ID               string                      `gorm:"primaryKey"`
	SessionID        string                      `gorm:"index;not null"`
	Name             string                      `gorm:"not null"`
	Status           string                      `gorm:"index;not null"`
	Placements       map[string]models.Placement `gorm:"serializer:json"`
	Inconsistent     bool
	InconsistentIDs  []string `gorm:"serializer:json"`
	Metrics          string   `gorm:"type:text"`
	SourceScenarioID string
	CreatedAt        time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime:false"`
}

func (ScenarioRecord) TableName() string { return "scenarios" }

// LockGroupRecord represents the lock_groups table, one row per group of a
// scenario
type LockGroupRecord struct {
	ScenarioID string   `gorm:"primaryKey"`
	GroupID    string   `gorm:"primaryKey"`
	SessionID  string   `gorm:"index;not null"`
	Members    []string `gorm:"serializer:json"`
	Color      string
	Label      string
	Position   int
}

func (LockGroupRecord) TableName() string { return "lock_groups" }

// ScenarioStore persists scenarios with gorm
type ScenarioStore struct {
	DB *gorm.DB
}

// NewScenarioStore creates a store over db
func NewScenarioStore(db *gorm.DB) *ScenarioStore {
	return &ScenarioStore{DB: db}
}

// Save upserts the scenario and replaces its lock groups in one transaction
func (s *ScenarioStore) Save(ctx context.Context, sc *models.Scenario) error {
	rec, groups := toRecords(sc)
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).Create(&rec).Error; err != nil {
			return err
		}
		if err := tx.Where("scenario_id = ?", sc.ID).Delete(&LockGroupRecord{}).Error; err != nil {
			return err
		}
		if len(groups) == 0 {
			return nil
		}
		return tx.Create(&groups).Error
	})
}

func (s *ScenarioStore) Get(ctx context.Context, id string) (*models.Scenario, error) {
	var rec ScenarioRecord
	err := s.DB.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.CodeNotFound, "scenario %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	var groups []LockGroupRecord
	if err := s.DB.WithContext(ctx).Where("scenario_id = ?", id).Order("position").Find(&groups).Error; err != nil {
		return nil, err
	}
	return fromRecords(rec, groups), nil
}

func (s *ScenarioStore) ListBySession(ctx context.Context, sessionID string) ([]*models.Scenario, error) {
	var recs []ScenarioRecord
	if err := s.DB.WithContext(ctx).Where("session_id = ?", sessionID).Order("created_at, id").Find(&recs).Error; err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}
	var groups []LockGroupRecord
	if err := s.DB.WithContext(ctx).Where("scenario_id IN ?", ids).Order("scenario_id, position").Find(&groups).Error; err != nil {
		return nil, err
	}
	byScenario := make(map[string][]LockGroupRecord)
	for _, g := range groups {
		byScenario[g.ScenarioID] = append(byScenario[g.ScenarioID], g)
	}
	out := make([]*models.Scenario, len(recs))
	for i, r := range recs {
		out[i] = fromRecords(r, byScenario[r.ID])
	}
	return out, nil
}

func (s *ScenarioStore) Delete(ctx context.Context, id string) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("scenario_id = ?", id).Delete(&LockGroupRecord{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&ScenarioRecord{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.New(apperr.CodeNotFound, "scenario %s not found", id)
		}
		return nil
	})
}

func toRecords(sc *models.Scenario) (ScenarioRecord, []LockGroupRecord) {
	rec := ScenarioRecord{
		ID:               sc.ID,
		SessionID:        sc.SessionID,
		Name:             sc.Name,
		Status:           string(sc.Status),
		Inconsistent:     sc.Inconsistent,
		InconsistentIDs:  sc.InconsistentIDs,
		Metrics:          string(sc.Metrics),
		SourceScenarioID: sc.SourceScenarioID,
		CreatedAt:        sc.CreatedAt,
		UpdatedAt:        sc.UpdatedAt,
	}
	if sc.Assignment != nil {
		rec.Placements = sc.Assignment.Placements
	}
	groups := make([]LockGroupRecord, len(sc.LockGroups))
	for i, g := range sc.LockGroups {
		groups[i] = LockGroupRecord{
			ScenarioID: sc.ID,
			GroupID:    g.ID,
			SessionID:  sc.SessionID,
			Members:    g.Members,
			Color:      g.Color,
			Label:      g.Label,
			Position:   i,
		}
	}
	return rec, groups
}

func fromRecords(rec ScenarioRecord, groups []LockGroupRecord) *models.Scenario {
	sc := &models.Scenario{
		ID:               rec.ID,
		SessionID:        rec.SessionID,
		Name:             rec.Name,
		Status:           models.ScenarioStatus(rec.Status),
		Assignment:       models.NewAssignment(rec.SessionID),
		Inconsistent:     rec.Inconsistent,
		InconsistentIDs:  rec.InconsistentIDs,
		SourceScenarioID: rec.SourceScenarioID,
		CreatedAt:        rec.CreatedAt,
		UpdatedAt:        rec.UpdatedAt,
	}
	for id, p := range rec.Placements {
		sc.Assignment.Placements[id] = p
	}
	if rec.Metrics != "" {
		sc.Metrics = json.RawMessage(rec.Metrics)
	}
	for _, g := range groups {
		sc.LockGroups = append(sc.LockGroups, models.LockGroup{
			ID:        g.GroupID,
			SessionID: g.SessionID,
			Members:   g.Members,
			Color:     g.Color,
			Label:     g.Label,
		})
	}
	return sc
}
