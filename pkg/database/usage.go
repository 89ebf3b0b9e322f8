package database

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SolveUsage represents the solve_usage table, one row per session per day
type SolveUsage struct {
	ID              uint   `gorm:"primaryKey" json:"-"`
	SessionID       string `gorm:"uniqueIndex:idx_usage_session_date;not null" json:"session_id"`
	Date            string `gorm:"uniqueIndex:idx_usage_session_date;not null" json:"date"` // YYYY-MM-DD
	SolveCount      int    `gorm:"default:0" json:"solve_count"`
	InfeasibleCount int    `gorm:"default:0" json:"infeasible_count"`
	TotalCampers    int    `gorm:"default:0" json:"total_campers"`
	TotalIterations int64  `gorm:"default:0" json:"total_iterations"`
}

func (SolveUsage) TableName() string { return "solve_usage" }

// UsageStore records solve activity
type UsageStore struct {
	DB  *gorm.DB
	now func() time.Time
}

// NewUsageStore creates a usage store over db
func NewUsageStore(db *gorm.DB) *UsageStore {
	return &UsageStore{DB: db, now: time.Now}
}

// RecordSolve adds one solve to today's row of the session with a single upsert
func (s *UsageStore) RecordSolve(ctx context.Context, sessionID string, campers, iterations int, infeasible bool) error {
	failed := 0
	if infeasible {
		failed = 1
	}
	return s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "session_id"}, {Name: "date"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"solve_count":      gorm.Expr("solve_usage.solve_count + ?", 1),
			"infeasible_count": gorm.Expr("solve_usage.infeasible_count + ?", failed),
			"total_campers":    gorm.Expr("solve_usage.total_campers + ?", campers),
			"total_iterations": gorm.Expr("solve_usage.total_iterations + ?", iterations),
		}),
	}).Create(&SolveUsage{
		SessionID:       sessionID,
		Date:            s.now().Format("2006-01-02"),
		SolveCount:      1,
		InfeasibleCount: failed,
		TotalCampers:    campers,
		TotalIterations: int64(iterations),
	}).Error
}

// History returns the latest days of solve usage for a session, newest first
func (s *UsageStore) History(ctx context.Context, sessionID string, days int) ([]SolveUsage, error) {
	if days <= 0 {
		days = 30
	}
	var usage []SolveUsage
	err := s.DB.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("date desc").
		Limit(days).
		Find(&usage).Error
	return usage, err
}
