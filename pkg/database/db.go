package database

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Config selects the database backend
type Config struct {
	// DatabaseURL is a Postgres DSN; when empty a SQLite file is used.
	DatabaseURL string
	// DataPath is the SQLite file. Defaults to scenarios.db.
	DataPath string
	// Debug logs every SQL statement.
	Debug bool
}

// InitDB initializes the database connection and migrates the schema
func InitDB(cfg Config) (*gorm.DB, error) {
	var db *gorm.DB
	var err error

	gcfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	if cfg.Debug {
		gcfg.Logger = logger.Default.LogMode(logger.Info)
	}

	if cfg.DatabaseURL != "" {
		gcfg.PrepareStmt = false
		db, err = gorm.Open(postgres.New(postgres.Config{
			DSN:                  cfg.DatabaseURL,
			PreferSimpleProtocol: true,
		}), gcfg)
	} else {
		path := cfg.DataPath
		if path == "" {
			path = "scenarios.db"
		}
		db, err = gorm.Open(sqlite.Open(path), gcfg)
	}
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := db.AutoMigrate(&ScenarioRecord{}, &LockGroupRecord{}, &SolveUsage{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return db, nil
}
