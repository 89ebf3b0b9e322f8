// Package config loads service settings from the environment.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/arnavshah/bunk-planner-go/pkg/constraints"
	"github.com/arnavshah/bunk-planner-go/pkg/database"
	"github.com/arnavshah/bunk-planner-go/pkg/solver"
)

// Config holds every setting of the planner service
type Config struct {
	Port    string `env:"PORT" envDefault:"8000"`
	GinMode string `env:"GIN_MODE"`

	DatabaseURL string `env:"DATABASE_URL"`
	DataPath    string `env:"DATA_PATH" envDefault:"scenarios.db"`
	DBDebug     bool   `env:"DB_DEBUG" envDefault:"false"`

	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
	SnapshotDir   string        `env:"SNAPSHOT_DIR" envDefault:"snapshots"`
	SnapshotTTL   time.Duration `env:"SNAPSHOT_TTL" envDefault:"5m"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	SolveTimeLimit     time.Duration `env:"SOLVE_TIME_LIMIT" envDefault:"10s"`
	SolveMaxIterations int           `env:"SOLVE_MAX_ITERATIONS" envDefault:"2000000"`
	SolveExactLimit    int           `env:"SOLVE_EXACT_LIMIT" envDefault:"200000"`
	SolveWorkers       int           `env:"SOLVE_WORKERS" envDefault:"4"`

	WeightRequest    float64 `env:"WEIGHT_REQUEST" envDefault:"1000"`
	WeightCohesion   float64 `env:"WEIGHT_COHESION" envDefault:"10"`
	WeightDisruption float64 `env:"WEIGHT_DISRUPTION" envDefault:"1"`
	WeightUnassigned float64 `env:"WEIGHT_UNASSIGNED" envDefault:"1000000"`

	AllowUnassigned bool    `env:"ALLOW_UNASSIGNED" envDefault:"false"`
	MinConfidence   float64 `env:"MIN_CONFIDENCE" envDefault:"0"`
}

// LoadDotEnv loads the first .env found in the working directory or its
// parents. A missing file is not an error.
func LoadDotEnv() {
	for _, p := range []string{".env", "../.env", "../../.env"} {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
			return
		}
	}
}

// Load reads .env files and the environment into a validated Config
func Load() (Config, error) {
	LoadDotEnv()
	return Parse()
}

// Parse reads the environment into a validated Config
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that parse but cannot be used
func (c Config) Validate() error {
	if err := c.Weights().Validate(); err != nil {
		return fmt.Errorf("invalid weights: %w", err)
	}
	if c.SolveTimeLimit <= 0 {
		return fmt.Errorf("SOLVE_TIME_LIMIT must be positive, got %s", c.SolveTimeLimit)
	}
	if c.SolveWorkers <= 0 {
		return fmt.Errorf("SOLVE_WORKERS must be positive, got %d", c.SolveWorkers)
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("MIN_CONFIDENCE must be within 0-1, got %v", c.MinConfidence)
	}
	return nil
}

// Weights returns the objective coefficients
func (c Config) Weights() constraints.Weights {
	return constraints.Weights{
		Request:    c.WeightRequest,
		Cohesion:   c.WeightCohesion,
		Disruption: c.WeightDisruption,
		Unassigned: c.WeightUnassigned,
	}
}

// BuildOptions returns the model construction settings
func (c Config) BuildOptions() constraints.Options {
	return constraints.Options{
		Weights:         c.Weights(),
		AllowUnassigned: c.AllowUnassigned,
		MinConfidence:   c.MinConfidence,
	}
}

// SolverOptions returns the search settings
func (c Config) SolverOptions() solver.Options {
	return solver.Options{
		DefaultBudget: solver.Budget{TimeLimit: c.SolveTimeLimit, MaxIterations: c.SolveMaxIterations},
		ExactLimit:    c.SolveExactLimit,
		Workers:       c.SolveWorkers,
	}
}

// Database returns the persistence settings
func (c Config) Database() database.Config {
	return database.Config{DatabaseURL: c.DatabaseURL, DataPath: c.DataPath, Debug: c.DBDebug}
}
