// Package app wires configuration into a ready HTTP router.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/arnavshah/bunk-planner-go/internal/config"
	"github.com/arnavshah/bunk-planner-go/pkg/database"
	"github.com/arnavshah/bunk-planner-go/pkg/handlers"
	"github.com/arnavshah/bunk-planner-go/pkg/metrics"
	"github.com/arnavshah/bunk-planner-go/pkg/planner"
	"github.com/arnavshah/bunk-planner-go/pkg/scenario"
	"github.com/arnavshah/bunk-planner-go/pkg/solver"
	"github.com/arnavshah/bunk-planner-go/pkg/source"
)

// App is the assembled service
type App struct {
	Router  *gin.Engine
	Planner *planner.Planner
	closers []func() error
}

// New connects the database and optional redis cache and builds the router
func New(cfg config.Config, logger *zap.Logger) (*App, error) {
	if cfg.GinMode == "" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(cfg.GinMode)
	}

	a := &App{}
	db, err := database.InitDB(cfg.Database())
	if err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		a.closers = append(a.closers, sqlDB.Close)
	}

	var (
		src   source.Source = source.NewFileSource(cfg.SnapshotDir)
		cache handlers.Refresher
	)
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := client.Ping(ctx).Err()
		cancel()
		if err != nil {
			// Reads fall through to files while redis is down.
			logger.Warn("redis unreachable, snapshot cache degraded", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		cached := source.NewCached(src, source.NewRedisKV(client), cfg.SnapshotTTL, logger.Named("source"))
		src, cache = cached, cached
		a.closers = append(a.closers, client.Close)
	}

	engine := metrics.NewEngine(cfg.MinConfidence)
	manager := scenario.NewManager(database.NewScenarioStore(db), src, engine, logger.Named("scenario"))

	solverOpts := cfg.SolverOptions()
	solverOpts.Logger = logger.Named("solver")
	usage := database.NewUsageStore(db)
	a.Planner = planner.New(src, manager, solver.New(solverOpts), engine, planner.Options{
		Build:   cfg.BuildOptions(),
		Workers: cfg.SolveWorkers,
		Usage:   usage,
		Logger:  logger.Named("planner"),
	})

	a.Router = handlers.NewRouter(&handlers.Handler{
		Planner:   a.Planner,
		Scenarios: manager,
		Usage:     usage,
		Cache:     cache,
		Build:     cfg.BuildOptions(),
		Logger:    logger.Named("http"),
	})
	return a, nil
}

// Close releases database and cache connections
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close app: %w", errors.Join(errs...))
	}
	return nil
}
