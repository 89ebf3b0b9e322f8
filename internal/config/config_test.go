package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, "8000", cfg.Port)
	assert.Equal(t, 10*time.Second, cfg.SolveTimeLimit)
	assert.Equal(t, 5*time.Minute, cfg.SnapshotTTL)

	w := cfg.Weights()
	assert.Greater(t, w.Request, w.Cohesion)
	assert.Greater(t, w.Cohesion, w.Disruption)
	assert.Greater(t, w.Disruption, 0.0)

	opts := cfg.SolverOptions()
	assert.Equal(t, 4, opts.Workers)
	assert.Equal(t, 2_000_000, opts.DefaultBudget.MaxIterations)
}

func TestParseOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("SOLVE_TIME_LIMIT", "1500ms")
	t.Setenv("WEIGHT_REQUEST", "500")
	t.Setenv("ALLOW_UNASSIGNED", "true")
	t.Setenv("WEIGHT_UNASSIGNED", "5000")

	cfg, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 1500*time.Millisecond, cfg.SolveTimeLimit)
	assert.True(t, cfg.BuildOptions().AllowUnassigned)
	assert.Equal(t, 500.0, cfg.BuildOptions().Weights.Request)
}

func TestParseRejectsBadWeights(t *testing.T) {
	t.Setenv("WEIGHT_COHESION", "2000")
	_, err := Parse()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid weights")
}

func TestParseRejectsMalformedValues(t *testing.T) {
	t.Setenv("SOLVE_WORKERS", "many")
	_, err := Parse()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse env")
}
