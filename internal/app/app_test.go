package app

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arnavshah/bunk-planner-go/internal/config"
)

const summer = `
session:
  id: summer
  kind: main
campers:
  - {id: c1, gender: female, grade: 4, enrolled: true}
  - {id: c2, gender: female, grade: 5, enrolled: true}
bunks:
  - {id: b1, eligibility: female, capacity: 2}
requests:
  - {id: r1, requester_id: c1, type: bunk_with, target_id: c2, priority: 3, status: resolved, confidence: 1}
`

func TestNewServesSolve(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "summer.yaml"), []byte(summer), 0o644))

	t.Setenv("SNAPSHOT_DIR", dir)
	t.Setenv("DATA_PATH", filepath.Join(dir, "planner.db"))
	t.Setenv("GIN_MODE", "test")
	cfg, err := config.Parse()
	require.NoError(t, err)

	a, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	w := httptest.NewRecorder()
	a.Router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/sessions/summer/solve", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"status":"optimal"`)

	w = httptest.NewRecorder()
	a.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sessions/summer/usage", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), `"solves":1`), w.Body.String())
}
