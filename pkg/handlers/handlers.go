package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arnavshah/bunk-planner-go/pkg/apperr"
	"github.com/arnavshah/bunk-planner-go/pkg/constraints"
	"github.com/arnavshah/bunk-planner-go/pkg/database"
	"github.com/arnavshah/bunk-planner-go/pkg/models"
	"github.com/arnavshah/bunk-planner-go/pkg/planner"
	"github.com/arnavshah/bunk-planner-go/pkg/scenario"
	"github.com/arnavshah/bunk-planner-go/pkg/solver"
)

// UsageHistory reads recorded solve activity
type UsageHistory interface {
	History(ctx context.Context, sessionID string, days int) ([]database.SolveUsage, error)
}

// Refresher drops cached upstream data of a session
type Refresher interface {
	Invalidate(ctx context.Context, sessionID string) error
}

// Handler contains dependencies for the route handlers
type Handler struct {
	Planner   *planner.Planner
	Scenarios *scenario.Manager
	// Usage may be nil when solve accounting is disabled.
	Usage UsageHistory
	// Cache may be nil when snapshots are read uncached.
	Cache  Refresher
	Build  constraints.Options
	Logger *zap.Logger
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error      string             `json:"error"`
	Code       apperr.Code        `json:"code"`
	Violations []apperr.Violation `json:"violations,omitempty"`
}

// Warning flags a non-fatal condition on a successful response
type Warning struct {
	Code       apperr.Code `json:"code"`
	Message    string      `json:"message"`
	LockGroups []string    `json:"lock_groups,omitempty"`
}

// ScenarioResponse wraps a scenario with its warnings
type ScenarioResponse struct {
	Scenario *models.Scenario `json:"scenario"`
	Warning  *Warning         `json:"warning,omitempty"`
}

func (h *Handler) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

// fail writes err in the shared error shape
func (h *Handler) fail(c *gin.Context, err error) {
	code := apperr.GetCode(err)
	status := code.HTTPStatus()
	msg := err.Error()
	var e *apperr.Error
	if errors.As(err, &e) && e.Message != "" {
		msg = e.Message
	}
	if status >= http.StatusInternalServerError {
		h.logger().Error("request error", zap.String("path", c.FullPath()), zap.Error(err))
		if code == apperr.CodeUnknown {
			msg = "internal error"
		}
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, ErrorResponse{Error: msg, Code: code, Violations: apperr.Violations(err)})
}

func (h *Handler) badRequest(c *gin.Context, err error) {
	h.fail(c, apperr.Wrap(apperr.CodeInvalidInput, err, "invalid request body"))
}

func (h *Handler) scenario(c *gin.Context, status int, sc *models.Scenario) {
	resp := ScenarioResponse{Scenario: sc}
	if sc.Inconsistent {
		resp.Warning = &Warning{
			Code:       apperr.CodeInconsistentLockGroup,
			Message:    "some lock groups are split across bunks",
			LockGroups: sc.InconsistentIDs,
		}
	}
	c.JSON(status, resp)
}

// Banner describes the service
func (h *Handler) Banner(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "Bunk Planner API",
		"version": "1.0.0",
	})
}

// GetSnapshot returns the upstream data of a session
func (h *Handler) GetSnapshot(c *gin.Context) {
	snap, err := h.Planner.Snapshot(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// RefreshSnapshot forgets the cached snapshot so the next read hits upstream
func (h *Handler) RefreshSnapshot(c *gin.Context) {
	if h.Cache != nil {
		if err := h.Cache.Invalidate(c.Request.Context(), c.Param("id")); err != nil {
			h.fail(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"message": "Snapshot refreshed"})
}

type budgetBody struct {
	TimeLimitMS   int64 `json:"time_limit_ms"`
	MaxIterations int   `json:"max_iterations"`
}

func (b budgetBody) budget() solver.Budget {
	return solver.Budget{
		TimeLimit:     time.Duration(b.TimeLimitMS) * time.Millisecond,
		MaxIterations: b.MaxIterations,
	}
}

type solveBody struct {
	ScenarioID string     `json:"scenario_id"`
	InPlace    bool       `json:"in_place"`
	Name       string     `json:"name"`
	Budget     budgetBody `json:"budget"`
}

func (h *Handler) solveResponse(c *gin.Context, res *planner.SolveResult) {
	if res.Status == solver.StatusInfeasible {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":      res.Reason,
			"code":       apperr.CodeInfeasible,
			"violations": res.Violations,
			"result":     res,
		})
		return
	}
	c.JSON(http.StatusOK, res)
}

// Solve runs the solver for one session and stores a new draft, or
// re-solves the named draft in place
func (h *Handler) Solve(c *gin.Context) {
	var body solveBody
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			h.badRequest(c, err)
			return
		}
	}
	res, err := h.Planner.Solve(c.Request.Context(), planner.SolveRequest{
		SessionID:  c.Param("id"),
		ScenarioID: body.ScenarioID,
		InPlace:    body.InPlace,
		Name:       body.Name,
		Budget:     body.Budget.budget(),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	h.solveResponse(c, res)
}

// SolveBatch solves several sessions in parallel
func (h *Handler) SolveBatch(c *gin.Context) {
	var body struct {
		Requests []struct {
			SessionID string `json:"session_id" binding:"required"`
			solveBody
		} `json:"requests" binding:"required,min=1,dive"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		h.badRequest(c, err)
		return
	}
	reqs := make([]planner.SolveRequest, 0, len(body.Requests))
	for _, r := range body.Requests {
		reqs = append(reqs, planner.SolveRequest{
			SessionID:  r.SessionID,
			ScenarioID: r.ScenarioID,
			InPlace:    r.InPlace,
			Name:       r.Name,
			Budget:     r.Budget.budget(),
		})
	}
	results, err := h.Planner.SolveAll(c.Request.Context(), reqs)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// ListScenarios returns the scenarios of a session, oldest first
func (h *Handler) ListScenarios(c *gin.Context) {
	list, err := h.Scenarios.List(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if list == nil {
		list = []*models.Scenario{}
	}
	c.JSON(http.StatusOK, gin.H{"scenarios": list})
}

// GetLive returns the implemented scenario of a session
func (h *Handler) GetLive(c *gin.Context) {
	sc, err := h.Scenarios.Live(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.scenario(c, http.StatusOK, sc)
}

// CreateScenario creates an empty or copied draft
func (h *Handler) CreateScenario(c *gin.Context) {
	var req struct {
		SessionID string `json:"session_id" binding:"required"`
		Name      string `json:"name"`
		CopyFrom  string `json:"copy_from"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	sc, err := h.Scenarios.Create(c.Request.Context(), scenario.CreateParams{
		SessionID: req.SessionID,
		Name:      req.Name,
		CopyFrom:  req.CopyFrom,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	h.scenario(c, http.StatusCreated, sc)
}

// GetScenario returns one scenario
func (h *Handler) GetScenario(c *gin.Context) {
	sc, err := h.Scenarios.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.scenario(c, http.StatusOK, sc)
}

// DeleteScenario removes a scenario that is not live
func (h *Handler) DeleteScenario(c *gin.Context) {
	if err := h.Scenarios.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Scenario deleted"})
}

// EditScenario moves one camper. An empty bunk id unassigns them.
func (h *Handler) EditScenario(c *gin.Context) {
	var req struct {
		CamperID string `json:"camper_id" binding:"required"`
		BunkID   string `json:"bunk_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	sc, err := h.Scenarios.Edit(c.Request.Context(), c.Param("id"), req.CamperID, req.BunkID)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.scenario(c, http.StatusOK, sc)
}

// LockCamper pins a camper to their current bunk
func (h *Handler) LockCamper(c *gin.Context) {
	h.mutate(c, func(ctx context.Context, id string) (*models.Scenario, error) {
		return h.Scenarios.LockCamper(ctx, id, c.Param("camper"))
	})
}

// UnlockCamper releases a camper's pin
func (h *Handler) UnlockCamper(c *gin.Context) {
	h.mutate(c, func(ctx context.Context, id string) (*models.Scenario, error) {
		return h.Scenarios.UnlockCamper(ctx, id, c.Param("camper"))
	})
}

// CreateLockGroup adds or replaces a lock group on the scenario
func (h *Handler) CreateLockGroup(c *gin.Context) {
	var req struct {
		GroupID   string   `json:"group_id"`
		CamperIDs []string `json:"camper_ids" binding:"required,min=2"`
		Color     string   `json:"color"`
		Label     string   `json:"label"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	h.mutate(c, func(ctx context.Context, id string) (*models.Scenario, error) {
		return h.Scenarios.LockGroup(ctx, id, models.LockGroup{
			ID:      req.GroupID,
			Members: req.CamperIDs,
			Color:   req.Color,
			Label:   req.Label,
		})
	})
}

// DeleteLockGroup removes a lock group from the scenario
func (h *Handler) DeleteLockGroup(c *gin.Context) {
	h.mutate(c, func(ctx context.Context, id string) (*models.Scenario, error) {
		return h.Scenarios.Unlock(ctx, id, c.Param("group"))
	})
}

// ClearScenario drops every unlocked placement
func (h *Handler) ClearScenario(c *gin.Context) {
	h.mutate(c, h.Scenarios.Clear)
}

// AdvanceScenario moves the scenario one workflow stage forward
func (h *Handler) AdvanceScenario(c *gin.Context) {
	h.mutate(c, h.Scenarios.Advance)
}

// ArchiveScenario retires the scenario
func (h *Handler) ArchiveScenario(c *gin.Context) {
	h.mutate(c, h.Scenarios.Archive)
}

// PromoteScenario makes the scenario the session's live assignment
func (h *Handler) PromoteScenario(c *gin.Context) {
	h.mutate(c, h.Scenarios.Promote)
}

func (h *Handler) mutate(c *gin.Context, fn func(ctx context.Context, id string) (*models.Scenario, error)) {
	sc, err := fn(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.scenario(c, http.StatusOK, sc)
}

// GetMetrics scores a scenario against the current snapshot
func (h *Handler) GetMetrics(c *gin.Context) {
	met, err := h.Planner.Metrics(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, met)
}

// CompareScenarios diffs two scenarios of one session
func (h *Handler) CompareScenarios(c *gin.Context) {
	var q struct {
		Base  string `form:"base" binding:"required"`
		Other string `form:"other" binding:"required"`
	}
	if err := c.ShouldBindQuery(&q); err != nil {
		h.fail(c, apperr.Wrap(apperr.CodeInvalidInput, err, "base and other are required"))
		return
	}
	diff, err := h.Planner.Compare(c.Request.Context(), q.Base, q.Other)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, diff)
}

// Register mounts every route on r
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/", h.Banner)

	api := r.Group("/api")
	{
		api.POST("/snapshots/validate", h.ValidateSnapshot)
		api.POST("/solve", h.SolveBatch)
		api.GET("/compare", h.CompareScenarios)

		sessions := api.Group("/sessions/:id")
		sessions.GET("/snapshot", h.GetSnapshot)
		sessions.POST("/refresh", h.RefreshSnapshot)
		sessions.POST("/solve", h.Solve)
		sessions.GET("/scenarios", h.ListScenarios)
		sessions.GET("/live", h.GetLive)
		sessions.GET("/usage", h.GetUsage)

		api.POST("/scenarios", h.CreateScenario)
		scenarios := api.Group("/scenarios/:id")
		scenarios.GET("", h.GetScenario)
		scenarios.DELETE("", h.DeleteScenario)
		scenarios.POST("/edit", h.EditScenario)
		scenarios.POST("/campers/:camper/lock", h.LockCamper)
		scenarios.POST("/campers/:camper/unlock", h.UnlockCamper)
		scenarios.POST("/lock-groups", h.CreateLockGroup)
		scenarios.DELETE("/lock-groups/:group", h.DeleteLockGroup)
		scenarios.POST("/clear", h.ClearScenario)
		scenarios.POST("/advance", h.AdvanceScenario)
		scenarios.POST("/archive", h.ArchiveScenario)
		scenarios.POST("/promote", h.PromoteScenario)
		scenarios.GET("/metrics", h.GetMetrics)
		scenarios.GET("/export.csv", h.ExportCSV)
	}
}

// NewRouter builds a gin engine with the service middleware and routes
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(RequestID(), RequestLogger(h.logger()), Recovery(h.logger()))
	h.Register(r)
	return r
}
