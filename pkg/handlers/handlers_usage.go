package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/arnavshah/bunk-planner-go/pkg/database"
)

// GetUsage returns recent solve activity of a session
func (h *Handler) GetUsage(c *gin.Context) {
	sessionID := c.Param("id")
	usage := []database.SolveUsage{}
	if h.Usage != nil {
		days, _ := strconv.Atoi(c.DefaultQuery("days", "30"))
		var err error
		usage, err = h.Usage.History(c.Request.Context(), sessionID, days)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not fetch usage details"})
			return
		}
	}

	// Calculate totals
	var totalSolves, totalInfeasible int
	var totalIterations int64
	for _, u := range usage {
		totalSolves += u.SolveCount
		totalInfeasible += u.InfeasibleCount
		totalIterations += u.TotalIterations
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id":    sessionID,
		"usage_history": usage,
		"totals": gin.H{
			"solves":     totalSolves,
			"infeasible": totalInfeasible,
			"iterations": totalIterations,
		},
	})
}
