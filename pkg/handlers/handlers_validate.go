package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arnavshah/bunk-planner-go/pkg/apperr"
	"github.com/arnavshah/bunk-planner-go/pkg/constraints"
	"github.com/arnavshah/bunk-planner-go/pkg/source"
)

// ValidateSnapshot checks a snapshot document and whether its session can be
// solved at all, without storing anything
func (h *Handler) ValidateSnapshot(c *gin.Context) {
	data, err := c.GetRawData()
	if err != nil || len(data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"valid": false,
			"error": "snapshot body is required",
		})
		return
	}

	snap, err := source.Decode(data, ".json")
	if err != nil {
		c.JSON(http.StatusOK, gin.H{
			"valid": false,
			"error": err.Error(),
			"code":  apperr.GetCode(err),
		})
		return
	}

	capacity := 0
	for _, b := range snap.Bunks {
		capacity += b.Capacity
	}
	stats := gin.H{
		"camper_count":     len(snap.Campers),
		"bunk_count":       len(snap.Bunks),
		"request_count":    len(snap.Requests),
		"lock_group_count": len(snap.LockGroups),
		"total_capacity":   capacity,
	}

	m, err := constraints.Build(snap, constraints.Input{}, h.Build)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{
			"valid":      false,
			"error":      err.Error(),
			"code":       apperr.GetCode(err),
			"violations": apperr.Violations(err),
			"stats":      stats,
		})
		return
	}

	stats["unit_count"] = len(m.Units)
	stats["active_requests"] = len(m.Terms)
	c.JSON(http.StatusOK, gin.H{
		"valid":      true,
		"stats":      stats,
		"skipped":    m.Skipped,
		"suppressed": m.Suppressed,
	})
}
