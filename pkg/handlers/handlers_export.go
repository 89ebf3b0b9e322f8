package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/arnavshah/bunk-planner-go/pkg/export"
)

// ExportCSV writes a scenario's placements as CSV, one row per enrolled
// camper ordered by bunk name, unassigned campers last
func (h *Handler) ExportCSV(c *gin.Context) {
	ctx := c.Request.Context()
	sc, err := h.Scenarios.Get(ctx, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	snap, err := h.Planner.Snapshot(ctx, sc.SessionID)
	if err != nil {
		h.fail(c, err)
		return
	}

	var out strings.Builder
	if err := export.WriteCSV(&out, snap, sc.Assignment); err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "scenario-"+sc.ID+".csv"))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", []byte(out.String()))
}
