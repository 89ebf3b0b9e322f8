// Package export renders assignments for staff outside the planner.
package export

import (
	"encoding/csv"
	"io"
	"sort"
	"strconv"

	"github.com/arnavshah/bunk-planner-go/pkg/models"
)

// Header is the first CSV row
var Header = []string{"camper_id", "camper_name", "grade", "gender", "bunk_id", "bunk_name", "locked"}

// WriteCSV renders one row per enrolled camper of snap, ordered by bunk
// name with unassigned campers last
func WriteCSV(w io.Writer, snap *models.Snapshot, a *models.Assignment) error {
	bunks := snap.BunkByID()
	type row struct {
		camper models.Camper
		bunk   models.Bunk
		placed bool
	}
	var rows []row
	for _, cm := range snap.Campers {
		if !cm.Enrolled || cm.SessionID != snap.Session.ID {
			continue
		}
		b, ok := bunks[a.BunkOf(cm.ID)]
		rows = append(rows, row{camper: cm, bunk: b, placed: ok})
	}
	sort.Slice(rows, func(i, j int) bool {
		ri, rj := rows[i], rows[j]
		if ri.placed != rj.placed {
			return ri.placed
		}
		if ri.bunk.Name != rj.bunk.Name {
			return ri.bunk.Name < rj.bunk.Name
		}
		if ri.bunk.ID != rj.bunk.ID {
			return ri.bunk.ID < rj.bunk.ID
		}
		return ri.camper.ID < rj.camper.ID
	})

	writer := csv.NewWriter(w)
	if err := writer.Write(Header); err != nil {
		return err
	}
	for _, r := range rows {
		locked := ""
		if r.placed && a.IsLocked(r.camper.ID) {
			locked = "true"
		}
		if err := writer.Write([]string{
			r.camper.ID,
			r.camper.Name,
			strconv.Itoa(r.camper.Grade),
			string(r.camper.Gender),
			r.bunk.ID,
			r.bunk.Name,
			locked,
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
