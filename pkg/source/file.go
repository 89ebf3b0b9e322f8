package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arnavshah/bunk-planner-go/pkg/apperr"
	"github.com/arnavshah/bunk-planner-go/pkg/models"
)

// fileSnapshot is the on-disk export format. Requests arrive in the loose
// upstream shape and are validated on load.
type fileSnapshot struct {
	Session       models.Session      `json:"session" yaml:"session"`
	ReferenceDate *time.Time          `json:"reference_date,omitempty" yaml:"reference_date,omitempty"`
	Campers       []models.Camper     `json:"campers" yaml:"campers"`
	Bunks         []models.Bunk       `json:"bunks" yaml:"bunks"`
	Requests      []models.RawRequest `json:"requests" yaml:"requests"`
	LockGroups    []models.LockGroup  `json:"lock_groups" yaml:"lock_groups"`
}

// FileSource reads <dir>/<session>.json, .yaml or .yml exports
type FileSource struct {
	Dir string
}

// NewFileSource creates a source over a directory of exports
func NewFileSource(dir string) *FileSource {
	return &FileSource{Dir: dir}
}

func (f *FileSource) Snapshot(ctx context.Context, sessionID string) (*models.Snapshot, error) {
	if sessionID == "" || filepath.Base(sessionID) != sessionID {
		return nil, apperr.New(apperr.CodeInvalidInput, "invalid session id %q", sessionID)
	}
	for _, ext := range []string{".json", ".yaml", ".yml"} {
		path := filepath.Join(f.Dir, sessionID+ext)
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read snapshot %s: %w", path, err)
		}
		snap, err := Decode(data, ext)
		if err != nil {
			return nil, fmt.Errorf("decode snapshot %s: %w", path, err)
		}
		if snap.Session.ID != sessionID {
			return nil, apperr.New(apperr.CodeInvalidInput, "snapshot %s describes session %s", path, snap.Session.ID)
		}
		return snap, nil
	}
	return nil, apperr.New(apperr.CodeNotFound, "session %s not found", sessionID)
}

// Decode parses an export in JSON (".json") or YAML (anything else),
// validating every request and filling in camper ages.
func Decode(data []byte, ext string) (*models.Snapshot, error) {
	var raw fileSnapshot
	var err error
	if ext == ".json" {
		err = json.Unmarshal(data, &raw)
	} else {
		err = yaml.Unmarshal(data, &raw)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInvalidInput, err, "malformed snapshot")
	}

	snap := &models.Snapshot{
		Session:    raw.Session,
		Campers:    raw.Campers,
		Bunks:      raw.Bunks,
		LockGroups: raw.LockGroups,
	}
	if raw.ReferenceDate != nil {
		snap.ReferenceDate = *raw.ReferenceDate
	}
	for _, rr := range raw.Requests {
		req, err := models.ParseRequest(rr)
		if err != nil {
			return nil, err
		}
		snap.Requests = append(snap.Requests, req)
	}
	for i := range snap.Campers {
		if snap.Campers[i].SessionID == "" {
			snap.Campers[i].SessionID = snap.Session.ID
		}
	}
	for i := range snap.Bunks {
		if snap.Bunks[i].SessionID == "" {
			snap.Bunks[i].SessionID = snap.Session.ID
		}
	}
	for i := range snap.LockGroups {
		if snap.LockGroups[i].SessionID == "" {
			snap.LockGroups[i].SessionID = snap.Session.ID
		}
	}
	snap.FillAges()
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return snap, nil
}
