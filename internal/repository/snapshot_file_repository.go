package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
	appErrors "github.com/noah-isme/sma-timetable-engine/pkg/errors"
)

var snapshotExtensions = []string{".yaml", ".yml", ".json"}

// SnapshotFileRepository loads snapshots from YAML or JSON files named after the timetable id.
// It backs the CLI and the comparison script, and the API when persistence is disabled.
type SnapshotFileRepository struct {
	dir string
}

// NewSnapshotFileRepository serves snapshots from dir.
func NewSnapshotFileRepository(dir string) *SnapshotFileRepository {
	return &SnapshotFileRepository{dir: dir}
}

// Load reads <dir>/<timetableID>.{yaml,yml,json}.
func (r *SnapshotFileRepository) Load(_ context.Context, timetableID string) (*models.Snapshot, error) {
	if timetableID == "" || filepath.Base(timetableID) != timetableID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid timetable id")
	}
	for _, ext := range snapshotExtensions {
		path := filepath.Join(r.dir, timetableID+ext)
		snapshot, err := LoadSnapshotFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if snapshot.TimetableID == "" {
			snapshot.TimetableID = timetableID
		}
		return snapshot, nil
	}
	return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("timetable %s not found", timetableID))
}

// LoadSnapshotFile decodes one snapshot file, choosing the codec from the extension.
func LoadSnapshotFile(path string) (*models.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var snapshot models.Snapshot
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &snapshot)
	} else {
		err = yaml.Unmarshal(data, &snapshot)
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrDataError.Code, appErrors.ErrDataError.Status, fmt.Sprintf("decode snapshot %s", filepath.Base(path)))
	}
	return &snapshot, nil
}
