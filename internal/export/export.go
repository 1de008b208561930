package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"adforge/internal/models"

	"github.com/gabriel-vasile/mimetype"
	log "github.com/sirupsen/logrus"
)

// ManifestName is the file holding the scenario and the shot list.
const ManifestName = "scenario.json"

// Manifest is written next to the exported shots.
type Manifest struct {
	RunID    string          `json:"runId"`
	Scenario models.Scenario `json:"scenario"`
	Shots    []ShotEntry     `json:"shots"`
}

// ShotEntry describes one job in the manifest. File is empty for jobs that
// did not complete.
type ShotEntry struct {
	Index    int              `json:"index"`
	ID       string           `json:"id"`
	Prompt   string           `json:"prompt"`
	Status   models.JobStatus `json:"status"`
	Attempts int              `json:"attempts"`
	Error    string           `json:"error,omitempty"`
	File     string           `json:"file,omitempty"`
}

// Result summarises an export.
type Result struct {
	Dir     string
	Files   []string
	Skipped int
}

// Writer exports a finished campaign to a directory.
type Writer struct {
	// FileMode is used for every written file; zero means 0o644.
	FileMode os.FileMode
}

// WriteCampaign writes the manifest and one image file per completed job into
// dir, creating it if needed. Jobs without an artifact are listed in the
// manifest but produce no file.
func (w Writer) WriteCampaign(dir, runID string, scenario *models.Scenario, jobs []models.Job) (Result, error) {
	if scenario == nil {
		return Result{}, errors.New("export: no scenario to write")
	}
	mode := w.FileMode
	if mode == 0 {
		mode = 0o644
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Result{}, fmt.Errorf("export: create %s: %w", dir, err)
	}

	res := Result{Dir: dir}
	manifest := Manifest{RunID: runID, Scenario: *scenario, Shots: make([]ShotEntry, 0, len(jobs))}
	for _, j := range jobs {
		entry := ShotEntry{
			Index:    j.Index,
			ID:       j.ID,
			Prompt:   j.Prompt,
			Status:   j.Status,
			Attempts: j.Attempts,
			Error:    j.Error,
		}
		if j.Status == models.JobStatusCompleted && j.Artifact != nil {
			name := ShotFileName(j)
			if err := os.WriteFile(filepath.Join(dir, name), j.Artifact.Data, mode); err != nil {
				return res, fmt.Errorf("export: write %s: %w", name, err)
			}
			entry.File = name
			res.Files = append(res.Files, name)
		} else {
			res.Skipped++
		}
		manifest.Shots = append(manifest.Shots, entry)
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return res, fmt.Errorf("export: encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestName), data, mode); err != nil {
		return res, fmt.Errorf("export: write manifest: %w", err)
	}

	log.WithField("run_id", runID).Infof("Exported %d shot(s) to %s (%d skipped)", len(res.Files), dir, res.Skipped)
	return res, nil
}

// ShotFileName is shot-NN-<id><ext>, numbered from 1 in sequence order.
func ShotFileName(j models.Job) string {
	ext := ".img"
	if j.Artifact != nil {
		if mt := mimetype.Lookup(j.Artifact.MIMEType); mt != nil && mt.Extension() != "" {
			ext = mt.Extension()
		}
	}
	return fmt.Sprintf("shot-%02d-%s%s", j.Index+1, j.ID, ext)
}
