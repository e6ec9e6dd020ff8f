package record

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-gaze/pkg/fusion"
)

// ManifestFile is the manifest name inside the output directory.
const ManifestFile = "run.json"

// Manifest describes one run: what went in, what came out and how it went.
type Manifest struct {
	Version    int               `json:"version"`
	RunID      string            `json:"run_id"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at,omitzero"`
	Config     any               `json:"config,omitempty"`
	Outputs    map[string]string `json:"outputs"`
	Summary    fusion.Summary    `json:"summary"`
	HitRate    float64           `json:"gaze_hit_rate"`
	Classes    []ClassStats      `json:"classes,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// NewManifest starts a manifest with a fresh run id.
func NewManifest(config any) *Manifest {
	return &Manifest{
		Version:   1,
		RunID:     uuid.New().String(),
		StartedAt: time.Now().UTC(),
		Config:    config,
		Outputs:   make(map[string]string),
	}
}

// AddOutput records an output file under a short name.
func (m *Manifest) AddOutput(name, path string) {
	if path != "" {
		m.Outputs[name] = path
	}
}

// Finish records the run result. stats may be nil.
func (m *Manifest) Finish(sum fusion.Summary, stats *Stats, runErr error) {
	m.FinishedAt = time.Now().UTC()
	m.Summary = sum
	if stats != nil {
		m.HitRate = stats.HitRate()
		m.Classes = stats.Classes()
	}
	if runErr != nil {
		m.Error = runErr.Error()
	}
}

// Write saves the manifest atomically.
func (m *Manifest) Write(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("record: marshal manifest: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("record: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("record: write manifest: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("record: rename manifest: %w", err)
	}
	return nil
}

// ReadManifest loads a manifest written by Write.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("record: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("record: parse manifest: %w", err)
	}
	return &m, nil
}
