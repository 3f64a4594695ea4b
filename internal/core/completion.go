package core

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// Tracker decides whether a job already ran and records successful runs.
type Tracker interface {
	IsComplete(job Job) bool
	MarkComplete(job Job) error
}

const markerPayload = "Simulation done\n"

// MarkerTracker keeps a sentinel file inside each job folder.
type MarkerTracker struct {
	Name string
}

func NewMarkerTracker(name string) *MarkerTracker {
	if name == "" {
		name = "completed.flag"
	}
	return &MarkerTracker{Name: name}
}

func (t *MarkerTracker) path(job Job) string { return filepath.Join(job.Folder, t.Name) }

func (t *MarkerTracker) IsComplete(job Job) bool {
	_, err := os.Stat(t.path(job))
	return err == nil
}

// MarkComplete writes the marker. Writing it twice is harmless.
func (t *MarkerTracker) MarkComplete(job Job) error {
	if err := os.WriteFile(t.path(job), []byte(markerPayload), 0o644); err != nil {
		return fmt.Errorf("write marker: %w", err)
	}
	return nil
}

// OutputCountTracker treats the first N jobs as done, where N is the number of
// entries in the output root when the tracker is created.
type OutputCountTracker struct {
	Root  string
	Count int
}

func NewOutputCountTracker(root string) (*OutputCountTracker, error) {
	entries, err := os.ReadDir(root)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read output root: %w", err)
	}
	log.Warn().
		Str("output_root", root).
		Int("already_done", len(entries)).
		Msg("output_count tracking is deprecated: it assumes jobs finish in discovery order, prefer marker tracking")
	return &OutputCountTracker{Root: root, Count: len(entries)}, nil
}

func (t *OutputCountTracker) IsComplete(job Job) bool { return job.Index < t.Count }

// MarkComplete is a no-op; the engine itself produces the output entry.
func (t *OutputCountTracker) MarkComplete(Job) error { return nil }

// NewTracker builds the single tracking strategy active for conv.
func NewTracker(conv Convention) (Tracker, error) {
	switch conv.Tracking {
	case TrackOutputCount:
		return NewOutputCountTracker(conv.OutputRoot)
	default:
		return NewMarkerTracker(conv.MarkerName), nil
	}
}
