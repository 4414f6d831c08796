package model

import "time"

// Run modes.
const (
	ModeImage  = "image"
	ModeFolder = "folder"
	ModeVideo  = "video"
)

// Run represents one processing run stored in the history database.
type Run struct {
	ID         int64     `json:"id"`
	Mode       string    `json:"mode"`
	Source     string    `json:"source"`
	Output     string    `json:"output"`
	State      string    `json:"state"`
	Frames     int       `json:"frames"`
	Detections int       `json:"detections"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// DetectionRecord is a Detection stored against a run and a frame index.
type DetectionRecord struct {
	ID         int64   `json:"id"`
	RunID      int64   `json:"run_id"`
	Frame      int     `json:"frame"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
}

// RunFilter contains filtering options for querying runs.
type RunFilter struct {
	Mode   string
	State  string
	Limit  int
	Offset int
}

// RunStats contains statistics about stored runs.
type RunStats struct {
	TotalRuns       int            `json:"total_runs"`
	TotalFrames     int            `json:"total_frames"`
	TotalDetections int            `json:"total_detections"`
	PerMode         map[string]int `json:"per_mode"`
	LabelCounts     map[string]int `json:"label_counts"`
}
