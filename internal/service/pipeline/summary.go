package pipeline

import (
	"time"

	"facedetect/internal/model"
)

// ItemResult is the outcome for one still image.
type ItemResult struct {
	Path       string
	Output     string
	Detections []model.Detection
	Err        error
}

// Summary describes a finished run.
type Summary struct {
	Mode          string
	Source        string
	Output        string
	State         State
	Props         StreamProps
	FramesRead    int
	FramesWritten int
	Skipped       int
	Detections    int
	LabelCounts   map[string]int
	Items         []ItemResult
	StartedAt     time.Time
	FinishedAt    time.Time
	Err           error
}

func newSummary(mode, source string) *Summary {
	return &Summary{
		Mode:        mode,
		Source:      source,
		LabelCounts: make(map[string]int),
		StartedAt:   time.Now(),
	}
}

// count adds a frame's detections to the totals.
func (s *Summary) count(detections []model.Detection) {
	s.Detections += len(detections)
	for _, d := range detections {
		s.LabelCounts[d.Label]++
	}
}

// Duration is the wall time of the run.
func (s *Summary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return time.Since(s.StartedAt)
	}
	return s.FinishedAt.Sub(s.StartedAt)
}
