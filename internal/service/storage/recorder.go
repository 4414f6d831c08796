package storage

import (
	"sync"
	"time"

	"facedetect/internal/config"
	"facedetect/internal/logger"
	"facedetect/internal/model"
	"facedetect/internal/repository"
	"facedetect/internal/service/pipeline"
)

// DefaultFlushFrames is how many frames of detections are buffered before they are written.
const DefaultFlushFrames = 30

// HistoryRecorder stores runs and their detections in the history repositories.
// Detections are buffered in memory and written in batches.
type HistoryRecorder struct {
	runs          repository.RunRepository
	detectionRepo repository.DetectionRepository
	flushFrames   int
	logger        *logger.Logger
}

// NewHistoryRecorder creates a HistoryRecorder.
func NewHistoryRecorder(config *config.Config, logger *logger.Logger, runs repository.RunRepository, detectionRepo repository.DetectionRepository) *HistoryRecorder {
	flush := config.RecordFlushFrames
	if flush <= 0 {
		flush = DefaultFlushFrames
	}
	return &HistoryRecorder{
		runs:          runs,
		detectionRepo: detectionRepo,
		flushFrames:   flush,
		logger:        logger,
	}
}

// Start inserts the run and returns the buffer that collects its detections.
// History is best effort: when the run cannot be stored, nothing is recorded.
func (r *HistoryRecorder) Start(mode, source string) pipeline.RunRecord {
	run := &model.Run{
		Mode:      mode,
		Source:    source,
		State:     pipeline.StateStreaming.String(),
		StartedAt: time.Now(),
	}
	if _, err := r.runs.Insert(run); err != nil {
		r.logger.Error("Error saving run to database: %v", err)
		return &runBuffer{recorder: r, disabled: true}
	}
	return &runBuffer{recorder: r, run: run}
}

// runBuffer collects the detections of one run.
type runBuffer struct {
	recorder *HistoryRecorder
	run      *model.Run
	pending  []model.DetectionRecord
	frames   int
	disabled bool
	mu       sync.Mutex
}

// Frame buffers the detections of a frame and flushes every flushFrames frames.
func (b *runBuffer) Frame(index int, detections []model.Detection) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.disabled {
		return
	}
	for _, d := range detections {
		b.pending = append(b.pending, model.DetectionRecord{
			RunID:      b.run.ID,
			Frame:      index,
			Label:      d.Label,
			Confidence: d.Confidence,
			X:          d.X,
			Y:          d.Y,
			Width:      d.Width,
			Height:     d.Height,
		})
	}
	b.frames++
	if b.frames%b.recorder.flushFrames == 0 {
		b.flush()
	}
}

// Finish writes what is left in the buffer and the outcome of the run.
func (b *runBuffer) Finish(summary *pipeline.Summary) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.disabled {
		return
	}
	b.flush()

	b.run.Output = summary.Output
	b.run.State = summary.State.String()
	b.run.Frames = summary.FramesRead
	b.run.Detections = summary.Detections
	b.run.FinishedAt = summary.FinishedAt
	if b.run.FinishedAt.IsZero() {
		b.run.FinishedAt = time.Now()
	}
	if summary.Err != nil {
		b.run.Error = summary.Err.Error()
	}

	if err := b.recorder.runs.Finish(b.run); err != nil {
		b.recorder.logger.Error("Error finishing run %d: %v", b.run.ID, err)
		return
	}
	b.recorder.logger.Info("Run %d (%s) recorded: %s, %d frames, %d detections",
		b.run.ID, b.run.Mode, b.run.State, b.run.Frames, b.run.Detections)
}

// flush writes the pending detections. The caller holds b.mu.
func (b *runBuffer) flush() {
	if len(b.pending) == 0 {
		return
	}
	if err := b.recorder.detectionRepo.InsertBatch(b.pending); err != nil {
		b.recorder.logger.Error("Error saving detections to database: %v", err)
	} else {
		b.recorder.logger.Debug("Flushed %d detections of run %d", len(b.pending), b.run.ID)
	}
	b.pending = b.pending[:0]
}
