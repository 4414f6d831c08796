package repository

import "facedetect/internal/model"

// RunRepository defines the interface for run history operations.
type RunRepository interface {
	// Create operations
	Insert(run *model.Run) (int64, error)

	// Update operations
	Finish(run *model.Run) error

	// Read operations
	GetByID(id int64) (*model.Run, error)
	GetAll(filter *model.RunFilter) ([]model.Run, error)
	GetStats() (*model.RunStats, error)

	// Delete operations
	Delete(id int64) error
}

// DetectionRepository defines the interface for detection data operations.
type DetectionRepository interface {
	// Create operations
	InsertBatch(detections []model.DetectionRecord) error

	// Read operations
	GetByRunID(runID int64) ([]model.DetectionRecord, error)
	CountLabelsByRunID(runID int64) (map[string]int, error)
}
