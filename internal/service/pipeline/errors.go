package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// Run failures. They are wrapped with context and surfaced to the user at the end of a run.
var (
	ErrInputNotFound     = errors.New("input not found")
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrEmptyResult       = errors.New("empty result")
	ErrWriteFailure      = errors.New("write failure")
)

// Frame level failures.
var (
	// ErrBadFrame marks a unit that was read but could not be decoded. It is skipped.
	ErrBadFrame = errors.New("bad frame")
	// ErrEmptyFrame is returned by Process for frames without pixels.
	ErrEmptyFrame = errors.New("empty frame")
	// ErrGeometryMismatch is returned when a frame does not match the geometry of the open stream.
	ErrGeometryMismatch = errors.New("frame geometry does not match output stream")
	// ErrBusy is returned when a video run is started while another is streaming.
	ErrBusy = errors.New("pipeline is already streaming")
)

// UserMessage turns a run error into a short message for the menu or console.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInputNotFound):
		return fmt.Sprintf("Input not found: %v", err)
	case errors.Is(err, ErrSourceUnavailable):
		return fmt.Sprintf("Failed to open the source: %v", err)
	case errors.Is(err, ErrEmptyResult):
		return fmt.Sprintf("Nothing to process: %v", err)
	case errors.Is(err, ErrWriteFailure):
		return fmt.Sprintf("Failed to save the result: %v", err)
	case errors.Is(err, context.Canceled):
		return "Stopped."
	default:
		return fmt.Sprintf("Processing failed: %v", err)
	}
}
