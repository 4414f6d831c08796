package ai

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"strings"

	"facedetect/internal/model"
)

// DefaultThreshold is the minimum confidence used when none is configured.
const DefaultThreshold = 0.25

// ErrModelUnavailable is returned when a model or cascade file cannot be loaded.
var ErrModelUnavailable = errors.New("model unavailable")

// DefaultLabels are the classes of the face/eye model. Dataset exports list classes
// alphabetically, so index 0 is "eye".
var DefaultLabels = []string{"eye", "face"}

// Detector finds objects in a single frame. Implementations own their model
// handle and release it in Close.
type Detector interface {
	// Detect returns the detections whose confidence is at least threshold.
	Detect(ctx context.Context, img image.Image, threshold float64) ([]model.Detection, error)
	// Labels returns the class names the detector can emit.
	Labels() []string
	Close() error
}

// FilterByConfidence drops detections below threshold.
func FilterByConfidence(in []model.Detection, threshold float64) []model.Detection {
	out := make([]model.Detection, 0, len(in))
	for _, d := range in {
		if d.Confidence >= threshold {
			out = append(out, d)
		}
	}
	return out
}

// ClampToBounds clips every box to the frame and drops the ones left empty.
func ClampToBounds(in []model.Detection, bounds image.Rectangle) []model.Detection {
	out := make([]model.Detection, 0, len(in))
	for _, d := range in {
		r := d.Rect().Intersect(bounds)
		if r.Empty() {
			continue
		}
		out = append(out, model.FromRect(d.Label, d.Confidence, r))
	}
	return out
}

// LabelFor maps a class ID to its name, falling back to "class<N>".
func LabelFor(labels []string, classID int) string {
	if classID >= 0 && classID < len(labels) {
		return labels[classID]
	}
	return fmt.Sprintf("class%d", classID)
}

// LoadLabels reads one class name per line. Blank lines and lines starting with # are ignored.
// An empty path returns DefaultLabels.
func LoadLabels(path string) ([]string, error) {
	if path == "" {
		return append([]string(nil), DefaultLabels...), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read labels file: %w", err)
	}

	var labels []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		labels = append(labels, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("labels file %s has no entries", path)
	}
	return labels, nil
}

// ReadModelFile loads a model file, reporting missing files as ErrModelUnavailable.
func ReadModelFile(path string) ([]byte, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: no path configured", ErrModelUnavailable)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	return data, nil
}

// CheckModelFile verifies that a model file exists before handing its path to a runtime.
func CheckModelFile(path string) error {
	if path == "" {
		return fmt.Errorf("%w: no path configured", ErrModelUnavailable)
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: model file not found: %s", ErrModelUnavailable, path)
	}
	return nil
}
