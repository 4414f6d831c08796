package ai

import (
	"context"
	"fmt"
	"image"
	"sync"

	"facedetect/internal/model"

	pigo "github.com/esimov/pigo/core"
)

const (
	faceLabel = "face"
	eyeLabel  = "eye"

	// pigoQualityScale is the detection score that maps to 50% confidence.
	pigoQualityScale = 5.0
	pigoIoU          = 0.2
	pigoMinFaceSize  = 20
	pigoPerturbs     = 63
)

// PigoDetector finds faces (and optionally pupils) with pure Go pixel-intensity cascades.
type PigoDetector struct {
	face   *pigo.Pigo
	puploc *pigo.PuplocCascade
	mu     sync.Mutex
}

// NewPigoDetector unpacks the face finder cascade and, when given, the pupil localization cascade.
func NewPigoDetector(faceCascade, puplocCascade []byte) (*PigoDetector, error) {
	classifier, err := pigo.NewPigo().Unpack(faceCascade)
	if err != nil {
		return nil, fmt.Errorf("%w: error reading the face cascade: %v", ErrModelUnavailable, err)
	}

	d := &PigoDetector{face: classifier}

	if len(puplocCascade) > 0 {
		plc, err := pigo.NewPuplocCascade().UnpackCascade(puplocCascade)
		if err != nil {
			return nil, fmt.Errorf("%w: error reading the puploc cascade: %v", ErrModelUnavailable, err)
		}
		d.puploc = plc
	}

	return d, nil
}

// LoadPigoDetector reads the cascade files from disk. puplocPath may be empty.
func LoadPigoDetector(facePath, puplocPath string) (*PigoDetector, error) {
	faceCascade, err := ReadModelFile(facePath)
	if err != nil {
		return nil, err
	}

	var puplocCascade []byte
	if puplocPath != "" {
		if puplocCascade, err = ReadModelFile(puplocPath); err != nil {
			return nil, err
		}
	}

	return NewPigoDetector(faceCascade, puplocCascade)
}

// Labels returns the class names this detector can emit.
func (d *PigoDetector) Labels() []string {
	if d.puploc != nil {
		return []string{eyeLabel, faceLabel}
	}
	return []string{faceLabel}
}

// Detect runs the face cascade over the frame and localizes pupils inside every face.
func (d *PigoDetector) Detect(ctx context.Context, img image.Image, threshold float64) ([]model.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src := pigo.ImgToNRGBA(img)
	cols, rows := src.Bounds().Dx(), src.Bounds().Dy()
	if cols == 0 || rows == 0 {
		return nil, fmt.Errorf("empty frame")
	}

	params := pigo.CascadeParams{
		MinSize:     pigoMinFaceSize,
		MaxSize:     min(cols, rows),
		ShiftFactor: 0.1,
		ScaleFactor: 1.1,
		ImageParams: pigo.ImageParams{
			Pixels: pigo.RgbToGrayscale(src),
			Rows:   rows,
			Cols:   cols,
			Dim:    cols,
		},
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	// angle 0.0 runs the cascade upright
	dets := d.face.RunCascade(params, 0.0)
	dets = d.face.ClusterDetections(dets, pigoIoU)

	var results []model.Detection
	for _, det := range dets {
		confidence := pigoConfidence(det.Q)
		if confidence < threshold {
			continue
		}

		results = append(results, model.FromRect(faceLabel, confidence, squareAround(det.Col, det.Row, det.Scale)))

		if d.puploc == nil {
			continue
		}
		for _, eye := range d.locatePupils(det, params.ImageParams) {
			results = append(results, model.FromRect(eyeLabel, confidence, eye))
		}
	}

	return ClampToBounds(results, image.Rect(0, 0, cols, rows)), nil
}

// locatePupils searches for the left and right pupil relative to a face detection.
func (d *PigoDetector) locatePupils(face pigo.Detection, img pigo.ImageParams) []image.Rectangle {
	scale := float32(face.Scale)
	eyeSize := max(face.Scale/5, 4)

	starts := []pigo.Puploc{
		{
			Row:      face.Row - int(0.075*scale),
			Col:      face.Col - int(0.175*scale),
			Scale:    scale * 0.25,
			Perturbs: pigoPerturbs,
		},
		{
			Row:      face.Row - int(0.075*scale),
			Col:      face.Col + int(0.185*scale),
			Scale:    scale * 0.25,
			Perturbs: pigoPerturbs,
		},
	}

	var eyes []image.Rectangle
	for _, start := range starts {
		pupil := d.puploc.RunDetector(start, img, 0.0, false)
		if pupil == nil || pupil.Row <= 0 || pupil.Col <= 0 {
			continue
		}
		eyes = append(eyes, squareAround(pupil.Col, pupil.Row, eyeSize))
	}
	return eyes
}

// Close is a no-op; cascades live on the Go heap.
func (d *PigoDetector) Close() error {
	return nil
}

// pigoConfidence squashes an unbounded cascade score into 0..1.
func pigoConfidence(q float32) float64 {
	if q <= 0 {
		return 0
	}
	return float64(q) / (float64(q) + pigoQualityScale)
}

func squareAround(col, row, size int) image.Rectangle {
	half := size / 2
	return image.Rect(col-half, row-half, col-half+size, row-half+size)
}
