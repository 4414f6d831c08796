package opencv

import (
	"context"
	"fmt"
	"image"
	"sync"

	"facedetect/internal/config"
	"facedetect/internal/logger"
	"facedetect/internal/model"
	"facedetect/internal/service/ai"

	"go.uber.org/multierr"
	"gocv.io/x/gocv"
)

// cascadeConfidence is reported for every Haar hit; the classifier has no score.
const cascadeConfidence = 1.0

// CascadeDetector finds faces with a Haar cascade and, optionally, eyes inside each face.
type CascadeDetector struct {
	face   gocv.CascadeClassifier
	eye    *gocv.CascadeClassifier
	logger *logger.Logger
	mu     sync.Mutex
}

// NewCascadeDetector loads cfg.ModelPath as the face cascade and cfg.EyeCascadePath, when set, as the eye cascade.
func NewCascadeDetector(cfg *config.Config, logger *logger.Logger) (*CascadeDetector, error) {
	if err := ai.CheckModelFile(cfg.ModelPath); err != nil {
		return nil, err
	}

	face := gocv.NewCascadeClassifier()
	if !face.Load(cfg.ModelPath) {
		face.Close()
		return nil, fmt.Errorf("%w: error loading cascade file %s", ai.ErrModelUnavailable, cfg.ModelPath)
	}

	d := &CascadeDetector{face: face, logger: logger}

	if cfg.EyeCascadePath != "" {
		if err := ai.CheckModelFile(cfg.EyeCascadePath); err != nil {
			face.Close()
			return nil, err
		}
		eye := gocv.NewCascadeClassifier()
		if !eye.Load(cfg.EyeCascadePath) {
			face.Close()
			eye.Close()
			return nil, fmt.Errorf("%w: error loading cascade file %s", ai.ErrModelUnavailable, cfg.EyeCascadePath)
		}
		d.eye = &eye
	}

	logger.Info("Cascade detector initialized (eyes: %t)", d.eye != nil)
	return d, nil
}

// Labels returns the class names this detector can emit.
func (d *CascadeDetector) Labels() []string {
	if d.eye != nil {
		return []string{"eye", "face"}
	}
	return []string{"face"}
}

// Detect runs the face cascade on a grayscale copy of the frame, then the eye cascade per face.
func (d *CascadeDetector) Detect(ctx context.Context, img image.Image, threshold float64) ([]model.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if threshold > cascadeConfidence {
		return nil, nil
	}

	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("failed to convert frame: %w", err)
	}
	defer mat.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	if err := gocv.CvtColor(mat, &gray, gocv.ColorBGRToGray); err != nil {
		return nil, fmt.Errorf("failed to convert image to grayscale: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var results []model.Detection
	for _, face := range d.face.DetectMultiScale(gray) {
		results = append(results, model.FromRect("face", cascadeConfidence, face))

		if d.eye == nil {
			continue
		}
		roi := gray.Region(face)
		eyes := d.eye.DetectMultiScale(roi)
		roi.Close()
		for _, eye := range eyes {
			results = append(results, model.FromRect("eye", cascadeConfidence, eye.Add(face.Min)))
		}
	}

	return ai.ClampToBounds(results, image.Rect(0, 0, mat.Cols(), mat.Rows())), nil
}

// Close releases the classifiers.
func (d *CascadeDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	err := d.face.Close()
	if d.eye != nil {
		err = multierr.Append(err, d.eye.Close())
	}
	return err
}
