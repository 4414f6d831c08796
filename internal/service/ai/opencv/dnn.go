package opencv

import (
	"context"
	"fmt"
	"image"
	"path/filepath"
	"strings"
	"sync"

	"facedetect/internal/config"
	"facedetect/internal/logger"
	"facedetect/internal/model"
	"facedetect/internal/service/ai"

	"gocv.io/x/gocv"
)

// outputLayout describes how the network encodes its predictions.
type outputLayout int

const (
	layoutYOLO outputLayout = iota // [1, 4+classes, anchors], input scaled to 0..1
	layoutSSD                      // [1, 1, N, 7], input normalized around 127.5
)

// DNNDetector runs an ONNX or TensorFlow detection network through OpenCV's DNN module.
type DNNDetector struct {
	net        gocv.Net
	layout     outputLayout
	labels     []string
	inputSize  int
	nms        float32
	modelPath  string
	configPath string
	logger     *logger.Logger
	mu         sync.Mutex
}

// NewDNNDetector loads the network from cfg.ModelPath (and cfg.ModelConfigPath for split graphs).
func NewDNNDetector(cfg *config.Config, logger *logger.Logger) (*DNNDetector, error) {
	labels, err := ai.LoadLabels(cfg.LabelsPath)
	if err != nil {
		return nil, err
	}

	d := &DNNDetector{
		layout:     layoutFor(cfg.ModelPath),
		labels:     labels,
		inputSize:  cfg.ModelInputSize,
		nms:        float32(cfg.NMSThreshold),
		modelPath:  cfg.ModelPath,
		configPath: cfg.ModelConfigPath,
		logger:     logger,
	}
	if d.inputSize <= 0 {
		d.inputSize = 640
	}

	if err := d.initializeNet(); err != nil {
		return nil, err
	}
	return d, nil
}

// layoutFor guesses the output layout from the model file: ONNX exports are YOLO, the rest SSD.
func layoutFor(modelPath string) outputLayout {
	if strings.EqualFold(filepath.Ext(modelPath), ".onnx") {
		return layoutYOLO
	}
	return layoutSSD
}

// initializeNet loads the DNN network and sets backend/target preferences.
func (d *DNNDetector) initializeNet() error {
	if err := ai.CheckModelFile(d.modelPath); err != nil {
		return err
	}
	if d.configPath != "" {
		if err := ai.CheckModelFile(d.configPath); err != nil {
			return err
		}
	}

	net := gocv.ReadNet(d.modelPath, d.configPath)
	if net.Empty() {
		return fmt.Errorf("%w: failed to load network %s", ai.ErrModelUnavailable, d.modelPath)
	}

	errBackend := net.SetPreferableBackend(gocv.NetBackendDefault)
	errTarget := net.SetPreferableTarget(gocv.NetTargetCPU)
	if errBackend != nil || errTarget != nil {
		net.Close()
		return fmt.Errorf("failed to set preferable backend or target")
	}

	d.net = net
	d.logger.Info("Detection network initialized: %s (%d classes)", d.modelPath, len(d.labels))
	return nil
}

// Labels returns the class names this detector can emit.
func (d *DNNDetector) Labels() []string {
	return d.labels
}

// Detect runs one forward pass and returns detections above threshold after NMS.
func (d *DNNDetector) Detect(ctx context.Context, img image.Image, threshold float64) ([]model.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("failed to convert frame: %w", err)
	}
	defer mat.Close()

	if mat.Empty() {
		return nil, fmt.Errorf("frame is empty")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.net.Empty() {
		return nil, fmt.Errorf("detection network not initialized")
	}

	var blob gocv.Mat
	switch d.layout {
	case layoutYOLO:
		blob = gocv.BlobFromImage(mat, 1.0/255.0, image.Pt(d.inputSize, d.inputSize), gocv.NewScalar(0, 0, 0, 0), true, false)
	default:
		// parameters that fit the ssd coco net input
		blob = gocv.BlobFromImage(mat, 1.0/127.5, image.Pt(300, 300), gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	}
	defer blob.Close()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("failed to read network output: %w", err)
	}

	var candidates []ai.Candidate
	switch d.layout {
	case layoutYOLO:
		sizes := output.Size()
		if len(sizes) != 3 {
			return nil, fmt.Errorf("unexpected YOLO output shape %v", sizes)
		}
		scaleX := float64(mat.Cols()) / float64(d.inputSize)
		scaleY := float64(mat.Rows()) / float64(d.inputSize)
		candidates = ai.DecodeYOLO(data, sizes[1], sizes[2], scaleX, scaleY, threshold)
	default:
		candidates = ai.DecodeSSD(data, mat.Cols(), mat.Rows(), threshold)
	}

	results := d.suppress(candidates, threshold)
	d.logger.Debug("Detected %d objects", len(results))

	return ai.ClampToBounds(results, image.Rect(0, 0, mat.Cols(), mat.Rows())), nil
}

// suppress removes overlapping candidates with OpenCV's NMS.
func (d *DNNDetector) suppress(candidates []ai.Candidate, threshold float64) []model.Detection {
	if len(candidates) == 0 {
		return nil
	}

	boxes := make([]image.Rectangle, len(candidates))
	scores := make([]float32, len(candidates))
	for i, c := range candidates {
		boxes[i] = c.Box
		scores[i] = c.Score
	}

	indices := gocv.NMSBoxes(boxes, scores, float32(threshold), d.nms)

	results := make([]model.Detection, 0, len(indices))
	for _, idx := range indices {
		c := candidates[idx]
		results = append(results, model.FromRect(ai.LabelFor(d.labels, c.ClassID), float64(c.Score), c.Box))
	}
	return results
}

// Close releases the network.
func (d *DNNDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}
