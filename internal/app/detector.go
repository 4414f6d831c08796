package app

import (
	"fmt"

	"facedetect/internal/config"
	"facedetect/internal/logger"
	"facedetect/internal/service/ai"
	"facedetect/internal/service/ai/opencv"
)

// Detector backends.
const (
	BackendDNN     = "dnn"
	BackendCascade = "cascade"
	BackendPigo    = "pigo"
)

// Backends lists the accepted values of DETECTOR_BACKEND.
var Backends = []string{BackendDNN, BackendCascade, BackendPigo}

// NewDetector builds the detector selected by cfg.Backend.
func NewDetector(cfg *config.Config, logger *logger.Logger) (ai.Detector, error) {
	switch cfg.Backend {
	case BackendDNN, "":
		return opencv.NewDNNDetector(cfg, logger)
	case BackendCascade:
		return opencv.NewCascadeDetector(cfg, logger)
	case BackendPigo:
		d, err := ai.LoadPigoDetector(cfg.ModelPath, cfg.PuplocPath)
		if err != nil {
			return nil, err
		}
		logger.Info("Pigo detector initialized (eyes: %t)", cfg.PuplocPath != "")
		return d, nil
	default:
		return nil, fmt.Errorf("unknown detector backend %q (want one of %v)", cfg.Backend, Backends)
	}
}
