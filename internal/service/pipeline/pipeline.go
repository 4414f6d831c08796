package pipeline

import (
	"context"
	"fmt"
	"image"

	"facedetect/internal/config"
	"facedetect/internal/logger"
	"facedetect/internal/model"
	"facedetect/internal/service/ai"
)

// StreamProps are the properties of a video stream, fixed when the stream is opened.
type StreamProps struct {
	FPS    float64
	Width  int
	Height int
}

// Matches reports whether a frame has the geometry of the stream.
func (p StreamProps) Matches(frame image.Image) bool {
	b := frame.Bounds()
	return b.Dx() == p.Width && b.Dy() == p.Height
}

// FrameSource yields decoded frames. Read returns io.EOF at the end of the stream and
// an error wrapping ErrBadFrame for a frame that was read but could not be decoded.
type FrameSource interface {
	Read(ctx context.Context) (image.Image, error)
	Props() StreamProps
	Close() error
}

// FrameSink consumes annotated frames: a video writer, a preview window, a broadcast hub.
type FrameSink interface {
	WriteFrame(frame image.Image) error
	Close() error
}

// SourceOpener opens a video file, or the default camera when path is empty.
type SourceOpener func(path string) (FrameSource, error)

// SinkOpener creates a video output whose geometry and rate are fixed by props.
type SinkOpener func(path string, props StreamProps) (FrameSink, error)

// Annotator draws detections on a copy of a frame.
type Annotator interface {
	Annotate(frame image.Image, detections []model.Detection) image.Image
}

// StillWriter persists annotated still images and returns the written path.
type StillWriter interface {
	Save(group, name string, img image.Image) (string, error)
}

// Recorder receives the progress of runs, e.g. to keep a history.
type Recorder interface {
	Start(mode, source string) RunRecord
}

// RunRecord collects the detections of one run.
type RunRecord interface {
	Frame(index int, detections []model.Detection)
	Finish(summary *Summary)
}

// Deps are the collaborators of a Pipeline. Detector, Annotator and Stills are required;
// the video openers are required only by RunVideo.
type Deps struct {
	Detector   ai.Detector
	Annotator  Annotator
	Stills     StillWriter
	OpenSource SourceOpener
	OpenWriter SinkOpener
	Recorder   Recorder
}

// Pipeline runs the detector over images and video frames and routes the annotated results to sinks.
type Pipeline struct {
	detector   ai.Detector
	annotator  Annotator
	stills     StillWriter
	openSource SourceOpener
	openWriter SinkOpener
	recorder   Recorder

	threshold  float64
	outputDir  string
	videoFile  string
	defaultFPS float64

	machine *stateMachine
	logger  *logger.Logger
}

// New creates a Pipeline from the configuration and its collaborators.
func New(cfg *config.Config, logger *logger.Logger, deps Deps) (*Pipeline, error) {
	if deps.Detector == nil {
		return nil, fmt.Errorf("pipeline requires a detector")
	}
	if deps.Annotator == nil {
		return nil, fmt.Errorf("pipeline requires an annotator")
	}
	if deps.Stills == nil {
		return nil, fmt.Errorf("pipeline requires a still image writer")
	}

	threshold := cfg.ConfidenceThreshold
	if threshold <= 0 {
		threshold = ai.DefaultThreshold
	}
	fps := cfg.DefaultFPS
	if fps <= 0 {
		fps = 30
	}
	videoFile := cfg.VideoFileName
	if videoFile == "" {
		videoFile = "detected_video.avi"
	}

	p := &Pipeline{
		detector:   deps.Detector,
		annotator:  deps.Annotator,
		stills:     deps.Stills,
		openSource: deps.OpenSource,
		openWriter: deps.OpenWriter,
		recorder:   deps.Recorder,
		threshold:  threshold,
		outputDir:  cfg.OutputDirectory,
		videoFile:  videoFile,
		defaultFPS: fps,
		logger:     logger,
	}
	p.machine = &stateMachine{onMove: func(from, to State) {
		p.logger.Debug("Video run %s -> %s", from, to)
	}}
	return p, nil
}

// Threshold is the confidence threshold passed to the detector.
func (p *Pipeline) Threshold() float64 {
	return p.threshold
}

// State is the state of the video run, StateIdle when none is active.
func (p *Pipeline) State() State {
	return p.machine.State()
}

// Process detects objects in one frame and returns an annotated copy with the detections.
// The input frame is never modified and the output has the same dimensions.
func (p *Pipeline) Process(ctx context.Context, frame image.Image) (image.Image, []model.Detection, error) {
	if frame == nil || frame.Bounds().Empty() {
		return nil, nil, ErrEmptyFrame
	}

	detections, err := p.detector.Detect(ctx, frame, p.threshold)
	if err != nil {
		return nil, nil, fmt.Errorf("detection failed: %w", err)
	}
	detections = ai.FilterByConfidence(detections, p.threshold)

	return p.annotator.Annotate(frame, detections), detections, nil
}

// startRecord begins a history record, or a no-op one when no recorder is set.
func (p *Pipeline) startRecord(mode, source string) RunRecord {
	if p.recorder == nil {
		return nopRecord{}
	}
	return p.recorder.Start(mode, source)
}

type nopRecord struct{}

func (nopRecord) Frame(int, []model.Detection) {}
func (nopRecord) Finish(*Summary)              {}
