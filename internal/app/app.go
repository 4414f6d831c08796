package app

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"time"

	"facedetect/internal/config"
	"facedetect/internal/logger"
	"facedetect/internal/model"
	"facedetect/internal/repository/sqlite"
	"facedetect/internal/routes"
	"facedetect/internal/service/ai"
	"facedetect/internal/service/annotate"
	"facedetect/internal/service/pipeline"
	"facedetect/internal/service/storage"
	"facedetect/internal/service/video"
	"facedetect/internal/service/websocket"

	"go.uber.org/multierr"
)

// WindowTitle is the title of the live preview window.
const WindowTitle = "facedetect"

// DetectorFactory builds the detector for the configured backend.
type DetectorFactory func(cfg *config.Config, logger *logger.Logger) (ai.Detector, error)

// WindowOpener creates a preview display; cancel stops the run it belongs to.
type WindowOpener func(cancel context.CancelFunc) pipeline.FrameSink

// App wires configuration, storage, the detector and the pipeline together.
type App struct {
	config        *config.Config
	logger        *logger.Logger
	db            *sqlite.DB
	runRepo       *sqlite.RunRepository
	detectionRepo *sqlite.DetectionRepository
	recorder      *storage.HistoryRecorder
	stills        *storage.StillSaver
	hubService    *websocket.HubService
	server        *http.Server
	stopHub       context.CancelFunc

	newDetector DetectorFactory
	openSource  pipeline.SourceOpener
	openWriter  pipeline.SinkOpener
	openWindow  WindowOpener
	detector    ai.Detector
	pipeline    *pipeline.Pipeline

	out io.Writer
	mu  sync.Mutex
}

// Option customizes an App.
type Option func(*App)

// WithDetectorFactory replaces the backend switch.
func WithDetectorFactory(f DetectorFactory) Option {
	return func(a *App) { a.newDetector = f }
}

// WithVideoIO replaces the OpenCV capture and writer.
func WithVideoIO(open pipeline.SourceOpener, write pipeline.SinkOpener) Option {
	return func(a *App) {
		a.openSource = open
		a.openWriter = write
	}
}

// WithWindow replaces the OpenCV preview window.
func WithWindow(open WindowOpener) Option {
	return func(a *App) { a.openWindow = open }
}

// WithOutput sets where reports are printed.
func WithOutput(w io.Writer) Option {
	return func(a *App) { a.out = w }
}

// NewApp opens the history database and prepares the services. The detector is loaded on first use.
func NewApp(cfg *config.Config, logger *logger.Logger, opts ...Option) (*App, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	runRepo := sqlite.NewRunRepository(db)
	detectionRepo := sqlite.NewDetectionRepository(db)

	a := &App{
		config:        cfg,
		logger:        logger,
		db:            db,
		runRepo:       runRepo,
		detectionRepo: detectionRepo,
		recorder:      storage.NewHistoryRecorder(cfg, logger, runRepo, detectionRepo),
		stills:        storage.NewStillSaver(cfg, logger),
		hubService:    websocket.NewHubService(cfg, logger),
		newDetector:   NewDetector,
		openSource:    video.SourceOpener(cfg.CameraIndex),
		openWriter:    video.WriterOpener(cfg.VideoCodec),
		openWindow: func(cancel context.CancelFunc) pipeline.FrameSink {
			return video.NewWindow(WindowTitle, cancel)
		},
		out: os.Stdout,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Pipeline returns the frame pipeline, loading the detector the first time.
func (a *App) Pipeline() (*pipeline.Pipeline, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.pipeline != nil {
		return a.pipeline, nil
	}

	detector, err := a.newDetector(a.config, a.logger)
	if err != nil {
		return nil, err
	}

	p, err := pipeline.New(a.config, a.logger, pipeline.Deps{
		Detector:   detector,
		Annotator:  annotate.New(detector.Labels(), annotate.DefaultOptions),
		Stills:     a.stills,
		OpenSource: a.openSource,
		OpenWriter: a.openWriter,
		Recorder:   a.recorder,
	})
	if err != nil {
		detector.Close()
		return nil, err
	}

	a.detector = detector
	a.pipeline = p
	return p, nil
}

// StartPreview starts the preview server on cfg.PreviewAddr. It does nothing when no address is set.
func (a *App) StartPreview(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.config.PreviewAddr == "" || a.server != nil {
		return nil
	}

	hubCtx, stop := context.WithCancel(ctx)
	go a.hubService.Run(hubCtx)

	server := &http.Server{
		Addr:              a.config.PreviewAddr,
		Handler:           routes.SetupRoutes(a.config, a.logger, a.hubService, a.runRepo, a.detectionRepo),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	// Report bind failures to the caller instead of the log only.
	select {
	case err := <-errCh:
		stop()
		return fmt.Errorf("preview server: %w", err)
	case <-time.After(100 * time.Millisecond):
	}
	go func() {
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("Preview server stopped: %v", err)
		}
	}()

	a.server = server
	a.stopHub = stop
	a.logger.Info("Preview server listening on %s", a.config.PreviewAddr)
	return nil
}

// RunImage annotates one image and prints its detections.
func (a *App) RunImage(ctx context.Context, path string) error {
	p, err := a.Pipeline()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	summary, err := p.RunImage(ctx, path)
	renderItems(a.out, summary)
	return err
}

// RunFolder annotates every image of a folder and prints the detections per image.
func (a *App) RunFolder(ctx context.Context, dir string) error {
	p, err := a.Pipeline()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	summary, err := p.RunFolder(ctx, dir)
	renderItems(a.out, summary)
	return err
}

// RunVideo annotates a video file, or the default camera when path is empty, until it ends
// or the user stops it with q in the window or Ctrl+C.
func (a *App) RunVideo(ctx context.Context, path string) error {
	p, err := a.Pipeline()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	source := path
	if source == "" {
		source = pipeline.CameraSource
	}

	var displays []pipeline.FrameSink
	if a.config.PreviewWindow && a.openWindow != nil {
		window := &lazyDisplay{open: func() pipeline.FrameSink { return a.openWindow(cancel) }}
		defer window.Close()
		displays = append(displays, window)
	}
	if a.previewRunning() {
		displays = append(displays, a.hubService.Sink(source))
	}

	fmt.Fprintf(a.out, "Processing %s, press q in the preview window or Ctrl+C to stop.\n", source)
	summary, err := p.RunVideo(ctx, pipeline.VideoRequest{Path: path, Displays: displays})
	if summary != nil {
		renderVideo(a.out, summary)
	}
	return err
}

// lazyDisplay opens its display on the first frame, so a run whose source fails never shows a window.
type lazyDisplay struct {
	open    func() pipeline.FrameSink
	display pipeline.FrameSink
}

func (l *lazyDisplay) WriteFrame(frame image.Image) error {
	if l.display == nil {
		l.display = l.open()
	}
	return l.display.WriteFrame(frame)
}

func (l *lazyDisplay) Close() error {
	if l.display == nil {
		return nil
	}
	return l.display.Close()
}

// History prints the most recent runs.
func (a *App) History(limit int) error {
	runs, err := a.runRepo.GetAll(&model.RunFilter{Limit: limit})
	if err != nil {
		return err
	}
	renderRuns(a.out, runs)
	return nil
}

func (a *App) previewRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.server != nil
}

// Close stops the preview server and releases the detector and the database.
func (a *App) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var err error
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = multierr.Append(err, a.server.Shutdown(ctx))
		cancel()
		a.stopHub()
		a.server = nil
	}
	if a.detector != nil {
		err = multierr.Append(err, a.detector.Close())
		a.detector = nil
		a.pipeline = nil
	}
	return multierr.Append(err, a.db.Close())
}
