package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"facedetect/internal/config"
	"facedetect/internal/logger"
	"facedetect/internal/model"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDetector struct {
	detections []model.Detection
	err        error
	calls      int
}

func (d *fakeDetector) Detect(ctx context.Context, img image.Image, threshold float64) ([]model.Detection, error) {
	d.calls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.err != nil {
		return nil, d.err
	}
	return d.detections, nil
}

func (d *fakeDetector) Labels() []string { return []string{"eye", "face"} }
func (d *fakeDetector) Close() error     { return nil }

// boxAnnotator fills each box in red on a copy of the frame.
type boxAnnotator struct{}

func (boxAnnotator) Annotate(frame image.Image, detections []model.Detection) image.Image {
	out := imaging.Clone(frame)
	red := image.NewUniform(color.NRGBA{R: 255, A: 255})
	for _, d := range detections {
		draw.Draw(out, d.Rect(), red, image.Point{}, draw.Src)
	}
	return out
}

type memStills struct {
	mu    sync.Mutex
	saved map[string]image.Image
	err   error
}

func newMemStills() *memStills {
	return &memStills{saved: make(map[string]image.Image)}
}

func (s *memStills) Save(group, name string, img image.Image) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	path := filepath.Join(group, name)
	s.saved[path] = img
	return path, nil
}

type fakeSource struct {
	frames []image.Image
	errs   map[int]error
	props  StreamProps
	reads  int
	closed bool
	onRead func(n int)
}

func (s *fakeSource) Read(ctx context.Context) (image.Image, error) {
	n := s.reads
	s.reads++
	if s.onRead != nil {
		s.onRead(n)
	}
	if err, ok := s.errs[n]; ok {
		return nil, err
	}
	if n >= len(s.frames) {
		return nil, io.EOF
	}
	return s.frames[n], nil
}

func (s *fakeSource) Props() StreamProps { return s.props }

func (s *fakeSource) Close() error {
	s.closed = true
	return nil
}

type fakeSink struct {
	props    StreamProps
	frames   []image.Image
	closed   bool
	writeErr error
	closeErr error
}

func (s *fakeSink) WriteFrame(frame image.Image) error {
	if s.writeErr != nil {
		return s.writeErr
	}
	if s.props.Width > 0 && !s.props.Matches(frame) {
		return ErrGeometryMismatch
	}
	s.frames = append(s.frames, frame)
	return nil
}

func (s *fakeSink) Close() error {
	s.closed = true
	return s.closeErr
}

type fakeRecorder struct {
	mode, source string
	frames       map[int][]model.Detection
	finished     *Summary
}

func (r *fakeRecorder) Start(mode, source string) RunRecord {
	r.mode, r.source = mode, source
	r.frames = make(map[int][]model.Detection)
	return r
}

func (r *fakeRecorder) Frame(index int, detections []model.Detection) {
	r.frames[index] = detections
}

func (r *fakeRecorder) Finish(summary *Summary) {
	r.finished = summary
}

type fixture struct {
	pipeline *Pipeline
	detector *fakeDetector
	stills   *memStills
	source   *fakeSource
	writer   *fakeSink
	recorder *fakeRecorder
	opened   int
	output   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		detector: &fakeDetector{},
		stills:   newMemStills(),
		source:   &fakeSource{},
		recorder: &fakeRecorder{},
		output:   t.TempDir(),
	}
	cfg := &config.Config{
		ConfidenceThreshold: 0.25,
		OutputDirectory:     f.output,
		VideoFileName:       "detected_video.avi",
		DefaultFPS:          30,
	}

	p, err := New(cfg, logger.NewDiscard(), Deps{
		Detector:  f.detector,
		Annotator: boxAnnotator{},
		Stills:    f.stills,
		OpenSource: func(path string) (FrameSource, error) {
			return f.source, nil
		},
		OpenWriter: func(path string, props StreamProps) (FrameSink, error) {
			f.opened++
			f.writer = &fakeSink{props: props}
			return f.writer, nil
		},
		Recorder: f.recorder,
	})
	require.NoError(t, err)
	f.pipeline = p
	return f
}

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
	return img
}

func frames(n, w, h int) []image.Image {
	out := make([]image.Image, n)
	for i := range out {
		out[i] = solid(w, h, color.NRGBA{R: uint8(i * 20), G: 100, B: 50, A: 255})
	}
	return out
}

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	require.NoError(t, imaging.Save(img, path))
}

func TestNew_RequiresCollaborators(t *testing.T) {
	cfg := &config.Config{}
	_, err := New(cfg, logger.NewDiscard(), Deps{})
	assert.Error(t, err)

	p, err := New(cfg, logger.NewDiscard(), Deps{Detector: &fakeDetector{}, Annotator: boxAnnotator{}, Stills: newMemStills()})
	require.NoError(t, err)
	assert.Equal(t, 0.25, p.Threshold(), "zero threshold falls back to the default")
	assert.Equal(t, StateIdle, p.State())
}

func TestProcess_KeepsDimensionsAndInput(t *testing.T) {
	f := newFixture(t)
	f.detector.detections = []model.Detection{{Label: "face", Confidence: 0.9, X: 4, Y: 4, Width: 10, Height: 8}}

	frame := solid(64, 48, color.NRGBA{G: 200, A: 255})
	before := imaging.Clone(frame)

	annotated, detections, err := f.pipeline.Process(context.Background(), frame)
	require.NoError(t, err)

	assert.Equal(t, frame.Bounds(), annotated.Bounds())
	assert.Len(t, detections, 1)
	assert.Equal(t, before.Pix, frame.Pix, "input frame must not be modified")
	assert.NotEqual(t, before.Pix, imaging.Clone(annotated).Pix)
}

func TestProcess_ZeroDetectionsIsIdentical(t *testing.T) {
	f := newFixture(t)
	frame := solid(32, 32, color.NRGBA{B: 120, A: 255})

	annotated, detections, err := f.pipeline.Process(context.Background(), frame)
	require.NoError(t, err)

	assert.Empty(t, detections)
	assert.Equal(t, frame.Bounds(), annotated.Bounds())
	assert.Equal(t, frame.Pix, imaging.Clone(annotated).Pix)
}

func TestProcess_FiltersBelowThreshold(t *testing.T) {
	f := newFixture(t)
	f.detector.detections = []model.Detection{
		{Label: "eye", Confidence: 0.1, Width: 2, Height: 2},
		{Label: "face", Confidence: 0.25, Width: 2, Height: 2},
	}

	_, detections, err := f.pipeline.Process(context.Background(), solid(8, 8, color.NRGBA{A: 255}))
	require.NoError(t, err)
	require.Len(t, detections, 1)
	assert.Equal(t, "face", detections[0].Label)
}

func TestProcess_Errors(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.pipeline.Process(context.Background(), image.NewNRGBA(image.Rect(0, 0, 0, 0)))
	assert.ErrorIs(t, err, ErrEmptyFrame)

	_, _, err = f.pipeline.Process(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyFrame)

	f.detector.err = errors.New("runtime exploded")
	_, _, err = f.pipeline.Process(context.Background(), solid(4, 4, color.NRGBA{A: 255}))
	assert.ErrorContains(t, err, "runtime exploded")
}

func TestRunImage_SavesAnnotatedCopy(t *testing.T) {
	f := newFixture(t)
	f.detector.detections = []model.Detection{{Label: "face", Confidence: 0.8, X: 1, Y: 1, Width: 4, Height: 4}}

	path := filepath.Join(t.TempDir(), "portrait.png")
	writePNG(t, path, solid(20, 10, color.NRGBA{G: 255, A: 255}))

	summary, err := f.pipeline.RunImage(context.Background(), path)
	require.NoError(t, err)

	out := filepath.Join(SingleImageGroup, "portrait.png")
	assert.Equal(t, out, summary.Output)
	require.Contains(t, f.stills.saved, out)
	assert.Equal(t, image.Rect(0, 0, 20, 10), f.stills.saved[out].Bounds())

	assert.Equal(t, StateFinished, summary.State)
	assert.Equal(t, 1, summary.FramesRead)
	assert.Equal(t, 1, summary.Detections)
	assert.Equal(t, map[string]int{"face": 1}, summary.LabelCounts)

	assert.Equal(t, model.ModeImage, f.recorder.mode)
	assert.Len(t, f.recorder.frames[0], 1)
	assert.Same(t, summary, f.recorder.finished)
}

func TestRunImage_MissingPath(t *testing.T) {
	f := newFixture(t)

	summary, err := f.pipeline.RunImage(context.Background(), filepath.Join(t.TempDir(), "nope.jpg"))
	assert.ErrorIs(t, err, ErrInputNotFound)
	assert.Empty(t, f.stills.saved, "no artifact for a missing input")
	assert.Equal(t, StateFailed, summary.State)
	assert.Equal(t, StateFailed, f.recorder.finished.State)

	_, err = f.pipeline.RunImage(context.Background(), "")
	assert.ErrorIs(t, err, ErrInputNotFound)

	_, err = f.pipeline.RunImage(context.Background(), t.TempDir())
	assert.ErrorIs(t, err, ErrInputNotFound)
}

func TestRunImage_Undecodable(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(t.TempDir(), "broken.jpg")
	require.NoError(t, os.WriteFile(path, []byte("not an image"), 0o644))

	_, err := f.pipeline.RunImage(context.Background(), path)
	assert.ErrorIs(t, err, ErrSourceUnavailable)
	assert.Empty(t, f.stills.saved)
}

func TestRunImage_SaveFailure(t *testing.T) {
	f := newFixture(t)
	f.stills.err = errors.New("disk full")
	path := filepath.Join(t.TempDir(), "a.png")
	writePNG(t, path, solid(4, 4, color.NRGBA{A: 255}))

	summary, err := f.pipeline.RunImage(context.Background(), path)
	assert.ErrorIs(t, err, ErrWriteFailure)
	assert.Equal(t, StateFailed, summary.State)
}

func TestRunFolder(t *testing.T) {
	f := newFixture(t)
	f.detector.detections = []model.Detection{{Label: "eye", Confidence: 0.5, Width: 1, Height: 1}}

	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "b.png"), solid(6, 6, color.NRGBA{A: 255}))
	writePNG(t, filepath.Join(dir, "a.JPG"), solid(6, 6, color.NRGBA{A: 255}))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.jpeg"), []byte("garbage"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.png"), 0o755))

	summary, err := f.pipeline.RunFolder(context.Background(), dir)
	require.NoError(t, err)

	require.Len(t, summary.Items, 3)
	assert.Equal(t, filepath.Join(dir, "a.JPG"), summary.Items[0].Path)
	assert.Equal(t, filepath.Join(dir, "b.png"), summary.Items[1].Path)
	assert.ErrorIs(t, summary.Items[2].Err, ErrBadFrame)

	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 2, summary.FramesWritten)
	assert.Equal(t, 2, summary.Detections)
	assert.Len(t, f.stills.saved, 2)
	assert.Contains(t, f.stills.saved, filepath.Join(FolderGroup, "a.JPG"))
	assert.Equal(t, StateFinished, summary.State)
	assert.Len(t, f.recorder.frames, 2)
}

func TestRunFolder_Errors(t *testing.T) {
	f := newFixture(t)

	_, err := f.pipeline.RunFolder(context.Background(), filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, ErrInputNotFound)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.md"), []byte("x"), 0o644))
	_, err = f.pipeline.RunFolder(context.Background(), dir)
	assert.ErrorIs(t, err, ErrEmptyResult)
	assert.Equal(t, "Nothing to process: "+err.Error(), UserMessage(err))
}

func TestRunFolder_NothingDecodable(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.png"), []byte("garbage"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.jpg"), []byte("garbage"), 0o644))

	summary, err := f.pipeline.RunFolder(context.Background(), dir)
	assert.ErrorIs(t, err, ErrEmptyResult)
	assert.Equal(t, StateFailed, summary.State)
	assert.Equal(t, 2, summary.Skipped)
	assert.Zero(t, summary.FramesWritten)
	assert.Empty(t, f.stills.saved)
	require.NotNil(t, f.recorder.finished)
	assert.Equal(t, StateFailed, f.recorder.finished.State)
}

func TestRunFolder_Cancelled(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"), solid(4, 4, color.NRGBA{A: 255}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := f.pipeline.RunFolder(ctx, dir)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateCancelled, summary.State)
	assert.Empty(t, f.stills.saved)
}

func TestRunVideo_SyntheticNoDetections(t *testing.T) {
	f := newFixture(t)
	f.source.frames = frames(10, 32, 24)
	f.source.props = StreamProps{FPS: 25, Width: 32, Height: 24}

	summary, err := f.pipeline.RunVideo(context.Background(), VideoRequest{Path: "clip.mp4"})
	require.NoError(t, err)

	assert.Equal(t, StateFinished, summary.State)
	assert.Equal(t, 10, summary.FramesRead)
	assert.Equal(t, 10, summary.FramesWritten)
	assert.Equal(t, f.source.props, f.writer.props)
	assert.Equal(t, filepath.Join(f.output, "detected_video.avi"), summary.Output)

	require.Len(t, f.writer.frames, 10)
	for i, out := range f.writer.frames {
		assert.Equal(t, image.Rect(0, 0, 32, 24), out.Bounds())
		assert.Equal(t, f.source.frames[i].(*image.NRGBA).Pix, imaging.Clone(out).Pix, "frame %d", i)
	}

	assert.True(t, f.source.closed)
	assert.True(t, f.writer.closed)
	assert.Equal(t, StateIdle, f.pipeline.State())
	assert.Equal(t, model.ModeVideo, f.recorder.mode)
	assert.Len(t, f.recorder.frames, 10)
}

func TestRunVideo_CameraWhenPathEmpty(t *testing.T) {
	f := newFixture(t)
	f.source.frames = frames(1, 4, 4)
	f.source.props = StreamProps{FPS: 30, Width: 4, Height: 4}

	summary, err := f.pipeline.RunVideo(context.Background(), VideoRequest{})
	require.NoError(t, err)
	assert.Equal(t, CameraSource, summary.Source)
}

func TestRunVideo_Cancel(t *testing.T) {
	f := newFixture(t)
	f.source.frames = frames(10, 8, 8)
	f.source.props = StreamProps{FPS: 30, Width: 8, Height: 8}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.source.onRead = func(n int) {
		if n == 3 {
			cancel()
		}
	}

	summary, err := f.pipeline.RunVideo(ctx, VideoRequest{Path: "clip.mp4"})
	require.NoError(t, err)

	assert.Equal(t, StateCancelled, summary.State)
	assert.Equal(t, summary.FramesRead, summary.FramesWritten)
	assert.Equal(t, summary.FramesRead, len(f.writer.frames))
	assert.True(t, f.writer.closed, "output is closed on cancel")
	assert.True(t, f.source.closed)
	assert.Equal(t, StateIdle, f.pipeline.State())
	assert.Equal(t, "Stopped.", UserMessage(context.Canceled))
}

func TestRunVideo_SourceUnavailable(t *testing.T) {
	f := newFixture(t)
	f.pipeline.openSource = func(string) (FrameSource, error) {
		return nil, errors.New("no such device")
	}

	summary, err := f.pipeline.RunVideo(context.Background(), VideoRequest{})
	assert.ErrorIs(t, err, ErrSourceUnavailable)
	assert.Equal(t, StateFailed, summary.State)
	assert.Zero(t, f.opened, "no output is created")
	assert.Equal(t, StateIdle, f.pipeline.State())
}

func TestRunVideo_WriterUnavailable(t *testing.T) {
	f := newFixture(t)
	f.source.frames = frames(2, 4, 4)
	f.source.props = StreamProps{FPS: 30, Width: 4, Height: 4}
	f.pipeline.openWriter = func(string, StreamProps) (FrameSink, error) {
		return nil, errors.New("codec missing")
	}

	_, err := f.pipeline.RunVideo(context.Background(), VideoRequest{Path: "clip.mp4"})
	assert.ErrorIs(t, err, ErrWriteFailure)
	assert.True(t, f.source.closed, "source released when the writer cannot open")
}

func TestRunVideo_DefaultsForMissingProps(t *testing.T) {
	f := newFixture(t)
	f.source.frames = frames(3, 12, 6)

	summary, err := f.pipeline.RunVideo(context.Background(), VideoRequest{Path: "clip.mp4"})
	require.NoError(t, err)

	assert.Equal(t, StreamProps{FPS: 30, Width: 12, Height: 6}, f.writer.props)
	assert.Equal(t, 3, summary.FramesRead)
	assert.Len(t, f.writer.frames, 3)
}

func TestRunVideo_SkipsBadFrames(t *testing.T) {
	f := newFixture(t)
	f.source.frames = frames(4, 4, 4)
	f.source.props = StreamProps{FPS: 30, Width: 4, Height: 4}
	f.source.errs = map[int]error{1: ErrBadFrame}

	summary, err := f.pipeline.RunVideo(context.Background(), VideoRequest{Path: "clip.mp4"})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, summary.FramesRead, summary.FramesWritten)
}

func TestRunVideo_ReadFailure(t *testing.T) {
	f := newFixture(t)
	f.source.frames = frames(4, 4, 4)
	f.source.props = StreamProps{FPS: 30, Width: 4, Height: 4}
	f.source.errs = map[int]error{2: errors.New("device unplugged")}

	summary, err := f.pipeline.RunVideo(context.Background(), VideoRequest{})
	assert.ErrorIs(t, err, ErrSourceUnavailable)
	assert.Equal(t, StateFailed, summary.State)
	assert.Equal(t, 2, summary.FramesWritten)
	assert.True(t, f.writer.closed)
}

func TestRunVideo_DetectorFailure(t *testing.T) {
	f := newFixture(t)
	f.source.frames = frames(5, 4, 4)
	f.source.props = StreamProps{FPS: 30, Width: 4, Height: 4}
	f.detector.err = errors.New("inference failed")

	summary, err := f.pipeline.RunVideo(context.Background(), VideoRequest{Path: "clip.mp4"})
	assert.ErrorContains(t, err, "inference failed")
	assert.Equal(t, StateFailed, summary.State)
	assert.Equal(t, 1, summary.FramesRead)
	assert.Equal(t, 1, summary.FramesWritten)
	assert.True(t, f.writer.closed)
	assert.True(t, f.source.closed)
	assert.Equal(t, StateFailed, f.recorder.finished.State)
}

func TestRunVideo_GeometryMismatch(t *testing.T) {
	f := newFixture(t)
	f.source.frames = []image.Image{solid(4, 4, color.NRGBA{A: 255}), solid(5, 4, color.NRGBA{A: 255})}
	f.source.props = StreamProps{FPS: 30, Width: 4, Height: 4}

	_, err := f.pipeline.RunVideo(context.Background(), VideoRequest{Path: "clip.mp4"})
	assert.ErrorIs(t, err, ErrWriteFailure)
	assert.ErrorIs(t, err, ErrGeometryMismatch)
}

func TestRunVideo_CloseFailureFailsRun(t *testing.T) {
	f := newFixture(t)
	f.source.frames = frames(1, 4, 4)
	f.source.props = StreamProps{FPS: 30, Width: 4, Height: 4}
	f.pipeline.openWriter = func(path string, props StreamProps) (FrameSink, error) {
		f.writer = &fakeSink{props: props, closeErr: errors.New("flush failed")}
		return f.writer, nil
	}

	summary, err := f.pipeline.RunVideo(context.Background(), VideoRequest{Path: "clip.mp4"})
	assert.ErrorIs(t, err, ErrWriteFailure)
	assert.Equal(t, StateFailed, summary.State)
}

func TestRunVideo_Displays(t *testing.T) {
	f := newFixture(t)
	f.source.frames = frames(3, 4, 4)
	f.source.props = StreamProps{FPS: 30, Width: 4, Height: 4}

	good := &fakeSink{}
	bad := &fakeSink{writeErr: errors.New("window closed")}

	summary, err := f.pipeline.RunVideo(context.Background(), VideoRequest{Path: "clip.mp4", Displays: []FrameSink{bad, good}})
	require.NoError(t, err)

	assert.Equal(t, StateFinished, summary.State)
	assert.Len(t, good.frames, 3)
	assert.False(t, good.closed, "displays belong to the caller")
}

func TestRunVideo_Busy(t *testing.T) {
	f := newFixture(t)
	f.source.frames = frames(2, 4, 4)
	f.source.props = StreamProps{FPS: 30, Width: 4, Height: 4}

	var nested error
	var during State
	f.source.onRead = func(n int) {
		if n == 0 {
			during = f.pipeline.State()
			_, nested = f.pipeline.RunVideo(context.Background(), VideoRequest{})
		}
	}

	_, err := f.pipeline.RunVideo(context.Background(), VideoRequest{Path: "clip.mp4"})
	require.NoError(t, err)
	assert.Equal(t, StateStreaming, during)
	assert.ErrorIs(t, nested, ErrBusy)
}

func TestStateMachine(t *testing.T) {
	var moves []string
	m := &stateMachine{onMove: func(from, to State) {
		moves = append(moves, from.String()+">"+to.String())
	}}

	assert.Error(t, m.move(StateFinished))
	require.NoError(t, m.move(StateStreaming))
	assert.Error(t, m.move(StateStreaming))
	require.NoError(t, m.move(StateCancelled))
	assert.True(t, m.State().Terminal())
	require.NoError(t, m.move(StateIdle))

	assert.Equal(t, []string{"idle>streaming", "streaming>cancelled", "cancelled>idle"}, moves)
	assert.Equal(t, "state(42)", State(42).String())
}

func TestUserMessage(t *testing.T) {
	assert.Empty(t, UserMessage(nil))
	assert.Contains(t, UserMessage(ErrInputNotFound), "Input not found")
	assert.Contains(t, UserMessage(ErrSourceUnavailable), "Failed to open")
	assert.Contains(t, UserMessage(ErrWriteFailure), "Failed to save")
	assert.Contains(t, UserMessage(errors.New("boom")), "Processing failed: boom")
}

func TestIsImageFile(t *testing.T) {
	assert.True(t, IsImageFile("a.PNG"))
	assert.True(t, IsImageFile("dir/b.jpeg"))
	assert.False(t, IsImageFile("c.gif"))
	assert.False(t, IsImageFile("jpg"))
}
