package video

import (
	"fmt"
	"image"
	"sync"

	"facedetect/internal/service/pipeline"

	"go.uber.org/multierr"
	"gocv.io/x/gocv"
)

// Writer encodes frames into a video file whose codec, rate and size are fixed at creation.
type Writer struct {
	vw    *gocv.VideoWriter
	props pipeline.StreamProps
	path  string
	mu    sync.Mutex
}

// NewWriter creates path with the four character codec and the given stream properties.
func NewWriter(path, codec string, props pipeline.StreamProps) (*Writer, error) {
	if props.Width <= 0 || props.Height <= 0 {
		return nil, fmt.Errorf("invalid video size %dx%d", props.Width, props.Height)
	}
	if len(codec) != 4 {
		return nil, fmt.Errorf("invalid codec %q: want a four character code", codec)
	}

	vw, err := gocv.VideoWriterFile(path, codec, props.FPS, props.Width, props.Height, true)
	if err != nil {
		return nil, fmt.Errorf("cannot create %s: %w", path, err)
	}
	if !vw.IsOpened() {
		vw.Close()
		return nil, fmt.Errorf("cannot create %s with codec %s", path, codec)
	}
	return &Writer{vw: vw, props: props, path: path}, nil
}

// WriterOpener adapts NewWriter for the pipeline.
func WriterOpener(codec string) pipeline.SinkOpener {
	return func(path string, props pipeline.StreamProps) (pipeline.FrameSink, error) {
		return NewWriter(path, codec, props)
	}
}

// WriteFrame appends a frame. Frames must match the size the file was created with.
func (w *Writer) WriteFrame(frame image.Image) error {
	if !w.props.Matches(frame) {
		b := frame.Bounds()
		return fmt.Errorf("%w: got %dx%d, want %dx%d", pipeline.ErrGeometryMismatch, b.Dx(), b.Dy(), w.props.Width, w.props.Height)
	}

	mat, err := gocv.ImageToMatRGB(frame)
	if err != nil {
		return fmt.Errorf("failed to convert frame: %w", err)
	}
	defer mat.Close()

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.vw.Write(mat)
}

// Close flushes and closes the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.vw.Close(); err != nil {
		return multierr.Append(fmt.Errorf("failed to close %s", w.path), err)
	}
	return nil
}
