package video

import (
	"context"
	"fmt"
	"image"
	"io"
	"sync"

	"facedetect/internal/service/pipeline"

	"gocv.io/x/gocv"
)

// Capture reads frames from a video file or a camera.
type Capture struct {
	vc    *gocv.VideoCapture
	mat   gocv.Mat
	props pipeline.StreamProps
	name  string
	mu    sync.Mutex
}

// OpenCapture opens path, or the camera at cameraIndex when path is empty.
func OpenCapture(path string, cameraIndex int) (*Capture, error) {
	var device interface{} = path
	name := path
	if path == "" {
		device = cameraIndex
		name = fmt.Sprintf("camera %d", cameraIndex)
	}

	vc, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("cannot open %s: %w", name, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("cannot open %s", name)
	}

	return &Capture{
		vc:  vc,
		mat: gocv.NewMat(),
		props: pipeline.StreamProps{
			FPS:    vc.Get(gocv.VideoCaptureFPS),
			Width:  int(vc.Get(gocv.VideoCaptureFrameWidth)),
			Height: int(vc.Get(gocv.VideoCaptureFrameHeight)),
		},
		name: name,
	}, nil
}

// SourceOpener adapts OpenCapture for the pipeline.
func SourceOpener(cameraIndex int) pipeline.SourceOpener {
	return func(path string) (pipeline.FrameSource, error) {
		return OpenCapture(path, cameraIndex)
	}
}

// Props returns the rate and geometry reported by the device at open time.
func (c *Capture) Props() pipeline.StreamProps {
	return c.props
}

// Read grabs the next frame. It returns io.EOF when the device has no more frames.
func (c *Capture) Read(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if ok := c.vc.Read(&c.mat); !ok {
		return nil, io.EOF
	}
	if c.mat.Empty() {
		return nil, fmt.Errorf("%w: empty frame from %s", pipeline.ErrBadFrame, c.name)
	}

	img, err := c.mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pipeline.ErrBadFrame, err)
	}
	return img, nil
}

// Close releases the device.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	matErr := c.mat.Close()
	if err := c.vc.Close(); err != nil {
		return err
	}
	return matErr
}
