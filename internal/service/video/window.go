package video

import (
	"context"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"gocv.io/x/gocv"
)

// Preview size of the live window.
const (
	PreviewWidth  = 640
	PreviewHeight = 360
)

// Window shows annotated frames on screen. Pressing q or Esc cancels the run.
type Window struct {
	win    *gocv.Window
	cancel context.CancelFunc
}

// NewWindow opens a window titled title. cancel is called when the user asks to stop.
func NewWindow(title string, cancel context.CancelFunc) *Window {
	return &Window{win: gocv.NewWindow(title), cancel: cancel}
}

// WriteFrame shows the frame, scaled down to fit the preview size.
func (w *Window) WriteFrame(frame image.Image) error {
	b := frame.Bounds()
	if b.Dx() > PreviewWidth || b.Dy() > PreviewHeight {
		frame = imaging.Fit(frame, PreviewWidth, PreviewHeight, imaging.Linear)
	}

	mat, err := gocv.ImageToMatRGB(frame)
	if err != nil {
		return fmt.Errorf("failed to convert frame: %w", err)
	}
	defer mat.Close()

	w.win.IMShow(mat)
	if quitKey(w.win.WaitKey(1)) && w.cancel != nil {
		w.cancel()
	}
	return nil
}

// Close destroys the window.
func (w *Window) Close() error {
	return w.win.Close()
}

func quitKey(key int) bool {
	key &= 0xff
	return key == 'q' || key == 'Q' || key == 27
}
