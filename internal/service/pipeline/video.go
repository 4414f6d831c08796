package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"time"

	"facedetect/internal/model"

	"go.uber.org/multierr"
)

// CameraSource is the summary source name of a run on the default camera.
const CameraSource = "camera"

// VideoRequest selects the video source and the live displays of a run.
// An empty Path opens the default camera. Displays are owned by the caller.
type VideoRequest struct {
	Path     string
	Displays []FrameSink
}

// OutputPath is where RunVideo writes the annotated video.
func (p *Pipeline) OutputPath() string {
	return filepath.Join(p.outputDir, p.videoFile)
}

// RunVideo streams frames from the source through the detector into the output video and
// the displays until the stream ends, ctx is cancelled, or a frame cannot be processed.
// A cancelled run returns a nil error with Summary.State set to StateCancelled.
func (p *Pipeline) RunVideo(ctx context.Context, req VideoRequest) (*Summary, error) {
	if p.openSource == nil || p.openWriter == nil {
		return nil, fmt.Errorf("%w: video input/output is not configured", ErrSourceUnavailable)
	}
	if err := p.machine.move(StateStreaming); err != nil {
		return nil, ErrBusy
	}

	source := req.Path
	if source == "" {
		source = CameraSource
	}
	summary := newSummary(model.ModeVideo, source)
	record := p.startRecord(model.ModeVideo, source)

	state, err := p.stream(ctx, req, summary, record)

	summary.State = state
	summary.Err = err
	summary.FinishedAt = time.Now()
	if moveErr := p.machine.move(state); moveErr != nil {
		p.logger.Error("Video run state: %v", moveErr)
	}
	record.Finish(summary)
	if moveErr := p.machine.move(StateIdle); moveErr != nil {
		p.logger.Error("Video run state: %v", moveErr)
	}

	switch state {
	case StateFailed:
		p.logger.Error("Video run on %s failed after %d frames: %v", source, summary.FramesRead, err)
		return summary, err
	case StateCancelled:
		p.logger.Info("Video run on %s stopped after %d frames", source, summary.FramesRead)
	default:
		p.logger.Info("Video run on %s finished: %d frames, %d detections", source, summary.FramesRead, summary.Detections)
	}
	return summary, nil
}

// stream owns the source and the writer for the duration of the run and releases both on every path.
func (p *Pipeline) stream(ctx context.Context, req VideoRequest, summary *Summary, record RunRecord) (state State, err error) {
	src, err := p.openSource(req.Path)
	if err != nil {
		return StateFailed, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	props := src.Props()
	if props.FPS <= 0 {
		p.logger.Warning("Source reports no frame rate, using %.0f fps", p.defaultFPS)
		props.FPS = p.defaultFPS
	}

	// Geometry missing from the source is taken from the first frame.
	var pending image.Image
	if props.Width <= 0 || props.Height <= 0 {
		pending, err = p.firstFrame(ctx, src, summary)
		if err != nil {
			return terminal(ctx, multierr.Append(err, src.Close()))
		}
		if pending == nil {
			return terminal(ctx, multierr.Append(ctx.Err(), src.Close()))
		}
		props.Width, props.Height = pending.Bounds().Dx(), pending.Bounds().Dy()
	}
	summary.Props = props

	output := p.OutputPath()
	if err := os.MkdirAll(p.outputDir, 0o755); err != nil {
		return StateFailed, multierr.Append(fmt.Errorf("%w: %v", ErrWriteFailure, err), src.Close())
	}
	writer, err := p.openWriter(output, props)
	if err != nil {
		return StateFailed, multierr.Append(fmt.Errorf("%w: %v", ErrWriteFailure, err), src.Close())
	}
	summary.Output = output
	p.logger.Info("Streaming %s (%dx%d @ %.2f fps) -> %s", summary.Source, props.Width, props.Height, props.FPS, output)

	defer func() {
		closeErr := multierr.Combine(src.Close(), writer.Close())
		if closeErr == nil {
			return
		}
		if state == StateFailed {
			err = multierr.Append(err, closeErr)
			return
		}
		state, err = StateFailed, fmt.Errorf("%w: %v", ErrWriteFailure, closeErr)
	}()

	displays := append([]FrameSink(nil), req.Displays...)
	for {
		// Cancellation is checked once per frame, before reading.
		if ctx.Err() != nil {
			return StateCancelled, nil
		}

		frame := pending
		pending = nil
		if frame == nil {
			frame, err = src.Read(ctx)
			switch {
			case errors.Is(err, io.EOF):
				return StateFinished, nil
			case errors.Is(err, ErrBadFrame):
				summary.Skipped++
				p.logger.Warning("Skipping unreadable frame after %d frames: %v", summary.FramesRead, err)
				continue
			case err != nil:
				return terminal(ctx, fmt.Errorf("%w: %v", ErrSourceUnavailable, err))
			}
			summary.FramesRead++
		}
		index := summary.FramesRead - 1

		annotated, detections, procErr := p.Process(ctx, frame)
		if procErr != nil {
			// The raw frame keeps the output in step with the frames read.
			annotated, detections = frame, nil
		}

		if err := writer.WriteFrame(annotated); err != nil {
			return StateFailed, fmt.Errorf("%w: frame %d: %w", ErrWriteFailure, index, err)
		}
		summary.FramesWritten++

		if procErr != nil {
			return terminal(ctx, fmt.Errorf("frame %d: %w", index, procErr))
		}

		summary.count(detections)
		record.Frame(index, detections)
		displays = p.show(displays, annotated)
	}
}

// firstFrame reads until a decodable frame arrives. It returns nil, nil when ctx is cancelled first.
func (p *Pipeline) firstFrame(ctx context.Context, src FrameSource, summary *Summary) (image.Image, error) {
	for ctx.Err() == nil {
		frame, err := src.Read(ctx)
		switch {
		case errors.Is(err, io.EOF):
			return nil, fmt.Errorf("%w: stream has no frames", ErrSourceUnavailable)
		case errors.Is(err, ErrBadFrame):
			summary.Skipped++
			continue
		case err != nil:
			return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
		}
		summary.FramesRead++
		return frame, nil
	}
	return nil, nil
}

// show feeds a frame to every display and drops the ones that fail.
func (p *Pipeline) show(displays []FrameSink, frame image.Image) []FrameSink {
	kept := displays[:0]
	for _, d := range displays {
		if err := d.WriteFrame(frame); err != nil {
			p.logger.Warning("Dropping display: %v", err)
			continue
		}
		kept = append(kept, d)
	}
	return kept
}

// terminal classifies an error that ended the loop: a cancelled ctx wins over the failure it caused.
func terminal(ctx context.Context, err error) (State, error) {
	if ctx.Err() != nil {
		return StateCancelled, nil
	}
	if err == nil {
		return StateFinished, nil
	}
	return StateFailed, err
}
