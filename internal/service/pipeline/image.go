package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"facedetect/internal/model"

	"github.com/disintegration/imaging"
)

// Result groups under the output directory.
const (
	SingleImageGroup = "single_image"
	FolderGroup      = "folder_images"
)

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
}

// IsImageFile reports whether name has one of the supported still image extensions.
func IsImageFile(name string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(name))]
}

// RunImage annotates one still image and saves the result under <output>/single_image.
func (p *Pipeline) RunImage(ctx context.Context, path string) (*Summary, error) {
	summary := newSummary(model.ModeImage, path)
	record := p.startRecord(model.ModeImage, path)

	err := p.runImage(ctx, path, summary)
	p.finishStill(summary, record, err)
	return summary, err
}

func (p *Pipeline) runImage(ctx context.Context, path string, summary *Summary) error {
	if path == "" {
		return fmt.Errorf("%w: no image path given", ErrInputNotFound)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInputNotFound, path)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrInputNotFound, path)
	}

	item, err := p.processStill(ctx, path, SingleImageGroup)
	if item != nil {
		summary.Items = append(summary.Items, *item)
	}
	if errors.Is(err, ErrBadFrame) {
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	if err != nil {
		return err
	}
	summary.Output = item.Output
	return nil
}

// RunFolder annotates every supported image in dir, in name order, and saves the results
// under <output>/folder_images. Images that cannot be decoded are skipped and reported.
func (p *Pipeline) RunFolder(ctx context.Context, dir string) (*Summary, error) {
	summary := newSummary(model.ModeFolder, dir)
	record := p.startRecord(model.ModeFolder, dir)

	err := p.runFolder(ctx, dir, summary, record)
	p.finishStill(summary, record, err)
	return summary, err
}

func (p *Pipeline) runFolder(ctx context.Context, dir string, summary *Summary, record RunRecord) error {
	if dir == "" {
		return fmt.Errorf("%w: no folder given", ErrInputNotFound)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInputNotFound, dir)
	}

	var names []string
	for _, entry := range entries {
		if entry.Type().IsRegular() && IsImageFile(entry.Name()) {
			names = append(names, entry.Name())
		}
	}
	if len(names) == 0 {
		return fmt.Errorf("%w: no images found in %s", ErrEmptyResult, dir)
	}
	sort.Strings(names)

	summary.Output = filepath.Join(p.outputDir, FolderGroup)
	for i, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}

		item, err := p.processStill(ctx, filepath.Join(dir, name), FolderGroup)
		if item != nil {
			summary.Items = append(summary.Items, *item)
		}
		if errors.Is(err, ErrBadFrame) {
			p.logger.Warning("Skipping %s: %v", name, err)
			summary.Skipped++
			continue
		}
		if err != nil {
			return err
		}
		record.Frame(i, item.Detections)
	}
	if summary.Skipped == len(names) {
		return fmt.Errorf("%w: no decodable images in %s", ErrEmptyResult, dir)
	}
	return nil
}

// processStill decodes, annotates and saves one image. Decode failures wrap ErrBadFrame.
func (p *Pipeline) processStill(ctx context.Context, path, group string) (*ItemResult, error) {
	item := &ItemResult{Path: path}

	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		item.Err = fmt.Errorf("%w: %v", ErrBadFrame, err)
		return item, item.Err
	}

	annotated, detections, err := p.Process(ctx, img)
	if err != nil {
		item.Err = err
		if errors.Is(err, ErrEmptyFrame) {
			item.Err = fmt.Errorf("%w: %v", ErrBadFrame, err)
		}
		return item, item.Err
	}
	item.Detections = detections

	out, err := p.stills.Save(group, filepath.Base(path), annotated)
	if err != nil {
		item.Err = fmt.Errorf("%w: %v", ErrWriteFailure, err)
		return item, item.Err
	}
	item.Output = out

	p.logger.Info("Annotated %s -> %s (%d detections)", path, out, len(detections))
	return item, nil
}

// finishStill fills in the outcome of an image or folder run and hands it to the history record.
func (p *Pipeline) finishStill(summary *Summary, record RunRecord, err error) {
	for _, item := range summary.Items {
		if item.Err != nil {
			continue
		}
		summary.FramesRead++
		summary.FramesWritten++
		summary.count(item.Detections)
	}
	if summary.Mode == model.ModeImage && len(summary.Items) == 1 && summary.Items[0].Err == nil {
		record.Frame(0, summary.Items[0].Detections)
	}

	switch {
	case err == nil:
		summary.State = StateFinished
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		summary.State = StateCancelled
	default:
		summary.State = StateFailed
		summary.Err = err
		p.logger.Error("%s run on %s failed: %v", summary.Mode, summary.Source, err)
	}
	summary.FinishedAt = time.Now()
	record.Finish(summary)
}
