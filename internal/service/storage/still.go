package storage

import (
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"facedetect/internal/config"
	"facedetect/internal/logger"

	"github.com/disintegration/imaging"
)

// JPEGQuality is used for annotated .jpg/.jpeg outputs.
const JPEGQuality = 95

// StillSaver writes annotated images under the output directory, one subdirectory per group.
// Existing files are never overwritten.
type StillSaver struct {
	root   string
	logger *logger.Logger
	mu     sync.Mutex
}

// NewStillSaver creates a StillSaver rooted at the configured output directory.
func NewStillSaver(config *config.Config, logger *logger.Logger) *StillSaver {
	return &StillSaver{root: config.OutputDirectory, logger: logger}
}

// Save writes img as <root>/<group>/<name>, adding a numeric suffix when the name is taken.
func (s *StillSaver) Save(group, name string, img image.Image) (string, error) {
	name = filepath.Base(name)
	if name == "." || name == string(filepath.Separator) {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	if _, err := imaging.FormatFromFilename(name); err != nil {
		name = strings.TrimSuffix(name, filepath.Ext(name)) + ".png"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.root, group)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("error creating directory: %w", err)
	}

	path, err := uniquePath(dir, name)
	if err != nil {
		return "", err
	}
	if err := imaging.Save(img, path, imaging.JPEGQuality(JPEGQuality)); err != nil {
		return "", fmt.Errorf("error saving image %s: %w", path, err)
	}

	s.logger.Debug("Saved %s", path)
	return path, nil
}

// uniquePath returns dir/name, or dir/<stem>_<n><ext> for the first n not taken.
func uniquePath(dir, name string) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	candidate := filepath.Join(dir, name)
	for n := 1; ; n++ {
		_, err := os.Stat(candidate)
		if errors.Is(err, fs.ErrNotExist) {
			return candidate, nil
		}
		if err != nil {
			return "", err
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, n, ext))
	}
}
