package ai

import (
	"context"
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"facedetect/internal/model"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadSample(t *testing.T) (*PigoDetector, image.Image) {
	t.Helper()

	d, err := LoadPigoDetector(filepath.Join("testdata", "facefinder"), filepath.Join("testdata", "puploc"))
	require.NoError(t, err)

	img, err := imaging.Open(filepath.Join("testdata", "sample.jpg"))
	require.NoError(t, err)
	return d, img
}

func byLabel(detections []model.Detection, label string) []model.Detection {
	var out []model.Detection
	for _, d := range detections {
		if d.Label == label {
			out = append(out, d)
		}
	}
	return out
}

func TestPigoDetector_FaceAndEyes(t *testing.T) {
	d, img := loadSample(t)
	assert.Equal(t, []string{"eye", "face"}, d.Labels())

	detections, err := d.Detect(context.Background(), img, 0.5)
	require.NoError(t, err)

	faces := byLabel(detections, "face")
	require.Len(t, faces, 1)
	face := faces[0].Rect()
	assert.Greater(t, faces[0].Confidence, 0.9)
	assert.True(t, face.In(img.Bounds()))

	eyes := byLabel(detections, "eye")
	require.Len(t, eyes, 2)
	for _, eye := range eyes {
		assert.True(t, eye.Rect().In(face), "eye %v outside face %v", eye.Rect(), face)
		assert.Equal(t, faces[0].Confidence, eye.Confidence)
	}
	assert.NotEqual(t, eyes[0].Rect(), eyes[1].Rect())
}

func TestPigoDetector_Threshold(t *testing.T) {
	d, img := loadSample(t)

	detections, err := d.Detect(context.Background(), img, 0.5)
	require.NoError(t, err)
	for _, det := range detections {
		assert.GreaterOrEqual(t, det.Confidence, 0.5)
	}

	detections, err = d.Detect(context.Background(), img, 0.9999)
	require.NoError(t, err)
	assert.Empty(t, detections)
}

func TestPigoDetector_FaceOnly(t *testing.T) {
	d, err := LoadPigoDetector(filepath.Join("testdata", "facefinder"), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"face"}, d.Labels())

	img, err := imaging.Open(filepath.Join("testdata", "sample.jpg"))
	require.NoError(t, err)

	detections, err := d.Detect(context.Background(), img, 0.5)
	require.NoError(t, err)
	assert.Len(t, detections, 1)
	assert.Empty(t, byLabel(detections, "eye"))
}

func TestPigoDetector_SmallAndCancelled(t *testing.T) {
	d, _ := loadSample(t)

	small := imaging.New(pigoMinFaceSize/2, pigoMinFaceSize/2, color.White)
	detections, err := d.Detect(context.Background(), small, 0.1)
	require.NoError(t, err)
	assert.Empty(t, detections)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.Detect(ctx, small, 0.1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoError(t, d.Close())
}
