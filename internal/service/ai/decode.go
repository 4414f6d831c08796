package ai

import (
	"image"
	"math"
)

// Candidate is a raw network prediction before non-maximum suppression.
type Candidate struct {
	ClassID int
	Score   float32
	Box     image.Rectangle
}

// DecodeYOLO reads a YOLOv8-style output tensor of shape [1, 4+classes, anchors],
// laid out row-major. Boxes are (cx, cy, w, h) in network input pixels and are scaled
// back to the frame with scaleX/scaleY.
func DecodeYOLO(data []float32, channels, anchors int, scaleX, scaleY float64, threshold float64) []Candidate {
	if channels <= 4 || anchors <= 0 || len(data) < channels*anchors {
		return nil
	}

	var out []Candidate
	for i := 0; i < anchors; i++ {
		classID := -1
		var best float32
		for c := 4; c < channels; c++ {
			score := data[c*anchors+i]
			if classID < 0 || score > best {
				best = score
				classID = c - 4
			}
		}
		if float64(best) < threshold {
			continue
		}

		cx := float64(data[0*anchors+i])
		cy := float64(data[1*anchors+i])
		w := float64(data[2*anchors+i])
		h := float64(data[3*anchors+i])

		x0 := int(math.Round((cx - w/2) * scaleX))
		y0 := int(math.Round((cy - h/2) * scaleY))
		x1 := int(math.Round((cx + w/2) * scaleX))
		y1 := int(math.Round((cy + h/2) * scaleY))

		out = append(out, Candidate{ClassID: classID, Score: best, Box: image.Rect(x0, y0, x1, y1)})
	}
	return out
}

// ssdClassOffset accounts for the background class at index 0 of SSD outputs.
const ssdClassOffset = 1

// DecodeSSD reads an SSD-style output of rows [batch_id, class_id, confidence, x1, y1, x2, y2]
// with coordinates normalized to 0..1. Class IDs are shifted so that the first real class is 0.
func DecodeSSD(data []float32, width, height int, threshold float64) []Candidate {
	var out []Candidate
	for i := 0; i+7 <= len(data); i += 7 {
		confidence := data[i+2]
		if float64(confidence) < threshold {
			continue
		}
		classID := int(data[i+1]) - ssdClassOffset
		x0 := int(data[i+3] * float32(width))
		y0 := int(data[i+4] * float32(height))
		x1 := int(data[i+5] * float32(width))
		y1 := int(data[i+6] * float32(height))

		out = append(out, Candidate{ClassID: classID, Score: confidence, Box: image.Rect(x0, y0, x1, y1)})
	}
	return out
}
