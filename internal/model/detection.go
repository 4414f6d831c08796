package model

import (
	"fmt"
	"image"
)

// Detection is one predicted object instance in a frame.
type Detection struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
}

// Rect returns the bounding box as an image.Rectangle.
func (d Detection) Rect() image.Rectangle {
	return image.Rect(d.X, d.Y, d.X+d.Width, d.Y+d.Height)
}

// Caption is the text drawn next to the box.
func (d Detection) Caption() string {
	return fmt.Sprintf("%s %.2f", d.Label, d.Confidence)
}

// FromRect builds a Detection from a rectangle.
func FromRect(label string, confidence float64, r image.Rectangle) Detection {
	r = r.Canon()
	return Detection{
		Label:      label,
		Confidence: confidence,
		X:          r.Min.X,
		Y:          r.Min.Y,
		Width:      r.Dx(),
		Height:     r.Dy(),
	}
}
