package annotate

import (
	"hash/fnv"
	"image"
	"image/color"
	"sync"

	"facedetect/internal/model"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

var (
	regular     *truetype.Font
	regularOnce sync.Once
)

// Font returns the Go regular font used for captions.
func Font() *truetype.Font {
	regularOnce.Do(func() {
		f, err := truetype.Parse(goregular.TTF)
		if err != nil {
			panic(err)
		}
		regular = f
	})
	return regular
}

// Palette holds the box colors, picked by class index.
var Palette = []color.NRGBA{
	{R: 0, G: 200, B: 255, A: 255},
	{R: 0, G: 220, B: 60, A: 255},
	{R: 255, G: 64, B: 64, A: 255},
	{R: 255, G: 180, B: 0, A: 255},
	{R: 200, G: 60, B: 255, A: 255},
	{R: 255, G: 255, B: 255, A: 255},
}

// Options tune the drawing.
type Options struct {
	LineWidth float64
	FontSize  float64
	Padding   float64
}

// DefaultOptions suit frames around 640px wide.
var DefaultOptions = Options{LineWidth: 2, FontSize: 14, Padding: 3}

// Annotator draws detection boxes and captions.
type Annotator struct {
	labels map[string]int
	opts   Options
	face   font.Face
	mu     sync.Mutex
}

// New creates an Annotator. labels fixes the palette slot of each known class;
// other labels get a slot from a hash of their name.
func New(labels []string, opts Options) *Annotator {
	if opts.LineWidth <= 0 {
		opts.LineWidth = DefaultOptions.LineWidth
	}
	if opts.FontSize <= 0 {
		opts.FontSize = DefaultOptions.FontSize
	}
	if opts.Padding < 0 {
		opts.Padding = 0
	}

	index := make(map[string]int, len(labels))
	for i, l := range labels {
		index[l] = i
	}
	return &Annotator{
		labels: index,
		opts:   opts,
		face:   truetype.NewFace(Font(), &truetype.Options{Size: opts.FontSize}),
	}
}

// ColorFor returns the box color of a label.
func (a *Annotator) ColorFor(label string) color.NRGBA {
	if i, ok := a.labels[label]; ok {
		return Palette[i%len(Palette)]
	}
	h := fnv.New32a()
	h.Write([]byte(label))
	return Palette[int(h.Sum32()%uint32(len(Palette)))]
}

// Annotate returns a copy of frame with every detection drawn on it.
// The frame itself is left untouched and the copy keeps its bounds.
func (a *Annotator) Annotate(frame image.Image, detections []model.Detection) image.Image {
	if len(detections) == 0 {
		return imaging.Clone(frame)
	}

	bounds := frame.Bounds()
	dc := gg.NewContext(bounds.Dx(), bounds.Dy())
	dc.DrawImage(frame, -bounds.Min.X, -bounds.Min.Y)

	// font.Face is not safe for concurrent use
	a.mu.Lock()
	defer a.mu.Unlock()
	dc.SetFontFace(a.face)

	for _, d := range detections {
		c := a.ColorFor(d.Label)
		r := d.Rect()

		dc.SetColor(c)
		dc.SetLineWidth(a.opts.LineWidth)
		dc.DrawRectangle(float64(r.Min.X), float64(r.Min.Y), float64(r.Dx()), float64(r.Dy()))
		dc.Stroke()

		a.drawCaption(dc, d.Caption(), r, c)
	}
	return dc.Image()
}

// drawCaption puts the text on a filled tag above the box, or inside it at the top edge of the frame.
func (a *Annotator) drawCaption(dc *gg.Context, text string, box image.Rectangle, c color.NRGBA) {
	pad := a.opts.Padding
	w, h := dc.MeasureString(text)
	tagW, tagH := w+2*pad, h+2*pad

	x := float64(box.Min.X)
	y := float64(box.Min.Y) - tagH
	if y < 0 {
		y = float64(box.Min.Y)
	}
	if x+tagW > float64(dc.Width()) {
		x = float64(dc.Width()) - tagW
	}
	if x < 0 {
		x = 0
	}

	dc.SetColor(c)
	dc.DrawRectangle(x, y, tagW, tagH)
	dc.Fill()

	dc.SetColor(textColor(c))
	dc.DrawString(text, x+pad, y+pad+h)
}

// textColor picks black or white, whichever reads better on the tag.
func textColor(bg color.NRGBA) color.Color {
	luma := 0.299*float64(bg.R) + 0.587*float64(bg.G) + 0.114*float64(bg.B)
	if luma > 140 {
		return color.Black
	}
	return color.White
}
