// Package encoder draws detection overlays on annotated frames and serves
// them as per-camera MJPEG streams (spec.md §4.2 step 8, §4.1). Grounded
// on the teacher's internal/stream/mjpeg.go (MJPEGStream.drawOverlays/
// drawBox/drawLabel and MJPEGStream.ServeHTTP), extended to draw the
// global cross-camera identity when the ReID Registry has resolved one.
package encoder

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"sentrynet/internal/model"
)

// Overlay is one box to draw, plus the label text to render above it.
// GlobalID is nil when the track has not yet been resolved to a
// cross-camera identity.
type Overlay struct {
	Box        model.BBox
	ClassName  string
	Confidence float32
	LocalID    int
	GlobalID   *uint64
}

var boxColor = color.RGBA{0, 200, 0, 255}

// Annotate decodes jpegData, draws every overlay box and label, and
// re-encodes to JPEG. On any decode/encode failure it returns the
// original bytes unchanged, matching the teacher's fail-open behavior.
func Annotate(jpegData []byte, overlays []Overlay) []byte {
	if len(overlays) == 0 {
		return jpegData
	}

	img, err := jpeg.Decode(bytes.NewReader(jpegData))
	if err != nil {
		return jpegData
	}

	bounds := img.Bounds()
	rgba := image.NewRGBA(bounds)
	draw.Draw(rgba, bounds, img, bounds.Min, draw.Src)

	for _, ov := range overlays {
		drawBox(rgba, ov.Box, boxColor, 2)
		label := fmt.Sprintf("#%d %s %.0f%%", ov.LocalID, ov.ClassName, ov.Confidence*100)
		if ov.GlobalID != nil {
			label = fmt.Sprintf("G%d %s %.0f%%", *ov.GlobalID, ov.ClassName, ov.Confidence*100)
		}
		drawLabel(rgba, ov.Box.X, ov.Box.Y-5, label, boxColor)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, rgba, &jpeg.Options{Quality: 85}); err != nil {
		return jpegData
	}
	return buf.Bytes()
}

func drawBox(img *image.RGBA, b model.BBox, c color.RGBA, thickness int) {
	bounds := img.Bounds()
	x, y, w, h := b.X, b.Y, b.W, b.H

	for t := 0; t < thickness; t++ {
		for i := x; i < x+w && i < bounds.Max.X; i++ {
			if y+t >= 0 && y+t < bounds.Max.Y && i >= 0 {
				img.Set(i, y+t, c)
			}
			if y+h-t >= 0 && y+h-t < bounds.Max.Y && i >= 0 {
				img.Set(i, y+h-t, c)
			}
		}
		for j := y; j < y+h && j < bounds.Max.Y; j++ {
			if x+t >= 0 && x+t < bounds.Max.X && j >= 0 {
				img.Set(x+t, j, c)
			}
			if x+w-t >= 0 && x+w-t < bounds.Max.X && j >= 0 {
				img.Set(x+w-t, j, c)
			}
		}
	}
}

func drawLabel(img *image.RGBA, x, y int, label string, c color.RGBA) {
	if y < 10 {
		y = 10
	}
	if x < 0 {
		x = 0
	}

	bgColor := color.RGBA{0, 0, 0, 180}
	textWidth := len(label) * 7
	for dy := -2; dy < 12; dy++ {
		for dx := -2; dx < textWidth+2; dx++ {
			px, py := x+dx, y+dy
			if px >= 0 && px < img.Bounds().Max.X && py >= 0 && py < img.Bounds().Max.Y {
				img.Set(px, py, bgColor)
			}
		}
	}

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y + 10)},
	}
	d.DrawString(label)
}
