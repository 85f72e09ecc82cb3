// Package compose overlays match results on camera frames and writes them as
// an MJPEG stream.
package compose

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	"github.com/andresmejia3/gatekeeper/internal/types"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	DefaultQuality = 80
	BorderWidth    = 2
	labelOffset    = 10 // label baseline sits this far above the box
)

var (
	Known   = color.RGBA{0, 255, 0, 255}
	Unknown = color.RGBA{255, 0, 0, 255}
)

// Composer renders annotated frames.
type Composer struct {
	Quality int
}

// New returns a Composer encoding at the given JPEG quality (1-100).
func New(quality int) *Composer {
	if quality < 1 || quality > 100 {
		quality = DefaultQuality
	}
	return &Composer{Quality: quality}
}

// Render draws one rectangle and label per result and re-encodes the frame.
func (c *Composer) Render(frame []byte, results []types.MatchResult) ([]byte, error) {
	src, err := jpeg.Decode(bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("decoding frame: %w", err)
	}
	img := image.NewRGBA(src.Bounds())
	draw.Draw(img, img.Bounds(), src, src.Bounds().Min, draw.Src)

	for _, res := range results {
		col := Unknown
		if res.Matched {
			col = Known
		}
		b := res.Detection.Box
		rect := image.Rect(b.Left, b.Top, b.Right, b.Bottom)
		drawBorder(img, rect, BorderWidth, col)
		drawLabel(img, res.Label, rect.Min.X, rect.Min.Y-labelOffset, col)
	}

	quality := c.Quality
	if quality == 0 {
		quality = DefaultQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encoding frame: %w", err)
	}
	return buf.Bytes(), nil
}

// drawBorder paints a rectangle outline of the given thickness inside rect.
func drawBorder(img *image.RGBA, rect image.Rectangle, width int, col color.RGBA) {
	rect = rect.Canon()
	if rect.Empty() {
		return
	}
	fillRect(img, image.Rect(rect.Min.X, rect.Min.Y, rect.Max.X, rect.Min.Y+width), col) // top
	fillRect(img, image.Rect(rect.Min.X, rect.Max.Y-width, rect.Max.X, rect.Max.Y), col) // bottom
	fillRect(img, image.Rect(rect.Min.X, rect.Min.Y, rect.Min.X+width, rect.Max.Y), col) // left
	fillRect(img, image.Rect(rect.Max.X-width, rect.Min.Y, rect.Max.X, rect.Max.Y), col) // right
}

func fillRect(img *image.RGBA, rect image.Rectangle, col color.RGBA) {
	// Clip rect to image bounds to prevent panics
	rect = rect.Intersect(img.Bounds())
	if rect.Empty() {
		return
	}
	stride := img.Stride
	pix := img.Pix
	imgMinX, imgMinY := img.Rect.Min.X, img.Rect.Min.Y
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		rowStart := (y-imgMinY)*stride + (rect.Min.X-imgMinX)*4
		for x := 0; x < rect.Dx(); x++ {
			off := rowStart + x*4
			pix[off] = col.R
			pix[off+1] = col.G
			pix[off+2] = col.B
			pix[off+3] = col.A
		}
	}
}

func drawLabel(img *image.RGBA, text string, x, y int, col color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(col),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}
