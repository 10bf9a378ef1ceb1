package processor

import (
	"fmt"
	"image"
	"os"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/timkrebs/image-node/internal/transform"
)

type watermarker struct {
	font    *truetype.Font
	fontErr error
}

func newWatermarker(fontPath string) *watermarker {
	w := &watermarker{}
	if fontPath == "" {
		return w
	}
	data, err := os.ReadFile(fontPath)
	if err != nil {
		w.fontErr = fmt.Errorf("read font: %w", err)
		return w
	}
	f, err := truetype.Parse(data)
	if err != nil {
		w.fontErr = fmt.Errorf("parse font %s: %w", fontPath, err)
		return w
	}
	w.font = f
	return w
}

// FontError reports why the configured watermark font could not be loaded.
// Watermarks fall back to the built-in face in that case.
func (p *Processor) FontError() error {
	return p.watermark.fontErr
}

// draw renders text with its top-left corner at (x, y)
func (w *watermarker) draw(img *image.NRGBA, a transform.Args) (*image.NRGBA, error) {
	text := a.String("text")
	if text == "" {
		return img, nil
	}

	dc := gg.NewContextForImage(img)
	// a fresh face per call; truetype faces are not safe for concurrent use
	if w.font != nil {
		dc.SetFontFace(truetype.NewFace(w.font, &truetype.Options{Size: float64(a.Int("font_size"))}))
	}
	dc.SetColor(namedColor(a.String("color"), uint8(a.Int("opacity"))))
	dc.DrawStringAnchored(text, float64(a.Int("x")), float64(a.Int("y")), 0, 1)

	return imaging.Clone(dc.Image()), nil
}
