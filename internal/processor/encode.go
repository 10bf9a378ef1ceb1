package processor

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"github.com/disintegration/imaging"
	"github.com/timkrebs/image-node/internal/models"
)

// Encode writes img in format. JPEG output is flattened onto white when the
// image carries transparency.
func (p *Processor) Encode(img *Image, format models.Format, quality int) ([]byte, error) {
	px := img.Pixels
	if !format.SupportsAlpha() && !px.Opaque() {
		px = flatten(px, color.White)
	}

	switch format {
	case models.FormatJPEG:
		return encodeWith(px, imaging.JPEG, imaging.JPEGQuality(quality))
	case models.FormatPNG:
		return encodeWith(px, imaging.PNG, imaging.PNGCompressionLevel(pngLevel(quality)))
	case models.FormatTIFF:
		return encodeWith(px, imaging.TIFF)
	case models.FormatGIF:
		return encodeWith(px, imaging.GIF)
	case models.FormatBMP:
		return encodeWith(px, imaging.BMP)
	case models.FormatWEBP:
		data, err := encodeWEBP(px, quality)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEncode, err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("%w: unsupported output format %q", ErrEncode, format)
	}
}

func encodeWith(img image.Image, format imaging.Format, opts ...imaging.EncodeOption) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format, opts...); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrEncode, format, err)
	}
	return buf.Bytes(), nil
}

func flatten(img *image.NRGBA, bg color.Color) *image.NRGBA {
	canvas := imaging.New(img.Bounds().Dx(), img.Bounds().Dy(), bg)
	return imaging.Overlay(canvas, img, image.Pt(0, 0), 1.0)
}

// pngLevel maps quality onto zlib effort: high quality favours speed
func pngLevel(quality int) png.CompressionLevel {
	switch {
	case quality >= 90:
		return png.BestSpeed
	case quality <= 50:
		return png.BestCompression
	default:
		return png.DefaultCompression
	}
}
