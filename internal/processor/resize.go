package processor

import (
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/timkrebs/image-node/internal/transform"
)

// resize scales the image. A zero axis keeps the current size on that axis.
func (p *Processor) resize(img *image.NRGBA, a transform.Args) (*image.NRGBA, error) {
	width := a.Int("width")
	height := a.Int("height")

	b := img.Bounds()
	if width == 0 {
		width = b.Dx()
	}
	if height == 0 {
		height = b.Dy()
	}
	if width == b.Dx() && height == b.Dy() {
		return img, nil
	}

	// Use Lanczos resampling for high quality
	return imaging.Resize(img, width, height, imaging.Lanczos), nil
}

// crop cuts out the requested box after clamping it into the image.
// Zero right/bottom mean the image extent.
func (p *Processor) crop(img *image.NRGBA, a transform.Args) (*image.NRGBA, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	right, bottom := a.Int("right"), a.Int("bottom")
	if right == 0 {
		right = w
	}
	if bottom == 0 {
		bottom = h
	}
	rect := image.Rect(
		clampInt(a.Int("left"), 0, w),
		clampInt(a.Int("top"), 0, h),
		clampInt(right, 0, w),
		clampInt(bottom, 0, h),
	)
	if rect.Empty() {
		return nil, fmt.Errorf("crop box %v is empty within %dx%d", rect, w, h)
	}
	return imaging.Crop(img, rect.Add(b.Min)), nil
}

// rotate turns the image counter-clockwise. Without expand the result is
// cut back to the original canvas around its center.
func (p *Processor) rotate(img *image.NRGBA, a transform.Args) (*image.NRGBA, error) {
	degrees := a.Float("degrees")
	if degrees == 0 {
		return img, nil
	}
	rotated := imaging.Rotate(img, degrees, namedColor(a.String("fill"), 255))
	if a.Bool("expand") {
		return rotated, nil
	}
	return imaging.CropCenter(rotated, img.Bounds().Dx(), img.Bounds().Dy()), nil
}

// reflect mirrors the image along the requested axis
func (p *Processor) reflect(img *image.NRGBA, a transform.Args) (*image.NRGBA, error) {
	if a.String("axis") == "vertical" {
		return imaging.FlipV(img), nil
	}
	return imaging.FlipH(img), nil
}

func namedColor(name string, alpha uint8) color.NRGBA {
	switch name {
	case "black":
		return color.NRGBA{A: alpha}
	case "red":
		return color.NRGBA{R: 255, A: alpha}
	case "green":
		return color.NRGBA{G: 255, A: alpha}
	case "blue":
		return color.NRGBA{B: 255, A: alpha}
	case "transparent":
		return color.NRGBA{}
	default:
		return color.NRGBA{R: 255, G: 255, B: 255, A: alpha}
	}
}
