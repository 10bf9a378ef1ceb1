package processor

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"github.com/timkrebs/image-node/internal/transform"
)

var (
	smoothKernel      = [9]float64{1, 1, 1, 1, 5, 1, 1, 1, 1}
	edgeEnhanceKernel = [9]float64{-1, -1, -1, -1, 10, -1, -1, -1, -1}
	embossKernel      = [9]float64{-1, 0, 0, 0, 1, 0, 0, 0, 0}
	findEdgesKernel   = [9]float64{-1, -1, -1, -1, 8, -1, -1, -1, -1}
)

// blur applies a Gaussian blur; level 0 leaves the image untouched
func (p *Processor) blur(img *image.NRGBA, a transform.Args) (*image.NRGBA, error) {
	radius := transform.LevelToRadius(a.Float("level"))
	if radius <= 0 {
		return img, nil
	}
	return imaging.Blur(img, radius), nil
}

// sharpen extrapolates away from a smoothed copy. Factors below 1 soften.
func (p *Processor) sharpen(img *image.NRGBA, a transform.Args) (*image.NRGBA, error) {
	factor := transform.LevelToFactor(a.Float("level"))
	smooth := imaging.Convolve3x3(img, smoothKernel, &imaging.ConvolveOptions{Normalize: true})
	return blend(smooth, img, factor), nil
}

// brightnessContrast applies brightness, then contrast, then color balance
func (p *Processor) brightnessContrast(img *image.NRGBA, a transform.Args) (*image.NRGBA, error) {
	out := img
	if f := transform.LevelToFactor(a.Float("brightness")); f != 1 {
		out = imaging.AdjustFunc(out, func(c color.NRGBA) color.NRGBA {
			return color.NRGBA{R: scale(c.R, f), G: scale(c.G, f), B: scale(c.B, f), A: c.A}
		})
	}
	if f := transform.LevelToFactor(a.Float("contrast")); f != 1 {
		mean := meanLuminance(out)
		out = imaging.AdjustFunc(out, func(c color.NRGBA) color.NRGBA {
			return color.NRGBA{
				R: mix(mean, float64(c.R), f),
				G: mix(mean, float64(c.G), f),
				B: mix(mean, float64(c.B), f),
				A: c.A,
			}
		})
	}
	if f := transform.LevelToFactor(a.Float("color")); f != 1 {
		out = blend(imaging.Grayscale(out), out, f)
	}
	return out, nil
}

// saturation blends towards or away from the grayscale version
func (p *Processor) saturation(img *image.NRGBA, a transform.Args) (*image.NRGBA, error) {
	f := transform.LevelToFactor(a.Float("level"))
	if f == 1 {
		return img, nil
	}
	return blend(imaging.Grayscale(img), img, f), nil
}

// autocontrast stretches each channel so the darkest and lightest values,
// after discarding cutoff percent at each end, span the full range
func (p *Processor) autocontrast(img *image.NRGBA, a transform.Args) (*image.NRGBA, error) {
	cutoff := a.Float("cutoff")
	hist := channelHistograms(img)
	var luts [3][256]uint8
	for ch := 0; ch < 3; ch++ {
		lo, hi := histogramBounds(hist[ch], cutoff)
		for v := 0; v < 256; v++ {
			switch {
			case hi <= lo:
				luts[ch][v] = uint8(v)
			case v <= lo:
				luts[ch][v] = 0
			case v >= hi:
				luts[ch][v] = 255
			default:
				luts[ch][v] = uint8(math.Round(float64(v-lo) * 255 / float64(hi-lo)))
			}
		}
	}
	return applyLUT(img, luts), nil
}

// equalize flattens each channel's histogram
func (p *Processor) equalize(img *image.NRGBA) (*image.NRGBA, error) {
	hist := channelHistograms(img)
	var luts [3][256]uint8
	for ch := 0; ch < 3; ch++ {
		h := hist[ch]
		total, last := 0, 0
		for v := 0; v < 256; v++ {
			total += h[v]
			if h[v] > 0 {
				last = h[v]
			}
		}
		step := (total - last) / 255
		if step == 0 {
			for v := range luts[ch] {
				luts[ch][v] = uint8(v)
			}
			continue
		}
		n := step / 2
		for v := 0; v < 256; v++ {
			luts[ch][v] = uint8(min(255, n/step))
			n += h[v]
		}
	}
	return applyLUT(img, luts), nil
}

// posterize keeps the top bits of each channel
func (p *Processor) posterize(img *image.NRGBA, a transform.Args) (*image.NRGBA, error) {
	mask := uint8(0xff << (8 - a.Int("bits")))
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		return color.NRGBA{R: c.R & mask, G: c.G & mask, B: c.B & mask, A: c.A}
	}), nil
}

// solarize inverts every channel value at or above threshold
func (p *Processor) solarize(img *image.NRGBA, a transform.Args) (*image.NRGBA, error) {
	threshold := uint8(a.Int("threshold"))
	inv := func(v uint8) uint8 {
		if v >= threshold {
			return 255 - v
		}
		return v
	}
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		return color.NRGBA{R: inv(c.R), G: inv(c.G), B: inv(c.B), A: c.A}
	}), nil
}

// medianFilter replaces each channel value with the median of its
// size x size neighbourhood. Even sizes are widened to the next odd size.
func (p *Processor) medianFilter(img *image.NRGBA, a transform.Args) (*image.NRGBA, error) {
	size := a.Int("size")
	if size%2 == 0 {
		size++
	}
	r := size / 2
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	window := make([]uint8, 0, size*size)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			di := out.PixOffset(x, y)
			for ch := 0; ch < 3; ch++ {
				window = window[:0]
				for dy := -r; dy <= r; dy++ {
					sy := clampInt(y+dy, 0, h-1)
					for dx := -r; dx <= r; dx++ {
						sx := clampInt(x+dx, 0, w-1)
						window = append(window, img.Pix[img.PixOffset(b.Min.X+sx, b.Min.Y+sy)+ch])
					}
				}
				out.Pix[di+ch] = median(window)
			}
			out.Pix[di+3] = img.Pix[img.PixOffset(b.Min.X+x, b.Min.Y+y)+3]
		}
	}
	return out, nil
}

// blend computes base + factor*(img-base) per color channel, keeping the
// alpha of img. Both images must share their bounds.
func blend(base, img *image.NRGBA, factor float64) *image.NRGBA {
	out := imaging.Clone(img)
	for i := 0; i+3 < len(out.Pix) && i+3 < len(base.Pix); i += 4 {
		for ch := 0; ch < 3; ch++ {
			out.Pix[i+ch] = mix(float64(base.Pix[i+ch]), float64(img.Pix[i+ch]), factor)
		}
	}
	return out
}

func mix(base, v, factor float64) uint8 {
	return clampByte(base + factor*(v-base))
}

func scale(v uint8, f float64) uint8 {
	return clampByte(float64(v) * f)
}

func clampByte(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v + 0.5)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func meanLuminance(img *image.NRGBA) float64 {
	hist := imaging.Histogram(img)
	var mean float64
	for v, share := range hist {
		mean += float64(v) * share
	}
	return math.Round(mean)
}

func channelHistograms(img *image.NRGBA) [3][256]int {
	var hist [3][256]int
	for i := 0; i+3 < len(img.Pix); i += 4 {
		hist[0][img.Pix[i]]++
		hist[1][img.Pix[i+1]]++
		hist[2][img.Pix[i+2]]++
	}
	return hist
}

func histogramBounds(h [256]int, cutoff float64) (lo, hi int) {
	total := 0
	for _, n := range h {
		total += n
	}
	cut := int(float64(total) * cutoff / 100)

	lo, acc := 0, 0
	for ; lo < 256; lo++ {
		acc += h[lo]
		if acc > cut {
			break
		}
	}
	hi, acc = 255, 0
	for ; hi >= 0; hi-- {
		acc += h[hi]
		if acc > cut {
			break
		}
	}
	return lo, hi
}

func applyLUT(img *image.NRGBA, luts [3][256]uint8) *image.NRGBA {
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		return color.NRGBA{R: luts[0][c.R], G: luts[1][c.G], B: luts[2][c.B], A: c.A}
	})
}

func median(vals []uint8) uint8 {
	var counts [256]int
	for _, v := range vals {
		counts[v]++
	}
	mid := len(vals) / 2
	seen := 0
	for v := 0; v < 256; v++ {
		seen += counts[v]
		if seen > mid {
			return uint8(v)
		}
	}
	return 0
}
