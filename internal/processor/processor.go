package processor

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/timkrebs/image-node/internal/models"
	"github.com/timkrebs/image-node/internal/transform"

	// decoders beyond the ones imaging registers
	_ "golang.org/x/image/webp"
)

var (
	// ErrImageDecode is returned when input bytes are not a readable image
	ErrImageDecode = errors.New("image decode failed")
	// ErrOperation is returned when a single operation cannot be applied
	ErrOperation = errors.New("operation failed")
	// ErrEncode is returned when the final image cannot be encoded
	ErrEncode = errors.New("image encode failed")
)

// Image is a decoded working image
type Image struct {
	Pixels *image.NRGBA
	// Native is the format the input was decoded from
	Native models.Format
}

// Width returns the image width in pixels
func (i *Image) Width() int { return i.Pixels.Bounds().Dx() }

// Height returns the image height in pixels
func (i *Image) Height() int { return i.Pixels.Bounds().Dy() }

func (i *Image) with(px *image.NRGBA) *Image {
	return &Image{Pixels: px, Native: i.Native}
}

// Codec decodes, transforms and encodes images
type Codec interface {
	Decode(data []byte) (*Image, error)
	Apply(img *Image, op models.Operation) (*Image, error)
	Encode(img *Image, format models.Format, quality int) ([]byte, error)
}

// Processor implements Codec on top of imaging
type Processor struct {
	watermark *watermarker
}

// New creates a new image processor. fontPath may be empty, in which case
// watermarks use the built-in face.
func New(fontPath string) *Processor {
	return &Processor{watermark: newWatermarker(fontPath)}
}

// Decode reads data into a working image
func (p *Processor) Decode(data []byte) (*Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrImageDecode)
	}
	img, name, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageDecode, err)
	}
	native, ok := models.ParseFormat(name)
	if !ok {
		native = models.FormatPNG
	}
	return &Image{Pixels: imaging.Clone(img), Native: native}, nil
}

// Apply runs one operation. Unknown kinds return img unchanged.
func (p *Processor) Apply(img *Image, op models.Operation) (*Image, error) {
	px, err := p.applyOperation(img.Pixels, op)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrOperation, op.Kind, err)
	}
	if px.Bounds().Empty() {
		return nil, fmt.Errorf("%w: %s produced an empty image", ErrOperation, op.Kind)
	}
	return img.with(px), nil
}

func (p *Processor) applyOperation(img *image.NRGBA, op models.Operation) (*image.NRGBA, error) {
	a := transform.Resolve(op)
	switch op.Kind {
	case models.OperationGrayscale:
		return imaging.Grayscale(img), nil
	case models.OperationResize:
		return p.resize(img, a)
	case models.OperationCrop:
		return p.crop(img, a)
	case models.OperationRotate:
		return p.rotate(img, a)
	case models.OperationReflect:
		return p.reflect(img, a)
	case models.OperationBlur:
		return p.blur(img, a)
	case models.OperationSharpen:
		return p.sharpen(img, a)
	case models.OperationBrightnessContrast:
		return p.brightnessContrast(img, a)
	case models.OperationSaturation:
		return p.saturation(img, a)
	case models.OperationWatermark:
		return p.watermark.draw(img, a)
	case models.OperationConvert:
		if _, ok := models.ParseFormat(a.String("format")); !ok {
			return nil, fmt.Errorf("unsupported format %q", a.String("format"))
		}
		return img, nil
	case models.OperationAutocontrast:
		return p.autocontrast(img, a)
	case models.OperationInvert:
		return imaging.Invert(img), nil
	case models.OperationPosterize:
		return p.posterize(img, a)
	case models.OperationSolarize:
		return p.solarize(img, a)
	case models.OperationEqualize:
		return p.equalize(img)
	case models.OperationNoiseReduction:
		return p.medianFilter(img, a)
	case models.OperationEdgeEnhance:
		return imaging.Convolve3x3(img, edgeEnhanceKernel, &imaging.ConvolveOptions{Normalize: true}), nil
	case models.OperationEmboss:
		return imaging.Convolve3x3(img, embossKernel, &imaging.ConvolveOptions{Bias: 128}), nil
	case models.OperationFindEdges:
		return imaging.Convolve3x3(img, findEdgesKernel, nil), nil
	default:
		return img, nil
	}
}

// ConvertTarget reports the format and quality requested by a convert
// operation. ok is false for other kinds or unknown formats.
func ConvertTarget(op models.Operation) (format models.Format, quality int, ok bool) {
	if op.Kind != models.OperationConvert {
		return "", 0, false
	}
	a := transform.Resolve(op)
	format, ok = models.ParseFormat(strings.ToUpper(a.String("format")))
	return format, a.Int("quality"), ok
}
