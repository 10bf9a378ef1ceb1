package processor

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/timkrebs/image-node/internal/models"
	"github.com/timkrebs/image-node/internal/transform"
)

// createTestImage creates a simple test image for testing
func createTestImage(width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	// Fill with a gradient pattern
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.NRGBA{
				R: uint8((x * 255) / width),
				G: uint8((y * 255) / height),
				B: 128,
				A: 255,
			})
		}
	}
	return img
}

// encodeTestImage encodes a test image to bytes
func encodeTestImage(t *testing.T, img image.Image, format string) []byte {
	t.Helper()
	var buf bytes.Buffer
	var err error
	switch format {
	case "jpeg":
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})
	case "png":
		err = png.Encode(&buf, img)
	default:
		t.Fatalf("unsupported format: %s", format)
	}
	if err != nil {
		t.Fatalf("failed to encode image: %v", err)
	}
	return buf.Bytes()
}

func op(kind models.OperationKind, params map[string]string) models.Operation {
	return transform.BuildOperation(string(kind), params)
}

func TestProcessor_Decode(t *testing.T) {
	p := New("")

	tests := []struct {
		name   string
		data   []byte
		native models.Format
		err    bool
	}{
		{"jpeg", encodeTestImage(t, createTestImage(40, 30), "jpeg"), models.FormatJPEG, false},
		{"png", encodeTestImage(t, createTestImage(40, 30), "png"), models.FormatPNG, false},
		{"garbage", []byte("definitely not an image"), "", true},
		{"empty", nil, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := p.Decode(tt.data)
			if tt.err {
				if !errors.Is(err, ErrImageDecode) {
					t.Fatalf("Decode() error = %v, want ErrImageDecode", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if img.Native != tt.native {
				t.Errorf("Native = %q, want %q", img.Native, tt.native)
			}
			if img.Width() != 40 || img.Height() != 30 {
				t.Errorf("Dimensions = %dx%d, want 40x30", img.Width(), img.Height())
			}
		})
	}
}

func TestProcessor_Apply_Geometry(t *testing.T) {
	p := New("")
	src := &Image{Pixels: createTestImage(200, 100), Native: models.FormatPNG}

	tests := []struct {
		name  string
		op    models.Operation
		wantW int
		wantH int
	}{
		{"resize", op(models.OperationResize, map[string]string{"width": "50", "height": "40"}), 50, 40},
		{"resize keeps zero axis", op(models.OperationResize, map[string]string{"width": "50"}), 50, 100},
		{"crop", op(models.OperationCrop, map[string]string{"left": "10", "top": "10", "right": "60", "bottom": "40"}), 50, 30},
		{"crop clamps to bounds", op(models.OperationCrop, map[string]string{"left": "150", "top": "50", "right": "999", "bottom": "999"}), 50, 50},
		{"rotate 90 expands", op(models.OperationRotate, map[string]string{"degrees": "90"}), 100, 200},
		{"rotate fixed canvas", op(models.OperationRotate, map[string]string{"degrees": "30", "expand": "false"}), 200, 100},
		{"reflect", op(models.OperationReflect, map[string]string{"axis": "vertical"}), 200, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := p.Apply(src, tt.op)
			if err != nil {
				t.Fatalf("Apply() error = %v", err)
			}
			if out.Width() != tt.wantW || out.Height() != tt.wantH {
				t.Errorf("Dimensions = %dx%d, want %dx%d", out.Width(), out.Height(), tt.wantW, tt.wantH)
			}
		})
	}
}

func TestProcessor_Apply_AllKinds(t *testing.T) {
	p := New("")
	src := &Image{Pixels: createTestImage(32, 32), Native: models.FormatPNG}

	for _, kind := range transform.Kinds() {
		t.Run(string(kind), func(t *testing.T) {
			out, err := p.Apply(src, models.NewOperation(kind, nil))
			if err != nil {
				t.Fatalf("Apply(%s) with defaults error = %v", kind, err)
			}
			if out.Pixels == nil || out.Pixels.Bounds().Empty() {
				t.Fatalf("Apply(%s) produced no pixels", kind)
			}
		})
	}
}

func TestProcessor_Apply_Failures(t *testing.T) {
	p := New("")
	src := &Image{Pixels: createTestImage(50, 50), Native: models.FormatPNG}

	bad := []models.Operation{
		op(models.OperationCrop, map[string]string{"left": "60", "top": "60", "right": "80", "bottom": "80"}),
		op(models.OperationConvert, map[string]string{"format": "XYZ"}),
	}
	for _, o := range bad {
		if _, err := p.Apply(src, o); !errors.Is(err, ErrOperation) {
			t.Errorf("Apply(%s) error = %v, want ErrOperation", transform.EncodeToken(o), err)
		}
	}
}

func TestProcessor_Apply_UnknownKindIsNoop(t *testing.T) {
	p := New("")
	src := &Image{Pixels: createTestImage(20, 20), Native: models.FormatPNG}

	out, err := p.Apply(src, models.NewOperation("sepia", nil))
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if out.Pixels != src.Pixels {
		t.Error("unknown kind should return the image unchanged")
	}
}

func TestProcessor_Grayscale(t *testing.T) {
	p := New("")
	src := &Image{Pixels: createTestImage(10, 10), Native: models.FormatPNG}

	out, err := p.Apply(src, models.NewOperation(models.OperationGrayscale, nil))
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	c := out.Pixels.NRGBAAt(7, 3)
	if c.R != c.G || c.G != c.B {
		t.Errorf("pixel %v is not gray", c)
	}
}

func TestProcessor_InvertAndPosterize(t *testing.T) {
	p := New("")
	px := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	px.SetNRGBA(0, 0, color.NRGBA{R: 200, G: 17, B: 0, A: 255})
	src := &Image{Pixels: px}

	out, _ := p.Apply(src, models.NewOperation(models.OperationInvert, nil))
	if c := out.Pixels.NRGBAAt(0, 0); c.R != 55 || c.G != 238 || c.B != 255 {
		t.Errorf("inverted = %v", c)
	}

	out, _ = p.Apply(src, op(models.OperationPosterize, map[string]string{"bits": "2"}))
	if c := out.Pixels.NRGBAAt(0, 0); c.R != 192 || c.G != 0 {
		t.Errorf("posterized = %v", c)
	}

	out, _ = p.Apply(src, op(models.OperationSolarize, map[string]string{"threshold": "100"}))
	if c := out.Pixels.NRGBAAt(0, 0); c.R != 55 || c.G != 17 {
		t.Errorf("solarized = %v", c)
	}
}

func TestProcessor_BrightnessNeutral(t *testing.T) {
	p := New("")
	src := &Image{Pixels: createTestImage(8, 8)}

	out, err := p.Apply(src, models.NewOperation(models.OperationBrightnessContrast, nil))
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if !bytes.Equal(out.Pixels.Pix, src.Pixels.Pix) {
		t.Error("neutral levels should leave pixels unchanged")
	}

	dark, _ := p.Apply(src, op(models.OperationBrightnessContrast, map[string]string{"brightness": "0"}))
	if c := dark.Pixels.NRGBAAt(7, 7); c.B > 20 {
		t.Errorf("level 0 brightness should darken, got %v", c)
	}
}

func TestProcessor_Watermark(t *testing.T) {
	p := New("")
	px := image.NewNRGBA(image.Rect(0, 0, 120, 40))
	for i := range px.Pix {
		px.Pix[i] = 255
		if i%4 != 3 {
			px.Pix[i] = 0
		}
	}
	src := &Image{Pixels: px}

	out, err := p.Apply(src, op(models.OperationWatermark, map[string]string{
		"text": "HELLO", "position": "(5,5)", "opacity": "255", "color": "white",
	}))
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if bytes.Equal(out.Pixels.Pix, px.Pix) {
		t.Error("watermark did not change any pixel")
	}
}

func TestProcessor_FontFallback(t *testing.T) {
	p := New("/nonexistent/font.ttf")
	if p.FontError() == nil {
		t.Error("expected a font error for a missing file")
	}
	src := &Image{Pixels: createTestImage(60, 20)}
	if _, err := p.Apply(src, op(models.OperationWatermark, map[string]string{"text": "x"})); err != nil {
		t.Errorf("watermark should fall back to the built-in face, got %v", err)
	}
}

func TestProcessor_Encode(t *testing.T) {
	p := New("")
	src := &Image{Pixels: createTestImage(30, 20)}

	formats := []models.Format{models.FormatJPEG, models.FormatPNG, models.FormatTIFF}
	if WEBPSupported() {
		formats = append(formats, models.FormatWEBP)
	}
	for _, f := range formats {
		t.Run(string(f), func(t *testing.T) {
			data, err := p.Encode(src, f, 80)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			back, err := p.Decode(data)
			if err != nil {
				t.Fatalf("Decode(Encode()) error = %v", err)
			}
			if back.Native != f {
				t.Errorf("Native = %q, want %q", back.Native, f)
			}
			if back.Width() != 30 || back.Height() != 20 {
				t.Errorf("decoded size = %dx%d, want 30x20", back.Width(), back.Height())
			}
		})
	}

	if _, err := p.Encode(src, "XYZ", 80); !errors.Is(err, ErrEncode) {
		t.Errorf("Encode(XYZ) error = %v, want ErrEncode", err)
	}
}

func TestProcessor_EncodeJPEGFlattensOntoWhite(t *testing.T) {
	p := New("")
	src := &Image{Pixels: image.NewNRGBA(image.Rect(0, 0, 16, 16))} // fully transparent

	data, err := p.Encode(src, models.FormatJPEG, 95)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	back, err := p.Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	c := back.Pixels.NRGBAAt(8, 8)
	if c.R < 245 || c.G < 245 || c.B < 245 {
		t.Errorf("pixel = %v, want white", c)
	}
}
