package transform

import (
	"math"
	"reflect"
	"testing"

	"github.com/timkrebs/image-node/internal/models"
)

func TestParseValue(t *testing.T) {
	tests := []struct {
		in   string
		want models.Value
	}{
		{"true", models.BoolValue(true)},
		{"FALSE", models.BoolValue(false)},
		{"42", models.IntValue(42)},
		{"-7", models.IntValue(-7)},
		{"1.5", models.FloatValue(1.5)},
		{" 3.0 ", models.FloatValue(3)},
		{"abc", models.StringValue("abc")},
		{"(10,20)", models.StringValue("(10,20)")},
		{"1.2.3", models.StringValue("1.2.3")},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseValue(tt.in); got != tt.want {
				t.Errorf("ParseValue(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestLevelMapping(t *testing.T) {
	tests := []struct {
		level  float64
		factor float64
	}{
		{0, 0.1},
		{50, 1.0},
		{100, 2.0},
		{75, 1.5},
		{-10, 0.1},
		{150, 2.0},
	}

	for _, tt := range tests {
		if got := LevelToFactor(tt.level); math.Abs(got-tt.factor) > 1e-9 {
			t.Errorf("LevelToFactor(%v) = %v, want %v", tt.level, got, tt.factor)
		}
	}

	for _, f := range []float64{0.1, 0.55, 1.0, 1.2, 2.0} {
		if got := LevelToFactor(FactorToLevel(f)); math.Abs(got-f) > 1e-3 {
			t.Errorf("round trip of factor %v = %v", f, got)
		}
	}

	if r := LevelToRadius(100); r != 10 {
		t.Errorf("LevelToRadius(100) = %v, want 10", r)
	}
	if l := RadiusToLevel(2); l != 20 {
		t.Errorf("RadiusToLevel(2) = %v, want 20", l)
	}
	if l := RadiusToLevel(50); l != 100 {
		t.Errorf("RadiusToLevel(50) = %v, want clamped 100", l)
	}
}

func TestArgs_DefaultsAndClamping(t *testing.T) {
	op := models.NewOperation(models.OperationWatermark, map[string]models.Value{
		"font_size": models.IntValue(5000),
		"opacity":   models.StringValue("not-a-number"),
		"color":     models.StringValue("PURPLE"),
	})
	a := Resolve(op)

	if got := a.Int("font_size"); got != 200 {
		t.Errorf("font_size = %d, want clamped 200", got)
	}
	if got := a.Int("opacity"); got != 128 {
		t.Errorf("opacity = %d, want default 128", got)
	}
	if got := a.String("color"); got != "white" {
		t.Errorf("color = %q, want default white", got)
	}
	if got := a.String("text"); got != "Watermark" {
		t.Errorf("text = %q, want default", got)
	}
}

func TestBuildOperation_Aliases(t *testing.T) {
	tests := []struct {
		name  string
		kind  string
		raw   map[string]string
		param string
		want  float64
	}{
		{"blur radius", "blur", map[string]string{"radius": "2"}, "level", 20},
		{"sharpen factor", "sharpen", map[string]string{"factor": "2.0"}, "level", 100},
		{"brightness multiplier", "brightness_contrast", map[string]string{"brightness": "1.2"}, "brightness", 60},
		{"brightness level", "brightness_contrast", map[string]string{"brightness": "70"}, "brightness", 70},
		{"fractional brightness level", "brightness_contrast", map[string]string{"brightness": "25.5"}, "brightness", 25.5},
		{"contrast multiplier", "brightness_contrast", map[string]string{"contrast": "1.2"}, "contrast", 60},
		{"contrast level", "brightness_contrast", map[string]string{"contrast": "75"}, "contrast", 75},
		{"neutral multiplier", "brightness_contrast", map[string]string{"brightness": "1"}, "brightness", 50},
		{"saturation level", "saturation", map[string]string{"level": "25.5"}, "level", 25.5},
		{"rotate angle", "rotate", map[string]string{"angle": "90"}, "degrees", 90},
		{"watermark position", "watermark", map[string]string{"position": "(15,25)"}, "y", 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := BuildOperation(tt.kind, tt.raw)
			if got := Resolve(op).Float(tt.param); got != tt.want {
				t.Errorf("%s = %v, want %v", tt.param, got, tt.want)
			}
		})
	}
}

func TestParseKind(t *testing.T) {
	if k := ParseKind(" Grayscale "); k != models.OperationGrayscale {
		t.Errorf("ParseKind = %q", k)
	}
	if k := ParseKind("flip"); k != models.OperationReflect {
		t.Errorf("ParseKind(flip) = %q", k)
	}
	if k := ParseKind("Sepia"); k != "Sepia" {
		t.Errorf("unknown kinds should be preserved, got %q", k)
	}
	if Known("Sepia") {
		t.Error("Sepia should not be known")
	}
}

func TestDecodeToken_Legacy(t *testing.T) {
	tests := []struct {
		tok   string
		kind  models.OperationKind
		check map[string]float64
	}{
		{"escala_grises", models.OperationGrayscale, nil},
		{"redimensionar_300x200", models.OperationResize, map[string]float64{"width": 300, "height": 200}},
		{"rotar_45°", models.OperationRotate, map[string]float64{"degrees": 45}},
		{"recortar_(10, 20, 110, 220)", models.OperationCrop, map[string]float64{"left": 10, "bottom": 220}},
		{"desenfocar_radio_2", models.OperationBlur, map[string]float64{"level": 20}},
		{"perfilar_factor_1.5", models.OperationSharpen, map[string]float64{"level": 75}},
		{"ajustar_brillo_50_contraste_70", models.OperationBrightnessContrast, map[string]float64{"brightness": 50, "contrast": 70}},
		{"ajustar_brillo_1.2_contraste_0.55", models.OperationBrightnessContrast, map[string]float64{"brightness": 60, "contrast": 25}},
		{"ajustar_brillo_1_contraste_1", models.OperationBrightnessContrast, map[string]float64{"brightness": 50, "contrast": 50}},
		{"ajustar_brillo_25.5_contraste_75", models.OperationBrightnessContrast, map[string]float64{"brightness": 25.5, "contrast": 75}},
		{"redimensionar_abc", models.OperationResize, map[string]float64{"width": 0, "height": 0}},
	}

	for _, tt := range tests {
		t.Run(tt.tok, func(t *testing.T) {
			op := DecodeToken(tt.tok)
			if op.Kind != tt.kind {
				t.Fatalf("Kind = %q, want %q", op.Kind, tt.kind)
			}
			a := Resolve(op)
			for name, want := range tt.check {
				if got := a.Float(name); got != want {
					t.Errorf("%s = %v, want %v", name, got, want)
				}
			}
		})
	}
}

func TestDecodeToken_Watermark(t *testing.T) {
	op := DecodeToken("insertar_texto_Hola Mundo")
	if op.Kind != models.OperationWatermark {
		t.Fatalf("Kind = %q", op.Kind)
	}
	if got := Resolve(op).String("text"); got != "Hola Mundo" {
		t.Errorf("text = %q, want Hola Mundo", got)
	}
}

func TestDecodeToken_Unknown(t *testing.T) {
	op := DecodeToken("teleport_3")
	if Known(op.Kind) {
		t.Errorf("Kind %q should be unknown", op.Kind)
	}
	if op.Kind != "teleport_3" {
		t.Errorf("unknown token should be preserved, got %q", op.Kind)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	ops := []models.Operation{
		models.NewOperation(models.OperationGrayscale, nil),
		BuildOperation("resize", map[string]string{"width": "50", "height": "40"}),
		BuildOperation("crop", map[string]string{"left": "1", "top": "2", "right": "30", "bottom": "40"}),
		BuildOperation("rotate", map[string]string{"degrees": "-12.5", "expand": "false"}),
		BuildOperation("reflect", map[string]string{"axis": "vertical"}),
		BuildOperation("blur", map[string]string{"level": "35"}),
		BuildOperation("brightness_contrast", map[string]string{"brightness": "60", "contrast": "40", "color": "80"}),
		models.NewOperation(models.OperationBrightnessContrast, map[string]models.Value{
			"brightness": models.IntValue(1), "contrast": models.IntValue(2),
		}),
		BuildOperation("convert", map[string]string{"format": "png", "quality": "70"}),
		BuildOperation("autocontrast", map[string]string{"cutoff": "2"}),
		BuildOperation("posterize", map[string]string{"bits": "3"}),
		BuildOperation("noise_reduction", map[string]string{"size": "5"}),
		models.NewOperation(models.OperationFindEdges, nil),
	}

	for _, op := range ops {
		tok := EncodeToken(op)
		back := DecodeToken(tok)
		if back.Kind != op.Kind {
			t.Errorf("%s: kind %q, want %q", tok, back.Kind, op.Kind)
			continue
		}
		if again := EncodeToken(back); again != tok {
			t.Errorf("token not stable: %q -> %q", tok, again)
		}
	}
}

func TestEncodeToken_Names(t *testing.T) {
	ops := []models.Operation{
		models.NewOperation(models.OperationGrayscale, nil),
		BuildOperation("resize", map[string]string{"width": "50", "height": "50"}),
	}
	if got := EncodeTokens(ops); got != "grayscale, resize_50x50" {
		t.Errorf("EncodeTokens = %q", got)
	}
}

func TestSplitTokens(t *testing.T) {
	got := SplitTokens("escala_grises, recortar_(0, 0, 100, 100),rotar_90°, ")
	want := []string{"escala_grises", "recortar_(0, 0, 100, 100)", "rotar_90°"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SplitTokens = %#v, want %#v", got, want)
	}
	if got := SplitTokens("   "); len(got) != 0 {
		t.Errorf("SplitTokens(blank) = %#v, want empty", got)
	}
}

func TestCategoryOf(t *testing.T) {
	if c := CategoryOf(models.OperationResize); c != CategoryGeometry {
		t.Errorf("resize category = %v", c)
	}
	if c := CategoryOf("whatever"); c != CategoryOther {
		t.Errorf("unknown category = %v", c)
	}
	if n := len(Kinds()); n != 20 {
		t.Errorf("Kinds() = %d entries, want 20", n)
	}
}
