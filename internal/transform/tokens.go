package transform

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/timkrebs/image-node/internal/models"
)

// EncodeToken renders op as its compact token. The token doubles as the
// name recorded in a result's applied-operation log.
func EncodeToken(op models.Operation) string {
	a := Resolve(op)
	switch op.Kind {
	case models.OperationResize:
		return fmt.Sprintf("resize_%dx%d", a.Int("width"), a.Int("height"))
	case models.OperationCrop:
		return fmt.Sprintf("crop_%d_%d_%d_%d", a.Int("left"), a.Int("top"), a.Int("right"), a.Int("bottom"))
	case models.OperationRotate:
		tok := "rotate_" + num(a.Float("degrees"))
		if !a.Bool("expand") {
			tok += "_fixed"
		}
		return tok
	case models.OperationReflect:
		return "reflect_" + a.String("axis")
	case models.OperationBlur, models.OperationSharpen, models.OperationSaturation:
		return string(op.Kind) + "_" + num(a.Float("level"))
	case models.OperationBrightnessContrast:
		tok := fmt.Sprintf("brightness_%d_contrast_%d", a.Int("brightness"), a.Int("contrast"))
		if c := a.Int("color"); c != 50 {
			tok += fmt.Sprintf("_color_%d", c)
		}
		return tok
	case models.OperationWatermark:
		return "watermark_" + a.String("text")
	case models.OperationConvert:
		tok := "convert_" + strings.ToUpper(a.String("format"))
		if q := a.Int("quality"); q > 0 {
			tok += fmt.Sprintf("_q%d", q)
		}
		return tok
	case models.OperationAutocontrast:
		if c := a.Float("cutoff"); c > 0 {
			return "autocontrast_" + num(c)
		}
		return "autocontrast"
	case models.OperationPosterize:
		return fmt.Sprintf("posterize_%d", a.Int("bits"))
	case models.OperationSolarize:
		return fmt.Sprintf("solarize_%d", a.Int("threshold"))
	case models.OperationNoiseReduction:
		return fmt.Sprintf("noise_reduction_%d", a.Int("size"))
	default:
		return string(op.Kind)
	}
}

// EncodeTokens joins the tokens of ops with ", "
func EncodeTokens(ops []models.Operation) string {
	toks := make([]string, len(ops))
	for i, op := range ops {
		toks[i] = EncodeToken(op)
	}
	return strings.Join(toks, ", ")
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

type tokenRule struct {
	re    *regexp.Regexp
	build func(m []string) models.Operation
}

func rule(pattern string, build func(m []string) models.Operation) tokenRule {
	return tokenRule{re: regexp.MustCompile(`(?i)^` + pattern + `$`), build: build}
}

func newOp(kind models.OperationKind, kv ...any) models.Operation {
	return models.NewOperation(kind, Normalize(kind, tokenParams(kv)))
}

// levelOp builds an operation whose values are already on the level scale
func levelOp(kind models.OperationKind, kv ...any) models.Operation {
	return models.NewOperation(kind, tokenParams(kv))
}

func tokenParams(kv []any) map[string]models.Value {
	params := make(map[string]models.Value, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		name := kv[i].(string)
		switch v := kv[i+1].(type) {
		case models.Value:
			params[name] = v
		case string:
			params[name] = ParseValue(v)
		}
	}
	return params
}

const (
	numRe = `([-+]?\d+(?:\.\d+)?)`
	intRe = `([-+]?\d+)`
)

var tokenRules = []tokenRule{
	rule(`resize_(\d+)x(\d+)`, func(m []string) models.Operation {
		return newOp(models.OperationResize, "width", m[1], "height", m[2])
	}),
	rule(`crop_`+intRe+`_`+intRe+`_`+intRe+`_`+intRe, func(m []string) models.Operation {
		return newOp(models.OperationCrop, "left", m[1], "top", m[2], "right", m[3], "bottom", m[4])
	}),
	rule(`rotate_`+numRe+`(_fixed)?`, func(m []string) models.Operation {
		return newOp(models.OperationRotate, "degrees", m[1], "expand", models.BoolValue(m[2] == ""))
	}),
	rule(`reflect_(horizontal|vertical)`, func(m []string) models.Operation {
		return newOp(models.OperationReflect, "axis", strings.ToLower(m[1]))
	}),
	rule(`(blur|sharpen|saturation)_`+numRe, func(m []string) models.Operation {
		return newOp(models.OperationKind(strings.ToLower(m[1])), "level", m[2])
	}),
	rule(`brightness_(\d+)_contrast_(\d+)(?:_color_(\d+))?`, func(m []string) models.Operation {
		if m[3] == "" {
			return levelOp(models.OperationBrightnessContrast, "brightness", m[1], "contrast", m[2])
		}
		return levelOp(models.OperationBrightnessContrast, "brightness", m[1], "contrast", m[2], "color", m[3])
	}),
	rule(`watermark_(.+)`, func(m []string) models.Operation {
		return newOp(models.OperationWatermark, "text", models.StringValue(m[1]))
	}),
	rule(`convert_([a-z]+)(?:_q(\d+))?`, func(m []string) models.Operation {
		if m[2] == "" {
			return newOp(models.OperationConvert, "format", models.StringValue(m[1]))
		}
		return newOp(models.OperationConvert, "format", models.StringValue(m[1]), "quality", m[2])
	}),
	rule(`autocontrast(?:_`+numRe+`)?`, func(m []string) models.Operation {
		if m[1] == "" {
			return newOp(models.OperationAutocontrast)
		}
		return newOp(models.OperationAutocontrast, "cutoff", m[1])
	}),
	rule(`posterize_(\d+)`, func(m []string) models.Operation {
		return newOp(models.OperationPosterize, "bits", m[1])
	}),
	rule(`solarize_(\d+)`, func(m []string) models.Operation {
		return newOp(models.OperationSolarize, "threshold", m[1])
	}),
	rule(`noise_reduction_(\d+)`, func(m []string) models.Operation {
		return newOp(models.OperationNoiseReduction, "size", m[1])
	}),

	// legacy node tokens
	rule(`escala_grises`, func([]string) models.Operation {
		return newOp(models.OperationGrayscale)
	}),
	rule(`redimensionar_(\d+)x(\d+)`, func(m []string) models.Operation {
		return newOp(models.OperationResize, "width", m[1], "height", m[2])
	}),
	rule(`recortar_\(\s*`+intRe+`\s*,\s*`+intRe+`\s*,\s*`+intRe+`\s*,\s*`+intRe+`\s*\)`, func(m []string) models.Operation {
		return newOp(models.OperationCrop, "left", m[1], "top", m[2], "right", m[3], "bottom", m[4])
	}),
	rule(`rotar_`+numRe+`°?`, func(m []string) models.Operation {
		return newOp(models.OperationRotate, "degrees", m[1])
	}),
	rule(`reflejar_(horizontal|vertical)`, func(m []string) models.Operation {
		return newOp(models.OperationReflect, "axis", strings.ToLower(m[1]))
	}),
	rule(`desenfocar_radio_`+numRe, func(m []string) models.Operation {
		return newOp(models.OperationBlur, "radius", m[1])
	}),
	rule(`perfilar_factor_`+numRe, func(m []string) models.Operation {
		return newOp(models.OperationSharpen, "factor", m[1])
	}),
	rule(`ajustar_brillo_`+numRe+`_contraste_`+numRe, func(m []string) models.Operation {
		return newOp(models.OperationBrightnessContrast, "brightness", m[1], "contrast", m[2])
	}),
	rule(`insertar_texto_(.+)`, func(m []string) models.Operation {
		return newOp(models.OperationWatermark, "text", models.StringValue(m[1]))
	}),
	rule(`convertir_a_(\w+)`, func(m []string) models.Operation {
		return newOp(models.OperationConvert, "format", models.StringValue(m[1]))
	}),
}

// token prefixes that identify a kind even when the arguments are unusable
var kindPrefixes = []struct {
	prefix string
	kind   models.OperationKind
}{
	{"escala_grises", models.OperationGrayscale},
	{"redimensionar", models.OperationResize},
	{"recortar", models.OperationCrop},
	{"rotar", models.OperationRotate},
	{"reflejar", models.OperationReflect},
	{"desenfocar", models.OperationBlur},
	{"perfilar", models.OperationSharpen},
	{"ajustar_brillo", models.OperationBrightnessContrast},
	{"insertar_texto", models.OperationWatermark},
	{"convertir", models.OperationConvert},
	{"brightness", models.OperationBrightnessContrast},
}

// DecodeToken parses one compact token. A token naming a known kind with
// unusable arguments yields that kind with default parameters; anything else
// yields an unknown pass-through operation.
func DecodeToken(tok string) models.Operation {
	tok = strings.TrimSpace(tok)
	for _, r := range tokenRules {
		if m := r.re.FindStringSubmatch(tok); m != nil {
			return r.build(m)
		}
	}

	lower := strings.ToLower(tok)
	for _, p := range kindPrefixes {
		if lower == p.prefix || strings.HasPrefix(lower, p.prefix+"_") {
			return models.NewOperation(p.kind, nil)
		}
	}
	// longest kind name first so noise_reduction is not read as something shorter
	var best models.OperationKind
	for _, k := range Kinds() {
		name := string(k)
		if (lower == name || strings.HasPrefix(lower, name+"_")) && len(name) > len(best) {
			best = k
		}
	}
	if best != "" {
		return models.NewOperation(best, nil)
	}
	return models.NewOperation(models.OperationKind(tok), nil)
}

// DecodeTokens parses a comma-joined token list
func DecodeTokens(list string) []models.Operation {
	toks := SplitTokens(list)
	ops := make([]models.Operation, 0, len(toks))
	for _, t := range toks {
		ops = append(ops, DecodeToken(t))
	}
	return ops
}

// SplitTokens splits list on commas that are not inside parentheses
func SplitTokens(list string) []string {
	var (
		out   []string
		depth int
		start int
	)
	flush := func(end int) {
		if t := strings.TrimSpace(list[start:end]); t != "" {
			out = append(out, t)
		}
	}
	for i, r := range list {
		switch r {
		case '(':
			depth++
		case ')':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				flush(i)
				start = i + 1
			}
		}
	}
	flush(len(list))
	return out
}
