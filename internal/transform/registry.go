// Package transform holds the catalog of supported transformations, their
// parameter schemas, and the conversions between wire forms and operations.
package transform

import (
	"math"
	"strings"

	"github.com/timkrebs/image-node/internal/models"
)

// Category groups kinds for the optional category ordering mode
type Category int

const (
	CategoryColor Category = iota
	CategoryGeometry
	CategoryEffects
	CategoryOther
)

func (c Category) String() string {
	switch c {
	case CategoryColor:
		return "color"
	case CategoryGeometry:
		return "geometry"
	case CategoryEffects:
		return "effects"
	default:
		return "other"
	}
}

// ParamSpec describes one parameter of a kind
type ParamSpec struct {
	Default models.Value
	Name    string
	Choices []string
	Min     float64
	Max     float64
	Type    models.ValueType
	Bounded bool
}

// Schema describes a transformation kind
type Schema struct {
	Kind     models.OperationKind
	Params   []ParamSpec
	Category Category
}

// Param returns the definition of parameter name
func (s Schema) Param(name string) (ParamSpec, bool) {
	for _, p := range s.Params {
		if p.Name == name {
			return p, true
		}
	}
	return ParamSpec{}, false
}

func intParam(name string, def int64, min, max float64) ParamSpec {
	return ParamSpec{Name: name, Type: models.ValueInt, Default: models.IntValue(def), Min: min, Max: max, Bounded: true}
}

func offsetParam(name string) ParamSpec {
	return ParamSpec{Name: name, Type: models.ValueInt, Default: models.IntValue(0)}
}

func floatParam(name string, def, min, max float64) ParamSpec {
	return ParamSpec{Name: name, Type: models.ValueFloat, Default: models.FloatValue(def), Min: min, Max: max, Bounded: true}
}

func levelParam(name string, def float64) ParamSpec {
	return floatParam(name, def, 0, 100)
}

func stringParam(name, def string, choices ...string) ParamSpec {
	return ParamSpec{Name: name, Type: models.ValueString, Default: models.StringValue(def), Choices: choices}
}

func boolParam(name string, def bool) ParamSpec {
	return ParamSpec{Name: name, Type: models.ValueBool, Default: models.BoolValue(def)}
}

// Colors understood by watermark and rotate fill
var Colors = []string{"white", "black", "red", "green", "blue", "transparent"}

var schemas = []Schema{
	{Kind: models.OperationGrayscale, Category: CategoryColor},
	{Kind: models.OperationResize, Category: CategoryGeometry, Params: []ParamSpec{
		intParam("width", 0, 0, 10000),
		intParam("height", 0, 0, 10000),
	}},
	{Kind: models.OperationCrop, Category: CategoryGeometry, Params: []ParamSpec{
		offsetParam("left"),
		offsetParam("top"),
		offsetParam("right"),
		offsetParam("bottom"),
	}},
	{Kind: models.OperationRotate, Category: CategoryGeometry, Params: []ParamSpec{
		floatParam("degrees", 0, -360, 360),
		boolParam("expand", true),
		stringParam("fill", "white", Colors...),
	}},
	{Kind: models.OperationReflect, Category: CategoryGeometry, Params: []ParamSpec{
		stringParam("axis", "horizontal", "horizontal", "vertical"),
	}},
	{Kind: models.OperationBlur, Category: CategoryEffects, Params: []ParamSpec{
		levelParam("level", 20),
	}},
	{Kind: models.OperationSharpen, Category: CategoryEffects, Params: []ParamSpec{
		levelParam("level", 100),
	}},
	{Kind: models.OperationBrightnessContrast, Category: CategoryColor, Params: []ParamSpec{
		levelParam("brightness", 50),
		levelParam("contrast", 50),
		levelParam("color", 50),
	}},
	{Kind: models.OperationSaturation, Category: CategoryColor, Params: []ParamSpec{
		levelParam("level", 50),
	}},
	{Kind: models.OperationWatermark, Category: CategoryOther, Params: []ParamSpec{
		stringParam("text", "Watermark"),
		offsetParam("x"),
		offsetParam("y"),
		intParam("font_size", 20, 6, 200),
		intParam("opacity", 128, 0, 255),
		stringParam("color", "white", Colors...),
	}},
	{Kind: models.OperationConvert, Category: CategoryOther, Params: []ParamSpec{
		stringParam("format", "JPEG"),
		intParam("quality", 0, 0, 100),
	}},
	{Kind: models.OperationAutocontrast, Category: CategoryColor, Params: []ParamSpec{
		floatParam("cutoff", 0, 0, 49),
	}},
	{Kind: models.OperationInvert, Category: CategoryColor},
	{Kind: models.OperationPosterize, Category: CategoryColor, Params: []ParamSpec{
		intParam("bits", 4, 1, 8),
	}},
	{Kind: models.OperationSolarize, Category: CategoryColor, Params: []ParamSpec{
		intParam("threshold", 128, 0, 255),
	}},
	{Kind: models.OperationEqualize, Category: CategoryColor},
	{Kind: models.OperationNoiseReduction, Category: CategoryEffects, Params: []ParamSpec{
		intParam("size", 3, 3, 7),
	}},
	{Kind: models.OperationEdgeEnhance, Category: CategoryEffects},
	{Kind: models.OperationEmboss, Category: CategoryEffects},
	{Kind: models.OperationFindEdges, Category: CategoryEffects},
}

var byKind = func() map[models.OperationKind]Schema {
	m := make(map[models.OperationKind]Schema, len(schemas))
	for _, s := range schemas {
		m[s.Kind] = s
	}
	return m
}()

// Lookup returns the schema for kind
func Lookup(kind models.OperationKind) (Schema, bool) {
	s, ok := byKind[kind]
	return s, ok
}

// Known reports whether kind is a supported transformation
func Known(kind models.OperationKind) bool {
	_, ok := byKind[kind]
	return ok
}

// Kinds lists supported kinds in catalog order
func Kinds() []models.OperationKind {
	out := make([]models.OperationKind, len(schemas))
	for i, s := range schemas {
		out[i] = s.Kind
	}
	return out
}

// CategoryOf returns the category of kind; unknown kinds are CategoryOther
func CategoryOf(kind models.OperationKind) Category {
	if s, ok := byKind[kind]; ok {
		return s.Category
	}
	return CategoryOther
}

// ParseKind normalizes a kind name. Unknown names are kept verbatim.
func ParseKind(name string) models.OperationKind {
	n := strings.ToLower(strings.TrimSpace(name))
	switch n {
	case "greyscale", "gray":
		n = string(models.OperationGrayscale)
	case "flip", "mirror":
		n = string(models.OperationReflect)
	case "brightness", "contrast":
		n = string(models.OperationBrightnessContrast)
	case "text":
		n = string(models.OperationWatermark)
	case "format":
		n = string(models.OperationConvert)
	case "denoise", "median":
		n = string(models.OperationNoiseReduction)
	}
	kind := models.OperationKind(n)
	if Known(kind) {
		return kind
	}
	return models.OperationKind(strings.TrimSpace(name))
}

// Args resolves an operation's parameters against its schema. Missing or
// unusable values fall back to defaults; bounded values are clamped.
type Args struct {
	op     models.Operation
	schema Schema
}

// Resolve binds op to its schema
func Resolve(op models.Operation) Args {
	s, _ := Lookup(op.Kind)
	return Args{op: op, schema: s}
}

// Has reports whether the client supplied name
func (a Args) Has(name string) bool {
	_, ok := a.op.Param(name)
	return ok
}

// Float returns the numeric parameter
func (a Args) Float(name string) float64 {
	spec, ok := a.schema.Param(name)
	def, _ := spec.Default.AsFloat()
	v := def
	if raw, present := a.op.Param(name); present {
		if f, ok := raw.AsFloat(); ok && !math.IsNaN(f) && !math.IsInf(f, 0) {
			v = f
		}
	}
	if ok && spec.Bounded {
		v = clamp(v, spec.Min, spec.Max)
	}
	return v
}

// Int returns the integer parameter, rounded
func (a Args) Int(name string) int {
	return int(math.Round(a.Float(name)))
}

// String returns the text parameter. Values outside the schema's choices
// fall back to the default.
func (a Args) String(name string) string {
	spec, _ := a.schema.Param(name)
	v := spec.Default.Str
	if raw, present := a.op.Param(name); present {
		if s := strings.TrimSpace(raw.AsString()); s != "" {
			v = s
		}
	}
	if len(spec.Choices) == 0 {
		return v
	}
	lv := strings.ToLower(v)
	for _, c := range spec.Choices {
		if c == lv {
			return c
		}
	}
	return spec.Default.Str
}

// Bool returns the boolean parameter
func (a Args) Bool(name string) bool {
	spec, _ := a.schema.Param(name)
	if raw, present := a.op.Param(name); present {
		if b, ok := raw.AsBool(); ok {
			return b
		}
	}
	return spec.Default.Bool
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
