package models

import (
	"maps"
	"strconv"
	"strings"
)

// OperationKind identifies a transformation
type OperationKind string

const (
	OperationGrayscale          OperationKind = "grayscale"
	OperationResize             OperationKind = "resize"
	OperationCrop               OperationKind = "crop"
	OperationRotate             OperationKind = "rotate"
	OperationReflect            OperationKind = "reflect"
	OperationBlur               OperationKind = "blur"
	OperationSharpen            OperationKind = "sharpen"
	OperationBrightnessContrast OperationKind = "brightness_contrast"
	OperationSaturation         OperationKind = "saturation"
	OperationWatermark          OperationKind = "watermark"
	OperationConvert            OperationKind = "convert"
	OperationAutocontrast       OperationKind = "autocontrast"
	OperationInvert             OperationKind = "invert"
	OperationPosterize          OperationKind = "posterize"
	OperationSolarize           OperationKind = "solarize"
	OperationEqualize           OperationKind = "equalize"
	OperationNoiseReduction     OperationKind = "noise_reduction"
	OperationEdgeEnhance        OperationKind = "edge_enhance"
	OperationEmboss             OperationKind = "emboss"
	OperationFindEdges          OperationKind = "find_edges"
)

// ValueType tags the variant held by a Value
type ValueType int

const (
	ValueInt ValueType = iota
	ValueFloat
	ValueString
	ValueBool
)

func (t ValueType) String() string {
	switch t {
	case ValueInt:
		return "int"
	case ValueFloat:
		return "float"
	case ValueString:
		return "string"
	case ValueBool:
		return "bool"
	default:
		return "unknown"
	}
}

// Value is a typed operation parameter
type Value struct {
	Str   string
	Int   int64
	Float float64
	Type  ValueType
	Bool  bool
}

func IntValue(v int64) Value { return Value{Type: ValueInt, Int: v} }
func FloatValue(v float64) Value { return Value{Type: ValueFloat, Float: v} }
func StringValue(v string) Value { return Value{Type: ValueString, Str: v} }
func BoolValue(v bool) Value { return Value{Type: ValueBool, Bool: v} }

// AsFloat returns the numeric value of v. Strings are parsed leniently.
func (v Value) AsFloat() (float64, bool) {
	switch v.Type {
	case ValueInt:
		return float64(v.Int), true
	case ValueFloat:
		return v.Float, true
	case ValueString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// AsString renders v as text
func (v Value) AsString() string {
	switch v.Type {
	case ValueInt:
		return strconv.FormatInt(v.Int, 10)
	case ValueFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case ValueBool:
		return strconv.FormatBool(v.Bool)
	default:
		return v.Str
	}
}

// AsBool returns the boolean value of v
func (v Value) AsBool() (bool, bool) {
	switch v.Type {
	case ValueBool:
		return v.Bool, true
	case ValueInt:
		return v.Int != 0, true
	case ValueString:
		b, err := strconv.ParseBool(strings.TrimSpace(v.Str))
		return b, err == nil
	default:
		return false, false
	}
}

// Operation is one transformation request. It is immutable once built.
type Operation struct {
	params map[string]Value
	Kind   OperationKind
}

// NewOperation builds an operation, copying params
func NewOperation(kind OperationKind, params map[string]Value) Operation {
	var p map[string]Value
	if len(params) > 0 {
		p = maps.Clone(params)
	}
	return Operation{Kind: kind, params: p}
}

// Param returns the raw parameter value
func (o Operation) Param(name string) (Value, bool) {
	v, ok := o.params[name]
	return v, ok
}

// Params returns a copy of the parameter map
func (o Operation) Params() map[string]Value {
	return maps.Clone(o.params)
}

// Format is an image container format
type Format string

const (
	FormatJPEG Format = "JPEG"
	FormatPNG  Format = "PNG"
	FormatWEBP Format = "WEBP"
	FormatTIFF Format = "TIFF"
	FormatGIF  Format = "GIF"
	FormatBMP  Format = "BMP"
)

// ParseFormat normalizes a client or decoder supplied format name
func ParseFormat(s string) (Format, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "JPEG", "JPG":
		return FormatJPEG, true
	case "PNG":
		return FormatPNG, true
	case "WEBP":
		return FormatWEBP, true
	case "TIFF", "TIF":
		return FormatTIFF, true
	case "GIF":
		return FormatGIF, true
	case "BMP":
		return FormatBMP, true
	default:
		return "", false
	}
}

// SupportsAlpha reports whether the format can carry transparency
func (f Format) SupportsAlpha() bool {
	return f != FormatJPEG && f != FormatBMP
}
