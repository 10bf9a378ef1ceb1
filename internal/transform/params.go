package transform

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/timkrebs/image-node/internal/models"
)

// Client levels run 0..100. 50 is neutral for multiplier-style parameters.
const (
	MinFactor = 0.1
	MaxFactor = 2.0
	MaxRadius = 10.0
)

// LevelToFactor maps a 0..100 level onto a 0.1..2.0 multiplier (50 -> 1.0)
func LevelToFactor(level float64) float64 {
	level = clamp(level, 0, 100)
	if level <= 50 {
		return 1 - (1-MinFactor)*(50-level)/50
	}
	return 1 + (MaxFactor-1)*(level-50)/50
}

// FactorToLevel is the inverse of LevelToFactor
func FactorToLevel(f float64) float64 {
	f = clamp(f, MinFactor, MaxFactor)
	if f <= 1 {
		return round3((f - MinFactor) / (1 - MinFactor) * 50)
	}
	return round3(50 + (f-1)/(MaxFactor-1)*50)
}

// LevelToRadius maps a 0..100 level onto a 0..10 blur radius
func LevelToRadius(level float64) float64 {
	return clamp(level, 0, 100) / 100 * MaxRadius
}

// RadiusToLevel is the inverse of LevelToRadius
func RadiusToLevel(r float64) float64 {
	return round3(clamp(r, 0, MaxRadius) / MaxRadius * 100)
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

var (
	intPattern   = regexp.MustCompile(`^[-+]?\d+$`)
	floatPattern = regexp.MustCompile(`^[-+]?(\d+\.\d*|\.\d+)([eE][-+]?\d+)?$`)
	pointPattern = regexp.MustCompile(`^\(?\s*([-+]?\d+)\s*,\s*([-+]?\d+)\s*\)?$`)
)

// ParseValue infers the type of a textual parameter
func ParseValue(s string) models.Value {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "true":
		return models.BoolValue(true)
	case "false":
		return models.BoolValue(false)
	}
	if floatPattern.MatchString(s) {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return models.FloatValue(f)
		}
	}
	if intPattern.MatchString(s) {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return models.IntValue(i)
		}
	}
	return models.StringValue(s)
}

// BuildOperation turns a structured element (kind name and raw textual
// parameters) into a normalized operation.
func BuildOperation(kindName string, raw map[string]string) models.Operation {
	kind := ParseKind(kindName)
	params := make(map[string]models.Value, len(raw))
	for k, v := range raw {
		params[strings.ToLower(strings.TrimSpace(k))] = ParseValue(v)
	}
	return models.NewOperation(kind, Normalize(kind, params))
}

// Normalize rewrites parameter aliases and legacy scales into the canonical
// parameter set of kind. Values that cannot be interpreted are left in place;
// they fall back to defaults when resolved.
func Normalize(kind models.OperationKind, params map[string]models.Value) map[string]models.Value {
	out := make(map[string]models.Value, len(params))
	for k, v := range params {
		out[k] = v
	}

	switch kind {
	case models.OperationBlur:
		if r, ok := out["radius"]; ok {
			if f, ok := r.AsFloat(); ok && !has(out, "level") {
				out["level"] = models.FloatValue(RadiusToLevel(f))
			}
			delete(out, "radius")
		}

	case models.OperationSharpen:
		levelFromMultiplier(out, "level", "factor")

	case models.OperationSaturation:
		levelFromMultiplier(out, "level", "factor")

	case models.OperationBrightnessContrast:
		levelFromMultiplier(out, "brightness", "")
		levelFromMultiplier(out, "contrast", "")
		levelFromMultiplier(out, "color", "")

	case models.OperationRotate:
		rename(out, "angle", "degrees")

	case models.OperationReflect:
		rename(out, "direction", "axis")

	case models.OperationWatermark:
		if p, ok := out["position"]; ok {
			if m := pointPattern.FindStringSubmatch(p.AsString()); m != nil {
				x, _ := strconv.ParseInt(m[1], 10, 64)
				y, _ := strconv.ParseInt(m[2], 10, 64)
				out["x"] = models.IntValue(x)
				out["y"] = models.IntValue(y)
			}
			delete(out, "position")
		}

	case models.OperationConvert:
		if f, ok := out["format"]; ok {
			if format, ok := models.ParseFormat(f.AsString()); ok {
				out["format"] = models.StringValue(string(format))
			}
		}
	}
	return out
}

// levelFromMultiplier converts a multiplier into a whole level. A value
// passed under alias is always a multiplier. A number under name is read as
// a multiplier when it lies in [MinFactor, MaxFactor] and as a level
// otherwise, so 1 is neutral and 25.5 stays level 25.5.
func levelFromMultiplier(params map[string]models.Value, name, alias string) {
	if alias != "" {
		if v, ok := params[alias]; ok {
			if f, ok := v.AsFloat(); ok && !has(params, name) {
				params[name] = wholeLevel(FactorToLevel(f))
			}
			delete(params, alias)
		}
		return
	}
	v, ok := params[name]
	if !ok || (v.Type != models.ValueInt && v.Type != models.ValueFloat) {
		return
	}
	if f, _ := v.AsFloat(); f >= MinFactor && f <= MaxFactor {
		params[name] = wholeLevel(FactorToLevel(f))
	}
}

func wholeLevel(level float64) models.Value {
	return models.IntValue(int64(math.Round(level)))
}

func rename(params map[string]models.Value, from, to string) {
	if v, ok := params[from]; ok {
		if !has(params, to) {
			params[to] = v
		}
		delete(params, from)
	}
}

func has(params map[string]models.Value, name string) bool {
	_, ok := params[name]
	return ok
}
