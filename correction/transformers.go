package correction

import (
	"math"
	"strconv"
	"strings"

	"respguard/types"
)

// Transformer rewrites one field value before validation. Fields limits the
// transformer to the named top-level fields; an empty list means every field.
// The hint passed to both functions is the declared type of the field in the
// target shape, or "" when the shape does not declare one.
type Transformer struct {
	Name         string
	Priority     int
	Fields       []string
	CanTransform func(value any, hint string) bool
	Transform    func(value any, hint string) any
}

func (t Transformer) appliesTo(field string) bool {
	if len(t.Fields) == 0 {
		return true
	}
	for _, f := range t.Fields {
		if f == field {
			return true
		}
	}
	return false
}

// Built-in transformer names
const (
	TransformCoverage      = "coverage-normalizer"
	TransformBoolean       = "boolean-normalizer"
	TransformEnum          = "enum-normalizer"
	TransformArrayDefault  = "array-default"
	TransformStringDefault = "string-default"
)

func builtinTransformers() []Transformer {
	transformers := []Transformer{
		{
			Name:     TransformCoverage,
			Priority: 100,
			Fields:   []string{types.FieldCoverage},
			CanTransform: func(value any, _ string) bool {
				switch v := value.(type) {
				case string:
					return true
				case float64:
					return v != math.Trunc(v) || v < 0 || v > 100
				}
				return false
			},
			Transform: func(value any, _ string) any {
				coverage, _ := ParseCoverage(value)
				return coverage
			},
		},
		{
			Name:     TransformBoolean,
			Priority: 90,
			Fields:   []string{types.FieldTestsPresent},
			CanTransform: func(value any, _ string) bool {
				switch value.(type) {
				case string, float64:
					return true
				}
				return false
			},
			Transform: func(value any, _ string) any {
				return ParseBool(value)
			},
		},
		{
			Name:     TransformArrayDefault,
			Priority: 70,
			Fields:   []string{types.FieldIssues, types.FieldSuggestions},
			CanTransform: func(value any, _ string) bool {
				return value == nil
			},
			Transform: func(any, string) any {
				return []any{}
			},
		},
		{
			Name:     TransformStringDefault,
			Priority: 60,
			Fields:   []string{types.FieldSummary},
			CanTransform: func(value any, _ string) bool {
				return value == nil
			},
			Transform: func(any, string) any {
				return ""
			},
		},
	}
	for _, field := range []string{types.FieldGrade, types.FieldValue, types.FieldState} {
		transformers = append(transformers, Transformer{
			Name:     TransformEnum,
			Priority: 80,
			Fields:   []string{field},
			CanTransform: func(value any, _ string) bool {
				_, ok := value.(string)
				return ok
			},
			Transform: func(value any, _ string) any {
				return NormalizeEnum(field, value)
			},
		})
	}
	return transformers
}

// enumSets maps each enumerated analysis field to its closed set and casing
var enumSets = map[string]struct {
	values []string
	upper  bool
}{
	types.FieldGrade: {types.Grades, true},
	types.FieldValue: {types.ValueLevels, false},
	types.FieldState: {types.States, false},
}

// NormalizeEnum recases value for field and returns it when it belongs to the
// field's closed set. Anything else is returned untouched for the validator
// to reject.
func NormalizeEnum(field string, value any) any {
	s, ok := value.(string)
	set, known := enumSets[field]
	if !ok || !known {
		return value
	}
	candidate := strings.TrimSpace(s)
	if set.upper {
		candidate = strings.ToUpper(candidate)
	} else {
		candidate = strings.ToLower(candidate)
	}
	for _, allowed := range set.values {
		if candidate == allowed {
			return candidate
		}
	}
	return value
}

// ParseCoverage turns a number or a numeric/percent string into a whole
// percentage clamped to [0, 100]. Unparseable input yields 0 and false.
func ParseCoverage(value any) (float64, bool) {
	var n float64
	switch v := value.(type) {
	case string:
		cleaned := strings.Join(strings.Fields(v), "")
		cleaned = strings.TrimSuffix(cleaned, "%")
		parsed, err := strconv.ParseFloat(cleaned, 64)
		if err != nil || math.IsNaN(parsed) {
			return 0, false
		}
		n = parsed
	default:
		f, ok := types.ToFloat(value)
		if !ok || math.IsNaN(f) {
			return 0, false
		}
		n = f
	}
	return math.Max(0, math.Min(100, math.Round(n))), true
}

// ParseBool treats "true", "1" and "yes" (any case) and the number 1 as true.
// Everything else is false.
func ParseBool(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes":
			return true
		}
	case float64:
		return v == 1
	}
	return false
}
