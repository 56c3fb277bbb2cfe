package types

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// IssueKind classifies why a value failed its shape
type IssueKind string

const (
	IssueInvalidType IssueKind = "invalid_type"
	IssueInvalidEnum IssueKind = "invalid_enum"
	IssueMissing     IssueKind = "missing"
)

// Issue is a vendor-neutral description of one validation failure
type Issue struct {
	FieldPath []string  `json:"fieldPath"`
	Kind      IssueKind `json:"kind"`
	Expected  string    `json:"expected,omitempty"`
	Received  string    `json:"received,omitempty"`
}

// Field returns the top-level field the issue refers to, or "" for the root
func (i Issue) Field() string {
	if len(i.FieldPath) == 0 {
		return ""
	}
	return i.FieldPath[0]
}

func (i Issue) String() string {
	path := strings.Join(i.FieldPath, ".")
	if path == "" {
		path = "<root>"
	}
	switch {
	case i.Expected != "" && i.Received != "":
		return fmt.Sprintf("%s: %s (expected %s, received %s)", path, i.Kind, i.Expected, i.Received)
	case i.Expected != "":
		return fmt.Sprintf("%s: %s (expected %s)", path, i.Kind, i.Expected)
	}
	return fmt.Sprintf("%s: %s", path, i.Kind)
}

// Shape is the target a parsed value must conform to. Validate returns nil
// when the value is accepted.
type Shape interface {
	Name() string
	Validate(value any) []Issue
}

// Schema is a small JSON-schema-like Shape
type Schema struct {
	Title      string             `json:"title,omitempty" yaml:"title,omitempty"`
	Type       string             `json:"type" yaml:"type"`
	Properties map[string]*Schema `json:"properties,omitempty" yaml:"properties,omitempty"`
	Required   []string           `json:"required,omitempty" yaml:"required,omitempty"`
	Items      *Schema            `json:"items,omitempty" yaml:"items,omitempty"`
	Enum       []string           `json:"enum,omitempty" yaml:"enum,omitempty"`
	Minimum    *float64           `json:"minimum,omitempty" yaml:"minimum,omitempty"`
	Maximum    *float64           `json:"maximum,omitempty" yaml:"maximum,omitempty"`
}

// Name implements Shape
func (s *Schema) Name() string {
	if s.Title != "" {
		return s.Title
	}
	return s.Type
}

// FieldType returns the declared type of a top-level property, used as the
// target type hint for transformers
func (s *Schema) FieldType(field string) string {
	if s == nil || s.Properties == nil {
		return ""
	}
	if prop, ok := s.Properties[field]; ok && prop != nil {
		return prop.Type
	}
	return ""
}

// Validate implements Shape
func (s *Schema) Validate(value any) []Issue {
	var issues []Issue
	s.validate(nil, value, &issues)
	return issues
}

func (s *Schema) validate(path []string, value any, issues *[]Issue) {
	if s == nil {
		return
	}

	if value == nil {
		*issues = append(*issues, Issue{
			FieldPath: clonePath(path),
			Kind:      IssueInvalidType,
			Expected:  s.Type,
			Received:  "null",
		})
		return
	}

	switch s.Type {
	case "object":
		obj, ok := value.(map[string]any)
		if !ok {
			*issues = append(*issues, typeIssue(path, s.Type, value))
			return
		}
		for _, name := range s.Required {
			if _, exists := obj[name]; !exists {
				expected := ""
				if prop := s.Properties[name]; prop != nil {
					expected = prop.Type
				}
				*issues = append(*issues, Issue{
					FieldPath: appendPath(path, name),
					Kind:      IssueMissing,
					Expected:  expected,
					Received:  "undefined",
				})
			}
		}
		for _, name := range sortedKeys(s.Properties) {
			fieldValue, exists := obj[name]
			if !exists {
				continue
			}
			s.Properties[name].validate(appendPath(path, name), fieldValue, issues)
		}

	case "array":
		arr, ok := value.([]any)
		if !ok {
			*issues = append(*issues, typeIssue(path, s.Type, value))
			return
		}
		if s.Items != nil {
			for i, item := range arr {
				s.Items.validate(appendPath(path, strconv.Itoa(i)), item, issues)
			}
		}

	case "string":
		str, ok := value.(string)
		if !ok {
			*issues = append(*issues, typeIssue(path, s.Type, value))
			return
		}
		if len(s.Enum) > 0 && !containsString(s.Enum, str) {
			*issues = append(*issues, Issue{
				FieldPath: clonePath(path),
				Kind:      IssueInvalidEnum,
				Expected:  strings.Join(s.Enum, "|"),
				Received:  str,
			})
		}

	case "integer", "number":
		num, ok := ToFloat(value)
		if !ok || (s.Type == "integer" && num != math.Trunc(num)) {
			*issues = append(*issues, typeIssue(path, s.Type, value))
			return
		}
		if (s.Minimum != nil && num < *s.Minimum) || (s.Maximum != nil && num > *s.Maximum) {
			*issues = append(*issues, Issue{
				FieldPath: clonePath(path),
				Kind:      IssueInvalidType,
				Expected:  fmt.Sprintf("%s in [%s, %s]", s.Type, bound(s.Minimum), bound(s.Maximum)),
				Received:  strconv.FormatFloat(num, 'f', -1, 64),
			})
		}

	case "boolean":
		if _, ok := value.(bool); !ok {
			*issues = append(*issues, typeIssue(path, s.Type, value))
		}
	}
}

// ToFloat reports the numeric value of JSON-decoded or Go-typed numbers
func ToFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// TypeName describes a decoded JSON value for issue messages
func TypeName(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, float32, int, int32, int64:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return fmt.Sprintf("%T", value)
}

func typeIssue(path []string, expected string, value any) Issue {
	return Issue{
		FieldPath: clonePath(path),
		Kind:      IssueInvalidType,
		Expected:  expected,
		Received:  TypeName(value),
	}
}

func bound(v *float64) string {
	if v == nil {
		return "*"
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func appendPath(path []string, elem string) []string {
	out := make([]string, len(path), len(path)+1)
	copy(out, path)
	return append(out, elem)
}

func clonePath(path []string) []string {
	if len(path) == 0 {
		return []string{}
	}
	return append([]string(nil), path...)
}

func sortedKeys(m map[string]*Schema) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
