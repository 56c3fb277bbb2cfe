package correction

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"respguard/types"
)

// RecoveryStrategy repairs a value that failed validation. Recover receives a
// private copy of the value and returns the repaired value plus descriptions
// of what it changed.
type RecoveryStrategy struct {
	Name       string
	Priority   int
	CanRecover func(issues []types.Issue, value map[string]any) bool
	Recover    func(issues []types.Issue, value map[string]any) (map[string]any, []string)
}

// Built-in recovery strategy names
const (
	RecoverTypeCoercion  = "type-coercion"
	RecoverMissingFields = "missing-field-defaults"
	RecoverPartial       = "partial-recovery"
)

// DefaultSummary is substituted for a missing summary
const DefaultSummary = "Analysis completed"

// analysisDefaults are the substitutes for missing analysis fields
func analysisDefaults() map[string]any {
	return map[string]any{
		types.FieldIssues:       []any{},
		types.FieldSuggestions:  []any{},
		types.FieldSummary:      DefaultSummary,
		types.FieldGrade:        "C",
		types.FieldCoverage:     0.0,
		types.FieldTestsPresent: false,
		types.FieldValue:        "medium",
		types.FieldState:        "warning",
	}
}

// Coercer converts an arbitrary value toward the type of one field
type Coercer func(value any) any

// analysisCoercers are harsher than the pre-validation transformers: they
// always produce a value of the right type.
func analysisCoercers() map[string]Coercer {
	return map[string]Coercer{
		types.FieldCoverage: func(value any) any {
			coverage, _ := ParseCoverage(value)
			return coverage
		},
		types.FieldTestsPresent: func(value any) any {
			return ParseBool(value)
		},
		types.FieldGrade: func(value any) any {
			return coerceEnum(types.FieldGrade, value)
		},
		types.FieldValue: func(value any) any {
			return coerceEnum(types.FieldValue, value)
		},
		types.FieldState: func(value any) any {
			return coerceEnum(types.FieldState, value)
		},
		types.FieldIssues:      coerceIssues,
		types.FieldSuggestions: coerceStringList,
		types.FieldSummary:     coerceString,
	}
}

var stateAliases = map[string]string{
	"passed":  "pass",
	"ok":      "pass",
	"success": "pass",
	"warn":    "warning",
	"failed":  "fail",
	"failure": "fail",
	"error":   "fail",
}

// coerceEnum normalizes case, then tries a leading-word or leading-letter
// match ("B+" -> "B", "High value" -> "high", "passed" -> "pass").
func coerceEnum(field string, value any) any {
	normalized := NormalizeEnum(field, value)
	s, ok := normalized.(string)
	if !ok {
		return normalized
	}
	set := enumSets[field]
	lower := strings.ToLower(strings.TrimSpace(s))
	if lower == "" {
		return value
	}
	if field == types.FieldState {
		if alias, ok := stateAliases[lower]; ok {
			return alias
		}
	}
	if set.upper {
		letter := strings.ToUpper(lower[:1])
		for _, allowed := range set.values {
			if letter == allowed {
				return allowed
			}
		}
		return value
	}
	word := strings.FieldsFunc(lower, func(r rune) bool {
		return r == ' ' || r == '-' || r == '_' || r == ','
	})
	for _, allowed := range set.values {
		if len(word) > 0 && word[0] == allowed {
			return allowed
		}
	}
	return value
}

func coerceIssues(value any) any {
	switch v := value.(type) {
	case nil:
		return []any{}
	case []any:
		out := make([]any, 0, len(v))
		for _, item := range v {
			out = append(out, coerceIssue(item))
		}
		return out
	case map[string]any:
		return []any{coerceIssue(v)}
	default:
		return []any{coerceIssue(v)}
	}
}

func coerceIssue(item any) any {
	switch v := item.(type) {
	case map[string]any:
		if _, ok := v["description"].(string); ok {
			return v
		}
		out := make(map[string]any, len(v)+1)
		for k, val := range v {
			out[k] = val
		}
		for _, key := range []string{"message", "text", "issue", "detail"} {
			if s, ok := v[key].(string); ok {
				out["description"] = s
				return out
			}
		}
		out["description"] = coerceString(v["description"])
		return out
	default:
		return map[string]any{
			"type":        "general",
			"severity":    "medium",
			"description": coerceString(v),
		}
	}
}

func coerceStringList(value any) any {
	switch v := value.(type) {
	case nil:
		return []any{}
	case []any:
		out := make([]any, 0, len(v))
		for _, item := range v {
			if item == nil {
				continue
			}
			out = append(out, coerceString(item))
		}
		return out
	case string:
		if strings.TrimSpace(v) == "" {
			return []any{}
		}
		return []any{v}
	default:
		return []any{coerceString(v)}
	}
}

func coerceString(value any) any {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case map[string]any, []any:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(encoded)
	default:
		return fmt.Sprint(v)
	}
}

// issueFields returns the distinct top-level fields named by issues, sorted
func issueFields(issues []types.Issue, keep func(types.Issue) bool) []string {
	seen := make(map[string]bool)
	var fields []string
	for _, issue := range issues {
		field := issue.Field()
		if field == "" || seen[field] || !keep(issue) {
			continue
		}
		seen[field] = true
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

func isMissing(issue types.Issue) bool {
	return issue.Kind == types.IssueMissing
}

func isMistyped(issue types.Issue) bool {
	return issue.Kind == types.IssueInvalidType || issue.Kind == types.IssueInvalidEnum
}

func (e *Engine) builtinRecoveries() []RecoveryStrategy {
	return []RecoveryStrategy{
		{
			Name:     RecoverTypeCoercion,
			Priority: 100,
			CanRecover: func(issues []types.Issue, _ map[string]any) bool {
				for _, field := range issueFields(issues, isMistyped) {
					if _, ok := e.coercer(field); ok {
						return true
					}
				}
				return false
			},
			Recover: func(issues []types.Issue, value map[string]any) (map[string]any, []string) {
				var applied []string
				for _, field := range issueFields(issues, isMistyped) {
					coerce, ok := e.coercer(field)
					if !ok {
						continue
					}
					value[field] = coerce(value[field])
					applied = append(applied, RecoverTypeCoercion+":"+field)
				}
				return value, applied
			},
		},
		{
			Name:     RecoverMissingFields,
			Priority: 90,
			CanRecover: func(issues []types.Issue, _ map[string]any) bool {
				for _, field := range issueFields(issues, isMissing) {
					if _, ok := e.fieldDefault(field); ok {
						return true
					}
				}
				return false
			},
			Recover: func(issues []types.Issue, value map[string]any) (map[string]any, []string) {
				var applied []string
				for _, field := range issueFields(issues, isMissing) {
					def, ok := e.fieldDefault(field)
					if !ok {
						continue
					}
					value[field] = def
					applied = append(applied, RecoverMissingFields+":"+field)
				}
				return value, applied
			},
		},
		{
			// Coerces and fills like the two strategies above; a field the
			// coercer cannot improve falls back to its default.
			Name:     RecoverPartial,
			Priority: 80,
			CanRecover: func(issues []types.Issue, _ map[string]any) bool {
				return len(issueFields(issues, func(types.Issue) bool { return true })) > 0
			},
			Recover: func(issues []types.Issue, value map[string]any) (map[string]any, []string) {
				var applied []string
				for _, field := range issueFields(issues, func(types.Issue) bool { return true }) {
					current, exists := value[field]
					if exists {
						if coerce, ok := e.coercer(field); ok {
							if coerced := coerce(current); !reflect.DeepEqual(coerced, current) {
								value[field] = coerced
								applied = append(applied, RecoverPartial+":coerce:"+field)
								continue
							}
						}
					}
					if def, ok := e.fieldDefault(field); ok {
						value[field] = def
						applied = append(applied, RecoverPartial+":default:"+field)
					}
				}
				return value, applied
			},
		},
	}
}
