package parser

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"respguard/types"
)

// DefaultProseMarkerThreshold is how many distinct analysis markers a text
// needs before it is treated as prose instead of JSON.
const DefaultProseMarkerThreshold = 2

// DefaultMaxSuggestions caps the bullet points lifted into suggestions
const DefaultMaxSuggestions = 5

// Markers are anchored at line start, so quoted JSON keys such as
// `"coverage": 85` never count.
const markerPrefix = `(?im)^[ \t>*#_-]*`

var (
	gradeMarker    = regexp.MustCompile(markerPrefix + `(?:overall\s+)?grade\**\s*[:=]\s*\**\s*([A-F])(?:[+-]|\b)`)
	coverageMarker = regexp.MustCompile(markerPrefix + `(?:test\s+|code\s+)?coverage[^:\n]{0,30}:\s*\**\s*(-?\d+(?:\.\d+)?)\s*%?`)
	testsMarker    = regexp.MustCompile(markerPrefix + `tests?\s+present\**\s*:\s*\**\s*(yes|no|true|false)\b`)
	valueMarker    = regexp.MustCompile(markerPrefix + `(?:business\s+)?value\**\s*:\s*\**\s*(high|medium|low)\b`)
	stateMarker    = regexp.MustCompile(markerPrefix + `(?:state|status)\**\s*:\s*\**\s*(pass|passed|warning|warn|fail|failed)\b`)
	summaryMarker  = regexp.MustCompile(markerPrefix + `summary\**\s*:\s*\**\s*(.+)$`)

	securitySection    = regexp.MustCompile(`(?ims)^[ \t>*#_-]*security[^:\n]{0,30}:\s*(.+?)(?:\n\s*\n|\z)`)
	performanceSection = regexp.MustCompile(`(?ims)^[ \t>*#_-]*performance[^:\n]{0,30}:\s*(.+?)(?:\n\s*\n|\z)`)

	bulletLine    = regexp.MustCompile(`(?m)^\s*(?:[-*•]|\d+[.)])\s+(.+)$`)
	firstSentence = regexp.MustCompile(`(?s)^(.+?[.!?])(?:\s|$)`)
	noneFound     = regexp.MustCompile(`(?i)\b(?:none|no\s+(?:issues|concerns|problems))\s+(?:were\s+)?(?:found|detected|identified)\b`)
	noneOnly      = regexp.MustCompile(`(?i)^(?:none|n/?a|no\s+(?:issues|concerns|problems))\W*$`)
)

var proseMarkers = []*regexp.Regexp{
	gradeMarker, coverageMarker, testsMarker, valueMarker, stateMarker, summaryMarker,
}

// ProseConverter turns a free-text code analysis into an analysis record
type ProseConverter struct {
	threshold      int
	maxSuggestions int
}

// NewProseConverter creates a converter. Non-positive arguments select the defaults.
func NewProseConverter(threshold, maxSuggestions int) *ProseConverter {
	if threshold <= 0 {
		threshold = DefaultProseMarkerThreshold
	}
	if maxSuggestions <= 0 {
		maxSuggestions = DefaultMaxSuggestions
	}
	return &ProseConverter{threshold: threshold, maxSuggestions: maxSuggestions}
}

// MarkerCount returns how many distinct analysis markers appear in text
func (p *ProseConverter) MarkerCount(text string) int {
	count := 0
	for _, marker := range proseMarkers {
		if marker.MatchString(text) {
			count++
		}
	}
	return count
}

// IsProse reports whether text reaches the marker threshold
func (p *ProseConverter) IsProse(text string) bool {
	return p.MarkerCount(text) >= p.threshold
}

// Convert extracts an analysis record from prose. Fields that are not found
// get conservative defaults, so the result always satisfies the analysis schema.
func (p *ProseConverter) Convert(text string) map[string]any {
	record := map[string]any{
		types.FieldGrade:        "C",
		types.FieldCoverage:     0,
		types.FieldTestsPresent: false,
		types.FieldValue:        "medium",
		types.FieldState:        "warning",
		types.FieldIssues:       []any{},
		types.FieldSuggestions:  []any{},
		types.FieldSummary:      "Analysis completed",
	}
	var found []string
	meaningful := false

	if m := gradeMarker.FindStringSubmatch(text); m != nil {
		grade := strings.ToUpper(m[1])
		record[types.FieldGrade] = grade
		found = append(found, "Grade "+grade)
		meaningful = true
	}
	if m := coverageMarker.FindStringSubmatch(text); m != nil {
		if n, err := strconv.ParseFloat(m[1], 64); err == nil {
			coverage := int(math.Max(0, math.Min(100, math.Round(n))))
			record[types.FieldCoverage] = coverage
			found = append(found, fmt.Sprintf("%d%% coverage", coverage))
			meaningful = true
		}
	}
	if m := testsMarker.FindStringSubmatch(text); m != nil {
		present := strings.EqualFold(m[1], "yes") || strings.EqualFold(m[1], "true")
		record[types.FieldTestsPresent] = present
		if present {
			found = append(found, "tests present")
		} else {
			found = append(found, "no tests detected")
		}
		meaningful = true
	}
	if m := valueMarker.FindStringSubmatch(text); m != nil {
		value := strings.ToLower(m[1])
		record[types.FieldValue] = value
		found = append(found, value+" business value")
	}
	if m := stateMarker.FindStringSubmatch(text); m != nil {
		state := normalizeState(m[1])
		record[types.FieldState] = state
		found = append(found, "state "+state)
	}

	record[types.FieldIssues] = p.extractIssues(text)
	record[types.FieldSuggestions] = p.extractSuggestions(text)

	switch {
	case summaryMarker.MatchString(text):
		record[types.FieldSummary] = strings.TrimSpace(strings.Trim(summaryMarker.FindStringSubmatch(text)[1], "*"))
	case len(found) > 0:
		record[types.FieldSummary] = strings.Join(found, ", ") + "."
	default:
		if m := firstSentence.FindStringSubmatch(strings.TrimSpace(text)); m != nil {
			record[types.FieldSummary] = truncate(m[1], 200)
		}
	}

	if !meaningful {
		record[types.FieldTestsPresent] = true
		record[types.FieldCoverage] = 50
	}
	return record
}

func (p *ProseConverter) extractIssues(text string) []any {
	issues := []any{}
	sections := []struct {
		kind     string
		severity string
		pattern  *regexp.Regexp
	}{
		{"security", "high", securitySection},
		{"performance", "medium", performanceSection},
	}
	for _, section := range sections {
		m := section.pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		description := strings.TrimSpace(m[1])
		if description == "" || noneFound.MatchString(description) || noneOnly.MatchString(description) {
			continue
		}
		issues = append(issues, map[string]any{
			"type":        section.kind,
			"severity":    section.severity,
			"description": truncate(description, 500),
		})
	}
	return issues
}

func (p *ProseConverter) extractSuggestions(text string) []any {
	suggestions := []any{}
	for _, m := range bulletLine.FindAllStringSubmatch(text, -1) {
		if len(suggestions) >= p.maxSuggestions {
			break
		}
		if p.MarkerCount(m[0]) > 0 {
			continue
		}
		item := strings.TrimSpace(strings.ReplaceAll(m[1], "**", ""))
		if len(item) <= 10 {
			continue
		}
		suggestions = append(suggestions, item)
	}
	return suggestions
}

func normalizeState(s string) string {
	switch strings.ToLower(s) {
	case "pass", "passed":
		return "pass"
	case "fail", "failed":
		return "fail"
	default:
		return "warning"
	}
}

// truncate cuts s to at most n bytes on a rune boundary
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return strings.TrimSpace(s[:n]) + "..."
}
