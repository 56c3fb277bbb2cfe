// Package parser turns raw model output into decoded JSON. The Cleaner
// strips everything around the JSON payload and the RecoveryParser repairs
// payloads that still fail to decode.
package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"respguard/internal"
	"respguard/logger"
	"respguard/types"
)

// Transformation names reported in CleanResult.Applied
const (
	TransformProseToJSON         = "prose-to-json"
	TransformExtractFinal        = "extract-final-channel"
	TransformRemoveCodeFences    = "remove-code-fences"
	TransformExtractJSONObject   = "extract-json-object"
	TransformNormalizeWhitespace = "normalize-whitespace"
	TransformStripComments       = "strip-comments"
	TransformTrailingCommas      = "remove-trailing-commas"
)

// CleaningStrategy is one text rewrite. Apply runs only when Matches holds.
type CleaningStrategy struct {
	Name     string
	Priority int
	Matches  func(text string) bool
	Apply    func(text string) string
}

// CleanResult is the cleaned text plus the strategies that fired, in order
type CleanResult struct {
	Text    string
	Applied []string
}

// Cleaner applies its strategies cumulatively in descending priority order
type Cleaner struct {
	mu         sync.RWMutex
	strategies []CleaningStrategy
	prose      *ProseConverter
	logger     logger.Sink
}

// CleanerOption configures a Cleaner
type CleanerOption func(*Cleaner)

// WithProseConverter replaces the default prose converter
func WithProseConverter(p *ProseConverter) CleanerOption {
	return func(c *Cleaner) {
		if p != nil {
			c.prose = p
		}
	}
}

// WithCleanerLogger attaches a log sink
func WithCleanerLogger(l logger.Sink) CleanerOption {
	return func(c *Cleaner) {
		c.logger = logger.OrNop(l)
	}
}

// NewCleaner creates a Cleaner loaded with the built-in strategies
func NewCleaner(opts ...CleanerOption) *Cleaner {
	c := &Cleaner{
		prose:  NewProseConverter(DefaultProseMarkerThreshold, DefaultMaxSuggestions),
		logger: logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	for _, s := range builtinCleaningStrategies() {
		c.Register(s)
	}
	return c
}

// Register adds a strategy. Equal priorities keep registration order.
func (c *Cleaner) Register(s CleaningStrategy) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.strategies = append(c.strategies, s)
	sort.SliceStable(c.strategies, func(i, j int) bool {
		return c.strategies[i].Priority > c.strategies[j].Priority
	})
}

// Strategies returns the registered strategy names in execution order
func (c *Cleaner) Strategies() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.strategies))
	for _, s := range c.strategies {
		names = append(names, s.Name)
	}
	return names
}

// Clean rewrites raw model output into text that should decode as JSON.
// Prose analyses are converted to a JSON record first.
func (c *Cleaner) Clean(ctx context.Context, raw string) (CleanResult, error) {
	requestID := internal.GetRequestID(ctx)
	if strings.TrimSpace(raw) == "" {
		return CleanResult{}, types.ErrEmptyResponse
	}

	text := raw
	var applied []string

	if markers := c.prose.MarkerCount(proseCandidate(text)); markers >= c.prose.threshold {
		encoded, err := json.Marshal(c.prose.Convert(text))
		if err != nil {
			return CleanResult{}, fmt.Errorf("%w: encode prose record: %w", types.ErrCleaning, err)
		}
		text = string(encoded)
		applied = append(applied, TransformProseToJSON)
		c.logger.Info(logger.ComponentCleaner, logger.CategoryTransformation, requestID,
			"Converted prose analysis to JSON", map[string]interface{}{
				"markers":         markers,
				"original_length": len(raw),
			})
	}

	c.mu.RLock()
	strategies := make([]CleaningStrategy, len(c.strategies))
	copy(strategies, c.strategies)
	c.mu.RUnlock()

	for _, s := range strategies {
		if s.Matches == nil || s.Apply == nil || !s.Matches(text) {
			continue
		}
		before := len(text)
		text = s.Apply(text)
		applied = append(applied, s.Name)
		c.logger.Debug(logger.ComponentCleaner, logger.CategoryTransformation, requestID,
			"Applied cleaning strategy", map[string]interface{}{
				"strategy":      s.Name,
				"length_before": before,
				"length_after":  len(text),
			})
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return CleanResult{Applied: applied}, fmt.Errorf("%w: nothing left after %s", types.ErrCleaning, strings.Join(applied, ", "))
	}
	return CleanResult{Text: text, Applied: applied}, nil
}

var (
	fencedBlock      = regexp.MustCompile("(?s)```[A-Za-z0-9_-]*[ \\t]*\\n?(.*?)```")
	openingFence     = regexp.MustCompile("(?m)^[ \\t]*```[A-Za-z0-9_-]*[ \\t]*$\\n?")
	trailingComma    = regexp.MustCompile(`,(\s*[}\]])`)
	horizontalSpaces = regexp.MustCompile(`[ \t\r\f\v]+`)
	blankLines       = regexp.MustCompile(`\n\s*\n`)
)

func builtinCleaningStrategies() []CleaningStrategy {
	return []CleaningStrategy{
		{
			Name:     TransformExtractFinal,
			Priority: 110,
			Matches:  IsChannelFormat,
			Apply:    extractFinalChannel,
		},
		{
			Name:     TransformRemoveCodeFences,
			Priority: 100,
			Matches: func(text string) bool {
				return strings.Contains(text, "```")
			},
			Apply: removeCodeFences,
		},
		{
			Name:     TransformExtractJSONObject,
			Priority: 90,
			Matches: func(text string) bool {
				trimmed := strings.TrimSpace(text)
				start := strings.IndexByte(trimmed, '{')
				if start < 0 || strings.HasPrefix(trimmed, "[") {
					return false
				}
				end := matchObject(trimmed, start)
				return start > 0 || (end > 0 && end != len(trimmed))
			},
			Apply: extractJSONObject,
		},
		{
			Name:     TransformNormalizeWhitespace,
			Priority: 80,
			Matches: func(text string) bool {
				return text != strings.TrimSpace(text) || anyOutsideStrings(text, func(seg string) bool {
					return blankLines.MatchString(seg) || strings.Contains(seg, "  ") || strings.ContainsAny(seg, "\t\r")
				})
			},
			Apply: normalizeWhitespace,
		},
		{
			Name:     TransformStripComments,
			Priority: 70,
			Matches: func(text string) bool {
				return anyOutsideStrings(text, func(seg string) bool {
					return strings.Contains(seg, "//") || strings.Contains(seg, "/*")
				})
			},
			Apply: func(text string) string {
				return normalizeWhitespace(stripComments(text))
			},
		},
		{
			Name:     TransformTrailingCommas,
			Priority: 60,
			Matches: func(text string) bool {
				return anyOutsideStrings(text, trailingComma.MatchString)
			},
			Apply: func(text string) string {
				return mapOutsideStrings(text, func(seg string) string {
					return trailingComma.ReplaceAllString(seg, "$1")
				})
			},
		},
	}
}

// proseCandidate is the part of text that may hold prose markers: the
// unfenced final channel, minus its first balanced object. A body that
// opens with a bracket is an object, even an unquoted or truncated one.
func proseCandidate(text string) string {
	if IsChannelFormat(text) {
		text = extractFinalChannel(text)
	}
	if strings.Contains(text, "```") {
		text = removeCodeFences(text)
	}
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "{") || strings.HasPrefix(text, "[") {
		return ""
	}
	if obj, ok := firstBalancedObject(text); ok {
		text = strings.Replace(text, obj, "\n", 1)
	}
	return text
}

// removeCodeFences keeps the body of the first fenced block that looks like
// JSON. A fence left open by a truncated response is simply dropped.
func removeCodeFences(text string) string {
	blocks := fencedBlock.FindAllStringSubmatch(text, -1)
	for _, block := range blocks {
		if strings.Contains(block[1], "{") {
			return strings.TrimSpace(block[1])
		}
	}
	if len(blocks) > 0 {
		return strings.TrimSpace(blocks[0][1])
	}
	text = openingFence.ReplaceAllString(text, "")
	return strings.TrimSpace(strings.ReplaceAll(text, "```", ""))
}

// extractJSONObject keeps the first balanced object. When the object never
// closes everything from its opening brace on is kept for bracket repair.
func extractJSONObject(text string) string {
	if obj, ok := firstBalancedObject(text); ok {
		return obj
	}
	if start := strings.IndexByte(text, '{'); start >= 0 {
		return text[start:]
	}
	return text
}

// normalizeWhitespace collapses blank lines and runs of spaces outside strings
func normalizeWhitespace(text string) string {
	text = mapOutsideStrings(text, func(seg string) string {
		seg = horizontalSpaces.ReplaceAllString(seg, " ")
		seg = blankLines.ReplaceAllString(seg, "\n")
		return strings.ReplaceAll(seg, " \n", "\n")
	})
	return strings.TrimSpace(text)
}
