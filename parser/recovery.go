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

// Recovery strategy names
const (
	RecoverQuoteFixing       = "quote-fixing"
	RecoverBracketBalancing  = "bracket-balancing"
	RecoverEscapeFixing      = "escape-fixing"
	RecoverPartialExtraction = "partial-extraction"
)

// RecoveryStrategy repairs text that failed to decode. Only the first
// strategy whose Matches holds is applied, followed by a single re-parse.
type RecoveryStrategy struct {
	Name     string
	Priority int
	Matches  func(text string, parseErr error) bool
	Apply    func(text string, parseErr error) string
}

// ParseOutcome is a successfully decoded value
type ParseOutcome struct {
	Value any
	// Strategy is the recovery strategy that produced Value, or "" when the
	// text decoded as-is
	Strategy string
	// Sentinel is set when no JSON could be salvaged and Value is the
	// {"error": ..., "fallback": true} placeholder
	Sentinel bool
}

// RecoveryParser decodes JSON and falls back to one repair attempt
type RecoveryParser struct {
	mu         sync.RWMutex
	strategies []RecoveryStrategy
	logger     logger.Sink
}

// NewRecoveryParser creates a parser loaded with the built-in strategies
func NewRecoveryParser(l logger.Sink) *RecoveryParser {
	p := &RecoveryParser{logger: logger.OrNop(l)}
	for _, s := range builtinRecoveryStrategies() {
		p.Register(s)
	}
	return p
}

// Register adds a strategy. Equal priorities keep registration order.
func (p *RecoveryParser) Register(s RecoveryStrategy) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.strategies = append(p.strategies, s)
	sort.SliceStable(p.strategies, func(i, j int) bool {
		return p.strategies[i].Priority > p.strategies[j].Priority
	})
}

// Parse decodes text, trying one recovery strategy if strict decoding fails.
// The returned *types.ParseError keeps the original text.
func (p *RecoveryParser) Parse(ctx context.Context, text string) (ParseOutcome, error) {
	requestID := internal.GetRequestID(ctx)

	var value any
	parseErr := json.Unmarshal([]byte(text), &value)
	if parseErr == nil {
		return ParseOutcome{Value: value}, nil
	}

	p.mu.RLock()
	strategies := make([]RecoveryStrategy, len(p.strategies))
	copy(strategies, p.strategies)
	p.mu.RUnlock()

	for _, s := range strategies {
		if s.Matches == nil || s.Apply == nil || !s.Matches(text, parseErr) {
			continue
		}

		repaired := s.Apply(text, parseErr)
		var recovered any
		if err := json.Unmarshal([]byte(repaired), &recovered); err != nil {
			p.logger.Warn(logger.ComponentParser, logger.CategoryRecovery, requestID,
				"JSON recovery failed", map[string]interface{}{
					"strategy":      s.Name,
					"parse_error":   parseErr.Error(),
					"reparse_error": err.Error(),
				})
			return ParseOutcome{}, &types.ParseError{Text: text, Strategy: s.Name, Err: err}
		}

		outcome := ParseOutcome{Value: recovered, Strategy: s.Name, Sentinel: isSentinel(recovered)}
		p.logger.Info(logger.ComponentParser, logger.CategoryRecovery, requestID,
			"Recovered malformed JSON", map[string]interface{}{
				"strategy":    s.Name,
				"parse_error": parseErr.Error(),
				"sentinel":    outcome.Sentinel,
			})
		return outcome, nil
	}

	return ParseOutcome{}, &types.ParseError{Text: text, Err: parseErr}
}

func isSentinel(value any) bool {
	obj, ok := value.(map[string]any)
	if !ok || len(obj) != 2 {
		return false
	}
	_, hasError := obj["error"]
	fallback, _ := obj["fallback"].(bool)
	return hasError && fallback
}

var unquotedKey = regexp.MustCompile(`([{,]\s*)([A-Za-z_$][\w$-]*)(\s*:)`)

func builtinRecoveryStrategies() []RecoveryStrategy {
	return []RecoveryStrategy{
		{
			Name:     RecoverQuoteFixing,
			Priority: 100,
			Matches: func(text string, _ error) bool {
				return anyOutsideStrings(text, func(seg string) bool {
					return strings.Contains(seg, "'") || unquotedKey.MatchString(seg)
				})
			},
			Apply: func(text string, _ error) string {
				return mapOutsideStrings(convertSingleQuotes(text), func(seg string) string {
					return unquotedKey.ReplaceAllString(seg, `$1"$2"$3`)
				})
			},
		},
		{
			Name:     RecoverBracketBalancing,
			Priority: 90,
			Matches: func(text string, _ error) bool {
				stack, openString := unclosedBrackets(text)
				return len(stack) > 0 || openString
			},
			Apply: func(text string, _ error) string {
				return balanceBrackets(text)
			},
		},
		{
			Name:     RecoverEscapeFixing,
			Priority: 80,
			Matches: func(text string, _ error) bool {
				_, changed := fixEscapes(text)
				return changed
			},
			Apply: func(text string, _ error) string {
				fixed, _ := fixEscapes(text)
				return fixed
			},
		},
		{
			Name:     RecoverPartialExtraction,
			Priority: 10,
			Matches: func(string, error) bool {
				return true
			},
			Apply: func(text string, parseErr error) string {
				if obj := longestBalancedObject(text); obj != "" {
					return obj
				}
				msg := "no JSON object found"
				if parseErr != nil {
					msg = fmt.Sprintf("%s: %v", msg, parseErr)
				}
				sentinel, _ := json.Marshal(map[string]any{"error": msg, "fallback": true})
				return string(sentinel)
			},
		},
	}
}

// convertSingleQuotes rewrites 'single quoted' strings as "double quoted"
// ones, escaping any double quotes they contain.
func convertSingleQuotes(s string) string {
	var out strings.Builder
	out.Grow(len(s))
	const (
		bare = iota
		inDouble
		inSingle
	)
	state := bare
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch state {
		case inDouble:
			out.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				state = bare
			}
		case inSingle:
			switch {
			case escaped:
				escaped = false
				if c == '\'' {
					out.WriteByte('\'')
				} else {
					out.WriteByte('\\')
					out.WriteByte(c)
				}
			case c == '\\':
				escaped = true
			case c == '"':
				out.WriteString(`\"`)
			case c == '\'':
				out.WriteByte('"')
				state = bare
			default:
				out.WriteByte(c)
			}
		default:
			switch c {
			case '"':
				state = inDouble
				out.WriteByte(c)
			case '\'':
				state = inSingle
				out.WriteByte('"')
			default:
				out.WriteByte(c)
			}
		}
	}
	if state == inSingle {
		out.WriteByte('"')
	}
	return out.String()
}

// balanceBrackets closes an unterminated string and every open bracket
func balanceBrackets(text string) string {
	stack, openString := unclosedBrackets(text)
	if openString {
		text += `"`
	}
	text = strings.TrimRight(text, " \t\r\n")
	text = strings.TrimSuffix(text, ",")
	if strings.HasSuffix(text, ":") {
		text += " null"
	}
	var closers strings.Builder
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			closers.WriteByte('}')
		} else {
			closers.WriteByte(']')
		}
	}
	return text + closers.String()
}

// fixEscapes doubles stray backslashes and escapes raw control characters
// inside strings
func fixEscapes(s string) (string, bool) {
	var out strings.Builder
	out.Grow(len(s) + 8)
	changed := false
	inString := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !inString {
			if c == '"' {
				inString = true
			}
			out.WriteByte(c)
			continue
		}
		switch {
		case c == '"':
			inString = false
			out.WriteByte(c)
		case c == '\\':
			if i+1 < len(s) && strings.IndexByte(`"\/bfnrtu`, s[i+1]) >= 0 {
				out.WriteByte(c)
				out.WriteByte(s[i+1])
				i++
			} else {
				out.WriteString(`\\`)
				changed = true
			}
		case c == '\n':
			out.WriteString(`\n`)
			changed = true
		case c == '\r':
			out.WriteString(`\r`)
			changed = true
		case c == '\t':
			out.WriteString(`\t`)
			changed = true
		case c < 0x20:
			fmt.Fprintf(&out, `\u%04x`, c)
			changed = true
		default:
			out.WriteByte(c)
		}
	}
	return out.String(), changed
}
