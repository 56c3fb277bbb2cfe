package parser

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"respguard/types"
)

func TestParseValidJSON(t *testing.T) {
	outcome, err := NewRecoveryParser(nil).Parse(context.Background(), `{"grade":"A","coverage":85}`)
	require.NoError(t, err)
	assert.Empty(t, outcome.Strategy)
	assert.Equal(t, map[string]any{"grade": "A", "coverage": 85.0}, outcome.Value)
}

func TestParseRecoveryStrategies(t *testing.T) {
	tests := []struct {
		name         string
		input        string
		wantStrategy string
		want         any
	}{
		{
			name:         "single quotes and bare keys",
			input:        `{grade: 'A', coverage: 85}`,
			wantStrategy: RecoverQuoteFixing,
			want:         map[string]any{"grade": "A", "coverage": 85.0},
		},
		{
			name:         "single quoted value holding double quote",
			input:        `{'summary': 'says "hi"'}`,
			wantStrategy: RecoverQuoteFixing,
			want:         map[string]any{"summary": `says "hi"`},
		},
		{
			name:         "apostrophe inside double quoted string is left alone",
			input:        `{"summary": "it's fine", state: "pass"}`,
			wantStrategy: RecoverQuoteFixing,
			want:         map[string]any{"summary": "it's fine", "state": "pass"},
		},
		{
			name:         "truncated object",
			input:        `{"grade":"B","issues":[{"description":"x"}`,
			wantStrategy: RecoverBracketBalancing,
			want: map[string]any{
				"grade":  "B",
				"issues": []any{map[string]any{"description": "x"}},
			},
		},
		{
			name:         "truncated inside string",
			input:        `{"summary":"cut off mid`,
			wantStrategy: RecoverBracketBalancing,
			want:         map[string]any{"summary": "cut off mid"},
		},
		{
			name:         "dangling key",
			input:        `{"grade":"B","coverage":`,
			wantStrategy: RecoverBracketBalancing,
			want:         map[string]any{"grade": "B", "coverage": nil},
		},
		{
			name:         "invalid escapes",
			input:        `{"file":"C:\Users\dev\main.go"}`,
			wantStrategy: RecoverEscapeFixing,
			want:         map[string]any{"file": `C:\Users\dev\main.go`},
		},
		{
			name:         "raw newline in string",
			input:        "{\"summary\":\"line one\nline two\"}",
			wantStrategy: RecoverEscapeFixing,
			want:         map[string]any{"summary": "line one\nline two"},
		},
		{
			name:         "longest object wins",
			input:        `{"a":1} junk {"b":{"c":2}} trailing`,
			wantStrategy: RecoverPartialExtraction,
			want:         map[string]any{"b": map[string]any{"c": 2.0}},
		},
	}

	parser := NewRecoveryParser(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome, err := parser.Parse(context.Background(), tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStrategy, outcome.Strategy)
			assert.Equal(t, tt.want, outcome.Value)
			assert.False(t, outcome.Sentinel)
		})
	}
}

func TestParseSentinel(t *testing.T) {
	outcome, err := NewRecoveryParser(nil).Parse(context.Background(), "the model refused to answer")
	require.NoError(t, err)

	assert.Equal(t, RecoverPartialExtraction, outcome.Strategy)
	assert.True(t, outcome.Sentinel)
	obj := outcome.Value.(map[string]any)
	assert.Equal(t, true, obj["fallback"])
	assert.Contains(t, obj["error"], "no JSON object found")
}

func TestParseFailureKeepsOriginalText(t *testing.T) {
	input := `{"grade": "A", "cov`
	_, err := NewRecoveryParser(nil).Parse(context.Background(), input)
	require.Error(t, err)

	var parseErr *types.ParseError
	require.True(t, errors.As(err, &parseErr))
	assert.Equal(t, input, parseErr.Text)
	assert.Equal(t, RecoverBracketBalancing, parseErr.Strategy)
	assert.ErrorIs(t, err, types.ErrParse)
}

func TestParseOnlyFirstMatchingStrategyRuns(t *testing.T) {
	parser := NewRecoveryParser(nil)
	calls := 0
	parser.Register(RecoveryStrategy{
		Name:     "always-broken",
		Priority: 200,
		Matches:  func(string, error) bool { return true },
		Apply: func(text string, _ error) string {
			calls++
			return text
		},
	})

	_, err := parser.Parse(context.Background(), `{grade: 'A'}`)
	require.Error(t, err)
	assert.Equal(t, 1, calls)

	var parseErr *types.ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, "always-broken", parseErr.Strategy)
}
