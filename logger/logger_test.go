package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", DEBUG, false},
		{"INFO", INFO, false},
		{"", INFO, false},
		{"warning", WARN, false},
		{"Error", ERROR, false},
		{"verbose", INFO, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestObservabilityLoggerWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	obs := NewObservabilityLogger(&buf, WARN)

	obs.Info(ComponentCleaner, CategoryTransformation, "", "dropped", nil)
	obs.Warn(ComponentValidation, CategoryValidation, "req-9", "validation failed", map[string]interface{}{"issues": 3})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "validation failed", entry["message"])
	assert.Equal(t, "warning", entry["level"])
	assert.Equal(t, "validation_engine", entry["component"])
	assert.Equal(t, "req-9", entry["request_id"])
	assert.Equal(t, "respguard", entry["service"])
	assert.Contains(t, entry, "timestamp")
}

func TestNilObservabilityLoggerIsSafe(t *testing.T) {
	var obs *ObservabilityLogger
	assert.NotPanics(t, func() {
		obs.Info(ComponentProcessor, CategoryRequest, "", "ignored", nil)
		_ = obs.Close()
	})
	assert.NotPanics(t, func() {
		OrNop(nil).Error(ComponentProcessor, CategoryError, "", "ignored", nil)
	})
}
