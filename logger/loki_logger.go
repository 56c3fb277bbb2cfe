package logger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// LokiHook pushes every logrus entry to Loki over HTTP
type LokiHook struct {
	pushURL string
	client  *http.Client
	levels  []logrus.Level
}

// LokiLogEntry represents a Loki push payload
type LokiLogEntry struct {
	Streams []LokiStream `json:"streams"`
}

type LokiStream struct {
	Stream map[string]string `json:"stream"`
	Values [][]string        `json:"values"`
}

// NewLokiHook creates a hook pushing to lokiURL/loki/api/v1/push
func NewLokiHook(lokiURL string, minLevel Level) *LokiHook {
	if lokiURL == "" {
		lokiURL = "http://localhost:3100"
	}

	var levels []logrus.Level
	for _, lvl := range logrus.AllLevels {
		if lvl <= minLevel.logrusLevel() {
			levels = append(levels, lvl)
		}
	}

	return &LokiHook{
		pushURL: strings.TrimRight(lokiURL, "/") + "/loki/api/v1/push",
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
		levels: levels,
	}
}

// Levels implements logrus.Hook
func (h *LokiHook) Levels() []logrus.Level {
	return h.levels
}

// Fire implements logrus.Hook
func (h *LokiHook) Fire(entry *logrus.Entry) error {
	// Labels must stay low cardinality; everything else goes into the line.
	labels := map[string]string{
		"service": "respguard",
		"job":     "respguard",
		"level":   entry.Level.String(),
	}
	if component, ok := entry.Data["component"].(string); ok && component != "" {
		labels["component"] = component
	}

	structured := make(map[string]interface{}, len(entry.Data)+1)
	for k, v := range entry.Data {
		if err, ok := v.(error); ok {
			structured[k] = err.Error()
			continue
		}
		structured[k] = v
	}
	structured["message"] = entry.Message

	line, err := json.Marshal(structured)
	if err != nil {
		return fmt.Errorf("marshal loki line: %w", err)
	}

	payload := LokiLogEntry{
		Streams: []LokiStream{
			{
				Stream: labels,
				Values: [][]string{
					{fmt.Sprintf("%d", entry.Time.UnixNano()), string(line)},
				},
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal loki payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, h.pushURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build loki request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("push to loki: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("loki returned %d", resp.StatusCode)
	}
	return nil
}
