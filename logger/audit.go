package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// AuditConfig holds configuration for the processing audit log
type AuditConfig struct {
	LogDir        string
	MaskSensitive bool
	// Truncation caps logged response text; 0 keeps it whole
	Truncation int
}

// AuditLogger appends one JSON line per processed response so failed
// recoveries can be replayed later
type AuditLogger struct {
	sessionID     string
	out           io.Writer
	file          *os.File
	mu            sync.Mutex
	maskSensitive bool
	truncation    int
	now           func() time.Time
}

// NewAuditLogger creates audit-<session>.jsonl under cfg.LogDir
func NewAuditLogger(cfg AuditConfig) (*AuditLogger, error) {
	if err := os.MkdirAll(cfg.LogDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	sessionID := fmt.Sprintf("session_%d", time.Now().UnixNano()%100000)
	filename := fmt.Sprintf("audit-%s-%s.jsonl", sessionID, time.Now().Format("20060102-150405"))
	file, err := os.OpenFile(filepath.Join(cfg.LogDir, filename), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit file: %w", err)
	}

	al := NewAuditWriter(file, cfg)
	al.sessionID = sessionID
	al.file = file
	return al, nil
}

// NewAuditWriter creates an audit logger writing to w
func NewAuditWriter(w io.Writer, cfg AuditConfig) *AuditLogger {
	return &AuditLogger{
		out:           w,
		maskSensitive: cfg.MaskSensitive,
		truncation:    cfg.Truncation,
		now:           time.Now,
	}
}

// SessionID returns the session identifier embedded in the file name
func (al *AuditLogger) SessionID() string {
	if al == nil {
		return ""
	}
	return al.sessionID
}

// LogResponse records the raw model output and the processing outcome.
// A nil logger discards the entry.
func (al *AuditLogger) LogResponse(requestID, operation, raw string, outcome interface{}) error {
	if al == nil {
		return nil
	}

	data := outcome
	if al.maskSensitive {
		data = maskSensitiveData(outcome)
	}

	entry := map[string]interface{}{
		"event":      "response",
		"session_id": al.sessionID,
		"request_id": requestID,
		"operation":  operation,
		"timestamp":  al.now().UTC().Format(time.RFC3339),
		"raw":        truncateString(raw, al.truncation),
		"outcome":    data,
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	al.mu.Lock()
	defer al.mu.Unlock()
	if _, err := al.out.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}

// Close closes the audit file, if any
func (al *AuditLogger) Close() error {
	if al == nil || al.file == nil {
		return nil
	}
	al.mu.Lock()
	defer al.mu.Unlock()
	return al.file.Close()
}

var sensitiveFields = map[string]bool{
	"api_key": true, "apikey": true, "key": true, "token": true, "secret": true,
	"password": true, "auth": true, "authorization": true, "bearer": true, "x-api-key": true,
}

// maskSensitiveData returns a deep copy of data with sensitive keys masked
func maskSensitiveData(data interface{}) interface{} {
	encoded, err := json.Marshal(data)
	if err != nil {
		return data
	}
	var copied interface{}
	if err := json.Unmarshal(encoded, &copied); err != nil {
		return data
	}
	maskSensitiveFields(copied)
	return copied
}

func maskSensitiveFields(data interface{}) {
	switch v := data.(type) {
	case map[string]interface{}:
		for key, value := range v {
			if sensitiveFields[strings.ToLower(key)] {
				v[key] = "***"
				continue
			}
			maskSensitiveFields(value)
		}
	case []interface{}:
		for _, item := range v {
			maskSensitiveFields(item)
		}
	}
}

// truncateString keeps the beginning and end of s within limit bytes
func truncateString(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	if limit < 5 {
		return s[:limit]
	}
	half := (limit - 5) / 2
	if half < 1 {
		half = 1
	}
	return s[:half] + " ... " + s[len(s)-half:]
}
