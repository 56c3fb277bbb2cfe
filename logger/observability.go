package logger

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// ObservabilityLogger provides structured logging using logrus
type ObservabilityLogger struct {
	logger  *logrus.Logger
	file    *os.File
	service string
}

// Component constants for consistent labeling
const (
	ComponentProcessor      = "response_processor"
	ComponentCleaner        = "response_cleaner"
	ComponentParser         = "json_recovery"
	ComponentValidation     = "validation_engine"
	ComponentRetry          = "retry_executor"
	ComponentCircuitBreaker = "circuit_breaker"
	ComponentMetrics        = "metrics_collector"
	ComponentProvider       = "model_provider"
	ComponentServer         = "http_server"
	ComponentConfig         = "configuration"
)

// Category constants for log classification
const (
	CategoryRequest        = "request"
	CategoryTransformation = "transformation"
	CategoryRecovery       = "recovery"
	CategorySuccess        = "success"
	CategoryWarning        = "warning"
	CategoryError          = "error"
	CategoryHealth         = "health"
	CategoryRetry          = "retry"
	CategoryValidation     = "validation"
	CategoryFallback       = "fallback"
	CategoryDebug          = "debug"
)

// NewObservabilityLogger creates a JSON logger writing to w
func NewObservabilityLogger(w io.Writer, level Level) *ObservabilityLogger {
	logger := logrus.New()
	logger.SetOutput(w)
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})
	logger.SetLevel(level.logrusLevel())

	return &ObservabilityLogger{logger: logger, service: "respguard"}
}

// NewFileObservabilityLogger creates a logger appending JSON lines to logDir/respguard.jsonl
func NewFileObservabilityLogger(logDir string, level Level) (*ObservabilityLogger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, err
	}

	logPath := filepath.Join(logDir, "respguard.jsonl")
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	obs := NewObservabilityLogger(file, level)
	obs.file = file
	return obs, nil
}

// SetService changes the service field stamped on every entry
func (o *ObservabilityLogger) SetService(name string) {
	if name != "" {
		o.service = name
	}
}

// AddHook attaches a logrus hook (e.g. LokiHook)
func (o *ObservabilityLogger) AddHook(hook logrus.Hook) {
	o.logger.AddHook(hook)
}

// Close closes the log file, if any
func (o *ObservabilityLogger) Close() error {
	if o != nil && o.file != nil {
		return o.file.Close()
	}
	return nil
}

// createEntry creates a logrus entry with standard fields
func (o *ObservabilityLogger) createEntry(component, category, requestID string, fields map[string]interface{}) *logrus.Entry {
	entry := o.logger.WithFields(logrus.Fields{
		"service":   o.service,
		"component": component,
		"category":  category,
	})

	if requestID != "" {
		entry = entry.WithField("request_id", requestID)
	}

	if fields != nil {
		entry = entry.WithFields(fields)
	}

	return entry
}

// Debug logs a debug message
func (o *ObservabilityLogger) Debug(component, category, requestID, message string, fields map[string]interface{}) {
	if o == nil {
		return
	}
	o.createEntry(component, category, requestID, fields).Debug(message)
}

// Info logs an info message
func (o *ObservabilityLogger) Info(component, category, requestID, message string, fields map[string]interface{}) {
	if o == nil {
		return
	}
	o.createEntry(component, category, requestID, fields).Info(message)
}

// Warn logs a warning message
func (o *ObservabilityLogger) Warn(component, category, requestID, message string, fields map[string]interface{}) {
	if o == nil {
		return
	}
	o.createEntry(component, category, requestID, fields).Warn(message)
}

// Error logs an error message
func (o *ObservabilityLogger) Error(component, category, requestID, message string, fields map[string]interface{}) {
	if o == nil {
		return
	}
	o.createEntry(component, category, requestID, fields).Error(message)
}
