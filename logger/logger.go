package logger

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// Level represents the severity level of a log message
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

// String returns the string representation of a log level
func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts DEBUG/INFO/WARN/ERROR (any case) into a Level
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG, nil
	case "", "INFO":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	}
	return INFO, fmt.Errorf("unknown log level %q", s)
}

// logrusLevel maps a Level onto the logrus equivalent
func (l Level) logrusLevel() logrus.Level {
	switch l {
	case DEBUG:
		return logrus.DebugLevel
	case WARN:
		return logrus.WarnLevel
	case ERROR:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Sink is the structured logging contract every component depends on.
// Fields may be nil.
type Sink interface {
	Debug(component, category, requestID, message string, fields map[string]interface{})
	Info(component, category, requestID, message string, fields map[string]interface{})
	Warn(component, category, requestID, message string, fields map[string]interface{})
	Error(component, category, requestID, message string, fields map[string]interface{})
}

type nopSink struct{}

func (nopSink) Debug(component, category, requestID, message string, fields map[string]interface{}) {}
func (nopSink) Info(component, category, requestID, message string, fields map[string]interface{})  {}
func (nopSink) Warn(component, category, requestID, message string, fields map[string]interface{})  {}
func (nopSink) Error(component, category, requestID, message string, fields map[string]interface{}) {}

// Nop returns a Sink that discards everything
func Nop() Sink {
	return nopSink{}
}

// OrNop returns s, or a discarding Sink when s is nil
func OrNop(s Sink) Sink {
	if s == nil {
		return nopSink{}
	}
	return s
}
