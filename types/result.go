package types

import (
	"encoding/json"
	"time"
)

// ErrorContext is per-attempt metadata threaded through retry and metrics calls
type ErrorContext struct {
	Operation     string    `json:"operation"`
	AttemptNumber int       `json:"attemptNumber"`
	Timestamp     time.Time `json:"timestamp"`
	FilePath      string    `json:"filePath,omitempty"`
}

// NewErrorContext creates a context for the first attempt of operation
func NewErrorContext(operation string) ErrorContext {
	return ErrorContext{
		Operation:     operation,
		AttemptNumber: 1,
		Timestamp:     time.Now(),
	}
}

// ForAttempt returns a fresh copy stamped for the given attempt
func (c ErrorContext) ForAttempt(attempt int) ErrorContext {
	c.AttemptNumber = attempt
	c.Timestamp = time.Now()
	return c
}

// ProcessingResult is the outcome of one processResponse call
type ProcessingResult[T any] struct {
	Success                bool
	Data                   *T
	Errors                 []error
	Warnings               []string
	FallbackUsed           bool
	TransformationsApplied []string
	ProcessingTime         time.Duration
	OriginalLength         int
	CleanedLength          int
}

type processingResultJSON[T any] struct {
	Success                bool     `json:"success"`
	Data                   *T       `json:"data,omitempty"`
	Errors                 []string `json:"errors"`
	Warnings               []string `json:"warnings"`
	FallbackUsed           bool     `json:"fallbackUsed"`
	TransformationsApplied []string `json:"transformationsApplied"`
	ProcessingTimeMs       int64    `json:"processingTimeMs"`
	OriginalLength         int      `json:"originalLength"`
	CleanedLength          int      `json:"cleanedLength"`
}

// MarshalJSON renders errors as their messages
func (r *ProcessingResult[T]) MarshalJSON() ([]byte, error) {
	out := processingResultJSON[T]{
		Success:                r.Success,
		Data:                   r.Data,
		Errors:                 make([]string, 0, len(r.Errors)),
		Warnings:               nonNil(r.Warnings),
		FallbackUsed:           r.FallbackUsed,
		TransformationsApplied: nonNil(r.TransformationsApplied),
		ProcessingTimeMs:       r.ProcessingTime.Milliseconds(),
		OriginalLength:         r.OriginalLength,
		CleanedLength:          r.CleanedLength,
	}
	for _, err := range r.Errors {
		out.Errors = append(out.Errors, err.Error())
	}
	return json.Marshal(out)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
