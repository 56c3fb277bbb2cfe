package types

import (
	"errors"
	"fmt"
	"strings"
)

// Stage and executor failures
var (
	ErrEmptyResponse    = errors.New("empty model response")
	ErrCleaning         = errors.New("response cleaning failed")
	ErrParse            = errors.New("response is not parseable JSON")
	ErrValidation       = errors.New("response does not satisfy target shape")
	ErrExhaustedRetries = errors.New("retries exhausted")
	ErrNonRetryable     = errors.New("non-retryable error")
	ErrCircuitOpen      = errors.New("circuit breaker is open")
)

// ParseError represents a JSON parse failure that recovery could not fix
type ParseError struct {
	// Text is the cleaned text as it was before any recovery attempt
	Text string
	// Strategy names the recovery strategy that was tried, if any
	Strategy string
	Err      error
}

// Error implements the error interface
func (e *ParseError) Error() string {
	if e.Strategy != "" {
		return fmt.Sprintf("json parse error after %s recovery: %v", e.Strategy, e.Err)
	}
	return fmt.Sprintf("json parse error: %v", e.Err)
}

// Unwrap exposes both the sentinel and the decoder error
func (e *ParseError) Unwrap() []error {
	return []error{ErrParse, e.Err}
}

// ValidationError carries every issue set produced while validating and recovering
type ValidationError struct {
	Shape     string
	IssueSets [][]Issue
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	last := e.LastIssues()
	if len(last) == 0 {
		return fmt.Sprintf("validation against %s failed", e.Shape)
	}
	parts := make([]string, 0, len(last))
	for _, issue := range last {
		parts = append(parts, issue.String())
	}
	return fmt.Sprintf("validation against %s failed after %d attempts: %s",
		e.Shape, len(e.IssueSets), strings.Join(parts, "; "))
}

// Unwrap returns ErrValidation
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// LastIssues returns the issues of the final validation attempt
func (e *ValidationError) LastIssues() []Issue {
	if len(e.IssueSets) == 0 {
		return nil
	}
	return e.IssueSets[len(e.IssueSets)-1]
}
