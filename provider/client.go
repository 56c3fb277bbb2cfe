// Package provider talks to an OpenAI-compatible chat completion endpoint.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"respguard/circuitbreaker"
	"respguard/internal"
	"respguard/logger"
	"respguard/types"
)

// maxErrorBody caps how much of a failed response body ends up in HTTPError
const maxErrorBody = 512

// Generator produces raw model text for a prompt
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// HTTPError is a non-2xx response from the provider
type HTTPError struct {
	StatusCode int
	Endpoint   string
	Body       string
}

// Error implements the error interface
func (e *HTTPError) Error() string {
	return fmt.Sprintf("llm http error %d: %s", e.StatusCode, e.Body)
}

// Options configures a Client
type Options struct {
	// Endpoints are full chat completion URLs, tried round-robin
	Endpoints    []string
	APIKey       string
	Model        string
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
	Timeout      time.Duration
	// Stream requests server-sent events and reassembles the content
	Stream bool
}

// Client is a Generator backed by one or more HTTP endpoints
type Client struct {
	opts    Options
	http    *http.Client
	breaker *circuitbreaker.Breaker
	logger  logger.Sink

	mu    sync.Mutex
	index int
}

// NewClient creates a Client. breaker may be nil, in which case endpoints are
// used round-robin without health tracking.
func NewClient(opts Options, breaker *circuitbreaker.Breaker, l logger.Sink) (*Client, error) {
	if len(opts.Endpoints) == 0 {
		return nil, fmt.Errorf("provider: at least one endpoint is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	if breaker != nil {
		breaker.InitializeKeys(opts.Endpoints)
	}
	return &Client{
		opts:    opts,
		http:    &http.Client{Timeout: opts.Timeout},
		breaker: breaker,
		logger:  logger.OrNop(l),
	}, nil
}

// Endpoints returns the configured endpoint URLs
func (c *Client) Endpoints() []string {
	return append([]string(nil), c.opts.Endpoints...)
}

func (c *Client) nextEndpoint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.breaker != nil {
		return c.breaker.SelectHealthy(c.opts.Endpoints, &c.index)
	}
	endpoint := c.opts.Endpoints[c.index%len(c.opts.Endpoints)]
	c.index = (c.index + 1) % len(c.opts.Endpoints)
	return endpoint
}

// Generate sends prompt as a single user message and returns the first
// choice's content
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	endpoint := c.nextEndpoint()
	text, err := c.generateAt(ctx, endpoint, prompt)
	if c.breaker != nil {
		switch {
		case err == nil:
			c.breaker.RecordSuccess(endpoint)
		case ctx.Err() != nil:
			c.breaker.Release(endpoint)
		default:
			c.breaker.RecordFailure(endpoint)
		}
	}
	return text, err
}

func (c *Client) generateAt(ctx context.Context, endpoint, prompt string) (string, error) {
	requestID := internal.GetRequestID(ctx)

	req := types.OpenAIRequest{
		Model:       c.opts.Model,
		MaxTokens:   c.opts.MaxTokens,
		Temperature: c.opts.Temperature,
		Stream:      c.opts.Stream,
	}
	if c.opts.SystemPrompt != "" {
		req.Messages = append(req.Messages, types.OpenAIMessage{Role: "system", Content: c.opts.SystemPrompt})
	}
	req.Messages = append(req.Messages, types.OpenAIMessage{Role: "user", Content: prompt})

	reqBody, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.opts.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	}
	if requestID != "" {
		httpReq.Header.Set("X-Request-ID", requestID)
	}

	start := time.Now()
	c.logger.Debug(logger.ComponentProvider, logger.CategoryRequest, requestID,
		"Sending completion request", map[string]interface{}{
			"endpoint": endpoint,
			"model":    c.opts.Model,
		})

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request to %s failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		httpErr := &HTTPError{
			StatusCode: resp.StatusCode,
			Endpoint:   endpoint,
			Body:       strings.TrimSpace(string(body)),
		}
		c.logger.Warn(logger.ComponentProvider, logger.CategoryError, requestID,
			"Provider returned error status", map[string]interface{}{
				"endpoint": endpoint,
				"status":   resp.StatusCode,
			})
		return "", httpErr
	}

	if c.opts.Stream || strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		streamed, err := readStream(resp.Body)
		if err != nil {
			return "", fmt.Errorf("stream from %s: %w", endpoint, err)
		}
		c.logger.Info(logger.ComponentProvider, logger.CategorySuccess, requestID,
			"Streamed completion received", map[string]interface{}{
				"endpoint":       endpoint,
				"duration_ms":    time.Since(start).Milliseconds(),
				"content_length": len(streamed.Content),
				"chunks":         streamed.Chunks,
				"finish_reason":  streamed.FinishReason,
			})
		return streamed.Content, nil
	}

	var completion types.OpenAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return "", fmt.Errorf("failed to decode response from %s: %w", endpoint, err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("response from %s has no choices: %w", endpoint, types.ErrEmptyResponse)
	}

	content := completion.Choices[0].Message.Content
	c.logger.Info(logger.ComponentProvider, logger.CategorySuccess, requestID,
		"Completion received", map[string]interface{}{
			"endpoint":          endpoint,
			"duration_ms":       time.Since(start).Milliseconds(),
			"content_length":    len(content),
			"completion_tokens": completion.Usage.CompletionTokens,
		})
	return content, nil
}
