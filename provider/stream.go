package provider

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"respguard/types"
)

// streamResult is the reassembled text of a streamed completion
type streamResult struct {
	Content      string
	Chunks       int
	FinishReason string
}

// readStream reads server-sent completion chunks until [DONE] or a chunk
// carrying finish_reason, and joins their content deltas
func readStream(body io.Reader) (streamResult, error) {
	scanner := bufio.NewScanner(body)
	// Large chunks carry long content
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var (
		result streamResult
		parts  []string
	)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			break
		}

		var chunk types.OpenAIStreamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		result.Chunks++
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			parts = append(parts, choice.Delta.Content)
		}
		if choice.FinishReason != nil {
			result.FinishReason = *choice.FinishReason
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return result, fmt.Errorf("error reading stream: %w", err)
	}
	if result.Chunks == 0 {
		return result, fmt.Errorf("stream held no chunks: %w", types.ErrEmptyResponse)
	}
	result.Content = strings.Join(parts, "")
	return result, nil
}
