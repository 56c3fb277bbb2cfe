package parser

import (
	"regexp"
	"strings"
)

// Some reasoning models wrap their output in channel tokens such as
//
//	<|start|>assistant<|channel|>analysis<|message|>...<|end|>
//	<|start|>assistant<|channel|>final<|message|>{...}<|return|>
//
// Only the final channel carries the answer; the rest is scratch work that
// must not reach the JSON stages.

// ChannelType classifies a channel segment
type ChannelType int

const (
	ChannelAnalysis ChannelType = iota
	ChannelFinal
	ChannelCommentary
	ChannelUnknown
)

// String returns the string representation of the ChannelType
func (c ChannelType) String() string {
	switch c {
	case ChannelAnalysis:
		return "analysis"
	case ChannelFinal:
		return "final"
	case ChannelCommentary:
		return "commentary"
	default:
		return "unknown"
	}
}

// ParseChannelType converts a channel name to ChannelType with fallback to unknown
func ParseChannelType(channel string) ChannelType {
	switch strings.ToLower(strings.TrimSpace(channel)) {
	case "analysis":
		return ChannelAnalysis
	case "final":
		return ChannelFinal
	case "commentary":
		return ChannelCommentary
	default:
		return ChannelUnknown
	}
}

// Channel is one <|channel|>...<|message|>... segment
type Channel struct {
	Role    string      `json:"role"`
	Type    ChannelType `json:"type"`
	Content string      `json:"content"`
}

var (
	channelTokenPattern = regexp.MustCompile(`<\|(?:start|channel|message|end|return|call)\|>`)
	channelPattern      = regexp.MustCompile(`(?s)(?:<\|start\|>(\w+))?<\|channel\|>(\w+)(?:\s+[^<]*)?<\|message\|>(.*?)(?:<\|end\|>|<\|return\|>|<\|call\|>|\z)`)
)

// IsChannelFormat reports whether content carries channel tokens
func IsChannelFormat(content string) bool {
	return channelTokenPattern.MatchString(content)
}

// ExtractChannels returns every channel segment in order of appearance.
// A segment left open at the end of the text runs to the end.
func ExtractChannels(content string) []Channel {
	var channels []Channel
	for _, match := range channelPattern.FindAllStringSubmatch(content, -1) {
		role := match[1]
		if role == "" {
			role = "assistant"
		}
		channels = append(channels, Channel{
			Role:    role,
			Type:    ParseChannelType(match[2]),
			Content: strings.TrimSpace(match[3]),
		})
	}
	return channels
}

// FinalChannelContent returns the content of the last final channel. When no
// final channel exists the last non-analysis channel is used instead.
func FinalChannelContent(content string) (string, bool) {
	channels := ExtractChannels(content)
	for i := len(channels) - 1; i >= 0; i-- {
		if channels[i].Type == ChannelFinal {
			return channels[i].Content, true
		}
	}
	for i := len(channels) - 1; i >= 0; i-- {
		if channels[i].Type != ChannelAnalysis && channels[i].Content != "" {
			return channels[i].Content, true
		}
	}
	return "", false
}

func extractFinalChannel(text string) string {
	if final, ok := FinalChannelContent(text); ok {
		return final
	}
	// No usable channel: drop the tokens and keep whatever text is left.
	return strings.TrimSpace(channelTokenPattern.ReplaceAllString(text, " "))
}
