package config

import (
	"fmt"
	"regexp"
	"strings"
)

// PromptReplacement is a literal find/replace applied to a prompt
type PromptReplacement struct {
	Find    string `yaml:"find"`
	Replace string `yaml:"replace"`
}

// PromptOverrides rewrites prompts before they are sent to the provider.
// Operations are applied in order: removePatterns, replacements, prepend/append.
type PromptOverrides struct {
	RemovePatterns []string            `yaml:"remove_patterns"`
	Replacements   []PromptReplacement `yaml:"replacements"`
	Prepend        string              `yaml:"prepend"`
	Append         string              `yaml:"append"`
}

// IsZero reports whether no override is configured
func (o PromptOverrides) IsZero() bool {
	return len(o.RemovePatterns) == 0 && len(o.Replacements) == 0 && o.Prepend == "" && o.Append == ""
}

// Validate checks that every remove pattern compiles
func (o PromptOverrides) Validate() error {
	for _, pattern := range o.RemovePatterns {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("prompt_overrides.remove_patterns: %q: %w", pattern, err)
		}
	}
	return nil
}

// Apply returns the rewritten prompt and a description of each change made
func (o PromptOverrides) Apply(prompt string) (string, []string) {
	var applied []string

	for _, pattern := range o.RemovePatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			continue
		}
		if n := len(re.FindAllStringIndex(prompt, -1)); n > 0 {
			prompt = re.ReplaceAllString(prompt, "")
			applied = append(applied, fmt.Sprintf("remove %q (%d)", pattern, n))
		}
	}

	for _, r := range o.Replacements {
		if r.Find == "" {
			continue
		}
		if n := strings.Count(prompt, r.Find); n > 0 {
			prompt = strings.ReplaceAll(prompt, r.Find, r.Replace)
			applied = append(applied, fmt.Sprintf("replace %q (%d)", r.Find, n))
		}
	}

	if o.Prepend != "" {
		prompt = o.Prepend + prompt
		applied = append(applied, "prepend")
	}
	if o.Append != "" {
		prompt += o.Append
		applied = append(applied, "append")
	}
	return prompt, applied
}
