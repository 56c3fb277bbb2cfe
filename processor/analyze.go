package processor

import (
	"context"
	"errors"
	"fmt"

	"respguard/internal"
	"respguard/logger"
	"respguard/provider"
	"respguard/retry"
	"respguard/types"
)

// PromptRewriter rewrites a prompt before generation and names the changes made
type PromptRewriter func(prompt string) (string, []string)

// Analyzer asks a model for a code analysis and processes the answer
type Analyzer struct {
	processor *Processor
	generator provider.Generator
	executor  *retry.Executor
	rewrite   PromptRewriter
	logger    logger.Sink
}

// NewAnalyzer creates an Analyzer. A nil executor runs generation once.
func NewAnalyzer(p *Processor, g provider.Generator, e *retry.Executor, rewrite PromptRewriter) *Analyzer {
	if e == nil {
		e = retry.NewExecutor(retry.Config{MaxAttempts: 1})
	}
	return &Analyzer{
		processor: p,
		generator: g,
		executor:  e,
		rewrite:   rewrite,
		logger:    p.logger,
	}
}

// Generation carries the raw model output alongside the processed record
type Generation struct {
	Prompt string
	Raw    string
	Result *types.ProcessingResult[types.AnalysisResult]
}

// Analyze generates a response for prompt with retries and processes it as
// an analysis record. Only generation failures are returned as errors;
// processing failures are reported in the result.
func (a *Analyzer) Analyze(ctx context.Context, prompt string, opts ...CallOption) (*Generation, error) {
	if a.generator == nil {
		return nil, errors.New("no model provider configured")
	}
	ctx, requestID := internal.EnsureRequestID(ctx)

	if a.rewrite != nil {
		rewritten, applied := a.rewrite(prompt)
		if len(applied) > 0 {
			a.logger.Debug(logger.ComponentProvider, logger.CategoryTransformation, requestID,
				"Prompt overrides applied", map[string]interface{}{"changes": applied})
		}
		prompt = rewritten
	}

	raw, err := retry.Execute(ctx, a.executor, func(ctx context.Context) (string, error) {
		return a.generator.Generate(ctx, prompt)
	}, types.NewErrorContext("generate"), nil)
	if err != nil {
		return nil, fmt.Errorf("generate analysis: %w", err)
	}

	return &Generation{
		Prompt: prompt,
		Raw:    raw,
		Result: a.processor.ProcessAnalysis(ctx, raw, opts...),
	}, nil
}
