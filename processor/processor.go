// Package processor turns raw model output into a validated record by running
// it through the cleaner, the recovery parser and the validation engine.
// Stage failures never escape: they come back as an unsuccessful
// ProcessingResult that tells the caller to use its own fallback.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"respguard/correction"
	"respguard/internal"
	"respguard/logger"
	"respguard/metrics"
	"respguard/parser"
	"respguard/types"
)

// Stage names used in warnings and logs
const (
	StageCleaning   = "cleaning"
	StageParsing    = "parsing"
	StageValidation = "validation"
	StageDecoding   = "decoding"
)

// FallbackWarning is appended when processing fails and the caller should
// fall back to its rule-based analysis
const FallbackWarning = "response processing failed at %s; use rule-based fallback analysis"

// SentinelWarning is appended when the response held no JSON object and
// field defaults were substituted
const SentinelWarning = "no JSON object found in response; field defaults substituted"

// Processor composes the processing stages
type Processor struct {
	cleaner  *parser.Cleaner
	parser   *parser.RecoveryParser
	engine   *correction.Engine
	metrics  *metrics.Collector
	logger   logger.Sink
	registry types.SchemaRegistry
}

// Option configures a Processor
type Option func(*Processor)

// WithCleaner replaces the default cleaner
func WithCleaner(c *parser.Cleaner) Option {
	return func(p *Processor) { p.cleaner = c }
}

// WithParser replaces the default recovery parser
func WithParser(rp *parser.RecoveryParser) Option {
	return func(p *Processor) { p.parser = rp }
}

// WithEngine replaces the default validation engine
func WithEngine(e *correction.Engine) Option {
	return func(p *Processor) { p.engine = e }
}

// WithMetrics records stage errors and recoveries in c
func WithMetrics(c *metrics.Collector) Option {
	return func(p *Processor) { p.metrics = c }
}

// WithLogger sets the log sink used by the processor and its default stages
func WithLogger(l logger.Sink) Option {
	return func(p *Processor) { p.logger = logger.OrNop(l) }
}

// WithSchemaRegistry sets the registry ProcessNamed resolves shapes from
func WithSchemaRegistry(r types.SchemaRegistry) Option {
	return func(p *Processor) { p.registry = r }
}

// New creates a Processor. Stages that are not supplied are built with
// their defaults and share the processor's logger.
func New(opts ...Option) *Processor {
	p := &Processor{logger: logger.Nop()}
	for _, opt := range opts {
		opt(p)
	}
	if p.cleaner == nil {
		p.cleaner = parser.NewCleaner(parser.WithCleanerLogger(p.logger))
	}
	if p.parser == nil {
		p.parser = parser.NewRecoveryParser(p.logger)
	}
	if p.engine == nil {
		p.engine = correction.NewEngine(p.logger)
	}
	if p.registry == nil {
		p.registry = types.NewStandardSchemaRegistry()
	}
	return p
}

// Cleaner returns the cleaning stage so callers can register strategies
func (p *Processor) Cleaner() *parser.Cleaner { return p.cleaner }

// Parser returns the parsing stage so callers can register strategies
func (p *Processor) Parser() *parser.RecoveryParser { return p.parser }

// Engine returns the validation stage so callers can register extensions
func (p *Processor) Engine() *correction.Engine { return p.engine }

// Metrics returns the attached collector, which may be nil
func (p *Processor) Metrics() *metrics.Collector { return p.metrics }

// Registry returns the shape registry
func (p *Processor) Registry() types.SchemaRegistry { return p.registry }

type callOptions struct {
	operation    string
	filePath     string
	transformers []correction.Transformer
}

// CallOption adjusts a single Process call
type CallOption func(*callOptions)

// WithOperation names the call in metrics and logs
func WithOperation(name string) CallOption {
	return func(o *callOptions) { o.operation = name }
}

// WithFilePath attaches the analysed file to the error context
func WithFilePath(path string) CallOption {
	return func(o *callOptions) { o.filePath = path }
}

// WithTransformers adds transformers that run after the engine's own
func WithTransformers(ts ...correction.Transformer) CallOption {
	return func(o *callOptions) { o.transformers = append(o.transformers, ts...) }
}

// Process cleans, parses and validates raw against shape and decodes the
// validated value into T. It always returns a result.
func Process[T any](ctx context.Context, p *Processor, raw string, shape types.Shape, opts ...CallOption) (result *types.ProcessingResult[T]) {
	start := time.Now()
	ctx, requestID := internal.EnsureRequestID(ctx)

	co := callOptions{operation: "process"}
	for _, opt := range opts {
		opt(&co)
	}
	ectx := types.NewErrorContext(co.operation)
	ectx.FilePath = co.filePath

	result = &types.ProcessingResult[T]{OriginalLength: len(raw)}
	stage := StageCleaning

	fail := func(err error) {
		result.Success = false
		result.Data = nil
		result.FallbackUsed = true
		result.Errors = append(result.Errors, err)
		result.Warnings = append(result.Warnings, fmt.Sprintf(FallbackWarning, stage))
		p.metrics.RecordError(metrics.KindOf(err), ectx)
		p.logger.Warn(logger.ComponentProcessor, logger.CategoryFallback, requestID,
			"Response processing failed", map[string]interface{}{
				"stage":     stage,
				"operation": co.operation,
				"error":     err.Error(),
			})
	}

	defer func() {
		if r := recover(); r != nil {
			fail(fmt.Errorf("panic during %s: %v", stage, r))
		}
		result.ProcessingTime = time.Since(start)
		p.logger.Info(logger.ComponentProcessor, logger.CategoryRequest, requestID,
			"Response processed", map[string]interface{}{
				"operation":       co.operation,
				"success":         result.Success,
				"fallback_used":   result.FallbackUsed,
				"transformations": result.TransformationsApplied,
				"duration_ms":     result.ProcessingTime.Milliseconds(),
				"original_length": result.OriginalLength,
				"cleaned_length":  result.CleanedLength,
			})
	}()

	if shape == nil {
		fail(fmt.Errorf("%w: no target shape", types.ErrValidation))
		return result
	}

	cleaned, err := p.cleaner.Clean(ctx, raw)
	if err != nil {
		fail(err)
		return result
	}
	result.CleanedLength = len(cleaned.Text)
	result.TransformationsApplied = append(result.TransformationsApplied, cleaned.Applied...)

	stage = StageParsing
	outcome, err := p.parser.Parse(ctx, cleaned.Text)
	if err != nil {
		fail(err)
		return result
	}
	value := outcome.Value
	if outcome.Strategy != "" {
		result.TransformationsApplied = append(result.TransformationsApplied, outcome.Strategy)
		if outcome.Sentinel {
			result.FallbackUsed = true
			result.Warnings = append(result.Warnings, SentinelWarning)
			value = map[string]any{}
		} else {
			result.Warnings = append(result.Warnings, fmt.Sprintf("JSON recovered using %s", outcome.Strategy))
			p.metrics.RecordError(metrics.KindParse, ectx)
			p.metrics.RecordResolution(metrics.KindParse, metrics.Resolution{Strategy: outcome.Strategy})
		}
	}

	stage = StageValidation
	validated, err := p.engine.Validate(ctx, value, shape, co.transformers...)
	if err != nil {
		if outcome.Sentinel {
			p.metrics.RecordFallbackFailure(ectx)
		}
		fail(err)
		return result
	}
	result.TransformationsApplied = append(result.TransformationsApplied, validated.Transformations...)
	result.Warnings = append(result.Warnings, validated.Warnings...)
	if n := len(validated.RecoveredBy); n > 0 {
		p.metrics.RecordError(metrics.KindValidation, ectx)
		p.metrics.RecordResolution(metrics.KindValidation, metrics.Resolution{Strategy: validated.RecoveredBy[n-1]})
	}

	stage = StageDecoding
	data, err := decode[T](validated.Value)
	if err != nil {
		fail(err)
		return result
	}
	if outcome.Sentinel {
		p.metrics.RecordFallbackSuccess(ectx)
	}

	result.Success = true
	result.Data = data
	return result
}

// ProcessAnalysis processes raw as a code-analysis record
func (p *Processor) ProcessAnalysis(ctx context.Context, raw string, opts ...CallOption) *types.ProcessingResult[types.AnalysisResult] {
	opts = append([]CallOption{WithOperation("analysis")}, opts...)
	return Process[types.AnalysisResult](ctx, p, raw, types.AnalysisSchema(), opts...)
}

// ErrUnknownShape is returned by ProcessNamed for unregistered shape names
var ErrUnknownShape = errors.New("unknown shape")

// ProcessNamed processes raw against the registered shape called name and
// returns the validated value as generic JSON
func (p *Processor) ProcessNamed(ctx context.Context, raw, name string, opts ...CallOption) (*types.ProcessingResult[map[string]any], error) {
	shape, ok := p.registry.GetShape(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownShape, name)
	}
	opts = append([]CallOption{WithOperation(name)}, opts...)
	return Process[map[string]any](ctx, p, raw, shape, opts...), nil
}

func decode[T any](value any) (*T, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: encode validated value: %w", types.ErrValidation, err)
	}
	out := new(T)
	if err := json.Unmarshal(encoded, out); err != nil {
		return nil, fmt.Errorf("%w: decode validated value: %w", types.ErrValidation, err)
	}
	return out, nil
}
