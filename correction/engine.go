// Package correction validates decoded model output against a target shape,
// normalizing common deviations first and repairing the rest with ordered
// recovery strategies.
package correction

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"respguard/internal"
	"respguard/logger"
	"respguard/types"
)

// Result is a value that satisfies its shape
type Result struct {
	Value           any
	Transformations []string
	Warnings        []string
	// RecoveredBy lists the recovery strategies that ran, in order
	RecoveredBy []string
}

// Engine runs the transform, validate and recover pipeline
type Engine struct {
	mu           sync.RWMutex
	transformers []Transformer
	custom       []Transformer
	recoveries   []RecoveryStrategy
	defaults     map[string]any
	coercers     map[string]Coercer
	logger       logger.Sink
}

// NewEngine creates an Engine with the analysis transformers, coercers,
// defaults and recovery strategies registered
func NewEngine(l logger.Sink) *Engine {
	e := &Engine{
		defaults: analysisDefaults(),
		coercers: analysisCoercers(),
		logger:   logger.OrNop(l),
	}
	e.transformers = builtinTransformers()
	sortTransformers(e.transformers)
	for _, r := range e.builtinRecoveries() {
		e.RegisterRecovery(r)
	}
	return e
}

// RegisterTransformer adds a caller transformer. Caller transformers run
// after the built-in ones, in registration order.
func (e *Engine) RegisterTransformer(t Transformer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.custom = append(e.custom, t)
}

// RegisterRecovery adds a recovery strategy. Equal priorities keep
// registration order.
func (e *Engine) RegisterRecovery(r RecoveryStrategy) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.recoveries = append(e.recoveries, r)
	sort.SliceStable(e.recoveries, func(i, j int) bool {
		return e.recoveries[i].Priority > e.recoveries[j].Priority
	})
}

// RegisterFieldDefault sets the substitute used when field is missing
func (e *Engine) RegisterFieldDefault(field string, value any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.defaults[field] = value
}

// RegisterCoercer sets the type coercer used for field
func (e *Engine) RegisterCoercer(field string, c Coercer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.coercers[field] = c
}

func (e *Engine) fieldDefault(field string) (any, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	def, ok := e.defaults[field]
	if !ok {
		return nil, false
	}
	return cloneValue(def), true
}

func (e *Engine) coercer(field string) (Coercer, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.coercers[field]
	return c, ok
}

// Validate normalizes value, checks it against shape and runs recovery
// strategies until it conforms. extra transformers run after the registered
// ones, in the given order. The input is never modified. On failure the
// returned *types.ValidationError holds every issue set that was produced.
func (e *Engine) Validate(ctx context.Context, value any, shape types.Shape, extra ...Transformer) (Result, error) {
	requestID := internal.GetRequestID(ctx)
	if shape == nil {
		return Result{}, fmt.Errorf("%w: no shape given", types.ErrValidation)
	}

	var result Result
	work := cloneValue(value)
	obj, isObject := work.(map[string]any)
	if isObject {
		result.Transformations = e.transform(obj, shape, extra)
		work = obj
	}

	issues := shape.Validate(work)
	if len(issues) == 0 {
		result.Value = work
		return result, nil
	}
	issueSets := [][]types.Issue{issues}

	e.logger.Debug(logger.ComponentValidation, logger.CategoryValidation, requestID,
		"Validation failed, attempting recovery", map[string]interface{}{
			"shape":       shape.Name(),
			"issue_count": len(issues),
			"issues":      issueStrings(issues),
		})

	if !isObject {
		return Result{}, &types.ValidationError{Shape: shape.Name(), IssueSets: issueSets}
	}

	e.mu.RLock()
	recoveries := make([]RecoveryStrategy, len(e.recoveries))
	copy(recoveries, e.recoveries)
	e.mu.RUnlock()

	for _, r := range recoveries {
		if r.CanRecover == nil || r.Recover == nil || !r.CanRecover(issues, obj) {
			continue
		}
		recovered, applied := r.Recover(issues, cloneValue(obj).(map[string]any))
		if recovered == nil || len(applied) == 0 {
			continue
		}
		obj = recovered
		result.Transformations = append(result.Transformations, applied...)
		result.RecoveredBy = append(result.RecoveredBy, r.Name)

		issues = shape.Validate(obj)
		issueSets = append(issueSets, issues)
		e.logger.Info(logger.ComponentValidation, logger.CategoryRecovery, requestID,
			"Applied validation recovery", map[string]interface{}{
				"strategy":         r.Name,
				"changes":          applied,
				"remaining_issues": len(issues),
			})

		if len(issues) == 0 {
			result.Value = obj
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("validation recovered using %s", r.Name))
			return result, nil
		}
	}

	e.logger.Warn(logger.ComponentValidation, logger.CategoryValidation, requestID,
		"Validation recovery exhausted", map[string]interface{}{
			"shape":       shape.Name(),
			"attempts":    len(issueSets),
			"last_issues": issueStrings(issues),
		})
	return Result{}, &types.ValidationError{Shape: shape.Name(), IssueSets: issueSets}
}

// transform runs the built-in transformers by descending priority and then
// the caller transformers, over every top-level field present in obj
func (e *Engine) transform(obj map[string]any, shape types.Shape, extra []Transformer) []string {
	e.mu.RLock()
	passes := make([]Transformer, 0, len(e.transformers)+len(e.custom)+len(extra))
	passes = append(passes, e.transformers...)
	passes = append(passes, e.custom...)
	e.mu.RUnlock()
	passes = append(passes, extra...)

	hinter, _ := shape.(interface{ FieldType(string) string })
	fields := make([]string, 0, len(obj))
	for field := range obj {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	var applied []string
	for _, t := range passes {
		if t.CanTransform == nil || t.Transform == nil {
			continue
		}
		for _, field := range fields {
			if !t.appliesTo(field) {
				continue
			}
			hint := ""
			if hinter != nil {
				hint = hinter.FieldType(field)
			}
			current := obj[field]
			if !t.CanTransform(current, hint) {
				continue
			}
			next := t.Transform(current, hint)
			if reflect.DeepEqual(next, current) {
				continue
			}
			obj[field] = next
			applied = append(applied, t.Name+":"+field)
		}
	}
	return applied
}

func sortTransformers(ts []Transformer) {
	sort.SliceStable(ts, func(i, j int) bool {
		return ts[i].Priority > ts[j].Priority
	})
}

func issueStrings(issues []types.Issue) []string {
	out := make([]string, 0, len(issues))
	for _, issue := range issues {
		out = append(out, issue.String())
	}
	return out
}

// cloneValue deep-copies decoded JSON containers
func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = cloneValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = cloneValue(val)
		}
		return out
	default:
		return v
	}
}
