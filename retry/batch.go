package retry

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"respguard/circuitbreaker"
	"respguard/internal"
	"respguard/logger"
	"respguard/types"
)

// ErrBatchAborted marks batch items that never ran because an earlier item
// failed in fail-fast mode
var ErrBatchAborted = errors.New("batch aborted after earlier failure")

// BatchItem is one operation of a batch with its own context and optional config
type BatchItem[T any] struct {
	Op      Operation[T]
	Context types.ErrorContext
	Config  *Config
}

// BatchResult is the outcome of one BatchItem
type BatchResult[T any] struct {
	Success bool
	Value   T
	Err     error
}

// BatchOptions selects the batch mode
type BatchOptions struct {
	// Parallel launches every item concurrently
	Parallel bool
	// FailFast stops the batch at the first failure
	FailFast bool
	// Concurrency limits parallel items in flight; zero means unlimited
	Concurrency int
}

// ExecuteBatch runs every item through Execute. Results are in input order.
// In fail-fast mode the first failure is returned as the error and cancels
// the remaining items; otherwise the error is nil and each result carries
// its own outcome.
func ExecuteBatch[T any](ctx context.Context, e *Executor, items []BatchItem[T], opts BatchOptions) ([]BatchResult[T], error) {
	results := make([]BatchResult[T], len(items))
	if opts.Parallel {
		return results, executeParallel(ctx, e, items, opts, results)
	}

	for i, item := range items {
		if ctx.Err() != nil {
			markAborted(results[i:], ctx.Err())
			return results, ctx.Err()
		}
		value, err := Execute(ctx, e, item.Op, item.Context, item.Config)
		results[i] = BatchResult[T]{Success: err == nil, Value: value, Err: err}
		if err != nil && opts.FailFast {
			markAborted(results[i+1:], ErrBatchAborted)
			return results, fmt.Errorf("batch item %d (%s): %w", i, item.Context.Operation, err)
		}
	}
	return results, nil
}

func executeParallel[T any](ctx context.Context, e *Executor, items []BatchItem[T], opts BatchOptions, results []BatchResult[T]) error {
	g, gctx := errgroup.WithContext(ctx)
	if opts.Concurrency > 0 {
		g.SetLimit(opts.Concurrency)
	}

	for i, item := range items {
		g.Go(func() error {
			if opts.FailFast && gctx.Err() != nil {
				results[i] = BatchResult[T]{Err: fmt.Errorf("%w: %w", ErrBatchAborted, gctx.Err())}
				return nil
			}
			runCtx := ctx
			if opts.FailFast {
				runCtx = gctx
			}
			value, err := Execute(runCtx, e, item.Op, item.Context, item.Config)
			results[i] = BatchResult[T]{Success: err == nil, Value: value, Err: err}
			if err != nil && opts.FailFast {
				return fmt.Errorf("batch item %d (%s): %w", i, item.Context.Operation, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func markAborted[T any](results []BatchResult[T], err error) {
	for i := range results {
		results[i] = BatchResult[T]{Err: err}
	}
}

// ExecuteWithCircuitBreaker runs op through Execute with every attempt
// guarded by breaker under key. An open circuit fails the attempt with
// types.ErrCircuitOpen, which is not retried.
func ExecuteWithCircuitBreaker[T any](ctx context.Context, e *Executor, breaker *circuitbreaker.Breaker, key string, op Operation[T], ectx types.ErrorContext, override *Config) (T, error) {
	guarded := func(ctx context.Context) (T, error) {
		var zero T
		if !breaker.Allow(key) {
			e.logger.Warn(logger.ComponentRetry, logger.CategoryHealth, internal.GetRequestID(ctx),
				"Circuit open, rejecting attempt", map[string]interface{}{
					"key":       key,
					"operation": ectx.Operation,
				})
			return zero, fmt.Errorf("%s: %w", key, types.ErrCircuitOpen)
		}
		value, err := op(ctx)
		if err != nil {
			if ctx.Err() != nil {
				breaker.Release(key)
			} else {
				breaker.RecordFailure(key)
			}
			return zero, err
		}
		breaker.RecordSuccess(key)
		return value, nil
	}

	return Execute(ctx, e, guarded, ectx, override)
}
