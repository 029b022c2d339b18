package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/jonathan/style-forge/internal/types"
)

// WithRetry wraps gen so that a single task's generation is retried up to attempts
// times in total, waiting backoff (doubling each time) between tries. Retries happen
// inside one task's attempt and never involve other tasks. Context errors are not retried.
func WithRetry(gen types.Generator, attempts int, backoff time.Duration) types.Generator {
	if attempts <= 1 {
		return gen
	}
	return &retryingGenerator{gen: gen, attempts: attempts, backoff: backoff}
}

type retryingGenerator struct {
	gen      types.Generator
	attempts int
	backoff  time.Duration
}

func (r *retryingGenerator) Generate(ctx context.Context, source types.Artifact, style types.Style, guidance string) (types.Artifact, error) {
	var lastErr error
	delay := r.backoff
	for i := 0; i < r.attempts; i++ {
		if i > 0 {
			if err := sleep(ctx, delay); err != nil {
				return types.Artifact{}, lastErr
			}
			delay *= 2
		}

		a, err := r.gen.Generate(ctx, source, style, guidance)
		if err == nil && !a.IsEmpty() {
			return a, nil
		}
		if err == nil {
			err = types.ErrNoArtifact
		}
		lastErr = err
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			break
		}
	}
	return types.Artifact{}, lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
