package postgres

import (
	"context"
	"errors"

	"github.com/tuition-hub/benefit-resolver/internal/domain/shared"
	"github.com/tuition-hub/benefit-resolver/pkg/circuitbreaker"
)

// storeGuard routes repository calls through the database breaker. The zero
// value runs calls unguarded.
type storeGuard struct {
	breaker *circuitbreaker.Breaker
}

// NewStoreBreaker returns the breaker shared by the repositories. Only
// connection-level failures count against the database.
func NewStoreBreaker(onStateChange func(name string, from, to circuitbreaker.State)) *circuitbreaker.Breaker {
	return circuitbreaker.Database(IsTransient, onStateChange)
}

func guarded[T any](ctx context.Context, g storeGuard, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	if g.breaker == nil {
		return fn(ctx)
	}

	var result T
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		result, err = fn(ctx)
		return err
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		var zero T
		return zero, shared.WrapError("postgres", op, shared.ErrStoreUnavailable, "benefit store marked unavailable", err)
	}
	return result, err
}
