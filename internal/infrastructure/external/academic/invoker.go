package academic

import (
	"context"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// DefaultMaxAuthRetries is how many times a call is retried after a
// successful re-authentication.
const DefaultMaxAuthRetries = 1

// Reauthenticator renews the shared session from stored credentials.
type Reauthenticator interface {
	Reauthenticate(ctx context.Context) error
}

// Invoker wraps external calls. When a call fails because the session was
// rejected it logs in again and retries; any other error is returned as is.
type Invoker struct {
	auth       Reauthenticator
	maxRetries int
	logger     *slog.Logger

	// concurrent callers hitting the same dead session share one login
	group   singleflight.Group
	reauths atomic.Int64
}

// InvokerOption configures an Invoker.
type InvokerOption func(*Invoker)

// WithMaxRetries sets the retry budget. Negative values mean no retry.
func WithMaxRetries(n int) InvokerOption {
	return func(i *Invoker) {
		if n < 0 {
			n = 0
		}
		i.maxRetries = n
	}
}

// NewInvoker creates an invoker over the re-authentication step.
func NewInvoker(auth Reauthenticator, logger *slog.Logger, opts ...InvokerOption) *Invoker {
	if logger == nil {
		logger = slog.Default()
	}
	inv := &Invoker{
		auth:       auth,
		maxRetries: DefaultMaxAuthRetries,
		logger:     logger.With("component", "academic_invoker"),
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Reauthentications returns how many re-logins this invoker triggered.
func (i *Invoker) Reauthentications() int64 {
	return i.reauths.Load()
}

// Do runs op with the invoker's retry budget.
func (i *Invoker) Do(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := Invoke(ctx, i, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Invoke runs op. On an authentication failure, while attempts remain, it
// re-authenticates and retries. If re-authentication fails, or the retries
// are used up on authentication failures, the first failure is returned.
func Invoke[T any](ctx context.Context, inv *Invoker, op func(ctx context.Context) (T, error)) (T, error) {
	return InvokeWithRetries(ctx, inv, inv.maxRetries, op)
}

// InvokeWithRetries is Invoke with an explicit retry budget.
func InvokeWithRetries[T any](ctx context.Context, inv *Invoker, maxRetries int, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var original error

	for attempt := 0; ; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		if !IsAuthFailure(err) {
			return zero, err
		}
		if original == nil {
			original = err
		}
		if attempt >= maxRetries {
			return zero, original
		}

		if rerr := inv.reauthenticate(ctx); rerr != nil {
			inv.logger.Warn("re-authentication failed", "attempt", attempt+1, "error", rerr)
			return zero, original
		}
		inv.logger.Info("session renewed, retrying call", "attempt", attempt+1)
	}
}

func (i *Invoker) reauthenticate(ctx context.Context) error {
	_, err, _ := i.group.Do("reauthenticate", func() (any, error) {
		i.reauths.Add(1)
		return nil, i.auth.Reauthenticate(ctx)
	})
	return err
}

// ══════════════════════════════════════════════════════════════════════════════
// GATEWAY
// ══════════════════════════════════════════════════════════════════════════════

// Gateway exposes the client's read operations with every call routed
// through an Invoker. It is what the pipeline depends on.
type Gateway struct {
	client  *Client
	invoker *Invoker
}

// NewGateway creates a gateway.
func NewGateway(client *Client, invoker *Invoker) *Gateway {
	return &Gateway{client: client, invoker: invoker}
}

func (g *Gateway) SearchPersons(ctx context.Context, criteria string) ([]PersonDTO, error) {
	return Invoke(ctx, g.invoker, func(ctx context.Context) ([]PersonDTO, error) {
		return g.client.SearchPersons(ctx, criteria)
	})
}

func (g *Gateway) GetKardex(ctx context.Context, personID string) ([]Block, error) {
	return Invoke(ctx, g.invoker, func(ctx context.Context) ([]Block, error) {
		return g.client.GetKardex(ctx, personID)
	})
}

func (g *Gateway) GetPayments(ctx context.Context, personID string) ([]Block, error) {
	return Invoke(ctx, g.invoker, func(ctx context.Context) ([]Block, error) {
		return g.client.GetPayments(ctx, personID)
	})
}

func (g *Gateway) GetInvoiceDetail(ctx context.Context, ref InvoiceRef) (Block, error) {
	return Invoke(ctx, g.invoker, func(ctx context.Context) (Block, error) {
		return g.client.GetInvoiceDetail(ctx, ref)
	})
}

func (g *Gateway) GetCatalog(ctx context.Context, name string) ([]Block, error) {
	return Invoke(ctx, g.invoker, func(ctx context.Context) ([]Block, error) {
		return g.client.GetCatalog(ctx, name)
	})
}

// Ping checks reachability without touching the session.
func (g *Gateway) Ping(ctx context.Context) error {
	return g.client.Ping(ctx)
}
