package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
)

// Breaker fails fast with ErrEngineUnavailable once the wrapped engine has
// been unreachable for MaxFailures consecutive calls. Only unavailability
// trips it; a missing container or a failing command is a healthy engine.
type Breaker struct {
	next Engine
	cb   *gobreaker.CircuitBreaker
}

type BreakerOptions struct {
	MaxFailures   uint32
	OpenTimeout   time.Duration
	OnStateChange func(from, to gobreaker.State)
}

func NewBreaker(next Engine, opts BreakerOptions) *Breaker {
	if opts.MaxFailures == 0 {
		opts.MaxFailures = 3
	}
	settings := gobreaker.Settings{
		Name:    "container-engine",
		Timeout: opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.MaxFailures
		},
		IsSuccessful: func(err error) bool {
			return !errors.Is(err, ErrEngineUnavailable)
		},
	}
	if opts.OnStateChange != nil {
		settings.OnStateChange = func(_ string, from, to gobreaker.State) {
			opts.OnStateChange(from, to)
		}
	}
	return &Breaker{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

// State exposes the breaker state for metrics.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

func (b *Breaker) do(fn func() error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	return err
}

func (b *Breaker) Inspect(ctx context.Context, name string) (Container, error) {
	var c Container
	err := b.do(func() error {
		var err error
		c, err = b.next.Inspect(ctx, name)
		return err
	})
	return c, err
}

func (b *Breaker) Stop(ctx context.Context, names ...string) error {
	return b.do(func() error { return b.next.Stop(ctx, names...) })
}

func (b *Breaker) Start(ctx context.Context, names ...string) error {
	return b.do(func() error { return b.next.Start(ctx, names...) })
}

func (b *Breaker) Recreate(ctx context.Context, name string) error {
	return b.do(func() error { return b.next.Recreate(ctx, name) })
}

func (b *Breaker) Exec(ctx context.Context, name string, cmd ...string) (string, error) {
	var out string
	err := b.do(func() error {
		var err error
		out, err = b.next.Exec(ctx, name, cmd...)
		return err
	})
	return out, err
}

func (b *Breaker) LogTail(ctx context.Context, name string) (string, error) {
	var out string
	err := b.do(func() error {
		var err error
		out, err = b.next.LogTail(ctx, name)
		return err
	})
	return out, err
}
