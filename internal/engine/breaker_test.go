package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hubctl/internal/engine"
	"hubctl/internal/engine/enginetest"
)

func TestBreaker_OpensOnUnavailable(t *testing.T) {
	t.Parallel()

	fake := enginetest.New()
	fake.Err = errors.Join(engine.ErrEngineUnavailable, errors.New("socket gone"))
	b := engine.NewBreaker(fake, engine.BreakerOptions{MaxFailures: 2, OpenTimeout: time.Minute})

	for i := 0; i < 2; i++ {
		_, err := b.Inspect(context.Background(), "hub-x")
		require.ErrorIs(t, err, engine.ErrEngineUnavailable)
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	fake.Err = nil
	_, err := b.Inspect(context.Background(), "hub-x")
	assert.ErrorIs(t, err, engine.ErrEngineUnavailable, "open breaker fails fast")
}

func TestBreaker_NotFoundDoesNotTrip(t *testing.T) {
	t.Parallel()

	fake := enginetest.New()
	b := engine.NewBreaker(fake, engine.BreakerOptions{MaxFailures: 1, OpenTimeout: time.Minute})

	for i := 0; i < 3; i++ {
		_, err := b.Inspect(context.Background(), "missing")
		require.ErrorIs(t, err, engine.ErrNotFound)
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
}
