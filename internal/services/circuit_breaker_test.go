package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreaker_OpensAfterFailuresAndRecovers(t *testing.T) {
	cb := NewCircuitBreaker("generation", 2, 1, time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cb.now = func() time.Time { return now }
	boom := errors.New("boom")
	fail := func(ctx context.Context) error { return boom }
	ok := func(ctx context.Context) error { return nil }

	assert.ErrorIs(t, cb.Call(context.Background(), fail), boom)
	assert.Equal(t, StateClosed, cb.State())
	assert.ErrorIs(t, cb.Call(context.Background(), fail), boom)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Call(context.Background(), func(ctx context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	now = now.Add(time.Minute)
	assert.NoError(t, cb.Call(context.Background(), ok))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("generation", 1, 1, time.Second)
	now := time.Now()
	cb.now = func() time.Time { return now }
	fail := func(ctx context.Context) error { return context.DeadlineExceeded }

	_ = cb.Call(context.Background(), fail)
	assert.Equal(t, StateOpen, cb.State())

	now = now.Add(2 * time.Second)
	_ = cb.Call(context.Background(), fail)
	assert.Equal(t, StateOpen, cb.State())
	assert.Equal(t, "open", cb.Stats()["state"])
}

func TestCircuitBreaker_CancellationIsNotAFailure(t *testing.T) {
	cb := NewCircuitBreaker("generation", 1, 1, time.Minute)

	err := cb.Call(context.Background(), func(ctx context.Context) error { return context.Canceled })

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, cb.State())
}
