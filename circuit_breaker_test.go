package redis

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/pior/redis/internal/testutils"
	"github.com/pior/redis/resp"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCircuitBreakerConfig(t *testing.T) {
	newBreaker := NewCircuitBreakerConfig(1, time.Minute, time.Minute)

	cb := newBreaker("127.0.0.1:6379")
	require.NotNil(t, cb)
	assert.Equal(t, "127.0.0.1:6379", cb.Name())
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestClientWithoutCircuitBreaker(t *testing.T) {
	srv := testutils.NewServer(t)
	client := newTestClient(t, srv)
	assert.Nil(t, client.CircuitBreaker())
}

func TestCircuitBreakerTripsOnTransportFailures(t *testing.T) {
	srv := testutils.NewServer(t)
	srv.FailDials(syscall.ECONNREFUSED)

	client := newTestClient(t, srv, func(o *Options) {
		o.MaxRetryCount = -1
		o.NewCircuitBreaker = NewCircuitBreakerConfig(1, time.Minute, time.Minute)
	})
	ctx := testContext(t)

	for range 3 {
		_, err := client.Do(ctx, "PING")
		require.ErrorIs(t, err, syscall.ECONNREFUSED)
	}
	require.Equal(t, gobreaker.StateOpen, client.CircuitBreaker().State())

	_, err := client.Do(ctx, "PING")
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	require.Equal(t, 3, srv.Dials())
}

func TestCircuitBreakerIgnoresServerErrors(t *testing.T) {
	srv := testutils.NewServer(t)
	client := newTestClient(t, srv, func(o *Options) {
		o.NewCircuitBreaker = NewCircuitBreakerConfig(1, time.Minute, time.Minute)
	})
	ctx := testContext(t)

	for range 5 {
		_, err := client.Do(ctx, "NOPE")
		requireErrorReply(t, err, "ERR")
	}

	assert.Equal(t, gobreaker.StateClosed, client.CircuitBreaker().State())
	assert.Equal(t, uint32(5), client.CircuitBreaker().Counts().TotalSuccesses)
}

func TestCircuitBreakerCustomImplementation(t *testing.T) {
	srv := testutils.NewServer(t)
	breaker := &countingBreaker{}
	client := newTestClient(t, srv, func(o *Options) {
		o.NewCircuitBreaker = func(string) CircuitBreaker { return breaker }
	})

	require.Equal(t, "PONG", mustDo(t, client, "PING").Text())
	require.Equal(t, 1, breaker.calls)
}

func TestIsBreakerSuccess(t *testing.T) {
	assert.True(t, isBreakerSuccess(nil))
	assert.True(t, isBreakerSuccess(context.Canceled))
	assert.True(t, isBreakerSuccess(ErrSubscriptionActive))
	assert.True(t, isBreakerSuccess(&resp.ErrorReply{Message: "ERR"}))
	assert.False(t, isBreakerSuccess(ErrNotConnected))
	assert.False(t, isBreakerSuccess(context.DeadlineExceeded))
	assert.False(t, isBreakerSuccess(errors.New("boom")))
}

type countingBreaker struct {
	calls int
}

func (b *countingBreaker) Name() string             { return "counting" }
func (b *countingBreaker) State() gobreaker.State   { return gobreaker.StateClosed }
func (b *countingBreaker) Counts() gobreaker.Counts { return gobreaker.Counts{} }
func (b *countingBreaker) Execute(req func() (resp.Reply, error)) (resp.Reply, error) {
	b.calls++
	return req()
}
