package redis

import (
	"context"
	"errors"
	"time"

	"github.com/pior/redis/resp"
	"github.com/sony/gobreaker/v2"
)

// CircuitBreaker guards command execution.
// *gobreaker.CircuitBreaker[resp.Reply] implements it.
type CircuitBreaker interface {
	Name() string
	State() gobreaker.State
	Counts() gobreaker.Counts
	Execute(req func() (resp.Reply, error)) (resp.Reply, error)
}

var _ CircuitBreaker = (*gobreaker.CircuitBreaker[resp.Reply])(nil)

// NewCircuitBreakerConfig returns a function that creates circuit breakers,
// for use as Options.NewCircuitBreaker.
//
// The breaker trips after at least 3 requests with a failure ratio of 60%.
// Server error replies and canceled calls do not count as failures.
func NewCircuitBreakerConfig(maxRequests uint32, interval, timeout time.Duration) func(string) CircuitBreaker {
	return func(addr string) CircuitBreaker {
		settings := gobreaker.Settings{
			Name:        addr,
			MaxRequests: maxRequests,
			Interval:    interval,
			Timeout:     timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 3 && failureRatio >= 0.6
			},
			IsSuccessful: isBreakerSuccess,
		}
		return gobreaker.NewCircuitBreaker[resp.Reply](settings)
	}
}

func isBreakerSuccess(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrSubscriptionActive) {
		return true
	}
	var replyErr *resp.ErrorReply
	return errors.As(err, &replyErr)
}
