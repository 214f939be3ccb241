package redis

import (
	"context"
	"errors"
	"net"
	"syscall"

	"github.com/pior/redis/resp"
)

var (
	// ErrConnectionClosed is returned once the connection was closed by the
	// caller. It is never retried.
	ErrConnectionClosed = errors.New("redis: connection closed")

	// ErrNotConnected is returned when no stream is open. It is retriable:
	// the dispatch queue reconnects before giving up.
	ErrNotConnected = errors.New("redis: not connected")

	// ErrSubscriptionActive is returned by regular commands while the client
	// connection is in subscribe mode.
	ErrSubscriptionActive = errors.New("redis: connection is in subscribe mode")

	// ErrSubscriptionConsumed is yielded when the message sequence of a
	// subscription is iterated a second time.
	ErrSubscriptionConsumed = errors.New("redis: subscription messages already consumed")
)

// IsRetriable reports whether err is a transport failure worth a reconnect
// and a resend.
//
// Server error replies, protocol errors, context errors and manual close are
// not retriable.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}

	var replyErr *resp.ErrorReply
	if errors.As(err, &replyErr) {
		return false
	}
	var protoErr *resp.ProtocolError
	if errors.As(err, &protoErr) {
		return false
	}
	if errors.Is(err, ErrConnectionClosed) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	if errors.Is(err, ErrNotConnected) || errors.Is(err, net.ErrClosed) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	var connErr *resp.ConnectionError
	if errors.As(err, &connErr) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// isFatal reports whether err must stop a retry loop immediately.
func isFatal(err error) bool {
	var replyErr *resp.ErrorReply
	var protoErr *resp.ProtocolError
	return errors.As(err, &replyErr) ||
		errors.As(err, &protoErr) ||
		errors.Is(err, ErrConnectionClosed) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
