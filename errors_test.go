package redis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"testing"

	"github.com/pior/redis/resp"
	"github.com/stretchr/testify/require"
)

func TestIsRetriable(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retriable bool
	}{
		{"nil", nil, false},
		{"not connected", ErrNotConnected, true},
		{"closed conn", net.ErrClosed, true},
		{"reset", syscall.ECONNRESET, true},
		{"refused", &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, true},
		{"broken pipe", &resp.ConnectionError{Op: "write", Err: syscall.EPIPE}, true},
		{"read timeout", &resp.ConnectionError{Op: "read", Err: os.ErrDeadlineExceeded}, true},
		{"wrapped", fmt.Errorf("redis: auth: %w", syscall.ECONNABORTED), true},
		{"error reply", &resp.ErrorReply{Message: "ERR unknown command"}, false},
		{"protocol", &resp.ProtocolError{Message: "bad marker", Err: resp.ErrInvalidState}, false},
		{"eof", &resp.ProtocolError{Message: "closed", Err: resp.ErrEOF}, false},
		{"manual close", ErrConnectionClosed, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, false},
		{"subscribe mode", ErrSubscriptionActive, false},
		{"other", io.ErrUnexpectedEOF, false},
		{"plain", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.retriable, IsRetriable(tt.err))
		})
	}
}

func TestIsFatal(t *testing.T) {
	require.True(t, isFatal(fmt.Errorf("redis: auth: %w", &resp.ErrorReply{Message: "WRONGPASS"})))
	require.True(t, isFatal(&resp.ProtocolError{Err: resp.ErrEOF}))
	require.True(t, isFatal(ErrConnectionClosed))
	require.True(t, isFatal(context.Canceled))
	require.False(t, isFatal(syscall.ECONNREFUSED))
	require.False(t, isFatal(ErrNotConnected))
}
