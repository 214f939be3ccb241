package redis

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/pior/redis/internal/testutils"
	"github.com/pior/redis/resp"
	"github.com/stretchr/testify/require"
)

func testOptions(srv *testutils.Server) Options {
	return Options{
		Hostname:      srv.Host(),
		Port:          srv.Port(),
		Dialer:        srv.Dial,
		MaxRetryCount: 3,
		Backoff:       ConstantBackoff(time.Millisecond),
		Logger:        slog.New(slog.DiscardHandler),
	}
}

func newTestClient(t testing.TB, srv *testutils.Server, configure ...func(*Options)) *Client {
	t.Helper()

	opts := testOptions(srv)
	for _, fn := range configure {
		fn(&opts)
	}

	client := NewClient(opts)
	t.Cleanup(func() { client.Close() })
	return client
}

func testContext(t testing.TB) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func mustDo(t testing.TB, client *Client, name string, args ...any) resp.Reply {
	t.Helper()
	reply, err := client.Do(testContext(t), name, args...)
	require.NoError(t, err)
	return reply
}

func requireErrorReply(t testing.TB, err error, prefix string) {
	t.Helper()
	var replyErr *resp.ErrorReply
	require.ErrorAs(t, err, &replyErr)
	require.Equal(t, prefix, replyErr.Prefix())
}

// recordingBackoff records the attempts it is called with.
type recordingBackoff struct {
	attempts chan int
}

func newRecordingBackoff() *recordingBackoff {
	return &recordingBackoff{attempts: make(chan int, 100)}
}

func (b *recordingBackoff) Func(attempt int) time.Duration {
	b.attempts <- attempt
	return time.Millisecond
}

func (b *recordingBackoff) calls() []int {
	var out []int
	for {
		select {
		case a := <-b.attempts:
			out = append(out, a)
		default:
			return out
		}
	}
}
