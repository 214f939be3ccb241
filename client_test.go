package redis

import (
	"context"
	"errors"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/pior/redis/internal/testutils"
	"github.com/pior/redis/resp"
	"github.com/stretchr/testify/require"
)

func TestClientIsLazy(t *testing.T) {
	srv := testutils.NewServer(t)
	client := newTestClient(t, srv)

	require.Zero(t, srv.Dials())
	require.False(t, client.IsConnected())
	require.Equal(t, srv.Addr(), client.Addr())

	require.Equal(t, "PONG", mustDo(t, client, "PING").Text())
	require.Equal(t, 1, srv.Dials())
	require.True(t, client.IsConnected())
}

func TestDial(t *testing.T) {
	srv := testutils.NewServer(t)

	client, err := Dial(testContext(t), testOptions(srv))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	require.Equal(t, 1, srv.Dials())
	require.True(t, client.IsConnected())
}

func TestDialURL(t *testing.T) {
	srv := testutils.NewServer(t)

	client, err := DialURL(testContext(t), "redis://"+srv.Addr()+"/2?name=tester")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	require.Equal(t, "tester", mustDo(t, client, "CLIENT", "GETNAME").Text())
	require.Contains(t, srv.CommandLines(), "SELECT 2")

	_, err = DialURL(testContext(t), "http://"+srv.Addr())
	require.Error(t, err)
}

func TestClientCommands(t *testing.T) {
	srv := testutils.NewServer(t)
	client := newTestClient(t, srv)

	require.Equal(t, resp.OK, mustDo(t, client, "SET", "counter", 41))
	require.Equal(t, resp.Integer(42), mustDo(t, client, "INCR", "counter"))
	require.Equal(t, "42", mustDo(t, client, "GET", "counter").Text())
	require.True(t, mustDo(t, client, "GET", "missing").IsNil())

	reply, err := client.SendCommand(testContext(t), NewCommand("ECHO", []byte{0, 1, 2}))
	require.NoError(t, err)
	require.Equal(t, []byte{0, 1, 2}, reply.Bytes())
}

func TestClientServerErrorIsNotRetried(t *testing.T) {
	srv := testutils.NewServer(t)
	client := newTestClient(t, srv)

	_, err := client.Do(testContext(t), "NOPE")
	requireErrorReply(t, err, "ERR")
	require.False(t, IsRetriable(err))

	require.Equal(t, 1, srv.Dials())
	require.Equal(t, []string{"NOPE"}, srv.CommandLines())
	require.True(t, client.IsConnected())

	stats := client.Stats()
	require.Equal(t, uint64(1), stats.Commands)
	require.Equal(t, uint64(1), stats.Errors)
	require.Zero(t, stats.Retries)
}

func TestClientRetriesOnBrokenConnection(t *testing.T) {
	srv := testutils.NewServer(t)
	client := newTestClient(t, srv)

	mustDo(t, client, "SET", "key", "value")
	srv.BreakConnections(syscall.ECONNRESET)

	require.Equal(t, "value", mustDo(t, client, "GET", "key").Text())
	require.Equal(t, 2, srv.Dials())

	stats := client.Stats()
	require.Equal(t, uint64(1), stats.Retries)
	require.Equal(t, uint64(2), stats.Connects)
	require.Zero(t, stats.Errors)
}

func TestClientRetryIsBounded(t *testing.T) {
	srv := testutils.NewServer(t)
	backoff := newRecordingBackoff()
	client := newTestClient(t, srv, func(o *Options) {
		o.MaxRetryCount = 3
		o.Backoff = backoff.Func
	})

	mustDo(t, client, "PING")
	srv.FailDials(syscall.ECONNREFUSED)
	srv.BreakConnections(syscall.ECONNRESET)

	_, err := client.Do(testContext(t), "PING")
	require.Error(t, err)
	require.True(t, IsRetriable(err))

	require.Equal(t, 1+3, srv.Dials())
	require.Equal(t, []int{0, 1, 2}, backoff.calls())
	require.Equal(t, uint64(3), client.Stats().Retries)

	// the client recovers once the server is reachable again
	srv.FailDials(nil)
	require.Equal(t, "PONG", mustDo(t, client, "PING").Text())
}

func TestClientRetriesDisabled(t *testing.T) {
	srv := testutils.NewServer(t)
	client := newTestClient(t, srv, func(o *Options) { o.MaxRetryCount = -1 })

	mustDo(t, client, "PING")
	srv.BreakConnections(syscall.ECONNRESET)

	_, err := client.Do(testContext(t), "PING")
	require.ErrorIs(t, err, syscall.ECONNRESET)
	require.Equal(t, 1, srv.Dials())
}

func TestClientLazyConnectFailure(t *testing.T) {
	srv := testutils.NewServer(t)
	srv.FailDials(syscall.ECONNREFUSED)
	client := newTestClient(t, srv, func(o *Options) { o.MaxRetryCount = 2 })

	_, err := client.Do(testContext(t), "PING")
	require.ErrorIs(t, err, syscall.ECONNREFUSED)
	require.Equal(t, 2, srv.Dials())

	srv.FailDials(nil)
	require.Equal(t, "PONG", mustDo(t, client, "PING").Text())
}

func TestClientClose(t *testing.T) {
	srv := testutils.NewServer(t)
	client := newTestClient(t, srv)

	mustDo(t, client, "PING")
	require.NoError(t, client.Close())
	require.True(t, client.IsClosed())
	require.False(t, client.IsConnected())

	_, err := client.Do(testContext(t), "PING")
	require.ErrorIs(t, err, ErrConnectionClosed)
	require.Equal(t, 1, srv.Dials())

	// Connect reopens the client
	require.NoError(t, client.Connect(testContext(t)))
	require.False(t, client.IsClosed())
	require.Equal(t, "PONG", mustDo(t, client, "PING").Text())
}

func TestClientQuit(t *testing.T) {
	srv := testutils.NewServer(t)
	client := newTestClient(t, srv)

	mustDo(t, client, "PING")
	require.NoError(t, client.Quit(testContext(t)))
	require.True(t, client.IsClosed())
	require.Equal(t, []string{"PING", "QUIT"}, srv.CommandLines())
}

func TestClientConcurrentCommandsAreOrdered(t *testing.T) {
	srv := testutils.NewServer(t)
	client := newTestClient(t, srv)
	ctx := testContext(t)

	results := make([]<-chan Result, 100)
	for i := range results {
		results[i] = client.Go(ctx, NewCommand("SET", "key", i))
	}
	final := client.Go(ctx, NewCommand("GET", "key"))

	for _, ch := range results {
		res := <-ch
		require.NoError(t, res.Err)
		require.Equal(t, resp.OK, res.Reply)
	}

	res := <-final
	require.NoError(t, res.Err)
	require.Equal(t, "99", res.Reply.Text())

	lines := srv.CommandLines()
	require.Len(t, lines, 101)
	for i := range 100 {
		require.Equal(t, "SET key "+strconv.Itoa(i), lines[i])
	}
}

func TestClientConcurrentCommandsStayOrderedAcrossRetry(t *testing.T) {
	srv := testutils.NewServer(t)
	client := newTestClient(t, srv)
	ctx := testContext(t)

	var broken sync.Once
	srv.Handle("ECHO", func(args []string) resp.Reply {
		if args[1] == "3" {
			first := false
			broken.Do(func() {
				first = true
				srv.BreakConnections(syscall.ECONNRESET)
			})
			if first {
				return resp.Reply{}
			}
		}
		return resp.BulkString(args[1])
	})

	results := make([]<-chan Result, 8)
	for i := range results {
		results[i] = client.Go(ctx, NewCommand("ECHO", i))
	}

	for i, ch := range results {
		res := <-ch
		require.NoError(t, res.Err)
		require.Equal(t, strconv.Itoa(i), res.Reply.Text())
	}

	var echoes []string
	for _, line := range srv.CommandLines() {
		if strings.HasPrefix(line, "ECHO ") {
			echoes = append(echoes, strings.TrimPrefix(line, "ECHO "))
		}
	}
	require.Equal(t, []string{"0", "1", "2", "3", "3", "4", "5", "6", "7"}, echoes)
	require.Equal(t, 2, srv.Dials())
	require.Equal(t, uint64(1), client.Stats().Retries)
}

func TestClientConcurrentCallers(t *testing.T) {
	srv := testutils.NewServer(t)
	client := newTestClient(t, srv)
	ctx := testContext(t)

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 10 {
				_, err := client.Do(ctx, "INCR", "hits")
				if err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	require.Equal(t, "200", mustDo(t, client, "GET", "hits").Text())
	require.Equal(t, 1, srv.Dials())
}

func TestClientSkipsCanceledCommands(t *testing.T) {
	srv := testutils.NewServer(t)
	client := newTestClient(t, srv)
	mustDo(t, client, "PING")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Do(ctx, "SET", "key", "value")
	require.ErrorIs(t, err, context.Canceled)

	require.True(t, mustDo(t, client, "GET", "key").IsNil())
	require.NotContains(t, srv.CommandLines(), "SET key value")
}

func TestClientCommandDeadline(t *testing.T) {
	srv := testutils.NewServer(t)
	client := newTestClient(t, srv)
	mustDo(t, client, "PING")

	srv.Handle("BLOCK", func([]string) resp.Reply { return resp.Reply{} })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Do(ctx, "BLOCK")
	require.Error(t, err)
	require.True(t, errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded), err)
}

func TestClientGoContextCanceled(t *testing.T) {
	srv := testutils.NewServer(t)
	client := newTestClient(t, srv)
	mustDo(t, client, "PING")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := <-client.Go(ctx, NewCommand("PING"))
	require.ErrorIs(t, res.Err, context.Canceled)
}

func TestClientPipeline(t *testing.T) {
	srv := testutils.NewServer(t)
	client := newTestClient(t, srv)
	ctx := testContext(t)

	p := client.Pipeline()
	placeholder, err := p.Do(ctx, "SET", "a", 1)
	require.NoError(t, err)
	require.Equal(t, resp.OK, placeholder)
	p.Do(ctx, "INCR", "a")
	p.Do(ctx, "NOPE")
	p.Do(ctx, "GET", "a")
	require.Equal(t, 4, p.Len())

	replies, err := p.Flush(ctx)
	require.NoError(t, err)
	require.Len(t, replies, 4)
	require.Equal(t, resp.OK, replies[0])
	require.Equal(t, resp.Integer(2), replies[1])
	require.Equal(t, resp.KindError, replies[2].Kind)
	requireErrorReply(t, replies[2].Err(), "ERR")
	require.Equal(t, "2", replies[3].Text())

	require.Zero(t, p.Len())

	stats := client.Stats()
	require.Equal(t, uint64(1), stats.Pipelines)
	require.Equal(t, uint64(4), stats.PipelinedCommands)
}

func TestClientPipelineEmpty(t *testing.T) {
	srv := testutils.NewServer(t)
	client := newTestClient(t, srv)

	replies, err := client.Pipeline().Flush(testContext(t))
	require.NoError(t, err)
	require.Empty(t, replies)
	require.Empty(t, srv.Commands())
}

func TestClientPipelineRetriesBatch(t *testing.T) {
	srv := testutils.NewServer(t)
	client := newTestClient(t, srv)
	ctx := testContext(t)
	mustDo(t, client, "PING")

	srv.BreakConnections(syscall.ECONNRESET)

	p := client.Pipeline()
	p.Do(ctx, "SET", "a", "x")
	p.Do(ctx, "GET", "a")

	replies, err := p.Flush(ctx)
	require.NoError(t, err)
	require.Equal(t, []resp.Reply{resp.OK, resp.BulkString("x")}, replies)
	require.Equal(t, 2, srv.Dials())
}

func TestClientTx(t *testing.T) {
	srv := testutils.NewServer(t)
	client := newTestClient(t, srv)
	ctx := testContext(t)

	tx := client.Tx()
	tx.Do(ctx, "SET", "a", 10)
	tx.Do(ctx, "INCR", "a")

	replies, err := tx.Flush(ctx)
	require.NoError(t, err)
	require.Len(t, replies, 2+2)
	require.Equal(t, resp.OK, replies[0])
	require.Equal(t, resp.SimpleString("QUEUED"), replies[1])
	require.Equal(t, resp.SimpleString("QUEUED"), replies[2])
	require.Equal(t, resp.Array(resp.OK, resp.Integer(11)), replies[3])

	require.Equal(t, []string{"MULTI", "SET a 10", "INCR a", "EXEC"}, srv.CommandLines())
}

func TestClientTxEmpty(t *testing.T) {
	srv := testutils.NewServer(t)
	client := newTestClient(t, srv)

	replies, err := client.Tx().Flush(testContext(t))
	require.NoError(t, err)
	require.Equal(t, []resp.Reply{resp.OK, resp.Array()}, replies)
}

func TestClientPipelineConcurrentFlushes(t *testing.T) {
	srv := testutils.NewServer(t)
	client := newTestClient(t, srv)
	ctx := testContext(t)
	p := client.Pipeline()

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Do(ctx, "INCR", "n")
			if _, err := p.Flush(ctx); err != nil {
				t.Error(err, i)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, "10", mustDo(t, client, "GET", "n").Text())
}
