package redis

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/pior/redis/resp"
)

// Connection owns the byte stream to one server: it dials, runs the
// AUTH/SELECT handshake, reconnects and health-checks.
//
// Commands are not sent on a Connection directly. The dispatch queue, the
// pipeline executor and the subscription use its unexported primitives, and
// the dispatch queue guarantees a single request/response exchange at a time.
type Connection struct {
	opts   Options
	addr   string
	logger *slog.Logger
	stats  *clientStatsCollector
	queue  *dispatchQueue

	mu              sync.Mutex
	netConn         net.Conn
	reader          *bufio.Reader
	writer          *bufio.Writer
	connected       bool
	closed          bool
	subscribed      bool
	stopHealthCheck chan struct{}

	// writes may come from the queue and from subscription control commands
	writeMu sync.Mutex
}

// rawConn is the surface shared with the dispatch queue, the pipeline
// executor and the subscription. It stays unexported so the public client API
// cannot interleave raw reads and writes.
type rawConn interface {
	writeCommand(ctx context.Context, cmds ...Command) error
	readReply(ctx context.Context) (resp.Reply, error)
	roundTrip(ctx context.Context, cmd Command) (resp.Reply, error)
	pipeline(ctx context.Context, cmds []Command) ([]resp.Reply, error)
}

var _ rawConn = (*Connection)(nil)

// NewConnection returns a Connection for opts. It does not dial.
func NewConnection(opts Options) *Connection {
	return newConnection(opts.withDefaults(), newClientStatsCollector())
}

func newConnection(opts Options, stats *clientStatsCollector) *Connection {
	c := &Connection{
		opts:   opts,
		addr:   opts.Addr(),
		stats:  stats,
		logger: opts.Logger.With("addr", opts.Addr()),
	}
	c.queue = &dispatchQueue{conn: c}
	return c
}

// Addr returns the server address.
func (c *Connection) Addr() string {
	return c.addr
}

// IsConnected reports whether the last I/O on the stream succeeded.
func (c *Connection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// IsClosed reports whether Close was called.
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Connection) isManuallyClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed && !c.connected
}

func (c *Connection) setSubscribed(subscribed bool) {
	c.mu.Lock()
	c.subscribed = subscribed
	c.mu.Unlock()
}

func (c *Connection) isSubscribed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribed
}

// Connect dials and runs the handshake. Failed attempts are retried up to
// MaxRetryCount times in total, waiting Backoff(attempt) in between.
// Handshake rejections by the server (AUTH, SELECT) are returned at once.
//
// Connect reopens a Connection that was closed.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.closed = false
	c.mu.Unlock()

	return c.connect(ctx)
}

func (c *Connection) connect(ctx context.Context) error {
	attempts := c.opts.maxAttempts()

	for attempt := 0; ; attempt++ {
		err := c.connectOnce(ctx)
		if err == nil {
			return nil
		}
		if isFatal(err) {
			return err
		}

		c.logger.Warn("redis: connect failed", "attempt", attempt+1, "error", err)
		if attempt+1 >= attempts {
			return err
		}
		if err := sleep(ctx, c.opts.Backoff(attempt)); err != nil {
			return err
		}
	}
}

// connectOnce makes a single connection attempt. It refuses to resurrect a
// closed Connection.
func (c *Connection) connectOnce(ctx context.Context) error {
	if c.IsClosed() {
		return ErrConnectionClosed
	}

	nc, err := c.dial(ctx)
	if err != nil {
		c.stats.recordConnectError()
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		nc.Close()
		return ErrConnectionClosed
	}
	old := c.netConn
	c.netConn = nc
	c.reader = bufio.NewReader(nc)
	c.writer = bufio.NewWriter(nc)
	c.connected = true
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}

	if err := c.handshake(ctx); err != nil {
		c.stats.recordConnectError()
		c.dropStream(nc)
		return err
	}

	c.stats.recordConnect()
	c.logger.Debug("redis: connected", "db", c.opts.DB)
	c.startHealthCheck()
	return nil
}

func (c *Connection) dial(ctx context.Context) (net.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	defer cancel()

	nc, err := c.opts.Dialer(dialCtx, "tcp", c.addr)
	if err != nil {
		return nil, err
	}

	if !c.opts.TLS {
		return nc, nil
	}

	cfg := c.opts.TLSConfig
	if cfg == nil {
		cfg = &tls.Config{ServerName: c.opts.Hostname}
	} else if cfg.ServerName == "" && !cfg.InsecureSkipVerify {
		cfg = cfg.Clone()
		cfg.ServerName = c.opts.Hostname
	}

	tc := tls.Client(nc, cfg)
	if err := tc.HandshakeContext(dialCtx); err != nil {
		nc.Close()
		return nil, err
	}
	return tc, nil
}

// handshake runs inline, outside the dispatch queue.
func (c *Connection) handshake(ctx context.Context) error {
	if c.opts.Password != "" {
		auth := NewCommand("AUTH", c.opts.Password)
		if c.opts.Username != "" {
			auth = NewCommand("AUTH", c.opts.Username, c.opts.Password)
		}
		if _, err := c.roundTrip(ctx, auth); err != nil {
			return fmt.Errorf("redis: auth: %w", err)
		}
	}

	if c.opts.DB != 0 {
		if _, err := c.roundTrip(ctx, NewCommand("SELECT", c.opts.DB)); err != nil {
			return fmt.Errorf("redis: select db %d: %w", c.opts.DB, err)
		}
	}

	if c.opts.Name != "" {
		if _, err := c.roundTrip(ctx, NewCommand("CLIENT", "SETNAME", c.opts.Name)); err != nil {
			return fmt.Errorf("redis: client setname: %w", err)
		}
	}

	return nil
}

// Reconnect checks the connection with a PING. If the PING fails, the
// stream is replaced by a new connection and checked again.
//
// Reconnect reopens a Connection that was closed.
func (c *Connection) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	c.closed = false
	c.mu.Unlock()

	return c.reconnect(ctx)
}

func (c *Connection) reconnect(ctx context.Context) error {
	if err := c.ping(ctx); err == nil {
		return nil
	}

	c.closeTransport()
	if err := c.connect(ctx); err != nil {
		return err
	}
	return c.ping(ctx)
}

// ping goes through the dispatch queue without retries.
func (c *Connection) ping(ctx context.Context) error {
	return c.queue.do(ctx, func(ctx context.Context) error {
		_, err := c.roundTrip(ctx, pingCommand())
		return err
	}, false)
}

// Close marks the connection closed and releases the stream. Pending and
// future commands fail with ErrConnectionClosed and nothing reconnects
// until Connect is called again.
func (c *Connection) Close() error {
	c.mu.Lock()
	c.closed = true
	c.connected = false
	nc := c.netConn
	c.netConn, c.reader, c.writer = nil, nil, nil
	if c.stopHealthCheck != nil {
		close(c.stopHealthCheck)
		c.stopHealthCheck = nil
	}
	c.mu.Unlock()

	if nc == nil {
		return nil
	}

	c.logger.Debug("redis: connection closed")
	if err := nc.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// closeTransport drops the stream without marking the connection closed.
func (c *Connection) closeTransport() {
	c.mu.Lock()
	nc := c.netConn
	c.netConn, c.reader, c.writer = nil, nil, nil
	c.connected = false
	c.mu.Unlock()

	if nc != nil {
		nc.Close()
	}
}

// dropStream drops nc if it is still the current stream.
func (c *Connection) dropStream(nc net.Conn) {
	c.mu.Lock()
	if c.netConn == nc {
		c.netConn, c.reader, c.writer = nil, nil, nil
		c.connected = false
	}
	c.mu.Unlock()

	nc.Close()
}

func (c *Connection) markConnected(nc net.Conn) {
	c.mu.Lock()
	if c.netConn == nc && !c.closed {
		c.connected = true
	}
	c.mu.Unlock()
}

func (c *Connection) markDisconnected() {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

func (c *Connection) stream() (net.Conn, *bufio.Reader, *bufio.Writer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.netConn == nil {
		if c.closed {
			return nil, nil, nil, ErrConnectionClosed
		}
		return nil, nil, nil, ErrNotConnected
	}
	return c.netConn, c.reader, c.writer, nil
}

func (c *Connection) writeCommand(ctx context.Context, cmds ...Command) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	nc, _, w, err := c.stream()
	if err != nil {
		return err
	}
	setDeadline(ctx, nc.SetWriteDeadline)

	for _, cmd := range cmds {
		if err := resp.WriteCommand(w, cmd.Name, cmd.encodedArgs()); err != nil {
			c.dropStream(nc)
			return &resp.ConnectionError{Op: "write", Err: err}
		}
	}
	if err := w.Flush(); err != nil {
		c.dropStream(nc)
		return &resp.ConnectionError{Op: "write", Err: err}
	}

	return nil
}

func (c *Connection) readReply(ctx context.Context) (resp.Reply, error) {
	nc, r, _, err := c.stream()
	if err != nil {
		return resp.Reply{}, err
	}
	setDeadline(ctx, nc.SetReadDeadline)

	reply, err := resp.ReadReply(r)
	if err != nil {
		if resp.ShouldCloseConnection(err) {
			c.dropStream(nc)
			return resp.Reply{}, err
		}
		c.markConnected(nc)
		return resp.Reply{}, err
	}

	c.markConnected(nc)
	return reply, nil
}

func (c *Connection) roundTrip(ctx context.Context, cmd Command) (resp.Reply, error) {
	if err := c.writeCommand(ctx, cmd); err != nil {
		return resp.Reply{}, err
	}
	return c.readReply(ctx)
}

// pipeline writes all commands back to back, then reads one reply per
// command. Server errors are collected as resp.KindError values; any other
// failure aborts the batch.
func (c *Connection) pipeline(ctx context.Context, cmds []Command) ([]resp.Reply, error) {
	if len(cmds) == 0 {
		return []resp.Reply{}, nil
	}

	if err := c.writeCommand(ctx, cmds...); err != nil {
		return nil, err
	}

	replies := make([]resp.Reply, 0, len(cmds))
	for range cmds {
		reply, err := c.readReply(ctx)
		if err != nil {
			var replyErr *resp.ErrorReply
			if !errors.As(err, &replyErr) {
				return nil, err
			}
			reply = resp.ErrorValue(replyErr.Message)
		}
		replies = append(replies, reply)
	}

	return replies, nil
}

func (c *Connection) startHealthCheck() {
	if c.opts.HealthCheckInterval <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopHealthCheck != nil || c.closed {
		return
	}
	c.stopHealthCheck = make(chan struct{})
	go c.healthCheckLoop(c.stopHealthCheck)
}

func (c *Connection) healthCheckLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(c.opts.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.healthCheck()
		}
	}
}

// healthCheck only records the outcome. Reconnecting is left to the next
// command going through the dispatch queue.
func (c *Connection) healthCheck() {
	if c.isManuallyClosed() {
		return
	}

	err := c.queue.do(context.Background(), func(ctx context.Context) error {
		// checked in queue order: a subscription owns the read side
		if c.isSubscribed() {
			return nil
		}
		c.stats.recordHealthCheck()
		_, err := c.roundTrip(ctx, pingCommand())
		return err
	}, false)
	if err != nil {
		c.stats.recordHealthCheckFailure()
		c.markDisconnected()
		c.logger.Warn("redis: health check failed", "error", err)
	}
}

func setDeadline(ctx context.Context, set func(time.Time) error) {
	if deadline, ok := ctx.Deadline(); ok {
		set(deadline)
	} else {
		set(time.Time{})
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
