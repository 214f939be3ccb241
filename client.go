package redis

import (
	"context"
	"errors"
	"sync"

	"github.com/pior/redis/resp"
)

// Executor sends commands. Client, Pipeline and Pool implement it, so
// command helpers can target any of them.
type Executor interface {
	SendCommand(ctx context.Context, cmd Command) (resp.Reply, error)
}

var (
	_ Executor = (*Client)(nil)
	_ Executor = (*Pipeline)(nil)
	_ Executor = (*Pool)(nil)
)

// Result is the outcome of a command sent with Client.Go.
type Result struct {
	Reply resp.Reply
	Err   error
}

// Client sends commands over a single Connection.
//
// Concurrent calls are queued and executed one at a time in call order.
// A command failing on a transport error is retried on a new connection up
// to Options.MaxRetryCount times.
type Client struct {
	conn    *Connection
	stats   *clientStatsCollector
	breaker CircuitBreaker

	connectMu sync.Mutex
	dialed    bool

	subMu sync.Mutex
	sub   *Subscription
}

// NewClient returns a Client that connects on its first command.
func NewClient(opts Options) *Client {
	opts = opts.withDefaults()
	stats := newClientStatsCollector()

	c := &Client{
		conn:  newConnection(opts, stats),
		stats: stats,
	}
	if opts.NewCircuitBreaker != nil {
		c.breaker = opts.NewCircuitBreaker(opts.Addr())
	}
	return c
}

// Dial returns a connected Client.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	c := NewClient(opts)
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// DialURL returns a Client connected to the server described by a
// redis:// or rediss:// URL.
func DialURL(ctx context.Context, rawURL string) (*Client, error) {
	opts, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	return Dial(ctx, opts)
}

// Connect connects the client, reopening it if it was closed.
func (c *Client) Connect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	if err := c.conn.Connect(ctx); err != nil {
		return err
	}
	c.dialed = true
	return nil
}

// ensureConnected runs the first connection of a lazy client. Later
// connection losses are handled by the dispatch queue.
func (c *Client) ensureConnected(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	if c.dialed {
		return nil
	}
	if err := c.conn.connect(ctx); err != nil {
		return err
	}
	c.dialed = true
	return nil
}

// Do sends a command built from name and args.
func (c *Client) Do(ctx context.Context, name string, args ...any) (resp.Reply, error) {
	return c.SendCommand(ctx, NewCommand(name, args...))
}

// SendCommand sends cmd and returns its reply. A server error reply is
// returned as a *resp.ErrorReply error.
func (c *Client) SendCommand(ctx context.Context, cmd Command) (resp.Reply, error) {
	if c.breaker == nil {
		return c.send(ctx, cmd)
	}

	reply, err := c.breaker.Execute(func() (resp.Reply, error) {
		return c.send(ctx, cmd)
	})
	if err != nil {
		return resp.Reply{}, err
	}
	return reply, nil
}

func (c *Client) send(ctx context.Context, cmd Command) (resp.Reply, error) {
	c.stats.recordCommand()

	if err := c.ensureConnected(ctx); err != nil {
		c.stats.recordError()
		return resp.Reply{}, err
	}

	var reply resp.Reply
	err := c.conn.queue.do(ctx, c.executor(cmd, &reply), true)
	if err != nil {
		c.stats.recordError()
		return resp.Reply{}, err
	}
	return reply, nil
}

func (c *Client) executor(cmd Command, reply *resp.Reply) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		// checked in queue order, after any pending switch to subscribe mode
		if c.conn.isSubscribed() {
			return ErrSubscriptionActive
		}
		r, err := c.conn.roundTrip(ctx, cmd)
		if err != nil {
			return err
		}
		*reply = r
		return nil
	}
}

// Go queues cmd and returns a channel receiving its result. Commands queued
// with Go run in call order, interleaved with other commands of the client.
// Go does not pass through the circuit breaker.
func (c *Client) Go(ctx context.Context, cmd Command) <-chan Result {
	results := make(chan Result, 1)
	c.stats.recordCommand()

	if err := c.ensureConnected(ctx); err != nil {
		c.stats.recordError()
		results <- Result{Err: err}
		return results
	}

	var reply resp.Reply
	pc := newPendingCommand(ctx, c.executor(cmd, &reply), true)
	c.conn.queue.enqueue(pc)

	go func() {
		select {
		case err := <-pc.done:
			if err != nil {
				c.stats.recordError()
				results <- Result{Err: err}
				return
			}
			results <- Result{Reply: reply}
		case <-ctx.Done():
			results <- Result{Err: ctx.Err()}
		}
	}()

	return results
}

// Pipeline returns a pipeline sending its commands on this client.
func (c *Client) Pipeline() *Pipeline {
	return newPipeline(c, false)
}

// Tx returns a pipeline whose batches run as MULTI/EXEC transactions.
func (c *Client) Tx() *Pipeline {
	return newPipeline(c, true)
}

// Subscribe subscribes to channels and returns the client subscription.
// A client has at most one subscription: while it is open, Subscribe and
// PSubscribe extend it and regular commands fail with ErrSubscriptionActive.
func (c *Client) Subscribe(ctx context.Context, channels ...string) (*Subscription, error) {
	sub, created, err := c.subscription(ctx)
	if err != nil {
		return nil, err
	}
	if err := sub.Subscribe(ctx, channels...); err != nil {
		if created {
			c.releaseSubscription(sub)
		}
		return nil, err
	}
	return sub, nil
}

// PSubscribe subscribes to patterns and returns the client subscription.
func (c *Client) PSubscribe(ctx context.Context, patterns ...string) (*Subscription, error) {
	sub, created, err := c.subscription(ctx)
	if err != nil {
		return nil, err
	}
	if err := sub.PSubscribe(ctx, patterns...); err != nil {
		if created {
			c.releaseSubscription(sub)
		}
		return nil, err
	}
	return sub, nil
}

// subscription returns the client subscription, creating it and switching
// the connection to subscribe mode when there is none. created reports the
// latter, so a caller whose first control command fails can switch back.
func (c *Client) subscription(ctx context.Context) (sub *Subscription, created bool, err error) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	if c.sub != nil {
		return c.sub, false, nil
	}

	if err := c.ensureConnected(ctx); err != nil {
		return nil, false, err
	}

	// switch through the queue so in-flight commands get their replies first
	err = c.conn.queue.do(ctx, func(context.Context) error {
		c.conn.setSubscribed(true)
		return nil
	}, false)
	if err != nil {
		// abandoned before the switch ran
		c.conn.setSubscribed(false)
		return nil, false, err
	}

	c.sub = newSubscription(c)
	return c.sub, true, nil
}

func (c *Client) releaseSubscription(sub *Subscription) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	if c.sub == sub {
		c.sub = nil
		c.conn.setSubscribed(false)
	}
}

// Quit sends QUIT and closes the client.
func (c *Client) Quit(ctx context.Context) error {
	_, err := c.Do(ctx, "QUIT")
	return errors.Join(err, c.Close())
}

// Close closes the connection and ends the active subscription, if any.
// Commands fail with ErrConnectionClosed until Connect is called again.
func (c *Client) Close() error {
	err := c.conn.Close()

	c.subMu.Lock()
	defer c.subMu.Unlock()
	if c.sub != nil {
		c.sub = nil
		c.conn.setSubscribed(false)
	}
	return err
}

// IsConnected reports whether the last I/O on the connection succeeded.
func (c *Client) IsConnected() bool {
	return c.conn.IsConnected()
}

// IsClosed reports whether the client was closed.
func (c *Client) IsClosed() bool {
	return c.conn.IsClosed()
}

// Addr returns the server address.
func (c *Client) Addr() string {
	return c.conn.Addr()
}

// Stats returns a snapshot of the client statistics.
func (c *Client) Stats() ClientStats {
	return c.stats.snapshot()
}

// CircuitBreaker returns the circuit breaker of the client, or nil.
func (c *Client) CircuitBreaker() CircuitBreaker {
	return c.breaker
}
