package redis

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/jackc/puddle/v2"
	"github.com/pior/redis/resp"
)

// Pool is a bounded set of independent clients, each with its own
// connection and dispatch queue. Commands sent through the pool run in
// parallel across clients.
type Pool struct {
	pool             *puddle.Pool[*Client]
	createdClients   atomic.Int64
	destroyedClients atomic.Int64
}

// NewPool returns a pool of at most maxSize clients connected with opts.
// Clients are dialed on demand.
func NewPool(opts Options, maxSize int32) (*Pool, error) {
	p := &Pool{}

	poolConfig := &puddle.Config[*Client]{
		Constructor: func(ctx context.Context) (*Client, error) {
			client, err := Dial(ctx, opts)
			if err == nil {
				p.createdClients.Add(1)
			}
			return client, err
		},
		Destructor: func(client *Client) {
			p.destroyedClients.Add(1)
			_ = client.Close()
		},
		MaxSize: maxSize,
	}

	pool, err := puddle.NewPool(poolConfig)
	if err != nil {
		return nil, err
	}
	p.pool = pool
	return p, nil
}

// With runs fn with a client taken from the pool. The client is destroyed
// instead of returned when it was closed, left in subscribe mode, or when
// fn failed on a desynchronized stream.
func (p *Pool) With(ctx context.Context, fn func(*Client) error) error {
	res, err := p.pool.Acquire(ctx)
	if err != nil {
		return err
	}

	client := res.Value()
	err = fn(client)

	if client.IsClosed() || client.conn.isSubscribed() || isProtocolError(err) {
		res.Destroy()
	} else {
		res.Release()
	}
	return err
}

// SendCommand sends cmd on a pooled client.
func (p *Pool) SendCommand(ctx context.Context, cmd Command) (resp.Reply, error) {
	var reply resp.Reply
	err := p.With(ctx, func(c *Client) error {
		var err error
		reply, err = c.SendCommand(ctx, cmd)
		return err
	})
	return reply, err
}

// Do sends a command built from name and args on a pooled client.
func (p *Pool) Do(ctx context.Context, name string, args ...any) (resp.Reply, error) {
	return p.SendCommand(ctx, NewCommand(name, args...))
}

// Close closes all clients. It blocks until acquired clients are released.
func (p *Pool) Close() {
	p.pool.Close()
}

// Stats returns a snapshot of pool statistics.
func (p *Pool) Stats() PoolStats {
	s := p.pool.Stat()

	return PoolStats{
		TotalConns:        s.TotalResources(),
		IdleConns:         s.IdleResources(),
		ActiveConns:       s.AcquiredResources(),
		AcquireCount:      uint64(s.AcquireCount()),
		AcquireWaitCount:  uint64(s.EmptyAcquireCount()),
		CreatedConns:      uint64(p.createdClients.Load()),
		DestroyedConns:    uint64(p.destroyedClients.Load()),
		AcquireErrors:     uint64(s.CanceledAcquireCount()),
		AcquireWaitTimeNs: uint64(s.EmptyAcquireWaitTime().Nanoseconds()),
	}
}

func isProtocolError(err error) bool {
	var protoErr *resp.ProtocolError
	return errors.As(err, &protoErr)
}
