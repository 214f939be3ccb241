package redis

import (
	"context"
	"sync"

	"github.com/pior/redis/resp"
)

// Pipeline collects commands and sends them in a single round trip on
// Flush. A transactional pipeline (Client.Tx) brackets every flushed batch
// with MULTI and EXEC.
//
// A Pipeline is safe for concurrent use. Concurrent Flush calls are sent in
// the order they snapshotted their batch.
type Pipeline struct {
	client *Client
	tx     bool

	mu       sync.Mutex
	commands []Command
	flushes  *dispatchQueue
}

func newPipeline(client *Client, tx bool) *Pipeline {
	return &Pipeline{
		client:  client,
		tx:      tx,
		flushes: &dispatchQueue{conn: client.conn},
	}
}

// SendCommand appends cmd to the current batch. The returned reply is a
// placeholder (+OK); the real replies are returned by Flush.
func (p *Pipeline) SendCommand(_ context.Context, cmd Command) (resp.Reply, error) {
	p.mu.Lock()
	p.commands = append(p.commands, cmd)
	p.mu.Unlock()
	return resp.OK, nil
}

// Do appends a command built from name and args to the current batch.
func (p *Pipeline) Do(ctx context.Context, name string, args ...any) (resp.Reply, error) {
	return p.SendCommand(ctx, NewCommand(name, args...))
}

// Len returns the number of commands waiting for Flush.
func (p *Pipeline) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.commands)
}

// Flush sends the current batch and returns one reply per command, in
// order. Server errors are returned in place as resp.KindError replies
// rather than failing the batch. For a transactional pipeline the list
// starts with the MULTI reply and ends with the EXEC reply.
//
// The batch is cleared when Flush is called, so commands added while a flush
// is in progress belong to the next one.
func (p *Pipeline) Flush(ctx context.Context) ([]resp.Reply, error) {
	if err := p.client.ensureConnected(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	batch := p.commands
	p.commands = nil
	if p.tx {
		batch = wrapTransaction(batch)
	}
	if len(batch) == 0 {
		p.mu.Unlock()
		return []resp.Reply{}, nil
	}

	var replies []resp.Reply
	conn := p.client.conn
	pc := newPendingCommand(ctx, func(ctx context.Context) error {
		return conn.queue.do(ctx, func(ctx context.Context) error {
			if conn.isSubscribed() {
				return ErrSubscriptionActive
			}
			r, err := conn.pipeline(ctx, batch)
			if err != nil {
				return err
			}
			replies = r
			return nil
		}, true)
	}, false)

	// enqueued under the lock so flush order matches snapshot order
	p.flushes.enqueue(pc)
	p.mu.Unlock()

	p.client.stats.recordPipeline(len(batch))

	select {
	case err := <-pc.done:
		if err != nil {
			p.client.stats.recordError()
			return nil, err
		}
		return replies, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func wrapTransaction(batch []Command) []Command {
	wrapped := make([]Command, 0, len(batch)+2)
	wrapped = append(wrapped, NewCommand("MULTI"))
	wrapped = append(wrapped, batch...)
	return append(wrapped, NewCommand("EXEC"))
}
