package redis

import (
	"context"
	"sync"
)

// pendingCommand is one entry of the dispatch queue. execute performs the
// whole exchange against the connection and stores its result itself.
type pendingCommand struct {
	ctx     context.Context
	execute func(ctx context.Context) error
	retry   bool
	done    chan error // buffered, receives exactly one value
}

// dispatchQueue runs pending commands against one Connection strictly one at
// a time, in submission order. A goroutine drains the queue while it is not
// empty and exits when it is.
type dispatchQueue struct {
	conn *Connection

	mu      sync.Mutex
	pending []*pendingCommand
	running bool
}

// enqueue appends pc and starts the drain goroutine if the queue was idle.
func (q *dispatchQueue) enqueue(pc *pendingCommand) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pending = append(q.pending, pc)
	if !q.running {
		q.running = true
		go q.process()
	}
}

// do enqueues execute and waits for its outcome. When ctx ends first, do
// returns ctx.Err(); a command that has not started yet is then skipped.
func (q *dispatchQueue) do(ctx context.Context, execute func(ctx context.Context) error, retry bool) error {
	pc := newPendingCommand(ctx, execute, retry)
	q.enqueue(pc)

	select {
	case err := <-pc.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func newPendingCommand(ctx context.Context, execute func(ctx context.Context) error, retry bool) *pendingCommand {
	return &pendingCommand{
		ctx:     ctx,
		execute: execute,
		retry:   retry,
		done:    make(chan error, 1),
	}
}

func (q *dispatchQueue) process() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		pc := q.pending[0]
		q.mu.Unlock()

		pc.done <- q.run(pc)

		q.mu.Lock()
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()
	}
}

// run executes pc. A retriable failure is followed by up to MaxRetryCount
// rounds of backoff, reconnect and execute. Server errors, protocol errors
// and manual close are returned as they are.
func (q *dispatchQueue) run(pc *pendingCommand) error {
	if err := pc.ctx.Err(); err != nil {
		return err
	}

	conn := q.conn
	err := pc.execute(pc.ctx)
	if err == nil || !pc.retry {
		return err
	}
	if !IsRetriable(err) || conn.isManuallyClosed() {
		return err
	}

	for round := range conn.opts.MaxRetryCount {
		conn.stats.recordRetry()
		conn.logger.Warn("redis: retrying after transport error", "round", round+1, "error", err)

		if serr := sleep(pc.ctx, conn.opts.Backoff(round)); serr != nil {
			return serr
		}

		conn.closeTransport()
		err = conn.connectOnce(pc.ctx)
		if err == nil {
			err = pc.execute(pc.ctx)
		}
		if err == nil {
			return nil
		}
		if isFatal(err) {
			return err
		}
	}

	return err
}
