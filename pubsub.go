package redis

import (
	"context"
	"iter"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/pior/redis/resp"
)

// Message is a published message received by a Subscription. Pattern is
// set when the message matched a pattern subscription.
type Message struct {
	Pattern string
	Channel string
	Payload []byte
}

// Subscription holds the channels and patterns a client is subscribed to.
//
// The interest sets survive reconnections: when the stream is lost while
// reading messages, the subscription reconnects and subscribes again to
// every tracked channel and pattern before reading on.
type Subscription struct {
	client *Client
	conn   *Connection
	logger *slog.Logger

	mu       sync.Mutex
	channels map[string]struct{}
	patterns map[string]struct{}

	consumed atomic.Bool
}

func newSubscription(client *Client) *Subscription {
	return &Subscription{
		client:   client,
		conn:     client.conn,
		logger:   client.conn.logger,
		channels: make(map[string]struct{}),
		patterns: make(map[string]struct{}),
	}
}

// Subscribe subscribes to channels.
func (s *Subscription) Subscribe(ctx context.Context, channels ...string) error {
	return s.control(ctx, "SUBSCRIBE", s.channels, channels, true)
}

// PSubscribe subscribes to patterns.
func (s *Subscription) PSubscribe(ctx context.Context, patterns ...string) error {
	return s.control(ctx, "PSUBSCRIBE", s.patterns, patterns, true)
}

// Unsubscribe unsubscribes from channels, or from all channels when none
// are given.
func (s *Subscription) Unsubscribe(ctx context.Context, channels ...string) error {
	return s.control(ctx, "UNSUBSCRIBE", s.channels, channels, false)
}

// PUnsubscribe unsubscribes from patterns, or from all patterns when none
// are given.
func (s *Subscription) PUnsubscribe(ctx context.Context, patterns ...string) error {
	return s.control(ctx, "PUNSUBSCRIBE", s.patterns, patterns, false)
}

// control sends the command inline, then updates the interest set. The
// confirmations are read and skipped by Messages.
func (s *Subscription) control(ctx context.Context, name string, set map[string]struct{}, names []string, add bool) error {
	if add && len(names) == 0 {
		return nil
	}

	if err := s.conn.writeCommand(ctx, NewCommand(name, stringArgs(names)...)); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case add:
		for _, n := range names {
			set[n] = struct{}{}
		}
	case len(names) == 0:
		clear(set)
	default:
		for _, n := range names {
			delete(set, n)
		}
	}
	return nil
}

// Channels returns the subscribed channels, sorted.
func (s *Subscription) Channels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.channels)
}

// Patterns returns the subscribed patterns, sorted.
func (s *Subscription) Patterns() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.patterns)
}

// Messages returns the sequence of received messages. It can be iterated
// once; a second iteration yields ErrSubscriptionConsumed.
//
// The sequence ends without error after Close. It ends with an error when
// ctx is done, when reconnecting fails, or on a non-retriable read error.
func (s *Subscription) Messages(ctx context.Context) iter.Seq2[Message, error] {
	return func(yield func(Message, error) bool) {
		if !s.consumed.CompareAndSwap(false, true) {
			yield(Message{}, ErrSubscriptionConsumed)
			return
		}

		// unblock the pending read
		stop := context.AfterFunc(ctx, s.conn.closeTransport)
		defer stop()

		forceReconnect := false
		for {
			if s.conn.IsClosed() {
				return
			}
			if err := ctx.Err(); err != nil {
				yield(Message{}, err)
				return
			}

			if forceReconnect || !s.conn.IsConnected() {
				forceReconnect = false
				if err := s.reconnect(ctx); err != nil {
					if s.conn.IsClosed() {
						return
					}
					if ctx.Err() != nil {
						err = ctx.Err()
					}
					yield(Message{}, err)
					return
				}
			}

			reply, err := s.conn.readReply(context.Background())
			if err != nil {
				switch {
				case s.conn.IsClosed():
					return
				case ctx.Err() != nil:
					yield(Message{}, ctx.Err())
					return
				case IsRetriable(err):
					forceReconnect = true
					continue
				default:
					yield(Message{}, err)
					return
				}
			}

			msg, ok := parseMessage(reply)
			if !ok {
				continue
			}
			s.client.stats.recordMessage()
			if !yield(msg, nil) {
				return
			}
		}
	}
}

func (s *Subscription) reconnect(ctx context.Context) error {
	s.logger.Info("redis: subscription reconnecting")

	if err := s.conn.reconnect(ctx); err != nil {
		return err
	}
	return s.resubscribe(ctx)
}

// resubscribe replays the interest sets on a new connection.
func (s *Subscription) resubscribe(ctx context.Context) error {
	var cmds []Command
	if channels := s.Channels(); len(channels) > 0 {
		cmds = append(cmds, NewCommand("SUBSCRIBE", stringArgs(channels)...))
	}
	if patterns := s.Patterns(); len(patterns) > 0 {
		cmds = append(cmds, NewCommand("PSUBSCRIBE", stringArgs(patterns)...))
	}
	if len(cmds) == 0 {
		return nil
	}
	return s.conn.writeCommand(ctx, cmds...)
}

// Close closes the connection of the subscription, which is the connection
// of its client. A pending Messages iteration ends without error.
func (s *Subscription) Close() error {
	err := s.conn.Close()
	s.client.releaseSubscription(s)
	return err
}

func parseMessage(reply resp.Reply) (Message, bool) {
	if reply.Kind != resp.KindArray {
		return Message{}, false
	}

	elems := reply.Array
	switch {
	case len(elems) == 3 && elems[0].Text() == "message":
		return Message{
			Channel: elems[1].Text(),
			Payload: elems[2].Bytes(),
		}, true
	case len(elems) == 4 && elems[0].Text() == "pmessage":
		return Message{
			Pattern: elems[1].Text(),
			Channel: elems[2].Text(),
			Payload: elems[3].Bytes(),
		}, true
	default:
		return Message{}, false
	}
}

func stringArgs(names []string) []any {
	args := make([]any, len(names))
	for i, n := range names {
		args[i] = n
	}
	return args
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
