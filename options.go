package redis

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"strconv"
	"time"
)

const (
	DefaultHostname      = "127.0.0.1"
	DefaultPort          = 6379
	DefaultMaxRetryCount = 10
	DefaultDialTimeout   = 5 * time.Second
)

// Options configures a Client and its Connection.
type Options struct {
	// Hostname of the server. Defaults to 127.0.0.1.
	Hostname string

	// Port of the server. Defaults to 6379.
	Port int

	// TLS enables a secured transport. TLSConfig is used when set, otherwise a
	// default configuration verifying Hostname.
	TLS       bool
	TLSConfig *tls.Config

	// DB is the database index selected after connecting. Zero keeps the
	// server default and sends no SELECT.
	DB int

	// Username and Password are sent with AUTH when Password is set.
	// Username is optional (ACL servers).
	Username string
	Password string

	// Name is sent with CLIENT SETNAME after connecting when set.
	Name string

	// MaxRetryCount bounds connection attempts in Connect and the reconnect
	// rounds of a failed command. Zero means DefaultMaxRetryCount, a
	// negative value disables retries.
	MaxRetryCount int

	// Backoff returns the delay before a retry. If nil, ExponentialBackoff
	// with its defaults is used.
	Backoff BackoffFunc

	// HealthCheckInterval is how often a PING checks the connection.
	// Zero disables health checks.
	HealthCheckInterval time.Duration

	// DialTimeout bounds a single connection attempt. Defaults to 5s.
	DialTimeout time.Duration

	// Dialer opens the byte stream. If nil, a net.Dialer is used.
	Dialer func(ctx context.Context, network, addr string) (net.Conn, error)

	// Logger receives connection lifecycle events. If nil, slog.Default()
	// is used.
	Logger *slog.Logger

	// NewCircuitBreaker creates the circuit breaker wrapping every command
	// sent through the Client. If nil, no circuit breaker is used.
	NewCircuitBreaker func(addr string) CircuitBreaker
}

// Addr returns host:port.
func (o *Options) Addr() string {
	return net.JoinHostPort(o.Hostname, strconv.Itoa(o.Port))
}

// withDefaults returns a copy with zero values replaced by defaults.
func (o Options) withDefaults() Options {
	if o.Hostname == "" {
		o.Hostname = DefaultHostname
	}
	if o.Port == 0 {
		o.Port = DefaultPort
	}
	if o.MaxRetryCount == 0 {
		o.MaxRetryCount = DefaultMaxRetryCount
	} else if o.MaxRetryCount < 0 {
		o.MaxRetryCount = 0
	}
	if o.Backoff == nil {
		o.Backoff = ExponentialBackoff{}.Func()
	}
	if o.DialTimeout == 0 {
		o.DialTimeout = DefaultDialTimeout
	}
	if o.Dialer == nil {
		d := &net.Dialer{}
		o.Dialer = d.DialContext
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// maxAttempts is the number of connection attempts made by Connect.
func (o *Options) maxAttempts() int {
	return max(o.MaxRetryCount, 1)
}
