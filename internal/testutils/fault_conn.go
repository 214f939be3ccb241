package testutils

import (
	"net"
	"sync"
)

// FaultConn wraps a net.Conn so a test can break it with a chosen error.
// After Break, pending and future reads and writes fail with that error.
type FaultConn struct {
	net.Conn

	mu    sync.Mutex
	fault error
}

// NewFaultConn wraps conn.
func NewFaultConn(conn net.Conn) *FaultConn {
	return &FaultConn{Conn: conn}
}

// Break makes every I/O fail with err and closes the underlying connection
// to unblock pending reads.
func (c *FaultConn) Break(err error) {
	c.mu.Lock()
	if c.fault == nil {
		c.fault = err
	}
	c.mu.Unlock()

	c.Conn.Close()
}

func (c *FaultConn) err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fault
}

func (c *FaultConn) Read(b []byte) (int, error) {
	if err := c.err(); err != nil {
		return 0, err
	}
	n, err := c.Conn.Read(b)
	if err != nil {
		if fault := c.err(); fault != nil {
			return 0, fault
		}
	}
	return n, err
}

func (c *FaultConn) Write(b []byte) (int, error) {
	if err := c.err(); err != nil {
		return 0, err
	}
	n, err := c.Conn.Write(b)
	if err != nil {
		if fault := c.err(); fault != nil {
			return 0, fault
		}
	}
	return n, err
}
