// Package tcp implements hivemesh's plain-TCP peer transport.
package tcp

import (
	"context"
	"fmt"
	"net"
	"time"
)

// Transport creates plain-TCP listeners and connections.
type Transport struct{}

// New creates a TCP transport.
func New() *Transport {
	return &Transport{}
}

// Listen binds to addr. A port of 0 lets the OS choose an ephemeral port.
func (t *Transport) Listen(ctx context.Context, addr string) (*Listener, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tcp: resolve address: %w", err)
	}

	listener, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return nil, fmt.Errorf("tcp: listen: %w", err)
	}

	return &Listener{listener: listener}, nil
}

// Dial connects to addr, bounded by a connect timeout.
func (t *Transport) Dial(ctx context.Context, addr string, timeout time.Duration) (*Conn, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tcp: dial: %w", err)
	}
	return &Conn{conn: conn}, nil
}

// Listener wraps a TCP listener.
type Listener struct {
	listener *net.TCPListener
}

// Accept waits for the next inbound connection.
func (l *Listener) Accept(ctx context.Context) (*Conn, error) {
	if deadline, ok := ctx.Deadline(); ok {
		l.listener.SetDeadline(deadline)
	}
	tcpConn, err := l.listener.AcceptTCP()
	if err != nil {
		return nil, err
	}
	return &Conn{conn: tcpConn}, nil
}

// Close closes the listener.
func (l *Listener) Close() error {
	return l.listener.Close()
}

// Addr returns the listener's bound address.
func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

// Conn wraps a plain TCP connection.
type Conn struct {
	conn net.Conn
}

func (c *Conn) Read(b []byte) (int, error)  { return c.conn.Read(b) }
func (c *Conn) Write(b []byte) (int, error) { return c.conn.Write(b) }
func (c *Conn) Close() error                { return c.conn.Close() }
func (c *Conn) LocalAddr() net.Addr         { return c.conn.LocalAddr() }
func (c *Conn) RemoteAddr() net.Addr        { return c.conn.RemoteAddr() }
