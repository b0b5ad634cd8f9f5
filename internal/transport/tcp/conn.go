// Package tcp provides the TCP transport: frames are length-prefixed on the
// byte stream.
package tcp

import (
	"bufio"
	"context"
	"net"
	"sync"

	"github.com/omochice/toy-socket-relay/internal/transport"
	"github.com/omochice/toy-socket-relay/pkg/protocol"
)

// Conn adapts net.Conn to chat.Conn interface.
type Conn struct {
	conn         net.Conn
	reader       *bufio.Reader
	maxFrameSize int
	mu           sync.Mutex
}

// NewConn wraps a net.Conn.
func NewConn(conn net.Conn) *Conn {
	return NewConnWithReader(conn, bufio.NewReader(conn))
}

// NewConnWithReader wraps a net.Conn whose first bytes were already buffered
// by reader, as happens after protocol detection.
func NewConnWithReader(conn net.Conn, reader *bufio.Reader) *Conn {
	return &Conn{conn: conn, reader: reader, maxFrameSize: protocol.DefaultMaxFrameSize}
}

// SetMaxFrameSize bounds the body of inbound frames.
func (c *Conn) SetMaxFrameSize(n int) {
	c.maxFrameSize = n
}

// ReadFrame implements chat.Conn.
func (c *Conn) ReadFrame(ctx context.Context) (protocol.Frame, error) {
	stop := transport.Bind(ctx, c.conn.SetReadDeadline)
	defer stop()
	f, err := protocol.ReadFrame(c.reader, c.maxFrameSize)
	return f, transport.Err(ctx, err)
}

// WriteFrame implements chat.Conn.
func (c *Conn) WriteFrame(ctx context.Context, f protocol.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	stop := transport.Bind(ctx, c.conn.SetWriteDeadline)
	defer stop()
	return transport.Err(ctx, protocol.WriteFrame(c.conn, f))
}

// Close implements chat.Conn.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// RemoteAddr implements chat.Conn.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
