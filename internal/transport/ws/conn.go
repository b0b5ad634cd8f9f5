// Package ws provides the WebSocket transport: one binary message per frame,
// built on gobwas/ws.
package ws

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/omochice/toy-socket-relay/internal/transport"
	"github.com/omochice/toy-socket-relay/pkg/protocol"
)

const closeTimeout = 100 * time.Millisecond

// Conn adapts an upgraded WebSocket connection to chat.Conn interface.
// Binary messages carry tag and body; text messages are accepted as text
// control frames so plain WebSocket tools can chat.
type Conn struct {
	conn         net.Conn
	reader       io.Reader
	state        ws.State
	maxFrameSize int
	mu           sync.Mutex
}

// NewServerConn wraps the server end of an upgraded connection. reader, if
// not nil, holds bytes already buffered from conn.
func NewServerConn(conn net.Conn, reader *bufio.Reader) *Conn {
	return newConn(conn, reader, ws.StateServerSide)
}

// NewClientConn wraps the client end of a dialed connection. reader is the
// buffer returned by ws.Dial and may be nil.
func NewClientConn(conn net.Conn, reader *bufio.Reader) *Conn {
	return newConn(conn, reader, ws.StateClientSide)
}

func newConn(conn net.Conn, reader *bufio.Reader, state ws.State) *Conn {
	c := &Conn{conn: conn, reader: conn, state: state, maxFrameSize: protocol.DefaultMaxFrameSize}
	if reader != nil && reader.Buffered() > 0 {
		c.reader = io.MultiReader(io.LimitReader(reader, int64(reader.Buffered())), conn)
	}
	return c
}

// SetMaxFrameSize bounds the body of inbound frames.
func (c *Conn) SetMaxFrameSize(n int) {
	c.maxFrameSize = n
}

// ReadFrame implements chat.Conn.
// A close frame from the peer is reported as io.EOF.
func (c *Conn) ReadFrame(ctx context.Context) (protocol.Frame, error) {
	stop := transport.Bind(ctx, c.conn.SetReadDeadline)
	defer stop()

	// Control frames (ping, close) are answered on the write side.
	rw := struct {
		io.Reader
		io.Writer
	}{c.reader, writerFunc(c.writeLocked)}

	data, op, err := wsutil.ReadData(rw, c.state)
	if err != nil {
		var closed wsutil.ClosedError
		if errors.As(err, &closed) {
			return protocol.Frame{}, io.EOF
		}
		return protocol.Frame{}, transport.Err(ctx, err)
	}

	if op == ws.OpText {
		if c.maxFrameSize > 0 && len(data) > c.maxFrameSize {
			return protocol.Frame{}, fmt.Errorf("%w: %d bytes (limit %d)", protocol.ErrFrameTooLarge, len(data), c.maxFrameSize)
		}
		return protocol.Frame{Tag: protocol.TagText, Body: data}, nil
	}
	return protocol.UnpackMessage(data, c.maxFrameSize)
}

// WriteFrame implements chat.Conn.
func (c *Conn) WriteFrame(ctx context.Context, f protocol.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	stop := transport.Bind(ctx, c.conn.SetWriteDeadline)
	defer stop()
	return transport.Err(ctx, wsutil.WriteMessage(c.conn, c.state, ws.OpBinary, protocol.PackMessage(f)))
}

// Close implements chat.Conn. A close frame is sent first unless a write is
// in flight, in which case the connection is closed under it.
func (c *Conn) Close() error {
	if c.mu.TryLock() {
		c.conn.SetWriteDeadline(time.Now().Add(closeTimeout))
		_ = wsutil.WriteMessage(c.conn, c.state, ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
		c.mu.Unlock()
	}
	return c.conn.Close()
}

// RemoteAddr implements chat.Conn.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *Conn) writeLocked(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Write(p)
}

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
