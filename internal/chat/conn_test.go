package chat_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/omochice/toy-socket-relay/internal/chat"
	"github.com/omochice/toy-socket-relay/pkg/protocol"
)

// mockConn is a mock implementation of chat.Conn for testing.
// Frames written by the hub are handed over unbuffered on out, so a peer
// that stops reading stalls the writer like a full socket would.
type mockConn struct {
	in         chan protocol.Frame
	out        chan protocol.Frame
	closed     chan struct{}
	closeOnce  sync.Once
	hangupOnce sync.Once
	remoteAddr string
}

func newMockConn(addr string) *mockConn {
	return &mockConn{
		in:         make(chan protocol.Frame, 64),
		out:        make(chan protocol.Frame),
		closed:     make(chan struct{}),
		remoteAddr: addr,
	}
}

func (m *mockConn) ReadFrame(ctx context.Context) (protocol.Frame, error) {
	select {
	case <-ctx.Done():
		return protocol.Frame{}, ctx.Err()
	case <-m.closed:
		return protocol.Frame{}, io.EOF
	case f, ok := <-m.in:
		if !ok {
			return protocol.Frame{}, io.EOF
		}
		return f, nil
	}
}

func (m *mockConn) WriteFrame(ctx context.Context, f protocol.Frame) error {
	select {
	case <-m.closed:
		return io.ErrClosedPipe
	default:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-m.closed:
		return io.ErrClosedPipe
	case m.out <- f:
		return nil
	}
}

func (m *mockConn) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

func (m *mockConn) RemoteAddr() string {
	return m.remoteAddr
}

// hangup simulates the remote end closing its stream.
func (m *mockConn) hangup() {
	m.hangupOnce.Do(func() { close(m.in) })
}

// Compile-time check that mockConn implements chat.Conn
var _ chat.Conn = (*mockConn)(nil)

// peer drives the client end of a mockConn.
type peer struct {
	t     *testing.T
	nick  string
	conn  *mockConn
	codec protocol.Codec
	exit  chan error
}

func (p *peer) send(m *protocol.Message) {
	p.t.Helper()
	f, err := protocol.Control(p.codec, m)
	if err != nil {
		p.t.Fatalf("encode %v: %v", m, err)
	}
	p.conn.in <- f
}

func (p *peer) sendPayload(data []byte) {
	p.conn.in <- protocol.Payload(data)
}

func (p *peer) next() protocol.Frame {
	p.t.Helper()
	select {
	case f := <-p.conn.out:
		return f
	case <-time.After(2 * time.Second):
		p.t.Fatalf("%s: timed out waiting for a frame", p.nick)
		return protocol.Frame{}
	}
}

func (p *peer) nextMessage() *protocol.Message {
	p.t.Helper()
	f := p.next()
	codec, err := protocol.CodecFor(f.Tag, protocol.RoleClient)
	if err != nil {
		p.t.Fatalf("%s: expected a control frame, got %s", p.nick, f.Tag)
	}
	m, err := codec.Unmarshal(f.Body)
	if err != nil {
		p.t.Fatalf("%s: decode %q: %v", p.nick, f.Body, err)
	}
	return m
}

func (p *peer) expect(want *protocol.Message) {
	p.t.Helper()
	if got := p.nextMessage(); *got != *want {
		p.t.Fatalf("%s: got %q, want %q", p.nick, got.String(), want.String())
	}
}

func (p *peer) expectRelay(origin string) []byte {
	p.t.Helper()
	f := p.next()
	if f.Tag != protocol.TagRelay {
		p.t.Fatalf("%s: got %s frame, want RELAY", p.nick, f.Tag)
	}
	from, data, err := protocol.SplitRelay(f.Body)
	if err != nil {
		p.t.Fatalf("%s: %v", p.nick, err)
	}
	if from != origin {
		p.t.Fatalf("%s: relay from %q, want %q", p.nick, from, origin)
	}
	return data
}

func (p *peer) expectNone(d time.Duration) {
	p.t.Helper()
	select {
	case f := <-p.conn.out:
		p.t.Fatalf("%s: unexpected %s frame %q", p.nick, f.Tag, f.Body)
	case <-time.After(d):
	}
}

func (p *peer) waitExit() error {
	p.t.Helper()
	select {
	case err := <-p.exit:
		return err
	case <-time.After(2 * time.Second):
		p.t.Fatalf("%s: HandleConn did not return", p.nick)
		return nil
	}
}

// connect starts HandleConn for a new peer and answers NICK with codec.
func connect(t *testing.T, ctx context.Context, hub *chat.Hub, nick string, codec protocol.Codec) *peer {
	t.Helper()
	p := &peer{t: t, nick: nick, conn: newMockConn(nick + ":1234"), codec: codec, exit: make(chan error, 1)}
	go func() { p.exit <- hub.HandleConn(ctx, p.conn) }()

	f := p.next()
	if f.Tag != protocol.TagText || string(f.Body) != "NICK" {
		t.Fatalf("%s: got %s %q, want NICK", nick, f.Tag, f.Body)
	}
	p.send(protocol.NewNickReply(nick))
	return p
}

// join connects a peer and consumes its own presence notice and greeting.
func join(t *testing.T, ctx context.Context, hub *chat.Hub, nick string) *peer {
	t.Helper()
	p := connect(t, ctx, hub, nick, protocol.NewTextCodec(protocol.RoleClient))
	p.expect(protocol.NewJoin(nick))
	p.expect(protocol.NewNotice(chat.Greeting))
	return p
}
