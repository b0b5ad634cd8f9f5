// Package client implements the relay client: the handshake, chat, and
// sending and receiving files over the same connection.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/omochice/toy-socket-relay/internal/chat"
	"github.com/omochice/toy-socket-relay/internal/chaterr"
	"github.com/omochice/toy-socket-relay/internal/config"
	"github.com/omochice/toy-socket-relay/pkg/protocol"
)

var (
	// ErrNotConnected is returned when sending before Connect or after the
	// connection ended.
	ErrNotConnected = errors.New("not connected to server")
	// ErrTransferInProgress is returned by SendFile while another file is
	// being sent.
	ErrTransferInProgress = errors.New("a file transfer is already in progress")
	// ErrReservedText is returned for chat text the text codec would read as
	// a transfer announcement.
	ErrReservedText = errors.New("text starts with a reserved prefix")
)

// writeTimeout bounds a single frame write.
const writeTimeout = 30 * time.Second

// Handlers receive client events. They are called from the receive
// goroutine, except OnSendProgress which runs on the SendFile caller.
// Nil handlers are skipped.
type Handlers struct {
	// OnMessage receives chat, presence and server notices as display lines.
	OnMessage func(text string)
	// OnFileIncoming announces a file another participant started sending.
	OnFileIncoming func(name, sender string, size uint64)
	// OnFileProgress reports the fraction of an incoming file written so far.
	OnFileProgress func(name string, fraction float64)
	// OnFileComplete reports an incoming file saved at path.
	OnFileComplete func(name, path string)
	// OnSendProgress reports the fraction of an outgoing file sent so far.
	OnSendProgress func(name string, fraction float64)
	// OnFileSent reports that the server relayed every byte of an outgoing file.
	OnFileSent func(name string)
	// OnError reports non-fatal errors: malformed frames, aborted or
	// unwritable incoming files.
	OnError func(err error)
	// OnDisconnected is called once when the connection ends. err is nil
	// after Disconnect.
	OnDisconnected func(err error)
}

// Client is a relay client.
type Client struct {
	cfg      config.Client
	handlers Handlers
	codec    protocol.Codec
	log      *slog.Logger

	conn chat.Conn
	wmu  sync.Mutex

	// sending admits one SendFile at a time.
	sending sync.Mutex

	mu       sync.Mutex
	outbound *outboundFile
	closing  bool
	notice   string

	// inbound is owned by the receive goroutine.
	inbound map[string]*inboundFile

	joined     chan struct{}
	joinedOnce sync.Once
	done       chan struct{}
	wg         sync.WaitGroup
}

// New creates a Client. Connect must be called before anything is sent.
func New(cfg config.Client, h Handlers) *Client {
	return &Client{
		cfg:      cfg,
		handlers: h,
		log:      slog.Default().With("nick", cfg.Nickname),
		inbound:  make(map[string]*inboundFile),
		joined:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Nickname returns the configured nickname.
func (c *Client) Nickname() string {
	return c.cfg.Nickname
}

// Connect dials the server and completes the nickname handshake. It returns
// once the server has announced this client's arrival.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.cfg.Validate(); err != nil {
		return chaterr.New(chaterr.KindConnectFailure, "connect", err)
	}
	codec, err := protocol.CodecByName(c.cfg.Codec, protocol.RoleClient)
	if err != nil {
		return chaterr.New(chaterr.KindConnectFailure, "connect", err)
	}
	c.codec = codec

	ctx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	conn, err := dial(ctx, c.cfg)
	if err != nil {
		return chaterr.New(chaterr.KindConnectFailure, "connect", fmt.Errorf("failed to connect to server: %w", err))
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.log.Debug("connected", "server", c.cfg.Server, "remote", conn.RemoteAddr())

	c.wg.Add(1)
	go c.receiveLoop()

	select {
	case <-c.joined:
		return nil
	case <-c.done:
		c.wg.Wait()
		c.mu.Lock()
		reason := c.notice
		c.mu.Unlock()
		if reason == "" {
			reason = "connection closed during handshake"
		}
		return chaterr.New(chaterr.KindConnectFailure, "connect", errors.New(reason))
	case <-ctx.Done():
		c.Disconnect()
		return chaterr.New(chaterr.KindConnectFailure, "connect", ctx.Err())
	}
}

// Disconnect closes the connection and waits for the receive goroutine.
// Partially received files are removed.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.closing || c.conn == nil {
		c.mu.Unlock()
		c.wg.Wait()
		return
	}
	c.closing = true
	c.mu.Unlock()

	// The text vocabulary has no leave line; closing the stream is the leave.
	if c.codec != nil && c.codec.Tag() == protocol.TagProto {
		_ = c.send(protocol.NewLeave(c.cfg.Nickname))
	}
	c.conn.Close()
	c.wg.Wait()
}

// IsConnected reports whether the handshake completed and the connection is
// still open.
func (c *Client) IsConnected() bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case <-c.joined:
		return true
	default:
		return false
	}
}

// Done is closed when the connection has ended.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// SendText sends a chat message.
func (c *Client) SendText(text string) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if c.codec.Tag() == protocol.TagText && strings.HasPrefix(text, "FILE_TRANSFER:") {
		return ErrReservedText
	}
	return c.send(protocol.NewText("", text))
}

func (c *Client) send(m *protocol.Message) error {
	f, err := protocol.Control(c.codec, m)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	return c.writeFrame(f)
}

func (c *Client) writeFrame(f protocol.Frame) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := c.conn.WriteFrame(ctx, f); err != nil {
		return chaterr.New(chaterr.KindStreamClosed, "send", err)
	}
	return nil
}

func (c *Client) reportError(err error) {
	c.log.Warn("client error", "err", err)
	if c.handlers.OnError != nil {
		c.handlers.OnError(err)
	}
}

func (c *Client) message(text string) {
	if c.handlers.OnMessage != nil {
		c.handlers.OnMessage(text)
	}
}
