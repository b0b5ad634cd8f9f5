package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/omochice/toy-socket-relay/internal/chaterr"
	"github.com/omochice/toy-socket-relay/pkg/protocol"
)

// Greeting is sent to a session right after it joined.
const Greeting = "Connected to the server!"

// Options configures a Hub.
type Options struct {
	// OutboundQueue is the per-session outbound queue length in frames.
	OutboundQueue int
	// ChunkSize caps the payload of one relayed frame.
	ChunkSize int
	// MaxFileSize rejects larger announcements. Zero means unlimited.
	MaxFileSize uint64
	// SettleDelay is waited after an announcement before payload is relayed.
	SettleDelay time.Duration
	// HandshakeTimeout bounds the wait for the nickname reply.
	HandshakeTimeout time.Duration
	// OnProgress, if set, observes every relayed chunk.
	OnProgress ProgressFunc
	Logger     *slog.Logger
}

// DefaultOptions returns the options used when a field is left zero.
func DefaultOptions() Options {
	return Options{
		OutboundQueue:    256,
		ChunkSize:        64 * 1024,
		HandshakeTimeout: 10 * time.Second,
	}
}

// Hub manages all connected sessions and handles broadcast.
// Both TCP and WebSocket servers share a single Hub instance.
type Hub struct {
	opts        Options
	registry    *Registry
	router      *Router
	coordinator *Coordinator
	log         *slog.Logger
}

// NewHub creates a new Hub.
func NewHub(opts Options) *Hub {
	def := DefaultOptions()
	if opts.OutboundQueue <= 0 {
		opts.OutboundQueue = def.OutboundQueue
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = def.ChunkSize
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = def.HandshakeTimeout
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	registry := NewRegistry()
	router := NewRouter(registry, log)
	return &Hub{
		opts:     opts,
		registry: registry,
		router:   router,
		coordinator: &Coordinator{
			router:      router,
			chunkSize:   opts.ChunkSize,
			maxFileSize: opts.MaxFileSize,
			settleDelay: opts.SettleDelay,
			progress:    opts.OnProgress,
			log:         log,
		},
		log: log,
	}
}

// Registry returns the hub's session registry.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// ClientCount returns number of registered sessions.
func (h *Hub) ClientCount() int {
	return h.registry.Count()
}

// HandleConn serves conn until it closes or ctx is cancelled.
// It performs the nickname handshake, registers the session, and runs its
// read loop on the calling goroutine. conn is always closed on return.
// A clean disconnect returns nil.
func (h *Hub) HandleConn(ctx context.Context, conn Conn) error {
	nickname, codec, err := h.handshake(ctx, conn)
	if err != nil {
		h.log.Warn("handshake failed", "remote", conn.RemoteAddr(), "err", err)
		conn.Close()
		return err
	}

	s := newSession(conn, nickname, codec, h.opts.OutboundQueue)
	if err := h.registry.Register(s); err != nil {
		h.log.Warn("registration refused", "remote", conn.RemoteAddr(), "nick", nickname, "err", err)
		if f, ferr := protocol.Control(codec, protocol.NewNotice(fmt.Sprintf("Nickname %s is not available (%v)", nickname, err))); ferr == nil {
			conn.WriteFrame(ctx, f)
		}
		conn.Close()
		return chaterr.New(chaterr.KindRejected, "register", err)
	}

	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()
	go s.writeLoop(ctx)

	h.log.Info("session joined", "session", s.ID, "nick", nickname, "remote", conn.RemoteAddr(), "codec", codec.Tag())
	h.router.Broadcast(protocol.NewJoin(nickname), nil)
	if err := s.Send(protocol.NewNotice(Greeting)); err != nil {
		s.Close()
	}

	err = h.readLoop(ctx, s)
	h.teardown(s)
	if err != nil {
		h.log.Warn("session ended with error", "session", s.ID, "nick", nickname, "err", err)
	}
	return err
}

// handshake sends NICK and reads the nickname. The codec of the reply frame
// becomes the session's codec.
func (h *Hub) handshake(ctx context.Context, conn Conn) (string, protocol.Codec, error) {
	ctx, cancel := context.WithTimeout(ctx, h.opts.HandshakeTimeout)
	defer cancel()

	req, err := protocol.Control(protocol.NewTextCodec(protocol.RoleServer), protocol.NewNickRequest())
	if err != nil {
		return "", nil, err
	}
	if err := conn.WriteFrame(ctx, req); err != nil {
		return "", nil, chaterr.New(chaterr.KindStreamClosed, "handshake", err)
	}

	f, err := conn.ReadFrame(ctx)
	if err != nil {
		return "", nil, chaterr.New(chaterr.KindStreamClosed, "handshake", err)
	}
	codec, err := protocol.CodecFor(f.Tag, protocol.RoleServer)
	if err != nil {
		return "", nil, chaterr.New(chaterr.KindProtocolViolation, "handshake", err)
	}
	m, err := codec.Unmarshal(f.Body)
	if err != nil {
		return "", nil, chaterr.New(chaterr.KindProtocolViolation, "handshake", err)
	}

	var nickname string
	switch m.Type {
	case protocol.MessageTypeNickReply:
		nickname = m.Content
	case protocol.MessageTypeText:
		nickname = strings.TrimSpace(m.Content)
	default:
		return "", nil, chaterr.New(chaterr.KindProtocolViolation, "handshake", fmt.Errorf("expected a nickname, got %s", m.Type))
	}
	if err := protocol.ValidateNickname(nickname); err != nil {
		return "", nil, chaterr.New(chaterr.KindProtocolViolation, "handshake", err)
	}
	return nickname, codec, nil
}

func (h *Hub) readLoop(ctx context.Context, s *Session) error {
	lookup := func(origin string) *protocol.TransferState {
		if origin != "" {
			return nil
		}
		return s.relayState()
	}

	for {
		f, err := s.conn.ReadFrame(ctx)
		if err != nil {
			if isClosed(err) || ctx.Err() != nil {
				return nil
			}
			select {
			case <-s.done:
				return nil
			default:
			}
			return chaterr.New(chaterr.KindStreamClosed, "read", err)
		}

		chunk, err := protocol.Discriminate(f, protocol.RoleServer, lookup)
		if err != nil {
			h.log.Warn("dropping malformed frame", "session", s.ID, "nick", s.nickname, "tag", f.Tag, "err", err)
			if err := s.Send(protocol.NewNotice(fmt.Sprintf("Dropped malformed message (%v)", err))); err != nil {
				return nil
			}
			continue
		}

		switch chunk.Kind {
		case protocol.ChunkUnexpected:
			h.log.Warn("dropping payload outside a transfer", "session", s.ID, "nick", s.nickname, "bytes", len(chunk.Payload))
		case protocol.ChunkPayload:
			if chunk.Excess > 0 {
				h.log.Warn("dropping bytes past the end of the transfer", "session", s.ID, "nick", s.nickname, "bytes", chunk.Excess)
			}
			h.coordinator.Relay(s, chunk.Payload)
		case protocol.ChunkControl:
			leave, err := h.dispatch(ctx, s, chunk.Message)
			if err != nil || leave {
				return err
			}
		}
	}
}

// dispatch handles one control message and reports whether the session asked
// to leave.
func (h *Hub) dispatch(ctx context.Context, s *Session, m *protocol.Message) (bool, error) {
	switch m.Type {
	case protocol.MessageTypeText:
		h.log.Info("message", "nick", s.nickname, "content", m.Content)
		h.router.Broadcast(protocol.NewText(s.nickname, m.Content), s)
	case protocol.MessageTypeFileTransfer:
		if err := h.coordinator.Announce(ctx, s, m); err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrSessionClosed) {
				return true, nil
			}
			return true, err
		}
	case protocol.MessageTypeLeave:
		return true, nil
	default:
		h.log.Warn("ignoring message", "session", s.ID, "nick", s.nickname, "type", m.Type)
	}
	return false, nil
}

func (h *Hub) teardown(s *Session) {
	h.registry.Unregister(s)
	h.coordinator.Abort(s)
	s.Close()
	<-s.writerDone
	h.log.Info("session left", "session", s.ID, "nick", s.nickname)
	h.router.Broadcast(protocol.NewLeave(s.nickname), nil)
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}
