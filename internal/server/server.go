// Package server accepts TCP and WebSocket connections and hands them to the
// chat hub.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/omochice/toy-socket-relay/internal/chat"
	"github.com/omochice/toy-socket-relay/internal/config"
	"github.com/omochice/toy-socket-relay/internal/discovery"
	"github.com/omochice/toy-socket-relay/internal/transport/tcp"
	wsconn "github.com/omochice/toy-socket-relay/internal/transport/ws"
	"github.com/omochice/toy-socket-relay/pkg/protocol"
)

// WebSocketPath is the HTTP path WebSocket clients upgrade on.
const WebSocketPath = "/ws"

// ErrServerStopped is returned by Start after Stop.
var ErrServerStopped = errors.New("server stopped")

// Server serves TCP and WebSocket clients, either on one port with protocol
// detection or on two ports.
type Server struct {
	cfg config.Server
	log *slog.Logger
	hub *chat.Hub

	mu         sync.Mutex
	listener   net.Listener
	wsListener net.Listener
	cancel     context.CancelFunc
	served     chan struct{}
	stopped    bool

	wg sync.WaitGroup
}

// New creates a Server. A nil log uses slog.Default().
func New(cfg config.Server, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		cfg: cfg,
		log: log,
		hub: chat.NewHub(chat.Options{
			OutboundQueue:    cfg.OutboundQueue,
			ChunkSize:        cfg.ChunkSize,
			MaxFileSize:      cfg.MaxFileSize,
			SettleDelay:      cfg.SettleDelay,
			HandshakeTimeout: cfg.HandshakeTimeout,
			OnProgress: func(sender string, st protocol.TransferState) {
				log.Debug("relay progress", "nick", sender, "file", st.FileName, "progress", fmt.Sprintf("%.1f%%", st.Fraction()*100))
			},
			Logger: log,
		}),
	}
}

// Listen binds the configured addresses. It returns ErrServerStopped once
// Stop has been called.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrServerStopped
	}

	ln, err := s.listen(s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	s.listener = ln

	if s.cfg.WSAddr != "" {
		wsln, err := s.listen(s.cfg.WSAddr)
		if err != nil {
			ln.Close()
			return fmt.Errorf("failed to start WebSocket server: %w", err)
		}
		s.wsListener = wsln
		s.log.Info("server started", "tcp", ln.Addr().String(), "websocket", wsln.Addr().String())
	} else {
		s.log.Info("server started", "addr", ln.Addr().String(), "protocols", "tcp+websocket")
	}
	return nil
}

func (s *Server) listen(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if s.cfg.MaxSessions > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxSessions)
	}
	return ln, nil
}

// Serve accepts connections until ctx is cancelled or Stop is called, then
// closes every session and waits for them. Listen must have succeeded.
func (s *Server) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.listener == nil {
		s.mu.Unlock()
		return errors.New("server is not listening")
	}
	if s.stopped {
		ln, wsln := s.listener, s.wsListener
		s.mu.Unlock()
		ln.Close()
		if wsln != nil {
			wsln.Close()
		}
		return ErrServerStopped
	}
	s.cancel = cancel
	s.served = make(chan struct{})
	defer close(s.served)
	ln, wsln := s.listener, s.wsListener
	s.mu.Unlock()

	if s.cfg.Advertise {
		if adv, err := discovery.Advertise(s.cfg.InstanceName, portOf(ln), portOf(wsln)); err != nil {
			s.log.Warn("mDNS advertisement failed", "err", err)
		} else {
			s.log.Info("advertising on the local network", "instance", s.cfg.InstanceName, "service", discovery.ServiceType)
			defer adv.Shutdown()
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		ln.Close()
		if wsln != nil {
			wsln.Close()
		}
		return nil
	})
	g.Go(func() error {
		return s.acceptLoop(gctx, ln, s.handleConnection)
	})
	if wsln != nil {
		g.Go(func() error {
			return s.acceptLoop(gctx, wsln, func(ctx context.Context, conn net.Conn) {
				s.handleWebSocket(ctx, conn, bufio.NewReader(conn))
			})
		})
	}

	err := g.Wait()
	s.wg.Wait()
	s.log.Info("server stopped")
	return err
}

// Start listens and serves until Stop is called. It always returns a non-nil
// error; after Stop it is ErrServerStopped.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	if err := s.Serve(context.Background()); err != nil {
		return err
	}
	return ErrServerStopped
}

// Stop stops the server and waits for every session to end.
func (s *Server) Stop() {
	s.mu.Lock()
	s.stopped = true
	cancel, served := s.cancel, s.served
	ln, wsln := s.listener, s.wsListener
	s.mu.Unlock()

	if cancel == nil {
		if ln != nil {
			ln.Close()
		}
		if wsln != nil {
			wsln.Close()
		}
		return
	}
	cancel()
	<-served
}

// Addr returns the server's listening address
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// WSAddr returns the WebSocket listening address, which is Addr in single
// port mode.
func (s *Server) WSAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wsListener != nil {
		return s.wsListener.Addr().String()
	}
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// ClientCount returns the number of registered sessions.
func (s *Server) ClientCount() int {
	return s.hub.ClientCount()
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener, handle func(context.Context, net.Conn)) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.log.Warn("failed to accept connection", "err", err)
				time.Sleep(10 * time.Millisecond)
				continue
			}
			return fmt.Errorf("failed to accept connection: %w", err)
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			handle(ctx, conn)
		}()
	}
}

// handleConnection determines whether the connection is HTTP (WebSocket) or TCP
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	kind, reader, err := detectProtocol(conn, s.cfg.DetectTimeout)
	if err != nil {
		s.log.Debug("failed to detect protocol", "remote", conn.RemoteAddr().String(), "err", err)
		conn.Close()
		return
	}
	s.log.Debug("connection accepted", "remote", conn.RemoteAddr().String(), "protocol", kind)

	if kind == protocolHTTP {
		s.handleWebSocket(ctx, conn, reader)
		return
	}
	c := tcp.NewConnWithReader(conn, reader)
	c.SetMaxFrameSize(s.cfg.MaxFrameSize)
	s.hub.HandleConn(ctx, c)
}

// handleWebSocket performs the upgrade and serves the connection.
func (s *Server) handleWebSocket(ctx context.Context, conn net.Conn, reader *bufio.Reader) {
	upgrader := ws.Upgrader{
		OnRequest: func(uri []byte) error {
			path, _, _ := strings.Cut(string(uri), "?")
			if path != WebSocketPath {
				return ws.RejectConnectionError(ws.RejectionStatus(http.StatusNotFound))
			}
			return nil
		},
	}

	conn.SetDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	_, err := upgrader.Upgrade(struct {
		io.Reader
		io.Writer
	}{reader, conn})
	conn.SetDeadline(time.Time{})
	if err != nil {
		s.log.Warn("failed to upgrade connection", "remote", conn.RemoteAddr().String(), "err", err)
		conn.Close()
		return
	}

	c := wsconn.NewServerConn(conn, reader)
	c.SetMaxFrameSize(s.cfg.MaxFrameSize)
	s.hub.HandleConn(ctx, c)
}

func portOf(ln net.Listener) int {
	if ln == nil {
		return 0
	}
	if addr, ok := ln.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}
