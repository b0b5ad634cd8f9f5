package chat

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/omochice/toy-socket-relay/pkg/protocol"
)

var (
	// ErrQueueFull is returned when a session's outbound queue has no room.
	ErrQueueFull = errors.New("outbound queue full")
	// ErrSessionClosed is returned when sending to a closed session.
	ErrSessionClosed = errors.New("session closed")
	// ErrTransferActive is returned when a session announces a second transfer.
	ErrTransferActive = errors.New("a transfer is already active")
)

// Phase is the transfer phase of a session.
type Phase int

const (
	PhaseIdle Phase = iota
	// PhaseAwaitingAnnounceAck lasts from the announcement until relaying may start.
	PhaseAwaitingAnnounceAck
	PhaseRelaying
)

// String returns the string representation of Phase
func (p Phase) String() string {
	switch p {
	case PhaseAwaitingAnnounceAck:
		return "awaiting-ack"
	case PhaseRelaying:
		return "relaying"
	default:
		return "idle"
	}
}

// Session is one connected participant.
// Frames are queued with Send and written by a dedicated writer goroutine, so
// a slow peer never blocks the goroutine that fans out to it.
type Session struct {
	ID       uuid.UUID
	conn     Conn
	nickname string
	codec    protocol.Codec

	out        chan protocol.Frame
	done       chan struct{}
	writerDone chan struct{}
	closeOnce  sync.Once

	mu       sync.Mutex
	phase    Phase
	transfer *protocol.TransferState
}

func newSession(conn Conn, nickname string, codec protocol.Codec, queue int) *Session {
	return &Session{
		ID:         uuid.New(),
		conn:       conn,
		nickname:   nickname,
		codec:      codec,
		out:        make(chan protocol.Frame, queue),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}
}

// Nickname returns the name the peer registered with.
func (s *Session) Nickname() string {
	return s.nickname
}

// RemoteAddr returns the peer address for logging.
func (s *Session) RemoteAddr() string {
	return s.conn.RemoteAddr()
}

// Codec returns the control codec negotiated at handshake.
func (s *Session) Codec() protocol.Codec {
	return s.codec
}

// Send queues a control message encoded with the session's codec.
func (s *Session) Send(m *protocol.Message) error {
	f, err := protocol.Control(s.codec, m)
	if err != nil {
		return err
	}
	return s.SendFrame(f)
}

// SendFrame queues f without blocking.
func (s *Session) SendFrame(f protocol.Frame) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case s.out <- f:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close closes the session and its connection. It is safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

// Done is closed once the session is closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// writeLoop drains the outbound queue until the session closes.
func (s *Session) writeLoop(ctx context.Context) {
	defer close(s.writerDone)
	for {
		select {
		case <-s.done:
			return
		case f := <-s.out:
			if err := s.conn.WriteFrame(ctx, f); err != nil {
				s.Close()
				return
			}
		}
	}
}

// Transfer returns a copy of the active transfer and the current phase.
func (s *Session) Transfer() (protocol.TransferState, Phase, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transfer == nil {
		return protocol.TransferState{}, s.phase, false
	}
	return *s.transfer, s.phase, true
}

func (s *Session) beginTransfer(name string, size uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseIdle {
		return ErrTransferActive
	}
	s.transfer = protocol.NewTransferState(name, size, protocol.Outbound)
	s.phase = PhaseAwaitingAnnounceAck
	return nil
}

func (s *Session) startRelay() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == PhaseAwaitingAnnounceAck {
		s.phase = PhaseRelaying
	}
}

// relayState returns a copy of the transfer while payload is accepted.
func (s *Session) relayState() *protocol.TransferState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseRelaying || s.transfer == nil {
		return nil
	}
	st := *s.transfer
	return &st
}

// advance accounts for n relayed bytes and returns the updated state.
func (s *Session) advance(n int) (protocol.TransferState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transfer == nil {
		return protocol.TransferState{}, false
	}
	s.transfer.Advance(uint64(n))
	return *s.transfer, true
}

// endTransfer drops the transfer, returning it, and makes the session idle.
func (s *Session) endTransfer() *protocol.TransferState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.transfer
	s.transfer = nil
	s.phase = PhaseIdle
	return st
}
