package chat

import (
	"errors"
	"log/slog"

	"github.com/omochice/toy-socket-relay/pkg/protocol"
)

// Router fans frames out to registered sessions.
// A recipient that cannot take a frame is unregistered and closed; delivery
// to the others continues.
type Router struct {
	registry *Registry
	log      *slog.Logger
}

// NewRouter creates a Router over registry.
func NewRouter(registry *Registry, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{registry: registry, log: log}
}

// Broadcast sends m to every session except exclude, which may be nil.
// Each recipient gets m in its own codec. It returns the number of sessions
// the message was queued for.
func (r *Router) Broadcast(m *protocol.Message, exclude *Session) int {
	frames := make(map[protocol.Tag]protocol.Frame, 2)
	delivered := 0
	r.registry.ForEach(func(s *Session) {
		if s == exclude {
			return
		}
		codec := s.Codec()
		f, ok := frames[codec.Tag()]
		if !ok {
			var err error
			if f, err = protocol.Control(codec, m); err != nil {
				r.log.Error("failed to encode message", "type", m.Type, "codec", codec.Tag(), "err", err)
				return
			}
			frames[codec.Tag()] = f
		}
		if r.deliver(s, f) {
			delivered++
		}
	})
	return delivered
}

// Relay sends transfer bytes from origin to every other session.
func (r *Router) Relay(origin *Session, data []byte) int {
	f := protocol.Relay(origin.nickname, data)
	delivered := 0
	r.registry.ForEach(func(s *Session) {
		if s == origin {
			return
		}
		if r.deliver(s, f) {
			delivered++
		}
	})
	return delivered
}

func (r *Router) deliver(s *Session, f protocol.Frame) bool {
	err := s.SendFrame(f)
	if err == nil {
		return true
	}
	if !errors.Is(err, ErrSessionClosed) {
		r.log.Warn("dropping session", "session", s.ID, "nick", s.nickname, "err", err)
	}
	r.registry.Unregister(s)
	s.Close()
	return false
}
