package chat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/omochice/toy-socket-relay/pkg/protocol"
)

// ProgressFunc observes relay progress of a sender's transfer.
type ProgressFunc func(sender string, st protocol.TransferState)

// Coordinator runs the server side of file transfers:
// Idle -> AwaitingAnnounceAck -> Relaying -> Idle.
// All methods for a given session are called from that session's reader
// goroutine.
type Coordinator struct {
	router      *Router
	chunkSize   int
	maxFileSize uint64
	settleDelay time.Duration
	progress    ProgressFunc
	log         *slog.Logger
}

// Announce handles a FILE_TRANSFER from s. Refused announcements are
// answered with FILE_REJECTED to s alone and are not an error.
func (c *Coordinator) Announce(ctx context.Context, s *Session, m *protocol.Message) error {
	if c.maxFileSize > 0 && m.Size > c.maxFileSize {
		c.reject(s, m.FileName, fmt.Sprintf("file larger than %d bytes", c.maxFileSize))
		return nil
	}
	if err := s.beginTransfer(m.FileName, m.Size); err != nil {
		c.reject(s, m.FileName, err.Error())
		return nil
	}

	c.log.Info("file transfer initiated", "session", s.ID, "nick", s.nickname, "file", m.FileName, "total", m.Size)
	c.router.Broadcast(protocol.NewFileIncoming(m.FileName, m.Size, s.nickname), nil)

	if m.Size == 0 {
		c.complete(s)
		return nil
	}

	if c.settleDelay > 0 {
		t := time.NewTimer(c.settleDelay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return ErrSessionClosed
		}
	}
	s.startRelay()
	return nil
}

// Relay forwards payload of the active transfer of s to every other session
// in frames of at most the configured chunk size.
func (c *Coordinator) Relay(s *Session, data []byte) {
	for len(data) > 0 {
		n := min(len(data), c.chunkSize)
		c.router.Relay(s, data[:n])
		data = data[n:]

		st, ok := s.advance(n)
		if !ok {
			return
		}
		c.log.Debug("file transfer progress", "nick", s.nickname, "file", st.FileName, "bytes", st.BytesTransferred, "total", st.TotalBytes)
		if c.progress != nil {
			c.progress(s.nickname, st)
		}
		if st.Done() {
			c.complete(s)
			return
		}
	}
}

// Abort drops an unfinished transfer of s and tells the other sessions.
func (c *Coordinator) Abort(s *Session) {
	st := s.endTransfer()
	if st == nil || st.Done() {
		return
	}
	c.log.Warn("file transfer aborted", "session", s.ID, "nick", s.nickname, "file", st.FileName, "bytes", st.BytesTransferred, "total", st.TotalBytes)
	c.router.Broadcast(protocol.NewFileAborted(st.FileName, s.nickname), s)
}

func (c *Coordinator) complete(s *Session) {
	st := s.endTransfer()
	if st == nil {
		return
	}
	c.log.Info("file transfer complete", "nick", s.nickname, "file", st.FileName, "total", st.TotalBytes)
	c.router.Broadcast(protocol.NewFileComplete(st.FileName, s.nickname), nil)
}

func (c *Coordinator) reject(s *Session, name, reason string) {
	c.log.Warn("file transfer rejected", "nick", s.nickname, "file", name, "reason", reason)
	if err := s.Send(protocol.NewFileRejected(name, reason)); err != nil {
		s.Close()
	}
}
