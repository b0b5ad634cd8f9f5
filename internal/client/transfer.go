package client

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/omochice/toy-socket-relay/internal/chaterr"
	"github.com/omochice/toy-socket-relay/pkg/protocol"
)

// outboundFile is the file this client is sending.
type outboundFile struct {
	name string
	// ack receives nil on the server's announcement echo, or the rejection.
	ack      chan error
	acked    bool
	streamed bool
	finished chan struct{}
}

// newOutboundFile starts an outbound record. An empty file has nothing to
// stream, so its completion may arrive together with the announcement echo.
func newOutboundFile(name string, size uint64) *outboundFile {
	return &outboundFile{name: name, ack: make(chan error, 1), streamed: size == 0, finished: make(chan struct{})}
}

func (o *outboundFile) fail(err error) {
	select {
	case o.ack <- err:
	default:
	}
}

// SendFile announces the file at path and streams it to the server. It
// returns once the server confirms every byte was relayed. Only one file may
// be sent at a time.
//
// If the file cannot be read to its announced size, or ctx is cancelled while
// streaming, the connection is closed: the server aborts the transfer for
// every recipient.
func (c *Client) SendFile(ctx context.Context, path string) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if !c.sending.TryLock() {
		return ErrTransferInProgress
	}
	defer c.sending.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", path)
	}
	name := filepath.Base(path)
	if err := protocol.ValidateFileName(name); err != nil {
		return err
	}
	size := uint64(info.Size())

	out := newOutboundFile(name, size)
	c.mu.Lock()
	c.outbound = out
	c.mu.Unlock()
	defer c.clearOutbound(out)

	if err := c.send(protocol.NewFileTransfer(name, size)); err != nil {
		return err
	}
	if err := c.awaitAnnouncement(ctx, out); err != nil {
		return err
	}

	st := protocol.NewTransferState(name, size, protocol.Outbound)
	buf := make([]byte, c.cfg.ChunkSize)
	for !st.Done() {
		if err := ctx.Err(); err != nil {
			c.conn.Close()
			return err
		}

		n := len(buf)
		if r := st.Remaining(); uint64(n) > r {
			n = int(r)
		}
		if _, err := io.ReadFull(f, buf[:n]); err != nil {
			c.conn.Close()
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		if st.Remaining() == uint64(n) {
			c.markStreamed(out)
		}
		if err := c.writeFrame(protocol.Payload(buf[:n])); err != nil {
			return err
		}
		st.Advance(uint64(n))

		if c.handlers.OnSendProgress != nil {
			c.handlers.OnSendProgress(name, st.Fraction())
		}
	}

	select {
	case <-out.finished:
		return nil
	case <-c.done:
		return chaterr.New(chaterr.KindStreamClosed, "send file", ErrNotConnected)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// awaitAnnouncement waits for the server to echo the announcement back. A
// missing echo leaves the server's view of the transfer unknown, so the
// connection is closed.
func (c *Client) awaitAnnouncement(ctx context.Context, out *outboundFile) error {
	timer := time.NewTimer(c.cfg.AnnounceTimeout)
	defer timer.Stop()

	select {
	case err := <-out.ack:
		return err
	case <-timer.C:
		c.conn.Close()
		return chaterr.New(chaterr.KindProtocolViolation, "send file",
			fmt.Errorf("no announcement for %s within %s", out.name, c.cfg.AnnounceTimeout))
	case <-ctx.Done():
		c.conn.Close()
		return ctx.Err()
	}
}

// acknowledge settles the pending announcement named name.
func (c *Client) acknowledge(name string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := c.outbound
	if out == nil || out.name != name || out.acked {
		c.log.Debug("ignored announcement reply", "file", name, "err", err)
		return
	}
	if err == nil {
		out.acked = true
	}
	out.fail(err)
}

func (c *Client) markStreamed(out *outboundFile) {
	c.mu.Lock()
	out.streamed = true
	c.mu.Unlock()
}

// completeOutbound handles a completion notice. Completions for other
// senders' files of the same name are told apart by their sender when the
// codec carries one; text completions name only the file and are matched once
// this client's last chunk is written.
func (c *Client) completeOutbound(m *protocol.Message) {
	c.mu.Lock()
	out := c.outbound
	if out == nil || out.name != m.FileName || !out.acked || !out.streamed ||
		(m.Sender != "" && m.Sender != c.cfg.Nickname) {
		c.mu.Unlock()
		c.log.Debug("ignored completion", "file", m.FileName, "sender", m.Sender)
		return
	}
	c.outbound = nil
	c.mu.Unlock()

	c.log.Info("file sent", "file", m.FileName)
	if c.handlers.OnFileSent != nil {
		c.handlers.OnFileSent(m.FileName)
	}
	close(out.finished)
}

func (c *Client) clearOutbound(out *outboundFile) {
	c.mu.Lock()
	if c.outbound == out {
		c.outbound = nil
	}
	c.mu.Unlock()
}
