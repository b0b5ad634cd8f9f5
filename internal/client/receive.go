package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/omochice/toy-socket-relay/internal/chaterr"
	"github.com/omochice/toy-socket-relay/pkg/protocol"
)

// inboundFile is a file another participant is sending to us.
type inboundFile struct {
	sender string
	path   string
	// file is nil when the download could not be written; the remaining
	// bytes are still consumed to keep the transfer in step.
	file  *os.File
	state *protocol.TransferState
}

func (c *Client) receiveLoop() {
	defer c.wg.Done()

	var err error
	for {
		var f protocol.Frame
		f, err = c.conn.ReadFrame(context.Background())
		if err != nil {
			break
		}

		chunk, derr := protocol.Discriminate(f, protocol.RoleClient, c.lookupInbound)
		if derr != nil {
			c.reportError(chaterr.New(chaterr.KindProtocolViolation, "receive", derr))
			continue
		}

		switch chunk.Kind {
		case protocol.ChunkUnexpected:
			c.log.Warn("dropped file data outside a transfer", "origin", chunk.Origin, "bytes", len(chunk.Payload))
		case protocol.ChunkPayload:
			c.writeInbound(chunk)
		case protocol.ChunkControl:
			c.handleControl(chunk.Message)
		}
	}
	c.shutdown(err)
}

// lookupInbound finds the incoming transfer for origin. Bare payload frames
// carry no origin and are accepted only when a single transfer is active.
func (c *Client) lookupInbound(origin string) *protocol.TransferState {
	if in := c.resolveInbound(origin); in != nil {
		return in.state
	}
	return nil
}

func (c *Client) resolveInbound(origin string) *inboundFile {
	if origin != "" {
		return c.inbound[origin]
	}
	if len(c.inbound) != 1 {
		return nil
	}
	for _, in := range c.inbound {
		return in
	}
	return nil
}

func (c *Client) handleControl(m *protocol.Message) {
	switch m.Type {
	case protocol.MessageTypeNickRequest:
		if err := c.send(protocol.NewNickReply(c.cfg.Nickname)); err != nil {
			c.reportError(err)
		}

	case protocol.MessageTypeJoin:
		if m.Sender == c.cfg.Nickname {
			c.joinedOnce.Do(func() { close(c.joined) })
		}
		c.message(m.String())

	case protocol.MessageTypeNotice:
		if !c.IsConnected() {
			c.mu.Lock()
			c.notice = m.Content
			c.mu.Unlock()
		}
		c.message(m.String())

	case protocol.MessageTypeFileIncoming:
		if m.Sender == c.cfg.Nickname {
			c.acknowledge(m.FileName, nil)
			return
		}
		c.openInbound(m)

	case protocol.MessageTypeFileRejected:
		c.acknowledge(m.FileName, chaterr.New(chaterr.KindRejected, "send file", errors.New(m.Content)))

	case protocol.MessageTypeFileComplete:
		c.completeOutbound(m)

	case protocol.MessageTypeFileAborted:
		in := c.inbound[m.Sender]
		if in == nil || in.state.FileName != m.FileName {
			return
		}
		c.discardInbound(in)
		c.reportError(chaterr.New(chaterr.KindTransferAborted, "receive file",
			fmt.Errorf("%s stopped sending %s", m.Sender, m.FileName)))

	default:
		c.message(m.String())
	}
}

func (c *Client) openInbound(m *protocol.Message) {
	if prev := c.inbound[m.Sender]; prev != nil {
		c.log.Warn("new file announced before the previous one finished", "sender", m.Sender, "file", prev.state.FileName)
		c.discardInbound(prev)
	}

	name := filepath.Base(m.FileName)
	if c.handlers.OnFileIncoming != nil {
		c.handlers.OnFileIncoming(name, m.Sender, m.Size)
	}

	in := &inboundFile{
		sender: m.Sender,
		path:   filepath.Join(c.cfg.DownloadDir, name),
		state:  protocol.NewTransferState(name, m.Size, protocol.Inbound),
	}
	if err := os.MkdirAll(c.cfg.DownloadDir, 0o755); err != nil {
		c.reportError(fmt.Errorf("failed to create download directory: %w", err))
	} else if in.file, err = os.Create(in.path); err != nil {
		c.reportError(fmt.Errorf("failed to create %s: %w", in.path, err))
	}

	c.inbound[m.Sender] = in
	if in.state.Done() {
		c.finishInbound(in)
	}
}

func (c *Client) writeInbound(chunk protocol.Chunk) {
	in := c.resolveInbound(chunk.Origin)
	if in == nil {
		return
	}
	if chunk.Excess > 0 {
		c.log.Warn("dropped bytes past the announced size", "sender", in.sender, "file", in.state.FileName, "bytes", chunk.Excess)
	}

	if in.file != nil {
		if _, err := in.file.Write(chunk.Payload); err != nil {
			c.reportError(fmt.Errorf("failed to write %s: %w", in.path, err))
			in.file.Close()
			os.Remove(in.path)
			in.file = nil
		}
	}
	in.state.Advance(uint64(len(chunk.Payload)))

	if c.handlers.OnFileProgress != nil {
		c.handlers.OnFileProgress(in.state.FileName, in.state.Fraction())
	}
	if in.state.Done() {
		c.finishInbound(in)
	}
}

func (c *Client) finishInbound(in *inboundFile) {
	delete(c.inbound, in.sender)
	if in.file == nil {
		return
	}
	err := in.file.Sync()
	if cerr := in.file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(in.path)
		c.reportError(fmt.Errorf("failed to save %s: %w", in.path, err))
		return
	}
	c.log.Info("file received", "file", in.state.FileName, "sender", in.sender, "path", in.path)
	if c.handlers.OnFileComplete != nil {
		c.handlers.OnFileComplete(in.state.FileName, in.path)
	}
}

// discardInbound drops a transfer and removes its partial file.
func (c *Client) discardInbound(in *inboundFile) {
	delete(c.inbound, in.sender)
	if in.file != nil {
		in.file.Close()
		os.Remove(in.path)
	}
}

func (c *Client) shutdown(err error) {
	for _, in := range c.inbound {
		c.discardInbound(in)
	}

	c.mu.Lock()
	closing := c.closing
	c.closing = true
	out := c.outbound
	c.mu.Unlock()

	c.conn.Close()
	close(c.done)

	if out != nil {
		out.fail(chaterr.New(chaterr.KindStreamClosed, "send file", ErrNotConnected))
	}

	if closing {
		err = nil
	} else {
		c.log.Info("disconnected from server", "err", err)
		err = chaterr.New(chaterr.KindStreamClosed, "receive", err)
	}
	if c.handlers.OnDisconnected != nil {
		c.handlers.OnDisconnected(err)
	}
}
