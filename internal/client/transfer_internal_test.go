package client

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/omochice/toy-socket-relay/internal/config"
	"github.com/omochice/toy-socket-relay/pkg/protocol"
)

func newTestClient(nick string) (*Client, *[]string) {
	cfg := config.DefaultClient()
	cfg.Nickname = nick
	var sent []string
	c := New(cfg, Handlers{OnFileSent: func(name string) { sent = append(sent, name) }})
	return c, &sent
}

func isFinished(out *outboundFile) bool {
	select {
	case <-out.finished:
		return true
	default:
		return false
	}
}

func TestCompleteOutbound_MatchesSender(t *testing.T) {
	c, sent := newTestClient("A")
	out := newOutboundFile("x.bin", 4)
	out.acked = true
	out.streamed = true
	c.outbound = out

	c.completeOutbound(protocol.NewFileComplete("x.bin", "B"))
	assert.Empty(t, *sent, "another sender's file of the same name")
	assert.Same(t, out, c.outbound)
	assert.False(t, isFinished(out))

	c.completeOutbound(protocol.NewFileComplete("x.bin", "A"))
	assert.Equal(t, []string{"x.bin"}, *sent)
	assert.Nil(t, c.outbound)
	assert.True(t, isFinished(out))
}

func TestCompleteOutbound_WaitsForLastChunk(t *testing.T) {
	c, sent := newTestClient("A")
	out := newOutboundFile("x.bin", 4)
	out.acked = true
	c.outbound = out

	// Text completions carry no sender; before the last chunk is written one
	// can only belong to someone else.
	c.completeOutbound(protocol.NewFileComplete("x.bin", ""))
	assert.Empty(t, *sent)
	assert.False(t, isFinished(out))

	c.markStreamed(out)
	c.completeOutbound(protocol.NewFileComplete("x.bin", ""))
	assert.Equal(t, []string{"x.bin"}, *sent)
	assert.True(t, isFinished(out))
}

func TestCompleteOutbound_EmptyFileNeedsNoChunk(t *testing.T) {
	c, sent := newTestClient("A")
	out := newOutboundFile("empty.txt", 0)
	c.outbound = out

	c.acknowledge("empty.txt", nil)
	c.completeOutbound(protocol.NewFileComplete("empty.txt", ""))
	assert.Equal(t, []string{"empty.txt"}, *sent)
	assert.True(t, isFinished(out))
	assert.NoError(t, <-out.ack)
}
