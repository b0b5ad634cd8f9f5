package protocol_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/toy-socket-relay/pkg/protocol"
)

func TestWriteReadFrame(t *testing.T) {
	var buf bytes.Buffer
	frames := []protocol.Frame{
		{Tag: protocol.TagText, Body: []byte("NICK")},
		protocol.Payload([]byte{0x00, 0xff, 0x10}),
		protocol.Payload(nil),
		protocol.Relay("alice", []byte("chunk")),
	}
	for _, f := range frames {
		require.NoError(t, protocol.WriteFrame(&buf, f))
	}

	for i, want := range frames {
		got, err := protocol.ReadFrame(&buf, protocol.DefaultMaxFrameSize)
		require.NoError(t, err, "frame %d", i)
		assert.Equal(t, want.Tag, got.Tag, "frame %d tag", i)
		assert.Equal(t, len(want.Body), len(got.Body), "frame %d length", i)
		assert.True(t, bytes.Equal(want.Body, got.Body), "frame %d body", i)
	}

	_, err := protocol.ReadFrame(&buf, protocol.DefaultMaxFrameSize)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadFrame_TooLarge(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, protocol.WriteFrame(&buf, protocol.Payload(make([]byte, 32))))

	_, err := protocol.ReadFrame(&buf, 16)
	assert.ErrorIs(t, err, protocol.ErrFrameTooLarge)
}

func TestReadFrame_TruncatedBody(t *testing.T) {
	data := protocol.AppendFrame(nil, protocol.Payload([]byte("0123456789")))
	_, err := protocol.ReadFrame(bytes.NewReader(data[:len(data)-3]), 0)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReadFrame_UnknownTagKeepsSync(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, protocol.WriteFrame(&buf, protocol.Frame{Tag: 0x7f, Body: []byte("???")}))
	require.NoError(t, protocol.WriteFrame(&buf, protocol.Frame{Tag: protocol.TagText, Body: []byte("hi")}))

	f, err := protocol.ReadFrame(&buf, 0)
	require.NoError(t, err)
	assert.Equal(t, protocol.Tag(0x7f), f.Tag)

	f, err = protocol.ReadFrame(&buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(f.Body))
}

func TestPackUnpackMessage(t *testing.T) {
	f := protocol.Frame{Tag: protocol.TagProto, Body: []byte{1, 2, 3}}
	got, err := protocol.UnpackMessage(protocol.PackMessage(f), 0)
	require.NoError(t, err)
	assert.Equal(t, f, got)

	_, err = protocol.UnpackMessage(nil, 0)
	assert.ErrorIs(t, err, protocol.ErrEmptyFrame)

	_, err = protocol.UnpackMessage(protocol.PackMessage(protocol.Payload(make([]byte, 9))), 8)
	assert.ErrorIs(t, err, protocol.ErrFrameTooLarge)
}

func TestSplitRelay(t *testing.T) {
	f := protocol.Relay("bob", []byte("data"))
	origin, data, err := protocol.SplitRelay(f.Body)
	require.NoError(t, err)
	assert.Equal(t, "bob", origin)
	assert.Equal(t, "data", string(data))

	_, _, err = protocol.SplitRelay([]byte{5, 'a'})
	assert.ErrorIs(t, err, protocol.ErrMalformedMessage)
}

func TestTag_IsControl(t *testing.T) {
	assert.True(t, protocol.TagText.IsControl())
	assert.True(t, protocol.TagProto.IsControl())
	assert.False(t, protocol.TagPayload.IsControl())
	assert.False(t, protocol.TagRelay.IsControl())
}
