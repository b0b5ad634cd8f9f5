package protocol_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/toy-socket-relay/pkg/protocol"
)

func TestDiscriminate_Control(t *testing.T) {
	body, err := protocol.NewFileTransfer("f.txt", 4).Encode()
	require.NoError(t, err)

	tests := []struct {
		name  string
		frame protocol.Frame
		role  protocol.Role
		want  *protocol.Message
	}{
		{
			name:  "client text line",
			frame: protocol.Frame{Tag: protocol.TagText, Body: []byte("hello")},
			role:  protocol.RoleServer,
			want:  protocol.NewText("", "hello"),
		},
		{
			name:  "server text line",
			frame: protocol.Frame{Tag: protocol.TagText, Body: []byte("A: hello")},
			role:  protocol.RoleClient,
			want:  protocol.NewText("A", "hello"),
		},
		{
			name:  "protobuf announce",
			frame: protocol.Frame{Tag: protocol.TagProto, Body: body},
			role:  protocol.RoleServer,
			want:  protocol.NewFileTransfer("f.txt", 4),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := protocol.Discriminate(tt.frame, tt.role, nil)
			require.NoError(t, err)
			assert.Equal(t, protocol.ChunkControl, got.Kind)
			assert.Equal(t, tt.want, got.Message)
		})
	}
}

func TestDiscriminate_ControlDuringTransfer(t *testing.T) {
	// Text that looks like binary data is still control when it is framed
	// as control, even with a transfer in progress.
	st := protocol.NewTransferState("f.txt", 10, protocol.Inbound)
	lookup := func(string) *protocol.TransferState { return st }

	got, err := protocol.Discriminate(protocol.Frame{Tag: protocol.TagText, Body: []byte("FILE_TRANSFER_COMPLETE:f.txt")}, protocol.RoleClient, lookup)
	require.NoError(t, err)
	assert.Equal(t, protocol.ChunkControl, got.Kind)
	assert.Equal(t, uint64(0), st.BytesTransferred)
}

func TestDiscriminate_Payload(t *testing.T) {
	st := protocol.NewTransferState("f.txt", 5, protocol.Inbound)
	st.Advance(2)
	lookup := func(origin string) *protocol.TransferState {
		if origin == "A" {
			return st
		}
		return nil
	}

	got, err := protocol.Discriminate(protocol.Relay("A", []byte("abcdef")), protocol.RoleClient, lookup)
	require.NoError(t, err)
	assert.Equal(t, protocol.ChunkPayload, got.Kind)
	assert.Equal(t, "A", got.Origin)
	assert.Equal(t, "abc", string(got.Payload))
	assert.Equal(t, 3, got.Excess)
	assert.Equal(t, uint64(2), st.BytesTransferred, "Discriminate must not advance the state")

	got, err = protocol.Discriminate(protocol.Relay("B", []byte("x")), protocol.RoleClient, lookup)
	require.NoError(t, err)
	assert.Equal(t, protocol.ChunkUnexpected, got.Kind)
	assert.Equal(t, "B", got.Origin)
}

func TestDiscriminate_OwnPayload(t *testing.T) {
	st := protocol.NewTransferState("f.txt", 3, protocol.Outbound)
	lookup := func(origin string) *protocol.TransferState {
		if origin == "" {
			return st
		}
		return nil
	}

	got, err := protocol.Discriminate(protocol.Payload([]byte{0, 1, 2}), protocol.RoleServer, lookup)
	require.NoError(t, err)
	assert.Equal(t, protocol.ChunkPayload, got.Kind)
	assert.Equal(t, 0, got.Excess)

	got, err = protocol.Discriminate(protocol.Payload([]byte{0}), protocol.RoleServer, nil)
	require.NoError(t, err)
	assert.Equal(t, protocol.ChunkUnexpected, got.Kind)

	st.Advance(3)
	got, err = protocol.Discriminate(protocol.Payload([]byte{0}), protocol.RoleServer, lookup)
	require.NoError(t, err)
	assert.Equal(t, protocol.ChunkUnexpected, got.Kind, "finished transfers take no more data")
}

func TestDiscriminate_RelayFromClientIsUnexpected(t *testing.T) {
	got, err := protocol.Discriminate(protocol.Relay("A", []byte("x")), protocol.RoleServer, nil)
	require.NoError(t, err)
	assert.Equal(t, protocol.ChunkUnexpected, got.Kind)
}

func TestDiscriminate_Errors(t *testing.T) {
	tests := []struct {
		name  string
		frame protocol.Frame
	}{
		{"unknown tag", protocol.Frame{Tag: 0x42, Body: []byte("x")}},
		{"invalid utf8 line", protocol.Frame{Tag: protocol.TagText, Body: []byte{0xc3, 0x28}}},
		{"garbage protobuf", protocol.Frame{Tag: protocol.TagProto, Body: []byte{0x08}}},
		{"truncated relay origin", protocol.Frame{Tag: protocol.TagRelay, Body: []byte{3, 'A'}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := protocol.Discriminate(tt.frame, protocol.RoleClient, nil)
			assert.Error(t, err)
		})
	}
}

func TestTransferState(t *testing.T) {
	st := protocol.NewTransferState("f.txt", 10, protocol.Outbound)
	assert.Equal(t, uint64(10), st.Remaining())
	assert.Equal(t, 0.0, st.Fraction())

	assert.Equal(t, uint64(4), st.Advance(4))
	assert.InDelta(t, 0.4, st.Fraction(), 1e-9)
	assert.False(t, st.Done())

	assert.Equal(t, uint64(6), st.Advance(100), "advance is capped at the remaining bytes")
	assert.True(t, st.Done())
	assert.Equal(t, uint64(10), st.BytesTransferred)
	assert.Equal(t, uint64(0), st.Advance(1))

	empty := protocol.NewTransferState("empty", 0, protocol.Inbound)
	assert.True(t, empty.Done())
	assert.Equal(t, 1.0, empty.Fraction())
	assert.Equal(t, "inbound", empty.Direction.String())
}
