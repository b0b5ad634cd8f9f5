package protocol_test

import (
	"errors"
	"testing"

	"github.com/omochice/toy-socket-relay/pkg/protocol"
)

func TestMessage_Encode(t *testing.T) {
	tests := []struct {
		name    string
		msg     protocol.Message
		wantErr bool
	}{
		{
			name:    "encode text message successfully",
			msg:     protocol.Message{Type: protocol.MessageTypeText, Sender: "user1", Content: "Hello, World!"},
			wantErr: false,
		},
		{
			name:    "encode announcement successfully",
			msg:     protocol.Message{Type: protocol.MessageTypeFileIncoming, Sender: "user2", FileName: "f.txt", Size: 10},
			wantErr: false,
		},
		{
			name:    "encode nick request successfully",
			msg:     protocol.Message{Type: protocol.MessageTypeNickRequest},
			wantErr: false,
		},
		{
			name:    "unknown type fails",
			msg:     protocol.Message{Type: protocol.MessageType(99)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.msg.Encode()
			if (err != nil) != tt.wantErr {
				t.Errorf("Message.Encode() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && len(data) == 0 {
				t.Error("Message.Encode() returned empty data")
			}
		})
	}
}

func TestMessage_Decode(t *testing.T) {
	encode := func(m protocol.Message) []byte {
		data, err := m.Encode()
		if err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
		return data
	}

	tests := []struct {
		name    string
		data    []byte
		want    protocol.Message
		wantErr bool
	}{
		{
			name: "decode announcement",
			data: encode(protocol.Message{Type: protocol.MessageTypeFileIncoming, Sender: "A", FileName: "f.txt", Size: 10}),
			want: protocol.Message{Type: protocol.MessageTypeFileIncoming, Sender: "A", FileName: "f.txt", Size: 10},
		},
		{
			name: "decode chat text",
			data: encode(protocol.Message{Type: protocol.MessageTypeText, Sender: "A", Content: "hi"}),
			want: protocol.Message{Type: protocol.MessageTypeText, Sender: "A", Content: "hi"},
		},
		{
			name:    "missing type",
			data:    []byte{},
			wantErr: true,
		},
		{
			name:    "truncated varint",
			data:    []byte{0x08, 0xff},
			wantErr: true,
		},
		{
			name:    "unknown type value",
			data:    []byte{0x08, 0x7f},
			wantErr: true,
		},
		{
			name: "unknown field is skipped",
			data: append(encode(protocol.Message{Type: protocol.MessageTypeNotice, Content: "x"}), 0x78, 0x01),
			want: protocol.Message{Type: protocol.MessageTypeNotice, Content: "x"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got protocol.Message
			err := got.Decode(tt.data)
			if (err != nil) != tt.wantErr {
				t.Errorf("Message.Decode() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("Message.Decode() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestMessageType_String(t *testing.T) {
	tests := []struct {
		name string
		mt   protocol.MessageType
		want string
	}{
		{"text type", protocol.MessageTypeText, "TEXT"},
		{"join type", protocol.MessageTypeJoin, "JOIN"},
		{"leave type", protocol.MessageTypeLeave, "LEAVE"},
		{"incoming type", protocol.MessageTypeFileIncoming, "FILE_INCOMING"},
		{"complete type", protocol.MessageTypeFileComplete, "FILE_TRANSFER_COMPLETE"},
		{"unknown type", protocol.MessageType(42), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.mt.String(); got != tt.want {
				t.Errorf("MessageType.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidateFileName(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		wantErr bool
	}{
		{"plain name", "report.pdf", false},
		{"unicode name", "résumé.txt", false},
		{"empty", "", true},
		{"dot dot", "..", true},
		{"path separator", "dir/file", true},
		{"windows separator", `dir\file`, true},
		{"field separator", "a:b", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := protocol.ValidateFileName(tt.file)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateFileName(%q) error = %v, wantErr %v", tt.file, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, protocol.ErrMalformedMessage) {
				t.Errorf("ValidateFileName(%q) error = %v, want ErrMalformedMessage", tt.file, err)
			}
		})
	}
}
