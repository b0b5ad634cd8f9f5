package protocol

import (
	"fmt"
	"unicode/utf8"
)

// Role identifies which end of a connection is decoding.
// Text lines are direction dependent: the same line means different things
// coming from a client or from the server.
type Role int

const (
	RoleServer Role = iota
	RoleClient
)

// Codec converts control messages to and from frame bodies.
type Codec interface {
	Tag() Tag
	Marshal(m *Message) ([]byte, error)
	Unmarshal(body []byte) (*Message, error)
}

// TextCodec encodes control messages as the colon separated line vocabulary.
type TextCodec struct {
	role Role
}

// NewTextCodec returns a text codec decoding lines as seen by role.
func NewTextCodec(role Role) TextCodec {
	return TextCodec{role: role}
}

func (TextCodec) Tag() Tag { return TagText }

func (TextCodec) Marshal(m *Message) ([]byte, error) {
	return []byte(m.String()), nil
}

func (c TextCodec) Unmarshal(body []byte) (*Message, error) {
	if !utf8.Valid(body) {
		return nil, ErrInvalidText
	}
	if c.role == RoleServer {
		return ParseClientLine(string(body))
	}
	return ParseServerLine(string(body))
}

// ProtoCodec encodes control messages with protobuf.
type ProtoCodec struct{}

func (ProtoCodec) Tag() Tag { return TagProto }

func (ProtoCodec) Marshal(m *Message) ([]byte, error) {
	return m.Encode()
}

func (ProtoCodec) Unmarshal(body []byte) (*Message, error) {
	var m Message
	if err := m.Decode(body); err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// CodecFor returns the codec that decodes control frames tagged t.
func CodecFor(t Tag, role Role) (Codec, error) {
	switch t {
	case TagText:
		return NewTextCodec(role), nil
	case TagProto:
		return ProtoCodec{}, nil
	default:
		return nil, fmt.Errorf("%w: %s is not a control tag", ErrMalformedMessage, t)
	}
}

// CodecByName resolves the configuration names "text" and "proto".
func CodecByName(name string, role Role) (Codec, error) {
	switch name {
	case "", "text":
		return NewTextCodec(role), nil
	case "proto":
		return ProtoCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

// Control encodes m into a control frame using c.
func Control(c Codec, m *Message) (Frame, error) {
	body, err := c.Marshal(m)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Tag: c.Tag(), Body: body}, nil
}
