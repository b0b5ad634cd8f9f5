package protocol

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

// MessageType represents the type of control message
type MessageType int

const (
	MessageTypeText MessageType = iota
	MessageTypeJoin
	MessageTypeLeave
	MessageTypeNickRequest
	MessageTypeNickReply
	MessageTypeNotice
	MessageTypeFileTransfer
	MessageTypeFileIncoming
	MessageTypeFileComplete
	MessageTypeFileAborted
	MessageTypeFileRejected
)

// String returns the string representation of MessageType
func (mt MessageType) String() string {
	switch mt {
	case MessageTypeText:
		return "TEXT"
	case MessageTypeJoin:
		return "JOIN"
	case MessageTypeLeave:
		return "LEAVE"
	case MessageTypeNickRequest:
		return "NICK_REQUEST"
	case MessageTypeNickReply:
		return "NICK_REPLY"
	case MessageTypeNotice:
		return "NOTICE"
	case MessageTypeFileTransfer:
		return "FILE_TRANSFER"
	case MessageTypeFileIncoming:
		return "FILE_INCOMING"
	case MessageTypeFileComplete:
		return "FILE_TRANSFER_COMPLETE"
	case MessageTypeFileAborted:
		return "TRANSFER_ABORTED"
	case MessageTypeFileRejected:
		return "FILE_REJECTED"
	default:
		return "UNKNOWN"
	}
}

var (
	// ErrMalformedMessage is returned for control messages missing fields or
	// carrying values of the wrong shape.
	ErrMalformedMessage = errors.New("malformed control message")
	// ErrInvalidText is returned when a text control frame is not valid UTF-8.
	ErrInvalidText = errors.New("control frame is not valid text")
)

// MaxNicknameLength keeps nicknames small enough for the relay frame prefix.
const MaxNicknameLength = 64

// Message represents a control message
type Message struct {
	Type     MessageType
	Sender   string
	Content  string
	FileName string
	Size     uint64
}

func NewText(sender, content string) *Message {
	return &Message{Type: MessageTypeText, Sender: sender, Content: content}
}

func NewJoin(nickname string) *Message {
	return &Message{Type: MessageTypeJoin, Sender: nickname}
}

func NewLeave(nickname string) *Message {
	return &Message{Type: MessageTypeLeave, Sender: nickname}
}

func NewNickRequest() *Message {
	return &Message{Type: MessageTypeNickRequest}
}

func NewNickReply(nickname string) *Message {
	return &Message{Type: MessageTypeNickReply, Content: nickname}
}

func NewNotice(text string) *Message {
	return &Message{Type: MessageTypeNotice, Content: text}
}

// NewFileTransfer is the client's announcement of an outbound transfer.
func NewFileTransfer(name string, size uint64) *Message {
	return &Message{Type: MessageTypeFileTransfer, FileName: name, Size: size}
}

// NewFileIncoming is the server's announcement of a transfer to all peers.
func NewFileIncoming(name string, size uint64, sender string) *Message {
	return &Message{Type: MessageTypeFileIncoming, FileName: name, Size: size, Sender: sender}
}

// NewFileComplete reports a finished transfer. The text line carries only the
// file name; sender is kept by the protobuf codec.
func NewFileComplete(name, sender string) *Message {
	return &Message{Type: MessageTypeFileComplete, FileName: name, Sender: sender}
}

func NewFileAborted(name, sender string) *Message {
	return &Message{Type: MessageTypeFileAborted, FileName: name, Sender: sender}
}

func NewFileRejected(name, reason string) *Message {
	return &Message{Type: MessageTypeFileRejected, FileName: name, Content: reason}
}

// Validate checks that the fields required by the message type are present
// and can be carried by the text vocabulary.
func (m *Message) Validate() error {
	switch m.Type {
	case MessageTypeJoin, MessageTypeLeave:
		return ValidateNickname(m.Sender)
	case MessageTypeNickReply:
		return ValidateNickname(m.Content)
	case MessageTypeFileTransfer, MessageTypeFileComplete, MessageTypeFileRejected:
		return ValidateFileName(m.FileName)
	case MessageTypeFileIncoming, MessageTypeFileAborted:
		if err := ValidateFileName(m.FileName); err != nil {
			return err
		}
		return ValidateNickname(m.Sender)
	case MessageTypeText, MessageTypeNickRequest, MessageTypeNotice:
		return nil
	default:
		return fmt.Errorf("%w: unknown type %d", ErrMalformedMessage, int(m.Type))
	}
}

// ValidateNickname rejects names that would break the line vocabulary.
func ValidateNickname(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty nickname", ErrMalformedMessage)
	case len(name) > MaxNicknameLength:
		return fmt.Errorf("%w: nickname longer than %d bytes", ErrMalformedMessage, MaxNicknameLength)
	case !utf8.ValidString(name):
		return fmt.Errorf("%w: nickname is not valid UTF-8", ErrMalformedMessage)
	case strings.ContainsAny(name, ":\r\n"):
		return fmt.Errorf("%w: nickname %q contains a reserved character", ErrMalformedMessage, name)
	}
	return nil
}

// ValidateFileName accepts bare file names only.
func ValidateFileName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: invalid file name %q", ErrMalformedMessage, name)
	case !utf8.ValidString(name):
		return fmt.Errorf("%w: file name is not valid UTF-8", ErrMalformedMessage)
	case strings.ContainsAny(name, ":/\\\r\n\x00"):
		return fmt.Errorf("%w: file name %q contains a reserved character", ErrMalformedMessage, name)
	}
	return nil
}

// Field numbers of the protobuf encoding, see proto/message.proto.
const (
	fieldType     protoreflect.FieldNumber = 1
	fieldSender   protoreflect.FieldNumber = 2
	fieldContent  protoreflect.FieldNumber = 3
	fieldFileName protoreflect.FieldNumber = 4
	fieldSize     protoreflect.FieldNumber = 5
)

// messageDesc describes socketrelay.Message from proto/message.proto.
var messageDesc = mustMessageDescriptor()

func mustMessageDescriptor() protoreflect.MessageDescriptor {
	names := []string{
		"UNSPECIFIED", "TEXT", "JOIN", "LEAVE", "NICK_REQUEST", "NICK_REPLY", "NOTICE",
		"FILE_TRANSFER", "FILE_INCOMING", "FILE_COMPLETE", "FILE_ABORTED", "FILE_REJECTED",
	}
	values := make([]*descriptorpb.EnumValueDescriptorProto, len(names))
	for i, name := range names {
		values[i] = &descriptorpb.EnumValueDescriptorProto{
			Name:   proto.String("MESSAGE_TYPE_" + name),
			Number: proto.Int32(int32(i)),
		}
	}

	field := func(name string, num protoreflect.FieldNumber, typ descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto {
		return &descriptorpb.FieldDescriptorProto{
			Name:   proto.String(name),
			Number: proto.Int32(int32(num)),
			Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
			Type:   typ.Enum(),
		}
	}
	typeField := field("type", fieldType, descriptorpb.FieldDescriptorProto_TYPE_ENUM)
	typeField.TypeName = proto.String(".socketrelay.MessageType")

	file := &descriptorpb.FileDescriptorProto{
		Name:    proto.String("message.proto"),
		Package: proto.String("socketrelay"),
		Syntax:  proto.String("proto3"),
		EnumType: []*descriptorpb.EnumDescriptorProto{{
			Name:  proto.String("MessageType"),
			Value: values,
		}},
		MessageType: []*descriptorpb.DescriptorProto{{
			Name: proto.String("Message"),
			Field: []*descriptorpb.FieldDescriptorProto{
				typeField,
				field("sender", fieldSender, descriptorpb.FieldDescriptorProto_TYPE_STRING),
				field("content", fieldContent, descriptorpb.FieldDescriptorProto_TYPE_STRING),
				field("file_name", fieldFileName, descriptorpb.FieldDescriptorProto_TYPE_STRING),
				field("size", fieldSize, descriptorpb.FieldDescriptorProto_TYPE_UINT64),
			},
		}},
	}
	fd, err := protodesc.NewFile(file, nil)
	if err != nil {
		panic(fmt.Sprintf("protocol: invalid message descriptor: %v", err))
	}
	return fd.Messages().ByName("Message")
}

// Encode encodes the message into bytes using protobuf
func (m *Message) Encode() ([]byte, error) {
	pbMsg, err := m.toProto()
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	data, err := proto.Marshal(pbMsg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return data, nil
}

// Decode decodes bytes into a message using protobuf.
// Unknown fields are skipped so newer peers stay compatible.
func (m *Message) Decode(data []byte) error {
	pbMsg := dynamicpb.NewMessage(messageDesc)
	if err := proto.Unmarshal(data, pbMsg); err != nil {
		return fmt.Errorf("failed to decode message: %w", err)
	}
	return m.fromProto(pbMsg)
}

func (m *Message) toProto() (*dynamicpb.Message, error) {
	wt, ok := messageTypeToWire(m.Type)
	if !ok {
		return nil, fmt.Errorf("%w: unknown type %d", ErrMalformedMessage, int(m.Type))
	}
	for _, s := range []string{m.Sender, m.Content, m.FileName} {
		if !utf8.ValidString(s) {
			return nil, ErrInvalidText
		}
	}

	fields := messageDesc.Fields()
	pbMsg := dynamicpb.NewMessage(messageDesc)
	pbMsg.Set(fields.ByNumber(fieldType), protoreflect.ValueOfEnum(protoreflect.EnumNumber(wt)))
	pbMsg.Set(fields.ByNumber(fieldSender), protoreflect.ValueOfString(m.Sender))
	pbMsg.Set(fields.ByNumber(fieldContent), protoreflect.ValueOfString(m.Content))
	pbMsg.Set(fields.ByNumber(fieldFileName), protoreflect.ValueOfString(m.FileName))
	pbMsg.Set(fields.ByNumber(fieldSize), protoreflect.ValueOfUint64(m.Size))
	return pbMsg, nil
}

func (m *Message) fromProto(pbMsg *dynamicpb.Message) error {
	fields := messageDesc.Fields()
	wt := pbMsg.Get(fields.ByNumber(fieldType)).Enum()
	if wt == 0 {
		return fmt.Errorf("failed to decode message: %w: missing type", ErrMalformedMessage)
	}
	mt, ok := messageTypeFromWire(uint64(wt))
	if !ok {
		return fmt.Errorf("failed to decode message: %w: unknown type %d", ErrMalformedMessage, wt)
	}
	*m = Message{
		Type:     mt,
		Sender:   pbMsg.Get(fields.ByNumber(fieldSender)).String(),
		Content:  pbMsg.Get(fields.ByNumber(fieldContent)).String(),
		FileName: pbMsg.Get(fields.ByNumber(fieldFileName)).String(),
		Size:     pbMsg.Get(fields.ByNumber(fieldSize)).Uint(),
	}
	return nil
}

// messageTypeToWire converts MessageType to its protobuf enum value.
// Zero is reserved for MESSAGE_TYPE_UNSPECIFIED.
func messageTypeToWire(mt MessageType) (uint64, bool) {
	if mt < MessageTypeText || mt > MessageTypeFileRejected {
		return 0, false
	}
	return uint64(mt) + 1, true
}

// messageTypeFromWire converts a protobuf enum value to MessageType.
// Unlike chat text, an unknown control type cannot be degraded gracefully,
// so it is reported.
func messageTypeFromWire(v uint64) (MessageType, bool) {
	if v == 0 || v > uint64(MessageTypeFileRejected)+1 {
		return 0, false
	}
	return MessageType(v - 1), true
}
