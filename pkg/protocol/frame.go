package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Tag identifies what the body of a frame carries.
type Tag byte

const (
	// TagText carries a UTF-8 control line.
	TagText Tag = 0x01
	// TagProto carries a protobuf encoded control message.
	TagProto Tag = 0x02
	// TagPayload carries raw bytes of the sending peer's own transfer.
	TagPayload Tag = 0x03
	// TagRelay carries raw transfer bytes relayed by the server, prefixed
	// with the nickname of the peer that sent them.
	TagRelay Tag = 0x04
)

// String returns the string representation of Tag
func (t Tag) String() string {
	switch t {
	case TagText:
		return "TEXT"
	case TagProto:
		return "PROTO"
	case TagPayload:
		return "PAYLOAD"
	case TagRelay:
		return "RELAY"
	default:
		return fmt.Sprintf("TAG(0x%02x)", byte(t))
	}
}

// IsControl reports whether frames with this tag carry control messages.
func (t Tag) IsControl() bool {
	return t == TagText || t == TagProto
}

// HeaderSize is the size of the stream frame header: tag + BigEndian uint32 length.
const HeaderSize = 5

// DefaultMaxFrameSize bounds the body of a single frame.
const DefaultMaxFrameSize = 1 << 20

var (
	// ErrFrameTooLarge is returned when a frame body exceeds the configured limit.
	// The stream cannot be resynchronised after it.
	ErrFrameTooLarge = errors.New("frame too large")
	// ErrEmptyFrame is returned when a message based transport delivers no tag byte.
	ErrEmptyFrame = errors.New("empty frame")
)

// Frame is one unit on the wire.
type Frame struct {
	Tag  Tag
	Body []byte
}

// Payload builds a frame carrying the sender's own transfer bytes.
func Payload(data []byte) Frame {
	return Frame{Tag: TagPayload, Body: data}
}

// Relay builds a server to client frame carrying bytes sent by origin.
func Relay(origin string, data []byte) Frame {
	body := make([]byte, 0, 1+len(origin)+len(data))
	body = append(body, byte(len(origin)))
	body = append(body, origin...)
	body = append(body, data...)
	return Frame{Tag: TagRelay, Body: body}
}

// SplitRelay returns the origin nickname and the data of a TagRelay body.
func SplitRelay(body []byte) (origin string, data []byte, err error) {
	if len(body) < 1 {
		return "", nil, fmt.Errorf("%w: relay frame without origin", ErrMalformedMessage)
	}
	n := int(body[0])
	if len(body) < 1+n {
		return "", nil, fmt.Errorf("%w: relay origin truncated", ErrMalformedMessage)
	}
	return string(body[1 : 1+n]), body[1+n:], nil
}

// ReadFrame reads one length-prefixed frame from r.
// Frames with unknown tags are returned as-is so the caller can drop them
// without losing stream synchronisation.
func ReadFrame(r io.Reader, maxSize int) (Frame, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, err
	}
	size := binary.BigEndian.Uint32(hdr[1:])
	if maxSize > 0 && uint64(size) > uint64(maxSize) {
		return Frame{}, fmt.Errorf("%w: %d bytes (limit %d)", ErrFrameTooLarge, size, maxSize)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return Frame{}, err
	}
	return Frame{Tag: Tag(hdr[0]), Body: body}, nil
}

// WriteFrame writes f to w with a single Write call.
func WriteFrame(w io.Writer, f Frame) error {
	_, err := w.Write(AppendFrame(make([]byte, 0, HeaderSize+len(f.Body)), f))
	return err
}

// AppendFrame appends the stream encoding of f to dst.
func AppendFrame(dst []byte, f Frame) []byte {
	dst = append(dst, byte(f.Tag))
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(f.Body)))
	return append(dst, f.Body...)
}

// PackMessage encodes f for message based transports, where the transport
// already delimits the frame: tag followed by body.
func PackMessage(f Frame) []byte {
	out := make([]byte, 0, 1+len(f.Body))
	out = append(out, byte(f.Tag))
	return append(out, f.Body...)
}

// UnpackMessage is the inverse of PackMessage.
func UnpackMessage(data []byte, maxSize int) (Frame, error) {
	if len(data) == 0 {
		return Frame{}, ErrEmptyFrame
	}
	if maxSize > 0 && len(data)-1 > maxSize {
		return Frame{}, fmt.Errorf("%w: %d bytes (limit %d)", ErrFrameTooLarge, len(data)-1, maxSize)
	}
	return Frame{Tag: Tag(data[0]), Body: data[1:]}, nil
}
