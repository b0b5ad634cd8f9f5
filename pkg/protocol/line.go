package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Line prefixes and suffixes of the text vocabulary.
const (
	lineNick       = "NICK"
	prefixTransfer = "FILE_TRANSFER:"
	prefixIncoming = "FILE_INCOMING:"
	prefixComplete = "FILE_TRANSFER_COMPLETE:"
	prefixAborted  = "TRANSFER_ABORTED:"
	prefixRejected = "FILE_REJECTED:"
	suffixJoined   = " joined the chat!"
	suffixLeft     = " left the chat!"
	chatSeparator  = ": "
	fieldSeparator = ":"
)

// String renders the message as its text control line.
func (m *Message) String() string {
	switch m.Type {
	case MessageTypeText:
		if m.Sender == "" {
			return m.Content
		}
		return m.Sender + chatSeparator + m.Content
	case MessageTypeJoin:
		return m.Sender + suffixJoined
	case MessageTypeLeave:
		return m.Sender + suffixLeft
	case MessageTypeNickRequest:
		return lineNick
	case MessageTypeNickReply, MessageTypeNotice:
		return m.Content
	case MessageTypeFileTransfer:
		return fmt.Sprintf("%s%s:%d", prefixTransfer, m.FileName, m.Size)
	case MessageTypeFileIncoming:
		return fmt.Sprintf("%s%s:%d:%s", prefixIncoming, m.FileName, m.Size, m.Sender)
	case MessageTypeFileComplete:
		return prefixComplete + m.FileName
	case MessageTypeFileAborted:
		return prefixAborted + m.FileName + fieldSeparator + m.Sender
	case MessageTypeFileRejected:
		return prefixRejected + m.FileName + fieldSeparator + m.Content
	default:
		return m.Content
	}
}

// ParseClientLine interprets a line sent by a client.
// Anything that is not a transfer announcement is chat text; during the
// handshake the server reads that text as the nickname.
func ParseClientLine(line string) (*Message, error) {
	if !strings.HasPrefix(line, prefixTransfer) {
		return &Message{Type: MessageTypeText, Content: line}, nil
	}
	parts := strings.SplitN(strings.TrimPrefix(line, prefixTransfer), fieldSeparator, 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("%w: %q needs a name and a size", ErrMalformedMessage, line)
	}
	size, err := parseSize(parts[1])
	if err != nil {
		return nil, err
	}
	m := NewFileTransfer(parts[0], size)
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// ParseServerLine interprets a line sent by the server.
func ParseServerLine(line string) (*Message, error) {
	switch {
	case line == lineNick:
		return NewNickRequest(), nil

	case strings.HasPrefix(line, prefixIncoming):
		parts := strings.SplitN(strings.TrimPrefix(line, prefixIncoming), fieldSeparator, 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("%w: %q needs a name, a size and a sender", ErrMalformedMessage, line)
		}
		size, err := parseSize(parts[1])
		if err != nil {
			return nil, err
		}
		return validated(NewFileIncoming(parts[0], size, parts[2]))

	case strings.HasPrefix(line, prefixComplete):
		return validated(NewFileComplete(strings.TrimPrefix(line, prefixComplete), ""))

	case strings.HasPrefix(line, prefixAborted):
		parts := strings.SplitN(strings.TrimPrefix(line, prefixAborted), fieldSeparator, 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("%w: %q needs a name and a sender", ErrMalformedMessage, line)
		}
		return validated(NewFileAborted(parts[0], parts[1]))

	case strings.HasPrefix(line, prefixRejected):
		parts := strings.SplitN(strings.TrimPrefix(line, prefixRejected), fieldSeparator, 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("%w: %q needs a name and a reason", ErrMalformedMessage, line)
		}
		return validated(NewFileRejected(parts[0], parts[1]))
	}

	// Nicknames never contain ':', which keeps presence notices apart from
	// chat lines that merely end like one.
	if nick, ok := strings.CutSuffix(line, suffixJoined); ok && ValidateNickname(nick) == nil {
		return NewJoin(nick), nil
	}
	if nick, ok := strings.CutSuffix(line, suffixLeft); ok && ValidateNickname(nick) == nil {
		return NewLeave(nick), nil
	}
	if sender, content, ok := strings.Cut(line, chatSeparator); ok && ValidateNickname(sender) == nil {
		return NewText(sender, content), nil
	}
	return NewNotice(line), nil
}

func parseSize(s string) (uint64, error) {
	size, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid size %q", ErrMalformedMessage, s)
	}
	return size, nil
}

func validated(m *Message) (*Message, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}
