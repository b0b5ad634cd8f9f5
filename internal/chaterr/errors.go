// Package chaterr defines the error kinds reported by the relay server and
// client.
package chaterr

import "errors"

// Kind classifies an error.
type Kind int

const (
	KindUnknown Kind = iota
	// KindConnectFailure means the server could not be reached or the
	// handshake did not complete.
	KindConnectFailure
	// KindStreamClosed means the peer closed the stream or it failed.
	KindStreamClosed
	// KindProtocolViolation means a frame could not be interpreted.
	KindProtocolViolation
	// KindTransferAborted means a transfer ended before all bytes arrived.
	KindTransferAborted
	// KindRejected means the server refused an announced transfer.
	KindRejected
)

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case KindConnectFailure:
		return "connect failure"
	case KindStreamClosed:
		return "stream closed"
	case KindProtocolViolation:
		return "protocol violation"
	case KindTransferAborted:
		return "transfer aborted"
	case KindRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is. Any *Error of the same kind matches them.
var (
	ErrConnectFailure    = &Error{Kind: KindConnectFailure}
	ErrStreamClosed      = &Error{Kind: KindStreamClosed}
	ErrProtocolViolation = &Error{Kind: KindProtocolViolation}
	ErrTransferAborted   = &Error{Kind: KindTransferAborted}
	ErrRejected          = &Error{Kind: KindRejected}
)

// Error is an error of a known kind raised by operation Op.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// New wraps err as an error of kind raised by op.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
