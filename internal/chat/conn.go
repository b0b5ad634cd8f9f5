// Package chat provides the relay core shared by all transports: sessions,
// the session registry, broadcast routing and transfer coordination.
package chat

import (
	"context"

	"github.com/omochice/toy-socket-relay/pkg/protocol"
)

// Conn abstracts a bidirectional framed connection for both TCP and WebSocket.
// This interface isolates transport details from chat logic.
type Conn interface {
	// ReadFrame reads a single frame.
	// Returns io.EOF when connection is closed.
	ReadFrame(ctx context.Context) (protocol.Frame, error)

	// WriteFrame sends a single frame. It is not called concurrently.
	WriteFrame(ctx context.Context, f protocol.Frame) error

	// Close closes the connection and wakes a blocked ReadFrame.
	Close() error

	// RemoteAddr returns the remote address for logging.
	RemoteAddr() string
}
