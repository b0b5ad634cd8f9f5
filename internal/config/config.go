// Package config holds the runtime settings of the relay server and client.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/omochice/toy-socket-relay/pkg/protocol"
)

// Server configures the relay server.
type Server struct {
	// Addr is the listen address for TCP clients, and for WebSocket clients
	// too when WSAddr is empty.
	Addr string
	// WSAddr is an optional separate listen address for WebSocket clients.
	WSAddr string
	// MaxSessions caps concurrent connections. Zero means unlimited.
	MaxSessions int
	// OutboundQueue is the number of frames buffered per session before the
	// session is considered stalled and disconnected.
	OutboundQueue int
	// ChunkSize caps the payload carried by one relayed frame.
	ChunkSize int
	// MaxFrameSize bounds inbound frame bodies.
	MaxFrameSize int
	// MaxFileSize rejects announcements above this size. Zero means unlimited.
	MaxFileSize uint64
	// SettleDelay is waited between the announcement and the first relayed
	// payload frame.
	SettleDelay time.Duration
	// HandshakeTimeout bounds the wait for the nickname reply.
	HandshakeTimeout time.Duration
	// DetectTimeout bounds the wait for the first bytes in single-port mode.
	// Connections that stay silent are served as raw TCP.
	DetectTimeout time.Duration
	// Advertise publishes the server on the local network over mDNS.
	Advertise bool
	// InstanceName is the advertised mDNS instance name.
	InstanceName string
}

// MaxSettleDelay bounds Server.SettleDelay.
const MaxSettleDelay = 5 * time.Second

// DefaultServer returns the default server settings.
func DefaultServer() Server {
	return Server{
		Addr:             ":5555",
		OutboundQueue:    256,
		ChunkSize:        64 * 1024,
		MaxFrameSize:     protocol.DefaultMaxFrameSize,
		HandshakeTimeout: 10 * time.Second,
		DetectTimeout:    300 * time.Millisecond,
		InstanceName:     "socket-relay",
	}
}

// Validate reports the first invalid setting.
func (c Server) Validate() error {
	switch {
	case c.Addr == "":
		return errors.New("listen address is required")
	case c.MaxSessions < 0:
		return fmt.Errorf("max sessions must not be negative, got %d", c.MaxSessions)
	case c.OutboundQueue <= 0:
		return fmt.Errorf("outbound queue must be positive, got %d", c.OutboundQueue)
	case c.MaxFrameSize <= 0:
		return fmt.Errorf("max frame size must be positive, got %d", c.MaxFrameSize)
	case c.ChunkSize <= 0 || c.ChunkSize > c.MaxFrameSize-1-protocol.MaxNicknameLength:
		return fmt.Errorf("chunk size must be in (0, %d], got %d", c.MaxFrameSize-1-protocol.MaxNicknameLength, c.ChunkSize)
	case c.SettleDelay < 0 || c.SettleDelay > MaxSettleDelay:
		return fmt.Errorf("settle delay must be within [0, %s], got %s", MaxSettleDelay, c.SettleDelay)
	case c.HandshakeTimeout <= 0:
		return fmt.Errorf("handshake timeout must be positive, got %s", c.HandshakeTimeout)
	case c.DetectTimeout <= 0:
		return fmt.Errorf("detect timeout must be positive, got %s", c.DetectTimeout)
	case c.Advertise && c.InstanceName == "":
		return errors.New("instance name is required to advertise")
	}
	return nil
}

// Client configures the relay client.
type Client struct {
	// Server is host:port for TCP, or a ws:// URL for WebSocket.
	Server      string
	Nickname    string
	DownloadDir string
	// ChunkSize is the payload carried by one outbound frame.
	ChunkSize       int
	MaxFrameSize    int
	AnnounceTimeout time.Duration
	// Codec names the control codec: "text" or "proto".
	Codec       string
	DialTimeout time.Duration
}

// DefaultClient returns the default client settings.
func DefaultClient() Client {
	return Client{
		Server:          "localhost:5555",
		DownloadDir:     "downloads",
		ChunkSize:       4096,
		MaxFrameSize:    protocol.DefaultMaxFrameSize,
		AnnounceTimeout: 5 * time.Second,
		Codec:           "text",
		DialTimeout:     5 * time.Second,
	}
}

// IsWebSocket reports whether Server names a WebSocket endpoint.
func (c Client) IsWebSocket() bool {
	return strings.HasPrefix(c.Server, "ws://") || strings.HasPrefix(c.Server, "wss://")
}

// Validate reports the first invalid setting.
func (c Client) Validate() error {
	if c.Server == "" {
		return errors.New("server address is required")
	}
	if err := protocol.ValidateNickname(c.Nickname); err != nil {
		return err
	}
	if c.DownloadDir == "" {
		return errors.New("download directory is required")
	}
	if c.MaxFrameSize <= 0 {
		return fmt.Errorf("max frame size must be positive, got %d", c.MaxFrameSize)
	}
	if c.ChunkSize <= 0 || c.ChunkSize > c.MaxFrameSize {
		return fmt.Errorf("chunk size must be in (0, %d], got %d", c.MaxFrameSize, c.ChunkSize)
	}
	if c.AnnounceTimeout <= 0 {
		return fmt.Errorf("announce timeout must be positive, got %s", c.AnnounceTimeout)
	}
	if _, err := protocol.CodecByName(c.Codec, protocol.RoleClient); err != nil {
		return err
	}
	return nil
}
