package client

import (
	"context"
	"net"

	"github.com/gobwas/ws"

	"github.com/omochice/toy-socket-relay/internal/chat"
	"github.com/omochice/toy-socket-relay/internal/config"
	"github.com/omochice/toy-socket-relay/internal/transport/tcp"
	wsconn "github.com/omochice/toy-socket-relay/internal/transport/ws"
)

// dial opens a connection to cfg.Server. ws:// and wss:// URLs are dialed as
// WebSocket, anything else as a plain TCP host:port.
func dial(ctx context.Context, cfg config.Client) (chat.Conn, error) {
	if cfg.IsWebSocket() {
		conn, br, _, err := ws.Dial(ctx, cfg.Server)
		if err != nil {
			return nil, err
		}
		c := wsconn.NewClientConn(conn, br)
		c.SetMaxFrameSize(cfg.MaxFrameSize)
		return c, nil
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", cfg.Server)
	if err != nil {
		return nil, err
	}
	c := tcp.NewConn(conn)
	c.SetMaxFrameSize(cfg.MaxFrameSize)
	return c, nil
}
