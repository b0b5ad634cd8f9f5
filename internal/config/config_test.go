package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/omochice/toy-socket-relay/internal/config"
)

func TestServer_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*config.Server)
		wantErr bool
	}{
		{"defaults", func(*config.Server) {}, false},
		{"empty addr", func(c *config.Server) { c.Addr = "" }, true},
		{"zero queue", func(c *config.Server) { c.OutboundQueue = 0 }, true},
		{"chunk larger than frame", func(c *config.Server) { c.ChunkSize = c.MaxFrameSize }, true},
		{"settle delay bounded", func(c *config.Server) { c.SettleDelay = time.Minute }, true},
		{"settle delay in range", func(c *config.Server) { c.SettleDelay = 500 * time.Millisecond }, false},
		{"advertise without name", func(c *config.Server) { c.Advertise = true; c.InstanceName = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := config.DefaultServer()
			tt.modify(&c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestClient_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*config.Client)
		wantErr bool
	}{
		{"valid", func(*config.Client) {}, false},
		{"missing nickname", func(c *config.Client) { c.Nickname = "" }, true},
		{"nickname with colon", func(c *config.Client) { c.Nickname = "a:b" }, true},
		{"unknown codec", func(c *config.Client) { c.Codec = "json" }, true},
		{"proto codec", func(c *config.Client) { c.Codec = "proto" }, false},
		{"zero chunk", func(c *config.Client) { c.ChunkSize = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := config.DefaultClient()
			c.Nickname = "alice"
			tt.modify(&c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestClient_IsWebSocket(t *testing.T) {
	c := config.DefaultClient()
	assert.False(t, c.IsWebSocket())
	c.Server = "ws://localhost:5555/ws"
	assert.True(t, c.IsWebSocket())
}
