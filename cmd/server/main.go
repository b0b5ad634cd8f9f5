package main

import (
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/omochice/toy-socket-relay/internal/config"
	"github.com/omochice/toy-socket-relay/internal/server"
)

var (
	defaults = config.DefaultServer()

	addr        = kingpin.Flag("addr", "Address to listen on for TCP clients, and WebSocket clients unless --ws-addr is set.").Short('a').Envar("RELAY_ADDR").Default(defaults.Addr).String()
	wsAddr      = kingpin.Flag("ws-addr", "Separate address for WebSocket clients.").Envar("RELAY_WS_ADDR").String()
	maxSessions = kingpin.Flag("max-sessions", "Maximum concurrent connections (0 for unlimited).").Envar("RELAY_MAX_SESSIONS").Default("0").Int()
	queue       = kingpin.Flag("queue", "Frames buffered per client before it is dropped as stalled.").Envar("RELAY_QUEUE").Default("256").Int()
	chunkSize   = kingpin.Flag("chunk-size", "Largest file payload relayed in one frame.").Envar("RELAY_CHUNK_SIZE").Default("65536").Int()
	maxFileSize = kingpin.Flag("max-file-size", "Reject files larger than this many bytes (0 for unlimited).").Envar("RELAY_MAX_FILE_SIZE").Default("0").Uint64()
	settleDelay = kingpin.Flag("settle-delay", "Pause between a file announcement and its first data.").Envar("RELAY_SETTLE_DELAY").Default("0s").Duration()
	handshake   = kingpin.Flag("handshake-timeout", "How long to wait for a nickname.").Envar("RELAY_HANDSHAKE_TIMEOUT").Default("10s").Duration()
	detect      = kingpin.Flag("detect-timeout", "How long to wait for the first bytes before serving a connection as TCP.").Envar("RELAY_DETECT_TIMEOUT").Default("300ms").Duration()
	advertise   = kingpin.Flag("advertise", "Advertise the server on the local network over mDNS.").Envar("RELAY_ADVERTISE").Bool()
	instance    = kingpin.Flag("instance", "mDNS instance name.").Envar("RELAY_INSTANCE").Default(defaults.InstanceName).String()
	logLevel    = kingpin.Flag("log-level", "Log level.").Envar("RELAY_LOG_LEVEL").Default("info").Enum("debug", "info", "warn", "error")
)

func main() {
	kingpin.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(*logLevel)}))
	slog.SetDefault(log)

	cfg := config.DefaultServer()
	cfg.Addr = *addr
	cfg.WSAddr = *wsAddr
	cfg.MaxSessions = *maxSessions
	cfg.OutboundQueue = *queue
	cfg.ChunkSize = *chunkSize
	cfg.MaxFileSize = *maxFileSize
	cfg.SettleDelay = *settleDelay
	cfg.HandshakeTimeout = *handshake
	cfg.DetectTimeout = *detect
	cfg.Advertise = *advertise
	cfg.InstanceName = *instance
	if err := cfg.Validate(); err != nil {
		kingpin.Fatalf("invalid configuration: %v", err)
	}

	srv := server.New(cfg, log)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	select {
	case err := <-errChan:
		if err != nil && !errors.Is(err, server.ErrServerStopped) {
			log.Error("server error", "err", err)
			os.Exit(1)
		}
	case sig := <-sigChan:
		log.Info("shutting down", "signal", sig)
		srv.Stop()
	}
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
