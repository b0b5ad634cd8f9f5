package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/omochice/toy-socket-relay/internal/client"
	"github.com/omochice/toy-socket-relay/internal/config"
	"github.com/omochice/toy-socket-relay/internal/discovery"
)

const filePrefix = "file:"

var (
	defaults = config.DefaultClient()

	serverAddr  = kingpin.Flag("server", "Server address: host:port for TCP or ws://host:port/ws for WebSocket.").Short('s').Envar("RELAY_SERVER").Default(defaults.Server).String()
	nickname    = kingpin.Flag("nickname", "Nickname for chat. Asked for when not given.").Short('n').Envar("RELAY_NICKNAME").String()
	downloadDir = kingpin.Flag("download-dir", "Directory received files are saved to.").Short('d').Envar("RELAY_DOWNLOAD_DIR").Default(defaults.DownloadDir).String()
	codec       = kingpin.Flag("codec", "Control message encoding.").Envar("RELAY_CODEC").Default(defaults.Codec).Enum("text", "proto")
	chunkSize   = kingpin.Flag("chunk-size", "Bytes sent per file data frame.").Envar("RELAY_CHUNK_SIZE").Default("4096").Int()
	discover    = kingpin.Flag("discover", "Find a server on the local network over mDNS instead of using --server.").Bool()
	websocket   = kingpin.Flag("websocket", "Connect to a discovered server over WebSocket.").Bool()
	logLevel    = kingpin.Flag("log-level", "Log level.").Envar("RELAY_LOG_LEVEL").Default("warn").Enum("debug", "info", "warn", "error")
)

// bars tracks one progress bar per file in flight.
type bars struct {
	mu   sync.Mutex
	bars map[string]*progressbar.ProgressBar
}

func (b *bars) start(key, description string, total uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bars[key] = progressbar.NewOptions64(int64(total),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowBytes(true),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionThrottle(65*time.Millisecond),
	)
}

func (b *bars) set(key string, fraction float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if bar, ok := b.bars[key]; ok {
		bar.Set64(int64(fraction * float64(bar.GetMax64())))
	}
}

func (b *bars) finish(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if bar, ok := b.bars[key]; ok {
		bar.Finish()
		delete(b.bars, key)
	}
}

func main() {
	kingpin.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		level = slog.LevelWarn
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	stdin := bufio.NewScanner(os.Stdin)
	if *nickname == "" {
		fmt.Print("Choose a nickname: ")
		if !stdin.Scan() {
			kingpin.Fatalf("a nickname is required")
		}
		*nickname = strings.TrimSpace(stdin.Text())
	}

	cfg := config.DefaultClient()
	cfg.Server = *serverAddr
	cfg.Nickname = *nickname
	cfg.DownloadDir = *downloadDir
	cfg.Codec = *codec
	cfg.ChunkSize = *chunkSize

	if *discover {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		found, err := discovery.Lookup(ctx)
		cancel()
		if err != nil {
			kingpin.Fatalf("failed to discover a server: %v", err)
		}
		cfg.Server = found.Addr
		if *websocket && found.WSURL != "" {
			cfg.Server = found.WSURL
		}
		fmt.Printf("Found %s at %s\n", found.Instance, cfg.Server)
	}

	progress := &bars{bars: make(map[string]*progressbar.ProgressBar)}
	c := client.New(cfg, client.Handlers{
		OnMessage: func(text string) {
			fmt.Println(text)
		},
		OnFileIncoming: func(name, sender string, size uint64) {
			fmt.Printf("Receiving %s from %s (%d bytes)\n", name, sender, size)
			progress.start("in:"+name, "receiving "+name, size)
		},
		OnFileProgress: func(name string, fraction float64) {
			progress.set("in:"+name, fraction)
		},
		OnFileComplete: func(name, path string) {
			progress.finish("in:" + name)
			fmt.Printf("File %s saved to %s\n", name, path)
		},
		OnSendProgress: func(name string, fraction float64) {
			progress.set("out:"+name, fraction)
		},
		OnFileSent: func(name string) {
			progress.finish("out:" + name)
			fmt.Printf("File %s sent\n", name)
		},
		OnError: func(err error) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		},
		OnDisconnected: func(err error) {
			if err != nil {
				fmt.Fprintf(os.Stderr, "Disconnected: %v\n", err)
			}
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := c.Connect(ctx); err != nil {
		kingpin.Fatalf("%v", err)
	}
	defer c.Disconnect()

	fmt.Printf("Type messages, %s<path> to send a file, or 'quit' to exit\n", filePrefix)

	lines := make(chan string)
	go func() {
		defer close(lines)
		for stdin.Scan() {
			lines <- stdin.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			text := strings.TrimSpace(line)
			switch {
			case text == "":
			case text == "quit" || text == "exit":
				return
			case strings.HasPrefix(text, filePrefix):
				go sendFile(ctx, c, progress, strings.TrimSpace(strings.TrimPrefix(text, filePrefix)))
			default:
				if err := c.SendText(text); err != nil {
					fmt.Fprintf(os.Stderr, "Failed to send message: %v\n", err)
				}
			}
		}
	}
}

func sendFile(ctx context.Context, c *client.Client, progress *bars, path string) {
	info, err := os.Stat(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to send file: %v\n", err)
		return
	}
	key := "out:" + info.Name()
	progress.start(key, "sending "+info.Name(), uint64(info.Size()))
	if err := c.SendFile(ctx, path); err != nil {
		progress.finish(key)
		fmt.Fprintf(os.Stderr, "Failed to send %s: %v\n", info.Name(), err)
	}
}
