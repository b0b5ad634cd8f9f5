// Package discovery advertises relay servers on the local network over mDNS
// and finds them from clients.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"
)

const (
	// ServiceType is the DNS-SD service type of relay servers.
	ServiceType = "_socketrelay._tcp"
	Domain      = "local."

	txtVersion = "txtv=1"
	txtWSPort  = "ws="
)

// ErrNotFound is returned by Lookup when no server answered in time.
var ErrNotFound = errors.New("no relay server found")

// Advertiser keeps a service registration alive until Shutdown.
type Advertiser struct {
	server *zeroconf.Server
}

// Advertise registers instance on port. wsPort is the separate WebSocket
// port, or zero when WebSocket clients share port.
func Advertise(instance string, port, wsPort int) (*Advertiser, error) {
	txt := []string{txtVersion}
	if wsPort > 0 {
		txt = append(txt, txtWSPort+strconv.Itoa(wsPort))
	}
	server, err := zeroconf.Register(instance, ServiceType, Domain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register mDNS service: %w", err)
	}
	return &Advertiser{server: server}, nil
}

// Shutdown withdraws the registration.
func (a *Advertiser) Shutdown() {
	a.server.Shutdown()
}

// Server is a relay server found on the network.
type Server struct {
	Instance string
	// Addr is host:port for TCP clients.
	Addr string
	// WSURL is the WebSocket endpoint.
	WSURL string
}

// Browse reports every server found until ctx is done.
func Browse(ctx context.Context, found func(Server)) error {
	resolver, err := zeroconf.NewResolver()
	if err != nil {
		return fmt.Errorf("failed to initialize resolver: %w", err)
	}

	// The resolver closes entries once ctx is done.
	entries := make(chan *zeroconf.ServiceEntry)
	go func() {
		for entry := range entries {
			if s, ok := serverFromEntry(entry); ok {
				found(s)
			}
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, Domain, entries); err != nil {
		return fmt.Errorf("failed to browse: %w", err)
	}
	<-ctx.Done()
	return nil
}

// Lookup returns the first server that answers before ctx is done.
func Lookup(ctx context.Context) (Server, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	result := make(chan Server, 1)
	err := Browse(ctx, func(s Server) {
		select {
		case result <- s:
			cancel()
		default:
		}
	})
	if err != nil {
		return Server{}, err
	}
	select {
	case s := <-result:
		return s, nil
	default:
		return Server{}, ErrNotFound
	}
}

func serverFromEntry(e *zeroconf.ServiceEntry) (Server, bool) {
	var ip net.IP
	switch {
	case len(e.AddrIPv4) > 0:
		ip = e.AddrIPv4[0]
	case len(e.AddrIPv6) > 0:
		ip = e.AddrIPv6[0]
	default:
		return Server{}, false
	}

	host := ip.String()
	wsPort := e.Port
	for _, txt := range e.Text {
		if v, ok := strings.CutPrefix(txt, txtWSPort); ok {
			if p, err := strconv.Atoi(v); err == nil && p > 0 {
				wsPort = p
			}
		}
	}
	return Server{
		Instance: e.Instance,
		Addr:     net.JoinHostPort(host, strconv.Itoa(e.Port)),
		WSURL:    "ws://" + net.JoinHostPort(host, strconv.Itoa(wsPort)) + "/ws",
	}, true
}
