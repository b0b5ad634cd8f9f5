package discovery

import (
	"net"
	"testing"

	"github.com/grandcat/zeroconf"
	"github.com/stretchr/testify/assert"
)

func TestServerFromEntry(t *testing.T) {
	tests := []struct {
		name  string
		entry func() *zeroconf.ServiceEntry
		want  Server
		ok    bool
	}{
		{
			name: "single port",
			entry: func() *zeroconf.ServiceEntry {
				e := zeroconf.NewServiceEntry("relay", ServiceType, Domain)
				e.Port = 5555
				e.AddrIPv4 = []net.IP{net.ParseIP("192.168.1.10")}
				e.Text = []string{txtVersion}
				return e
			},
			want: Server{Instance: "relay", Addr: "192.168.1.10:5555", WSURL: "ws://192.168.1.10:5555/ws"},
			ok:   true,
		},
		{
			name: "separate websocket port over ipv6",
			entry: func() *zeroconf.ServiceEntry {
				e := zeroconf.NewServiceEntry("relay", ServiceType, Domain)
				e.Port = 5555
				e.AddrIPv6 = []net.IP{net.ParseIP("fe80::1")}
				e.Text = []string{txtVersion, "ws=8080"}
				return e
			},
			want: Server{Instance: "relay", Addr: "[fe80::1]:5555", WSURL: "ws://[fe80::1]:8080/ws"},
			ok:   true,
		},
		{
			name: "no address",
			entry: func() *zeroconf.ServiceEntry {
				return zeroconf.NewServiceEntry("relay", ServiceType, Domain)
			},
			ok: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := serverFromEntry(tt.entry())
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}
