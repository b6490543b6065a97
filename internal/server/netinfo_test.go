package server

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFirstIPv4(t *testing.T) {
	ipNet := func(s string) *net.IPNet {
		ip, n, err := net.ParseCIDR(s)
		if err != nil {
			t.Fatalf("bad CIDR %s: %v", s, err)
		}
		n.IP = ip
		return n
	}

	tests := []struct {
		name  string
		addrs []net.Addr
		want  string
	}{
		{"no addresses", nil, "0.0.0.0"},
		{"loopback only", []net.Addr{ipNet("127.0.0.1/8"), ipNet("::1/128")}, "0.0.0.0"},
		{"skips ipv6", []net.Addr{ipNet("fe80::1/64"), ipNet("192.168.1.20/24")}, "192.168.1.20"},
		{"first wins", []net.Addr{ipNet("10.0.0.5/8"), ipNet("192.168.1.20/24")}, "10.0.0.5"},
		{"ignores other addr types", []net.Addr{&net.UDPAddr{IP: net.IPv4(1, 2, 3, 4)}}, "0.0.0.0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, firstIPv4(tt.addrs))
		})
	}
}

func TestLocalIPv4(t *testing.T) {
	ip := net.ParseIP(LocalIPv4())
	if assert.NotNil(t, ip) {
		assert.NotNil(t, ip.To4())
	}
}
