package discovery

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterInterfaces(t *testing.T) {
	up := net.FlagUp | net.FlagMulticast
	ifaces := []net.Interface{
		{Name: "lo", Flags: up | net.FlagLoopback},
		{Name: "eth0", Flags: up},
		{Name: "wlan0", Flags: up},
		{Name: "docker0", Flags: up},
		{Name: "veth12ab", Flags: up},
		{Name: "eth1", Flags: net.FlagMulticast},
		{Name: "tun0", Flags: net.FlagUp},
		{Name: "WG0", Flags: up},
	}

	var names []string
	for _, iface := range filterInterfaces(ifaces) {
		names = append(names, iface.Name)
	}
	assert.Equal(t, []string{"eth0", "wlan0"}, names)
}

func TestGardenBaseURL(t *testing.T) {
	tests := []struct {
		name string
		g    Garden
		want string
	}{
		{"ipv4 preferred", Garden{Host: "garden.local.", Port: 80, Addrs: []net.IP{net.ParseIP("fe80::1"), net.ParseIP("192.168.1.20")}}, "http://192.168.1.20:80"},
		{"ipv6 only", Garden{Port: 8080, Addrs: []net.IP{net.ParseIP("fe80::1")}}, "http://[fe80::1]:8080"},
		{"host fallback", Garden{Host: "garden.local.", Port: 80}, "http://garden.local:80"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.g.BaseURL())
		})
	}
}

func TestFromEntry(t *testing.T) {
	e := zeroconf.NewServiceEntry("garden", ServiceType, domain)
	e.HostName = "garden.local."
	e.Port = 80
	e.AddrIPv4 = []net.IP{net.ParseIP("10.0.0.5")}

	g := fromEntry(e)
	assert.Equal(t, "garden", g.Instance)
	assert.Equal(t, "http://10.0.0.5:80", g.BaseURL())
}

func TestAdvertiserRetriesUntilRegistered(t *testing.T) {
	clock := clockwork.NewFakeClock()
	a := NewAdvertiser(Options{Instance: "garden", Port: 80, Text: []string{"v=1"}, RetryInterval: time.Second, Clock: clock})

	attempts := make(chan struct{}, 8)
	calls := 0
	a.ifaces = func() ([]net.Interface, error) {
		return []net.Interface{{Name: "eth0"}}, nil
	}
	a.register = func(instance, service, dom string, port int, text []string, _ []net.Interface) (*zeroconf.Server, error) {
		calls++
		attempts <- struct{}{}
		assert.Equal(t, "garden", instance)
		assert.Equal(t, ServiceType, service)
		assert.Equal(t, 80, port)
		assert.Equal(t, []string{"path=/api", "v=1"}, text)
		if calls < 3 {
			return nil, errors.New("network unreachable")
		}
		return nil, errors.New("stop here")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	for i := 0; i < 3; i++ {
		<-attempts
		require.NoError(t, clock.BlockUntilContext(ctx, 1))
		if i < 2 {
			clock.Advance(time.Second)
		}
	}
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, 3, calls)
}

func TestAdvertiserNoInterfaces(t *testing.T) {
	a := NewAdvertiser(Options{Port: 80, Clock: clockwork.NewFakeClock()})
	a.ifaces = func() ([]net.Interface, error) { return nil, nil }

	_, err := a.tryRegister()
	assert.Error(t, err)
	assert.NotEmpty(t, a.Instance())
}
