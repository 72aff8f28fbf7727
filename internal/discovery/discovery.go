// Package discovery advertises the Sand Garden HTTP API over mDNS/DNS-SD and
// finds gardens on the local network.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/jonboulle/clockwork"
)

// ServiceType is the DNS-SD service type of the HTTP API.
const ServiceType = "_sandgarden._tcp"

const domain = "local."

// virtualPrefixes name container and tunnel interfaces skipped for mDNS.
var virtualPrefixes = []string{
	"docker", "br-", "veth", "virbr", "lxc", "lxd",
	"cni", "flannel", "cali", "tunl", "wg",
}

// Options configures advertising. Zero fields take the defaults.
type Options struct {
	Instance      string        // instance name; the hostname if empty
	Port          int           // HTTP API port
	Text          []string      // extra TXT records
	RetryInterval time.Duration // delay between failed registrations
	Clock         clockwork.Clock
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		RetryInterval: 30 * time.Second,
		Clock:         clockwork.NewRealClock(),
	}
}

// registerFunc matches zeroconf.Register.
type registerFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error)

// Advertiser registers the API while Run is active.
type Advertiser struct {
	opts     Options
	register registerFunc
	ifaces   func() ([]net.Interface, error)
}

// NewAdvertiser creates an Advertiser.
func NewAdvertiser(opts Options) *Advertiser {
	def := DefaultOptions()
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = def.RetryInterval
	}
	if opts.Clock == nil {
		opts.Clock = def.Clock
	}
	if opts.Instance == "" {
		opts.Instance = instanceName()
	}
	return &Advertiser{
		opts:     opts,
		register: zeroconf.Register,
		ifaces:   preferredInterfaces,
	}
}

// Instance returns the advertised instance name.
func (a *Advertiser) Instance() string { return a.opts.Instance }

// Run registers the service, retrying until the network is usable, and
// sends goodbye packets when ctx is done. Registration failures are not
// fatal.
func (a *Advertiser) Run(ctx context.Context) error {
	var server *zeroconf.Server
	for server == nil {
		var err error
		server, err = a.tryRegister()
		if err != nil {
			slog.Debug("[MDNS] registration failed, retrying", "error", err, "retry", a.opts.RetryInterval)
			select {
			case <-ctx.Done():
				return nil
			case <-a.opts.Clock.After(a.opts.RetryInterval):
			}
		}
	}

	<-ctx.Done()
	slog.Debug("[MDNS] stopping advertising")
	server.Shutdown()
	return nil
}

func (a *Advertiser) tryRegister() (*zeroconf.Server, error) {
	ifaces, err := a.ifaces()
	if err != nil {
		return nil, err
	}
	if len(ifaces) == 0 {
		return nil, fmt.Errorf("discovery: no multicast interface")
	}
	names := make([]string, len(ifaces))
	for i, iface := range ifaces {
		names[i] = iface.Name
	}

	text := append([]string{"path=/api"}, a.opts.Text...)
	server, err := a.register(a.opts.Instance, ServiceType, domain, a.opts.Port, text, ifaces)
	if err != nil {
		return nil, fmt.Errorf("discovery: register: %w", err)
	}
	slog.Info("[MDNS] advertising", "instance", a.opts.Instance, "port", a.opts.Port, "interfaces", names)
	return server, nil
}

func preferredInterfaces() ([]net.Interface, error) {
	all, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("discovery: list interfaces: %w", err)
	}
	return filterInterfaces(all), nil
}

// filterInterfaces keeps interfaces that are up, multicast-capable, and
// neither loopback nor virtual.
func filterInterfaces(ifaces []net.Interface) []net.Interface {
	var out []net.Interface
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if iface.Flags&net.FlagMulticast == 0 || isVirtual(iface.Name) {
			continue
		}
		out = append(out, iface)
	}
	return out
}

func isVirtual(name string) bool {
	name = strings.ToLower(name)
	for _, p := range virtualPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

func instanceName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "sandgarden"
	}
	return "sandgarden-" + strings.SplitN(host, ".", 2)[0]
}

// Garden is one discovered HTTP API.
type Garden struct {
	Instance string
	Host     string
	Port     int
	Addrs    []net.IP
}

// BaseURL returns the http:// URL of the garden, preferring an IPv4
// address.
func (g Garden) BaseURL() string {
	host := strings.TrimSuffix(g.Host, ".")
	for _, ip := range g.Addrs {
		if ip.To4() != nil {
			host = ip.String()
			break
		}
	}
	if host == "" && len(g.Addrs) > 0 {
		host = g.Addrs[0].String()
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(g.Port))
}

// Browse collects gardens answering within timeout.
func Browse(ctx context.Context, timeout time.Duration) ([]Garden, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("discovery: resolver: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, ServiceType, domain, entries); err != nil {
		return nil, fmt.Errorf("discovery: browse: %w", err)
	}

	var found []Garden
	for {
		select {
		case <-ctx.Done():
			return found, nil
		case e, ok := <-entries:
			if !ok {
				return found, nil
			}
			found = append(found, fromEntry(e))
		}
	}
}

func fromEntry(e *zeroconf.ServiceEntry) Garden {
	addrs := make([]net.IP, 0, len(e.AddrIPv4)+len(e.AddrIPv6))
	addrs = append(addrs, e.AddrIPv4...)
	addrs = append(addrs, e.AddrIPv6...)
	return Garden{
		Instance: e.Instance,
		Host:     e.HostName,
		Port:     e.Port,
		Addrs:    addrs,
	}
}
