// Package discovery announces a realtime instance on the local network over
// mDNS and lists the other instances announced there.
package discovery

import (
	"context"
	"fmt"
	"net"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/grandcat/zeroconf"
	"github.com/rs/zerolog"
)

const (
	DefaultService = "_realtime._tcp"
	DefaultDomain  = "local."
)

type Options struct {
	Service  string
	Domain   string
	Port     int
	Instance string // unique per process, usually the hub instance id
	Broker   string // broker driver, published as a TXT record
}

func (o Options) withDefaults() Options {
	if o.Service == "" {
		o.Service = DefaultService
	}
	if o.Domain == "" {
		o.Domain = DefaultDomain
	}
	return o
}

// Peer is one announced instance.
type Peer struct {
	Instance string
	Host     string
	Port     int
	Addrs    []string
	Text     map[string]string
}

// Announce registers the instance and keeps it registered until ctx is done.
func Announce(ctx context.Context, opts Options, logger zerolog.Logger) error {
	opts = opts.withDefaults()
	name := instanceName(opts.Instance)

	server, err := zeroconf.Register(name, opts.Service, opts.Domain, opts.Port, txtRecords(opts), nil)
	if err != nil {
		return fmt.Errorf("register mdns service %s: %w", opts.Service, err)
	}
	defer server.Shutdown()

	logger.Info().
		Str("service", opts.Service).
		Str("instance", name).
		Int("port", opts.Port).
		Msg("mdns service registered")
	<-ctx.Done()
	return nil
}

// Browse collects the instances announced for service until ctx is done.
func Browse(ctx context.Context, service, domain string, logger zerolog.Logger) ([]Peer, error) {
	opts := Options{Service: service, Domain: domain}.withDefaults()
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("init mdns resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	var mu sync.Mutex
	found := make(map[string]Peer)
	go func() {
		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				p := peerFrom(entry)
				logger.Debug().Str("instance", p.Instance).Strs("addrs", p.Addrs).Int("port", p.Port).Msg("mdns peer")
				mu.Lock()
				found[p.Instance] = p
				mu.Unlock()
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := resolver.Browse(ctx, opts.Service, opts.Domain, entries); err != nil {
		return nil, fmt.Errorf("browse %s: %w", opts.Service, err)
	}
	<-ctx.Done()

	mu.Lock()
	defer mu.Unlock()
	peers := make([]Peer, 0, len(found))
	for _, p := range found {
		peers = append(peers, p)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].Instance < peers[j].Instance })
	return peers, nil
}

func instanceName(instance string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	if instance == "" {
		return "realtime-" + host
	}
	if len(instance) > 8 {
		instance = instance[:8]
	}
	return fmt.Sprintf("realtime-%s-%s", host, instance)
}

func txtRecords(opts Options) []string {
	txt := []string{"txtv=1"}
	if opts.Instance != "" {
		txt = append(txt, "instance="+opts.Instance)
	}
	if opts.Broker != "" {
		txt = append(txt, "broker="+opts.Broker)
	}
	return txt
}

func peerFrom(e *zeroconf.ServiceEntry) Peer {
	p := Peer{
		Instance: e.Instance,
		Host:     e.HostName,
		Port:     e.Port,
		Text:     make(map[string]string, len(e.Text)),
	}
	for _, ip := range e.AddrIPv4 {
		p.Addrs = append(p.Addrs, ip.String())
	}
	for _, ip := range e.AddrIPv6 {
		p.Addrs = append(p.Addrs, ip.String())
	}
	for _, kv := range e.Text {
		k, v, _ := strings.Cut(kv, "=")
		p.Text[k] = v
	}
	return p
}

// PortOf extracts the port of a listen address such as ":8080".
func PortOf(addr string) (int, error) {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("parse listen address %q: %w", addr, err)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("listen address %q has no usable port", addr)
	}
	return n, nil
}
