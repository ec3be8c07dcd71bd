package worker

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	mdnsServiceType = "_switchboard._tcp"
	mdnsDomain      = "local."
	defaultMDNSScan = 3 * time.Second
)

// MDNS finds A2A workers advertised on the local network and advertises
// workers itself. It satisfies routing.PeerSource.
type MDNS struct {
	logger *slog.Logger
	scan   time.Duration
}

// NewMDNS creates an MDNS browser that listens for scan on each call to
// Peers. scan <= 0 selects a default.
func NewMDNS(logger *slog.Logger, scan time.Duration) *MDNS {
	if scan <= 0 {
		scan = defaultMDNSScan
	}
	return &MDNS{logger: logger, scan: scan}
}

// Peers browses once and returns the base URLs of the advertised workers.
func (m *MDNS) Peers(ctx context.Context) ([]string, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	var mu sync.Mutex
	var peers []string
	var wg sync.WaitGroup

	scanCtx, cancel := context.WithTimeout(ctx, m.scan)
	defer cancel()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			url := peerURL(entry)
			if url == "" {
				continue
			}
			mu.Lock()
			peers = append(peers, url)
			mu.Unlock()
			m.logger.Debug("mdns worker found", "instance", entry.Instance, "url", url)
		}
	}()

	if err := resolver.Browse(scanCtx, mdnsServiceType, mdnsDomain, entries); err != nil {
		cancel()
		wg.Wait()
		return nil, fmt.Errorf("mdns browse: %w", err)
	}

	<-scanCtx.Done()
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	return peers, nil
}

// Advertise announces a worker reachable at baseURL on port until ctx is
// cancelled.
func (m *MDNS) Advertise(ctx context.Context, instance string, port int, baseURL string) error {
	server, err := zeroconf.Register(instance, mdnsServiceType, mdnsDomain, port, []string{"url=" + baseURL}, nil)
	if err != nil {
		return fmt.Errorf("mdns register: %w", err)
	}
	m.logger.Info("mdns advertising", "instance", instance, "port", port, "url", baseURL)
	<-ctx.Done()
	server.Shutdown()
	return nil
}

// peerURL prefers the advertised url record and falls back to the first
// resolved address.
func peerURL(entry *zeroconf.ServiceEntry) string {
	for _, t := range entry.Text {
		if v, ok := strings.CutPrefix(t, "url="); ok && v != "" {
			return v
		}
	}
	var host string
	switch {
	case len(entry.AddrIPv4) > 0:
		host = entry.AddrIPv4[0].String()
	case len(entry.AddrIPv6) > 0:
		host = entry.AddrIPv6[0].String()
	default:
		return ""
	}
	return "http://" + net.JoinHostPort(host, fmt.Sprint(entry.Port))
}
