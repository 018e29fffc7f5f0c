package client

import (
	"context"
	"fmt"
	"maps"
	"net"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/rfbkit"
	"github.com/grandcat/zeroconf"
)

// DefaultBrowseTimeout bounds Discover when ctx has no deadline.
const DefaultBrowseTimeout = 3 * time.Second

// Service is one RFB server found on the local network.
type Service struct {
	Instance string            `json:"instance"`
	HostName string            `json:"host_name"`
	Addr     string            `json:"addr"`
	Port     int               `json:"port"`
	Text     map[string]string `json:"text,omitempty"`
}

// Address returns host:port suitable for net.Dial.
func (s Service) Address() string {
	return net.JoinHostPort(s.Addr, strconv.Itoa(s.Port))
}

// Discover collects RFB services until ctx is done, or for
// DefaultBrowseTimeout if ctx carries no deadline. Services are keyed by
// instance name; repeated announcements keep the latest.
func Discover(ctx context.Context) ([]Service, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultBrowseTimeout)
		defer cancel()
	}

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	var (
		mu    sync.Mutex
		found = make(map[string]Service)
	)
	entries := make(chan *zeroconf.ServiceEntry)
	go func() {
		for entry := range entries {
			if svc, ok := parseServiceEntry(entry); ok {
				mu.Lock()
				found[svc.Instance] = svc
				mu.Unlock()
			}
		}
	}()

	if err := resolver.Browse(ctx, rfbkit.ServiceType, rfbkit.ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	<-ctx.Done()

	mu.Lock()
	defer mu.Unlock()
	services := slices.Collect(maps.Values(found))
	slices.SortFunc(services, func(a, b Service) int {
		return strings.Compare(a.Instance, b.Instance)
	})
	return services, nil
}

// parseServiceEntry converts a resolved entry. Entries without an address
// are dropped.
func parseServiceEntry(entry *zeroconf.ServiceEntry) (Service, bool) {
	var addr string
	if len(entry.AddrIPv4) > 0 {
		addr = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		addr = entry.AddrIPv6[0].String()
	}
	if addr == "" || entry.Port == 0 {
		return Service{}, false
	}

	text := make(map[string]string, len(entry.Text))
	for _, rec := range entry.Text {
		k, v, _ := strings.Cut(rec, "=")
		text[k] = v
	}

	return Service{
		Instance: entry.Instance,
		HostName: entry.HostName,
		Addr:     addr,
		Port:     entry.Port,
		Text:     text,
	}, true
}
