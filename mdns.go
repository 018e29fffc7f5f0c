package rfbkit

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/coder/rfbkit/internal/logging"
	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"
)

const (
	// ServiceType is the DNS-SD service type registered for RFB servers.
	ServiceType = "_rfb._tcp"

	// ServiceDomain is the mDNS domain.
	ServiceDomain = "local."
)

// Advertise registers instance as an RFB service on port and keeps the
// registration until ctx is cancelled.
func Advertise(ctx context.Context, instance string, port int, txt map[string]string) error {
	srv, err := zeroconf.Register(instance, ServiceType, ServiceDomain, port, txtRecords(txt), nil)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}
	defer srv.Shutdown()

	logging.Info("Advertising over mDNS",
		zap.String("instance", instance),
		zap.String("service", ServiceType),
		zap.Int("port", port),
	)
	<-ctx.Done()
	return nil
}

// txtRecords renders key=value TXT strings in key order.
func txtRecords(txt map[string]string) []string {
	records := make([]string, 0, len(txt))
	for _, k := range slices.Sorted(maps.Keys(txt)) {
		records = append(records, k+"="+txt[k])
	}
	return records
}
