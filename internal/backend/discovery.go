package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/grandcat/zeroconf"
)

const mdnsDomain = "local."

var ErrNotDiscovered = errors.New("backend not found via mdns")

// Discover browses for service (for example "_provisioning-backend._tcp") and
// returns the base URL of the first instance that announces an address.
func Discover(ctx context.Context, service string, timeout time.Duration) (string, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", fmt.Errorf("mdns resolver: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, service, mdnsDomain, entries); err != nil {
		return "", fmt.Errorf("mdns browse: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return "", ErrNotDiscovered
		case e, ok := <-entries:
			if !ok {
				return "", ErrNotDiscovered
			}
			if u := entryURL(e); u != "" {
				return u, nil
			}
		}
	}
}

func entryURL(e *zeroconf.ServiceEntry) string {
	if e == nil || e.Port == 0 {
		return ""
	}
	switch {
	case len(e.AddrIPv4) > 0:
		return fmt.Sprintf("http://%s:%d", e.AddrIPv4[0], e.Port)
	case len(e.AddrIPv6) > 0:
		return fmt.Sprintf("http://[%s]:%d", e.AddrIPv6[0], e.Port)
	}
	return ""
}
