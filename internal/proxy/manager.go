package proxy

import (
	"fmt"
	"net"
	"net/url"
	"sync/atomic"
)

// Manager rotates SMTP egress over a fixed proxy list and bounds how many
// proxied connections are in flight at once.
type Manager struct {
	proxies []*url.URL
	counter uint64
	sem     chan struct{}
}

// NewManager parses the proxy list and sets the concurrency limit. Proxy
// hostnames are pre-resolved to IPs up front so the Go DNS resolver is
// not hit from every dial under high concurrency.
func NewManager(proxyList []string, limit int) (*Manager, error) {
	var parsed []*url.URL

	for _, p := range proxyList {
		if p == "" {
			continue
		}
		u, err := url.Parse(p)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL %q: %w", p, err)
		}

		host := u.Hostname()
		port := u.Port()
		if net.ParseIP(host) == nil {
			if ips, err := net.LookupIP(host); err == nil && len(ips) > 0 {
				// Prefer IPv4.
				resolved := ips[0].String()
				for _, ip := range ips {
					if ip.To4() != nil {
						resolved = ip.String()
						break
					}
				}
				if port != "" {
					u.Host = net.JoinHostPort(resolved, port)
				} else {
					u.Host = resolved
				}
			}
		}
		parsed = append(parsed, u)
	}

	if limit <= 0 {
		limit = len(parsed)
		if limit == 0 {
			limit = 10
		}
	}

	return &Manager{
		proxies: parsed,
		sem:     make(chan struct{}, limit),
	}, nil
}

// Next returns the next proxy in round-robin order, or nil when the list
// is empty. Callers pin the returned proxy for a whole verify so all of
// its sessions share one egress IP.
func (m *Manager) Next() *url.URL {
	if m == nil || len(m.proxies) == 0 {
		return nil
	}
	n := atomic.AddUint64(&m.counter, 1)
	return m.proxies[(n-1)%uint64(len(m.proxies))]
}

// Size reports how many proxies are loaded.
func (m *Manager) Size() int {
	if m == nil {
		return 0
	}
	return len(m.proxies)
}

// Limit reports the concurrent-connection ceiling.
func (m *Manager) Limit() int {
	if m == nil {
		return 0
	}
	return cap(m.sem)
}
