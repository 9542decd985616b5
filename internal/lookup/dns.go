package lookup

import (
	"context"
	"net"
	"sort"
	"strings"
	"time"

	"mailprobe/internal/cache"
)

// MXRecord is one mail exchange entry for a domain. Lower Priority wins.
type MXRecord struct {
	Exchange string `json:"exchange"`
	Priority uint16 `json:"priority"`
}

// LookupMXFunc is the raw DNS query. Injectable for tests.
type LookupMXFunc func(ctx context.Context, domain string) ([]*net.MX, error)

// Resolver turns a domain into a priority-ordered list of mail hosts,
// caching answers for a fixed TTL.
type Resolver struct {
	lookupMX LookupMXFunc
	cache    *cache.Store
	ttl      time.Duration
}

// NewResolver builds a Resolver backed by the platform DNS. The resolver
// always dials DNS directly even when SMTP traffic is proxied — SOCKS5
// proxies do not carry UDP.
func NewResolver(c *cache.Store, ttl time.Duration) *Resolver {
	r := &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
			d := net.Dialer{Timeout: 3 * time.Second}
			return d.DialContext(ctx, network, address)
		},
	}
	return NewResolverWithLookup(r.LookupMX, c, ttl)
}

// NewResolverWithLookup builds a Resolver around an injected MX query.
func NewResolverWithLookup(fn LookupMXFunc, c *cache.Store, ttl time.Duration) *Resolver {
	return &Resolver{lookupMX: fn, cache: c, ttl: ttl}
}

// ResolveMX returns the domain's MX records sorted ascending by priority,
// ties kept in resolver order. Any DNS failure — NXDOMAIN, no MX records,
// network error — yields an empty slice: the absence of MX is a verdict
// ("no mail route"), not an error. A/AAAA implicit-MX fallback is
// deliberately not attempted.
func (r *Resolver) ResolveMX(ctx context.Context, domain string) []MXRecord {
	domain = strings.ToLower(domain)
	cacheKey := "mx:" + domain

	if r.cache != nil {
		if cached, ok := r.cache.Get(cacheKey); ok {
			return cached.([]MXRecord)
		}
	}

	mxs, err := r.lookupMX(ctx, domain)
	if err != nil {
		return nil
	}

	records := make([]MXRecord, 0, len(mxs))
	for _, mx := range mxs {
		// Strip Go's trailing FQDN dot; proxies refuse to resolve
		// hostnames that end in one.
		host := strings.TrimSuffix(mx.Host, ".")
		if host == "" {
			continue
		}
		records = append(records, MXRecord{Exchange: host, Priority: mx.Pref})
	}
	if len(records) == 0 {
		return nil
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Priority < records[j].Priority
	})

	if r.cache != nil {
		r.cache.Set(cacheKey, records, r.ttl)
	}
	return records
}
