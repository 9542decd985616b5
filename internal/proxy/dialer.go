package proxy

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	netproxy "golang.org/x/net/proxy"
)

// proxyConn wraps net.Conn so the semaphore token is given back when the
// session closes the connection, and only once — close paths overlap.
type proxyConn struct {
	net.Conn
	releaseOnce sync.Once
	sem         chan struct{}
}

func (pc *proxyConn) Close() error {
	pc.releaseOnce.Do(func() {
		<-pc.sem
	})
	return pc.Conn.Close()
}

// DialContext opens a connection to addr through pURL, holding one
// semaphore slot for the connection's lifetime. A nil pURL (or an empty
// manager) dials direct.
func (m *Manager) DialContext(ctx context.Context, network, addr string, timeout time.Duration, pURL *url.URL) (net.Conn, error) {
	directDialer := &net.Dialer{Timeout: timeout}

	if m == nil || len(m.proxies) == 0 || pURL == nil {
		return directDialer.DialContext(ctx, network, addr)
	}

	select {
	case m.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("timeout waiting for proxy slot: %w", ctx.Err())
	}

	// Resolve the target locally before handing it to the proxy; many
	// SOCKS endpoints refuse or mangle hostname targets.
	host, port, err := net.SplitHostPort(addr)
	if err == nil && net.ParseIP(host) == nil {
		if ips, lookupErr := net.LookupIP(host); lookupErr == nil && len(ips) > 0 {
			resolved := ips[0].String()
			for _, ip := range ips {
				if ip.To4() != nil {
					resolved = ip.String()
					break
				}
			}
			addr = net.JoinHostPort(resolved, port)
		}
	}

	pdialer, err := netproxy.FromURL(pURL, directDialer)
	if err != nil {
		<-m.sem
		return nil, fmt.Errorf("proxy dialer for %s: %w", pURL.Host, err)
	}

	var conn net.Conn
	if cdialer, ok := pdialer.(netproxy.ContextDialer); ok {
		conn, err = cdialer.DialContext(ctx, network, addr)
	} else {
		conn, err = pdialer.Dial(network, addr)
	}
	if err != nil {
		<-m.sem
		return nil, fmt.Errorf("proxy dial %s via %s: %w", addr, pURL.Host, err)
	}

	return &proxyConn{Conn: conn, sem: m.sem}, nil
}
