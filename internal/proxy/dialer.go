package proxy

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	netproxy "golang.org/x/net/proxy"

	"github.com/kadenwood/kadenverify/internal/pkg/logger"
)

// slotConn wraps net.Conn so the dial slot is released exactly once when the
// SMTP client closes the connection.
type slotConn struct {
	net.Conn
	release func()
	once    sync.Once
}

func (c *slotConn) Close() error {
	c.once.Do(c.release)
	return c.Conn.Close()
}

// DialContext dials addr for an SMTP session. Without configured proxies it
// degrades to a plain net.Dialer. With proxies it takes a dial slot, picks
// the next exit round-robin, and resolves the target locally first so the
// SOCKS endpoint never sees hostname lookups from us.
func (m *Manager) DialContext(ctx context.Context, network, addr string, timeout time.Duration) (net.Conn, error) {
	direct := &net.Dialer{Timeout: timeout}

	pURL := m.Next()
	if pURL == nil {
		return direct.DialContext(ctx, network, addr)
	}

	select {
	case m.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for proxy slot: %w", ctx.Err())
	}
	release := func() { <-m.slots }

	if host, port, err := net.SplitHostPort(addr); err == nil && net.ParseIP(host) == nil {
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

	start := time.Now()
	pdialer, err := netproxy.FromURL(pURL, direct)
	if err != nil {
		release()
		logger.Warn("proxy dialer construction failed", "proxy", pURL.Host, "error", err.Error())
		return nil, err
	}

	var conn net.Conn
	if cd, ok := pdialer.(netproxy.ContextDialer); ok {
		conn, err = cd.DialContext(ctx, network, addr)
	} else {
		conn, err = pdialer.Dial(network, addr)
	}
	if err != nil {
		release()
		logger.Debug("proxy dial failed",
			"proxy", pURL.Host, "addr", addr,
			"elapsed", time.Since(start).String(), "error", err.Error())
		return nil, err
	}

	logger.Debug("proxy dial ok", "proxy", pURL.Host, "addr", addr, "elapsed", time.Since(start).String())
	return &slotConn{Conn: conn, release: release}, nil
}
