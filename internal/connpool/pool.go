// Package connpool implements the keyed Connection Pool of §4.3: per-host
// and global connection caps, happy-eyeballs dual-stack dialing, and
// optional HTTP-proxy CONNECT tunneling. Grounded on the teacher's
// fetcher/proxy.go rotation pool, generalized to own Connections instead of
// an http.Transport proxy func.
package connpool

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/mirrorctl/mirrorctl/internal/config"
	"github.com/mirrorctl/mirrorctl/internal/netconn"
	"github.com/mirrorctl/mirrorctl/internal/types"
)

// DialMetrics receives connection-pool signals fed into mirrorctl_*
// metrics: which address family won a happy-eyeballs race, and whether an
// acquired connection was freshly dialed or reused from a HostPool.
// Satisfied structurally by *observability.Metrics; this package doesn't
// import observability to avoid a dependency cycle through session/engine.
type DialMetrics interface {
	RecordDialWinner(family string)
	RecordConnection(reused bool)
}

// Pool is the top-level connection pool: a keyed map of HostPools plus a
// global connection-count cap.
type Pool struct {
	cfg    *config.ConnPoolConfig
	proxy  *ProxyRotation
	logger *slog.Logger

	mu        sync.Mutex
	hostPools map[HostKey]*HostPool
	total     int

	heTable *HappyEyeballsTable
	resolve func(ctx context.Context, host string) ([]net.IP, error)
	metrics DialMetrics
}

// SetMetrics wires dial-race and connection-reuse counters into p. Optional;
// a nil metrics means no-op recording.
func (p *Pool) SetMetrics(m DialMetrics) { p.metrics = m }

// New builds a Pool. proxy may be nil to disable HTTP-proxy tunneling.
func New(cfg *config.ConnPoolConfig, proxy *ProxyRotation, logger *slog.Logger) *Pool {
	return &Pool{
		cfg:       cfg,
		proxy:     proxy,
		logger:    logger.With("component", "conn_pool"),
		hostPools: make(map[HostKey]*HostPool),
		heTable:   NewHappyEyeballsTable(cfg.HappyEyeballsTTL),
		resolve:   defaultResolve,
	}
}

func defaultResolve(ctx context.Context, host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}
	return net.DefaultResolver.LookupIP(ctx, "ip", host)
}

// Acquire checks out a Connection for (host, port, useSSL), optionally
// routed through the configured proxy's CONNECT tunnel. hostKeyOverride, if
// non-empty, groups several logical hosts under one HostPool (proxy mode).
func (p *Pool) Acquire(ctx context.Context, host, port string, useSSL bool, hostKeyOverride string) (*netconn.Connection, error) {
	if p.proxy != nil && p.proxy.Enabled() {
		return p.acquireViaProxy(ctx, host, port, useSSL)
	}

	key := HostKey{Host: host, Port: port, TLS: useSSL}
	if hostKeyOverride != "" {
		key.Host = hostKeyOverride
	}

	hp := p.hostPoolFor(key)
	conn, err := hp.Acquire(ctx, func() *netconn.Connection {
		p.mu.Lock()
		p.total++
		p.mu.Unlock()
		return netconn.New(p.cfg.ReadTimeout, p.cfg.ConnectTimeout)
	})
	if err != nil {
		return nil, err
	}
	fresh := conn.State() == netconn.StateReady
	if p.metrics != nil {
		p.metrics.RecordConnection(!fresh)
	}

	if fresh {
		if err := p.dialHappyEyeballs(ctx, conn, host, port); err != nil {
			hp.Release(conn, false)
			p.decrementTotal()
			return nil, err
		}
		if useSSL {
			tlsConn, err := conn.StartTLS(ctx, host, verifyModeFor(p.cfg))
			if err != nil {
				hp.Release(conn, false)
				p.decrementTotal()
				return nil, err
			}
			return tlsConn, nil
		}
	}
	return conn, nil
}

func verifyModeFor(cfg *config.ConnPoolConfig) netconn.VerifyMode {
	if cfg.TLSInsecure {
		return netconn.VerifyNone
	}
	return netconn.VerifyNormal
}

func (p *Pool) dialHappyEyeballs(ctx context.Context, conn *netconn.Connection, host, port string) error {
	ips, err := p.resolve(ctx, host)
	if err != nil {
		return &types.NetworkError{Kind: types.DNSNotFoundKind, Op: "resolve", Addr: host, Err: err}
	}
	rawConn, addr, raced, err := HappyEyeballsDial(ctx, "tcp", ips, port, p.heTable, p.cfg.HappyEyeballsWait, func(ctx context.Context, addr string) (net.Conn, error) {
		var d net.Dialer
		dialCtx, cancel := context.WithTimeout(ctx, p.cfg.ConnectTimeout)
		defer cancel()
		return d.DialContext(dialCtx, "tcp", addr)
	})
	if err != nil {
		return &types.NetworkError{Kind: types.NetworkGeneric, Op: "connect", Addr: host, Err: err}
	}
	conn.Adopt(rawConn, host)
	if p.metrics != nil {
		if raced {
			p.metrics.RecordDialWinner(addrFamily(addr))
		} else {
			p.metrics.RecordDialWinner("single")
		}
	}
	return nil
}

// addrFamily reports "ipv4" or "ipv6" for a "host:port" dial address that
// won a happy-eyeballs race, or "single" if it can't be parsed as an IP
// (shouldn't happen, since HappyEyeballsDial only ever passes resolved IP
// literals).
func addrFamily(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return "single"
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return "single"
	}
	if ip.To4() != nil {
		return "ipv4"
	}
	return "ipv6"
}

// acquireViaProxy acquires a connection to the proxy address (keyed by the
// logical target host), then for TLS sends CONNECT and upgrades in place;
// for plaintext it returns the proxy connection as-is (absolute-URI
// requests are the Stream's responsibility).
func (p *Pool) acquireViaProxy(ctx context.Context, host, port string, useSSL bool) (*netconn.Connection, error) {
	proxyAddr := p.proxy.Next()
	if proxyAddr == nil {
		return nil, types.ErrPoolExhausted
	}

	key := HostKey{Host: host, Port: port, TLS: useSSL} // logical target host keys the pool
	hp := p.hostPoolFor(key)
	conn, err := hp.Acquire(ctx, func() *netconn.Connection {
		p.mu.Lock()
		p.total++
		p.mu.Unlock()
		return netconn.New(p.cfg.ReadTimeout, p.cfg.ConnectTimeout)
	})
	if err != nil {
		return nil, err
	}
	fresh := conn.State() == netconn.StateReady
	if p.metrics != nil {
		p.metrics.RecordConnection(!fresh)
	}

	if fresh {
		if err := conn.Connect(ctx, "tcp", net.JoinHostPort(proxyAddr.Hostname(), portOrDefault(proxyAddr.Port())), proxyAddr.Hostname()); err != nil {
			hp.Release(conn, false)
			p.decrementTotal()
			return nil, err
		}
	}

	if !useSSL {
		return conn, nil
	}

	if err := sendConnect(conn, host, port, p.proxy.BasicAuthHeader()); err != nil {
		hp.Release(conn, false)
		p.decrementTotal()
		return nil, err
	}

	tlsConn, err := conn.StartTLS(ctx, host, verifyModeFor(p.cfg))
	if err != nil {
		hp.Release(conn, false)
		p.decrementTotal()
		return nil, err
	}
	return tlsConn, nil
}

func portOrDefault(port string) string {
	if port == "" {
		return "80"
	}
	return port
}

// sendConnect issues "CONNECT host:port HTTP/1.1" and expects a 200 reply.
func sendConnect(conn *netconn.Connection, host, port, auth string) error {
	target := net.JoinHostPort(host, port)
	req := fmt.Sprintf("CONNECT %s HTTP/1.1\r\nHost: %s\r\n", target, target)
	if auth != "" {
		req += "Proxy-Authorization: Basic " + auth + "\r\n"
	}
	req += "\r\n"

	if _, err := conn.Write([]byte(req), true); err != nil {
		return err
	}

	statusLine, err := conn.ReadLine()
	if err != nil {
		return err
	}
	if len(statusLine) < 12 || statusLine[9:12] != "200" {
		return &types.ProtocolError{URL: target, Err: fmt.Errorf("proxy CONNECT failed: %s", statusLine)}
	}
	// Drain headers to the blank line.
	for {
		line, err := conn.ReadLine()
		if err != nil {
			return err
		}
		if line == "" {
			break
		}
	}
	return nil
}

func (p *Pool) hostPoolFor(key HostKey) *HostPool {
	p.mu.Lock()
	defer p.mu.Unlock()
	hp, ok := p.hostPools[key]
	if !ok {
		hp = NewHostPool(p.cfg.MaxHostCount)
		p.hostPools[key] = hp
	}
	return hp
}

func (p *Pool) decrementTotal() {
	p.mu.Lock()
	p.total--
	p.mu.Unlock()
}

// Release returns conn to its HostPool, or closes it. hostKey must match the
// key used at Acquire time.
func (p *Pool) Release(host, port string, useSSL bool, conn *netconn.Connection, reuse bool) {
	key := HostKey{Host: host, Port: port, TLS: useSSL}
	hp := p.hostPoolFor(key)
	hp.Release(conn, reuse)

	p.mu.Lock()
	total := p.total
	p.mu.Unlock()
	if total > p.cfg.MaxCount {
		p.Clean(true)
	}
}

// Clean drops closed (or, if force, all idle) connections, and removes
// empty HostPools that have no waiters.
func (p *Pool) Clean(force bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, hp := range p.hostPools {
		if hp.Clean(force) {
			delete(p.hostPools, key)
		}
	}
}

// basicAuth builds a base64 "user:pass" Proxy-Authorization value.
func basicAuth(user, pass string) string {
	return base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
}
