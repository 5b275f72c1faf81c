package connpool

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mirrorctl/mirrorctl/internal/config"
)

// ProxyMetrics receives proxy selection/failure counts, fed into the
// mirrorctl_proxy_rotations_total and mirrorctl_proxy_errors_total metrics.
// Satisfied structurally by *observability.Metrics.
type ProxyMetrics interface {
	RecordProxyRotation()
	RecordProxyError()
}

// ProxyRotation selects which upstream HTTP proxy a HostPool tunnels
// through, adapted from the teacher's fetcher/proxy.go round-robin/random
// http.Transport proxy pool into a dialer-level chooser that feeds Pool's
// CONNECT-tunnel acquisition path.
type ProxyRotation struct {
	enabled  bool
	proxies  []*proxyEntry
	rotation string
	index    atomic.Int64
	mu       sync.RWMutex
	logger   *slog.Logger
	username string
	password string
	metrics  ProxyMetrics
}

// SetMetrics wires rotation/error counters into pr. Optional; a nil metrics
// means no-op recording.
func (pr *ProxyRotation) SetMetrics(m ProxyMetrics) { pr.metrics = m }

type proxyEntry struct {
	URL     *url.URL
	Healthy bool
	LastErr error
	LastUse time.Time
	mu      sync.Mutex
}

// NewProxyRotation builds a ProxyRotation from configuration. Returns nil if
// proxying is disabled.
func NewProxyRotation(cfg *config.ProxyConfig, logger *slog.Logger) *ProxyRotation {
	if !cfg.Enabled || len(cfg.URLs) == 0 {
		return nil
	}

	pr := &ProxyRotation{
		enabled:  true,
		rotation: cfg.Rotation,
		logger:   logger.With("component", "proxy_rotation"),
		username: cfg.Username,
		password: cfg.Password,
	}
	for _, rawURL := range cfg.URLs {
		u, err := url.Parse(rawURL)
		if err != nil {
			logger.Warn("invalid proxy URL", "url", rawURL, "error", err)
			continue
		}
		pr.proxies = append(pr.proxies, &proxyEntry{URL: u, Healthy: true})
	}
	logger.Info("proxy rotation initialized", "count", len(pr.proxies), "rotation", cfg.Rotation)
	return pr
}

func (pr *ProxyRotation) Enabled() bool { return pr != nil && pr.enabled && len(pr.proxies) > 0 }

// Next returns the next proxy URL per the rotation strategy, or nil if none
// are healthy.
func (pr *ProxyRotation) Next() *url.URL {
	pr.mu.RLock()
	defer pr.mu.RUnlock()

	healthy := pr.healthyProxiesLocked()
	if len(healthy) == 0 {
		return nil
	}

	var entry *proxyEntry
	switch pr.rotation {
	case "random":
		entry = healthy[rand.Intn(len(healthy))]
	default:
		idx := pr.index.Add(1) % int64(len(healthy))
		entry = healthy[idx]
	}
	entry.mu.Lock()
	entry.LastUse = time.Now()
	entry.mu.Unlock()
	if pr.metrics != nil {
		pr.metrics.RecordProxyRotation()
	}
	return entry.URL
}

// BasicAuthHeader returns the base64 "user:pass" value for
// Proxy-Authorization, or "" when no credentials are configured.
func (pr *ProxyRotation) BasicAuthHeader() string {
	if pr.username == "" {
		return ""
	}
	return base64.StdEncoding.EncodeToString([]byte(pr.username + ":" + pr.password))
}

func (pr *ProxyRotation) MarkFailed(proxyURL *url.URL, err error) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	for _, p := range pr.proxies {
		if p.URL.String() == proxyURL.String() {
			p.mu.Lock()
			p.Healthy = false
			p.LastErr = err
			p.mu.Unlock()
			pr.logger.Warn("proxy marked unhealthy", "proxy", proxyURL.Host, "error", err)
			if pr.metrics != nil {
				pr.metrics.RecordProxyError()
			}
			break
		}
	}
}

func (pr *ProxyRotation) MarkHealthy(proxyURL *url.URL) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	for _, p := range pr.proxies {
		if p.URL.String() == proxyURL.String() {
			p.mu.Lock()
			p.Healthy = true
			p.LastErr = nil
			p.mu.Unlock()
			break
		}
	}
}

// HealthCheck pings healthCheckURL through each proxy and updates status.
func (pr *ProxyRotation) HealthCheck(healthCheckURL string) {
	pr.mu.RLock()
	proxies := make([]*proxyEntry, len(pr.proxies))
	copy(proxies, pr.proxies)
	pr.mu.RUnlock()

	client := &http.Client{Timeout: 10 * time.Second}
	for _, p := range proxies {
		client.Transport = &http.Transport{Proxy: http.ProxyURL(p.URL)}
		if _, err := client.Get(healthCheckURL); err != nil {
			pr.MarkFailed(p.URL, err)
		} else {
			pr.MarkHealthy(p.URL)
		}
	}
}

func (pr *ProxyRotation) Count() int {
	pr.mu.RLock()
	defer pr.mu.RUnlock()
	return len(pr.proxies)
}

func (pr *ProxyRotation) AddProxy(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid proxy URL: %w", err)
	}
	pr.mu.Lock()
	defer pr.mu.Unlock()
	pr.proxies = append(pr.proxies, &proxyEntry{URL: u, Healthy: true})
	return nil
}

func (pr *ProxyRotation) healthyProxiesLocked() []*proxyEntry {
	healthy := make([]*proxyEntry, 0, len(pr.proxies))
	for _, p := range pr.proxies {
		p.mu.Lock()
		if p.Healthy {
			healthy = append(healthy, p)
		}
		p.mu.Unlock()
	}
	return healthy
}
