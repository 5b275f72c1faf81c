// Package robots implements the Robots Checker of §4.8: a per-(scheme,
// host, port) cache of parsed robots.txt rulesets, fetched through an
// injected fetch function so the checker shares the same connection pool
// and protocol session as ordinary page fetches. Grounded on
// jonesrussell-north-cloud/crawler's RobotsChecker cache shape, generalized
// to the (scheme, host, port) key and the 5xx-retries/other-fails-open
// split §4.8 requires.
package robots

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"

	"github.com/mirrorctl/mirrorctl/internal/types"
)

const robotsTxtPath = "/robots.txt"

// FetchFunc retrieves robots.txt for a (scheme, host, port) origin, using
// whatever protocol client the caller wires in (the HTTP Stream/Session).
type FetchFunc func(ctx context.Context, scheme, host, port string) (statusCode int, body []byte, err error)

type cacheEntry struct {
	data      *robotstxt.RobotsData
	allowAll  bool
	fetchedAt time.Time
}

// CheckMetrics receives robots.txt policy signals fed into mirrorctl_*
// metrics: whether a check allowed or denied the fetch, and whether the
// origin's robots.txt couldn't be fetched at all. Satisfied structurally by
// *observability.Metrics.
type CheckMetrics interface {
	RecordRobotsCheck(allowed bool)
	RecordRobotsFetchFailure()
}

// Checker is a per-origin robots.txt cache and policy evaluator.
type Checker struct {
	mu        sync.RWMutex
	cache     map[string]*cacheEntry
	userAgent string
	cacheTTL  time.Duration
	fetch     FetchFunc
	metrics   CheckMetrics
}

// SetMetrics wires allow/deny and fetch-failure counters into c. Optional;
// a nil metrics means no-op recording.
func (c *Checker) SetMetrics(m CheckMetrics) { c.metrics = m }

func New(userAgent string, cacheTTL time.Duration, fetch FetchFunc) *Checker {
	if cacheTTL <= 0 {
		cacheTTL = 24 * time.Hour
	}
	return &Checker{
		cache:     make(map[string]*cacheEntry),
		userAgent: userAgent,
		cacheTTL:  cacheTTL,
		fetch:     fetch,
	}
}

func originKey(scheme, host, port string) string {
	return strings.ToLower(scheme) + "://" + strings.ToLower(host) + ":" + port
}

// Allowed reports whether path may be fetched under the given origin's
// robots.txt, fetching and caching the ruleset on first use or after TTL
// expiry. A 5xx response from the origin surfaces as a ServerError so the
// caller can retry later rather than permanently installing an allow-all
// ruleset (distinguishing "server is down" from "robots.txt absent").
func (c *Checker) Allowed(ctx context.Context, scheme, host, port, path string) (bool, error) {
	entry, err := c.entryFor(ctx, scheme, host, port)
	if err != nil {
		return false, err
	}
	allowed := entry.allowAll || entry.data.TestAgent(path, c.userAgent)
	if c.metrics != nil {
		c.metrics.RecordRobotsCheck(allowed)
	}
	return allowed, nil
}

// CrawlDelay returns the origin's robots.txt Crawl-delay directive for our
// user agent, or 0 if unset or not yet cached.
func (c *Checker) CrawlDelay(scheme, host, port string) time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.cache[originKey(scheme, host, port)]
	if !ok || entry.allowAll || entry.data == nil {
		return 0
	}
	if group := entry.data.FindGroup(c.userAgent); group != nil {
		return group.CrawlDelay
	}
	return 0
}

func (c *Checker) entryFor(ctx context.Context, scheme, host, port string) (*cacheEntry, error) {
	key := originKey(scheme, host, port)

	c.mu.RLock()
	entry, ok := c.cache[key]
	fresh := ok && time.Since(entry.fetchedAt) <= c.cacheTTL
	c.mu.RUnlock()
	if fresh {
		return entry, nil
	}

	statusCode, body, err := c.fetch(ctx, scheme, host, port)
	if err != nil {
		if c.metrics != nil {
			c.metrics.RecordRobotsFetchFailure()
		}
		return c.storeAllowAll(key), nil
	}

	switch {
	case statusCode >= 500 && statusCode < 600:
		return nil, &types.ServerError{URL: fmt.Sprintf("%s%s", key, robotsTxtPath), StatusCode: statusCode}
	case statusCode < 200 || statusCode >= 300:
		return c.storeAllowAll(key), nil
	}

	data, parseErr := robotstxt.FromBytes(body)
	if parseErr != nil {
		return c.storeAllowAll(key), nil
	}

	fresh2 := &cacheEntry{data: data, fetchedAt: time.Now()}
	c.mu.Lock()
	c.cache[key] = fresh2
	c.mu.Unlock()
	return fresh2, nil
}

func (c *Checker) storeAllowAll(key string) *cacheEntry {
	entry := &cacheEntry{allowAll: true, fetchedAt: time.Now()}
	c.mu.Lock()
	c.cache[key] = entry
	c.mu.Unlock()
	return entry
}
