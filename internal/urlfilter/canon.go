// Package urlfilter implements the URL Filter Chain of §4.11: URL
// canonicalization/dedup plus a composable chain of accept/reject filters
// (domain allow/deny, level cap, pattern match, retry-budget). Grounded on
// the teacher's engine/dedup.go canonicalization and sha256 dedup index,
// generalized into a standalone filter usable by the Processor directly
// rather than embedded in the Engine.
package urlfilter

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
	"sync"
)

// Canonicalize normalizes a URL for deduplication: lowercases scheme/host,
// drops the fragment and default port, sorts query parameters, and strips a
// trailing slash (except the root path).
func Canonicalize(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	host, port := u.Hostname(), u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		u.Host = host
	}

	if u.RawQuery != "" {
		params := u.Query()
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var sorted []string
		for _, k := range keys {
			vals := append([]string(nil), params[k]...)
			sort.Strings(vals)
			for _, v := range vals {
				sorted = append(sorted, url.QueryEscape(k)+"="+url.QueryEscape(v))
			}
		}
		u.RawQuery = strings.Join(sorted, "&")
	}

	if u.Path != "/" && strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimRight(u.Path, "/")
	}
	if u.Path == "" {
		u.Path = "/"
	}

	return u.String()
}

func hashOf(canonical string) string {
	h := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(h[:16])
}

// Dedup tracks canonicalized URLs already enqueued, independent of the URL
// Table's own durable state, so in-flight discovery within one scrape pass
// doesn't enqueue the same link twice before the table round-trips.
type Dedup struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

func NewDedup() *Dedup { return &Dedup{seen: make(map[string]struct{})} }

func (d *Dedup) SeenOrMark(rawURL string) (alreadySeen bool) {
	h := hashOf(Canonicalize(rawURL))
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[h]; ok {
		return true
	}
	d.seen[h] = struct{}{}
	return false
}

func (d *Dedup) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.seen)
}

// Export returns the set of seen hashes, for checkpoint serialization.
func (d *Dedup) Export() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.seen))
	for h := range d.seen {
		out = append(out, h)
	}
	return out
}

// Import seeds the seen set from previously exported hashes, for checkpoint
// recovery on startup. It does not clear any existing entries.
func (d *Dedup) Import(hashes []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, h := range hashes {
		d.seen[h] = struct{}{}
	}
}
