package webclient

import (
	"net/http"
	"strings"
	"sync"
)

// Jar stores Set-Cookie values keyed by the original request's referrer
// host rather than the response's own host, per §4.6: cookies set by a
// redirect target are attributed back to the page that initiated the
// request chain, so subsequent same-site requests from that referrer reuse
// them even across cross-host redirect hops.
type Jar struct {
	mu     sync.Mutex
	byHost map[string][]*http.Cookie
}

func NewJar() *Jar { return &Jar{byHost: make(map[string][]*http.Cookie)} }

// Store records cookies from a response, keyed by referrerHost (the
// original request's host, not necessarily resp's host).
func (j *Jar) Store(referrerHost string, header http.Header) {
	cookies := (&http.Response{Header: header}).Cookies()
	if len(cookies) == 0 {
		return
	}
	host := strings.ToLower(referrerHost)
	j.mu.Lock()
	defer j.mu.Unlock()
	existing := j.byHost[host]
	for _, c := range cookies {
		existing = upsertCookie(existing, c)
	}
	j.byHost[host] = existing
}

func upsertCookie(cookies []*http.Cookie, fresh *http.Cookie) []*http.Cookie {
	for i, c := range cookies {
		if c.Name == fresh.Name {
			cookies[i] = fresh
			return cookies
		}
	}
	return append(cookies, fresh)
}

// CookieHeaderValue builds a raw Cookie header value for referrerHost
// without needing a full *http.Request (the Session talks in raw headers).
func (j *Jar) CookieHeaderValue(referrerHost string) string {
	j.mu.Lock()
	cookies := j.byHost[strings.ToLower(referrerHost)]
	j.mu.Unlock()
	if len(cookies) == 0 {
		return ""
	}
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}
