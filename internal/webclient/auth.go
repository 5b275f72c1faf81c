package webclient

import (
	"encoding/base64"
	"strings"
	"sync"
)

// AuthStore remembers which hosts have confirmed HTTP Basic credentials, so
// a second request to the same host pre-sends the Authorization header
// instead of waiting for another 401 challenge. Per §4.6: a 401 on the
// first request to a host is retried once with credentials; subsequent
// requests to that host send them up front.
type AuthStore struct {
	mu        sync.Mutex
	confirmed map[string]string // host -> "Basic <base64>"
}

func NewAuthStore() *AuthStore { return &AuthStore{confirmed: make(map[string]string)} }

func basicAuthValue(user, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+password))
}

// HeaderFor returns the Authorization header value to pre-send for host, or
// "" if no credentials have been confirmed for it yet.
func (a *AuthStore) HeaderFor(host string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.confirmed[strings.ToLower(host)]
}

// Confirm records that user/password is known good for host, after a 401
// challenge was answered successfully.
func (a *AuthStore) Confirm(host, user, password string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.confirmed[strings.ToLower(host)] = basicAuthValue(user, password)
}

// ShouldRetry reports whether a 401 response warrants a retry with
// credentials: only once per request chain, and only when credentials are
// available.
func ShouldRetry(statusCode int, alreadyRetried bool, user, password string) bool {
	if statusCode != 401 || alreadyRetried {
		return false
	}
	return user != "" || password != ""
}
