// Package webclient implements the Web Client decorators of §4.6: redirect
// following with method-change/method-repeat classification, a cookie jar
// keyed by the original request's referrer host, and HTTP Basic auth
// retry-once-on-401. Grounded on the teacher's fetcher/http.go cookiejar
// wiring and redirect CheckRedirect policy, decomposed from net/http's
// built-in client into explicit decorators over the Session's HTTPClient.
package webclient

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/mirrorctl/mirrorctl/internal/types"
)

// RedirectKind classifies how a redirect status code must be replayed.
type RedirectKind int

const (
	// RedirectChangeMethod: 301/302/303 — a non-GET/HEAD request is retried
	// as GET with no body (historical browser behavior, RFC 7231 §6.4.2-4).
	RedirectChangeMethod RedirectKind = iota
	// RedirectRepeatMethod: 307/308 — the method and body are preserved.
	RedirectRepeatMethod
	RedirectNone
)

func ClassifyRedirect(statusCode int) RedirectKind {
	switch statusCode {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther:
		return RedirectChangeMethod
	case http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return RedirectRepeatMethod
	default:
		return RedirectNone
	}
}

// Tracker follows a chain of redirects for one logical request, enforcing
// MaxRedirects and building each hop's replay request per ClassifyRedirect.
type Tracker struct {
	MaxRedirects int
}

// NextRequest builds the request for the next hop, or returns ok=false if
// statusCode isn't a redirect. hopCount is the number of redirects already
// followed (0 for the first hop).
func (t *Tracker) NextRequest(original *types.Request, statusCode int, location string, hopCount int) (*types.Request, bool, error) {
	kind := ClassifyRedirect(statusCode)
	if kind == RedirectNone {
		return nil, false, nil
	}
	if t.MaxRedirects > 0 && hopCount >= t.MaxRedirects {
		return nil, false, &types.ProtocolError{URL: original.URLString(), Err: errTooManyRedirects(hopCount)}
	}

	target, err := url.Parse(location)
	if err != nil {
		return nil, false, &types.ProtocolError{URL: original.URLString(), Err: err}
	}
	resolved := original.URL.ResolveReference(target)

	next := original.Clone()
	next.URL = resolved
	next.Referrer = original.URLString()

	if kind == RedirectChangeMethod && original.Method != http.MethodGet && original.Method != http.MethodHead {
		next.Method = http.MethodGet
		next.Body = nil
		next.PostData = ""
	}
	return next, true, nil
}

type tooManyRedirectsError struct{ count int }

func (e *tooManyRedirectsError) Error() string {
	return "too many redirects (" + strconv.Itoa(e.count) + ")"
}

func errTooManyRedirects(count int) error { return &tooManyRedirectsError{count: count} }
