package webclient

import (
	"context"

	"github.com/mirrorctl/mirrorctl/internal/session"
	"github.com/mirrorctl/mirrorctl/internal/types"
)

// RedirectMetrics receives a count of redirect hops followed, fed into the
// mirrorctl_redirects_followed_total metric. Satisfied structurally by
// *observability.Metrics.
type RedirectMetrics interface {
	RecordRedirect()
}

// WebClient composes the Protocol Session with the decorators of §4.6:
// redirect following, a referrer-keyed cookie jar, and retry-once Basic
// auth. Download drives the full per-request flow and returns the final
// (post-redirect) response.
type WebClient struct {
	http     *session.HTTPClient
	tracker  *Tracker
	jar      *Jar
	auth     *AuthStore
	user     string
	password string
	metrics  RedirectMetrics
}

func New(httpClient *session.HTTPClient, maxRedirects int, user, password string) *WebClient {
	return &WebClient{
		http:     httpClient,
		tracker:  &Tracker{MaxRedirects: maxRedirects},
		jar:      NewJar(),
		auth:     NewAuthStore(),
		user:     user,
		password: password,
	}
}

// SetMetrics wires a redirect-hop counter into c. Optional; a nil metrics
// means no-op recording.
func (c *WebClient) SetMetrics(m RedirectMetrics) { c.metrics = m }

// Download performs req, following redirects and answering Basic-auth
// challenges, per §4.6.
func (c *WebClient) Download(ctx context.Context, req *types.Request) (*types.Response, error) {
	current := req
	retriedAuth := false

	for hop := 0; ; hop++ {
		host := current.Domain()
		if cookies := c.jar.CookieHeaderValue(host); cookies != "" {
			current.Headers.Set("Cookie", cookies)
		}
		if authHeader := c.auth.HeaderFor(host); authHeader != "" {
			current.Headers.Set("Authorization", authHeader)
		}

		resp, err := c.http.Download(ctx, current)
		if err != nil {
			return nil, err
		}

		c.jar.Store(host, resp.Headers)

		if resp.StatusCode == 401 && ShouldRetry(resp.StatusCode, retriedAuth, c.user, c.password) {
			retriedAuth = true
			c.auth.Confirm(host, c.user, c.password)
			continue
		}

		next, isRedirect, err := c.tracker.NextRequest(current, resp.StatusCode, resp.Headers.Get("Location"), hop)
		if err != nil {
			return nil, err
		}
		if !isRedirect {
			return resp, nil
		}
		if c.metrics != nil {
			c.metrics.RecordRedirect()
		}
		current = next
	}
}
