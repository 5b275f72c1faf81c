package types

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// Priority levels for request scheduling.
const (
	PriorityHighest = 0
	PriorityHigh    = 1
	PriorityNormal  = 2
	PriorityLow     = 3
	PriorityLowest  = 4
)

// LinkType tags how a Request was discovered, mirroring URLRecord.LinkType.
type LinkType string

const (
	LinkTypeNone       LinkType = ""
	LinkTypeHTML       LinkType = "html"
	LinkTypeCSS        LinkType = "css"
	LinkTypeJavaScript LinkType = "javascript"
	LinkTypeSitemap    LinkType = "sitemap"
)

// Request is a single fetch to perform, built by the Processor from a
// URLRecord and handed to a Session. It is a per-fetch value, never
// persisted directly; URLRecord is the durable counterpart.
type Request struct {
	URL *url.URL

	// Method is GET unless PostData is set, in which case it is POST.
	Method string

	Headers http.Header
	Body    []byte

	// PostData is the opt. body to send (application/x-www-form-urlencoded).
	PostData string

	// Level is the recursion depth; 0 for seeds.
	Level int

	// TopURL is the earliest ancestor, identifying the crawl root.
	TopURL string

	// Referrer is the URL whose document linked to this one.
	Referrer string

	// Inline marks this URL as an embedded resource rather than a followed link.
	Inline bool

	// LinkType is the origin hint set by the scraper that produced this URL.
	LinkType LinkType

	// URLEncoding is the byte-level encoding used to parse/serialize the URL.
	URLEncoding string

	Priority    int
	MaxRetries  int
	RetryCount  int
	Timeout     time.Duration
	Meta        map[string]any
	Tag         string
	FetcherType string
	ParentURL   string
	CreatedAt   time.Time
	ID          string
}

// NewRequest creates a new Request with sensible defaults, scheme-dispatched
// FetcherType ("http" or "ftp").
func NewRequest(rawURL string) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}

	fetcherType := "http"
	if u.Scheme == "ftp" {
		fetcherType = "ftp"
	}

	return &Request{
		URL:         u,
		Method:      http.MethodGet,
		Headers:     make(http.Header),
		Priority:    PriorityNormal,
		MaxRetries:  3,
		FetcherType: fetcherType,
		URLEncoding: "utf-8",
		Meta:        make(map[string]any),
		CreatedAt:   time.Now(),
		ID:          uuid.NewString(),
	}, nil
}

// URLString returns the string representation of the request URL.
func (r *Request) URLString() string {
	if r.URL == nil {
		return ""
	}
	return r.URL.String()
}

// Domain returns the hostname of the request URL.
func (r *Request) Domain() string {
	if r.URL == nil {
		return ""
	}
	return r.URL.Hostname()
}

// Clone creates a deep copy of the request.
func (r *Request) Clone() *Request {
	clone := *r
	if r.URL != nil {
		u := *r.URL
		clone.URL = &u
	}
	clone.Headers = r.Headers.Clone()
	clone.Meta = make(map[string]any, len(r.Meta))
	for k, v := range r.Meta {
		clone.Meta[k] = v
	}
	clone.Body = append([]byte(nil), r.Body...)
	return &clone
}
