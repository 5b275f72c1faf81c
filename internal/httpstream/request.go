// Package httpstream implements the HTTP Stream primitive of §4.4: request
// serialization and response status-line/header/body framing directly over
// a netconn.Connection, grounded on the teacher's fetcher/http.go request
// construction and decompression but reimplemented against the raw byte
// stream instead of net/http's transport.
package httpstream

import (
	"bytes"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/mirrorctl/mirrorctl/internal/types"
)

// RequestLine builds the raw HTTP/1.1 request-line plus header block (ending
// in a blank line) for req, addressed to the given host:port. Bodies are
// returned separately so callers can stream them.
func RequestLine(req *types.Request, hostHeader string, useAbsoluteURI bool) ([]byte, []byte) {
	var buf bytes.Buffer

	target := req.URL.RequestURI()
	if useAbsoluteURI {
		target = req.URL.String()
	}
	fmt.Fprintf(&buf, "%s %s HTTP/1.1\r\n", req.Method, target)
	fmt.Fprintf(&buf, "Host: %s\r\n", hostHeader)

	headers := cloneHeader(req.Headers)
	if headers.Get("User-Agent") == "" {
		headers.Set("User-Agent", "mirrorctl")
	}
	if headers.Get("Accept") == "" {
		headers.Set("Accept", "*/*")
	}
	if headers.Get("Accept-Encoding") == "" {
		headers.Set("Accept-Encoding", "gzip, deflate, br")
	}
	headers.Set("Connection", "keep-alive")

	body := req.Body
	if len(req.PostData) > 0 {
		body = []byte(req.PostData)
	}
	if len(body) > 0 {
		fmt.Fprintf(&buf, "Content-Length: %d\r\n", len(body))
		if headers.Get("Content-Type") == "" {
			headers.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}

	writeHeadersSorted(&buf, headers)
	buf.WriteString("\r\n")
	return buf.Bytes(), body
}

func cloneHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, v := range h {
		cp := make([]string, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

// writeHeadersSorted writes headers in a stable, lexically sorted order so
// output is deterministic (and easy to test) regardless of map iteration.
func writeHeadersSorted(buf *bytes.Buffer, h http.Header) {
	names := make([]string, 0, len(h))
	for k := range h {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, v := range h[name] {
			fmt.Fprintf(buf, "%s: %s\r\n", name, v)
		}
	}
}

// ProxyAbsoluteURI reports whether a proxy target (no CONNECT tunnel, i.e.
// a plaintext proxied request) requires an absolute-URI request line.
func ProxyAbsoluteURI(viaProxy, useSSL bool) bool {
	return viaProxy && !useSSL
}

func HostHeader(host, port string, defaultPort string) string {
	if port == "" || port == defaultPort {
		return host
	}
	return strings.TrimSuffix(host, ".") + ":" + port
}
