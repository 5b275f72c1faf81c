package httpstream

import (
	"fmt"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/mirrorctl/mirrorctl/internal/types"
)

// StatusLine is a parsed HTTP response status line.
type StatusLine struct {
	Proto      string
	StatusCode int
	Reason     string
}

// ParseStatusLine parses "HTTP/1.1 200 OK" into its parts.
func ParseStatusLine(line string) (StatusLine, error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return StatusLine{}, &types.ProtocolError{Err: fmt.Errorf("malformed status line: %q", line)}
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return StatusLine{}, &types.ProtocolError{Err: fmt.Errorf("malformed status code in %q: %w", line, err)}
	}
	reason := ""
	if len(parts) == 3 {
		reason = parts[2]
	}
	return StatusLine{Proto: parts[0], StatusCode: code, Reason: reason}, nil
}

// LineReader is the minimal interface response parsing needs from a
// Connection: line-at-a-time and raw-byte reads.
type LineReader interface {
	ReadLine() (string, error)
	Read(p []byte) (int, error)
}

// ReadResponseHead reads the status line and header block (up through the
// blank line) from r, tolerating 1xx informational responses by skipping
// them per RFC 9112 (the caller asked for the final, non-1xx response).
func ReadResponseHead(r LineReader) (StatusLine, http.Header, error) {
	for {
		line, err := r.ReadLine()
		if err != nil {
			return StatusLine{}, nil, err
		}
		status, err := ParseStatusLine(line)
		if err != nil {
			return StatusLine{}, nil, err
		}

		header, err := readHeaders(r)
		if err != nil {
			return StatusLine{}, nil, err
		}

		if status.StatusCode >= 100 && status.StatusCode < 200 && status.StatusCode != http.StatusSwitchingProtocols {
			continue // discard 1xx and wait for the real response
		}
		return status, header, nil
	}
}

func readHeaders(r LineReader) (http.Header, error) {
	header := make(http.Header)
	var lastKey string
	for {
		line, err := r.ReadLine()
		if err != nil {
			return nil, err
		}
		if line == "" {
			return header, nil
		}
		// RFC 7230 obsolete line folding: a continuation line starts with
		// whitespace and extends the previous header's value.
		if lastKey != "" && len(line) > 0 && (line[0] == ' ' || line[0] == '\t') {
			if keys := header[lastKey]; len(keys) > 0 {
				keys[len(keys)-1] += " " + strings.TrimSpace(line)
				continue
			}
		}
		name, value, ok := splitHeaderLine(line)
		if !ok {
			return nil, &types.ProtocolError{Err: fmt.Errorf("malformed header line: %q", line)}
		}
		header.Add(name, value)
		lastKey = name
	}
}

func splitHeaderLine(line string) (name, value string, ok bool) {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return "", "", false
	}
	name = textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(line[:idx]))
	value = strings.TrimSpace(line[idx+1:])
	return name, value, true
}
