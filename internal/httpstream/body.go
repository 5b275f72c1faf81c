package httpstream

import (
	"bufio"
	"compress/flate"
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/mirrorctl/mirrorctl/internal/types"
)

// Framing describes how a response body is delimited, decided per §4.4:
// chunked transfer-encoding always wins over Content-Length when both are
// present, matching the §9 Open Question resolution.
type Framing int

const (
	FramingNone Framing = iota
	FramingContentLength
	FramingChunked
	FramingUntilClose
)

// DecideFraming inspects Transfer-Encoding and Content-Length and returns
// the framing mode plus the declared length (valid only for
// FramingContentLength).
func DecideFraming(header http.Header) (Framing, int64) {
	te := strings.ToLower(header.Get("Transfer-Encoding"))
	if strings.Contains(te, "chunked") {
		return FramingChunked, 0
	}
	if cl := header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil && n >= 0 {
			return FramingContentLength, n
		}
	}
	return FramingUntilClose, 0
}

// BodyReader exposes the byte-reading half of a Connection needed to frame
// and decode a response body.
type BodyReader interface {
	Read(p []byte) (int, error)
	ReadLine() (string, error)
}

// OpenBody returns a reader that yields exactly the framed response body
// (chunk-decoded if needed) and, once fully drained, the trailer headers
// merged in (trailers are only possible with chunked framing).
func OpenBody(conn BodyReader, header http.Header, framing Framing, length int64, maxBodySize int64) (io.Reader, *Trailers) {
	switch framing {
	case FramingChunked:
		cr := &chunkedReader{conn: conn, trailers: &Trailers{}}
		return capReader(cr, maxBodySize), cr.trailers
	case FramingContentLength:
		return capReader(io.LimitReader(&connReader{conn}, length), maxBodySize), nil
	case FramingUntilClose:
		return capReader(&connReader{conn}, maxBodySize), nil
	default:
		return io.LimitReader(&connReader{conn}, 0), nil
	}
}

func capReader(r io.Reader, max int64) io.Reader {
	if max <= 0 {
		return r
	}
	return io.LimitReader(r, max)
}

// connReader adapts BodyReader.Read to plain io.Reader.
type connReader struct{ c BodyReader }

func (r *connReader) Read(p []byte) (int, error) { return r.c.Read(p) }

// Trailers captures headers sent after a chunked body's terminating
// zero-length chunk, merged into the response's header set by the caller.
type Trailers struct {
	Header http.Header
}

// chunkedReader decodes HTTP/1.1 chunked transfer-encoding, including
// chunk extensions (ignored) and trailer headers, per RFC 9112 §7.1.
type chunkedReader struct {
	conn     BodyReader
	br       *bufio.Reader
	remain   int64
	done     bool
	trailers *Trailers
}

func (c *chunkedReader) reader() *bufio.Reader {
	if c.br == nil {
		c.br = bufio.NewReader(&connReader{c.conn})
	}
	return c.br
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	if c.done {
		return 0, io.EOF
	}
	if c.remain == 0 {
		if err := c.readChunkHeader(); err != nil {
			return 0, err
		}
		if c.remain == 0 {
			if err := c.readTrailers(); err != nil {
				return 0, err
			}
			c.done = true
			return 0, io.EOF
		}
	}

	toRead := int64(len(p))
	if toRead > c.remain {
		toRead = c.remain
	}
	n, err := c.reader().Read(p[:toRead])
	c.remain -= int64(n)
	if err != nil {
		return n, &types.ProtocolError{Err: fmt.Errorf("chunked body: %w", err)}
	}
	if c.remain == 0 {
		// consume the trailing CRLF after the chunk data
		if _, err := c.reader().ReadString('\n'); err != nil {
			return n, &types.ProtocolError{Err: fmt.Errorf("chunked body: missing chunk terminator: %w", err)}
		}
	}
	return n, nil
}

func (c *chunkedReader) readChunkHeader() error {
	line, err := c.reader().ReadString('\n')
	if err != nil {
		return &types.ProtocolError{Err: fmt.Errorf("chunked body: missing chunk size line: %w", err)}
	}
	line = strings.TrimRight(line, "\r\n")
	if idx := strings.IndexByte(line, ';'); idx >= 0 {
		line = line[:idx] // drop chunk extensions
	}
	size, err := strconv.ParseInt(strings.TrimSpace(line), 16, 64)
	if err != nil {
		return &types.ProtocolError{Err: fmt.Errorf("chunked body: malformed chunk size %q: %w", line, err)}
	}
	c.remain = size
	return nil
}

func (c *chunkedReader) readTrailers() error {
	header := make(http.Header)
	for {
		line, err := c.reader().ReadString('\n')
		if err != nil {
			return &types.ProtocolError{Err: fmt.Errorf("chunked body: missing final CRLF: %w", err)}
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		if name, value, ok := splitHeaderLine(line); ok {
			header.Add(name, value)
		}
	}
	c.trailers.Header = header
	return nil
}

// DecompressReader wraps body with the decoder matching Content-Encoding.
func DecompressReader(contentEncoding string, body io.Reader) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(contentEncoding)) {
	case "gzip", "x-gzip":
		return gzip.NewReader(body)
	case "deflate":
		return flate.NewReader(body), nil
	case "br":
		return brotli.NewReader(body), nil
	case "", "identity":
		return body, nil
	default:
		return body, nil
	}
}
