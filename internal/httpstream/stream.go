package httpstream

import (
	"io"
	"net/http"

	"github.com/mirrorctl/mirrorctl/internal/netconn"
	"github.com/mirrorctl/mirrorctl/internal/types"
)

// Exchange sends req over conn and returns the parsed status, headers, and a
// reader yielding the decompressed, correctly-framed body. The caller is
// responsible for fully draining or discarding the returned body before the
// connection is released for reuse.
func Exchange(conn *netconn.Connection, req *types.Request, hostHeader string, viaProxy bool, maxBodySize int64) (StatusLine, http.Header, io.Reader, error) {
	head, body := RequestLine(req, hostHeader, ProxyAbsoluteURI(viaProxy, req.URL.Scheme == "http"))
	if _, err := conn.Write(head, false); err != nil {
		return StatusLine{}, nil, nil, err
	}
	if len(body) > 0 {
		if _, err := conn.Write(body, true); err != nil {
			return StatusLine{}, nil, nil, err
		}
	}

	status, header, err := ReadResponseHead(conn)
	if err != nil {
		return StatusLine{}, nil, nil, err
	}

	if types.IsNoBody(req.Method, status.StatusCode, header.Get("Content-Length") != "", header.Get("Transfer-Encoding") != "") {
		return status, header, http.NoBody, nil
	}

	framing, length := DecideFraming(header)
	raw, trailers := OpenBody(conn, header, framing, length, maxBodySize)
	decoded, err := DecompressReader(header.Get("Content-Encoding"), raw)
	if err != nil {
		return status, header, nil, &types.ProtocolError{Err: err}
	}
	return status, header, &trailerMergingReader{r: decoded, header: header, trailers: trailers}, nil
}

// trailerMergingReader drains r and, once exhausted, merges any chunked
// trailer headers into header so callers can inspect them after the body is
// fully read (e.g. a trailing Content-MD5 or digest header).
type trailerMergingReader struct {
	r        io.Reader
	header   http.Header
	trailers *Trailers
	merged   bool
}

func (t *trailerMergingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err == io.EOF && !t.merged {
		t.merged = true
		if t.trailers != nil {
			for k, v := range t.trailers.Header {
				t.header[k] = append(t.header[k], v...)
			}
		}
	}
	return n, err
}

// ConnectionShouldClose reports whether the response demands the connection
// not be reused, per the Connection header and protocol version.
func ConnectionShouldClose(status StatusLine, header http.Header) bool {
	conn := header.Get("Connection")
	if status.Proto == "HTTP/1.0" {
		return conn != "keep-alive"
	}
	return conn == "close"
}
