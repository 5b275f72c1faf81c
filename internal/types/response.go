package types

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// SeekableBody is the decoded entity body of a Response. It buffers the
// full body in memory (Non-goal: streaming/transforming scraper output —
// scrapers always see a fully-buffered, seekable handle) and survives until
// the Processor finishes scraping and writing the document.
type SeekableBody struct {
	*bytes.Reader
	raw []byte
}

// NewSeekableBody wraps a decoded entity in a SeekableBody.
func NewSeekableBody(data []byte) *SeekableBody {
	return &SeekableBody{Reader: bytes.NewReader(data), raw: data}
}

// Close is a no-op; the buffer is reclaimed by the garbage collector once
// the Response itself is dropped.
func (b *SeekableBody) Close() error { return nil }

// Bytes returns the full buffered entity.
func (b *SeekableBody) Bytes() []byte { return b.raw }

// Rewind seeks the body back to its start, for a second scraper pass.
func (b *SeekableBody) Rewind() { _, _ = b.Seek(0, io.SeekStart) }

// Response is the result of one protocol exchange. It is a per-fetch value,
// never persisted; URLRecord.StatusCode is the only part of it that outlives
// the fetch.
type Response struct {
	StatusCode int
	Headers    http.Header

	// Body is the decoded, buffered, seekable entity. Nil when the
	// no-body predicate applies (HEAD, 1xx, 204, 304).
	Body *SeekableBody

	Request *Request

	ContentType   string
	ContentLength int64

	// FinalURL is the URL after any redirects followed by the Web Client.
	FinalURL string

	// Doc is a parsed goquery document (lazily loaded from Body).
	Doc *goquery.Document

	FetchDuration time.Duration
	FetchedAt     time.Time

	Meta map[string]any
}

// NewResponse builds a Response from a decoded body and an http.Response's
// status/header metadata.
func NewResponse(req *Request, httpResp *http.Response, body []byte, duration time.Duration) *Response {
	resp := &Response{
		StatusCode:    httpResp.StatusCode,
		Headers:       httpResp.Header,
		ContentType:   httpResp.Header.Get("Content-Type"),
		ContentLength: int64(len(body)),
		FetchDuration: duration,
		FetchedAt:     time.Now(),
		Meta:          make(map[string]any),
	}
	if httpResp.Request != nil && httpResp.Request.URL != nil {
		resp.FinalURL = httpResp.Request.URL.String()
	}
	if body != nil {
		resp.Body = NewSeekableBody(body)
	}
	return resp
}

// NewResponseFromStream builds a Response from the parsed status/headers
// and decoded body bytes produced by a protocol Session, without going
// through net/http's client (the HTTP/FTP Stream layers read directly off
// pooled Connections).
func NewResponseFromStream(req *Request, statusCode int, header http.Header, finalURL string, body []byte, duration time.Duration) *Response {
	resp := &Response{
		StatusCode:    statusCode,
		Headers:       header,
		ContentType:   header.Get("Content-Type"),
		ContentLength: int64(len(body)),
		FinalURL:      finalURL,
		FetchDuration: duration,
		FetchedAt:     time.Now(),
		Meta:          make(map[string]any),
		Request:       req,
	}
	if body != nil {
		resp.Body = NewSeekableBody(body)
	}
	return resp
}

// IsNoBody reports the no-body predicate from the HTTP framing rules: no
// Content-Length, no Transfer-Encoding, and (method is HEAD or code is in
// {1xx, 204, 304}).
func IsNoBody(method string, statusCode int, hasContentLength, hasTransferEncoding bool) bool {
	if hasContentLength || hasTransferEncoding {
		return false
	}
	if method == http.MethodHead {
		return true
	}
	if statusCode >= 100 && statusCode < 200 {
		return true
	}
	return statusCode == http.StatusNoContent || statusCode == http.StatusNotModified
}

// Document returns a parsed goquery document, lazily initializing it from Body.
func (r *Response) Document() (*goquery.Document, error) {
	if r.Doc != nil {
		return r.Doc, nil
	}
	if r.Body == nil {
		return nil, io.EOF
	}
	r.Body.Rewind()
	doc, err := goquery.NewDocumentFromReader(r.Body)
	if err != nil {
		return nil, err
	}
	r.Doc = doc
	return doc, nil
}

// IsSuccess returns true if the response status is 2xx, 206, or 304 — the
// Processor's "document accepted" classification.
func (r *Response) IsSuccess() bool {
	if r.StatusCode >= 200 && r.StatusCode < 300 {
		return true
	}
	return r.StatusCode == http.StatusPartialContent || r.StatusCode == http.StatusNotModified
}

// IsPermanentFailure matches the Processor's permanent-failure set:
// {401, 403, 404, 405, 410}.
func (r *Response) IsPermanentFailure() bool {
	switch r.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound,
		http.StatusMethodNotAllowed, http.StatusGone:
		return true
	default:
		return false
	}
}

func (r *Response) IsRedirect() bool     { return r.StatusCode >= 300 && r.StatusCode < 400 }
func (r *Response) IsClientError() bool  { return r.StatusCode >= 400 && r.StatusCode < 500 }
func (r *Response) IsServerError() bool  { return r.StatusCode >= 500 && r.StatusCode < 600 }
