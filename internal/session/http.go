// Package session implements the Protocol Session & Client of §4.6: the
// per-request orchestration of connection acquisition, request/response
// exchange, and Recorder notification, for both HTTP and FTP. Grounded on
// the teacher's fetcher/fetcher.go Fetcher interface and fetcher/http.go's
// Fetch lifecycle, reimplemented over the pooled Connection/Stream layers
// instead of net/http's client.
package session

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/mirrorctl/mirrorctl/internal/connpool"
	"github.com/mirrorctl/mirrorctl/internal/httpstream"
	"github.com/mirrorctl/mirrorctl/internal/recorder"
	"github.com/mirrorctl/mirrorctl/internal/types"
)

// HTTPClient drives one-shot HTTP exchanges through a connpool.Pool,
// notifying a Dispatcher at each stage per §4.6's fixed event order.
type HTTPClient struct {
	pool        *connpool.Pool
	dispatcher  *recorder.Dispatcher
	maxBodySize int64
	viaProxy    bool
}

func NewHTTPClient(pool *connpool.Pool, dispatcher *recorder.Dispatcher, maxBodySize int64, viaProxy bool) *HTTPClient {
	if dispatcher == nil {
		dispatcher = recorder.NewDispatcher()
	}
	return &HTTPClient{pool: pool, dispatcher: dispatcher, maxBodySize: maxBodySize, viaProxy: viaProxy}
}

// Download performs one HTTP request/response exchange, releasing the
// connection back to the pool (or closing it, per Connection: close) when
// done.
func (c *HTTPClient) Download(ctx context.Context, req *types.Request) (*types.Response, error) {
	c.dispatcher.PreRequest(req)

	host := req.URL.Hostname()
	port := req.URL.Port()
	useSSL := req.URL.Scheme == "https"
	if port == "" {
		port = defaultPort(useSSL)
	}

	conn, err := c.pool.Acquire(ctx, host, port, useSSL, "")
	if err != nil {
		netErr := &types.NetworkError{Kind: types.NetworkGeneric, Op: "acquire", Addr: host, Err: err}
		c.dispatcher.Response(req, nil, netErr)
		return nil, netErr
	}

	start := time.Now()
	c.dispatcher.Request(req)

	hostHeader := httpstream.HostHeader(host, port, defaultPort(useSSL))
	status, header, body, err := httpstream.Exchange(conn, req, hostHeader, c.viaProxy, c.maxBodySize)
	if err != nil {
		c.pool.Release(host, port, useSSL, conn, false)
		c.dispatcher.Response(req, nil, err)
		return nil, err
	}

	c.dispatcher.PreResponse(req, status.StatusCode, header)

	bodyBytes, readErr := readAllNotifying(body, c.dispatcher, req)
	duration := time.Since(start)

	shouldClose := httpstream.ConnectionShouldClose(status, header)
	c.pool.Release(host, port, useSSL, conn, !shouldClose && readErr == nil)

	if readErr != nil {
		netErr := &types.NetworkError{Kind: types.NetworkGeneric, Op: "read_body", Addr: host, Err: readErr}
		c.dispatcher.Response(req, nil, netErr)
		return nil, netErr
	}

	resp := types.NewResponseFromStream(req, status.StatusCode, header, req.URLString(), bodyBytes, duration)
	c.dispatcher.Response(req, resp, nil)
	return resp, nil
}

func readAllNotifying(r io.Reader, d *recorder.Dispatcher, req *types.Request) ([]byte, error) {
	var buf bytes.Buffer
	chunk := make([]byte, 32*1024)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			d.ResponseData(req, chunk[:n])
			buf.Write(chunk[:n])
		}
		if err == io.EOF {
			return buf.Bytes(), nil
		}
		if err != nil {
			return buf.Bytes(), err
		}
	}
}

func defaultPort(useSSL bool) string {
	if useSSL {
		return "443"
	}
	return "80"
}

// sendDialer adapts net.Dial semantics used by FTP data-connection opening
// (kept here since both protocols share the same pool-backed dial path).
func sendDialer(ctx context.Context, pool *connpool.Pool) func(ctx context.Context, host string, port int) (io.ReadWriteCloser, error) {
	return func(ctx context.Context, host string, port int) (io.ReadWriteCloser, error) {
		conn, err := pool.Acquire(ctx, host, fmt.Sprintf("%d", port), false, "")
		if err != nil {
			return nil, &types.NetworkError{Kind: types.NetworkGeneric, Op: "data_connect", Addr: net.JoinHostPort(host, fmt.Sprintf("%d", port)), Err: err}
		}
		return &dataConn{conn: conn, pool: pool, host: host, port: port}, nil
	}
}
