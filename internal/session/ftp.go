package session

import (
	"context"
	"fmt"
	"io"

	"github.com/mirrorctl/mirrorctl/internal/connpool"
	"github.com/mirrorctl/mirrorctl/internal/ftpstream"
	"github.com/mirrorctl/mirrorctl/internal/netconn"
	"github.com/mirrorctl/mirrorctl/internal/recorder"
	"github.com/mirrorctl/mirrorctl/internal/types"
)

// dataConn adapts a pooled Connection to io.ReadWriteCloser for FTP data
// transfers, and releases it back to the pool (closed, never reused — FTP
// data connections are single-use per RFC 959) on Close.
type dataConn struct {
	conn *netconn.Connection
	pool *connpool.Pool
	host string
	port int
}

func (d *dataConn) Read(p []byte) (int, error)  { return d.conn.Read(p) }
func (d *dataConn) Write(p []byte) (int, error) { return d.conn.Write(p, true) }
func (d *dataConn) Close() error {
	err := d.conn.Close()
	d.pool.Release(d.host, fmt.Sprintf("%d", d.port), false, d.conn, false)
	return err
}

// FTPClient drives one FTP control session per pooled control connection,
// reusing it across several RETR/LIST calls to the same host.
type FTPClient struct {
	pool       *connpool.Pool
	dispatcher *recorder.Dispatcher
	user       string
	password   string
}

func NewFTPClient(pool *connpool.Pool, dispatcher *recorder.Dispatcher, user, password string) *FTPClient {
	if dispatcher == nil {
		dispatcher = recorder.NewDispatcher()
	}
	return &FTPClient{pool: pool, dispatcher: dispatcher, user: user, password: password}
}

// openSession acquires a control connection and logs in.
func (c *FTPClient) openSession(ctx context.Context, host, port string) (*ftpstream.Session, *netconn.Connection, error) {
	conn, err := c.pool.Acquire(ctx, host, port, false, "")
	if err != nil {
		return nil, nil, &types.NetworkError{Kind: types.NetworkGeneric, Op: "ftp_connect", Addr: host, Err: err}
	}
	if _, err := ftpstream.Greet(conn); err != nil {
		c.pool.Release(host, port, false, conn, false)
		return nil, nil, err
	}
	sess := ftpstream.NewSession(conn)
	if err := sess.Login(ctx, c.user, c.password); err != nil {
		c.pool.Release(host, port, false, conn, false)
		return nil, nil, err
	}
	return sess, conn, nil
}

// Download retrieves req's path via RETR, honoring a byte offset when
// req.Meta["resume_offset"] is set.
func (c *FTPClient) Download(ctx context.Context, req *types.Request) (*types.Response, error) {
	c.dispatcher.PreRequest(req)

	host := req.URL.Hostname()
	port := req.URL.Port()
	if port == "" {
		port = "21"
	}

	sess, conn, err := c.openSession(ctx, host, port)
	if err != nil {
		c.dispatcher.Response(req, nil, err)
		return nil, err
	}
	defer c.pool.Release(host, port, false, conn, true)

	c.dispatcher.Request(req)

	offset := int64(0)
	if v, ok := req.Meta["resume_offset"].(int64); ok {
		offset = v
	}

	result, err := sess.Retr(ctx, req.URL.Path, offset, sendDialer(ctx, c.pool))
	if err != nil {
		c.dispatcher.Response(req, nil, err)
		return nil, err
	}
	c.dispatcher.PreResponse(req, 226, nil)

	body, err := readAllNotifying(result.Body, c.dispatcher, req)
	closeErr := result.Body.Close()
	if err != nil {
		c.dispatcher.Response(req, nil, err)
		return nil, err
	}
	if closeErr != nil {
		c.dispatcher.Response(req, nil, closeErr)
		return nil, closeErr
	}

	resp := types.NewResponseFromStream(req, 226, make(map[string][]string), req.URLString(), body, 0)
	c.dispatcher.Response(req, resp, nil)
	return resp, nil
}

// List retrieves the directory listing at req's path.
func (c *FTPClient) List(ctx context.Context, req *types.Request) ([]ftpstream.Entry, error) {
	host := req.URL.Hostname()
	port := req.URL.Port()
	if port == "" {
		port = "21"
	}
	sess, conn, err := c.openSession(ctx, host, port)
	if err != nil {
		return nil, err
	}
	defer c.pool.Release(host, port, false, conn, true)
	return sess.List(ctx, req.URL.Path, sendDialer(ctx, c.pool))
}

var _ io.ReadWriteCloser = (*dataConn)(nil)
