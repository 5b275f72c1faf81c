// Package netconn implements the Connection primitive: a single TCP or TLS
// byte stream with connect/read/write timeouts and a close-timer watchdog,
// grounded on the dialer/TLS setup in the teacher's fetcher/http.go.
package netconn

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/mirrorctl/mirrorctl/internal/types"
)

// State is a Connection's lifecycle position.
type State int32

const (
	StateReady State = iota
	StateCreated
	StateDead
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateCreated:
		return "created"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// VerifyMode controls TLS peer-certificate verification in StartTLS.
type VerifyMode int

const (
	VerifyNormal VerifyMode = iota
	VerifyNone
)

// Connection owns one socket, a buffered reader half, a writer half, and
// the timeouts that arm its close-timer on every I/O call.
type Connection struct {
	mu    sync.Mutex
	state State

	raw  net.Conn
	br   *bufio.Reader
	tls  bool
	host string // remembered for start_tls SNI/verification

	connectTimeout time.Duration
	readTimeout    time.Duration

	// remembered FTP-style (user, password) so pooled reuse can skip re-login.
	AuthUser, AuthPassword string
}

// New builds a ready, unconnected Connection.
func New(readTimeout, connectTimeout time.Duration) *Connection {
	return &Connection{
		state:          StateReady,
		readTimeout:    readTimeout,
		connectTimeout: connectTimeout,
	}
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials network/addr, arming the close-timer as the connect
// timeout. Transitions ready -> created.
func (c *Connection) Connect(ctx context.Context, network, addr, hostname string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady {
		return errors.New("netconn: connect called on a non-ready connection")
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, network, addr)
	if err != nil {
		return classifyDialError(addr, err)
	}

	c.raw = conn
	c.br = bufio.NewReader(conn)
	c.host = hostname
	c.state = StateCreated
	return nil
}

// AdoptRaw wraps an already-connected net.Conn (e.g. the happy-eyeballs
// winner) as a created Connection.
func AdoptRaw(conn net.Conn, hostname string, readTimeout time.Duration) *Connection {
	return &Connection{
		state:       StateCreated,
		raw:         conn,
		br:          bufio.NewReader(conn),
		host:        hostname,
		readTimeout: readTimeout,
	}
}

// Adopt installs an already-connected net.Conn into this ready Connection,
// transitioning it to created in place (used after a happy-eyeballs race
// resolves the winning socket for a Connection already checked out of a
// HostPool).
func (c *Connection) Adopt(conn net.Conn, hostname string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.raw = conn
	c.br = bufio.NewReader(conn)
	c.host = hostname
	c.state = StateCreated
}

func classifyDialError(addr string, err error) error {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if errors.Is(opErr.Err, syscall.ECONNREFUSED) {
			return &types.NetworkError{Kind: types.ConnectionRefusedKind, Op: "connect", Addr: addr, Err: err}
		}
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return &types.NetworkError{Kind: types.DNSNotFoundKind, Op: "connect", Addr: addr, Err: err}
	}
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return &types.NetworkError{Kind: types.NetworkTimedOutKind, Op: "connect", Addr: addr, Err: err}
	}
	return &types.NetworkError{Kind: types.NetworkGeneric, Op: "connect", Addr: addr, Err: err}
}

// armCloseTimer sets the read/write deadline for the next I/O call. This is
// the practical Go equivalent of an externally-scheduled close-timer
// watchdog: the runtime force-aborts the in-flight syscall at the deadline
// without a second goroutine racing the connection.
func (c *Connection) armCloseTimer() {
	if c.readTimeout > 0 && c.raw != nil {
		_ = c.raw.SetDeadline(time.Now().Add(c.readTimeout))
	}
}

// Read reads into p, force-closing the connection if the close-timer fires.
func (c *Connection) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateCreated {
		return 0, errors.New("netconn: read on non-created connection")
	}
	c.armCloseTimer()
	n, err := c.br.Read(p)
	if err != nil {
		return n, c.translateIOErrorLocked(err)
	}
	return n, nil
}

// ReadLine reads a single line (without the trailing delimiter), tolerating
// both CRLF and bare LF terminators.
func (c *Connection) ReadLine() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateCreated {
		return "", errors.New("netconn: readline on non-created connection")
	}
	c.armCloseTimer()
	line, err := c.br.ReadString('\n')
	if err != nil {
		return "", c.translateIOErrorLocked(err)
	}
	line = trimCRLF(line)
	return line, nil
}

func trimCRLF(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

// Write writes p, optionally waiting for the kernel send buffer to drain.
func (c *Connection) Write(p []byte, drain bool) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateCreated {
		return 0, errors.New("netconn: write on non-created connection")
	}
	c.armCloseTimer()
	n, err := c.raw.Write(p)
	if err != nil {
		return n, c.translateIOErrorLocked(err)
	}
	return n, nil
}

// translateIOErrorLocked force-closes the connection and maps the error
// into the taxonomy. Caller must hold c.mu.
func (c *Connection) translateIOErrorLocked(err error) error {
	addr := ""
	if c.raw != nil {
		addr = c.raw.RemoteAddr().String()
	}
	c.closeLocked()
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return &types.NetworkError{Kind: types.NetworkTimedOutKind, Op: "io", Addr: addr, Err: err}
	}
	return &types.NetworkError{Kind: types.NetworkGeneric, Op: "io", Addr: addr, Err: err}
}

// StartTLS upgrades a created plaintext connection to TLS, verifying the
// peer certificate against hostname unless mode is VerifyNone. Only valid
// on a created, non-TLS connection.
func (c *Connection) StartTLS(ctx context.Context, hostname string, mode VerifyMode) (*Connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateCreated || c.tls {
		return nil, errors.New("netconn: start_tls requires a created plaintext connection")
	}

	cfg := &tls.Config{ServerName: hostname, InsecureSkipVerify: mode == VerifyNone}
	tlsConn := tls.Client(c.raw, cfg)
	if c.connectTimeout > 0 {
		_ = tlsConn.SetDeadline(time.Now().Add(c.connectTimeout))
	}
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = tlsConn.Close()
		c.state = StateDead
		return nil, &types.NetworkError{Kind: types.SSLVerificationKind, Op: "tls_handshake", Addr: hostname, Err: err}
	}
	_ = tlsConn.SetDeadline(time.Time{})

	upgraded := &Connection{
		state:          StateCreated,
		raw:            tlsConn,
		br:             bufio.NewReader(tlsConn),
		tls:            true,
		host:           hostname,
		readTimeout:    c.readTimeout,
		connectTimeout: c.connectTimeout,
	}
	// The plaintext wrapper is superseded; mark it dead without closing the
	// shared socket (owned now by the TLS connection).
	c.state = StateDead
	c.raw = nil
	return upgraded, nil
}

// Close is idempotent and transitions the connection to dead.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Connection) closeLocked() error {
	if c.state == StateDead {
		return nil
	}
	c.state = StateDead
	if c.raw != nil {
		err := c.raw.Close()
		c.raw = nil
		return err
	}
	return nil
}

// Reset closes if needed and returns the Connection to ready for pooled
// reuse, dropping any bound socket.
func (c *Connection) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.closeLocked()
	c.state = StateReady
	c.br = nil
	c.tls = false
	c.host = ""
}

// IsTLS reports whether this Connection carries end-to-end TLS.
func (c *Connection) IsTLS() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tls
}

// RawConn exposes the underlying net.Conn for data-channel callers (FTP
// data connections) that need direct streaming without the line reader.
func (c *Connection) RawConn() net.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.raw
}
