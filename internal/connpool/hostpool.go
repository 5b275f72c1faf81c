package connpool

import (
	"context"
	"sync"

	"github.com/mirrorctl/mirrorctl/internal/netconn"
)

// HostKey identifies one HostPool, matching §4.3's (host, port, tls) triple
// or a caller-supplied override (proxy tunnels route several logical hosts
// through one physical endpoint).
type HostKey struct {
	Host string
	Port string
	TLS  bool
}

// HostPool is a set of ready (idle) Connections plus a set of busy
// (checked-out) Connections, capped at MaxConnections, with a condition
// variable for acquirers.
type HostPool struct {
	mu             sync.Mutex
	cond           *sync.Cond
	ready          []*netconn.Connection
	busy           map[*netconn.Connection]struct{}
	maxConnections int
	waiters        int
}

func NewHostPool(maxConnections int) *HostPool {
	p := &HostPool{
		busy:           make(map[*netconn.Connection]struct{}),
		maxConnections: maxConnections,
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Acquire waits until an idle Connection exists or the cap allows creating
// a new one via factory, then moves the chosen Connection ready -> busy.
func (p *HostPool) Acquire(ctx context.Context, factory func() *netconn.Connection) (*netconn.Connection, error) {
	p.mu.Lock()
	p.waiters++
	defer func() {
		p.mu.Lock()
		p.waiters--
		p.mu.Unlock()
	}()

	for {
		if len(p.ready) > 0 {
			conn := p.ready[len(p.ready)-1]
			p.ready = p.ready[:len(p.ready)-1]
			p.busy[conn] = struct{}{}
			p.mu.Unlock()
			return conn, nil
		}
		if len(p.busy)+len(p.ready) < p.maxConnections {
			conn := factory()
			p.busy[conn] = struct{}{}
			p.mu.Unlock()
			return conn, nil
		}

		// Block on the condvar, but stay responsive to ctx cancellation by
		// waking periodically via a helper goroutine that broadcasts.
		done := make(chan struct{})
		if ctx != nil {
			go func() {
				select {
				case <-ctx.Done():
					p.cond.Broadcast()
				case <-done:
				}
			}()
		}
		p.cond.Wait()
		close(done)

		if ctx != nil {
			select {
			case <-ctx.Done():
				p.mu.Unlock()
				return nil, ctx.Err()
			default:
			}
		}
	}
}

// Release removes conn from busy; if reuse and the connection is not dead,
// it is returned to ready and one waiter is signaled, otherwise it is closed.
func (p *HostPool) Release(conn *netconn.Connection, reuse bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.busy, conn)

	if reuse && conn.State() != netconn.StateDead {
		p.ready = append(p.ready, conn)
		p.cond.Signal()
		return
	}
	_ = conn.Close()
	p.cond.Signal()
}

// NoWaitRelease schedules Release as a background task for synchronous
// callers that cannot block on the pool lock.
func (p *HostPool) NoWaitRelease(conn *netconn.Connection, reuse bool) {
	go p.Release(conn, reuse)
}

// Clean drops closed connections (or, if force, all idle connections), and
// reports whether the pool is now empty with no waiters (eligible for
// removal from the owning Pool).
func (p *HostPool) Clean(force bool) (emptyAndIdle bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	kept := p.ready[:0]
	for _, c := range p.ready {
		if force || c.State() == netconn.StateDead {
			_ = c.Close()
			continue
		}
		kept = append(kept, c)
	}
	p.ready = kept

	return len(p.ready) == 0 && len(p.busy) == 0 && p.waiters == 0
}

// Counts returns (busy, ready) connection counts.
func (p *HostPool) Counts() (busy, ready int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.busy), len(p.ready)
}
