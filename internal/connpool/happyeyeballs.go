package connpool

import (
	"context"
	"net"
	"sort"
	"sync"
	"time"
)

// happyEyeballsKey normalizes an address pair so swapping the two inputs
// yields the same cache key.
type happyEyeballsKey struct{ a, b string }

func newHappyEyeballsKey(a, b string) happyEyeballsKey {
	if a > b {
		a, b = b, a
	}
	return happyEyeballsKey{a: a, b: b}
}

type happyEyeballsEntry struct {
	preferred string
	expiresAt time.Time
}

// HappyEyeballsTable remembers, for an ordered address pair, which family
// won the dial race last time, with a TTL.
type HappyEyeballsTable struct {
	mu      sync.Mutex
	entries map[happyEyeballsKey]happyEyeballsEntry
	ttl     time.Duration
}

func NewHappyEyeballsTable(ttl time.Duration) *HappyEyeballsTable {
	return &HappyEyeballsTable{entries: make(map[happyEyeballsKey]happyEyeballsEntry), ttl: ttl}
}

func (t *HappyEyeballsTable) Lookup(a, b string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[newHappyEyeballsKey(a, b)]
	if !ok || time.Now().After(e.expiresAt) {
		return "", false
	}
	return e.preferred, true
}

func (t *HappyEyeballsTable) Remember(a, b, winner string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[newHappyEyeballsKey(a, b)] = happyEyeballsEntry{preferred: winner, expiresAt: time.Now().Add(t.ttl)}
}

// dialResult carries a winning or losing dial outcome from a race goroutine.
type dialResult struct {
	conn net.Conn
	addr string
	err  error
}

// HappyEyeballsDial resolves host to both IPv4 and IPv6 addresses (when
// available) and dials per §4.3: single family dials directly; a cached
// preferred family from table dials only that address; otherwise both
// addresses race concurrently, the first success wins, and the loser is
// closed once it resolves. The winner's family is remembered with TTL.
// HappyEyeballsDial's third return value reports whether both families were
// actually raced against each other, as opposed to only one being
// available or a cached preference short-circuiting the race.
func HappyEyeballsDial(ctx context.Context, network string, resolved []net.IP, port string, table *HappyEyeballsTable, staggerWait time.Duration, dial func(ctx context.Context, addr string) (net.Conn, error)) (net.Conn, string, bool, error) {
	v4, v6 := splitFamilies(resolved)

	if len(v4) == 0 && len(v6) == 0 {
		return nil, "", false, &net.AddrError{Err: "no addresses resolved", Addr: network}
	}
	if len(v4) == 0 || len(v6) == 0 {
		addrs := v4
		if len(addrs) == 0 {
			addrs = v6
		}
		addr := net.JoinHostPort(addrs[0].String(), port)
		conn, err := dial(ctx, addr)
		return conn, addr, false, err
	}

	addrA := net.JoinHostPort(v6[0].String(), port) // IPv6 preferred first, matching modern happy-eyeballs practice
	addrB := net.JoinHostPort(v4[0].String(), port)

	if table != nil {
		if preferred, ok := table.Lookup(addrA, addrB); ok {
			conn, err := dial(ctx, preferred)
			if err == nil {
				return conn, preferred, false, nil
			}
			// cached preference failed; fall through to a full race
		}
	}

	conn, addr, err := raceDial(ctx, addrA, addrB, staggerWait, table, dial)
	return conn, addr, true, err
}

func splitFamilies(ips []net.IP) (v4, v6 []net.IP) {
	for _, ip := range ips {
		if ip.To4() != nil {
			v4 = append(v4, ip)
		} else {
			v6 = append(v6, ip)
		}
	}
	sort.Slice(v4, func(i, j int) bool { return v4[i].String() < v4[j].String() })
	sort.Slice(v6, func(i, j int) bool { return v6[i].String() < v6[j].String() })
	return v4, v6
}

func raceDial(ctx context.Context, addrA, addrB string, stagger time.Duration, table *HappyEyeballsTable, dial func(context.Context, string) (net.Conn, error)) (net.Conn, string, error) {
	results := make(chan dialResult, 2)
	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		conn, err := dial(raceCtx, addrA)
		results <- dialResult{conn: conn, addr: addrA, err: err}
	}()
	go func() {
		if stagger > 0 {
			select {
			case <-time.After(stagger):
			case <-raceCtx.Done():
				results <- dialResult{err: raceCtx.Err(), addr: addrB}
				return
			}
		}
		conn, err := dial(raceCtx, addrB)
		results <- dialResult{conn: conn, addr: addrB, err: err}
	}()

	var firstErr error
	for i := 0; i < 2; i++ {
		r := <-results
		if r.err == nil && r.conn != nil {
			cancel()
			if table != nil {
				table.Remember(addrA, addrB, r.addr)
			}
			// Drain and close the loser in the background.
			go func() {
				loser := <-results
				if loser.conn != nil {
					_ = loser.conn.Close()
				}
			}()
			return r.conn, r.addr, nil
		}
		if firstErr == nil {
			firstErr = r.err
		}
	}
	return nil, "", firstErr
}
