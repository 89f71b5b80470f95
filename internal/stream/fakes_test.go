package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"TickerStream/internal/feed"
)

// fakeClock fires AfterFunc callbacks synchronously from Advance.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clk     *fakeClock
	at      time.Time
	f       func()
	fired   bool
	stopped bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clk: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clk.mu.Lock()
	defer t.clk.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves time forward, firing due timers in deadline order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()
	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, t := range c.timers {
			if t.fired || t.stopped || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		next.fired = true
		c.now = next.at
		c.mu.Unlock()
		next.f()
	}
}

// blockingDialer never completes a dial; tests open connections by hand.
type blockingDialer struct{}

func (blockingDialer) Dial(ctx context.Context, _ string) (Conn, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// fakeConn records outbound frames. ReadMessage serves inbox until closed.
type fakeConn struct {
	mu        sync.Mutex
	writes    []feed.Request
	closed    bool
	closeCode int
	writeErr  error
	inbox     chan []byte
	done      chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbox: make(chan []byte, 16), done: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data, ok := <-c.inbox:
		if !ok {
			return nil, errors.New("inbox closed")
		}
		return data, nil
	case <-c.done:
		return nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	if req, ok := v.(feed.Request); ok {
		c.writes = append(c.writes, req)
	}
	return nil
}

func (c *fakeConn) Close(code int, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.closeCode = code
		close(c.done)
	}
	return nil
}

func (c *fakeConn) Writes() []feed.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]feed.Request, len(c.writes))
	copy(out, c.writes)
	return out
}

func (c *fakeConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// scriptedDialer hands out a prepared connection per dial.
type scriptedDialer struct {
	conns chan Conn
}

func (d *scriptedDialer) Dial(ctx context.Context, _ string) (Conn, error) {
	select {
	case conn := <-d.conns:
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// recorder collects published snapshots.
type recorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *recorder) listen(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *recorder) all() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Snapshot, len(r.snaps))
	copy(out, r.snaps)
	return out
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

func testConfig() Config {
	return Config{
		Endpoint:                  "wss://feed.test/stocks",
		Credential:                "test-key",
		Symbol:                    "DGXX",
		Enabled:                   true,
		UseFallbackData:           true,
		FallbackTimeout:           15 * time.Second,
		SubscribeSecondAggregates: true,
		SubscribeMinuteAggregates: true,
	}
}

func newTestClient(t *testing.T, mutate func(*Config)) (*Client, *fakeClock, *recorder) {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	clk := newFakeClock()
	c := New(cfg, WithClock(clk), WithDialer(blockingDialer{}))
	rec := &recorder{}
	c.Subscribe(rec.listen)
	t.Cleanup(c.Close)
	return c, clk, rec
}

func currentEpoch(c *Client) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// open simulates a successful dial for the current connection attempt.
func open(t *testing.T, c *Client) *fakeConn {
	t.Helper()
	conn := newFakeConn()
	if !c.handleOpen(currentEpoch(c), conn) {
		t.Fatal("expected connection to be adopted")
	}
	return conn
}

func send(c *Client, frame string) {
	c.handleMessage(currentEpoch(c), []byte(frame))
}

// connected runs Connect, open and auth_success.
func connected(t *testing.T, c *Client) *fakeConn {
	t.Helper()
	c.Connect()
	conn := open(t, c)
	send(c, `[{"ev":"status","status":"auth_success","message":"authenticated"}]`)
	return conn
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
