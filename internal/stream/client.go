package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"TickerStream/internal/feed"
	"TickerStream/internal/model"
)

const (
	// DefaultFallbackTimeout is how long Connect waits for a live tick before publishing fallback data.
	DefaultFallbackTimeout = 15 * time.Second
	// DefaultReconnectDelay is the pause before each automatic reconnect.
	DefaultReconnectDelay = 3 * time.Second
	// DefaultMaxReconnectAttempts caps consecutive automatic reconnects.
	DefaultMaxReconnectAttempts = 5
)

// Error messages published to consumers in Snapshot.Error.
const (
	// ErrMsgStreamFailed covers dial, read and write failures and abnormal closes.
	ErrMsgStreamFailed = "Live quote stream connection failed"
	// ErrMsgAuthFailed follows an auth_failed status; no automatic retry.
	ErrMsgAuthFailed = "Authentication with the market data feed failed"
	// ErrMsgMaxConnections follows a max_connections status; no automatic retry.
	ErrMsgMaxConnections = "Too many connections to the market data feed; close other sessions and retry"
)

// Config configures a Client.
type Config struct {
	Endpoint                  string
	Credential                string
	Symbol                    string
	Enabled                   bool
	UseFallbackData           bool
	FallbackTimeout           time.Duration
	SubscribeSecondAggregates bool
	SubscribeMinuteAggregates bool
	ForcedRefreshInterval     time.Duration
	ReconnectDelay            time.Duration
	MaxReconnectAttempts      int
	Fallback                  model.FallbackQuote
	Display                   model.DisplayStats
}

func (c *Config) applyDefaults() {
	if c.FallbackTimeout <= 0 {
		c.FallbackTimeout = DefaultFallbackTimeout
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Fallback.IsZero() {
		c.Fallback = model.DefaultFallback
	}
}

// Option customizes a Client.
type Option func(*Client)

func WithDialer(d Dialer) Option { return func(c *Client) { c.dialer = d } }

func WithClock(clk Clock) Option { return func(c *Client) { c.clock = clk } }

func WithLogger(l *zap.Logger) Option { return func(c *Client) { c.logger = l } }

// Client owns one streaming subscription to a single symbol.
//
// Every handler (read loop, timers, control calls) runs under mu, so no two
// handlers observe each other mid-update. Socket writes and closes are queued
// under mu and performed after it is released. Control operations never
// return errors; failures surface in the Snapshot.
type Client struct {
	cfg    Config
	dialer Dialer
	clock  Clock
	logger *zap.Logger

	mu          sync.Mutex
	state       model.ConnectionState
	quote       *model.Quote
	lastErr     string
	hasLiveData bool
	attempts    int
	closed      bool

	// Connection bookkeeping. epoch changes whenever a connection is
	// started or dropped; events carrying an older epoch are ignored.
	epoch      uint64
	active     bool
	halted     bool
	subscribed bool
	conn       Conn
	cancelDial context.CancelFunc
	sessionID  string

	reference    float64
	referenceSet bool
	symbols      map[string]struct{}
	ticks        tickRing

	fallback task
	retry    task
	refresh  task

	// Socket I/O queued by the current handler; run by update after unlock.
	pendingIO []func()

	version      uint64
	listeners    map[int]Listener
	nextListener int

	pubMu     sync.Mutex
	published uint64
}

// New creates a Client. It does not connect.
func New(cfg Config, opts ...Option) *Client {
	cfg.applyDefaults()
	c := &Client{
		cfg:       cfg,
		clock:     realClock{},
		logger:    zap.NewNop(),
		state:     model.StateDisconnected,
		symbols:   make(map[string]struct{}),
		listeners: make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dialer == nil {
		c.dialer = NewWSDialer("", 10*time.Second)
	}
	c.logger = c.logger.With(zap.String("symbol", cfg.Symbol))
	return c
}

// Symbol returns the tracked symbol.
func (c *Client) Symbol() string { return c.cfg.Symbol }

// Snapshot returns the current state.
func (c *Client) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Subscribe registers l and returns a function that removes it.
func (c *Client) Subscribe(l Listener) (cancel func()) {
	c.mu.Lock()
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = l
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// Connect starts a connection attempt unless the client is disabled, closed,
// or already connecting/connected.
func (c *Client) Connect() {
	c.update(c.connectLocked)
}

// Disconnect cancels all timers and closes the connection. Idempotent.
func (c *Client) Disconnect() {
	c.update(c.disconnectLocked)
}

// Reconnect tears down the connection, resets the retry budget and connects again.
func (c *Client) Reconnect() {
	c.update(c.reconnectLocked)
}

// Close disconnects and releases the client. Further Connect calls are no-ops.
func (c *Client) Close() {
	c.update(func() bool {
		changed := c.disconnectLocked()
		c.closed = true
		return changed
	})
	c.mu.Lock()
	c.listeners = make(map[int]Listener)
	c.mu.Unlock()
}

// Run connects and blocks until ctx is done, then closes the client.
func (c *Client) Run(ctx context.Context) error {
	c.Connect()
	<-ctx.Done()
	c.Close()
	return nil
}

// update runs fn under the state lock, performs any socket I/O fn queued once
// the lock is released, and publishes a snapshot if fn reports a change.
func (c *Client) update(fn func() bool) {
	c.mu.Lock()
	changed := fn()
	io := c.pendingIO
	c.pendingIO = nil
	var (
		snap Snapshot
		ls   []Listener
	)
	if changed {
		c.version++
		snap = c.snapshotLocked()
		ls = make([]Listener, 0, len(c.listeners))
		for _, l := range c.listeners {
			ls = append(ls, l)
		}
	}
	c.mu.Unlock()

	for _, f := range io {
		f()
	}
	if !changed {
		return
	}

	c.pubMu.Lock()
	defer c.pubMu.Unlock()
	if snap.Version <= c.published {
		return
	}
	c.published = snap.Version
	for _, l := range ls {
		l(snap)
	}
}

func (c *Client) snapshotLocked() Snapshot {
	return Snapshot{
		Symbol:            c.cfg.Symbol,
		Quote:             c.quote,
		Status:            c.state,
		Error:             c.lastErr,
		HasLiveData:       c.hasLiveData,
		ReconnectAttempts: c.attempts,
		SessionID:         c.sessionID,
		TrackedSymbols:    sortedKeys(c.symbols),
		RecentTicks:       c.ticks.copy(),
		Version:           c.version,
	}
}

func (c *Client) connectLocked() bool {
	if !c.cfg.Enabled || c.closed || c.active {
		return false
	}
	c.epoch++
	epoch := c.epoch
	c.active = true
	c.halted = false
	c.subscribed = false
	c.state = model.StateConnecting
	c.lastErr = ""
	c.hasLiveData = false
	c.sessionID = uuid.NewString()

	ctx, cancel := context.WithCancel(context.Background())
	c.cancelDial = cancel

	c.fallback.arm(c.clock, c.cfg.FallbackTimeout, c.onFallback)
	if c.cfg.ForcedRefreshInterval > 0 && !c.refresh.armed() {
		c.refresh.arm(c.clock, c.cfg.ForcedRefreshInterval, c.onForcedRefresh)
	}

	c.logger.Info("stream connecting",
		zap.String("endpoint", c.cfg.Endpoint),
		zap.String("session", c.sessionID),
		zap.Int("attempts", c.attempts))
	go c.run(ctx, epoch)
	return true
}

func (c *Client) disconnectLocked() bool {
	changed := c.state != model.StateDisconnected || c.hasLiveData
	c.retry.cancel()
	c.refresh.cancel()
	c.fallback.cancel()
	c.dropConnLocked()
	c.state = model.StateDisconnected
	c.hasLiveData = false
	if changed {
		c.logger.Info("stream disconnected")
	}
	return changed
}

func (c *Client) reconnectLocked() bool {
	c.disconnectLocked()
	c.attempts = 0
	c.connectLocked()
	return true
}

// dropConnLocked closes the current connection (if any) and invalidates its epoch.
func (c *Client) dropConnLocked() {
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
	if c.conn != nil {
		c.closeLater(c.conn)
		c.conn = nil
	}
	c.active = false
	c.subscribed = false
	c.epoch++
}

// afterUnlock queues f to run once the current handler releases mu.
func (c *Client) afterUnlock(f func()) {
	c.pendingIO = append(c.pendingIO, f)
}

func (c *Client) closeLater(conn Conn) {
	c.afterUnlock(func() {
		if err := conn.Close(websocket.CloseNormalClosure, ""); err != nil {
			c.logger.Debug("close connection", zap.Error(err))
		}
	})
}

// run dials and then pumps inbound frames until the connection fails.
func (c *Client) run(ctx context.Context, epoch uint64) {
	conn, err := c.dialer.Dial(ctx, c.cfg.Endpoint)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.handleFailure(epoch, err)
		return
	}
	if !c.handleOpen(epoch, conn) {
		return
	}
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			c.handleFailure(epoch, err)
			return
		}
		c.handleMessage(epoch, data)
	}
}

// handleOpen adopts conn for epoch and sends the auth frame.
func (c *Client) handleOpen(epoch uint64, conn Conn) bool {
	accepted := false
	c.update(func() bool {
		if epoch != c.epoch || !c.active {
			c.closeLater(conn)
			return false
		}
		c.conn = conn
		accepted = true
		c.logger.Info("stream opened, authenticating")
		return false
	})
	if !accepted {
		return false
	}
	if err := conn.WriteJSON(feed.AuthRequest(c.cfg.Credential)); err != nil {
		c.handleFailure(epoch, err)
		return false
	}
	return true
}

// handleFailure processes a dial error, read error or close frame.
func (c *Client) handleFailure(epoch uint64, err error) {
	c.update(func() bool {
		if epoch != c.epoch {
			return false
		}
		if code, ok := closeCode(err); ok {
			return c.closedLocked(code)
		}
		return c.failLocked(err)
	})
}

func (c *Client) closedLocked(code int) bool {
	c.dropConnLocked()
	if c.halted {
		c.state = model.StateError
		return true
	}
	if code == websocket.CloseNormalClosure {
		c.logger.Info("stream closed normally")
		c.state = model.StateDisconnected
		c.hasLiveData = false
		return true
	}
	c.state = model.StateError
	c.logger.Warn("stream closed unexpectedly", zap.Int("code", code))
	c.lastErr = fmt.Sprintf("%s (close code %d)", ErrMsgStreamFailed, code)
	c.scheduleRetryLocked()
	return true
}

func (c *Client) failLocked(err error) bool {
	c.dropConnLocked()
	c.state = model.StateError
	if c.halted {
		return true
	}
	c.logger.Error("stream error", zap.Error(err))
	c.lastErr = ErrMsgStreamFailed
	c.scheduleRetryLocked()
	return true
}

func (c *Client) scheduleRetryLocked() {
	if c.retry.armed() {
		return
	}
	if c.attempts >= c.cfg.MaxReconnectAttempts {
		c.logger.Warn("reconnect attempts exhausted, waiting for manual reconnect",
			zap.Int("attempts", c.attempts))
		return
	}
	c.attempts++
	c.logger.Info("reconnect scheduled",
		zap.Int("attempt", c.attempts),
		zap.Int("max", c.cfg.MaxReconnectAttempts),
		zap.Duration("delay", c.cfg.ReconnectDelay))
	c.retry.arm(c.clock, c.cfg.ReconnectDelay, c.onRetry)
}

func (c *Client) onRetry(seq uint64) {
	c.update(func() bool {
		if !c.retry.claim(seq) {
			return false
		}
		return c.connectLocked()
	})
}

func (c *Client) onForcedRefresh(seq uint64) {
	c.update(func() bool {
		if !c.refresh.claim(seq) {
			return false
		}
		c.logger.Info("forced refresh")
		return c.reconnectLocked()
	})
}

func (c *Client) onFallback(seq uint64) {
	c.update(func() bool {
		if !c.fallback.claim(seq) || c.hasLiveData {
			return false
		}
		if c.cfg.UseFallbackData {
			q := c.cfg.Fallback.Build(c.cfg.Symbol, c.clock.Now())
			c.cfg.Display.Apply(q)
			c.quote = q
			c.logger.Warn("no live data, using fallback quote",
				zap.Duration("timeout", c.cfg.FallbackTimeout))
			return true
		}
		c.lastErr = fmt.Sprintf("No live data received within %s; the market may be closed or the feed delayed",
			c.cfg.FallbackTimeout)
		c.logger.Warn("no live data", zap.Duration("timeout", c.cfg.FallbackTimeout))
		return true
	})
}

// handleMessage decodes one inbound frame and applies its events in order.
func (c *Client) handleMessage(epoch uint64, data []byte) {
	c.update(func() bool {
		if epoch != c.epoch || c.conn == nil {
			return false
		}
		events, skipped, err := feed.Parse(data)
		if err != nil {
			c.logger.Warn("malformed message", zap.Error(err), zap.Int("bytes", len(data)))
			return false
		}
		if skipped > 0 {
			c.logger.Warn("skipped unknown or malformed events", zap.Int("count", skipped), zap.Int("kept", len(events)))
		}
		changed := false
		for _, ev := range events {
			if epoch != c.epoch {
				break
			}
			switch {
			case ev.Status != nil:
				if c.statusLocked(ev.Status) {
					changed = true
				}
			case ev.Aggregate != nil:
				if c.aggregateLocked(ev.Aggregate) {
					changed = true
				}
			}
		}
		return changed
	})
}

func (c *Client) statusLocked(st *feed.StatusMessage) bool {
	switch st.Status {
	case feed.StatusAuthSuccess:
		c.state = model.StateConnected
		c.attempts = 0
		if c.subscribed {
			return true
		}
		channels := feed.Channels(c.cfg.Symbol, c.cfg.SubscribeSecondAggregates, c.cfg.SubscribeMinuteAggregates)
		if len(channels) == 0 {
			c.logger.Warn("no aggregate channels enabled, subscription will receive no data")
		}
		c.subscribed = true
		conn, epoch := c.conn, c.epoch
		c.afterUnlock(func() {
			if err := conn.WriteJSON(feed.SubscribeRequest(channels)); err != nil {
				c.handleFailure(epoch, err)
				return
			}
			c.logger.Info("stream authenticated, subscribed", zap.Strings("channels", channels))
		})
		return true
	case feed.StatusAuthFailed:
		c.state = model.StateError
		c.lastErr = ErrMsgAuthFailed
		c.halted = true
		c.logger.Error("authentication failed", zap.String("message", st.Message))
		return true
	case feed.StatusMaxConnections:
		c.state = model.StateError
		c.lastErr = ErrMsgMaxConnections
		c.halted = true
		c.logger.Error("connection limit reached", zap.String("message", st.Message))
		c.dropConnLocked()
		return true
	case feed.StatusConnected:
		c.logger.Debug("feed greeting", zap.String("message", st.Message))
		return false
	default:
		c.logger.Debug("feed status", zap.String("status", st.Status), zap.String("message", st.Message))
		return false
	}
}

func (c *Client) aggregateLocked(a *feed.Aggregate) bool {
	_, seen := c.symbols[a.Symbol]
	c.symbols[a.Symbol] = struct{}{}
	if a.Symbol != c.cfg.Symbol {
		if !seen {
			c.logger.Debug("tick for untracked symbol", zap.String("observed", a.Symbol))
		}
		return !seen
	}

	price, open := tickPrices(a)
	if price == 0 {
		c.logger.Debug("tick without price ignored", zap.String("ev", a.EventType))
		return !seen
	}
	if !c.referenceSet {
		c.reference = open
		c.referenceSet = true
	}
	change, percent := priceChange(price, c.reference)

	q := &model.Quote{
		Symbol:        c.cfg.Symbol,
		Price:         price,
		Change:        change,
		ChangePercent: percent,
		Volume:        a.Volume,
		High:          a.High,
		Low:           a.Low,
		Open:          open,
		LastUpdated:   c.clock.Now(),
		IsRealData:    true,
	}
	c.cfg.Display.Apply(q)
	c.quote = q
	c.lastErr = ""
	c.hasLiveData = true
	c.fallback.cancel()
	// Tick-over-tick baseline: the next change is measured from this price.
	c.reference = price
	c.ticks.push(*a)
	return true
}
