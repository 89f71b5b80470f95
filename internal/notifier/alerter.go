package notifier

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"TickerStream/internal/model"
	"TickerStream/internal/stream"
)

// Sender delivers a formatted message.
type Sender interface {
	SendWithRetry(ctx context.Context, text string, maxRetries int) error
}

// Alerter turns stream snapshots into operator alerts. Listen only queues;
// Run performs delivery.
type Alerter struct {
	sender  Sender
	log     *zap.Logger
	retries int
	queue   chan string

	mu           sync.Mutex
	lastStatus   model.ConnectionState
	lastFallback bool
	lastMsg      string
}

func NewAlerter(sender Sender, log *zap.Logger) *Alerter {
	return &Alerter{
		sender:  sender,
		log:     log.Named("alerter"),
		retries: 3,
		queue:   make(chan string, 16),
	}
}

// Listen is a stream.Listener.
func (a *Alerter) Listen(s stream.Snapshot) {
	fallback := s.Quote != nil && !s.Quote.IsRealData

	a.mu.Lock()
	var msg string
	switch {
	case s.Status == model.StateError && a.lastStatus != model.StateError:
		msg = FormatErrorAlert(s)
	case fallback && !a.lastFallback:
		msg = FormatFallbackAlert(s)
	}
	a.lastStatus = s.Status
	a.lastFallback = fallback
	if msg == "" || msg == a.lastMsg {
		a.mu.Unlock()
		return
	}
	a.lastMsg = msg
	a.mu.Unlock()

	select {
	case a.queue <- msg:
	default:
		a.log.Warn("alert queue full, dropping alert")
	}
}

// Run delivers queued alerts until ctx is cancelled.
func (a *Alerter) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-a.queue:
			if err := a.sender.SendWithRetry(ctx, msg, a.retries); err != nil {
				a.log.Error("send alert failed", zap.Error(err))
			}
		}
	}
}
