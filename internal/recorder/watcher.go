package recorder

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"TickerStream/internal/model"
	"TickerStream/internal/stream"
)

// Watcher records a ConnectionEvent whenever the stream's state, error or
// session changes. Register Listen with Client.Subscribe.
type Watcher struct {
	rec Recorder
	log *zap.Logger
	now func() time.Time

	mu   sync.Mutex
	last watchKey
}

type watchKey struct {
	state   model.ConnectionState
	err     string
	session string
}

func NewWatcher(rec Recorder, log *zap.Logger) *Watcher {
	return &Watcher{rec: rec, log: log, now: time.Now}
}

func (w *Watcher) Listen(s stream.Snapshot) {
	key := watchKey{state: s.Status, err: s.Error, session: s.SessionID}

	w.mu.Lock()
	if key == w.last {
		w.mu.Unlock()
		return
	}
	w.last = key
	w.mu.Unlock()

	evt := &ConnectionEvent{
		Timestamp: w.now(),
		Symbol:    s.Symbol,
		SessionID: s.SessionID,
		State:     s.Status,
		Error:     s.Error,
		Attempts:  s.ReconnectAttempts,
	}
	if err := w.rec.RecordConnectionEvent(evt); err != nil {
		w.log.Warn("record connection event failed", zap.Error(err))
	}
}
