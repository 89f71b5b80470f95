package recorder

import (
	"time"

	"TickerStream/internal/model"
)

// ConnectionEvent records one connection state transition.
type ConnectionEvent struct {
	Timestamp time.Time
	Symbol    string
	SessionID string
	State     model.ConnectionState
	Error     string
	Attempts  int
}

// Recorder persists quote and connection history for analysis.
type Recorder interface {
	RecordQuote(q *model.Quote) error
	RecordConnectionEvent(evt *ConnectionEvent) error
	// PruneBefore deletes rows older than cutoff and returns how many were removed.
	PruneBefore(cutoff time.Time) (int64, error)
	// LatestQuote returns the most recently recorded quote, or nil when none exists.
	LatestQuote(symbol string) (*model.Quote, error)
	Close() error
}
