package recorder

import (
	"time"

	"TickerStream/internal/model"
)

// NoopRecorder is a no-op implementation used when SQLite is not configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordQuote(_ *model.Quote) error               { return nil }
func (n *NoopRecorder) RecordConnectionEvent(_ *ConnectionEvent) error { return nil }
func (n *NoopRecorder) PruneBefore(_ time.Time) (int64, error)         { return 0, nil }
func (n *NoopRecorder) LatestQuote(_ string) (*model.Quote, error)     { return nil, nil }
func (n *NoopRecorder) Close() error                                   { return nil }
