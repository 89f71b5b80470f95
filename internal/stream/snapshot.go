package stream

import (
	"sort"

	"TickerStream/internal/feed"
	"TickerStream/internal/model"
)

// maxRecentTicks bounds the diagnostic tick buffer.
const maxRecentTicks = 100

// Snapshot is the state a client exposes to its consumers.
// The Quote pointer is shared and must be treated as read-only.
type Snapshot struct {
	Symbol            string                `json:"symbol"`
	Quote             *model.Quote          `json:"quote,omitempty"`
	Status            model.ConnectionState `json:"connectionStatus"`
	Error             string                `json:"error,omitempty"`
	HasLiveData       bool                  `json:"hasLiveData"`
	ReconnectAttempts int                   `json:"reconnectAttempts"`
	SessionID         string                `json:"sessionId,omitempty"`
	TrackedSymbols    []string              `json:"trackedSymbols"`
	RecentTicks       []feed.Aggregate      `json:"recentTicks"`
	Version           uint64                `json:"version"`
}

// Listener receives every new snapshot, in version order. It runs on the
// goroutine that caused the change and must not call Connect, Disconnect,
// Reconnect or Close synchronously.
type Listener func(Snapshot)

type tickRing struct {
	ticks []feed.Aggregate
}

func (r *tickRing) push(a feed.Aggregate) {
	if len(r.ticks) >= maxRecentTicks {
		r.ticks = append(r.ticks[:0], r.ticks[len(r.ticks)-maxRecentTicks+1:]...)
	}
	r.ticks = append(r.ticks, a)
}

func (r *tickRing) copy() []feed.Aggregate {
	out := make([]feed.Aggregate, len(r.ticks))
	copy(out, r.ticks)
	return out
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
