package feed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Event tags as sent by the feed.
const (
	// EventStatus tags connection and authentication control messages.
	EventStatus = "status"
	// EventSecondAggregate tags per-second aggregate ticks.
	EventSecondAggregate = "A"
	// EventMinuteAggregate tags per-minute aggregate ticks.
	EventMinuteAggregate = "AM"
)

// Status codes carried by status messages.
const (
	// StatusConnected is the greeting sent when the socket opens.
	StatusConnected = "connected"
	// StatusAuthSuccess acknowledges the auth request.
	StatusAuthSuccess = "auth_success"
	// StatusAuthFailed rejects the credential.
	StatusAuthFailed = "auth_failed"
	// StatusMaxConnections reports the account's connection limit was hit.
	StatusMaxConnections = "max_connections"
	// StatusSuccess acknowledges a subscribe request.
	StatusSuccess = "success"
)

// ErrEmptyMessage is returned when a frame carries no payload.
var ErrEmptyMessage = errors.New("feed: empty message")

// StatusMessage is a control message from the feed.
type StatusMessage struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Aggregate is one second- or minute-aggregate tick.
// Optional price fields are pointers so a missing field differs from zero.
type Aggregate struct {
	EventType    string   `json:"ev"`
	Symbol       string   `json:"sym"`
	Volume       float64  `json:"v"`
	AccumVolume  float64  `json:"av"`
	OfficialOpen *float64 `json:"op,omitempty"`
	VWAP         *float64 `json:"vw,omitempty"`
	Open         *float64 `json:"o,omitempty"`
	Close        *float64 `json:"c,omitempty"`
	High         float64  `json:"h"`
	Low          float64  `json:"l"`
	Average      float64  `json:"a"`
	StartMillis  int64    `json:"s"`
	EndMillis    int64    `json:"e"`
}

// Event is one decoded element of a frame. Exactly one of Status and
// Aggregate is set.
type Event struct {
	Status    *StatusMessage
	Aggregate *Aggregate
}

type envelope struct {
	EventType string `json:"ev"`
}

// IsAggregateEvent reports whether ev names one of the aggregate channels.
func IsAggregateEvent(ev string) bool {
	return ev == EventSecondAggregate || ev == EventMinuteAggregate
}

// Parse decodes a frame holding either one object or an array of objects.
// Array elements that carry an unrecognised event tag or fail to decode are
// dropped and counted in skipped; the rest of the frame is still returned.
// A single-object frame that fails to decode is an error.
func Parse(data []byte) (events []Event, skipped int, err error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, 0, ErrEmptyMessage
	}

	if data[0] != '[' {
		ev, ok, err := decodeElement(data)
		if err != nil {
			return nil, 0, err
		}
		if !ok {
			return nil, 1, nil
		}
		return []Event{ev}, 0, nil
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, 0, fmt.Errorf("decode frame: %w", err)
	}
	events = make([]Event, 0, len(raws))
	for _, raw := range raws {
		ev, ok, err := decodeElement(raw)
		if err != nil || !ok {
			skipped++
			continue
		}
		events = append(events, ev)
	}
	return events, skipped, nil
}

// decodeElement decodes one frame element. ok is false for unknown event tags.
func decodeElement(raw []byte) (ev Event, ok bool, err error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Event{}, false, fmt.Errorf("decode element: %w", err)
	}
	switch {
	case env.EventType == EventStatus:
		var st StatusMessage
		if err := json.Unmarshal(raw, &st); err != nil {
			return Event{}, false, fmt.Errorf("decode status: %w", err)
		}
		return Event{Status: &st}, true, nil
	case IsAggregateEvent(env.EventType):
		var agg Aggregate
		if err := json.Unmarshal(raw, &agg); err != nil {
			return Event{}, false, fmt.Errorf("decode aggregate: %w", err)
		}
		return Event{Aggregate: &agg}, true, nil
	default:
		return Event{}, false, nil
	}
}

// Request is an outbound control frame.
type Request struct {
	Action string `json:"action"`
	Params string `json:"params"`
}

// AuthRequest authenticates the connection with credential.
func AuthRequest(credential string) Request {
	return Request{Action: "auth", Params: credential}
}

// SubscribeRequest subscribes to the given channel tokens.
func SubscribeRequest(channels []string) Request {
	return Request{Action: "subscribe", Params: strings.Join(channels, ",")}
}

// Channels returns the channel tokens for symbol, e.g. "A.DGXX" and "AM.DGXX".
func Channels(symbol string, second, minute bool) []string {
	var out []string
	if second {
		out = append(out, EventSecondAggregate+"."+symbol)
	}
	if minute {
		out = append(out, EventMinuteAggregate+"."+symbol)
	}
	return out
}
