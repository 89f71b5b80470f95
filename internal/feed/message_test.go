package feed

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParse_StatusArray(t *testing.T) {
	events, skipped, err := Parse([]byte(`[{"ev":"status","status":"auth_success","message":"authenticated"}]`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if skipped != 0 {
		t.Errorf("expected 0 skipped, got %d", skipped)
	}
	if len(events) != 1 || events[0].Status == nil {
		t.Fatalf("expected one status event, got %+v", events)
	}
	if events[0].Status.Status != StatusAuthSuccess {
		t.Errorf("expected auth_success, got %q", events[0].Status.Status)
	}
}

func TestParse_SingleAggregate(t *testing.T) {
	events, _, err := Parse([]byte(`{"ev":"AM","sym":"DGXX","o":100,"c":110,"h":111,"l":99,"v":2500}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 || events[0].Aggregate == nil {
		t.Fatalf("expected one aggregate, got %+v", events)
	}
	agg := events[0].Aggregate
	if agg.Symbol != "DGXX" || agg.EventType != EventMinuteAggregate {
		t.Errorf("unexpected aggregate header: %+v", agg)
	}
	if agg.Open == nil || *agg.Open != 100 {
		t.Errorf("expected open 100, got %v", agg.Open)
	}
	if agg.Close == nil || *agg.Close != 110 {
		t.Errorf("expected close 110, got %v", agg.Close)
	}
	if agg.VWAP != nil || agg.OfficialOpen != nil {
		t.Errorf("absent fields should stay nil")
	}
}

func TestParse_MixedAndUnknown(t *testing.T) {
	frame := `[{"ev":"A","sym":"DGXX","c":1},{"ev":"T","sym":"DGXX","p":1},{"ev":"A","sym":"NVDA","c":2}]`
	events, skipped, err := Parse([]byte(frame))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if skipped != 1 {
		t.Errorf("expected 1 skipped, got %d", skipped)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[1].Aggregate.Symbol != "NVDA" {
		t.Errorf("order not preserved: %+v", events[1].Aggregate)
	}
}

func TestParse_Malformed(t *testing.T) {
	tests := []string{
		`[{"ev":"A",`,
		`not json`,
		`{"ev":"A","sym":5}`,
		`{"ev":"A","c":"x"}`,
	}
	for _, in := range tests {
		if _, _, err := Parse([]byte(in)); err == nil {
			t.Errorf("expected error for %q", in)
		}
	}
	if _, _, err := Parse([]byte("  ")); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("expected ErrEmptyMessage, got %v", err)
	}
}

func TestChannels(t *testing.T) {
	tests := []struct {
		second, minute bool
		want           string
	}{
		{true, true, "A.DGXX,AM.DGXX"},
		{true, false, "A.DGXX"},
		{false, true, "AM.DGXX"},
		{false, false, ""},
	}
	for _, tt := range tests {
		req := SubscribeRequest(Channels("DGXX", tt.second, tt.minute))
		if req.Params != tt.want {
			t.Errorf("second=%v minute=%v: expected %q, got %q", tt.second, tt.minute, tt.want, req.Params)
		}
		if req.Action != "subscribe" {
			t.Errorf("expected subscribe action, got %q", req.Action)
		}
	}
}

func TestAuthRequest_Wire(t *testing.T) {
	data, err := json.Marshal(AuthRequest("secret"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"action":"auth","params":"secret"}` {
		t.Errorf("unexpected wire form: %s", data)
	}
}

func TestParse_BadElementsSkipped(t *testing.T) {
	frame := `[{"ev":"A","sym":"DGXX","c":"x"},{"ev":"A","sym":"DGXX","c":110},1,{"ev":"status","status":5},{"ev":"AM","sym":"DGXX","c":111}]`
	events, skipped, err := Parse([]byte(frame))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if skipped != 3 {
		t.Errorf("expected 3 skipped, got %d", skipped)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if *events[0].Aggregate.Close != 110 || *events[1].Aggregate.Close != 111 {
		t.Errorf("valid ticks not preserved in order: %v, %v", *events[0].Aggregate.Close, *events[1].Aggregate.Close)
	}
}
