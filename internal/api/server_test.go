package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"TickerStream/internal/metrics"
	"TickerStream/internal/model"
	"TickerStream/internal/stream"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeStream struct {
	mu    sync.Mutex
	snap  stream.Snapshot
	calls []string
}

func (f *fakeStream) Snapshot() stream.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeStream) record(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op)
}

func (f *fakeStream) Connect()    { f.record("connect") }
func (f *fakeStream) Disconnect() { f.record("disconnect") }
func (f *fakeStream) Reconnect()  { f.record("reconnect") }

func newTestServer(t *testing.T, origins ...string) (*Server, *fakeStream, *Hub) {
	t.Helper()
	st := &fakeStream{snap: stream.Snapshot{Symbol: "DGXX", Status: model.StateConnecting}}
	hub := NewHub(zap.NewNop())
	m := metrics.New()
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		t.Fatalf("register metrics: %v", err)
	}
	srv := NewServer(st, hub, zap.NewNop(), Options{
		AllowedOrigins: origins,
		ControlToken:   testControlToken,
		Metrics:        m,
		Gatherer:       reg,
	})
	return srv, st, hub
}

const testControlToken = "ctl-secret"

func do(srv *Server, method, path string) *httptest.ResponseRecorder {
	return doWithToken(srv, method, path, "")
}

func doWithToken(srv *Server, method, path, token string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set(ControlTokenHeader, token)
	}
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newTestServer(t)
	if w := do(srv, http.MethodGet, "/healthz"); w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestGetQuote(t *testing.T) {
	srv, st, _ := newTestServer(t)

	if w := do(srv, http.MethodGet, "/api/quote"); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before first quote, got %d", w.Code)
	}

	st.mu.Lock()
	st.snap.Quote = &model.Quote{Symbol: "DGXX", Price: 110, IsRealData: true}
	st.mu.Unlock()

	w := do(srv, http.MethodGet, "/api/quote")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var q model.Quote
	if err := json.Unmarshal(w.Body.Bytes(), &q); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if q.Price != 110 || !q.IsRealData {
		t.Errorf("unexpected quote: %+v", q)
	}
}

func TestGetStream(t *testing.T) {
	srv, _, _ := newTestServer(t)
	w := do(srv, http.MethodGet, "/api/stream")
	if !strings.Contains(w.Body.String(), `"connectionStatus":"connecting"`) {
		t.Errorf("unexpected body: %s", w.Body.String())
	}
}

func TestControlEndpoints(t *testing.T) {
	srv, st, _ := newTestServer(t)
	for _, op := range []string{"connect", "disconnect", "reconnect"} {
		if w := doWithToken(srv, http.MethodPost, "/api/stream/"+op, testControlToken); w.Code != http.StatusAccepted {
			t.Errorf("%s: expected 202, got %d", op, w.Code)
		}
	}
	want := []string{"connect", "disconnect", "reconnect"}
	if strings.Join(st.calls, ",") != strings.Join(want, ",") {
		t.Errorf("expected calls %v, got %v", want, st.calls)
	}
	if w := do(srv, http.MethodGet, "/api/stream/connect"); w.Code != http.StatusNotFound && w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET on control endpoint should not succeed, got %d", w.Code)
	}
}

func TestControlEndpoints_RequireToken(t *testing.T) {
	srv, st, _ := newTestServer(t, "https://ir.example.com")

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "guess", http.StatusUnauthorized},
		{"prefix", testControlToken[:3], http.StatusUnauthorized},
	}
	for _, tt := range tests {
		for _, op := range []string{"connect", "disconnect", "reconnect"} {
			w := doWithToken(srv, http.MethodPost, "/api/stream/"+op, tt.token)
			if w.Code != tt.want {
				t.Errorf("%s token, %s: expected %d, got %d", tt.name, op, tt.want, w.Code)
			}
		}
	}
	if len(st.calls) != 0 {
		t.Errorf("rejected requests reached the stream: %v", st.calls)
	}
}

func TestControlEndpoints_DisabledWithoutToken(t *testing.T) {
	st := &fakeStream{snap: stream.Snapshot{Symbol: "DGXX"}}
	srv := NewServer(st, NewHub(zap.NewNop()), zap.NewNop(), Options{})

	for _, token := range []string{"", "anything"} {
		if w := doWithToken(srv, http.MethodPost, "/api/stream/disconnect", token); w.Code != http.StatusForbidden {
			t.Errorf("token %q: expected 403, got %d", token, w.Code)
		}
	}
	if len(st.calls) != 0 {
		t.Errorf("control ran without a configured token: %v", st.calls)
	}
	if w := do(srv, http.MethodGet, "/api/stream"); w.Code != http.StatusOK {
		t.Errorf("read-only routes should stay open, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	do(srv, http.MethodGet, "/healthz")

	w := do(srv, http.MethodGet, "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `tickerstream_http_request_duration_seconds_count{method="GET",route="/healthz",status="200"} 1`) {
		t.Errorf("request not observed:\n%s", w.Body.String())
	}
}

func TestCORS(t *testing.T) {
	srv, _, _ := newTestServer(t, "https://allowed.example")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/stream", nil)
	req.Header.Set("Origin", "https://allowed.example")
	srv.Handler().ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://allowed.example" {
		t.Errorf("expected allowed origin echoed, got %q", got)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/stream", nil)
	req.Header.Set("Origin", "https://evil.example")
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for foreign origin, got %d", w.Code)
	}
}

func TestWebSocketPush(t *testing.T) {
	srv, _, hub := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	hub.Listen(stream.Snapshot{Symbol: "DGXX", Status: model.StateConnecting, Version: 1})
	for deadline := time.Now().Add(2 * time.Second); len(hub.broadcast) > 0 && time.Now().Before(deadline); {
		time.Sleep(5 * time.Millisecond)
	}

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	read := func() stream.Snapshot {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var s stream.Snapshot
		if err := json.Unmarshal(data, &s); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return s
	}

	if s := read(); s.Version != 1 {
		t.Fatalf("expected current snapshot on connect, got version %d", s.Version)
	}

	hub.Listen(stream.Snapshot{
		Symbol:  "DGXX",
		Status:  model.StateConnected,
		Quote:   &model.Quote{Symbol: "DGXX", Price: 110, IsRealData: true},
		Version: 2,
	})
	s := read()
	if s.Version != 2 || s.Quote == nil || s.Quote.Price != 110 {
		t.Errorf("unexpected pushed snapshot: %+v", s)
	}
	if hub.ClientCount() != 1 {
		t.Errorf("expected 1 client, got %d", hub.ClientCount())
	}
}

func TestCheckOrigin(t *testing.T) {
	srv, _, _ := newTestServer(t, "https://allowed.example")
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://allowed.example", true},
		{"https://evil.example", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if tt.origin != "" {
			req.Header.Set("Origin", tt.origin)
		}
		if got := srv.checkOrigin(req); got != tt.want {
			t.Errorf("origin %q: expected %v, got %v", tt.origin, tt.want, got)
		}
	}
}
