package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-iobridge/internal/board"
	"github.com/nerrad567/gray-logic-iobridge/internal/consumer"
	"github.com/nerrad567/gray-logic-iobridge/internal/device"
	"github.com/nerrad567/gray-logic-iobridge/internal/diagnostic"
	"github.com/nerrad567/gray-logic-iobridge/internal/drivers/sim"
	"github.com/nerrad567/gray-logic-iobridge/internal/eventqueue"
	"github.com/nerrad567/gray-logic-iobridge/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-iobridge/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-iobridge/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-iobridge/internal/journal"
	"github.com/nerrad567/gray-logic-iobridge/migrations"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

// testEnv is a server wired to simulated devices and a running consumer loop.
type testEnv struct {
	srv   *Server
	orch  *device.Orchestrator
	board *board.Board
	ring  *sim.Driver
	panel *sim.Driver
	strip *sim.Driver
	repo  *journal.SQLiteRepository
}

type envOptions struct {
	requireAuth bool
	health      map[string]HealthChecker
	noJournal   bool
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	q := eventqueue.New()
	loop := consumer.New(q)
	go loop.Run(ctx, 2*time.Millisecond) //nolint:errcheck // returns nil on cancel

	b, err := board.New(board.Config{Queue: q, Log: diagnostic.NewLog(100, nil)})
	if err != nil {
		t.Fatalf("board.New() error = %v", err)
	}
	orch := device.NewOrchestrator(device.Config{Zones: b.Zones()})
	t.Cleanup(orch.Destroy)

	env := &testEnv{
		orch:  orch,
		board: b,
		ring:  sim.New("ring", device.ButtonRing),
		panel: sim.New("panel", device.TouchPanel),
		strip: sim.New("strip", device.LEDDevice),
	}
	err = b.Attach(orch, []board.Device{{Driver: env.ring}, {Driver: env.panel}, {Driver: env.strip}})
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if err := b.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	deps := Deps{
		Config: config.APIConfig{
			Host:        "127.0.0.1",
			RequireAuth: opts.requireAuth,
			Timeouts:    config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS: config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10},
		Security: config.SecurityConfig{
			JWT: config.JWTConfig{Secret: testSecret, AccessTokenTTL: 15},
		},
		Logger:       logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test"),
		Loop:         loop,
		Orchestrator: orch,
		Board:        b,
		Health:       opts.health,
		Version:      "test",
	}
	if !opts.noJournal {
		env.repo = setupTestJournal(t)
		deps.Journal = env.repo
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	env.srv = srv
	return env
}

func setupTestJournal(t *testing.T) *journal.SQLiteRepository {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{
		Path:        filepath.Join(t.TempDir(), "journal.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return journal.NewSQLiteRepository(db.DB)
}

func (e *testEnv) do(t *testing.T, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	for k, v := range header {
		r.Header[k] = v
	}
	w := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(w, r)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
}

// eventually polls cond until it holds or two seconds pass.
func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type fakeChecker struct{ err error }

func (f fakeChecker) HealthCheck(context.Context) error { return f.err }

// ─── Health & Middleware ───────────────────────────────────────────

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		health     map[string]HealthChecker
		wantCode   int
		wantStatus string
	}{
		{"no components", nil, http.StatusOK, "ok"},
		{"all healthy", map[string]HealthChecker{"database": fakeChecker{}}, http.StatusOK, "ok"},
		{
			"one failing",
			map[string]HealthChecker{"database": fakeChecker{}, "mqtt": fakeChecker{err: errors.New("not connected")}},
			http.StatusServiceUnavailable,
			"degraded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, envOptions{health: tt.health, noJournal: true})
			w := env.do(t, http.MethodGet, "/api/v1/health", "", nil)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
			var resp struct {
				Status     string            `json:"status"`
				Version    string            `json:"version"`
				Components map[string]string `json:"components"`
			}
			decode(t, w, &resp)
			if resp.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", resp.Status, tt.wantStatus)
			}
			if resp.Version != "test" {
				t.Errorf("version = %q", resp.Version)
			}
			if len(resp.Components) != len(tt.health) {
				t.Errorf("components = %v", resp.Components)
			}
			if tt.wantStatus == "degraded" && resp.Components["mqtt"] != "not connected" {
				t.Errorf("mqtt = %q", resp.Components["mqtt"])
			}
		})
	}
}

func TestRequestID(t *testing.T) {
	env := newTestEnv(t, envOptions{noJournal: true})

	w := env.do(t, http.MethodGet, "/api/v1/health", "", nil)
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected generated X-Request-ID")
	}

	w = env.do(t, http.MethodGet, "/api/v1/health", "", http.Header{"X-Request-Id": {"client-42"}})
	if got := w.Header().Get("X-Request-ID"); got != "client-42" {
		t.Errorf("X-Request-ID = %q, want client-42", got)
	}
}

func TestNotFound(t *testing.T) {
	env := newTestEnv(t, envOptions{noJournal: true})
	w := env.do(t, http.MethodGet, "/api/v1/nonexistent", "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ─── Devices ───────────────────────────────────────────────────────

func TestListDevices(t *testing.T) {
	env := newTestEnv(t, envOptions{noJournal: true})
	w := env.do(t, http.MethodGet, "/api/v1/devices", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var resp struct {
		Count   int `json:"count"`
		Classes []struct {
			Class string `json:"class"`
			State string `json:"state"`
		} `json:"classes"`
	}
	decode(t, w, &resp)
	if resp.Count != 3 {
		t.Errorf("count = %d, want 3", resp.Count)
	}
	if len(resp.Classes) != 3 {
		t.Fatalf("classes = %v", resp.Classes)
	}
	for _, c := range resp.Classes {
		if c.State != "connected" {
			t.Errorf("%s state = %q, want connected", c.Class, c.State)
		}
	}
}

func TestDeviceProperties(t *testing.T) {
	env := newTestEnv(t, envOptions{noJournal: true})

	w := env.do(t, http.MethodGet, "/api/v1/devices/led_device/properties", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp struct {
		Class      string            `json:"class"`
		Properties map[string]string `json:"properties"`
	}
	decode(t, w, &resp)
	if resp.Class != "led_device" || resp.Properties[device.PropLEDCount] != "16" {
		t.Errorf("resp = %+v", resp)
	}

	w = env.do(t, http.MethodGet, "/api/v1/devices/toaster/properties", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown class status = %d, want 400", w.Code)
	}

	env.orch.Reset()
	w = env.do(t, http.MethodGet, "/api/v1/devices/button_ring/properties", "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("after reset status = %d, want 404", w.Code)
	}
}

func TestResetThenConnect(t *testing.T) {
	env := newTestEnv(t, envOptions{noJournal: true})

	w := env.do(t, http.MethodPost, "/api/v1/devices/reset", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("reset status = %d", w.Code)
	}
	for _, c := range device.Classes() {
		if env.orch.State(c) != device.Disconnected {
			t.Errorf("State(%s) = %s after reset", c, env.orch.State(c))
		}
	}

	w = env.do(t, http.MethodPost, "/api/v1/devices/connect", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("connect status = %d", w.Code)
	}
	var resp struct {
		Rejected []rejectedDevice `json:"rejected"`
	}
	decode(t, w, &resp)
	if resp.Rejected == nil || len(resp.Rejected) != 0 {
		t.Errorf("rejected = %v", resp.Rejected)
	}
	for _, c := range device.Classes() {
		if env.orch.State(c) != device.Connected {
			t.Errorf("State(%s) = %s after connect", c, env.orch.State(c))
		}
	}
	if env.ring.Opens() != 2 {
		t.Errorf("ring Opens() = %d, want 2", env.ring.Opens())
	}
}

func TestRejectedDevices(t *testing.T) {
	err := errors.Join(
		&board.ConnectError{Device: "panel", Class: device.TouchPanel, Err: errors.New("line one\nline two")},
		errors.New("unrelated"),
		&board.ConnectError{Device: "ring", Class: device.ButtonRing, Err: device.ErrAlreadyConnected},
	)

	got := rejectedDevices(err)
	if len(got) != 2 {
		t.Fatalf("rejectedDevices() = %+v, want 2 entries", got)
	}
	if got[0].Device != "panel" || got[0].Error != "line one\nline two" {
		t.Errorf("got[0] = %+v", got[0])
	}
	if got[1].Device != "ring" || got[1].Class != device.ButtonRing {
		t.Errorf("got[1] = %+v", got[1])
	}
	if len(rejectedDevices(nil)) != 0 {
		t.Error("rejectedDevices(nil) not empty")
	}
}

func TestSetLED(t *testing.T) {
	env := newTestEnv(t, envOptions{noJournal: true})

	tests := []struct {
		name     string
		index    string
		body     string
		wantCode int
	}{
		{"valid", "3", `{"color":"#ff8000"}`, http.StatusOK},
		{"index not integer", "x", `{"color":"#ff8000"}`, http.StatusBadRequest},
		{"index out of range", "16", `{"color":"#ff8000"}`, http.StatusBadRequest},
		{"bad json", "3", `{`, http.StatusBadRequest},
		{"bad color", "3", `{"color":"orange"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPut, "/api/v1/devices/led/"+tt.index, tt.body, nil)
			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.wantCode, w.Body.String())
			}
		})
	}

	leds := env.strip.Worker().LEDs()
	if got := leds[3].Hex(); got != "#ff8000" {
		t.Errorf("LED 3 = %s, want #ff8000", got)
	}

	env.orch.Reset()
	w := env.do(t, http.MethodPut, "/api/v1/devices/led/3", `{"color":"#000000"}`, nil)
	if w.Code != http.StatusConflict {
		t.Errorf("not connected status = %d, want 409", w.Code)
	}
}

// ─── Consumer-owned reads ──────────────────────────────────────────

func TestListZones(t *testing.T) {
	env := newTestEnv(t, envOptions{noJournal: true})

	w := env.do(t, http.MethodGet, "/api/v1/zones", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var all struct {
		Count int `json:"count"`
	}
	decode(t, w, &all)
	if all.Count != len(board.DefaultScene().Touch)+len(board.DefaultScene().Button) {
		t.Errorf("count = %d", all.Count)
	}

	if err := env.ring.Press("BA3"); err != nil {
		t.Fatal(err)
	}
	eventually(t, func() bool {
		w := env.do(t, http.MethodGet, "/api/v1/zones?active=true", "", nil)
		var resp struct {
			Zones []board.IndicatorState `json:"zones"`
		}
		decode(t, w, &resp)
		return len(resp.Zones) == 1 && resp.Zones[0].Zone == "BA3"
	})

	w = env.do(t, http.MethodGet, "/api/v1/zones?group=button&active=true", "", nil)
	if !strings.Contains(w.Body.String(), `"BA3"`) {
		t.Errorf("button group body = %s", w.Body.String())
	}
	w = env.do(t, http.MethodGet, "/api/v1/zones?group=touch&active=true", "", nil)
	if strings.Contains(w.Body.String(), `"BA3"`) {
		t.Errorf("touch group should not contain BA3: %s", w.Body.String())
	}
}

func TestLog(t *testing.T) {
	env := newTestEnv(t, envOptions{noJournal: true})

	var resp struct {
		Entries []logLine `json:"entries"`
		Count   int       `json:"count"`
		Total   uint64    `json:"total"`
	}
	eventually(t, func() bool {
		w := env.do(t, http.MethodGet, "/api/v1/log", "", nil)
		decode(t, w, &resp)
		return resp.Count == 3
	})
	for _, e := range resp.Entries {
		if e.Kind != diagnostic.Attach {
			t.Errorf("kind = %s, want Attach", e.Kind)
		}
		if !strings.Contains(e.Text, " - eventType: Attach type: ") {
			t.Errorf("text = %q", e.Text)
		}
	}
	if resp.Total != 3 {
		t.Errorf("total = %d", resp.Total)
	}

	w := env.do(t, http.MethodGet, "/api/v1/log?limit=1&format=text", "", nil)
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q", ct)
	}
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	if len(lines) != 1 || !strings.Contains(lines[0], "eventType: Attach") {
		t.Errorf("text body = %q", w.Body.String())
	}

	w = env.do(t, http.MethodGet, "/api/v1/log?limit=-1", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("negative limit status = %d, want 400", w.Code)
	}
}

// ─── Journal ───────────────────────────────────────────────────────

func TestJournal(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	ctx := context.Background()
	at := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)

	diags := []journal.Diagnostic{
		{Kind: "Attach", DeviceClass: "button_ring", Message: "ring", RaisedAt: at},
		{Kind: "ConnectionError", DeviceClass: "touch_panel", Message: "COM3", RaisedAt: at.Add(time.Second)},
	}
	for i := range diags {
		if err := env.repo.RecordDiagnostic(ctx, &diags[i]); err != nil {
			t.Fatal(err)
		}
	}
	edge := journal.Edge{Device: "ring", DeviceClass: "button_ring", Zone: "BA3", State: "on", At: at}
	if err := env.repo.RecordEdge(ctx, &edge); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		query     string
		wantCode  int
		wantTotal int
	}{
		{"all diagnostics", "", http.StatusOK, 2},
		{"by class", "?class=touch_panel", http.StatusOK, 1},
		{"by kind", "?kind=Attach", http.StatusOK, 1},
		{"since", "?since=2026-10-19T08:00:01Z", http.StatusOK, 1},
		{"edges", "?type=edges&zone=BA3", http.StatusOK, 1},
		{"edges other zone", "?type=edges&zone=E8", http.StatusOK, 0},
		{"bad since", "?since=yesterday", http.StatusBadRequest, 0},
		{"bad type", "?type=users", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodGet, "/api/v1/journal"+tt.query, "", nil)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.wantCode, w.Body.String())
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			var page struct {
				Total int `json:"total"`
			}
			decode(t, w, &page)
			if page.Total != tt.wantTotal {
				t.Errorf("total = %d, want %d", page.Total, tt.wantTotal)
			}
		})
	}
}

func TestJournal_NotConfigured(t *testing.T) {
	env := newTestEnv(t, envOptions{noJournal: true})
	w := env.do(t, http.MethodGet, "/api/v1/journal", "", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t, envOptions{noJournal: true})
	w := env.do(t, http.MethodGet, "/api/v1/metrics", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var m SystemMetrics
	decode(t, w, &m)
	if m.Sessions != 3 {
		t.Errorf("sessions = %d, want 3", m.Sessions)
	}
	if m.Version != "test" {
		t.Errorf("version = %q", m.Version)
	}
	if m.Runtime.Goroutines == 0 {
		t.Error("goroutines = 0")
	}
	if m.Telemetry != nil || m.Database != nil {
		t.Error("optional sections should be omitted")
	}
}

// ─── Auth ──────────────────────────────────────────────────────────

func TestAuth_ControlRoutes(t *testing.T) {
	env := newTestEnv(t, envOptions{requireAuth: true, noJournal: true})

	token, err := IssueToken(testSecret, "operator", time.Minute)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	expired := signClaims(t, jwt.RegisteredClaims{
		Subject:   "operator",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	})
	noExpiry := signClaims(t, jwt.RegisteredClaims{Subject: "operator"})
	foreign, err := IssueToken("another-secret-of-sufficient-length!!", "operator", time.Minute)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	tests := []struct {
		name     string
		header   string
		wantCode int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"garbage", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"expired", "Bearer " + expired, http.StatusUnauthorized},
		{"no expiry", "Bearer " + noExpiry, http.StatusUnauthorized},
		{"wrong secret", "Bearer " + foreign, http.StatusUnauthorized},
		{"valid", "Bearer " + token, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			if tt.header != "" {
				h.Set("Authorization", tt.header)
			}
			w := env.do(t, http.MethodPost, "/api/v1/devices/reset", "", h)
			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", w.Code, tt.wantCode)
			}
		})
	}

	// Reads stay open.
	w := env.do(t, http.MethodGet, "/api/v1/devices", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("read status = %d, want 200", w.Code)
	}
}

func signClaims(t *testing.T, claims jwt.RegisteredClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatal(err)
	}
	return signed
}

func TestIssueToken_EmptySecret(t *testing.T) {
	if _, err := IssueToken("", "operator", time.Minute); err == nil {
		t.Error("expected error for empty secret")
	}
}

func TestParseToken_Subject(t *testing.T) {
	token, err := IssueToken(testSecret, "panel-7", 0)
	if err != nil {
		t.Fatal(err)
	}
	sub, err := parseToken(testSecret, token)
	if err != nil {
		t.Fatalf("parseToken() error = %v", err)
	}
	if sub != "panel-7" {
		t.Errorf("subject = %q", sub)
	}
}

// ─── WebSocket ─────────────────────────────────────────────────────

func TestWSTicket_SingleUse(t *testing.T) {
	env := newTestEnv(t, envOptions{noJournal: true})
	w := env.do(t, http.MethodPost, "/api/v1/auth/ws-ticket", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Ticket    string `json:"ticket"`
		ExpiresIn int    `json:"expires_in"`
	}
	decode(t, w, &resp)
	if resp.Ticket == "" || resp.ExpiresIn != int(ticketTTL.Seconds()) {
		t.Fatalf("resp = %+v", resp)
	}

	now := time.Now()
	if !env.srv.tickets.redeem(resp.Ticket, now) {
		t.Error("ticket should be valid on first use")
	}
	if env.srv.tickets.redeem(resp.Ticket, now) {
		t.Error("ticket should not be valid on second use")
	}
}

func TestTicketStore_Expiry(t *testing.T) {
	ts := newTicketStore()
	now := time.Now()

	expired := ts.issue(now.Add(-2 * ticketTTL))
	if ts.redeem(expired, now) {
		t.Error("expired ticket should not be valid")
	}

	stale := ts.issue(now.Add(-2 * ticketTTL))
	fresh := ts.issue(now)
	ts.clean(now)
	ts.mu.Lock()
	_, staleKept := ts.tickets[stale]
	_, freshKept := ts.tickets[fresh]
	ts.mu.Unlock()
	if staleKept || !freshKept {
		t.Errorf("after clean stale=%v fresh=%v", staleKept, freshKept)
	}
}

func TestWebSocket_TicketFlow(t *testing.T) {
	env := newTestEnv(t, envOptions{requireAuth: true, noJournal: true})
	ts := httptest.NewServer(env.srv.Handler())
	defer ts.Close()
	wsBase := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"

	// Without a ticket the upgrade is refused.
	_, resp, err := websocket.DefaultDialer.Dial(wsBase, nil)
	if err == nil {
		t.Fatal("expected error connecting without ticket")
	}
	if resp != nil && resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}

	token, err := IssueToken(testSecret, "operator", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/auth/ws-ticket", bytes.NewReader(nil))
	req.Header.Set("Authorization", "Bearer "+token)
	ticketResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer ticketResp.Body.Close()
	var body struct {
		Ticket string `json:"ticket"`
	}
	if err := json.NewDecoder(ticketResp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}

	ws, _, err := websocket.DefaultDialer.Dial(wsBase+"?ticket="+body.Ticket+"&channels=zone.edge", nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer ws.Close()

	eventually(t, func() bool { return env.srv.Hub().ClientCount() == 1 })
	env.srv.Hub().Broadcast("diagnostic", map[string]any{"kind": "Debug"})
	env.srv.Hub().Broadcast("zone.edge", map[string]any{"zone": "BA3"})

	//nolint:errcheck // test deadline
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if msg.Type != WSTypeEvent || msg.EventType != "zone.edge" {
		t.Errorf("msg = %+v, want event on zone.edge", msg)
	}

	// The ticket is single-use.
	_, resp, err = websocket.DefaultDialer.Dial(wsBase+"?ticket="+body.Ticket, nil)
	if err == nil {
		t.Fatal("expected error reusing ticket")
	}
	if resp != nil && resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("reuse status = %d, want 401", resp.StatusCode)
	}
}

// ─── WebSocket Hub ─────────────────────────────────────────────────

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	hub := NewHub(config.WebSocketConfig{}, log)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func TestHub_BroadcastToSubscribed(t *testing.T) {
	hub := newTestHub(t)
	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{"zone.edge": {}},
	}
	hub.Register(client)

	hub.Broadcast("zone.edge", map[string]any{"zone": "A1", "state": "on"})

	select {
	case msg := <-client.send:
		var wsMsg WSMessage
		if err := json.Unmarshal(msg, &wsMsg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if wsMsg.EventType != "zone.edge" {
			t.Errorf("event_type = %q, want %q", wsMsg.EventType, "zone.edge")
		}
	case <-time.After(time.Second):
		t.Error("timed out waiting for broadcast message")
	}
}

func TestHub_NoMessageForUnsubscribed(t *testing.T) {
	hub := newTestHub(t)
	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{"diagnostic": {}},
	}
	hub.Register(client)

	hub.Broadcast("zone.edge", map[string]any{"zone": "A1"})

	select {
	case <-client.send:
		t.Error("unsubscribed client should not receive message")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHub_ClientCount(t *testing.T) {
	hub := newTestHub(t)
	if hub.ClientCount() != 0 {
		t.Errorf("initial client count = %d, want 0", hub.ClientCount())
	}

	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
	}
	hub.Register(client)
	if hub.ClientCount() != 1 {
		t.Errorf("after register count = %d, want 1", hub.ClientCount())
	}

	hub.Unregister(client)
	if hub.ClientCount() != 0 {
		t.Errorf("after unregister count = %d, want 0", hub.ClientCount())
	}

	// A second unregister must not close the channel twice.
	hub.Unregister(client)
}

func TestHub_SubscribeMessage(t *testing.T) {
	hub := newTestHub(t)
	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
	}
	hub.Register(client)

	raw, _ := json.Marshal(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: []string{"diagnostic"}},
	})
	client.handleMessage(raw)

	if !client.isSubscribed("diagnostic") {
		t.Fatal("client should be subscribed to diagnostic")
	}
	select {
	case <-client.send:
	case <-time.After(time.Second):
		t.Fatal("expected subscribe acknowledgement")
	}
}

func TestHub_SubscribeUnknownChannel(t *testing.T) {
	hub := newTestHub(t)
	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
	}
	hub.Register(client)

	raw, _ := json.Marshal(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-2",
		Payload: WSSubscribePayload{Channels: []string{"diagnostic", "device.state_changed"}},
	})
	client.handleMessage(raw)

	if client.isSubscribed("diagnostic") {
		t.Error("a rejected request must not subscribe any channel")
	}
	select {
	case data := <-client.send:
		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatal(err)
		}
		if msg.Type != WSTypeError || msg.ID != "sub-2" {
			t.Errorf("msg = %+v, want error for sub-2", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("expected error response")
	}
}

func TestHub_CountsDroppedForSlowClient(t *testing.T) {
	hub := newTestHub(t)
	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, 1),
		subscriptions: map[string]struct{}{"zone.edge": {}},
	}
	hub.Register(client)

	for n := 0; n < 3; n++ {
		hub.Broadcast("zone.edge", map[string]any{"zone": "A1"})
	}
	if got := hub.Dropped(); got != 2 {
		t.Errorf("Dropped() = %d, want 2", got)
	}
}
