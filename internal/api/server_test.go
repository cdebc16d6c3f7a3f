package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/sqlbridge/internal/auth"
	"github.com/nerrad567/sqlbridge/internal/infrastructure/config"
	"github.com/nerrad567/sqlbridge/internal/infrastructure/database"
	"github.com/nerrad567/sqlbridge/internal/infrastructure/logging"
	"github.com/nerrad567/sqlbridge/internal/script"
	"github.com/nerrad567/sqlbridge/internal/sqlexec"
)

const testJWTSecret = "test-secret-key-at-least-32-characters-long"

// testServer creates a Server whose runner executes against a fresh
// in-memory database.
func testServer(t *testing.T, sec config.SecurityConfig) (*Server, *database.Gateway) {
	t.Helper()

	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{Path: database.MemoryPath, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	gw, err := database.NewGateway(ctx, db)
	if err != nil {
		db.Close() //nolint:errcheck // Test cleanup
		t.Fatalf("database.NewGateway() error = %v", err)
	}
	t.Cleanup(func() {
		gw.Close() //nolint:errcheck // Test cleanup
		db.Close() //nolint:errcheck // Test cleanup
	})

	if sec.JWT.Secret == "" {
		sec.JWT.Secret = testJWTSecret
	}

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	runner := script.NewRunner(sqlexec.New(gw, sqlexec.Config{}), script.Config{
		Timeout:       2 * time.Second,
		MaxSourceSize: 4096,
	})

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 0,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 65536,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Security: sec,
		Logger:   log,
		Runner:   runner,
		Health:   gw,
		DB:       db,
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return srv, gw
}

// startTestServer starts srv on an ephemeral port and returns its address.
func startTestServer(t *testing.T, srv *Server) string {
	t.Helper()
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(func() {
		srv.Close() //nolint:errcheck // Test cleanup
	})
	return srv.Addr()
}

// serve runs one request through the router.
func serve(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)
	return w
}

// postScript builds a JSON run request.
func postScript(t *testing.T, name, source string) *http.Request {
	t.Helper()
	body, err := json.Marshal(RunRequest{Name: name, Source: source})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/scripts/run", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// mustToken mints a token for subject with the test secret.
func mustToken(t *testing.T, subject string) string {
	t.Helper()
	token, err := auth.GenerateAccessToken(subject, testJWTSecret, "", time.Minute)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}
	return token
}

// decodeResult decodes a successful run response.
func decodeResult(t *testing.T, w *httptest.ResponseRecorder) map[string]json.RawMessage {
	t.Helper()
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body = %s", w.Code, w.Body.String())
	}
	var resp map[string]json.RawMessage
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return resp
}

// ─── Health Endpoint Tests ─────────────────────────────────────────

func TestHealth(t *testing.T) {
	srv, _ := testServer(t, config.SecurityConfig{})

	w := serve(srv, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["status"] != "ok" || resp["database"] != "ok" {
		t.Errorf("health = %v, want status ok and database ok", resp)
	}
	if resp["version"] != "test" {
		t.Errorf("version = %v, want test", resp["version"])
	}
}

func TestHealth_DatabaseUnavailable(t *testing.T) {
	srv, gw := testServer(t, config.SecurityConfig{})
	gw.Close() //nolint:errcheck // Simulating shutdown

	w := serve(srv, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

// ─── Middleware Tests ──────────────────────────────────────────────

func TestRequestID_Generated(t *testing.T) {
	srv, _ := testServer(t, config.SecurityConfig{})

	w := serve(srv, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	if requestID := w.Header().Get("X-Request-ID"); requestID == "" {
		t.Error("expected X-Request-ID header to be set")
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	srv, _ := testServer(t, config.SecurityConfig{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := serve(srv, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestCORS_Preflight(t *testing.T) {
	srv, _ := testServer(t, config.SecurityConfig{})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/scripts/run", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := serve(srv, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q, want %q", got, "http://localhost:3000")
	}
}

func TestNotFound(t *testing.T) {
	srv, _ := testServer(t, config.SecurityConfig{})

	w := serve(srv, httptest.NewRequest(http.MethodGet, "/api/v1/nonexistent", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		upgrade bool
		query   string
		want    string
	}{
		{name: "none", want: ""},
		{name: "bearer", header: "Bearer abc", want: "abc"},
		{name: "lowercase scheme", header: "bearer abc", want: "abc"},
		{name: "other scheme", header: "Basic abc", want: ""},
		{name: "query ignored without upgrade", query: "abc", want: ""},
		{name: "query on upgrade", upgrade: true, query: "abc", want: "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/api/v1/console"
			if tt.query != "" {
				target += "?access_token=" + url.QueryEscape(tt.query)
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if tt.upgrade {
				req.Header.Set("Upgrade", "websocket")
			}
			if got := bearerToken(req); got != tt.want {
				t.Errorf("bearerToken() = %q, want %q", got, tt.want)
			}
		})
	}
}

// ─── Script Run Tests ──────────────────────────────────────────────

func TestRunScript_JSON(t *testing.T) {
	srv, _ := testServer(t, config.SecurityConfig{})

	w := serve(srv, postScript(t, "setup", `
		SQLite.execute("CREATE TABLE kv (k TEXT, v INTEGER)");
		SQLite.execute("INSERT INTO kv VALUES (?, ?)", "a", 1);
	`))
	resp := decodeResult(t, w)
	if string(resp["output"]) != "1" {
		t.Errorf("output = %s, want 1", resp["output"])
	}

	w = serve(srv, postScript(t, "read", `SQLite.query("SELECT v, k FROM kv")`))
	resp = decodeResult(t, w)
	if got := string(resp["output"]); got != `[{"v":1,"k":"a"}]` {
		t.Errorf("output = %s, want [{\"v\":1,\"k\":\"a\"}]", got)
	}
	if string(resp["name"]) != `"read"` {
		t.Errorf("name = %s, want \"read\"", resp["name"])
	}
	for _, key := range []string{"run_id", "duration_ms"} {
		if _, ok := resp[key]; !ok {
			t.Errorf("response missing %q", key)
		}
	}
}

func TestRunScript_RawBody(t *testing.T) {
	srv, _ := testServer(t, config.SecurityConfig{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/scripts/run?name=raw", strings.NewReader(`SQLite.query_tuple("SELECT 1 + 1")`))
	req.Header.Set("Content-Type", "text/javascript; charset=utf-8")
	resp := decodeResult(t, serve(srv, req))

	if string(resp["output"]) != "[[2]]" {
		t.Errorf("output = %s, want [[2]]", resp["output"])
	}
	if string(resp["name"]) != `"raw"` {
		t.Errorf("name = %s, want \"raw\"", resp["name"])
	}
}

func TestRunScript_Errors(t *testing.T) {
	srv, _ := testServer(t, config.SecurityConfig{})

	tests := []struct {
		name     string
		req      func() *http.Request
		wantCode int
		wantErr  string
	}{
		{
			name:     "invalid json",
			req:      func() *http.Request { return httptest.NewRequest(http.MethodPost, "/api/v1/scripts/run", strings.NewReader("{")) },
			wantCode: http.StatusBadRequest,
			wantErr:  ErrCodeBadRequest,
		},
		{
			name:     "empty source",
			req:      func() *http.Request { return postScript(t, "empty", "  ") },
			wantCode: http.StatusBadRequest,
			wantErr:  ErrCodeValidation,
		},
		{
			name:     "syntax error",
			req:      func() *http.Request { return postScript(t, "bad", "var = ;") },
			wantCode: http.StatusBadRequest,
			wantErr:  ErrCodeCompile,
		},
		{
			name:     "uncaught sql error",
			req:      func() *http.Request { return postScript(t, "sql", `SQLite.execute("SELEC 1")`) },
			wantCode: http.StatusUnprocessableEntity,
			wantErr:  ErrCodeScript,
		},
		{
			name:     "source too large",
			req:      func() *http.Request { return postScript(t, "big", strings.Repeat("1;", 3000)) },
			wantCode: http.StatusRequestEntityTooLarge,
			wantErr:  ErrCodeTooLarge,
		},
		{
			name:     "timeout",
			req:      func() *http.Request { return postScript(t, "spin", "for (;;) {}") },
			wantCode: http.StatusGatewayTimeout,
			wantErr:  ErrCodeTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(srv, tt.req())
			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d; body = %s", w.Code, tt.wantCode, w.Body.String())
			}
			var apiErr Error
			if err := json.Unmarshal(w.Body.Bytes(), &apiErr); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if apiErr.Code != tt.wantErr {
				t.Errorf("code = %q, want %q", apiErr.Code, tt.wantErr)
			}
		})
	}
}

func TestRunScript_Auth(t *testing.T) {
	const whoami = `String.fromCharCode.apply(null, me())`

	t.Run("anonymous allowed by default", func(t *testing.T) {
		srv, _ := testServer(t, config.SecurityConfig{})
		resp := decodeResult(t, serve(srv, postScript(t, "who", whoami)))
		if string(resp["output"]) != `""` {
			t.Errorf("anonymous me() = %s, want empty string", resp["output"])
		}
	})

	t.Run("token sets principal", func(t *testing.T) {
		srv, _ := testServer(t, config.SecurityConfig{})
		req := postScript(t, "who", whoami)
		req.Header.Set("Authorization", "Bearer "+mustToken(t, "alice"))
		resp := decodeResult(t, serve(srv, req))
		if string(resp["output"]) != `"alice"` {
			t.Errorf("me() = %s, want \"alice\"", resp["output"])
		}
	})

	t.Run("invalid token rejected", func(t *testing.T) {
		srv, _ := testServer(t, config.SecurityConfig{})
		req := postScript(t, "who", whoami)
		req.Header.Set("Authorization", "Bearer not-a-token")
		if w := serve(srv, req); w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", w.Code)
		}
	})

	t.Run("missing token rejected when required", func(t *testing.T) {
		srv, _ := testServer(t, config.SecurityConfig{RequireAuth: true})
		if w := serve(srv, postScript(t, "who", whoami)); w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", w.Code)
		}
	})

	t.Run("health stays open when auth required", func(t *testing.T) {
		srv, _ := testServer(t, config.SecurityConfig{RequireAuth: true})
		if w := serve(srv, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)); w.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", w.Code)
		}
	})
}

func TestMetrics_CountsRuns(t *testing.T) {
	srv, _ := testServer(t, config.SecurityConfig{})

	serve(srv, postScript(t, "ok", "1"))
	serve(srv, postScript(t, "bad", "throw 1"))

	w := serve(srv, httptest.NewRequest(http.MethodGet, "/api/v1/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d, want 200", w.Code)
	}
	var metrics SystemMetrics
	if err := json.Unmarshal(w.Body.Bytes(), &metrics); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if metrics.Scripts.Runs != 2 || metrics.Scripts.Failed != 1 {
		t.Errorf("scripts = %+v, want 2 runs 1 failed", metrics.Scripts)
	}
	if metrics.Database.InUse != 1 {
		t.Errorf("database in use = %d, want 1 pinned session", metrics.Database.InUse)
	}
	if metrics.MQTT != nil {
		t.Errorf("mqtt = %+v, want omitted without a client", metrics.MQTT)
	}
}

// stubBroker reports a fixed broker state.
type stubBroker struct {
	connected bool
	subs      int
}

func (b stubBroker) IsConnected() bool  { return b.connected }
func (b stubBroker) Subscriptions() int { return b.subs }

func TestMetrics_MQTT(t *testing.T) {
	srv, _ := testServer(t, config.SecurityConfig{})
	srv.mqtt = stubBroker{connected: true, subs: 1}

	w := serve(srv, httptest.NewRequest(http.MethodGet, "/api/v1/metrics", nil))
	var metrics SystemMetrics
	if err := json.Unmarshal(w.Body.Bytes(), &metrics); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if metrics.MQTT == nil || !metrics.MQTT.Connected || metrics.MQTT.Subscriptions != 1 {
		t.Errorf("mqtt = %+v, want connected with 1 subscription", metrics.MQTT)
	}
}

func TestScriptErrorStatus(t *testing.T) {
	tests := []struct {
		err      error
		wantCode int
	}{
		{fmt.Errorf("wrap: %w", script.ErrSourceTooLarge), http.StatusRequestEntityTooLarge},
		{script.ErrCompile, http.StatusBadRequest},
		{script.ErrTimeout, http.StatusGatewayTimeout},
		{script.ErrException, http.StatusUnprocessableEntity},
		{script.ErrResult, http.StatusUnprocessableEntity},
		{script.ErrPanicked, http.StatusInternalServerError},
		{database.ErrLockPoisoned, http.StatusServiceUnavailable},
		{errors.New("other"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			if got, _ := scriptErrorStatus(tt.err); got != tt.wantCode {
				t.Errorf("scriptErrorStatus() = %d, want %d", got, tt.wantCode)
			}
		})
	}
}

// ─── Hub Tests ─────────────────────────────────────────────────────

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	hub := NewHub(config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}, log)

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
		subscriptions: map[string]struct{}{EventScriptRun: {}},
	}
	hub.Register(client)

	hub.Broadcast(EventScriptRun, RunSummary{Name: "nightly", OK: true})

	select {
	case msg := <-client.send:
		var wsMsg WSMessage
		if err := json.Unmarshal(msg, &wsMsg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if wsMsg.EventType != EventScriptRun {
			t.Errorf("event_type = %q, want %q", wsMsg.EventType, EventScriptRun)
		}
		var summary RunSummary
		if err := json.Unmarshal(wsMsg.Payload, &summary); err != nil {
			t.Fatalf("unmarshal payload: %v", err)
		}
		if summary.Name != "nightly" || !summary.OK {
			t.Errorf("summary = %+v", summary)
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
		subscriptions: map[string]struct{}{"other.channel": {}},
	}
	hub.Register(client)

	hub.Broadcast(EventScriptRun, RunSummary{Name: "nightly"})

	select {
	case <-client.send:
		t.Error("unsubscribed client should not receive message")
	case <-time.After(100 * time.Millisecond):
		// OK, no message received
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
}

// ─── Lifecycle and Console Tests ───────────────────────────────────

func TestServer_StartAndClose(t *testing.T) {
	srv, _ := testServer(t, config.SecurityConfig{})

	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start = nil, want error")
	}

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	addr := srv.Addr()

	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() after Start error = %v", err)
	}

	resp, err := http.Get("http://" + addr + "/api/v1/health")
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("health check status = %d, want 200", resp.StatusCode)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}

	if _, err = http.Get("http://" + addr + "/api/v1/health"); err == nil {
		t.Error("server still responding after Close()")
	}
}

// dialConsole opens a console connection, optionally with a token.
func dialConsole(t *testing.T, addr, token string) *websocket.Conn {
	t.Helper()
	wsURL := "ws://" + addr + "/api/v1/console"
	if token != "" {
		wsURL += "?access_token=" + url.QueryEscape(token)
	}
	ws, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v (resp: %v)", err, resp)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() {
		ws.Close()
	})
	return ws
}

// sendConsole writes one message with a JSON payload.
func sendConsole(t *testing.T, ws *websocket.Conn, msgType, id string, payload any) {
	t.Helper()
	msg := WSMessage{Type: msgType, ID: id}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		msg.Payload = raw
	}
	if err := ws.WriteJSON(msg); err != nil {
		t.Fatalf("write %s: %v", msgType, err)
	}
}

// readConsole reads one message with a deadline.
func readConsole(t *testing.T, ws *websocket.Conn) WSMessage {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // Test deadline
	var msg WSMessage
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func TestConsole_RunAndEvents(t *testing.T) {
	srv, _ := testServer(t, config.SecurityConfig{})
	addr := startTestServer(t, srv)

	ws := dialConsole(t, addr, mustToken(t, "bob"))

	sendConsole(t, ws, WSTypeSubscribe, "sub-1", WSSubscribePayload{Channels: []string{EventScriptRun}})
	if resp := readConsole(t, ws); resp.Type != WSTypeResponse || resp.ID != "sub-1" {
		t.Fatalf("subscribe response = %+v", resp)
	}

	sendConsole(t, ws, WSTypeRun, "run-1", RunRequest{Name: "who", Source: `String.fromCharCode.apply(null, me())`})

	var result, event *WSMessage
	for range 2 {
		msg := readConsole(t, ws)
		switch msg.Type {
		case WSTypeResult:
			result = &msg
		case WSTypeEvent:
			event = &msg
		default:
			t.Fatalf("unexpected message %+v", msg)
		}
	}

	if result == nil || result.ID != "run-1" {
		t.Fatalf("result = %+v, want reply to run-1", result)
	}
	var res struct {
		Output json.RawMessage `json:"output"`
	}
	if err := json.Unmarshal(result.Payload, &res); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if string(res.Output) != `"bob"` {
		t.Errorf("output = %s, want \"bob\"", res.Output)
	}

	if event == nil || event.EventType != EventScriptRun {
		t.Fatalf("event = %+v, want %s", event, EventScriptRun)
	}
	var summary RunSummary
	if err := json.Unmarshal(event.Payload, &summary); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if summary.Caller != "bob" || summary.Via != "console" || !summary.OK {
		t.Errorf("summary = %+v, want ok console run by bob", summary)
	}
}

func TestConsole_RunError(t *testing.T) {
	srv, _ := testServer(t, config.SecurityConfig{})
	addr := startTestServer(t, srv)
	ws := dialConsole(t, addr, "")

	sendConsole(t, ws, WSTypeRun, "run-1", RunRequest{Source: `SQLite.query("SELECT * FROM missing")`})

	resp := readConsole(t, ws)
	if resp.Type != WSTypeError || resp.ID != "run-1" {
		t.Fatalf("response = %+v, want error for run-1", resp)
	}
	var payload map[string]string
	if err := json.Unmarshal(resp.Payload, &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload["code"] != ErrCodeScript || !strings.Contains(payload["message"], "no such table") {
		t.Errorf("payload = %v", payload)
	}
}

func TestConsole_ProtocolErrors(t *testing.T) {
	srv, _ := testServer(t, config.SecurityConfig{})
	addr := startTestServer(t, srv)
	ws := dialConsole(t, addr, "")

	if err := ws.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write invalid message: %v", err)
	}
	if resp := readConsole(t, ws); resp.Type != WSTypeError {
		t.Errorf("invalid JSON response type = %s, want error", resp.Type)
	}

	sendConsole(t, ws, "bogus", "x-1", nil)
	if resp := readConsole(t, ws); resp.Type != WSTypeError || resp.ID != "x-1" {
		t.Errorf("unknown type response = %+v, want error for x-1", resp)
	}

	sendConsole(t, ws, WSTypeRun, "run-1", map[string]string{"name": "no source"})
	if resp := readConsole(t, ws); resp.Type != WSTypeError || resp.ID != "run-1" {
		t.Errorf("empty run response = %+v, want error for run-1", resp)
	}

	sendConsole(t, ws, WSTypePing, "ping-1", nil)
	if resp := readConsole(t, ws); resp.Type != WSTypePong || resp.ID != "ping-1" {
		t.Errorf("ping response = %+v, want pong for ping-1", resp)
	}
}

func TestConsole_RequiresTokenWhenConfigured(t *testing.T) {
	srv, _ := testServer(t, config.SecurityConfig{RequireAuth: true})
	addr := startTestServer(t, srv)

	_, resp, err := websocket.DefaultDialer.Dial("ws://"+addr+"/api/v1/console", nil)
	if err == nil {
		t.Fatal("dial without token succeeded, want rejection")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("dial response = %v, want 401", resp)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	dialConsole(t, addr, mustToken(t, "carol"))
}

// panicRunner panics on every run.
type panicRunner struct{}

func (panicRunner) Run(context.Context, script.Request) (*script.Result, error) {
	panic("runner fault")
}

func TestConsole_RunnerPanicKeepsConnection(t *testing.T) {
	srv, _ := testServer(t, config.SecurityConfig{})
	srv.runner = panicRunner{}
	addr := startTestServer(t, srv)
	ws := dialConsole(t, addr, "")

	for _, id := range []string{"run-1", "run-2"} {
		sendConsole(t, ws, WSTypeRun, id, RunRequest{Source: "1"})

		resp := readConsole(t, ws)
		if resp.Type != WSTypeError || resp.ID != id {
			t.Fatalf("response = %+v, want error for %s", resp, id)
		}
		var payload map[string]string
		if err := json.Unmarshal(resp.Payload, &payload); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if payload["code"] != ErrCodeInternal || !strings.Contains(payload["message"], "runner fault") {
			t.Errorf("payload = %v", payload)
		}
	}

	sendConsole(t, ws, WSTypePing, "ping-1", nil)
	if resp := readConsole(t, ws); resp.Type != WSTypePong {
		t.Errorf("ping response = %+v, want pong", resp)
	}
}

func TestRunScript_RunnerPanic(t *testing.T) {
	srv, _ := testServer(t, config.SecurityConfig{})
	srv.runner = panicRunner{}

	w := serve(srv, postScript(t, "faulty", "1"))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500; body = %s", w.Code, w.Body.String())
	}
	var apiErr Error
	if err := json.Unmarshal(w.Body.Bytes(), &apiErr); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if apiErr.Code != ErrCodeInternal {
		t.Errorf("code = %q, want %q", apiErr.Code, ErrCodeInternal)
	}
}
