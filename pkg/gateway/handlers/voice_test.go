package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/config"
	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/lifecycle"
	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/live/bridge"
	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/live/sessions"
	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/persona"
	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/ratelimit"
	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/tools/dispatcher"
)

func TestVoiceHandler_StartReturnsReady(t *testing.T) {
	h, serverURL := newVoiceTestServer(t, voiceTestOptions{})
	defer h.close()

	conn := mustDialWS(t, serverURL)
	defer conn.Close()

	mustWriteJSON(t, conn, map[string]any{"type": "start", "locale": "tr", "userId": "u1", "isLoggedIn": true})
	msg := mustReadJSON(t, conn, 2*time.Second)
	if msg["type"] != "ready" {
		t.Fatalf("type=%v msg=%v", msg["type"], msg)
	}
	if id, _ := msg["sessionId"].(string); id == "" {
		t.Fatalf("missing sessionId: %v", msg)
	}

	setup := h.connector.lastSetup()
	if setup.Locale != "tr" {
		t.Fatalf("setup locale=%q", setup.Locale)
	}
	if h.registry.Len() != 1 {
		t.Fatalf("registry len=%d, want 1", h.registry.Len())
	}
}

func TestVoiceHandler_HandshakeTimeout(t *testing.T) {
	h, serverURL := newVoiceTestServer(t, voiceTestOptions{handshakeTimeout: 100 * time.Millisecond})
	defer h.close()

	conn := mustDialWS(t, serverURL)
	defer conn.Close()

	msg := mustReadJSON(t, conn, 2*time.Second)
	if msg["type"] != "error" || msg["code"] != "handshake_timeout" {
		t.Fatalf("msg=%v", msg)
	}
	if _, err := readJSON(conn, time.Second); err == nil {
		t.Fatalf("expected connection to close after handshake timeout")
	}
}

func TestVoiceHandler_FirstFrameMustBeStart(t *testing.T) {
	h, serverURL := newVoiceTestServer(t, voiceTestOptions{})
	defer h.close()

	conn := mustDialWS(t, serverURL)
	defer conn.Close()

	mustWriteJSON(t, conn, map[string]any{"type": "stop"})
	msg := mustReadJSON(t, conn, 2*time.Second)
	if msg["type"] != "error" || msg["code"] != "bad_request" {
		t.Fatalf("msg=%v", msg)
	}
	if h.connector.connects() != 0 {
		t.Fatalf("connector must not be dialed")
	}
}

func TestVoiceHandler_InvalidStartRejected(t *testing.T) {
	h, serverURL := newVoiceTestServer(t, voiceTestOptions{})
	defer h.close()

	conn := mustDialWS(t, serverURL)
	defer conn.Close()

	mustWriteJSON(t, conn, map[string]any{
		"type":    "start",
		"history": []map[string]any{{"role": "system", "content": "x"}},
	})
	msg := mustReadJSON(t, conn, 2*time.Second)
	if msg["type"] != "error" || msg["code"] != "bad_request" {
		t.Fatalf("msg=%v", msg)
	}
}

func TestVoiceHandler_TrackerCancelAllClosesConnAndDeregisters(t *testing.T) {
	h, serverURL := newVoiceTestServer(t, voiceTestOptions{})
	defer h.close()

	conn := mustDialWS(t, serverURL)
	defer conn.Close()

	mustWriteJSON(t, conn, map[string]any{"type": "start"})
	if msg := mustReadJSON(t, conn, 2*time.Second); msg["type"] != "ready" {
		t.Fatalf("msg=%v", msg)
	}
	waitFor(t, func() bool { return h.tracker.Active() == 1 })

	if sent := h.tracker.WarnAll("shutting_down", "server is restarting"); sent != 1 {
		t.Fatalf("warned=%d", sent)
	}
	warn := mustReadJSON(t, conn, 2*time.Second)
	if warn["type"] != "error" || warn["code"] != "shutting_down" {
		t.Fatalf("warn=%v", warn)
	}

	h.tracker.CancelAll()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if ok := h.tracker.Wait(ctx); !ok {
		t.Fatalf("expected tracker to drain")
	}
	if h.tracker.Active() != 0 {
		t.Fatalf("tracker active=%d, want 0", h.tracker.Active())
	}
	waitFor(t, func() bool { return h.registry.Len() == 0 })
}

func TestVoiceHandler_SessionCap(t *testing.T) {
	h, serverURL := newVoiceTestServer(t, voiceTestOptions{maxSessions: 1})
	defer h.close()

	conn1 := mustDialWS(t, serverURL)
	defer conn1.Close()

	conn2, resp, err := websocket.DefaultDialer.Dial(serverURL, nil)
	if err == nil {
		conn2.Close()
		t.Fatalf("second connection should be refused")
	}
	if resp == nil || resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("resp=%v", resp)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After")
	}
}

func TestVoiceHandler_RequiredAuth(t *testing.T) {
	h, serverURL := newVoiceTestServer(t, voiceTestOptions{authRequired: true})
	defer h.close()

	_, resp, err := websocket.DefaultDialer.Dial(serverURL, nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("err=%v resp=%v", err, resp)
	}

	conn := mustDialWS(t, serverURL+"?api_key=sk_test")
	defer conn.Close()
	mustWriteJSON(t, conn, map[string]any{"type": "start"})
	if msg := mustReadJSON(t, conn, 2*time.Second); msg["type"] != "ready" {
		t.Fatalf("msg=%v", msg)
	}
}

func TestVoiceHandler_PreUpgradeRejections(t *testing.T) {
	draining := &lifecycle.Lifecycle{}
	draining.Drain(time.Now())

	tests := []struct {
		name      string
		opts      voiceTestOptions
		method    string
		origin    string
		wantCode  int
		wantError string
	}{
		{name: "method", method: http.MethodPost, wantCode: http.StatusMethodNotAllowed, wantError: "invalid_request_error"},
		{name: "draining", opts: voiceTestOptions{lifecycle: draining}, method: http.MethodGet, wantCode: http.StatusServiceUnavailable, wantError: "overloaded_error"},
		{name: "origin", method: http.MethodGet, origin: "https://evil.example.com", wantCode: http.StatusForbidden, wantError: "permission_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newVoiceTestServer(t, tt.opts)
			defer h.close()

			req, err := http.NewRequest(tt.method, h.server.URL+"/v1/voice", nil)
			if err != nil {
				t.Fatal(err)
			}
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.wantCode {
				t.Fatalf("status=%d, want %d", resp.StatusCode, tt.wantCode)
			}
			var env struct {
				Error struct {
					Type string `json:"type"`
				} `json:"error"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if env.Error.Type != tt.wantError {
				t.Fatalf("type=%q, want %q", env.Error.Type, tt.wantError)
			}
		})
	}
}

func TestVoiceHandler_OriginPolicy(t *testing.T) {
	h := VoiceHandler{Config: config.Config{CORSAllowedOrigins: map[string]struct{}{"https://app.example.com": {}}}}

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://app.example.com", true},
		{"http://gateway.local:8080", true},
		{"https://evil.example.com", false},
		{"::not a url", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "http://gateway.local:8080/v1/voice", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		if got := h.originAllowed(r); got != tt.want {
			t.Fatalf("originAllowed(%q)=%v, want %v", tt.origin, got, tt.want)
		}
	}
}

type voiceHarness struct {
	server    *httptest.Server
	connector *fakeConnector
	registry  *sessions.Registry
	tracker   *sessions.Tracker
}

func (h *voiceHarness) close() {
	h.tracker.CancelAll()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	h.tracker.Wait(ctx)
	h.server.Close()
}

type voiceTestOptions struct {
	handshakeTimeout time.Duration
	maxSessions      int
	authRequired     bool
	lifecycle        *lifecycle.Lifecycle
}

func newVoiceTestServer(t *testing.T, opts voiceTestOptions) (*voiceHarness, string) {
	t.Helper()
	if opts.handshakeTimeout <= 0 {
		opts.handshakeTimeout = 2 * time.Second
	}
	if opts.maxSessions <= 0 {
		opts.maxSessions = 4
	}
	if opts.lifecycle == nil {
		opts.lifecycle = &lifecycle.Lifecycle{}
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Config{
		AuthMode:                  config.AuthModeDisabled,
		CORSAllowedOrigins:        map[string]struct{}{},
		ToolTimeout:               time.Second,
		VoiceMaxAudioChunkBytes:   8192,
		VoiceMaxJSONMessageBytes:  64 * 1024,
		VoiceWSPingInterval:       5 * time.Second,
		VoiceWSWriteTimeout:       2 * time.Second,
		VoiceHandshakeTimeout:     opts.handshakeTimeout,
		VoiceConnectTimeout:       2 * time.Second,
		VoiceOutboundQueueSize:    32,
		VoiceMaxSessionsPerClient: opts.maxSessions,
	}
	if opts.authRequired {
		cfg.AuthMode = config.AuthModeRequired
		cfg.APIKeys = map[string]struct{}{"sk_test": {}}
	}

	h := &voiceHarness{
		connector: &fakeConnector{},
		registry:  sessions.NewRegistry(logger),
		tracker:   sessions.NewTracker(),
	}
	handler := VoiceHandler{
		Config:    cfg,
		Connector: h.connector,
		Tools:     fakeToolRunner{},
		Persona:   persona.Default(),
		Registry:  h.registry,
		Tracker:   h.tracker,
		Limiter:   ratelimit.New(ratelimit.Config{MaxConcurrentVoiceSessions: opts.maxSessions}),
		Lifecycle: opts.lifecycle,
		Logger:    logger,
	}
	h.server = httptest.NewServer(handler)
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/v1/voice"
	return h, url
}

func mustDialWS(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	return conn
}

func mustWriteJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
}

func mustReadJSON(t *testing.T, conn *websocket.Conn, timeout time.Duration) map[string]any {
	t.Helper()
	out, err := readJSON(conn, timeout)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	return out
}

func readJSON(conn *websocket.Conn, timeout time.Duration) (map[string]any, error) {
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

type fakeConnector struct {
	mu     sync.Mutex
	setups []bridge.Setup
}

func (c *fakeConnector) Connect(ctx context.Context, setup bridge.Setup) (bridge.Upstream, error) {
	c.mu.Lock()
	c.setups = append(c.setups, setup)
	c.mu.Unlock()
	return &fakeUpstream{events: make(chan bridge.Event, 8)}, nil
}

func (c *fakeConnector) connects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.setups)
}

func (c *fakeConnector) lastSetup() bridge.Setup {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.setups) == 0 {
		return bridge.Setup{}
	}
	return c.setups[len(c.setups)-1]
}

type fakeUpstream struct {
	events chan bridge.Event
	once   sync.Once
}

func (u *fakeUpstream) SendAudio([]byte) error                      { return nil }
func (u *fakeUpstream) SendToolResponses([]dispatcher.Result) error { return nil }
func (u *fakeUpstream) Events() <-chan bridge.Event                 { return u.events }
func (u *fakeUpstream) Close() error                                { u.once.Do(func() { close(u.events) }); return nil }

type fakeToolRunner struct{}

func (fakeToolRunner) Dispatch(_ context.Context, _ dispatcher.Caller, call dispatcher.Call) dispatcher.Result {
	return dispatcher.Result{ID: call.ID, Name: call.Name, Payload: map[string]any{"ok": true}}
}

func (fakeToolRunner) Declarations() []*genai.FunctionDeclaration { return nil }
