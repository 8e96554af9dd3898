package mw

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/core"
)

func TestRecover_PanicReturnsCanonicalJSON(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	h := RequestID(Recover(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/chat", nil))

	require.Equal(t, http.StatusInternalServerError, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")
	var env struct {
		Error core.Error `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	assert.Equal(t, core.ErrAPI, env.Error.Type)
	assert.Equal(t, "internal error", env.Error.Message)
	assert.Equal(t, rr.Header().Get("X-Request-ID"), env.Error.RequestID)
	assert.NotContains(t, rr.Body.String(), "boom")

	assert.Contains(t, logs.String(), `"msg":"handler panic"`)
	assert.Contains(t, logs.String(), `"stack"`)
}

func TestRecover_ReraisesAbortHandler(t *testing.T) {
	h := Recover(nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/chat", nil))
	})
}

func TestRequestID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{name: "missing", incoming: ""},
		{name: "caller supplied", incoming: "trace-42", keep: true},
		{name: "too long", incoming: strings.Repeat("a", maxRequestIDBytes+1)},
		{name: "control characters", incoming: "abc\x1b[31m"},
		{name: "inner space", incoming: "a b"},
		{name: "non ascii", incoming: "istek-ğ"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen, _ = RequestIDFrom(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/v1/tools", nil)
			if tt.incoming != "" {
				req.Header.Set("X-Request-ID", tt.incoming)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			assert.Equal(t, seen, rr.Header().Get("X-Request-ID"))
			if tt.keep {
				assert.Equal(t, tt.incoming, seen)
				return
			}
			assert.True(t, strings.HasPrefix(seen, "req_"), seen)
			assert.Len(t, seen, len("req_")+32)
		})
	}
}

func TestTimeout_BoundsContextExceptUpgrades(t *testing.T) {
	var hadDeadline bool
	h := Timeout(time.Minute, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hadDeadline = r.Context().Deadline()
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/chat", nil))
	assert.True(t, hadDeadline, "expected a deadline on plain requests")

	req := httptest.NewRequest(http.MethodGet, "/v1/voice", nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.False(t, hadDeadline, "websocket upgrades must not get a deadline")

	assert.NotNil(t, Timeout(0, h))
}
