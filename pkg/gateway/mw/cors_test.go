package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/config"
)

func corsConfig(origins ...string) config.Config {
	cfg := config.Config{CORSAllowedOrigins: map[string]struct{}{}}
	for _, o := range origins {
		cfg.CORSAllowedOrigins[o] = struct{}{}
	}
	return cfg
}

func TestCORS_SimpleRequests(t *testing.T) {
	tests := []struct {
		name       string
		cfg        config.Config
		origin     string
		wantOrigin string
	}{
		{name: "disabled", cfg: corsConfig(), origin: "http://localhost:3000"},
		{name: "allow-listed", cfg: corsConfig("http://localhost:3000"), origin: "http://localhost:3000", wantOrigin: "http://localhost:3000"},
		{name: "wildcard subdomain", cfg: corsConfig("https://*.example.com"), origin: "https://app.example.com", wantOrigin: "https://app.example.com"},
		{name: "other origin", cfg: corsConfig("http://localhost:3000"), origin: "https://evil.example.com"},
		{name: "no origin", cfg: corsConfig("http://localhost:3000")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			h := CORS(tt.cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			}))
			req := httptest.NewRequest(http.MethodGet, "/v1/chat", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			assert.True(t, called, "simple requests always reach the handler")
			assert.Equal(t, tt.wantOrigin, rr.Header().Get("Access-Control-Allow-Origin"))
			if tt.wantOrigin != "" {
				assert.Equal(t, "Origin", rr.Header().Get("Vary"))
				assert.Contains(t, rr.Header().Get("Access-Control-Expose-Headers"), "Retry-After")
			} else {
				assert.Empty(t, rr.Header().Get("Access-Control-Expose-Headers"))
			}
		})
	}
}

func TestCORS_Preflight(t *testing.T) {
	h := CORS(corsConfig("https://app.example.com"), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler should not be called for preflight")
	}))

	preflight := func(origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/v1/conversations/c1", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", "PATCH")
		req.Header.Set("Access-Control-Request-Headers", "Authorization, X-User-ID")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	rr := preflight("https://app.example.com")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "https://app.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rr.Header().Get("Access-Control-Allow-Methods"), "PATCH")
	assert.Contains(t, rr.Header().Get("Access-Control-Allow-Headers"), "X-User-ID")
	assert.Contains(t, rr.Header().Get("Access-Control-Allow-Headers"), "X-Assistant-Version")
	assert.Equal(t, corsMaxAge, rr.Header().Get("Access-Control-Max-Age"))

	rr = preflight("https://evil.example.com")
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Contains(t, rr.Body.String(), `"type":"permission_error"`)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_PlainOptionsPassesThrough(t *testing.T) {
	called := false
	h := CORS(corsConfig(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodOptions, "/v1/chat", nil))
	assert.True(t, called)
}

func TestOriginAllowed(t *testing.T) {
	allowed := map[string]struct{}{
		"https://app.example.com": {},
		"https://*.workbeex.test": {},
	}
	tests := []struct {
		origin string
		want   bool
	}{
		{"https://app.example.com", true},
		{"HTTPS://APP.EXAMPLE.COM", true},
		{"https://eu.workbeex.test", true},
		{"https://a.b.workbeex.test", true},
		{"https://workbeex.test", false},
		{"http://eu.workbeex.test", false},
		{"https://evilworkbeex.test", false},
		{"https://evil.example.com", false},
		{"", false},
		{"::not a url", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, OriginAllowed(allowed, tt.origin), tt.origin)
	}
	assert.False(t, OriginAllowed(nil, "https://app.example.com"), "empty allow-list must deny")
}
