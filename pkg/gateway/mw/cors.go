package mw

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/core"
	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/auth"
	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/config"
)

const (
	corsAllowedMethods = "GET, POST, PATCH, DELETE, OPTIONS"
	corsExposedHeaders = "X-Request-ID, Retry-After, " + apiVersionHeader
	corsMaxAge         = "600"
)

var corsAllowedHeaders = strings.Join([]string{
	"Authorization",
	"Content-Type",
	"X-Request-ID",
	auth.UserIDHeader,
	apiVersionHeader,
}, ", ")

// CORS answers preflights and decorates responses for allow-listed origins.
// An empty allow-list disables CORS.
func CORS(cfg config.Config, next http.Handler) http.Handler {
	allowed := cfg.CORSAllowedOrigins
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
		ok := OriginAllowed(allowed, origin)

		if ok {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
		}
		if !preflight {
			if ok {
				w.Header().Set("Access-Control-Expose-Headers", corsExposedHeaders)
			}
			next.ServeHTTP(w, r)
			return
		}

		if !ok {
			reqID, _ := RequestIDFrom(r.Context())
			writeJSONError(w, http.StatusForbidden, &core.Error{
				Type:      core.ErrPermission,
				Message:   "origin not allowed",
				Param:     "Origin",
				RequestID: reqID,
			})
			return
		}
		h := w.Header()
		h.Set("Access-Control-Allow-Methods", corsAllowedMethods)
		h.Set("Access-Control-Allow-Headers", corsAllowedHeaders)
		h.Set("Access-Control-Max-Age", corsMaxAge)
		w.WriteHeader(http.StatusNoContent)
	})
}

// OriginAllowed reports whether origin matches the allow-list. Entries are
// exact origins or a scheme plus "*." wildcard host such as
// "https://*.example.com", which matches subdomains but not the apex. It is
// shared with the voice websocket origin check.
func OriginAllowed(allowed map[string]struct{}, origin string) bool {
	if origin == "" || len(allowed) == 0 {
		return false
	}
	origin = strings.ToLower(origin)
	if _, ok := allowed[origin]; ok {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	for entry := range allowed {
		scheme, host, found := strings.Cut(strings.ToLower(entry), "://*.")
		if !found || scheme != u.Scheme {
			continue
		}
		if strings.HasSuffix(u.Host, "."+host) {
			return true
		}
	}
	return false
}
