package mw

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/core"
	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/auth"
	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/config"
)

// Auth validates bearer API keys according to cfg.AuthMode. Websocket
// upgrades pass through: the voice handler authenticates its own handshake
// so it can accept the key as a query parameter.
func Auth(cfg config.Config, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID, _ := RequestIDFrom(r.Context())

		switch cfg.AuthMode {
		case config.AuthModeDisabled:
			next.ServeHTTP(w, r)
			return
		case config.AuthModeOptional, config.AuthModeRequired:
		default:
			writeJSONError(w, http.StatusInternalServerError, &core.Error{
				Type:      core.ErrAPI,
				Message:   "invalid auth_mode",
				RequestID: reqID,
			})
			return
		}
		if publicPaths[r.URL.Path] || r.Method == http.MethodOptions || isWebSocketUpgrade(r) {
			next.ServeHTTP(w, r)
			return
		}

		p, err := auth.Authenticate(cfg, r, false)
		if err != nil {
			ce := &core.Error{Type: core.ErrAuthentication, Message: err.Error(), RequestID: reqID}
			if errors.Is(err, auth.ErrMissingKey) {
				ce.Param = "Authorization"
			}
			writeJSONError(w, http.StatusUnauthorized, ce)
			return
		}
		if p == nil {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
	})
}

type errorEnvelope struct {
	Error *core.Error `json:"error"`
}

func writeJSONError(w http.ResponseWriter, status int, err *core.Error) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{Error: err})
}

// Timeout bounds the request context. Websocket upgrades are exempt; their
// lifetime is governed by the voice bridge.
func Timeout(d time.Duration, next http.Handler) http.Handler {
	if d <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isWebSocketUpgrade(r) {
			next.ServeHTTP(w, r)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), d)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
