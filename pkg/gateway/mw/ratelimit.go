package mw

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/core"
	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/config"
	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/principal"
	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/ratelimit"
)

// publicPaths are probes and static documents. They skip auth and rate
// limiting so orchestrators can reach them without a key.
var publicPaths = map[string]bool{
	"/healthz":         true,
	"/readyz":          true,
	"/v1/openapi.yaml": true,
}

// RateLimit applies the per-principal token bucket and in-flight cap to
// HTTP requests. Voice websockets are capped by the voice handler instead,
// since a session outlives any request budget.
func RateLimit(cfg config.Config, limiter *ratelimit.Limiter, logger *slog.Logger, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	if logger == nil {
		logger = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if publicPaths[r.URL.Path] || r.Method == http.MethodOptions || isWebSocketUpgrade(r) {
			next.ServeHTTP(w, r)
			return
		}

		who := principal.Resolve(r, cfg)
		dec := limiter.AcquireRequest(who.Key, time.Now())
		if !dec.Allowed {
			reqID, _ := RequestIDFrom(r.Context())
			logger.Debug("request rate limited", "request_id", reqID, "principal", who, "retry_after", dec.RetryAfter)
			w.Header().Set("Retry-After", strconv.Itoa(max(1, dec.RetryAfter)))
			ce := core.NewRateLimitError("rate limit exceeded", max(1, dec.RetryAfter))
			ce.RequestID = reqID
			writeJSONError(w, http.StatusTooManyRequests, ce)
			return
		}
		defer dec.Permit.Release()

		next.ServeHTTP(w, r)
	})
}
