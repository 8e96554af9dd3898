package mw

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/core"
)

// Recover turns handler panics into a 500 envelope. http.ErrAbortHandler is
// re-raised so net/http can abort the response as intended.
func Recover(logger *slog.Logger, next http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			if v == http.ErrAbortHandler {
				panic(v)
			}
			reqID, _ := RequestIDFrom(r.Context())
			logger.Error("handler panic",
				"panic", v,
				"request_id", reqID,
				"method", r.Method,
				"path", r.URL.Path,
				"stack", string(debug.Stack()),
			)
			writeJSONError(w, http.StatusInternalServerError, &core.Error{
				Type:      core.ErrAPI,
				Message:   "internal error",
				RequestID: reqID,
			})
		}()
		next.ServeHTTP(w, r)
	})
}
