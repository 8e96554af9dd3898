package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/core"
	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/apierror"
	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/mw"
)

func coreErrorFrom(err error, reqID string) (*core.Error, int) {
	return apierror.FromError(err, reqID)
}

func writeCoreErrorJSON(w http.ResponseWriter, reqID string, coreErr *core.Error, status int) {
	if coreErr != nil && coreErr.RequestID == "" {
		coreErr.RequestID = reqID
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apierror.Envelope{Error: coreErr})
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	reqID := requestIDFrom(r)
	ce, status := coreErrorFrom(err, reqID)
	writeCoreErrorJSON(w, reqID, ce, status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allow ...string) {
	reqID := requestIDFrom(r)
	w.Header().Set("Allow", strings.Join(allow, ", "))
	writeCoreErrorJSON(w, reqID, &core.Error{
		Type:    core.ErrInvalidRequest,
		Message: "method not allowed",
		Code:    "method_not_allowed",
	}, http.StatusMethodNotAllowed)
}

// decodeBody reads a JSON request body of at most maxBytes.
func decodeBody(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return core.NewInvalidRequestError("request body is too large")
		}
		return core.NewInvalidRequestError("request body must be valid JSON")
	}
	if dec.More() {
		return core.NewInvalidRequestError("request body must contain a single JSON object")
	}
	return nil
}

func requestIDFrom(r *http.Request) string {
	id, _ := mw.RequestIDFrom(r.Context())
	return id
}
