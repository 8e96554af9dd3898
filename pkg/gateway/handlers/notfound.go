package handlers

import (
	"net/http"

	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/core"
)

// NotFoundHandler is the mux fallback; unknown routes get the JSON envelope
// instead of net/http's plain text.
type NotFoundHandler struct{}

func (NotFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeCoreErrorJSON(w, requestIDFrom(r), &core.Error{
		Type:    core.ErrNotFound,
		Message: "no route for " + r.Method + " " + r.URL.Path,
		Code:    "route_not_found",
	}, http.StatusNotFound)
}
