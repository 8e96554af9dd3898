// Package openapi embeds and serves the gateway's OpenAPI document.
package openapi

import (
	_ "embed"
	"encoding/json"
	"net/http"

	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/core"
)

//go:embed openapi.yaml
var document []byte

// Document returns a copy of the embedded OpenAPI document.
func Document() []byte {
	out := make([]byte, len(document))
	copy(out, document)
	return out
}

// Handler serves the document at GET /v1/openapi.yaml.
type Handler struct{}

func (Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusMethodNotAllowed)
		_ = json.NewEncoder(w).Encode(map[string]*core.Error{"error": {
			Type:    core.ErrInvalidRequest,
			Message: "method not allowed",
			Code:    "method_not_allowed",
		}})
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write(document)
}
