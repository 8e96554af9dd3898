package handlers

import (
	"net/http"

	"google.golang.org/genai"
)

type DeclarationLister interface {
	Declarations() []*genai.FunctionDeclaration
}

// ToolsHandler serves GET /v1/tools: the function declarations the model sees.
type ToolsHandler struct {
	Tools DeclarationLister
}

func (h ToolsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	decls := h.Tools.Declarations()
	if decls == nil {
		decls = []*genai.FunctionDeclaration{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": decls})
}
