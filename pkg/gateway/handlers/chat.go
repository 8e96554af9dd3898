package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/chat"
	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/config"
)

type ChatRunner interface {
	Handle(ctx context.Context, req chat.Request) (*chat.Response, error)
}

// ChatHandler serves POST /v1/chat.
type ChatHandler struct {
	Config config.Config
	Chat   ChatRunner
	Logger *slog.Logger
}

func (h ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req chat.Request
	if err := decodeBody(w, r, h.Config.MaxBodyBytes, &req); err != nil {
		writeError(w, r, err)
		return
	}

	resp, err := h.Chat.Handle(r.Context(), req)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Debug("chat request rejected", "request_id", requestIDFrom(r), "error", err)
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
