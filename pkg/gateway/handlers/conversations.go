package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/core"
	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/auth"
	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/config"
	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/store"
)

type ConversationStore interface {
	ListConversations(ctx context.Context, ownerID string, limit int) ([]store.Conversation, error)
	GetConversation(ctx context.Context, ownerID, id string) (store.Conversation, error)
	DeleteConversation(ctx context.Context, ownerID, id string) error
	RenameConversation(ctx context.Context, ownerID, id, title string) (store.Conversation, error)
}

// ConversationsHandler serves /v1/conversations and /v1/conversations/{id}.
// Conversations are scoped to the X-User-ID header.
type ConversationsHandler struct {
	Config config.Config
	Store  ConversationStore
}

type conversationList struct {
	Conversations []store.Conversation `json:"conversations"`
}

// conversationDetail always carries the messages array, even when empty.
type conversationDetail struct {
	store.Conversation
	Messages []store.Message `json:"messages"`
}

type renameRequest struct {
	Title string `json:"title"`
}

func (h ConversationsHandler) List(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, r, core.NewInvalidRequestErrorWithParam("limit must be a positive integer", "limit"))
			return
		}
		limit = n
	}
	convs, err := h.Store.ListConversations(r.Context(), owner, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conversationList{Conversations: convs})
}

func (h ConversationsHandler) Get(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	conv, err := h.Store.GetConversation(r.Context(), owner, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	msgs := conv.Messages
	if msgs == nil {
		msgs = []store.Message{}
	}
	writeJSON(w, http.StatusOK, conversationDetail{Conversation: conv, Messages: msgs})
}

func (h ConversationsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	if err := h.Store.DeleteConversation(r.Context(), owner, r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h ConversationsHandler) Rename(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	var body renameRequest
	if err := decodeBody(w, r, h.Config.MaxBodyBytes, &body); err != nil {
		writeError(w, r, err)
		return
	}
	conv, err := h.Store.RenameConversation(r.Context(), owner, r.PathValue("id"), body.Title)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h ConversationsHandler) owner(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner := auth.UserID(r)
	if owner == "" {
		writeCoreErrorJSON(w, requestIDFrom(r), &core.Error{
			Type:    core.ErrAuthentication,
			Message: "X-User-ID header is required",
			Param:   auth.UserIDHeader,
		}, http.StatusUnauthorized)
		return "", false
	}
	return owner, true
}
