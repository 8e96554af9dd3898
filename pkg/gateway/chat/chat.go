// Package chat runs one text chat turn: a bounded model/tool loop over the
// Gemini text model, followed by persistence and a structured summary of what
// the assistant understood.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"google.golang.org/genai"

	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/core"
	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/persona"
	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/store"
	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/tools/dispatcher"
)

const (
	MaxMessageRunes = 2000
	HistoryLimit    = 10
	MaxRounds       = 5

	defaultModelTimeout = 30 * time.Second
	titleRunes          = 60
)

type Model interface {
	GenerateContent(ctx context.Context, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type ToolDispatcher interface {
	DispatchAll(ctx context.Context, caller dispatcher.Caller, calls []dispatcher.Call) []dispatcher.Result
	Declarations() []*genai.FunctionDeclaration
}

// ConversationStore is the part of store.Store a chat turn needs.
type ConversationStore interface {
	EnsureConversation(ctx context.Context, ownerID, id, title string) (store.Conversation, error)
	AppendMessages(ctx context.Context, convID string, msgs ...store.Message) ([]store.Message, error)
	RecentMessages(ctx context.Context, ownerID, convID string, limit int) ([]store.Message, error)
}

type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Request struct {
	Message        string   `json:"message"`
	History        []Turn   `json:"history,omitempty"`
	SessionID      string   `json:"sessionId,omitempty"`
	UserID         string   `json:"userId,omitempty"`
	IsLoggedIn     bool     `json:"isLoggedIn,omitempty"`
	Locale         string   `json:"locale,omitempty"`
	ConversationID string   `json:"conversationId,omitempty"`
	Latitude       *float64 `json:"latitude,omitempty"`
	Longitude      *float64 `json:"longitude,omitempty"`
}

type Options struct {
	Model        Model
	Tools        ToolDispatcher
	Store        ConversationStore
	Persona      *persona.Catalog
	Logger       *slog.Logger
	ModelTimeout time.Duration
	Temperature  *float32
}

type Orchestrator struct {
	model        Model
	tools        ToolDispatcher
	store        ConversationStore
	persona      *persona.Catalog
	logger       *slog.Logger
	modelTimeout time.Duration
	temperature  *float32
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Model == nil {
		return nil, fmt.Errorf("model is required")
	}
	if opts.Tools == nil {
		return nil, fmt.Errorf("tool dispatcher is required")
	}
	if opts.Persona == nil {
		opts.Persona = persona.Default()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ModelTimeout <= 0 {
		opts.ModelTimeout = defaultModelTimeout
	}
	return &Orchestrator{
		model:        opts.Model,
		tools:        opts.Tools,
		store:        opts.Store,
		persona:      opts.Persona,
		logger:       opts.Logger,
		modelTimeout: opts.ModelTimeout,
		temperature:  opts.Temperature,
	}, nil
}

// Validate normalizes req in place. Errors are *core.Error values of type
// invalid_request_error.
func Validate(req *Request) error {
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		return core.NewInvalidRequestErrorWithParam("message is required", "message")
	}
	if utf8.RuneCountInString(req.Message) > MaxMessageRunes {
		return core.NewInvalidRequestErrorWithParam(fmt.Sprintf("message must be at most %d characters", MaxMessageRunes), "message")
	}
	for i := range req.History {
		role := strings.ToLower(strings.TrimSpace(req.History[i].Role))
		if role != store.RoleUser && role != store.RoleAssistant {
			return core.NewInvalidRequestErrorWithParam("history role must be user or assistant", fmt.Sprintf("history[%d].role", i))
		}
		req.History[i].Role = role
	}
	if (req.Latitude == nil) != (req.Longitude == nil) {
		return core.NewInvalidRequestErrorWithParam("latitude and longitude must be sent together", "latitude")
	}
	if req.Latitude != nil && (*req.Latitude < -90 || *req.Latitude > 90) {
		return core.NewInvalidRequestErrorWithParam("latitude must be between -90 and 90", "latitude")
	}
	if req.Longitude != nil && (*req.Longitude < -180 || *req.Longitude > 180) {
		return core.NewInvalidRequestErrorWithParam("longitude must be between -180 and 180", "longitude")
	}
	req.UserID = strings.TrimSpace(req.UserID)
	req.SessionID = strings.TrimSpace(req.SessionID)
	req.ConversationID = strings.TrimSpace(req.ConversationID)
	if strings.TrimSpace(req.Locale) == "" {
		req.Locale = "en"
	}
	return nil
}

// Handle runs one chat turn. The only errors it returns are validation
// errors; model and store failures degrade the response instead.
func (o *Orchestrator) Handle(ctx context.Context, req Request) (*Response, error) {
	if err := Validate(&req); err != nil {
		return nil, err
	}

	locale := o.persona.For(req.Locale)
	authenticated := req.IsLoggedIn && req.UserID != ""
	owner := ownerID(req)
	logger := o.logger.With("session_id", req.SessionID, "locale", locale.Code)

	history := lastTurns(req.History, HistoryLimit)
	if len(history) == 0 && req.ConversationID != "" && owner != "" && o.store != nil {
		history = o.loadHistory(ctx, logger, owner, req.ConversationID)
	}

	caller := dispatcher.Caller{UserID: req.UserID, IsLoggedIn: authenticated, Locale: locale.Code}
	cfg := o.generateConfig(locale, persona.Caller{
		IsLoggedIn: authenticated,
		Latitude:   req.Latitude,
		Longitude:  req.Longitude,
	})
	out := o.runLoop(ctx, logger, caller, cfg, buildContents(history, req.Message))

	answer := strings.TrimSpace(out.text)
	switch {
	case out.upstreamErr != nil:
		logger.Warn("chat model failed", "error", out.upstreamErr, "round", out.rounds, "upstream", core.IsUpstream(out.upstreamErr))
		answer = locale.Fallback
	case out.exhausted:
		logger.Info("chat tool loop exhausted", "rounds", out.rounds)
		if answer == "" {
			answer = locale.ExhaustedReply()
		}
	case answer == "":
		answer = locale.ExhaustedReply()
	}

	resp := summarize(locale, req, authenticated, out, answer)

	if owner != "" && o.store != nil {
		convID, err := o.persist(ctx, owner, req, answer)
		if err != nil {
			logger.Error("persist chat turn", "error", err, "conversation_id", req.ConversationID)
		} else {
			resp.Diagnostics.Persisted = true
		}
		if convID != "" {
			resp.ConversationID = &convID
		}
	}
	return resp, nil
}

// ownerID scopes stored conversations: the user when known, otherwise the
// anonymous client session.
func ownerID(req Request) string {
	if req.UserID != "" {
		return req.UserID
	}
	if req.SessionID != "" {
		return "session:" + req.SessionID
	}
	return ""
}

func lastTurns(history []Turn, limit int) []Turn {
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	out := make([]Turn, 0, len(history))
	for _, t := range history {
		if strings.TrimSpace(t.Content) == "" {
			continue
		}
		out = append(out, t)
	}
	return out
}

func (o *Orchestrator) loadHistory(ctx context.Context, logger *slog.Logger, owner, convID string) []Turn {
	msgs, err := o.store.RecentMessages(ctx, owner, convID, HistoryLimit)
	if err != nil {
		logger.Warn("load conversation history", "error", err, "conversation_id", convID)
		return nil
	}
	turns := make([]Turn, 0, len(msgs))
	for _, m := range msgs {
		turns = append(turns, Turn{Role: m.Role, Content: m.Content})
	}
	return lastTurns(turns, HistoryLimit)
}

func (o *Orchestrator) persist(ctx context.Context, owner string, req Request, answer string) (string, error) {
	conv, err := o.store.EnsureConversation(ctx, owner, req.ConversationID, titleFrom(req.Message))
	if err != nil {
		return "", fmt.Errorf("ensure conversation: %w", err)
	}
	_, err = o.store.AppendMessages(ctx, conv.ID,
		store.Message{Role: store.RoleUser, Content: req.Message},
		store.Message{Role: store.RoleAssistant, Content: answer},
	)
	if err != nil {
		return conv.ID, fmt.Errorf("append messages: %w", err)
	}
	return conv.ID, nil
}

func titleFrom(message string) string {
	message = strings.Join(strings.Fields(message), " ")
	if utf8.RuneCountInString(message) <= titleRunes {
		return message
	}
	r := []rune(message)
	return strings.TrimSpace(string(r[:titleRunes])) + "…"
}

func (o *Orchestrator) generateConfig(locale persona.Locale, c persona.Caller) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(locale.SystemInstruction(c), genai.RoleUser),
		Temperature:       o.temperature,
	}
	if decls := o.tools.Declarations(); len(decls) > 0 {
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return cfg
}

func buildContents(history []Turn, message string) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, t := range history {
		role := genai.Role(genai.RoleUser)
		if t.Role == store.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(t.Content, role))
	}
	return append(contents, genai.NewContentFromText(message, genai.RoleUser))
}
