// Package server assembles the gateway's routes and middleware chain.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/config"
	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/handlers"
	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/lifecycle"
	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/live/bridge"
	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/live/protocol"
	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/live/sessions"
	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/mw"
	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/openapi"
	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/persona"
	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/ratelimit"
)

// Dependencies are the long-lived components the routes are served from.
type Dependencies struct {
	Chat          handlers.ChatRunner
	Conversations handlers.ConversationStore
	Tools         bridge.ToolRunner
	Connector     bridge.Connector
	Persona       *persona.Catalog
	DB            handlers.Pinger
	Registry      *sessions.Registry
	Tracker       *sessions.Tracker
	Lifecycle     *lifecycle.Lifecycle
}

type Server struct {
	cfg     config.Config
	logger  *slog.Logger
	mux     *http.ServeMux
	deps    Dependencies
	limiter *ratelimit.Limiter
}

func New(cfg config.Config, logger *slog.Logger, deps Dependencies) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Persona == nil {
		deps.Persona = persona.Default()
	}
	if deps.Registry == nil {
		deps.Registry = sessions.NewRegistry(logger)
	}
	if deps.Tracker == nil {
		deps.Tracker = sessions.NewTracker()
	}
	if deps.Lifecycle == nil {
		deps.Lifecycle = &lifecycle.Lifecycle{}
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
		mux:    http.NewServeMux(),
		deps:   deps,
		limiter: ratelimit.New(ratelimit.Config{
			RPS:                        cfg.LimitRPS,
			Burst:                      cfg.LimitBurst,
			MaxConcurrentRequests:      cfg.LimitMaxConcurrentRequests,
			MaxConcurrentVoiceSessions: cfg.VoiceMaxSessionsPerClient,
		}),
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/", handlers.NotFoundHandler{})
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{Config: s.cfg, DB: s.deps.DB, Lifecycle: s.deps.Lifecycle})
	s.mux.Handle("/v1/openapi.yaml", openapi.Handler{})

	if s.deps.Chat != nil {
		s.mux.Handle("/v1/chat", handlers.ChatHandler{
			Config: s.cfg,
			Chat:   s.deps.Chat,
			Logger: s.logger,
		})
	}

	if s.deps.Conversations != nil {
		conv := handlers.ConversationsHandler{Config: s.cfg, Store: s.deps.Conversations}
		s.mux.HandleFunc("GET /v1/conversations", conv.List)
		s.mux.HandleFunc("GET /v1/conversations/{id}", conv.Get)
		s.mux.HandleFunc("DELETE /v1/conversations/{id}", conv.Delete)
		s.mux.HandleFunc("PATCH /v1/conversations/{id}", conv.Rename)
	}

	if s.deps.Tools != nil {
		s.mux.Handle("/v1/tools", handlers.ToolsHandler{Tools: s.deps.Tools})
	}

	if s.deps.Connector != nil && s.deps.Tools != nil {
		s.mux.Handle("/v1/voice", handlers.VoiceHandler{
			Config:    s.cfg,
			Connector: s.deps.Connector,
			Tools:     s.deps.Tools,
			Persona:   s.deps.Persona,
			Registry:  s.deps.Registry,
			Tracker:   s.deps.Tracker,
			Limiter:   s.limiter,
			Lifecycle: s.deps.Lifecycle,
			Logger:    s.logger,
		})
	}
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Timeout(s.cfg.HandlerTimeout, h)
	h = mw.RateLimit(s.cfg, s.limiter, s.logger, h)
	h = mw.Auth(s.cfg, h)
	h = mw.APIVersion(h)
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// Drain fails readiness and refuses new voice sessions from now on. It
// reports false if the server was already draining.
func (s *Server) Drain() bool {
	return s.deps.Lifecycle.Drain(time.Now())
}

// WarnVoiceSessions tells every open voice session the server is going away.
func (s *Server) WarnVoiceSessions() int {
	return s.deps.Tracker.WarnAll(protocol.CodeShuttingDown, "server is shutting down")
}

func (s *Server) WaitVoiceSessions(ctx context.Context) bool {
	return s.deps.Tracker.Wait(ctx)
}

func (s *Server) CancelVoiceSessions() int {
	return s.deps.Tracker.CancelAll()
}

// CloseUpstreams releases any upstream sessions still held by the registry.
func (s *Server) CloseUpstreams() int {
	return s.deps.Registry.CloseAll()
}
