package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/config"
	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/lifecycle"
)

const readyPingTimeout = 2 * time.Second

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyHandler reports whether this instance should receive traffic: not
// draining, a reachable database and a usable configuration.
type ReadyHandler struct {
	Config    config.Config
	DB        Pinger
	Lifecycle *lifecycle.Lifecycle
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK            bool     `json:"ok"`
		AuthMode      string   `json:"auth_mode"`
		Database      string   `json:"database"`
		LimitsEnabled bool     `json:"limits_enabled"`
		Draining      bool     `json:"draining,omitempty"`
		Issues        []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)
	status := http.StatusOK

	switch h.Config.AuthMode {
	case config.AuthModeRequired, config.AuthModeOptional, config.AuthModeDisabled:
	default:
		issues = append(issues, "invalid auth_mode")
	}
	if h.Config.AuthMode == config.AuthModeRequired && len(h.Config.APIKeys) == 0 {
		issues = append(issues, "auth_mode=required but no api keys configured")
	}
	if h.Config.MaxBodyBytes <= 0 {
		issues = append(issues, "max_body_bytes must be > 0")
	}
	if h.Config.ReadHeaderTimeout <= 0 || h.Config.ReadTimeout <= 0 || h.Config.HandlerTimeout <= 0 {
		issues = append(issues, "timeouts must be > 0")
	}
	if len(issues) > 0 {
		status = http.StatusInternalServerError
	}

	database := "unconfigured"
	if h.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyPingTimeout)
		err := h.DB.Ping(ctx)
		cancel()
		if err != nil {
			database = "unreachable"
			issues = append(issues, "database ping failed")
			if status == http.StatusOK {
				status = http.StatusServiceUnavailable
			}
		} else {
			database = "ok"
		}
	}

	draining := h.Lifecycle.IsDraining()
	if draining {
		issues = append(issues, "draining")
		if status == http.StatusOK {
			status = http.StatusServiceUnavailable
		}
	}

	limitsEnabled := (h.Config.LimitRPS > 0 && h.Config.LimitBurst > 0) ||
		h.Config.LimitMaxConcurrentRequests > 0 ||
		h.Config.VoiceMaxSessionsPerClient > 0

	writeJSON(w, status, readyResp{
		OK:            status == http.StatusOK,
		AuthMode:      string(h.Config.AuthMode),
		Database:      database,
		LimitsEnabled: limitsEnabled,
		Draining:      draining,
		Issues:        issues,
	})
}
