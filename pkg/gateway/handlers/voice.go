package handlers

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/core"
	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/auth"
	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/config"
	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/lifecycle"
	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/live/bridge"
	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/live/protocol"
	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/live/sessions"
	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/mw"
	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/persona"
	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/principal"
	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/ratelimit"
)

// VoiceHandler handles /v1/voice websocket connections. The first client
// frame must be a start frame; everything after that belongs to the bridge.
type VoiceHandler struct {
	Config    config.Config
	Connector bridge.Connector
	Tools     bridge.ToolRunner
	Persona   *persona.Catalog
	Registry  *sessions.Registry
	Tracker   *sessions.Tracker
	Limiter   *ratelimit.Limiter
	Lifecycle *lifecycle.Lifecycle
	Logger    *slog.Logger
}

func (h VoiceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFrom(r)
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if h.Lifecycle.IsDraining() {
		writeCoreErrorJSON(w, reqID, &core.Error{Type: core.ErrOverloaded, Message: "server is draining", Code: "draining"}, http.StatusServiceUnavailable)
		return
	}
	if !h.originAllowed(r) {
		writeCoreErrorJSON(w, reqID, &core.Error{Type: core.ErrPermission, Message: "origin is not allowed", Param: "Origin"}, http.StatusForbidden)
		return
	}

	p, err := auth.Authenticate(h.Config, r, true)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if p != nil {
		r = r.WithContext(auth.WithPrincipal(r.Context(), p))
	}
	who := principal.Resolve(r, h.Config)

	if h.Limiter != nil && h.Config.VoiceMaxSessionsPerClient > 0 {
		dec := h.Limiter.AcquireVoiceSession(who.Key, time.Now())
		if !dec.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(dec.RetryAfter))
			writeCoreErrorJSON(w, reqID, core.NewRateLimitError("too many active voice sessions", dec.RetryAfter), http.StatusTooManyRequests)
			return
		}
		defer dec.Permit.Release()
	}

	upgrader := websocket.Upgrader{
		// origin was checked above
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	connID := uuid.NewString()
	logger := h.logger().With("conn_id", connID, "request_id", reqID, "principal", who)

	start, ok := h.readStart(conn, logger)
	if !ok {
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	b, err := bridge.New(bridge.Dependencies{
		Conn:      conn,
		ConnID:    connID,
		Start:     start,
		Connector: h.Connector,
		Registry:  h.Registry,
		Tools:     h.Tools,
		Persona:   h.Persona,
		Logger:    logger,
		Config:    h.bridgeConfig(),
	})
	if err != nil {
		logger.Error("voice bridge init failed", "error", err)
		h.writeWSError(conn, "internal", "failed to initialize voice session")
		return
	}

	untrack := h.Tracker.Track(connID, sessions.Control{Cancel: b.Cancel, Warn: b.Warn})
	defer untrack()

	if err := b.Run(); err != nil {
		logger.Warn("voice connection ended with error", "error", err)
	}
}

// readStart waits up to the handshake timeout for the first frame, which must
// be a valid start frame.
func (h VoiceHandler) readStart(conn *websocket.Conn, logger *slog.Logger) (protocol.ClientStart, bool) {
	if h.Config.VoiceMaxJSONMessageBytes > 0 {
		conn.SetReadLimit(h.Config.VoiceMaxJSONMessageBytes)
	}
	timeout := h.Config.VoiceHandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	_ = conn.SetReadDeadline(time.Now().Add(timeout))

	messageType, data, err := conn.ReadMessage()
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			logger.Debug("voice handshake timed out")
			h.writeWSError(conn, protocol.CodeHandshakeTimeout, "no start frame received")
		}
		return protocol.ClientStart{}, false
	}
	if messageType != websocket.TextMessage {
		h.writeWSError(conn, protocol.CodeBadRequest, "first frame must be start")
		return protocol.ClientStart{}, false
	}
	msg, err := protocol.DecodeClientMessage(data, h.Config.VoiceMaxAudioChunkBytes)
	if err != nil {
		code := protocol.CodeBadRequest
		var de *protocol.DecodeError
		if errors.As(err, &de) {
			code = de.Code
		}
		h.writeWSError(conn, code, err.Error())
		return protocol.ClientStart{}, false
	}
	start, ok := msg.(protocol.ClientStart)
	if !ok {
		h.writeWSError(conn, protocol.CodeBadRequest, "first frame must be start")
		return protocol.ClientStart{}, false
	}
	return start, true
}

func (h VoiceHandler) bridgeConfig() bridge.Config {
	return bridge.Config{
		MaxAudioChunkBytes:     h.Config.VoiceMaxAudioChunkBytes,
		MaxJSONMessageBytes:    h.Config.VoiceMaxJSONMessageBytes,
		MaxAudioFPS:            h.Config.VoiceMaxAudioFPS,
		MaxAudioBytesPerSecond: h.Config.VoiceMaxAudioBytesPerSec,
		InboundBurstSeconds:    h.Config.VoiceInboundBurstSeconds,
		PingInterval:           h.Config.VoiceWSPingInterval,
		WriteTimeout:           h.Config.VoiceWSWriteTimeout,
		// two missed pongs end the connection
		ReadTimeout:       2*h.Config.VoiceWSPingInterval + h.Config.VoiceWSWriteTimeout,
		ConnectTimeout:    h.Config.VoiceConnectTimeout,
		ToolTimeout:       h.Config.ToolTimeout,
		OutboundQueueSize: h.Config.VoiceOutboundQueueSize,
	}
}

// originAllowed accepts non-browser clients (no Origin), same-host pages and
// allow-listed origins.
func (h VoiceHandler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	if mw.OriginAllowed(h.Config.CORSAllowedOrigins, origin) {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

func (h VoiceHandler) writeWSError(conn *websocket.Conn, code, message string) {
	deadline := time.Now().Add(2 * time.Second)
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.WriteJSON(protocol.NewError(code, message))
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, code), deadline)
}

func (h VoiceHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}
