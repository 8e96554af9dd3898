package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeOptional AuthMode = "optional"
	AuthModeDisabled AuthMode = "disabled"
)

type DBDriver string

const (
	DBDriverPostgres DBDriver = "pgx"
	DBDriverSQLite   DBDriver = "sqlite3"
)

type Config struct {
	Addr string

	AuthMode AuthMode
	APIKeys  map[string]struct{}

	// If true, client identity may be derived from proxy headers like X-Forwarded-For.
	// Only enable behind a trusted proxy/LB.
	TrustProxyHeaders bool

	MaxBodyBytes int64

	// CORS and websocket origin allowlist. Empty => CORS disabled, same-origin websocket only.
	CORSAllowedOrigins map[string]struct{}

	LogLevel  string
	LogFormat string

	// Gemini.
	GeminiAPIKey string
	ChatModel    string
	LiveModel    string
	ChatTimeout  time.Duration
	ToolTimeout  time.Duration

	// Persona catalog override (YAML). Empty => embedded default.
	PersonaFile string

	// Storage.
	DBDriver         DBDriver
	DatabaseURL      string
	DBMaxOpenConns   int
	DBAutoMigrate    bool
	DBConnectTimeout time.Duration

	// Voice websocket (/v1/voice).
	VoiceMaxAudioChunkBytes   int
	VoiceMaxJSONMessageBytes  int64
	VoiceMaxAudioFPS          int
	VoiceMaxAudioBytesPerSec  int64
	VoiceInboundBurstSeconds  int
	VoiceWSPingInterval       time.Duration
	VoiceWSWriteTimeout       time.Duration
	VoiceHandshakeTimeout     time.Duration
	VoiceConnectTimeout       time.Duration
	VoiceOutboundQueueSize    int
	VoiceMaxSessionsPerClient int

	// In-memory limits (per principal).
	LimitRPS                   float64
	LimitBurst                 int
	LimitMaxConcurrentRequests int

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	HandlerTimeout      time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                       envOr("ASSISTANT_ADDR", ":8080"),
		AuthMode:                   AuthMode(envOr("ASSISTANT_AUTH_MODE", string(AuthModeDisabled))),
		APIKeys:                    make(map[string]struct{}),
		TrustProxyHeaders:          envBoolOr("ASSISTANT_TRUST_PROXY_HEADERS", false),
		MaxBodyBytes:               envInt64Or("ASSISTANT_MAX_BODY_BYTES", 256<<10), // 256 KiB
		CORSAllowedOrigins:         make(map[string]struct{}),
		LogLevel:                   strings.ToLower(envOr("LOG_LEVEL", "info")),
		LogFormat:                  strings.ToLower(envOr("LOG_FORMAT", "json")),
		GeminiAPIKey:               envOr("GEMINI_API_KEY", os.Getenv("GOOGLE_API_KEY")),
		ChatModel:                  envOr("ASSISTANT_CHAT_MODEL", "gemini-2.5-flash"),
		LiveModel:                  envOr("ASSISTANT_LIVE_MODEL", "gemini-live-2.5-flash-preview"),
		ChatTimeout:                envDurationOr("ASSISTANT_CHAT_TIMEOUT", 45*time.Second),
		ToolTimeout:                envDurationOr("ASSISTANT_TOOL_TIMEOUT", 10*time.Second),
		PersonaFile:                envOr("PERSONA_FILE", ""),
		DBDriver:                   DBDriver(envOr("DATABASE_DRIVER", string(DBDriverSQLite))),
		DatabaseURL:                envOr("DATABASE_URL", "file:assistant.db"),
		DBMaxOpenConns:             envIntOr("DATABASE_MAX_OPEN_CONNS", 10),
		DBAutoMigrate:              envBoolOr("DATABASE_AUTO_MIGRATE", true),
		DBConnectTimeout:           envDurationOr("DATABASE_CONNECT_TIMEOUT", 10*time.Second),
		VoiceMaxAudioChunkBytes:    envIntOr("ASSISTANT_VOICE_MAX_AUDIO_CHUNK_BYTES", 32*1024),
		VoiceMaxJSONMessageBytes:   envInt64Or("ASSISTANT_VOICE_MAX_JSON_MESSAGE_BYTES", 128*1024),
		VoiceMaxAudioFPS:           envIntOr("ASSISTANT_VOICE_MAX_AUDIO_FPS", 100),
		VoiceMaxAudioBytesPerSec:   envInt64Or("ASSISTANT_VOICE_MAX_AUDIO_BPS", 96*1024),
		VoiceInboundBurstSeconds:   envIntOr("ASSISTANT_VOICE_INBOUND_BURST_SECONDS", 2),
		VoiceWSPingInterval:        envDurationOr("ASSISTANT_VOICE_WS_PING_INTERVAL", 20*time.Second),
		VoiceWSWriteTimeout:        envDurationOr("ASSISTANT_VOICE_WS_WRITE_TIMEOUT", 5*time.Second),
		VoiceHandshakeTimeout:      envDurationOr("ASSISTANT_VOICE_HANDSHAKE_TIMEOUT", 10*time.Second),
		VoiceConnectTimeout:        envDurationOr("ASSISTANT_VOICE_CONNECT_TIMEOUT", 15*time.Second),
		VoiceOutboundQueueSize:     envIntOr("ASSISTANT_VOICE_OUTBOUND_QUEUE", 256),
		VoiceMaxSessionsPerClient:  envIntOr("ASSISTANT_VOICE_MAX_SESSIONS_PER_CLIENT", 2),
		LimitRPS:                   envFloat64Or("ASSISTANT_RATE_LIMIT_RPS", 2.0),
		LimitBurst:                 envIntOr("ASSISTANT_RATE_LIMIT_BURST", 6),
		LimitMaxConcurrentRequests: envIntOr("ASSISTANT_MAX_CONCURRENT_REQUESTS", 8),
		ReadHeaderTimeout:          envDurationOr("ASSISTANT_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:                envDurationOr("ASSISTANT_READ_TIMEOUT", 30*time.Second),
		HandlerTimeout:             envDurationOr("ASSISTANT_HANDLER_TIMEOUT", 90*time.Second),
		ShutdownGracePeriod:        envDurationOr("ASSISTANT_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	switch cfg.AuthMode {
	case AuthModeRequired, AuthModeOptional, AuthModeDisabled:
	default:
		return Config{}, fmt.Errorf("ASSISTANT_AUTH_MODE must be one of required|optional|disabled")
	}

	switch cfg.DBDriver {
	case DBDriverPostgres, DBDriverSQLite:
	case "postgres", "postgresql":
		cfg.DBDriver = DBDriverPostgres
	case "sqlite":
		cfg.DBDriver = DBDriverSQLite
	default:
		return Config{}, fmt.Errorf("DATABASE_DRIVER must be one of pgx|sqlite3")
	}

	switch cfg.LogFormat {
	case "json", "text":
	default:
		return Config{}, fmt.Errorf("LOG_FORMAT must be one of json|text")
	}

	for _, key := range splitCSV(os.Getenv("ASSISTANT_API_KEYS")) {
		cfg.APIKeys[key] = struct{}{}
	}
	for _, origin := range splitCSV(os.Getenv("ASSISTANT_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[strings.ToLower(strings.TrimRight(origin, "/"))] = struct{}{}
	}

	if cfg.MaxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("ASSISTANT_MAX_BODY_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.ChatModel) == "" || strings.TrimSpace(cfg.LiveModel) == "" {
		return Config{}, fmt.Errorf("ASSISTANT_CHAT_MODEL and ASSISTANT_LIVE_MODEL must not be empty")
	}
	if cfg.ChatTimeout <= 0 {
		return Config{}, fmt.Errorf("ASSISTANT_CHAT_TIMEOUT must be > 0")
	}
	if cfg.ToolTimeout <= 0 {
		return Config{}, fmt.Errorf("ASSISTANT_TOOL_TIMEOUT must be > 0")
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return Config{}, fmt.Errorf("DATABASE_URL must not be empty")
	}
	if cfg.DBMaxOpenConns <= 0 {
		return Config{}, fmt.Errorf("DATABASE_MAX_OPEN_CONNS must be > 0")
	}
	if cfg.DBConnectTimeout <= 0 {
		return Config{}, fmt.Errorf("DATABASE_CONNECT_TIMEOUT must be > 0")
	}
	if cfg.VoiceMaxAudioChunkBytes <= 0 {
		return Config{}, fmt.Errorf("ASSISTANT_VOICE_MAX_AUDIO_CHUNK_BYTES must be > 0")
	}
	if cfg.VoiceMaxJSONMessageBytes <= 0 {
		return Config{}, fmt.Errorf("ASSISTANT_VOICE_MAX_JSON_MESSAGE_BYTES must be > 0")
	}
	if cfg.VoiceMaxAudioFPS < 0 {
		return Config{}, fmt.Errorf("ASSISTANT_VOICE_MAX_AUDIO_FPS must be >= 0")
	}
	if cfg.VoiceMaxAudioBytesPerSec < 0 {
		return Config{}, fmt.Errorf("ASSISTANT_VOICE_MAX_AUDIO_BPS must be >= 0")
	}
	if (cfg.VoiceMaxAudioFPS > 0 || cfg.VoiceMaxAudioBytesPerSec > 0) && cfg.VoiceInboundBurstSeconds < 1 {
		return Config{}, fmt.Errorf("ASSISTANT_VOICE_INBOUND_BURST_SECONDS must be >= 1 when inbound audio limits are enabled")
	}
	if cfg.VoiceWSPingInterval <= 0 {
		return Config{}, fmt.Errorf("ASSISTANT_VOICE_WS_PING_INTERVAL must be > 0")
	}
	if cfg.VoiceWSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("ASSISTANT_VOICE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.VoiceHandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("ASSISTANT_VOICE_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.VoiceConnectTimeout <= 0 {
		return Config{}, fmt.Errorf("ASSISTANT_VOICE_CONNECT_TIMEOUT must be > 0")
	}
	if cfg.VoiceOutboundQueueSize <= 0 {
		return Config{}, fmt.Errorf("ASSISTANT_VOICE_OUTBOUND_QUEUE must be > 0")
	}
	if cfg.VoiceMaxSessionsPerClient < 0 {
		return Config{}, fmt.Errorf("ASSISTANT_VOICE_MAX_SESSIONS_PER_CLIENT must be >= 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("ASSISTANT_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("ASSISTANT_READ_TIMEOUT must be > 0")
	}
	if cfg.HandlerTimeout <= 0 {
		return Config{}, fmt.Errorf("ASSISTANT_HANDLER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("ASSISTANT_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	if cfg.LimitRPS < 0 {
		return Config{}, fmt.Errorf("ASSISTANT_RATE_LIMIT_RPS must be >= 0")
	}
	if cfg.LimitBurst < 0 {
		return Config{}, fmt.Errorf("ASSISTANT_RATE_LIMIT_BURST must be >= 0")
	}
	if cfg.LimitMaxConcurrentRequests < 0 {
		return Config{}, fmt.Errorf("ASSISTANT_MAX_CONCURRENT_REQUESTS must be >= 0")
	}

	if cfg.AuthMode == AuthModeRequired && len(cfg.APIKeys) == 0 {
		return Config{}, fmt.Errorf("ASSISTANT_API_KEYS must be set when ASSISTANT_AUTH_MODE=required")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
