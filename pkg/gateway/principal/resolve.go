// Package principal identifies who is calling for rate limiting and voice
// session caps: the API key when one was presented, else the client address.
package principal

import (
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/auth"
	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/config"
	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/ratelimit"
)

type Kind string

const (
	KindAPIKey Kind = "api_key"
	KindIP     Kind = "ip"
	KindAnon   Kind = "anonymous"
)

type Resolved struct {
	Kind Kind
	// Raw is the API key or IP. It must not be logged.
	Raw string
	// Key is the hashed or bucketed identifier used by the limiter.
	Key string
	// UserID is the marketplace user named by X-User-ID. It scopes data and
	// is never used as a limiter key since clients can set it freely.
	UserID string
}

// LogValue keeps Raw out of structured logs.
func (p Resolved) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("kind", string(p.Kind)),
		slog.String("key", p.Key),
	)
}

func Resolve(r *http.Request, cfg config.Config) Resolved {
	if r == nil {
		return Resolved{Kind: KindAnon, Key: ratelimit.PrincipalKeyFromIP("")}
	}
	userID := auth.UserID(r)

	if p, ok := auth.PrincipalFrom(r.Context()); ok && strings.TrimSpace(p.APIKey) != "" {
		return Resolved{
			Kind:   KindAPIKey,
			Raw:    p.APIKey,
			Key:    ratelimit.PrincipalKeyFromAPIKey(p.APIKey),
			UserID: userID,
		}
	}

	ip := clientIP(r, cfg.TrustProxyHeaders)
	if ip == "" {
		return Resolved{Kind: KindAnon, Key: ratelimit.PrincipalKeyFromIP(""), UserID: userID}
	}
	return Resolved{
		Kind:   KindIP,
		Raw:    ip,
		Key:    ratelimit.PrincipalKeyFromIP(ip),
		UserID: userID,
	}
}

func clientIP(r *http.Request, trustProxyHeaders bool) string {
	if trustProxyHeaders {
		for _, h := range []string{"CF-Connecting-IP", "X-Real-IP"} {
			if ip := parseIP(r.Header.Get(h)); ip != "" {
				return ip
			}
		}
		if raw := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); raw != "" {
			// left-most entry is the original client
			if ip := parseIP(strings.Split(raw, ",")[0]); ip != "" {
				return ip
			}
		}
	}
	return parseIP(r.RemoteAddr)
}

func parseIP(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if h, _, err := net.SplitHostPort(s); err == nil {
		s = h
	}
	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return ""
	}
	return ip.String()
}
