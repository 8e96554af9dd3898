package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/config"
)

// UserIDHeader carries the marketplace user id set by the web frontend after
// its own session check. The gateway does not issue or verify user tokens.
const UserIDHeader = "X-User-ID"

var (
	ErrMissingKey = errors.New("missing bearer token")
	ErrInvalidKey = errors.New("invalid api key")
)

type Principal struct {
	APIKey string
}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(*Principal)
	return p, ok && p != nil
}

func ParseBearer(r *http.Request) (string, bool) {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if authz == "" {
		return "", false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(authz, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authz, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}

// Authenticate checks the caller's API key against cfg. Browsers cannot set
// headers on a websocket handshake, so the key may also arrive as the
// api_key query parameter. A nil principal with a nil error means an
// anonymous caller that the auth mode permits.
func Authenticate(cfg config.Config, r *http.Request, allowQuery bool) (*Principal, error) {
	if cfg.AuthMode == config.AuthModeDisabled {
		return nil, nil
	}
	token, ok := ParseBearer(r)
	if !ok && allowQuery {
		token = strings.TrimSpace(r.URL.Query().Get("api_key"))
		ok = token != ""
	}
	if !ok {
		if cfg.AuthMode == config.AuthModeRequired {
			return nil, ErrMissingKey
		}
		return nil, nil
	}
	if _, known := cfg.APIKeys[token]; !known {
		return nil, ErrInvalidKey
	}
	return &Principal{APIKey: token}, nil
}

// UserID returns the marketplace user for conversation scoping, or "".
func UserID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(UserIDHeader))
}
