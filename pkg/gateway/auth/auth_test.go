package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/config"
)

func TestParseBearer(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"", "", false},
		{"Basic abc", "", false},
		{"Bearer ", "", false},
		{"Bearer sk_1", "sk_1", true},
		{"  Bearer   sk_2  ", "sk_2", true},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/v1/chat", nil)
		r.Header.Set("Authorization", tt.header)
		got, ok := ParseBearer(r)
		if got != tt.want || ok != tt.ok {
			t.Fatalf("ParseBearer(%q)=(%q,%v), want (%q,%v)", tt.header, got, ok, tt.want, tt.ok)
		}
	}
}

func TestAuthenticate(t *testing.T) {
	keys := map[string]struct{}{"sk_test": {}}
	required := config.Config{AuthMode: config.AuthModeRequired, APIKeys: keys}
	optional := config.Config{AuthMode: config.AuthModeOptional, APIKeys: keys}

	r := httptest.NewRequest(http.MethodGet, "/v1/voice", nil)
	if _, err := Authenticate(required, r, true); !errors.Is(err, ErrMissingKey) {
		t.Fatalf("required without key: err=%v", err)
	}
	if p, err := Authenticate(optional, r, true); err != nil || p != nil {
		t.Fatalf("optional without key: p=%v err=%v", p, err)
	}
	if p, err := Authenticate(config.Config{AuthMode: config.AuthModeDisabled}, r, false); err != nil || p != nil {
		t.Fatalf("disabled: p=%v err=%v", p, err)
	}

	q := httptest.NewRequest(http.MethodGet, "/v1/voice?api_key=sk_test", nil)
	p, err := Authenticate(required, q, true)
	if err != nil || p == nil || p.APIKey != "sk_test" {
		t.Fatalf("query key: p=%v err=%v", p, err)
	}
	if _, err := Authenticate(required, q, false); !errors.Is(err, ErrMissingKey) {
		t.Fatalf("query key must be ignored when not allowed: err=%v", err)
	}

	bad := httptest.NewRequest(http.MethodPost, "/v1/chat", nil)
	bad.Header.Set("Authorization", "Bearer nope")
	if _, err := Authenticate(optional, bad, false); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("invalid key: err=%v", err)
	}
}

func TestUserID(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/v1/conversations", nil)
	if got := UserID(r); got != "" {
		t.Fatalf("UserID=%q", got)
	}
	r.Header.Set(UserIDHeader, " u1 ")
	if got := UserID(r); got != "u1" {
		t.Fatalf("UserID=%q", got)
	}
}
