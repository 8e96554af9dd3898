package mw

import (
	"net/http"
	"slices"
	"strings"

	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/core"
)

const (
	apiVersionHeader    = "X-Assistant-Version"
	apiVersionQuery     = "api_version"
	supportedAPIVersion = "1"
)

// APIVersion pins /v1 requests to version 1. Clients may omit the version.
// Browser websockets cannot set headers, so upgrades may pass it as the
// api_version query parameter instead.
func APIVersion(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isV1Path(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set(apiVersionHeader, supportedAPIVersion)
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		if bad := unsupportedVersion(requestedVersions(r)); bad != "" {
			reqID, _ := RequestIDFrom(r.Context())
			writeJSONError(w, http.StatusBadRequest, &core.Error{
				Type:      core.ErrInvalidRequest,
				Message:   "unsupported API version " + bad,
				Param:     apiVersionHeader,
				Code:      "unsupported_version",
				RequestID: reqID,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestedVersions(r *http.Request) []string {
	versions := splitTokens(r.Header.Values(apiVersionHeader))
	if isWebSocketUpgrade(r) {
		versions = append(versions, splitTokens(r.URL.Query()[apiVersionQuery])...)
	}
	return versions
}

func unsupportedVersion(versions []string) string {
	i := slices.IndexFunc(versions, func(v string) bool { return v != supportedAPIVersion })
	if i < 0 {
		return ""
	}
	return versions[i]
}

func isV1Path(path string) bool {
	return path == "/v1" || strings.HasPrefix(path, "/v1/")
}

func isWebSocketUpgrade(r *http.Request) bool {
	return slices.ContainsFunc(splitTokens(r.Header.Values("Connection")), func(t string) bool {
		return strings.EqualFold(t, "upgrade")
	}) && strings.EqualFold(strings.TrimSpace(r.Header.Get("Upgrade")), "websocket")
}

// splitTokens flattens comma-separated header values, dropping blanks.
func splitTokens(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
