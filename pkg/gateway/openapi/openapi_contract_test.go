package openapi

import (
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/core"
	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/live/protocol"
)

type schema struct {
	Type       string            `yaml:"type"`
	Enum       []string          `yaml:"enum"`
	Required   []string          `yaml:"required"`
	Properties map[string]schema `yaml:"properties"`
}

type apiDoc struct {
	OpenAPI    string                    `yaml:"openapi"`
	Paths      map[string]map[string]any `yaml:"paths"`
	Components struct {
		Schemas map[string]schema `yaml:"schemas"`
	} `yaml:"components"`
}

func mustParse(t *testing.T) apiDoc {
	t.Helper()
	var doc apiDoc
	require.NoError(t, yaml.Unmarshal(Document(), &doc))
	require.NotEmpty(t, doc.OpenAPI)
	return doc
}

func TestOpenAPI_DocumentsEveryRoute(t *testing.T) {
	doc := mustParse(t)

	routes := map[string][]string{
		"/healthz":               {"get"},
		"/readyz":                {"get"},
		"/v1/chat":               {"post"},
		"/v1/voice":              {"get"},
		"/v1/tools":              {"get"},
		"/v1/conversations":      {"get"},
		"/v1/conversations/{id}": {"get", "patch", "delete"},
		"/v1/openapi.yaml":       {"get"},
	}
	for path, methods := range routes {
		item, ok := doc.Paths[path]
		require.True(t, ok, "missing path %s", path)
		for _, m := range methods {
			assert.Contains(t, item, m, "%s %s", m, path)
		}
	}
	assert.Len(t, doc.Paths, len(routes))
}

func TestOpenAPI_ErrorTypesMatchCore(t *testing.T) {
	doc := mustParse(t)
	env, ok := doc.Components.Schemas["ErrorEnvelope"]
	require.True(t, ok)
	errSchema := env.Properties["error"]

	for _, typ := range []core.ErrorType{
		core.ErrInvalidRequest,
		core.ErrAuthentication,
		core.ErrPermission,
		core.ErrNotFound,
		core.ErrRateLimit,
		core.ErrAPI,
		core.ErrOverloaded,
		core.ErrUpstream,
	} {
		assert.Contains(t, errSchema.Properties["type"].Enum, string(typ))
	}
	for _, field := range []string{"param", "code", "request_id", "retry_after"} {
		assert.Contains(t, errSchema.Properties, field)
	}
}

func TestOpenAPI_VoiceFramesMatchProtocol(t *testing.T) {
	doc := mustParse(t)

	client := doc.Components.Schemas["VoiceClientMessage"].Properties["type"].Enum
	assert.ElementsMatch(t, []string{protocol.TypeStart, protocol.TypeAudioChunk, protocol.TypeStop}, client)

	server := doc.Components.Schemas["VoiceServerMessage"]
	assert.ElementsMatch(t, []string{
		protocol.TypeReady,
		protocol.TypeAudio,
		protocol.TypeText,
		protocol.TypeTurnComplete,
		protocol.TypeInterrupted,
		protocol.TypeToolResult,
		protocol.TypeError,
		protocol.TypeClosed,
	}, server.Properties["type"].Enum)

	for _, code := range []string{
		protocol.CodeBadRequest,
		protocol.CodeUnsupported,
		protocol.CodeNotReady,
		protocol.CodeSessionClosed,
		protocol.CodeRateLimited,
		protocol.CodeUpstreamError,
		protocol.CodeBackpressure,
		protocol.CodeHandshakeTimeout,
		protocol.CodeShuttingDown,
	} {
		assert.True(t, slices.Contains(server.Properties["code"].Enum, code), "missing voice code %s", code)
	}
}

func TestOpenAPI_ChatResponseFieldsAlwaysPresent(t *testing.T) {
	doc := mustParse(t)
	resp := doc.Components.Schemas["ChatResponse"]
	for name := range resp.Properties {
		assert.Contains(t, resp.Required, name)
	}
}

func TestHandler_ServesDocument(t *testing.T) {
	rr := httptest.NewRecorder()
	Handler{}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/openapi.yaml", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/yaml", rr.Header().Get("Content-Type"))
	assert.Equal(t, Document(), rr.Body.Bytes())

	rr = httptest.NewRecorder()
	Handler{}.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/openapi.yaml", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	assert.Equal(t, "GET, HEAD", rr.Header().Get("Allow"))
}
