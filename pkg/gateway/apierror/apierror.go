// Package apierror turns internal errors into the public error envelope.
package apierror

import (
	"context"
	"errors"
	"net/http"

	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/core"
	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/auth"
	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/store"
)

// StatusOverloaded is the non-standard status used for core.ErrOverloaded.
const StatusOverloaded = 529

type Envelope struct {
	Error *core.Error `json:"error"`
}

// sentinel describes how a package-level error value is presented. An empty
// message means the error's own text is safe to show.
type sentinel struct {
	target  error
	typ     core.ErrorType
	status  int
	message string
	param   string
	code    string
}

var sentinels = []sentinel{
	{target: context.DeadlineExceeded, typ: core.ErrAPI, status: http.StatusGatewayTimeout, message: "request timeout"},
	{target: context.Canceled, typ: core.ErrAPI, status: http.StatusRequestTimeout, message: "request cancelled", code: "cancelled"},
	{target: store.ErrNotFound, typ: core.ErrNotFound, status: http.StatusNotFound, message: "conversation not found"},
	{target: store.ErrInvalidTitle, typ: core.ErrInvalidRequest, status: http.StatusBadRequest, param: "title"},
	{target: auth.ErrMissingKey, typ: core.ErrAuthentication, status: http.StatusUnauthorized, param: "Authorization"},
	{target: auth.ErrInvalidKey, typ: core.ErrAuthentication, status: http.StatusUnauthorized},
}

var statusByType = map[core.ErrorType]int{
	core.ErrInvalidRequest: http.StatusBadRequest,
	core.ErrAuthentication: http.StatusUnauthorized,
	core.ErrPermission:     http.StatusForbidden,
	core.ErrNotFound:       http.StatusNotFound,
	core.ErrRateLimit:      http.StatusTooManyRequests,
	core.ErrOverloaded:     StatusOverloaded,
	core.ErrUpstream:       http.StatusBadGateway,
	core.ErrAPI:            http.StatusInternalServerError,
}

// FromError returns the client-facing error for err and its HTTP status.
// Context errors win over anything they wrap; unknown errors are reported
// as a bare internal error.
func FromError(err error, requestID string) (*core.Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	for _, s := range sentinels[:2] {
		if errors.Is(err, s.target) {
			return s.render(err, requestID)
		}
	}

	var coreErr *core.Error
	if errors.As(err, &coreErr) && coreErr != nil {
		out := *coreErr
		out.RequestID = requestID
		if out.Type == core.ErrUpstream {
			// upstream messages can carry provider internals
			out.Message = "language model unavailable"
		}
		return &out, StatusFor(out.Type)
	}

	for _, s := range sentinels[2:] {
		if errors.Is(err, s.target) {
			return s.render(err, requestID)
		}
	}

	return &core.Error{
		Type:      core.ErrAPI,
		Message:   "internal error",
		RequestID: requestID,
	}, http.StatusInternalServerError
}

// StatusFor maps an error type to its HTTP status.
func StatusFor(t core.ErrorType) int {
	if status, ok := statusByType[t]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func (s sentinel) render(err error, requestID string) (*core.Error, int) {
	msg := s.message
	if msg == "" {
		msg = err.Error()
	}
	return &core.Error{
		Type:      s.typ,
		Message:   msg,
		Param:     s.param,
		Code:      s.code,
		RequestID: requestID,
	}, s.status
}
