package bridge

import (
	"context"

	"google.golang.org/genai"

	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/tools/dispatcher"
)

type EventKind int

const (
	EventAudio EventKind = iota + 1
	EventText
	EventTurnComplete
	EventInterrupted
	EventToolCall
	EventError
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventAudio:
		return "audio"
	case EventText:
		return "text"
	case EventTurnComplete:
		return "turn-complete"
	case EventInterrupted:
		return "interrupted"
	case EventToolCall:
		return "tool-call"
	case EventError:
		return "error"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is one upstream occurrence in the bridge's vocabulary. Vendor message
// shapes never cross this boundary.
type Event struct {
	Kind     EventKind
	Audio    []byte
	MIMEType string
	Text     string
	Calls    []dispatcher.Call
	Err      error
}

// Setup configures one upstream session.
type Setup struct {
	Locale            string
	Voice             string
	LanguageCode      string
	SystemInstruction string
	Tools             []*genai.FunctionDeclaration
	// PriorContext summarizes earlier turns; it is injected as a synthetic
	// user turn that does not trigger a reply.
	PriorContext string
}

// Upstream is a live duplex model session. Events is closed when the session
// ends; Close may be called more than once.
type Upstream interface {
	SendAudio(pcm []byte) error
	SendToolResponses(results []dispatcher.Result) error
	Events() <-chan Event
	Close() error
}

type Connector interface {
	Connect(ctx context.Context, setup Setup) (Upstream, error)
}

// ToolRunner executes model tool calls. Dispatch never fails; errors travel
// in the result payload.
type ToolRunner interface {
	Dispatch(ctx context.Context, caller dispatcher.Caller, call dispatcher.Call) dispatcher.Result
	Declarations() []*genai.FunctionDeclaration
}
