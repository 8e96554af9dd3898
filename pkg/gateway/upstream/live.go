package upstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"google.golang.org/genai"

	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/core"
	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/live/bridge"
	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/live/protocol"
	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/tools/dispatcher"
)

const liveEventBuffer = 64

// liveSession is the subset of *genai.Session the adapter uses.
type liveSession interface {
	SendRealtimeInput(input genai.LiveRealtimeInput) error
	SendClientContent(input genai.LiveClientContentInput) error
	SendToolResponse(input genai.LiveToolResponseInput) error
	Receive() (*genai.LiveServerMessage, error)
	Close() error
}

// LiveConnector opens Gemini Live sessions for the voice bridge.
type LiveConnector struct {
	g *Gemini
}

func (g *Gemini) Live() *LiveConnector {
	return &LiveConnector{g: g}
}

func (c *LiveConnector) Connect(ctx context.Context, setup bridge.Setup) (bridge.Upstream, error) {
	cfg := liveConfig(setup)
	session, err := c.g.client.Live.Connect(ctx, c.g.liveModel, cfg)
	if err != nil {
		return nil, core.NewUpstreamError(providerName, fmt.Errorf("live connect: %w", err))
	}
	if err := ctx.Err(); err != nil {
		_ = session.Close()
		return nil, err
	}
	up, err := startLiveUpstream(session, setup, c.g.logger)
	if err != nil {
		return nil, core.NewUpstreamError(providerName, err)
	}
	return up, nil
}

func liveConfig(setup bridge.Setup) *genai.LiveConnectConfig {
	cfg := &genai.LiveConnectConfig{
		ResponseModalities:       []genai.Modality{genai.ModalityAudio},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	}
	if setup.Voice != "" || setup.LanguageCode != "" {
		cfg.SpeechConfig = &genai.SpeechConfig{LanguageCode: setup.LanguageCode}
		if setup.Voice != "" {
			cfg.SpeechConfig.VoiceConfig = &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: setup.Voice},
			}
		}
	}
	if strings.TrimSpace(setup.SystemInstruction) != "" {
		cfg.SystemInstruction = genai.NewContentFromText(setup.SystemInstruction, genai.RoleUser)
	}
	if len(setup.Tools) > 0 {
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: setup.Tools}}
	}
	return cfg
}

// liveUpstream pumps Receive into an event channel. Sends are serialized
// because the underlying websocket allows one writer at a time.
type liveUpstream struct {
	session liveSession
	events  chan bridge.Event
	done    chan struct{}

	sendMu    sync.Mutex
	closeOnce sync.Once
	closeErr  error
	logger    *slog.Logger
}

func startLiveUpstream(session liveSession, setup bridge.Setup, logger *slog.Logger) (*liveUpstream, error) {
	u := &liveUpstream{
		session: session,
		events:  make(chan bridge.Event, liveEventBuffer),
		done:    make(chan struct{}),
		logger:  logger,
	}
	if prior := strings.TrimSpace(setup.PriorContext); prior != "" {
		err := session.SendClientContent(genai.LiveClientContentInput{
			Turns:        []*genai.Content{genai.NewContentFromText(prior, genai.RoleUser)},
			TurnComplete: genai.Ptr(false),
		})
		if err != nil {
			_ = session.Close()
			return nil, fmt.Errorf("inject prior context: %w", err)
		}
	}
	go u.pump()
	return u, nil
}

func (u *liveUpstream) Events() <-chan bridge.Event {
	return u.events
}

func (u *liveUpstream) SendAudio(pcm []byte) error {
	u.sendMu.Lock()
	defer u.sendMu.Unlock()
	if u.closed() {
		return errSessionClosed
	}
	return u.session.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{Data: pcm, MIMEType: protocol.InputMIMEType},
	})
}

func (u *liveUpstream) SendToolResponses(results []dispatcher.Result) error {
	if len(results) == 0 {
		return nil
	}
	responses := make([]*genai.FunctionResponse, 0, len(results))
	for _, r := range results {
		responses = append(responses, &genai.FunctionResponse{ID: r.ID, Name: r.Name, Response: r.Payload})
	}
	u.sendMu.Lock()
	defer u.sendMu.Unlock()
	if u.closed() {
		return errSessionClosed
	}
	return u.session.SendToolResponse(genai.LiveToolResponseInput{FunctionResponses: responses})
}

func (u *liveUpstream) Close() error {
	u.closeOnce.Do(func() {
		close(u.done)
		u.closeErr = u.session.Close()
	})
	return u.closeErr
}

func (u *liveUpstream) closed() bool {
	select {
	case <-u.done:
		return true
	default:
		return false
	}
}

var errSessionClosed = errors.New("live session is closed")

func (u *liveUpstream) pump() {
	defer close(u.events)
	for {
		msg, err := u.session.Receive()
		if err != nil {
			if u.closed() {
				return
			}
			u.emit(bridge.Event{Kind: bridge.EventError, Err: fmt.Errorf("live receive: %w", err)})
			u.emit(bridge.Event{Kind: bridge.EventClosed})
			return
		}
		if msg.GoAway != nil {
			u.logger.Info("gemini live session going away", "time_left", msg.GoAway.TimeLeft)
		}
		for _, ev := range translateServerMessage(msg) {
			if !u.emit(ev) {
				return
			}
		}
	}
}

func (u *liveUpstream) emit(ev bridge.Event) bool {
	select {
	case u.events <- ev:
		return true
	case <-u.done:
		return false
	}
}

// translateServerMessage maps one Live server message onto bridge events, in
// the order a client should observe them.
func translateServerMessage(msg *genai.LiveServerMessage) []bridge.Event {
	if msg == nil {
		return nil
	}
	var out []bridge.Event
	if sc := msg.ServerContent; sc != nil {
		if sc.Interrupted {
			out = append(out, bridge.Event{Kind: bridge.EventInterrupted})
		}
		if sc.ModelTurn != nil {
			for _, part := range sc.ModelTurn.Parts {
				if part == nil || part.Thought {
					continue
				}
				if part.InlineData != nil && len(part.InlineData.Data) > 0 && strings.HasPrefix(part.InlineData.MIMEType, "audio/") {
					out = append(out, bridge.Event{Kind: bridge.EventAudio, Audio: part.InlineData.Data, MIMEType: part.InlineData.MIMEType})
				}
				if part.Text != "" {
					out = append(out, bridge.Event{Kind: bridge.EventText, Text: part.Text})
				}
			}
		}
		if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
			out = append(out, bridge.Event{Kind: bridge.EventText, Text: sc.OutputTranscription.Text})
		}
		if sc.TurnComplete {
			out = append(out, bridge.Event{Kind: bridge.EventTurnComplete})
		}
	}
	if tc := msg.ToolCall; tc != nil && len(tc.FunctionCalls) > 0 {
		calls := make([]dispatcher.Call, 0, len(tc.FunctionCalls))
		for _, fc := range tc.FunctionCalls {
			if fc == nil {
				continue
			}
			calls = append(calls, dispatcher.Call{ID: fc.ID, Name: fc.Name, Args: fc.Args})
		}
		if len(calls) > 0 {
			out = append(out, bridge.Event{Kind: bridge.EventToolCall, Calls: calls})
		}
	}
	return out
}
