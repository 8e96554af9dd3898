// Package bridge relays one voice client connection to an upstream realtime
// model session and routes the model's tool calls through the dispatcher.
//
// A single goroutine (Run) owns the session state. Reads from the websocket,
// upstream events, connect results and tool results all arrive on channels
// and are handled there, so no state is shared with the helper goroutines.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/live/protocol"
	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/live/sessions"
	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/persona"
	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/tools/dispatcher"
)

const (
	historyLimit              = 10
	outboundPriorityQueueSize = 8
	defaultOutputMIMEType     = "audio/pcm;rate=24000"
)

var errBackpressure = errors.New("voice outbound backpressure")

type Config struct {
	MaxAudioChunkBytes     int
	MaxJSONMessageBytes    int64
	MaxAudioFPS            int
	MaxAudioBytesPerSecond int64
	InboundBurstSeconds    int
	PingInterval           time.Duration
	WriteTimeout           time.Duration
	ReadTimeout            time.Duration
	ConnectTimeout         time.Duration
	ToolTimeout            time.Duration
	OutboundQueueSize      int
}

type Dependencies struct {
	Conn      *websocket.Conn
	ConnID    string
	Start     protocol.ClientStart
	Connector Connector
	Registry  *sessions.Registry
	Tools     ToolRunner
	Persona   *persona.Catalog
	Logger    *slog.Logger
	Config    Config
	Now       func() time.Time
}

type Bridge struct {
	conn      *websocket.Conn
	connID    string
	start     protocol.ClientStart
	connector Connector
	registry  *sessions.Registry
	tools     ToolRunner
	persona   *persona.Catalog
	logger    *slog.Logger
	cfg       Config
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	state      atomic.Int32
	audioEpoch atomic.Int64

	outboundPriority chan outboundFrame
	outboundNormal   chan outboundFrame

	connectCh chan connectResult
	toolCh    chan toolDone
	wg        sync.WaitGroup
}

type inboundFrame struct {
	messageType int
	data        []byte
	err         error
}

type connectResult struct {
	gen int64
	up  Upstream
	err error
}

type toolDone struct {
	gen    int64
	result dispatcher.Result
}

// cycle is the per-start state, owned by Run.
type cycle struct {
	gen           int64
	up            Upstream
	events        <-chan Event
	caller        dispatcher.Caller
	meta          sessions.Meta
	connectCancel context.CancelFunc
	limiter       *inboundLimiter
}

func New(deps Dependencies) (*Bridge, error) {
	if deps.Conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	if deps.Connector == nil {
		return nil, fmt.Errorf("connector is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("session registry is required")
	}
	if deps.Tools == nil {
		return nil, fmt.Errorf("tool runner is required")
	}
	if strings.TrimSpace(deps.ConnID) == "" {
		return nil, fmt.Errorf("connection id is required")
	}
	if deps.Persona == nil {
		deps.Persona = persona.Default()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Config.OutboundQueueSize <= 0 {
		deps.Config.OutboundQueueSize = 256
	}
	if deps.Config.ConnectTimeout <= 0 {
		deps.Config.ConnectTimeout = 15 * time.Second
	}
	if deps.Config.ToolTimeout <= 0 {
		deps.Config.ToolTimeout = 10 * time.Second
	}
	if deps.Config.WriteTimeout <= 0 {
		deps.Config.WriteTimeout = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		conn:             deps.Conn,
		connID:           deps.ConnID,
		start:            deps.Start,
		connector:        deps.Connector,
		registry:         deps.Registry,
		tools:            deps.Tools,
		persona:          deps.Persona,
		logger:           deps.Logger.With("conn_id", deps.ConnID),
		cfg:              deps.Config,
		now:              deps.Now,
		ctx:              ctx,
		cancel:           cancel,
		outboundPriority: make(chan outboundFrame, min(deps.Config.OutboundQueueSize, outboundPriorityQueueSize)),
		outboundNormal:   make(chan outboundFrame, deps.Config.OutboundQueueSize),
		connectCh:        make(chan connectResult, 4),
		toolCh:           make(chan toolDone, 16),
	}
	b.setState(StateInit)
	return b, nil
}

func (b *Bridge) State() State {
	return State(b.state.Load())
}

func (b *Bridge) setState(s State) {
	prev := State(b.state.Swap(int32(s)))
	if prev != s {
		b.logger.Debug("voice state", "from", prev.String(), "to", s.String())
	}
}

// Cancel ends Run. Used by shutdown.
func (b *Bridge) Cancel() {
	b.cancel()
}

// Warn sends an error frame ahead of queued audio. Used by shutdown.
func (b *Bridge) Warn(code, message string) error {
	return b.sendJSONPriority(protocol.NewError(code, message))
}

// Run serves the connection until the client disconnects, the context is
// cancelled or the outbound writer fails. Whatever upstream session is live at
// that point is removed from the registry, which closes it.
func (b *Bridge) Run() error {
	defer b.cancel()

	if b.cfg.MaxJSONMessageBytes > 0 {
		b.conn.SetReadLimit(b.cfg.MaxJSONMessageBytes)
	}
	if b.cfg.ReadTimeout > 0 {
		_ = b.conn.SetReadDeadline(time.Now().Add(b.cfg.ReadTimeout))
		b.conn.SetPongHandler(func(string) error {
			return b.conn.SetReadDeadline(time.Now().Add(b.cfg.ReadTimeout))
		})
	}

	readCh := make(chan inboundFrame, 64)
	readDone := make(chan struct{})
	writerErrCh := make(chan error, 1)
	writerDone := make(chan struct{})
	go func() {
		defer close(readDone)
		b.readLoop(readCh)
	}()
	go func() {
		defer close(writerDone)
		w := outboundWriter{
			ws:           b.conn,
			ctx:          b.ctx,
			pingInterval: b.cfg.PingInterval,
			writeTimeout: b.cfg.WriteTimeout,
			priority:     b.outboundPriority,
			normal:       b.outboundNormal,
			isStale:      func(epoch int64) bool { return epoch < b.audioEpoch.Load() },
		}
		writerErrCh <- w.Run()
	}()

	c := &cycle{}
	defer func() {
		b.endCycle(c)
		b.cancel()
		b.wg.Wait()
		b.closeUnclaimed()
		select {
		case <-writerDone:
		case <-time.After(b.cfg.WriteTimeout + 100*time.Millisecond):
		}
		_ = b.conn.Close()
		<-readDone
	}()

	if err := b.onStart(c, b.start); err != nil {
		return b.fail(err)
	}

	for {
		var err error
		select {
		case <-b.ctx.Done():
			return nil
		case err = <-writerErrCh:
			return err
		case frame, ok := <-readCh:
			if !ok || frame.err != nil {
				b.logger.Debug("voice client disconnected")
				return nil
			}
			err = b.onFrame(c, frame)
		case res := <-b.connectCh:
			err = b.onConnected(c, res)
		case ev, ok := <-c.events:
			err = b.onEvent(c, ev, ok)
		case done := <-b.toolCh:
			err = b.onToolDone(c, done)
		}
		if err != nil {
			return b.fail(err)
		}
	}
}

func (b *Bridge) fail(err error) error {
	if errors.Is(err, errBackpressure) {
		_ = b.sendJSONPriority(protocol.NewError(protocol.CodeBackpressure, "client is not reading fast enough"))
	}
	return err
}

func (b *Bridge) onFrame(c *cycle, frame inboundFrame) error {
	if frame.messageType != websocket.TextMessage {
		return b.sendError(protocol.CodeUnsupported, "binary frames are not supported")
	}
	msg, err := protocol.DecodeClientMessage(frame.data, b.cfg.MaxAudioChunkBytes)
	if err != nil {
		code := protocol.CodeBadRequest
		var de *protocol.DecodeError
		if errors.As(err, &de) {
			code = de.Code
		}
		return b.sendError(code, err.Error())
	}
	switch m := msg.(type) {
	case protocol.ClientStart:
		return b.onStart(c, m)
	case protocol.ClientAudioChunk:
		return b.onAudio(c, m.PCM)
	case protocol.ClientStop:
		return b.onStop(c)
	default:
		return b.sendError(protocol.CodeUnsupported, "unsupported message type")
	}
}

func (b *Bridge) onStart(c *cycle, m protocol.ClientStart) error {
	if b.State().live() {
		b.logger.Info("voice session superseded by new start")
		b.endCycle(c)
	}

	locale := b.persona.For(m.Locale)
	c.gen++
	c.caller = dispatcher.Caller{UserID: m.UserID, IsLoggedIn: m.IsLoggedIn, Locale: locale.Code}
	c.meta = sessions.Meta{Locale: locale.Code, UserID: m.UserID, IsLoggedIn: m.IsLoggedIn}
	setup := Setup{
		Locale:            locale.Code,
		Voice:             locale.Voice,
		LanguageCode:      locale.LanguageCode,
		SystemInstruction: locale.SystemInstruction(persona.Caller{IsLoggedIn: m.IsLoggedIn, Voice: true}),
		Tools:             b.tools.Declarations(),
		PriorContext:      summarizeHistory(m.History, historyLimit),
	}

	ctx, cancel := context.WithTimeout(b.ctx, b.cfg.ConnectTimeout)
	c.connectCancel = cancel
	b.setState(StateConnecting)

	gen := c.gen
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		up, err := b.connector.Connect(ctx, setup)
		select {
		case b.connectCh <- connectResult{gen: gen, up: up, err: err}:
		case <-b.ctx.Done():
			if up != nil {
				_ = up.Close()
			}
		}
	}()
	return nil
}

// closeUnclaimed closes upstreams whose connect finished after the run loop
// stopped reading results. Call it only once no connect goroutine is left.
func (b *Bridge) closeUnclaimed() {
	for {
		select {
		case res := <-b.connectCh:
			if res.up != nil {
				_ = res.up.Close()
			}
		default:
			return
		}
	}
}

func (b *Bridge) onConnected(c *cycle, res connectResult) error {
	if res.gen != c.gen || b.State() != StateConnecting {
		// An attempt that was superseded or stopped while dialing.
		if res.up != nil {
			_ = res.up.Close()
		}
		return nil
	}
	if c.connectCancel != nil {
		c.connectCancel()
		c.connectCancel = nil
	}
	if res.err != nil {
		b.logger.Warn("voice upstream connect failed", "error", res.err)
		b.setState(StateClosed)
		if err := b.sendError(protocol.CodeUpstreamError, "voice service is unavailable"); err != nil {
			return err
		}
		return b.sendSignal(protocol.TypeClosed)
	}

	c.up = res.up
	c.events = res.up.Events()
	c.limiter = newInboundLimiter(b.now, b.cfg.MaxAudioFPS, b.cfg.MaxAudioBytesPerSecond, b.cfg.InboundBurstSeconds)
	b.registry.Install(b.connID, c.meta, res.up)
	b.setState(StateActive)
	b.logger.Info("voice session ready", "locale", c.meta.Locale, "logged_in", c.meta.IsLoggedIn)
	return b.sendJSON(protocol.ServerReady{Type: protocol.TypeReady, SessionID: b.connID})
}

func (b *Bridge) onAudio(c *cycle, pcm []byte) error {
	switch st := b.State(); {
	case st.streaming():
	case st == StateInit || st == StateConnecting:
		return b.sendError(protocol.CodeNotReady, "session is not ready")
	default:
		return b.sendError(protocol.CodeSessionClosed, "session is closed")
	}
	if !c.limiter.Allow(len(pcm)) {
		return b.sendError(protocol.CodeRateLimited, "audio rate limit exceeded")
	}
	if err := c.up.SendAudio(pcm); err != nil {
		return b.upstreamFailed(c, fmt.Errorf("send audio: %w", err))
	}
	b.registry.Touch(b.connID)
	return nil
}

func (b *Bridge) onStop(c *cycle) error {
	if !b.State().live() {
		return b.sendError(protocol.CodeSessionClosed, "no active session")
	}
	b.setState(StateClosing)
	b.endCycle(c)
	b.setState(StateClosed)
	return b.sendSignal(protocol.TypeClosed)
}

func (b *Bridge) onEvent(c *cycle, ev Event, ok bool) error {
	if !ok {
		return b.upstreamFailed(c, errors.New("upstream event stream ended"))
	}
	switch ev.Kind {
	case EventAudio:
		if b.State() == StateInterrupted {
			b.setState(StateActive)
		}
		mime := ev.MIMEType
		if mime == "" {
			mime = defaultOutputMIMEType
		}
		return b.sendAudio(protocol.NewAudio(ev.Audio, mime))
	case EventText:
		if strings.TrimSpace(ev.Text) == "" {
			return nil
		}
		return b.sendJSON(protocol.ServerText{Type: protocol.TypeText, Text: ev.Text})
	case EventTurnComplete:
		if b.State() == StateInterrupted {
			b.setState(StateActive)
		}
		return b.sendSignal(protocol.TypeTurnComplete)
	case EventInterrupted:
		b.setState(StateInterrupted)
		b.audioEpoch.Add(1)
		return b.sendJSONPriority(protocol.ServerSignal{Type: protocol.TypeInterrupted})
	case EventToolCall:
		for _, call := range ev.Calls {
			b.runTool(c.gen, c.caller, call)
		}
		return nil
	case EventError:
		return b.upstreamFailed(c, ev.Err)
	case EventClosed:
		return b.upstreamFailed(c, errors.New("upstream closed the session"))
	default:
		b.logger.Debug("ignoring upstream event", "kind", ev.Kind.String())
		return nil
	}
}

// runTool executes call off the main loop. The result is tagged with the
// cycle generation so a result for a stopped or superseded session is dropped.
func (b *Bridge) runTool(gen int64, caller dispatcher.Caller, call dispatcher.Call) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(b.ctx, b.cfg.ToolTimeout)
		defer cancel()

		var res dispatcher.Result
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					res = dispatcher.Result{ID: call.ID, Name: call.Name, Payload: map[string]any{"error": call.Name + " failed: internal error"}}
				}
			}()
			res = b.tools.Dispatch(ctx, caller, call)
		}()

		select {
		case b.toolCh <- toolDone{gen: gen, result: res}:
		case <-b.ctx.Done():
		}
	}()
}

func (b *Bridge) onToolDone(c *cycle, done toolDone) error {
	if done.gen != c.gen || c.up == nil || !b.State().streaming() {
		b.logger.Debug("discarding tool result for closed session", "tool", done.result.Name)
		return nil
	}
	if msg := done.result.Err(); msg != "" {
		b.logger.Info("tool returned error", "tool", done.result.Name, "error", msg)
	}
	if err := c.up.SendToolResponses([]dispatcher.Result{done.result}); err != nil {
		return b.upstreamFailed(c, fmt.Errorf("send tool response: %w", err))
	}
	return b.sendJSON(protocol.ServerToolResult{
		Type:   protocol.TypeToolResult,
		Name:   done.result.Name,
		Result: done.result.Payload,
	})
}

// upstreamFailed ends the current session with exactly one error frame
// followed by closed. The connection stays open for a new start.
func (b *Bridge) upstreamFailed(c *cycle, cause error) error {
	b.logger.Warn("voice upstream failed", "error", cause)
	b.setState(StateClosing)
	b.endCycle(c)
	b.setState(StateClosed)
	if err := b.sendError(protocol.CodeUpstreamError, "voice session ended unexpectedly"); err != nil {
		return err
	}
	return b.sendSignal(protocol.TypeClosed)
}

// endCycle aborts a pending connect and releases the installed upstream.
// Bumping the generation invalidates in-flight connect and tool results.
func (b *Bridge) endCycle(c *cycle) {
	if c.connectCancel != nil {
		c.connectCancel()
		c.connectCancel = nil
	}
	if c.up != nil {
		b.registry.Remove(b.connID)
		c.up = nil
		c.events = nil
	}
	c.gen++
}

func (b *Bridge) readLoop(out chan<- inboundFrame) {
	for {
		messageType, data, err := b.conn.ReadMessage()
		if err != nil {
			select {
			case out <- inboundFrame{err: err}:
			case <-b.ctx.Done():
			}
			return
		}
		select {
		case out <- inboundFrame{messageType: messageType, data: data}:
		case <-b.ctx.Done():
			return
		}
	}
}

func (b *Bridge) sendError(code, message string) error {
	return b.sendJSON(protocol.NewError(code, message))
}

func (b *Bridge) sendSignal(typ string) error {
	return b.sendJSON(protocol.ServerSignal{Type: typ})
}

func (b *Bridge) sendJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.enqueueNormal(outboundFrame{payload: payload})
}

func (b *Bridge) sendAudio(v protocol.ServerAudio) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.enqueueNormal(outboundFrame{payload: payload, isAudio: true, epoch: b.audioEpoch.Load()})
}

func (b *Bridge) sendJSONPriority(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.enqueuePriority(outboundFrame{payload: payload})
}

func (b *Bridge) enqueueNormal(frame outboundFrame) error {
	select {
	case b.outboundNormal <- frame:
		return nil
	default:
		return errBackpressure
	}
}

func (b *Bridge) enqueuePriority(frame outboundFrame) error {
	select {
	case b.outboundPriority <- frame:
		return nil
	default:
		return errBackpressure
	}
}

// summarizeHistory renders the last limit entries as a plain transcript.
func summarizeHistory(history []protocol.HistoryEntry, limit int) string {
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	var b strings.Builder
	for _, h := range history {
		content := strings.TrimSpace(h.Content)
		if content == "" {
			continue
		}
		if b.Len() == 0 {
			b.WriteString("Conversation so far:\n")
		}
		speaker := "User"
		if h.Role == "assistant" {
			speaker = "Assistant"
		}
		fmt.Fprintf(&b, "%s: %s\n", speaker, content)
	}
	return strings.TrimSpace(b.String())
}
