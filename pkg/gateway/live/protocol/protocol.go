// Package protocol defines the JSON text frames exchanged with voice clients.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Client → server frame types.
const (
	TypeStart      = "start"
	TypeAudioChunk = "audio-chunk"
	TypeStop       = "stop"
)

// Server → client frame types.
const (
	TypeReady        = "ready"
	TypeAudio        = "audio"
	TypeText         = "text"
	TypeTurnComplete = "turn-complete"
	TypeInterrupted  = "interrupted"
	TypeToolResult   = "tool-result"
	TypeError        = "error"
	TypeClosed       = "closed"
)

// Error codes carried by ServerError.
const (
	CodeBadRequest       = "bad_request"
	CodeUnsupported      = "unsupported"
	CodeNotReady         = "not_ready"
	CodeSessionClosed    = "session_closed"
	CodeRateLimited      = "rate_limited"
	CodeUpstreamError    = "upstream_error"
	CodeBackpressure     = "backpressure"
	CodeHandshakeTimeout = "handshake_timeout"
	CodeShuttingDown     = "shutting_down"
)

const (
	InputMIMEType = "audio/pcm;rate=16000"

	MaxHistoryEntries = 50
	MaxHistoryContent = 4000
	maxLocaleLen      = 16
	maxUserIDLen      = 128
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: CodeBadRequest, Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: CodeUnsupported, Message: message, Param: param}
}

type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ClientStart struct {
	Type       string         `json:"type"`
	Locale     string         `json:"locale,omitempty"`
	UserID     string         `json:"userId,omitempty"`
	IsLoggedIn bool           `json:"isLoggedIn,omitempty"`
	History    []HistoryEntry `json:"history,omitempty"`
}

// ClientAudioChunk carries base64 PCM16 mono audio at 16kHz. PCM holds the
// decoded bytes.
type ClientAudioChunk struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
	PCM   []byte `json:"-"`
}

type ClientStop struct {
	Type string `json:"type"`
}

// DecodeClientMessage decodes one client text frame into ClientStart,
// ClientAudioChunk or ClientStop. maxAudioBytes bounds the decoded chunk size;
// zero disables the check.
func DecodeClientMessage(data []byte, maxAudioBytes int) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case TypeStart:
		var msg ClientStart
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid start frame", "")
		}
		msg.Type = TypeStart
		if err := ValidateStart(&msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeAudioChunk:
		var msg ClientAudioChunk
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid audio-chunk frame", "")
		}
		msg.Type = TypeAudioChunk
		pcm, err := decodePCM16(msg.Audio, maxAudioBytes)
		if err != nil {
			return nil, err
		}
		msg.PCM = pcm
		return msg, nil
	case TypeStop:
		return ClientStop{Type: TypeStop}, nil
	default:
		return nil, unsupported("unsupported message type", "type")
	}
}

// ValidateStart normalizes msg in place.
func ValidateStart(msg *ClientStart) error {
	msg.Locale = strings.TrimSpace(msg.Locale)
	if len(msg.Locale) > maxLocaleLen {
		return badRequest("start.locale is too long", "locale")
	}
	msg.UserID = strings.TrimSpace(msg.UserID)
	if len(msg.UserID) > maxUserIDLen {
		return badRequest("start.userId is too long", "userId")
	}
	if msg.UserID == "" {
		msg.IsLoggedIn = false
	}
	if len(msg.History) > MaxHistoryEntries {
		return badRequest(fmt.Sprintf("start.history must have at most %d entries", MaxHistoryEntries), "history")
	}
	for i := range msg.History {
		role := strings.ToLower(strings.TrimSpace(msg.History[i].Role))
		switch role {
		case "user", "assistant":
		default:
			return badRequest("start.history role must be user or assistant", fmt.Sprintf("history[%d].role", i))
		}
		msg.History[i].Role = role
		if len(msg.History[i].Content) > MaxHistoryContent {
			return badRequest("start.history content is too long", fmt.Sprintf("history[%d].content", i))
		}
	}
	return nil
}

func decodePCM16(b64 string, maxBytes int) ([]byte, error) {
	b64 = strings.TrimSpace(b64)
	if b64 == "" {
		return nil, badRequest("audio-chunk.audio is required", "audio")
	}
	if maxBytes > 0 && base64.StdEncoding.DecodedLen(len(b64)) > maxBytes+2 {
		return nil, badRequest("audio-chunk is too large", "audio")
	}
	pcm, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, badRequest("audio-chunk.audio is not valid base64", "audio")
	}
	if maxBytes > 0 && len(pcm) > maxBytes {
		return nil, badRequest("audio-chunk is too large", "audio")
	}
	if len(pcm)%2 != 0 {
		return nil, badRequest("audio-chunk must contain whole 16-bit samples", "audio")
	}
	return pcm, nil
}

type ServerReady struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

type ServerAudio struct {
	Type     string `json:"type"`
	Data     string `json:"data"`
	MIMEType string `json:"mimeType"`
}

type ServerText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type ServerToolResult struct {
	Type   string         `json:"type"`
	Name   string         `json:"name"`
	Result map[string]any `json:"result"`
}

type ServerError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ServerSignal is a frame with no payload: turn-complete, interrupted, closed.
type ServerSignal struct {
	Type string `json:"type"`
}

func NewAudio(pcm []byte, mimeType string) ServerAudio {
	return ServerAudio{Type: TypeAudio, Data: base64.StdEncoding.EncodeToString(pcm), MIMEType: mimeType}
}

func NewError(code, message string) ServerError {
	return ServerError{Type: TypeError, Code: code, Message: message}
}
