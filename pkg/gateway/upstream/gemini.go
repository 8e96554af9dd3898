// Package upstream adapts the Gemini API (google.golang.org/genai) to the
// gateway: a text model for the chat turn loop and a Live connector for the
// voice bridge.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/core"
)

const providerName = "gemini"

type Options struct {
	APIKey    string
	ChatModel string
	LiveModel string
	Logger    *slog.Logger
}

// Gemini holds one genai client shared by every request and session.
type Gemini struct {
	client    *genai.Client
	chatModel string
	liveModel string
	logger    *slog.Logger
}

func NewGemini(ctx context.Context, opts Options) (*Gemini, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("gemini api key is required")
	}
	if opts.ChatModel == "" {
		return nil, errors.New("gemini chat model is required")
	}
	if opts.LiveModel == "" {
		return nil, errors.New("gemini live model is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Gemini{
		client:    client,
		chatModel: opts.ChatModel,
		liveModel: opts.LiveModel,
		logger:    opts.Logger,
	}, nil
}

// GenerateContent runs one non-streaming model round. Failures are returned
// as upstream errors so callers can degrade instead of surfacing them.
func (g *Gemini) GenerateContent(ctx context.Context, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.chatModel, contents, cfg)
	if err != nil {
		return nil, core.NewUpstreamError(providerName, err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, core.NewUpstreamError(providerName, errors.New("empty response"))
	}
	return resp, nil
}
