package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/tools/dispatcher"
)

// ToolCall is one executed tool as reported to the client.
type ToolCall struct {
	Name   string         `json:"name"`
	Args   map[string]any `json:"args"`
	Result map[string]any `json:"result"`
}

type loopResult struct {
	text        string
	rounds      int
	exhausted   bool
	upstreamErr error
	calls       []ToolCall
}

// runLoop asks the model, runs the tools it requests and asks again, for at
// most MaxRounds model calls. Round N+1 starts only after every result of
// round N is available.
func (o *Orchestrator) runLoop(ctx context.Context, logger *slog.Logger, caller dispatcher.Caller, cfg *genai.GenerateContentConfig, contents []*genai.Content) loopResult {
	var out loopResult
	for round := 1; round <= MaxRounds; round++ {
		out.rounds = round
		resp, err := o.generate(ctx, contents, cfg)
		if err != nil {
			out.upstreamErr = err
			return out
		}

		modelTurn := resp.Candidates[0].Content
		text, fcs := splitParts(modelTurn)
		if text != "" {
			out.text = text
		}
		if len(fcs) == 0 {
			return out
		}
		if round == MaxRounds {
			out.exhausted = true
			return out
		}

		calls := make([]dispatcher.Call, len(fcs))
		for i, fc := range fcs {
			calls[i] = dispatcher.Call{ID: fc.ID, Name: fc.Name, Args: fc.Args}
		}
		results := o.tools.DispatchAll(ctx, caller, calls)

		responses := make([]*genai.Part, 0, len(results))
		for i, res := range results {
			logger.Debug("chat tool result", "tool", res.Name, "round", round, "error", res.Err())
			out.calls = append(out.calls, ToolCall{Name: calls[i].Name, Args: calls[i].Args, Result: res.Payload})
			responses = append(responses, &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       calls[i].ID,
				Name:     calls[i].Name,
				Response: res.Payload,
			}})
		}
		contents = append(contents, modelTurn, genai.NewContentFromParts(responses, genai.RoleUser))
	}
	return out
}

func (o *Orchestrator) generate(ctx context.Context, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, o.modelTimeout)
	defer cancel()
	resp, err := o.model.GenerateContent(ctx, contents, cfg)
	if err != nil {
		return nil, err
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil || resp.Candidates[0].Content == nil {
		return nil, errors.New("model returned no candidates")
	}
	return resp, nil
}

// splitParts returns the visible text and the function calls of a model
// turn. Thought parts are dropped.
func splitParts(c *genai.Content) (string, []*genai.FunctionCall) {
	var (
		text  strings.Builder
		calls []*genai.FunctionCall
	)
	for _, p := range c.Parts {
		if p == nil || p.Thought {
			continue
		}
		if p.FunctionCall != nil {
			if strings.TrimSpace(p.FunctionCall.Name) == "" {
				continue
			}
			calls = append(calls, p.FunctionCall)
			continue
		}
		text.WriteString(p.Text)
	}
	return strings.TrimSpace(text.String()), calls
}
