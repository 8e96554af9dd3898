package chat

import (
	"strings"

	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/persona"
	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/tools/dispatcher"
)

const (
	IntentFindProvider = "find_provider"
	IntentFindJob      = "find_job"
	IntentBuildCV      = "build_cv"
	IntentNavigate     = "navigate"

	PhaseDiscovery  = "discovery"
	PhaseCollecting = "collecting"
	PhaseReady      = "ready"

	LocationFromConversation = "conversation"
	LocationFromDevice       = "device"
)

type Location struct {
	City      *string  `json:"city"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Source    string   `json:"source"`
}

type Progress struct {
	Collected         []string `json:"collected"`
	Missing           []string `json:"missing"`
	CompletionPercent int      `json:"completionPercent"`
	Phase             string   `json:"phase"`
}

type Diagnostics struct {
	Rounds        int  `json:"rounds"`
	LoopExhausted bool `json:"loopExhausted"`
	UpstreamError bool `json:"upstreamError"`
	Persisted     bool `json:"persisted"`
}

type Response struct {
	ConversationID   *string     `json:"conversationId"`
	IsAuthenticated  bool        `json:"isAuthenticated"`
	Intent           *string     `json:"intent"`
	Category         *string     `json:"category"`
	Service          *string     `json:"service"`
	Location         *Location   `json:"location"`
	QuickReplies     []string    `json:"quickReplies"`
	Progress         Progress    `json:"progress"`
	Understood       bool        `json:"understood"`
	NeedsMoreInfo    bool        `json:"needsMoreInfo"`
	ReadyToAction    bool        `json:"readyToAction"`
	AIResponse       string      `json:"aiResponse"`
	FollowUpQuestion *string     `json:"followUpQuestion"`
	ToolCalls        []ToolCall  `json:"toolCalls"`
	Diagnostics      Diagnostics `json:"diagnostics"`
}

type intentRule struct {
	intent   string
	category string
	// required lists the fields the intent needs; each is read from the tool
	// result payload first, then from the model's arguments.
	required []string
	// keys maps a required field onto payload/argument keys.
	keys map[string]string
}

var intentRules = map[string]intentRule{
	dispatcher.ToolSearchProviders: {
		intent:   IntentFindProvider,
		category: "services",
		required: []string{"service", "location"},
		keys:     map[string]string{"service": "serviceSlug", "location": "location"},
	},
	dispatcher.ToolGetServiceLocations: {
		intent:   IntentFindProvider,
		category: "services",
		required: []string{"service", "location"},
		keys:     map[string]string{"service": "serviceSlug", "location": "location"},
	},
	dispatcher.ToolSearchJobs: {
		intent:   IntentFindJob,
		category: "jobs",
		required: []string{"search", "location"},
		keys:     map[string]string{"search": "search", "location": "location"},
	},
	dispatcher.ToolSaveCVData: {
		intent:   IntentBuildCV,
		category: "profile",
		required: []string{"headline"},
		keys:     map[string]string{"headline": "headline"},
	},
	dispatcher.ToolNavigateUser: {
		intent:   IntentNavigate,
		category: "navigation",
		required: []string{"page"},
		keys:     map[string]string{"page": "page"},
	},
}

// summarize derives the structured part of the response from the tools the
// model used. The intent follows the last mapped tool; fields are collected
// across every call that maps to the same intent.
func summarize(locale persona.Locale, req Request, authenticated bool, out loopResult, answer string) *Response {
	resp := &Response{
		IsAuthenticated: authenticated,
		AIResponse:      answer,
		Understood:      out.upstreamErr == nil,
		ToolCalls:       out.calls,
		Diagnostics: Diagnostics{
			Rounds:        out.rounds,
			LoopExhausted: out.exhausted,
			UpstreamError: out.upstreamErr != nil,
		},
	}
	if resp.ToolCalls == nil {
		resp.ToolCalls = []ToolCall{}
	}

	var rule *intentRule
	for i := len(out.calls) - 1; i >= 0; i-- {
		if r, ok := intentRules[out.calls[i].Name]; ok {
			rule = &r
			break
		}
	}

	deviceLocated := req.Latitude != nil && req.Longitude != nil
	fields := map[string]string{}
	toolFailed := false
	if rule != nil {
		for _, call := range out.calls {
			r, ok := intentRules[call.Name]
			if !ok || r.intent != rule.intent {
				continue
			}
			if msg, _ := call.Result["error"].(string); msg != "" {
				toolFailed = true
			}
			for field, key := range r.keys {
				if v := firstString(call.Result, call.Args, key); v != "" {
					fields[field] = v
				}
			}
		}
		resp.Intent = strPtr(rule.intent)
		resp.Category = strPtr(rule.category)
		if svc := fields["service"]; svc != "" {
			resp.Service = strPtr(svc)
		}
	}
	resp.Location = location(fields["location"], req)

	progress := Progress{Collected: []string{}, Missing: []string{}, Phase: PhaseDiscovery}
	if rule != nil {
		for _, field := range rule.required {
			have := fields[field] != "" || (field == "location" && deviceLocated)
			if have {
				progress.Collected = append(progress.Collected, field)
			} else {
				progress.Missing = append(progress.Missing, field)
			}
		}
		progress.CompletionPercent = len(progress.Collected) * 100 / len(rule.required)
		progress.Phase = PhaseCollecting
		if len(progress.Missing) == 0 {
			progress.Phase = PhaseReady
		}
	}
	resp.Progress = progress

	resp.NeedsMoreInfo = out.exhausted || len(progress.Missing) > 0
	resp.ReadyToAction = rule != nil &&
		progress.Phase == PhaseReady &&
		!toolFailed &&
		!out.exhausted &&
		out.upstreamErr == nil

	if len(progress.Missing) > 0 {
		if q := locale.FollowUp(progress.Missing[0]); q != "" {
			resp.FollowUpQuestion = strPtr(q)
		}
	}

	key := PhaseDiscovery
	if rule != nil {
		key = rule.intent
	}
	resp.QuickReplies = locale.QuickRepliesFor(key)
	if resp.QuickReplies == nil {
		resp.QuickReplies = []string{}
	}
	return resp
}

func location(city string, req Request) *Location {
	deviceLocated := req.Latitude != nil && req.Longitude != nil
	if city == "" && !deviceLocated {
		return nil
	}
	loc := &Location{Source: LocationFromConversation}
	if city != "" {
		loc.City = strPtr(city)
	}
	if deviceLocated {
		loc.Latitude = req.Latitude
		loc.Longitude = req.Longitude
		if city == "" {
			loc.Source = LocationFromDevice
		}
	}
	return loc
}

func firstString(result, args map[string]any, key string) string {
	for _, m := range []map[string]any{result, args} {
		if v, ok := m[key].(string); ok {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}

func strPtr(s string) *string {
	return &s
}
