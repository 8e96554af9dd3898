// Package dispatcher maps the fixed set of model-callable tools onto internal
// capabilities. Dispatch is infallible: every call yields a Result, failures
// are carried as a structured {"error": "..."} payload.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/genai"
)

const (
	defaultTimeout     = 10 * time.Second
	defaultMaxParallel = 4
)

var defaultPages = []string{"home", "jobs", "providers", "profile", "cv", "bookings", "messages", "settings", "login", "register"}

// Caller identifies on whose behalf a tool runs.
type Caller struct {
	UserID     string
	IsLoggedIn bool
	Locale     string
}

// Call is a model-issued tool request. ID is the upstream correlation id.
type Call struct {
	ID   string
	Name string
	Args map[string]any
}

// Result always carries a payload; Payload["error"] is set on failure.
type Result struct {
	ID      string         `json:"id,omitempty"`
	Name    string         `json:"name"`
	Payload map[string]any `json:"result"`
}

func (r Result) Err() string {
	if r.Payload == nil {
		return ""
	}
	msg, _ := r.Payload["error"].(string)
	return msg
}

type Options struct {
	Timeout        time.Duration
	MaxParallel    int
	ServiceAliases map[string]string
	Pages          []string
	Logger         *slog.Logger
}

type Dispatcher struct {
	caps        Capabilities
	timeout     time.Duration
	maxParallel int
	aliases     map[string]string
	pages       []string
	logger      *slog.Logger

	order  []string
	byName map[string]*toolSpec
}

func New(caps Capabilities, opts Options) *Dispatcher {
	d := &Dispatcher{
		caps:        caps,
		timeout:     opts.Timeout,
		maxParallel: opts.MaxParallel,
		aliases:     make(map[string]string, len(opts.ServiceAliases)),
		pages:       opts.Pages,
		logger:      opts.Logger,
	}
	if d.timeout <= 0 {
		d.timeout = defaultTimeout
	}
	if d.maxParallel <= 0 {
		d.maxParallel = defaultMaxParallel
	}
	if len(d.pages) == 0 {
		d.pages = defaultPages
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	for k, v := range opts.ServiceAliases {
		d.aliases[strings.ToLower(strings.TrimSpace(k))] = v
	}

	specs := d.buildSpecs()
	d.byName = make(map[string]*toolSpec, len(specs))
	for _, spec := range specs {
		d.byName[spec.name] = spec
		d.order = append(d.order, spec.name)
	}
	return d
}

// Names returns the tool names in declaration order.
func (d *Dispatcher) Names() []string {
	return append([]string(nil), d.order...)
}

// Declarations describes the tools to the model. They are generated from the
// same table Dispatch validates against.
func (d *Dispatcher) Declarations() []*genai.FunctionDeclaration {
	out := make([]*genai.FunctionDeclaration, 0, len(d.order))
	for _, name := range d.order {
		out = append(out, declaration(d.byName[name]))
	}
	return out
}

func (d *Dispatcher) Dispatch(ctx context.Context, caller Caller, call Call) (res Result) {
	name := strings.TrimSpace(call.Name)
	res = Result{ID: call.ID, Name: name}

	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("tool panicked", "tool", name, "panic", fmt.Sprint(rec))
			res.Payload = errorPayload(fmt.Sprintf("%s failed: internal error", name))
		}
	}()

	spec, ok := d.byName[name]
	if !ok {
		res.Payload = errorPayload("Unknown tool: " + call.Name)
		return res
	}

	a, err := coerce(spec.args, call.Args)
	if err != nil {
		res.Payload = errorPayload(fmt.Sprintf("invalid arguments for %s: %v", name, err))
		return res
	}

	toolCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	payload, err := spec.run(toolCtx, d, caller, a)
	if err != nil {
		msg := err.Error()
		switch {
		case errors.Is(err, errUnavailable):
			msg = "not available right now"
		case errors.Is(err, context.DeadlineExceeded):
			msg = "timed out"
		}
		d.logger.Warn("tool failed", "tool", name, "error", err, "duration", time.Since(start))
		res.Payload = errorPayload(fmt.Sprintf("%s failed: %s", name, msg))
		return res
	}
	d.logger.Debug("tool executed", "tool", name, "duration", time.Since(start))
	res.Payload = payload
	return res
}

// DispatchAll runs the calls of one model round concurrently and returns the
// results in input order. Identical calls (same name and arguments) execute once.
func (d *Dispatcher) DispatchAll(ctx context.Context, caller Caller, calls []Call) []Result {
	results := make([]Result, len(calls))
	if len(calls) == 0 {
		return results
	}

	firstByKey := make(map[string]int, len(calls))
	dupOf := make([]int, len(calls))
	for i, c := range calls {
		key := callKey(c)
		if first, ok := firstByKey[key]; ok {
			dupOf[i] = first
			continue
		}
		firstByKey[key] = i
		dupOf[i] = -1
	}

	var g errgroup.Group
	g.SetLimit(d.maxParallel)
	for i := range calls {
		if dupOf[i] >= 0 {
			continue
		}
		g.Go(func() error {
			results[i] = d.Dispatch(ctx, caller, calls[i])
			return nil
		})
	}
	_ = g.Wait()

	for i, first := range dupOf {
		if first < 0 {
			continue
		}
		results[i] = Result{ID: calls[i].ID, Name: results[first].Name, Payload: results[first].Payload}
	}
	return results
}

func callKey(c Call) string {
	raw, err := json.Marshal(c.Args)
	if err != nil {
		return c.Name + "\x00" + c.ID
	}
	return strings.TrimSpace(c.Name) + "\x00" + string(raw)
}

func errorPayload(msg string) map[string]any {
	return map[string]any{"error": msg}
}
