// Package tools maps model tool invocations onto Go handlers.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/joescharf/cqi/internal/schema"
)

var (
	// ErrUnknownTool is returned when registering a name outside the tool set.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrMissingHandler marks a dispatched call with no registered handler.
	ErrMissingHandler = errors.New("no handler registered")
)

// Handler executes one tool call. The returned value is rendered into the
// tool-result message: strings verbatim, everything else as JSON.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

// Call is a tool invocation as returned by the model.
type Call struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// Result is the tool-result message correlated to a Call.
type Result struct {
	CallID  string `json:"call_id"`
	Name    string `json:"name"`
	Content string `json:"content"`
	IsError bool   `json:"is_error"`
	// Err is the underlying failure, kept for logging and errors.Is checks.
	Err error `json:"-"`
}

// Registry is the per-run dispatch table.
type Registry struct {
	handlers map[schema.ToolName]Handler
	logger   *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		handlers: make(map[schema.ToolName]Handler),
		logger:   logger,
	}
}

// Register binds a handler to a known tool name.
func (r *Registry) Register(name schema.ToolName, h Handler) error {
	if !name.Known() {
		return fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if h == nil {
		return fmt.Errorf("nil handler for %s", name)
	}
	r.handlers[name] = h
	return nil
}

// Has reports whether name has a handler.
func (r *Registry) Has(name schema.ToolName) bool {
	_, ok := r.handlers[name]
	return ok
}

// Names returns the registered tool names in catalogue order.
func (r *Registry) Names() []schema.ToolName {
	var out []schema.ToolName
	for _, n := range schema.ToolNames {
		if r.Has(n) {
			out = append(out, n)
		}
	}
	return out
}

// Dispatch runs call and always returns a Result. Handler errors and panics
// become error results; nothing is propagated to the caller.
func (r *Registry) Dispatch(ctx context.Context, call Call) (res Result) {
	res = Result{CallID: call.ID, Name: call.Name}

	h, ok := r.handlers[schema.ToolName(call.Name)]
	if !ok {
		res.Err = fmt.Errorf("%w: %s", ErrMissingHandler, call.Name)
		res.Content = "Error: unknown tool " + call.Name
		res.IsError = true
		r.logger.Warn("tool not registered", "tool", call.Name, "call_id", call.ID)
		return res
	}

	defer func() {
		if p := recover(); p != nil {
			res.Err = fmt.Errorf("tool %s panicked: %v", call.Name, p)
			res.Content = "Error: " + res.Err.Error()
			res.IsError = true
			r.logger.Error("tool panicked", "tool", call.Name, "call_id", call.ID, "panic", p)
		}
	}()

	args := call.Args
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}

	out, err := h(ctx, args)
	if err != nil {
		res.Err = err
		res.Content = "Error: " + err.Error()
		res.IsError = true
		r.logger.Warn("tool failed", "tool", call.Name, "call_id", call.ID, "error", err)
		return res
	}
	res.Content = Render(out)
	return res
}

// Render converts a handler value into tool-result text.
func Render(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// Defaulter is implemented by argument structs with optional fields.
type Defaulter interface {
	ApplyDefaults()
}

// Typed adapts a handler taking a decoded argument struct.
func Typed[A any](fn func(ctx context.Context, args A) (any, error)) Handler {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var args A
		if len(strings.TrimSpace(string(raw))) > 0 {
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, fmt.Errorf("invalid arguments: %w", err)
			}
		}
		if d, ok := any(&args).(Defaulter); ok {
			d.ApplyDefaults()
		}
		return fn(ctx, args)
	}
}
