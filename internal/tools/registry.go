// Package tools holds the declarative tool table the model may call during a session.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/kaptinlin/jsonrepair"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gravicode/talkingbot/internal/realtime"
)

const instrumentationName = "github.com/gravicode/talkingbot/internal/tools"

var (
	// ErrNotFound reports a lookup for a name nothing registered.
	ErrNotFound = errors.New("tool not found")
	// ErrDuplicate reports a second registration under an existing name.
	ErrDuplicate = errors.New("tool already registered")
)

// Result is what a handler hands back to the conversation.
type Result struct {
	Output string
	// EndConversation asks the session to wind down once the call is handled.
	EndConversation bool
}

// Handler runs one tool call with its raw JSON arguments.
type Handler func(ctx context.Context, args json.RawMessage) (Result, error)

// Tool is one named capability exposed to the model.
type Tool struct {
	Name        string
	Description string
	Parameters  *jsonschema.Schema
	Handler     Handler
}

// Recorder receives per-call outcomes; metrics.Metrics satisfies it.
type Recorder interface {
	ObserveToolCall(tool string, status string, elapsed time.Duration)
}

// Option customizes a Registry.
type Option func(*Registry)

// WithTracer overrides the tracer used for invocation spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(r *Registry) {
		if tracer != nil {
			r.tracer = tracer
		}
	}
}

// WithRecorder attaches a call outcome recorder.
func WithRecorder(rec Recorder) Option {
	return func(r *Registry) {
		r.recorder = rec
	}
}

type entry struct {
	tool     Tool
	resolved *jsonschema.Resolved
	params   json.RawMessage
}

// Registry maps tool names to handlers and parameter schemas.
type Registry struct {
	tracer   trace.Tracer
	recorder Recorder

	mu      sync.RWMutex
	order   []string
	entries map[string]entry
}

// NewRegistry builds a registry from tools, failing on the first invalid or duplicate one.
func NewRegistry(tools []Tool, opts ...Option) (*Registry, error) {
	r := &Registry{
		tracer:  otel.Tracer(instrumentationName),
		entries: make(map[string]entry, len(tools)),
	}
	for _, opt := range opts {
		opt(r)
	}
	for _, tool := range tools {
		if err := r.Register(tool); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds one tool. Names are unique and case-sensitive.
func (r *Registry) Register(tool Tool) error {
	name := strings.TrimSpace(tool.Name)
	if name == "" || name != tool.Name {
		return fmt.Errorf("invalid tool name %q", tool.Name)
	}
	if tool.Handler == nil {
		return fmt.Errorf("tool %s has no handler", name)
	}

	schema := tool.Parameters
	if schema == nil {
		schema = &jsonschema.Schema{Type: "object"}
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return fmt.Errorf("resolve %s parameters: %w", name, err)
	}
	params, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("encode %s parameters: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicate, name)
	}
	r.entries[name] = entry{tool: tool, resolved: resolved, params: params}
	r.order = append(r.order, name)
	return nil
}

// Resolve looks up a tool by exact name.
func (r *Registry) Resolve(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return Tool{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return e.tool, nil
}

// Names returns registered names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Descriptors returns the tool declarations sent with the session configuration.
func (r *Registry) Descriptors() []realtime.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]realtime.ToolDescriptor, 0, len(r.order))
	for _, name := range r.order {
		e := r.entries[name]
		out = append(out, realtime.ToolDescriptor{
			Name:        name,
			Description: e.tool.Description,
			Parameters:  append(json.RawMessage(nil), e.params...),
		})
	}
	return out
}

// Invoke resolves name, repairs and validates rawArgs, and runs the handler.
func (r *Registry) Invoke(ctx context.Context, name string, rawArgs string) (Result, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		r.observe(name, "not_found", 0)
		return Result{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	ctx, span := r.tracer.Start(ctx, "tool.invoke",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("tool.name", name)),
	)
	defer span.End()

	started := time.Now()
	result, err := r.invoke(ctx, e, rawArgs)
	elapsed := time.Since(started)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.observe(name, "error", elapsed)
		return Result{}, err
	}
	span.SetAttributes(attribute.Bool("tool.end_conversation", result.EndConversation))
	span.SetStatus(codes.Ok, "")
	r.observe(name, "success", elapsed)
	return result, nil
}

func (r *Registry) invoke(ctx context.Context, e entry, rawArgs string) (Result, error) {
	args, err := normalizeArguments(rawArgs)
	if err != nil {
		return Result{}, fmt.Errorf("tool %s arguments: %w", e.tool.Name, err)
	}

	var instance any
	if err := json.Unmarshal(args, &instance); err != nil {
		return Result{}, fmt.Errorf("tool %s arguments: %w", e.tool.Name, err)
	}
	if err := e.resolved.Validate(instance); err != nil {
		return Result{}, fmt.Errorf("tool %s arguments: %w", e.tool.Name, err)
	}

	return callHandler(ctx, e.tool, args)
}

func callHandler(ctx context.Context, tool Tool, args json.RawMessage) (result Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("tool %s panicked: %v", tool.Name, p)
		}
	}()
	return tool.Handler(ctx, args)
}

func (r *Registry) observe(name string, status string, elapsed time.Duration) {
	if r.recorder != nil {
		r.recorder.ObserveToolCall(name, status, elapsed)
	}
}

// normalizeArguments maps empty input to an empty object and repairs malformed JSON.
func normalizeArguments(raw string) (json.RawMessage, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return json.RawMessage(`{}`), nil
	}
	if json.Valid([]byte(raw)) {
		return json.RawMessage(raw), nil
	}
	fixed, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return nil, fmt.Errorf("repair %q: %w", raw, err)
	}
	return json.RawMessage(fixed), nil
}

// Decode unmarshals handler arguments into T.
func Decode[T any](args json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(args, &v); err != nil {
		return v, fmt.Errorf("unmarshal %q: %w", string(args), err)
	}
	return v, nil
}

// New builds a Tool whose parameter schema is inferred from Args.
func New[Args any](name, description string, fn func(ctx context.Context, args Args) (Result, error)) (Tool, error) {
	schema, err := jsonschema.For[Args](&jsonschema.ForOptions{})
	if err != nil {
		return Tool{}, fmt.Errorf("infer %s parameters: %w", name, err)
	}
	return Tool{
		Name:        name,
		Description: description,
		Parameters:  schema,
		Handler: func(ctx context.Context, raw json.RawMessage) (Result, error) {
			args, err := Decode[Args](raw)
			if err != nil {
				return Result{}, err
			}
			return fn(ctx, args)
		},
	}, nil
}

// MustNew is New for tool tables built at init time.
func MustNew[Args any](name, description string, fn func(ctx context.Context, args Args) (Result, error)) Tool {
	tool, err := New(name, description, fn)
	if err != nil {
		panic(err)
	}
	return tool
}
