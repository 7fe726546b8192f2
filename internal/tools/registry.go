// Package tools holds the fixed set of tools offered to the model and
// dispatches the model's tool calls to them. Every call is validated
// strictly against the tool's JSON Schema before its handler runs.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/nugget/furrow/internal/llm"
)

// Handler runs a tool with validated arguments and returns a
// JSON-serializable result.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Tool is one declared tool: name, description, input schema, and the
// implementation behind it.
type Tool struct {
	Name        string
	Description string
	// Parameters is the JSON Schema for the arguments object.
	Parameters json.RawMessage
	Handler    Handler

	resolved *jsonschema.Resolved
	defaults map[string]json.RawMessage
}

// Registry holds the declared tools. It is built once at startup and
// read concurrently afterwards; Register must not be called once
// dispatching has begun.
type Registry struct {
	tools map[string]*Tool
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register compiles the tool's schema and adds it to the registry.
func (r *Registry) Register(t *Tool) error {
	if t.Name == "" {
		return fmt.Errorf("register tool: empty name")
	}
	if _, dup := r.tools[t.Name]; dup {
		return fmt.Errorf("register tool %s: already registered", t.Name)
	}
	if t.Handler == nil {
		return fmt.Errorf("register tool %s: nil handler", t.Name)
	}

	var schema jsonschema.Schema
	if err := json.Unmarshal(t.Parameters, &schema); err != nil {
		return fmt.Errorf("register tool %s: parse schema: %w", t.Name, err)
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return fmt.Errorf("register tool %s: resolve schema: %w", t.Name, err)
	}
	t.resolved = resolved

	// Top-level property defaults are applied after validation.
	var props struct {
		Properties map[string]struct {
			Default json.RawMessage `json:"default"`
		} `json:"properties"`
	}
	if err := json.Unmarshal(t.Parameters, &props); err != nil {
		return fmt.Errorf("register tool %s: read defaults: %w", t.Name, err)
	}
	for name, p := range props.Properties {
		if len(p.Default) > 0 {
			if t.defaults == nil {
				t.defaults = make(map[string]json.RawMessage)
			}
			t.defaults[name] = p.Default
		}
	}

	r.tools[t.Name] = t
	r.order = append(r.order, t.Name)
	return nil
}

// Get retrieves a tool by name, or nil.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Definitions returns the full tool menu for a model request, in
// registration order.
func (r *Registry) Definitions() []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, llm.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return defs
}

// Dispatch validates args against the named tool's schema and runs it.
// An unknown name yields *UnknownToolError, a schema violation yields
// *InvalidArgumentsError, and a handler error yields *ToolFailedError.
// In the first two cases the handler is never invoked.
func (r *Registry) Dispatch(ctx context.Context, name string, args map[string]any) (any, error) {
	t := r.tools[name]
	if t == nil {
		return nil, &UnknownToolError{Name: name}
	}
	if args == nil {
		args = map[string]any{}
	}

	if err := t.resolved.Validate(args); err != nil {
		return nil, &InvalidArgumentsError{Tool: name, Err: err}
	}

	call := make(map[string]any, len(args)+len(t.defaults))
	for k, v := range args {
		call[k] = v
	}
	for k, raw := range t.defaults {
		if _, ok := call[k]; ok {
			continue
		}
		var v any
		if err := json.Unmarshal(raw, &v); err == nil {
			call[k] = v
		}
	}

	result, err := t.Handler(ctx, call)
	if err != nil {
		return nil, &ToolFailedError{Tool: name, Err: err}
	}
	return result, nil
}
