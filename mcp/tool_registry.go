package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ivanarama/ConfluenceMCP/observability"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
)

var (
	ErrToolNotFound     = errors.New("tool not found")
	ErrToolNotInvocable = errors.New("tool is not callable")
	ErrInvalidArguments = errors.New("invalid tool arguments")
)

// Defaulter is implemented by parameter structs that need non-zero
// defaults before the caller's arguments are applied.
type Defaulter interface {
	SetDefaults()
}

// NewTool binds a strongly typed handler to a descriptor. Arguments are
// decoded into a fresh P after its defaults have been applied.
func NewTool[P any](name, description string, schema json.RawMessage, fn func(ctx context.Context, params P) (string, error)) Tool {
	return Tool{
		Name:        name,
		Description: description,
		InputSchema: schema,
		Handler: func(ctx context.Context, arguments json.RawMessage) (string, error) {
			var params P
			if d, ok := any(&params).(Defaulter); ok {
				d.SetDefaults()
			}
			if len(arguments) > 0 {
				if err := json.Unmarshal(arguments, &params); err != nil {
					return "", fmt.Errorf("%w: %v", ErrInvalidArguments, err)
				}
			}
			return fn(ctx, params)
		},
	}
}

// ToolRegistry maps tool names to descriptors. It is populated once at
// startup and only read afterwards, so it needs no locking.
type ToolRegistry struct {
	tools   map[string]Tool
	schemas map[string]*gojsonschema.Schema
	order   []string
}

// NewToolRegistry creates a registry holding tools, in the given order.
func NewToolRegistry(tools ...Tool) (*ToolRegistry, error) {
	r := &ToolRegistry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*gojsonschema.Schema),
	}
	for _, tool := range tools {
		if err := r.Register(tool); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a tool. A tool without a Handler is listed but cannot be
// called.
func (r *ToolRegistry) Register(tool Tool) error {
	if tool.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if tool.Description == "" {
		return fmt.Errorf("tool %s: description cannot be empty", tool.Name)
	}
	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("duplicate tool: %s", tool.Name)
	}

	if len(tool.InputSchema) > 0 {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(tool.InputSchema))
		if err != nil {
			return fmt.Errorf("tool %s: invalid input schema: %w", tool.Name, err)
		}
		r.schemas[tool.Name] = schema
	}

	r.tools[tool.Name] = tool
	r.order = append(r.order, tool.Name)
	return nil
}

// Get returns the tool registered under name.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns every tool in registration order.
func (r *ToolRegistry) List() []Tool {
	tools := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		tools = append(tools, r.tools[name])
	}
	return tools
}

// Call validates arguments against the tool's schema and invokes it.
// Missing or null arguments are treated as an empty object.
func (r *ToolRegistry) Call(ctx context.Context, params CallToolParams) (CallToolResult, error) {
	ctx, span := observability.StartSpan(ctx, "ToolRegistry.Call")
	defer span.End()
	span.SetAttributes(attribute.String("tool", params.Name))

	var err error
	defer func() { observability.RecordError(span, err) }()

	tool, ok := r.tools[params.Name]
	if !ok {
		err = fmt.Errorf("%w: %s", ErrToolNotFound, params.Name)
		return CallToolResult{}, err
	}
	if tool.Handler == nil {
		err = fmt.Errorf("%w: %s", ErrToolNotInvocable, params.Name)
		return CallToolResult{}, err
	}

	args, err := normalizeArguments(params.Arguments)
	if err != nil {
		return CallToolResult{}, err
	}

	if schema, ok := r.schemas[tool.Name]; ok {
		if err = validateArguments(schema, args); err != nil {
			return CallToolResult{}, err
		}
	}

	text, err := tool.Handler(ctx, args)
	if err != nil {
		return CallToolResult{}, err
	}

	span.SetAttributes(attribute.Int("result_length", len(text)))
	return CallToolResult{
		Content: []ToolResultContent{{Type: "text", Text: text}},
	}, nil
}

func normalizeArguments(raw json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return json.RawMessage("{}"), nil
	}
	if trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: arguments must be an object", ErrInvalidArguments)
	}

	// A null member is treated as omitted so optional defaults still apply.
	var members map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &members); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	stripped := false
	for name, value := range members {
		if bytes.Equal(bytes.TrimSpace(value), []byte("null")) {
			delete(members, name)
			stripped = true
		}
	}
	if !stripped {
		return trimmed, nil
	}
	return json.Marshal(members)
}

func validateArguments(schema *gojsonschema.Schema, args json.RawMessage) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(args))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	if result.Valid() {
		return nil
	}

	var msgs []string
	for _, desc := range result.Errors() {
		msgs = append(msgs, desc.String())
	}
	return fmt.Errorf("%w: %s", ErrInvalidArguments, strings.Join(msgs, "; "))
}
