package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"qianfan-chat/internal/domain"
)

// Func is the body of a function tool. args is the model-supplied JSON
// object, already validated against the tool's input schema.
type Func func(ctx context.Context, args json.RawMessage, toolContext map[string]any) (string, error)

// FunctionCallback adapts a Go function to domain.ToolCallback.
type FunctionCallback struct {
	def          domain.ToolDefinition
	fn           Func
	schema       *jsonschema.Schema
	returnDirect bool
}

var _ domain.ToolCallback = (*FunctionCallback)(nil)

// FunctionOption configures a FunctionCallback.
type FunctionOption func(*FunctionCallback)

// WithReturnDirect marks the tool result as final: it is handed to the
// caller instead of being sent back to the model.
func WithReturnDirect(v bool) FunctionOption {
	return func(f *FunctionCallback) { f.returnDirect = v }
}

// NewFunction creates a function tool. A non-empty inputSchema is compiled
// up front; arguments that do not satisfy it are rejected before fn runs.
func NewFunction(name, description, inputSchema string, fn Func, opts ...FunctionOption) (*FunctionCallback, error) {
	if name == "" {
		return nil, domain.NewDomainError("tool.NewFunction", domain.ErrValidation, "name must not be empty")
	}
	f := &FunctionCallback{
		def: domain.ToolDefinition{Name: name, Description: description, InputSchema: inputSchema},
		fn:  fn,
	}
	if strings.TrimSpace(inputSchema) != "" {
		compiled, err := compileSchema(name, inputSchema)
		if err != nil {
			return nil, domain.NewDomainError("tool.NewFunction", domain.ErrSchemaParse, err.Error())
		}
		f.schema = compiled
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

func compileSchema(name, schema string) (*jsonschema.Schema, error) {
	url := name + ".schema.json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, strings.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("add schema resource for %q: %w", name, err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema for %q: %w", name, err)
	}
	return compiled, nil
}

// Definition implements domain.ToolCallback.
func (f *FunctionCallback) Definition() domain.ToolDefinition { return f.def }

// ReturnDirect reports whether the result goes straight to the caller.
func (f *FunctionCallback) ReturnDirect() bool { return f.returnDirect }

// Call implements domain.ToolCallback. Empty arguments are treated as {}.
func (f *FunctionCallback) Call(ctx context.Context, arguments string, toolContext map[string]any) (string, error) {
	op := "tool." + f.def.Name
	if strings.TrimSpace(arguments) == "" {
		arguments = "{}"
	}

	var v any
	if err := json.Unmarshal([]byte(arguments), &v); err != nil {
		return "", domain.NewDomainError(op, domain.ErrValidation, fmt.Sprintf("invalid JSON arguments: %v", err))
	}
	if f.schema != nil {
		if err := f.schema.Validate(v); err != nil {
			return "", domain.NewDomainError(op, domain.ErrValidation, fmt.Sprintf("schema validation failed: %v", err))
		}
	}
	return f.fn(ctx, json.RawMessage(arguments), toolContext)
}

// NewTypedFunction creates a function tool whose arguments are decoded into
// P. The handler result is returned as is when it is a string and as
// indented JSON otherwise.
func NewTypedFunction[P any](name, description, inputSchema string, handler func(ctx context.Context, params P) (any, error), opts ...FunctionOption) (*FunctionCallback, error) {
	return NewFunction(name, description, inputSchema, func(ctx context.Context, args json.RawMessage, _ map[string]any) (string, error) {
		var p P
		if err := json.Unmarshal(args, &p); err != nil {
			return "", domain.NewDomainError("tool."+name, domain.ErrValidation, fmt.Sprintf("invalid params: %v", err))
		}
		result, err := handler(ctx, p)
		if err != nil {
			return "", err
		}
		return formatResult(result)
	}, opts...)
}

func formatResult(result any) (string, error) {
	if s, ok := result.(string); ok {
		return s, nil
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("format result: %w", err)
	}
	return string(data), nil
}
