package tool

import (
	"context"
	"log/slog"
	"maps"
	"slices"

	"go.opentelemetry.io/otel/trace"

	"qianfan-chat/internal/domain"
	"qianfan-chat/internal/infra/tracer"
)

// Manager is the default domain.ToolCallingManager. Tools come from the
// option's callbacks first, then from the registry by name.
type Manager struct {
	registry *Registry
	logger   *slog.Logger
}

var _ domain.ToolCallingManager = (*Manager)(nil)

// NewManager creates a Manager. registry may be nil when only inline
// callbacks are used.
func NewManager(registry *Registry, logger *slog.Logger) *Manager {
	return &Manager{registry: registry, logger: logger}
}

// ResolveToolDefinitions returns the definitions of every tool the options
// make available, callbacks first, without duplicates.
func (m *Manager) ResolveToolDefinitions(opts domain.ChatOptions) ([]domain.ToolDefinition, error) {
	callbacks, err := m.resolveCallbacks(opts)
	if err != nil {
		return nil, err
	}
	defs := make([]domain.ToolDefinition, 0, len(callbacks))
	for _, cb := range callbacks {
		defs = append(defs, cb.Definition())
	}
	return defs, nil
}

func (m *Manager) resolveCallbacks(opts domain.ChatOptions) ([]domain.ToolCallback, error) {
	out := slices.Clone(opts.ToolCallbacks)
	seen := make(map[string]struct{}, len(out)+len(opts.ToolNames))
	for _, cb := range out {
		seen[cb.Definition().Name] = struct{}{}
	}

	for _, name := range opts.ToolNames {
		if _, ok := seen[name]; ok {
			continue
		}
		if m.registry == nil {
			return nil, domain.NewDomainError("ToolManager.Resolve", domain.ErrToolNotFound, name)
		}
		cb, err := m.registry.Get(name)
		if err != nil {
			return nil, err
		}
		seen[name] = struct{}{}
		out = append(out, cb)
	}
	return out, nil
}

// IsToolExecutionRequired reports whether the response asks for tools and
// internal execution is enabled. Unset counts as enabled.
func (m *Manager) IsToolExecutionRequired(opts domain.ChatOptions, resp *domain.ChatResponse) bool {
	return opts.ToolExecutionEnabled() && resp.HasToolCalls()
}

// ExecuteToolCalls runs every tool call of the first generation that has
// any, in order. The history is the prompt conversation, the requesting
// assistant message, then one tool response per call. ReturnDirect is set
// only when every invoked tool returns directly.
func (m *Manager) ExecuteToolCalls(ctx context.Context, prompt domain.Prompt, resp *domain.ChatResponse) (*domain.ToolExecutionResult, error) {
	var request *domain.Message
	if resp != nil {
		for i := range resp.Generations {
			if resp.Generations[i].Message.HasToolCalls() {
				request = &resp.Generations[i].Message
				break
			}
		}
	}
	if request == nil {
		return nil, domain.NewDomainError("ToolManager.Execute", domain.ErrValidation, "response has no tool calls")
	}

	var opts domain.ChatOptions
	if prompt.Options != nil {
		opts = *prompt.Options
	}
	callbacks, err := m.resolveCallbacks(opts)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]domain.ToolCallback, len(callbacks))
	for _, cb := range callbacks {
		byName[cb.Definition().Name] = cb
	}

	history := make([]domain.Message, 0, len(prompt.Messages)+1+len(request.ToolCalls))
	history = append(history, prompt.Messages...)
	history = append(history, *request)

	returnDirect := true
	for _, call := range request.ToolCalls {
		if err := ctx.Err(); err != nil {
			return nil, domain.WrapOp("ToolManager.Execute", err)
		}
		cb, ok := byName[call.Name]
		if !ok {
			return nil, domain.NewDomainError("ToolManager.Execute", domain.ErrToolNotFound, call.Name)
		}

		content, err := m.invoke(ctx, cb, call, maps.Clone(opts.ToolContext))
		if err != nil {
			return nil, err
		}
		history = append(history, domain.ToolResponseMessage(call, content))
		returnDirect = returnDirect && isReturnDirect(cb)
	}

	return &domain.ToolExecutionResult{ConversationHistory: history, ReturnDirect: returnDirect}, nil
}

func (m *Manager) invoke(ctx context.Context, cb domain.ToolCallback, call domain.ToolCall, toolContext map[string]any) (string, error) {
	ctx, span := tracer.StartSpan(ctx, "tool."+call.Name,
		trace.WithAttributes(
			tracer.StringAttr("tool.name", call.Name),
			tracer.StringAttr("tool.call_id", call.ID),
		),
	)
	defer span.End()

	content, err := cb.Call(ctx, call.Arguments, toolContext)
	if err != nil {
		tracer.RecordError(span, err)
		m.logger.Warn("tool call failed", "tool", call.Name, "call_id", call.ID, "error", err)
		return "", domain.NewDomainError("tool."+call.Name, domain.ErrToolFailure, err.Error())
	}
	tracer.SetOK(span)
	m.logger.Debug("tool call completed", "tool", call.Name, "call_id", call.ID, "bytes", len(content))
	return content, nil
}

func isReturnDirect(cb domain.ToolCallback) bool {
	rd, ok := cb.(interface{ ReturnDirect() bool })
	return ok && rd.ReturnDirect()
}
