package qianfan

import (
	"encoding/json"
	"fmt"

	"qianfan-chat/internal/domain"
)

// RequestBuilder turns a conversation and resolved options into a wire request.
type RequestBuilder struct {
	tools domain.ToolCallingManager
}

// NewRequestBuilder creates a RequestBuilder. A nil manager means no tool
// definitions are ever attached.
func NewRequestBuilder(tools domain.ToolCallingManager) *RequestBuilder {
	return &RequestBuilder{tools: tools}
}

// Build creates the request. The system message, if any, is moved to the
// front; the other messages keep their order. Unset options are left out.
func (b *RequestBuilder) Build(conversation []domain.Message, opts domain.ChatOptions, streaming bool) (*ChatCompletionRequest, error) {
	messages, err := buildMessages(conversation)
	if err != nil {
		return nil, err
	}

	req := &ChatCompletionRequest{
		Messages:         messages,
		Model:            opts.Model,
		FrequencyPenalty: opts.FrequencyPenalty,
		MaxTokens:        opts.MaxTokens,
		PresencePenalty:  opts.PresencePenalty,
		Stop:             opts.StopSequences,
		Stream:           streaming,
		Temperature:      opts.Temperature,
		TopP:             opts.TopP,
		ToolChoice:       string(opts.ToolChoice),
	}
	if opts.ResponseFormat != "" {
		req.ResponseFormat = &ResponseFormat{Type: opts.ResponseFormat}
	}

	tools, err := b.buildTools(opts)
	if err != nil {
		return nil, err
	}
	req.Tools = tools
	return req, nil
}

func buildMessages(conversation []domain.Message) ([]ChatCompletionMessage, error) {
	var system *domain.Message
	others := make([]ChatCompletionMessage, 0, len(conversation))
	for i := range conversation {
		msg := &conversation[i]
		if msg.Role == domain.RoleSystem {
			if system != nil {
				return nil, domain.NewDomainError("RequestBuilder.Build", domain.ErrValidation,
					"only one system message is allowed in the prompt")
			}
			system = msg
			continue
		}
		others = append(others, wireMessage(*msg))
	}

	if system == nil {
		return others, nil
	}
	return append([]ChatCompletionMessage{wireMessage(*system)}, others...), nil
}

func wireMessage(msg domain.Message) ChatCompletionMessage {
	out := ChatCompletionMessage{Role: msg.Role}
	if msg.Content != "" {
		content := msg.Content
		out.Content = &content
	}
	return out
}

func (b *RequestBuilder) buildTools(opts domain.ChatOptions) ([]FunctionTool, error) {
	if b.tools == nil {
		return nil, nil
	}
	defs, err := b.tools.ResolveToolDefinitions(opts)
	if err != nil {
		return nil, domain.WrapOp("RequestBuilder.Build", err)
	}

	tools := make([]FunctionTool, 0, len(defs))
	for _, def := range defs {
		params, err := parseSchema(def.InputSchema)
		if err != nil {
			return nil, domain.NewDomainError("RequestBuilder.Build", domain.ErrSchemaParse,
				fmt.Sprintf("tool %q: %v", def.Name, err))
		}
		tools = append(tools, FunctionTool{
			Type: domain.ToolTypeFunction,
			Function: Function{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  params,
			},
		})
	}
	if len(tools) == 0 {
		return nil, nil
	}
	return tools, nil
}

// parseSchema decodes a JSON-schema document into a generic tree.
// An empty schema stays nil.
func parseSchema(schema string) (map[string]any, error) {
	if schema == "" {
		return nil, nil
	}
	var tree map[string]any
	if err := json.Unmarshal([]byte(schema), &tree); err != nil {
		return nil, err
	}
	return tree, nil
}
