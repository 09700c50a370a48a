package qianfan

import (
	"time"

	"qianfan-chat/internal/domain"
)

// MapCompletion converts a synchronous completion into a ChatResponse. Only
// the first choice is mapped. model is the model the request asked for.
// A nil completion maps to a response with no generations.
func MapCompletion(c *ChatCompletion, model string) *domain.ChatResponse {
	if c == nil {
		return &domain.ChatResponse{Metadata: domain.ResponseMetadata{Model: model, Usage: domain.EmptyUsage()}}
	}

	created := unixTime(c.Created)
	resp := &domain.ChatResponse{
		Metadata: domain.ResponseMetadata{
			ID:      c.ID,
			Model:   model,
			Object:  c.Object,
			Created: created,
			Usage:   mapUsage(c.Usage),
			Result:  c.Result,
		},
	}

	switch {
	case len(c.Choices) > 0:
		choice := c.Choices[0]
		resp.Generations = []domain.Generation{{
			Message: domain.AssistantMessage(choice.Message.Content, mapToolCalls(choice.Message.ToolCalls)...),
			Metadata: domain.GenerationMetadata{
				ID:           c.ID,
				Role:         domain.RoleAssistant,
				FinishReason: choice.FinishReason,
				Created:      created,
				Index:        choice.Index,
				Flag:         choice.Flag,
			},
		}}
	case c.Result != "":
		resp.Generations = []domain.Generation{{
			Message: domain.AssistantMessage(c.Result),
			Metadata: domain.GenerationMetadata{
				ID:           c.ID,
				Role:         domain.RoleAssistant,
				FinishReason: c.FinishReason,
				Created:      created,
			},
		}}
	}
	return resp
}

// MapChunk converts one streamed chunk into a response fragment carrying that
// chunk's content, tool-call fragments and metadata.
func MapChunk(c *ChatCompletionChunk, model string) domain.ChatResponse {
	created := unixTime(c.Created)
	resp := domain.ChatResponse{
		Metadata: domain.ResponseMetadata{
			ID:      c.ID,
			Model:   model,
			Object:  c.Object,
			Created: created,
			Usage:   mapUsage(c.Usage),
			Result:  c.Result,
		},
	}
	for _, choice := range c.Choices {
		role := choice.Delta.Role
		if role == "" {
			role = domain.RoleAssistant
		}
		resp.Generations = append(resp.Generations, domain.Generation{
			Message: domain.AssistantMessage(choice.Delta.Content, mapToolCalls(choice.Delta.ToolCalls)...),
			Metadata: domain.GenerationMetadata{
				ID:           c.ID,
				Role:         role,
				FinishReason: choice.FinishReason,
				Created:      created,
				Index:        choice.Index,
				Flag:         choice.Flag,
			},
		})
	}
	return resp
}

// mapToolCalls converts wire tool calls. A missing id falls back to the
// function name.
func mapToolCalls(calls []ToolCall) []domain.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]domain.ToolCall, 0, len(calls))
	for _, tc := range calls {
		id := tc.ID
		if id == "" {
			id = tc.Function.Name
		}
		typ := tc.Type
		if typ == "" {
			typ = domain.ToolTypeFunction
		}
		out = append(out, domain.ToolCall{
			ID:        id,
			Type:      typ,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out
}

func mapUsage(u *Usage) domain.Usage {
	if u == nil {
		return domain.EmptyUsage()
	}
	return domain.NewUsage(u.PromptTokens, u.CompletionTokens, u.TotalTokens)
}

func unixTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}
