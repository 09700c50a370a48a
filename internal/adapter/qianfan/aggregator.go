package qianfan

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"time"

	"qianfan-chat/internal/domain"
)

// maxToolCallsPerChoice bounds the tool-call index a stream may address.
const maxToolCallsPerChoice = 128

// pumpChunks pulls chunks from src and hands each to handle, in order.
// It returns after the first chunk with a "stop" finish reason, when src
// closes, on the first stream error, or when ctx is done. cancel is always
// called on return so the upstream read ends and no further chunk is pulled.
func pumpChunks(ctx context.Context, src <-chan StreamResult, cancel context.CancelFunc, handle func(*ChatCompletionChunk) error) error {
	defer cancel()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res, ok := <-src:
			if !ok {
				return ctx.Err()
			}
			if res.Err != nil {
				return res.Err
			}
			if res.Chunk == nil {
				continue
			}
			if err := handle(res.Chunk); err != nil {
				return err
			}
			if res.Chunk.IsStop() {
				return nil
			}
		}
	}
}

// MessageAggregator folds the chunks of one streamed completion into a
// single response. Content is concatenated in arrival order, tool-call
// fragments are merged by index, and the latest non-empty metadata and the
// latest reported usage win.
type MessageAggregator struct {
	id      string
	object  string
	result  strings.Builder
	created time.Time
	usage   domain.Usage
	choices map[int]*choiceAccumulator
}

type choiceAccumulator struct {
	index        int
	role         string
	finishReason string
	flag         int
	content      strings.Builder
	toolCalls    []domain.ToolCall
}

// NewMessageAggregator creates an empty aggregator.
func NewMessageAggregator() *MessageAggregator {
	return &MessageAggregator{usage: domain.EmptyUsage(), choices: make(map[int]*choiceAccumulator)}
}

// Add folds one chunk.
func (a *MessageAggregator) Add(chunk *ChatCompletionChunk) {
	if chunk.ID != "" {
		a.id = chunk.ID
	}
	if chunk.Object != "" {
		a.object = chunk.Object
	}
	if chunk.Created != 0 {
		a.created = unixTime(chunk.Created)
	}
	a.result.WriteString(chunk.Result)
	if chunk.Usage != nil {
		a.usage = mapUsage(chunk.Usage)
	}

	for _, choice := range chunk.Choices {
		acc, ok := a.choices[choice.Index]
		if !ok {
			acc = &choiceAccumulator{index: choice.Index}
			a.choices[choice.Index] = acc
		}
		acc.add(choice)
	}
}

func (acc *choiceAccumulator) add(choice ChunkChoice) {
	if choice.Delta.Role != "" {
		acc.role = choice.Delta.Role
	}
	if choice.FinishReason != "" {
		acc.finishReason = choice.FinishReason
	}
	if choice.Flag != 0 {
		acc.flag = choice.Flag
	}
	acc.content.WriteString(choice.Delta.Content)

	for pos, tc := range choice.Delta.ToolCalls {
		idx := pos
		if tc.Index != nil {
			idx = *tc.Index
		}
		if idx < 0 || idx >= maxToolCallsPerChoice {
			continue
		}
		for len(acc.toolCalls) <= idx {
			acc.toolCalls = append(acc.toolCalls, domain.ToolCall{})
		}

		existing := &acc.toolCalls[idx]
		if tc.ID != "" {
			existing.ID = tc.ID
		}
		if tc.Type != "" {
			existing.Type = tc.Type
		}
		if tc.Function.Name != "" {
			existing.Name = tc.Function.Name
		}
		existing.Arguments += tc.Function.Arguments
	}
}

// Response returns the folded response. model is the requested model.
func (a *MessageAggregator) Response(model string) *domain.ChatResponse {
	resp := &domain.ChatResponse{
		Metadata: domain.ResponseMetadata{
			ID:      a.id,
			Model:   model,
			Object:  a.object,
			Created: a.created,
			Usage:   a.usage,
			Result:  a.result.String(),
		},
	}

	accs := make([]*choiceAccumulator, 0, len(a.choices))
	for _, acc := range a.choices {
		accs = append(accs, acc)
	}
	slices.SortFunc(accs, func(x, y *choiceAccumulator) int { return cmp.Compare(x.index, y.index) })

	for _, acc := range accs {
		role := acc.role
		if role == "" {
			role = domain.RoleAssistant
		}
		resp.Generations = append(resp.Generations, domain.Generation{
			Message: domain.AssistantMessage(acc.content.String(), acc.finishedToolCalls()...),
			Metadata: domain.GenerationMetadata{
				ID:           a.id,
				Role:         role,
				FinishReason: acc.finishReason,
				Created:      a.created,
				Index:        acc.index,
				Flag:         acc.flag,
			},
		})
	}
	return resp
}

// finishedToolCalls drops never-filled slots and applies the id and type
// fallbacks.
func (acc *choiceAccumulator) finishedToolCalls() []domain.ToolCall {
	var out []domain.ToolCall
	for _, tc := range acc.toolCalls {
		if tc.Name == "" && tc.ID == "" && tc.Arguments == "" {
			continue
		}
		if tc.ID == "" {
			tc.ID = tc.Name
		}
		if tc.Type == "" {
			tc.Type = domain.ToolTypeFunction
		}
		out = append(out, tc)
	}
	return out
}
