package qianfan

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qianfan-chat/internal/domain"
)

type namedTool struct{ name string }

func (n namedTool) Definition() domain.ToolDefinition { return domain.ToolDefinition{Name: n.name} }
func (n namedTool) Call(context.Context, string, map[string]any) (string, error) {
	return "", nil
}

func okCompletion(content string) *ChatCompletion {
	return &ChatCompletion{
		ID:      "as-1",
		Object:  "chat.completion",
		Created: 1700000000,
		Choices: []Choice{{Index: 0, FinishReason: "stop", Message: Message{Role: "assistant", Content: content}}},
		Usage:   &Usage{PromptTokens: 5, CompletionTokens: 2, TotalTokens: 7},
	}
}

func TestChatModelCall(t *testing.T) {
	ft := &fakeTransport{chatFn: func(context.Context, *ChatCompletionRequest) (*ChatCompletion, error) {
		return okCompletion("hi"), nil
	}}
	obs := &recordingObserver{}
	m := NewChatModel(ft, slog.Default(), WithObserver(obs))

	resp, err := m.Call(context.Background(), domain.NewPrompt(domain.UserMessage("hello")))
	require.NoError(t, err)

	require.Len(t, resp.Generations, 1)
	assert.Equal(t, "hi", resp.Content())
	assert.Equal(t, "as-1", resp.Metadata.ID)
	assert.Equal(t, DefaultChatModel, resp.Metadata.Model)
	assert.Equal(t, domain.NewUsage(5, 2, 7), resp.Metadata.Usage)
	assert.Equal(t, time.Unix(1700000000, 0), resp.Metadata.Created)

	require.Len(t, ft.chatReqs, 1)
	req := ft.chatReqs[0]
	assert.False(t, req.Stream)
	assert.Equal(t, DefaultChatModel, req.Model)
	require.NotNil(t, req.Temperature)
	assert.Equal(t, DefaultTemperature, *req.Temperature)

	require.Len(t, obs.started, 1)
	assert.Equal(t, domain.OperationChatCall, obs.started[0].Operation)
	assert.NotEmpty(t, obs.started[0].CallID)
	assert.Len(t, obs.stops, 1)
	assert.Empty(t, obs.errs)
}

func TestChatModelOptionPrecedence(t *testing.T) {
	ft := &fakeTransport{chatFn: func(context.Context, *ChatCompletionRequest) (*ChatCompletion, error) {
		return okCompletion("ok"), nil
	}}
	m := NewChatModel(ft, slog.Default(), WithDefaultOptions(domain.ChatOptions{
		Model:       "ernie-speed",
		Temperature: domain.Ptr(0.7),
		MaxTokens:   domain.Ptr(256),
	}))

	prompt := domain.NewPrompt(domain.UserMessage("q")).WithOptions(domain.ChatOptions{TopP: domain.Ptr(0.9)})
	_, err := m.CallWith(context.Background(), prompt, &domain.ChatOptions{Temperature: domain.Ptr(0.2)})
	require.NoError(t, err)

	req := ft.chatReqs[0]
	assert.Equal(t, "ernie-speed", req.Model)
	assert.Equal(t, 0.2, *req.Temperature)
	assert.Equal(t, 0.9, *req.TopP)
	assert.Equal(t, 256, *req.MaxTokens)
	assert.Nil(t, req.PresencePenalty)

	// Defaults are untouched by the call.
	assert.Equal(t, 0.7, *m.DefaultOptions().Temperature)
}

func TestChatModelDefaultOptionsIsCopy(t *testing.T) {
	m := NewChatModel(&fakeTransport{}, slog.Default())
	opts := m.DefaultOptions()
	*opts.Temperature = 1.5
	assert.Equal(t, DefaultTemperature, *m.DefaultOptions().Temperature)
}

func TestChatModelDuplicateToolNameFailsBeforeNetwork(t *testing.T) {
	ft := &fakeTransport{chatFn: func(context.Context, *ChatCompletionRequest) (*ChatCompletion, error) {
		t.Fatal("transport must not be called")
		return nil, nil
	}}
	m := NewChatModel(ft, slog.Default())

	prompt := domain.NewPrompt(domain.UserMessage("q")).WithOptions(domain.ChatOptions{
		ToolCallbacks: []domain.ToolCallback{namedTool{"lookup"}, namedTool{"lookup"}},
	})
	_, err := m.Call(context.Background(), prompt)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDuplicateToolName)
	assert.Equal(t, 0, ft.chatCalls())
}

func TestChatModelMultipleSystemMessages(t *testing.T) {
	ft := &fakeTransport{}
	obs := &recordingObserver{}
	m := NewChatModel(ft, slog.Default(), WithObserver(obs))

	_, err := m.Call(context.Background(), domain.NewPrompt(
		domain.SystemMessage("a"), domain.UserMessage("q"), domain.SystemMessage("b"),
	))
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, 0, ft.chatCalls())
	assert.Len(t, obs.errs, 1)
}

func TestChatModelEmptyCompletion(t *testing.T) {
	ft := &fakeTransport{chatFn: func(context.Context, *ChatCompletionRequest) (*ChatCompletion, error) {
		return nil, nil
	}}
	m := NewChatModel(ft, slog.Default())

	resp, err := m.Call(context.Background(), domain.NewPrompt(domain.UserMessage("q")))
	require.NoError(t, err)
	assert.Empty(t, resp.Generations)
	assert.True(t, resp.Metadata.Usage.IsEmpty())
}

func TestChatModelMissingUsage(t *testing.T) {
	ft := &fakeTransport{chatFn: func(context.Context, *ChatCompletionRequest) (*ChatCompletion, error) {
		c := okCompletion("hi")
		c.Usage = nil
		return c, nil
	}}
	m := NewChatModel(ft, slog.Default())

	resp, err := m.Call(context.Background(), domain.NewPrompt(domain.UserMessage("q")))
	require.NoError(t, err)
	assert.True(t, resp.Metadata.Usage.IsEmpty())
	assert.NotEqual(t, domain.NewUsage(0, 0, 0), resp.Metadata.Usage)
}

func TestChatModelRetriesTransientFailures(t *testing.T) {
	attempts := 0
	ft := &fakeTransport{chatFn: func(context.Context, *ChatCompletionRequest) (*ChatCompletion, error) {
		attempts++
		if attempts < 3 {
			return nil, domain.NewTransportError("qianfan.http", http.StatusServiceUnavailable, domain.ErrServerError, "busy")
		}
		return okCompletion("third time"), nil
	}}

	var mu sync.Mutex
	var states []CallState
	hook := func(_ string, _, to CallState) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, to)
	}
	m := NewChatModel(ft, slog.Default(), WithRetryPolicy(retryTimes(3)), WithStateHook(hook))

	resp, err := m.Call(context.Background(), domain.NewPrompt(domain.UserMessage("q")))
	require.NoError(t, err)
	assert.Equal(t, "third time", resp.Content())
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []CallState{
		StateAwaitingResponse,
		StateAwaitingResponse,
		StateAwaitingResponse,
		StateResponseReceived,
		StateToolCheck,
		StateResponseReady,
	}, states)
}

func TestChatModelDoesNotRetryPermanentFailures(t *testing.T) {
	attempts := 0
	ft := &fakeTransport{chatFn: func(context.Context, *ChatCompletionRequest) (*ChatCompletion, error) {
		attempts++
		return nil, domain.NewTransportError("qianfan.http", http.StatusUnauthorized, domain.ErrAuthInvalid, "bad key")
	}}
	var last CallState
	m := NewChatModel(ft, slog.Default(), WithRetryPolicy(retryTimes(3)),
		WithStateHook(func(_ string, _, to CallState) { last = to }))

	_, err := m.Call(context.Background(), domain.NewPrompt(domain.UserMessage("q")))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTransport)
	assert.ErrorIs(t, err, domain.ErrAuthInvalid)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, StateFailed, last)
}

func TestChatModelToolRound(t *testing.T) {
	ft := &fakeTransport{chatFn: func(context.Context, *ChatCompletionRequest) (*ChatCompletion, error) {
		return &ChatCompletion{
			ID:      "as-tool",
			Created: 1700000000,
			Choices: []Choice{{FinishReason: "tool_calls", Message: Message{
				Role: "assistant",
				ToolCalls: []ToolCall{{
					Type:     "function",
					Function: FunctionCall{Name: "get_weather", Arguments: `{"city":"Beijing"}`},
				}},
			}}},
		}, nil
	}}

	call := domain.ToolCall{ID: "get_weather", Type: "function", Name: "get_weather", Arguments: `{"city":"Beijing"}`}
	mgr := &fakeToolManager{
		required: true,
		defs:     []domain.ToolDefinition{{Name: "get_weather", InputSchema: `{"type":"object"}`}},
		result: &domain.ToolExecutionResult{
			ConversationHistory: []domain.Message{
				domain.UserMessage("weather?"),
				domain.AssistantMessage("", call),
				domain.ToolResponseMessage(call, "sunny"),
			},
			ReturnDirect: true,
		},
	}
	m := NewChatModel(ft, slog.Default(), WithToolCallingManager(mgr))

	resp, err := m.Call(context.Background(), domain.NewPrompt(domain.UserMessage("weather?")))
	require.NoError(t, err)

	require.Len(t, mgr.executed, 1)
	requested := mgr.executed[0].Generations[0].Message.ToolCalls
	require.Len(t, requested, 1)
	assert.Equal(t, "get_weather", requested[0].ID, "missing id falls back to the name")

	require.Len(t, resp.Generations, 1)
	gen := resp.Generations[0]
	assert.Equal(t, "sunny", gen.Message.Content)
	assert.Equal(t, domain.FinishReasonReturnDirect, gen.Metadata.FinishReason)
	assert.Equal(t, "get_weather", gen.Metadata.ToolName)
	assert.Equal(t, "as-tool", resp.Metadata.ID)

	require.Len(t, ft.chatReqs, 1, "tool results are not sent back")
	require.Len(t, ft.chatReqs[0].Tools, 1)
	assert.Equal(t, "object", ft.chatReqs[0].Tools[0].Function.Parameters["type"])
}

func TestChatModelToolExecutionDisabled(t *testing.T) {
	ft := &fakeTransport{chatFn: func(context.Context, *ChatCompletionRequest) (*ChatCompletion, error) {
		return &ChatCompletion{Choices: []Choice{{Message: Message{
			ToolCalls: []ToolCall{{ID: "c1", Function: FunctionCall{Name: "lookup"}}},
		}}}}, nil
	}}
	mgr := &fakeToolManager{required: true}
	m := NewChatModel(ft, slog.Default(), WithToolCallingManager(mgr))

	prompt := domain.NewPrompt(domain.UserMessage("q")).WithOptions(domain.ChatOptions{
		InternalToolExecutionEnabled: domain.Ptr(false),
	})
	resp, err := m.Call(context.Background(), prompt)
	require.NoError(t, err)
	assert.Empty(t, mgr.executed)
	assert.True(t, resp.HasToolCalls())
}

func TestChatModelToolFailure(t *testing.T) {
	ft := &fakeTransport{chatFn: func(context.Context, *ChatCompletionRequest) (*ChatCompletion, error) {
		return &ChatCompletion{Choices: []Choice{{Message: Message{
			ToolCalls: []ToolCall{{ID: "c1", Function: FunctionCall{Name: "lookup"}}},
		}}}}, nil
	}}
	mgr := &fakeToolManager{required: true, execErr: domain.NewDomainError("tool", domain.ErrToolNotFound, "lookup")}
	m := NewChatModel(ft, slog.Default(), WithToolCallingManager(mgr))

	_, err := m.Call(context.Background(), domain.NewPrompt(domain.UserMessage("q")))
	assert.ErrorIs(t, err, domain.ErrToolNotFound)
}

func TestChatModelSchemaParseError(t *testing.T) {
	ft := &fakeTransport{}
	mgr := &fakeToolManager{defs: []domain.ToolDefinition{{Name: "broken", InputSchema: "{not json"}}}
	m := NewChatModel(ft, slog.Default(), WithToolCallingManager(mgr))

	_, err := m.Call(context.Background(), domain.NewPrompt(domain.UserMessage("q")))
	assert.ErrorIs(t, err, domain.ErrSchemaParse)
	assert.Equal(t, 0, ft.chatCalls())
}

// --- Stream ---

func TestChatModelStreamStopsAtStopChunk(t *testing.T) {
	var producer *chunkProducer
	ft := &fakeTransport{streamFn: func(ctx context.Context, _ *ChatCompletionRequest) (<-chan StreamResult, error) {
		var ch <-chan StreamResult
		ch, producer = produce(ctx,
			textChunk("as-s", "Hel", ""),
			textChunk("as-s", "lo", ""),
			textChunk("as-s", "!", "stop"),
			textChunk("as-s", " never", ""),
		)
		return ch, nil
	}}
	m := NewChatModel(ft, slog.Default())

	stream, err := m.Stream(context.Background(), domain.NewPrompt(domain.UserMessage("q")))
	require.NoError(t, err)

	var contents []string
	for frag := range stream.Fragments() {
		contents = append(contents, frag.Content())
	}
	assert.Equal(t, []string{"Hel", "lo", "!"}, contents)
	require.NoError(t, stream.Err())

	resp, err := stream.Response()
	require.NoError(t, err)
	assert.Equal(t, "Hello!", resp.Content())
	assert.Equal(t, "stop", resp.Result().Metadata.FinishReason)

	select {
	case <-producer.done:
	case <-time.After(time.Second):
		t.Fatal("upstream was not cancelled after the stop chunk")
	}
	assert.Equal(t, int32(3), producer.sent.Load(), "the chunk after stop must never be pulled")

	require.Len(t, ft.streamReqs, 1)
	assert.True(t, ft.streamReqs[0].Stream)
}

func TestChatModelStreamEndsWithoutStop(t *testing.T) {
	ft := &fakeTransport{streamFn: func(ctx context.Context, _ *ChatCompletionRequest) (<-chan StreamResult, error) {
		ch, _ := produce(ctx, textChunk("as-s", "a", ""), textChunk("as-s", "b", ""))
		return ch, nil
	}}
	m := NewChatModel(ft, slog.Default())

	stream, err := m.Stream(context.Background(), domain.NewPrompt(domain.UserMessage("q")))
	require.NoError(t, err)

	resp, err := stream.Response()
	require.NoError(t, err)
	assert.Equal(t, "ab", resp.Content())
}

func TestChatModelStreamMidStreamError(t *testing.T) {
	boom := &domain.TransportError{Op: "qianfan.stream", Cause: errors.New("connection reset")}
	ft := &fakeTransport{streamFn: func(ctx context.Context, _ *ChatCompletionRequest) (<-chan StreamResult, error) {
		ch, _ := produce(ctx, textChunk("as-s", "partial", ""), StreamResult{Err: boom})
		return ch, nil
	}}
	obs := &recordingObserver{}
	m := NewChatModel(ft, slog.Default(), WithObserver(obs))

	stream, err := m.Stream(context.Background(), domain.NewPrompt(domain.UserMessage("q")))
	require.NoError(t, err)

	var got []string
	for frag := range stream.Fragments() {
		got = append(got, frag.Content())
	}
	assert.Equal(t, []string{"partial"}, got)

	err = stream.Err()
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTransport)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Len(t, obs.errs, 1)
	assert.Empty(t, obs.stops)
}

func TestChatModelStreamInitiationFailure(t *testing.T) {
	attempts := 0
	ft := &fakeTransport{streamFn: func(context.Context, *ChatCompletionRequest) (<-chan StreamResult, error) {
		attempts++
		return nil, domain.NewTransportError("qianfan.http", http.StatusTooManyRequests, domain.ErrRateLimit, "slow down")
	}}
	m := NewChatModel(ft, slog.Default(), WithRetryPolicy(retryTimes(2)))

	_, err := m.Stream(context.Background(), domain.NewPrompt(domain.UserMessage("q")))
	assert.ErrorIs(t, err, domain.ErrRateLimit)
	assert.Equal(t, 2, attempts)
}

func TestChatModelStreamClose(t *testing.T) {
	var producer *chunkProducer
	ft := &fakeTransport{streamFn: func(ctx context.Context, _ *ChatCompletionRequest) (<-chan StreamResult, error) {
		var ch <-chan StreamResult
		ch, producer = produce(ctx, textChunk("as-s", "a", ""), textChunk("as-s", "b", ""), textChunk("as-s", "c", ""))
		return ch, nil
	}}
	m := NewChatModel(ft, slog.Default())

	stream, err := m.Stream(context.Background(), domain.NewPrompt(domain.UserMessage("q")))
	require.NoError(t, err)

	first := <-stream.Fragments()
	assert.Equal(t, "a", first.Content())
	stream.Close()

	_, err = stream.Response()
	assert.ErrorIs(t, err, context.Canceled)

	select {
	case <-producer.done:
	case <-time.After(time.Second):
		t.Fatal("upstream was not cancelled by Close")
	}
}

func TestChatModelStreamToolRound(t *testing.T) {
	idx := 0
	ft := &fakeTransport{streamFn: func(ctx context.Context, _ *ChatCompletionRequest) (<-chan StreamResult, error) {
		ch, _ := produce(ctx,
			StreamResult{Chunk: &ChatCompletionChunk{ID: "as-t", Choices: []ChunkChoice{{Delta: Message{
				ToolCalls: []ToolCall{{Index: &idx, ID: "call-1", Type: "function", Function: FunctionCall{Name: "lookup", Arguments: `{"q":`}}},
			}}}}},
			StreamResult{Chunk: &ChatCompletionChunk{ID: "as-t", Choices: []ChunkChoice{{Delta: Message{
				ToolCalls: []ToolCall{{Index: &idx, Function: FunctionCall{Arguments: `"go"}`}}},
			}, FinishReason: "stop"}}}},
		)
		return ch, nil
	}}

	call := domain.ToolCall{ID: "call-1", Type: "function", Name: "lookup", Arguments: `{"q":"go"}`}
	mgr := &fakeToolManager{
		required: true,
		result: &domain.ToolExecutionResult{ConversationHistory: []domain.Message{
			domain.UserMessage("q"),
			domain.AssistantMessage("", call),
			domain.ToolResponseMessage(call, "found"),
		}},
	}
	m := NewChatModel(ft, slog.Default(), WithToolCallingManager(mgr))

	stream, err := m.Stream(context.Background(), domain.NewPrompt(domain.UserMessage("q")))
	require.NoError(t, err)

	var frags []domain.ChatResponse
	for frag := range stream.Fragments() {
		frags = append(frags, frag)
	}
	require.Len(t, frags, 3, "two chunks plus the tool result")
	assert.Equal(t, "found", frags[2].Content())

	require.Len(t, mgr.executed, 1)
	folded := mgr.executed[0].Generations[0].Message.ToolCalls
	require.Len(t, folded, 1)
	assert.Equal(t, call, folded[0])

	resp, err := stream.Response()
	require.NoError(t, err)
	assert.Equal(t, "found", resp.Content())
	assert.Equal(t, domain.FinishReasonReturnDirect, resp.Result().Metadata.FinishReason)
}

func TestChatModelStreamStates(t *testing.T) {
	ft := &fakeTransport{streamFn: func(ctx context.Context, _ *ChatCompletionRequest) (<-chan StreamResult, error) {
		ch, _ := produce(ctx, textChunk("as-s", "x", "stop"))
		return ch, nil
	}}
	var mu sync.Mutex
	var states []CallState
	m := NewChatModel(ft, slog.Default(), WithStateHook(func(_ string, _, to CallState) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, to)
	}))

	stream, err := m.Stream(context.Background(), domain.NewPrompt(domain.UserMessage("q")))
	require.NoError(t, err)
	_, err = stream.Response()
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []CallState{
		StateAwaitingResponse,
		StateReceivingChunks,
		StateChunkAggregation,
		StateToolCheck,
		StateResponseReady,
	}, states)
}
