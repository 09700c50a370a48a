package qianfan

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qianfan-chat/internal/domain"
)

func TestRequestBuilderMovesSystemFirst(t *testing.T) {
	b := NewRequestBuilder(nil)
	req, err := b.Build([]domain.Message{
		domain.UserMessage("u1"),
		domain.AssistantMessage("a1"),
		domain.SystemMessage("be brief"),
		domain.UserMessage("u2"),
	}, domain.ChatOptions{}, false)
	require.NoError(t, err)

	var roles, contents []string
	for _, m := range req.Messages {
		roles = append(roles, m.Role)
		contents = append(contents, *m.Content)
	}
	assert.Equal(t, []string{"system", "user", "assistant", "user"}, roles)
	assert.Equal(t, []string{"be brief", "u1", "a1", "u2"}, contents)
}

func TestRequestBuilderRejectsMultipleSystemMessages(t *testing.T) {
	b := NewRequestBuilder(nil)
	_, err := b.Build([]domain.Message{
		domain.SystemMessage("a"),
		domain.SystemMessage("b"),
	}, domain.ChatOptions{}, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, domain.CodeValidation, domain.ErrorCodeOf(err))
}

func TestRequestBuilderOmitsUnsetOptions(t *testing.T) {
	b := NewRequestBuilder(nil)
	req, err := b.Build([]domain.Message{domain.UserMessage("hi")}, domain.ChatOptions{Model: "ernie-speed"}, false)
	require.NoError(t, err)

	raw, err := json.Marshal(req)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.ElementsMatch(t, []string{"messages", "model", "stream"}, keys(fields))
	assert.Equal(t, false, fields["stream"])
}

func TestRequestBuilderSerializesSetOptions(t *testing.T) {
	b := NewRequestBuilder(nil)
	req, err := b.Build([]domain.Message{domain.UserMessage("hi")}, domain.ChatOptions{
		Model:            "ernie-speed",
		Temperature:      domain.Ptr(0.0),
		TopP:             domain.Ptr(0.5),
		MaxTokens:        domain.Ptr(100),
		FrequencyPenalty: domain.Ptr(0.1),
		PresencePenalty:  domain.Ptr(0.2),
		StopSequences:    []string{"END"},
		ResponseFormat:   "json_object",
		ToolChoice:       domain.ToolChoiceNone,
	}, true)
	require.NoError(t, err)

	raw, err := json.Marshal(req)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"messages": [{"role":"user","content":"hi"}],
		"model": "ernie-speed",
		"temperature": 0,
		"top_p": 0.5,
		"max_output_tokens": 100,
		"frequency_penalty": 0.1,
		"presence_penalty": 0.2,
		"stop": ["END"],
		"response_format": {"type":"json_object"},
		"tool_choice": "none",
		"stream": true
	}`, string(raw))
}

func TestRequestBuilderEmptyContentIsNull(t *testing.T) {
	b := NewRequestBuilder(nil)
	req, err := b.Build([]domain.Message{domain.AssistantMessage("")}, domain.ChatOptions{}, false)
	require.NoError(t, err)

	raw, err := json.Marshal(req.Messages[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"assistant","content":null}`, string(raw))
}

func TestRequestBuilderTools(t *testing.T) {
	mgr := &fakeToolManager{defs: []domain.ToolDefinition{{
		Name:        "get_weather",
		Description: "Weather for a city",
		InputSchema: `{"type":"object","properties":{"city":{"type":"string"}},"required":["city"]}`,
	}}}
	b := NewRequestBuilder(mgr)

	req, err := b.Build([]domain.Message{domain.UserMessage("hi")}, domain.ChatOptions{}, false)
	require.NoError(t, err)
	require.Len(t, req.Tools, 1)

	tool := req.Tools[0]
	assert.Equal(t, "function", tool.Type)
	assert.Equal(t, "get_weather", tool.Function.Name)
	assert.Equal(t, "Weather for a city", tool.Function.Description)
	assert.Equal(t, []any{"city"}, tool.Function.Parameters["required"])
	props := tool.Function.Parameters["properties"].(map[string]any)
	assert.Contains(t, props, "city")
}

func TestRequestBuilderSchemaParseError(t *testing.T) {
	mgr := &fakeToolManager{defs: []domain.ToolDefinition{{Name: "bad", InputSchema: `{"type":`}}}
	b := NewRequestBuilder(mgr)

	_, err := b.Build([]domain.Message{domain.UserMessage("hi")}, domain.ChatOptions{}, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSchemaParse)
	assert.Contains(t, err.Error(), "bad")
	assert.False(t, domain.IsRetryableError(err))
}

func TestRequestBuilderResolveError(t *testing.T) {
	mgr := &fakeToolManager{defsErr: domain.NewDomainError("resolve", domain.ErrToolNotFound, "ghost")}
	b := NewRequestBuilder(mgr)

	_, err := b.Build([]domain.Message{domain.UserMessage("hi")}, domain.ChatOptions{ToolNames: []string{"ghost"}}, false)
	assert.True(t, errors.Is(err, domain.ErrToolNotFound))
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
