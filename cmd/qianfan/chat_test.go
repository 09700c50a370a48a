package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"qianfan-chat/internal/adapter/tool"
	"qianfan-chat/internal/domain"
	"qianfan-chat/internal/usecase"
)

func TestParseChatFlagsDefaults(t *testing.T) {
	f, err := parseChatFlags([]string{"hello", "world"})
	if err != nil {
		t.Fatalf("parseChatFlags: %v", err)
	}
	if f.configPath != "config.yaml" {
		t.Errorf("configPath = %q", f.configPath)
	}
	if got := strings.Join(f.args, " "); got != "hello world" {
		t.Errorf("args = %q", got)
	}
	if f.runtimeOptions() != nil {
		t.Errorf("runtimeOptions should be nil when no option flag is set")
	}
}

func TestParseChatFlagsRuntimeOptions(t *testing.T) {
	f, err := parseChatFlags([]string{
		"-m", "ernie-speed-128k", "-t", "0", "--max-tokens", "64",
		"--tools", "current_time,word_count", "--no-tool-exec", "hi",
	})
	if err != nil {
		t.Fatalf("parseChatFlags: %v", err)
	}
	opts := f.runtimeOptions()
	if opts == nil {
		t.Fatal("runtimeOptions = nil")
	}
	if opts.Model != "ernie-speed-128k" {
		t.Errorf("Model = %q", opts.Model)
	}
	// An explicit zero temperature is still set.
	if opts.Temperature == nil || *opts.Temperature != 0 {
		t.Errorf("Temperature = %v, want 0", opts.Temperature)
	}
	if opts.MaxTokens == nil || *opts.MaxTokens != 64 {
		t.Errorf("MaxTokens = %v, want 64", opts.MaxTokens)
	}
	if len(opts.ToolNames) != 2 || opts.ToolNames[0] != "current_time" {
		t.Errorf("ToolNames = %v", opts.ToolNames)
	}
	if opts.ToolExecutionEnabled() {
		t.Errorf("tool execution should be disabled")
	}
}

func TestParseChatFlagsConflicts(t *testing.T) {
	if _, err := parseChatFlags([]string{"--stream", "--json-schema", "s.json", "hi"}); err == nil {
		t.Error("expected error for --stream with --json-schema")
	}
	if _, err := parseChatFlags([]string{"-i", "hi"}); err == nil {
		t.Error("expected error for --interactive with prompt arguments")
	}
}

func TestParseChatFlagsHelp(t *testing.T) {
	_, err := parseChatFlags([]string{"--help"})
	if !errors.Is(err, pflag.ErrHelp) {
		t.Errorf("err = %v, want pflag.ErrHelp", err)
	}
}

func TestJSONSchemaSetsResponseFormat(t *testing.T) {
	f, err := parseChatFlags([]string{"--json-schema", "schema.json", "hi"})
	if err != nil {
		t.Fatalf("parseChatFlags: %v", err)
	}
	opts := f.runtimeOptions()
	if opts == nil || opts.ResponseFormat != "json_object" {
		t.Errorf("ResponseFormat = %+v", opts)
	}
}

func TestChatSessionPrint(t *testing.T) {
	var buf bytes.Buffer
	s := &chatSession{flags: &chatFlags{}, out: &buf}

	resp := &domain.ChatResponse{Generations: []domain.Generation{{
		Message: domain.AssistantMessage("sure", domain.ToolCall{ID: "c1", Name: "current_time", Arguments: `{}`}),
	}}}
	if err := s.print(resp); err != nil {
		t.Fatalf("print: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "[tool call c1] current_time({})") || !strings.Contains(out, "sure") {
		t.Errorf("output = %q", out)
	}

	buf.Reset()
	if err := s.print(&domain.ChatResponse{}); err != nil {
		t.Fatalf("print empty: %v", err)
	}
	if !strings.Contains(buf.String(), "(empty response)") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestChatSessionPrintStructured(t *testing.T) {
	structured, err := usecase.NewStructuredOutput([]byte(`{"type":"object","required":["ok"]}`))
	if err != nil {
		t.Fatalf("NewStructuredOutput: %v", err)
	}
	var buf bytes.Buffer
	s := &chatSession{flags: &chatFlags{}, structured: structured, out: &buf}

	ok := &domain.ChatResponse{Generations: []domain.Generation{{Message: domain.AssistantMessage(`{"ok":true}`)}}}
	if err := s.print(ok); err != nil {
		t.Fatalf("print: %v", err)
	}
	if !strings.Contains(buf.String(), `"ok": true`) {
		t.Errorf("output = %q", buf.String())
	}

	bad := &domain.ChatResponse{Generations: []domain.Generation{{Message: domain.AssistantMessage(`{"nope":1}`)}}}
	if err := s.print(bad); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}

func TestBuiltinTools(t *testing.T) {
	reg := tool.NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := registerBuiltinTools(reg); err != nil {
		t.Fatalf("registerBuiltinTools: %v", err)
	}
	if names := reg.Names(); len(names) != 2 {
		t.Fatalf("Names = %v", names)
	}

	orig := now
	now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	defer func() { now = orig }()

	ct, err := reg.Get("current_time")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	out, err := ct.Call(context.Background(), `{}`, nil)
	if err != nil {
		t.Fatalf("current_time: %v", err)
	}
	if !strings.Contains(out, "2026-01-02T03:04:05Z") || !strings.Contains(out, "Friday") {
		t.Errorf("current_time = %s", out)
	}
	if _, err := ct.Call(context.Background(), `{"timezone":"Not/AZone"}`, nil); err == nil {
		t.Error("expected error for unknown time zone")
	}

	wc, err := reg.Get("word_count")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	out, err = wc.Call(context.Background(), `{"text":"one two  three"}`, nil)
	if err != nil {
		t.Fatalf("word_count: %v", err)
	}
	if !strings.Contains(out, `"words": 3`) {
		t.Errorf("word_count = %s", out)
	}
	if _, err := wc.Call(context.Background(), `{}`, nil); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("missing text err = %v, want ErrValidation", err)
	}
}

func TestPrintEmbeddings(t *testing.T) {
	var buf bytes.Buffer
	vectors := [][]float32{{0.1, 0.2, 0.3, 0.4, 0.5}, {1}}
	if err := printEmbeddings(&buf, []string{"a", "b"}, vectors, false); err != nil {
		t.Fatalf("printEmbeddings: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 || !strings.Contains(lines[0], "dims=5") || !strings.Contains(lines[1], "dims=1") {
		t.Errorf("output = %q", buf.String())
	}

	buf.Reset()
	if err := printEmbeddings(&buf, []string{"a"}, [][]float32{{1, 2}}, true); err != nil {
		t.Fatalf("printEmbeddings json: %v", err)
	}
	if !strings.Contains(buf.String(), "[") {
		t.Errorf("json output = %q", buf.String())
	}
}
