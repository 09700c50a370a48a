package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"qianfan-chat/internal/domain"
	"qianfan-chat/internal/usecase"
)

type chatFlags struct {
	configPath  string
	stream      bool
	system      string
	model       string
	temperature float64
	maxTokens   int
	tools       []string
	noToolExec  bool
	jsonSchema  string
	interactive bool

	temperatureSet bool
	maxTokensSet   bool
	args           []string
}

func parseChatFlags(args []string) (*chatFlags, error) {
	f := &chatFlags{}
	fs := pflag.NewFlagSet("chat", pflag.ContinueOnError)
	fs.StringVar(&f.configPath, "config", "config.yaml", "config file path")
	fs.BoolVarP(&f.stream, "stream", "s", false, "stream the completion")
	fs.StringVar(&f.system, "system", "", "system message")
	fs.StringVarP(&f.model, "model", "m", "", "model name")
	fs.Float64VarP(&f.temperature, "temperature", "t", 0, "sampling temperature")
	fs.IntVar(&f.maxTokens, "max-tokens", 0, "maximum completion tokens")
	fs.StringSliceVar(&f.tools, "tools", nil, "built-in tools to enable")
	fs.BoolVar(&f.noToolExec, "no-tool-exec", false, "return tool calls instead of executing them")
	fs.StringVar(&f.jsonSchema, "json-schema", "", "JSON schema file the output must match")
	fs.BoolVarP(&f.interactive, "interactive", "i", false, "read prompts from stdin until EOF")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	f.temperatureSet = fs.Changed("temperature")
	f.maxTokensSet = fs.Changed("max-tokens")
	f.args = fs.Args()

	if f.stream && f.jsonSchema != "" {
		return nil, errors.New("--stream and --json-schema cannot be combined")
	}
	if f.interactive && len(f.args) > 0 {
		return nil, errors.New("--interactive takes no prompt arguments")
	}
	return f, nil
}

// runtimeOptions returns the per-call options set on the command line, or nil.
func (f *chatFlags) runtimeOptions() *domain.ChatOptions {
	opts := &domain.ChatOptions{
		Model:     f.model,
		ToolNames: f.tools,
	}
	set := f.model != "" || len(f.tools) > 0
	if f.temperatureSet {
		opts.Temperature = domain.Ptr(f.temperature)
		set = true
	}
	if f.maxTokensSet {
		opts.MaxTokens = domain.Ptr(f.maxTokens)
		set = true
	}
	if f.noToolExec {
		opts.InternalToolExecutionEnabled = domain.Ptr(false)
		set = true
	}
	if f.jsonSchema != "" {
		opts.ResponseFormat = "json_object"
		set = true
	}
	if !set {
		return nil
	}
	return opts
}

func runChat(ctx context.Context, args []string) error {
	f, err := parseChatFlags(args)
	if err != nil {
		return err
	}

	var structured *usecase.StructuredOutput
	if f.jsonSchema != "" {
		schema, err := os.ReadFile(f.jsonSchema)
		if err != nil {
			return fmt.Errorf("read schema: %w", err)
		}
		if structured, err = usecase.NewStructuredOutput(schema); err != nil {
			return err
		}
		if f.system == "" {
			f.system = usecase.JSONOnlyInstruction
		}
	}

	a, err := newApp(ctx, f.configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	s := &chatSession{app: a, flags: f, structured: structured, out: os.Stdout}
	if f.system != "" {
		s.history = append(s.history, domain.SystemMessage(f.system))
	}

	if f.interactive {
		return s.loop(ctx, os.Stdin)
	}

	text := strings.Join(f.args, " ")
	if text == "" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		text = strings.TrimSpace(string(data))
	}
	if text == "" {
		return errors.New("no prompt given")
	}
	return s.turn(ctx, text)
}

type chatSession struct {
	app        *app
	flags      *chatFlags
	structured *usecase.StructuredOutput
	history    []domain.Message
	out        io.Writer
}

func (s *chatSession) loop(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprint(s.out, "> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			if err := s.turn(ctx, line); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
			}
		}
		fmt.Fprint(s.out, "> ")
	}
	fmt.Fprintln(s.out)
	return scanner.Err()
}

// turn sends one user message with the conversation so far and records the reply.
func (s *chatSession) turn(ctx context.Context, text string) error {
	msgs := append(append([]domain.Message(nil), s.history...), domain.UserMessage(text))
	prompt := domain.NewPrompt(msgs...)
	opts := s.flags.runtimeOptions()

	var (
		resp *domain.ChatResponse
		err  error
	)
	if s.flags.stream {
		resp, err = s.stream(ctx, prompt, opts)
	} else {
		resp, err = s.app.chat.CallWith(ctx, prompt, opts)
		if err == nil {
			err = s.print(resp)
		}
	}
	if err != nil {
		return err
	}

	s.history = append(msgs, domain.AssistantMessage(resp.Content()))
	if u := resp.Metadata.Usage; !u.IsEmpty() {
		s.app.logger.Debug("usage", "prompt_tokens", u.PromptTokens,
			"completion_tokens", u.CompletionTokens, "total_tokens", u.TotalTokens)
	}
	return nil
}

func (s *chatSession) stream(ctx context.Context, prompt domain.Prompt, opts *domain.ChatOptions) (*domain.ChatResponse, error) {
	cs, err := s.app.chat.StreamWith(ctx, prompt, opts)
	if err != nil {
		return nil, err
	}
	defer cs.Close()

	for frag := range cs.Fragments() {
		fmt.Fprint(s.out, frag.Content())
	}
	fmt.Fprintln(s.out)
	return cs.Response()
}

func (s *chatSession) print(resp *domain.ChatResponse) error {
	gen := resp.Result()
	if gen == nil {
		fmt.Fprintln(s.out, "(empty response)")
		return nil
	}
	if s.structured != nil {
		formatted, err := s.structured.Format(gen.Message.Content)
		if err != nil {
			return err
		}
		fmt.Fprintln(s.out, formatted)
		return nil
	}
	for _, call := range gen.Message.ToolCalls {
		fmt.Fprintf(s.out, "[tool call %s] %s(%s)\n", call.ID, call.Name, call.Arguments)
	}
	if gen.Message.Content != "" {
		fmt.Fprintln(s.out, gen.Message.Content)
	}
	return nil
}
