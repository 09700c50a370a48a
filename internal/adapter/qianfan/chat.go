package qianfan

import (
	"context"
	"log/slog"

	"github.com/oklog/ulid/v2"

	"qianfan-chat/internal/domain"
)

// Option configures a ChatModel or an EmbeddingModel.
type Option func(*settings)

type settings struct {
	defaults  *domain.ChatOptions
	tools     domain.ToolCallingManager
	retry     domain.RetryPolicy
	observer  domain.Observer
	stateHook StateHook
}

// WithDefaultOptions replaces the model-level default options.
func WithDefaultOptions(opts domain.ChatOptions) Option {
	return func(s *settings) {
		c := opts.Clone()
		s.defaults = &c
	}
}

// WithToolCallingManager enables tool definitions and the tool round.
func WithToolCallingManager(m domain.ToolCallingManager) Option {
	return func(s *settings) { s.tools = m }
}

// WithRetryPolicy sets the policy wrapping each transport call.
func WithRetryPolicy(p domain.RetryPolicy) Option {
	return func(s *settings) { s.retry = p }
}

// WithObserver sets the observer notified of each call.
func WithObserver(o domain.Observer) Option {
	return func(s *settings) { s.observer = o }
}

// WithStateHook registers a hook receiving every call state transition.
func WithStateHook(h StateHook) Option {
	return func(s *settings) { s.stateHook = h }
}

func newSettings(opts []Option) settings {
	s := settings{retry: domain.NoRetry{}, observer: domain.NoopObserver{}}
	for _, opt := range opts {
		opt(&s)
	}
	if s.retry == nil {
		s.retry = domain.NoRetry{}
	}
	if s.observer == nil {
		s.observer = domain.NoopObserver{}
	}
	return s
}

// ChatModel executes chat completions against a Transport. It holds no
// per-call state and is safe for concurrent use.
type ChatModel struct {
	transport Transport
	defaults  domain.ChatOptions
	tools     domain.ToolCallingManager
	builder   *RequestBuilder
	retry     domain.RetryPolicy
	observer  domain.Observer
	stateHook StateHook
	logger    *slog.Logger
}

// NewChatModel creates a ChatModel. Without WithDefaultOptions the defaults
// are DefaultChatModel at DefaultTemperature.
func NewChatModel(transport Transport, logger *slog.Logger, opts ...Option) *ChatModel {
	s := newSettings(opts)
	defaults := domain.ChatOptions{
		Model:       DefaultChatModel,
		Temperature: domain.Ptr(DefaultTemperature),
	}
	if s.defaults != nil {
		defaults = *s.defaults
	}
	return &ChatModel{
		transport: transport,
		defaults:  defaults,
		tools:     s.tools,
		builder:   NewRequestBuilder(s.tools),
		retry:     s.retry,
		observer:  s.observer,
		stateHook: s.stateHook,
		logger:    logger,
	}
}

// DefaultOptions returns a copy of the model-level defaults.
func (m *ChatModel) DefaultOptions() domain.ChatOptions {
	return m.defaults.Clone()
}

// Call runs a synchronous completion for prompt.
func (m *ChatModel) Call(ctx context.Context, prompt domain.Prompt) (*domain.ChatResponse, error) {
	return m.CallWith(ctx, prompt, nil)
}

// CallWith runs a synchronous completion with runtime options taking
// precedence over the prompt's options and the defaults.
func (m *ChatModel) CallWith(ctx context.Context, prompt domain.Prompt, runtime *domain.ChatOptions) (*domain.ChatResponse, error) {
	callID := ulid.Make().String()
	st := newCallState(callID, m.stateHook, m.logger)

	opts, err := domain.ResolveOptions(&m.defaults, prompt.Options, runtime)
	if err != nil {
		st.fail()
		return nil, domain.WrapOp("ChatModel.Call", err)
	}

	ctx, obs := m.observer.Start(ctx, domain.ObservationContext{
		CallID:     callID,
		Provider:   ProviderName,
		Operation:  domain.OperationChatCall,
		Model:      opts.Model,
		InputCount: len(prompt.Messages),
	})
	fail := func(err error) (*domain.ChatResponse, error) {
		st.fail()
		obs.Error(err)
		return nil, domain.WrapOp("ChatModel.Call", err)
	}

	req, err := m.builder.Build(prompt.Messages, opts, false)
	if err != nil {
		return fail(err)
	}

	st.to(StateAwaitingResponse)
	var completion *ChatCompletion
	attempt := 0
	err = m.retry.Execute(ctx, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			st.to(StateAwaitingResponse)
		}
		c, err := m.transport.ChatCompletion(ctx, req)
		if err != nil {
			m.logger.Debug("qianfan chat attempt failed", "call_id", callID, "attempt", attempt, "error", err)
			return err
		}
		completion = c
		return nil
	})
	if err != nil {
		return fail(err)
	}
	st.to(StateResponseReceived)

	if completion == nil {
		m.logger.Warn("qianfan returned no completion", "call_id", callID, "model", req.Model)
	}
	resp := MapCompletion(completion, req.Model)

	st.to(StateToolCheck)
	resp, err = m.runTools(ctx, st, prompt, opts, resp)
	if err != nil {
		return fail(err)
	}

	st.to(StateResponseReady)
	m.logCompleted(callID, resp)
	obs.Stop(resp)
	return resp, nil
}

// runTools performs the single tool round when the response requires one.
// The returned response carries one generation per tool result.
func (m *ChatModel) runTools(ctx context.Context, st *callState, prompt domain.Prompt, opts domain.ChatOptions, resp *domain.ChatResponse) (*domain.ChatResponse, error) {
	if m.tools == nil || !m.tools.IsToolExecutionRequired(opts, resp) {
		return resp, nil
	}
	st.to(StateExecutingTools)

	result, err := m.tools.ExecuteToolCalls(ctx, prompt.WithOptions(opts), resp)
	if err != nil {
		return nil, err
	}
	m.logger.Debug("qianfan tool round completed", "call_id", st.id,
		"tool_results", len(domain.BuildGenerations(result)), "return_direct", result.ReturnDirect)

	return &domain.ChatResponse{
		Generations: domain.BuildGenerations(result),
		Metadata:    resp.Metadata,
	}, nil
}

func (m *ChatModel) logCompleted(callID string, resp *domain.ChatResponse) {
	attrs := []any{
		"call_id", callID,
		"model", resp.Metadata.Model,
		"id", resp.Metadata.ID,
		"generations", len(resp.Generations),
	}
	if u := resp.Metadata.Usage; !u.IsEmpty() {
		attrs = append(attrs, "prompt_tokens", u.PromptTokens, "completion_tokens", u.CompletionTokens)
	}
	m.logger.Debug("qianfan chat completed", attrs...)
}

// Stream starts a streamed completion for prompt.
func (m *ChatModel) Stream(ctx context.Context, prompt domain.Prompt) (*ChatStream, error) {
	return m.StreamWith(ctx, prompt, nil)
}

// StreamWith starts a streamed completion with runtime options. Failures
// before the stream opens are returned directly; later failures are reported
// by ChatStream.Err.
func (m *ChatModel) StreamWith(ctx context.Context, prompt domain.Prompt, runtime *domain.ChatOptions) (*ChatStream, error) {
	callID := ulid.Make().String()
	st := newCallState(callID, m.stateHook, m.logger)

	opts, err := domain.ResolveOptions(&m.defaults, prompt.Options, runtime)
	if err != nil {
		st.fail()
		return nil, domain.WrapOp("ChatModel.Stream", err)
	}

	callCtx, cancelCall := context.WithCancel(ctx)
	callCtx, obs := m.observer.Start(callCtx, domain.ObservationContext{
		CallID:     callID,
		Provider:   ProviderName,
		Operation:  domain.OperationStream,
		Model:      opts.Model,
		InputCount: len(prompt.Messages),
	})
	fail := func(err error) error {
		cancelCall()
		st.fail()
		obs.Error(err)
		return domain.WrapOp("ChatModel.Stream", err)
	}

	req, err := m.builder.Build(prompt.Messages, opts, true)
	if err != nil {
		return nil, fail(err)
	}

	// The upstream context ends the HTTP body read once the stop chunk was
	// seen; the call context stays live for the tool round.
	upstreamCtx, cancelUpstream := context.WithCancel(callCtx)

	st.to(StateAwaitingResponse)
	var src <-chan StreamResult
	attempt := 0
	err = m.retry.Execute(upstreamCtx, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			st.to(StateAwaitingResponse)
		}
		ch, err := m.transport.ChatCompletionStream(ctx, req)
		if err != nil {
			m.logger.Debug("qianfan stream attempt failed", "call_id", callID, "attempt", attempt, "error", err)
			return err
		}
		src = ch
		return nil
	})
	if err != nil {
		cancelUpstream()
		return nil, fail(err)
	}
	st.to(StateReceivingChunks)

	s := &ChatStream{
		fragments: make(chan domain.ChatResponse),
		done:      make(chan struct{}),
		cancel:    cancelCall,
	}
	go func() {
		defer close(s.done)
		defer close(s.fragments)
		defer cancelCall()

		agg := NewMessageAggregator()
		err := pumpChunks(callCtx, src, cancelUpstream, func(chunk *ChatCompletionChunk) error {
			agg.Add(chunk)
			return s.emit(callCtx, MapChunk(chunk, req.Model))
		})
		if err != nil {
			st.fail()
			obs.Error(err)
			s.err = domain.WrapOp("ChatModel.Stream", err)
			return
		}

		st.to(StateChunkAggregation)
		resp := agg.Response(req.Model)

		st.to(StateToolCheck)
		final, err := m.runTools(callCtx, st, prompt, opts, resp)
		if err == nil && final != resp {
			err = s.emit(callCtx, *final)
		}
		if err != nil {
			st.fail()
			obs.Error(err)
			s.err = domain.WrapOp("ChatModel.Stream", err)
			return
		}

		st.to(StateResponseReady)
		m.logCompleted(callID, final)
		obs.Stop(final)
		s.final = final
	}()
	return s, nil
}

// ChatStream is an in-flight streamed completion. Fragments delivers one
// response per received chunk and is closed when the stream ends.
type ChatStream struct {
	fragments chan domain.ChatResponse
	done      chan struct{}
	cancel    context.CancelFunc

	// Written before done is closed.
	err   error
	final *domain.ChatResponse
}

// Fragments returns the fragment channel. Each fragment carries the content
// and metadata of one chunk. When a tool round ran, one last fragment carries
// the tool results.
func (s *ChatStream) Fragments() <-chan domain.ChatResponse { return s.fragments }

// Err returns the error that ended the stream. It is nil while the stream is
// still running and after a successful end.
func (s *ChatStream) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Close cancels the stream and the upstream request.
func (s *ChatStream) Close() {
	s.cancel()
}

// Response drains the remaining fragments and returns the aggregated
// response: the folded chunks, or the tool results when a tool round ran.
func (s *ChatStream) Response() (*domain.ChatResponse, error) {
	for range s.fragments {
	}
	<-s.done
	return s.final, s.err
}

func (s *ChatStream) emit(ctx context.Context, frag domain.ChatResponse) error {
	select {
	case s.fragments <- frag:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
