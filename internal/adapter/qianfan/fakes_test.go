package qianfan

import (
	"context"
	"sync"
	"sync/atomic"

	"qianfan-chat/internal/domain"
)

// fakeTransport records requests and delegates to per-method funcs.
type fakeTransport struct {
	mu         sync.Mutex
	chatReqs   []*ChatCompletionRequest
	streamReqs []*ChatCompletionRequest
	embedReqs  []*EmbeddingRequest

	chatFn   func(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletion, error)
	streamFn func(ctx context.Context, req *ChatCompletionRequest) (<-chan StreamResult, error)
	embedFn  func(ctx context.Context, req *EmbeddingRequest) (*EmbeddingList, error)
}

func (f *fakeTransport) ChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletion, error) {
	f.mu.Lock()
	f.chatReqs = append(f.chatReqs, req)
	f.mu.Unlock()
	return f.chatFn(ctx, req)
}

func (f *fakeTransport) ChatCompletionStream(ctx context.Context, req *ChatCompletionRequest) (<-chan StreamResult, error) {
	f.mu.Lock()
	f.streamReqs = append(f.streamReqs, req)
	f.mu.Unlock()
	return f.streamFn(ctx, req)
}

func (f *fakeTransport) Embeddings(ctx context.Context, req *EmbeddingRequest) (*EmbeddingList, error) {
	f.mu.Lock()
	f.embedReqs = append(f.embedReqs, req)
	f.mu.Unlock()
	return f.embedFn(ctx, req)
}

func (f *fakeTransport) chatCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.chatReqs)
}

// chunkProducer feeds results through an unbuffered channel, the way the SSE
// reader does, and counts what the consumer actually took.
type chunkProducer struct {
	sent atomic.Int32
	done chan struct{}
}

func produce(ctx context.Context, results ...StreamResult) (<-chan StreamResult, *chunkProducer) {
	ch := make(chan StreamResult)
	p := &chunkProducer{done: make(chan struct{})}
	go func() {
		defer close(p.done)
		defer close(ch)
		for _, r := range results {
			select {
			case ch <- r:
				p.sent.Add(1)
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, p
}

func textChunk(id, content, finish string) StreamResult {
	return StreamResult{Chunk: &ChatCompletionChunk{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: 1700000000,
		Choices: []ChunkChoice{{Index: 0, Delta: Message{Content: content}, FinishReason: finish}},
	}}
}

// fakeToolManager is a scripted ToolCallingManager.
type fakeToolManager struct {
	defs     []domain.ToolDefinition
	defsErr  error
	required bool
	result   *domain.ToolExecutionResult
	execErr  error

	mu       sync.Mutex
	executed []*domain.ChatResponse
	prompts  []domain.Prompt
}

func (m *fakeToolManager) ResolveToolDefinitions(domain.ChatOptions) ([]domain.ToolDefinition, error) {
	return m.defs, m.defsErr
}

func (m *fakeToolManager) IsToolExecutionRequired(opts domain.ChatOptions, resp *domain.ChatResponse) bool {
	return m.required && opts.ToolExecutionEnabled() && resp.HasToolCalls()
}

func (m *fakeToolManager) ExecuteToolCalls(_ context.Context, prompt domain.Prompt, resp *domain.ChatResponse) (*domain.ToolExecutionResult, error) {
	m.mu.Lock()
	m.executed = append(m.executed, resp)
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()
	return m.result, m.execErr
}

// retryTimes retries retryable errors up to n attempts without waiting.
type retryTimes int

func (n retryTimes) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	var err error
	for i := 0; i < int(n); i++ {
		if err = op(ctx); err == nil || !domain.IsRetryableError(err) {
			return err
		}
	}
	return err
}

// recordingObserver keeps every observation for inspection.
type recordingObserver struct {
	mu      sync.Mutex
	started []domain.ObservationContext
	errs    []error
	stops   []*domain.ChatResponse
}

func (o *recordingObserver) Start(ctx context.Context, oc domain.ObservationContext) (context.Context, domain.Observation) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = append(o.started, oc)
	return ctx, o
}

func (o *recordingObserver) Error(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errs = append(o.errs, err)
}

func (o *recordingObserver) Stop(resp *domain.ChatResponse) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stops = append(o.stops, resp)
}
