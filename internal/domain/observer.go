package domain

import "context"

// Operation names reported to observers.
const (
	OperationChatCall  = "chat.call"
	OperationStream    = "chat.stream"
	OperationEmbedding = "embedding"
)

// ObservationContext identifies one observed call.
type ObservationContext struct {
	CallID    string
	Provider  string
	Operation string
	Model     string
	// InputCount is the number of prompt messages or embedding inputs.
	InputCount int
}

// Observation is the handle for one in-flight call. Exactly one of Stop or
// Error is called when the call ends.
type Observation interface {
	Error(err error)
	Stop(resp *ChatResponse)
}

// Observer wraps each call with begin/end/error hooks.
type Observer interface {
	Start(ctx context.Context, oc ObservationContext) (context.Context, Observation)
}

// NoopObserver discards all observations.
type NoopObserver struct{}

func (NoopObserver) Start(ctx context.Context, _ ObservationContext) (context.Context, Observation) {
	return ctx, noopObservation{}
}

type noopObservation struct{}

func (noopObservation) Error(error)        {}
func (noopObservation) Stop(*ChatResponse) {}

// MultiObserver fans every hook out to several observers in order.
type MultiObserver []Observer

func (m MultiObserver) Start(ctx context.Context, oc ObservationContext) (context.Context, Observation) {
	obs := make(multiObservation, 0, len(m))
	for _, o := range m {
		var ob Observation
		ctx, ob = o.Start(ctx, oc)
		obs = append(obs, ob)
	}
	return ctx, obs
}

type multiObservation []Observation

func (m multiObservation) Error(err error) {
	for _, o := range m {
		o.Error(err)
	}
}

func (m multiObservation) Stop(resp *ChatResponse) {
	for _, o := range m {
		o.Stop(resp)
	}
}
