package metrics

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"qianfan-chat/internal/domain"
)

// Observer records request, error, token and latency metrics per call.
type Observer struct {
	duration *prometheus.HistogramVec
	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
	tokens   *prometheus.CounterVec
}

var _ domain.Observer = (*Observer)(nil)

// NewObserver registers the LLM collectors on reg under namespace.
func NewObserver(reg prometheus.Registerer, namespace string) *Observer {
	factory := promauto.With(reg)
	return &Observer{
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "LLM request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"operation", "model", "status"}),
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of LLM requests",
		}, []string{"operation", "model"}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_errors_total",
			Help:      "Total number of LLM errors",
		}, []string{"operation", "model", "error_type"}),
		tokens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "Total number of tokens used",
		}, []string{"operation", "model", "token_type"}),
	}
}

// Start implements domain.Observer.
func (o *Observer) Start(ctx context.Context, oc domain.ObservationContext) (context.Context, domain.Observation) {
	o.requests.WithLabelValues(oc.Operation, oc.Model).Inc()
	return ctx, &observation{o: o, operation: oc.Operation, model: oc.Model, start: time.Now()}
}

type observation struct {
	o         *Observer
	operation string
	model     string
	start     time.Time
	once      sync.Once
}

func (ob *observation) Error(err error) {
	ob.once.Do(func() {
		ob.o.duration.WithLabelValues(ob.operation, ob.model, "error").Observe(time.Since(ob.start).Seconds())
		ob.o.errors.WithLabelValues(ob.operation, ob.model, classifyError(err)).Inc()
	})
}

func (ob *observation) Stop(resp *domain.ChatResponse) {
	ob.once.Do(func() {
		ob.o.duration.WithLabelValues(ob.operation, ob.model, "success").Observe(time.Since(ob.start).Seconds())
		if resp != nil && !resp.Metadata.Usage.IsEmpty() {
			ob.o.recordTokens(ob.operation, ob.model, resp.Metadata.Usage)
		}
	})
}

func (o *Observer) recordTokens(operation, model string, usage domain.Usage) {
	if usage.PromptTokens > 0 {
		o.tokens.WithLabelValues(operation, model, "prompt").Add(float64(usage.PromptTokens))
	}
	if usage.CompletionTokens > 0 {
		o.tokens.WithLabelValues(operation, model, "completion").Add(float64(usage.CompletionTokens))
	}
	if usage.TotalTokens > 0 {
		o.tokens.WithLabelValues(operation, model, "total").Add(float64(usage.TotalTokens))
	}
}

// classifyError turns an error into a low-cardinality label value.
func classifyError(err error) string {
	if err == nil {
		return "none"
	}
	return strings.ToLower(string(domain.ErrorCodeOf(err)))
}
