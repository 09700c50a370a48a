package tracer

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"qianfan-chat/internal/domain"
	"qianfan-chat/internal/infra/config"
)

const tracerName = "qianfan-chat"

// Setup initializes OpenTelemetry tracing and returns a shutdown function.
// When cfg.Enabled is false, a noop TracerProvider is used (zero overhead).
func Setup(ctx context.Context, cfg config.TracerConfig) (func(context.Context) error, error) {
	noopShutdown := func(context.Context) error { return nil }

	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return noopShutdown, nil
	}

	var exporter sdktrace.SpanExporter
	var err error

	switch cfg.Exporter {
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create stdout exporter: %w", err)
		}
	case "noop", "":
		otel.SetTracerProvider(noop.NewTracerProvider())
		return noopShutdown, nil
	default:
		return nil, fmt.Errorf("unsupported exporter: %s", cfg.Exporter)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// StartSpan is a convenience helper to start a named span.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// RecordError records an error on the span and sets error status.
func RecordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetOK sets the span status to OK.
func SetOK(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// StringAttr is a convenience for attribute.String.
func StringAttr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// IntAttr is a convenience for attribute.Int.
func IntAttr(key string, value int) attribute.KeyValue {
	return attribute.Int(key, value)
}

// Observer records one client span per completion or embedding call.
type Observer struct {
	tracer trace.Tracer
}

var _ domain.Observer = (*Observer)(nil)

// NewObserver creates an Observer on tp. A nil tp uses the global provider
// installed by Setup.
func NewObserver(tp trace.TracerProvider) *Observer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Observer{tracer: tp.Tracer(tracerName)}
}

// Start implements domain.Observer.
func (o *Observer) Start(ctx context.Context, oc domain.ObservationContext) (context.Context, domain.Observation) {
	ctx, span := o.tracer.Start(ctx, oc.Provider+"."+oc.Operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			StringAttr("llm.provider", oc.Provider),
			StringAttr("llm.operation", oc.Operation),
			StringAttr("llm.model", oc.Model),
			StringAttr("llm.call_id", oc.CallID),
			IntAttr("llm.input_count", oc.InputCount),
		),
	)
	return ctx, &spanObservation{span: span}
}

type spanObservation struct {
	span trace.Span
	once sync.Once
}

func (s *spanObservation) Error(err error) {
	s.once.Do(func() {
		RecordError(s.span, err)
		s.span.SetAttributes(StringAttr("llm.error_code", string(domain.ErrorCodeOf(err))))
		s.span.End()
	})
}

func (s *spanObservation) Stop(resp *domain.ChatResponse) {
	s.once.Do(func() {
		if resp != nil {
			s.span.SetAttributes(
				StringAttr("llm.response_id", resp.Metadata.ID),
				IntAttr("llm.generations", len(resp.Generations)),
			)
			if u := resp.Metadata.Usage; !u.IsEmpty() {
				setUsageAttrs(s.span, u)
			}
		}
		SetOK(s.span)
		s.span.End()
	})
}

// setUsageAttrs adds token usage attributes to a trace span.
func setUsageAttrs(span trace.Span, usage domain.Usage) {
	span.SetAttributes(
		IntAttr("llm.prompt_tokens", usage.PromptTokens),
		IntAttr("llm.completion_tokens", usage.CompletionTokens),
		IntAttr("llm.total_tokens", usage.TotalTokens),
	)
}
