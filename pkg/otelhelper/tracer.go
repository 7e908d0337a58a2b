// Package otelhelper provides distributed tracing setup for workflow runs.
package otelhelper

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otlptracehttp "go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Span attribute keys.
const (
	RunIDKey       = attribute.Key("deskflow.run.id")
	RunStateKey    = attribute.Key("deskflow.run.state")
	WorkflowIDKey  = attribute.Key("deskflow.workflow.id")
	TicketIDKey    = attribute.Key("deskflow.ticket.id")
	GraphNodesKey  = attribute.Key("deskflow.graph.nodes")
	NodeIDKey      = attribute.Key("deskflow.node.id")
	NodeTypeKey    = attribute.Key("deskflow.node.type")
	NodeOutcomeKey = attribute.Key("deskflow.node.outcome")
)

// NewTracerProvider installs a global OTLP/HTTP tracer provider. The exporter
// reads its endpoint from the standard OTEL_EXPORTER_OTLP_* variables. Callers
// own the returned provider and must Shutdown it.
func NewTracerProvider(ctx context.Context, serviceName string) (*sdktrace.TracerProvider, error) {
	r, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, err
	}

	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(r),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp, nil
}
