// Copyright 2025 The Draftforge Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package tracing wires OpenTelemetry span export for pipeline runs.
// Tracing is off by default; when enabled spans go to stdout, which is
// enough to see where a run's time and retries went.
package tracing

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const tracerName = "github.com/draftforge/draftforge"

// Config controls span export.
type Config struct {
	// Enabled turns on span export. Off by default.
	Enabled bool

	// ServiceName identifies the process in exported spans.
	ServiceName string

	// ServiceVersion is the build version.
	ServiceVersion string

	// Writer receives exported spans. Defaults to stdout when nil.
	Writer io.Writer
}

// Provider owns the tracer provider lifecycle.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
}

// New builds the provider. When disabled it returns a no-op provider
// so callers never branch on tracing state.
func New(cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{tracer: noop.NewTracerProvider().Tracer(tracerName)}, nil
	}

	if cfg.ServiceName == "" {
		cfg.ServiceName = "draftforge"
	}

	exporterOpts := []stdouttrace.Option{stdouttrace.WithPrettyPrint()}
	if cfg.Writer != nil {
		exporterOpts = append(exporterOpts, stdouttrace.WithWriter(cfg.Writer))
	}
	exporter, err := stdouttrace.New(exporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create span exporter: %w", err)
	}

	// Empty schema URL avoids merge conflicts with the default resource.
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return &Provider{tp: tp, tracer: tp.Tracer(tracerName)}, nil
}

// StartRun opens a span for one pipeline run.
func (p *Provider) StartRun(ctx context.Context, pipeline, runID string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "pipeline.run",
		trace.WithAttributes(
			attribute.String("pipeline.name", pipeline),
			attribute.String("pipeline.run_id", runID),
		))
}

// StartStage opens a child span for one pipeline stage. It takes the
// tracer from the active run span, so outside a traced run the span is
// non-recording.
func StartStage(ctx context.Context, stage string) (context.Context, trace.Span) {
	return tracerFrom(ctx).Start(ctx, "pipeline.stage",
		trace.WithAttributes(attribute.String("stage.name", stage)))
}

// tracerFrom follows the span already in ctx so child spans share the
// run's tracer provider and sampling decision.
func tracerFrom(ctx context.Context) trace.Tracer {
	return trace.SpanFromContext(ctx).TracerProvider().Tracer(tracerName)
}

// EndSpan closes a span, recording err when non-nil.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Shutdown flushes pending spans. Safe to call on a no-op provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}
