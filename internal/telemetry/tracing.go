// Package telemetry records run, execution and attempt spans with
// OpenTelemetry and writes them as JSON lines into the run directory.
package telemetry

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "ui-qa/internal/executor"

// Provider owns the tracer provider and its output file.
type Provider struct {
	provider *sdktrace.TracerProvider
	file     *os.File
}

// NewFileProvider installs a global tracer provider exporting to path.
func NewFileProvider(path, serviceName, runID string) (*Provider, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create trace file: %w", err)
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(f))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
			AttrRunID.String(runID),
		),
	)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(provider)

	return &Provider{provider: provider, file: f}, nil
}

// Shutdown flushes pending spans and closes the file.
func (p *Provider) Shutdown(ctx context.Context) error {
	err := p.provider.Shutdown(ctx)
	if cerr := p.file.Close(); err == nil {
		err = cerr
	}
	return err
}

func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

func StartSpan(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, spanName, opts...)
}

var (
	AttrRunID     = attribute.Key("uiqa.run.id")
	AttrTarget    = attribute.Key("uiqa.target")
	AttrEngine    = attribute.Key("uiqa.engine")
	AttrScenario  = attribute.Key("uiqa.scenario")
	AttrAttempt   = attribute.Key("uiqa.attempt")
	AttrOutcome   = attribute.Key("uiqa.outcome")
	AttrErrorKind = attribute.Key("uiqa.error.kind")
)
