package tracer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"fxpanel/internal/infra/config"
)

const tracerName = "fxpanel"

// Setup initializes OpenTelemetry tracing and returns a shutdown function.
// Exporters: "stdout" (pretty JSON on stdout), "file" (JSON lines appended to
// cfg.Endpoint) and "noop". A disabled tracer installs the noop provider.
func Setup(ctx context.Context, cfg config.TracerConfig) (func(context.Context) error, error) {
	noopShutdown := func(context.Context) error { return nil }

	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return noopShutdown, nil
	}

	var (
		exporter sdktrace.SpanExporter
		closeOut func() error
		err      error
	)
	switch cfg.Exporter {
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "file":
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("file exporter requires tracer.endpoint")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.Endpoint), 0o700); err != nil {
			return nil, fmt.Errorf("create trace dir: %w", err)
		}
		f, ferr := os.OpenFile(cfg.Endpoint, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if ferr != nil {
			return nil, fmt.Errorf("open trace file: %w", ferr)
		}
		closeOut = f.Close
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(f))
	case "noop", "":
		otel.SetTracerProvider(noop.NewTracerProvider())
		return noopShutdown, nil
	default:
		return nil, fmt.Errorf("unsupported exporter: %s", cfg.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s exporter: %w", cfg.Exporter, err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		err := tp.Shutdown(ctx)
		if closeOut != nil {
			if cerr := closeOut(); err == nil {
				err = cerr
			}
		}
		return err
	}, nil
}

// StartSpan is a convenience helper to start a named span.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// End records err (if any) on the span, sets its status and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		RecordError(span, err)
	} else {
		SetOK(span)
	}
	span.End()
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
