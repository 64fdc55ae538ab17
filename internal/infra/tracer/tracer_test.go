package tracer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"

	"fxpanel/internal/infra/config"
)

func TestSetupDisabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TracerConfig{Enabled: false})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer shutdown(context.Background())

	if _, ok := otel.GetTracerProvider().(noop.TracerProvider); !ok {
		t.Errorf("expected noop provider, got %T", otel.GetTracerProvider())
	}
}

func TestSetupNoopAndEmptyExporter(t *testing.T) {
	for _, exp := range []string{"noop", ""} {
		shutdown, err := Setup(context.Background(), config.TracerConfig{Enabled: true, Exporter: exp})
		if err != nil {
			t.Fatalf("Setup(%q): %v", exp, err)
		}
		if _, ok := otel.GetTracerProvider().(noop.TracerProvider); !ok {
			t.Errorf("exporter %q: expected noop provider, got %T", exp, otel.GetTracerProvider())
		}
		shutdown(context.Background())
	}
}

func TestSetupStdout(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TracerConfig{Enabled: true, Exporter: "stdout"})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer shutdown(context.Background())
}

func TestSetupFileExporterWritesSpans(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traces", "spans.jsonl")
	shutdown, err := Setup(context.Background(), config.TracerConfig{Enabled: true, Exporter: "file", Endpoint: path})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}

	_, span := StartSpan(context.Background(), "fxrunner.spawn")
	span.SetAttributes(IntAttr("pid", 7))
	End(span, nil)

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	otel.SetTracerProvider(noop.NewTracerProvider())

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read traces: %v", err)
	}
	if !strings.Contains(string(data), "fxrunner.spawn") {
		t.Errorf("span not exported: %s", data)
	}
}

func TestSetupFileExporterRequiresEndpoint(t *testing.T) {
	if _, err := Setup(context.Background(), config.TracerConfig{Enabled: true, Exporter: "file"}); err == nil {
		t.Error("expected error without endpoint")
	}
}

func TestSetupUnsupportedExporter(t *testing.T) {
	if _, err := Setup(context.Background(), config.TracerConfig{Enabled: true, Exporter: "jaeger"}); err == nil {
		t.Error("expected error for unsupported exporter")
	}
}

func TestStartSpanAndHelpers(t *testing.T) {
	otel.SetTracerProvider(noop.NewTracerProvider())

	ctx, span := StartSpan(context.Background(), "test-span")
	if ctx == nil {
		t.Error("context should not be nil")
	}
	SetOK(span)
	RecordError(span, errors.New("test error"))
	span.End()

	_, span = StartSpan(context.Background(), "end-with-error")
	End(span, errors.New("boom"))
}

func TestAttrHelpers(t *testing.T) {
	if s := StringAttr("reason", "restart"); string(s.Key) != "reason" || s.Value.AsString() != "restart" {
		t.Errorf("StringAttr = %v", s)
	}
	if i := IntAttr("port", 30120); string(i.Key) != "port" || i.Value.AsInt64() != 30120 {
		t.Errorf("IntAttr = %v", i)
	}
}
