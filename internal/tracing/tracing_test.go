package tracing

import (
	"context"
	"testing"
)

func TestInitTracing_Disabled(t *testing.T) {
	tr, err := InitTracing(Config{Enabled: false})
	if err != nil {
		t.Fatalf("InitTracing failed: %v", err)
	}
	if GetTracer() != tr {
		t.Error("Expected the disabled tracer to become the global tracer")
	}

	ctx, span := tr.StartSpan(context.Background(), "test")
	defer span.End()

	if ctx == nil {
		t.Fatal("Expected a context")
	}
	if span.SpanContext().IsSampled() {
		t.Error("Expected no-op span not to be sampled")
	}

	if err := Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}
