package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNewTraceID(t *testing.T) {
	id1 := NewTraceID()
	id2 := NewTraceID()

	assert.NotEmpty(t, id1)
	assert.NotEqual(t, id1, id2)
}

func TestContextValues(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetTraceID(ctx))
	assert.Empty(t, GetTrigger(ctx))
	assert.Empty(t, GetRequestID(ctx))

	ctx = WithTraceID(ctx, "trace-1")
	ctx = WithTrigger(ctx, TriggerWatch)
	ctx = WithRequestID(ctx, "req-1")

	tc := FromContext(ctx)
	assert.Equal(t, &TraceContext{TraceID: "trace-1", Trigger: TriggerWatch, RequestID: "req-1"}, tc)
}

func TestNewContext(t *testing.T) {
	ctx := NewContext(context.Background(), &TraceContext{TraceID: "t", Trigger: TriggerCron})

	assert.Equal(t, "t", GetTraceID(ctx))
	assert.Equal(t, TriggerCron, GetTrigger(ctx))
	assert.Empty(t, GetRequestID(ctx))
}

func TestNewOperationContext(t *testing.T) {
	ctx := NewOperationContext(context.Background(), TriggerCLI)

	assert.NotEmpty(t, GetTraceID(ctx))
	assert.Equal(t, TriggerCLI, GetTrigger(ctx))
}

func TestPropagateToLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	base := zerolog.New(buf)

	ctx := WithTrigger(WithTraceID(context.Background(), "trace-9"), TriggerStartup)
	logger := PropagateToLogger(ctx, base)
	logger.Info().Msg("scan")

	assert.Contains(t, buf.String(), `"trace_id":"trace-9"`)
	assert.Contains(t, buf.String(), `"trigger":"startup"`)
	assert.NotContains(t, buf.String(), "request_id")
}

func TestStartSpan(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	require.NoError(t, InitOpenTelemetry(context.Background(), Config{ServiceName: "pluginhost-test", Exporter: exporter}))
	t.Cleanup(func() { _ = ShutdownOpenTelemetry(context.Background()) })

	ctx, span := StartSpan(context.Background(), "test", "plugin.scan")
	assert.NotEmpty(t, GetTraceID(ctx))
	assert.Equal(t, span.SpanContext().TraceID().String(), GetTraceID(ctx))
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "plugin.scan", spans[0].Name)

	// an existing trace id is kept
	ctx, span = StartSpan(WithTraceID(context.Background(), "mine"), "test", "plugin.activate")
	span.End()
	assert.Equal(t, "mine", GetTraceID(ctx))
}

func TestShutdownWithoutProvider(t *testing.T) {
	require.NoError(t, ShutdownOpenTelemetry(context.Background()))
}
