package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func installRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tracesdk.NewTracerProvider(tracesdk.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return recorder
}

func TestInit_DisabledIsNoop(t *testing.T) {
	tp, err := Init(DefaultConfig())
	require.NoError(t, err)
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestTraceSignalingRequest_RecordsError(t *testing.T) {
	recorder := installRecorder(t)

	ctx, span := TraceSignalingRequest(context.Background(), "consumeMedia", "conn_1")
	AddSpanAttributes(ctx, RoomKey.String("R1"))
	RecordError(ctx, errors.New("cannot consume"))
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "signal.consumeMedia", ended[0].Name())
	assert.Equal(t, codes.Error, ended[0].Status().Code)

	attrs := map[string]string{}
	for _, kv := range ended[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "conn_1", attrs["huddle.connection_id"])
	assert.Equal(t, "R1", attrs["huddle.room"])
}

func TestTraceMediaOperation_Name(t *testing.T) {
	recorder := installRecorder(t)

	_, span := TraceMediaOperation(context.Background(), "createTransport", "R1")
	span.End()

	require.Len(t, recorder.Ended(), 1)
	assert.Equal(t, "media.createTransport", recorder.Ended()[0].Name())
}
