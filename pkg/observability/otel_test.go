package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/codes"
)

func TestInitOTel_Disabled(t *testing.T) {
	providers, err := InitOTel(context.Background(), OTelConfig{Enabled: false}, NewNopLogger())
	require.NoError(t, err)
	assert.Nil(t, providers)
	assert.NoError(t, ShutdownOTel(context.Background(), providers, NewNopLogger()))
}

func TestInitOTel_RequiresEndpoint(t *testing.T) {
	_, err := InitOTel(context.Background(), OTelConfig{Enabled: true}, NewNopLogger())
	assert.Error(t, err)
}

func TestEndSpan_RecordsError(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	_, span := tp.Tracer(TracerName).Start(context.Background(), "op")
	EndSpan(span, errors.New("failed"))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}

func TestUpdateLoggerWithTraceContext_NoSpan(t *testing.T) {
	logger := NewNopLogger()
	assert.Same(t, logger, UpdateLoggerWithTraceContext(context.Background(), logger))
}
