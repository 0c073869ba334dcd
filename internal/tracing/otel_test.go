package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitOpenTelemetry_SpanCarriesTraceID(t *testing.T) {
	require.NoError(t, InitOpenTelemetry("regstream-test", 1))
	defer ShutdownOpenTelemetry(context.Background())

	ctx, span := StartSpan(context.Background(), "test", "command.run")
	defer span.End()

	require.True(t, span.SpanContext().IsValid())
	assert.Equal(t, span.SpanContext().TraceID().String(), GetTraceID(ctx))
}

func TestInitOpenTelemetry_Reinit(t *testing.T) {
	require.NoError(t, InitOpenTelemetry("regstream-test", 1))

	// Second init while a provider is active is a no-op
	require.NoError(t, InitOpenTelemetry("regstream-test", 0.5))

	require.NoError(t, ShutdownOpenTelemetry(context.Background()))

	// Shutdown with no active provider is also a no-op
	assert.NoError(t, ShutdownOpenTelemetry(context.Background()))
}

func TestInitOpenTelemetry_ClampsRatio(t *testing.T) {
	require.NoError(t, InitOpenTelemetry("regstream-test", 5))
	defer ShutdownOpenTelemetry(context.Background())

	_, span := StartSpan(context.Background(), "test", "command.run")
	span.End()
	assert.True(t, span.SpanContext().IsSampled())
}
