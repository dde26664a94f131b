package telemetry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airpulse/airpulse/internal/telemetry"
)

func TestInit_Disabled(t *testing.T) {
	ctx := context.Background()

	provider, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "airpulse-test",
		ServiceVersion: "1.0.0",
		Environment:    "test",
		OTLPEndpoint:   "localhost:4317",
	})
	require.NoError(t, err)

	assert.NotNil(t, provider.Tracer)
	assert.NotNil(t, provider.Meter)
	assert.Nil(t, provider.TracerProvider)
	assert.Nil(t, provider.MeterProvider)
	assert.NoError(t, provider.Shutdown(ctx))
}

func TestProvider_Shutdown_NilProviders(t *testing.T) {
	provider := &telemetry.Provider{}
	assert.NoError(t, provider.Shutdown(context.Background()))
}

func TestSampler(t *testing.T) {
	tests := []struct {
		ratio    float64
		contains string
	}{
		{ratio: 0, contains: "AlwaysOnSampler"},
		{ratio: 1, contains: "AlwaysOnSampler"},
		{ratio: 1.5, contains: "AlwaysOnSampler"},
		{ratio: 0.25, contains: "TraceIDRatioBased{0.25}"},
	}

	for _, tt := range tests {
		desc := telemetry.Sampler(tt.ratio).Description()
		assert.Contains(t, desc, "ParentBased")
		assert.Contains(t, desc, tt.contains, "ratio=%v", tt.ratio)
	}
}
