package telemetry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viasnake/arbiter/internal/telemetry"
)

func TestNew_WithoutOTLPEndpointBuildsUsableProvider(t *testing.T) {
	p, err := telemetry.New(context.Background(), telemetry.Config{ServiceName: "arbiter-test"})
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.NotNil(t, p.Logger)
	assert.NotNil(t, p.Tracer())

	// RecordAuthzReason and Shutdown must not panic without an exporter.
	p.RecordAuthzReason(context.Background(), "gate_cooldown_deny")
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestProvider_NilSafeRecordAuthzReason(t *testing.T) {
	var p *telemetry.Provider
	assert.NotPanics(t, func() {
		p.RecordAuthzReason(context.Background(), "x")
	})
}
