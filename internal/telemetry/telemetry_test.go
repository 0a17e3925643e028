package telemetry

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/hay-kot/warren/internal/core/config"
)

func TestInit_DisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := Init(context.Background(), config.TelemetryConfig{ServiceName: "warren"}, "test", zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}
