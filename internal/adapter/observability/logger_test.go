package observability

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medgate/inference-gateway/internal/config"
)

func TestSetupLoggerDevEnablesDebug(t *testing.T) {
	lg := SetupLogger(config.Config{AppEnv: "dev", OTELServiceName: "inference-gateway"})
	require.NotNil(t, lg)
	assert.True(t, lg.Enabled(context.Background(), slog.LevelDebug))
}

func TestSetupLoggerProdDefaultsInfo(t *testing.T) {
	lg := SetupLogger(config.Config{AppEnv: "prod", OTELServiceName: "inference-gateway"})
	require.NotNil(t, lg)
	assert.False(t, lg.Enabled(context.Background(), slog.LevelDebug))
	assert.True(t, lg.Enabled(context.Background(), slog.LevelInfo))
}
