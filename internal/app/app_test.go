package app_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/fx"

	"github.com/adk-sentryskin/shopify-sync/internal/app"
	"github.com/adk-sentryskin/shopify-sync/pkg/config"
)

func TestServerGraphResolves(t *testing.T) {
	cfg := &config.Config{ServiceName: "catalog-sync"}
	require.NoError(t, fx.ValidateApp(app.Server(cfg)))
}

func TestCoreGraphResolves(t *testing.T) {
	cfg := &config.Config{ServiceName: "catalog-sync"}
	require.NoError(t, fx.ValidateApp(app.Core(cfg), app.Migrate()))
}
