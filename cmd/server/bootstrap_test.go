package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cuonglevan23/taskflow-backend-sub003/internal/app"
)

func testConfig(t *testing.T) *app.Config {
	t.Helper()

	cfg, err := app.LoadConfig(t.TempDir())
	require.NoError(t, err)
	cfg.Database.Path = filepath.Join(t.TempDir(), "taskflow.sqlite")
	cfg.Auth.JWT.Secret = "bootstrap-test-secret-key-32-bytes!!"
	cfg.Realtime.HeartbeatTTL = time.Minute
	cfg.Realtime.GraceWindow = time.Second
	return cfg
}

func TestBootstrapRuntimeWiresStack(t *testing.T) {
	cfg := testConfig(t)
	log := zap.NewNop()

	stack, err := bootstrapRuntime(context.Background(), cfg, log)
	require.NoError(t, err)
	t.Cleanup(func() { stack.Shutdown(context.Background(), log) })

	require.NotNil(t, stack.DB)
	require.NotNil(t, stack.Hub)
	require.NotNil(t, stack.Registry)
	require.NotNil(t, stack.Dispatcher)
	require.NotNil(t, stack.Cleaner)
	require.NotNil(t, stack.Router)
}

func TestBootstrapRuntimeWithoutMaintenance(t *testing.T) {
	cfg := testConfig(t)
	cfg.Maintenance.Enabled = false
	log := zap.NewNop()

	stack, err := bootstrapRuntime(context.Background(), cfg, log)
	require.NoError(t, err)
	t.Cleanup(func() { stack.Shutdown(context.Background(), log) })

	require.Nil(t, stack.Cleaner)
}

func TestConvertDatabaseConfigDrivers(t *testing.T) {
	cfg := testConfig(t)

	got := convertDatabaseConfig(cfg)
	require.Equal(t, "sqlite", got.Driver)
	require.Equal(t, cfg.Database.Path, got.Path)

	cfg.Database.Driver = "PostgreSQL"
	cfg.Database.Postgres.Host = "db.internal"
	cfg.Database.Postgres.Database = "taskflow"
	got = convertDatabaseConfig(cfg)
	require.Equal(t, "postgres", got.Driver)
	require.Equal(t, "db.internal", got.Host)
	require.Equal(t, "taskflow", got.Name)
}
