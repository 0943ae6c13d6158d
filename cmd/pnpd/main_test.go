package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/g960059/pnp/internal/config"
	"github.com/g960059/pnp/internal/host"
	"github.com/g960059/pnp/internal/model"
	"github.com/g960059/pnp/internal/testutil"
	"github.com/g960059/pnp/internal/tmuxhost"
)

func TestParseFlagsOverlaysConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
socket = "/tmp/from-file.sock"
log_level = "warn"

[plugin]
chuck = "deferred"
`), 0o600))

	cfg, err := parseFlags([]string{"--config", path, "--log-level", "debug", "--visible", "--dry-run"})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/from-file.sock", cfg.SocketPath)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, config.BackendDryRun, cfg.Backend)
	assert.Equal(t, "deferred", cfg.Plugin["chuck"])
	assert.Equal(t, "true", cfg.Plugin["visible"])
}

func TestParseFlagsRejectsMissingExplicitConfig(t *testing.T) {
	_, err := parseFlags([]string{"--config", filepath.Join(t.TempDir(), "missing.toml")})
	require.Error(t, err)
}

func TestNewLoggerLevelAndFile(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.LogLevel = "warn"
	var buf bytes.Buffer
	logger, closeLog, err := newLogger(cfg, &buf)
	require.NoError(t, err)
	logger.Info("quiet")
	logger.Warn("loud")
	require.NoError(t, closeLog())
	assert.NotContains(t, buf.String(), "quiet")
	assert.Contains(t, buf.String(), "loud")

	cfg.LogFile = filepath.Join(t.TempDir(), "logs", "pnpd.log")
	logger, closeLog, err = newLogger(cfg, &buf)
	require.NoError(t, err)
	logger.Error("to file")
	require.NoError(t, closeLog())
	data, err := os.ReadFile(cfg.LogFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")

	cfg.LogFile = ""
	cfg.LogLevel = "chatty"
	_, _, err = newLogger(cfg, &buf)
	require.Error(t, err)
}

func TestBuildSurfaceSelectsBackend(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Backend = config.BackendDryRun
	surface, tabs, panes := buildSurface(cfg, nil)
	rec, ok := surface.(*host.Recorder)
	require.True(t, ok)
	assert.NotNil(t, tabs)
	assert.Nil(t, panes)
	clients, err := rec.ListClients(context.Background())
	require.NoError(t, err)
	require.Len(t, clients, 1)
	assert.True(t, clients[0].IsCurrent)
	dryTabs, err := rec.ListTabs(context.Background())
	require.NoError(t, err)
	require.Len(t, dryTabs, 1)
	assert.True(t, dryTabs[0].Active)

	cfg.Backend = config.BackendTmux
	surface, tabs, panes = buildSurface(cfg, slogDiscard())
	_, ok = surface.(*tmuxhost.Surface)
	assert.True(t, ok)
	assert.NotNil(t, tabs)
	assert.NotNil(t, panes)
}

func TestRetentionPurgesExpiredOperations(t *testing.T) {
	store, ctx := testutil.NewStore(t)
	old := model.Operation{
		OperationID: "old",
		InstanceID:  "i",
		Command:     model.CommandPick,
		Outcome:     model.OutcomePicked,
		CreatedAt:   time.Now().UTC().Add(-30 * 24 * time.Hour),
	}
	require.NoError(t, store.RecordOperation(ctx, old))
	testutil.SeedOperation(t, store, ctx, "fresh", model.CommandPlace)

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	startRetentionLoop(loopCtx, store, config.DefaultConfig(), slogDiscard())

	ops, err := store.ListOperations(ctx, 0)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, "fresh", ops[0].OperationID)
}

func slogDiscard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestRealMainExitCodes(t *testing.T) {
	var stderr bytes.Buffer
	assert.Equal(t, 1, realMain([]string{"--config", filepath.Join(t.TempDir(), "missing.toml")}, &stderr))
	assert.Contains(t, stderr.String(), "pnpd: read config")

	stderr.Reset()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(cfgPath, nil, 0o600))
	code := realMain([]string{
		"--config", cfgPath,
		"--log-level", "loud",
		"--log-file", filepath.Join(dir, "pnpd.log"),
	}, &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "log level")
}
