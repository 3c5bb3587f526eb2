package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/BugReportConstructor/internal/config"
)

func serverEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("BRC_DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("BRC_LOG_DIR", filepath.Join(dir, "logs"))
	t.Setenv("BRC_STORE_BACKEND", "")
	t.Setenv("BRC_NATS_URL", "")
	return dir
}

func TestRootCmd_FlagsOverrideConfig(t *testing.T) {
	dir := serverEnv(t)

	// a cancelled context makes the server shut down as soon as it starts
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)
	cmd.SetArgs([]string{"--port", "0", "--debug"})
	require.NoError(t, cmd.ExecuteContext(ctx))

	data, err := os.ReadFile(filepath.Join(dir, "data", config.SnapshotFileName))
	require.NoError(t, err)
	var snapshot config.Config
	require.NoError(t, json.Unmarshal(data, &snapshot))
	assert.Equal(t, "0", snapshot.Port)
	assert.True(t, snapshot.DebugMode)
}

func TestRootCmd_ConfigErrors(t *testing.T) {
	dir := serverEnv(t)

	cmd := newRootCmd(&bytes.Buffer{}, &bytes.Buffer{})
	cmd.SetArgs([]string{"--config", filepath.Join(dir, "missing.yaml")})
	assert.ErrorContains(t, cmd.Execute(), "load config")

	t.Setenv("BRC_STORE_BACKEND", "postgres")
	cmd = newRootCmd(&bytes.Buffer{}, &bytes.Buffer{})
	cmd.SetArgs([]string{})
	assert.ErrorContains(t, cmd.Execute(), "store_backend")
}

func TestRootCmd_RejectsArguments(t *testing.T) {
	serverEnv(t)
	cmd := newRootCmd(&bytes.Buffer{}, &bytes.Buffer{})
	cmd.SetArgs([]string{"serve"})
	assert.Error(t, cmd.Execute())
}
