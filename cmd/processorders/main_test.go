package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func TestParseFlags(t *testing.T) {
	cfg, err := parseFlags(newFlagSet(), []string{
		"--config", "a.yaml, b.json", "--debug", "--log-format=text", "--shutdown-timeout=10s",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.yaml", "b.json"}, cfg.ConfigPaths)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
}

func TestParseFlags_EnvFallback(t *testing.T) {
	t.Setenv("PROCESSORDERS_LOG_LEVEL", "warn")
	cfg, err := parseFlags(newFlagSet(), nil)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Empty(t, cfg.ConfigPaths)
}

func TestValidateFlags(t *testing.T) {
	base := CLIConfig{LogLevel: "info", LogFormat: "json"}

	ok := base
	assert.NoError(t, validateFlags(&ok))

	badLevel := base
	badLevel.LogLevel = "trace"
	assert.Error(t, validateFlags(&badLevel))

	badFormat := base
	badFormat.LogFormat = "xml"
	assert.Error(t, validateFlags(&badFormat))

	missing := base
	missing.ConfigPaths = []string{filepath.Join(t.TempDir(), "nope.yaml")}
	assert.Error(t, validateFlags(&missing))

	version := CLIConfig{ShowVersion: true, LogLevel: "bogus"}
	assert.NoError(t, validateFlags(&version))
}

func TestSetupLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(&buf, "info", "json")
	logger.Debug("hidden")
	logger.Info("shown", "order_key", "20240101000000")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "shown", line["msg"])
	assert.Equal(t, appName, line["service"])
	assert.Equal(t, "20240101000000", line["order_key"])
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "site.yaml")
	require.NoError(t, os.WriteFile(path, []byte("coordinator:\n  trigger: local\n"), 0o600))

	cfg, err := loadConfig(&CLIConfig{ConfigPaths: []string{path}, ShutdownTimeout: 3 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, "local", cfg.Coordinator.Trigger)
	assert.Equal(t, 3*time.Second, cfg.Service.ShutdownTimeout.D())
}
