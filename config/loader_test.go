package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func newTestLoader(env map[string]string) *Loader {
	l := NewLoader()
	l.lookupEnv = func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	return l
}

func TestLoader_DefaultsOnly(t *testing.T) {
	cfg, err := newTestLoader(nil).Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoader_YAMLThenJSON(t *testing.T) {
	base := writeFile(t, "base.yaml", `
service:
  http_addr: ":9000"
state:
  backend: memory
coordinator:
  retention: 7d
  max_merge_attempts: 2
merge:
  headers:
    x-functions-key: abc
`)
	override := writeFile(t, "override.json", `{
  "coordinator": {"retention": "36h"},
  "results": {"backend": "sqlite", "sqlite_path": "/tmp/orders.db"}
}`)

	l := newTestLoader(nil)
	l.AddLayer(base)
	l.AddLayer(override)
	l.EnableValidation(true)

	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Service.HTTPAddr)
	assert.Equal(t, BackendMemory, cfg.State.Backend)
	assert.Equal(t, 36*time.Hour, cfg.Coordinator.Retention.D())
	assert.Equal(t, 2, cfg.Coordinator.MaxMergeAttempts)
	assert.Equal(t, "abc", cfg.Merge.Headers["x-functions-key"])
	assert.Equal(t, BackendSQLite, cfg.Results.Backend)
	// Untouched sections keep defaults.
	assert.Equal(t, Default().Coordinator.Stream, cfg.Coordinator.Stream)
	assert.Equal(t, "/api/processorder", cfg.Gateway.Path)
}

func TestLoader_EnvOverrides(t *testing.T) {
	l := newTestLoader(map[string]string{
		"PROCESSORDERS_NATS_URLS":     "nats://a:4222,nats://b:4222",
		"PROCESSORDERS_MERGE_URL":     "https://merge.example.com/api/order/combineOrderContent",
		"PROCESSORDERS_TRIGGER":       "local",
		"PROCESSORDERS_WORKERS":       "3",
		"PROCESSORDERS_RETENTION":     "1d",
		"PROCESSORDERS_NATS_PASSWORD": "",
	})

	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, "nats://a:4222,nats://b:4222", cfg.NATS.URL())
	assert.Equal(t, "https://merge.example.com/api/order/combineOrderContent", cfg.Merge.URL)
	assert.Equal(t, TriggerLocal, cfg.Coordinator.Trigger)
	assert.Equal(t, 3, cfg.Coordinator.Workers)
	assert.Equal(t, 24*time.Hour, cfg.Coordinator.Retention.D())
	assert.Empty(t, cfg.NATS.Password)
}

func TestLoader_EnvErrors(t *testing.T) {
	_, err := newTestLoader(map[string]string{"PROCESSORDERS_WORKERS": "many"}).Load()
	assert.Error(t, err)

	_, err = newTestLoader(map[string]string{"PROCESSORDERS_MERGE_URL": "http://x\x00"}).Load()
	assert.Error(t, err)
}

func TestLoader_ValidationFailure(t *testing.T) {
	path := writeFile(t, "bad.json", `{"state": {"backend": "etcd"}}`)
	l := newTestLoader(nil)
	l.EnableValidation(true)

	_, err := l.LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "state.backend")

	l.EnableValidation(false)
	cfg, err := l.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "etcd", cfg.State.Backend)
}

func TestLoader_RejectsBadFiles(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"wrong extension", "config.toml", "a = 1"},
		{"invalid json", "config.json", "{"},
		{"invalid yaml", "config.yaml", "service: [unclosed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestLoader(nil).LoadFile(writeFile(t, tt.file, tt.content))
			assert.Error(t, err)
		})
	}

	_, err := newTestLoader(nil).LoadFile("../../etc/passwd.json")
	assert.Error(t, err)
}

func TestValidateJSONDepth(t *testing.T) {
	assert.NoError(t, validateJSONDepth([]byte(`{"a":"{[{"}`)))
	assert.Error(t, validateJSONDepth([]byte(`{"a":[`)))
	assert.Error(t, validateJSONDepth([]byte(`}{`)))
	deep := make([]byte, 0, 2*(maxJSONDepth+1))
	for i := 0; i <= maxJSONDepth; i++ {
		deep = append(deep, '[')
	}
	for i := 0; i <= maxJSONDepth; i++ {
		deep = append(deep, ']')
	}
	assert.Error(t, validateJSONDepth(deep))
}

func TestDeepMergeMaps(t *testing.T) {
	base := map[string]any{"a": map[string]any{"x": 1, "y": 2}, "b": "keep"}
	override := map[string]any{"a": map[string]any{"y": 3}, "c": nil}

	merged := deepMergeMaps(base, override)
	assert.Equal(t, map[string]any{"a": map[string]any{"x": 1, "y": 3}, "b": "keep"}, merged)
	assert.Equal(t, 2, base["a"].(map[string]any)["y"])
}
