package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/kevingbb/processorders/config"
	"github.com/kevingbb/processorders/gateway"
	"github.com/kevingbb/processorders/orderstore"
	"github.com/kevingbb/processorders/processor/orderjoin"
	"github.com/kevingbb/processorders/storage"
	"github.com/kevingbb/processorders/storage/objectstore"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommandPresence(t *testing.T) {
	root := NewRootCommand()
	for _, path := range [][]string{
		{"parse"}, {"status"}, {"retry"}, {"sweep"}, {"upload"}, {"config", "show"},
	} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, "parse", "-o", "xml", "https://a/orders/1-OrderLineItems.csv")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestParse(t *testing.T) {
	out, err := execute(t, "parse", "-o", "json",
		"https://acct.blob.core.windows.net/orders/20240101-orderlineitems.csv")
	require.NoError(t, err)

	var res ParseResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Matched)
	assert.True(t, res.Known)
	require.NotNil(t, res.Reference)
	assert.Equal(t, "20240101", res.Reference.BatchPrefix)
	assert.Equal(t, "OrderLineItems", res.Reference.FileType.String())
	assert.Equal(t, "orders", res.Reference.ContainerName)
}

func TestParseYAMLUsesJSONNames(t *testing.T) {
	out, err := execute(t, "parse", "https://a/orders/7-ProductInformation.csv")
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &doc))
	ref, ok := doc["reference"].(map[string]any)
	require.True(t, ok, out)
	assert.Equal(t, "7", ref["batch_prefix"])
	assert.Equal(t, "ProductInformation", ref["file_type"])
}

func TestParseStrict(t *testing.T) {
	out, err := execute(t, "parse", "--strict", "-o", "text",
		"https://a/orders/1-OrderHeaderDetails.csv",
		"https://a/orders/1-Invoice.csv",
		"not a url")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "batch 1, OrderHeaderDetails")
	assert.Contains(t, out, "unknown file type Invoice")
	assert.Contains(t, out, "not a url: not an order file")
}

// adminServer fakes the service admin API.
type adminServer struct {
	mu      sync.Mutex
	retried []string
	events  [][]gateway.Event
}

func (a *adminServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/orders/{key}", func(w http.ResponseWriter, r *http.Request) {
		key := r.PathValue("key")
		if key == "missing" {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": "order not found", "status": 404})
			return
		}
		_ = json.NewEncoder(w).Encode(orderjoin.OrderStatus{
			Key: key,
			State: &orderstore.State{
				ID:        key,
				HeaderURL: "https://a/orders/" + key + "-OrderHeaderDetails.csv",
			},
			Pass: &orderstore.Pass{
				Key:      key,
				Phase:    orderstore.PhaseDone,
				Attempts: 1,
				Outputs:  []string{"CombinedOrders " + key + " saved."},
			},
		})
	})
	mux.HandleFunc("POST /api/orders/{key}/retry", func(w http.ResponseWriter, r *http.Request) {
		key := r.PathValue("key")
		if key == "busy" {
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": "pass in flight", "status": 409})
			return
		}
		a.mu.Lock()
		a.retried = append(a.retried, key)
		a.mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("POST /api/sweep", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(orderjoin.SweepReport{Scanned: 4, Retriggered: 1, Purged: 2})
	})
	mux.HandleFunc("POST /api/processorder", func(w http.ResponseWriter, r *http.Request) {
		var batch []gateway.Event
		if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		a.mu.Lock()
		a.events = append(a.events, batch)
		a.mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	})
	return mux
}

func startAdmin(t *testing.T) (*adminServer, string) {
	t.Helper()
	a := &adminServer{}
	srv := httptest.NewServer(a.handler())
	t.Cleanup(srv.Close)
	return a, srv.URL
}

func TestStatus(t *testing.T) {
	_, url := startAdmin(t)

	out, err := execute(t, "status", "--server", url, "-o", "json", "20240101")
	require.NoError(t, err)

	var status orderjoin.OrderStatus
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, "20240101", status.Key)
	require.NotNil(t, status.Pass)
	assert.Equal(t, orderstore.PhaseDone, status.Pass.Phase)

	out, err = execute(t, "status", "--server", url, "-o", "text", "20240101")
	require.NoError(t, err)
	assert.Contains(t, out, "parts: 1/3 complete=false")
	assert.Contains(t, out, "CombinedOrders 20240101 saved.")
}

func TestStatusNotFound(t *testing.T) {
	_, url := startAdmin(t)

	_, err := execute(t, "status", "--server", url, "missing")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "404 order not found")
}

func TestServerUnreachable(t *testing.T) {
	_, err := execute(t, "status", "--server", "http://127.0.0.1:1", "--timeout", "1s", "x")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, "status", "--server", "ftp://nowhere", "x")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRetry(t *testing.T) {
	a, url := startAdmin(t)

	out, err := execute(t, "retry", "--server", url, "-o", "text", "42")
	require.NoError(t, err)
	assert.Contains(t, out, "retry of 42 triggered")
	assert.Equal(t, []string{"42"}, a.retried)

	_, err = execute(t, "retry", "--server", url, "busy")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
}

func TestSweep(t *testing.T) {
	_, url := startAdmin(t)

	out, err := execute(t, "sweep", "--server", url, "-o", "text")
	require.NoError(t, err)
	assert.Equal(t, "scanned=4 retriggered=1 purged=2 abandoned=0 dead_lettered=0 errors=0\n", out)
}

func TestUploadAndNotify(t *testing.T) {
	a, url := startAdmin(t)

	store := objectstore.NewMemoryStore()
	prev := openSources
	openSources = func(context.Context, *config.Config) (storage.Store, func(), error) {
		return store, func() {}, nil
	}
	t.Cleanup(func() { openSources = prev })

	dir := t.TempDir()
	file := filepath.Join(dir, "20240101-OrderHeaderDetails.csv")
	require.NoError(t, os.WriteFile(file, []byte("id,customer\n1,ada\n"), 0o600))

	out, err := execute(t, "upload", "--server", url, "--notify", "-o", "json", file)
	require.NoError(t, err)

	var results []UploadResult
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	assert.Equal(t, "20240101-OrderHeaderDetails.csv", results[0].Object)
	assert.Equal(t, "https://local/orders/20240101-OrderHeaderDetails.csv", results[0].URL)
	assert.True(t, results[0].Notified)
	assert.Equal(t, http.StatusAccepted, results[0].Status)

	data, err := store.Get(context.Background(), "20240101-OrderHeaderDetails.csv")
	require.NoError(t, err)
	assert.Equal(t, "id,customer\n1,ada\n", string(data))

	require.Len(t, a.events, 1)
	require.Len(t, a.events[0], 1)
	ev := a.events[0][0]
	assert.Equal(t, gateway.EventTypeBlobCreated, ev.EventType)
	blob, err := ev.BlobCreated()
	require.NoError(t, err)
	assert.Equal(t, gateway.APIPutBlob, blob.API)
	assert.Equal(t, results[0].URL, blob.URL)
}

func TestUploadRejectsForeignNames(t *testing.T) {
	called := false
	prev := openSources
	openSources = func(context.Context, *config.Config) (storage.Store, func(), error) {
		called = true
		return objectstore.NewMemoryStore(), func() {}, nil
	}
	t.Cleanup(func() { openSources = prev })

	file := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	_, err := execute(t, "upload", file)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.False(t, called)
}

func TestConfigShow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "service.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
nats:
  password: hunter2
merge:
  url: http://merge.internal/api/combine
`), 0o600))

	out, err := execute(t, "config", "show", "-c", path)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &doc))
	nats := doc["nats"].(map[string]any)
	assert.Equal(t, "[REDACTED]", nats["password"])
	merge := doc["merge"].(map[string]any)
	assert.Equal(t, "http://merge.internal/api/combine", merge["url"])
	assert.Equal(t, "30s", merge["timeout"])
}
