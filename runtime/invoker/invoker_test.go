package invoker_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/capgate/runtime/capability"
	"goa.design/capgate/runtime/invoker"
)

func getUserCapability(baseURL string) capability.Capability {
	return capability.Capability{
		Name:        "getUser",
		Description: "Fetch a user",
		Method:      "GET",
		URLTemplate: baseURL + "/users/{id}",
		PathParams:  []capability.Param{{Name: "id", Type: capability.TypeInteger, Required: true}},
		QueryParams: []capability.Param{{Name: "expand", Type: capability.TypeBoolean}},
	}
}

func TestInvokeSubstitutesPathAndQuery(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": 1, "name": "Ada"}`))
	}))
	defer srv.Close()

	inv := invoker.New()
	rec := inv.Invoke(context.Background(), getUserCapability(srv.URL), map[string]any{
		"id":     float64(1),
		"expand": true,
	})

	assert.False(t, rec.IsError)
	assert.Equal(t, `{"id": 1, "name": "Ada"}`, rec.Result)
	assert.Equal(t, "/users/1", gotPath)
	assert.Equal(t, "expand=true", gotQuery)
	assert.Positive(t, rec.Latency)
}

func TestInvokeOmitsAbsentQueryParameters(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	inv := invoker.New()
	rec := inv.Invoke(context.Background(), getUserCapability(srv.URL), map[string]any{
		"id":     float64(7),
		"expand": nil,
	})

	require.False(t, rec.IsError)
	assert.Empty(t, gotQuery)
}

func TestInvokeErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	inv := invoker.New()
	rec := inv.Invoke(context.Background(), getUserCapability(srv.URL), map[string]any{"id": float64(42)})

	assert.True(t, rec.IsError)
	// http.Error appends a newline to the body.
	assert.Equal(t, "Error: HTTP 404 - {\"error\": \"not found\"}\n", rec.Result)
}

func TestInvokeTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listens anymore

	inv := invoker.New()
	rec := inv.Invoke(context.Background(), getUserCapability(srv.URL), map[string]any{"id": float64(1)})

	assert.True(t, rec.IsError)
	assert.True(t, strings.HasPrefix(rec.Result, "Request failed: "), "got %q", rec.Result)
}

func TestInvokeSendsBody(t *testing.T) {
	var gotBody map[string]any
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id": 9}`))
	}))
	defer srv.Close()

	c := capability.Capability{
		Name:        "createUser",
		Method:      "POST",
		URLTemplate: srv.URL + "/users",
		Body:        &capability.Param{Name: "request_data", Type: capability.TypeObject, Required: true},
	}
	inv := invoker.New()
	rec := inv.Invoke(context.Background(), c, map[string]any{
		"request_data": map[string]any{"name": "Ada"},
	})

	assert.False(t, rec.IsError, "2xx statuses other than 200 are successes")
	assert.Equal(t, `{"id": 9}`, rec.Result)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, map[string]any{"name": "Ada"}, gotBody)
}

func TestInvokeValidatesArguments(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	inv := invoker.New()
	rec := inv.Invoke(context.Background(), getUserCapability(srv.URL), map[string]any{})

	assert.True(t, rec.IsError)
	assert.True(t, strings.HasPrefix(rec.Result, "Request failed: invalid arguments"), "got %q", rec.Result)
	assert.False(t, called, "validation failures must not reach the endpoint")
}

func TestInvokeValidationDisabled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := capability.Capability{
		Name:        "ping",
		Method:      "GET",
		URLTemplate: srv.URL + "/ping",
		QueryParams: []capability.Param{{Name: "n", Type: capability.TypeInteger, Required: true}},
	}
	inv := invoker.New(invoker.WithoutValidation())
	rec := inv.Invoke(context.Background(), c, map[string]any{})

	assert.False(t, rec.IsError)
	assert.Equal(t, "ok", rec.Result)
}

// recordingLogger collects log entries keyed by their structured fields.
type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

type logEntry struct {
	msg     string
	keyvals map[string]any
}

func (l *recordingLogger) record(msg string, keyvals []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kvs := make(map[string]any, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		if k, ok := keyvals[i].(string); ok {
			kvs[k] = keyvals[i+1]
		}
	}
	l.entries = append(l.entries, logEntry{msg: msg, keyvals: kvs})
}

func (l *recordingLogger) Debug(_ context.Context, msg string, keyvals ...any) {
	l.record(msg, keyvals)
}

func (l *recordingLogger) Info(_ context.Context, msg string, keyvals ...any) {
	l.record(msg, keyvals)
}

func (l *recordingLogger) Warn(_ context.Context, msg string, keyvals ...any) {
	l.record(msg, keyvals)
}

func (l *recordingLogger) Error(_ context.Context, msg string, keyvals ...any) {
	l.record(msg, keyvals)
}

func TestInvokeLogsRequestTelemetry(t *testing.T) {
	longBody := strings.Repeat("x", 1000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(longBody))
	}))
	defer srv.Close()

	logger := &recordingLogger{}
	inv := invoker.New(invoker.WithLogger(logger))
	rec := inv.Invoke(context.Background(), getUserCapability(srv.URL), map[string]any{"id": float64(3)})
	require.True(t, rec.IsError)

	require.Len(t, logger.entries, 1)
	entry := logger.entries[0]
	assert.Equal(t, "capability invocation failed", entry.msg)
	assert.Equal(t, "GET", entry.keyvals["method"])
	assert.Equal(t, srv.URL+"/users/3", entry.keyvals["url"])
	assert.Equal(t, http.StatusInternalServerError, entry.keyvals["http_status"])

	// The record keeps the full body; the log carries a bounded preview.
	preview, ok := entry.keyvals["body"].(string)
	require.True(t, ok)
	assert.True(t, strings.HasSuffix(preview, "..."), "got %q", preview)
	assert.Less(t, len(preview), 300)
	assert.Greater(t, len(rec.Result), len(preview))
}

func TestInvokeMissingPathParameter(t *testing.T) {
	c := capability.Capability{
		Name:        "getThing",
		Method:      "GET",
		URLTemplate: "http://example.invalid/things/{id}",
		PathParams:  []capability.Param{{Name: "id", Type: capability.TypeString}},
	}
	inv := invoker.New(invoker.WithoutValidation())
	rec := inv.Invoke(context.Background(), c, nil)

	assert.True(t, rec.IsError)
	assert.Contains(t, rec.Result, `missing path parameter "id"`)
}
