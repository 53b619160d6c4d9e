package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-translate/internal/capability"
	"github.com/loqalabs/loqa-translate/internal/config"
	"github.com/loqalabs/loqa-translate/internal/eventstore"
	"github.com/loqalabs/loqa-translate/internal/recognition"
)

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(config.Default(), logger)
}

func TestHealthAlwaysOK(t *testing.T) {
	rt := newTestRuntime(t)
	rec := httptest.NewRecorder()
	rt.routes(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestReadyRequiresBus(t *testing.T) {
	rt := newTestRuntime(t)
	mux := rt.routes(nil)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before start, got %d", rec.Code)
	}

	rt.ready.Store(true)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a bus connection, got %d", rec.Code)
	}
}

func TestMetricsRouteOptional(t *testing.T) {
	rt := newTestRuntime(t)
	rec := httptest.NewRecorder()
	rt.routes(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without a metrics handler, got %d", rec.Code)
	}

	called := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})
	rec = httptest.NewRecorder()
	rt.routes(handler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !called || rec.Code != http.StatusOK {
		t.Fatalf("metrics handler not served, code %d", rec.Code)
	}
}

type sessionResponse struct {
	SessionID string              `json:"session_id"`
	Results   []eventstore.Record `json:"results"`
}

func TestSessionTranslations(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := context.Background()
	store, err := eventstore.Open(ctx, config.EventStoreConfig{
		Path:          filepath.Join(t.TempDir(), "events.db"),
		RetentionMode: "session",
	}, rt.logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	rt.results = store

	base := recognition.NewRecognitionResult("r-1", "good morning", recognition.StatusSuccess, 0, 2*time.Second)
	for i, langs := range []map[string]string{
		{"es": "Buenos dias", "fr": "Bonjour"},
		{"es": "Hola"},
	} {
		res := recognition.NewTranslationResult(base, recognition.StatusSuccess, langs)
		if err := store.AppendResult(ctx, eventstore.RecordFromResult("kitchen", "trace", res, i == 1)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	mux := rt.routes(nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/kitchen/translations", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body sessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.SessionID != "kitchen" || len(body.Results) != 2 {
		t.Fatalf("unexpected body %+v", body)
	}
	if body.Results[0].Translations["fr"] != "Bonjour" {
		t.Fatalf("unexpected first record %+v", body.Results[0])
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/kitchen/translations?limit=1", nil))
	body = sessionResponse{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Results) != 1 {
		t.Fatalf("expected limit to apply, got %d results", len(body.Results))
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/unknown/translations", nil))
	body = sessionResponse{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Results == nil || len(body.Results) != 0 {
		t.Fatalf("expected empty result list, got %+v", body.Results)
	}
}

func TestSessionTranslationsBadLimit(t *testing.T) {
	rt := newTestRuntime(t)
	rec := httptest.NewRecorder()
	rt.routes(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/s1/translations?limit=zero", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

type failingLister struct{}

func (failingLister) ListSessionResults(context.Context, string, int) ([]eventstore.Record, error) {
	return nil, errors.New("disk gone")
}

func TestSessionTranslationsStoreFailure(t *testing.T) {
	rt := newTestRuntime(t)
	rt.results = failingLister{}
	rec := httptest.NewRecorder()
	rt.routes(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/s1/translations", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}

	rt.results = nil
	rec = httptest.NewRecorder()
	rt.routes(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/s1/translations", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

type staticDirectory []capability.NodeInfo

func (d staticDirectory) Healthy() bool { return true }

func (d staticDirectory) Query(filter func(capability.NodeInfo) bool) []capability.NodeInfo {
	var out []capability.NodeInfo
	for _, node := range d {
		if filter == nil || filter(node) {
			out = append(out, node)
		}
	}
	return out
}

func TestNodesFilterByLanguage(t *testing.T) {
	rt := newTestRuntime(t)
	translate := func(target string) capability.Capability {
		return capability.Capability{Name: capability.NameTranslate, Attributes: map[string]string{"target": target}}
	}
	rt.nodes = staticDirectory{
		{ID: "a", Healthy: true, Capabilities: []capability.Capability{translate("es")}},
		{ID: "b", Healthy: false, Capabilities: []capability.Capability{translate("es")}},
		{ID: "c", Healthy: true, Capabilities: []capability.Capability{translate("fr")}},
	}
	mux := rt.routes(nil)

	var body struct {
		Nodes []capability.NodeInfo `json:"nodes"`
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nodes", nil))
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Nodes) != 3 {
		t.Fatalf("expected all nodes, got %+v", body.Nodes)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nodes?language=es", nil))
	body.Nodes = nil
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Nodes) != 1 || body.Nodes[0].ID != "a" {
		t.Fatalf("expected only healthy node a, got %+v", body.Nodes)
	}
}

func TestOpenStoreChecksRetentionMode(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := context.Background()

	store, err := openStore(ctx, config.EventStoreConfig{
		Path:          filepath.Join(t.TempDir(), "events.db"),
		RetentionMode: "session",
	}, rt.logger)
	if err != nil {
		t.Fatalf("open persistent store: %v", err)
	}
	if err := store.AppendSession(ctx, "s1", "en-US"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	_ = store.Close()

	ephemeral, err := openStore(ctx, config.EventStoreConfig{RetentionMode: "ephemeral"}, rt.logger)
	if err != nil {
		t.Fatalf("open ephemeral store: %v", err)
	}
	_ = ephemeral.Close()
}
