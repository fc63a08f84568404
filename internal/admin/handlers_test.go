package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	nervis "github.com/ferro-labs/ner-visualizer"
	"github.com/ferro-labs/ner-visualizer/internal/requestlog"
)

const testToken = "admin-secret"

type testEnv struct {
	v      *nervis.Visualizer
	models *ModelManager
	logs   *requestlog.SQLWriter
	router chi.Router
}

func setupTestRouter(t *testing.T) *testEnv {
	t.Helper()
	v := newTestVisualizer(t,
		nervis.ModelConfig{URL: "http://a", ButtonName: "A"},
		nervis.ModelConfig{URL: "http://b", ButtonName: "B", CircuitBreaker: &nervis.CircuitBreakerConfig{FailureThreshold: 2}},
	)
	models, err := NewModelManager(v, nil)
	if err != nil {
		t.Fatalf("NewModelManager: %v", err)
	}
	logs, err := requestlog.NewSQLiteWriter(filepath.Join(t.TempDir(), "requests.db"))
	if err != nil {
		t.Fatalf("NewSQLiteWriter: %v", err)
	}
	t.Cleanup(func() { _ = logs.Close() })

	h := &Handlers{Cache: v, Models: models, Logs: logs, LogAdmin: logs}
	r := chi.NewRouter()
	r.Route("/admin", func(r chi.Router) {
		r.Use(TokenAuth(testToken))
		r.Mount("/", h.Routes())
	})
	return &testEnv{v: v, models: models, logs: logs, router: r}
}

func (e *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, bytes.NewBufferString(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v (%s)", err, w.Body.String())
	}
	return out
}

func submit(t *testing.T, v *nervis.Visualizer, model, text string) {
	t.Helper()
	if _, err := v.Submit(context.Background(), nervis.Submission{Model: model, Text: text}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
}

func TestAdmin_RequiresToken(t *testing.T) {
	env := setupTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/admin/cache", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestCacheStatsAndClear(t *testing.T) {
	env := setupTestRouter(t)
	submit(t, env.v, "http://a", "Paris")
	submit(t, env.v, "http://b", "Paris")

	w := env.do(t, http.MethodGet, "/admin/cache", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	summary := decode(t, w)["summary"].(map[string]interface{})
	if summary["total_entries"].(float64) != 2 {
		t.Errorf("expected 2 entries, got %v", summary["total_entries"])
	}

	w = env.do(t, http.MethodDelete, "/admin/cache?model="+url.QueryEscape("http://a"), "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	for _, s := range env.v.CacheStats() {
		if s.Identity == "http://a" && s.Entries != 0 {
			t.Error("model cache should be empty")
		}
		if s.Identity == "http://b" && s.Entries != 1 {
			t.Error("other model cache should be untouched")
		}
	}

	w = env.do(t, http.MethodDelete, "/admin/cache?model="+url.QueryEscape("http://nope"), "")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown model, got %d", w.Code)
	}

	w = env.do(t, http.MethodDelete, "/admin/cache", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	for _, s := range env.v.CacheStats() {
		if s.Entries != 0 {
			t.Errorf("%s should be empty after clearing all", s.Identity)
		}
	}
}

func TestBreakers(t *testing.T) {
	env := setupTestRouter(t)

	w := env.do(t, http.MethodGet, "/admin/breakers", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	data := decode(t, w)["data"].(map[string]interface{})
	if _, ok := data["http://b"]; !ok || len(data) != 1 {
		t.Errorf("expected one breaker for http://b, got %v", data)
	}

	w = env.do(t, http.MethodPost, "/admin/breakers/reset?model="+url.QueryEscape("http://b"), "")
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	w = env.do(t, http.MethodPost, "/admin/breakers/reset?model="+url.QueryEscape("http://a"), "")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for model without breaker, got %d", w.Code)
	}
	w = env.do(t, http.MethodPost, "/admin/breakers/reset", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without model, got %d", w.Code)
	}
}

func TestModelsUpdateHistoryRollback(t *testing.T) {
	env := setupTestRouter(t)
	submit(t, env.v, "http://b", "Paris")

	w := env.do(t, http.MethodPut, "/admin/models", `[{"url": "http://b", "button_name": "Bee"}, {"url": "http://c"}]`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if added := body["added"].([]interface{}); len(added) != 1 || added[0] != "http://c" {
		t.Errorf("added = %v", added)
	}
	if removed := body["removed"].([]interface{}); len(removed) != 1 || removed[0] != "http://a" {
		t.Errorf("removed = %v", removed)
	}
	for _, s := range env.v.CacheStats() {
		if s.Identity == "http://b" && s.Entries != 1 {
			t.Error("kept model should keep its cache")
		}
	}

	w = env.do(t, http.MethodGet, "/admin/models", "")
	var models []nervis.ModelConfig
	if err := json.NewDecoder(w.Body).Decode(&models); err != nil {
		t.Fatalf("decode models: %v", err)
	}
	if len(models) != 2 || models[0].ButtonName != "Bee" {
		t.Errorf("unexpected models %+v", models)
	}

	w = env.do(t, http.MethodGet, "/admin/models/history", "")
	summary := decode(t, w)["summary"].(map[string]interface{})
	if summary["total_versions"].(float64) != 2 {
		t.Errorf("expected 2 versions, got %v", summary["total_versions"])
	}

	w = env.do(t, http.MethodPost, "/admin/models/rollback/1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(env.v.Models()) != 2 || env.v.Models()[0].URL != "http://a" {
		t.Errorf("rollback should restore the first list, got %+v", env.v.Models())
	}

	w = env.do(t, http.MethodPost, "/admin/models/rollback/99", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
	w = env.do(t, http.MethodPost, "/admin/models/rollback/zero", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestModelsUpdateInvalid(t *testing.T) {
	env := setupTestRouter(t)
	for _, body := range []string{`not json`, `[{"url": ""}]`, `[{"url": "http://x"}, {"url": "http://x"}]`} {
		w := env.do(t, http.MethodPut, "/admin/models", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("PUT %s: expected 400, got %d", body, w.Code)
		}
	}
	if len(env.v.Models()) != 2 {
		t.Error("invalid updates must not change the models")
	}
}

func TestModelsReset(t *testing.T) {
	env := setupTestRouter(t)
	env.do(t, http.MethodPut, "/admin/models", `[{"url": "http://z"}]`)

	w := env.do(t, http.MethodDelete, "/admin/models", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := identities(env.v.Models()); len(got) != 2 || got[0] != "http://a" {
		t.Errorf("reset should restore the startup list, got %v", got)
	}
}

func TestLogsListStatsDelete(t *testing.T) {
	env := setupTestRouter(t)
	ctx := context.Background()
	now := time.Now().UTC()
	for _, e := range []requestlog.Entry{
		{Model: "http://a", Outcome: "stored", Fingerprint: "f1", DurationMS: 100, CreatedAt: now.Add(-2 * time.Hour)},
		{Model: "http://a", Outcome: "hit", CacheHit: true, Fingerprint: "f1", DurationMS: 100, CreatedAt: now.Add(-time.Hour)},
		{Model: "http://b", Outcome: "error", Fingerprint: "f2", ErrorType: "unreachable", ErrorMessage: "refused", CreatedAt: now},
	} {
		if err := env.logs.Write(ctx, e); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	w := env.do(t, http.MethodGet, "/admin/logs?model="+url.QueryEscape("http://a")+"&limit=1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if n := len(body["data"].([]interface{})); n != 1 {
		t.Errorf("expected 1 returned entry, got %d", n)
	}
	if total := body["summary"].(map[string]interface{})["total_entries"].(float64); total != 2 {
		t.Errorf("expected 2 total entries, got %v", total)
	}

	w = env.do(t, http.MethodGet, "/admin/logs/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	stats := decode(t, w)
	summary := stats["summary"].(map[string]interface{})
	if summary["cache_hits"].(float64) != 1 || summary["total_entries"].(float64) != 3 {
		t.Errorf("unexpected summary %v", summary)
	}
	if stats["by_error_type"].(map[string]interface{})["unreachable"].(float64) != 1 {
		t.Errorf("unexpected error breakdown %v", stats["by_error_type"])
	}

	w = env.do(t, http.MethodGet, "/admin/logs?since=yesterday", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad since, got %d", w.Code)
	}

	w = env.do(t, http.MethodDelete, "/admin/logs", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without before, got %d", w.Code)
	}
	before := now.Add(-30 * time.Minute).Format(time.RFC3339)
	w = env.do(t, http.MethodDelete, "/admin/logs?before="+url.QueryEscape(before), "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if deleted := decode(t, w)["deleted"].(float64); deleted != 2 {
		t.Errorf("expected 2 deleted, got %v", deleted)
	}
}

func TestLogsDisabled(t *testing.T) {
	v := newTestVisualizer(t, nervis.ModelConfig{URL: "http://a"})
	h := &Handlers{Cache: v}
	r := chi.NewRouter()
	r.Mount("/admin", h.Routes())

	for _, target := range []string{"/admin/logs", "/admin/logs/stats", "/admin/models"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
		if w.Code != http.StatusNotImplemented {
			t.Errorf("GET %s: expected 501, got %d", target, w.Code)
		}
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/dashboard", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("dashboard: expected 200, got %d", w.Code)
	}
	if enabled := decode(t, w)["request_logs"].(map[string]interface{})["enabled"]; enabled != false {
		t.Errorf("request logs should be reported disabled, got %v", enabled)
	}
}

func TestLimitCounts(t *testing.T) {
	in := map[string]int{"a": 5, "b": 3, "c": 3, "d": 1}
	got := limitCounts(in, 2)
	if len(got) != 2 || got["a"] != 5 || got["b"] != 3 {
		t.Errorf("unexpected trimmed counts %v", got)
	}
	if len(limitCounts(in, 0)) != 4 {
		t.Error("zero limit should keep everything")
	}
}
