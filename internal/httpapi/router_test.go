package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/dwizi/fixfox-bot/internal/config"
	"github.com/dwizi/fixfox-bot/internal/heartbeat"
	"github.com/dwizi/fixfox-bot/internal/store"
)

type recordingWebhook struct {
	mu     sync.Mutex
	bodies []string
	status string
}

func (w *recordingWebhook) Accept(_ context.Context, raw []byte) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.bodies = append(w.bodies, string(raw))
	if w.status == "" {
		return "success"
	}
	return w.status
}

func newRouterTestStore(t *testing.T) *store.Store {
	t.Helper()
	sqlStore, err := store.New(filepath.Join(t.TempDir(), "httpapi_test.sqlite"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = sqlStore.Close() })
	if err := sqlStore.AutoMigrate(context.Background()); err != nil {
		t.Fatalf("migrate store: %v", err)
	}
	return sqlStore
}

func newTestRouter(t *testing.T, cfg config.Config, webhook WebhookProcessor) (http.Handler, *store.Store) {
	t.Helper()
	sqlStore := newRouterTestStore(t)
	return NewRouter(Dependencies{
		Config:  cfg,
		Store:   sqlStore,
		Webhook: webhook,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}), sqlStore
}

func decodeStatus(t *testing.T, res *httptest.ResponseRecorder) string {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(res.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	status, _ := payload["status"].(string)
	return status
}

func TestWebhookRequiresSecretToken(t *testing.T) {
	webhook := &recordingWebhook{}
	handler, _ := newTestRouter(t, config.Config{TelegramSecretToken: "s3cret"}, webhook)

	req := httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader(`{"update_id":1}`))
	req.Header.Set(secretTokenHeader, "wrong")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", res.Code)
	}
	if len(webhook.bodies) != 0 {
		t.Fatal("expected webhook not to be processed")
	}

	req = httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader(`{"update_id":1}`))
	req.Header.Set(secretTokenHeader, "s3cret")
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if status := decodeStatus(t, res); status != "success" {
		t.Fatalf("expected success status, got %q", status)
	}
	if len(webhook.bodies) != 1 || webhook.bodies[0] != `{"update_id":1}` {
		t.Fatalf("unexpected webhook bodies: %v", webhook.bodies)
	}
}

func TestWebhookTrustedProxySkipsSecret(t *testing.T) {
	webhook := &recordingWebhook{status: "accepted"}
	handler, _ := newTestRouter(t, config.Config{TelegramSecretToken: "s3cret", TrustedProxyIP: "172.29.0.1"}, webhook)

	req := httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader(`{}`))
	req.RemoteAddr = "172.29.0.1:41000"
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if status := decodeStatus(t, res); status != "accepted" {
		t.Fatalf("expected accepted status, got %q", status)
	}
}

func TestWebhookWithoutSecretRejectsUntrusted(t *testing.T) {
	handler, _ := newTestRouter(t, config.Config{}, &recordingWebhook{})
	req := httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader(`{}`))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", res.Code)
	}
}

func TestWebhookBodyLimit(t *testing.T) {
	webhook := &recordingWebhook{}
	handler, _ := newTestRouter(t, config.Config{TelegramSecretToken: "s", WebhookBodyLimit: 16}, webhook)

	req := httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader(strings.Repeat("x", 64)))
	req.Header.Set(secretTokenHeader, "s")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if status := decodeStatus(t, res); status != "ignored - body too large" {
		t.Fatalf("unexpected status %q", status)
	}
	if len(webhook.bodies) != 0 {
		t.Fatal("expected oversized body to be dropped")
	}
}

func TestWebhookRejectsGet(t *testing.T) {
	handler, _ := newTestRouter(t, config.Config{TelegramSecretToken: "s"}, &recordingWebhook{})
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/telegram/webhook", nil))
	if res.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", res.Code)
	}
}

func TestRequestsAreLogged(t *testing.T) {
	handler, sqlStore := newTestRouter(t, config.Config{}, nil)
	for index := 0; index < 2; index++ {
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		if res.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", res.Code)
		}
	}
	count, err := sqlStore.CountRequestLogs(context.Background(), "/healthz")
	if err != nil {
		t.Fatalf("count request logs: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 request logs, got %d", count)
	}
}

func TestReadyReflectsHeartbeat(t *testing.T) {
	sqlStore := newRouterTestStore(t)
	registry := heartbeat.NewRegistry()
	registry.Beat("webhook", "ok")
	handler := NewRouter(Dependencies{
		Store:     sqlStore,
		Heartbeat: registry,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected ready, got %d", res.Code)
	}

	registry.Degrade("sweeper", "failed", nil)
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when degraded, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/api/v1/heartbeat", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected heartbeat 200, got %d", res.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	handler, _ := newTestRouter(t, config.Config{}, nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if !strings.Contains(res.Body.String(), "fixfox_http_request_duration_seconds") && !strings.Contains(res.Body.String(), "go_goroutines") {
		t.Fatal("expected prometheus exposition")
	}
}

func TestRouteLabel(t *testing.T) {
	cases := map[string]string{
		"/healthz":               "/healthz",
		"/telegram/webhook":      "/telegram/webhook",
		"/metrics":               "/metrics",
		"/telegram/webhook/":     "other",
		"/wp-login.php":          "other",
		"/api/v1/info?debug=1":   "other",
		"/api/v1/heartbeat/../x": "other",
		"":                       "other",
	}
	for path, want := range cases {
		if got := routeLabel(path); got != want {
			t.Fatalf("routeLabel(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestMetricsCollapseUnknownPaths(t *testing.T) {
	handler, _ := newTestRouter(t, config.Config{}, nil)
	for _, path := range []string{"/scan-a1b2c3", "/scan-d4e5f6", "/.env"} {
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, path, nil))
		if res.Code != http.StatusNotFound {
			t.Fatalf("expected 404 for %s, got %d", path, res.Code)
		}
	}

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := res.Body.String()
	if !strings.Contains(body, `fixfox_http_request_duration_seconds_count{path="other",status="404"}`) {
		t.Fatalf("expected unknown paths under the other label, got:\n%s", body)
	}
	if strings.Contains(body, "scan-") || strings.Contains(body, `path="/.env"`) {
		t.Fatal("raw request paths must not become metric labels")
	}
}
