package server

import (
	"context"
	"io"
	"iter"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gaspardpetit/promptrelay/internal/config"
	"github.com/gaspardpetit/promptrelay/internal/drain"
	"github.com/gaspardpetit/promptrelay/internal/metrics"
)

type staticGen struct{ frags []string }

func (g staticGen) GenerateStream(ctx context.Context, prompt string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, f := range g.frags {
			if !yield(f, nil) {
				return
			}
		}
	}
}

func testConfig() config.ServerConfig {
	cfg := config.ServerConfig{APIKey: "k"}
	cfg.SetDefaults()
	return cfg
}

func newTestServer(t *testing.T, cfg config.ServerConfig, tracker *drain.Tracker) *httptest.Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics.Register(reg)
	h, err := New(cfg, staticGen{frags: []string{"Hel", "lo"}}, tracker, reg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp, string(b)
}

func TestLandingPage(t *testing.T) {
	srv := newTestServer(t, testConfig(), nil)
	resp, body := get(t, srv.URL+"/")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("content type %q", ct)
	}
	if !strings.Contains(body, "<form") {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestStaticAssets(t *testing.T) {
	srv := newTestServer(t, testConfig(), nil)
	resp, _ := get(t, srv.URL+"/style.css")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/css") {
		t.Fatalf("content type %q", ct)
	}
	resp, _ = get(t, srv.URL+"/missing.js")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing asset status %d", resp.StatusCode)
	}
}

func TestPublicDirOverride(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<p>custom</p>"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := testConfig()
	cfg.PublicDir = dir
	srv := newTestServer(t, cfg, nil)
	_, body := get(t, srv.URL+"/")
	if body != "<p>custom</p>" {
		t.Fatalf("body %q", body)
	}
}

func TestPublicDirMissingIndex(t *testing.T) {
	cfg := testConfig()
	cfg.PublicDir = t.TempDir()
	if _, err := New(cfg, staticGen{}, nil, nil); err == nil {
		t.Fatalf("expected error for directory without index.html")
	}
}

func TestPromptRoute(t *testing.T) {
	srv := newTestServer(t, testConfig(), nil)
	resp, err := http.Post(srv.URL+"/ai", "application/json", strings.NewReader(`{"prompt":"hi"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(b) != "Hello" {
		t.Fatalf("status %d body %q", resp.StatusCode, b)
	}
}

func TestCORSHeader(t *testing.T) {
	srv := newTestServer(t, testConfig(), nil)
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/healthz", nil)
	req.Header.Set("Origin", "http://example.com")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("allow origin %q", got)
	}
}

func TestHealthDraining(t *testing.T) {
	tracker := drain.New()
	srv := newTestServer(t, testConfig(), tracker)
	resp, body := get(t, srv.URL+"/healthz")
	if resp.StatusCode != http.StatusOK || body != "ok" {
		t.Fatalf("status %d body %q", resp.StatusCode, body)
	}
	tracker.Start()
	resp, body = get(t, srv.URL+"/healthz")
	if resp.StatusCode != http.StatusServiceUnavailable || body != "draining" {
		t.Fatalf("status %d body %q", resp.StatusCode, body)
	}
	r, err := http.Post(srv.URL+"/ai", "application/json", strings.NewReader(`{"prompt":"hi"}`))
	if err != nil {
		t.Fatal(err)
	}
	b, _ := io.ReadAll(r.Body)
	r.Body.Close()
	if r.StatusCode != http.StatusServiceUnavailable || string(b) != `{"error":"Server is shutting down"}` {
		t.Fatalf("status %d body %q", r.StatusCode, b)
	}
}

func TestMetricsOnMainPort(t *testing.T) {
	srv := newTestServer(t, testConfig(), nil)
	resp, body := get(t, srv.URL+"/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if !strings.Contains(body, "promptrelay_relays_in_flight") {
		t.Fatalf("metrics body missing gauge")
	}
}

func TestMetricsSeparatePort(t *testing.T) {
	cfg := testConfig()
	cfg.MetricsAddr = ":9090"
	srv := newTestServer(t, cfg, nil)
	resp, _ := get(t, srv.URL+"/metrics")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestOpenAPIRoute(t *testing.T) {
	srv := newTestServer(t, testConfig(), nil)
	resp, body := get(t, srv.URL+"/api/openapi.json")
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, `"/ai"`) {
		t.Fatalf("status %d body %q", resp.StatusCode, body)
	}
}

func TestAssetETag(t *testing.T) {
	srv := newTestServer(t, testConfig(), nil)
	resp, _ := get(t, srv.URL+"/style.css")
	tag := resp.Header.Get("ETag")
	if tag == "" {
		t.Fatalf("missing etag")
	}
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/style.css", nil)
	req.Header.Set("If-None-Match", tag)
	r, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	r.Body.Close()
	if r.StatusCode != http.StatusNotModified {
		t.Fatalf("status %d", r.StatusCode)
	}
}

func TestHashFileRejectsDirectories(t *testing.T) {
	assets, err := Assets("")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := hashFile(assets, "."); err == nil {
		t.Fatalf("expected error for root")
	}
	a, err := hashFile(assets, "index.html")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := hashFile(assets, "index.html")
	if a != b || len(a) != 34 {
		t.Fatalf("unexpected tags %q %q", a, b)
	}
}
