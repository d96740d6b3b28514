package prerender

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// fakeBrowser fetches each URL from the static server, checks it got the app
// shell and returns markup standing in for the client-rendered page.
type fakeBrowser struct {
	mu       sync.Mutex
	fail     map[string]error
	requests []Request
	baseURL  string
	closed   bool
}

func (f *fakeBrowser) Render(ctx context.Context, req Request) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	if f.baseURL == "" {
		f.baseURL = req.URL[:strings.Index(req.URL[len("http://"):], "/")+len("http://")]
	}
	f.mu.Unlock()

	route := strings.TrimPrefix(req.URL, f.baseURL)
	if err, ok := f.fail[route]; ok {
		return "", err
	}

	resp, err := http.Get(req.URL)
	if err != nil {
		return "", err
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if !strings.Contains(string(body), `<div id="root"></div>`) {
		return "", fmt.Errorf("expected app shell for %s, got %q", route, body)
	}

	title := "Home"
	if strings.HasPrefix(route, "/blog/") {
		words := strings.Split(strings.TrimPrefix(route, "/blog/"), "-")
		for i, w := range words {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
		title = strings.Join(words, " ")
	} else if route == "/blog" {
		title = "Blog"
	}
	return fmt.Sprintf(`<!DOCTYPE html><html><head><title>%s</title></head><body><div id="root"><h1>%s</h1></div></body></html>`, title, title), nil
}

func (f *fakeBrowser) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeBrowser) launcher() Launcher {
	return func(ctx context.Context) (Browser, error) {
		return f, nil
	}
}

const testSitemap = `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url>
    <loc>https://example.com/</loc>
    <changefreq>weekly</changefreq>
    <priority>1.0</priority>
  </url>
  <url>
    <loc>https://example.com/blog</loc>
    <changefreq>weekly</changefreq>
    <priority>0.9</priority>
  </url>
  <url>
    <loc>https://example.com/blog/hello-world</loc>
    <lastmod>2024-03-01</lastmod>
    <changefreq>monthly</changefreq>
    <priority>0.8</priority>
  </url>
  <url>
    <loc>https://example.com/blog/second-post</loc>
    <changefreq>monthly</changefreq>
    <priority>0.8</priority>
  </url>
</urlset>
`

func setupRun(t *testing.T) Config {
	t.Helper()
	dir := writeBuild(t)
	sitemapPath := filepath.Join(t.TempDir(), "sitemap.xml")
	if err := os.WriteFile(sitemapPath, []byte(testSitemap), 0o644); err != nil {
		t.Fatal(err)
	}
	return Config{
		BuildDir:    dir,
		SitemapPath: sitemapPath,
		Origin:      "https://example.com",
		Port:        0,
		Settle:      10 * time.Millisecond,
	}
}

func readTitle(t *testing.T, path string) string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open snapshot: %v", err)
	}
	defer f.Close()
	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		t.Fatalf("parse snapshot: %v", err)
	}
	return doc.Find("#root h1").Text()
}

func TestRunWritesSnapshots(t *testing.T) {
	cfg := setupRun(t)
	fb := &fakeBrowser{}

	results, err := New(cfg, fb.launcher(), testLogger()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("got %d results, want 4", len(results))
	}

	want := map[string]string{
		"index.html":                  "Home",
		"blog/index.html":             "Blog",
		"blog/hello-world/index.html": "Hello World",
		"blog/second-post/index.html": "Second Post",
	}
	for file, title := range want {
		if got := readTitle(t, filepath.Join(cfg.BuildDir, filepath.FromSlash(file))); got != title {
			t.Errorf("%s title = %q, want %q", file, got, title)
		}
	}

	// Sequential, in discovery order, with the bot user agent and root selector.
	wantOrder := []string{"/", "/blog", "/blog/hello-world", "/blog/second-post"}
	for i, req := range fb.requests {
		if !strings.HasSuffix(req.URL, wantOrder[i]) {
			t.Errorf("request %d = %s, want route %s", i, req.URL, wantOrder[i])
		}
		if req.UserAgent != BotUserAgent || req.RootSelector != DefaultRootSelector {
			t.Errorf("request %d has user agent %q and selector %q", i, req.UserAgent, req.RootSelector)
		}
		if req.Timeout != RouteTimeout(wantOrder[i]) {
			t.Errorf("request %d timeout = %s", i, req.Timeout)
		}
	}
	if results[2].Title != "Hello World" {
		t.Errorf("results[2].Title = %q", results[2].Title)
	}
	if !fb.closed {
		t.Error("browser was not closed")
	}
	assertServerStopped(t, fb.baseURL)
}

func TestRunWithoutSitemap(t *testing.T) {
	cfg := setupRun(t)
	cfg.SitemapPath = filepath.Join(t.TempDir(), "missing.xml")
	fb := &fakeBrowser{}

	results, err := New(cfg, fb.launcher(), testLogger()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(results) != 2 || results[0].Route != "/" || results[1].Route != "/blog" {
		t.Errorf("results = %+v, want / and /blog", results)
	}
}

func TestRunAbortsOnFirstFailure(t *testing.T) {
	cfg := setupRun(t)
	fb := &fakeBrowser{fail: map[string]error{"/blog/hello-world": ErrRenderTimeout}}

	results, err := New(cfg, fb.launcher(), testLogger()).Run(context.Background())
	if !errors.Is(err, ErrRenderTimeout) {
		t.Fatalf("Run() error = %v, want ErrRenderTimeout", err)
	}
	var rerr *RouteError
	if !errors.As(err, &rerr) || rerr.Route != "/blog/hello-world" {
		t.Errorf("Run() error = %v, want RouteError for /blog/hello-world", err)
	}
	if len(results) != 2 {
		t.Errorf("got %d results, want 2 before the failure", len(results))
	}
	if len(fb.requests) != 3 {
		t.Errorf("made %d render requests, want 3 (no routes after the failure)", len(fb.requests))
	}
	if _, err := os.Stat(filepath.Join(cfg.BuildDir, "blog", "second-post", "index.html")); !os.IsNotExist(err) {
		t.Error("route after the failure should not be rendered")
	}
	if !fb.closed {
		t.Error("browser was not closed after failure")
	}
	assertServerStopped(t, fb.baseURL)
}

func TestRunKeepGoing(t *testing.T) {
	cfg := setupRun(t)
	cfg.KeepGoing = true
	fb := &fakeBrowser{fail: map[string]error{
		"/blog":             errors.New("boom"),
		"/blog/hello-world": ErrRenderTimeout,
	}}

	results, err := New(cfg, fb.launcher(), testLogger()).Run(context.Background())
	if err == nil {
		t.Fatal("Run() should report failures")
	}
	if !errors.Is(err, ErrRenderTimeout) {
		t.Errorf("Run() error = %v, want it to include ErrRenderTimeout", err)
	}
	if len(results) != 2 {
		t.Errorf("got %d results, want 2", len(results))
	}
	if len(fb.requests) != 4 {
		t.Errorf("made %d render requests, want 4", len(fb.requests))
	}
}

func TestRunLaunchFailureReleasesServer(t *testing.T) {
	cfg := setupRun(t)
	launchErr := errors.New("chrome not found")

	_, err := New(cfg, func(ctx context.Context) (Browser, error) {
		return nil, launchErr
	}, testLogger()).Run(context.Background())
	if !errors.Is(err, launchErr) {
		t.Fatalf("Run() error = %v, want %v", err, launchErr)
	}
}

func TestRunCancelled(t *testing.T) {
	cfg := setupRun(t)
	fb := &fakeBrowser{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(cfg, fb.launcher(), testLogger()).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if !fb.closed {
		t.Error("browser was not closed after cancellation")
	}
}

func TestRunMissingBuild(t *testing.T) {
	cfg := setupRun(t)
	cfg.BuildDir = filepath.Join(t.TempDir(), "dist")
	launched := false

	_, err := New(cfg, func(ctx context.Context) (Browser, error) {
		launched = true
		return &fakeBrowser{}, nil
	}, testLogger()).Run(context.Background())
	if err == nil {
		t.Fatal("Run() should fail without a build")
	}
	if launched {
		t.Error("browser should not be launched when the server cannot start")
	}
}

func assertServerStopped(t *testing.T, baseURL string) {
	t.Helper()
	if baseURL == "" {
		t.Fatal("no requests reached the browser")
	}
	client := &http.Client{Timeout: time.Second}
	resp, err := client.Get(baseURL + "/")
	if err == nil {
		_ = resp.Body.Close()
		t.Error("static server still accepting requests after Run")
	}
}

func TestInspect(t *testing.T) {
	tests := []struct {
		name      string
		markup    string
		wantTitle string
		wantEmpty bool
	}{
		{
			name:      "rendered",
			markup:    `<html><head><title> Hello World </title></head><body><div id="root"><h1>Hello</h1></div></body></html>`,
			wantTitle: "Hello World",
		},
		{
			name:      "text only root",
			markup:    `<html><body><div id="root">Loading…</div></body></html>`,
			wantEmpty: false,
		},
		{
			name:      "empty root",
			markup:    `<html><head><title>App</title></head><body><div id="root">  </div></body></html>`,
			wantTitle: "App",
			wantEmpty: true,
		},
		{
			name:      "only a comment",
			markup:    `<html><body><div id="root"><!--app--></div></body></html>`,
			wantEmpty: true,
		},
		{
			name:      "missing root",
			markup:    `<html><body><p>nothing</p></body></html>`,
			wantEmpty: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Inspect(tt.markup, DefaultRootSelector)
			if err != nil {
				t.Fatalf("Inspect() error = %v", err)
			}
			if got.Title != tt.wantTitle || got.RootEmpty != tt.wantEmpty {
				t.Errorf("Inspect() = %+v, want title %q empty %v", got, tt.wantTitle, tt.wantEmpty)
			}
		})
	}
}
