// Package prerender renders every known route of the built single-page app in a
// headless browser and writes the resulting markup next to the bundle, so
// crawlers get fully rendered pages.
package prerender

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
)

// DefaultRootSelector is the app's root mount element.
const DefaultRootSelector = "#root"

// Config controls a prerender run.
type Config struct {
	BuildDir     string
	SitemapPath  string
	Origin       string // Site origin stripped from sitemap <loc> values
	RootSelector string
	UserAgent    string
	Port         int
	Settle       time.Duration
	KeepGoing    bool // Render every route and report all failures instead of stopping at the first
}

// Launcher starts a Browser. It is called once per run.
type Launcher func(ctx context.Context) (Browser, error)

// RouteError records which route failed.
type RouteError struct {
	Err   error
	Route string
}

func (e *RouteError) Error() string {
	return fmt.Sprintf("route %s: %v", e.Route, e.Err)
}

func (e *RouteError) Unwrap() error {
	return e.Err
}

// Result describes one written snapshot.
type Result struct {
	Route    string
	File     string
	Title    string
	Bytes    int
	Duration time.Duration
}

// Prerenderer renders routes one after another.
type Prerenderer struct {
	launch Launcher
	logger *slog.Logger
	cfg    Config
}

// New creates a prerenderer.
func New(cfg Config, launch Launcher, logger *slog.Logger) *Prerenderer {
	if cfg.RootSelector == "" {
		cfg.RootSelector = DefaultRootSelector
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = BotUserAgent
	}
	return &Prerenderer{launch: launch, logger: logger, cfg: cfg}
}

// Run serves the build directory, renders every discovered route and writes the
// snapshots. The server and browser are released on every return path.
func (p *Prerenderer) Run(ctx context.Context) (results []Result, err error) {
	routes := ReadRoutes(p.cfg.SitemapPath, p.cfg.Origin, p.logger)

	srv, err := StartStaticServer(p.cfg.BuildDir, p.cfg.Port, p.logger)
	if err != nil {
		return nil, fmt.Errorf("start static server: %w", err)
	}
	defer func() {
		if closeErr := srv.Close(); closeErr != nil {
			p.logger.Warn("Failed to stop static server", "error", closeErr)
		}
	}()

	browser, err := p.launch(ctx)
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	defer func() {
		if closeErr := browser.Close(); closeErr != nil {
			p.logger.Warn("Failed to stop browser", "error", closeErr)
		}
	}()

	start := time.Now()
	var failures []error
	for _, route := range routes {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := p.renderRoute(ctx, browser, srv.URL(), route)
		if err != nil {
			rerr := &RouteError{Route: route, Err: err}
			if !p.cfg.KeepGoing {
				return results, rerr
			}
			p.logger.Error("Route failed, continuing", "route", route, "error", err)
			failures = append(failures, rerr)
			continue
		}
		results = append(results, res)
	}

	var total uint64
	for _, r := range results {
		total += uint64(r.Bytes)
	}
	p.logger.Info("Prerender completed",
		"routes", len(routes),
		"written", len(results),
		"failed", len(failures),
		"total_size", humanize.Bytes(total),
		"duration_ms", time.Since(start).Milliseconds())

	return results, errors.Join(failures...)
}

func (p *Prerenderer) renderRoute(ctx context.Context, browser Browser, baseURL, route string) (Result, error) {
	file, err := OutputPath(p.cfg.BuildDir, route)
	if err != nil {
		return Result{}, err
	}

	start := time.Now()
	markup, err := browser.Render(ctx, Request{
		URL:          baseURL + route,
		RootSelector: p.cfg.RootSelector,
		UserAgent:    p.cfg.UserAgent,
		Timeout:      RouteTimeout(route),
		Settle:       p.cfg.Settle,
	})
	if err != nil {
		return Result{}, err
	}

	summary, err := Inspect(markup, p.cfg.RootSelector)
	if err != nil {
		return Result{}, err
	}
	if summary.RootEmpty {
		p.logger.Warn("Root element rendered no content", "route", route)
	}

	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return Result{}, fmt.Errorf("create snapshot directory: %w", err)
	}
	if err := os.WriteFile(file, []byte(markup), 0o644); err != nil {
		return Result{}, fmt.Errorf("write snapshot: %w", err)
	}

	res := Result{
		Route:    route,
		File:     file,
		Title:    summary.Title,
		Bytes:    len(markup),
		Duration: time.Since(start),
	}
	p.logger.Info("Route rendered",
		"route", route,
		"file", file,
		"title", res.Title,
		"size", humanize.Bytes(uint64(res.Bytes)),
		"duration_ms", res.Duration.Milliseconds())
	return res, nil
}
