package prerender

import (
	"errors"
	"fmt"
	"html"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"launchsite/pkg/site"
)

// Root mount wait per route kind. Blog detail pages fetch their post before
// rendering, so they get longer.
const (
	staticRouteTimeout = 15 * time.Second
	detailRouteTimeout = 30 * time.Second
)

var locRegex = regexp.MustCompile(`(?is)<loc>\s*(.*?)\s*</loc>`)

// FallbackRoutes are rendered even when the sitemap is missing or unreadable.
func FallbackRoutes() []string {
	return []string{site.HomePath, site.BlogPath}
}

// DiscoverRoutes scans a sitemap document for <loc> values and returns the
// fallback routes followed by every blog detail path, without duplicates.
// The scan is deliberately tolerant: anything that is not a <loc> is ignored.
func DiscoverRoutes(doc []byte, origin string) []string {
	origin = strings.TrimRight(origin, "/")
	routes := FallbackRoutes()
	seen := map[string]bool{}
	for _, r := range routes {
		seen[r] = true
	}

	for _, m := range locRegex.FindAllSubmatch(doc, -1) {
		p := pathFromLoc(html.UnescapeString(string(m[1])), origin)
		if !site.IsBlogDetail(p) || seen[p] {
			continue
		}
		seen[p] = true
		routes = append(routes, p)
	}
	return routes
}

// ReadRoutes discovers routes from the sitemap at path, falling back to the
// static routes when it cannot be read.
func ReadRoutes(path, origin string, logger *slog.Logger) []string {
	doc, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("Sitemap unreadable, rendering fallback routes only", "path", path, "error", err)
		return FallbackRoutes()
	}
	routes := DiscoverRoutes(doc, origin)
	logger.Info("Routes discovered", "path", path, "route_count", len(routes))
	return routes
}

func pathFromLoc(loc, origin string) string {
	p := strings.TrimPrefix(loc, origin)
	if p == loc && strings.Contains(loc, "://") {
		// Different origin: keep only the path component.
		rest := loc[strings.Index(loc, "://")+3:]
		if i := strings.Index(rest, "/"); i >= 0 {
			p = rest[i:]
		} else {
			p = "/"
		}
	}
	return normalizeRoutePath(p)
}

// normalizeRoutePath ensures a leading slash and strips a trailing one (except for root).
func normalizeRoutePath(p string) string {
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if p != "/" && strings.HasSuffix(p, "/") {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}

// ValidateRoutePath rejects paths that cannot safely be mapped onto the build directory.
func ValidateRoutePath(p string) error {
	if p == "" {
		return errors.New("path cannot be empty")
	}
	if !strings.HasPrefix(p, "/") {
		return errors.New("path must start with /")
	}
	if strings.Contains(p, "?") {
		return errors.New("path cannot contain query string")
	}
	if strings.Contains(p, "#") {
		return errors.New("path cannot contain fragment")
	}
	if slices.Contains(strings.Split(p, "/"), "..") {
		return errors.New("path cannot contain parent directory references")
	}
	if strings.Contains(p, "*") {
		return errors.New("path cannot contain wildcards")
	}
	return nil
}

// OutputPath maps a route onto its snapshot file: "/" becomes index.html at the
// build root, anything else <route>/index.html.
func OutputPath(buildDir, route string) (string, error) {
	route = normalizeRoutePath(route)
	if err := ValidateRoutePath(route); err != nil {
		return "", fmt.Errorf("invalid route %q: %w", route, err)
	}
	if route == site.HomePath {
		return filepath.Join(buildDir, "index.html"), nil
	}
	parts := strings.Split(strings.TrimPrefix(route, "/"), "/")
	dir := buildDir
	for _, part := range parts {
		if part != "" {
			dir = filepath.Join(dir, part)
		}
	}
	return filepath.Join(dir, "index.html"), nil
}

// RouteTimeout returns how long to wait for the root mount element on route.
func RouteTimeout(route string) time.Duration {
	if site.IsBlogDetail(route) {
		return detailRouteTimeout
	}
	return staticRouteTimeout
}
