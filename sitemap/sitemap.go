// Package sitemap builds the sitemap document from the static routes and the
// posts held by the data store.
package sitemap

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"launchsite/pkg/site"
)

const (
	xmlHeader = `<?xml version="1.0" encoding="UTF-8"?>`
	xmlns     = "http://www.sitemaps.org/schemas/sitemap/0.9"
	dateOnly  = "2006-01-02"
)

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

// Escape replaces the five reserved XML characters with entity references.
func Escape(s string) string {
	return xmlEscaper.Replace(s)
}

// Lister returns posts, most recently modified first.
type Lister interface {
	List(ctx context.Context) ([]*site.Post, error)
}

// BuildRoutes merges the static routes with one route per post. Posts with an
// empty slug are skipped and the first occurrence of a path wins.
func BuildRoutes(posts []*site.Post) []site.Route {
	routes := site.StaticRoutes()
	seen := make(map[string]bool, len(routes)+len(posts))
	for _, r := range routes {
		seen[r.Path] = true
	}
	for _, p := range posts {
		if p == nil || strings.TrimSpace(p.Slug) == "" {
			continue
		}
		r := site.PostRoute(p)
		if seen[r.Path] {
			continue
		}
		seen[r.Path] = true
		routes = append(routes, r)
	}
	return routes
}

// Render writes the sitemap document for routes under origin.
func Render(origin string, routes []site.Route) []byte {
	origin = strings.TrimRight(origin, "/")

	var b bytes.Buffer
	b.WriteString(xmlHeader + "\n")
	b.WriteString(`<urlset xmlns="` + xmlns + `">` + "\n")
	for _, r := range routes {
		b.WriteString("  <url>\n")
		b.WriteString("    <loc>" + Escape(origin+r.Path) + "</loc>\n")
		if r.LastModified != nil {
			b.WriteString("    <lastmod>" + r.LastModified.UTC().Format(dateOnly) + "</lastmod>\n")
		}
		b.WriteString("    <changefreq>" + string(r.ChangeFreq) + "</changefreq>\n")
		b.WriteString("    <priority>" + strconv.FormatFloat(r.Priority, 'f', 1, 64) + "</priority>\n")
		b.WriteString("  </url>\n")
	}
	b.WriteString("</urlset>\n")
	return b.Bytes()
}

// Generator produces the sitemap file.
type Generator struct {
	lister Lister
	logger *slog.Logger
	origin string
	output string
}

// New creates a generator. A nil lister means the data store is not configured
// and only the static routes are written.
func New(lister Lister, origin, output string, logger *slog.Logger) *Generator {
	return &Generator{
		lister: lister,
		logger: logger,
		origin: origin,
		output: output,
	}
}

// Generate writes the sitemap and returns the number of URLs written.
// Data store problems are logged and treated as zero posts; only failures
// to write the output are returned.
func (g *Generator) Generate(ctx context.Context) (int, error) {
	posts := g.fetchPosts(ctx)
	routes := BuildRoutes(posts)
	doc := Render(g.origin, routes)

	if err := os.MkdirAll(filepath.Dir(g.output), 0o755); err != nil {
		return 0, fmt.Errorf("create output directory: %w", err)
	}
	if err := os.WriteFile(g.output, doc, 0o644); err != nil {
		return 0, fmt.Errorf("write sitemap: %w", err)
	}

	g.logger.Info("Sitemap written",
		"path", g.output,
		"url_count", len(routes),
		"post_count", len(routes)-len(site.StaticRoutes()))
	return len(routes), nil
}

func (g *Generator) fetchPosts(ctx context.Context) []*site.Post {
	if g.lister == nil {
		g.logger.Warn("Data store credentials missing, writing static routes only")
		return nil
	}
	posts, err := g.lister.List(ctx)
	if err != nil {
		g.logger.Warn("Post query failed, writing static routes only", "error", err)
		return nil
	}
	return posts
}
