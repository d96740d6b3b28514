// Package site contains the core domain types shared by the sitemap, prerender and preview tools.
package site

import (
	"strings"
	"time"
)

// Route paths that always exist in the built application.
const (
	HomePath   = "/"
	BlogPath   = "/blog"
	blogPrefix = "/blog/"
)

// ChangeFreq is the sitemap hint for how often a route changes.
type ChangeFreq string

const (
	ChangeDaily   ChangeFreq = "daily"
	ChangeWeekly  ChangeFreq = "weekly"
	ChangeMonthly ChangeFreq = "monthly"
)

// Post is a blog post record as stored in the hosted data store.
// The tooling only ever reads it.
type Post struct {
	CreatedAt *time.Time `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at"`
	Slug      string     `json:"slug"`
}

// LastModified returns UpdatedAt, falling back to CreatedAt. Nil when neither is set.
func (p *Post) LastModified() *time.Time {
	if p.UpdatedAt != nil {
		return p.UpdatedAt
	}
	return p.CreatedAt
}

// Route is one entry of the sitemap.
type Route struct {
	LastModified *time.Time
	Path         string
	ChangeFreq   ChangeFreq
	Priority     float64
}

// StaticRoutes returns the fixed routes, home first.
func StaticRoutes() []Route {
	return []Route{
		{Path: HomePath, ChangeFreq: ChangeWeekly, Priority: 1.0},
		{Path: BlogPath, ChangeFreq: ChangeWeekly, Priority: 0.9},
	}
}

// PostRoute returns the blog detail route for a post.
func PostRoute(p *Post) Route {
	return Route{
		Path:         PostPath(p.Slug),
		LastModified: p.LastModified(),
		ChangeFreq:   ChangeMonthly,
		Priority:     0.8,
	}
}

// PostPath returns the blog detail path for a slug.
func PostPath(slug string) string {
	return blogPrefix + slug
}

// IsBlogDetail reports whether path addresses a single post rather than the blog index.
func IsBlogDetail(path string) bool {
	return strings.HasPrefix(path, blogPrefix) && path != BlogPath && len(path) > len(blogPrefix)
}
