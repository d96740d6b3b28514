// Package config loads settings for the build tools and the preview server from
// the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultEnvFile is read from the working directory when present.
const DefaultEnvFile = ".env"

// Config holds every setting. Field comments name the environment variable.
type Config struct {
	LaunchAt time.Time // LAUNCH_AT (RFC 3339)

	SiteOrigin  string // SITE_ORIGIN
	SupabaseURL string // SUPABASE_URL or VITE_SUPABASE_URL
	SupabaseKey string // SUPABASE_ANON_KEY or VITE_SUPABASE_ANON_KEY
	PostsTable  string // POSTS_TABLE
	PostsSQLite string // POSTS_SQLITE

	SitemapOutput string // SITEMAP_OUTPUT
	BuildDir      string // BUILD_DIR

	ChromePath         string        // CHROME_PATH
	PrerenderPort      int           // PRERENDER_PORT
	PrerenderSettle    time.Duration // PRERENDER_SETTLE
	PrerenderKeepGoing bool          // PRERENDER_KEEP_GOING
	ChromeNoSandbox    bool          // CHROME_NO_SANDBOX

	PublishBucket      string // PUBLISH_BUCKET
	PublishPrefix      string // PUBLISH_PREFIX
	PublishDir         string // PUBLISH_DIR
	PublishCredentials string // GOOGLE_CREDENTIALS_JSON

	Port string // PORT

	launchErr error
}

func defaults(v *viper.Viper) {
	v.SetDefault("site_origin", "https://example.com")
	v.SetDefault("posts_table", "posts")
	v.SetDefault("sitemap_output", "public/sitemap.xml")
	v.SetDefault("build_dir", "dist")
	v.SetDefault("prerender_port", 45678)
	v.SetDefault("prerender_settle", "2s")
	v.SetDefault("prerender_keep_going", false)
	v.SetDefault("chrome_no_sandbox", false)
	v.SetDefault("launch_at", "2026-12-01T09:00:00Z")
	v.SetDefault("port", "8080")
}

// Load reads configuration. Environment variables win over the env file, which
// wins over defaults. An empty file means DefaultEnvFile if it exists; a named
// file that does not exist is an error. Load checks only SITE_ORIGIN; settings
// owned by one tool are checked by ValidatePrerender and ValidateServer.
func Load(file string) (*Config, error) {
	v := viper.New()
	defaults(v)
	v.AutomaticEnv()

	explicit := file != ""
	if !explicit {
		file = DefaultEnvFile
	}
	if _, err := os.Stat(file); err == nil {
		v.SetConfigFile(file)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	} else if explicit {
		return nil, fmt.Errorf("read config %s: %w", file, err)
	}

	launchAt, launchErr := time.Parse(time.RFC3339, strings.TrimSpace(v.GetString("launch_at")))
	if launchErr != nil {
		launchErr = fmt.Errorf("parse LAUNCH_AT: %w", launchErr)
	}

	cfg := &Config{
		LaunchAt:           launchAt,
		SiteOrigin:         strings.TrimRight(v.GetString("site_origin"), "/"),
		SupabaseURL:        firstNonEmpty(v.GetString("supabase_url"), v.GetString("vite_supabase_url")),
		SupabaseKey:        firstNonEmpty(v.GetString("supabase_anon_key"), v.GetString("vite_supabase_anon_key")),
		PostsTable:         v.GetString("posts_table"),
		PostsSQLite:        v.GetString("posts_sqlite"),
		SitemapOutput:      v.GetString("sitemap_output"),
		BuildDir:           v.GetString("build_dir"),
		ChromePath:         v.GetString("chrome_path"),
		PrerenderPort:      v.GetInt("prerender_port"),
		PrerenderSettle:    v.GetDuration("prerender_settle"),
		PrerenderKeepGoing: v.GetBool("prerender_keep_going"),
		ChromeNoSandbox:    v.GetBool("chrome_no_sandbox"),
		PublishBucket:      v.GetString("publish_bucket"),
		PublishPrefix:      strings.Trim(v.GetString("publish_prefix"), "/"),
		PublishDir:         v.GetString("publish_dir"),
		PublishCredentials: v.GetString("google_credentials_json"),
		Port:               v.GetString("port"),
		launchErr:          launchErr,
	}
	if !strings.HasPrefix(cfg.SiteOrigin, "http://") && !strings.HasPrefix(cfg.SiteOrigin, "https://") {
		return nil, fmt.Errorf("SITE_ORIGIN must be an http(s) URL, got %q", cfg.SiteOrigin)
	}
	return cfg, nil
}

// ValidateServer checks the settings the preview server reads.
func (c *Config) ValidateServer() error {
	return c.launchErr
}

// ValidatePrerender checks the settings the prerender command and its publish
// step read.
func (c *Config) ValidatePrerender() error {
	if c.PrerenderPort < 0 || c.PrerenderPort > 65535 {
		return fmt.Errorf("PRERENDER_PORT out of range: %d", c.PrerenderPort)
	}
	if c.PrerenderSettle < 0 {
		return errors.New("PRERENDER_SETTLE cannot be negative")
	}
	if c.PublishBucket != "" && c.PublishDir != "" {
		return errors.New("set PUBLISH_BUCKET or PUBLISH_DIR, not both")
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, s := range values {
		if s != "" {
			return s
		}
	}
	return ""
}
