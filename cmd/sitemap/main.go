// Command sitemap writes the site's sitemap.xml from the static routes and the
// posts in the data store. Data store problems only cost the post entries; the
// command fails only when the file cannot be written.
package main

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"launchsite/config"
	"launchsite/posts"
	"launchsite/sitemap"
)

var (
	configFile string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "sitemap",
	Short: "Generate sitemap.xml for the launch site",
	Long: `sitemap queries the hosted data store for post slugs and timestamps,
merges them with the static routes and overwrites the sitemap file.

Without data store credentials (SUPABASE_URL / SUPABASE_ANON_KEY) only the
static routes are written.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runSitemap,
}

func init() {
	rootCmd.Flags().StringVar(&configFile, "config", "", "env file (default is ./.env when present)")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		newLogger(os.Stderr).Error("Sitemap generation failed", "error", err)
		os.Exit(1)
	}
}

func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func runSitemap(cmd *cobra.Command, _ []string) error {
	logger := newLogger(cmd.ErrOrStderr())

	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var lister sitemap.Lister
	src, err := posts.Open(posts.Options{
		URL:        cfg.SupabaseURL,
		Key:        cfg.SupabaseKey,
		Table:      cfg.PostsTable,
		SQLitePath: cfg.PostsSQLite,
	}, logger)
	switch {
	case errors.Is(err, posts.ErrNotConfigured):
	case err != nil:
		logger.Warn("Post source unavailable", "error", err)
	default:
		defer func() {
			if closeErr := src.Close(); closeErr != nil {
				logger.Warn("Failed to close post source", "error", closeErr)
			}
		}()
		lister = src
	}

	_, err = sitemap.New(lister, cfg.SiteOrigin, cfg.SitemapOutput, logger).Generate(ctx)
	return err
}
