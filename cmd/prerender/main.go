// Command prerender serves the built site locally, renders every route from
// sitemap.xml in headless Chrome and writes the snapshots into the build
// directory. With PUBLISH_BUCKET or PUBLISH_DIR set the finished build is then
// mirrored there.
package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"launchsite/config"
	"launchsite/prerender"
	"launchsite/publish"
)

var (
	configFile string
	verbose    bool
	keepGoing  bool
	noPublish  bool
)

var rootCmd = &cobra.Command{
	Use:   "prerender",
	Short: "Render every route of the built site to static HTML",
	Long: `prerender discovers routes from <build>/sitemap.xml (falling back to / and
/blog), serves the build directory on a local port and captures each route in
headless Chrome as <route>/index.html.

By default the first failing route aborts the run. --keep-going renders every
route and reports all failures; the exit status is still non-zero.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runPrerender,
}

func init() {
	rootCmd.Flags().StringVar(&configFile, "config", "", "env file (default is ./.env when present)")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.Flags().BoolVar(&keepGoing, "keep-going", false, "Render all routes even after a failure (overrides PRERENDER_KEEP_GOING)")
	rootCmd.Flags().BoolVar(&noPublish, "no-publish", false, "Skip the publish step")
}

// launcher starts the browser; replaced in tests.
var launcher = func(cfg *config.Config, logger *slog.Logger) prerender.Launcher {
	return func(ctx context.Context) (prerender.Browser, error) {
		chrome, err := prerender.LaunchChrome(ctx, prerender.ChromeOptions{
			ExecPath:  cfg.ChromePath,
			NoSandbox: cfg.ChromeNoSandbox,
		}, logger)
		if err != nil {
			return nil, err
		}
		return chrome, nil
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		newLogger(os.Stderr).Error("Prerender failed", "error", err)
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

func runPrerender(cmd *cobra.Command, _ []string) error {
	logger := newLogger(cmd.ErrOrStderr())

	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if err := cfg.ValidatePrerender(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := prerender.New(prerender.Config{
		BuildDir:    cfg.BuildDir,
		SitemapPath: filepath.Join(cfg.BuildDir, "sitemap.xml"),
		Origin:      cfg.SiteOrigin,
		Port:        cfg.PrerenderPort,
		Settle:      cfg.PrerenderSettle,
		KeepGoing:   cfg.PrerenderKeepGoing || keepGoing,
	}, launcher(cfg, logger), logger)

	if _, err := p.Run(ctx); err != nil {
		return err
	}

	if noPublish {
		return nil
	}
	return publishBuild(ctx, cfg, logger)
}

func publishBuild(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	switch {
	case cfg.PublishDir != "":
		_, err := publish.New(nil, "", cfg.PublishPrefix, cfg.PublishDir, logger).Mirror(ctx, cfg.BuildDir)
		return err
	case cfg.PublishBucket != "":
		client, err := publish.NewClient(ctx, cfg.PublishCredentials)
		if err != nil {
			return err
		}
		defer func() {
			if err := client.Close(); err != nil {
				logger.Warn("Failed to close storage client", "error", err)
			}
		}()
		_, err = publish.New(client, cfg.PublishBucket, cfg.PublishPrefix, "", logger).Mirror(ctx, cfg.BuildDir)
		return err
	default:
		logger.Debug("No publish destination configured")
		return nil
	}
}
