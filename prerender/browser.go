package prerender

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// BotUserAgent identifies prerender traffic so the app can tell it apart from visitors.
const BotUserAgent = "Mozilla/5.0 (compatible; LaunchsitePrerender/1.0; +headless-chrome)"

// Request describes one page render.
type Request struct {
	URL          string
	RootSelector string        // Element that must exist before capture
	UserAgent    string
	Timeout      time.Duration // Bound on navigation, network idle and root mount
	Settle       time.Duration // Pause after the root appears for deferred effects; not counted in Timeout
}

// Browser renders a URL into fully resolved markup.
type Browser interface {
	Render(ctx context.Context, req Request) (string, error)
	Close() error
}

// ErrRenderTimeout is returned when navigation, network idle or the root mount
// element does not complete within the request timeout.
var ErrRenderTimeout = errors.New("render timed out")

// ChromeOptions configures the headless Chrome process.
type ChromeOptions struct {
	ExecPath  string // Empty lets chromedp find Chrome on PATH
	NoSandbox bool
}

// Chrome is a Browser backed by a headless Chrome process driven over the DevTools protocol.
type Chrome struct {
	ctx         context.Context
	cancelAlloc context.CancelFunc
	cancelCtx   context.CancelFunc
	logger      *slog.Logger
	closeOnce   sync.Once
	closeErr    error
}

// LaunchChrome starts headless Chrome. The caller must Close it.
func LaunchChrome(ctx context.Context, opts ChromeOptions, logger *slog.Logger) (*Chrome, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}
	if opts.NoSandbox {
		allocOpts = append(allocOpts, chromedp.NoSandbox)
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	browserCtx, cancelCtx := chromedp.NewContext(allocCtx, chromedp.WithErrorf(func(format string, args ...any) {
		logger.Debug("Chrome protocol error", "message", fmt.Sprintf(format, args...))
	}))

	// The first Run starts the browser process.
	if err := chromedp.Run(browserCtx); err != nil {
		cancelCtx()
		cancelAlloc()
		return nil, fmt.Errorf("start chrome: %w", err)
	}

	logger.Info("Headless Chrome started")
	return &Chrome{
		ctx:         browserCtx,
		cancelAlloc: cancelAlloc,
		cancelCtx:   cancelCtx,
		logger:      logger,
	}, nil
}

// Render opens a tab, navigates, waits for network idle and the root element,
// pauses for req.Settle and returns the document markup.
func (c *Chrome) Render(ctx context.Context, req Request) (string, error) {
	tabCtx, cancelTab := chromedp.NewContext(c.ctx)
	defer cancelTab()
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	waitCtx, cancelWait := context.WithTimeout(tabCtx, req.Timeout+req.Settle)
	defer cancelWait()

	idle := make(chan struct{}, 1)
	chromedp.ListenTarget(tabCtx, func(ev any) {
		if e, ok := ev.(*page.EventLifecycleEvent); ok && e.Name == "networkIdle" {
			select {
			case idle <- struct{}{}:
			default:
			}
		}
	})

	var markup string
	err := chromedp.Run(waitCtx,
		emulation.SetUserAgentOverride(req.UserAgent),
		page.SetLifecycleEventsEnabled(true),
		chromedp.ActionFunc(func(context.Context) error {
			select {
			case <-idle:
			default:
			}
			return nil
		}),
		chromedp.Navigate(req.URL),
		chromedp.ActionFunc(func(ctx context.Context) error {
			select {
			case <-idle:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}),
		chromedp.WaitReady(req.RootSelector, chromedp.ByQuery),
		chromedp.Sleep(req.Settle),
		chromedp.OuterHTML("html", &markup, chromedp.ByQuery),
	)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) || waitCtx.Err() != nil {
			return "", fmt.Errorf("%w after %s: %s", ErrRenderTimeout, req.Timeout, req.URL)
		}
		return "", fmt.Errorf("render %s: %w", req.URL, err)
	}
	return "<!DOCTYPE html>" + markup, nil
}

// Close stops the browser process. Safe to call more than once.
func (c *Chrome) Close() error {
	c.closeOnce.Do(func() {
		err := chromedp.Cancel(c.ctx)
		c.cancelCtx()
		c.cancelAlloc()
		if err != nil && !errors.Is(err, context.Canceled) {
			c.closeErr = fmt.Errorf("stop chrome: %w", err)
			return
		}
		c.logger.Info("Headless Chrome stopped")
	})
	return c.closeErr
}
