// Package browser drives the iCloud Hide My Email page through Chrome.
package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/hme-tools/hme/internal/config"
)

// Options holds Chrome launch settings
type Options struct {
	Headless     bool
	ExecPath     string
	UserAgent    string
	WindowWidth  int
	WindowHeight int
}

// DefaultOptions returns sensible default launch settings
func DefaultOptions() Options {
	return OptionsFromConfig(config.Defaults().Browser)
}

// OptionsFromConfig converts the browser config section.
func OptionsFromConfig(cfg config.Browser) Options {
	return Options{
		ExecPath:     cfg.ChromePath,
		UserAgent:    cfg.UserAgent,
		WindowWidth:  cfg.WindowWidth,
		WindowHeight: cfg.WindowHeight,
	}
}

// Browser wraps one chromedp allocator and its first tab
type Browser struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc
	opts        Options
	log         *zap.Logger
}

// New launches Chrome and opens a tab.
func New(opts Options, log *zap.Logger) (*Browser, error) {
	if log == nil {
		log = zap.NewNop()
	}
	b := &Browser{log: log}
	if err := b.launch(opts); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Browser) launch(opts Options) error {
	execOpts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.DisableGPU,
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(opts.UserAgent),
		chromedp.WindowSize(opts.WindowWidth, opts.WindowHeight),
	}
	if opts.Headless {
		execOpts = append(execOpts, chromedp.Headless)
	}
	if opts.ExecPath != "" {
		execOpts = append(execOpts, chromedp.ExecPath(opts.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), execOpts...)
	ctx, cancel := chromedp.NewContext(allocCtx)

	// Run with no actions starts the browser so launch failures surface here.
	startCtx, startCancel := context.WithTimeout(ctx, 30*time.Second)
	defer startCancel()
	if err := chromedp.Run(startCtx); err != nil {
		cancel()
		allocCancel()
		return fmt.Errorf("failed to start chrome: %w", err)
	}

	b.allocCtx, b.allocCancel = allocCtx, allocCancel
	b.ctx, b.cancel = ctx, cancel
	b.opts = opts
	b.log.Info("browser started", zap.Bool("headless", opts.Headless))
	return nil
}

// Relaunch closes the current browser and starts a new one, headless or not.
func (b *Browser) Relaunch(headless bool) error {
	b.Close()
	opts := b.opts
	opts.Headless = headless
	return b.launch(opts)
}

// Context is the tab context. Actions derive timeouts from it.
func (b *Browser) Context() context.Context { return b.ctx }

// Headless reports whether the running browser is headless.
func (b *Browser) Headless() bool { return b.opts.Headless }

// Close cleans up browser resources
func (b *Browser) Close() {
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	if b.allocCancel != nil {
		b.allocCancel()
		b.allocCancel = nil
	}
}
