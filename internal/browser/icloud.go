package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/hme-tools/hme/internal/config"
	"github.com/hme-tools/hme/internal/ui"
)

// Session walks the iCloud+ pages: login, opening Hide My Email, resets
// and the headless switch.
type Session struct {
	browser *Browser
	sel     config.Selectors
	timing  config.Timing
	out     io.Writer
	log     *zap.Logger

	page        *HideMyEmail
	frameCancel context.CancelFunc
}

// NewSession creates a Session on b. Progress messages go to out.
func NewSession(b *Browser, cfg *config.Config, out io.Writer, log *zap.Logger) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{
		browser: b,
		sel:     cfg.Selectors,
		timing:  cfg.Timing,
		out:     out,
		log:     log,
		page:    newHideMyEmail(cfg.Selectors, cfg.Timing, log),
	}
}

// Page is the Hide My Email list. It stays valid across resets.
func (s *Session) Page() *HideMyEmail { return s.page }

// Close releases the frame binding and the browser.
func (s *Session) Close() {
	s.detach()
	s.browser.Close()
}

func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(s.browser.Context(), timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (s *Session) poll(ctx context.Context, timeout time.Duration, expression string) error {
	return s.run(ctx, timeout+time.Second, chromedp.Poll(expression, nil,
		chromedp.WithPollingInterval(pollInterval),
		chromedp.WithPollingTimeout(timeout)))
}

// Login opens iCloud+, clicks Sign In and waits for the operator to finish
// signing in.
func (s *Session) Login(ctx context.Context) error {
	fmt.Fprintf(s.out, "🌐 Navigating to %s...\n", s.sel.URL)
	if err := s.run(ctx, s.timing.Wait(), chromedp.Navigate(s.sel.URL)); err != nil {
		return fmt.Errorf("failed to open iCloud: %w", err)
	}

	fmt.Fprintln(s.out, "Looking for the initial 'Sign In' button...")
	if err := s.poll(ctx, s.timing.Wait(), clickSelector(s.sel.SignInButton)); err != nil {
		return fmt.Errorf("sign in button not found: %w", err)
	}
	fmt.Fprintln(s.out, "Clicked initial 'Sign In' button.")

	ui.Header(s.out, ">>> ACTION REQUIRED <<<")
	fmt.Fprintln(s.out, "Please complete the login process in the browser window.")
	fmt.Fprintln(s.out, "The tool will continue once you land on the iCloud+ Features page.")
	ui.Rule(s.out)

	if err := s.poll(ctx, s.timing.Login(), present(s.sel.PageRoute)); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("login not completed within %s: %w", s.timing.Login(), err)
	}

	fmt.Fprintln(s.out, "✅ Login successful! iCloud+ Features page detected.")
	s.log.Info("login completed")
	return nil
}

// OpenHideMyEmail clicks the Hide My Email tile and binds the page to the
// frame it opens.
func (s *Session) OpenHideMyEmail(ctx context.Context) error {
	fmt.Fprintln(s.out, "Looking for the 'Hide My Email' tile...")
	if err := s.poll(ctx, s.timing.Wait(), clickSelector(s.sel.Tile)); err != nil {
		return fmt.Errorf("hide my email tile not found: %w", err)
	}
	fmt.Fprintln(s.out, "Waiting for the 'Hide My Email' window to appear...")
	if err := s.attach(ctx); err != nil {
		return err
	}
	fmt.Fprintln(s.out, "✅ Hide My Email is open.")
	return nil
}

// attach binds the page to the frame. Same-origin frames are reached via
// contentDocument; otherwise the frame's own target is used.
func (s *Session) attach(ctx context.Context) error {
	s.detach()
	if err := s.poll(ctx, s.timing.Wait(), present(s.sel.Frame)); err != nil {
		return fmt.Errorf("hide my email frame not found: %w", err)
	}

	root := frameRoot(s.sel.Frame)
	if err := s.poll(ctx, s.timing.Wait(), frameReady(root)); err == nil {
		s.page.bind(s.browser.Context(), root)
		s.log.Debug("bound to frame document")
		return nil
	}

	frameCtx, cancel, err := s.frameTarget(ctx)
	if err != nil {
		return fmt.Errorf("hide my email frame not reachable: %w", err)
	}
	s.frameCancel = cancel
	s.page.bind(frameCtx, "document")
	s.log.Debug("bound to frame target")
	return nil
}

func (s *Session) frameTarget(ctx context.Context) (context.Context, context.CancelFunc, error) {
	deadline := time.Now().Add(s.timing.Wait())
	for time.Now().Before(deadline) {
		infos, err := chromedp.Targets(s.browser.Context())
		if err != nil {
			return nil, nil, err
		}
		for _, info := range infos {
			if info.Type == "iframe" && strings.Contains(info.URL, "hidemyemail") {
				return s.attachTarget(info.TargetID)
			}
		}
		sleep(ctx, pollInterval)
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
	}
	return nil, nil, errors.New("no frame target")
}

func (s *Session) attachTarget(id target.ID) (context.Context, context.CancelFunc, error) {
	frameCtx, cancel := chromedp.NewContext(s.browser.Context(), chromedp.WithTargetID(id))
	if err := chromedp.Run(frameCtx); err != nil {
		cancel()
		return nil, nil, err
	}
	return frameCtx, cancel, nil
}

func (s *Session) detach() {
	if s.frameCancel != nil {
		s.frameCancel()
		s.frameCancel = nil
	}
	s.page.bind(nil, "")
}

// Reset navigates back to iCloud+ and reopens Hide My Email. When that
// fails it reloads the page and rebinds the frame.
func (s *Session) Reset(ctx context.Context) error {
	fmt.Fprintln(s.out, "Resetting Hide My Email interface...")
	err := s.reopen(ctx)
	if err == nil {
		fmt.Fprintln(s.out, "Hide My Email interface reset successfully.")
		sleep(ctx, 2*time.Second)
		return nil
	}

	fmt.Fprintf(s.out, "Error resetting interface: %v\n", err)
	fmt.Fprintln(s.out, "Attempting alternative reset method...")
	s.log.Warn("reset failed, reloading", zap.Error(err))
	if err := s.run(ctx, s.timing.Wait(), chromedp.Reload()); err != nil {
		return fmt.Errorf("failed to reload: %w", err)
	}
	sleep(ctx, 3*time.Second)
	if err := s.attach(ctx); err != nil {
		fmt.Fprintln(s.out, "Reset failed. You may need to manually refresh the page.")
		return err
	}
	return nil
}

func (s *Session) reopen(ctx context.Context) error {
	s.detach()
	if err := s.run(ctx, s.timing.Wait(), chromedp.Navigate(s.sel.URL)); err != nil {
		return err
	}
	if err := s.poll(ctx, s.timing.Wait(), present(s.sel.PageRoute)); err != nil {
		return fmt.Errorf("iCloud+ page not loaded: %w", err)
	}
	fmt.Fprintln(s.out, "Re-opening Hide My Email...")
	if err := s.poll(ctx, s.timing.Wait(), clickSelector(s.sel.Tile)); err != nil {
		return fmt.Errorf("hide my email tile not found: %w", err)
	}
	return s.attach(ctx)
}

// SwitchToHeadless relaunches Chrome headless and carries the signed-in
// session over through its cookies. On failure it falls back to a visible
// browser with the same cookies and reports the original error.
func (s *Session) SwitchToHeadless(ctx context.Context) error {
	var (
		url     string
		cookies []*network.Cookie
	)
	err := s.run(ctx, s.timing.Wait(),
		chromedp.Location(&url),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			cookies, err = network.GetCookies().Do(ctx)
			return err
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to capture session: %w", err)
	}

	s.detach()
	fmt.Fprintln(s.out, "Setting up headless Chrome...")
	switchErr := s.browser.Relaunch(true)
	if switchErr == nil {
		switchErr = s.restore(ctx, url, cookies)
	}
	if switchErr == nil {
		fmt.Fprintln(s.out, "✅ Successfully switched to headless mode!")
		s.log.Info("switched to headless", zap.Int("cookies", len(cookies)))
		return nil
	}

	fmt.Fprintf(s.out, "⚠️  Failed to switch to headless mode: %v\n", switchErr)
	fmt.Fprintln(s.out, "Falling back to visible mode...")
	s.log.Warn("headless switch failed", zap.Error(switchErr))
	if err := s.browser.Relaunch(false); err != nil {
		return fmt.Errorf("failed to restart visible browser: %w", err)
	}
	if err := s.restore(ctx, url, cookies); err != nil {
		return fmt.Errorf("failed to restore session: %w", err)
	}
	return switchErr
}

func (s *Session) restore(ctx context.Context, url string, cookies []*network.Cookie) error {
	return s.run(ctx, s.timing.Wait()+s.timing.Login(),
		chromedp.Navigate(url),
		chromedp.ActionFunc(func(ctx context.Context) error {
			for _, c := range cookies {
				params := network.SetCookie(c.Name, c.Value).
					WithDomain(c.Domain).
					WithPath(c.Path).
					WithSecure(c.Secure).
					WithHTTPOnly(c.HTTPOnly)
				if !c.Session && c.Expires > 0 {
					expires := cdp.TimeSinceEpoch(time.Unix(int64(c.Expires), 0))
					params = params.WithExpires(&expires)
				}
				// A rejected cookie only matters if login is lost, which the
				// page route check below detects.
				_ = params.Do(ctx)
			}
			return nil
		}),
		chromedp.Reload(),
		chromedp.Poll(present(s.sel.PageRoute), nil,
			chromedp.WithPollingInterval(pollInterval),
			chromedp.WithPollingTimeout(s.timing.Wait())),
	)
}
